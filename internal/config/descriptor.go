package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNoDescriptor is returned when no project descriptor exists.
var ErrNoDescriptor = errors.New("no tsconfig.json or jsconfig.json found")

// DescriptorNames are tried in order when none is configured.
var DescriptorNames = []string{"tsconfig.json", "jsconfig.json"}

const maxExtends = 8

// Descriptor is the module-resolution part of a tsconfig/jsconfig.
type Descriptor struct {
	// Path is the descriptor file that was loaded.
	Path string
	// BaseURL is the absolute resolution root; empty if unset.
	BaseURL string
	// PathsBase is the directory alias targets are relative to: BaseURL
	// when set, otherwise the directory of the file declaring paths.
	PathsBase string
	// Paths maps alias patterns to target patterns.
	Paths map[string][]string
}

type rawDescriptor struct {
	Extends         json.RawMessage `json:"extends"`
	CompilerOptions struct {
		BaseURL *string             `json:"baseUrl"`
		Paths   map[string][]string `json:"paths"`
	} `json:"compilerOptions"`
}

// LoadDescriptor loads the descriptor named by name (relative to root),
// or the first of DescriptorNames that exists when name is empty.
func LoadDescriptor(root, name string) (*Descriptor, error) {
	if name != "" {
		return readDescriptor(filepath.Join(root, name), 0)
	}
	for _, n := range DescriptorNames {
		path := filepath.Join(root, n)
		if _, err := os.Stat(path); err == nil {
			return readDescriptor(path, 0)
		}
	}
	return nil, ErrNoDescriptor
}

func readDescriptor(path string, depth int) (*Descriptor, error) {
	if depth > maxExtends {
		return nil, fmt.Errorf("%s: extends chain too deep", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading project descriptor: %w", err)
	}
	var raw rawDescriptor
	if err := json.Unmarshal(StripJSONC(data), &raw); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	d := &Descriptor{Path: path}
	dir := filepath.Dir(path)
	for _, parent := range extendsList(raw.Extends) {
		// Package references ("@tsconfig/node20") are not followed.
		if !strings.HasPrefix(parent, ".") && !filepath.IsAbs(parent) {
			continue
		}
		if !filepath.IsAbs(parent) {
			parent = filepath.Join(dir, parent)
		}
		if filepath.Ext(parent) != ".json" {
			parent += ".json"
		}
		base, err := readDescriptor(parent, depth+1)
		if err != nil {
			return nil, err
		}
		d.BaseURL, d.PathsBase, d.Paths = base.BaseURL, base.PathsBase, base.Paths
	}

	opts := raw.CompilerOptions
	if opts.BaseURL != nil {
		d.BaseURL = filepath.Join(dir, filepath.FromSlash(*opts.BaseURL))
	}
	if opts.Paths != nil {
		d.Paths = opts.Paths
		d.PathsBase = dir
	}
	if d.BaseURL != "" {
		d.PathsBase = d.BaseURL
	}
	return d, nil
}

func extendsList(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		return []string{one}
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		return many
	}
	return nil
}

// StripJSONC removes // and /* */ comments and trailing commas so that
// tsconfig-style JSON can be decoded with encoding/json. String contents
// are left intact.
func StripJSONC(data []byte) []byte {
	out := make([]byte, 0, len(data))
	inString := false
	for i := 0; i < len(data); i++ {
		c := data[i]
		if inString {
			out = append(out, c)
			if c == '\\' && i+1 < len(data) {
				i++
				out = append(out, data[i])
			} else if c == '"' {
				inString = false
			}
			continue
		}
		switch {
		case c == '"':
			inString = true
			out = append(out, c)
		case c == '/' && i+1 < len(data) && data[i+1] == '/':
			for i < len(data) && data[i] != '\n' {
				i++
			}
			if i < len(data) {
				out = append(out, '\n')
			}
		case c == '/' && i+1 < len(data) && data[i+1] == '*':
			i += 2
			for i+1 < len(data) && !(data[i] == '*' && data[i+1] == '/') {
				i++
			}
			i++
		case c == '}' || c == ']':
			out = trimTrailingComma(out)
			out = append(out, c)
		default:
			out = append(out, c)
		}
	}
	return out
}

func trimTrailingComma(out []byte) []byte {
	j := len(out) - 1
	for j >= 0 && (out[j] == ' ' || out[j] == '\t' || out[j] == '\n' || out[j] == '\r') {
		j--
	}
	if j >= 0 && out[j] == ',' {
		return append(out[:j], out[j+1:]...)
	}
	return out
}
