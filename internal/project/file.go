package project

import (
	"bytes"
	"io/fs"
	"sort"

	"tsmove/internal/parse"
)

type edit struct {
	start, end uint32
	text       string
}

// File is the in-memory state of one source file.
type File struct {
	path    string
	content []byte
	mode    fs.FileMode
	result  *parse.Result
	edits   []edit
}

// Path returns the file's on-disk path.
func (f *File) Path() string {
	return f.path
}

// Content returns the content as last read from or written to disk.
func (f *File) Content() []byte {
	return f.content
}

// Lang returns the grammar used for the file.
func (f *File) Lang() string {
	return parse.Lang(f.path)
}

// SetSpecifier replaces the text of a declaration's specifier. Edits are
// applied on Render, against the content the declaration was read from.
// A second edit of the same declaration replaces the first.
func (f *File) SetSpecifier(d parse.Declaration, text string) {
	for i := range f.edits {
		if f.edits[i].start == d.Start && f.edits[i].end == d.End {
			f.edits[i].text = text
			return
		}
	}
	f.edits = append(f.edits, edit{start: d.Start, end: d.End, text: text})
}

// Changed reports whether rendering would produce different content.
func (f *File) Changed() bool {
	if len(f.edits) == 0 {
		return false
	}
	return !bytes.Equal(f.Render(), f.content)
}

// Render returns the content with pending specifier edits applied.
func (f *File) Render() []byte {
	if len(f.edits) == 0 {
		return f.content
	}
	edits := make([]edit, len(f.edits))
	copy(edits, f.edits)
	sort.Slice(edits, func(i, j int) bool { return edits[i].start < edits[j].start })

	var buf bytes.Buffer
	buf.Grow(len(f.content))
	pos := uint32(0)
	for _, e := range edits {
		if e.start < pos || int(e.end) > len(f.content) {
			continue // overlapping or stale
		}
		buf.Write(f.content[pos:e.start])
		buf.WriteString(e.text)
		pos = e.end
	}
	buf.Write(f.content[pos:])
	return buf.Bytes()
}

// reset replaces the content and drops derived state.
func (f *File) reset(content []byte, mode fs.FileMode) {
	f.content = content
	f.mode = mode
	f.result = nil
	f.edits = nil
}
