package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// linePrompter asks for overwrite confirmation on a line-oriented stream.
type linePrompter struct {
	in  *bufio.Reader
	out io.Writer
}

func newPrompter(in io.Reader, out io.Writer) *linePrompter {
	return &linePrompter{in: bufio.NewReader(in), out: out}
}

// ConfirmOverwrite implements move.Prompter. End of input declines.
func (p *linePrompter) ConfirmOverwrite(path string) (bool, error) {
	fmt.Fprintf(p.out, "tsmove: overwrite '%s'? [y/N] ", relToWd(path))
	line, err := p.in.ReadString('\n')
	if err != nil && err != io.EOF {
		return false, err
	}
	if err == io.EOF && line == "" {
		fmt.Fprintln(p.out)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

func relToWd(path string) string {
	wd, err := os.Getwd()
	if err != nil {
		return path
	}
	return relTo(wd, path)
}
