package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/sergi/go-diff/diffmatchpatch"

	"tsmove/internal/relocate"
	"tsmove/internal/update"
)

// reporter writes human-readable output, styled when w is a terminal.
type reporter struct {
	w       io.Writer
	header  lipgloss.Style
	path    lipgloss.Style
	added   lipgloss.Style
	removed lipgloss.Style
	hunk    lipgloss.Style
	warn    lipgloss.Style
	fail    lipgloss.Style
	faint   lipgloss.Style
}

func newReporter(w io.Writer) *reporter {
	r := &reporter{
		w:       w,
		header:  lipgloss.NewStyle(),
		path:    lipgloss.NewStyle(),
		added:   lipgloss.NewStyle().TabWidth(lipgloss.NoTabConversion),
		removed: lipgloss.NewStyle().TabWidth(lipgloss.NoTabConversion),
		hunk:    lipgloss.NewStyle(),
		warn:    lipgloss.NewStyle(),
		fail:    lipgloss.NewStyle(),
		faint:   lipgloss.NewStyle(),
	}
	if !isTerminal(w) {
		return r
	}
	r.header = r.header.Bold(true)
	r.path = r.path.Foreground(lipgloss.Color("12"))
	r.added = r.added.Foreground(lipgloss.Color("10"))
	r.removed = r.removed.Foreground(lipgloss.Color("9"))
	r.hunk = r.hunk.Foreground(lipgloss.Color("14"))
	r.warn = r.warn.Foreground(lipgloss.Color("11"))
	r.fail = r.fail.Foreground(lipgloss.Color("9")).Bold(true)
	r.faint = r.faint.Faint(true)
	return r
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (r *reporter) printf(format string, args ...any) {
	fmt.Fprintf(r.w, format, args...)
}

func (r *reporter) result(res *relocate.Result, diffs bool) {
	verb := "Moved"
	if res.DryRun {
		verb = "Would move"
	}
	for _, o := range res.MoveOutcomes() {
		src, dst := relTo(res.Root, o.Operation.Source), relTo(res.Root, o.Operation.Destination)
		if o.Err != nil {
			r.printf("%s %s\n", r.fail.Render("error:"), o.Err)
			continue
		}
		r.printf("%s %s -> %s", verb, r.path.Render(src), r.path.Render(dst))
		if n := len(o.Moved); n > 1 {
			r.printf(" %s", r.faint.Render(fmt.Sprintf("(%d files)", n)))
		}
		r.printf("\n")
		for _, replaced := range o.Replaced {
			r.printf("  %s %s\n", r.warn.Render("replaced"), relTo(res.Root, replaced))
		}
	}

	r.fileChanges(res.Root, res.Files, res.DryRun, diffs)

	if len(res.Warnings) > 0 {
		r.printf("\n%s\n", r.header.Render(fmt.Sprintf("Warnings (%d):", len(res.Warnings))))
		for _, w := range res.Warnings {
			r.printf("  %s %s: %s\n", r.warn.Render(string(w.Kind)), relTo(res.Root, w.Path), w.Message)
		}
	}
	if len(res.Cycle) > 0 {
		names := make([]string, len(res.Cycle))
		for i, p := range res.Cycle {
			names[i] = relTo(res.Root, p)
		}
		r.printf("\n%s %s\n", r.warn.Render("Dependency cycle:"), strings.Join(names, " -> "))
	}
	if res.Staged > 0 {
		r.printf("Staged %d moves in git\n", res.Staged)
	}

	summary := fmt.Sprintf("%d files rewritten", res.FilesChanged)
	if res.DryRun {
		summary = fmt.Sprintf("%d files would be rewritten (dry run)", res.FilesChanged)
	}
	r.printf("\n%s\n", r.header.Render(summary))
}

func (r *reporter) fileChanges(root string, files []update.FileChange, dryRun, diffs bool) {
	if len(files) == 0 {
		return
	}
	title := "Rewritten:"
	if dryRun {
		title = "Would rewrite:"
	}
	r.printf("\n%s\n", r.header.Render(title))
	for _, fc := range files {
		r.printf("  %s\n", r.path.Render(relTo(root, fc.Path)))
		for _, c := range fc.Changes {
			r.printf("    %s %s -> %s\n", r.faint.Render(fmt.Sprintf("%d:", c.Line)), r.removed.Render(c.From), r.added.Render(c.To))
		}
		if diffs {
			r.unifiedDiff(relTo(root, fc.Path), string(fc.Before), string(fc.After))
		}
	}
}

func (r *reporter) refs(out refsOutput) {
	r.printf("%s %s\n", r.header.Render(out.Path), r.faint.Render("("+out.Outcome+")"))
	if out.Reason != "" {
		r.printf("  %s %s\n", r.warn.Render("degraded:"), out.Reason)
	}
	for _, ref := range out.References {
		target := r.faint.Render("(external)")
		if ref.Target != "" {
			target = r.path.Render(ref.Target)
		}
		r.printf("  %4d  %-14s %s -> %s\n", ref.Line, ref.Kind, ref.Specifier, target)
	}
	if len(out.References) == 0 {
		r.printf("  no references\n")
	}
}

func (r *reporter) cycles(cycles [][]string, single bool) {
	if len(cycles) == 0 {
		r.printf("No dependency cycles.\n")
		return
	}
	for i, c := range cycles {
		if single {
			r.printf("%s %s\n", r.warn.Render("cycle:"), strings.Join(c, " -> "))
			continue
		}
		r.printf("%s %s\n", r.warn.Render(fmt.Sprintf("cycle %d:", i+1)), strings.Join(c, ", "))
	}
}

func (r *reporter) aliases(root string, files []update.FileChange, dryRun, diffs bool) {
	r.fileChanges(root, files, dryRun, diffs)
	summary := fmt.Sprintf("%d files rewritten", len(files))
	if dryRun {
		summary = fmt.Sprintf("%d files would be rewritten (dry run)", len(files))
	}
	r.printf("\n%s\n", r.header.Render(summary))
}

// unifiedDiff prints a line-based unified diff with three lines of
// context around each change.
func (r *reporter) unifiedDiff(name, before, after string) {
	dmp := diffmatchpatch.New()
	chars1, chars2, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffMain(chars1, chars2, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	type hunk struct {
		oldStart, oldCount int
		newStart, newCount int
		lines              []string
	}
	var hunks []hunk
	var current *hunk
	oldLine, newLine := 1, 1
	var trailing []string // context since the last change

	for i, d := range diffs {
		if d.Text == "" {
			continue
		}
		lines := strings.Split(strings.TrimSuffix(d.Text, "\n"), "\n")

		switch d.Type {
		case diffmatchpatch.DiffEqual:
			if current != nil {
				if len(lines) > 6 || (i == len(diffs)-1 && len(lines) > 3) {
					for _, l := range lines[:3] {
						current.lines = append(current.lines, " "+l)
						current.oldCount++
						current.newCount++
					}
					hunks = append(hunks, *current)
					current = nil
				} else {
					for _, l := range lines {
						current.lines = append(current.lines, " "+l)
						current.oldCount++
						current.newCount++
					}
				}
			}
			trailing = nil
			if current == nil {
				trailing = lines
				if len(trailing) > 3 {
					trailing = trailing[len(trailing)-3:]
				}
			}
			oldLine += len(lines)
			newLine += len(lines)

		case diffmatchpatch.DiffDelete, diffmatchpatch.DiffInsert:
			if current == nil {
				current = &hunk{oldStart: oldLine - len(trailing), newStart: newLine - len(trailing)}
				for _, l := range trailing {
					current.lines = append(current.lines, " "+l)
					current.oldCount++
					current.newCount++
				}
			}
			trailing = nil
			for _, l := range lines {
				if d.Type == diffmatchpatch.DiffDelete {
					current.lines = append(current.lines, r.removed.Render("-"+l))
					current.oldCount++
				} else {
					current.lines = append(current.lines, r.added.Render("+"+l))
					current.newCount++
				}
			}
			if d.Type == diffmatchpatch.DiffDelete {
				oldLine += len(lines)
			} else {
				newLine += len(lines)
			}
		}
	}
	if current != nil {
		hunks = append(hunks, *current)
	}
	if len(hunks) == 0 {
		return
	}

	r.printf("%s\n%s\n", r.removed.Render("--- a/"+name), r.added.Render("+++ b/"+name))
	for _, h := range hunks {
		r.printf("%s\n", r.hunk.Render(fmt.Sprintf("@@ -%d,%d +%d,%d @@", h.oldStart, h.oldCount, h.newStart, h.newCount)))
		for _, l := range h.lines {
			r.printf("%s\n", l)
		}
	}
}
