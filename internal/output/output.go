// Package output renders sites, remote trees and download progress for the
// terminal.
package output

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"bmirror/internal/mirror"
)

// Renderer writes status lines. With pretty off it prints plain
// machine-friendly lines.
type Renderer struct {
	w      io.Writer
	pretty bool
}

func New(w io.Writer, pretty bool) *Renderer {
	return &Renderer{w: w, pretty: pretty}
}

// Written reports one downloaded file.
func (r *Renderer) Written(p mirror.Progress) {
	if r.pretty {
		fmt.Fprintf(r.w, "%s %s %s\n", color.GreenString("✓"), p.Path, color.HiBlackString(HumanSize(p.Size)))
		return
	}
	fmt.Fprintf(r.w, "wrote\t%s\t%d\n", p.Path, p.Size)
}

// Failed reports an error for one site or file.
func (r *Renderer) Failed(what string, err error) {
	if r.pretty {
		fmt.Fprintf(r.w, "%s %s: %s\n", color.RedString("✗"), what, color.RedString(err.Error()))
		return
	}
	fmt.Fprintf(r.w, "error\t%s\t%v\n", what, err)
}

// Verified prints one line per result that is not ok and a summary.
// It returns the number of problems.
func (r *Renderer) Verified(results []mirror.Result) int {
	problems := 0
	for _, res := range results {
		if res.Status == mirror.StatusOK {
			continue
		}
		problems++
		if r.pretty {
			mark := color.YellowString("~")
			if res.Status == mirror.StatusMissing {
				mark = color.RedString("✗")
			}
			fmt.Fprintf(r.w, "%s %s %s\n", mark, res.Entry.Path, color.HiBlackString(res.Status.String()))
			continue
		}
		fmt.Fprintf(r.w, "%s\t%s\n", res.Status, res.Entry.Path)
	}
	summary := fmt.Sprintf("%d files checked, %d ok, %d problems", len(results), len(results)-problems, problems)
	switch {
	case !r.pretty:
		fmt.Fprintln(r.w, summary)
	case problems == 0:
		fmt.Fprintln(r.w, color.GreenString(summary))
	default:
		fmt.Fprintln(r.w, color.YellowString(summary))
	}
	return problems
}

// Summary prints the totals of a download run.
func (r *Renderer) Summary(files int, bytes int64, failed int) {
	line := fmt.Sprintf("%d files, %s", files, HumanSize(bytes))
	if failed > 0 {
		line += fmt.Sprintf(", %d failed", failed)
	}
	if !r.pretty {
		fmt.Fprintln(r.w, line)
		return
	}
	if failed > 0 {
		fmt.Fprintln(r.w, color.YellowString(line))
		return
	}
	fmt.Fprintln(r.w, color.CyanString(line))
}

// HumanSize formats n bytes with a binary unit.
func HumanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
