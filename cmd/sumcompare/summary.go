package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/yuya-takeyama/sumcompare/internal/logging"
	"github.com/yuya-takeyama/sumcompare/pkg/planner"
)

// printSummary writes the end-of-run table.
func printSummary(w io.Writer, rep *planner.Report) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	yellow := color.New(color.FgYellow)

	s := rep.Summary
	title := "Summary"
	if s.DryRun {
		title = "Summary (dry run)"
	}
	cyan.Fprintf(w, "\n=== %s ===\n", title)
	fmt.Fprintf(w, "  Source files:  %d\n", s.SourceFiles)
	fmt.Fprintf(w, "  Target files:  %d\n", s.TargetFiles)

	fmt.Fprintf(w, "  Copied:        ")
	green.Fprintf(w, "%d", s.Copied)
	fmt.Fprintf(w, " (%s)\n", logging.FormatBytes(s.BytesCopied))

	fmt.Fprintf(w, "  Duplicates:    ")
	if s.Duplicates > 0 {
		yellow.Fprintf(w, "%d\n", s.Duplicates)
	} else {
		fmt.Fprintf(w, "%d\n", s.Duplicates)
	}
	if s.Suppressed > 0 {
		fmt.Fprintf(w, "  Already there: %d\n", s.Suppressed)
	}
	if s.Collisions > 0 {
		fmt.Fprintf(w, "  Collisions:    ")
		yellow.Fprintf(w, "%d\n", s.Collisions)
	}
	if s.Skipped > 0 {
		fmt.Fprintf(w, "  Skipped:       %d\n", s.Skipped)
	}

	fmt.Fprintf(w, "  Errors:        ")
	if s.Errors > 0 {
		red.Fprintf(w, "%d\n", s.Errors)
	} else {
		fmt.Fprintf(w, "%d\n", s.Errors)
	}
	if s.Cancelled > 0 {
		red.Fprintf(w, "  Cancelled:     %d files not processed\n", s.Cancelled)
	}
	fmt.Fprintf(w, "  Duration:      %s\n", s.Duration.Round(1e6))
	if s.State == planner.StateFailed || s.State == planner.StateCancelled {
		red.Fprintf(w, "  Run ended:     %s\n", s.State)
	}

	for _, f := range rep.Failures {
		red.Fprintf(w, "  ! %s\n", f.Error())
	}
}
