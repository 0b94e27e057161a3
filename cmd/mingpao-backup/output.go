package main

import (
	"fmt"
	"os"
	"time"

	"github.com/yellowcandle/mingpao-backup/internal/archiver"
	"github.com/yellowcandle/mingpao-backup/internal/wayback"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+msg))
}

func printError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+msg))
}

func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+msg))
}

func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	l := colorize(colorBold, label+":")
	fmt.Fprintf(os.Stderr, "  %s %s\n", l, val)
}

func printStep(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorCyan, "→ "+msg))
}

func printDaySummary(s archiver.DaySummary) {
	line := fmt.Sprintf("%s: %d found, %d archived, %d failed",
		s.Date, s.Found, s.Archived, s.Failed)
	if s.NotFound > 0 {
		line += fmt.Sprintf(", %d not found", s.NotFound)
	}
	if s.Filtered > 0 {
		line += fmt.Sprintf(", %d filtered out", s.Filtered)
	}
	line += fmt.Sprintf(" (%s)", s.Duration.Round(time.Second))

	if s.Failed > 0 {
		printWarning("%s", line)
	} else {
		printSuccess("%s", line)
	}
}

func printRunStats(s wayback.Snapshot) {
	if s.TotalAttempted == 0 {
		return
	}
	printStatus("Attempted", "%d", s.TotalAttempted)
	printStatus("Archived", "%d new, %d already archived", s.Successful, s.AlreadyArchived)
	if s.Failed+s.NotFound+s.RateLimited+s.Timeout+s.Errors+s.Unknown > 0 {
		printStatus("Problems", "%d failed, %d not found, %d rate limited, %d timeout, %d error, %d unknown",
			s.Failed, s.NotFound, s.RateLimited, s.Timeout, s.Errors, s.Unknown)
	}
	printStatus("Success rate", "%.1f%%", s.SuccessRate())
}
