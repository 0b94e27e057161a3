package main

import (
	"strings"
	"testing"
)

func TestParseDateArg(t *testing.T) {
	for _, s := range []string{"2025-01-12", "20250112"} {
		d, err := parseDateArg(s)
		if err != nil {
			t.Fatalf("parseDateArg(%q): %v", s, err)
		}
		if d.Format("20060102") != "20250112" {
			t.Errorf("parseDateArg(%q) = %v", s, d)
		}
	}

	for _, s := range []string{"12/01/2025", "2025-13-01", "yesterday", ""} {
		if _, err := parseDateArg(s); err == nil {
			t.Errorf("parseDateArg(%q) accepted", s)
		}
	}
}

func TestSplitKeywords(t *testing.T) {
	got := splitKeywords(" 選舉, 預算 ,,示威")
	want := []string{"選舉", "預算", "示威"}
	if len(got) != len(want) {
		t.Fatalf("splitKeywords = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("splitKeywords[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestArchiveRejectsBadDate(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"archive", "13/01/2025"})
	err := rootCmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "invalid date") {
		t.Errorf("expected invalid date error, got %v", err)
	}
}

func TestRangeRejectsInvertedRange(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"range", "2025-02-01", "2025-01-01"})
	err := rootCmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "after") {
		t.Errorf("expected inverted-range error, got %v", err)
	}
}

func TestBackfillArgValidation(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"backfill", "2025-01-01"})
	if err := rootCmd.Execute(); err == nil {
		t.Error("backfill with one date should fail")
	}

	rootCmd.SetArgs([]string{"backfill", "--retry-failed", "2025-01-01", "2025-02-01"})
	if err := rootCmd.Execute(); err == nil || !strings.Contains(err.Error(), "retry-failed") {
		t.Errorf("expected retry-failed usage error, got %v", err)
	}
}

func TestColorize(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	if got := colorize(colorGreen, "done"); got != "done" {
		t.Errorf("noColor output = %q", got)
	}

	noColor = false
	if got := colorize(colorGreen, "done"); !strings.Contains(got, "\033[") {
		t.Errorf("colored output missing ANSI codes: %q", got)
	}
}
