// Package report provides the end-of-run summary.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// ErrorEntry represents a single error that occurred during a run.
type ErrorEntry struct {
	Timestamp time.Time
	Step      string // The step running when the error occurred
	Message   string
}

// Stats holds everything collected during one export run.
type Stats struct {
	RunID           string
	StartTime       time.Time
	EndTime         time.Time
	LoginState      string
	LoginAttempts   int
	Challenged      bool
	SessionRestored bool
	SessionSaved    bool
	DateRange       string
	FilterApplied   bool
	Artifact        string
	ArtifactSize    int64
	Screenshots     []string
	Errors          []ErrorEntry

	now func() time.Time
}

// New creates a Stats with StartTime set to now.
func New(runID string) *Stats {
	return newStats(runID, time.Now)
}

func newStats(runID string, now func() time.Time) *Stats {
	return &Stats{
		RunID:     runID,
		StartTime: now(),
		Errors:    make([]ErrorEntry, 0),
		now:       now,
	}
}

func (s *Stats) clock() time.Time {
	if s.now == nil {
		return time.Now()
	}
	return s.now()
}

// AddError records an error that occurred during step.
func (s *Stats) AddError(step, message string) {
	s.Errors = append(s.Errors, ErrorEntry{
		Timestamp: s.clock(),
		Step:      step,
		Message:   message,
	})
}

// AddScreenshot records a diagnostic screenshot path. Empty paths are ignored.
func (s *Stats) AddScreenshot(path string) {
	if path != "" {
		s.Screenshots = append(s.Screenshots, path)
	}
}

// Finish marks the end of the run. Calling it again keeps the first end time.
func (s *Stats) Finish() {
	if s.EndTime.IsZero() {
		s.EndTime = s.clock()
	}
}

// Succeeded reports whether the run produced an artifact.
func (s *Stats) Succeeded() bool { return s.Artifact != "" }

// Duration returns the total run duration.
func (s *Stats) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return s.clock().Sub(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}

// formatBytes formats bytes into human-readable format.
func formatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d bytes", bytes)
	}
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

const (
	boxWidth   = 52
	labelWidth = 22
	maxErrors  = 5
)

// Print writes the final report to w.
func (s *Stats) Print(w io.Writer) {
	s.Finish()
	b := &box{w: w}

	fmt.Fprintln(w)
	b.rule("=")
	b.title("📊 EXPORT REPORT")
	b.rule("-")

	b.row("🆔", "Run", s.RunID, "")
	b.row("⏱️ ", "Duration", formatDuration(s.Duration()), "")

	login := s.LoginState
	if s.LoginAttempts > 0 {
		login += fmt.Sprintf(" (%d login)", s.LoginAttempts)
		if s.Challenged {
			login += " + MFA"
		}
	}
	b.row("🔐", "Login", login, "")

	session := "fresh"
	if s.SessionRestored {
		session = "restored"
	}
	if s.SessionSaved {
		session += ", saved"
	}
	b.row("🍪", "Session", session, "")

	if s.DateRange != "" {
		dr, color := s.DateRange, ""
		if !s.FilterApplied {
			dr, color = s.DateRange+" (not applied)", colorYellow
		}
		b.row("📅", "Date range", dr, color)
	}

	if s.Succeeded() {
		b.row("⬇️ ", "Export", s.Artifact, colorGreen)
		if s.ArtifactSize > 0 {
			b.row("💾", "Size", formatBytes(s.ArtifactSize), "")
		}
	} else {
		b.row("⬇️ ", "Export", "not downloaded", colorRed)
	}

	for _, shot := range s.Screenshots {
		b.row("📸", "Screenshot", shot, colorYellow)
	}

	b.rule("-")
	if len(s.Errors) > 0 {
		b.row("❌", fmt.Sprintf("Errors (%d):", len(s.Errors)), "", colorRed)
		for i, e := range s.Errors {
			if i >= maxErrors {
				b.detail(fmt.Sprintf("... and %d more errors", len(s.Errors)-maxErrors))
				break
			}
			text := "- " + e.Message
			if e.Step != "" {
				text += " (" + e.Step + ")"
			}
			b.detail(text)
		}
	} else {
		b.row("✅", "No errors occurred", "", colorGreen)
	}

	b.rule("=")
	fmt.Fprintln(w)
}

// Summary returns a brief one-line summary of the stats.
func (s *Stats) Summary() string {
	result := "no export"
	if s.Succeeded() {
		result = s.Artifact
	}
	return fmt.Sprintf("%s: %s, %d login attempts, %d errors in %s",
		s.RunID, result, s.LoginAttempts, len(s.Errors), formatDuration(s.Duration()))
}

type box struct{ w io.Writer }

func (b *box) rule(ch string) {
	fmt.Fprintf(b.w, "%s%s%s\n", colorCyan, strings.Repeat(ch, boxWidth), colorReset)
}

func (b *box) title(title string) {
	padding := max((boxWidth-measureString(title))/2, 0)
	fmt.Fprintf(b.w, "%s%s%s%s\n", strings.Repeat(" ", padding), colorBold, title, colorReset)
}

// row prints "  [emoji]  [label]<pad>   [value]".
func (b *box) row(emoji, label, value, valueColor string) {
	full := label
	if emoji != "" {
		full = emoji + "  " + label
	}
	pad := max(labelWidth-measureString(full), 0)

	if valueColor != "" {
		value = valueColor + value + colorReset
	}
	fmt.Fprintf(b.w, "  %s%s   %s\n", full, strings.Repeat(" ", pad), value)
}

func (b *box) detail(text string) {
	fmt.Fprintf(b.w, "      %s%s%s\n", colorRed, text, colorReset)
}

// measureString returns visual length of string without ANSI codes
func measureString(s string) int {
	return visualLength(stripAnsiCodes(s))
}

// visualLength calculates visual width of string handling emojis
func visualLength(s string) int {
	width := 0
	for _, r := range s {
		// VS16 is zero width
		if r == '\ufe0f' {
			continue
		}
		// Most emojis and CJK characters are 2 wide
		if r > 256 {
			width += 2
		} else {
			width++
		}
	}
	return width
}

// stripAnsiCodes removes ANSI escape codes from a string.
func stripAnsiCodes(s string) string {
	var b strings.Builder
	inEscape := false
	for _, r := range s {
		if r == '\033' {
			inEscape = true
			continue
		}
		if inEscape {
			if r == 'm' {
				inEscape = false
			}
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
