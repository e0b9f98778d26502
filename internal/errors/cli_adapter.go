package errors

import (
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
)

// CLIAdapter handles error presentation and exit code determination for the CLI.
type CLIAdapter struct {
	verbose bool
	program string
	logger  *slog.Logger
}

// NewCLIAdapter creates a new CLI error adapter. program is the binary name
// used when suggesting follow-up commands.
func NewCLIAdapter(program string, verbose bool, logger *slog.Logger) *CLIAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &CLIAdapter{verbose: verbose, program: program, logger: logger}
}

// ExitCodeFor determines the appropriate exit code for an error.
func (a *CLIAdapter) ExitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	switch KindOf(err) {
	case KindConfig:
		return 7
	case KindAuthenticationFailed:
		return 5
	case KindExportControlNotFound, KindDownloadTimedOut:
		return 6
	case KindBrowser:
		return 8
	case KindCanceled:
		return 130
	default:
		return 1
	}
}

// FormatError formats an error for display, including a remediation hint
// where one exists.
func (a *CLIAdapter) FormatError(err error) string {
	if err == nil {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "❌ Export failed: %v", err)

	var e *Error
	if !stderrors.As(err, &e) {
		return b.String()
	}
	if e.Screenshot != "" {
		fmt.Fprintf(&b, "\n📸 Screenshot: %s", e.Screenshot)
	}
	if len(e.Candidates) > 0 {
		fmt.Fprintf(&b, "\n🔍 Possible export controls: %s", strings.Join(e.Candidates, ", "))
	}
	if e.Kind == KindAuthenticationFailed {
		fmt.Fprintf(&b, "\n\n💡 Tip: if you keep having login issues, clear the saved session:\n   %s reset", a.program)
	}
	return b.String()
}

// Report logs err and returns its exit code.
func (a *CLIAdapter) Report(err error) int {
	code := a.ExitCodeFor(err)
	if err == nil {
		return code
	}
	if a.verbose {
		a.logger.Debug("Run failed", slog.String("kind", string(KindOf(err))), slog.Int("exit_code", code))
	}
	return code
}
