package browser

import (
	"context"
	"errors"
	"strings"
)

// closedPatterns are chromedp/websocket messages seen when the browser window
// is closed by hand or the process dies mid-run.
var closedPatterns = []string{
	"websocket: close",
	"target closed",
	"browser: not connected",
	"session closed",
	"page closed",
	"connection refused",
	"broken pipe",
}

// IsBrowserClosed checks if an error indicates the browser was forcefully closed.
// A step deadline is never a closed browser, even when chromedp reports it as
// a cancellation.
func IsBrowserClosed(err error) bool {
	if err == nil || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range closedPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// IsTimeout reports whether err is a deadline expiry, as opposed to a
// cancellation or a protocol failure.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
