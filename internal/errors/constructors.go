package errors

// Convenience constructors for the exporter taxonomy.

func DetectionAmbiguous() *Error {
	return &Error{Kind: KindDetectionAmbiguous, Op: "detect", Message: "login state could not be determined"}
}

func AuthenticationFailed(cause error) *Error {
	return &Error{Kind: KindAuthenticationFailed, Op: "login", Message: "login failed", Cause: cause}
}

func ExportControlNotFound(cause error, candidates []string) *Error {
	return &Error{
		Kind:       KindExportControlNotFound,
		Op:         "export",
		Message:    "export control not found",
		Cause:      cause,
		Candidates: candidates,
	}
}

func DownloadTimedOut(cause error) *Error {
	return &Error{Kind: KindDownloadTimedOut, Op: "export", Message: "download did not arrive in time", Cause: cause}
}

func PersistenceWarning(op string, cause error) *Error {
	return &Error{Kind: KindPersistenceWarning, Op: op, Message: "persistence failed", Cause: cause}
}

func Canceled(cause error) *Error {
	return &Error{Kind: KindCanceled, Op: "run", Message: "interrupted", Cause: cause}
}

func ConfigInvalid(field, reason string) *Error {
	return &Error{Kind: KindConfig, Op: "config", Message: field + " " + reason}
}

func BrowserFailed(cause error) *Error {
	return &Error{Kind: KindBrowser, Op: "browser", Message: "browser could not be started", Cause: cause}
}
