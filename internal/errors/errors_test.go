package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorPreservesCause(t *testing.T) {
	cause := context.DeadlineExceeded
	err := fmt.Errorf("run: %w", AuthenticationFailed(cause))

	assert.True(t, stderrors.Is(err, context.DeadlineExceeded))
	assert.True(t, IsKind(err, KindAuthenticationFailed))
	assert.Equal(t, "login: login failed: context deadline exceeded", AuthenticationFailed(cause).Error())

	var e *Error
	require.True(t, stderrors.As(err, &e))
	assert.Equal(t, "login", e.Op)
}

func TestIsMatchesByKind(t *testing.T) {
	err := DownloadTimedOut(context.DeadlineExceeded)
	assert.True(t, stderrors.Is(err, &Error{Kind: KindDownloadTimedOut}))
	assert.False(t, stderrors.Is(err, &Error{Kind: KindExportControlNotFound}))
}

func TestKindFatal(t *testing.T) {
	assert.False(t, KindDetectionAmbiguous.Fatal())
	assert.False(t, KindPersistenceWarning.Fatal())
	assert.True(t, KindAuthenticationFailed.Fatal())
	assert.True(t, KindExportControlNotFound.Fatal())
	assert.True(t, KindDownloadTimedOut.Fatal())
}

func TestKindOfUnclassified(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(stderrors.New("plain")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestCLIAdapterExitCodes(t *testing.T) {
	a := NewCLIAdapter("simplifi-exporter", false, nil)

	cases := []struct {
		err  error
		want int
	}{
		{nil, 0},
		{stderrors.New("x"), 1},
		{AuthenticationFailed(nil), 5},
		{ExportControlNotFound(nil, nil), 6},
		{DownloadTimedOut(nil), 6},
		{ConfigInvalid("QUICKEN_USERNAME", "is required"), 7},
		{BrowserFailed(nil), 8},
		{Canceled(context.Canceled), 130},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, a.ExitCodeFor(tc.err), "%v", tc.err)
	}
}

func TestCLIAdapterFormatError(t *testing.T) {
	a := NewCLIAdapter("simplifi-exporter", false, nil)

	msg := a.FormatError(AuthenticationFailed(stderrors.New("frame never closed")).WithScreenshot("login-error-x.png"))
	assert.Contains(t, msg, "frame never closed")
	assert.Contains(t, msg, "login-error-x.png")
	assert.Contains(t, msg, "simplifi-exporter reset")

	msg = a.FormatError(ExportControlNotFound(nil, []string{"Export", "Download CSV"}))
	assert.Contains(t, msg, "Export, Download CSV")
	assert.NotContains(t, msg, "reset")

	assert.Empty(t, a.FormatError(nil))
}
