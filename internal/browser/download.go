package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"
)

type downloadResult struct {
	dl  Download
	err error
}

// downloadWaiter tracks the first download that begins after it is armed.
type downloadWaiter struct {
	dir    string
	cancel context.CancelFunc
	done   chan downloadResult

	mu        sync.Mutex
	guid      string
	suggested string
	finished  bool
}

func newDownloadWaiter(tabCtx context.Context, dir string) *downloadWaiter {
	lctx, cancel := context.WithCancel(tabCtx)
	w := &downloadWaiter{
		dir:    dir,
		cancel: cancel,
		done:   make(chan downloadResult, 1),
	}
	chromedp.ListenTarget(lctx, w.onEvent)
	return w
}

func (w *downloadWaiter) onEvent(ev any) {
	switch e := ev.(type) {
	case *browser.EventDownloadWillBegin:
		w.mu.Lock()
		if w.guid == "" {
			w.guid = e.GUID
			w.suggested = e.SuggestedFilename
		}
		w.mu.Unlock()
	case *browser.EventDownloadProgress:
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.finished || w.guid == "" || e.GUID != w.guid {
			return
		}
		switch e.State {
		case browser.DownloadProgressStateCompleted:
			path := e.FilePath
			if path == "" {
				path = filepath.Join(w.dir, w.guid)
			}
			w.finished = true
			w.done <- downloadResult{dl: &fileDownload{path: path, suggested: w.suggested}}
		case browser.DownloadProgressStateCanceled:
			w.finished = true
			w.done <- downloadResult{err: errors.New("download canceled by the browser")}
		}
	}
}

func (w *downloadWaiter) Wait(ctx context.Context) (Download, error) {
	defer w.Cancel()
	select {
	case r := <-w.done:
		return r.dl, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("wait for download: %w", ctx.Err())
	}
}

func (w *downloadWaiter) Cancel() {
	w.cancel()
}

// fileDownload is a completed download sitting in the download directory under
// its GUID.
type fileDownload struct {
	path      string
	suggested string
}

func (d *fileDownload) SuggestedFilename() string { return d.suggested }

func (d *fileDownload) SaveAs(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create download directory: %w", err)
	}
	if err := os.Rename(d.path, path); err == nil {
		return nil
	}
	// Rename fails across filesystems; fall back to a copy.
	if err := copyFile(d.path, path); err != nil {
		return fmt.Errorf("save download to %s: %w", path, err)
	}
	_ = os.Remove(d.path)
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
