// Package browsertest provides a scripted browser.Page that records every call,
// so tests can assert on the order in which the exporter drives the browser.
package browsertest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/network"

	"github.com/cantalupo555/simplifi-exporter/internal/browser"
	"github.com/cantalupo555/simplifi-exporter/internal/session"
)

// PNG is the payload returned by Screenshot.
var PNG = []byte("\x89PNG\r\n\x1a\n")

// Page is a fake browser.Page. Elements are visible when marked with Show;
// everything else reports invisible immediately. The zero value is not usable,
// call New.
type Page struct {
	mu sync.Mutex

	events   []string
	visible  map[string]bool
	onClick  map[string][]func()
	failures map[string]error

	title string
	url   string

	controls []browser.Control
	state    *session.State
	restored *session.State

	trigger string
	dlName  string
	dlData  []byte
	armed   []*waiter

	// WaitFunctionFn, when set, replaces the default immediate success of
	// WaitFunction.
	WaitFunctionFn func(ctx context.Context, expression string) error
	// NetworkIdleFn, when set, replaces the default immediate success of
	// WaitNetworkIdle.
	NetworkIdleFn func(ctx context.Context) error
	// URLFn, when set, replaces the stored URL returned by URL.
	URLFn func(ctx context.Context) (string, error)
}

var _ browser.Page = (*Page)(nil)

func New() *Page {
	return &Page{
		visible:  make(map[string]bool),
		onClick:  make(map[string][]func()),
		failures: make(map[string]error),
		state: &session.State{Cookies: []*network.Cookie{{
			Name:         "qsid",
			Value:        "fake",
			Domain:       ".quicken.com",
			Path:         "/",
			Priority:     network.CookiePriorityMedium,
			SourceScheme: network.CookieSourceSchemeSecure,
		}}},
	}
}

// Show marks locators visible.
func (p *Page) Show(locs ...browser.Locator) *Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, l := range locs {
		p.visible[l.String()] = true
	}
	return p
}

// Hide marks locators invisible.
func (p *Page) Hide(locs ...browser.Locator) *Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, l := range locs {
		delete(p.visible, l.String())
	}
	return p
}

// SetTitle sets the document title.
func (p *Page) SetTitle(title string) *Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.title = title
	return p
}

// SetURL sets the current URL. Navigate overwrites it.
func (p *Page) SetURL(url string) *Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = url
	return p
}

// SetControls sets what Controls returns.
func (p *Page) SetControls(cs ...browser.Control) *Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.controls = cs
	return p
}

// SetState sets what CaptureState returns.
func (p *Page) SetState(st *session.State) *Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = st
	return p
}

// OnClick runs fn after loc is clicked.
func (p *Page) OnClick(loc browser.Locator, fn func()) *Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onClick[loc.String()] = append(p.onClick[loc.String()], fn)
	return p
}

// Fail makes op return err. op is the event verb, e.g. "click" or
// "navigate"; "click <locator>" narrows it to one element.
func (p *Page) Fail(op string, err error) *Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[op] = err
	return p
}

// SetDownload makes a click on trigger start a download of data named name.
// The download reaches only listeners armed before the click.
func (p *Page) SetDownload(trigger browser.Locator, name string, data []byte) *Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.trigger = trigger.String()
	p.dlName = name
	p.dlData = data
	return p
}

// Events returns a copy of the call trace.
func (p *Page) Events() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

// Index returns the position of the first event equal to ev, or -1.
func (p *Page) Index(ev string) int {
	for i, e := range p.Events() {
		if e == ev {
			return i
		}
	}
	return -1
}

// Count returns how many events start with prefix.
func (p *Page) Count(prefix string) int {
	n := 0
	for _, e := range p.Events() {
		if strings.HasPrefix(e, prefix) {
			n++
		}
	}
	return n
}

// Restored returns the state passed to RestoreState, if any.
func (p *Page) Restored() *session.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.restored
}

// record appends an event and returns the scripted failure for it.
func (p *Page) record(verb, arg string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	ev := verb
	if arg != "" {
		ev += " " + arg
	}
	p.events = append(p.events, ev)
	if err, ok := p.failures[ev]; ok {
		return err
	}
	return p.failures[verb]
}

func (p *Page) isVisible(loc browser.Locator) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.visible[loc.String()]
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := p.record("navigate", url); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	p.url = url
	p.mu.Unlock()
	return nil
}

func (p *Page) Visible(ctx context.Context, loc browser.Locator) (bool, error) {
	if err := p.record("visible", loc.String()); err != nil {
		return false, err
	}
	if ctx.Err() != nil {
		return false, nil
	}
	return p.isVisible(loc), nil
}

func (p *Page) WaitVisible(ctx context.Context, loc browser.Locator) error {
	if err := p.record("wait-visible", loc.String()); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if !p.isVisible(loc) {
		return fmt.Errorf("%s not visible: %w", loc, context.DeadlineExceeded)
	}
	return nil
}

func (p *Page) interact(ctx context.Context, verb string, loc browser.Locator) error {
	if err := p.record(verb, loc.String()); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if !p.isVisible(loc) {
		return fmt.Errorf("%s %s: %w", verb, loc, context.DeadlineExceeded)
	}
	return nil
}

func (p *Page) Fill(ctx context.Context, loc browser.Locator, _ string) error {
	return p.interact(ctx, "fill", loc)
}

func (p *Page) Check(ctx context.Context, loc browser.Locator) error {
	return p.interact(ctx, "check", loc)
}

func (p *Page) Click(ctx context.Context, loc browser.Locator) error {
	if err := p.interact(ctx, "click", loc); err != nil {
		return err
	}

	p.mu.Lock()
	hooks := p.onClick[loc.String()]
	var deliver []*waiter
	if p.trigger != "" && p.trigger == loc.String() {
		deliver = p.armed
		p.armed = nil
	}
	name, data := p.dlName, p.dlData
	p.mu.Unlock()

	for _, w := range deliver {
		w.deliver(&download{name: name, data: data})
	}
	for _, fn := range hooks {
		fn()
	}
	return nil
}

func (p *Page) Title(ctx context.Context) (string, error) {
	if err := p.record("title", ""); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.title, nil
}

func (p *Page) URL(ctx context.Context) (string, error) {
	if err := p.record("url", ""); err != nil {
		return "", err
	}
	if p.URLFn != nil {
		return p.URLFn(ctx)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, nil
}

func (p *Page) WaitFunction(ctx context.Context, expression string) error {
	if err := p.record("wait-function", ""); err != nil {
		return err
	}
	if p.WaitFunctionFn != nil {
		return p.WaitFunctionFn(ctx, expression)
	}
	return ctx.Err()
}

func (p *Page) WaitNetworkIdle(ctx context.Context) error {
	if err := p.record("network-idle", ""); err != nil {
		return err
	}
	if p.NetworkIdleFn != nil {
		return p.NetworkIdleFn(ctx)
	}
	return ctx.Err()
}

func (p *Page) ExpectDownload(ctx context.Context) (browser.DownloadWaiter, error) {
	if err := p.record("expect-download", ""); err != nil {
		return nil, err
	}
	w := &waiter{page: p, done: make(chan browser.Download, 1)}
	p.mu.Lock()
	p.armed = append(p.armed, w)
	p.mu.Unlock()
	return w, nil
}

func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	if err := p.record("screenshot", ""); err != nil {
		return nil, err
	}
	return PNG, nil
}

func (p *Page) Controls(ctx context.Context) ([]browser.Control, error) {
	if err := p.record("controls", ""); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]browser.Control(nil), p.controls...), nil
}

func (p *Page) CaptureState(ctx context.Context) (*session.State, error) {
	if err := p.record("capture-state", ""); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state, nil
}

func (p *Page) RestoreState(ctx context.Context, st *session.State) error {
	if err := p.record("restore-state", ""); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.restored = st
	return nil
}

type waiter struct {
	page *Page
	once sync.Once
	done chan browser.Download
}

func (w *waiter) deliver(d browser.Download) {
	w.once.Do(func() { w.done <- d })
}

func (w *waiter) Wait(ctx context.Context) (browser.Download, error) {
	_ = w.page.record("download-wait", "")
	select {
	case d := <-w.done:
		return d, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("wait for download: %w", ctx.Err())
	}
}

func (w *waiter) Cancel() {
	w.page.mu.Lock()
	defer w.page.mu.Unlock()
	for i, a := range w.page.armed {
		if a == w {
			w.page.armed = append(w.page.armed[:i], w.page.armed[i+1:]...)
			break
		}
	}
}

type download struct {
	name string
	data []byte
}

func (d *download) SuggestedFilename() string { return d.name }

func (d *download) SaveAs(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, d.data, 0o644)
}
