package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/accessibility"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/go-json-experiment/json"

	"github.com/cantalupo555/simplifi-exporter/internal/logfields"
)

const (
	pollInterval = 250 * time.Millisecond
	// networkQuiet is how long the tracked request set must stay empty.
	networkQuiet = 500 * time.Millisecond
)

// textVisibleFn reports whether a rendered leaf element contains needle.
const textVisibleFn = `(needle) => {
	needle = needle.toLowerCase();
	if (!document.body || !document.body.innerText.toLowerCase().includes(needle)) return false;
	for (const el of document.body.querySelectorAll('*')) {
		if (el.childElementCount !== 0) continue;
		if (!(el.textContent || '').toLowerCase().includes(needle)) continue;
		const r = el.getBoundingClientRect();
		const s = getComputedStyle(el);
		if (r.width > 0 && r.height > 0 && s.visibility !== 'hidden' && s.display !== 'none') return true;
	}
	return false;
}`

// setValueFn assigns v through the native setter so framework-controlled
// inputs see the change, then fires the events a user edit would.
const setValueFn = `function(v) {
	const proto = Object.getPrototypeOf(this);
	const desc = Object.getOwnPropertyDescriptor(proto, 'value');
	if (desc && desc.set) desc.set.call(this, v); else this.value = v;
	this.dispatchEvent(new Event('input', {bubbles: true}));
	this.dispatchEvent(new Event('change', {bubbles: true}));
}`

// checkedPropFn returns the checked property as "true"/"false", or "" when
// the element has none.
const checkedPropFn = `function() {
	return typeof this.checked === 'boolean' ? String(this.checked) : '';
}`

// controlsExpr lists visible button-like elements.
const controlsExpr = `Array.from(document.querySelectorAll('button, [role="button"], a[download]'))
	.filter(el => el.offsetParent !== null)
	.map(el => ({
		text: (el.innerText || '').trim(),
		name: el.getAttribute('name') || '',
		id: el.id || '',
		ariaLabel: el.getAttribute('aria-label') || ''
	}))`

// Tab is the chromedp implementation of Page.
type Tab struct {
	ctx         context.Context
	downloadDir string
	ignoreHosts []string
	logger      *slog.Logger

	mu           sync.Mutex
	inflight     map[network.RequestID]string
	lastActivity time.Time
}

var _ Page = (*Tab)(nil)

// NewTab wraps the tab owned by c. Downloads are routed to cfg.DownloadDir and
// request tracking starts immediately.
func NewTab(c *Context, cfg Config, logger *slog.Logger) (*Tab, error) {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Tab{
		ctx:          c.Ctx,
		downloadDir:  cfg.DownloadDir,
		ignoreHosts:  cfg.IgnoreHosts,
		logger:       logger,
		inflight:     make(map[network.RequestID]string),
		lastActivity: time.Now(),
	}
	chromedp.ListenTarget(c.Ctx, t.onEvent)

	if cfg.DownloadDir != "" {
		if err := ConfigureDownloads(c.Ctx, cfg.DownloadDir); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// onEvent runs on the chromedp event loop and must not block.
func (t *Tab) onEvent(ev any) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		if e.Request == nil || t.ignored(e.Request.URL) {
			return
		}
		t.mu.Lock()
		t.inflight[e.RequestID] = e.Request.URL
		t.lastActivity = time.Now()
		t.mu.Unlock()
	case *network.EventLoadingFinished:
		t.settle(e.RequestID)
	case *network.EventLoadingFailed:
		if url := t.settle(e.RequestID); url != "" && !e.Canceled {
			t.logger.Debug("Request failed", logfields.URL(url), slog.String("reason", e.ErrorText))
		}
	case *runtime.EventExceptionThrown:
		if e.ExceptionDetails == nil {
			return
		}
		msg := e.ExceptionDetails.Text
		if e.ExceptionDetails.Exception != nil && e.ExceptionDetails.Exception.Description != "" {
			msg = e.ExceptionDetails.Exception.Description
		}
		if !t.ignored(msg) {
			t.logger.Debug("Page error", slog.String("message", msg))
		}
	}
}

func (t *Tab) settle(id network.RequestID) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	url, ok := t.inflight[id]
	if !ok {
		return ""
	}
	delete(t.inflight, id)
	t.lastActivity = time.Now()
	return url
}

func (t *Tab) ignored(s string) bool {
	s = strings.ToLower(s)
	for _, h := range t.ignoreHosts {
		if h != "" && strings.Contains(s, strings.ToLower(h)) {
			return true
		}
	}
	return false
}

// scope derives a context on the tab that carries the caller's deadline and
// ends when the caller's ctx does.
func (t *Tab) scope(ctx context.Context) (context.Context, context.CancelFunc) {
	c, cancel := context.WithCancel(t.ctx)
	if dl, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		c, cancelDeadline = context.WithDeadline(c, dl)
		parent := cancel
		cancel = func() {
			cancelDeadline()
			parent()
		}
	}
	stop := context.AfterFunc(ctx, cancel)
	return c, func() {
		stop()
		cancel()
	}
}

// normalize reports the caller's ctx error when it ended first, so timeouts
// surface as context.DeadlineExceeded regardless of which side noticed.
func normalize(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	cerr := ctx.Err()
	if cerr == nil || errors.Is(err, cerr) {
		return err
	}
	// chromedp's own context is canceled when the caller's deadline passes.
	if errors.Is(err, context.Canceled) {
		return cerr
	}
	return fmt.Errorf("%w: %v", cerr, err)
}

func (t *Tab) run(ctx context.Context, actions ...chromedp.Action) error {
	c, cancel := t.scope(ctx)
	defer cancel()
	return normalize(ctx, chromedp.Run(c, actions...))
}

func remaining(ctx context.Context) time.Duration {
	dl, ok := ctx.Deadline()
	if !ok {
		return 0
	}
	if d := time.Until(dl); d > time.Millisecond {
		return d
	}
	return time.Millisecond
}

func (t *Tab) frameNode(c context.Context, frame string) (*cdp.Node, error) {
	var nodes []*cdp.Node
	if err := chromedp.Run(c, chromedp.Nodes(frame, &nodes, chromedp.ByQuery)); err != nil {
		return nil, fmt.Errorf("frame %s: %w", frame, err)
	}
	return nodes[0], nil
}

// resolve turns loc into a chromedp selector. c must be a tab context.
func (t *Tab) resolve(c context.Context, loc Locator) (any, []chromedp.QueryOption, error) {
	var opts []chromedp.QueryOption
	if loc.Frame != "" {
		frame, err := t.frameNode(c, loc.Frame)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, chromedp.FromNode(frame))
	}
	switch {
	case loc.CSS != "":
		return loc.CSS, append(opts, chromedp.ByQuery), nil
	case loc.Role != "":
		return loc.String(), append(opts, chromedp.ByFunc(byRole(loc.Role, loc.Name))), nil
	}
	return nil, nil, fmt.Errorf("locator %s cannot target an element", loc)
}

// byRole selects the first unignored node under the query root with role whose
// accessible name starts with name, ignoring case.
func byRole(role, name string) func(context.Context, *cdp.Node) ([]cdp.NodeID, error) {
	want := strings.ToLower(strings.TrimSpace(name))
	return func(ctx context.Context, root *cdp.Node) ([]cdp.NodeID, error) {
		ax, err := accessibility.QueryAXTree().
			WithNodeID(root.NodeID).
			WithRole(role).
			Do(ctx)
		if err != nil {
			return nil, err
		}
		for _, n := range ax {
			if n.Ignored || n.BackendDOMNodeID == 0 {
				continue
			}
			if want != "" && !strings.HasPrefix(strings.ToLower(axName(n)), want) {
				continue
			}
			ids, err := dom.PushNodesByBackendIDsToFrontend([]cdp.BackendNodeID{n.BackendDOMNodeID}).Do(ctx)
			if err != nil {
				return nil, err
			}
			return ids, nil
		}
		return nil, nil
	}
}

func axName(n *accessibility.Node) string {
	if n.Name == nil || len(n.Name.Value) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(n.Name.Value, &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

func (t *Tab) Navigate(ctx context.Context, url string) error {
	if err := t.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	return nil
}

func (t *Tab) Visible(ctx context.Context, loc Locator) (bool, error) {
	c, cancel := t.scope(ctx)
	defer cancel()

	var err error
	if loc.Text != "" {
		err = t.waitText(c, ctx, loc)
	} else {
		var sel any
		var opts []chromedp.QueryOption
		sel, opts, err = t.resolve(c, loc)
		if err == nil {
			err = chromedp.Run(c, chromedp.WaitVisible(sel, opts...))
		}
	}
	err = normalize(ctx, err)
	switch {
	case err == nil:
		return true, nil
	case IsTimeout(err), errors.Is(err, chromedp.ErrPollingTimeout):
		return false, nil
	}
	return false, err
}

func (t *Tab) waitText(c, ctx context.Context, loc Locator) error {
	opts := []chromedp.PollOption{
		chromedp.WithPollingInterval(pollInterval),
		chromedp.WithPollingTimeout(remaining(ctx)),
		chromedp.WithPollingArgs(loc.Text),
	}
	if loc.Frame != "" {
		frame, err := t.frameNode(c, loc.Frame)
		if err != nil {
			return err
		}
		opts = append(opts, chromedp.WithPollingInFrame(frame))
	}
	var ok bool
	return chromedp.Run(c, chromedp.PollFunction(textVisibleFn, &ok, opts...))
}

func (t *Tab) WaitVisible(ctx context.Context, loc Locator) error {
	ok, err := t.Visible(ctx, loc)
	if err != nil {
		return fmt.Errorf("wait for %s: %w", loc, err)
	}
	if !ok {
		return fmt.Errorf("%s not visible: %w", loc, context.DeadlineExceeded)
	}
	return nil
}

func (t *Tab) withElement(ctx context.Context, loc Locator, actions func(sel any, opts []chromedp.QueryOption) []chromedp.Action) error {
	if loc.Text != "" {
		return fmt.Errorf("locator %s does not support interaction", loc)
	}
	c, cancel := t.scope(ctx)
	defer cancel()
	sel, opts, err := t.resolve(c, loc)
	if err != nil {
		return normalize(ctx, err)
	}
	return normalize(ctx, chromedp.Run(c, actions(sel, opts)...))
}

func (t *Tab) Fill(ctx context.Context, loc Locator, value string) error {
	var typ string
	var ok bool
	err := t.withElement(ctx, loc, func(sel any, opts []chromedp.QueryOption) []chromedp.Action {
		return []chromedp.Action{
			chromedp.WaitVisible(sel, opts...),
			chromedp.Focus(sel, opts...),
			chromedp.AttributeValue(sel, "type", &typ, &ok, opts...),
			chromedp.ActionFunc(func(ctx context.Context) error {
				if fillsDirectly(typ) {
					return chromedp.QueryAfter(sel, func(ctx context.Context, _ runtime.ExecutionContextID, nodes ...*cdp.Node) error {
						return callOnNode(ctx, nodes[0], setValueFn, nil, value)
					}, opts...).Do(ctx)
				}
				return chromedp.Tasks{
					chromedp.SetValue(sel, "", opts...),
					chromedp.SendKeys(sel, value, opts...),
				}.Do(ctx)
			}),
		}
	})
	if err != nil {
		return fmt.Errorf("fill %s: %w", loc, err)
	}
	return nil
}

// fillsDirectly reports whether an input of type typ is a segmented picker.
// Typed keys land in locale-ordered segments there, so the ISO value is
// assigned instead.
func fillsDirectly(typ string) bool {
	switch strings.ToLower(strings.TrimSpace(typ)) {
	case "date", "datetime-local", "month", "week", "time":
		return true
	}
	return false
}

func callOnNode(ctx context.Context, node *cdp.Node, fn string, res any, args ...any) error {
	obj, err := dom.ResolveNode().WithNodeID(node.NodeID).Do(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = runtime.ReleaseObject(obj.ObjectID).Do(ctx) }()
	return chromedp.CallFunctionOn(fn, res, func(p *runtime.CallFunctionOnParams) *runtime.CallFunctionOnParams {
		return p.WithObjectID(obj.ObjectID)
	}, args...).Do(ctx)
}

func (t *Tab) Click(ctx context.Context, loc Locator) error {
	err := t.withElement(ctx, loc, func(sel any, opts []chromedp.QueryOption) []chromedp.Action {
		return []chromedp.Action{
			chromedp.WaitVisible(sel, opts...),
			chromedp.Click(sel, opts...),
		}
	})
	if err != nil {
		return fmt.Errorf("click %s: %w", loc, err)
	}
	return nil
}

func (t *Tab) Check(ctx context.Context, loc Locator) error {
	var prop, aria string
	var ok bool
	err := t.withElement(ctx, loc, func(sel any, opts []chromedp.QueryOption) []chromedp.Action {
		return []chromedp.Action{
			chromedp.WaitVisible(sel, opts...),
			chromedp.QueryAfter(sel, func(ctx context.Context, _ runtime.ExecutionContextID, nodes ...*cdp.Node) error {
				return callOnNode(ctx, nodes[0], checkedPropFn, &prop)
			}, opts...),
			chromedp.AttributeValue(sel, "aria-checked", &aria, &ok, opts...),
			chromedp.ActionFunc(func(ctx context.Context) error {
				if isChecked(prop, aria) {
					return nil
				}
				return chromedp.Click(sel, opts...).Do(ctx)
			}),
		}
	})
	if err != nil {
		return fmt.Errorf("check %s: %w", loc, err)
	}
	return nil
}

// isChecked prefers the checked property of a native checkbox and falls back
// to aria-checked for role=checkbox widgets. "mixed" counts as unchecked.
func isChecked(prop, aria string) bool {
	if prop != "" {
		return prop == "true"
	}
	return strings.EqualFold(strings.TrimSpace(aria), "true")
}

func (t *Tab) Title(ctx context.Context) (string, error) {
	var title string
	if err := t.run(ctx, chromedp.Title(&title)); err != nil {
		return "", fmt.Errorf("read title: %w", err)
	}
	return title, nil
}

func (t *Tab) URL(ctx context.Context) (string, error) {
	var url string
	if err := t.run(ctx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("read url: %w", err)
	}
	return url, nil
}

func (t *Tab) WaitFunction(ctx context.Context, expression string) error {
	var ok bool
	err := t.run(ctx, chromedp.Poll(expression, &ok,
		chromedp.WithPollingInterval(2*pollInterval),
		chromedp.WithPollingTimeout(remaining(ctx)),
	))
	if errors.Is(err, chromedp.ErrPollingTimeout) {
		err = fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	return err
}

func (t *Tab) WaitNetworkIdle(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		t.mu.Lock()
		idle := len(t.inflight) == 0 && time.Since(t.lastActivity) >= networkQuiet
		t.mu.Unlock()
		if idle {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for network idle: %w", ctx.Err())
		case <-t.ctx.Done():
			return fmt.Errorf("wait for network idle: %w", t.ctx.Err())
		case <-ticker.C:
		}
	}
}

func (t *Tab) ExpectDownload(ctx context.Context) (DownloadWaiter, error) {
	if t.downloadDir == "" {
		return nil, errors.New("downloads are not configured for this tab")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return newDownloadWaiter(t.ctx, t.downloadDir), nil
}

func (t *Tab) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := t.run(ctx, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	return buf, nil
}

func (t *Tab) Controls(ctx context.Context) ([]Control, error) {
	var controls []Control
	if err := t.run(ctx, chromedp.Evaluate(controlsExpr, &controls)); err != nil {
		return nil, fmt.Errorf("list controls: %w", err)
	}
	return controls, nil
}
