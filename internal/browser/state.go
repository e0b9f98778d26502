package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"github.com/go-json-experiment/json"

	"github.com/cantalupo555/simplifi-exporter/internal/session"
)

const localStorageExpr = `(() => {
	const entries = [];
	try {
		for (let i = 0; i < localStorage.length; i++) {
			const name = localStorage.key(i);
			entries.push({name, value: localStorage.getItem(name) || ''});
		}
	} catch (_) {}
	return {origin: location.origin, localStorage: entries};
})()`

func (t *Tab) CaptureState(ctx context.Context) (*session.State, error) {
	var (
		cookies []*network.Cookie
		origin  session.Origin
	)
	err := t.run(ctx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			cookies, err = storage.GetCookies().Do(ctx)
			return err
		}),
		chromedp.Evaluate(localStorageExpr, &origin),
	)
	if err != nil {
		return nil, fmt.Errorf("capture session state: %w", err)
	}

	st := &session.State{Cookies: cookies, SavedAt: time.Now().UTC()}
	if strings.HasPrefix(origin.Origin, "http") && len(origin.LocalStorage) > 0 {
		st.Origins = []session.Origin{origin}
	}
	return st, nil
}

func (t *Tab) RestoreState(ctx context.Context, st *session.State) error {
	if st.Empty() {
		return nil
	}
	script, err := restoreScript(st.Origins)
	if err != nil {
		return err
	}
	err = t.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		if len(st.Cookies) > 0 {
			if err := network.SetCookies(cookieParams(st.Cookies)).Do(ctx); err != nil {
				return fmt.Errorf("set cookies: %w", err)
			}
		}
		if script != "" {
			if _, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx); err != nil {
				return fmt.Errorf("install local storage script: %w", err)
			}
		}
		return nil
	}))
	if err != nil {
		return fmt.Errorf("restore session state: %w", err)
	}
	return nil
}

// cookieParams converts captured cookies into the form Network.setCookies
// accepts. Session cookies keep no expiry.
func cookieParams(cookies []*network.Cookie) []*network.CookieParam {
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		if c == nil {
			continue
		}
		p := &network.CookieParam{
			Name:         c.Name,
			Value:        c.Value,
			Domain:       c.Domain,
			Path:         c.Path,
			Secure:       c.Secure,
			HTTPOnly:     c.HTTPOnly,
			SameSite:     c.SameSite,
			Priority:     c.Priority,
			SourceScheme: c.SourceScheme,
			SourcePort:   c.SourcePort,
			PartitionKey: c.PartitionKey,
		}
		if !c.Session && c.Expires > 0 {
			exp := cdp.TimeSinceEpoch(time.UnixMilli(int64(c.Expires * 1000)))
			p.Expires = &exp
		}
		params = append(params, p)
	}
	return params
}

// restoreScript builds a document-start script that seeds local storage for
// whichever saved origin matches the page being loaded.
func restoreScript(origins []session.Origin) (string, error) {
	if len(origins) == 0 {
		return "", nil
	}
	data, err := json.Marshal(origins)
	if err != nil {
		return "", fmt.Errorf("encode local storage: %w", err)
	}
	return `(() => {
	const origins = ` + string(data) + `;
	const o = origins.find(x => x.origin === location.origin);
	if (!o) return;
	for (const e of o.localStorage || []) {
		try { localStorage.setItem(e.name, e.value); } catch (_) {}
	}
})();`, nil
}
