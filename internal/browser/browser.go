// Package browser implements the execution engine on headless Chrome via
// chromedp. One allocator (browser process factory) is shared process-wide;
// every execution gets its own browser context seeded from its session
// seed.
package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/charon-estate/charond/internal/executor"
	"github.com/charon-estate/charond/internal/model"
)

// Engine implements executor.Engine on a shared chromedp allocator.
type Engine struct {
	allocCtx context.Context
	cancel   context.CancelFunc
}

var _ executor.Engine = (*Engine)(nil)

func NewEngine(ctx context.Context, headless bool) *Engine {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	if !headless {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	allocCtx, cancel := chromedp.NewExecAllocator(ctx, opts...)
	return &Engine{allocCtx: allocCtx, cancel: cancel}
}

// Close tears down the allocator and any browsers it spawned.
func (e *Engine) Close() {
	e.cancel()
}

// NewSession builds an isolated browser context: cookies and extra headers
// first, then navigation to the start URL, then web storage (which needs an
// origin to attach to).
func (e *Engine) NewSession(ctx context.Context, seed model.SessionSeed) (executor.Session, error) {
	tabCtx, tabCancel := chromedp.NewContext(e.allocCtx)

	actions := []chromedp.Action{network.Enable()}

	if len(seed.Headers) > 0 {
		hdrs := make(network.Headers, len(seed.Headers))
		for k, v := range seed.Headers {
			hdrs[k] = v
		}
		actions = append(actions, network.SetExtraHTTPHeaders(hdrs))
	}

	for _, c := range seed.Cookies {
		actions = append(actions, setCookieAction(c))
	}

	startURL := seed.StartURL
	if startURL == "" {
		startURL = "about:blank"
	}
	actions = append(actions, chromedp.Navigate(startURL))

	for key, value := range seed.LocalStorage {
		actions = append(actions, chromedp.Evaluate(
			fmt.Sprintf("localStorage.setItem(%q, %q)", key, value), nil))
	}
	for key, value := range seed.SessionStorage {
		actions = append(actions, chromedp.Evaluate(
			fmt.Sprintf("sessionStorage.setItem(%q, %q)", key, value), nil))
	}

	if err := chromedp.Run(tabCtx, actions...); err != nil {
		tabCancel()
		return nil, fmt.Errorf("seed browser session: %w", err)
	}
	return &session{ctx: tabCtx, cancel: tabCancel}, nil
}

func setCookieAction(c model.Cookie) chromedp.Action {
	p := network.SetCookie(c.Name, c.Value).
		WithDomain(c.Domain).
		WithPath(cookiePath(c.Path)).
		WithHTTPOnly(c.HTTPOnly).
		WithSecure(c.Secure)
	if c.Expires > 0 {
		exp := cdp.TimeSinceEpoch(time.Unix(int64(c.Expires), 0))
		p = p.WithExpires(&exp)
	}
	if c.SameSite != "" {
		p = p.WithSameSite(sameSite(c.SameSite))
	}
	return p
}

func sameSite(v string) network.CookieSameSite {
	switch strings.ToLower(v) {
	case "strict":
		return network.CookieSameSiteStrict
	case "none":
		return network.CookieSameSiteNone
	default:
		return network.CookieSameSiteLax
	}
}

func cookiePath(path string) string {
	if path == "" {
		return "/"
	}
	return path
}

type session struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

func (s *session) Screenshot(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, executor.ErrNoPage
	}
	s.mu.Unlock()

	var buf []byte
	if err := chromedp.Run(s.ctx, chromedp.FullScreenshot(&buf, 90)); err != nil {
		if s.ctx.Err() != nil {
			return nil, executor.ErrNoPage
		}
		return nil, err
	}
	return buf, nil
}

func (s *session) Close(context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := chromedp.Cancel(s.ctx)
	s.cancel()
	return err
}
