// Package cdp adapts a Chromium browser, driven over the DevTools protocol
// with chromedp, to the host.Host interface.
package cdp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"github.com/dgnsrekt/netmon/internal/host"
)

// ErrClosed is returned by Subscribe after Close.
var ErrClosed = errors.New("cdp client closed")

// Client attaches to browser tabs and forwards their network events to
// subscribed handlers. Listeners stay installed for the lifetime of a tab;
// subscriptions only decide who receives events.
type Client struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	tabRegistry *TabRegistry

	tabs   map[target.ID]*tab
	tabsMu sync.RWMutex

	subs    map[int]host.Handlers
	nextSub int
	subsMu  sync.RWMutex

	pending   map[wireKey]*pendingRequest
	pendingMu sync.Mutex

	closed chan struct{}
	once   sync.Once
}

type tab struct {
	id     target.ID
	ctx    context.Context
	cancel context.CancelFunc
}

func newClient() *Client {
	return &Client{
		tabRegistry: NewTabRegistry(),
		tabs:        make(map[target.ID]*tab),
		subs:        make(map[int]host.Handlers),
		pending:     make(map[wireKey]*pendingRequest),
		closed:      make(chan struct{}),
	}
}

// Connect attaches to every page target of a running browser whose URL
// contains tabURLFilter (case-insensitive, empty matches all).
func Connect(ctx context.Context, cdpURL, tabURLFilter string) (*Client, error) {
	slog.Info("Connecting to Chromium", "url", cdpURL)
	c := newClient()
	c.allocCtx, c.allocCancel = chromedp.NewRemoteAllocator(context.Background(), cdpURL)

	tempCtx, tempCancel := chromedp.NewContext(c.allocCtx)
	defer tempCancel()
	stop := context.AfterFunc(ctx, tempCancel)
	defer stop()

	if err := chromedp.Run(tempCtx); err != nil {
		c.allocCancel()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	targets, err := chromedp.Targets(tempCtx)
	if err != nil {
		c.allocCancel()
		return nil, fmt.Errorf("failed to enumerate targets: %w", err)
	}
	slog.Info("Found browser targets", "count", len(targets))

	attached := 0
	for _, t := range targets {
		if t.Type != "page" {
			continue
		}
		if !matchesTabURL(t.URL, tabURLFilter) {
			slog.Debug("Skipping tab (url filter)", "url", t.URL)
			continue
		}
		tabCtx, tabCancel := chromedp.NewContext(c.allocCtx, chromedp.WithTargetID(t.TargetID))
		if err := c.attach(t.TargetID, t.URL, tabCtx, tabCancel); err != nil {
			slog.Error("Failed to attach to tab", "target_id", t.TargetID, "url", truncateURL(t.URL), "error", err)
			continue
		}
		attached++
	}

	if attached == 0 {
		c.allocCancel()
		return nil, fmt.Errorf("no page targets match tab filter %q", tabURLFilter)
	}
	slog.Info("Attached to tabs", "count", attached, "tab_url_filter", tabURLFilter)
	return c, nil
}

// Launch starts a local browser with one blank tab and attaches to it.
func Launch(ctx context.Context, headless bool) (*Client, error) {
	c := newClient()
	opts := append(chromedp.DefaultExecAllocatorOptions[:], chromedp.Flag("headless", headless))
	c.allocCtx, c.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)

	// The first Run allocates the browser and binds it to the context it is
	// given, so it must run on tabCtx itself rather than a derived one.
	tabCtx, tabCancel := chromedp.NewContext(c.allocCtx)
	stop := context.AfterFunc(ctx, tabCancel)
	err := chromedp.Run(tabCtx)
	stop()
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		tabCancel()
		c.allocCancel()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	id := chromedp.FromContext(tabCtx).Target.TargetID
	if err := c.attach(id, "about:blank", tabCtx, tabCancel); err != nil {
		c.allocCancel()
		return nil, err
	}
	slog.Info("Launched browser", "headless", headless, "target_id", id)
	return c, nil
}

func (c *Client) attach(id target.ID, url string, tabCtx context.Context, tabCancel context.CancelFunc) error {
	t := &tab{id: id, ctx: tabCtx, cancel: tabCancel}

	if err := chromedp.Run(tabCtx, network.Enable(), network.SetCacheDisabled(true), page.Enable()); err != nil {
		tabCancel()
		return fmt.Errorf("failed to enable network/page domains: %w", err)
	}

	c.tabsMu.Lock()
	c.tabs[id] = t
	c.tabsMu.Unlock()
	info := c.tabRegistry.Register(id, url)

	chromedp.ListenTarget(tabCtx, c.createEventHandler(t))
	slog.Info("Attached to tab", "target_id", id, "url", truncateURL(info.URL))
	return nil
}

// Subscribe implements host.Host.
func (c *Client) Subscribe(ctx context.Context, h host.Handlers) (host.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	select {
	case <-c.closed:
		return nil, ErrClosed
	default:
	}
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	c.nextSub++
	c.subs[c.nextSub] = h
	slog.Debug("Host subscription added", "subscription", c.nextSub, "tabs", c.GetTabCount())
	return &subscription{c: c, id: c.nextSub}, nil
}

type subscription struct {
	c    *Client
	id   int
	once sync.Once
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.c.subsMu.Lock()
		delete(s.c.subs, s.id)
		s.c.subsMu.Unlock()
	})
}

func (c *Client) handlers() []host.Handlers {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	out := make([]host.Handlers, 0, len(c.subs))
	for _, h := range c.subs {
		out = append(out, h)
	}
	return out
}

// createEventHandler runs on chromedp's event goroutine, which must not
// block. Handlers are invoked on their own goroutines; response and failure
// handlers wait until the request handlers for the same hop have returned.
func (c *Client) createEventHandler(t *tab) func(ev interface{}) {
	return func(ev interface{}) {
		switch e := ev.(type) {
		case *page.EventFrameNavigated:
			if e.Frame.ParentID == "" {
				info := c.tabRegistry.Register(t.id, e.Frame.URL)
				slog.Debug("Tab navigated", "target_id", t.id, "url", truncateURL(info.URL))
			}
		case *network.EventRequestWillBeSent:
			c.onRequestWillBeSent(t, e)
		case *network.EventResponseReceived:
			c.onResponseReceived(t, e)
		case *network.EventLoadingFinished:
			c.onLoadingFinished(t, e)
		case *network.EventLoadingFailed:
			c.onLoadingFailed(t, e)
		}
	}
}

func (c *Client) onRequestWillBeSent(t *tab, e *network.EventRequestWillBeSent) {
	wk := wireKey{target: t.id, id: e.RequestID}
	hop := 0

	c.pendingMu.Lock()
	prev := c.pending[wk]
	if prev != nil {
		hop = prev.key.hop + 1
	}
	p := newPendingRequest(t, e, hop)
	c.pending[wk] = p
	c.pendingMu.Unlock()

	hs := c.handlers()

	// A redirect reuses the RequestID; the previous hop ends with the
	// redirect response, which has no retrievable body.
	if prev != nil {
		close(prev.done)
	}
	if prev != nil && e.RedirectResponse != nil {
		resp := &response{req: prev, tab: t, requestID: e.RequestID, resp: e.RedirectResponse, noBody: true}
		go func() {
			<-prev.dispatched
			for _, h := range hs {
				if h.OnResponse != nil {
					h.OnResponse(t.ctx, resp)
				}
			}
		}()
	}

	go func() {
		defer close(p.dispatched)
		for _, h := range hs {
			if h.OnRequest != nil {
				h.OnRequest(t.ctx, p)
			}
		}
	}()
}

func (c *Client) onResponseReceived(t *tab, e *network.EventResponseReceived) {
	if e.Response == nil {
		return
	}
	c.pendingMu.Lock()
	p := c.pending[wireKey{target: t.id, id: e.RequestID}]
	c.pendingMu.Unlock()

	hs := c.handlers()
	resp := &response{req: p, tab: t, requestID: e.RequestID, resp: e.Response}
	go func() {
		if p != nil {
			<-p.dispatched
		}
		for _, h := range hs {
			if h.OnResponse != nil {
				h.OnResponse(t.ctx, resp)
			}
		}
	}()
}

func (c *Client) onLoadingFinished(t *tab, e *network.EventLoadingFinished) {
	if p := c.takePending(wireKey{target: t.id, id: e.RequestID}); p != nil {
		close(p.done)
	}
}

func (c *Client) onLoadingFailed(t *tab, e *network.EventLoadingFailed) {
	p := c.takePending(wireKey{target: t.id, id: e.RequestID})
	if p == nil {
		slog.Debug("Loading failed for unknown request", "target_id", t.id, "request_id", e.RequestID, "error", e.ErrorText)
		return
	}
	p.failure = e.ErrorText
	if p.failure == "" && e.Canceled {
		p.failure = "canceled"
	}
	if e.BlockedReason != "" {
		p.failure = strings.TrimSpace(p.failure + " (blocked: " + string(e.BlockedReason) + ")")
	}
	close(p.done)

	hs := c.handlers()
	go func() {
		<-p.dispatched
		for _, h := range hs {
			if h.OnRequestFailed != nil {
				h.OnRequestFailed(t.ctx, p)
			}
		}
	}()
}

func (c *Client) takePending(wk wireKey) *pendingRequest {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	p := c.pending[wk]
	delete(c.pending, wk)
	return p
}

// Navigate loads url in the first attached tab and waits for the load event.
func (c *Client) Navigate(ctx context.Context, url string) error {
	tabs := c.tabRegistry.List()
	if len(tabs) == 0 {
		return errors.New("no attached tabs")
	}
	c.tabsMu.RLock()
	t := c.tabs[target.ID(tabs[0].TargetID)]
	c.tabsMu.RUnlock()
	if t == nil {
		return errors.New("no attached tabs")
	}

	runCtx, cancel := context.WithCancel(t.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if err := chromedp.Run(runCtx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate %s: %w", truncateURL(url), err)
	}
	return nil
}

// Tabs lists the attached tabs.
func (c *Client) Tabs() []TabInfo {
	return c.tabRegistry.List()
}

func (c *Client) GetTabCount() int {
	c.tabsMu.RLock()
	defer c.tabsMu.RUnlock()
	return len(c.tabs)
}

// PendingLoads is the number of requests still waiting for a terminal
// loading event.
func (c *Client) PendingLoads() int {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	return len(c.pending)
}

func (c *Client) Close() error {
	c.once.Do(func() {
		close(c.closed)

		c.tabsMu.Lock()
		for id, t := range c.tabs {
			t.cancel()
			c.tabRegistry.Remove(id)
		}
		c.tabs = make(map[target.ID]*tab)
		c.tabsMu.Unlock()

		if c.allocCancel != nil {
			c.allocCancel()
		}
		slog.Info("CDP client closed")
	})
	return nil
}

// WaitIdle blocks until no loads are pending for quiet, or ctx ends.
func (c *Client) WaitIdle(ctx context.Context, quiet time.Duration) error {
	interval := quiet / 4
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	idleSince := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if c.PendingLoads() > 0 {
				idleSince = now
				continue
			}
			if now.Sub(idleSince) >= quiet {
				return nil
			}
		}
	}
}

func matchesTabURL(url, filter string) bool {
	if filter == "" {
		return true
	}
	return strings.Contains(strings.ToLower(url), strings.ToLower(filter))
}

func truncateURL(url string) string {
	if len(url) > 120 {
		return url[:120] + "..."
	}
	return url
}
