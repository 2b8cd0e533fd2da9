package capture

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/credsync/internal/common"
	"github.com/ternarybob/credsync/internal/interfaces"
	"github.com/ternarybob/credsync/internal/models"
)

const hostCallTimeout = 10 * time.Second

// ChromeHostConfig selects how the browser is reached
type ChromeHostConfig struct {
	DevToolsURL string // attach to a running browser, e.g. ws://127.0.0.1:9222/devtools/browser/<id>
	Headless    bool
	UserDataDir string // persistent profile for a launched browser
}

type tab struct {
	id         target.ID
	url        string
	lastActive time.Time
	cancel     context.CancelFunc
}

// ChromeHost implements CaptureHost over the Chrome DevTools Protocol. It
// follows every page target, forwards request and navigation events to a
// sink, and reads cookies from the browser-wide cookie store.
type ChromeHost struct {
	config ChromeHostConfig
	logger arbor.ILogger

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	sink          interfaces.CaptureEventSink

	mu       sync.Mutex
	tabs     map[target.ID]*tab
	requests *lru.Cache[network.RequestID, string]          // request id -> url, for extra-info events
	early    *lru.Cache[network.RequestID, network.Headers] // extra-info headers seen before the url
	closed   bool
	now      func() time.Time
}

// NewChromeHost creates an unstarted host
func NewChromeHost(config ChromeHostConfig, logger arbor.ILogger) *ChromeHost {
	requests, _ := lru.New[network.RequestID, string](1024)
	early, _ := lru.New[network.RequestID, network.Headers](256)
	return &ChromeHost{
		config:   config,
		logger:   logger,
		tabs:     make(map[target.ID]*tab),
		requests: requests,
		early:    early,
		now:      time.Now,
	}
}

var _ interfaces.CaptureHost = (*ChromeHost)(nil)

// Start connects to (or launches) the browser and begins following page targets
func (h *ChromeHost) Start(ctx context.Context, sink interfaces.CaptureEventSink) error {
	h.sink = sink

	var allocCtx context.Context
	if h.config.DevToolsURL != "" {
		allocCtx, h.allocCancel = chromedp.NewRemoteAllocator(context.WithoutCancel(ctx), h.config.DevToolsURL)
	} else {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", h.config.Headless),
			chromedp.Flag("disable-dev-shm-usage", true),
		)
		if h.config.UserDataDir != "" {
			opts = append(opts, chromedp.UserDataDir(h.config.UserDataDir))
		}
		allocCtx, h.allocCancel = chromedp.NewExecAllocator(context.WithoutCancel(ctx), opts...)
	}

	h.browserCtx, h.browserCancel = chromedp.NewContext(allocCtx)

	// The first Run establishes the connection (and a helper tab)
	if err := chromedp.Run(h.browserCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		return target.SetDiscoverTargets(true).Do(cdp.WithExecutor(ctx, chromedp.FromContext(ctx).Browser))
	})); err != nil {
		h.Close()
		return fmt.Errorf("%w: failed to connect to browser: %w", models.ErrCaptureUnavailable, err)
	}

	chromedp.ListenBrowser(h.browserCtx, h.onBrowserEvent)

	infos, err := chromedp.Targets(h.browserCtx)
	if err != nil {
		h.Close()
		return fmt.Errorf("%w: failed to list targets: %w", models.ErrCaptureUnavailable, err)
	}
	for _, info := range infos {
		h.follow(info)
	}

	h.logger.Info().
		Bool("remote", h.config.DevToolsURL != "").
		Int("tabs", len(infos)).
		Msg("Browser capture surface started")
	return nil
}

// Close stops following targets. Tabs of an attached browser are left open:
// cancelling an attached target context would close the user's tab.
func (h *ChromeHost) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.mu.Unlock()

	if h.config.DevToolsURL == "" {
		if h.browserCancel != nil {
			h.browserCancel()
		}
	}
	if h.allocCancel != nil {
		h.allocCancel()
	}
}

// onBrowserEvent runs on chromedp's event loop and must not block on CDP calls
func (h *ChromeHost) onBrowserEvent(ev interface{}) {
	switch e := ev.(type) {
	case *target.EventTargetCreated:
		info := e.TargetInfo
		common.SafeGo(h.logger, "capture:follow", func() { h.follow(info) })
	case *target.EventTargetInfoChanged:
		h.updateURL(e.TargetInfo.TargetID, e.TargetInfo.URL, false)
	case *target.EventTargetDestroyed:
		h.forget(e.TargetID)
	}
}

// follow attaches network and page listeners to a page target
func (h *ChromeHost) follow(info *target.Info) {
	if info == nil || info.Type != "page" {
		return
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	if _, ok := h.tabs[info.TargetID]; ok {
		h.mu.Unlock()
		return
	}
	tctx, cancel := chromedp.NewContext(h.browserCtx, chromedp.WithTargetID(info.TargetID))
	t := &tab{id: info.TargetID, url: info.URL, cancel: cancel}
	h.tabs[info.TargetID] = t
	h.mu.Unlock()

	id := info.TargetID
	chromedp.ListenTarget(tctx, func(ev interface{}) {
		h.onTargetEvent(tctx, id, ev)
	})

	if err := chromedp.Run(tctx, network.Enable(), page.Enable()); err != nil {
		h.logger.Debug().Err(err).Str("target", string(id)).Msg("Failed to attach to tab")
		h.forget(id)
		return
	}
	h.logger.Debug().Str("target", string(id)).Str("url", info.URL).Msg("Following tab")
}

func (h *ChromeHost) onTargetEvent(ctx context.Context, id target.ID, ev interface{}) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		if e.Request == nil {
			return
		}
		h.requests.Add(e.RequestID, e.Request.URL)
		h.markActive(id)
		h.emitRequest(ctx, id, e.Request.URL, e.Request.Method, e.Request.Headers)
		if headers, ok := h.takeEarly(e.RequestID); ok {
			h.emitRequest(ctx, id, e.Request.URL, "", headers)
		}

	case *network.EventRequestWillBeSentExtraInfo:
		// Carries headers the network stack added; the url comes from
		// requestWillBeSent, which Chrome may deliver second
		if u, ok := h.requests.Get(e.RequestID); ok {
			h.emitRequest(ctx, id, u, "", e.Headers)
			return
		}
		h.bufferEarly(e.RequestID, e.Headers)

	case *page.EventFrameNavigated:
		if e.Frame != nil && e.Frame.ParentID == "" {
			h.updateURL(id, e.Frame.URL, true)
		}

	case *page.EventLoadEventFired:
		h.mu.Lock()
		t, ok := h.tabs[id]
		var u string
		if ok {
			u = t.url
		}
		h.mu.Unlock()
		if ok && h.sink != nil {
			common.SafeGo(h.logger, "capture:navigation", func() {
				h.sink.HandleNavigation(context.WithoutCancel(ctx), u)
			})
		}
	}
}

// bufferEarly holds extra-info headers until the request's url is known.
// Repeated extra-info events for one request merge.
func (h *ChromeHost) bufferEarly(reqID network.RequestID, headers network.Headers) {
	h.mu.Lock()
	defer h.mu.Unlock()
	merged := network.Headers{}
	if prev, ok := h.early.Peek(reqID); ok {
		for k, v := range prev {
			merged[k] = v
		}
	}
	for k, v := range headers {
		merged[k] = v
	}
	h.early.Add(reqID, merged)
}

func (h *ChromeHost) takeEarly(reqID network.RequestID) (network.Headers, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	headers, ok := h.early.Peek(reqID)
	if ok {
		h.early.Remove(reqID)
	}
	return headers, ok
}

func (h *ChromeHost) emitRequest(ctx context.Context, id target.ID, u, method string, headers network.Headers) {
	if h.sink == nil {
		return
	}
	obs := models.RequestObservation{
		URL:      u,
		Method:   method,
		Headers:  flattenHeaders(headers),
		TargetID: string(id),
	}
	common.SafeGo(h.logger, "capture:request", func() {
		h.sink.HandleRequest(context.WithoutCancel(ctx), obs)
	})
}

func (h *ChromeHost) markActive(id target.ID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if t, ok := h.tabs[id]; ok {
		t.lastActive = h.now()
	}
}

func (h *ChromeHost) updateURL(id target.ID, u string, active bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if t, ok := h.tabs[id]; ok {
		t.url = u
		if active {
			t.lastActive = h.now()
		}
	}
}

func (h *ChromeHost) forget(id target.ID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.tabs, id)
}

// ActiveTabURL returns the most recently active tab, falling back to any open web page
func (h *ChromeHost) ActiveTabURL(ctx context.Context) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed || h.browserCtx == nil {
		return "", fmt.Errorf("%w: browser not connected", models.ErrCaptureUnavailable)
	}

	tabs := make([]tab, 0, len(h.tabs))
	for _, t := range h.tabs {
		tabs = append(tabs, *t)
	}
	if u := pickActiveURL(tabs); u != "" {
		return u, nil
	}
	return "", models.ErrNoActiveTab
}

// CookiesForDomain returns cookies whose domain is domain or one of its subdomains
func (h *ChromeHost) CookiesForDomain(ctx context.Context, domain string) ([]models.Cookie, error) {
	all, err := h.allCookies(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]models.Cookie, 0)
	for _, c := range all {
		if c.MatchesDomain(domain) {
			out = append(out, c)
		}
	}
	return out, nil
}

// LookupCookie returns the named cookie the browser would send to rawURL
func (h *ChromeHost) LookupCookie(ctx context.Context, rawURL string, name string) (*models.Cookie, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return nil, fmt.Errorf("invalid lookup url %q", rawURL)
	}

	all, err := h.allCookies(ctx)
	if err != nil {
		return nil, err
	}
	return lookupCookie(all, u, name), nil
}

func (h *ChromeHost) allCookies(ctx context.Context) ([]models.Cookie, error) {
	h.mu.Lock()
	browserCtx, closed := h.browserCtx, h.closed
	h.mu.Unlock()
	if closed || browserCtx == nil {
		return nil, fmt.Errorf("%w: browser not connected", models.ErrCaptureUnavailable)
	}

	ctx, cancel := context.WithTimeout(ctx, hostCallTimeout)
	defer cancel()

	cookies, err := storage.GetCookies().Do(cdp.WithExecutor(ctx, chromedp.FromContext(browserCtx).Browser))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrCaptureUnavailable, err)
	}

	out := make([]models.Cookie, 0, len(cookies))
	for _, c := range cookies {
		out = append(out, fromCDPCookie(c))
	}
	return out, nil
}

func fromCDPCookie(c *network.Cookie) models.Cookie {
	cookie := models.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		Secure:   c.Secure,
		HTTPOnly: c.HTTPOnly,
		SameSite: strings.ToLower(c.SameSite.String()),
	}
	if !c.Session && c.Expires > 0 {
		exp := c.Expires
		cookie.ExpirationDate = &exp
	}
	return cookie
}

// lookupCookie picks the most specific cookie named name that would be sent to u
func lookupCookie(cookies []models.Cookie, u *url.URL, name string) *models.Cookie {
	host := strings.ToLower(u.Hostname())
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}

	var best *models.Cookie
	for i := range cookies {
		c := &cookies[i]
		if c.Name != name || !c.SentTo(host) {
			continue
		}
		if c.Path != "" && !strings.HasPrefix(path, c.Path) {
			continue
		}
		if c.Secure && u.Scheme != "https" {
			continue
		}
		if best == nil || len(c.Domain) > len(best.Domain) || (len(c.Domain) == len(best.Domain) && len(c.Path) > len(best.Path)) {
			best = c
		}
	}
	if best == nil {
		return nil
	}
	found := *best
	return &found
}

// pickActiveURL prefers the most recently active web page, then any web page
// (ordered by id so the fallback is stable)
func pickActiveURL(tabs []tab) string {
	web := make([]tab, 0, len(tabs))
	for _, t := range tabs {
		if strings.HasPrefix(t.url, "http://") || strings.HasPrefix(t.url, "https://") {
			web = append(web, t)
		}
	}
	if len(web) == 0 {
		return ""
	}

	sort.Slice(web, func(i, j int) bool {
		if !web[i].lastActive.Equal(web[j].lastActive) {
			return web[i].lastActive.After(web[j].lastActive)
		}
		return web[i].id < web[j].id
	})
	return web[0].url
}

func flattenHeaders(headers network.Headers) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		switch val := v.(type) {
		case string:
			out[k] = val
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	return out
}
