// Package transport performs the actual HTTP exchanges: one keep-alive
// session per monitored target, browser-shaped headers, explicit credential
// threading, and enough timing detail to audit reservation latency.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/example/secondhand-monitor/internal/credentials"
)

const (
	// Connect fails fast; a slow body is still allowed to complete.
	defaultConnectTimeout = 5 * time.Second
	defaultTotalTimeout   = 10 * time.Second

	// Keep-alive must outlive the poll interval or every poll pays a
	// fresh handshake.
	idleConnTimeout = 90 * time.Second

	maxRedirects = 10
)

// Metrics captures the timing of one exchange.
type Metrics struct {
	TTFB  time.Duration // request start to response headers
	TTLB  time.Duration // request start to last body byte
	Bytes int
}

// Response is a fully-read HTTP response. FinalURL is the URL after all
// redirects, which is how the engine tells a checkout win from a
// marketplace bounce.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	FinalURL   *url.URL
	Metrics    Metrics
}

// RetryAfter returns the server's Retry-After hint, if any.
func (r *Response) RetryAfter() (time.Duration, bool) {
	v := r.Header.Get("Retry-After")
	if v == "" {
		return 0, false
	}
	var secs int
	if _, err := fmt.Sscanf(v, "%d", &secs); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d, true
		}
	}
	return 0, false
}

// Options configure a Client. Zero values get sensible defaults.
type Options struct {
	UserAgent      string
	ConnectTimeout time.Duration
	TotalTimeout   time.Duration
}

// Client is the HTTP session for one target. All calls share one underlying
// transport so connections (and an HTTP/2 stream, when the server offers
// one) are reused across polls.
type Client struct {
	hc      *http.Client
	creds   *credentials.Store
	ua      string
	referer string
}

func New(creds *credentials.Store, opts Options) *Client {
	connect := opts.ConnectTimeout
	if connect <= 0 {
		connect = defaultConnectTimeout
	}
	total := opts.TotalTimeout
	if total <= 0 {
		total = defaultTotalTimeout
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = "secondhand-monitor"
	}

	tr := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   connect,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 5,
		IdleConnTimeout:     idleConnTimeout,
		TLSHandshakeTimeout: connect,
	}

	c := &Client{creds: creds, ua: ua}
	c.hc = &http.Client{
		Transport: tr,
		Timeout:   total,
		// Redirect hops can set cookies (the reservation flow does);
		// apply them and re-attach the merged set on the next hop.
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return errors.New("too many redirects")
			}
			creds.Apply(req.Response)
			creds.Attach(req)
			return nil
		},
	}
	return c
}

// SetReferer sets the Referer sent on subsequent requests. The engine
// points it at the marketplace once discovery completes.
func (c *Client) SetReferer(ref string) { c.referer = ref }

// Get fetches a page. params, when non-nil, replace the URL's query.
func (c *Client) Get(ctx context.Context, rawURL string, params url.Values) (*Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", rawURL, err)
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	c.browserHeaders(req)
	return c.do(req)
}

// PostForm submits a urlencoded form, e.g. the reservation request.
func (c *Client) PostForm(ctx context.Context, rawURL string, form url.Values) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	c.browserHeaders(req)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if c.referer != "" {
		if origin, err := url.Parse(c.referer); err == nil {
			req.Header.Set("Origin", origin.Scheme+"://"+origin.Host)
		}
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) (*Response, error) {
	c.creds.Attach(req)

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	ttfb := time.Since(start)

	body, err := io.ReadAll(resp.Body)
	ttlb := time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("read body from %s: %w", req.URL, err)
	}

	c.creds.Apply(resp)

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
		FinalURL:   resp.Request.URL,
		Metrics: Metrics{
			TTFB:  ttfb,
			TTLB:  ttlb,
			Bytes: len(body),
		},
	}, nil
}

func (c *Client) browserHeaders(req *http.Request) {
	h := req.Header
	h.Set("User-Agent", c.ua)
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	h.Set("Accept-Language", "en-GB,en-US;q=0.9,en;q=0.8")
	h.Set("Upgrade-Insecure-Requests", "1")
	if c.referer != "" {
		h.Set("Referer", c.referer)
	}
}

// CloseIdle drops pooled connections, e.g. on shutdown.
func (c *Client) CloseIdle() {
	if tr, ok := c.hc.Transport.(*http.Transport); ok {
		tr.CloseIdleConnections()
	}
}
