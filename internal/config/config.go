package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultPollInterval = 15 * time.Second
	DefaultSortOrder    = "price_asc"

	// DefaultUserAgent matches a current desktop Chrome build; marketplace
	// frontends serve different markup to obvious bot agents.
	DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/143.0.0.0 Safari/537.36"
)

var sortOrders = map[string]bool{
	"price_asc":  true,
	"price_desc": true,
	"newest":     true,
	"oldest":     true,
}

// Config is the static configuration for one monitored target. It is built
// once at startup and never mutated mid-run.
type Config struct {
	BaseURL   string
	EventSlug string

	PollInterval     time.Duration
	InactiveInterval time.Duration // 0 = fail instead of waiting for the marketplace

	ItemFilter string
	SortOrder  string

	WebhookURL string
	DryRun     bool

	ResponseDir string
	StateFile   string
	StatePass   string

	MetricsAddr string
	LogLevel    string

	UserAgent string
}

func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL is required")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("base URL must be http(s), got %q", c.BaseURL)
	}
	if c.EventSlug == "" {
		return fmt.Errorf("event slug is required")
	}
	if strings.ContainsAny(c.EventSlug, "/?#") {
		return fmt.Errorf("event slug must be a bare path segment, got %q", c.EventSlug)
	}
	if c.PollInterval < time.Second {
		return fmt.Errorf("poll interval must be at least 1s, got %s", c.PollInterval)
	}
	if c.SortOrder != "" && !sortOrders[c.SortOrder] {
		return fmt.Errorf("unknown sort order %q", c.SortOrder)
	}
	if c.StateFile != "" && c.StatePass == "" {
		return fmt.Errorf("state file requires a passphrase")
	}
	return nil
}

// EventPageURL is the public landing page for the event, the starting point
// for marketplace discovery.
func (c Config) EventPageURL() string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + c.EventSlug + "/"
}

// MarketplacePath is the path segment that identifies the resale
// marketplace, both for link discovery and for loss detection on redirects.
func (c Config) MarketplacePath() string {
	return "/" + c.EventSlug + "/secondhand/"
}

// CheckoutURL is where a winning reservation lands.
func (c Config) CheckoutURL() string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + c.EventSlug + "/checkout/start"
}

func (c Config) Domain() string {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return ""
	}
	return u.Host
}

// PollQuery returns the query parameters sent on each marketplace poll.
func (c Config) PollQuery() url.Values {
	q := url.Values{}
	if c.ItemFilter != "" {
		q.Set("item", c.ItemFilter)
	}
	sort := c.SortOrder
	if sort == "" {
		sort = DefaultSortOrder
	}
	q.Set("sort", sort)
	return q
}

// Redacted returns a view safe for logging.
func (c Config) Redacted() map[string]any {
	return map[string]any{
		"target":           c.EventPageURL(),
		"pollInterval":     c.PollInterval.String(),
		"inactiveInterval": c.InactiveInterval.String(),
		"itemFilter":       c.ItemFilter,
		"sortOrder":        c.SortOrder,
		"webhookSet":       c.WebhookURL != "",
		"dryRun":           c.DryRun,
		"responseDir":      c.ResponseDir,
		"stateFileSet":     c.StateFile != "",
		"metricsAddr":      c.MetricsAddr,
	}
}
