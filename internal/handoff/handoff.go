// Package handoff carries a won reservation to a human: the checkout URL
// plus everything a browser needs to impersonate the winning session.
package handoff

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/example/secondhand-monitor/internal/credentials"
	"github.com/example/secondhand-monitor/internal/parser"
)

// CookieEntry is one cookie for browser injection. HostLocked entries must
// be bound by exact URL, never by domain attribute, or the browser rejects
// them.
type CookieEntry struct {
	Name       string `json:"name"`
	Value      string `json:"value"`
	HostLocked bool   `json:"host_locked"`
	Secure     bool   `json:"secure"`
	HTTPOnly   bool   `json:"http_only"`
}

// Payload is the one record emitted when a reservation wins.
type Payload struct {
	Timestamp    time.Time     `json:"timestamp"`
	Target       string        `json:"target"`
	Event        string        `json:"event"`
	TicketType   string        `json:"ticket"`
	Price        string        `json:"price"`
	CheckoutURL  string        `json:"checkout_url"`
	Cookies      []CookieEntry `json:"cookies"`
	CookieScript string        `json:"cookie_script"`
}

// Sink receives the payload. Delivery mechanics are the caller's business;
// the engine only promises to call Deliver exactly once per run.
type Sink interface {
	Deliver(ctx context.Context, p *Payload) error
}

// NewPayload assembles the handoff record from a winning listing and the
// credential snapshot taken at the moment of the win.
func NewPayload(target, event string, listing parser.Listing, checkoutURL string, snap *credentials.Snapshot) *Payload {
	entries := Entries(snap)
	return &Payload{
		Timestamp:    snap.TakenAt,
		Target:       target,
		Event:        event,
		TicketType:   listing.TicketType,
		Price:        listing.Price,
		CheckoutURL:  checkoutURL,
		Cookies:      entries,
		CookieScript: CookieScript(entries),
	}
}

// Entries converts a credential snapshot into injectable cookie entries.
func Entries(snap *credentials.Snapshot) []CookieEntry {
	entries := make([]CookieEntry, 0, len(snap.Cookies))
	for _, c := range snap.Cookies {
		entries = append(entries, CookieEntry{
			Name:       c.Name,
			Value:      c.Value,
			HostLocked: c.HostLocked,
			Secure:     c.Secure,
			HTTPOnly:   c.HTTPOnly,
		})
	}
	return entries
}

// CookieScript builds a paste-into-console script using the cookieStore
// API, which (unlike document.cookie) can set host-locked cookies.
func CookieScript(entries []CookieEntry) string {
	var sets []string
	for _, e := range entries {
		sets = append(sets, fmt.Sprintf(
			`  await cookieStore.set({name: %q, value: %q, path: "/", secure: true, sameSite: "lax"})`,
			e.Name, e.Value))
	}
	return "(async () => {\n" + strings.Join(sets, ";\n") + ";\n  location.reload();\n})()"
}

type multiSink []Sink

// Sinks fans one delivery out to several sinks. Every sink gets a chance;
// errors are joined.
func Sinks(sinks ...Sink) Sink {
	return multiSink(sinks)
}

func (m multiSink) Deliver(ctx context.Context, p *Payload) error {
	var errs []string
	for _, s := range m {
		if err := s.Deliver(ctx, p); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("handoff delivery: %s", strings.Join(errs, "; "))
	}
	return nil
}
