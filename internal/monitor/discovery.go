package monitor

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/example/secondhand-monitor/internal/parser"
)

var errLinkMissing = errors.New("no marketplace link on event page")

// discover fetches the event landing page and looks for the marketplace
// link. The landing fetch also seeds the credential store with the
// session cookies a browser would have.
func (e *Engine) discover(ctx context.Context) (*url.URL, error) {
	e.setState(StateDiscovering)
	e.log.Info().Str("page", e.cfg.EventPageURL()).Msg("checking event page")

	resp, err := e.client.Get(ctx, e.cfg.EventPageURL(), nil)
	if err != nil {
		return nil, fmt.Errorf("event page: %w", err)
	}
	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("event page: HTTP %d", resp.StatusCode)
	}

	link, ok := parser.FindMarketplaceLink(string(resp.Body), resp.FinalURL)
	if !ok {
		return nil, errLinkMissing
	}
	u, err := url.Parse(link)
	if err != nil {
		return nil, fmt.Errorf("marketplace link %q: %w", link, err)
	}
	e.log.Info().Str("marketplace", u.String()).Msg("found marketplace")
	return u, nil
}

// waitForMarketplace re-checks the landing page on the inactive interval
// until the link appears. A closed marketplace is a legitimate not-yet-open
// state, so there is no retry cap; only cancellation ends the wait.
func (e *Engine) waitForMarketplace(ctx context.Context) (*url.URL, error) {
	e.setState(StateWaiting)
	e.log.Info().
		Dur("interval", e.cfg.InactiveInterval).
		Msg("marketplace not yet available; waiting for the link to appear")

	attempt := 0
	for {
		if !e.sleep(ctx, e.delay.JitterAround(e.cfg.InactiveInterval)) {
			return nil, ctx.Err()
		}
		attempt++

		u, err := e.discover(ctx)
		if err == nil {
			e.log.Info().Int("attempts", attempt).Msg("marketplace is now available")
			return u, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		e.setState(StateWaiting)
		e.log.Info().Int("attempt", attempt).Err(err).Msg("not yet available")
	}
}
