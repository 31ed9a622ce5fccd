// Package monitor drives the whole run: discover the marketplace, poll it,
// reserve the first listing that appears, verify the result, and hand off
// the winning session exactly once.
package monitor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/secondhand-monitor/internal/artifacts"
	"github.com/example/secondhand-monitor/internal/backoff"
	"github.com/example/secondhand-monitor/internal/config"
	"github.com/example/secondhand-monitor/internal/credentials"
	"github.com/example/secondhand-monitor/internal/handoff"
	"github.com/example/secondhand-monitor/internal/metrics"
	"github.com/example/secondhand-monitor/internal/parser"
	"github.com/example/secondhand-monitor/internal/transport"
)

// How many consecutive reservation-phase errors before the run is declared
// dead rather than unlucky.
const maxReserveFailures = 3

// Patterns stripped before fingerprinting the "no tickets" page, so page
// metadata churn doesn't look like inventory.
var dynamicPatterns = []*regexp.Regexp{
	regexp.MustCompile(`data-now="[^"]*"`),
	regexp.MustCompile(`name="csrfmiddlewaretoken" value="[^"]*"`),
	regexp.MustCompile(`\?version=[a-f0-9-]+`),
}

// Engine owns all mutable run state. One engine per target; nothing is
// shared across targets.
type Engine struct {
	cfg    config.Config
	client *transport.Client
	creds  *credentials.Store
	delay  *backoff.Controller
	sink   handoff.Sink
	saver  *artifacts.Saver
	log    zerolog.Logger

	state          State
	marketplaceURL *url.URL
	baseline       string
	reqCount       int
	reserveErrs    int

	delivered bool
	done      bool
	outcome   Outcome
}

func New(cfg config.Config, client *transport.Client, creds *credentials.Store, sink handoff.Sink, saver *artifacts.Saver, log zerolog.Logger) *Engine {
	return &Engine{
		cfg:    cfg,
		client: client,
		creds:  creds,
		delay:  backoff.New(cfg.PollInterval),
		sink:   sink,
		saver:  saver,
		log:    log,
		state:  StateDiscovering,
	}
}

// Run executes the full state machine and returns the terminal outcome.
// Calling Run again after it has finished returns the same outcome without
// side effects; the handoff is never emitted twice.
func (e *Engine) Run(ctx context.Context) Outcome {
	if e.done {
		return e.outcome
	}
	e.outcome = e.run(ctx)
	e.done = true
	e.state = e.outcome.State
	return e.outcome
}

func (e *Engine) run(ctx context.Context) Outcome {
	mkt, err := e.discover(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return failed(ReasonCancelled)
		}
		if e.cfg.InactiveInterval <= 0 {
			e.log.Error().Str("page", e.cfg.EventPageURL()).Err(err).Msg("discovery failed")
			if errors.Is(err, errLinkMissing) {
				return failed(ReasonLinkNotFound)
			}
			return failed("discovery failed: " + err.Error())
		}
		mkt, err = e.waitForMarketplace(ctx)
		if err != nil {
			return failed(ReasonCancelled)
		}
	}

	e.marketplaceURL = mkt
	e.client.SetReferer(mkt.String())
	e.setState(StatePolling)
	if name := e.creds.SessionCookieName(); name != "" {
		val, _ := e.creds.Get(name)
		e.log.Info().Str("cookie", name).Str("value", val).Msg("session established")
	}
	e.log.Info().Str("marketplace", mkt.String()).Msg("monitoring marketplace")

	for {
		if ctx.Err() != nil {
			return failed(ReasonCancelled)
		}
		outcome, wait, terminal := e.pollOnce(ctx)
		if terminal {
			return outcome
		}
		metrics.BackoffSeconds.Set(wait.Seconds())
		if e.delay.Failures() > 0 {
			e.log.Info().Dur("wait", wait).Int("failures", e.delay.Failures()).Msg("backing off")
		}
		if !e.sleep(ctx, wait) {
			return failed(ReasonCancelled)
		}
	}
}

// pollOnce runs one poll cycle. When the returned terminal flag is false,
// the second value is the delay before the next cycle.
func (e *Engine) pollOnce(ctx context.Context) (Outcome, time.Duration, bool) {
	start := time.Now()
	resp, err := e.client.Get(ctx, e.marketplaceURL.String(), e.cfg.PollQuery())
	if err != nil {
		if ctx.Err() != nil {
			return failed(ReasonCancelled), 0, true
		}
		metrics.PollsTotal.WithLabelValues("error").Inc()
		e.log.Warn().Err(err).Msg("poll request failed")
		return Outcome{}, e.delay.Next(0, 0), false
	}
	metrics.PollDuration.Observe(time.Since(start).Seconds())
	e.reqCount++

	if resp.StatusCode != 200 {
		retryAfter, _ := resp.RetryAfter()
		metrics.PollsTotal.WithLabelValues(metricResult(resp.StatusCode)).Inc()
		e.logPoll(resp, statusResult(resp.StatusCode))
		e.saver.SaveResponse(e.reqCount, resp.StatusCode, resp.Body)
		return Outcome{}, e.delay.Next(resp.StatusCode, retryAfter), false
	}

	page := parser.Parse(string(resp.Body), resp.FinalURL)
	if page.Fallback {
		e.log.Warn().Int("listings", len(page.Listings)).Msg("fast parse found nothing; structural fallback used")
	}
	e.creds.UpdateCSRF(page.CSRF)

	if len(page.Listings) == 0 {
		result := "no tickets"
		if !page.SoldOut || !e.matchesBaseline(string(resp.Body)) {
			result = "no tickets (unusual)"
			e.saver.SaveResponse(e.reqCount, resp.StatusCode, resp.Body)
		}
		metrics.PollsTotal.WithLabelValues("empty").Inc()
		e.logPoll(resp, result)
		return Outcome{}, e.delay.Next(resp.StatusCode, 0), false
	}

	metrics.PollsTotal.WithLabelValues("listings").Inc()
	e.logPoll(resp, "TICKETS FOUND")
	e.saver.SaveResponse(e.reqCount, resp.StatusCode, resp.Body)
	return e.reserve(ctx, page.Listings)
}

// reserve fires the reservation POST for the first listing in document
// order and classifies the result from the final redirect target. Only one
// listing per poll; racing several reservations from one session helps
// nobody.
func (e *Engine) reserve(ctx context.Context, listings []parser.Listing) (Outcome, time.Duration, bool) {
	listing := listings[0]
	e.setState(StateReserving)
	e.log.Info().Str("ticket", listing.TicketType).Str("price", listing.Price).Str("action", listing.Action).Msg("reserving")
	for _, other := range listings[1:] {
		e.log.Info().Str("ticket", other.TicketType).Str("price", other.Price).Msg("also available")
	}

	if e.cfg.DryRun {
		return e.won(ctx, listing, e.cfg.CheckoutURL()), 0, true
	}

	cookieHeader := e.creds.CookieHeader()
	resp, err := e.client.PostForm(ctx, listing.Action, listing.Form)
	if err != nil {
		if ctx.Err() != nil {
			return failed(ReasonCancelled), 0, true
		}
		if out, fatal := e.reserveError(0, err); fatal {
			return out, 0, true
		}
		return Outcome{}, e.delay.Next(0, 0), false
	}

	e.saver.SaveExchange(artifacts.Exchange{
		URL:        listing.Action,
		Form:       listing.Form,
		CookieSent: cookieHeader,
		Status:     resp.StatusCode,
		FinalURL:   resp.FinalURL.String(),
		Header:     resp.Header,
		Body:       resp.Body,
	})

	e.setState(StateVerifying)
	switch classify(resp, e.cfg.MarketplacePath()) {
	case verdictWon:
		return e.won(ctx, listing, resp.FinalURL.String()), 0, true

	case verdictLost:
		// Expected outcome of racing, not a defect.
		metrics.ReservationsTotal.WithLabelValues("lost").Inc()
		e.log.Info().Str("ticket", listing.TicketType).Msg("listing already taken; resuming polling")
		e.reserveErrs = 0
		e.setState(StatePolling)
		return Outcome{}, e.delay.JitterAround(e.cfg.PollInterval), false

	case verdictAuthFailure:
		metrics.ReservationsTotal.WithLabelValues("error").Inc()
		e.log.Error().Int("status", resp.StatusCode).Msg("reservation rejected as unauthenticated")
		return failed(ReasonAuthFailure), 0, true

	default:
		retryAfter, _ := resp.RetryAfter()
		if out, fatal := e.reserveError(resp.StatusCode, nil); fatal {
			return out, 0, true
		}
		return Outcome{}, e.delay.Next(resp.StatusCode, retryAfter), false
	}
}

func (e *Engine) reserveError(status int, err error) (Outcome, bool) {
	metrics.ReservationsTotal.WithLabelValues("error").Inc()
	e.reserveErrs++
	ev := e.log.Warn().Int("status", status).Int("consecutive", e.reserveErrs)
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Msg("reservation attempt failed")

	if e.reserveErrs >= maxReserveFailures {
		return failed(ReasonRepeatedErr), true
	}
	e.setState(StatePolling)
	return Outcome{}, false
}

// won snapshots credentials before anything else can touch the store, then
// delivers the handoff payload exactly once.
func (e *Engine) won(ctx context.Context, listing parser.Listing, checkoutURL string) Outcome {
	snap := e.creds.Snapshot()
	metrics.ReservationsTotal.WithLabelValues("won").Inc()
	e.log.Info().Str("checkout", checkoutURL).Msg("reservation won")

	if !e.delivered {
		e.delivered = true
		payload := handoff.NewPayload(e.marketplaceURL.String(), e.cfg.EventSlug, listing, checkoutURL, snap)
		if err := e.sink.Deliver(ctx, payload); err != nil {
			// The reservation is held regardless; the operator still has
			// the console record.
			e.log.Error().Err(err).Msg("handoff delivery failed")
		}
	}

	return Outcome{
		State:       StateSucceeded,
		Listing:     &listing,
		CheckoutURL: checkoutURL,
		Credentials: snap,
	}
}

type verdict int

const (
	verdictWon verdict = iota
	verdictLost
	verdictAuthFailure
	verdictUnclear
)

// classify decides win/loss from the final redirect target alone. The body
// is irrelevant; the server's routing is the source of truth.
func classify(resp *transport.Response, marketplacePath string) verdict {
	path := resp.FinalURL.Path
	switch {
	case strings.Contains(path, "/checkout"):
		return verdictWon
	case marketplacePath != "" && strings.Contains(path, marketplacePath):
		return verdictLost
	case resp.StatusCode == 401 || resp.StatusCode == 403:
		return verdictAuthFailure
	default:
		return verdictUnclear
	}
}

func (e *Engine) setState(s State) {
	if e.state != s {
		e.log.Debug().Str("from", e.state.String()).Str("to", s.String()).Msg("state transition")
		e.state = s
	}
}

// sleep waits out a delay, abandoning it promptly on cancellation.
func (e *Engine) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// matchesBaseline compares a sold-out page against the first sold-out page
// seen, after stripping dynamic content. A mismatch means the page changed
// in a way the parser didn't recognize, which is worth keeping for
// diagnosis.
func (e *Engine) matchesBaseline(html string) bool {
	for _, p := range dynamicPatterns {
		html = p.ReplaceAllString(html, "")
	}
	sum := sha256.Sum256([]byte(html))
	fp := hex.EncodeToString(sum[:])

	if e.baseline == "" {
		e.baseline = fp
		e.log.Debug().Str("fingerprint", fp[:8]).Msg("baseline page fingerprint set")
		return true
	}
	return e.baseline == fp
}

func (e *Engine) logPoll(resp *transport.Response, result string) {
	session := ""
	if name := e.creds.SessionCookieName(); name != "" {
		session, _ = e.creds.Get(name)
	}
	e.log.Info().
		Int("req", e.reqCount).
		Int("status", resp.StatusCode).
		Dur("ttfb", resp.Metrics.TTFB).
		Dur("ttlb", resp.Metrics.TTLB).
		Int("bytes", resp.Metrics.Bytes).
		Str("session", truncate(session, 32)).
		Str("result", result).
		Msg("poll")
}

func metricResult(status int) string {
	if status == 429 || status == 409 {
		return "throttled"
	}
	return "error"
}

func statusResult(status int) string {
	switch status {
	case 429:
		return "rate limited"
	case 409:
		return "lock contention"
	default:
		return "HTTP error"
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
