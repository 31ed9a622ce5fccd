package handoff

import (
	"context"

	"github.com/rs/zerolog"
)

// ConsoleSink logs the full handoff so the session survives in terminal
// history even when every other delivery path fails.
type ConsoleSink struct {
	Log zerolog.Logger
}

func (c ConsoleSink) Deliver(_ context.Context, p *Payload) error {
	c.Log.Info().
		Str("ticket", p.TicketType).
		Str("price", p.Price).
		Str("checkout", p.CheckoutURL).
		Msg("RESERVATION WON - complete checkout now")

	for _, e := range p.Cookies {
		ev := c.Log.Info().Str("cookie", e.Name).Str("value", e.Value)
		if e.HostLocked {
			ev = ev.Bool("host_locked", true)
		}
		ev.Msg("session cookie")
	}

	c.Log.Info().Msg("cookie injection (paste in the browser console on the target origin):")
	c.Log.Info().Msg(p.CookieScript)
	return nil
}
