package parser

import (
	"fmt"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pageURL(t *testing.T) *url.URL {
	t.Helper()
	u, err := url.Parse("https://tickets.example.com/event/secondhand/")
	require.NoError(t, err)
	return u
}

func panel(ticketType, price, action, token string) string {
	return fmt.Sprintf(`
<div class="panel panel-default">
  <div class="panel-heading"><h3 class="panel-title">%s</h3></div>
  <div class="panel-body">
    <h2 class="text-primary">%s</h2>
    <form method="post" action="%s">
      <input type="hidden" name="csrfmiddlewaretoken" value="%s">
      <button type="submit" class="btn btn-primary">Buy</button>
    </form>
  </div>
</div>`, ticketType, price, action, token)
}

const soldOutPage = `<!DOCTYPE html>
<html><body><main id="content">
<h2>Ticket Marketplace</h2>
<form class="form-inline text-right" method="get">
  <select name="sort"><option value="price_asc">Price</option></select>
</form>
<input type="hidden" name="csrfmiddlewaretoken" value="page-token">
<div class="alert alert-warning">No tickets available at the moment. Check back later!</div>
</main></body></html>`

func wrap(panels ...string) string {
	body := `<!DOCTYPE html><html><body><main id="content"><h2>Ticket Marketplace</h2>
<div class="panel panel-info"><div class="panel-heading"><h3 class="panel-title">How it works</h3></div></div>`
	for _, p := range panels {
		body += p
	}
	return body + "</main></body></html>"
}

func TestParseSoldOut(t *testing.T) {
	res := Parse(soldOutPage, pageURL(t))

	assert.True(t, res.SoldOut)
	assert.Empty(t, res.Listings)
	assert.False(t, res.Fallback)
	assert.Equal(t, "page-token", res.CSRF)
}

func TestParseCountsEveryWellFormedPanel(t *testing.T) {
	html := wrap(
		panel("Ticket – Type A", "190.00 EUR", "/event/secondhand/buy/abc123/", "tok-1"),
		panel("Ticket – Type B", "220.00 EUR", "/event/secondhand/buy/def456/", "tok-2"),
	)

	res := Parse(html, pageURL(t))

	require.Len(t, res.Listings, 2)
	assert.False(t, res.Fallback)

	first := res.Listings[0]
	assert.Equal(t, "Ticket – Type A", first.TicketType)
	assert.Equal(t, "190.00 EUR", first.Price)
	assert.Equal(t, "https://tickets.example.com/event/secondhand/buy/abc123/", first.Action)
	assert.Equal(t, "tok-1", first.CSRFToken)
	assert.Equal(t, "tok-1", first.Form.Get("csrfmiddlewaretoken"))

	assert.Equal(t, "https://tickets.example.com/event/secondhand/buy/def456/", res.Listings[1].Action)
	assert.Equal(t, "tok-1", res.CSRF)
}

func TestParseDropsMalformedPanelOnly(t *testing.T) {
	broken := `
<div class="panel panel-default">
  <div class="panel-heading"><h3 class="panel-title">Broken</h3></div>
  <div class="panel-body">
    <h2 class="text-primary">99.00 EUR</h2>
    <form method="post" action="/event/secondhand/buy/broken/">
      <button type="submit">Buy</button>
    </form>
  </div>
</div>`
	html := wrap(
		broken,
		panel("Ticket – Type B", "220.00 EUR", "/event/secondhand/buy/def456/", "tok-2"),
	)

	res := Parse(html, pageURL(t))

	require.Len(t, res.Listings, 1)
	assert.Equal(t, "Ticket – Type B", res.Listings[0].TicketType)
	assert.Equal(t, "tok-2", res.Listings[0].CSRFToken)
}

func TestParseIsIdempotent(t *testing.T) {
	html := wrap(panel("Ticket", "50.00 EUR", "/event/secondhand/buy/x/", "tok"))

	a := Parse(html, pageURL(t))
	b := Parse(html, pageURL(t))
	assert.Equal(t, a, b)
}

func TestParseAbsoluteActionStaysAbsolute(t *testing.T) {
	html := wrap(panel("Ticket", "50.00 EUR", "https://other.example.com/event/secondhand/buy/x/", "tok"))

	res := Parse(html, pageURL(t))
	require.Len(t, res.Listings, 1)
	assert.Equal(t, "https://other.example.com/event/secondhand/buy/x/", res.Listings[0].Action)
}

func TestParseFallbackOnDriftedMarkup(t *testing.T) {
	// Panel classes renamed and form attributes reordered: the fast path
	// sees nothing, the structural walk still finds the buy form.
	html := `<!DOCTYPE html><html><body>
<div class="listing-card ticket-listing">
  <h4 class="title">Ticket – Type A</h4>
  <span class="price">190.00 EUR</span>
  <form action="/event/secondhand/buy/abc123/" method="post">
    <div class="quantity"><label>Qty</label></div>
    <input type="hidden" name="csrfmiddlewaretoken" value="tok-1">
    <input type="hidden" name="count" value="1">
    <button type="submit">Buy now</button>
  </form>
</div>
</body></html>`

	res := Parse(html, pageURL(t))

	assert.True(t, res.Fallback)
	require.Len(t, res.Listings, 1)
	l := res.Listings[0]
	assert.Equal(t, "https://tickets.example.com/event/secondhand/buy/abc123/", l.Action)
	assert.Equal(t, "tok-1", l.CSRFToken)
	assert.Equal(t, "1", l.Form.Get("count"))
}

func TestParseFallbackSkipsFormsWithoutToken(t *testing.T) {
	html := `<html><body>
<form method="post" action="/event/secondhand/buy/x/"><button>Buy</button></form>
</body></html>`

	res := Parse(html, pageURL(t))
	assert.True(t, res.Fallback)
	assert.Empty(t, res.Listings)
}

func TestParseEmptyDocument(t *testing.T) {
	res := Parse("", pageURL(t))
	assert.Empty(t, res.Listings)
	assert.False(t, res.SoldOut)
}

func TestFindMarketplaceLink(t *testing.T) {
	landing, err := url.Parse("https://tickets.example.com/event/")
	require.NoError(t, err)

	tests := []struct {
		name string
		html string
		want string
		ok   bool
	}{
		{
			name: "relative link",
			html: `<a class="btn" href="/event/secondhand/">Ticket marketplace</a>`,
			want: "https://tickets.example.com/event/secondhand/",
			ok:   true,
		},
		{
			name: "absolute link",
			html: `<a href="https://tickets.example.com/event/secondhand/?sort=newest">marketplace</a>`,
			want: "https://tickets.example.com/event/secondhand/?sort=newest",
			ok:   true,
		},
		{
			name: "no link",
			html: `<a href="/event/waitinglist/">Waiting list</a>`,
			ok:   false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := FindMarketplaceLink(tt.html, landing)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}
