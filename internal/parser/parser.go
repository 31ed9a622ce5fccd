// Package parser extracts resale listings and the marketplace link from
// uncontrolled HTML. Parsing sits on the reservation-latency critical path,
// so the primary strategy is a handful of anchored patterns over the raw
// text; a full goquery parse only runs when the patterns come up empty on a
// page that should have matched.
package parser

import (
	"net/url"
	"regexp"
	"strings"
)

// SoldOutMarker is the sentinel text on an empty-marketplace page.
const SoldOutMarker = "No tickets available"

const csrfField = "csrfmiddlewaretoken"

// panelAnchor marks the start of a listing panel. The "How it works" panel
// is panel-info, so splitting on this anchor keeps only listing candidates,
// and confines each pattern match to its own panel.
const panelAnchor = `<div class="panel panel-default">`

var (
	panelPattern = regexp.MustCompile(`(?is)<h3 class="panel-title">([^<]+)</h3>` + // ticket type
		`.*?<h2 class="text-primary">([^<]+)</h2>` + // price
		`.*?<form[^>]*action="([^"]*secondhand/buy/[^"]*)"[^>]*>` + // form action
		`.*?name="csrfmiddlewaretoken"[^>]*value="([^"]*)"`) // CSRF token

	// Bare buy form, for panels whose headings drifted but whose form is
	// intact.
	buyFormPattern = regexp.MustCompile(`(?is)<form[^>]*method="post"[^>]*action="([^"]*secondhand/buy/[^"]*)"[^>]*>` +
		`[^<]*<input[^>]*name="csrfmiddlewaretoken"[^>]*value="([^"]*)"`)

	csrfInputPattern = regexp.MustCompile(`name="csrfmiddlewaretoken" value="([^"]*)"`)
)

// Listing is one reservable ticket offer. Identified by its Action URL;
// re-derived on every poll and never persisted.
type Listing struct {
	TicketType string
	Price      string
	Action     string // absolute reservation URL
	CSRFToken  string
	Form       url.Values // body for the reservation POST
}

// Result of parsing one marketplace page. Parsing the same document twice
// yields equal results; there is no parser state.
type Result struct {
	SoldOut  bool
	Listings []Listing
	CSRF     string // page-level token, present even on sold-out pages
	Fallback bool   // the structural parser had to run
}

// Parse extracts listings from a marketplace page. pageURL is the page's
// own URL (after redirects) and anchors relative form actions.
func Parse(html string, pageURL *url.URL) Result {
	// Sold-out sentinel first: the common case, and the cheapest.
	if strings.Contains(html, SoldOutMarker) {
		res := Result{SoldOut: true}
		if m := csrfInputPattern.FindStringSubmatch(html); m != nil {
			res.CSRF = m[1]
		}
		return res
	}

	if strings.Contains(html, "/secondhand/buy/") {
		if listings := parseFast(html, pageURL); len(listings) > 0 {
			return Result{Listings: listings, CSRF: listings[0].CSRFToken}
		}
	}

	// Non-empty page, no sentinel, no fast-path match: either markup
	// drifted or the page is something else entirely. Walk the tree.
	listings := parseStructural(html, pageURL)
	res := Result{Listings: listings, Fallback: true}
	if len(listings) > 0 {
		res.CSRF = listings[0].CSRFToken
	} else if m := csrfInputPattern.FindStringSubmatch(html); m != nil {
		res.CSRF = m[1]
	}
	return res
}

func parseFast(html string, pageURL *url.URL) []Listing {
	var listings []Listing
	chunks := strings.Split(html, panelAnchor)
	for _, chunk := range chunks[1:] {
		// One match per panel chunk; a malformed panel drops out on its
		// own without disturbing its neighbours.
		m := panelPattern.FindStringSubmatch(chunk)
		if m == nil {
			continue
		}
		l, ok := newListing(strings.TrimSpace(m[1]), strings.TrimSpace(m[2]), m[3], m[4], pageURL)
		if ok {
			listings = append(listings, l)
		}
	}
	if listings != nil {
		return listings
	}
	for _, m := range buyFormPattern.FindAllStringSubmatch(html, -1) {
		l, ok := newListing("Ticket", "", m[1], m[2], pageURL)
		if ok {
			listings = append(listings, l)
		}
	}
	return listings
}

// newListing validates and assembles a listing. Missing action or token
// drops the panel; a broken panel must not take down the whole poll.
func newListing(ticketType, price, action, token string, pageURL *url.URL) (Listing, bool) {
	abs := resolve(pageURL, action)
	if abs == "" || token == "" {
		return Listing{}, false
	}
	form := url.Values{}
	form.Set(csrfField, token)
	return Listing{
		TicketType: ticketType,
		Price:      price,
		Action:     abs,
		CSRFToken:  token,
		Form:       form,
	}, true
}

// resolve makes action absolute relative to the page it came from.
func resolve(pageURL *url.URL, action string) string {
	action = strings.TrimSpace(action)
	if action == "" {
		return ""
	}
	ref, err := url.Parse(action)
	if err != nil {
		return ""
	}
	if pageURL == nil {
		if ref.IsAbs() {
			return ref.String()
		}
		return ""
	}
	return pageURL.ResolveReference(ref).String()
}
