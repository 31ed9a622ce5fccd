package parser

import (
	"net/url"
	"regexp"
)

var marketplaceLinkPattern = regexp.MustCompile(`(?i)href="([^"]*/secondhand/[^"]*)"`)

// FindMarketplaceLink scans an event landing page for a link into the
// resale marketplace and resolves it against the page URL. Discovery works
// this way on purpose: probing a guessed marketplace URL directly is both
// noisier and wrong-event-prone.
func FindMarketplaceLink(html string, pageURL *url.URL) (string, bool) {
	m := marketplaceLinkPattern.FindStringSubmatch(html)
	if m == nil {
		return "", false
	}
	abs := resolve(pageURL, m[1])
	if abs == "" {
		return "", false
	}
	return abs, true
}
