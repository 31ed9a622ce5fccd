package parser

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// parseStructural is the tolerant second stage: a full tree walk that
// survives minor markup drift. Same contract as parseFast, an order of
// magnitude slower.
func parseStructural(html string, pageURL *url.URL) []Listing {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	var listings []Listing
	doc.Find("form[method]").Each(func(_ int, form *goquery.Selection) {
		if !strings.EqualFold(form.AttrOr("method", ""), "post") {
			return
		}
		// Filter/sort forms are GET in the upstream markup, but guard
		// against drift there too.
		if strings.Contains(form.AttrOr("class", ""), "form-inline") {
			return
		}

		action := form.AttrOr("action", "")
		token := ""
		formData := url.Values{}
		form.Find("input[type=hidden], input[name]").Each(func(_ int, in *goquery.Selection) {
			name := in.AttrOr("name", "")
			if name == "" {
				return
			}
			val := in.AttrOr("value", "")
			formData.Set(name, val)
			if name == csrfField {
				token = val
			}
		})

		// Only forms that look like a buy action: either the known path
		// segment or a submit control labelled "buy".
		if !strings.Contains(action, "secondhand/buy/") && !hasBuyControl(form) {
			return
		}

		l, ok := newListing(listingTitle(form), listingPrice(form), action, token, pageURL)
		if !ok {
			return
		}
		// Carry every hidden field, not just the token; drifted markup may
		// have grown required inputs.
		for name, vals := range formData {
			if len(vals) > 0 {
				l.Form.Set(name, vals[0])
			}
		}
		listings = append(listings, l)
	})
	return listings
}

func hasBuyControl(form *goquery.Selection) bool {
	found := false
	form.Find("button, input[type=submit]").Each(func(_ int, s *goquery.Selection) {
		if strings.Contains(strings.ToLower(s.Text()), "buy") ||
			strings.Contains(strings.ToLower(s.AttrOr("value", "")), "buy") {
			found = true
		}
	})
	return found
}

func listingTitle(form *goquery.Selection) string {
	panel := form.Closest("div.panel, div.ticket-listing, article, tr")
	if panel.Length() == 0 {
		panel = form.Parent()
	}
	title := strings.TrimSpace(panel.Find("h3.panel-title").First().Text())
	if title == "" {
		title = strings.TrimSpace(panel.Find("h3, h4, .title").First().Text())
	}
	if title == "" {
		title = "Ticket"
	}
	return title
}

func listingPrice(form *goquery.Selection) string {
	panel := form.Closest("div.panel, div.ticket-listing, article, tr")
	if panel.Length() == 0 {
		panel = form.Parent()
	}
	price := strings.TrimSpace(panel.Find("h2.text-primary").First().Text())
	if price == "" {
		price = strings.TrimSpace(panel.Find(".price").First().Text())
	}
	return price
}
