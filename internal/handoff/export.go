package handoff

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Cookie file exporters for completing checkout from another machine or a
// cookie-importing browser extension.

// WriteNetscape writes cookies in the classic Netscape cookies.txt format.
func WriteNetscape(path, domain string, entries []CookieEntry) error {
	var b strings.Builder
	b.WriteString("# Netscape HTTP Cookie File\n")
	for _, e := range entries {
		// domain, include-subdomains, path, secure, expiry, name, value
		fmt.Fprintf(&b, "%s\t%s\t/\tTRUE\t0\t%s\t%s\n", domain, "TRUE", e.Name, e.Value)
	}
	return os.WriteFile(path, []byte(b.String()), 0o600)
}

// WriteJSON writes cookies for programmatic browser-context injection.
// Host-locked cookies carry a url binding instead of a domain attribute;
// injecting them with a domain makes the browser drop them silently.
func WriteJSON(path, baseURL, domain string, entries []CookieEntry) error {
	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		m := map[string]any{
			"name":     e.Name,
			"value":    e.Value,
			"path":     "/",
			"secure":   true,
			"httpOnly": e.HTTPOnly,
		}
		if e.HostLocked {
			m["url"] = strings.TrimRight(baseURL, "/") + "/"
		} else {
			m["domain"] = domain
		}
		out = append(out, m)
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}
