// Package credentials owns the session identity (cookies, CSRF token) for a
// single monitored target. The store is an explicit value threaded through
// every request; there is no ambient cookie jar.
package credentials

import (
	"net/http"
	"sort"
	"strings"
	"time"
)

// HostLockPrefix marks cookies that browsers only accept with a strict
// origin binding (no domain attribute). The tag must survive all the way to
// the handoff payload or the receiving browser silently drops the cookie.
const HostLockPrefix = "__Host-"

// Cookie is one stored cookie plus the replay attributes the handoff needs.
type Cookie struct {
	Name       string
	Value      string
	Secure     bool
	HTTPOnly   bool
	HostLocked bool
}

// Snapshot is an immutable copy of the store, taken at the moment a
// reservation wins. Later store mutations never reach a snapshot.
type Snapshot struct {
	Cookies []Cookie
	CSRF    string
	TakenAt time.Time
}

// Get returns the value of a named cookie in the snapshot.
func (s *Snapshot) Get(name string) (string, bool) {
	for _, c := range s.Cookies {
		if c.Name == name {
			return c.Value, true
		}
	}
	return "", false
}

// Store accumulates cookies and the CSRF token across requests. It is owned
// by exactly one engine; no internal locking.
type Store struct {
	cookies map[string]Cookie
	order   []string // insertion order, for a stable Cookie header
	csrf    string
}

func NewStore() *Store {
	return &Store{cookies: make(map[string]Cookie)}
}

// Apply merges Set-Cookie directives from a response into the store,
// overwriting same-named cookies.
func (s *Store) Apply(resp *http.Response) {
	if resp == nil {
		return
	}
	for _, ck := range resp.Cookies() {
		s.set(Cookie{
			Name:       ck.Name,
			Value:      ck.Value,
			Secure:     ck.Secure,
			HTTPOnly:   ck.HttpOnly,
			HostLocked: strings.HasPrefix(ck.Name, HostLockPrefix),
		})
	}
}

func (s *Store) set(c Cookie) {
	if _, seen := s.cookies[c.Name]; !seen {
		s.order = append(s.order, c.Name)
	}
	s.cookies[c.Name] = c
}

// Attach injects the current cookie set into an outgoing request. The CSRF
// token travels in the form body, not here; see parser.Listing.Form.
func (s *Store) Attach(req *http.Request) {
	h := s.CookieHeader()
	if h != "" {
		req.Header.Set("Cookie", h)
	}
}

// CookieHeader renders the stored cookies in insertion order.
func (s *Store) CookieHeader() string {
	if len(s.cookies) == 0 {
		return ""
	}
	var b strings.Builder
	for i, name := range s.order {
		if i > 0 {
			b.WriteString("; ")
		}
		c := s.cookies[name]
		b.WriteString(c.Name)
		b.WriteByte('=')
		b.WriteString(c.Value)
	}
	return b.String()
}

// UpdateCSRF records the CSRF token most recently seen in page content.
func (s *Store) UpdateCSRF(token string) {
	if token != "" {
		s.csrf = token
	}
}

func (s *Store) CSRF() string { return s.csrf }

// Get returns the value of a named cookie, e.g. the session cookie for
// per-poll logging.
func (s *Store) Get(name string) (string, bool) {
	c, ok := s.cookies[name]
	return c.Value, ok
}

func (s *Store) Len() int { return len(s.cookies) }

// Snapshot returns a deep copy safe for handoff. Cookies are ordered by
// insertion so repeated snapshots of the same state compare equal.
func (s *Store) Snapshot() *Snapshot {
	snap := &Snapshot{
		CSRF:    s.csrf,
		TakenAt: time.Now(),
		Cookies: make([]Cookie, 0, len(s.cookies)),
	}
	for _, name := range s.order {
		snap.Cookies = append(snap.Cookies, s.cookies[name])
	}
	return snap
}

// SessionCookieName guesses the session cookie for logging: prefer a
// host-locked session cookie, otherwise the first cookie containing
// "session" (case-insensitive).
func (s *Store) SessionCookieName() string {
	names := make([]string, 0, len(s.cookies))
	for _, n := range s.order {
		names = append(names, n)
	}
	sort.SliceStable(names, func(i, j int) bool {
		return strings.HasPrefix(names[i], HostLockPrefix) && !strings.HasPrefix(names[j], HostLockPrefix)
	})
	for _, n := range names {
		if strings.Contains(strings.ToLower(n), "session") {
			return n
		}
	}
	return ""
}
