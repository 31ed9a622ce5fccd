package handoff

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/secondhand-monitor/internal/credentials"
	"github.com/example/secondhand-monitor/internal/parser"
)

func testSnapshot() *credentials.Snapshot {
	return &credentials.Snapshot{
		TakenAt: time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC),
		CSRF:    "tok-1",
		Cookies: []credentials.Cookie{
			{Name: "__Host-session", Value: "sess-1", Secure: true, HTTPOnly: true, HostLocked: true},
			{Name: "csrftoken", Value: "tok-1"},
		},
	}
}

func TestNewPayload(t *testing.T) {
	listing := parser.Listing{TicketType: "Ticket – Type A", Price: "190.00 EUR"}
	p := NewPayload("https://tickets.example.com/event/secondhand/", "event", listing,
		"https://tickets.example.com/event/checkout/start", testSnapshot())

	assert.Equal(t, "Ticket – Type A", p.TicketType)
	assert.Equal(t, "190.00 EUR", p.Price)
	assert.Equal(t, "event", p.Event)
	require.Len(t, p.Cookies, 2)
	assert.True(t, p.Cookies[0].HostLocked)
	assert.NotEmpty(t, p.CookieScript)
}

func TestCookieScript(t *testing.T) {
	script := CookieScript(Entries(testSnapshot()))

	assert.True(t, strings.HasPrefix(script, "(async () => {"))
	assert.Contains(t, script, `cookieStore.set({name: "__Host-session", value: "sess-1"`)
	assert.Contains(t, script, `cookieStore.set({name: "csrftoken", value: "tok-1"`)
	assert.Contains(t, script, "location.reload()")
	assert.True(t, strings.HasSuffix(script, "})()"))
}

func TestWebhookSinkDelivers(t *testing.T) {
	var got Payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	listing := parser.Listing{TicketType: "Ticket", Price: "50.00 EUR"}
	p := NewPayload("target", "event", listing, "https://t/checkout/start", testSnapshot())

	require.NoError(t, NewWebhookSink(srv.URL).Deliver(context.Background(), p))

	assert.Equal(t, "Ticket", got.TicketType)
	assert.Equal(t, "https://t/checkout/start", got.CheckoutURL)
	require.Len(t, got.Cookies, 2)
	assert.Equal(t, "__Host-session", got.Cookies[0].Name)
	assert.True(t, got.Cookies[0].HostLocked)
}

func TestWebhookSinkRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhookSink(srv.URL).Deliver(context.Background(), &Payload{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

type sinkFunc func(context.Context, *Payload) error

func (f sinkFunc) Deliver(ctx context.Context, p *Payload) error { return f(ctx, p) }

func TestSinksFanOutAndJoinErrors(t *testing.T) {
	var first, second int
	ok := sinkFunc(func(context.Context, *Payload) error { first++; return nil })
	bad := sinkFunc(func(context.Context, *Payload) error { second++; return errors.New("boom") })

	err := Sinks(ok, bad, ok).Deliver(context.Background(), &Payload{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	// Every sink ran despite the middle one failing.
	assert.Equal(t, 2, first)
	assert.Equal(t, 1, second)
}

func TestWriteNetscape(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cookies.txt")
	require.NoError(t, WriteNetscape(path, "tickets.example.com", Entries(testSnapshot())))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "# Netscape HTTP Cookie File", lines[0])
	assert.Equal(t, "tickets.example.com\tTRUE\t/\tTRUE\t0\t__Host-session\tsess-1", lines[1])
	assert.Equal(t, "tickets.example.com\tTRUE\t/\tTRUE\t0\tcsrftoken\ttok-1", lines[2])
}

func TestWriteJSONBindsHostLockedByURL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cookies.json")
	require.NoError(t, WriteJSON(path, "https://tickets.example.com", "tickets.example.com", Entries(testSnapshot())))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var out []map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	require.Len(t, out, 2)

	hostLocked := out[0]
	assert.Equal(t, "__Host-session", hostLocked["name"])
	assert.Equal(t, "https://tickets.example.com/", hostLocked["url"])
	_, hasDomain := hostLocked["domain"]
	assert.False(t, hasDomain)

	plain := out[1]
	assert.Equal(t, "csrftoken", plain["name"])
	assert.Equal(t, "tickets.example.com", plain["domain"])
	_, hasURL := plain["url"]
	assert.False(t, hasURL)
}
