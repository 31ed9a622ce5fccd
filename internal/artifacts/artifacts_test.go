package artifacts

import (
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveResponseWritesFile(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSaver(dir, zerolog.Nop())
	require.NoError(t, err)

	s.SaveResponse(7, 429, []byte("<html>throttled</html>"))
	s.Flush()

	files, err := filepath.Glob(filepath.Join(dir, "response_*_req7_http429.html"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.Equal(t, "<html>throttled</html>", string(data))
}

func TestSaveExchangeTranscript(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSaver(dir, zerolog.Nop())
	require.NoError(t, err)

	s.SaveExchange(Exchange{
		URL:        "https://tickets.example.com/event/secondhand/buy/abc/",
		Form:       url.Values{"csrfmiddlewaretoken": {"tok-1"}, "count": {"1"}},
		CookieSent: "__Host-session=sess-1",
		Status:     200,
		FinalURL:   "https://tickets.example.com/event/checkout/start",
		Header:     http.Header{"Content-Type": {"text/html"}},
		Body:       []byte("checkout page"),
	})
	s.Flush()

	files, err := filepath.Glob(filepath.Join(dir, "reserve_*.txt"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, "URL: https://tickets.example.com/event/secondhand/buy/abc/")
	assert.Contains(t, text, "Cookie: __Host-session=sess-1")
	assert.Contains(t, text, "csrfmiddlewaretoken=tok-1")
	assert.Contains(t, text, "Final URL: https://tickets.example.com/event/checkout/start")
	assert.Contains(t, text, "checkout page")
	// Form keys come out sorted for stable transcripts.
	assert.Less(t, strings.Index(text, "count=1"), strings.Index(text, "csrfmiddlewaretoken=tok-1"))
}

func TestNilSaverIsInert(t *testing.T) {
	var s *Saver
	s.SaveResponse(1, 200, []byte("x"))
	s.SaveExchange(Exchange{})
	s.Flush()
	assert.Empty(t, s.Dir())
}
