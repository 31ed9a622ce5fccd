// Package artifacts persists unusual responses and reservation exchanges
// for offline diagnosis. Writes are asynchronous and best-effort: nothing
// here may ever block the poll/reserve path.
package artifacts

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Saver writes debug artifacts into one directory per run. A nil *Saver is
// valid and drops everything.
type Saver struct {
	dir string
	log zerolog.Logger
	wg  sync.WaitGroup
}

func NewSaver(dir string, log zerolog.Logger) (*Saver, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("artifact dir: %w", err)
	}
	return &Saver{dir: dir, log: log}, nil
}

func (s *Saver) Dir() string {
	if s == nil {
		return ""
	}
	return s.dir
}

// SaveResponse persists an unusual HTML response.
func (s *Saver) SaveResponse(reqNum, status int, body []byte) {
	if s == nil {
		return
	}
	name := fmt.Sprintf("response_%s_req%d_http%d.html", timestamp(), reqNum, status)
	s.write(name, body)
}

// Exchange is a reservation POST and its response, flattened for a human
// reading the transcript later.
type Exchange struct {
	URL        string
	Form       url.Values
	CookieSent string
	Status     int
	FinalURL   string
	Header     http.Header
	Body       []byte
}

// SaveExchange persists a reservation request/response transcript.
func (s *Saver) SaveExchange(x Exchange) {
	if s == nil {
		return
	}
	var b strings.Builder
	b.WriteString("RESERVATION REQUEST/RESPONSE\n\n")
	b.WriteString("REQUEST:\n")
	fmt.Fprintf(&b, "  URL: %s\n  Method: POST\n", x.URL)
	if x.CookieSent != "" {
		fmt.Fprintf(&b, "  Cookie: %s\n", x.CookieSent)
	}
	b.WriteString("  Form data:\n")
	for _, k := range sortedKeys(x.Form) {
		fmt.Fprintf(&b, "    %s=%s\n", k, x.Form.Get(k))
	}
	b.WriteString("\nRESPONSE:\n")
	fmt.Fprintf(&b, "  Status: %d\n  Final URL: %s\n", x.Status, x.FinalURL)
	b.WriteString("  Headers:\n")
	for _, k := range sortedHeaderKeys(x.Header) {
		for _, v := range x.Header[k] {
			fmt.Fprintf(&b, "    %s: %s\n", k, v)
		}
	}
	b.WriteString("\n  Body:\n")
	if len(x.Body) > 0 {
		b.Write(x.Body)
	} else {
		b.WriteString("(empty)")
	}
	b.WriteString("\n")

	s.write(fmt.Sprintf("reserve_%s.txt", timestamp()), []byte(b.String()))
}

func (s *Saver) write(name string, data []byte) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		path := filepath.Join(s.dir, name)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			s.log.Warn().Err(err).Str("file", name).Msg("artifact write failed")
			return
		}
		s.log.Debug().Str("file", name).Msg("artifact saved")
	}()
}

// Flush waits for in-flight writes, for shutdown and tests.
func (s *Saver) Flush() {
	if s == nil {
		return
	}
	s.wg.Wait()
}

func timestamp() string {
	return time.Now().Format("20060102_150405.000")
}

func sortedKeys(v url.Values) []string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedHeaderKeys(h http.Header) []string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
