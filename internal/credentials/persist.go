package credentials

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gorilla/securecookie"
	"golang.org/x/crypto/pbkdf2"
)

// State files let a run resume with the session it already established, and
// let the `script` command rebuild a handoff from a finished run. The
// payload is encoded with securecookie (HMAC + AES) under keys derived from
// the operator's passphrase.

const (
	stateName       = "credentials"
	saltSize        = 16
	pbkdf2Iters     = 4096
	derivedKeyBytes = 64 // 32 hash + 32 block
)

type persistedState struct {
	Cookies []Cookie
	CSRF    string
	SavedAt time.Time
}

func codecFor(passphrase string, salt []byte) *securecookie.SecureCookie {
	key := pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iters, derivedKeyBytes, sha256.New)
	sc := securecookie.New(key[:32], key[32:])
	sc.MaxAge(0) // state files do not expire; sessions die server-side
	return sc
}

// Save writes the store to path, readable only by the owner.
func (s *Store) Save(path, passphrase string) error {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("state salt: %w", err)
	}

	st := persistedState{CSRF: s.csrf, SavedAt: time.Now()}
	for _, name := range s.order {
		st.Cookies = append(st.Cookies, s.cookies[name])
	}

	encoded, err := codecFor(passphrase, salt).Encode(stateName, st)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	body := hex.EncodeToString(salt) + "\n" + encoded + "\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	return nil
}

// Load reads a store previously written by Save. A wrong passphrase fails
// the HMAC check and surfaces as a decode error.
func Load(path, passphrase string) (*Store, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}
	saltHex, encoded, found := strings.Cut(strings.TrimSpace(string(raw)), "\n")
	if !found {
		return nil, fmt.Errorf("state file %s: malformed", path)
	}
	salt, err := hex.DecodeString(strings.TrimSpace(saltHex))
	if err != nil || len(salt) != saltSize {
		return nil, fmt.Errorf("state file %s: bad salt", path)
	}

	var st persistedState
	if err := codecFor(passphrase, salt).Decode(stateName, strings.TrimSpace(encoded), &st); err != nil {
		return nil, fmt.Errorf("decode state (wrong passphrase?): %w", err)
	}

	store := NewStore()
	for _, c := range st.Cookies {
		store.set(c)
	}
	store.csrf = st.CSRF
	return store, nil
}
