package auth

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"
)

const (
	tokenBytes = 32

	// CSRF tokens are short-lived: they only bridge the gap between the
	// csrftoken fetch and the authtoken request.
	csrfTTL = 10 * time.Minute

	defaultTokenTTL = 24 * time.Hour
)

type tokenEntry struct {
	username  string
	expiresAt time.Time
}

// TokenStore issues and validates the two token kinds of the auth flow:
// short-lived anti-forgery (CSRF) tokens and bearer tokens. Storage is
// in-memory; restarting the service invalidates outstanding tokens, which is
// acceptable because clients re-run the issuance flow on a 401.
type TokenStore struct {
	// bearer maps bearer token values to their entry
	bearer map[string]tokenEntry
	// csrf maps anti-forgery token values to their expiry
	csrf map[string]time.Time
	// mutex protects concurrent access to both maps
	mutex sync.Mutex

	tokenTTL time.Duration
	now      func() time.Time
}

// NewTokenStore creates a token store with the default bearer token lifetime.
func NewTokenStore() *TokenStore {
	return &TokenStore{
		bearer:   make(map[string]tokenEntry),
		csrf:     make(map[string]time.Time),
		tokenTTL: defaultTokenTTL,
		now:      time.Now,
	}
}

// IssueCSRF creates a short-lived anti-forgery token.
func (s *TokenStore) IssueCSRF() string {
	token := randomToken()

	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.sweepLocked()
	s.csrf[token] = s.now().Add(csrfTTL)

	return token
}

// ValidateCSRF reports whether the anti-forgery token is known and unexpired.
func (s *TokenStore) ValidateCSRF(token string) bool {
	if token == "" {
		return false
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	expiry, exists := s.csrf[token]

	return exists && s.now().Before(expiry)
}

// IssueToken creates a bearer token bound to the authenticated username.
func (s *TokenStore) IssueToken(username string) string {
	token := randomToken()

	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.sweepLocked()
	s.bearer[token] = tokenEntry{
		username:  username,
		expiresAt: s.now().Add(s.tokenTTL),
	}

	return token
}

// Validate resolves a bearer token to its username.
// Returns ("", false) for unknown or expired tokens.
func (s *TokenStore) Validate(token string) (string, bool) {
	if token == "" {
		return "", false
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	entry, exists := s.bearer[token]
	if !exists || !s.now().Before(entry.expiresAt) {
		return "", false
	}

	return entry.username, true
}

// sweepLocked drops expired tokens. Caller holds the mutex.
func (s *TokenStore) sweepLocked() {
	now := s.now()

	for token, expiry := range s.csrf {
		if !now.Before(expiry) {
			delete(s.csrf, token)
		}
	}

	for token, entry := range s.bearer {
		if !now.Before(entry.expiresAt) {
			delete(s.bearer, token)
		}
	}
}

// randomToken generates a 64-hex-char token from crypto/rand.
func randomToken() string {
	buf := make([]byte, tokenBytes)
	// crypto/rand.Read only fails when the OS entropy source is broken, in
	// which case serving requests at all is unsafe.
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}

	return hex.EncodeToString(buf)
}
