// Package auth provides the authentication collaborator boundary: an
// administrative user store and the two-step token issuance flow (anti-forgery
// token, then bearer token). The rest of the service only requires "caller is
// authenticated", not how.
package auth

import (
	"errors"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/seriesd-io/seriesd/internal/config"
)

// Sentinel errors for user store operations.
var (
	// ErrUserExists is returned when adding a username that is already taken.
	ErrUserExists = errors.New("user already exists")

	// ErrEmptyCredentials is returned when username or password is empty.
	ErrEmptyCredentials = errors.New("username and password cannot be empty")
)

// UserStore provides thread-safe in-memory storage of administrative users.
// Passwords are stored as bcrypt hashes only.
type UserStore struct {
	// hashes maps usernames to bcrypt password hashes
	hashes map[string][]byte
	// mutex protects concurrent access to the map
	mutex sync.RWMutex
}

// NewUserStore creates an empty user store.
func NewUserStore() *UserStore {
	return &UserStore{
		hashes: make(map[string][]byte),
	}
}

// NewUserStoreFromEnv creates a user store seeded with the administrative
// user from SERIESD_ADMIN_USER / SERIESD_ADMIN_PASSWORD (default admin/admin,
// development only - override both in production).
func NewUserStoreFromEnv() (*UserStore, error) {
	store := NewUserStore()

	username := config.GetEnvStr("SERIESD_ADMIN_USER", "admin")
	password := config.GetEnvStr("SERIESD_ADMIN_PASSWORD", "admin")

	if err := store.Add(username, password); err != nil {
		return nil, err
	}

	return store, nil
}

// Add stores a new user with a bcrypt-hashed password.
func (s *UserStore) Add(username, password string) error {
	if username == "" || password == "" {
		return ErrEmptyCredentials
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.hashes[username]; exists {
		return ErrUserExists
	}

	s.hashes[username] = hash

	return nil
}

// Authenticate verifies a username/password pair.
func (s *UserStore) Authenticate(username, password string) bool {
	s.mutex.RLock()
	hash, exists := s.hashes[username]
	s.mutex.RUnlock()

	if !exists {
		return false
	}

	return bcrypt.CompareHashAndPassword(hash, []byte(password)) == nil
}
