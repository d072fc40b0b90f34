// Package auth gates the admin console. It is a convenience login, not a
// security boundary: the service itself does not check sessions.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrRateLimited        = errors.New("too many requests")
	ErrNotConfigured      = errors.New("admin credentials not configured")
)

type Config struct {
	Username     string
	PasswordHash string
	SessionTTL   time.Duration
	MaxFailures  int
	LockDuration time.Duration
	Now          func() time.Time
}

// Authenticator checks the single admin account and hands out sessions.
type Authenticator struct {
	username     string
	passwordHash []byte
	sessionTTL   time.Duration
	maxFailures  int
	lockDuration time.Duration
	now          func() time.Time

	mu          sync.Mutex
	failures    int
	lockedUntil time.Time
	sessions    map[string]*Session
}

// Session is the admin's logged-in state. Every admin command takes one.
type Session struct {
	Username  string
	ExpiresAt time.Time
	token     string
}

func NewAuthenticator(cfg Config) (*Authenticator, error) {
	cfg.Username = strings.TrimSpace(cfg.Username)
	cfg.PasswordHash = strings.TrimSpace(cfg.PasswordHash)
	if cfg.Username == "" || cfg.PasswordHash == "" {
		return nil, ErrNotConfigured
	}
	if _, err := bcrypt.Cost([]byte(cfg.PasswordHash)); err != nil {
		return nil, fmt.Errorf("parse admin password hash: %w", err)
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 8 * time.Hour
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.LockDuration <= 0 {
		cfg.LockDuration = 15 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Authenticator{
		username:     cfg.Username,
		passwordHash: []byte(cfg.PasswordHash),
		sessionTTL:   cfg.SessionTTL,
		maxFailures:  cfg.MaxFailures,
		lockDuration: cfg.LockDuration,
		now:          cfg.Now,
		sessions:     make(map[string]*Session),
	}, nil
}

func (a *Authenticator) Login(ctx context.Context, username, password string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	if now.Before(a.lockedUntil) {
		return nil, ErrRateLimited
	}

	if !secureEqual(strings.ToLower(username), strings.ToLower(a.username)) {
		a.registerFailure(now)
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password)); err != nil {
		a.registerFailure(now)
		return nil, ErrInvalidCredentials
	}
	a.failures = 0
	a.lockedUntil = time.Time{}

	token, err := generateToken(32)
	if err != nil {
		return nil, fmt.Errorf("generate session token: %w", err)
	}
	s := &Session{Username: a.username, ExpiresAt: now.Add(a.sessionTTL), token: token}
	a.sessions[hashToken(token)] = s
	return s, nil
}

// Check reports ErrUnauthorized for a nil, expired or logged-out session.
func (a *Authenticator) Check(s *Session) error {
	if s == nil || s.token == "" {
		return ErrUnauthorized
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	key := hashToken(s.token)
	live, ok := a.sessions[key]
	if !ok || live != s {
		return ErrUnauthorized
	}
	if !a.now().Before(s.ExpiresAt) {
		delete(a.sessions, key)
		return ErrUnauthorized
	}
	return nil
}

func (a *Authenticator) Logout(s *Session) {
	if s == nil || s.token == "" {
		return
	}
	a.mu.Lock()
	delete(a.sessions, hashToken(s.token))
	a.mu.Unlock()
}

// HashPassword produces the value expected in Config.PasswordHash.
func HashPassword(password string, cost int) (string, error) {
	if len(password) < 8 {
		return "", fmt.Errorf("%w: password must be at least 8 characters", ErrInvalidCredentials)
	}
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	b, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(b), nil
}

func (a *Authenticator) registerFailure(now time.Time) {
	a.failures++
	if a.failures >= a.maxFailures {
		a.lockedUntil = now.Add(a.lockDuration)
		a.failures = 0
	}
}

func generateToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

func secureEqual(a, b string) bool {
	ha := sha256.Sum256([]byte(a))
	hb := sha256.Sum256([]byte(b))
	return ha == hb
}
