// Package auth guards the mutating API surface with operator
// credentials. Auth is optional: with no password configured every
// request passes, which suits a unit on a closed network.
package auth

import (
	"errors"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAuthDisabled       = errors.New("authentication is disabled")
)

// Config holds the operator credential settings. Password may be
// plaintext or an existing bcrypt hash.
type Config struct {
	Username    string
	Password    string
	JWTSecret   string
	TokenExpiry time.Duration
}

// Authenticator validates operator logins and issues tokens. It is
// enabled only when a password is configured.
type Authenticator struct {
	enabled      bool
	username     string
	passwordHash []byte
	tokens       *TokenManager
}

// New creates an authenticator from the given config.
func New(cfg Config) *Authenticator {
	username := cfg.Username
	if username == "" {
		username = "admin"
	}

	var passwordHash []byte
	if cfg.Password != "" {
		if len(cfg.Password) == 60 && strings.HasPrefix(cfg.Password, "$2") {
			passwordHash = []byte(cfg.Password)
		} else {
			hash, err := bcrypt.GenerateFromPassword([]byte(cfg.Password), bcrypt.DefaultCost)
			if err == nil {
				passwordHash = hash
			}
		}
	}

	return &Authenticator{
		enabled:      passwordHash != nil,
		username:     username,
		passwordHash: passwordHash,
		tokens:       NewTokenManager(cfg.JWTSecret, cfg.TokenExpiry),
	}
}

// IsEnabled reports whether authentication is enforced.
func (a *Authenticator) IsEnabled() bool {
	return a.enabled
}

// Authenticate validates credentials and returns a signed token plus
// its unix expiry.
func (a *Authenticator) Authenticate(username, password string) (string, int64, error) {
	if !a.enabled {
		return "", 0, ErrAuthDisabled
	}

	if username != a.username {
		return "", 0, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password)); err != nil {
		return "", 0, ErrInvalidCredentials
	}

	token, expiresAt, err := a.tokens.GenerateToken(username)
	if err != nil {
		return "", 0, err
	}

	return token, expiresAt.Unix(), nil
}

// ValidateToken validates an operator token.
func (a *Authenticator) ValidateToken(token string) (*Claims, error) {
	return a.tokens.ValidateToken(token)
}

// HashPassword creates a bcrypt hash for storing in configuration.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
