package service

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidKey   = errors.New("invalid api key")
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

const sessionTTL = 7 * 24 * time.Hour

// AuthService checks API keys against a bcrypt hash and signs dashboard
// session tokens. With no key configured every request is allowed.
type AuthService struct {
	keyHash []byte
	secret  []byte
	now     func() time.Time
}

// NewAuthService takes the bcrypt hash of the API key. An empty secret is
// replaced with random bytes, which invalidates sessions on restart.
func NewAuthService(keyHash, secret string) (*AuthService, error) {
	if keyHash != "" {
		if _, err := bcrypt.Cost([]byte(keyHash)); err != nil {
			return nil, fmt.Errorf("api key hash: %w", err)
		}
	}

	s := []byte(secret)
	if len(s) == 0 {
		s = make([]byte, 32)
		if _, err := rand.Read(s); err != nil {
			return nil, fmt.Errorf("generate session secret: %w", err)
		}
	}

	return &AuthService{
		keyHash: []byte(keyHash),
		secret:  s,
		now:     time.Now,
	}, nil
}

// HashKey returns the bcrypt hash stored for a plain API key.
func HashKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func (s *AuthService) Enabled() bool {
	return len(s.keyHash) > 0
}

func (s *AuthService) ValidateKey(key string) error {
	if !s.Enabled() {
		return nil
	}
	if key == "" {
		return ErrInvalidKey
	}
	if err := bcrypt.CompareHashAndPassword(s.keyHash, []byte(key)); err != nil {
		return ErrInvalidKey
	}
	return nil
}

func (s *AuthService) sign(payload string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	return base64.URLEncoding.EncodeToString(mac.Sum(nil))
}

// GenerateToken issues a dashboard session token of the form
// "<unix ts>:<signature>".
func (s *AuthService) GenerateToken() string {
	timestamp := strconv.FormatInt(s.now().Unix(), 10)
	return timestamp + ":" + s.sign(timestamp)
}

func (s *AuthService) ValidateToken(token string) error {
	timestamp, signature, ok := strings.Cut(token, ":")
	if !ok {
		return ErrInvalidToken
	}

	if !hmac.Equal([]byte(signature), []byte(s.sign(timestamp))) {
		return ErrInvalidToken
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrInvalidToken
	}

	if s.now().After(time.Unix(ts, 0).Add(sessionTTL)) {
		return ErrExpiredToken
	}

	return nil
}
