// Package auth guards the control plane and hashes channel passwords.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrMissingCredentials is returned when no bearer credential is supplied.
	ErrMissingCredentials = errors.New("missing credentials")
	// ErrInvalidCredentials is returned when the bearer credential is rejected.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrDisabled is returned when no admin secret is configured.
	ErrDisabled = errors.New("control plane disabled")
)

// Service authorizes control-plane requests. A request is accepted when its
// bearer credential is either the admin secret itself or a token issued by
// IssueToken.
type Service struct {
	secret    []byte
	jwtConfig *JWTConfig
}

// NewService creates a new authorization service.
func NewService(secret string, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Service{
		secret: []byte(secret),
		jwtConfig: &JWTConfig{
			Secret:   []byte(secret),
			Issuer:   "msgroom",
			Audience: "msgroom-admin",
			TTL:      ttl,
		},
	}
}

// Authorize checks an Authorization header value.
func (s *Service) Authorize(header string) error {
	if len(s.secret) == 0 {
		return ErrDisabled
	}
	if header == "" {
		return ErrMissingCredentials
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return ErrInvalidCredentials
	}
	credential := parts[1]

	if subtle.ConstantTimeCompare([]byte(credential), s.secret) == 1 {
		return nil
	}
	if _, err := ValidateToken(s.jwtConfig, credential); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	return nil
}

// IssueToken returns a short-lived token usable in place of the secret.
func (s *Service) IssueToken(subject string) (string, time.Time, error) {
	if len(s.secret) == 0 {
		return "", time.Time{}, ErrDisabled
	}
	if subject == "" {
		subject = "admin"
	}
	token, err := GenerateToken(s.jwtConfig, subject)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate token: %w", err)
	}
	return token, time.Now().Add(s.jwtConfig.TTL), nil
}
