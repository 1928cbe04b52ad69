package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestAuthorize_Secret(t *testing.T) {
	svc := NewService("very_secret", time.Minute)

	require.NoError(t, svc.Authorize("Bearer very_secret"))
	require.ErrorIs(t, svc.Authorize(""), ErrMissingCredentials)
	require.ErrorIs(t, svc.Authorize("very_secret"), ErrInvalidCredentials)
	require.ErrorIs(t, svc.Authorize("Basic very_secret"), ErrInvalidCredentials)
	require.ErrorIs(t, svc.Authorize("Bearer nope"), ErrInvalidCredentials)
}

func TestAuthorize_IssuedToken(t *testing.T) {
	svc := NewService("very_secret", time.Minute)

	token, expires, err := svc.IssueToken("ops")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.True(t, expires.After(time.Now()))
	require.NoError(t, svc.Authorize("Bearer "+token))

	other := NewService("another_secret", time.Minute)
	require.ErrorIs(t, other.Authorize("Bearer "+token), ErrInvalidCredentials)
}

func TestAuthorize_RejectsExpiredAndForeignScope(t *testing.T) {
	cfg := &JWTConfig{Secret: []byte("s3cret"), Issuer: "msgroom", Audience: "msgroom-admin", TTL: -time.Minute}
	expired, err := GenerateToken(cfg, "ops")
	require.NoError(t, err)

	svc := NewService("s3cret", time.Minute)
	require.ErrorIs(t, svc.Authorize("Bearer "+expired), ErrInvalidCredentials)

	claims := jwt.MapClaims{
		"scope": "user",
		"iss":   "msgroom",
		"aud":   "msgroom-admin",
		"exp":   time.Now().Add(time.Minute).Unix(),
	}
	foreign, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("s3cret"))
	require.NoError(t, err)
	require.ErrorIs(t, svc.Authorize("Bearer "+foreign), ErrInvalidCredentials)
}

func TestAuthorize_Disabled(t *testing.T) {
	svc := NewService("", time.Minute)
	require.ErrorIs(t, svc.Authorize("Bearer anything"), ErrDisabled)
	_, _, err := svc.IssueToken("")
	require.ErrorIs(t, err, ErrDisabled)
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("hunter2")
	require.NoError(t, err)
	require.NotEqual(t, "hunter2", hash)
	require.NoError(t, ComparePassword(hash, "hunter2"))
	require.Error(t, ComparePassword(hash, "hunter3"))

	long := make([]byte, MaxPasswordBytes+1)
	for i := range long {
		long[i] = 'a'
	}
	_, err = HashPassword(string(long))
	require.ErrorIs(t, err, ErrPasswordTooLong)
}
