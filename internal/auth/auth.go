// Package auth validates bearer tokens issued by the session layer and
// exposes the caller's repository identity to request handlers.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Config holds token verification parameters.
type Config struct {
	Secret string
	Issuer string
}

// Claims represents the payload extracted from a session token. DID names
// the caller's repository; PDSEndpoint and PDSAccessToken authorize writes
// against it.
type Claims struct {
	DID            string
	Handle         string
	PDSEndpoint    string
	PDSAccessToken string
	ExpiresAt      time.Time
}

// ErrMissingToken is returned when the Authorization header is absent.
var ErrMissingToken = errors.New("missing bearer token")

// ErrInvalidToken wraps parsing/validation errors.
var ErrInvalidToken = errors.New("invalid bearer token")

// Parse validates a session token and returns normalized claims.
func Parse(token string, cfg Config) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMissingToken
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(cfg.Secret), nil
	}, jwt.WithIssuer(cfg.Issuer), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}

	did, _ := claims["sub"].(string)
	if !strings.HasPrefix(did, "did:") {
		return nil, ErrInvalidToken
	}
	handle, _ := claims["handle"].(string)
	pdsEndpoint, _ := claims["pds"].(string)
	pdsToken, _ := claims["pds_token"].(string)

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, fmt.Errorf("%w: missing expiration", ErrInvalidToken)
	}

	return &Claims{
		DID:            did,
		Handle:         handle,
		PDSEndpoint:    pdsEndpoint,
		PDSAccessToken: pdsToken,
		ExpiresAt:      exp.Time,
	}, nil
}
