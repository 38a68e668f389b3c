package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Claims carries the identity extracted from a verified token.
type Claims struct {
	// Subject identifies the token owner.
	Subject string
	// ExpiresAt is the absolute instant after which the token is rejected.
	ExpiresAt time.Time
}

// DefaultTTL is the default token lifetime from issuance.
const DefaultTTL = 31 * 24 * time.Hour

var (
	// ErrTokenExpired is returned when the token expiry has passed.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid is returned when the token is malformed or its
	// signature does not verify.
	ErrTokenInvalid = errors.New("token invalid")
	// errSecretRequired is returned when an empty signing secret is provided.
	errSecretRequired = errors.New("secret must be provided")
	// errSubjectRequired is returned when an empty subject is provided.
	errSubjectRequired = errors.New("subject must be provided")
)

// Issue mints a bearer token for the subject, valid for ttl from now.
// A non-positive ttl falls back to DefaultTTL.
func Issue(secret, subject string, ttl time.Duration, now time.Time) (string, error) {
	if secret == "" {
		return "", errSecretRequired
	}

	if subject == "" {
		return "", errSubjectRequired
	}

	if ttl <= 0 {
		ttl = DefaultTTL
	}

	payload := encodePayload(subject, now.Add(ttl))

	return payload + "." + sign(secret, payload), nil
}

// Verify validates the token against the secret at the provided instant.
// It is a pure function: no I/O, no ambient clock. Callers re-invoke it
// whenever token staleness matters, not only at connection open.
func Verify(secret, token string, now time.Time) (*Claims, error) {
	if secret == "" {
		return nil, errSecretRequired
	}

	payload, signature, ok := strings.Cut(token, ".")
	if !ok {
		return nil, ErrTokenInvalid
	}

	// Compare signatures in constant time before trusting the payload.
	expected := sign(secret, payload)
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return nil, ErrTokenInvalid
	}

	claims, err := decodePayload(payload)
	if err != nil {
		return nil, err
	}

	if !claims.ExpiresAt.After(now) {
		return nil, ErrTokenExpired
	}

	return claims, nil
}

// encodePayload packs subject and expiry into a base64 payload segment.
func encodePayload(subject string, expiresAt time.Time) string {
	raw := subject + "|" + strconv.FormatInt(expiresAt.Unix(), 10)

	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// decodePayload unpacks the base64 payload segment into claims.
func decodePayload(payload string) (*Claims, error) {
	raw, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return nil, ErrTokenInvalid
	}

	subject, expiry, ok := strings.Cut(string(raw), "|")
	if !ok || subject == "" {
		return nil, ErrTokenInvalid
	}

	unix, err := strconv.ParseInt(expiry, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad expiry", ErrTokenInvalid)
	}

	return &Claims{
		Subject:   subject,
		ExpiresAt: time.Unix(unix, 0).UTC(),
	}, nil
}

// sign computes the HMAC-SHA256 signature of the payload segment.
func sign(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))

	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
