// Package auth mints and verifies the opaque bearer tokens used during the
// sync handshake. Tokens are HMAC-SHA256 signed and carry a subject plus an
// absolute expiry; Verify is pure so callers can re-check staleness at any
// point in a connection's life.
package auth
