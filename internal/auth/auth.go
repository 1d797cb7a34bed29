// Package auth validates client bearer credentials against the key store.
//
// Tokens have the shape "<prefix>-<hex>". Only the SHA-256 hash of the full
// token is stored, so validation is a hash followed by one indexed lookup —
// O(1) on the hot path with no side effects.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/modelgrid/gateway/internal/store"
	"github.com/modelgrid/gateway/pkg/gwerr"
)

// DefaultKeyPrefix is the issued-key prefix when none is configured.
const DefaultKeyPrefix = "mg"

// minSecretLen is the minimum hex-secret length a well-formed token carries.
const minSecretLen = 16

// Authenticator resolves bearer tokens to GatewayKey records.
type Authenticator struct {
	store  *store.Store
	prefix string
}

// New creates an Authenticator. prefix is the expected token prefix
// (without the trailing dash); empty uses DefaultKeyPrefix.
func New(s *store.Store, prefix string) *Authenticator {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Authenticator{store: s, prefix: prefix}
}

// Authenticate validates a raw bearer token and returns the matching key
// record. It fails with gwerr.AuthenticationError when the token is
// malformed, unknown, or revoked.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (*store.GatewayKey, error) {
	if token == "" {
		return nil, &gwerr.AuthenticationError{Message: "missing API key"}
	}
	if !a.wellFormed(token) {
		return nil, &gwerr.AuthenticationError{Message: "malformed API key"}
	}

	key, err := a.store.GetKeyByHash(ctx, HashToken(token))
	if err != nil {
		if store.IsNotFound(err) {
			return nil, &gwerr.AuthenticationError{Message: "invalid API key"}
		}
		return nil, fmt.Errorf("auth: key lookup: %w", err)
	}

	if key.Revoked() {
		return nil, &gwerr.AuthenticationError{Message: "API key has been revoked"}
	}

	return key, nil
}

// wellFormed checks the "<prefix>-<hex>" shape without touching the store.
func (a *Authenticator) wellFormed(token string) bool {
	secret, ok := strings.CutPrefix(token, a.prefix+"-")
	if !ok || len(secret) < minSecretLen {
		return false
	}
	_, err := hex.DecodeString(secret)
	return err == nil
}

// HashToken returns the SHA-256 hex digest stored in GatewayKey.KeyHash.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
