package core

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
)

const (
	sessionTokenIDBytes     = 16
	sessionTokenSecretBytes = 32
)

// generateSessionToken mints one bearer credential. The bearer string is
// "<id>.<secret>": the id half addresses the store record, the secret half
// never persists anywhere, only its digest does. The plaintext bearer is
// returned to the caller exactly once.
func generateSessionToken() (bearer string, tokenID string, digest []byte, err error) {
	idRaw := make([]byte, sessionTokenIDBytes)
	if _, err := rand.Read(idRaw); err != nil {
		return "", "", nil, fmt.Errorf("core: generate token id: %w", err)
	}
	secretRaw := make([]byte, sessionTokenSecretBytes)
	if _, err := rand.Read(secretRaw); err != nil {
		return "", "", nil, fmt.Errorf("core: generate token secret: %w", err)
	}

	tokenID = base64.RawURLEncoding.EncodeToString(idRaw)
	secret := base64.RawURLEncoding.EncodeToString(secretRaw)
	return tokenID + "." + secret, tokenID, secretDigest(secret), nil
}

// parseBearerToken splits an opaque bearer into its id and secret halves.
// Every malformed shape fails the same way; callers never learn which part
// was wrong.
func parseBearerToken(bearer string) (tokenID string, secret string, ok bool) {
	bearer = strings.TrimSpace(bearer)
	if bearer == "" {
		return "", "", false
	}
	id, secret, found := strings.Cut(bearer, ".")
	if !found || id == "" || secret == "" {
		return "", "", false
	}
	return id, secret, true
}

func secretDigest(secret string) []byte {
	sum := sha256.Sum256([]byte(secret))
	return sum[:]
}

// digestsEqual compares secret digests in constant time.
func digestsEqual(a, b []byte) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}
