// Package crypto provides request signing and secret management for the
// exchange REST API.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Signer produces HMAC-SHA256 signatures over signed-endpoint query strings.
type Signer struct {
	secret []byte
}

// NewSigner creates a Signer from the raw API secret.
func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// Sign returns the lowercase hex HMAC-SHA256 of payload, suitable for the
// `signature` query parameter of signed endpoints.
func (s *Signer) Sign(payload string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
