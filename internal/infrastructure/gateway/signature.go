package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"auction-core/internal/domain"
)

// Signer verifies HMAC-SHA256 signatures (hex) over confirmation payloads.
type Signer struct {
	secret []byte
}

func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

func (s *Signer) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *Signer) Verify(payload []byte, signature string) error {
	if len(s.secret) == 0 {
		return fmt.Errorf("no webhook secret configured: %w", domain.ErrSignatureVerification)
	}
	got, err := hex.DecodeString(signature)
	if err != nil || len(got) != sha256.Size {
		return fmt.Errorf("malformed signature: %w", domain.ErrSignatureVerification)
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(payload)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return domain.ErrSignatureVerification
	}
	return nil
}
