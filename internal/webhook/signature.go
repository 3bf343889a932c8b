package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	SignatureHeader = "X-Webhook-Signature"
	EventHeader     = "X-Webhook-Event"

	signaturePrefix = "sha256="
)

var ErrBadSignature = errors.New("webhook signature mismatch")

// Sign returns "sha256=<hex hmac>" over body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature header produced by Sign. The prefix is optional.
func Verify(secret, body []byte, header string) error {
	got, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(header), signaturePrefix))
	if err != nil || len(got) == 0 {
		return ErrBadSignature
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrBadSignature
	}
	return nil
}

// SecretSource returns the signing secret of a business.
type SecretSource interface {
	Secret(businessID string) ([]byte, error)
}

// StaticSecret signs every business's webhooks with one shared secret.
type StaticSecret []byte

func (s StaticSecret) Secret(string) ([]byte, error) {
	if len(s) == 0 {
		return nil, errors.New("webhook secret is not configured")
	}
	return s, nil
}

// DerivedSecrets derives a per-business secret from a master key with
// HKDF-SHA256, so no per-business secret needs storing.
type DerivedSecrets struct {
	Master []byte
	Salt   []byte
}

func (d DerivedSecrets) Secret(businessID string) ([]byte, error) {
	if len(d.Master) == 0 {
		return nil, errors.New("webhook master key is not configured")
	}
	if businessID == "" {
		return nil, errors.New("business id is required to derive a webhook secret")
	}
	r := hkdf.New(sha256.New, d.Master, d.Salt, []byte("offramp-webhook:"+businessID))
	out := make([]byte, 32)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}
