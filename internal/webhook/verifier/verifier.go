// Package verifier authenticates inbound webhook calls. Verification is a
// pure function over the raw body, the request headers and the configured
// secrets; the caller decides the HTTP response.
package verifier

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/kirimaja/kirimaja/internal/config"
	"github.com/kirimaja/kirimaja/internal/providers"
)

const (
	SchemeHMACSHA256 = "hmac-sha256"
	SchemeBearer     = "bearer"
)

// Verification is the outcome of checking one call. Valid=true with
// Authenticated=false means no secret is configured and the fail-open policy
// let the call through; receipts record that distinction.
type Verification struct {
	Valid         bool
	Authenticated bool
	// SecretConfigured is false on the fail-open path; receipts then keep
	// signature_valid as unknown instead of false.
	SecretConfigured bool
	Scheme           string
	Signature        string
}

type scheme struct {
	header string
	kind   string
	prefix string
}

// One entry per provider: which header carries the credential and how to
// check it. Adding a provider means adding a row here and a secret in config.
var schemes = map[string]scheme{
	providers.ProviderGupshup: {header: "X-Gupshup-Signature", kind: SchemeHMACSHA256},
	providers.ProviderMeta:    {header: "X-Hub-Signature-256", kind: SchemeHMACSHA256, prefix: "sha256="},
	providers.ProviderTwilio:  {header: "X-Twilio-Signature", kind: SchemeBearer},
	providers.ProviderGeneric: {header: "Authorization", kind: SchemeBearer, prefix: "Bearer "},
}

type Verifier struct {
	cfg config.WebhookConfig
}

func New(cfg config.Config) *Verifier {
	return &Verifier{cfg: cfg.Webhook}
}

func (v *Verifier) secret(provider string) string {
	switch provider {
	case providers.ProviderGupshup:
		return v.cfg.GupshupSecret
	case providers.ProviderMeta:
		return v.cfg.MetaAppSecret
	case providers.ProviderTwilio:
		return v.cfg.TwilioToken
	case providers.ProviderGeneric:
		return v.cfg.GenericToken
	default:
		return ""
	}
}

func (v *Verifier) Verify(provider string, body []byte, headers http.Header) Verification {
	provider = strings.ToLower(strings.TrimSpace(provider))
	entry, known := schemes[provider]
	if !known {
		// Unknown providers carry no registered credential; the fail-open
		// rule applies as with a missing secret.
		return Verification{Valid: !v.cfg.RequireSecret}
	}

	signature := ""
	if headers != nil {
		signature = strings.TrimSpace(headers.Get(entry.header))
	}

	secret := strings.TrimSpace(v.secret(provider))
	if secret == "" {
		return Verification{
			Valid:     !v.cfg.RequireSecret,
			Scheme:    entry.kind,
			Signature: signature,
		}
	}
	if signature == "" {
		return Verification{Scheme: entry.kind, SecretConfigured: true}
	}

	presented := strings.TrimPrefix(signature, entry.prefix)
	result := Verification{Scheme: entry.kind, Signature: signature, SecretConfigured: true}

	switch entry.kind {
	case SchemeHMACSHA256:
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(body)
		expected := hex.EncodeToString(mac.Sum(nil))
		if hmac.Equal([]byte(strings.ToLower(presented)), []byte(expected)) {
			result.Valid = true
			result.Authenticated = true
		}
	case SchemeBearer:
		if subtle.ConstantTimeCompare([]byte(presented), []byte(secret)) == 1 {
			result.Valid = true
			result.Authenticated = true
		}
	}
	return result
}

// VerifyChallenge answers a GET subscription handshake: echo hub.challenge
// when the declared token matches.
func (v *Verifier) VerifyChallenge(mode, token, challenge string) (string, bool) {
	if mode != "subscribe" || challenge == "" {
		return "", false
	}
	if v.cfg.VerifyToken == "" {
		return "", false
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(v.cfg.VerifyToken)) != 1 {
		return "", false
	}
	return challenge, true
}
