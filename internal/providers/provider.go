// Package providers normalizes provider-specific webhook payloads into
// canonical delivery events. Adapters are pure transformations: no storage,
// no network, no secrets. Signature verification lives in internal/webhook.
package providers

import (
	"net/http"
	"strings"
	"time"

	messagedomain "github.com/kirimaja/kirimaja/internal/message/domain"
	"github.com/tidwall/gjson"
)

const (
	ProviderGupshup = "gupshup"
	ProviderMeta    = "meta"
	ProviderTwilio  = "twilio"
	ProviderGeneric = "generic"
	ProviderUnknown = "unknown"
)

// ProviderHeader carries an explicit provider id and wins over any payload
// shape heuristic.
const ProviderHeader = "X-Webhook-Provider"

// Adapter turns one provider's raw payload into canonical events. A single
// webhook call may carry several status updates (Meta batches them), so
// Normalize returns a slice.
type Adapter interface {
	Provider() string
	Categorize(payload []byte) messagedomain.EventType
	Normalize(payload []byte) ([]messagedomain.NormalizedEvent, error)
}

type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	registry := &Registry{adapters: map[string]Adapter{}}
	for _, adapter := range adapters {
		if adapter == nil {
			continue
		}
		provider := strings.ToLower(strings.TrimSpace(adapter.Provider()))
		if provider == "" {
			continue
		}
		registry.adapters[provider] = adapter
	}
	return registry
}

// Default returns the registry with every built-in adapter registered.
func Default() *Registry {
	return NewRegistry(
		NewGupshupAdapter(),
		NewMetaAdapter(),
		NewTwilioAdapter(),
		NewGenericAdapter(),
	)
}

func (r *Registry) Adapter(provider string) (Adapter, bool) {
	if r == nil {
		return nil, false
	}
	adapter, ok := r.adapters[strings.ToLower(strings.TrimSpace(provider))]
	return adapter, ok
}

func (r *Registry) ProviderExists(provider string) bool {
	_, ok := r.Adapter(provider)
	return ok
}

// Detect resolves the originating provider. The explicit header wins; after
// that, payload shape. Unknown shapes return ProviderUnknown, never an error,
// so forged or garbled calls still get a receipt.
func (r *Registry) Detect(headers http.Header, payload []byte) string {
	if headers != nil {
		if explicit := strings.ToLower(strings.TrimSpace(headers.Get(ProviderHeader))); explicit != "" {
			if r.ProviderExists(explicit) {
				return explicit
			}
		}
		if headers.Get("X-Twilio-Signature") != "" && r.ProviderExists(ProviderTwilio) {
			return ProviderTwilio
		}
	}

	if !gjson.ValidBytes(payload) {
		return ProviderUnknown
	}
	switch {
	case gjson.GetBytes(payload, "entry.0.changes").Exists():
		if r.ProviderExists(ProviderMeta) {
			return ProviderMeta
		}
	case gjson.GetBytes(payload, "app").Exists() && gjson.GetBytes(payload, "payload.type").Exists():
		if r.ProviderExists(ProviderGupshup) {
			return ProviderGupshup
		}
	case gjson.GetBytes(payload, "MessageSid").Exists():
		if r.ProviderExists(ProviderTwilio) {
			return ProviderTwilio
		}
	case gjson.GetBytes(payload, "event").Exists() && gjson.GetBytes(payload, "message_id").Exists():
		if r.ProviderExists(ProviderGeneric) {
			return ProviderGeneric
		}
	}
	return ProviderUnknown
}

// mapStatus resolves a provider status string against a fixed table. Unmapped
// strings default to pending, the least destructive status: rank 0 never
// advances the aggregate. An empty string is not a status at all and stays
// unknown.
func mapStatus(table map[string]messagedomain.EventType, raw string) messagedomain.EventType {
	status := strings.ToLower(strings.TrimSpace(raw))
	if status == "" {
		return messagedomain.EventTypeUnknown
	}
	if eventType, ok := table[status]; ok {
		return eventType
	}
	return messagedomain.EventTypePending
}

func unixTimestamp(result gjson.Result) time.Time {
	if !result.Exists() {
		return time.Time{}
	}
	// Providers disagree on precision: Meta sends seconds as a string,
	// Gupshup sends milliseconds as a number.
	value := result.Int()
	if value <= 0 {
		return time.Time{}
	}
	if value > 1_000_000_000_000 {
		return time.UnixMilli(value).UTC()
	}
	return time.Unix(value, 0).UTC()
}
