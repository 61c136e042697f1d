package providers

import (
	"strings"

	messagedomain "github.com/kirimaja/kirimaja/internal/message/domain"
	"github.com/tidwall/gjson"
)

// Gupshup wraps everything in {app, timestamp, type, payload}. Delivery
// receipts arrive as type "message-event" with payload.type holding the
// status; inbound user messages arrive as type "message".
var gupshupStatuses = map[string]messagedomain.EventType{
	"enqueued":  messagedomain.EventTypePending,
	"sent":      messagedomain.EventTypeSent,
	"delivered": messagedomain.EventTypeDelivered,
	"read":      messagedomain.EventTypeRead,
	"failed":    messagedomain.EventTypeFailed,
}

type GupshupAdapter struct{}

func NewGupshupAdapter() *GupshupAdapter {
	return &GupshupAdapter{}
}

func (a *GupshupAdapter) Provider() string {
	return ProviderGupshup
}

func (a *GupshupAdapter) Categorize(payload []byte) messagedomain.EventType {
	switch gjson.GetBytes(payload, "type").String() {
	case "message-event":
		return mapStatus(gupshupStatuses, gjson.GetBytes(payload, "payload.type").String())
	case "message":
		return messagedomain.EventTypeInbound
	case "template-event":
		return messagedomain.EventTypeTemplateStatus
	case "user-event", "billing-event", "account-event":
		return messagedomain.EventTypeSystem
	default:
		return messagedomain.EventTypeUnknown
	}
}

func (a *GupshupAdapter) Normalize(payload []byte) ([]messagedomain.NormalizedEvent, error) {
	if !gjson.ValidBytes(payload) {
		return nil, messagedomain.ErrInvalidEvent
	}

	eventType := a.Categorize(payload)
	inner := gjson.GetBytes(payload, "payload")

	event := messagedomain.NormalizedEvent{
		Provider:          ProviderGupshup,
		EventType:         eventType,
		ProviderMessageID: strings.TrimSpace(inner.Get("id").String()),
		ProviderEventID:   strings.TrimSpace(inner.Get("gsId").String()),
		EventTimestamp:    unixTimestamp(gjson.GetBytes(payload, "timestamp")),
		Destination:       strings.TrimSpace(inner.Get("destination").String()),
		RawPayload:        payload,
	}

	// Failure detail nests one level deeper: payload.payload.{code,reason}.
	if eventType == messagedomain.EventTypeFailed {
		event.StatusCode = inner.Get("payload.code").String()
		event.ErrorReason = strings.TrimSpace(inner.Get("payload.reason").String())
	}

	return []messagedomain.NormalizedEvent{event}, nil
}
