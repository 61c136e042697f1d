package providers

import (
	"strings"

	messagedomain "github.com/kirimaja/kirimaja/internal/message/domain"
	"github.com/tidwall/gjson"
)

var genericStatuses = map[string]messagedomain.EventType{
	"enqueued":        messagedomain.EventTypePending,
	"pending":         messagedomain.EventTypePending,
	"sent":            messagedomain.EventTypeSent,
	"delivered":       messagedomain.EventTypeDelivered,
	"read":            messagedomain.EventTypeRead,
	"seen":            messagedomain.EventTypeRead,
	"failed":          messagedomain.EventTypeFailed,
	"error":           messagedomain.EventTypeFailed,
	"undelivered":     messagedomain.EventTypeFailed,
	"rejected":        messagedomain.EventTypeRejected,
	"expired":         messagedomain.EventTypeExpired,
	"inbound":         messagedomain.EventTypeInbound,
	"message":         messagedomain.EventTypeInbound,
	"template_status": messagedomain.EventTypeTemplateStatus,
	"system":          messagedomain.EventTypeSystem,
}

// GenericAdapter covers self-hosted WABA gateways that post a flat
// {event, message_id, event_id, timestamp, recipient, code, reason} document.
type GenericAdapter struct{}

func NewGenericAdapter() *GenericAdapter {
	return &GenericAdapter{}
}

func (a *GenericAdapter) Provider() string {
	return ProviderGeneric
}

func (a *GenericAdapter) Categorize(payload []byte) messagedomain.EventType {
	return mapStatus(genericStatuses, gjson.GetBytes(payload, "event").String())
}

func (a *GenericAdapter) Normalize(payload []byte) ([]messagedomain.NormalizedEvent, error) {
	if !gjson.ValidBytes(payload) {
		return nil, messagedomain.ErrInvalidEvent
	}

	event := messagedomain.NormalizedEvent{
		Provider:          ProviderGeneric,
		EventType:         a.Categorize(payload),
		ProviderMessageID: strings.TrimSpace(gjson.GetBytes(payload, "message_id").String()),
		ProviderEventID:   strings.TrimSpace(gjson.GetBytes(payload, "event_id").String()),
		EventTimestamp:    unixTimestamp(gjson.GetBytes(payload, "timestamp")),
		StatusCode:        gjson.GetBytes(payload, "code").String(),
		ErrorReason:       strings.TrimSpace(gjson.GetBytes(payload, "reason").String()),
		Destination:       strings.TrimSpace(gjson.GetBytes(payload, "recipient").String()),
		RawPayload:        payload,
	}

	return []messagedomain.NormalizedEvent{event}, nil
}
