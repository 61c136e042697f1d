package providers

import (
	"strings"

	messagedomain "github.com/kirimaja/kirimaja/internal/message/domain"
	"github.com/tidwall/gjson"
)

var twilioStatuses = map[string]messagedomain.EventType{
	"queued":      messagedomain.EventTypePending,
	"sending":     messagedomain.EventTypeSending,
	"sent":        messagedomain.EventTypeSent,
	"delivered":   messagedomain.EventTypeDelivered,
	"read":        messagedomain.EventTypeRead,
	"undelivered": messagedomain.EventTypeFailed,
	"failed":      messagedomain.EventTypeFailed,
	"canceled":    messagedomain.EventTypeExpired,
	"received":    messagedomain.EventTypeInbound,
}

// TwilioAdapter handles status callback payloads keyed by MessageSid and
// MessageStatus. Twilio has no distinct event id, so dedup rides on the
// synthetic (message id, event type) key.
type TwilioAdapter struct{}

func NewTwilioAdapter() *TwilioAdapter {
	return &TwilioAdapter{}
}

func (a *TwilioAdapter) Provider() string {
	return ProviderTwilio
}

func (a *TwilioAdapter) Categorize(payload []byte) messagedomain.EventType {
	status := gjson.GetBytes(payload, "MessageStatus").String()
	if status == "" {
		status = gjson.GetBytes(payload, "SmsStatus").String()
	}
	return mapStatus(twilioStatuses, status)
}

func (a *TwilioAdapter) Normalize(payload []byte) ([]messagedomain.NormalizedEvent, error) {
	if !gjson.ValidBytes(payload) {
		return nil, messagedomain.ErrInvalidEvent
	}

	event := messagedomain.NormalizedEvent{
		Provider:          ProviderTwilio,
		EventType:         a.Categorize(payload),
		ProviderMessageID: strings.TrimSpace(gjson.GetBytes(payload, "MessageSid").String()),
		Destination:       strings.TrimPrefix(strings.TrimSpace(gjson.GetBytes(payload, "To").String()), "whatsapp:"),
		RawPayload:        payload,
	}
	if event.EventType == messagedomain.EventTypeFailed {
		event.StatusCode = gjson.GetBytes(payload, "ErrorCode").String()
		event.ErrorReason = strings.TrimSpace(gjson.GetBytes(payload, "ErrorMessage").String())
	}

	return []messagedomain.NormalizedEvent{event}, nil
}
