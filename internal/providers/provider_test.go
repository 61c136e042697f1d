package providers_test

import (
	"net/http"
	"testing"
	"time"

	messagedomain "github.com/kirimaja/kirimaja/internal/message/domain"
	"github.com/kirimaja/kirimaja/internal/providers"
)

const gupshupDelivered = `{
	"app": "KirimAjaApp",
	"timestamp": 1767225600000,
	"version": 2,
	"type": "message-event",
	"payload": {
		"id": "gBEGkYiEB1VXAglK1ZEqA1YKPrU",
		"gsId": "c3f6a835-4b3f-4c2e-9a7e-2f1a3b4c5d6e",
		"type": "delivered",
		"destination": "6281234567890",
		"payload": {"ts": 1767225600}
	}
}`

const gupshupFailed = `{
	"app": "KirimAjaApp",
	"timestamp": 1767225600000,
	"type": "message-event",
	"payload": {
		"id": "gBEGkYiEB1VXAglK1ZEqA1YKPrV",
		"type": "failed",
		"destination": "6281234567891",
		"payload": {"code": 1002, "reason": "Number Does Not Exists On WhatsApp"}
	}
}`

const metaStatusBatch = `{
	"object": "whatsapp_business_account",
	"entry": [{
		"id": "102290129340398",
		"changes": [{
			"field": "messages",
			"value": {
				"messaging_product": "whatsapp",
				"metadata": {"display_phone_number": "628111222333", "phone_number_id": "106540352242922"},
				"statuses": [
					{"id": "wamid.HBgLNjI4MTIzNDU2Nzg5MBUCABEYEjVGQjdGRjc1", "status": "sent", "timestamp": "1767225600", "recipient_id": "6281234567890"},
					{"id": "wamid.HBgLNjI4MTIzNDU2Nzg5MBUCABEYEjVGQjdGRjc1", "status": "delivered", "timestamp": "1767225604", "recipient_id": "6281234567890"}
				]
			}
		}]
	}]
}`

const metaFailed = `{
	"object": "whatsapp_business_account",
	"entry": [{
		"id": "102290129340398",
		"changes": [{
			"field": "messages",
			"value": {
				"messaging_product": "whatsapp",
				"statuses": [{
					"id": "wamid.HBgLNjI4MTIzNDU2Nzg5MBUCABEYEjRBRA",
					"status": "failed",
					"timestamp": "1767225600",
					"recipient_id": "6281234567890",
					"errors": [{"code": 131026, "title": "Message undeliverable", "error_data": {"details": "Recipient is not a valid WhatsApp user"}}]
				}]
			}
		}]
	}]
}`

const metaInbound = `{
	"object": "whatsapp_business_account",
	"entry": [{
		"id": "102290129340398",
		"changes": [{
			"field": "messages",
			"value": {
				"messaging_product": "whatsapp",
				"contacts": [{"wa_id": "6281234567890"}],
				"messages": [{"id": "wamid.HBgLNjI4MTIzNDU2Nzg5MBUCABIYFjNFQjBDMUM4", "from": "6281234567890", "timestamp": "1767225600", "type": "text", "text": {"body": "ya, lanjutkan"}}]
			}
		}]
	}]
}`

const twilioUndelivered = `{
	"MessageSid": "SM8f27bca0a2e94d6f9a3c1b5d7e9f0a1b",
	"MessageStatus": "undelivered",
	"To": "whatsapp:+6281234567890",
	"From": "whatsapp:+628111222333",
	"ErrorCode": "63024",
	"ErrorMessage": "Twilio could not deliver the message"
}`

const genericRead = `{
	"event": "seen",
	"message_id": "msg-42",
	"event_id": "evt-42-read",
	"timestamp": 1767225600,
	"recipient": "6281234567890"
}`

func TestDetectProvider(t *testing.T) {
	registry := providers.Default()

	tests := []struct {
		name    string
		headers http.Header
		payload string
		want    string
	}{
		{"explicit_header_wins", http.Header{providers.ProviderHeader: []string{"gupshup"}}, metaStatusBatch, providers.ProviderGupshup},
		{"twilio_signature_header", http.Header{"X-Twilio-Signature": []string{"abc"}}, twilioUndelivered, providers.ProviderTwilio},
		{"meta_entry_changes", nil, metaStatusBatch, providers.ProviderMeta},
		{"gupshup_envelope", nil, gupshupDelivered, providers.ProviderGupshup},
		{"twilio_message_sid", nil, twilioUndelivered, providers.ProviderTwilio},
		{"generic_flat", nil, genericRead, providers.ProviderGeneric},
		{"unknown_shape", nil, `{"hello":"world"}`, providers.ProviderUnknown},
		{"invalid_json", nil, `{"hello":`, providers.ProviderUnknown},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := registry.Detect(tc.headers, []byte(tc.payload)); got != tc.want {
				t.Fatalf("Detect = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestGupshupNormalize(t *testing.T) {
	adapter := providers.NewGupshupAdapter()

	events, err := adapter.Normalize([]byte(gupshupDelivered))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	event := events[0]
	if event.EventType != messagedomain.EventTypeDelivered {
		t.Fatalf("event type = %s, want delivered", event.EventType)
	}
	if event.ProviderMessageID != "gBEGkYiEB1VXAglK1ZEqA1YKPrU" {
		t.Fatalf("provider message id = %s", event.ProviderMessageID)
	}
	if event.ProviderEventID != "c3f6a835-4b3f-4c2e-9a7e-2f1a3b4c5d6e" {
		t.Fatalf("provider event id = %s", event.ProviderEventID)
	}
	want := time.Unix(1767225600, 0).UTC()
	if !event.EventTimestamp.Equal(want) {
		t.Fatalf("timestamp = %v, want %v", event.EventTimestamp, want)
	}
	if event.Destination != "6281234567890" {
		t.Fatalf("destination = %s", event.Destination)
	}
}

func TestGupshupFailureDetail(t *testing.T) {
	adapter := providers.NewGupshupAdapter()

	events, err := adapter.Normalize([]byte(gupshupFailed))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	event := events[0]
	if event.EventType != messagedomain.EventTypeFailed {
		t.Fatalf("event type = %s, want failed", event.EventType)
	}
	if event.StatusCode != "1002" {
		t.Fatalf("status code = %s, want 1002", event.StatusCode)
	}
	if event.ErrorReason != "Number Does Not Exists On WhatsApp" {
		t.Fatalf("error reason = %s", event.ErrorReason)
	}
}

func TestMetaNormalizeBatchesStatuses(t *testing.T) {
	adapter := providers.NewMetaAdapter()

	events, err := adapter.Normalize([]byte(metaStatusBatch))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[0].EventType != messagedomain.EventTypeSent || events[1].EventType != messagedomain.EventTypeDelivered {
		t.Fatalf("event types = [%s %s]", events[0].EventType, events[1].EventType)
	}
	if events[0].ProviderMessageID != events[1].ProviderMessageID {
		t.Fatal("batch entries must share the provider message id")
	}
	if !events[1].EventTimestamp.Equal(time.Unix(1767225604, 0).UTC()) {
		t.Fatalf("delivered timestamp = %v", events[1].EventTimestamp)
	}
}

func TestMetaNormalizeFailureErrors(t *testing.T) {
	adapter := providers.NewMetaAdapter()

	events, err := adapter.Normalize([]byte(metaFailed))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	event := events[0]
	if event.EventType != messagedomain.EventTypeFailed {
		t.Fatalf("event type = %s, want failed", event.EventType)
	}
	if event.StatusCode != "131026" {
		t.Fatalf("status code = %s, want 131026", event.StatusCode)
	}
	if event.ErrorReason != "Recipient is not a valid WhatsApp user" {
		t.Fatalf("error reason = %s", event.ErrorReason)
	}
}

func TestMetaCategorizeInbound(t *testing.T) {
	adapter := providers.NewMetaAdapter()

	if got := adapter.Categorize([]byte(metaInbound)); got != messagedomain.EventTypeInbound {
		t.Fatalf("categorize = %s, want inbound", got)
	}
	events, err := adapter.Normalize([]byte(metaInbound))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if events[0].ProviderMessageID != "wamid.HBgLNjI4MTIzNDU2Nzg5MBUCABIYFjNFQjBDMUM4" {
		t.Fatalf("provider message id = %s", events[0].ProviderMessageID)
	}
}

func TestTwilioNormalize(t *testing.T) {
	adapter := providers.NewTwilioAdapter()

	events, err := adapter.Normalize([]byte(twilioUndelivered))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	event := events[0]
	if event.EventType != messagedomain.EventTypeFailed {
		t.Fatalf("event type = %s, want failed", event.EventType)
	}
	if event.ProviderMessageID != "SM8f27bca0a2e94d6f9a3c1b5d7e9f0a1b" {
		t.Fatalf("provider message id = %s", event.ProviderMessageID)
	}
	if event.Destination != "+6281234567890" {
		t.Fatalf("destination = %s", event.Destination)
	}
	if event.StatusCode != "63024" {
		t.Fatalf("status code = %s", event.StatusCode)
	}
}

func TestGenericNormalizeMapsSeenToRead(t *testing.T) {
	adapter := providers.NewGenericAdapter()

	events, err := adapter.Normalize([]byte(genericRead))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	event := events[0]
	if event.EventType != messagedomain.EventTypeRead {
		t.Fatalf("event type = %s, want read", event.EventType)
	}
	if event.ProviderEventID != "evt-42-read" {
		t.Fatalf("provider event id = %s", event.ProviderEventID)
	}
}

func TestUnmappedStatusDefaultsToPending(t *testing.T) {
	adapter := providers.NewGenericAdapter()

	events, err := adapter.Normalize([]byte(`{"event":"carrier_handoff","message_id":"msg-9"}`))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if events[0].EventType != messagedomain.EventTypePending {
		t.Fatalf("event type = %s, want pending", events[0].EventType)
	}
}

func TestKnownPreSendStatusesMapToPending(t *testing.T) {
	gupshup := providers.NewGupshupAdapter()
	if got := gupshup.Categorize([]byte(`{"type":"message-event","payload":{"type":"enqueued"}}`)); got != messagedomain.EventTypePending {
		t.Fatalf("gupshup enqueued = %s, want pending", got)
	}

	twilio := providers.NewTwilioAdapter()
	if got := twilio.Categorize([]byte(`{"MessageSid":"SM1","MessageStatus":"queued"}`)); got != messagedomain.EventTypePending {
		t.Fatalf("twilio queued = %s, want pending", got)
	}
	if got := twilio.Categorize([]byte(`{"MessageSid":"SM1","MessageStatus":"sending"}`)); got != messagedomain.EventTypeSending {
		t.Fatalf("twilio sending = %s, want sending", got)
	}
}
