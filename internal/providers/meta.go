package providers

import (
	"strings"

	messagedomain "github.com/kirimaja/kirimaja/internal/message/domain"
	"github.com/tidwall/gjson"
)

var metaStatuses = map[string]messagedomain.EventType{
	"sent":      messagedomain.EventTypeSent,
	"delivered": messagedomain.EventTypeDelivered,
	"read":      messagedomain.EventTypeRead,
	"failed":    messagedomain.EventTypeFailed,
	"deleted":   messagedomain.EventTypeSystem,
}

// MetaAdapter handles the WhatsApp Cloud API envelope:
// entry[].changes[].value with either a statuses array (delivery receipts),
// a messages array (inbound), or a template status field. One call can batch
// several receipts, so Normalize fans out.
type MetaAdapter struct{}

func NewMetaAdapter() *MetaAdapter {
	return &MetaAdapter{}
}

func (a *MetaAdapter) Provider() string {
	return ProviderMeta
}

func (a *MetaAdapter) Categorize(payload []byte) messagedomain.EventType {
	change := gjson.GetBytes(payload, "entry.0.changes.0")
	if !change.Exists() {
		return messagedomain.EventTypeUnknown
	}
	if change.Get("field").String() == "message_template_status_update" {
		return messagedomain.EventTypeTemplateStatus
	}
	value := change.Get("value")
	switch {
	case value.Get("statuses").IsArray():
		return mapStatus(metaStatuses, value.Get("statuses.0.status").String())
	case value.Get("messages").IsArray():
		return messagedomain.EventTypeInbound
	default:
		return messagedomain.EventTypeSystem
	}
}

func (a *MetaAdapter) Normalize(payload []byte) ([]messagedomain.NormalizedEvent, error) {
	if !gjson.ValidBytes(payload) {
		return nil, messagedomain.ErrInvalidEvent
	}

	var events []messagedomain.NormalizedEvent
	gjson.GetBytes(payload, "entry").ForEach(func(_, entry gjson.Result) bool {
		entry.Get("changes").ForEach(func(_, change gjson.Result) bool {
			value := change.Get("value")
			statuses := value.Get("statuses")
			if !statuses.IsArray() {
				// Inbound and template updates map onto the entry as a whole.
				events = append(events, messagedomain.NormalizedEvent{
					Provider:          ProviderMeta,
					EventType:         a.Categorize(payload),
					ProviderMessageID: strings.TrimSpace(value.Get("messages.0.id").String()),
					EventTimestamp:    unixTimestamp(value.Get("messages.0.timestamp")),
					Destination:       strings.TrimSpace(value.Get("messages.0.from").String()),
					RawPayload:        payload,
				})
				return true
			}

			statuses.ForEach(func(_, status gjson.Result) bool {
				event := messagedomain.NormalizedEvent{
					Provider:          ProviderMeta,
					EventType:         mapStatus(metaStatuses, status.Get("status").String()),
					ProviderMessageID: strings.TrimSpace(status.Get("id").String()),
					EventTimestamp:    unixTimestamp(status.Get("timestamp")),
					Destination:       strings.TrimSpace(status.Get("recipient_id").String()),
					RawPayload:        payload,
				}
				if errs := status.Get("errors"); errs.IsArray() {
					first := errs.Get("0")
					event.StatusCode = first.Get("code").String()
					event.ErrorReason = strings.TrimSpace(first.Get("title").String())
					if detail := first.Get("error_data.details").String(); detail != "" {
						event.ErrorReason = strings.TrimSpace(detail)
					}
				}
				events = append(events, event)
				return true
			})
			return true
		})
		return true
	})

	if len(events) == 0 {
		return nil, messagedomain.ErrInvalidEvent
	}
	return events, nil
}
