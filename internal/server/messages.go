package server

import (
	"encoding/csv"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"

	messagedomain "github.com/kirimaja/kirimaja/internal/message/domain"
)

// GetMessageHistory returns the full audit trail for one message: the current
// aggregate, every event in order, and the webhook receipts that produced
// them. This is the dispute-handling read path.
func (s *Server) GetMessageHistory(c *gin.Context) {
	key := strings.TrimSpace(c.Param("key"))
	if key == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	log, events, err := s.messageSvc.History(c.Request.Context(), key)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	eventIDs := make([]snowflake.ID, 0, len(events))
	for _, event := range events {
		eventIDs = append(eventIDs, event.ID)
	}
	receipts, err := s.webhookRepo.ListByMessageEventIDs(c.Request.Context(), s.db, eventIDs)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":  log,
		"events":   events,
		"receipts": receipts,
	})
}

var exportColumns = []string{
	"event_id",
	"provider_message_id",
	"phone",
	"event_type",
	"event_timestamp",
	"status_before",
	"status_after",
	"status_changed",
	"error_code",
	"error_message",
	"delivery_time_seconds",
	"read_time_seconds",
	"received_at",
	"message_log_id",
	"klien_id",
	"provider_event_id",
	"is_duplicate",
	"is_out_of_order",
	"process_result",
	"processed_at",
}

// ExportMessageEvents streams the event trail for a time range as CSV, in a
// fixed column order so downstream imports stay stable.
func (s *Server) ExportMessageEvents(c *gin.Context) {
	from, err := parseOptionalTime(c.Query("from"), false)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	to, err := parseOptionalTime(c.Query("to"), true)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	if from == nil || to == nil || !from.Before(*to) {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", `attachment; filename="message_events.csv"`)
	c.Status(http.StatusOK)

	writer := csv.NewWriter(c.Writer)
	if err := writer.Write(exportColumns); err != nil {
		return
	}

	_ = s.messageRepo.ListEventsForExport(c.Request.Context(), s.db, *from, *to, func(row *messagedomain.ExportRow) error {
		return writer.Write(exportRow(row))
	})
	writer.Flush()
}

func exportRow(row *messagedomain.ExportRow) []string {
	return []string{
		row.ID.String(),
		row.ProviderMessageID,
		row.Phone,
		string(row.EventType),
		row.EventTimestamp.UTC().Format(time.RFC3339),
		string(row.StatusBefore),
		string(row.StatusAfter),
		strconv.FormatBool(row.StatusChanged),
		row.ErrorCode,
		row.ErrorMessage,
		formatSeconds(row.DeliveryTimeSeconds),
		formatSeconds(row.ReadTimeSeconds),
		row.ReceivedAt.UTC().Format(time.RFC3339),
		row.MessageLogID.String(),
		row.KlienID.String(),
		row.ProviderEventID,
		strconv.FormatBool(row.IsDuplicate),
		strconv.FormatBool(row.IsOutOfOrder),
		row.ProcessResult,
		row.ProcessedAt.UTC().Format(time.RFC3339),
	}
}

func formatSeconds(value *float64) string {
	if value == nil {
		return ""
	}
	return strconv.FormatFloat(*value, 'f', -1, 64)
}
