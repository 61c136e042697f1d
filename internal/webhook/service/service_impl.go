package service

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/kirimaja/kirimaja/internal/audit/masking"
	"github.com/kirimaja/kirimaja/internal/clock"
	messagedomain "github.com/kirimaja/kirimaja/internal/message/domain"
	obsmetrics "github.com/kirimaja/kirimaja/internal/observability/metrics"
	"github.com/kirimaja/kirimaja/internal/providers"
	webhookdomain "github.com/kirimaja/kirimaja/internal/webhook/domain"
	webhookrepo "github.com/kirimaja/kirimaja/internal/webhook/repository"
	"github.com/kirimaja/kirimaja/internal/webhook/verifier"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Adapters   *providers.Registry
	Verifier   *verifier.Verifier
	Repo       webhookrepo.Repository
	MessageSvc messagedomain.Service
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	adapters   *providers.Registry
	verifier   *verifier.Verifier
	repo       webhookrepo.Repository
	messageSvc messagedomain.Service
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("webhook.ingest"),
		genID:      p.GenID,
		clock:      p.Clock,
		adapters:   p.Adapters,
		verifier:   p.Verifier,
		repo:       p.Repo,
		messageSvc: p.MessageSvc,
		obsMetrics: p.ObsMetrics,
	}
}

// IngestRequest is everything the transport hands over for one call.
type IngestRequest struct {
	Provider string // from the route; empty means detect from the call
	Endpoint string
	Method   string
	Body     []byte
	Headers  http.Header
	SourceIP string
}

// IngestResult tells the transport what to answer. StatusCode follows the
// provider-retry contract: 200 for anything processed (domain errors
// included), 400 only for unparseable JSON, 401 only for a failed signature.
type IngestResult struct {
	StatusCode int
	Message    string
	Provider   string
	ReceiptID  snowflake.ID
	Outcomes   []messagedomain.ApplyResult
}

func (s *Service) Ingest(ctx context.Context, req IngestRequest) (IngestResult, error) {
	provider := strings.ToLower(strings.TrimSpace(req.Provider))
	if provider == "" || !s.adapters.ProviderExists(provider) {
		provider = s.adapters.Detect(req.Headers, req.Body)
	}

	// The receipt is written before anything can reject the call. Storage
	// failure here is the one case the provider should retry.
	receipt, err := s.record(ctx, provider, req)
	if err != nil {
		return IngestResult{}, err
	}

	result := IngestResult{Provider: provider, ReceiptID: receipt.ID}
	outcome := webhookdomain.ReceiptOutcome{}

	verification := s.verifier.Verify(provider, req.Body, req.Headers)
	outcome.Authenticated = verification.Authenticated
	if verification.SecretConfigured {
		valid := verification.Authenticated
		outcome.SignatureValid = &valid
	}
	if !verification.Authenticated && verification.Valid {
		s.log.Warn("webhook accepted without signature verification",
			zap.String("provider", provider),
			zap.String("endpoint", req.Endpoint),
		)
	}
	if !verification.Valid {
		result.StatusCode = http.StatusUnauthorized
		result.Message = "signature verification failed"
		return s.finalize(ctx, receipt.ID, result, outcome)
	}

	if !json.Valid(req.Body) {
		result.StatusCode = http.StatusBadRequest
		result.Message = "request body is not valid JSON"
		return s.finalize(ctx, receipt.ID, result, outcome)
	}
	outcome.ParsedSuccessfully = true

	adapter, ok := s.adapters.Adapter(provider)
	if !ok {
		// Valid JSON from a shape nobody claims: keep the evidence, answer
		// 200 so the sender does not retry-storm.
		result.StatusCode = http.StatusOK
		result.Message = "unrecognized provider payload recorded"
		return s.finalize(ctx, receipt.ID, result, outcome)
	}

	events, err := adapter.Normalize(req.Body)
	if err != nil {
		result.StatusCode = http.StatusOK
		result.Message = "payload did not normalize to any event"
		return s.finalize(ctx, receipt.ID, result, outcome)
	}

	for i := range events {
		events[i].WebhookSignature = verification.Signature
		events[i].ReceivedAt = receipt.ReceivedAt
		applied, err := s.messageSvc.Apply(ctx, events[i])
		if err != nil {
			// Storage failures surface as 200 per the retry contract; the
			// receipt keeps the failure message for operators.
			s.log.Error("event apply failed",
				zap.String("provider", provider),
				zap.String("provider_message_id", events[i].ProviderMessageID),
				zap.Error(err),
			)
			result.Message = "event processing failed"
			continue
		}
		result.Outcomes = append(result.Outcomes, applied)
		if outcome.MessageEventID == nil && applied.Event != nil {
			id := applied.Event.ID
			outcome.MessageEventID = &id
		}
	}

	result.StatusCode = http.StatusOK
	if result.Message == "" {
		result.Message = "processed"
	}
	return s.finalize(ctx, receipt.ID, result, outcome)
}

func (s *Service) record(ctx context.Context, provider string, req IngestRequest) (*webhookdomain.WebhookReceipt, error) {
	headerJSON, err := json.Marshal(flattenHeaders(req.Headers))
	if err != nil {
		headerJSON = []byte("{}")
	}

	receipt := &webhookdomain.WebhookReceipt{
		ID:             s.genID.Generate(),
		Provider:       provider,
		Endpoint:       req.Endpoint,
		Method:         req.Method,
		RawBody:        string(req.Body),
		Headers:        datatypes.JSON(headerJSON),
		ContentType:    headerValue(req.Headers, "Content-Type"),
		SignatureValue: signatureHeader(req.Headers),
		SourceIP:       req.SourceIP,
		UserAgent:      headerValue(req.Headers, "User-Agent"),
		ReceivedAt:     s.clock.Now(),
	}
	if err := s.repo.Record(ctx, s.db, receipt); err != nil {
		return nil, err
	}
	return receipt, nil
}

func (s *Service) finalize(ctx context.Context, id snowflake.ID, result IngestResult, outcome webhookdomain.ReceiptOutcome) (IngestResult, error) {
	outcome.ResponseCode = result.StatusCode
	outcome.ResponseMessage = result.Message
	outcome.FinalizedAt = s.clock.Now()
	if err := s.repo.Finalize(ctx, s.db, id, outcome); err != nil {
		s.log.Error("receipt finalize failed", zap.Int64("receipt_id", int64(id)), zap.Error(err))
	}
	if s.obsMetrics != nil {
		s.obsMetrics.RecordWebhookReceipt(ctx, result.Provider, receiptOutcomeLabel(result.StatusCode))
	}
	return result, nil
}

// Challenge answers the GET subscription handshake (hub.mode/hub.verify_token/
// hub.challenge).
func (s *Service) Challenge(mode, token, challenge string) (string, error) {
	echo, ok := s.verifier.VerifyChallenge(mode, token, challenge)
	if !ok {
		return "", webhookdomain.ErrInvalidChallenge
	}
	return echo, nil
}

func receiptOutcomeLabel(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusBadRequest:
		return "unparseable"
	default:
		return "processed"
	}
}

func headerValue(headers http.Header, key string) string {
	if headers == nil {
		return ""
	}
	return headers.Get(key)
}

func signatureHeader(headers http.Header) string {
	if headers == nil {
		return ""
	}
	for _, key := range []string{"X-Hub-Signature-256", "X-Gupshup-Signature", "X-Twilio-Signature", "Authorization"} {
		if value := headers.Get(key); value != "" {
			return value
		}
	}
	return ""
}

func flattenHeaders(headers http.Header) map[string]string {
	flat := make(map[string]string, len(headers))
	for key, values := range headers {
		if len(values) == 0 {
			continue
		}
		if strings.EqualFold(key, "Authorization") {
			flat[key] = masking.MaskSecret(values[0])
			continue
		}
		flat[key] = values[0]
	}
	return flat
}
