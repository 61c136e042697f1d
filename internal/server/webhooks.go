package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	webhookdomain "github.com/kirimaja/kirimaja/internal/webhook/domain"
	webhookservice "github.com/kirimaja/kirimaja/internal/webhook/service"
)

// HandleWebhook receives one provider callback. The response code follows the
// provider-retry contract and never leaks processing detail: 200 for anything
// the pipeline handled, 400 for unparseable JSON, 401 for a bad signature.
func (s *Server) HandleWebhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := s.webhookSvc.Ingest(c.Request.Context(), webhookservice.IngestRequest{
		Provider: strings.TrimSpace(c.Param("provider")),
		Endpoint: c.Request.URL.Path,
		Method:   c.Request.Method,
		Body:     payload,
		Headers:  c.Request.Header,
		SourceIP: c.ClientIP(),
	})
	if err != nil {
		// only receipt storage failures surface here
		AbortWithError(c, err)
		return
	}

	c.JSON(result.StatusCode, gin.H{"status": result.Message})
}

// HandleWebhookChallenge answers provider URL-ownership probes
// (hub.challenge and friends).
func (s *Server) HandleWebhookChallenge(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	echo, err := s.webhookSvc.Challenge(mode, token, challenge)
	if err != nil {
		if errors.Is(err, webhookdomain.ErrInvalidChallenge) {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		AbortWithError(c, err)
		return
	}

	c.String(http.StatusOK, echo)
}
