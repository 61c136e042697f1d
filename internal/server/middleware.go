package server

import (
	"strings"

	"github.com/gin-gonic/gin"

	obscontext "github.com/kirimaja/kirimaja/internal/observability/context"
	"github.com/kirimaja/kirimaja/internal/providers"
)

const (
	HeaderKlien      = "X-Klien-ID"
	contextKlienKey  = "klien_id"
	webhooksEndpoint = "/webhooks"
)

// KlienContext propagates the tenant header into the request context so the
// audit trail records who asked.
func (s *Server) KlienContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		klienID := strings.TrimSpace(c.GetHeader(HeaderKlien))
		if klienID != "" {
			c.Set(contextKlienKey, klienID)
			ctx := obscontext.WithKlienID(c.Request.Context(), klienID)
			c.Request = c.Request.WithContext(ctx)
		}
		c.Next()
	}
}

// IngressRateLimit throttles webhook deliveries per provider and per caller
// address. Providers retry on 429, so shedding here loses nothing.
func (s *Server) IngressRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Enabled() {
			c.Next()
			return
		}

		provider := strings.ToLower(strings.TrimSpace(c.Param("provider")))
		if provider == "" {
			provider = providers.ProviderUnknown
		}
		ctx := c.Request.Context()

		decision, err := s.limiter.AllowProvider(ctx, provider)
		if err == nil && decision.Allowed {
			decision, err = s.limiter.AllowSource(ctx, provider, c.ClientIP())
		}
		if err != nil {
			// redis trouble must not drop provider traffic
			c.Next()
			return
		}
		if !decision.Allowed {
			if s.obsMetrics != nil {
				s.obsMetrics.RecordRateLimitDenied(ctx, provider, webhooksEndpoint, "bucket_exhausted")
			}
			if decision.RetryAfter > 0 {
				c.Header("Retry-After", formatRetryAfter(decision.RetryAfter))
			}
			AbortWithError(c, ErrTooManyRequests)
			return
		}

		if s.obsMetrics != nil {
			s.obsMetrics.RecordRateLimitAllowed(ctx, provider, webhooksEndpoint)
		}
		c.Next()
	}
}
