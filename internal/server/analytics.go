package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// GetDeliveryRates returns delivery/failure/read rates and timing percentiles
// for a klien over a time range.
func (s *Server) GetDeliveryRates(c *gin.Context) {
	klienID, err := parseRequiredKlien(c.GetHeader(HeaderKlien))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	from, err := parseOptionalTime(c.Query("from"), false)
	if err != nil || from == nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	to, err := parseOptionalTime(c.Query("to"), true)
	if err != nil || to == nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	summary, err := s.analytics.Rates(c.Request.Context(), klienID, *from, *to)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// GetHourlyBuckets returns the 24 per-hour event counts for one UTC day.
func (s *Server) GetHourlyBuckets(c *gin.Context) {
	klienID, err := parseRequiredKlien(c.GetHeader(HeaderKlien))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	day := time.Now().UTC()
	if parsed, parseErr := parseOptionalTime(c.Query("day"), false); parseErr != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	} else if parsed != nil {
		day = *parsed
	}

	buckets, err := s.analytics.HourlyBuckets(c.Request.Context(), klienID, day)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"day": day.Format(dateOnlyLayout), "buckets": buckets})
}
