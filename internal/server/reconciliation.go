package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	recondomain "github.com/kirimaja/kirimaja/internal/reconciliation/domain"
	reconrepo "github.com/kirimaja/kirimaja/internal/reconciliation/repository"
)

type triggerRunRequest struct {
	PeriodType string `json:"period_type"`
	ReportDate string `json:"report_date"`
	Force      bool   `json:"force"`
}

// TriggerReconciliationRun starts a run on demand. Without force it returns
// the authoritative report for the period if one already exists.
func (s *Server) TriggerReconciliationRun(c *gin.Context) {
	var req triggerRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	reportDate := time.Now().UTC()
	if strings.TrimSpace(req.ReportDate) != "" {
		parsed, err := time.Parse(dateOnlyLayout, strings.TrimSpace(req.ReportDate))
		if err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		reportDate = parsed
	}

	periodType := recondomain.PeriodType(strings.ToLower(strings.TrimSpace(req.PeriodType)))
	report, err := s.reconSvc.Run(c.Request.Context(), periodType, reportDate, req.Force)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": report})
}

func (s *Server) ListReconciliationRuns(c *gin.Context) {
	limit := parseLimit(c.Query("limit"), 50, 500)
	reports, err := s.reconSvc.ListReports(c.Request.Context(), limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": reports})
}

func (s *Server) GetReconciliationRun(c *gin.Context) {
	id, err := parseSnowflakeParam(c.Param("id"))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	report, anomalies, err := s.reconSvc.Report(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": report, "anomalies": anomalies})
}

func (s *Server) ListReconciliationAnomalies(c *gin.Context) {
	filter := reconrepo.AnomalyFilter{
		AnomalyType:      recondomain.AnomalyType(strings.TrimSpace(c.Query("anomaly_type"))),
		Severity:         recondomain.Severity(strings.TrimSpace(c.Query("severity"))),
		ResolutionStatus: recondomain.ResolutionStatus(strings.TrimSpace(c.Query("resolution_status"))),
		Limit:            parseLimit(c.Query("limit"), 100, 1000),
	}
	if reportParam := strings.TrimSpace(c.Query("report_id")); reportParam != "" {
		reportID, err := parseSnowflakeParam(reportParam)
		if err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		filter.ReportID = reportID
	}

	anomalies, err := s.reconSvc.ListAnomalies(c.Request.Context(), filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"anomalies": anomalies})
}

type reviewAnomalyRequest struct {
	Reviewer string `json:"reviewer"`
}

func (s *Server) ReviewReconciliationAnomaly(c *gin.Context) {
	id, err := parseSnowflakeParam(c.Param("id"))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	var req reviewAnomalyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	if strings.TrimSpace(req.Reviewer) == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	anomaly, err := s.reconSvc.StartReview(c.Request.Context(), id, strings.TrimSpace(req.Reviewer))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"anomaly": anomaly})
}

type resolveAnomalyRequest struct {
	Status   string `json:"status"`
	Notes    string `json:"notes"`
	Resolver string `json:"resolver"`
}

func (s *Server) ResolveReconciliationAnomaly(c *gin.Context) {
	id, err := parseSnowflakeParam(c.Param("id"))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	var req resolveAnomalyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	if strings.TrimSpace(req.Resolver) == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	status := recondomain.ResolutionStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	anomaly, err := s.reconSvc.Resolve(c.Request.Context(), id, status, strings.TrimSpace(req.Notes), strings.TrimSpace(req.Resolver))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"anomaly": anomaly})
}
