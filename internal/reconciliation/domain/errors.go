package domain

import "errors"

var (
	ErrInvalidPeriodType    = errors.New("invalid_period_type")
	ErrInvalidResolution    = errors.New("invalid_resolution_status")
	ErrAnomalyNotFound      = errors.New("anomaly_not_found")
	ErrAnomalyFinal         = errors.New("anomaly_already_resolved")
	ErrReportNotFound       = errors.New("report_not_found")
	ErrRunAlreadyInProgress = errors.New("run_already_in_progress")
)
