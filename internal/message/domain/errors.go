package domain

import "errors"

var (
	ErrInvalidEvent     = errors.New("invalid_event")
	ErrInvalidProvider  = errors.New("invalid_provider")
	ErrMessageNotFound  = errors.New("message_not_found")
	ErrInvalidKlien     = errors.New("invalid_klien")
	ErrInvalidTimeRange = errors.New("invalid_time_range")
)
