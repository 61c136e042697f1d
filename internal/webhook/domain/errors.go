package domain

import "errors"

var (
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrInvalidChallenge = errors.New("invalid_challenge")
	ErrReceiptNotFound  = errors.New("receipt_not_found")
	ErrReceiptFinalized = errors.New("receipt_already_finalized")
)
