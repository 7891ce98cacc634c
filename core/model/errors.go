package model

import "errors"

// Engine error taxonomy. Callers branch on these with errors.Is.
var (
	// ErrNotFound indicates an unknown recommendation, household or event id.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyProcessed indicates a mutation on a terminal recommendation.
	ErrAlreadyProcessed = errors.New("already processed")
	// ErrInvalidInput indicates missing or malformed caller input.
	ErrInvalidInput = errors.New("invalid input")
	// ErrDeviceControl wraps device-control failures. Non-fatal: callers log
	// and continue.
	ErrDeviceControl = errors.New("device control error")
	// ErrPayment wraps payment failures. Fatal for that settlement attempt
	// only; pending savings are retained for retry.
	ErrPayment = errors.New("payment error")
	// ErrNoDestination indicates the household has no payout destination.
	ErrNoDestination = errors.New("no payout destination configured")
	// ErrNotReady indicates pending savings below the payout threshold.
	ErrNotReady = errors.New("pending savings below threshold")
)
