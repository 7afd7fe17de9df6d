package domain

import "errors"

// Sentinel errors shared by the indicator, scoring and exit packages.
// Callers wrap them with fmt.Errorf("...: %w", err) and test with errors.Is.
var (
	// ErrInsufficientData is returned when an indicator is asked for a period
	// longer than the bar history supplied.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrInvalidPriceInput is returned for non-positive entry or current prices.
	ErrInvalidPriceInput = errors.New("invalid price input")

	// ErrInconsistentPositionState marks a snapshot violating stop < entry < target.
	ErrInconsistentPositionState = errors.New("inconsistent position state")
)
