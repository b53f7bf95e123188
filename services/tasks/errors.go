package tasks

import "errors"

var (
	ErrNotFound          = errors.New("task not found")
	ErrTaskExists        = errors.New("task already exists")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrStaleProgress     = errors.New("progress would move backwards")

	ErrPermanentDelivery = errors.New("callback rejected by receiver")
	ErrDeliveryExhausted = errors.New("callback retries exhausted")
)
