package notify

import "errors"

var (
	// ErrNotFound is returned when a notification does not exist for the
	// given recipient. Cross-user access surfaces the same way.
	ErrNotFound = errors.New("notification not found")

	// ErrInvalidInput is returned for empty recipient or message.
	ErrInvalidInput = errors.New("invalid input")
)
