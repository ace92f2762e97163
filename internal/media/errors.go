package media

import "errors"

var (
	// ErrUnresolvable indicates no validated content could be obtained for
	// an inbound media reference.
	ErrUnresolvable = errors.New("media: content could not be resolved")
	// ErrTooLarge indicates a payload exceeds the configured cap.
	ErrTooLarge = errors.New("media: payload too large")
)
