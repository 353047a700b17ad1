package detector

import "errors"

var (
	// ErrCaptureUnavailable wraps the source error when StartListening cannot
	// open capture. The detector stays idle and the call may be retried.
	ErrCaptureUnavailable = errors.New("detector: capture unavailable")

	// ErrInvalidConfig wraps Config.Validate failures returned by New
	ErrInvalidConfig = errors.New("detector: invalid config")
)
