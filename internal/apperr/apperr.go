// Package apperr defines the error kinds shared by the inference pipeline.
// Callers wrap them with fmt.Errorf("%w: ...") and classify with errors.Is.
package apperr

import "errors"

var (
	// ErrConfig means the class mapping could not be loaded and no fallback
	// could be derived.
	ErrConfig = errors.New("config error")
	// ErrModelLoad means the model artifact is missing or unreadable.
	ErrModelLoad = errors.New("model load error")

	ErrNoFile               = errors.New("no file uploaded")
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	ErrPayloadTooLarge      = errors.New("payload too large")
	ErrInvalidImage         = errors.New("invalid image")

	// ErrInference covers any unexpected failure during preprocessing or
	// model invocation.
	ErrInference = errors.New("inference error")
	// ErrNotReady is returned while the model is still loading.
	ErrNotReady = errors.New("model not ready")
)

// IsClientError reports whether err was caused by the caller's input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrNoFile) ||
		errors.Is(err, ErrUnsupportedMediaType) ||
		errors.Is(err, ErrPayloadTooLarge) ||
		errors.Is(err, ErrInvalidImage)
}
