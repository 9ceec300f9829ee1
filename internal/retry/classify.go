package retry

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// Transience is the result of classifying an error as retry-worthy or
// not, per §4.4's fixed condition set.
type Transience int

const (
	Fatal Transience = iota
	Transient
)

// HTTPError is the typed sentinel a driver wraps a vendor HTTP failure
// in, replacing the teacher's substring-matched isRateLimitError. Status
// may be 0 when the driver could not determine the response status
// (treated as transient per §4.4, "lower-level HTTP errors of
// undetermined status").
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	if e.Status == 0 {
		return "http error (status undetermined): " + e.Message
	}
	return "http error: " + e.Message
}

// VendorError is the typed sentinel drivers use for vendor-reported
// conditions that aren't naturally HTTP status codes (e.g. a Bedrock
// ThrottlingException or a Vertex RESOURCE_EXHAUSTED).
type VendorError struct {
	Code    string // "throttling" | "unavailable" | "model_not_ready" | "timeout" | "internal"
	Message string
}

func (e *VendorError) Error() string {
	return "vendor error (" + e.Code + "): " + e.Message
}

// FatalError wraps an error that must never be retried (auth, validation,
// malformed request, content-filter trips).
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

// SchemaValidationError is raised when a driver's JSON response fails
// schema validation. Per §4.4 this is explicitly transient: the model may
// simply have emitted malformed JSON, and giving it another attempt is
// cheaper than failing the whole batch.
type SchemaValidationError struct {
	Err error
}

func (e *SchemaValidationError) Error() string { return "response schema validation: " + e.Err.Error() }
func (e *SchemaValidationError) Unwrap() error { return e.Err }

var transientHTTPStatus = map[int]bool{
	http.StatusRequestTimeout:     true, // 408
	http.StatusTooManyRequests:    true, // 429
	http.StatusInternalServerError: true, // 500
	http.StatusNotImplemented:     true, // 501 (grouped into the 500-504 family)
	http.StatusBadGateway:         true, // 502
	http.StatusServiceUnavailable: true, // 503
	http.StatusGatewayTimeout:     true, // 504
}

var transientVendorCodes = map[string]bool{
	"throttling":       true,
	"unavailable":      true,
	"model_not_ready":  true,
	"timeout":          true,
	"internal":         true,
}

// Classify implements the fixed transient/fatal condition set from §4.4.
func Classify(err error) Transience {
	if err == nil {
		return Transient // no error to classify; callers never invoke this path
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Transient
	}

	var fe *FatalError
	if errors.As(err, &fe) {
		return Fatal
	}

	var sve *SchemaValidationError
	if errors.As(err, &sve) {
		return Transient
	}

	var he *HTTPError
	if errors.As(err, &he) {
		if he.Status == 0 {
			return Transient
		}
		if transientHTTPStatus[he.Status] {
			return Transient
		}
		return Fatal
	}

	var ve *VendorError
	if errors.As(err, &ve) {
		if transientVendorCodes[strings.ToLower(ve.Code)] {
			return Transient
		}
		return Fatal
	}

	// Anything unrecognized defaults to fatal per §4.4 ("Everything else
	// is fatal-by-default").
	return Fatal
}
