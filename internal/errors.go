package bhasha

import (
	"errors"
	"net/http"
)

// Canonical error codes carried in the response envelope. These strings
// are part of the public API contract.
const (
	CodeMissingQuery      = "missing_query"
	CodeInvalidJSON       = "invalid_json"
	CodeBadRequest        = "bad_request"
	CodePayloadTooLarge   = "payload_too_large"
	CodeUnsupportedMedia  = "unsupported_media_type"
	CodeInvalidAPIKey     = "invalid_api_key"
	CodeUnauthorized      = "unauthorized"
	CodeForbidden         = "forbidden"
	CodeNotFound          = "not_found"
	CodeRateLimited       = "rate_limited"
	CodeStoreUnavailable  = "store_unavailable"
	CodeQuotaUnavailable  = "quota_unavailable"
	CodeUpstreamDown      = "upstream_unavailable"
	CodeUpstreamTimeout   = "upstream_timeout"
	CodeBadSignature      = "bad_signature"
)

// Sentinel errors for the service domain.
var (
	ErrNotFound         = errors.New("not found")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrForbidden        = errors.New("forbidden")
	ErrRateLimited      = errors.New("rate limited")
	ErrBadRequest       = errors.New("bad request")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrQuotaUnavailable = errors.New("quota unavailable")
)

// statusByCode maps canonical codes to HTTP status codes.
var statusByCode = map[string]int{
	CodeMissingQuery:     http.StatusBadRequest,
	CodeInvalidJSON:      http.StatusBadRequest,
	CodeBadRequest:       http.StatusBadRequest,
	CodeBadSignature:     http.StatusBadRequest,
	CodePayloadTooLarge:  http.StatusRequestEntityTooLarge,
	CodeUnsupportedMedia: http.StatusUnsupportedMediaType,
	CodeInvalidAPIKey:    http.StatusUnauthorized,
	CodeUnauthorized:     http.StatusUnauthorized,
	CodeForbidden:        http.StatusForbidden,
	CodeNotFound:         http.StatusNotFound,
	CodeRateLimited:      http.StatusTooManyRequests,
	CodeStoreUnavailable: http.StatusServiceUnavailable,
	CodeQuotaUnavailable: http.StatusServiceUnavailable,
	CodeUpstreamDown:     http.StatusBadGateway,
	CodeUpstreamTimeout:  http.StatusGatewayTimeout,
}

// StatusForCode returns the HTTP status for a canonical error code,
// defaulting to 500 for unknown codes.
func StatusForCode(code string) int {
	if s, ok := statusByCode[code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// CodeForStatus maps an upstream HTTP status back to a canonical code.
// Used by the edge when normalizing origin error responses that arrive
// without a parseable envelope.
func CodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return CodeBadRequest
	case http.StatusUnauthorized:
		return CodeUnauthorized
	case http.StatusForbidden:
		return CodeForbidden
	case http.StatusNotFound:
		return CodeNotFound
	case http.StatusRequestEntityTooLarge:
		return CodePayloadTooLarge
	case http.StatusUnsupportedMediaType:
		return CodeUnsupportedMedia
	case http.StatusTooManyRequests:
		return CodeRateLimited
	case http.StatusServiceUnavailable:
		return CodeStoreUnavailable
	case http.StatusGatewayTimeout:
		return CodeUpstreamTimeout
	default:
		return CodeUpstreamDown
	}
}
