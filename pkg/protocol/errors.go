package protocol

// Error codes returned in the "error" field of JSON API responses.
const (
	ErrInvalidRequest = "invalid_request"
	ErrInternal       = "internal_error"
	ErrLinkingTimeout = "linking_timeout"
	ErrSendFailed     = "send_failed"
	ErrUnauthorized   = "unauthorized"
	ErrRateLimited    = "rate_limited"
	ErrNotFound       = "not_found"
)
