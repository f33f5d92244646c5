package apperror

// Code represents a unique error code for the application
type Code string

// General error codes
const (
	CodeInvalidInput    Code = "INVALID_INPUT"
	CodeInvalidState    Code = "INVALID_STATE"
	CodeNotFound        Code = "NOT_FOUND"
	CodeValidationError Code = "VALIDATION_ERROR"

	CodeConfigurationError Code = "CONFIGURATION_ERROR"

	CodeServiceTimeout     Code = "SERVICE_TIMEOUT"
	CodeServiceUnavailable Code = "SERVICE_UNAVAILABLE"
	CodeRateLimitExceeded  Code = "RATE_LIMIT_EXCEEDED"

	CodeInternalError Code = "INTERNAL_ERROR"
	CodeUnknownError  Code = "UNKNOWN_ERROR"
)

// Upstream-specific error codes
const (
	// Connection and streaming
	CodeUpstreamConnectionFailed Code = "UPSTREAM_CONNECTION_FAILED"
	CodeUpstreamStreamClosed     Code = "UPSTREAM_STREAM_CLOSED"
	CodeUpstreamRPCError         Code = "UPSTREAM_RPC_ERROR"
	CodeUnknownUpstream          Code = "UNKNOWN_UPSTREAM"
	CodeUnknownChain             Code = "UNKNOWN_CHAIN"

	// Head selection
	CodeInvalidHeadNotification Code = "INVALID_HEAD_NOTIFICATION"
	CodeHeadFetchFailed         Code = "HEAD_FETCH_FAILED"
	CodeHeadFetchTimeout        Code = "HEAD_FETCH_TIMEOUT"
	CodeBlockNotFound           Code = "BLOCK_NOT_FOUND"

	// WebSocket errors
	CodeWebSocketConnectionError Code = "WEBSOCKET_CONNECTION_ERROR"
	CodeWebSocketClosed          Code = "WEBSOCKET_CLOSED"
	CodeWebSocketSendError       Code = "WEBSOCKET_SEND_ERROR"

	// Circuit breaker errors
	CodeCircuitOpen     Code = "CIRCUIT_OPEN"
	CodeCircuitHalfOpen Code = "CIRCUIT_HALF_OPEN"
)
