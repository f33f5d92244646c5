package apperror

// messages maps error codes to human-readable messages
var messages = map[Code]string{
	CodeInvalidInput:    "Invalid input provided",
	CodeInvalidState:    "Invalid state for this operation",
	CodeNotFound:        "Resource not found",
	CodeValidationError: "Validation error",

	CodeConfigurationError: "Configuration error",

	CodeServiceTimeout:     "Service request timeout",
	CodeServiceUnavailable: "Service temporarily unavailable",
	CodeRateLimitExceeded:  "Rate limit exceeded",

	CodeInternalError: "Internal error",
	CodeUnknownError:  "An unknown error occurred",

	CodeUpstreamConnectionFailed: "Failed to connect to upstream",
	CodeUpstreamStreamClosed:     "Upstream head stream closed",
	CodeUpstreamRPCError:         "Upstream RPC call failed",
	CodeUnknownUpstream:          "Unknown upstream",
	CodeUnknownChain:             "Unknown chain",

	CodeInvalidHeadNotification: "Malformed head notification",
	CodeHeadFetchFailed:         "Failed to fetch head block",
	CodeHeadFetchTimeout:        "Head block fetch timed out",
	CodeBlockNotFound:           "Block not found",

	CodeWebSocketConnectionError: "WebSocket connection error",
	CodeWebSocketClosed:          "WebSocket connection closed",
	CodeWebSocketSendError:       "Failed to send WebSocket message",

	CodeCircuitOpen:     "Circuit breaker is open",
	CodeCircuitHalfOpen: "Circuit breaker is half-open",
}
