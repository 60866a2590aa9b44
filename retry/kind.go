package retry

import (
	"errors"
	"strings"

	"github.com/martinemde/turnengine/unifiedllm"
)

// ErrorKind is the closed classification of spec section 4.5.
type ErrorKind string

const (
	KindRateLimited            ErrorKind = "rate_limited"
	KindNetworkError           ErrorKind = "network_error"
	KindServerError            ErrorKind = "server_error"
	KindBusy                   ErrorKind = "busy"
	KindTimeout                ErrorKind = "timeout"
	KindTokenLimit             ErrorKind = "token_limit"
	KindContextLengthExceeded  ErrorKind = "context_length_exceeded"
	KindAuth                   ErrorKind = "auth"
	KindInvalidRequest         ErrorKind = "invalid_request"
	KindUnknown                ErrorKind = "unknown"
)

// Classify maps an error from the unifiedllm hierarchy (or any other error)
// to an ErrorKind, falling back to substring sniffing for errors that
// didn't flow through unifiedllm's own translateError (e.g. errors raised
// directly by dispatch or compaction). Type-based classification is tried
// first since it's exact; substring sniffing is the same last resort the
// teacher's translateError uses for untyped SDK errors.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}

	var rateLimit *unifiedllm.RateLimitError
	var serverErr *unifiedllm.ServerError
	var timeoutErr *unifiedllm.RequestTimeoutError
	var networkErr *unifiedllm.NetworkError
	var contextLenErr *unifiedllm.ContextLengthError
	var authErr *unifiedllm.AuthenticationError
	var accessDeniedErr *unifiedllm.AccessDeniedError
	var invalidReqErr *unifiedllm.InvalidRequestError
	var quotaErr *unifiedllm.QuotaExceededError

	switch {
	case errors.As(err, &rateLimit):
		return KindRateLimited
	case errors.As(err, &serverErr):
		return KindServerError
	case errors.As(err, &timeoutErr):
		return KindTimeout
	case errors.As(err, &networkErr):
		return KindNetworkError
	case errors.As(err, &contextLenErr):
		return KindContextLengthExceeded
	case errors.As(err, &authErr), errors.As(err, &accessDeniedErr):
		return KindAuth
	case errors.As(err, &invalidReqErr):
		return KindInvalidRequest
	case errors.As(err, &quotaErr):
		return KindTokenLimit
	}

	msg := strings.ToLower(err.Error())

	// Priority on ambiguous matches, per spec section 4.5: rate-limit >
	// network > server > busy > timeout > token-limit > context-length —
	// e.g. a message containing both "connection" and "timeout" classifies
	// as NetworkError, not Timeout.
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "rate_limit"):
		return KindRateLimited
	case strings.Contains(msg, "connection reset") || strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection timeout") || strings.Contains(msg, "no such host") || strings.Contains(msg, "eof"):
		return KindNetworkError
	case strings.Contains(msg, "500") || strings.Contains(msg, "502") || strings.Contains(msg, "503") ||
		strings.Contains(msg, "504") || strings.Contains(msg, "internal server") || strings.Contains(msg, "service unavailable"):
		return KindServerError
	case strings.Contains(msg, "overloaded") || strings.Contains(msg, "529") || strings.Contains(msg, "busy"):
		return KindBusy
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return KindTimeout
	case strings.Contains(msg, "token limit") || strings.Contains(msg, "quota"):
		return KindTokenLimit
	case strings.Contains(msg, "context length") || strings.Contains(msg, "too many tokens") ||
		strings.Contains(msg, "maximum context"):
		return KindContextLengthExceeded
	case strings.Contains(msg, "401") || strings.Contains(msg, "403") || strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "invalid api key") || strings.Contains(msg, "invalid_api_key") || strings.Contains(msg, "forbidden"):
		return KindAuth
	case strings.Contains(msg, "400") || strings.Contains(msg, "invalid request") ||
		strings.Contains(msg, "422") || strings.Contains(msg, "validation"):
		return KindInvalidRequest
	default:
		return KindUnknown
	}
}

// IsRecoverable reports whether a turn loop should retry after this kind of
// error rather than surfacing it to the user immediately (spec 4.5).
func IsRecoverable(kind ErrorKind) bool {
	switch kind {
	case KindRateLimited, KindNetworkError, KindServerError, KindBusy, KindTimeout:
		return true
	case KindTokenLimit, KindContextLengthExceeded, KindAuth, KindInvalidRequest:
		return false
	default:
		// Unknown errors are treated as recoverable, matching the teacher's
		// translateError default of wrapping unclassified errors as retryable.
		return true
	}
}
