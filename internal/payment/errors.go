package payment

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/noah-isme/backend-venue/internal/common"
)

// Error kinds. Every error returned by this package wraps exactly one of them.
var (
	ErrValidation     = errors.New("payment: validation failed")
	ErrAuthentication = errors.New("payment: authentication failed")
	ErrUpstream       = errors.New("payment: upstream provider failed")
	ErrTransport      = errors.New("payment: provider unreachable")
	ErrPersistence    = errors.New("payment: persistence failed")
)

// ValidationError reports caller input that was rejected before any side effect.
func ValidationError(code, message string) *common.AppError {
	return common.NewAppError(code, message, http.StatusBadRequest, ErrValidation)
}

// AmountMismatchError reports a client amount that disagrees with the server-side total.
func AmountMismatchError(expected, got int64) *common.AppError {
	return common.NewAppError("AMOUNT_MISMATCH", "amount does not match the venue price", http.StatusUnprocessableEntity, ErrValidation).
		WithDetails(map[string]int64{"expected": expected, "received": got})
}

// AuthenticationError reports a webhook whose signature did not verify.
func AuthenticationError(message string) *common.AppError {
	return common.NewAppError("INVALID_SIGNATURE", message, http.StatusBadRequest, ErrAuthentication)
}

// UpstreamError reports a non-2xx provider answer. detail is the provider's error body.
func UpstreamError(status int, detail any) *common.AppError {
	return common.NewAppError("UPSTREAM_ERROR", "payment provider rejected the request", http.StatusBadGateway,
		fmt.Errorf("%w: status %d", ErrUpstream, status)).WithDetails(detail)
}

// MalformedAnswerError reports a 2xx provider answer that does not describe an order.
func MalformedAnswerError(cause error) *common.AppError {
	return common.NewAppError("UPSTREAM_ERROR", "payment provider returned an unusable answer", http.StatusBadGateway,
		fmt.Errorf("%w: %w", ErrUpstream, cause))
}

// TransportError reports a provider call that never produced an answer.
func TransportError(cause error) *common.AppError {
	return common.NewAppError("UPSTREAM_ERROR", "payment provider unavailable", http.StatusBadGateway,
		fmt.Errorf("%w: %w: %w", ErrUpstream, ErrTransport, cause))
}

// PersistenceError reports a storage failure. The provider retries on the resulting 500.
func PersistenceError(message string, cause error) *common.AppError {
	return common.NewAppError("PERSISTENCE_ERROR", message, http.StatusInternalServerError,
		fmt.Errorf("%w: %w", ErrPersistence, cause))
}
