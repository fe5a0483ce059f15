package protocol

import (
	"errors"

	"github.com/layer-3/walletkit/core"
)

// ErrorFromCause maps an internal failure to the error code reported to
// the dApp.
func ErrorFromCause(err error) ErrorCode {
	switch {
	case err == nil:
		return ErrorUnknown
	case errors.Is(err, core.ErrDecode),
		errors.Is(err, core.ErrConflict),
		errors.Is(err, core.ErrRateLimited):
		return ErrorBadRequest
	case errors.Is(err, core.ErrSessionNotFound),
		errors.Is(err, core.ErrSessionClosed),
		errors.Is(err, core.ErrNotFound):
		return ErrorUnknownApp
	case errors.Is(err, core.ErrQuotaExceeded):
		return ErrorUserDeclined
	case errors.Is(err, core.ErrTimeout),
		errors.Is(err, core.ErrStaleRequest):
		return ErrorTimeout
	default:
		return ErrorUnknown
	}
}

// ErrorResponseFromCause builds the error response for a failed request.
func ErrorResponseFromCause(id string, err error) *Response {
	return NewErrorResponse(id, ErrorFromCause(err), err.Error())
}
