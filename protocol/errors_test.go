package protocol

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/layer-3/walletkit/core"
)

func TestErrorFromCause(t *testing.T) {
	cases := []struct {
		err  error
		code ErrorCode
	}{
		{&DecodeError{ID: "1", Reason: "x"}, ErrorBadRequest},
		{fmt.Errorf("wrap: %w", core.ErrConflict), ErrorBadRequest},
		{core.ErrRateLimited, ErrorBadRequest},
		{core.ErrSessionNotFound, ErrorUnknownApp},
		{fmt.Errorf("%w: wallet disconnected", core.ErrSessionClosed), ErrorUnknownApp},
		{&core.QuotaError{Reason: "daily limit"}, ErrorUserDeclined},
		{core.ErrStaleRequest, ErrorTimeout},
		{&core.SigningError{WalletID: "w", Err: errors.New("hsm down")}, ErrorUnknown},
		{errors.New("boom"), ErrorUnknown},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.code, ErrorFromCause(tc.err), tc.err.Error())
	}

	resp := ErrorResponseFromCause("9", &core.QuotaError{Reason: "exceeds maximum"})
	assert.Equal(t, "9", resp.ID)
	assert.Equal(t, ErrorUserDeclined, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "exceeds maximum")
}
