package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	walletkit "github.com/layer-3/walletkit"
	"github.com/layer-3/walletkit/adapters/keystore"
	"github.com/layer-3/walletkit/core"
	"github.com/layer-3/walletkit/router"
	"github.com/layer-3/walletkit/transport/remote"
	"github.com/layer-3/walletkit/wallet"
)

// statusFor maps an error to the HTTP status reported to approvers.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrRequestNotFound),
		errors.Is(err, core.ErrSessionNotFound),
		errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrNoLongerPending),
		errors.Is(err, core.ErrConflict),
		errors.Is(err, core.ErrWalletExists),
		errors.Is(err, core.ErrSessionExists):
		return http.StatusConflict
	case errors.Is(err, core.ErrStaleRequest):
		return http.StatusGone
	case errors.Is(err, core.ErrQuotaExceeded):
		return http.StatusForbidden
	case errors.Is(err, core.ErrInvalidUserID),
		errors.Is(err, core.ErrDecode),
		errors.Is(err, router.ErrWalletRequired),
		errors.Is(err, keystore.ErrInvalidMnemonic),
		errors.Is(err, remote.ErrInvalidEnvelope):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, walletkit.ErrRemoteDisabled),
		errors.Is(err, wallet.ErrNoChain),
		errors.Is(err, core.ErrTransportUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, core.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.WithError(err).WithField("path", c.FullPath()).Error("request failed")
		c.JSON(status, gin.H{"error": http.StatusText(status)})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}
