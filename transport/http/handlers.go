package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/layer-3/walletkit/core"
	"github.com/layer-3/walletkit/limits"
	"github.com/layer-3/walletkit/ports"
	"github.com/layer-3/walletkit/router"
	"github.com/layer-3/walletkit/transport/remote"
)

type walletRequest struct {
	ID      string `json:"id"`
	Network string `json:"network"`
	Version string `json:"version"`
}

type importRequest struct {
	walletRequest
	Mnemonic string `json:"mnemonic" binding:"required"`
}

type walletView struct {
	core.Wallet
	Address string `json:"address,omitempty"`
}

func (r walletRequest) spec() (ports.WalletSpec, bool) {
	spec := ports.WalletSpec{ID: r.ID, Network: core.Network(r.Network), Version: core.WalletVersion(r.Version)}
	if spec.Network != "" && !spec.Network.Valid() {
		return spec, false
	}
	if spec.Version != "" && !spec.Version.Valid() {
		return spec, false
	}
	return spec, true
}

func (s *Server) listRequests(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"requests": kitOf(c).Router().Pending()})
}

func (s *Server) getRequest(c *gin.Context) {
	req, err := kitOf(c).Router().Get(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

func (s *Server) previewRequest(c *gin.Context) {
	pv, err := kitOf(c).Router().Preview(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, pv)
}

func (s *Server) approveRequest(c *gin.Context) {
	var approval router.Approval
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&approval); err != nil {
			badRequest(c, "Invalid request")
			return
		}
	}
	req, err := kitOf(c).Router().Approve(c.Request.Context(), c.Param("id"), approval)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

func (s *Server) rejectRequest(c *gin.Context) {
	var body struct {
		Reason string `json:"reason"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			badRequest(c, "Invalid request")
			return
		}
	}
	req, err := kitOf(c).Router().Reject(c.Request.Context(), c.Param("id"), body.Reason)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

func (s *Server) listSessions(c *gin.Context) {
	filter := core.SessionFilter{
		WalletID:      c.Query("wallet_id"),
		Domain:        c.Query("domain"),
		TransportKind: core.TransportKind(c.Query("transport")),
	}
	sessions, err := kitOf(c).Sessions().GetSessions(c.Request.Context(), filter)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (s *Server) disconnectSession(c *gin.Context) {
	if err := kitOf(c).Router().Disconnect(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) disconnectAll(c *gin.Context) {
	kit := kitOf(c)
	ctx := c.Request.Context()
	sessions, err := kit.Sessions().GetSessions(ctx, core.SessionFilter{})
	if err != nil {
		s.fail(c, err)
		return
	}
	n := 0
	for _, sess := range sessions {
		err := kit.Router().Disconnect(ctx, sess.ID)
		switch {
		case err == nil:
			n++
		case statusFor(err) == http.StatusNotFound:
		default:
			s.fail(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"disconnected": n})
}

func (s *Server) listWallets(c *gin.Context) {
	kit := kitOf(c)
	ctx := c.Request.Context()
	wallets, err := kit.Wallets(ctx)
	if err != nil {
		s.fail(c, err)
		return
	}
	out := make([]walletView, 0, len(wallets))
	for _, w := range wallets {
		out = append(out, s.view(c, w))
	}
	c.JSON(http.StatusOK, gin.H{"wallets": out})
}

func (s *Server) view(c *gin.Context, w core.Wallet) walletView {
	v := walletView{Wallet: w}
	if a, err := kitOf(c).Wallet(c.Request.Context(), w.ID); err == nil {
		v.Address = a.DefaultAddress()
	}
	return v
}

func (s *Server) createWallet(c *gin.Context) {
	var req walletRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Invalid request")
			return
		}
	}
	spec, ok := req.spec()
	if !ok {
		badRequest(c, "Invalid network or version")
		return
	}
	w, err := kitOf(c).CreateWallet(c.Request.Context(), spec)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, s.view(c, *w))
}

func (s *Server) importWallet(c *gin.Context) {
	var req importRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request")
		return
	}
	spec, ok := req.spec()
	if !ok {
		badRequest(c, "Invalid network or version")
		return
	}
	w, err := kitOf(c).ImportWallet(c.Request.Context(), spec, req.Mnemonic)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, s.view(c, *w))
}

func (s *Server) walletBalance(c *gin.Context) {
	ctx := c.Request.Context()
	a, err := kitOf(c).Wallet(ctx, c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	nano, err := a.Balance(ctx)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"address": a.DefaultAddress(),
		"nano":    nano.String(),
		"ton":     limits.FromNano(nano).String(),
	})
}

func (s *Server) deleteWallet(c *gin.Context) {
	if err := kitOf(c).DeleteWallet(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) usage(c *gin.Context) {
	kit := kitOf(c)
	counter, err := kit.DailyUsage(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	resp := gin.H{"usage": counter}
	if limit := kit.Limits().Config().DailyLimitTON; limit != nil {
		remaining := decimal.Max(limit.Sub(counter.Cumulative), decimal.Zero)
		resp["daily_limit_ton"] = limit.String()
		resp["remaining_ton"] = remaining.String()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) connect(c *gin.Context) {
	var req struct {
		Link string `json:"link" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request")
		return
	}
	if _, err := remote.ParseLink(req.Link); err != nil {
		badRequest(c, err.Error())
		return
	}
	sessionID, err := kitOf(c).Connect(c.Request.Context(), req.Link)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"session_id": sessionID})
}
