// Package http exposes the approver API, the bridge relay endpoints and
// metrics over gin.
package http

import (
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	walletkit "github.com/layer-3/walletkit"
	"github.com/layer-3/walletkit/internal/metrics"
	"github.com/layer-3/walletkit/ports"
	"github.com/layer-3/walletkit/transport/remote"
)

// Server holds the collaborators of the HTTP handlers.
type Server struct {
	tenants  *walletkit.Tenants
	tokens   ports.Tokenizer
	relay    *remote.Relay
	logger   logrus.FieldLogger
	upgrader websocket.Upgrader
}

// SetupRouter builds the gin engine. relay may be nil, which disables the
// bridge endpoints.
func SetupRouter(tenants *walletkit.Tenants, tokens ports.Tokenizer, relay *remote.Relay, logger logrus.FieldLogger) *gin.Engine {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Server{
		tenants: tenants,
		tokens:  tokens,
		relay:   relay,
		logger:  logger.WithField("component", "http"),
	}

	router := gin.New()
	router.Use(gin.Recovery(), metrics.GinMiddleware())
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	router.GET("/healthz", func(c *gin.Context) { c.JSON(200, gin.H{"status": "ok"}) })

	api := router.Group("/api")
	api.Use(AuthMiddleware(tokens), s.kitMiddleware())
	{
		api.GET("/requests", s.listRequests)
		api.GET("/requests/stream", s.streamRequests)
		api.GET("/requests/:id", s.getRequest)
		api.GET("/requests/:id/preview", s.previewRequest)
		api.POST("/requests/:id/approve", s.approveRequest)
		api.POST("/requests/:id/reject", s.rejectRequest)

		api.GET("/sessions", s.listSessions)
		api.DELETE("/sessions/:id", s.disconnectSession)
		api.DELETE("/sessions", s.disconnectAll)

		api.GET("/wallets", s.listWallets)
		api.POST("/wallets", s.createWallet)
		api.POST("/wallets/import", s.importWallet)
		api.GET("/wallets/:id/balance", s.walletBalance)
		api.DELETE("/wallets/:id", s.deleteWallet)

		api.GET("/usage", s.usage)
		api.POST("/connect", s.connect)
	}

	if relay != nil {
		bridge := router.Group("/bridge")
		bridge.POST("/message", s.bridgeMessage)
		bridge.GET("/events", s.bridgeEvents)
	}
	return router
}
