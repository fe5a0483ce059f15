package http

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/layer-3/walletkit/transport/remote"
)

const (
	maxBridgeMessage = 64 << 10
	maxBridgeTTL     = 5 * time.Minute
	heartbeatPeriod  = 15 * time.Second
)

// bridgeMessage relays one sealed message from client_id to the client id
// named by to. The body is the base64 sealed message.
func (s *Server) bridgeMessage(c *gin.Context) {
	from, to := c.Query("client_id"), c.Query("to")
	if _, err := remote.ParseClientID(from); err != nil {
		badRequest(c, "invalid client_id")
		return
	}
	if _, err := remote.ParseClientID(to); err != nil {
		badRequest(c, "invalid to")
		return
	}

	ttl := remote.DefaultMessageTTL
	if raw := c.Query("ttl"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs <= 0 {
			badRequest(c, "invalid ttl")
			return
		}
		ttl = min(time.Duration(secs)*time.Second, maxBridgeTTL)
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBridgeMessage+1))
	if err != nil {
		badRequest(c, "unreadable body")
		return
	}
	if len(body) == 0 || len(body) > maxBridgeMessage {
		badRequest(c, "message must be between 1 byte and 64KiB")
		return
	}

	env := remote.Envelope{From: from, Message: string(body)}
	if err := s.relay.Publish(c.Request.Context(), to, env, ttl); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "OK", "statusCode": http.StatusOK})
}

// bridgeEvents streams the envelopes addressed to client_id as server sent
// events until the client disconnects.
func (s *Server) bridgeEvents(c *gin.Context) {
	clientID := c.Query("client_id")
	if _, err := remote.ParseClientID(clientID); err != nil {
		badRequest(c, "invalid client_id")
		return
	}

	envelopes, err := s.relay.Listen(c.Request.Context(), clientID)
	if err != nil {
		s.fail(c, err)
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	ticker := time.NewTicker(heartbeatPeriod)
	defer ticker.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case env, ok := <-envelopes:
			if !ok {
				return false
			}
			c.SSEvent("message", env)
			return true
		case <-ticker.C:
			c.SSEvent("heartbeat", "")
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
