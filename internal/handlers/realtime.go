package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/charlesng35/softcenter/internal/auth"
	"github.com/charlesng35/softcenter/internal/realtime"
	apperrors "github.com/charlesng35/softcenter/pkg/errors"
	"github.com/charlesng35/softcenter/pkg/response"
)

// RealtimeHandler upgrades HTTP connections into authenticated WebSocket streams.
type RealtimeHandler struct {
	hub  *realtime.Hub
	gate *iauth.Gate
}

func NewRealtimeHandler(hub *realtime.Hub, gate *iauth.Gate) *RealtimeHandler {
	return &RealtimeHandler{hub: hub, gate: gate}
}

// Stream authenticates the caller from the token query parameter or bearer header and
// subscribes it to the requested streams. Without a streams parameter the caller's own
// ledger stream is used.
func (h *RealtimeHandler) Stream(c *gin.Context) {
	if h.gate == nil || h.hub == nil {
		response.Error(c, apperrors.ErrNotFound)
		return
	}

	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		token, _ = iauth.BearerToken(c.GetHeader("Authorization"))
	}

	identity, err := h.gate.AuthenticateToken(requestContext(c), token)
	if err != nil {
		if iauth.CauseOf(err) == "" {
			_ = c.Error(err)
		}
		c.Header("WWW-Authenticate", "Bearer")
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	streams := realtime.ParseStreams(c.Query("streams"))
	if len(streams) == 0 {
		streams = []string{realtime.StreamLedger}
	}

	isAdmin := identity.User.IsAdmin()
	for _, stream := range streams {
		if realtime.IsAdminStream(stream) && !isAdmin {
			response.Error(c, apperrors.ErrForbidden)
			return
		}
	}

	h.hub.Serve(identity.User.ID, streams, realtime.AllowedStreams(isAdmin), c.Writer, c.Request)
}
