package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/casedesk/internal/realtime"
	apperrors "github.com/charlesng35/casedesk/pkg/errors"
	"github.com/charlesng35/casedesk/pkg/response"
)

// RealtimeHandler upgrades authenticated requests into hub subscriptions.
type RealtimeHandler struct {
	hub *realtime.Hub
}

func NewRealtimeHandler(hub *realtime.Hub) *RealtimeHandler {
	return &RealtimeHandler{hub: hub}
}

// GET /api/realtime and /api/realtime/:stream
func (h *RealtimeHandler) Stream(c *gin.Context) {
	if h.hub == nil {
		response.Error(c, apperrors.ErrNotFound)
		return
	}
	session, ok := currentSession(c)
	if !ok {
		return
	}

	streams := gatherStreams(c)
	if len(streams) == 0 {
		streams = []string{realtime.StreamPermissions}
	}
	for _, stream := range streams {
		if !h.hub.Allowed(stream) {
			response.Error(c, apperrors.New("STREAM_UNKNOWN", "Unknown stream "+stream, http.StatusNotFound))
			return
		}
	}

	h.hub.Serve(session.Identity().UserID, streams, c.Writer, c.Request)
}

func gatherStreams(c *gin.Context) []string {
	var streams []string

	if pathStream := strings.TrimSpace(c.Param("stream")); pathStream != "" {
		streams = append(streams, pathStream)
	}
	streams = append(streams, c.QueryArray("stream")...)
	if raw := c.Query("streams"); raw != "" {
		streams = append(streams, strings.Split(raw, ",")...)
	}

	seen := make(map[string]struct{}, len(streams))
	out := streams[:0]
	for _, stream := range streams {
		stream = strings.ToLower(strings.TrimSpace(stream))
		if stream == "" {
			continue
		}
		if _, dup := seen[stream]; dup {
			continue
		}
		seen[stream] = struct{}{}
		out = append(out, stream)
	}
	return out
}
