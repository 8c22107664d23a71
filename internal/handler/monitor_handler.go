package handler

import (
	"net/http"
	"time"

	"github.com/examtrail/examtrail/internal/config"
	"github.com/examtrail/examtrail/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
)

// MonitorHandler streams live exam session events to proctor dashboards over
// WebSocket, backed by Redis pub/sub.
type MonitorHandler struct {
	monitorService *service.MonitorService
	rdb            *redis.Client
	upgrader       websocket.Upgrader
	log            zerolog.Logger
}

// NewMonitorHandler creates a new MonitorHandler. allowedOrigins gates the
// WebSocket handshake; "*" admits any origin.
func NewMonitorHandler(monitorService *service.MonitorService, rdb *redis.Client, allowedOrigins []string, log zerolog.Logger) *MonitorHandler {
	allowAll := false
	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		origins[o] = true
	}

	return &MonitorHandler{
		monitorService: monitorService,
		rdb:            rdb,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if allowAll {
					return true
				}
				return origins[r.Header.Get("Origin")]
			},
		},
		log: log.With().Str("component", "monitor_handler").Logger(),
	}
}

// Stream godoc
// GET /ws/v1/proctor/exams/:ref_no/monitor?token=...
//
// Sends one snapshot frame (current phase per examinee), then relays monitor
// events as they are published. The connection closes when the proctor
// disconnects or the subscription fails.
func (h *MonitorHandler) Stream(c *gin.Context) {
	refNo := c.Param("ref_no")

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("exam_ref_no", refNo).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx := c.Request.Context()

	phases, err := h.monitorService.LivePhases(ctx, refNo)
	if err != nil {
		h.log.Warn().Err(err).Str("exam_ref_no", refNo).Msg("Live phase snapshot failed")
		phases = map[string]string{}
	}
	duration, _ := h.rdb.Get(ctx, config.CacheKey.ExamDurationKey(refNo)).Int()
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteJSON(gin.H{
		"type":             "snapshot",
		"exam_ref_no":      refNo,
		"phases":           phases,
		"duration_minutes": duration,
	}); err != nil {
		return
	}

	pubsub := h.rdb.Subscribe(ctx, config.CacheKey.ExamMonitorChannel(refNo))
	defer pubsub.Close()

	// Reader goroutine: we never expect frames from the proctor, but reading
	// is what surfaces close frames and dead peers.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	events := pubsub.Channel()
	for {
		select {
		case msg, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg.Payload)); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-ctx.Done():
			return
		}
	}
}
