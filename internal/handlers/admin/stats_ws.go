package admin

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"antigravity2api-go/internal/events"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The API key middleware already gated this route.
	CheckOrigin: func(*http.Request) bool { return true },
}

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
	wsPushDebounce = 250 * time.Millisecond
)

// StatsWS handles GET /api/stats/ws. It pushes a stats snapshot on
// connect and again whenever credential or queue state changes,
// debounced so bursts collapse into one frame.
func (h *Handler) StatsWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.WithError(err).Debug("stats websocket upgrade failed")
		return
	}
	defer conn.Close()

	sub, cancel := h.hub.Subscribe(events.TopicCredentialsChanged, events.TopicStatsUpdated)
	defer cancel()

	// Discard client frames but notice the close handshake.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	push := func() error {
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteJSON(h.Snapshot())
	}
	if err := push(); err != nil {
		return
	}

	pings := time.NewTicker(wsPingInterval)
	defer pings.Stop()

	var pending *time.Timer
	defer func() {
		if pending != nil {
			pending.Stop()
		}
	}()
	flush := make(chan struct{}, 1)

	for {
		select {
		case _, ok := <-sub:
			if !ok {
				return
			}
			if pending == nil {
				pending = time.AfterFunc(wsPushDebounce, func() {
					select {
					case flush <- struct{}{}:
					default:
					}
				})
			}
		case <-flush:
			pending = nil
			if err := push(); err != nil {
				return
			}
		case <-pings.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
