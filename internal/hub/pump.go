package hub

import (
	"context"
	"net/http"
	"slices"
	"time"

	apiError "collaborative-doc-sync/internal/errors"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// NewUpgrader accepts same-host requests and requests from allowedOrigins.
// A "*" entry accepts any origin.
func NewUpgrader(allowedOrigins []string) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || slices.Contains(allowedOrigins, "*") {
				return true
			}
			return slices.Contains(allowedOrigins, origin)
		},
	}
}

type WSHandler struct {
	hub      *Hub
	upgrader *websocket.Upgrader
}

func NewWSHandler(h *Hub, upgrader *websocket.Upgrader) *WSHandler {
	return &WSHandler{hub: h, upgrader: upgrader}
}

// ServeWS upgrades an authenticated request. The auth middleware must have
// set user_id and user_name.
func (w *WSHandler) ServeWS(c *gin.Context) {
	userID := c.GetUint64("user_id")
	if userID == 0 {
		c.Error(apiError.Unauthorized("Authorization is not found!", nil))
		return
	}

	session, err := w.hub.NewSession(userID, c.GetString("user_name"))
	if err != nil {
		c.Error(apiError.ServiceUnavailable("Server is shutting down", err))
		return
	}

	conn, err := w.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error response.
		log.Warn().Err(err).Msg("websocket upgrade failed")
		w.hub.Disconnect(session)
		return
	}

	log.Info().Str("conn_id", session.id).Uint64("user_id", userID).Msg("websocket connected")

	go session.writePump(conn)
	go session.readPump(conn, w.hub.cfg.MaxMessageBytes)
}

func (s *Session) readPump(conn *websocket.Conn, maxMessageBytes int64) {
	defer func() {
		s.hub.Disconnect(s)
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageBytes)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	ctx := context.Background()
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("conn_id", s.id).Msg("websocket read error")
			}
			return
		}
		s.Handle(ctx, message)
	}
}

// writePump owns every write to conn. It exits when the session is done.
func (s *Session) writePump(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message := <-s.send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.hub.Disconnect(s)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.hub.Disconnect(s)
				return
			}
		case <-s.done:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
