package realtime

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
	sendBuffer     = 64
)

var (
	ErrConnClosed  = errors.New("realtime: connection closed")
	ErrSendBacklog = errors.New("realtime: send buffer full")
)

// TokenVerifier resolves a push-channel token to the connecting user's id.
type TokenVerifier func(token string) (userID string, err error)

// wsConn adapts a gorilla websocket to Conn. One goroutine owns writes;
// pings use WriteControl, which gorilla allows concurrently.
type wsConn struct {
	id   string
	ws   *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newWSConn(ws *websocket.Conn) *wsConn {
	return &wsConn{
		id:   uuid.NewString(),
		ws:   ws,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

func (c *wsConn) ID() string { return c.id }

func (c *wsConn) Send(payload []byte) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return ErrConnClosed
	default:
		return ErrSendBacklog
	}
}

func (c *wsConn) Ping() error {
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (c *wsConn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(time.Second))
		err = c.ws.Close()
	})
	return err
}

func (c *wsConn) writePump() {
	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				_ = c.Close()
				return
			}
		}
	}
}

// readPump drains client frames until the socket fails. Pong frames and any
// client message count as a liveness response.
func (c *wsConn) readPump(hub *Hub) {
	defer func() {
		hub.Unregister(c)
		_ = c.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetPongHandler(func(string) error {
		hub.MarkAlive(c.id)
		return nil
	})
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
		hub.MarkAlive(c.id)
	}
}

// NewUpgrader builds a websocket upgrader that accepts the given browser
// origins. An empty list accepts any origin.
func NewUpgrader(allowedOrigins []string) *websocket.Upgrader {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = struct{}{}
	}
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			_, ok := allowed[origin]
			return ok
		},
	}
}

// ServeWs upgrades the request, registers the connection under the user
// named by the `token` query parameter and runs it until it closes.
func ServeWs(hub *Hub, upgrader *websocket.Upgrader, verify TokenVerifier, log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "token required"})
			return
		}
		userID, err := verify(token)
		if err != nil || userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		conn := newWSConn(ws)
		hub.Register(userID, conn)
		go conn.writePump()
		conn.readPump(hub)
	}
}
