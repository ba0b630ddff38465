package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/telemeet/huddle/internal/app"
	"github.com/telemeet/huddle/internal/apperr"
	"github.com/telemeet/huddle/internal/auth"
	"github.com/telemeet/huddle/internal/config"
	"github.com/telemeet/huddle/internal/core"
)

var ErrBackpressure = errors.New("backpressure")

// Controller owns the websocket signaling endpoint: it authenticates the
// handshake, binds a Session into the registry, and runs the read/write
// pumps for the connection's lifetime.
type Controller struct {
	Orch *app.Orchestrator
	Auth *auth.Verifier
	Cfg  *config.Config
}

func NewController(orch *app.Orchestrator, verifier *auth.Verifier, cfg *config.Config) *Controller {
	return &Controller{Orch: orch, Auth: verifier, Cfg: cfg}
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal authenticates the bearer credential before upgrading;
// missing or invalid credentials never reach the websocket layer.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	user, err := ctl.Auth.Verify(c.Request.Context(), auth.BearerToken(c.Request))
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("handshake rejected")
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":    apperr.CodeOf(err),
			"message": apperr.MessageOf(err),
		})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	sid := core.SessionID(uuid.NewString())
	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, 32),
	}
	sess := NewSession(sid, user, conn)

	ctx, cancel := context.WithCancel(ctx)
	ctl.Orch.Registry.Bind(sid, sess, cancel)
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("user", string(user.ID)).Msg("new WS connection")

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, sess)
}
