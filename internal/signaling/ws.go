package signaling

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/intervue/interview-rtc/internal/config"
	"github.com/intervue/interview-rtc/internal/domain"
	"github.com/intervue/interview-rtc/internal/metrics"
)

const writeWait = 5 * time.Second

// Controller upgrades HTTP requests into signaling channels and pumps
// frames between the socket and the manager.
type Controller struct {
	Mgr *Manager
	Cfg config.Signaling
}

func NewController(mgr *Manager, cfg config.Signaling) *Controller {
	return &Controller{Mgr: mgr, Cfg: cfg}
}

// wsConn adapts a websocket to the manager's Conn with a bounded send
// buffer. A full buffer drops the frame rather than blocking the relay.
type wsConn struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *wsConn) TrySend(data []byte) error {
	select {
	case c.send <- data:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *wsConn) Close() {
	c.once.Do(func() {
		close(c.send)
		_ = c.conn.Close()
	})
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal owns one participant connection from upgrade to close.
// The participant identity is the client token minted by the router
// middleware.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	pid := domain.ParticipantID(c.GetString("client_token"))
	log.Info().Str("module", "signaling.ws").Str("participant", string(pid)).Msg("new signal connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Str("module", "signaling.ws").Err(err).Msg("ws upgrade")
		return
	}
	ws.SetReadLimit(ctl.Cfg.ReadLimit)

	conn := &wsConn{
		conn: ws,
		send: make(chan []byte, 32),
	}
	metrics.SignalConnections.Inc()

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, pid, conn)
}

func (ctl *Controller) writePump(ctx context.Context, c *wsConn) {
	ping := time.NewTicker(ctl.Cfg.PingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Str("module", "signaling.ws").Err(err).Msg("write error")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, cancel context.CancelFunc, pid domain.ParticipantID, c *wsConn) {
	var sid domain.SessionID

	defer func() {
		if sid != "" {
			if err := ctl.Mgr.LeaveConn(sid, pid, c); err != nil {
				log.Debug().Str("module", "signaling.ws").Err(err).Msg("leave on close")
			}
		}
		metrics.SignalConnections.Dec()
		cancel()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Debug().Str("module", "signaling.ws").Str("participant", string(pid)).Err(err).Msg("read closed")
				return
			}
			sid = ctl.handleFrame(sid, pid, c, data)
		}
	}
}

// handleFrame dispatches one client frame and returns the (possibly
// updated) session binding of this connection.
func (ctl *Controller) handleFrame(sid domain.SessionID, pid domain.ParticipantID, c *wsConn, data []byte) domain.SessionID {
	msg, err := ParseMessage(data)
	if err != nil {
		log.Warn().Str("module", "signaling.ws").Str("participant", string(pid)).Err(err).Msg("bad message")
		ctl.sendJSON(c, errorMessage(CodeBadMessage, err.Error()))
		return sid
	}

	switch msg.Type {
	case TypeJoin:
		target := domain.SessionID(msg.SessionID)
		res, err := ctl.Mgr.Join(target, pid, *msg.Participant, c)
		if err != nil {
			ctl.sendJSON(c, errorMessage(CodeFor(err), err.Error()))
			return sid
		}
		ctl.sendJSON(c, joinedMessage(target, res.Role))
		return target

	case TypeOffer, TypeAnswer, TypeCandidate:
		if sid == "" {
			ctl.sendJSON(c, errorMessage(CodeNotJoined, "join a session first"))
			return sid
		}
		// Signaling may race with disconnection; a missing peer is
		// logged, never surfaced to the sender.
		if err := ctl.Mgr.Relay(sid, pid, data); err != nil {
			log.Debug().Str("module", "signaling.ws").Str("session", string(sid)).
				Str("type", string(msg.Type)).Err(err).Msg("relay dropped")
		}
		return sid

	case TypeHeartbeat:
		if sid == "" {
			return sid
		}
		if err := ctl.Mgr.Heartbeat(sid, pid); err != nil {
			log.Debug().Str("module", "signaling.ws").Err(err).Msg("heartbeat dropped")
		}
		return sid

	case TypeLeave:
		if sid == "" {
			return sid
		}
		if err := ctl.Mgr.LeaveConn(sid, pid, c); err != nil {
			log.Debug().Str("module", "signaling.ws").Err(err).Msg("leave dropped")
		}
		return ""
	}
	return sid
}

func (ctl *Controller) sendJSON(c *wsConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Str("module", "signaling.ws").Err(err).Msg("sendJSON marshal")
		return
	}
	if err := c.TrySend(b); err != nil {
		log.Warn().Str("module", "signaling.ws").Err(err).Msg("sendJSON dropped")
	}
}
