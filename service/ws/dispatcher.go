package ws

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"MinerWs/logger"
	"MinerWs/service/session"
	"MinerWs/tools/errs"
	"MinerWs/tools/safe"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ConnContext is handed to every handler invocation.
type ConnContext struct {
	context.Context
	Session session.Session
	conn    Conn
}

// Reply sends a server envelope signed with the session's secret.
func (c *ConnContext) Reply(typ string, data any) error {
	env, err := NewEnvelope(typ, data)
	if err != nil {
		return err
	}
	raw, err := env.Seal(c.Session.SharedSecret)
	if err != nil {
		return err
	}
	return c.conn.Send(raw)
}

type Handler func(c *ConnContext, loginName, clientID string, env *Envelope) error

// HandlerTable maps envelope types to handlers. It is filled at startup
// and frozen before the server accepts connections.
type HandlerTable struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	frozen   bool
}

func NewHandlerTable() *HandlerTable {
	return &HandlerTable{handlers: make(map[string]Handler)}
}

func (t *HandlerTable) Register(typ string, h Handler) error {
	if typ == "" || h == nil {
		return errs.ErrArgs.WrapMsg("register handler", "type", typ)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.frozen {
		return errs.New("handler table frozen", "type", typ)
	}
	if _, ok := t.handlers[typ]; ok {
		return errs.New("handler already registered", "type", typ)
	}
	t.handlers[typ] = h
	return nil
}

func (t *HandlerTable) MustRegister(typ string, h Handler) {
	if err := t.Register(typ, h); err != nil {
		panic(err)
	}
}

func (t *HandlerTable) Freeze() {
	t.mu.Lock()
	t.frozen = true
	t.mu.Unlock()
}

func (t *HandlerTable) Lookup(typ string) (Handler, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, ok := t.handlers[typ]
	return h, ok
}

// Types 已注册的消息类型（排序）
func (t *HandlerTable) Types() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.handlers))
	for k := range t.handlers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Frame is one inbound unit from the transport.
type Frame struct {
	Heartbeat bool
	Data      []byte
}

// OnMessage dispatches one frame. It never returns an error: every failure
// is either dropped, logged, or turned into a close of conn.
func (g *Gateway) OnMessage(ctx context.Context, conn Conn, f Frame) {
	if f.Heartbeat {
		g.breathe(ctx, conn.ID())
		return
	}

	env, err := DecodeEnvelope(f.Data)
	if err != nil {
		logger.Debug("[WS] drop undecodable frame", zap.String("conn_id", conn.ID()), zap.Error(err))
		return
	}

	sess, ok := g.reg.TryGetByConnectionID(conn.ID())
	if !ok {
		logger.Warn("[WS] message for unknown session",
			zap.String("conn_id", conn.ID()),
			zap.String("type", env.Type))
		_ = conn.Close(websocket.CloseNormalClosure, ReasonSessionNotFound)
		return
	}

	if !env.Verify(sess.SharedSecret) {
		logger.Debug("[WS] drop envelope",
			zap.String("conn_id", conn.ID()),
			zap.String("client_id", sess.ClientID),
			zap.Error(errs.ErrInvalidSignature.WithDetail(env.Type)))
		return
	}

	h, ok := g.handlers.Lookup(env.Type)
	if !ok {
		logger.Warn("[WS] no handler for message type",
			zap.String("client_id", sess.ClientID),
			zap.Error(errs.ErrUnknownMessageType.WithDetail(env.Type)),
			zap.ByteString("payload", truncate(env.Data, 256)))
		return
	}

	cc := &ConnContext{Context: ctx, Session: sess, conn: conn}
	err = safe.Call(func() error { return h(cc, sess.LoginName, sess.ClientID, env) })
	if err != nil {
		logger.Error("[WS] handler failed",
			zap.String("client_id", sess.ClientID),
			zap.String("login_name", sess.LoginName),
			zap.String("type", env.Type),
			zap.String("envelope_id", env.ID),
			zap.String("detail", fmt.Sprintf("%+v", err)))
	}
}

func (g *Gateway) breathe(ctx context.Context, connID string) {
	s, ok := g.reg.TouchAndGetByConnectionID(connID)
	if !ok {
		return
	}
	g.events.Breathed(s.LoginName, s.ClientID)
	if err := g.presence.Touch(ctx, s); err != nil {
		logger.Debug("[WS] presence touch failed", zap.String("client_id", s.ClientID), zap.Error(err))
	}
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}
