package ws

import (
	"context"
	"sync"
	"time"

	"MinerWs/logger"
	"MinerWs/module/miner/model"
	"MinerWs/service/identity"
	"MinerWs/service/presence"
	"MinerWs/service/session"
	"MinerWs/tools/safe"
	"MinerWs/tools/security"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// 关闭原因
const (
	ReasonUnauthorized     = "unauthorized"
	ReasonStoreUnavailable = "identity store unavailable"
	ReasonSuperseded       = "superseded by new connection"
	ReasonSessionNotFound  = "session not found, reconnect"
	ReasonIdleTimeout      = "idle timeout"
	ReasonInternal         = "internal error"
	ReasonShutdown         = "server shutting down"
)

// Lifecycle receives connection lifecycle notifications.
type Lifecycle interface {
	Opened(loginName, clientID string)
	Closed(loginName, clientID string)
	Breathed(loginName, clientID string)
	IdentityChanged(sign model.MinerSign)
	AccountKeyProvisioned(loginName, clientID string, kp model.AccountKeyPair)
}

type Deps struct {
	Registry *session.Registry
	Store    identity.Store
	Events   Lifecycle
	Auth     Authenticator
	Handlers *HandlerTable
	Presence presence.Tracker // nil => presence.Noop
	Clock    func() time.Time // nil => time.Now
	RSABits  int              // <=0 => security.DefaultRSABits
}

// Gateway runs the handshake and dispatch for every miner connection.
type Gateway struct {
	reg      *session.Registry
	store    identity.Store
	events   Lifecycle
	auth     Authenticator
	handlers *HandlerTable
	presence presence.Tracker
	now      func() time.Time
	rsaBits  int

	conns sync.Map // connectionId -> Conn
}

func NewGateway(d Deps) *Gateway {
	safe.MustNotNil(d.Registry, "registry")
	safe.MustNotNil(d.Store, "identity store")
	safe.MustNotNil(d.Events, "events")
	safe.MustNotNil(d.Auth, "authenticator")
	safe.MustNotNil(d.Handlers, "handlers")
	if d.Presence == nil {
		d.Presence = presence.Noop{}
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.RSABits <= 0 {
		d.RSABits = security.DefaultRSABits
	}
	return &Gateway{
		reg:      d.Registry,
		store:    d.Store,
		events:   d.Events,
		auth:     d.Auth,
		handlers: d.Handlers,
		presence: d.Presence,
		now:      d.Clock,
		rsaBits:  d.RSABits,
	}
}

func (g *Gateway) Registry() *session.Registry { return g.reg }

func (g *Gateway) Presence() presence.Tracker { return g.presence }

// OnClose tears down the session owned by conn. Safe to call more than
// once and while a handshake or dispatch is in flight.
func (g *Gateway) OnClose(ctx context.Context, conn Conn) {
	g.conns.CompareAndDelete(conn.ID(), conn)
	s, ok := g.reg.RemoveByConnectionID(conn.ID())
	if !ok {
		return
	}
	g.events.Closed(s.LoginName, s.ClientID)
	g.offline(ctx, s)
	logger.Info("[WS] session closed",
		zap.String("conn_id", s.ConnectionID),
		zap.String("client_id", s.ClientID),
		zap.String("login_name", s.LoginName))
}

// Evict closes the transport of a session the registry already dropped
// (idle sweep).
func (g *Gateway) Evict(s session.Session) {
	if v, ok := g.conns.LoadAndDelete(s.ConnectionID); ok {
		_ = v.(Conn).Close(websocket.CloseGoingAway, ReasonIdleTimeout)
	}
	g.events.Closed(s.LoginName, s.ClientID)
	g.offline(context.Background(), s)
	logger.Info("[WS] idle session evicted",
		zap.String("conn_id", s.ConnectionID),
		zap.String("client_id", s.ClientID))
}

// online writes presence for s, then re-checks the registry. A handshake
// that superseded s may have written its record first; the stale record is
// dropped and the current owner rewritten.
func (g *Gateway) online(ctx context.Context, s session.Session) {
	for i := 0; i < 3; i++ {
		if err := g.presence.Online(ctx, s); err != nil {
			logger.Warn("[WS] presence online failed", zap.String("client_id", s.ClientID), zap.Error(err))
			return
		}
		cur, ok := g.reg.TryGetByClientID(s.ClientID)
		if ok && cur.ConnectionID == s.ConnectionID {
			return
		}
		g.offline(ctx, s)
		if !ok {
			return
		}
		s = cur
	}
}

func (g *Gateway) offline(ctx context.Context, s session.Session) {
	if err := g.presence.Offline(ctx, s); err != nil {
		logger.Warn("[WS] presence offline failed", zap.String("client_id", s.ClientID), zap.Error(err))
	}
}

// Shutdown closes every live transport and waits until their sessions are
// torn down or ctx is done. Read loops exit on the close and run OnClose.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.conns.Range(func(_, v any) bool {
		_ = v.(Conn).Close(websocket.CloseGoingAway, ReasonShutdown)
		return true
	})
	t := time.NewTicker(20 * time.Millisecond)
	defer t.Stop()
	for g.reg.Count() > 0 {
		select {
		case <-ctx.Done():
			logger.Warn("[WS] shutdown timed out", zap.Int("sessions", g.reg.Count()))
			return ctx.Err()
		case <-t.C:
		}
	}
	return nil
}
