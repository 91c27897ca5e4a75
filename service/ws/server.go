package ws

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"MinerWs/logger"
	"MinerWs/middleware"
	"MinerWs/tools/ids"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type ServerConf struct {
	Path           string
	ReadTimeout    time.Duration // 超过该时长没有任何帧（含 ping）则断开
	WriteWait      time.Duration
	SendQueue      int
	MaxMessageSize int64
	AllowedOrigins []string
	AdminToken     string
}

func (c *ServerConf) norm() {
	if c.Path == "" {
		c.Path = "/ws"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 90 * time.Second
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.SendQueue <= 0 {
		c.SendQueue = 256
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 1 << 20
	}
}

// Server exposes the gateway over HTTP.
type Server struct {
	gw       *Gateway
	conf     ServerConf
	upgrader websocket.Upgrader
}

func NewServer(gw *Gateway, conf ServerConf) *Server {
	conf.norm()
	return &Server{
		gw:   gw,
		conf: conf,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     middleware.CheckOrigin(conf.AllowedOrigins),
		},
	}
}

// RegisterRoutes mounts the websocket endpoint and the management routes.
func (s *Server) RegisterRoutes(r gin.IRouter) {
	r.GET(s.conf.Path, s.HandleWS)
	r.GET("/healthz", s.healthz)
	opt := middleware.RouteOpt{IsAuth: s.conf.AdminToken != "", AdminToken: s.conf.AdminToken}
	middleware.GET(r, "/miners/online", s.listOnline, opt)
	middleware.GET(r, "/miners/:clientId", s.getMiner, opt)
}

// HandleWS upgrades the request, runs the handshake and then reads frames
// until the peer goes away.
func (s *Server) HandleWS(c *gin.Context) {
	raw, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// 常见：非 WebSocket 请求/握手失败
		logger.Info("[WS] upgrade failed", zap.Error(err))
		return
	}
	raw.SetReadLimit(s.conf.MaxMessageSize)

	conn := newWsConn(ids.GenerateString(), raw, s.conf.SendQueue, s.conf.WriteWait)
	ctx := context.Background()
	defer func() {
		s.gw.OnClose(ctx, conn)
		_ = conn.Close(websocket.CloseNormalClosure, "")
		<-conn.Done()
	}()

	if _, err := s.gw.OnOpen(ctx, conn, c.Request); err != nil {
		return
	}

	extend := func() { _ = raw.SetReadDeadline(time.Now().Add(s.conf.ReadTimeout)) }
	extend()
	raw.SetPingHandler(func(appData string) error {
		extend()
		s.gw.OnMessage(ctx, conn, Frame{Heartbeat: true})
		err := raw.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(s.conf.WriteWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil
		}
		return err
	})

	// ---- 读循环：只读，不写；出错即退出 ----
	for {
		mt, data, rerr := raw.ReadMessage()
		if rerr != nil {
			logReadErr(conn.ID(), rerr)
			return
		}
		extend()
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		s.gw.OnMessage(ctx, conn, Frame{Data: data})
	}
}

func logReadErr(connID string, err error) {
	var ne net.Error
	switch {
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived):
		logger.Info("[WS] peer closed", zap.String("conn_id", connID), zap.Error(err))
	case errors.As(err, &ne) && ne.Timeout():
		logger.Info("[WS] read timeout", zap.String("conn_id", connID), zap.Error(err))
	default:
		logger.Info("[WS] read err", zap.String("conn_id", connID), zap.Error(err))
	}
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": s.gw.Registry().Count()})
}

// MinerView 管理接口返回的会话信息（不含密钥）
type MinerView struct {
	ConnectionID string    `json:"connId,omitempty"`
	ClientID     string    `json:"clientId"`
	LoginName    string    `json:"loginName"`
	OuterUserID  string    `json:"outerUserId,omitempty"`
	NodeID       string    `json:"nodeId,omitempty"`
	Local        bool      `json:"local"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActiveAt time.Time `json:"lastActiveAt"`
}

func (s *Server) listOnline(c *gin.Context) {
	list := s.gw.Registry().List()
	clients := make([]string, 0, len(list))
	for _, sess := range list {
		clients = append(clients, sess.ClientID)
	}
	c.JSON(http.StatusOK, gin.H{"count": len(list), "clients": clients})
}

func (s *Server) getMiner(c *gin.Context) {
	clientID := c.Param("clientId")
	if sess, ok := s.gw.Registry().TryGetByClientID(clientID); ok {
		c.JSON(http.StatusOK, MinerView{
			ConnectionID: sess.ConnectionID,
			ClientID:     sess.ClientID,
			LoginName:    sess.LoginName,
			OuterUserID:  sess.OuterUserID,
			Local:        true,
			CreatedAt:    sess.CreatedAt,
			LastActiveAt: sess.LastActiveAt,
		})
		return
	}

	// 本节点没有，查 redis 看是否在其他节点
	p, err := s.gw.Presence().Get(c.Request.Context(), clientID)
	if err != nil {
		logger.Warn("[HTTP] presence lookup failed", zap.String("client_id", clientID), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "presence unavailable"})
		return
	}
	if p == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "miner offline"})
		return
	}
	c.JSON(http.StatusOK, MinerView{
		ConnectionID: p.ConnID,
		ClientID:     p.ClientID,
		LoginName:    p.LoginName,
		NodeID:       p.NodeID,
		CreatedAt:    p.Since,
		LastActiveAt: p.LastActive,
	})
}
