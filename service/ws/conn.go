package ws

import (
	"sync"
	"time"

	"MinerWs/logger"
	"MinerWs/tools/errs"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Conn is the transport as seen by the gateway.
type Conn interface {
	ID() string
	// Send queues a text frame; it never blocks on the network.
	Send(data []byte) error
	// Close sends a close frame with code and reason; later calls are no-ops.
	Close(code int, reason string) error
}

type closeReq struct {
	code   int
	reason string
}

// wsConn 单写协程：所有数据帧都经 send 队列写出
type wsConn struct {
	id        string
	ws        *websocket.Conn
	writeWait time.Duration

	mu     sync.Mutex
	closed bool
	send   chan []byte
	req    closeReq
	done   chan struct{}
}

func newWsConn(id string, ws *websocket.Conn, queueSize int, writeWait time.Duration) *wsConn {
	c := &wsConn{
		id:        id,
		ws:        ws,
		writeWait: writeWait,
		send:      make(chan []byte, queueSize),
		done:      make(chan struct{}),
	}
	go c.writePump()
	return c
}

func (c *wsConn) ID() string { return c.id }

func (c *wsConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errs.ErrConnClosed.WrapMsg("send", "conn_id", c.id)
	}
	select {
	case c.send <- data:
		return nil
	default:
		return errs.New("send queue full", "conn_id", c.id)
	}
}

func (c *wsConn) Close(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.req = closeReq{code: code, reason: reason}
	close(c.send)
	return nil
}

// Done is closed once the socket has been torn down.
func (c *wsConn) Done() <-chan struct{} { return c.done }

func (c *wsConn) writePump() {
	defer close(c.done)
	defer c.ws.Close()

	for data := range c.send {
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeWait))
		if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
			logger.Debug("[WS] write failed", zap.String("conn_id", c.id), zap.Error(err))
			// 写失败后丢弃剩余数据，等待 Close
			for range c.send {
			}
			break
		}
	}

	c.mu.Lock()
	req := c.req
	c.mu.Unlock()
	msg := websocket.FormatCloseMessage(req.code, req.reason)
	if err := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeWait)); err != nil &&
		err != websocket.ErrCloseSent {
		logger.Debug("[WS] write close frame failed", zap.String("conn_id", c.id), zap.Error(err))
	}
}
