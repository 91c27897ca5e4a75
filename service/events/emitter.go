package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"MinerWs/logger"
	"MinerWs/module/miner/model"
	"MinerWs/tools/safe"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type EmitterConf struct {
	NodeID         string
	QueueSize      int
	PublishTimeout time.Duration
	Clock          func() time.Time
}

func (c *EmitterConf) norm() {
	if c.QueueSize <= 0 {
		c.QueueSize = 4096
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 3 * time.Second
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

// Emitter queues events and hands them to the Publisher from a single
// goroutine, so events keep the order they were emitted in. Emitting never
// blocks: when the queue is full the event is dropped and logged.
type Emitter struct {
	pub  Publisher
	conf EmitterConf

	mu     sync.RWMutex
	closed bool
	queue  chan Event
	done   chan struct{}
}

func NewEmitter(pub Publisher, conf EmitterConf) *Emitter {
	safe.MustNotNil(pub, "publisher")
	conf.norm()
	e := &Emitter{
		pub:   pub,
		conf:  conf,
		queue: make(chan Event, conf.QueueSize),
		done:  make(chan struct{}),
	}
	go e.run()
	return e
}

func (e *Emitter) run() {
	defer close(e.done)
	for ev := range e.queue {
		e.publish(ev)
	}
}

func (e *Emitter) publish(ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), e.conf.PublishTimeout)
	defer cancel()
	err := safe.Call(func() error { return e.pub.Publish(ctx, ev) })
	if err != nil {
		logger.Warn("[events] publish failed",
			zap.String("kind", string(ev.Kind)),
			zap.String("client_id", ev.ClientID),
			zap.Error(err))
	}
}

// Close stops accepting events, waits for queued ones to be published and
// closes the publisher.
func (e *Emitter) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	close(e.queue)
	e.mu.Unlock()
	<-e.done
	return e.pub.Close()
}

func (e *Emitter) emit(kind Kind, loginName, clientID string, data any) {
	ev := Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		Node:      e.conf.NodeID,
		LoginName: loginName,
		ClientID:  clientID,
		Timestamp: e.conf.Clock().UTC(),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			logger.Error("[events] marshal payload failed", zap.String("kind", string(kind)), zap.Error(err))
			return
		}
		ev.Data = raw
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		logger.Debug("[events] emitter closed, event dropped", zap.String("kind", string(kind)))
		return
	}
	select {
	case e.queue <- ev:
	default:
		logger.Warn("[events] queue full, event dropped",
			zap.String("kind", string(kind)),
			zap.String("client_id", clientID))
	}
}

func (e *Emitter) Opened(loginName, clientID string) {
	e.emit(KindOpened, loginName, clientID, nil)
}

func (e *Emitter) Closed(loginName, clientID string) {
	e.emit(KindClosed, loginName, clientID, nil)
}

func (e *Emitter) Breathed(loginName, clientID string) {
	e.emit(KindBreathed, loginName, clientID, nil)
}

func (e *Emitter) IdentityChanged(sign model.MinerSign) {
	e.emit(KindIdentityChanged, sign.LoginName, sign.ClientID, NewSignView(sign))
}

func (e *Emitter) AccountKeyProvisioned(loginName, clientID string, kp model.AccountKeyPair) {
	e.emit(KindAccountKeyProvisioned, loginName, clientID, KeyProvisionedView{PublicKey: kp.PublicKey})
}

// ClientReported forwards data pushed by a miner through a message handler.
func (e *Emitter) ClientReported(msgType, loginName, clientID string, payload json.RawMessage) {
	e.emit(KindClientReported, loginName, clientID, Reported{Type: msgType, Payload: payload})
}
