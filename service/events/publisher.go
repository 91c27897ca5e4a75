package events

import (
	"context"
	"errors"
	"sync"

	"MinerWs/logger"

	"go.uber.org/zap"
)

// LogPublisher writes events to the log only.
type LogPublisher struct {
	log *zap.Logger
}

func NewLogPublisher() *LogPublisher {
	return &LogPublisher{log: logger.Named("events")}
}

func (p *LogPublisher) Publish(_ context.Context, ev Event) error {
	p.log.Info("event",
		zap.String("kind", string(ev.Kind)),
		zap.String("login_name", ev.LoginName),
		zap.String("client_id", ev.ClientID),
		zap.ByteString("data", ev.Data))
	return nil
}

func (p *LogPublisher) Close() error { return nil }

// MemoryPublisher records every event it receives.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func NewMemoryPublisher() *MemoryPublisher { return &MemoryPublisher{} }

// FailWith makes later publishes fail with err after recording the event.
func (p *MemoryPublisher) FailWith(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

func (p *MemoryPublisher) Publish(_ context.Context, ev Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *MemoryPublisher) Close() error { return nil }

func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events...)
}

// Kinds 按顺序返回事件类型
func (p *MemoryPublisher) Kinds() []Kind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Kind, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Kind)
	}
	return out
}

// Multi publishes to every child and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
