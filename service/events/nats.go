package events

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"MinerWs/tools/errs"

	"github.com/nats-io/nats.go"
)

type NatsConfig struct {
	Servers       []string      `yaml:"servers"`
	Name          string        `yaml:"name"`
	User          string        `yaml:"user"`
	Password      string        `yaml:"password"`
	SubjectPrefix string        `yaml:"subjectPrefix"`
	ReconnectWait time.Duration `yaml:"reconnectWait"`
	Timeout       time.Duration `yaml:"timeout"`
	JetStream     bool          `yaml:"jetStream"` // 开启后走 JetStream，按事件 ID 去重
	Stream        string        `yaml:"stream"`    // JetStream stream 名，不存在则创建
}

// NatsPublisher publishes each event on "<prefix>.<kind>", with core NATS
// or with JetStream when enabled.
type NatsPublisher struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	prefix string
}

func NewNatsPublisher(cfg NatsConfig) (*NatsPublisher, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("nats servers missing")
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 500 * time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Second
	}
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
	}
	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}
	nc, err := nats.Connect(strings.Join(cfg.Servers, ","), opts...)
	if err != nil {
		return nil, err
	}
	p := &NatsPublisher{nc: nc, prefix: cfg.SubjectPrefix}
	if cfg.JetStream {
		if err := p.ensureStream(cfg); err != nil {
			nc.Close()
			return nil, err
		}
	}
	return p, nil
}

// ensureStream 初始化 JetStream，stream 覆盖 "<prefix>.>"
func (p *NatsPublisher) ensureStream(cfg NatsConfig) error {
	js, err := p.nc.JetStream(nats.PublishAsyncMaxPending(4096))
	if err != nil {
		return errs.WrapMsg(err, "init jetstream")
	}
	p.js = js
	stream := cfg.Stream
	if stream == "" {
		stream = "MINER_EVENTS"
	}
	if _, err := js.StreamInfo(stream); err == nil {
		return nil
	} else if !errors.Is(err, nats.ErrStreamNotFound) {
		return errs.WrapMsg(err, "jetstream stream info", "stream", stream)
	}
	_, err = js.AddStream(&nats.StreamConfig{
		Name:       stream,
		Subjects:   []string{Subject(cfg.SubjectPrefix, ">")},
		Storage:    nats.FileStorage,
		Duplicates: 2 * time.Minute,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return errs.WrapMsg(err, "jetstream add stream", "stream", stream)
	}
	return nil
}

func (p *NatsPublisher) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	msg := nats.NewMsg(Subject(p.prefix, ev.Kind))
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, ev.ID) // JetStream 去重
	msg.Header.Set("Client-Id", ev.ClientID)
	if p.js != nil {
		_, err = p.js.PublishMsg(msg, nats.Context(ctx))
		return err
	}
	return p.nc.PublishMsg(msg)
}

// Close 优雅关闭，先 flush 再断开
func (p *NatsPublisher) Close() error {
	if p.nc == nil {
		return nil
	}
	return p.nc.Drain()
}
