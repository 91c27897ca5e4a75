package global

import (
	"context"
	"strconv"
	"time"

	"MinerWs/global/config"
	"MinerWs/logger"
	mid "MinerWs/middleware"
	"MinerWs/service/events"
	"MinerWs/service/identity"
	mgoSrv "MinerWs/service/mgo"
	"MinerWs/service/presence"
	redisx "MinerWs/service/storage/redis"
	"MinerWs/tools/errs"
	"MinerWs/tools/ids"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Cleanup 逆序执行的关闭函数集合
type Cleanup struct {
	fns []func()
}

func (c *Cleanup) Add(fn func()) { c.fns = append(c.fns, fn) }

func (c *Cleanup) Run() {
	for i := len(c.fns) - 1; i >= 0; i-- {
		c.fns[i]()
	}
	c.fns = nil
}

func ConfigIds(cfg *config.AppConfig) {
	ids.SetNodeID(cfg.NodeID)
}

func NodeName(cfg *config.AppConfig) string {
	if cfg.NodeName != "" {
		return cfg.NodeName
	}
	return "node-" + strconv.FormatInt(cfg.NodeID, 10)
}

// ConfigStore 按 store.driver 组装身份存储
//   - memory: 进程内，重启丢失
//   - bolt:   单机文件
//   - mongo:  MinerSign 存 mongo，账号密钥存 postgres
func ConfigStore(ctx context.Context, cfg *config.AppConfig, cl *Cleanup) (identity.Store, error) {
	switch cfg.Store.Driver {
	case config.StoreMemory:
		return identity.NewMemoryStore(), nil

	case config.StoreBolt:
		bs, err := identity.NewBoltStoreFromFile(cfg.Bolt.Path, cfg.Bolt.OpenTimeout)
		if err != nil {
			return nil, err
		}
		cl.Add(func() { _ = bs.Close() })
		return identity.NewComposite(bs, bs, cfg.Store.PersistTimeout), nil

	case config.StoreMongo:
		mcfg := cfg.Mongo
		cli, err := mgoSrv.Dial(ctx, &mcfg, 30*time.Second)
		if err != nil {
			return nil, err
		}
		cl.Add(func() {
			c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = cli.Close(c)
		})
		signs := identity.NewMongoSignStore(cli.GetDB())
		if err := signs.EnsureIndexes(ctx); err != nil {
			return nil, err
		}

		accounts, err := identity.NewPostgresAccountStore(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, err
		}
		cl.Add(accounts.Close)
		if err := accounts.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return identity.NewComposite(signs, accounts, cfg.Store.PersistTimeout), nil
	}
	return nil, errs.ErrArgs.WrapMsg("unknown store driver", "driver", cfg.Store.Driver)
}

// ConfigPublisher 按 events.drivers 组装事件通道，多个时同时投递
func ConfigPublisher(cfg *config.AppConfig) (events.Publisher, error) {
	var pubs events.Multi
	for _, d := range cfg.Events.Drivers {
		switch d {
		case config.EventsLog:
			pubs = append(pubs, events.NewLogPublisher())
		case config.EventsNats:
			p, err := events.NewNatsPublisher(cfg.Nats)
			if err != nil {
				_ = pubs.Close()
				return nil, err
			}
			pubs = append(pubs, p)
		case config.EventsKafka:
			p, err := events.NewKafkaPublisher(cfg.Kafka)
			if err != nil {
				_ = pubs.Close()
				return nil, err
			}
			pubs = append(pubs, p)
		default:
			_ = pubs.Close()
			return nil, errs.ErrArgs.WrapMsg("unknown events driver", "driver", d)
		}
	}
	switch len(pubs) {
	case 0:
		logger.Warn("no events driver configured, lifecycle events are logged only")
		return events.NewLogPublisher(), nil
	case 1:
		return pubs[0], nil
	}
	return pubs, nil
}

// ConfigEmitter 生命周期事件发射器，关闭时一并关闭 publisher
func ConfigEmitter(cfg *config.AppConfig, cl *Cleanup) (*events.Emitter, error) {
	pub, err := ConfigPublisher(cfg)
	if err != nil {
		return nil, err
	}
	em := events.NewEmitter(pub, events.EmitterConf{
		NodeID:         NodeName(cfg),
		QueueSize:      cfg.Events.QueueSize,
		PublishTimeout: cfg.Events.PublishTimeout,
	})
	cl.Add(func() { _ = em.Close() })
	return em, nil
}

// ConfigPresence 未开启时返回 Noop
func ConfigPresence(ctx context.Context, cfg *config.AppConfig, cl *Cleanup) (presence.Tracker, error) {
	if !cfg.Presence.Enabled {
		return presence.Noop{}, nil
	}
	rdb, err := redisx.NewClient(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	cl.Add(func() { _ = rdb.Close() })
	logger.Info("presence enabled", zap.String("redis", cfg.Redis.Addr), zap.Duration("ttl", cfg.Presence.TTL))
	return presence.NewRedisTracker(rdb, NodeName(cfg), cfg.Presence.TTL), nil
}

// ConfigMiddleware 挂载全局中间件；ws 路径上校验 Origin
func ConfigMiddleware(r *gin.Engine, cfg *config.AppConfig) *mid.MiddlewareManager {
	m := mid.NewManager()
	m.Add(mid.Origin(cfg.WS.Path, cfg.WS.AllowedOrigins))
	r.Use(gin.Recovery(), mid.AccessLog(), m.Use())
	return m
}
