package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"MinerWs/data/database/mgo/mongoutil"
	"MinerWs/service/events"
	redisx "MinerWs/service/storage/redis"
	"MinerWs/tools/errs"

	"gopkg.in/yaml.v3"
)

const EnvPrefix = "MINERWS_"

// 身份存储驱动
const (
	StoreMemory = "memory"
	StoreBolt   = "bolt"
	StoreMongo  = "mongo" // mongo 存 MinerSign + postgres 存账号密钥
)

// 事件通道驱动
const (
	EventsLog   = "log"
	EventsNats  = "nats"
	EventsKafka = "kafka"
)

type AppConfig struct {
	NodeID   int64            `yaml:"nodeId"`   // 雪花节点号 0~1023
	NodeName string           `yaml:"nodeName"` // presence / nacos 中展示的节点名
	Server   ServerConfig     `yaml:"server"`
	WS       WSConfig         `yaml:"ws"`
	Session  SessionConfig    `yaml:"session"`
	Log      LogConfig        `yaml:"log"`
	Security SecurityConfig   `yaml:"security"`
	Store    StoreConfig      `yaml:"store"`
	Bolt     BoltConfig       `yaml:"bolt"`
	Mongo    mongoutil.Config `yaml:"mongo"`
	Postgres PostgresConfig   `yaml:"postgres"`
	Events   EventsConfig     `yaml:"events"`
	Nats     events.NatsConfig  `yaml:"nats"`
	Kafka    events.KafkaConfig `yaml:"kafka"`
	Redis    redisx.Config      `yaml:"redis"`
	Presence PresenceConfig `yaml:"presence"`
	Nacos    NacosConfig    `yaml:"nacos"`
}

type ServerConfig struct {
	Addr       string `yaml:"addr"`
	GrpcAddr   string `yaml:"grpcAddr"` // 健康检查 gRPC 端口，空表示不启动
	AdminToken string `yaml:"adminToken"`
}

type WSConfig struct {
	Path           string        `yaml:"path"`
	ReadTimeout    time.Duration `yaml:"readTimeout"`
	WriteWait      time.Duration `yaml:"writeWait"`
	SendQueue      int           `yaml:"sendQueue"`
	MaxMessageSize int64         `yaml:"maxMessageSize"`
	AllowedOrigins []string      `yaml:"allowedOrigins"`
}

type SessionConfig struct {
	IdleTTL    time.Duration `yaml:"idleTTL"` // 可热更新
	SweepEvery time.Duration `yaml:"sweepEvery"`
}

type LogConfig struct {
	Level string `yaml:"level"` // 可热更新
}

type SecurityConfig struct {
	JWTSecret string        `yaml:"jwtSecret"`
	JWTAlg    string        `yaml:"jwtAlg"`
	TokenTTL  time.Duration `yaml:"tokenTTL"`
	RSABits   int           `yaml:"rsaBits"`
}

type StoreConfig struct {
	Driver         string        `yaml:"driver"`
	PersistTimeout time.Duration `yaml:"persistTimeout"`
}

type BoltConfig struct {
	Path        string        `yaml:"path"`
	OpenTimeout time.Duration `yaml:"openTimeout"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type EventsConfig struct {
	Drivers        []string      `yaml:"drivers"` // 可同时启用多个
	QueueSize      int           `yaml:"queueSize"`
	PublishTimeout time.Duration `yaml:"publishTimeout"`
}

type PresenceConfig struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl"`
}

type NacosServer struct {
	Host string `yaml:"host"`
	Port uint64 `yaml:"port"`
}

type NacosConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Servers     []NacosServer `yaml:"servers"`
	NamespaceID string        `yaml:"namespaceId"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	DataID      string        `yaml:"dataId"`
	Group       string        `yaml:"group"`
	LogDir      string        `yaml:"logDir"`
	CacheDir    string        `yaml:"cacheDir"`
	Register    bool          `yaml:"register"` // 是否把本节点注册到 nacos 命名服务
	ServiceName string        `yaml:"serviceName"`
	AdvertiseIP string        `yaml:"advertiseIp"`
	TimeoutMs   uint64        `yaml:"timeoutMs"`
}

func Default() *AppConfig {
	return &AppConfig{
		NodeID:   1,
		NodeName: "minerws-1",
		Server:   ServerConfig{Addr: ":8088", GrpcAddr: ":50051"},
		WS: WSConfig{
			Path:           "/ws",
			ReadTimeout:    90 * time.Second,
			WriteWait:      10 * time.Second,
			SendQueue:      256,
			MaxMessageSize: 1 << 20,
		},
		Session:  SessionConfig{IdleTTL: 3 * time.Minute, SweepEvery: 30 * time.Second},
		Log:      LogConfig{Level: "info"},
		Security: SecurityConfig{JWTAlg: "HS256", TokenTTL: 24 * time.Hour, RSABits: 2048},
		Store:    StoreConfig{Driver: StoreBolt, PersistTimeout: 5 * time.Second},
		Bolt:     BoltConfig{Path: "minerws.db", OpenTimeout: time.Second},
		Mongo:    mongoutil.Config{Uri: "mongodb://localhost:27017", Database: "minerws", MaxPoolSize: 100, MaxRetry: 3},
		Events:   EventsConfig{Drivers: []string{EventsLog}, QueueSize: 4096, PublishTimeout: 3 * time.Second},
		Nats: events.NatsConfig{
			Servers:       []string{"nats://127.0.0.1:4222"},
			Name:          "minerws",
			SubjectPrefix: "miner",
		},
		Kafka:    events.KafkaConfig{Brokers: []string{"127.0.0.1:9092"}, Topic: "miner.events", Retries: 5, Compression: "snappy"},
		Redis:    redisx.Config{Addr: "127.0.0.1:6379"},
		Presence: PresenceConfig{TTL: 3 * time.Minute},
		Nacos: NacosConfig{
			Servers:     []NacosServer{{Host: "127.0.0.1", Port: 8848}},
			DataID:      "minerws.yaml",
			Group:       "DEFAULT_GROUP",
			LogDir:      "nacos/log",
			CacheDir:    "nacos/cache",
			ServiceName: "minerws",
			TimeoutMs:   5000,
		},
	}
}

// Load reads the YAML file at path over Default, then applies MINERWS_*
// environment overrides. An empty path skips the file.
func Load(path string) (*AppConfig, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errs.WrapMsg(err, "read config", "path", path)
		}
		if err := Parse(data, cfg); err != nil {
			return nil, err
		}
	}
	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML into cfg; fields absent from data keep their value.
func Parse(data []byte, cfg *AppConfig) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return errs.WrapMsg(err, "parse config yaml")
	}
	return nil
}

func (c *AppConfig) Validate() error {
	if c.NodeID < 0 || c.NodeID > 1023 {
		return errs.ErrArgs.WrapMsg("nodeId out of range", "nodeId", c.NodeID)
	}
	if c.Security.JWTSecret == "" {
		return errs.ErrArgs.WrapMsg("security.jwtSecret is required")
	}
	switch c.Store.Driver {
	case StoreMemory:
	case StoreBolt:
		if c.Bolt.Path == "" {
			return errs.ErrArgs.WrapMsg("bolt.path is required")
		}
	case StoreMongo:
		if c.Postgres.DSN == "" {
			return errs.ErrArgs.WrapMsg("postgres.dsn is required for store driver mongo")
		}
	default:
		return errs.ErrArgs.WrapMsg("unknown store driver", "driver", c.Store.Driver)
	}
	for _, d := range c.Events.Drivers {
		switch d {
		case EventsLog, EventsNats, EventsKafka:
		default:
			return errs.ErrArgs.WrapMsg("unknown events driver", "driver", d)
		}
	}
	if c.Nacos.Enabled && len(c.Nacos.Servers) == 0 {
		return errs.ErrArgs.WrapMsg("nacos.servers is required when nacos is enabled")
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// applyEnv 环境变量覆盖，key 去掉前缀后匹配
func applyEnv(cfg *AppConfig, lookup func(string) (string, bool)) error {
	setters := map[string]func(string) error{
		"NODE_ID": func(v string) error {
			n, err := strconv.ParseInt(v, 10, 64)
			cfg.NodeID = n
			return err
		},
		"NODE_NAME":      func(v string) error { cfg.NodeName = v; return nil },
		"SERVER_ADDR":    func(v string) error { cfg.Server.Addr = v; return nil },
		"GRPC_ADDR":      func(v string) error { cfg.Server.GrpcAddr = v; return nil },
		"ADMIN_TOKEN":    func(v string) error { cfg.Server.AdminToken = v; return nil },
		"LOG_LEVEL":      func(v string) error { cfg.Log.Level = v; return nil },
		"JWT_SECRET":     func(v string) error { cfg.Security.JWTSecret = v; return nil },
		"STORE_DRIVER":   func(v string) error { cfg.Store.Driver = v; return nil },
		"BOLT_PATH":      func(v string) error { cfg.Bolt.Path = v; return nil },
		"MONGO_URI":      func(v string) error { cfg.Mongo.Uri = v; return nil },
		"POSTGRES_DSN":   func(v string) error { cfg.Postgres.DSN = v; return nil },
		"REDIS_ADDR":     func(v string) error { cfg.Redis.Addr = v; return nil },
		"REDIS_PASSWORD": func(v string) error { cfg.Redis.Password = v; return nil },
		"EVENTS_DRIVERS": func(v string) error { cfg.Events.Drivers = splitList(v); return nil },
		"NATS_SERVERS":   func(v string) error { cfg.Nats.Servers = splitList(v); return nil },
		"KAFKA_BROKERS":  func(v string) error { cfg.Kafka.Brokers = splitList(v); return nil },
		"PRESENCE_ENABLED": func(v string) error {
			b, err := strconv.ParseBool(v)
			cfg.Presence.Enabled = b
			return err
		},
		"NACOS_ENABLED": func(v string) error {
			b, err := strconv.ParseBool(v)
			cfg.Nacos.Enabled = b
			return err
		},
	}
	for key, set := range setters {
		v, ok := lookup(EnvPrefix + key)
		if !ok {
			continue
		}
		if err := set(v); err != nil {
			return errs.ErrArgs.WrapMsg(fmt.Sprintf("env %s%s", EnvPrefix, key), "value", v, "err", err)
		}
	}
	return nil
}
