package events

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"MinerWs/logger"
	"MinerWs/tools/errs"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"
)

const defaultTopic = "miner.events"

type KafkaConfig struct {
	Brokers     []string `yaml:"brokers"`
	Topic       string   `yaml:"topic"`
	Retries     int      `yaml:"retries"`
	Compression string   `yaml:"compression"` // none/snappy/lz4/zstd

	AutoCreateTopic   bool  `yaml:"autoCreateTopic"`
	Partitions        int32 `yaml:"partitions"`
	ReplicationFactor int16 `yaml:"replicationFactor"`
}

// BuildProducerConfig returns the sarama config used by the gateway's sync
// producer. Events are keyed by client id, so the hash partitioner keeps
// one client's events on one partition.
func BuildProducerConfig(cfg KafkaConfig) *sarama.Config {
	sc := sarama.NewConfig()
	sc.Version = sarama.V2_1_0_0
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	sc.Producer.RequiredAcks = sarama.WaitForAll
	if cfg.Retries <= 0 {
		cfg.Retries = 1
	}
	sc.Producer.Retry.Max = cfg.Retries
	sc.Producer.Partitioner = sarama.NewHashPartitioner
	switch strings.ToLower(cfg.Compression) {
	case "snappy":
		sc.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		sc.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		sc.Producer.Compression = sarama.CompressionZSTD
	default:
		sc.Producer.Compression = sarama.CompressionNone
	}
	sc.Net.DialTimeout = 10 * time.Second
	sc.Net.ReadTimeout = 30 * time.Second
	sc.Net.WriteTimeout = 30 * time.Second
	return sc
}

type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

func NewKafkaPublisher(cfg KafkaConfig) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers missing")
	}
	sc := BuildProducerConfig(cfg)
	if cfg.AutoCreateTopic {
		admin, err := sarama.NewClusterAdmin(cfg.Brokers, sc)
		if err != nil {
			return nil, errs.WrapMsg(err, "kafka cluster admin")
		}
		err = EnsureTopic(admin, cfg)
		_ = admin.Close()
		if err != nil {
			return nil, err
		}
	}
	p, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, err
	}
	return NewKafkaPublisherFromProducer(p, cfg.Topic), nil
}

// EnsureTopic 不存在则创建；已存在且分区数小于期望值时扩分区（只能加不能减）
func EnsureTopic(admin sarama.ClusterAdmin, cfg KafkaConfig) error {
	topic := cfg.Topic
	if topic == "" {
		topic = defaultTopic
	}
	parts := cfg.Partitions
	if parts <= 0 {
		parts = 12
	}
	rf := cfg.ReplicationFactor
	if rf <= 0 {
		rf = 1
	}

	descs, err := admin.DescribeTopics([]string{topic})
	if err != nil {
		return errs.WrapMsg(err, "describe topic", "topic", topic)
	}
	exists := len(descs) == 1 && descs[0].Err == sarama.ErrNoError

	if !exists {
		minISR := "1"
		if rf >= 3 {
			minISR = "2"
		}
		err := admin.CreateTopic(topic, &sarama.TopicDetail{
			NumPartitions:     parts,
			ReplicationFactor: rf,
			ConfigEntries: map[string]*string{
				"cleanup.policy":                 strPtr("delete"),
				"min.insync.replicas":            strPtr(minISR),
				"unclean.leader.election.enable": strPtr("false"),
				"compression.type":               strPtr("producer"),
			},
		}, false)
		var te *sarama.TopicError
		switch {
		case err == nil:
			logger.Info("[Kafka] topic created", zap.String("topic", topic), zap.Int32("partitions", parts))
		case errors.Is(err, sarama.ErrTopicAlreadyExists),
			errors.As(err, &te) && te.Err == sarama.ErrTopicAlreadyExists:
			// 并发创建
		default:
			return errs.WrapMsg(err, "create topic", "topic", topic)
		}
		return nil
	}

	cur := int32(len(descs[0].Partitions))
	if parts > cur {
		if err := admin.CreatePartitions(topic, parts, nil, false); err != nil {
			return errs.WrapMsg(err, "expand partitions", "topic", topic, "from", cur, "to", parts)
		}
		logger.Info("[Kafka] partitions expanded", zap.String("topic", topic), zap.Int32("from", cur), zap.Int32("to", parts))
	}
	return nil
}

func strPtr(s string) *string { return &s }

func NewKafkaPublisherFromProducer(p sarama.SyncProducer, topic string) *KafkaPublisher {
	if topic == "" {
		topic = defaultTopic
	}
	return &KafkaPublisher{producer: p, topic: topic}
}

func (p *KafkaPublisher) Publish(_ context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, _, err = p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(ev.ClientID),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("kind"), Value: []byte(ev.Kind)},
		},
	})
	return err
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
