package config

import (
	"os"
	"time"

	kafkawrapper "github.com/joripage/darkpool-engine/pkg/infra/kafka"
	postgres_wrapper "github.com/joripage/darkpool-engine/pkg/infra/postgres"
	redis_wrapper "github.com/joripage/darkpool-engine/pkg/infra/redis"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type AppConfig struct {
	ServiceName string                           `yaml:"service_name"`
	EngineDB    *postgres_wrapper.PostgresConfig `yaml:"engine_db"`
	Redis       *redis_wrapper.RedisConfig       `yaml:"redis"`
	Kafka       *KafkaConfig                     `yaml:"kafka"`
	Fix         *FixConfig                       `yaml:"fix"`
	Engine      *EngineConfig                    `yaml:"engine"`
}

type KafkaConfig struct {
	Brokers         []string `yaml:"brokers"`
	SettlementTopic string   `yaml:"settlement_topic"`
	ConsumerGroupID string   `yaml:"consumer_group_id"`
	DLQTopic        string   `yaml:"dlq_topic"`
}

type FixConfig struct {
	SettingsFile string `yaml:"settings_file"`
}

type EngineConfig struct {
	Workers          int           `yaml:"workers"`
	QueueSize        int           `yaml:"queue_size"`
	DefaultDepth     int           `yaml:"default_depth"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`
	StreamBuffer     int           `yaml:"stream_buffer"`
	DepthCacheTTL    time.Duration `yaml:"depth_cache_ttl"`
	DepthCachePrefix string        `yaml:"depth_cache_prefix"`
}

// Load load config from file and environment variables.
func Load(filePath string) (*AppConfig, error) {
	if len(filePath) == 0 {
		filePath = os.Getenv("CONFIG_FILE")
	}

	fields := []interface{}{
		"func",
		"config.readFromFile",
		"filePath",
		filePath,
	}

	sugar := zap.S().With(fields...)

	sugar.Debug("Load config...")
	zap.S().Debugf("CONFIG_FILE=%v", filePath)

	configBytes, err := os.ReadFile(filePath)
	if err != nil {
		sugar.Error("Failed to load config file")
		return nil, err
	}
	configBytes = []byte(os.ExpandEnv(string(configBytes)))

	cfg := &AppConfig{}

	err = yaml.Unmarshal(configBytes, cfg)
	if err != nil {
		sugar.Error("Failed to parse config file")
		return nil, err
	}

	zap.S().Debugf("config: %+v", cfg)

	return cfg, nil
}

// NewKafkaProducer builds a producer from app config.
func (c *AppConfig) NewKafkaProducer() *kafkawrapper.Producer {
	if c.Kafka == nil || len(c.Kafka.Brokers) == 0 {
		return nil
	}
	return kafkawrapper.NewProducer(kafkawrapper.ProducerConfig{
		Brokers: c.Kafka.Brokers,
	})
}
