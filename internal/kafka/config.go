package kafka

import (
	"time"

	"github.com/Dhoini/billing-scheduler/internal/domain"
	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff/v4"
)

// DefaultTopicPrefix префикс топиков событий биллинга
const DefaultTopicPrefix = "billing"

// Config конфигурация для Kafka
type Config struct {
	Brokers     []string
	ClientID    string
	TopicPrefix string
	Topics      TopicConfig
	Producer    ProducerConfig
	Setup       SetupConfig
}

// SetupConfig повторы при создании топиков, пока брокер поднимается
type SetupConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxRetries      uint64
}

// TopicConfig параметры создаваемых топиков
type TopicConfig struct {
	NumPartitions     int32
	ReplicationFactor int16
}

// ProducerConfig конфигурация для продюсера
type ProducerConfig struct {
	MaxMessageBytes  int
	Compression      sarama.CompressionCodec
	RequiredAcks     sarama.RequiredAcks
	FlushMaxMessages int
	RetryMax         int
	Timeout          time.Duration
}

// NewConfig создает новую конфигурацию Kafka
func NewConfig(brokers []string, topicPrefix string) *Config {
	if topicPrefix == "" {
		topicPrefix = DefaultTopicPrefix
	}
	return &Config{
		Brokers:     brokers,
		ClientID:    "billing-scheduler",
		TopicPrefix: topicPrefix,
		Topics: TopicConfig{
			NumPartitions:     3,
			ReplicationFactor: 1,
		},
		Producer: ProducerConfig{
			MaxMessageBytes:  1000000,
			Compression:      sarama.CompressionSnappy,
			RequiredAcks:     sarama.WaitForAll,
			FlushMaxMessages: 100,
			RetryMax:         3,
			Timeout:          10 * time.Second,
		},
		Setup: SetupConfig{
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     5 * time.Second,
			MaxRetries:      5,
		},
	}
}

// NewSetupBackOff создает экспоненциальную стратегию повторов для админских операций
func NewSetupBackOff(cfg SetupConfig) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.InitialInterval
	bo.MaxInterval = cfg.MaxInterval
	bo.MaxElapsedTime = 0
	bo.Reset()
	return backoff.WithMaxRetries(bo, cfg.MaxRetries)
}

// Topic возвращает имя топика для типа события
func (c *Config) Topic(eventType domain.EventType) string {
	return c.TopicPrefix + "." + string(eventType)
}

// AllTopics возвращает имена всех топиков, в которые пишет сервис
func (c *Config) AllTopics() []string {
	types := []domain.EventType{
		domain.EventTypeTransactionCreated,
		domain.EventTypeTransactionSucceeded,
		domain.EventTypeTransactionRetrying,
		domain.EventTypeTransactionFailed,
		domain.EventTypeSubscriptionCreated,
		domain.EventTypeSubscriptionRenewed,
		domain.EventTypeSubscriptionStatusChanged,
	}
	topics := make([]string, 0, len(types))
	for _, t := range types {
		topics = append(topics, c.Topic(t))
	}
	return topics
}

// NewSaramaConfig создает новую конфигурацию Sarama
func NewSaramaConfig(cfg *Config) *sarama.Config {
	saramaConfig := sarama.NewConfig()

	// Версия Kafka
	saramaConfig.Version = sarama.V3_3_0_0
	saramaConfig.ClientID = cfg.ClientID

	// Настройки продюсера. SyncProducer требует Return.Successes.
	saramaConfig.Producer.MaxMessageBytes = cfg.Producer.MaxMessageBytes
	saramaConfig.Producer.Compression = cfg.Producer.Compression
	saramaConfig.Producer.RequiredAcks = cfg.Producer.RequiredAcks
	saramaConfig.Producer.Flush.MaxMessages = cfg.Producer.FlushMaxMessages
	saramaConfig.Producer.Retry.Max = cfg.Producer.RetryMax
	saramaConfig.Producer.Timeout = cfg.Producer.Timeout
	saramaConfig.Producer.Partitioner = sarama.NewHashPartitioner
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true

	return saramaConfig
}
