package kafka

import (
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/Dhoini/billing-scheduler/pkg/logger"
	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff/v4"
)

// TopicAdmin часть sarama.ClusterAdmin, нужная для создания топиков
type TopicAdmin interface {
	ListTopics() (map[string]sarama.TopicDetail, error)
	CreateTopic(topic string, detail *sarama.TopicDetail, validateOnly bool) error
}

// NewClusterAdmin подключается к кластеру для админских операций
func NewClusterAdmin(cfg *Config) (sarama.ClusterAdmin, error) {
	if len(cfg.Brokers) == 0 || cfg.Brokers[0] == "" {
		return nil, errors.New("kafka broker address is empty")
	}
	admin, err := sarama.NewClusterAdmin(cfg.Brokers, NewSaramaConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("kafka connection failed: %w", err)
	}
	return admin, nil
}

// EnsureTopics проверяет и создает недостающие топики событий.
// Временные ошибки брокера повторяются с экспоненциальной задержкой.
func EnsureTopics(admin TopicAdmin, cfg *Config, log *logger.Logger) error {
	required := cfg.AllTopics()
	log.Infow("Ensuring Kafka topics exist...", "topics", required)

	var created []string
	operation := func() error {
		existing, err := admin.ListTopics()
		if err != nil {
			log.Warnw("Failed to list Kafka topics, retrying", "error", err)
			return fmt.Errorf("kafka list topics failed: %w", err)
		}
		log.Debugw("Found existing topics", "count", len(existing))

		for _, topic := range required {
			if _, ok := existing[topic]; ok || slices.Contains(created, topic) {
				continue
			}

			detail := &sarama.TopicDetail{
				NumPartitions:     cfg.Topics.NumPartitions,
				ReplicationFactor: cfg.Topics.ReplicationFactor,
			}
			if err := admin.CreateTopic(topic, detail, false); err != nil {
				if isTopicExists(err) {
					// топик мог создать соседний инстанс
					log.Warnw("Topic already existed during creation attempt", "topic", topic)
					continue
				}
				err = fmt.Errorf("kafka create topic %s failed: %w", topic, err)
				if isInvalidTopicConfig(err) {
					return backoff.Permanent(err)
				}
				log.Warnw("Failed to create topic, retrying", "topic", topic, "error", err)
				return err
			}
			created = append(created, topic)
		}
		return nil
	}

	if err := backoff.Retry(operation, NewSetupBackOff(cfg.Setup)); err != nil {
		log.Errorw("Giving up on Kafka topics", "error", err)
		return err
	}

	if len(created) == 0 {
		log.Infow("All required topics already exist.")
		return nil
	}
	sort.Strings(created)
	log.Infow("Successfully created topics", "topics", created)
	return nil
}

func isTopicExists(err error) bool {
	if errors.Is(err, sarama.ErrTopicAlreadyExists) {
		return true
	}
	var topicErr *sarama.TopicError
	return errors.As(err, &topicErr) && topicErr.Err == sarama.ErrTopicAlreadyExists
}

func isInvalidTopicConfig(err error) bool {
	return errors.Is(err, sarama.ErrInvalidReplicationFactor) ||
		errors.Is(err, sarama.ErrInvalidPartitions) ||
		errors.Is(err, sarama.ErrInvalidTopic)
}
