package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config структура конфигурации приложения
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Redis     RedisConfig     `mapstructure:"redis"`
}

// ServerConfig конфигурация HTTP сервера
type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig конфигурация логгера
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// SchedulerConfig настройки цикла списаний
type SchedulerConfig struct {
	Interval                 time.Duration `mapstructure:"interval"`
	MaxAttempts              int           `mapstructure:"max_attempts"`
	RetryDelay               time.Duration `mapstructure:"retry_delay"`
	SettleTimeout            time.Duration `mapstructure:"settle_timeout"`
	MaxConcurrentSettlements int           `mapstructure:"max_concurrent_settlements"`
}

// GatewayConfig настройки заглушки платежного шлюза
type GatewayConfig struct {
	SuccessRate float64       `mapstructure:"success_rate"`
	Latency     time.Duration `mapstructure:"latency"`
	Seed        uint64        `mapstructure:"seed"`
}

// KafkaConfig конфигурация публикации событий
type KafkaConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	Brokers      []string `mapstructure:"brokers"`
	TopicPrefix  string   `mapstructure:"topic_prefix"`
	EnsureTopics bool     `mapstructure:"ensure_topics"`
}

// RedisConfig конфигурация кэша снимков
type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("logging.level", "info")

	v.SetDefault("scheduler.interval", 5*time.Second)
	v.SetDefault("scheduler.max_attempts", 3)
	v.SetDefault("scheduler.retry_delay", 60*time.Second)
	v.SetDefault("scheduler.settle_timeout", 10*time.Second)
	v.SetDefault("scheduler.max_concurrent_settlements", 16)

	v.SetDefault("gateway.success_rate", 0.8)
	v.SetDefault("gateway.latency", 2*time.Second)
	v.SetDefault("gateway.seed", 0)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic_prefix", "billing")
	v.SetDefault("kafka.ensure_topics", true)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 15*time.Minute)
}

// Load загружает конфигурацию: .env (если есть), затем YAML файл (если задан),
// затем переменные окружения вида SCHEDULER_INTERVAL, KAFKA_BROKERS.
func Load(configFile string) (*Config, error) {
	if os.Getenv("APP_ENV") != "production" {
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}

	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// короткие имена, которые принято задавать в окружении
	_ = v.BindEnv("server.port", "SERVER_PORT", "PORT")
	_ = v.BindEnv("logging.level", "LOGGING_LEVEL", "LOG_LEVEL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate проверяет согласованность значений
func (c *Config) Validate() error {
	var problems []string

	if c.Server.Port == "" {
		problems = append(problems, "server.port is empty")
	}
	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		problems = append(problems, "server.mode must be debug, release or test")
	}
	if c.Scheduler.Interval <= 0 {
		problems = append(problems, "scheduler.interval must be positive")
	}
	if c.Scheduler.MaxAttempts < 1 {
		problems = append(problems, "scheduler.max_attempts must be at least 1")
	}
	if c.Scheduler.RetryDelay < 0 {
		problems = append(problems, "scheduler.retry_delay must not be negative")
	}
	if c.Scheduler.SettleTimeout <= 0 {
		problems = append(problems, "scheduler.settle_timeout must be positive")
	}
	if c.Scheduler.MaxConcurrentSettlements < 1 {
		problems = append(problems, "scheduler.max_concurrent_settlements must be at least 1")
	}
	if c.Gateway.SuccessRate < 0 || c.Gateway.SuccessRate > 1 {
		problems = append(problems, "gateway.success_rate must be within [0, 1]")
	}
	if c.Gateway.Latency < 0 {
		problems = append(problems, "gateway.latency must not be negative")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		problems = append(problems, "kafka.brokers is required when kafka is enabled")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		problems = append(problems, "redis.addr is required when redis is enabled")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}
