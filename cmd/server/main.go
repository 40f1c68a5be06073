package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Dhoini/billing-scheduler/config"
	"github.com/Dhoini/billing-scheduler/internal/api/rest"
	"github.com/Dhoini/billing-scheduler/internal/billing"
	"github.com/Dhoini/billing-scheduler/internal/clock"
	"github.com/Dhoini/billing-scheduler/internal/gateway"
	"github.com/Dhoini/billing-scheduler/internal/kafka"
	"github.com/Dhoini/billing-scheduler/internal/kafka/producer"
	"github.com/Dhoini/billing-scheduler/internal/metrics"
	"github.com/Dhoini/billing-scheduler/internal/repository"
	"github.com/Dhoini/billing-scheduler/internal/scheduler"
	"github.com/Dhoini/billing-scheduler/internal/seed"
	"github.com/Dhoini/billing-scheduler/internal/service"
	"github.com/Dhoini/billing-scheduler/pkg/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "billing-scheduler",
		Short:         "Recurring billing scheduler",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newServeCmd())
	return cmd
}

func newServeCmd() *cobra.Command {
	var (
		configFile string
		withSeed   bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and its REST API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, withSeed)
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "path to a YAML config file")
	cmd.Flags().BoolVar(&withSeed, "seed", false, "load the demo ledger on startup")
	return cmd
}

func run(ctx context.Context, cfg *config.Config, withSeed bool) error {
	log := logger.New(logger.ParseLevel(cfg.Logging.Level))
	defer func() { _ = log.Sync() }()

	// Инициализация Prometheus
	promRegistry := prometheus.NewRegistry()
	billingMetrics := metrics.NewBillingMetrics(promRegistry, log)
	systemMetrics := metrics.NewSystemMetrics(promRegistry, log)
	systemMetrics.StartRecording(15 * time.Second)
	defer systemMetrics.Stop()

	publisher := setupPublisher(cfg.Kafka, log)
	defer func() {
		if err := publisher.Close(); err != nil {
			log.Errorw("Error closing Kafka producer", "error", err)
		}
	}()

	store := repository.NewLedgerStore(log)
	cache := setupCache(cfg.Redis, log)
	if cache != nil {
		defer func() {
			if err := cache.Close(); err != nil {
				log.Errorw("Error closing Redis connection", "error", err)
			}
		}()
	}
	reader := repository.NewCachedLedger(store, cache, log)

	clk := clock.Real{}
	svc := service.NewBillingService(store, reader, clk, publisher, billingMetrics, log)
	if withSeed {
		subs, txns := seed.Demo(clk.Now())
		if err := svc.Seed(ctx, subs, txns); err != nil {
			return err
		}
	}

	gw, err := gateway.NewStub(gateway.StubConfig{
		SuccessRate: cfg.Gateway.SuccessRate,
		Latency:     cfg.Gateway.Latency,
		Seed:        cfg.Gateway.Seed,
	}, log)
	if err != nil {
		return err
	}

	sched := scheduler.New(scheduler.Config{
		Interval:       cfg.Scheduler.Interval,
		SettleTimeout:  cfg.Scheduler.SettleTimeout,
		MaxConcurrency: cfg.Scheduler.MaxConcurrentSettlements,
		Policy: billing.RetryPolicy{
			MaxAttempts: cfg.Scheduler.MaxAttempts,
			RetryDelay:  cfg.Scheduler.RetryDelay,
		},
	}, store, gw, clk, log,
		scheduler.WithPublisher(publisher),
		scheduler.WithMetrics(billingMetrics),
		scheduler.WithSnapshotRefresher(reader),
	)

	gin.SetMode(cfg.Server.Mode)
	router := rest.SetupRouter(svc, sched, promRegistry, log)
	server := rest.NewServer(router, cfg.Server, log)

	if err := sched.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()

		// сначала перестаем принимать запросы, потом дожидаемся пакета
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		err := server.Shutdown(shutdownCtx)
		sched.Stop()
		return err
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("Server stopped gracefully")
	return nil
}

// setupPublisher подключает Kafka; при ошибке продолжаем без событий
func setupPublisher(cfg config.KafkaConfig, log *logger.Logger) producer.Publisher {
	if !cfg.Enabled {
		log.Infow("Kafka disabled, events will not be published")
		return producer.NewNoopPublisher(log)
	}

	kafkaConfig := kafka.NewConfig(cfg.Brokers, cfg.TopicPrefix)

	if cfg.EnsureTopics {
		admin, err := kafka.NewClusterAdmin(kafkaConfig)
		if err != nil {
			log.Warnw("Cannot connect Kafka admin, skipping topic creation", "error", err)
		} else {
			if err := kafka.EnsureTopics(admin, kafkaConfig, log); err != nil {
				log.Warnw("Failed to ensure Kafka topics", "error", err)
			}
			_ = admin.Close()
		}
	}

	syncProducer, err := sarama.NewSyncProducer(kafkaConfig.Brokers, kafka.NewSaramaConfig(kafkaConfig))
	if err != nil {
		log.Errorw("Failed to initialize Kafka producer, continuing without event publishing", "error", err)
		return producer.NewNoopPublisher(log)
	}
	log.Infow("Kafka producer initialized", "brokers", kafkaConfig.Brokers)
	return producer.NewKafkaBillingProducer(syncProducer, kafkaConfig.Topic, log)
}

// setupCache подключает Redis; при ошибке снимки читаются напрямую из хранилища
func setupCache(cfg config.RedisConfig, log *logger.Logger) *repository.SnapshotCache {
	if !cfg.Enabled {
		return nil
	}
	cache, err := repository.NewSnapshotCache(cfg.Addr, cfg.Password, cfg.DB, cfg.TTL, log)
	if err != nil {
		log.Errorw("Failed to connect to Redis, continuing without snapshot cache", "error", err)
		return nil
	}
	// версии снимка прошлого запуска несравнимы с новым хранилищем
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := cache.Invalidate(ctx); err != nil {
		log.Warnw("Failed to drop snapshot left by a previous run", "error", err)
	}
	return cache
}
