// Package worker запускает движок сценариев напоминаний: потребителя
// очереди запусков, периодическую выдачу спящих сценариев и перевод
// просроченных подписок в expired.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/streadway/amqp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/magabrotheeeer/subscription-tracker/internal/cache"
	"github.com/magabrotheeeer/subscription-tracker/internal/config"
	"github.com/magabrotheeeer/subscription-tracker/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/subscription-tracker/internal/lib/sl"
	"github.com/magabrotheeeer/subscription-tracker/internal/reminder"
	subservice "github.com/magabrotheeeer/subscription-tracker/internal/services/subscription"
	"github.com/magabrotheeeer/subscription-tracker/internal/storage/repository"
	"github.com/magabrotheeeer/subscription-tracker/internal/workflow"
)

// App фоновый обработчик сценариев.
type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	db         *repository.Storage
	pool       *pgxpool.Pool
	cache      *cache.Cache
	conn       *amqp.Connection
	runsCh     *amqp.Channel
	notifyCh   *amqp.Channel
	engine     *workflow.Engine
	dispatcher *workflow.Dispatcher
	expirer    *subservice.SubscriptionService
	health     *health.Server
	grpcServer *grpc.Server
	metrics    *http.Server
}

func waitForDB(ctx context.Context, db *repository.Storage) error {
	for range 10 {
		err := db.CheckDatabaseReady(ctx)
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(3 * time.Second):
		}
	}
	return fmt.Errorf("database not ready after retries")
}

// New создает новый экземпляр обработчика.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	const op = "app.worker.New"
	a := &App{cfg: cfg, logger: logger}

	var err error
	a.db, err = repository.New(ctx, cfg.StorageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to connect storage: %w", op, err)
	}
	if err = waitForDB(ctx, a.db); err != nil {
		a.close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	a.pool, err = pgxpool.New(ctx, cfg.StorageConnectionString)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	a.cache, err = cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("%s: cache not initialized: %w", op, err)
	}

	a.conn, err = rabbitmq.Connect(cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("%s: failed to connect RabbitMQ: %w", op, err)
	}
	a.runsCh, err = rabbitmq.SetupChannel(a.conn, rabbitmq.GetWorkflowQueues())
	if err != nil {
		a.close()
		return nil, fmt.Errorf("%s: failed to setup RabbitMQ channel: %w", op, err)
	}
	a.notifyCh, err = rabbitmq.SetupChannel(a.conn, rabbitmq.GetNotificationQueues())
	if err != nil {
		a.close()
		return nil, fmt.Errorf("%s: failed to setup RabbitMQ channel: %w", op, err)
	}

	store := workflow.NewPostgresStore(a.pool)
	runs := rabbitmq.NewPublisher(a.runsCh, rabbitmq.WorkflowsExchange)

	a.engine = workflow.NewEngine(store, workflow.EngineConfig{
		Lease:        cfg.Lease,
		MaxAttempts:  cfg.MaxAttempts,
		RetryBackoff: cfg.RetryBackoff,
		MaxBackoff:   cfg.MaxBackoff,
	}, logger)
	reminder.NewScheduler(
		reminder.NewRepositorySource(a.db),
		reminder.NewQueueNotifier(rabbitmq.NewPublisher(a.notifyCh, rabbitmq.NotificationsExchange), logger),
		reminder.NewPlan(cfg.OffsetsDays),
		logger,
	).Register(a.engine)

	a.dispatcher = workflow.NewDispatcher(store, runs, cfg.BatchSize, cfg.RedeliveryAfter, logger)
	client := workflow.NewClient(store, runs, cfg.RedeliveryAfter, logger)
	a.expirer = subservice.NewSubscriptionService(a.db, a.cache, client, cfg.CacheTTL, logger)

	a.health = health.NewServer()
	a.grpcServer = grpc.NewServer()
	healthpb.RegisterHealthServer(a.grpcServer, a.health)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	a.metrics = &http.Server{
		Addr:              cfg.MetricsAddress,
		Handler:           mux,
		ReadHeaderTimeout: cfg.TimeoutHTTP,
	}
	return a, nil
}

// Run запускает потребителя, планировщик и служебные серверы до отмены ctx.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if err := rabbitmq.ConsumerMessage(ctx, a.runsCh, rabbitmq.WorkflowRunQueue, a.logger, a.engine.HandleMessage); err != nil {
		a.close()
		return fmt.Errorf("failed to start %s consumer: %w", rabbitmq.WorkflowRunQueue, err)
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", a.cfg.PollInterval), func() {
		if _, err := a.dispatcher.DispatchDue(ctx); err != nil {
			a.logger.Error("failed to dispatch due runs", sl.Err(err))
		}
	}); err != nil {
		a.close()
		return fmt.Errorf("failed to schedule dispatcher: %w", err)
	}
	if _, err := c.AddFunc(a.cfg.ExpirySchedule, func() {
		if _, err := a.expirer.ExpireOverdue(ctx); err != nil {
			a.logger.Error("failed to expire subscriptions", sl.Err(err))
		}
	}); err != nil {
		a.close()
		return fmt.Errorf("failed to schedule expiry sweep: %w", err)
	}
	c.Start()

	g.Go(func() error {
		lis, err := net.Listen("tcp", a.cfg.GRPCHealthAddress)
		if err != nil {
			return fmt.Errorf("failed to listen %s: %w", a.cfg.GRPCHealthAddress, err)
		}
		a.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		a.logger.Info("gRPC health server starting", slog.String("address", a.cfg.GRPCHealthAddress))
		return a.grpcServer.Serve(lis)
	})
	g.Go(func() error {
		a.logger.Info("metrics server starting", slog.String("address", a.cfg.MetricsAddress))
		if err := a.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		a.logger.Info("shutting down worker")
		a.health.Shutdown()
		<-c.Stop().Done()
		a.grpcServer.GracefulStop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := a.metrics.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("failed to stop metrics server", sl.Err(err))
		}
		a.close()
		return nil
	})

	return g.Wait()
}

func (a *App) close() {
	for _, ch := range []*amqp.Channel{a.runsCh, a.notifyCh} {
		if ch != nil {
			if err := ch.Close(); err != nil {
				a.logger.Error("failed to close channel", sl.Err(err))
			}
		}
	}
	if a.conn != nil {
		if err := a.conn.Close(); err != nil {
			a.logger.Error("failed to close connection", sl.Err(err))
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.Error("failed to close cache", sl.Err(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error("failed to close storage", sl.Err(err))
		}
	}
}
