package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"luna-dine/internal/extension"
	"luna-dine/internal/extension/builtin"
	"luna-dine/internal/httpapi"
	"luna-dine/internal/menu"
	"luna-dine/internal/notification"
	"luna-dine/internal/order"
	"luna-dine/internal/order/cart"
	"luna-dine/internal/settings"
	"luna-dine/pkg/config"
	"luna-dine/pkg/db"
	"luna-dine/pkg/logger"
	"luna-dine/pkg/rabbitmq"

	"github.com/redis/go-redis/v9"
)

func main() {
	mode := flag.String("mode", "", "service to run: server | notification-worker")
	configPath := flag.String("config", "", "path to config.yaml (env vars used when empty)")
	batchSize := flag.Int("batch-size", 50, "notification queue batch size (notification-worker)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch *mode {
	case "server":
		mylog := logger.NewLogger("luna-dine-server")
		if err := runServer(ctx, cfg, mylog); err != nil {
			mylog.Error("", "server_failed", "Server exited with error", err)
			os.Exit(1)
		}
	case "notification-worker":
		mylog := logger.NewLogger("luna-dine-notification-worker")
		if err := runNotificationWorker(ctx, cfg, mylog, *batchSize); err != nil {
			mylog.Error("", "worker_failed", "Notification worker exited with error", err)
			os.Exit(1)
		}
	default:
		fmt.Println("Usage:")
		flag.PrintDefaults()
		fmt.Println("\nExample:")
		fmt.Println("  ./luna-dine --mode=server --config=config.yaml")
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadConfig(path)
	}
	return config.LoadDotEnv(), nil
}

func runServer(ctx context.Context, cfg *config.Config, mylog *logger.Logger) error {
	pool, err := db.ConnectDB(cfg.DB, mylog)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	rmq, err := rabbitmq.ConnectRabbitMQ(cfg.RMQ, mylog)
	if err != nil {
		return fmt.Errorf("connect rabbitmq: %w", err)
	}
	defer rmq.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	mylog.Info("startup", "redis_connected", "Connected to Redis")

	store := settings.NewPgStore(pool)
	dispatcher := notification.NewDispatcher(
		notification.NewPgTemplateStore(pool),
		notification.NewPgQueueStore(pool),
		notification.NewAMQPDeliverer(rmq),
		store,
		mylog,
	)

	registry := extension.NewRegistry(cfg.Extensions.Dir, store, extension.Deps{
		Settings: store,
		Notifier: dispatcher,
		Log:      mylog,
	}, mylog)
	registry.RegisterFactory(builtin.NotificationsName, builtin.NewNotifications)
	if err := registry.Discover(ctx); err != nil {
		return fmt.Errorf("discover extensions: %w", err)
	}

	menuRepo := menu.NewRepo(pool)
	workflow := order.NewWorkflow(
		order.NewPgRepository(pool),
		cart.NewRedisStore(redisClient),
		menuRepo,
		menuRepo,
		registry,
		mylog,
	)

	server := httpapi.NewServer(ctx, cfg.HTTP, workflow, registry, mylog)
	return server.Run()
}

func runNotificationWorker(ctx context.Context, cfg *config.Config, mylog *logger.Logger, batchSize int) error {
	pool, err := db.ConnectDB(cfg.DB, mylog)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	rmq, err := rabbitmq.ConnectRabbitMQ(cfg.RMQ, mylog)
	if err != nil {
		return fmt.Errorf("connect rabbitmq: %w", err)
	}
	defer rmq.Close()

	store := settings.NewPgStore(pool)
	dispatcher := notification.NewDispatcher(
		notification.NewPgTemplateStore(pool),
		notification.NewPgQueueStore(pool),
		notification.NewAMQPDeliverer(rmq),
		store,
		mylog,
	)

	mylog.Info("startup", "worker_started", "Notification worker started")

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			mylog.Info("", "worker_stopped", "Notification worker stopped")
			return nil
		case <-ticker.C:
			delivered, err := dispatcher.ProcessQueue(ctx, batchSize)
			if err != nil {
				mylog.Error("", "queue_processing_failed", "Failed to process notification queue", err)
				continue
			}
			if delivered > 0 {
				mylog.Debug("", "queue_processed",
					fmt.Sprintf("Delivered %d notifications", delivered))
			}
		}
	}
}
