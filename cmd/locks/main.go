package main

import (
	"context"
	"reclock/internal/locks/handler"
	"reclock/internal/locks/repository"
	"reclock/internal/locks/service"
	"reclock/internal/locks/validator"
	"reclock/pkg/app"
	"reclock/pkg/config"
	"reclock/pkg/events"
	kafka_config "reclock/pkg/kafka/config"
)

const ServiceName = "locks"

func main() {
	cfg := config.Load(ServiceName)

	cfg.Log.Info("Starting record lock service")
	cfg.SetMongo()
	defer cfg.GracefulShutdown()

	lockRepo := repository.NewMongoLockRepository(cfg)
	if err := lockRepo.EnsureIndexes(context.Background()); err != nil {
		cfg.Log.Fatal("Failed to create lock indexes", "error", err)
	}

	publisher := initPublisher(cfg)
	lockService := initServices(cfg, lockRepo, publisher)
	sweeper := service.NewSweeper(lockRepo, publisher, cfg)

	serverApp := app.NewApplication(cfg)
	serverApp.SetApp(handler.NewLockHandler(lockService, cfg.Log), sweeper, publisher)
	serverApp.Run()
}

func initPublisher(cfg *config.Config) events.Publisher {
	if cfg.LockEventsTopic == "" {
		cfg.Log.Info("Lock event publishing disabled")
		return events.NoopPublisher{}
	}

	kafkaCfg, err := kafka_config.Load()
	if err != nil {
		cfg.Log.Fatal("Invalid Kafka configuration", "error", err)
	}

	publisher, err := events.NewKafkaPublisher(kafkaCfg, cfg.LockEventsTopic, ServiceName, cfg.Log)
	if err != nil {
		cfg.Log.Fatal("Failed to create event publisher", "error", err)
	}

	cfg.Log.Info("Lock event publishing enabled", "topic", cfg.LockEventsTopic)
	return publisher
}

func initServices(cfg *config.Config, repo repository.LockRepository, publisher events.Publisher) service.LockService {
	lockValidator := validator.NewLockValidator(cfg.Log)
	lockService := service.NewLockService(
		repo,
		lockValidator,
		publisher,
		cfg,
	)

	cfg.Log.Info("Lock service initialized", "database", cfg.MongoDatabaseName)
	return lockService
}
