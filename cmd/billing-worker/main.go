package main

import (
	"context"
	"errors"
	"os"
	"time"

	"billing/internal/cli"
	"billing/internal/events"
	"billing/internal/log"
)

const (
	shutdownTimeout = 30 * time.Second
	prefetch        = 10
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig()
	logger := cli.SetupLogger(cfg, log.ComponentWorker)

	if !cfg.EventsEnabled() {
		logger.Error("AMQP_URL is required by the worker")
		os.Exit(1)
	}

	logger.Info("Starting billing-worker",
		"exchange", cfg.AMQPExchange,
		"queue", cfg.AMQPQueue,
		"db_path", cfg.SQLiteDBPath)

	db := cli.InitStorage(logger, cfg.SQLiteDBPath)
	defer db.Close()

	consumer := events.NewConsumer(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, prefetch, logger)

	ctx, done := cli.GracefulShutdown(logger, shutdownTimeout, nil)

	if err := consumer.Run(ctx, events.HistoryHandler(db)); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Event consumption failed", log.FieldError, err)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker stopped")
}
