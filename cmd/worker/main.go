package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/OFFIS-RIT/talentgraph/backend/internal/backends"
	"github.com/OFFIS-RIT/talentgraph/backend/internal/queue"
	"github.com/OFFIS-RIT/talentgraph/backend/internal/storage"
	"github.com/OFFIS-RIT/talentgraph/backend/internal/util"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/ingest"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/logger"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/logger/console"
)

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// logger
	debug := util.GetEnvBool("DEBUG", false)
	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: debug,
	})
	logger.Init(consoleLogger)

	// Init s3 client
	s3Client, err := storage.NewS3Client(ctx, storage.S3ParamsFromEnv())
	if err != nil {
		logger.Fatal("Failed to create S3 client", "err", err)
	}
	objects := storage.NewObjectStore(s3Client, util.GetEnvString("AWS_BUCKET", "talentgraph"))

	set, err := backends.Open(ctx, backends.ParamsFromEnv())
	if err != nil {
		logger.Fatal("Failed to open backends", "err", err)
	}
	defer set.Close()

	cfg := ingest.DefaultConfig()
	cfg.BatchSize = util.GetEnvInt("INGEST_BATCH_SIZE", cfg.BatchSize)
	cfg.MaxBatchTokens = util.GetEnvInt("INGEST_MAX_BATCH_TOKENS", cfg.MaxBatchTokens)
	cfg.PollInterval = util.GetEnvDuration("INGEST_POLL_INTERVAL", cfg.PollInterval)
	cfg.PollTimeout = util.GetEnvDuration("INGEST_POLL_TIMEOUT", cfg.PollTimeout)
	cfg.BatchDelay = util.GetEnvDuration("INGEST_BATCH_DELAY", cfg.BatchDelay)
	coordinator, err := set.Coordinator(cfg, util.GetEnvString("INGEST_TOKEN_ENCODING", "cl100k_base"))
	if err != nil {
		logger.Fatal("Failed to create ingestion coordinator", "err", err)
	}
	handler := queue.NewIngestHandler(coordinator, objects)

	// Init rabbitmq
	conn, err := queue.Dial(ctx, queue.URLFromEnv())
	if err != nil {
		logger.Fatal("Failed to connect to queue", "err", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()

	if err := queue.SetupQueues(ch, []string{queue.IngestQueue}); err != nil {
		logger.Fatal("Failed to declare queues", "err", err)
	}

	// One message at a time; a document run already fans out batches.
	if err := ch.Qos(1, 0, false); err != nil {
		logger.Fatal("Failed to set QoS", "err", err)
	}

	msgs, err := ch.Consume(queue.IngestQueue, queue.IngestQueue+"_consumer", false, false, false, false, nil)
	if err != nil {
		logger.Fatal("Failed to start consuming", "queue", queue.IngestQueue, "err", err)
	}

	logger.Info("[Worker] Listening for messages", "queue", queue.IngestQueue)
	for {
		select {
		case <-ctx.Done():
			logger.Info("[Worker] Shutdown signal received, exiting...")
			return
		case msg, ok := <-msgs:
			if !ok {
				logger.Info("[Worker] Message channel closed", "queue", queue.IngestQueue)
				return
			}
			logger.Info("[Worker] Received message", "queue", queue.IngestQueue)
			if err := queue.Dispatch(ctx, ch, msg, queue.IngestQueue, handler.Process); err != nil {
				logger.Error("[Worker] Message failed", "err", err)
			}
			logger.Info("[Worker] Waiting for next message")
		}
	}
}
