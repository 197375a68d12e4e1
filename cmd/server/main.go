package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/OFFIS-RIT/talentgraph/backend/internal/backends"
	"github.com/OFFIS-RIT/talentgraph/backend/internal/db"
	"github.com/OFFIS-RIT/talentgraph/backend/internal/queue"
	"github.com/OFFIS-RIT/talentgraph/backend/internal/server"
	"github.com/OFFIS-RIT/talentgraph/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/talentgraph/backend/internal/storage"
	"github.com/OFFIS-RIT/talentgraph/backend/internal/util"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/logger"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/logger/console"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/rank"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/resolve"
)

func main() {
	util.LoadEnv()

	debug := util.GetEnvBool("DEBUG", false)
	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: debug,
	})
	logger.Init(consoleLogger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	params := backends.ParamsFromEnv()
	if params.Graph == backends.GraphPostgres || params.Ledger == backends.LedgerPostgres {
		dsn := util.GetEnv("DATABASE_URL")
		if err := db.WaitForDatabase(ctx, dsn, 10); err != nil {
			logger.Fatal("Database not reachable", "err", err)
		}
		if _, err := db.Migrate(dsn, util.GetEnvString("MIGRATIONS_DIR", db.DefaultMigrationsDir)); err != nil {
			logger.Fatal("Failed to run migrations", "err", err)
		}
	}

	set, err := backends.Open(ctx, params)
	if err != nil {
		logger.Fatal("Failed to open backends", "err", err)
	}
	defer set.Close()

	rankCfg := rank.DefaultConfig()
	rankCfg.Alpha = util.GetEnvNumeric("RANK_ALPHA", rankCfg.Alpha)
	ranker, err := rank.NewEngine(set.Graph, rankCfg)
	if err != nil {
		logger.Fatal("Invalid ranking config", "err", err)
	}

	resolveCfg := resolve.DefaultConfig()
	tieBreak, err := resolve.ParseTieBreak(util.GetEnvString("MERGE_TIE_BREAK", string(resolveCfg.TieBreak)))
	if err != nil {
		logger.Fatal("Invalid tie-break policy", "err", err)
	}
	resolveCfg.TieBreak = tieBreak
	resolver, err := resolve.New(set.Lister, resolveCfg)
	if err != nil {
		logger.Fatal("Invalid resolver config", "err", err)
	}

	s3Client, err := storage.NewS3Client(ctx, storage.S3ParamsFromEnv())
	if err != nil {
		logger.Fatal("Failed to create S3 client", "err", err)
	}
	objects := storage.NewObjectStore(s3Client, util.GetEnvString("AWS_BUCKET", "talentgraph"))

	app := &middleware.App{
		Ranker:   ranker,
		Resolver: resolver,
		Plans:    objects,
		Ledger:   set.Ledger,
		APIKey:   util.GetEnv("MASTER_API_KEY"),
	}

	if util.GetEnvBool("QUEUE_ENABLED", true) {
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
		app.Queue = ch
	}

	e := server.New(app)
	if err := server.Run(ctx, e, util.GetEnvString("PORT", "8080")); err != nil {
		logger.Fatal("Server stopped", "err", err)
	}
}
