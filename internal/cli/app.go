package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/welldanyogia/mailarchive/internal/config"
	"github.com/welldanyogia/mailarchive/internal/database"
	"github.com/welldanyogia/mailarchive/internal/fetcher"
	"github.com/welldanyogia/mailarchive/internal/healer"
	"github.com/welldanyogia/mailarchive/internal/health"
	"github.com/welldanyogia/mailarchive/internal/importer"
	"github.com/welldanyogia/mailarchive/internal/ingest"
	"github.com/welldanyogia/mailarchive/internal/logger"
	"github.com/welldanyogia/mailarchive/internal/parser"
	"github.com/welldanyogia/mailarchive/internal/storage"
	"github.com/welldanyogia/mailarchive/internal/websocket"
	"gorm.io/gorm"
)

// app is the wired process shared by every subcommand
type app struct {
	cfg      *config.Config
	log      *slog.Logger
	db       *gorm.DB
	healer   *healer.Healer
	store    *storage.ShardedStore
	raw      *storage.RawArchive
	parser   *parser.Parser
	chain    *health.Chain
	hub      *websocket.Hub
	importer *importer.Importer
	runner   *ingest.Runner
}

type appOptions struct {
	configPath string
	// withHub wires the live event feed into the importer and health chain
	withHub bool
}

func newApp(opts appOptions) (*app, error) {
	cfg, err := config.LoadWithValidation(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	log := logger.New(os.Stdout, logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	slog.SetDefault(log)
	cfg.LogConfig(log)

	dbOpts := database.DefaultOptions()
	dbOpts.Production = cfg.IsProduction()
	db, err := database.Connect(cfg.DatabaseURL, dbOpts)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: log, db: db}

	a.healer = healer.New(
		func(ctx context.Context) error { return database.Ping(ctx, db) },
		healer.Policy{Interval: cfg.DBReconnectInterval, MaxAttempts: cfg.DBReconnectMaxAttempts},
		log)

	a.store, err = storage.NewShardedStore(db, storage.Config{
		Root:           cfg.StoragePath,
		MaxFilesPerDir: cfg.MaxFilesPerDir,
		Logger:         log,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.raw, err = storage.NewRawArchive(cfg.RawMessagePath)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.parser = parser.New(parser.Config{
		Location:     cfg.Location(),
		SentinelDate: cfg.SentinelDate,
		Logger:       log,
	})
	a.chain = health.New(&health.Config{DB: db, Healer: a.healer, Logger: log})

	importerCfg := &importer.Config{
		DB:           db,
		Store:        a.store,
		Raw:          a.raw,
		Healer:       a.healer,
		ThrowOutSpam: cfg.ThrowOutSpam,
		Logger:       log,
	}
	if opts.withHub {
		a.hub = websocket.NewHub(log)
		importerCfg.Notifier = a.hub
		a.chain.Subscribe(a.hub)
	}
	a.importer = importer.New(importerCfg)

	cycle := ingest.New(&ingest.Config{
		DB:       db,
		Factory:  fetcher.NewFactory(fetcher.WithLogger(log)),
		Parser:   a.parser,
		Importer: a.importer,
		Health:   a.chain,
		Healer:   a.healer,
		Logger:   log,
	})
	a.runner = ingest.NewRunner(cycle, log)

	return a, nil
}

// Close releases the database connection
func (a *app) Close() {
	if err := database.Close(a.db); err != nil {
		a.log.Warn("closing database", slog.Any("error", err))
	}
}
