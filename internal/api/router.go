// Package api wires the archiver's ops HTTP surface: health probes, the
// live event feed and a small authenticated API for operators.
package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/welldanyogia/mailarchive/internal/api/handlers"
	"github.com/welldanyogia/mailarchive/internal/api/middleware"
	"github.com/welldanyogia/mailarchive/internal/logger"
	"github.com/welldanyogia/mailarchive/internal/repository"
	"github.com/welldanyogia/mailarchive/internal/storage"
	"github.com/welldanyogia/mailarchive/internal/websocket"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// RouterConfig holds dependencies for the router
type RouterConfig struct {
	DB       *gorm.DB
	Store    *storage.ShardedStore
	Ingestor handlers.Ingestor
	Hub      *websocket.Hub
	Logger   *slog.Logger

	APIKey         string
	AllowedOrigins string
	Production     bool
	RateLimit      float64
	RateBurst      int
}

// NewRouter creates and configures the Echo router with all routes.
// Cancelling ctx stops the rate limiter's pruning loop.
func NewRouter(ctx context.Context, cfg *RouterConfig) *echo.Echo {
	log := logger.OrDefault(cfg.Logger)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.SecureHeaders())
	e.Use(middleware.RequestLogger(log))

	limiter := middleware.NewIPRateLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
	go pruneLoop(ctx, limiter)

	var checker handlers.StorageChecker
	if cfg.Store != nil {
		checker = cfg.Store
	}
	healthHandler := handlers.NewHealthHandler(cfg.DB, checker)
	e.GET("/health", healthHandler.Health)
	e.GET("/ready", healthHandler.Ready)

	if cfg.Hub != nil {
		wsHandler := handlers.NewWSHandler(cfg.Hub, websocket.NewSecureUpgrader(cfg.AllowedOrigins, log), log)
		e.GET("/ws", wsHandler.Serve, middleware.RateLimiter(limiter, log))
	}

	api := e.Group("/api",
		middleware.SecureCORS(websocket.ParseOrigins(cfg.AllowedOrigins), cfg.Production),
		middleware.RateLimiter(limiter, log),
		middleware.APIKeyAuth(cfg.APIKey, log),
	)

	mailboxHandler := handlers.NewMailboxHandler(cfg.Ingestor,
		repository.NewAccountRepository(cfg.DB),
		repository.NewMailboxRepository(cfg.DB),
		repository.NewDaemonRepository(cfg.DB))
	archiveHandler := handlers.NewArchiveHandler(
		repository.NewEmailRepository(cfg.DB),
		repository.NewAttachmentRepository(cfg.DB, cfg.Store),
		cfg.Store)

	accounts := api.Group("/accounts")
	accounts.GET("", mailboxHandler.ListAccounts)
	accounts.GET("/:id/mailboxes", mailboxHandler.ListMailboxes)
	accounts.POST("/:id/discover", mailboxHandler.Discover)

	mailboxes := api.Group("/mailboxes")
	mailboxes.GET("/:id/daemons", mailboxHandler.ListDaemons)
	mailboxes.POST("/:id/ingest", mailboxHandler.Ingest)
	mailboxes.POST("/:id/test", mailboxHandler.Test)

	api.GET("/emails/:id", archiveHandler.GetEmail)
	api.GET("/attachments/:id/download", archiveHandler.DownloadAttachment)

	return e
}

func pruneLoop(ctx context.Context, limiter *middleware.IPRateLimiter) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			limiter.Prune(10 * time.Minute)
		}
	}
}
