package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/spf13/cobra"
	"github.com/welldanyogia/mailarchive/internal/api"
	"github.com/welldanyogia/mailarchive/internal/database"
	"github.com/welldanyogia/mailarchive/internal/ingest"
	"github.com/welldanyogia/mailarchive/internal/repository"
	"github.com/welldanyogia/mailarchive/internal/smtp"
)

const shutdownTimeout = 15 * time.Second

func newServeCommand(opts func() appOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler, ops API and optional SMTP intake",
		RunE: func(cmd *cobra.Command, args []string) error {
			o := opts()
			o.withHub = true
			a, err := newApp(o)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	if err := database.Migrate(a.db); err != nil {
		return err
	}

	go a.hub.Run()
	defer a.hub.Stop()

	errCh := make(chan error, 2)

	router := api.NewRouter(ctx, &api.RouterConfig{
		DB:             a.db,
		Store:          a.store,
		Ingestor:       a.runner,
		Hub:            a.hub,
		Logger:         a.log,
		APIKey:         a.cfg.APIKey,
		AllowedOrigins: a.cfg.AllowedOrigins,
		Production:     a.cfg.IsProduction(),
		RateLimit:      a.cfg.RateLimitRequests,
		RateBurst:      a.cfg.RateLimitBurst,
	})
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		a.log.Info("HTTP server listening", slog.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	smtpServer, err := a.smtpIntake()
	if err != nil {
		return err
	}
	if smtpServer != nil {
		go func() {
			a.log.Info("SMTP intake listening",
				slog.String("addr", smtpServer.Addr),
				slog.Uint64("mailbox_id", uint64(a.cfg.SMTPIntakeMailboxID)))
			if err := smtpServer.ListenAndServe(); err != nil && !errors.Is(err, gosmtp.ErrServerClosed) {
				errCh <- fmt.Errorf("smtp intake: %w", err)
			}
		}()
	}

	scheduler := ingest.NewScheduler(a.db, a.runner, ingest.SchedulerConfig{
		TickInterval:  a.cfg.SchedulerTick,
		MaxConcurrent: a.cfg.SchedulerMaxConcurrent,
		CycleTimeout:  a.cfg.CycleTimeout,
	}, a.log)
	scheduler.Start()

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("shutting down")
	case runErr = <-errCh:
		a.log.Error("server failed, shutting down", slog.Any("error", runErr))
	}

	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("HTTP shutdown", slog.Any("error", err))
	}
	if smtpServer != nil {
		if err := smtpServer.Shutdown(shutdownCtx); err != nil {
			a.log.Warn("SMTP shutdown", slog.Any("error", err))
		}
	}

	a.log.Info("archiver stopped")
	return runErr
}

// smtpIntake returns nil when no intake address is configured
func (a *app) smtpIntake() (*gosmtp.Server, error) {
	if a.cfg.SMTPIntakeAddr == "" {
		return nil, nil
	}
	tlsConfig, err := smtp.LoadTLS(a.cfg.SMTPTLSCert, a.cfg.SMTPTLSKey)
	if err != nil {
		return nil, err
	}
	backend := smtp.NewBackend(&smtp.BackendConfig{
		MailboxID: a.cfg.SMTPIntakeMailboxID,
		Mailboxes: repository.NewMailboxRepository(a.db),
		Parser:    a.parser,
		Importer:  a.importer,
		Logger:    a.log,
	})
	return smtp.NewSecureServer(backend, &smtp.ServerConfig{
		Addr:           a.cfg.SMTPIntakeAddr,
		Domain:         a.cfg.SMTPDomain,
		MaxMessageSize: a.cfg.SMTPMaxMessageSize,
		TLSConfig:      tlsConfig,
	}), nil
}
