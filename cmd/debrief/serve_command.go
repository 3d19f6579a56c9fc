package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dukerupert/debrief/internal/blob"
	"github.com/dukerupert/debrief/internal/config"
	"github.com/dukerupert/debrief/internal/database"
	"github.com/dukerupert/debrief/internal/jobs"
	"github.com/dukerupert/debrief/internal/logging"
	"github.com/dukerupert/debrief/internal/pipeline"
	"github.com/dukerupert/debrief/internal/push"
	"github.com/dukerupert/debrief/internal/relay"
	"github.com/dukerupert/debrief/internal/server"
	"github.com/dukerupert/debrief/internal/store"
	"github.com/dukerupert/debrief/internal/transcribe"
	ws "github.com/dukerupert/debrief/internal/websocket"
)

const cleanupInterval = time.Hour

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and background workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(runCtx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	if cfg.SessionSecret == "" {
		secret, err := randomSecret()
		if err != nil {
			return err
		}
		cfg.SessionSecret = secret
		logger.Warn("DEBRIEF_SESSION_SECRET not set, using a random secret; sessions will not survive a restart")
	}
	if cfg.Transcribe.APIKey == "" {
		logger.Warn("DEBRIEF_GROQ_API_KEY not set, audio transcription will fail")
	}
	if !cfg.Push.Enabled() {
		logger.Info("VAPID keys not set, completion pushes disabled")
	}

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	blobs, err := openBlobStore(cfg)
	if err != nil {
		return err
	}

	debriefStore := store.NewDebriefStore(db)
	pushStore := store.NewPushStore(db)

	hub := ws.NewHub(logger)
	runner := jobs.NewRunner(jobs.Config{
		Workers:     cfg.Jobs.Workers,
		MaxAttempts: cfg.Jobs.MaxAttempts,
		Backoff:     cfg.Jobs.Backoff,
		QueueSize:   cfg.Jobs.QueueSize,
	}, logger)

	pushSvc := push.NewService(push.Config{
		VAPIDPublicKey:  cfg.Push.PublicKey,
		VAPIDPrivateKey: cfg.Push.PrivateKey,
		Subject:         cfg.Push.Subject,
	})

	pipe := pipeline.New(pipeline.Deps{
		Debriefs: debriefStore,
		Blobs:    blobs,
		Transcriber: transcribe.New(transcribe.Config{
			APIKey:   cfg.Transcribe.APIKey,
			BaseURL:  cfg.Transcribe.BaseURL,
			Model:    cfg.Transcribe.Model,
			Language: cfg.Transcribe.Language,
			Timeout:  cfg.Transcribe.Timeout,
		}),
		Relay: relay.New(relay.Config{
			URL:            cfg.Listener.URL,
			ConnectTimeout: cfg.Listener.ConnectTimeout,
			ReadTimeout:    cfg.Listener.ReadTimeout,
		}),
		Notifier: push.NewNotifier(pushSvc, debriefStore, pushStore, logger),
		Jobs:     runner,
		Live:     hub,
		Logger:   logger,
	})

	srv, err := server.New(server.Deps{
		DB:       db,
		Config:   cfg,
		Blobs:    blobs,
		Pipeline: pipe,
		Hub:      hub,
		Push:     pushSvc,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	// Workers outlive the signal context; Stop drains them on shutdown.
	runner.Start(context.WithoutCancel(ctx))
	if _, err := pipe.Recover(ctx); err != nil {
		logger.Error("recover unfinished transcriptions", "error", err)
	}

	go runCleanup(ctx, srv, logger.With("component", "cleanup"))

	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      srv.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("debrief running", "addr", cfg.Addr(), "base_url", cfg.BaseURL)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	if err := runner.Stop(shutdownCtx); err != nil {
		logger.Error("job runner shutdown", "error", err)
	}
	return nil
}

func openBlobStore(cfg *config.Config) (blob.Store, error) {
	if cfg.Storage.UseS3() {
		return blob.NewS3(blob.S3Config{
			Endpoint:  cfg.Storage.S3Endpoint,
			Bucket:    cfg.Storage.S3Bucket,
			Region:    cfg.Storage.S3Region,
			AccessKey: cfg.Storage.S3AccessKey,
			SecretKey: cfg.Storage.S3SecretKey,
		}), nil
	}
	disk, err := blob.NewDisk(cfg.Storage.Dir)
	if err != nil {
		return nil, fmt.Errorf("open storage dir: %w", err)
	}
	return disk, nil
}

// runCleanup sweeps expired sessions and magic links and prunes the login
// rate limiter until ctx is done.
func runCleanup(ctx context.Context, srv *server.Server, logger *slog.Logger) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := srv.SessionStore().DeleteExpired(); err != nil {
				logger.Error("delete expired sessions", "error", err)
			} else if n > 0 {
				logger.Info("deleted expired sessions", "count", n)
			}
			if n, err := srv.MagicLinkStore().DeleteExpired(); err != nil {
				logger.Error("delete expired magic links", "error", err)
			} else if n > 0 {
				logger.Info("deleted expired magic links", "count", n)
			}
			srv.RateLimiter().Prune()
		}
	}
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate session secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}
