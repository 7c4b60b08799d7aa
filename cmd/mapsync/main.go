package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	firebase "firebase.google.com/go/v4"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/otiai10/mapsync/internal/api"
	"github.com/otiai10/mapsync/internal/auth"
	"github.com/otiai10/mapsync/internal/config"
	"github.com/otiai10/mapsync/internal/facade"
	"github.com/otiai10/mapsync/internal/logging"
	"github.com/otiai10/mapsync/internal/metrics"
	"github.com/otiai10/mapsync/internal/platform"
	"github.com/otiai10/mapsync/internal/version"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := pflag.String("config", "", "YAML config file (environment variables override it)")
	noStatic := pflag.Bool("no-static", false, "Serve the API only, without the embedded web app")
	pflag.Parse()

	// Load .env.localdev file if it exists (for local development)
	// Silently ignore if file doesn't exist (production uses real env vars)
	_ = godotenv.Load(".env.localdev")

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, metrics.New(), !*noStatic); err != nil {
		logger.Error("mapsync exited with error", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	logger.Info("Goodbye!")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger, m *metrics.Metrics, serveStatic bool) (err error) {
	logger.Info("mapsync - realtime presence server",
		zap.String("hash", version.CommitHash),
		zap.String("store", cfg.Store.Backend),
		zap.Bool("auth", cfg.Auth.Enabled),
	)

	var app *firebase.App
	if cfg.UsesFirebase() {
		logger.Info("Initializing Firebase app", zap.String("project", cfg.Firebase.ProjectID))
		app, err = platform.NewApp(ctx, cfg.Firebase)
		if err != nil {
			return err
		}
	}

	st, err := platform.OpenStore(ctx, cfg, app, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, st.Close())
	}()

	var (
		verifier auth.TokenVerifier
		signIn   auth.GoogleSignIn
	)
	if cfg.Auth.Enabled {
		logger.Info("Initializing Firebase Auth", zap.String("tenant", cfg.Auth.TenantID))
		v, err := auth.NewFirebaseTokenVerifier(ctx, app, cfg.Auth.TenantID)
		if err != nil {
			return err
		}
		verifier = v

		provider, err := auth.NewGoogleProvider(ctx, auth.GoogleProviderConfig{
			APIKey:     cfg.Firebase.APIKey,
			RequestURI: cfg.Auth.RequestURI,
			TenantID:   cfg.Auth.TenantID,
		})
		if err != nil {
			return err
		}
		signIn = provider
	} else {
		logger.Warn("Authentication is DISABLED; any client may write any uid")
	}

	f := facade.New(auth.NewClient(signIn), st, facade.WithLogger(logger), facade.WithMetrics(m))

	var static *api.StaticFileServer
	if serveStatic {
		if staticFS, ok := getStaticFS(); ok {
			static, err = api.NewStaticFileServer(staticFS, staticRoot())
			if err != nil {
				return err
			}
			logger.Info("Serving embedded web app")
		}
	}

	handler := api.NewRouter(api.RouterConfig{
		Facade:             f,
		TokenVerifier:      verifier,
		FirebaseConfig:     cfg.Firebase,
		Metrics:            m,
		Logger:             logger,
		CORSAllowedOrigins: cfg.API.CORSAllowedOrigins,
		Static:             static,
		StreamContext:      ctx,
	})
	server := api.NewServer(cfg.API.Addr, handler)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting HTTP server", zap.String("addr", server.Addr()))
		return server.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down server: %w", err)
		}
		logger.Info("HTTP server stopped")
		return nil
	})

	return g.Wait()
}
