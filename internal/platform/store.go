package platform

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"go.uber.org/zap"

	"github.com/otiai10/mapsync/internal/config"
	"github.com/otiai10/mapsync/internal/store"
)

// OpenStore connects the configured presence backend. app is required for
// the rtdb backend and ignored by the others.
func OpenStore(ctx context.Context, cfg *config.Config, app *firebase.App, logger *zap.Logger) (store.Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.Store.Backend {
	case config.BackendRTDB:
		if app == nil {
			return nil, fmt.Errorf("firebase app is required for store backend %q", cfg.Store.Backend)
		}
		client, err := app.Database(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get database client: %w", err)
		}
		logger.Info("Using Realtime Database store",
			zap.String("url", cfg.Firebase.DatabaseURL),
			zap.Duration("poll_interval", cfg.Store.PollInterval),
		)
		return store.NewRTDBStore(client, store.RTDBConfig{
			Path:         cfg.Store.Collection,
			PollInterval: cfg.Store.PollInterval,
			Logger:       logger,
		}), nil

	case config.BackendFirestore:
		logger.Info("Using Firestore store",
			zap.String("project", cfg.Firebase.ProjectID),
			zap.String("database", cfg.Store.FirestoreDatabase),
		)
		return store.NewFirestoreStore(ctx, store.FirestoreConfig{
			ProjectID:   cfg.Firebase.ProjectID,
			Database:    cfg.Store.FirestoreDatabase,
			Credentials: cfg.Firebase.Credentials,
			Collection:  cfg.Store.Collection,
			Logger:      logger,
		})

	case config.BackendRedis:
		logger.Info("Using Redis store")
		return store.NewRedisStore(ctx, store.RedisConfig{
			URL:    cfg.Store.RedisURL,
			Key:    cfg.Store.Collection,
			Logger: logger,
		})

	case config.BackendMemory:
		logger.Warn("Using in-memory store; positions are lost on restart")
		return store.NewMemoryStore(), nil

	default:
		return nil, fmt.Errorf("unsupported store backend: %q", cfg.Store.Backend)
	}
}
