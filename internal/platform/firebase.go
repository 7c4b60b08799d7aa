// Package platform initializes the process-wide Firebase app that the auth
// verifier and the Realtime Database store share
package platform

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"

	"github.com/otiai10/mapsync/internal/config"
)

// NewApp creates the Firebase app for the configured project.
// Credentials fall back to Application Default Credentials when unset.
func NewApp(ctx context.Context, cfg config.FirebaseConfig) (*firebase.App, error) {
	if cfg.ProjectID == "" && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("firebase project_id or database_url is required")
	}

	app, err := firebase.NewApp(ctx, appConfig(cfg), clientOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create firebase app: %w", err)
	}
	return app, nil
}

func appConfig(cfg config.FirebaseConfig) *firebase.Config {
	return &firebase.Config{
		ProjectID:     cfg.ProjectID,
		DatabaseURL:   cfg.DatabaseURL,
		StorageBucket: cfg.StorageBucket,
	}
}

func clientOptions(cfg config.FirebaseConfig) []option.ClientOption {
	var opts []option.ClientOption
	if cfg.Credentials != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.Credentials))
	}
	return opts
}
