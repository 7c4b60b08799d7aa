package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store backends
const (
	BackendRTDB      = "rtdb"
	BackendFirestore = "firestore"
	BackendRedis     = "redis"
	BackendMemory    = "memory"
)

// Defaults
const (
	DefaultAPIAddr      = ":8080"
	DefaultCollection   = "users"
	DefaultPollInterval = 1 * time.Second
)

// Config represents the application configuration
type Config struct {
	Firebase FirebaseConfig `yaml:"firebase"`
	Store    StoreConfig    `yaml:"store"`
	Auth     AuthConfig     `yaml:"auth"`
	API      APIConfig      `yaml:"api"`
	Log      LogConfig      `yaml:"log"`
}

// FirebaseConfig identifies the Firebase project. Every field except
// Credentials is public and is handed to the web client as-is.
type FirebaseConfig struct {
	APIKey            string `yaml:"api_key" json:"apiKey"`
	AuthDomain        string `yaml:"auth_domain" json:"authDomain"`
	ProjectID         string `yaml:"project_id" json:"projectId"`
	StorageBucket     string `yaml:"storage_bucket" json:"storageBucket"`
	MessagingSenderID string `yaml:"messaging_sender_id" json:"messagingSenderId"`
	AppID             string `yaml:"app_id" json:"appId"`
	MeasurementID     string `yaml:"measurement_id" json:"measurementId,omitempty"`
	DatabaseURL       string `yaml:"database_url" json:"databaseURL"`
	Credentials       string `yaml:"credentials" json:"-"` // service account JSON path
}

// StoreConfig selects and tunes the presence store
type StoreConfig struct {
	Backend           string        `yaml:"backend"` // "rtdb" | "firestore" | "redis" | "memory"
	Collection        string        `yaml:"collection"`
	FirestoreDatabase string        `yaml:"firestore_database"`
	RedisURL          string        `yaml:"redis_url"`
	PollInterval      time.Duration `yaml:"poll_interval"`
}

// AuthConfig represents Google sign-in and token verification settings
type AuthConfig struct {
	Enabled    bool   `yaml:"enabled"`
	TenantID   string `yaml:"tenant_id"`
	RequestURI string `yaml:"request_uri"`
}

// APIConfig represents the HTTP server settings
type APIConfig struct {
	Addr               string   `yaml:"addr"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
}

// LogConfig represents logger settings
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Load reads configuration from the specified YAML file.
// Environment variables override file values. An empty path reads the
// environment only.
func Load(path string) (*Config, error) {
	if path == "" {
		return LoadFromEnv()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	return finish(&cfg)
}

// LoadFromEnv reads configuration from environment variables only
func LoadFromEnv() (*Config, error) {
	return finish(&Config{})
}

func finish(cfg *Config) (*Config, error) {
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnv overrides fields with non-empty environment variables.
// Firebase keys also accept the VITE_ prefixed names used by the web bundle.
func (c *Config) applyEnv() error {
	firebaseVars := []struct {
		name   string
		target *string
	}{
		{"FIREBASE_API_KEY", &c.Firebase.APIKey},
		{"FIREBASE_AUTH_DOMAIN", &c.Firebase.AuthDomain},
		{"FIREBASE_PROJECT_ID", &c.Firebase.ProjectID},
		{"FIREBASE_STORAGE_BUCKET", &c.Firebase.StorageBucket},
		{"FIREBASE_MESSAGING_SENDER_ID", &c.Firebase.MessagingSenderID},
		{"FIREBASE_APP_ID", &c.Firebase.AppID},
		{"FIREBASE_MEASUREMENT_ID", &c.Firebase.MeasurementID},
		{"FIREBASE_DATABASE_URL", &c.Firebase.DatabaseURL},
	}
	for _, v := range firebaseVars {
		setString(v.target, v.name, "VITE_"+v.name)
	}

	setString(&c.Firebase.Credentials, "MAPSYNC_CREDENTIALS", "GOOGLE_APPLICATION_CREDENTIALS")
	setString(&c.Store.Backend, "MAPSYNC_STORE_BACKEND")
	setString(&c.Store.Collection, "MAPSYNC_STORE_COLLECTION")
	setString(&c.Store.FirestoreDatabase, "MAPSYNC_FIRESTORE_DATABASE")
	setString(&c.Store.RedisURL, "MAPSYNC_REDIS_URL")
	setString(&c.Auth.TenantID, "MAPSYNC_AUTH_TENANT_ID")
	setString(&c.Auth.RequestURI, "MAPSYNC_AUTH_REQUEST_URI")
	setString(&c.API.Addr, "MAPSYNC_API_ADDR")
	setString(&c.Log.Level, "MAPSYNC_LOG_LEVEL")

	if v := os.Getenv("MAPSYNC_POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("MAPSYNC_POLL_INTERVAL: %w", err)
		}
		c.Store.PollInterval = d
	}
	if err := setBool(&c.Auth.Enabled, "MAPSYNC_AUTH_ENABLED"); err != nil {
		return err
	}
	if err := setBool(&c.Log.Development, "MAPSYNC_LOG_DEVELOPMENT"); err != nil {
		return err
	}
	if v := os.Getenv("MAPSYNC_CORS_ALLOWED_ORIGINS"); v != "" {
		c.API.CORSAllowedOrigins = splitList(v)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Store.Backend == "" {
		if c.Firebase.DatabaseURL != "" {
			c.Store.Backend = BackendRTDB
		} else {
			c.Store.Backend = BackendMemory
		}
	}
	if c.Store.Collection == "" {
		c.Store.Collection = DefaultCollection
	}
	if c.Store.PollInterval == 0 {
		c.Store.PollInterval = DefaultPollInterval
	}
	if c.API.Addr == "" {
		c.API.Addr = DefaultAPIAddr
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendRTDB:
		if c.Firebase.DatabaseURL == "" {
			return fmt.Errorf("firebase.database_url is required for store backend %q", c.Store.Backend)
		}
	case BackendFirestore:
		if c.Firebase.ProjectID == "" {
			return fmt.Errorf("firebase.project_id is required for store backend %q", c.Store.Backend)
		}
	case BackendRedis:
		if c.Store.RedisURL == "" {
			return fmt.Errorf("store.redis_url is required for store backend %q", c.Store.Backend)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unsupported store backend: %q (supported: rtdb, firestore, redis, memory)", c.Store.Backend)
	}

	if strings.ContainsAny(c.Store.Collection, "/.#$[]") {
		return fmt.Errorf("store.collection %q must be a single path segment", c.Store.Collection)
	}
	if c.Store.PollInterval < 0 {
		return fmt.Errorf("store.poll_interval must not be negative")
	}

	if c.Auth.Enabled {
		if c.Firebase.ProjectID == "" {
			return fmt.Errorf("firebase.project_id is required when auth is enabled")
		}
		if c.Firebase.APIKey == "" {
			return fmt.Errorf("firebase.api_key is required when auth is enabled")
		}
	}

	if c.API.Addr == "" {
		return fmt.Errorf("api.addr is required")
	}
	return nil
}

// UsesFirebase reports whether a Firebase app must be initialized
func (c *Config) UsesFirebase() bool {
	return c.Auth.Enabled || c.Store.Backend == BackendRTDB || c.Store.Backend == BackendFirestore
}

func setString(target *string, names ...string) {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			*target = v
			return
		}
	}
}

func setBool(target *bool, name string) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*target = b
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
