// Package streamclient follows a remote mapsync server's users stream over
// a websocket and reconnects with exponential backoff when it drops.
package streamclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/otiai10/mapsync/internal/presence"
)

const (
	// StreamPath is the users stream endpoint of the server
	StreamPath = "/api/users/stream"

	// maxRetries is maximum number of consecutive connection attempts
	maxRetries = 10

	// initialRetryDelay is the starting delay for exponential backoff
	initialRetryDelay = 1 * time.Second

	// maxRetryDelay is the maximum delay between retries
	maxRetryDelay = 60 * time.Second

	// pongWait must exceed the server's ping interval
	pongWait = 60 * time.Second
)

// ErrUnauthorized is returned when the server rejects the token.
// It is not retried.
var ErrUnauthorized = errors.New("stream rejected the access token")

// Config holds configuration for Client
type Config struct {
	ServerURL   string      // http(s):// or ws(s):// base URL (required)
	AccessToken string      // Firebase ID token, optional
	Logger      *zap.Logger // optional
}

// Client receives users snapshots from a server
type Client struct {
	endpoint string
	logger   *zap.Logger
	dialer   *websocket.Dialer

	// retry timing, replaced in tests
	initialDelay time.Duration
	maxDelay     time.Duration
}

// NewClient creates a Client for the stream endpoint of cfg.ServerURL
func NewClient(cfg Config) (*Client, error) {
	endpoint, err := streamURL(cfg.ServerURL, cfg.AccessToken)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		endpoint:     endpoint,
		logger:       logger,
		dialer:       &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		initialDelay: initialRetryDelay,
		maxDelay:     maxRetryDelay,
	}, nil
}

// streamURL maps the server base URL to the websocket endpoint
func streamURL(server, token string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid server URL %q: scheme must be http, https, ws or wss", server)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid server URL %q: host is required", server)
	}

	u.Path = strings.TrimSuffix(u.Path, "/") + StreamPath
	if token != "" {
		q := u.Query()
		q.Set("access_token", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Run calls fn with every snapshot until ctx is cancelled. A dropped
// connection is re-dialed; after maxRetries consecutive failed dials Run
// returns an error wrapping presence.ErrSubscription. A reconnect always
// starts with a full snapshot, so no change is lost to fn.
func (c *Client) Run(ctx context.Context, fn func(presence.Users)) error {
	for {
		conn, err := c.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%w: %w", presence.ErrSubscription, err)
		}

		err = c.readLoop(ctx, conn, fn)
		conn.Close()
		if ctx.Err() != nil {
			return nil
		}
		c.logger.Warn("users stream dropped, reconnecting", zap.Error(err))
	}
}

// connect establishes the websocket connection with retry
func (c *Client) connect(ctx context.Context) (*websocket.Conn, error) {
	var lastErr error
	delay := c.initialDelay

	for attempt := 0; attempt < maxRetries; attempt++ {
		conn, resp, err := c.dialer.DialContext(ctx, c.endpoint, nil)
		if err == nil {
			c.logger.Info("connected to users stream", zap.Int("attempt", attempt+1))
			return conn, nil
		}
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: %s", ErrUnauthorized, resp.Status)
		}

		lastErr = err
		c.logger.Warn("users stream connection failed",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", maxRetries),
			zap.Error(err),
		)

		if attempt < maxRetries-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
				// Exponential backoff with cap
				delay *= 2
				if delay > c.maxDelay {
					delay = c.maxDelay
				}
			}
		}
	}

	return nil, fmt.Errorf("failed to connect after %d attempts: %w", maxRetries, lastErr)
}

// readLoop delivers frames until the connection fails or ctx is done
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, fn func(presence.Users)) error {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(10*time.Second))
	})

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		if messageType != websocket.TextMessage {
			continue
		}

		var frame struct {
			Users presence.Users `json:"users"`
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			c.logger.Warn("failed to parse users frame", zap.Error(err))
			continue
		}
		if frame.Users == nil {
			frame.Users = presence.Users{}
		}
		fn(frame.Users)
	}
}
