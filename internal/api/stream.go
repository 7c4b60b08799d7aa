package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/otiai10/mapsync/internal/facade"
	"github.com/otiai10/mapsync/internal/metrics"
	"github.com/otiai10/mapsync/internal/presence"
)

const (
	// Time allowed to write a frame to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong from the peer
	pongWait = 60 * time.Second

	// Ping interval, must be less than pongWait
	pingPeriod = 30 * time.Second

	// Clients only send control frames
	maxMessageSize = 512
)

// UsersFrame is the text frame sent for every users snapshot
type UsersFrame struct {
	Users presence.Users `json:"users"`
}

// StreamHandler serves GET /api/users/stream as a websocket that receives
// the full users mapping on connect and after every change
type StreamHandler struct {
	base     context.Context
	facade   *facade.Facade
	upgrader websocket.Upgrader
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewStreamHandler creates a StreamHandler. Every stream ends when base is
// done. Origins are checked against allowedOrigins; an empty list accepts
// any origin.
func NewStreamHandler(base context.Context, f *facade.Facade, allowedOrigins []string, m *metrics.Metrics, logger *zap.Logger) *StreamHandler {
	if base == nil {
		base = context.Background()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamHandler{
		base:   base,
		facade: f,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		metrics: m,
		logger:  logger,
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// ServeHTTP implements http.Handler.
func (s *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	connID := uuid.NewString()
	logger := s.logger.With(zap.String("conn_id", connID))
	logger.Info("users stream opened", zap.String("remote", r.RemoteAddr))
	if s.metrics != nil {
		s.metrics.StreamConnections.Inc()
		defer s.metrics.StreamConnections.Dec()
	}

	// Server shutdown does not wait for hijacked connections
	ctx, cancel := context.WithCancel(s.base)
	defer cancel()

	frames := make(chan []byte, 16)
	sub, err := s.facade.ListenUsers(ctx, func(users presence.Users) {
		data, err := json.Marshal(UsersFrame{Users: users})
		if err != nil {
			logger.Error("failed to encode users frame", zap.Error(err))
			return
		}
		select {
		case frames <- data:
		case <-ctx.Done():
		}
	})
	if err != nil {
		logger.Error("failed to subscribe to users", zap.Error(err))
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscription failed"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}
	defer sub.Unsubscribe()

	go s.readPump(conn, cancel, logger)
	s.writePump(ctx, conn, frames, sub.Done(), logger)

	if err := sub.Err(); err != nil {
		logger.Warn("users stream closed by subscription failure", zap.Error(err))
	} else {
		logger.Info("users stream closed")
	}
}

// readPump discards client frames and keeps the read deadline fresh.
// Any read error means the peer is gone.
func (s *StreamHandler) readPump(conn *websocket.Conn, cancel context.CancelFunc, logger *zap.Logger) {
	defer cancel()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("users stream read error", zap.Error(err))
			}
			return
		}
	}
}

// writePump is the only writer of conn
func (s *StreamHandler) writePump(ctx context.Context, conn *websocket.Conn, frames <-chan []byte, done <-chan struct{}, logger *zap.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case data := <-frames:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Debug("users stream write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "subscription ended"))
			return
		case <-ctx.Done():
			return
		}
	}
}
