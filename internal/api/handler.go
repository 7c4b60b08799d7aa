package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/otiai10/mapsync/internal/auth"
	"github.com/otiai10/mapsync/internal/config"
	"github.com/otiai10/mapsync/internal/facade"
	"github.com/otiai10/mapsync/internal/presence"
)

// SessionRequest represents the request body for POST /api/session
type SessionRequest struct {
	IDToken string `json:"idToken"`
}

// SessionResponse represents a signed-in Firebase session
type SessionResponse struct {
	UID          string    `json:"uid"`
	DisplayName  string    `json:"displayName"`
	Email        string    `json:"email,omitempty"`
	PhotoURL     string    `json:"photoUrl,omitempty"`
	ProviderID   string    `json:"providerId"`
	IDToken      string    `json:"idToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// PositionRequest represents the request body for PUT /api/users/{uid}.
// Coordinates are pointers so a missing field is told apart from zero.
type PositionRequest struct {
	Lat         *float64 `json:"lat"`
	Lng         *float64 `json:"lng"`
	Tipo        string   `json:"tipo"`
	DisplayName string   `json:"displayName"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// Handler contains the HTTP handlers for the API
type Handler struct {
	facade   *facade.Facade
	firebase config.FirebaseConfig
	logger   *zap.Logger
}

// NewHandler creates a new Handler instance
func NewHandler(f *facade.Facade, firebaseCfg config.FirebaseConfig, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		facade:   f,
		firebase: firebaseCfg,
		logger:   logger,
	}
}

// GetConfig handles GET /api/config with the public Firebase web config
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.firebase, http.StatusOK)
}

// CreateSession handles POST /api/session.
// The session is returned to the caller, who sends its ID token on later
// requests; the facade's current session only mirrors the latest sign-in.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	if !h.facade.SignInEnabled() {
		writeError(w, "sign-in is not enabled", http.StatusNotFound)
		return
	}

	var req SessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.IDToken == "" {
		writeError(w, "idToken is required", http.StatusBadRequest)
		return
	}

	session, err := h.facade.LoginGoogle(r.Context(), req.IDToken)
	switch {
	case err == nil:
	case errors.Is(err, presence.ErrAuth):
		writeError(w, "sign-in failed", http.StatusUnauthorized)
		return
	default:
		h.logger.Error("google sign-in failed", zap.Error(err))
		writeError(w, "sign-in failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, toSessionResponse(session), http.StatusOK)
}

// ListUsers handles GET /api/users
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.facade.Users(r.Context())
	if err != nil {
		h.logger.Error("failed to read users", zap.Error(err))
		writeError(w, "failed to read users", http.StatusInternalServerError)
		return
	}
	writeJSON(w, users, http.StatusOK)
}

// UpdateUser handles PUT /api/users/{uid}.
// When the request is authenticated, only the caller's own uid may be written
// and an empty displayName falls back to the token's name claim.
func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	uid := strings.TrimPrefix(r.URL.Path, "/api/users/")

	var req PositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.Lat == nil || req.Lng == nil {
		writeError(w, "lat and lng are required", http.StatusBadRequest)
		return
	}

	if claims, ok := auth.GetClaims(r.Context()); ok {
		if claims.UID != uid {
			writeError(w, "cannot update another user's position", http.StatusForbidden)
			return
		}
		if req.DisplayName == "" {
			req.DisplayName = claims.Name
		}
	}

	err := h.facade.UpdateUserPos(r.Context(), uid, *req.Lat, *req.Lng, req.Tipo, req.DisplayName)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, presence.ErrInvalidRecord):
		writeError(w, err.Error(), http.StatusBadRequest)
	default:
		writeError(w, "failed to update position", http.StatusInternalServerError)
	}
}

func toSessionResponse(s *auth.Session) SessionResponse {
	return SessionResponse{
		UID:          s.UID,
		DisplayName:  s.DisplayName,
		Email:        s.Email,
		PhotoURL:     s.PhotoURL,
		ProviderID:   s.ProviderID,
		IDToken:      s.IDToken,
		RefreshToken: s.RefreshToken,
		ExpiresAt:    s.ExpiresAt,
	}
}

func writeJSON(w http.ResponseWriter, data interface{}, status int) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Already wrote headers, can only log
		return
	}
}

func writeError(w http.ResponseWriter, message string, status int) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: message})
}
