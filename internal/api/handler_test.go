package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/otiai10/mapsync/internal/auth"
	"github.com/otiai10/mapsync/internal/config"
	"github.com/otiai10/mapsync/internal/facade"
	"github.com/otiai10/mapsync/internal/metrics"
	"github.com/otiai10/mapsync/internal/presence"
	"github.com/otiai10/mapsync/internal/store"
)

func TestUpdateUser_ThenListUsers(t *testing.T) {
	f, _ := newTestFacade(t)
	router := NewRouter(RouterConfig{Facade: f})

	body := `{"lat":10,"lng":20,"tipo":"driver","displayName":"Alice"}`
	req := httptest.NewRequest(http.MethodPut, "/api/users/u1", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("PUT status = %d, want %d: %s", rec.Code, http.StatusNoContent, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/users", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("GET status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var users presence.Users
	if err := json.NewDecoder(rec.Body).Decode(&users); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	want := presence.Record{Lat: 10, Lng: 20, Tipo: "driver", DisplayName: "Alice"}
	if len(users) != 1 || users["u1"] != want {
		t.Errorf("users = %+v, want {u1: %+v}", users, want)
	}
}

func TestListUsers_Empty(t *testing.T) {
	f, _ := newTestFacade(t)
	router := NewRouter(RouterConfig{Facade: f})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/users", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got := bytes.TrimSpace(rec.Body.Bytes()); string(got) != "{}" {
		t.Errorf("body = %s, want {}", got)
	}
}

func TestUpdateUser_BadRequests(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		body       string
		wantStatus int
	}{
		{name: "invalid JSON", path: "/api/users/u1", body: `{`, wantStatus: http.StatusBadRequest},
		{name: "missing lat", path: "/api/users/u1", body: `{"lng":1}`, wantStatus: http.StatusBadRequest},
		{name: "lat out of range", path: "/api/users/u1", body: `{"lat":120,"lng":1}`, wantStatus: http.StatusBadRequest},
		{name: "uid with dot", path: "/api/users/a.b", body: `{"lat":1,"lng":1}`, wantStatus: http.StatusBadRequest},
		{name: "nested path", path: "/api/users/u1/extra", body: `{"lat":1,"lng":1}`, wantStatus: http.StatusBadRequest},
		{name: "empty uid", path: "/api/users/", body: `{"lat":1,"lng":1}`, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, st := newTestFacade(t)
			router := NewRouter(RouterConfig{Facade: f})

			req := httptest.NewRequest(http.MethodPut, tt.path, bytes.NewBufferString(tt.body))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
			users, _ := st.Users(context.Background())
			if len(users) != 0 {
				t.Errorf("expected nothing written, got %+v", users)
			}
		})
	}
}

func TestUsersRoutes_StoreFailure(t *testing.T) {
	router := NewRouter(RouterConfig{Facade: facade.New(nil, brokenStore{})})

	req := httptest.NewRequest(http.MethodPut, "/api/users/u1", bytes.NewBufferString(`{"lat":1,"lng":1}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("PUT status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/users", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("GET status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
}

func TestUpdateUser_WithAuth(t *testing.T) {
	f, st := newTestFacade(t)
	router := NewRouter(RouterConfig{Facade: f, TokenVerifier: testVerifier()})

	t.Run("missing token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPut, "/api/users/alice", bytes.NewBufferString(`{"lat":1,"lng":1}`))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
		}
	})

	t.Run("other user's uid", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPut, "/api/users/bob", bytes.NewBufferString(`{"lat":1,"lng":1}`))
		req.Header.Set("Authorization", "Bearer alice-token")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusForbidden {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusForbidden)
		}
	})

	t.Run("own uid defaults display name", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPut, "/api/users/alice", bytes.NewBufferString(`{"lat":35.6,"lng":139.7,"tipo":"walker"}`))
		req.Header.Set("Authorization", "Bearer alice-token")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusNoContent, rec.Body.String())
		}

		users, err := st.Users(context.Background())
		if err != nil {
			t.Fatalf("Users() error = %v", err)
		}
		want := presence.Record{Lat: 35.6, Lng: 139.7, Tipo: "walker", DisplayName: "Alice"}
		if users["alice"] != want {
			t.Errorf("alice = %+v, want %+v", users["alice"], want)
		}
	})

	t.Run("GET requires token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/users", nil))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
		}
	})
}

func TestCreateSession(t *testing.T) {
	expires := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	signIn := &mockSignIn{sessions: map[string]*auth.Session{
		"google-token": {
			UID:          "alice",
			DisplayName:  "Alice",
			Email:        "alice@example.com",
			ProviderID:   auth.ProviderGoogle,
			IDToken:      "firebase-id-token",
			RefreshToken: "refresh",
			ExpiresAt:    expires,
		},
	}}
	st := store.NewMemoryStore()
	t.Cleanup(func() { _ = st.Close() })
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg, reg)
	f := facade.New(auth.NewClient(signIn), st, facade.WithMetrics(m))
	router := NewRouter(RouterConfig{Facade: f, Metrics: m})

	tests := []struct {
		name       string
		method     string
		body       string
		wantStatus int
	}{
		{name: "valid token", method: http.MethodPost, body: `{"idToken":"google-token"}`, wantStatus: http.StatusOK},
		{name: "rejected token", method: http.MethodPost, body: `{"idToken":"forged"}`, wantStatus: http.StatusUnauthorized},
		{name: "missing token", method: http.MethodPost, body: `{}`, wantStatus: http.StatusBadRequest},
		{name: "invalid JSON", method: http.MethodPost, body: `nope`, wantStatus: http.StatusBadRequest},
		{name: "wrong method", method: http.MethodGet, body: ``, wantStatus: http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/session", bytes.NewBufferString(tt.body))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantStatus != http.StatusOK {
				return
			}

			var resp SessionResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp.UID != "alice" || resp.IDToken != "firebase-id-token" || !resp.ExpiresAt.Equal(expires) {
				t.Errorf("unexpected session: %+v", resp)
			}
		})
	}

	// Malformed requests never reach the provider
	if got := testutil.ToFloat64(m.SignInsTotal.WithLabelValues(metrics.ResultOK)); got != 1 {
		t.Errorf("sign_ins_total{result=ok} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.SignInsTotal.WithLabelValues(metrics.ResultError)); got != 1 {
		t.Errorf("sign_ins_total{result=error} = %v, want 1", got)
	}
}

func TestCreateSession_Disabled(t *testing.T) {
	f, _ := newTestFacade(t)
	router := NewRouter(RouterConfig{Facade: f})

	req := httptest.NewRequest(http.MethodPost, "/api/session", bytes.NewBufferString(`{"idToken":"x"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestGetConfig(t *testing.T) {
	f, _ := newTestFacade(t)
	router := NewRouter(RouterConfig{
		Facade: f,
		FirebaseConfig: config.FirebaseConfig{
			APIKey:      "public-key",
			ProjectID:   "demo",
			DatabaseURL: "https://demo.firebaseio.com",
			Credentials: "/secrets/sa.json",
		},
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/config", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var got map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if got["apiKey"] != "public-key" || got["projectId"] != "demo" || got["databaseURL"] != "https://demo.firebaseio.com" {
		t.Errorf("unexpected config: %v", got)
	}
	for key, v := range got {
		if v == "/secrets/sa.json" {
			t.Errorf("credentials path leaked under %q", key)
		}
	}
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, "lat and lng are required", http.StatusBadRequest)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	var resp ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Error != "lat and lng are required" {
		t.Errorf("error = %q", resp.Error)
	}
}
