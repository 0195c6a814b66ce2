package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/linechat-server/internal/attachments"
	"github.com/vovakirdan/linechat-server/internal/auth"
	"github.com/vovakirdan/linechat-server/internal/config"
	"github.com/vovakirdan/linechat-server/internal/core"
	"github.com/vovakirdan/linechat-server/internal/history"
	"github.com/vovakirdan/linechat-server/internal/log"
	"github.com/vovakirdan/linechat-server/internal/session"
	"github.com/vovakirdan/linechat-server/internal/store/sqlite"
)

const (
	adminName     = "admin"
	adminPassword = "rootpw1"
)

type testEnv struct {
	ts       *httptest.Server
	auth     *auth.Service
	history  *history.Service
	registry *core.Registry
}

func newTestEnv(t *testing.T, opts ...func(*config.AdminHTTPConfig)) *testEnv {
	t.Helper()

	st, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	logger := log.Nop()
	authSvc := auth.NewService(st, &auth.JWTConfig{
		Secret:   []byte("test-secret"),
		Issuer:   "test",
		Audience: "test",
		TTL:      time.Hour,
	}, adminName)
	_, err = authSvc.EnsureUser(context.Background(), adminName, adminPassword)
	require.NoError(t, err)

	hist := history.NewService(st, history.DefaultLimit, logger)
	registry := core.NewRegistry(logger)
	sessions := session.NewHandler(session.Deps{
		Auth:        authSvc,
		History:     hist,
		Attachments: attachments.NewService(st, attachments.NewMemoryStore(), 0, logger),
		Registry:    registry,
	}, session.Config{}, logger)

	cfg := config.Default().AdminHTTP
	for _, opt := range opts {
		opt(&cfg)
	}
	srv := NewServer(Deps{
		Auth:     authSvc,
		History:  hist,
		Registry: registry,
		Sessions: sessions,
	}, cfg, 1<<20, logger)

	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(func() {
		registry.CloseAll()
		ts.Close()
	})

	return &testEnv{ts: ts, auth: authSvc, history: hist, registry: registry}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.ts.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := e.ts.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (e *testEnv) adminToken(t *testing.T) string {
	t.Helper()

	resp := e.do(t, http.MethodPost, "/api/admin/login", "", LoginRequest{Username: adminName, Password: adminPassword})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out AuthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotEmpty(t, out.Token)
	return out.Token
}
