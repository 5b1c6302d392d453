package di

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/posuite/request-guard/internal/config"
	"github.com/posuite/request-guard/internal/domain"
	"github.com/posuite/request-guard/internal/repository"
	"github.com/posuite/request-guard/internal/security"
)

func testConfig(t *testing.T, vars map[string]string) *config.Config {
	t.Helper()
	base := map[string]string{
		"APP_ENV":      "development",
		"DATABASE_URL": "sqlite://" + filepath.Join(t.TempDir(), "guard.db"),
	}
	for k, v := range vars {
		base[k] = v
	}
	cfg, err := config.FromLookup(func(key string) (string, bool) {
		v, ok := base[key]
		return v, ok
	})
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return cfg
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Code    string          `json:"code"`
}

func call(t *testing.T, client *http.Client, method, url, body string) (*http.Response, envelope) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, url, r)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode %s %s: %v", method, url, err)
	}
	return resp, env
}

func countKeys(mr *miniredis.Miniredis, prefix string) int {
	n := 0
	for _, k := range mr.Keys() {
		if strings.HasPrefix(k, prefix) {
			n++
		}
	}
	return n
}

func TestInitializeAppWithRedisBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t, map[string]string{
		"RATE_LIMIT_BACKEND": "redis",
		"REDIS_ADDR":         mr.Addr(),
	})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	a, cleanup, err := InitializeApp(cfg, logger, nil)
	if err != nil {
		t.Fatalf("initialize app: %v", err)
	}
	defer cleanup()

	db, err := repository.Open(cfg.DatabaseURL)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	defer func() { _ = sqlDB.Close() }()
	err = repository.NewUserRepository(db).Create(context.Background(), &domain.User{
		ID: "ADMIN", Email: "admin@example.com", Role: domain.RoleAdmin, IsActive: true,
	})
	if err != nil {
		t.Fatalf("seed admin: %v", err)
	}

	srv := httptest.NewServer(a.Server.Handler)
	defer srv.Close()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	client := &http.Client{Jar: jar}

	resp, env := call(t, client, http.MethodGet, srv.URL+"/health/ready", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected ready, got %d code=%s", resp.StatusCode, env.Code)
	}
	var ready struct {
		Checks []struct {
			Name    string `json:"name"`
			Healthy bool   `json:"healthy"`
		} `json:"checks"`
	}
	if err := json.Unmarshal(env.Data, &ready); err != nil {
		t.Fatalf("decode readiness: %v", err)
	}
	if len(ready.Checks) != 2 {
		t.Fatalf("expected db and redis checks, got %+v", ready.Checks)
	}

	resp, env = call(t, client, http.MethodPost, srv.URL+"/api/dev/session", `{"userId":"ADMIN"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected dev session, got %d code=%s", resp.StatusCode, env.Code)
	}

	resp, env = call(t, client, http.MethodGet, srv.URL+"/api/admin/security/stats", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected stats, got %d code=%s", resp.StatusCode, env.Code)
	}
	if resp.Header.Get("X-RateLimit-Limit") == "" {
		t.Fatal("expected rate limit headers")
	}
	if countKeys(mr, "ratelimit:") == 0 {
		t.Fatal("rate limit windows live in redis")
	}

	cookies, err := security.NewSessionCookieCodec(cfg.OTELServiceName, cfg.SessionSecret)
	if err != nil {
		t.Fatalf("cookie codec: %v", err)
	}
	stale, err := cookies.Encode("revoked-session", cfg.SessionTTL)
	if err != nil {
		t.Fatalf("encode cookie: %v", err)
	}
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/auth/2fa/status", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.AddCookie(&http.Cookie{Name: security.SessionCookieName, Value: stale})
	staleResp, err := (&http.Client{}).Do(req)
	if err != nil {
		t.Fatalf("stale request: %v", err)
	}
	_ = staleResp.Body.Close()
	if staleResp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a revoked session, got %d", staleResp.StatusCode)
	}
	if n := countKeys(mr, "session_miss:"); n != 1 {
		t.Fatalf("expected one remembered miss, got %d", n)
	}
}

func TestInitializeAppFailsWhenRedisBackendUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	cfg := testConfig(t, map[string]string{
		"RATE_LIMIT_BACKEND": "redis",
		"REDIS_ADDR":         addr,
		"STORE_TIMEOUT":      "200ms",
	})

	_, _, err := InitializeApp(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	if err == nil || !strings.Contains(err.Error(), "connect redis") {
		t.Fatalf("expected connect redis error, got %v", err)
	}
}

func TestInitializeAppMemoryBackendHidesDevRoutesOutsideDevelopment(t *testing.T) {
	cfg := testConfig(t, map[string]string{"APP_ENV": "test"})
	a, cleanup, err := InitializeApp(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	if err != nil {
		t.Fatalf("initialize app: %v", err)
	}
	defer cleanup()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/dev/session", strings.NewReader(`{"userId":"X"}`))
	a.Server.Handler.ServeHTTP(rec, req)
	if rec.Code == http.StatusCreated {
		t.Fatal("dev sessions must not be created outside development")
	}
	if a.Sweeper == nil {
		t.Fatal("expected a sweeper")
	}
}
