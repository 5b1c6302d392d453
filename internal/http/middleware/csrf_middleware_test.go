package middleware

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/posuite/request-guard/internal/config"
	"github.com/posuite/request-guard/internal/security"
)

const testOrigin = "http://example.com"

func newTestCSRFGuard(t *testing.T, mode config.SecurityMode) *CSRFGuard {
	t.Helper()
	codec := security.NewCSRFCodec("csrf-test-secret")
	guard, err := NewCSRFGuard(codec, DefaultCSRFConfig(mode, 3000, []string{"https://po.example.com"}), nil, nil)
	if err != nil {
		t.Fatalf("new csrf guard: %v", err)
	}
	return guard
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func withSession(req *http.Request, sessionID string) *http.Request {
	return req.WithContext(WithSessionID(req.Context(), sessionID))
}

func decodeCode(t *testing.T, rr *httptest.ResponseRecorder) (string, string) {
	t.Helper()
	var body struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
		Code    string `json:"code"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", rr.Body.String(), err)
	}
	if body.Success {
		t.Fatal("expected failure envelope")
	}
	return body.Error, body.Code
}

func TestCSRFPathMatching(t *testing.T) {
	guard := newTestCSRFGuard(t, config.SecurityMode{Environment: config.EnvTest})
	cases := map[string]bool{
		"/api/orders":               true,
		"/api/orders/42/approve":    true,
		"/api/auth/2fa/verify":      true,
		"/api/admin/security/stats": true,
		"/api/ordersx":              false,
		"/api/auth/user":            false,
		"/api/dashboard/summary":    false,
		"/api/health":               false,
		"/public/api/orders":        false,
	}
	for path, want := range cases {
		if got := guard.IsProtectedPath(path); got != want {
			t.Errorf("IsProtectedPath(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestCSRFProtectDecisions(t *testing.T) {
	guard := newTestCSRFGuard(t, config.SecurityMode{Environment: config.EnvTest})
	valid, err := guard.Codec().Mint("sess-123")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	tests := []struct {
		name     string
		method   string
		path     string
		session  string
		origin   string
		referer  string
		token    string
		wantCode string
	}{
		{name: "safe method skipped", method: http.MethodGet, path: "/api/orders"},
		{name: "unprotected path skipped", method: http.MethodPost, path: "/api/dashboard/refresh"},
		{name: "no session", method: http.MethodPost, path: "/api/orders", origin: testOrigin, token: valid, wantCode: CSRFNoSession},
		{name: "foreign origin", method: http.MethodPost, path: "/api/orders", session: "sess-123", origin: "https://evil.example", token: valid, wantCode: CSRFInvalidOrigin},
		{name: "no origin or referer", method: http.MethodPost, path: "/api/orders", session: "sess-123", token: valid, wantCode: CSRFInvalidOrigin},
		{name: "missing token", method: http.MethodPost, path: "/api/orders", session: "sess-123", origin: testOrigin, wantCode: CSRFMissingToken},
		{name: "token for another session", method: http.MethodPost, path: "/api/orders", session: "sess-456", origin: testOrigin, token: valid, wantCode: CSRFInvalidToken},
		{name: "valid header token", method: http.MethodPost, path: "/api/orders", session: "sess-123", origin: testOrigin, token: valid},
		{name: "referer fallback", method: http.MethodDelete, path: "/api/orders/7", session: "sess-123", referer: testOrigin + "/orders/7", token: valid},
		{name: "configured origin", method: http.MethodPut, path: "/api/vendors/1", session: "sess-123", origin: "https://po.example.com", token: valid},
		{name: "localhost origin", method: http.MethodPatch, path: "/api/items/1", session: "sess-123", origin: "http://localhost:3000", token: valid},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, nil)
			if tc.session != "" {
				req = withSession(req, tc.session)
			}
			if tc.origin != "" {
				req.Header.Set("Origin", tc.origin)
			}
			if tc.referer != "" {
				req.Header.Set("Referer", tc.referer)
			}
			if tc.token != "" {
				req.Header.Set("X-CSRF-Token", tc.token)
			}
			rr := httptest.NewRecorder()
			guard.Protect(okHandler()).ServeHTTP(rr, req)

			if tc.wantCode == "" {
				if rr.Code != http.StatusNoContent {
					t.Fatalf("expected pass-through, got %d: %s", rr.Code, rr.Body.String())
				}
				return
			}
			if rr.Code != http.StatusForbidden {
				t.Fatalf("expected 403, got %d", rr.Code)
			}
			label, code := decodeCode(t, rr)
			if code != tc.wantCode || label != "CSRF validation failed" {
				t.Fatalf("expected %s, got %q/%q", tc.wantCode, label, code)
			}
		})
	}
}

func TestCSRFTokenFromBodyAndQuery(t *testing.T) {
	guard := newTestCSRFGuard(t, config.SecurityMode{Environment: config.EnvTest})
	token, err := guard.Codec().Mint("sess-123")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	t.Run("form field", func(t *testing.T) {
		form := url.Values{"_csrf": {token}, "name": {"widget"}}
		req := httptest.NewRequest(http.MethodPost, "/api/items", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Origin", testOrigin)
		rr := httptest.NewRecorder()
		guard.Protect(okHandler()).ServeHTTP(rr, withSession(req, "sess-123"))
		if rr.Code != http.StatusNoContent {
			t.Fatalf("expected form token to pass, got %d", rr.Code)
		}
	})

	t.Run("json body is restored", func(t *testing.T) {
		payload := `{"_csrf":"` + token + `","vendor":"ACME"}`
		req := httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(payload))
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
		req.Header.Set("Origin", testOrigin)
		var seen string
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			b, _ := io.ReadAll(r.Body)
			seen = string(b)
			w.WriteHeader(http.StatusNoContent)
		})
		rr := httptest.NewRecorder()
		guard.Protect(next).ServeHTTP(rr, withSession(req, "sess-123"))
		if rr.Code != http.StatusNoContent {
			t.Fatalf("expected json token to pass, got %d", rr.Code)
		}
		if seen != payload {
			t.Fatalf("handler saw %q, want original body", seen)
		}
	})

	t.Run("oversized json body reaches handler intact", func(t *testing.T) {
		payload := `{"vendor":"` + strings.Repeat("x", maxTokenBodyBytes+4096) + `"}`
		req := httptest.NewRequest(http.MethodPost, "/api/orders?_csrf="+url.QueryEscape(token), strings.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Origin", testOrigin)
		var seen int
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			b, err := io.ReadAll(r.Body)
			if err != nil {
				t.Errorf("read body: %v", err)
			}
			seen = len(b)
			w.WriteHeader(http.StatusNoContent)
		})
		rr := httptest.NewRecorder()
		guard.Protect(next).ServeHTTP(rr, withSession(req, "sess-123"))
		if rr.Code != http.StatusNoContent {
			t.Fatalf("expected query token to pass, got %d", rr.Code)
		}
		if seen != len(payload) {
			t.Fatalf("handler saw %d bytes, want %d", seen, len(payload))
		}
	})

	t.Run("query string", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/orders?_csrf="+url.QueryEscape(token), nil)
		req.Header.Set("Origin", testOrigin)
		rr := httptest.NewRecorder()
		guard.Protect(okHandler()).ServeHTTP(rr, withSession(req, "sess-123"))
		if rr.Code != http.StatusNoContent {
			t.Fatalf("expected query token to pass, got %d", rr.Code)
		}
	})
}

func TestCSRFIssueSetsCookieAndContext(t *testing.T) {
	guard := newTestCSRFGuard(t, config.SecurityMode{Environment: config.EnvProduction})
	var ctxToken string
	h := guard.Issue(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxToken = CSRFTokenFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := withSession(httptest.NewRequest(http.MethodGet, "/api/admin/users", nil), "sess-123")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	cookies := rr.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != "_csrf" {
		t.Fatalf("expected one _csrf cookie, got %#v", cookies)
	}
	c := cookies[0]
	if c.HttpOnly || !c.Secure || c.SameSite != http.SameSiteStrictMode || c.MaxAge != 4*60*60 {
		t.Fatalf("unexpected cookie attributes: %#v", c)
	}
	if ctxToken != c.Value {
		t.Fatal("expected context token to match cookie")
	}
	if err := guard.Codec().Verify(ctxToken, "sess-123"); err != nil {
		t.Fatalf("issued token must verify for the session: %v", err)
	}

	// A still-valid cookie is reused without a new Set-Cookie.
	again := withSession(httptest.NewRequest(http.MethodGet, "/api/orders", nil), "sess-123")
	again.AddCookie(&http.Cookie{Name: "_csrf", Value: ctxToken})
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, again)
	if len(rr.Result().Cookies()) != 0 {
		t.Fatal("expected valid cookie to be reused")
	}

	// A cookie minted for another session is replaced.
	other := withSession(httptest.NewRequest(http.MethodGet, "/api/orders", nil), "sess-456")
	other.AddCookie(&http.Cookie{Name: "_csrf", Value: ctxToken})
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, other)
	if cs := rr.Result().Cookies(); len(cs) != 1 || cs[0].SameSite != http.SameSiteLaxMode {
		t.Fatalf("expected replacement lax cookie, got %#v", cs)
	}
}

func TestCSRFDoubleSubmitMismatch(t *testing.T) {
	guard := newTestCSRFGuard(t, config.SecurityMode{Environment: config.EnvTest})
	first, _ := guard.Codec().Mint("sess-123")
	second, _ := guard.Codec().Mint("sess-123")

	h := guard.Conditional(guard.IsStrictPath, guard.DoubleSubmit)(okHandler())
	req := withSession(httptest.NewRequest(http.MethodPost, "/api/admin/users", nil), "sess-123")
	req.Header.Set("Origin", testOrigin)
	req.Header.Set("X-CSRF-Token", first)
	req.AddCookie(&http.Cookie{Name: "_csrf", Value: second})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected mismatch block, got %d", rr.Code)
	}
	if _, code := decodeCode(t, rr); code != CSRFTokenMismatch {
		t.Fatalf("expected TOKEN_MISMATCH, got %q", code)
	}

	// Outside the admin scope the same request is only checked for validity.
	req = withSession(httptest.NewRequest(http.MethodPost, "/api/orders", nil), "sess-123")
	req.Header.Set("Origin", testOrigin)
	req.Header.Set("X-CSRF-Token", first)
	req.AddCookie(&http.Cookie{Name: "_csrf", Value: second})
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected non-admin path to bypass double submit, got %d", rr.Code)
	}
}

func TestCSRFDevelopmentBypass(t *testing.T) {
	guard := newTestCSRFGuard(t, config.SecurityMode{Environment: config.EnvDevelopment, CSRFBypass: true})
	req := httptest.NewRequest(http.MethodPost, "/api/orders", nil)
	rr := httptest.NewRecorder()
	guard.Protect(okHandler()).ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected development bypass, got %d", rr.Code)
	}

	prod := newTestCSRFGuard(t, config.SecurityMode{Environment: config.EnvProduction, CSRFBypass: true})
	rr = httptest.NewRecorder()
	prod.Protect(okHandler()).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/orders", nil))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("production must ignore the bypass flag, got %d", rr.Code)
	}
}

func TestCSRFStatsTrackRequestsAndBlocks(t *testing.T) {
	guard := newTestCSRFGuard(t, config.SecurityMode{Environment: config.EnvTest})
	h := guard.Issue(guard.Protect(okHandler()))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/orders", nil))
	for range 3 {
		req := withSession(httptest.NewRequest(http.MethodPost, "/api/orders", nil), "sess-123")
		req.Header.Set("Origin", testOrigin)
		h.ServeHTTP(httptest.NewRecorder(), req)
	}

	snap := guard.Stats().Snapshot()
	if snap.TotalRequests != 4 || snap.ProtectedRequests != 3 || snap.BlockedRequests != 3 {
		t.Fatalf("unexpected counters: %+v", snap)
	}
	if snap.BlockReasons[CSRFMissingToken] != 3 {
		t.Fatalf("expected 3 MISSING_TOKEN blocks, got %#v", snap.BlockReasons)
	}
	if len(snap.TopBlockedIPs) != 1 || snap.TopBlockedIPs[0].Key != "192.0.2.1" || snap.TopBlockedIPs[0].Count != 3 {
		t.Fatalf("unexpected top IPs: %#v", snap.TopBlockedIPs)
	}

	guard.Stats().Reset()
	if snap := guard.Stats().Snapshot(); snap.TotalRequests != 0 || len(snap.BlockReasons) != 0 {
		t.Fatalf("expected reset stats, got %+v", snap)
	}
}
