package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/posuite/request-guard/internal/service"
)

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body
}

func TestServiceErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"unauthenticated", service.ErrUnauthenticated, http.StatusUnauthorized, "UNAUTHENTICATED"},
		{"disabled", service.ErrAccountDisabled, http.StatusForbidden, "ACCOUNT_DISABLED"},
		{"require 2fa", service.ErrTwoFactorRequired, http.StatusForbidden, "REQUIRE_2FA"},
		{"locked", &service.LockedError{Until: time.Now().Add(time.Minute), Remaining: 61 * time.Second}, http.StatusForbidden, "ACCOUNT_LOCKED"},
		{"invalid with attempts", &service.InvalidTokenError{AttemptsRemaining: 2}, http.StatusBadRequest, "INVALID_2FA_TOKEN"},
		{"invalid sentinel", service.ErrTwoFactorInvalidToken, http.StatusBadRequest, "INVALID_2FA_TOKEN"},
		{"not enabled", service.ErrTwoFactorNotEnabled, http.StatusBadRequest, "2FA_NOT_ENABLED"},
		{"setup required", service.ErrTwoFactorSetupRequired, http.StatusBadRequest, "2FA_SETUP_REQUIRED"},
		{"already enabled", service.ErrTwoFactorAlreadyEnabled, http.StatusConflict, "2FA_ALREADY_ENABLED"},
		{"store", fmt.Errorf("%w: find user: dial tcp: refused", service.ErrStoreUnavailable), http.StatusInternalServerError, "INTERNAL_ERROR"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			ServiceError(rr, httptest.NewRequest(http.MethodPost, "/api/auth/2fa/verify", nil), tc.err)
			if rr.Code != tc.status {
				t.Fatalf("status: want %d got %d", tc.status, rr.Code)
			}
			body := decode(t, rr)
			if body["code"] != tc.code || body["success"] != false {
				t.Fatalf("unexpected body %v", body)
			}
		})
	}
}

func TestServiceErrorDoesNotLeakStoreDetails(t *testing.T) {
	rr := httptest.NewRecorder()
	err := fmt.Errorf("%w: find user: pq: password authentication failed", service.ErrStoreUnavailable)
	ServiceError(rr, httptest.NewRequest(http.MethodGet, "/", nil), err)
	if strings.Contains(rr.Body.String(), "pq:") {
		t.Fatalf("store details leaked: %s", rr.Body.String())
	}
}

func TestLockedErrorReportsRemainingSeconds(t *testing.T) {
	rr := httptest.NewRecorder()
	ServiceError(rr, httptest.NewRequest(http.MethodPost, "/", nil), &service.LockedError{Remaining: 899500 * time.Millisecond})
	details, ok := decode(t, rr)["details"].(map[string]any)
	if !ok {
		t.Fatalf("missing details: %s", rr.Body.String())
	}
	if details["remaining_seconds"] != float64(900) {
		t.Fatalf("expected 900 remaining seconds, got %v", details["remaining_seconds"])
	}
}

func TestEnvelopeCarriesRequestID(t *testing.T) {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", "req-42")
	JSON(rr, req, http.StatusOK, map[string]string{"status": "ok"})
	body := decode(t, rr)
	m := body["meta"].(map[string]any)
	if m["request_id"] != "req-42" || body["success"] != true {
		t.Fatalf("unexpected envelope %v", body)
	}
}
