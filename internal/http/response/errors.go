package response

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/posuite/request-guard/internal/service"
)

// ServiceError writes the envelope for an error returned by the service layer.
// Unknown errors and store failures are logged and reported generically.
func ServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var locked *service.LockedError
	var invalid *service.InvalidTokenError
	switch {
	case errors.As(err, &locked):
		Fail(w, r, http.StatusForbidden, Problem{
			Label:   "Account locked",
			Code:    "ACCOUNT_LOCKED",
			Message: "too many failed attempts; try again later",
			Details: map[string]any{
				"remaining_seconds": locked.RemainingSeconds(),
				"locked_until":      locked.Until.UTC(),
			},
		})
	case errors.As(err, &invalid):
		Fail(w, r, http.StatusBadRequest, Problem{
			Label:   "Invalid token",
			Code:    "INVALID_2FA_TOKEN",
			Message: "invalid authentication code",
			Details: map[string]int{"attempts_remaining": invalid.AttemptsRemaining},
		})
	case errors.Is(err, service.ErrTwoFactorInvalidToken):
		Fail(w, r, http.StatusBadRequest, Problem{Label: "Invalid token", Code: "INVALID_2FA_TOKEN", Message: "invalid authentication code"})
	case errors.Is(err, service.ErrUnauthenticated):
		Fail(w, r, http.StatusUnauthorized, Problem{Label: "Authentication required", Code: "UNAUTHENTICATED", Message: "login required"})
	case errors.Is(err, service.ErrAccountDisabled):
		Fail(w, r, http.StatusForbidden, Problem{Label: "Account disabled", Code: "ACCOUNT_DISABLED", Message: "this account has been disabled"})
	case errors.Is(err, service.ErrTwoFactorRequired):
		Fail(w, r, http.StatusForbidden, Problem{Label: "Two-factor authentication required", Code: "REQUIRE_2FA", Message: "complete two-factor verification first"})
	case errors.Is(err, service.ErrTwoFactorNotEnabled):
		Fail(w, r, http.StatusBadRequest, Problem{Label: "Two-factor not enabled", Code: "2FA_NOT_ENABLED", Message: "two-factor authentication is not enabled"})
	case errors.Is(err, service.ErrTwoFactorSetupRequired):
		Fail(w, r, http.StatusBadRequest, Problem{Label: "Two-factor setup required", Code: "2FA_SETUP_REQUIRED", Message: "start two-factor setup first"})
	case errors.Is(err, service.ErrTwoFactorAlreadyEnabled):
		Fail(w, r, http.StatusConflict, Problem{Label: "Two-factor already enabled", Code: "2FA_ALREADY_ENABLED", Message: "two-factor authentication is already enabled"})
	default:
		slog.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"store_unavailable", errors.Is(err, service.ErrStoreUnavailable),
			"error", err,
		)
		Fail(w, r, http.StatusInternalServerError, Problem{Label: "Internal error", Code: "INTERNAL_ERROR", Message: "internal server error"})
	}
}
