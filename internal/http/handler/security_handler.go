package handler

import (
	"net/http"

	"github.com/posuite/request-guard/internal/http/middleware"
	"github.com/posuite/request-guard/internal/http/response"
	"github.com/posuite/request-guard/internal/observability"
)

type SecurityHandler struct {
	csrf      *middleware.CSRFStats
	rateLimit *middleware.RateLimitStats
}

func NewSecurityHandler(csrf *middleware.CSRFStats, rateLimit *middleware.RateLimitStats) *SecurityHandler {
	return &SecurityHandler{csrf: csrf, rateLimit: rateLimit}
}

type SecurityStats struct {
	CSRF      middleware.CSRFStatsSnapshot      `json:"csrf"`
	RateLimit middleware.RateLimitStatsSnapshot `json:"rate_limit"`
}

func (h *SecurityHandler) Stats(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, SecurityStats{
		CSRF:      h.csrf.Snapshot(),
		RateLimit: h.rateLimit.Snapshot(),
	})
}

func (h *SecurityHandler) Reset(w http.ResponseWriter, r *http.Request) {
	h.csrf.Reset()
	h.rateLimit.Reset()
	userID := ""
	if ac, ok := middleware.AuthContextFromContext(r.Context()); ok {
		userID = ac.UserID
	}
	observability.Audit(r, "security.stats.reset", "user_id", userID)
	response.JSON(w, r, http.StatusOK, map[string]any{"reset": true})
}
