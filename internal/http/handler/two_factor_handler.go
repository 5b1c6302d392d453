package handler

import (
	"net/http"
	"strings"

	"github.com/posuite/request-guard/internal/http/middleware"
	"github.com/posuite/request-guard/internal/http/response"
	"github.com/posuite/request-guard/internal/observability"
	"github.com/posuite/request-guard/internal/service"
)

type TwoFactorHandler struct {
	twoFactor *service.TwoFactorService
	sessions  *service.SessionService
}

func NewTwoFactorHandler(twoFactor *service.TwoFactorService, sessions *service.SessionService) *TwoFactorHandler {
	return &TwoFactorHandler{twoFactor: twoFactor, sessions: sessions}
}

type tokenRequest struct {
	Token string `json:"token"`
}

type verifyRequest struct {
	UserID string `json:"userId"`
	Token  string `json:"token"`
}

func (h *TwoFactorHandler) Setup(w http.ResponseWriter, r *http.Request) {
	ac, ok := middleware.AuthContextFromContext(r.Context())
	if !ok {
		response.ServiceError(w, r, service.ErrUnauthenticated)
		return
	}
	res, err := h.twoFactor.Setup(r.Context(), ac.UserID, ac.Email)
	if err != nil {
		response.ServiceError(w, r, err)
		return
	}
	observability.Audit(r, "2fa.setup", "user_id", ac.UserID)
	response.JSON(w, r, http.StatusOK, res)
}

func (h *TwoFactorHandler) Enable(w http.ResponseWriter, r *http.Request) {
	ac, ok := middleware.AuthContextFromContext(r.Context())
	if !ok {
		response.ServiceError(w, r, service.ErrUnauthenticated)
		return
	}
	var req tokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Token) == "" {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "token is required", nil)
		return
	}
	if err := h.twoFactor.Enable(r.Context(), ac.UserID, req.Token); err != nil {
		response.ServiceError(w, r, err)
		return
	}
	// The enabling code proves possession, so this session counts as verified.
	if sid := middleware.SessionIDFromContext(r.Context()); sid != "" {
		if err := h.sessions.CompleteTwoFactor(r.Context(), sid, ac.UserID); err != nil {
			response.ServiceError(w, r, err)
			return
		}
	}
	observability.Audit(r, "2fa.enabled", "user_id", ac.UserID)
	response.JSON(w, r, http.StatusOK, map[string]any{"enabled": true})
}

// Verify checks a TOTP or backup code for userId and marks the current
// session as having passed 2FA. The session must already be bound to userId.
func (h *TwoFactorHandler) Verify(w http.ResponseWriter, r *http.Request) {
	ac, ok := middleware.AuthContextFromContext(r.Context())
	sid := middleware.SessionIDFromContext(r.Context())
	if !ok || sid == "" || ac.SessionID != sid {
		response.ServiceError(w, r, service.ErrUnauthenticated)
		return
	}
	var req verifyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" || strings.TrimSpace(req.Token) == "" {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "userId and token are required", nil)
		return
	}
	if req.UserID != ac.UserID {
		observability.Audit(r, "2fa.verify_rejected", "user_id", ac.UserID, "requested_user_id", req.UserID)
		response.Error(w, r, http.StatusForbidden, "FORBIDDEN", "session is not bound to this user", nil)
		return
	}

	res, err := h.twoFactor.Verify(r.Context(), req.UserID, req.Token)
	if err != nil {
		response.ServiceError(w, r, err)
		return
	}
	if err := h.sessions.CompleteTwoFactor(r.Context(), sid, req.UserID); err != nil {
		response.ServiceError(w, r, err)
		return
	}

	observability.Audit(r, "2fa.verified", "user_id", req.UserID, "backup_code", res.UsedBackupCode)
	response.JSON(w, r, http.StatusOK, map[string]any{
		"verified":               true,
		"used_backup_code":       res.UsedBackupCode,
		"backup_codes_remaining": res.BackupCodesRemaining,
	})
}

func (h *TwoFactorHandler) Disable(w http.ResponseWriter, r *http.Request) {
	ac, ok := middleware.AuthContextFromContext(r.Context())
	if !ok {
		response.ServiceError(w, r, service.ErrUnauthenticated)
		return
	}
	var req tokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Token) == "" {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "token is required", nil)
		return
	}
	if err := h.twoFactor.Disable(r.Context(), ac.UserID, req.Token); err != nil {
		response.ServiceError(w, r, err)
		return
	}
	observability.Audit(r, "2fa.disabled", "user_id", ac.UserID)
	response.JSON(w, r, http.StatusOK, map[string]any{"enabled": false})
}

func (h *TwoFactorHandler) RegenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	ac, ok := middleware.AuthContextFromContext(r.Context())
	if !ok {
		response.ServiceError(w, r, service.ErrUnauthenticated)
		return
	}
	codes, err := h.twoFactor.RegenerateBackupCodes(r.Context(), ac.UserID)
	if err != nil {
		response.ServiceError(w, r, err)
		return
	}
	observability.Audit(r, "2fa.backup_codes_regenerated", "user_id", ac.UserID)
	response.JSON(w, r, http.StatusOK, map[string]any{"backup_codes": codes})
}

func (h *TwoFactorHandler) Status(w http.ResponseWriter, r *http.Request) {
	ac, ok := middleware.AuthContextFromContext(r.Context())
	if !ok {
		response.ServiceError(w, r, service.ErrUnauthenticated)
		return
	}
	status, err := h.twoFactor.Status(r.Context(), ac.UserID)
	if err != nil {
		response.ServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, status)
}
