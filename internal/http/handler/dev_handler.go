package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/posuite/request-guard/internal/domain"
	"github.com/posuite/request-guard/internal/http/middleware"
	"github.com/posuite/request-guard/internal/http/response"
	"github.com/posuite/request-guard/internal/repository"
	"github.com/posuite/request-guard/internal/security"
	"github.com/posuite/request-guard/internal/service"
)

type userFinder interface {
	FindByID(ctx context.Context, id string) (*domain.User, error)
}

// DevHandler opens sessions directly; mounted only in development.
type DevHandler struct {
	users    userFinder
	sessions *service.SessionService
	cookies  *security.SessionCookieCodec
}

func NewDevHandler(users userFinder, sessions *service.SessionService, cookies *security.SessionCookieCodec) *DevHandler {
	return &DevHandler{users: users, sessions: sessions, cookies: cookies}
}

func (h *DevHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"userId"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "userId is required", nil)
		return
	}
	if _, err := h.users.FindByID(r.Context(), req.UserID); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			response.Error(w, r, http.StatusNotFound, "USER_NOT_FOUND", "user not found", nil)
			return
		}
		response.ServiceError(w, r, err)
		return
	}
	session, err := h.sessions.Start(r.Context(), req.UserID)
	if err != nil {
		response.ServiceError(w, r, err)
		return
	}
	if err := middleware.SetSessionCookie(w, h.cookies, session.ID, h.sessions.TTL(), false); err != nil {
		response.ServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusCreated, map[string]any{
		"session_id": session.ID,
		"user_id":    req.UserID,
		"expires_at": session.ExpiresAt,
	})
}
