package handler

import (
	"net/http"

	"github.com/posuite/request-guard/internal/http/middleware"
	"github.com/posuite/request-guard/internal/http/response"
	"github.com/posuite/request-guard/internal/security"
)

type CSRFHandler struct {
	codec *security.CSRFCodec
}

func NewCSRFHandler(codec *security.CSRFCodec) *CSRFHandler {
	return &CSRFHandler{codec: codec}
}

// Token returns the token issued for this request with its expiry in unix milliseconds.
func (h *CSRFHandler) Token(w http.ResponseWriter, r *http.Request) {
	token := middleware.CSRFTokenFromContext(r.Context())
	if token == "" {
		response.Error(w, r, http.StatusInternalServerError, "TOKEN_GENERATION_FAILED", "could not generate CSRF token", nil)
		return
	}
	issued, ok := h.codec.IssuedAt(token)
	if !ok {
		response.Error(w, r, http.StatusInternalServerError, "TOKEN_GENERATION_FAILED", "could not generate CSRF token", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{
		"token":   token,
		"expires": issued.Add(h.codec.MaxAge()).UnixMilli(),
	})
}
