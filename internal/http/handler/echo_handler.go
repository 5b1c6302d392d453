package handler

import (
	"net/http"

	"github.com/posuite/request-guard/internal/http/middleware"
	"github.com/posuite/request-guard/internal/http/response"
)

// Echo stands in for the business routes mounted behind the pipeline and
// reports what the pipeline resolved for the request.
func Echo(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"method": r.Method,
		"path":   r.URL.Path,
	}
	if ac, ok := middleware.AuthContextFromContext(r.Context()); ok {
		body["user_id"] = ac.UserID
		body["role"] = ac.Role
	}
	response.JSON(w, r, http.StatusOK, body)
}
