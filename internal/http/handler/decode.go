package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/posuite/request-guard/internal/http/response"
)

// decodeJSON reads a JSON body into dst and writes a 400 on failure.
// An empty body decodes to the zero value.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid request body", nil)
	return false
}
