package response

import (
	"encoding/json"
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
	Meta    meta   `json:"meta"`
}

type meta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Problem is a failed response. Label is the short human category, Code the
// machine-readable reason clients switch on.
type Problem struct {
	Label   string
	Code    string
	Message string
	Details any
}

func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	write(w, status, envelope{Success: true, Data: data, Meta: buildMeta(r)})
}

func Error(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	Fail(w, r, status, Problem{Label: http.StatusText(status), Code: code, Message: message, Details: details})
}

func Fail(w http.ResponseWriter, r *http.Request, status int, p Problem) {
	if p.Label == "" {
		p.Label = http.StatusText(status)
	}
	write(w, status, envelope{
		Success: false,
		Error:   p.Label,
		Message: p.Message,
		Code:    p.Code,
		Details: p.Details,
		Meta:    buildMeta(r),
	})
}

func write(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func buildMeta(r *http.Request) meta {
	id := chimiddleware.GetReqID(r.Context())
	if id == "" {
		id = r.Header.Get("X-Request-Id")
	}
	if id == "" {
		id = "req-unknown"
	}
	return meta{RequestID: id, Timestamp: time.Now().UTC()}
}
