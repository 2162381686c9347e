package web

// errors.go provides unified error response handling for the web layer.
//
// The error flow:
//  1. Handler encounters an error
//  2. Calls s.respondError(w, r, err)
//  3. Error is mapped via core.MapError to a user-friendly message
//  4. The message code selects the HTTP status
//  5. Technical error + context is logged with request ID for correlation

import (
	"errors"
	"log/slog"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"
	json "github.com/goccy/go-json"

	"github.com/JonMunkholm/copybook/internal/core"
)

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// statusByCode maps user message codes to HTTP status codes. Anything not
// listed is a 500.
var statusByCode = map[string]int{
	"SCH002": http.StatusNotFound,
	"JOB005": http.StatusNotFound,
	"EOF001": http.StatusUnprocessableEntity,
	"LEN001": http.StatusUnprocessableEntity,
	"LEN002": http.StatusUnprocessableEntity,
	"FLD001": http.StatusUnprocessableEntity,
	"TYP001": http.StatusUnprocessableEntity,
	"VAL001": http.StatusUnprocessableEntity,
	"VAL002": http.StatusUnprocessableEntity,
	"VAL003": http.StatusBadRequest,
	"VAL004": http.StatusUnprocessableEntity,
	"DEP001": http.StatusUnprocessableEntity,
	"JOB001": http.StatusServiceUnavailable,
	"JOB002": http.StatusConflict,
	"JOB003": http.StatusGatewayTimeout,
	"JOB004": http.StatusRequestEntityTooLarge,
	"DB003":  http.StatusServiceUnavailable,
	"DB004":  http.StatusNotImplemented,
}

// statusFor returns the HTTP status for a mapped error.
func statusFor(msg core.UserMessage) int {
	if status, ok := statusByCode[msg.Code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// respondError logs the technical error server-side and returns the mapped
// user message as JSON.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		err = core.ErrInputTooLarge
	}

	userMsg := core.MapError(err)
	status := statusFor(userMsg)

	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	slog.Log(r.Context(), level, "request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", userMsg.Code,
		"request_id", chimw.GetReqID(r.Context()),
	)

	if userMsg.Code == "JOB001" {
		w.Header().Set("Retry-After", "5")
	}
	respondErrorJSON(w, userMsg, status)
}

// respondErrorJSON writes a JSON error response.
func respondErrorJSON(w http.ResponseWriter, msg core.UserMessage, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	})
}
