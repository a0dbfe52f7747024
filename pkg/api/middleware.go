package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"naming_events/pkg/event"
	"naming_events/pkg/security"
)

const userHeader = "X-User-ID"

// statusRecorder captures the status code for request logging
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// WithLogging wraps a handler with request logging
func WithLogging(logger *zap.Logger, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next(rec, r)

		logger.Info("Request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("tenant", r.PathValue("tenant")),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)))
	}
}

// RequireAdmin rejects requests without a valid admin bearer token for the
// path's tenant. A nil manager lets everything through.
func RequireAdmin(tokens *security.TokenManager, logger *zap.Logger, next http.HandlerFunc) http.HandlerFunc {
	if tokens == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			ErrorResponse(w, logger, http.StatusUnauthorized, "admin token required")
			return
		}
		claims, err := tokens.Validate(raw)
		if err != nil {
			logger.Debug("Admin token rejected", zap.Error(err))
			ErrorResponse(w, logger, http.StatusUnauthorized, err.Error())
			return
		}
		if tenant := r.PathValue("tenant"); !claims.Allows(tenant) {
			logger.Warn("Admin token used outside its tenants",
				zap.String("subject", claims.Subject),
				zap.String("tenant", tenant))
			ErrorResponse(w, logger, http.StatusForbidden, "token does not cover this tenant")
			return
		}
		next(w, r)
	}
}

// ErrorBody is the JSON error envelope
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// JSONResponse writes a JSON response
func JSONResponse(w http.ResponseWriter, logger *zap.Logger, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("Failed to encode JSON response", zap.Error(err))
	}
}

// ErrorResponse writes a JSON error response
func ErrorResponse(w http.ResponseWriter, logger *zap.Logger, statusCode int, message string) {
	JSONResponse(w, logger, statusCode, ErrorBody{
		Error:   http.StatusText(statusCode),
		Message: message,
	})
}

// StatusFor maps a command error onto an HTTP status
func StatusFor(err error) int {
	switch {
	case event.IsValidation(err):
		return http.StatusBadRequest
	case event.IsNotFound(err):
		return http.StatusNotFound
	case event.IsConflict(err):
		return http.StatusConflict
	case event.IsExternal(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// CommandError writes err with its mapped status. Internal errors are
// logged and their details withheld.
func CommandError(w http.ResponseWriter, logger *zap.Logger, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error("Command failed", zap.Error(err))
		ErrorResponse(w, logger, status, "internal error")
		return
	}
	ErrorResponse(w, logger, status, err.Error())
}

// ParseJSONBody parses the request body into the given struct. An empty
// body leaves v untouched.
func ParseJSONBody(r *http.Request, v any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
