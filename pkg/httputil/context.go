package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/edgeflare/pgcrud/pkg/apierr"
	"github.com/zitadel/oidc/v3/pkg/oidc"
	"go.uber.org/zap"
)

// ContextKey names request context values shared between the middleware and
// the handlers.
type ContextKey string

const (
	RequestIDCtxKey ContextKey = "request_id"
	// LogEntryCtxKey holds a map[string]any the logger middleware adds to
	// its entry.
	LogEntryCtxKey  ContextKey = "log_entry"
	OIDCUserCtxKey  ContextKey = "oidc_user"
	BasicAuthCtxKey ContextKey = "basic_auth_user"
	JWTClaimsCtxKey ContextKey = "jwt_claims"
)

// OIDCUser extracts the OIDC user from the request context.
func OIDCUser(r *http.Request) (*oidc.IntrospectionResponse, bool) {
	user, ok := r.Context().Value(OIDCUserCtxKey).(*oidc.IntrospectionResponse)
	if !ok || user == nil {
		return nil, false
	}
	return user, true
}

// BasicAuthUser retrieves the authenticated username from the context.
func BasicAuthUser(r *http.Request) (string, bool) {
	user, ok := r.Context().Value(BasicAuthCtxKey).(string)
	return user, ok
}

// JWTClaims returns the claims of a token verified by the JWT middleware.
func JWTClaims(r *http.Request) (map[string]any, bool) {
	claims, ok := r.Context().Value(JWTClaimsCtxKey).(map[string]any)
	return claims, ok && claims != nil
}

// RequestID returns the id assigned by the RequestID middleware.
func RequestID(r *http.Request) string {
	id, _ := r.Context().Value(RequestIDCtxKey).(string)
	return id
}

// JSON writes data as a JSON response. Encoding happens before the status
// is sent, so an unencodable value yields a 500 instead of a truncated body.
func JSON(w http.ResponseWriter, statusCode int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	w.Write(append(body, '\n'))
}

// ErrorResponse represents a structured error response.
type ErrorResponse struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
	// ErrorCode is the stable code of a policy error.
	ErrorCode string              `json:"error_code,omitempty"`
	Detail    []apierr.FieldError `json:"detail,omitempty"`
}

// Error sends a JSON response with an error code and message.
func Error(w http.ResponseWriter, statusCode int, message string) {
	JSON(w, statusCode, ErrorResponse{Code: statusCode, Message: message})
}

// WriteError renders err with the status apierr.Status assigns to it. Server
// errors are logged to logger and answered with the status text only.
func WriteError(w http.ResponseWriter, r *http.Request, err error, logger *zap.Logger) {
	status := apierr.Status(err)
	resp := ErrorResponse{Code: status, Message: err.Error()}
	if status >= http.StatusInternalServerError {
		if logger == nil {
			logger = zap.L()
		}
		logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", RequestID(r)),
			zap.Error(err))
		resp.Message = http.StatusText(status)
	}

	var (
		verr *apierr.ValidationError
		perr *apierr.PolicyError
	)
	switch {
	case errors.As(err, &verr):
		resp.Message = "validation error"
		resp.Detail = verr.Errors
	case errors.As(err, &perr):
		resp.ErrorCode = perr.Code
	case status == http.StatusNotFound:
		resp.Message = http.StatusText(status)
	}
	JSON(w, status, resp)
}
