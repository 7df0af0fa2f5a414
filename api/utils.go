package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"aegis/core"
)

// requestValidator checks `validate` tags on decoded request bodies.
var requestValidator = validator.New(validator.WithRequiredStructEnabled())

// validationMessage renders a validator error as a client-facing message,
// field by field, without leaking struct internals.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid request body"
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			parts = append(parts, fmt.Sprintf("%s is required", fe.Field()))
		case "min", "max":
			parts = append(parts, fmt.Sprintf("%s is out of range", fe.Field()))
		case "oneof":
			parts = append(parts, fmt.Sprintf("%s has an unsupported value", fe.Field()))
		default:
			parts = append(parts, fmt.Sprintf("%s is invalid", fe.Field()))
		}
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Patterns for messages that must never reach a client verbatim.
var (
	dbConnStringPattern = regexp.MustCompile(`(?i)(mongodb|postgres|mysql|redis|clickhouse)://[^\s]+`)
	filePathPattern     = regexp.MustCompile(`(?:/[a-zA-Z0-9._-]+){2,}`)
	privateIPPattern    = regexp.MustCompile(`\b(?:10\.\d{1,3}\.\d{1,3}\.\d{1,3}|172\.(?:1[6-9]|2\d|3[01])\.\d{1,3}\.\d{1,3}|192\.168\.\d{1,3}\.\d{1,3})\b`)
	credentialPattern   = regexp.MustCompile(`(?i)(password|passwd|secret|token|api[_-]?key|bearer)[\s=:]+[^\s]+`)
	stackTracePattern   = regexp.MustCompile(`goroutine \d+|\.go:\d+`)
)

// sanitizeErrorMessage strips internals (connection strings, paths, private
// addresses, credentials, stack frames) from an error before it is sent to a
// client. The full error still goes to the log.
func sanitizeErrorMessage(message string) string {
	message = dbConnStringPattern.ReplaceAllString(message, "[connection]")
	message = credentialPattern.ReplaceAllString(message, "$1=[redacted]")
	message = filePathPattern.ReplaceAllString(message, "[path]")
	message = privateIPPattern.ReplaceAllString(message, "[address]")
	if stackTracePattern.MatchString(message) {
		return "internal error"
	}
	if len(message) > core.MaxErrorMessageLength {
		message = message[:core.MaxErrorMessageLength-3] + "..."
	}
	return message
}

// sanitizeLogMessage strips newlines from untrusted strings before they are
// interpolated into log lines, preventing log injection.
func sanitizeLogMessage(message string) string {
	message = strings.ReplaceAll(message, "\n", " ")
	message = strings.ReplaceAll(message, "\r", " ")
	return message
}

// writeError logs the full error and responds with a sanitized message.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, message string, statusCode int) {
	a.logger.Errorw("Request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"status", statusCode,
		"error", sanitizeLogMessage(message))
	http.Error(w, sanitizeErrorMessage(message), statusCode)
}

// writeJSON serializes v with the given status code.
func (a *API) writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Errorw("Failed to encode response", "error", err)
	}
}

var resourceIDPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// validateResourceID checks a path parameter against the ID shapes storage
// produces (alert-<uuid>, pb-<hex>, tl-<uuid>, ...).
func validateResourceID(id string) error {
	if !resourceIDPattern.MatchString(id) {
		return fmt.Errorf("invalid resource identifier")
	}
	return nil
}

// decodeJSONBodyWithLimit decodes a JSON request body into dst, rejecting
// unknown fields and bodies over maxBytes.
func decodeJSONBodyWithLimit(w http.ResponseWriter, r *http.Request, dst interface{}, maxBytes int64) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var syntaxError *json.SyntaxError
		var unmarshalTypeError *json.UnmarshalTypeError

		switch {
		case errors.As(err, &syntaxError):
			return fmt.Errorf("request body contains badly-formed JSON (at position %d)", syntaxError.Offset)
		case errors.Is(err, io.ErrUnexpectedEOF):
			return fmt.Errorf("request body contains badly-formed JSON")
		case errors.As(err, &unmarshalTypeError):
			return fmt.Errorf("request body contains an invalid value for the %q field (at position %d)", unmarshalTypeError.Field, unmarshalTypeError.Offset)
		case strings.HasPrefix(err.Error(), "json: unknown field "):
			fieldName := strings.TrimPrefix(err.Error(), "json: unknown field ")
			return fmt.Errorf("request body contains unknown field %s", fieldName)
		case errors.Is(err, io.EOF):
			return fmt.Errorf("request body must not be empty")
		case err.Error() == "http: request body too large":
			return fmt.Errorf("request body must not be larger than %d bytes", maxBytes)
		default:
			return err
		}
	}

	// A second decode succeeding means the body held more than one JSON value.
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("request body must contain a single JSON object")
	}
	return nil
}

// getClientIP extracts the client address, honoring proxy headers only in
// the order a trusted reverse proxy would set them.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// parseLimitOffset extracts limit/offset query parameters with bounds.
func parseLimitOffset(r *http.Request, defaultLimit, maxLimit int) (limit, offset int) {
	limit = defaultLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= maxLimit {
			limit = parsed
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	return limit, offset
}
