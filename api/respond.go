package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xraph/subledger"
)

const dateLayout = "2006-01-02"

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload) //nolint:errchkjson // headers already sent
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

// statusFor maps ledger error kinds onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case subledger.IsValidation(err):
		return http.StatusBadRequest
	case subledger.IsNotFound(err):
		return http.StatusNotFound
	case subledger.IsInvalidState(err), subledger.IsAlreadyExists(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondWithLedgerError writes err with its mapped status. Store failures
// are logged and reported with an opaque message.
func respondWithLedgerError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		rid, _ := RequestIDFromContext(r.Context())
		logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", rid,
			"error", err,
		)
		respondWithError(w, code, "internal server error")
		return
	}
	respondWithError(w, code, err.Error())
}

// pathID parses the {id} URL parameter.
func pathID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return 0, subledger.ValidationError{Field: "id", Message: "must be a positive integer"}
	}
	return v, nil
}

// parseDate accepts YYYY-MM-DD or RFC 3339 and returns UTC.
func parseDate(field, raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, subledger.ValidationError{Field: field, Message: "is required"}
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, subledger.ValidationError{Field: field, Message: "must be YYYY-MM-DD or RFC 3339"}
	}
	return t.UTC(), nil
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return subledger.ValidationError{Field: "body", Message: "invalid JSON"}
	}
	return nil
}
