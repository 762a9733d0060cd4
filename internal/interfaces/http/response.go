package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"bankfeed/internal/domain/account"
	"bankfeed/internal/domain/enrollment"
	"bankfeed/internal/shared/apperr"
)

const maxBodySize = 1 << 20 // 1 MiB

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

// writeError maps domain and classified errors to a status code. Server-side
// failures are logged and answered with a generic message.
func writeError(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Printf("Error in %s: %v", op, err)
		http.Error(w, http.StatusText(status), status)
		return
	}
	var e *apperr.Error
	if errors.As(err, &e) && e.Message != "" {
		http.Error(w, e.Message, status)
		return
	}
	http.Error(w, err.Error(), status)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, account.ErrAccountNotFound), errors.Is(err, enrollment.ErrEnrollmentNotFound):
		return http.StatusNotFound
	case errors.Is(err, account.ErrForbidden), errors.Is(err, enrollment.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, enrollment.ErrNotActive):
		return http.StatusConflict
	}

	var e *apperr.Error
	if errors.As(err, &e) {
		return apperr.HTTPStatus(e.Kind)
	}
	return http.StatusInternalServerError
}

// HandleHealth returns a simple health check response.
func HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
