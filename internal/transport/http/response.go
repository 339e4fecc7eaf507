package httptransport

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Webictbyleo/iamgickpro-sub001/internal/service"
)

type apiError struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, apiError{Message: msg})
}

// writeServiceErr maps the service error taxonomy onto HTTP statuses:
// validation 400, access 403, missing 404, transition/retry conflicts 409.
func writeServiceErr(w http.ResponseWriter, err error) {
	var (
		validation *service.ValidationError
		transition *service.InvalidTransitionError
		storage    *service.StorageError
	)

	switch {
	case errors.As(err, &validation):
		writeErr(w, http.StatusBadRequest, validation.Error())
	case errors.Is(err, service.ErrAccessDenied):
		writeErr(w, http.StatusForbidden, "access denied")
	case errors.Is(err, service.ErrNotFound), errors.Is(err, service.ErrDesignNotFound):
		writeErr(w, http.StatusNotFound, "not found")
	case errors.As(err, &transition):
		writeErr(w, http.StatusConflict, transition.Error())
	case errors.Is(err, service.ErrRetryLimitExceeded):
		writeErr(w, http.StatusConflict, "retry limit exceeded")
	case errors.As(err, &storage):
		writeErr(w, http.StatusBadGateway, "artifact storage unavailable")
	default:
		writeErr(w, http.StatusInternalServerError, "internal error")
	}
}
