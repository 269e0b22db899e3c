package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/barckcode/puyu-api/internal/lock"
	awsprovider "github.com/barckcode/puyu-api/internal/provider/aws"
	"github.com/barckcode/puyu-api/internal/repository"
	"github.com/barckcode/puyu-api/internal/service/provision"
)

// writeJSON writes JSON response with status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError sends an error message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type errorBody struct {
	Error      string `json:"error"`
	Kind       string `json:"kind,omitempty"`
	Step       string `json:"step,omitempty"`
	ResourceID string `json:"resource_id,omitempty"`
}

// statusFor maps service errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, provision.ErrPersistence):
		return http.StatusInternalServerError
	case errors.Is(err, awsprovider.ErrInvalidArgument), errors.Is(err, repository.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, lock.ErrBusy), errors.Is(err, repository.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError renders err with its failure kind and, for provisioning failures, the step reached.
func writeServiceError(w http.ResponseWriter, err error) {
	body := errorBody{Error: err.Error(), Kind: provision.KindName(err)}
	var stepErr *provision.StepError
	if errors.As(err, &stepErr) {
		body.Step = stepErr.Step
		body.ResourceID = stepErr.ResourceID
	}
	writeJSON(w, statusFor(err), body)
}
