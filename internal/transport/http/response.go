package httptransport

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	log "github.com/sirupsen/logrus"

	"video-job-orchestrator/internal/entity"
)

type apiError struct {
	Code              string              `json:"code"`
	Message           string              `json:"message"`
	Remediation       string              `json:"remediation,omitempty"`
	CorrelationID     string              `json:"correlationId,omitempty"`
	Fields            []entity.FieldError `json:"fields,omitempty"`
	RetryAfterSeconds int                 `json:"retryAfterSeconds,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	writeJSON(w, status, apiError{
		Code:          code,
		Message:       msg,
		CorrelationID: CorrelationID(r.Context()),
	})
}

// writeServiceErr maps a service error onto a status code and error body.
func writeServiceErr(w http.ResponseWriter, r *http.Request, err error) {
	resp := apiError{CorrelationID: CorrelationID(r.Context())}

	var (
		verr   *entity.ValidationError
		denied *entity.RetryNotAllowedError
	)
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &verr):
		status = http.StatusBadRequest
		resp.Code = entity.CodeValidation
		resp.Message = "request validation failed"
		resp.Fields = verr.Fields
	case errors.As(err, &denied):
		status = http.StatusBadRequest
		resp.Code = entity.CodeRetryNotAllowed
		resp.Message = denied.Error()
		resp.Remediation = denied.Remediation()
		if denied.Reason == entity.RetryDenyCooldown {
			resp.RetryAfterSeconds = int(math.Ceil(denied.Remaining.Seconds()))
			w.Header().Set("Retry-After", strconv.Itoa(resp.RetryAfterSeconds))
		}
	case errors.Is(err, entity.ErrNotFound):
		status = http.StatusNotFound
		resp.Code = entity.CodeNotFound
		resp.Message = "job not found"
	case errors.Is(err, entity.ErrInvalidState):
		status = http.StatusConflict
		resp.Code = entity.CodeInvalidState
		resp.Message = err.Error()
	default:
		resp.Code = entity.CodeInternal
		resp.Message = "internal error"
		log.WithFields(log.Fields{
			"correlation_id": resp.CorrelationID,
			"path":           r.URL.Path,
		}).WithError(err).Error("request failed")
	}

	writeJSON(w, status, resp)
}
