package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"financing-wizard/domain"
	"financing-wizard/service"
)

// apiError is the body of every error response.
type apiError struct {
	Error           string                    `json:"error"`
	Kind            domain.ValidationKind     `json:"kind,omitempty"`
	Field           string                    `json:"field,omitempty"`
	Errors          []*domain.ValidationError `json:"errors,omitempty"`
	FieldErrors     map[string][]string       `json:"field_errors,omitempty"`
	Retryable       bool                      `json:"retryable,omitempty"`
	RedirectTo      string                    `json:"redirect_to,omitempty"`
	RemoteRequestID int                       `json:"remote_request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, logger *logrus.Logger, status int, v interface{}) {
	// Codificar JSON en buffer primero para evitar escribir header si falla
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		logger.WithError(err).Error("Error encoding response")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := buf.WriteTo(w); err != nil {
		logger.WithError(err).Warn("Error writing response")
	}
}

// writeError maps err onto a status code and a message the applicant can read.
func writeError(w http.ResponseWriter, logger *logrus.Logger, err error) {
	body := apiError{Error: service.UserMessage(err)}
	status := http.StatusInternalServerError

	var (
		partial *service.PartialSubmissionError
		subErr  *service.SubmissionError
		stepErr *service.StepError
		valErr  *domain.ValidationError
		netErr  *domain.NetworkError
		authErr *domain.AuthError
	)
	switch {
	case errors.As(err, &partial):
		status = submissionStatus(partial.Cause)
		body.RemoteRequestID = partial.RemoteRequestID
		body.Retryable = partial.Cause.Retryable
		body.FieldErrors = partial.Cause.FieldErrors
		body.RedirectTo = partial.Cause.RedirectTo
	case errors.As(err, &subErr):
		status = submissionStatus(subErr)
		body.Retryable = subErr.Retryable
		body.FieldErrors = subErr.FieldErrors
		body.RedirectTo = subErr.RedirectTo
	case errors.As(err, &stepErr):
		status = http.StatusBadRequest
		body.Errors = stepErr.Errors
	case errors.As(err, &valErr):
		status = http.StatusBadRequest
		body.Kind = valErr.Kind
		body.Field = valErr.Field
	case errors.As(err, &netErr):
		status = http.StatusBadGateway
		body.Retryable = true
	case errors.As(err, &authErr):
		status = authErr.Status
		body.RedirectTo = authErr.RedirectTo
	case errors.Is(err, service.ErrDraftNotFound), errors.Is(err, service.ErrNoDraft):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrNoPlanFits):
		status = http.StatusUnprocessableEntity
		body.Error = err.Error()
	case errors.Is(err, service.ErrAlreadySubmitted), errors.Is(err, service.ErrStaleResponse):
		status = http.StatusConflict
	}

	if status >= http.StatusInternalServerError {
		logger.WithError(err).Error("Error procesando la solicitud")
	}
	writeJSON(w, logger, status, body)
}

func submissionStatus(e *service.SubmissionError) int {
	var authErr *domain.AuthError
	switch {
	case errors.As(e.Err, &authErr):
		return authErr.Status
	case len(e.FieldErrors) > 0, !e.Retryable:
		return http.StatusUnprocessableEntity
	}
	return http.StatusBadGateway
}
