package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"financing-wizard/domain"
)

type SubmissionStage string

const (
	StageNormalize SubmissionStage = "normalize"
	StageCreate    SubmissionStage = "create"
	StageUpdate    SubmissionStage = "update"
	StageUpload    SubmissionStage = "upload"
	StageSubmit    SubmissionStage = "submit"
)

const (
	msgNetwork    = "No se pudo conectar con el servidor. Verifique su conexión e intente nuevamente."
	msgSession    = "Su sesión ha expirado. Inicie sesión nuevamente."
	msgStaleToken = "Token de seguridad inválido. Recargue la página."
	msgCanceled   = "La operación fue cancelada."
	msgUnexpected = "Ocurrió un error inesperado. Sus datos se conservan, intente nuevamente."
)

// SubmissionError is a classified failure of one stage of the submission
// pipeline. Message is safe to show to the applicant.
type SubmissionError struct {
	Stage       SubmissionStage     `json:"stage"`
	Retryable   bool                `json:"retryable"`
	Message     string              `json:"message"`
	RedirectTo  string              `json:"redirect_to,omitempty"`
	FieldErrors map[string][]string `json:"field_errors,omitempty"`
	Err         error               `json:"-"`
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("envío (%s): %v", e.Stage, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// PartialSubmissionError means the application exists remotely but a later
// stage failed. Retrying updates RemoteRequestID instead of creating another.
type PartialSubmissionError struct {
	RemoteRequestID int
	Cause           *SubmissionError
}

func (e *PartialSubmissionError) Error() string {
	return fmt.Sprintf("solicitud %d creada pero incompleta: %v", e.RemoteRequestID, e.Cause)
}

func (e *PartialSubmissionError) Unwrap() error { return e.Cause }

// classifySubmissionError maps a stage failure onto the error taxonomy.
func classifySubmissionError(stage SubmissionStage, err error) *SubmissionError {
	se := &SubmissionError{Stage: stage, Err: err}

	var (
		netErr  *domain.NetworkError
		authErr *domain.AuthError
		valErr  *domain.BackendValidationError
	)
	switch {
	case errors.As(err, &valErr):
		se.Message = valErr.Message()
		se.FieldErrors = valErr.Fields
	case errors.As(err, &authErr):
		if authErr.Status == http.StatusForbidden {
			se.Message = msgStaleToken
		} else {
			se.Message = msgSession
			se.RedirectTo = authErr.RedirectTo
		}
	case errors.As(err, &netErr):
		se.Retryable = true
		se.Message = msgNetwork
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		se.Retryable = true
		se.Message = msgCanceled
	default:
		se.Retryable = true
		se.Message = msgUnexpected
	}
	return se
}

// UserMessage returns what to show the applicant for any error coming out of
// the wizard or the pipeline.
func UserMessage(err error) string {
	var (
		partial *PartialSubmissionError
		subErr  *SubmissionError
		stepErr *StepError
		valErr  *domain.ValidationError
		netErr  *domain.NetworkError
		authErr *domain.AuthError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &partial):
		return partial.Cause.Message
	case errors.As(err, &subErr):
		return subErr.Message
	case errors.As(err, &stepErr):
		if len(stepErr.Errors) > 0 {
			return stepErr.Errors[0].Message
		}
	case errors.As(err, &valErr):
		return valErr.Message
	case errors.As(err, &netErr):
		return msgNetwork
	case errors.As(err, &authErr):
		if authErr.Status == http.StatusForbidden {
			return msgStaleToken
		}
		return msgSession
	case errors.Is(err, ErrDraftNotFound), errors.Is(err, ErrAlreadySubmitted), errors.Is(err, ErrStaleResponse):
		return err.Error()
	}
	return msgUnexpected
}
