package service

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"financing-wizard/domain"
	"financing-wizard/repository"
)

// SubmissionTarget is the side of the wizard the pipeline talks to: it reads
// a copy of the draft and reports progress back.
type SubmissionTarget interface {
	Snapshot() *domain.ApplicationDraft
	RecordRemoteID(ctx context.Context, id int) error
	RecordUploaded(ctx context.Context, count int) error
	MarkSubmitted(ctx context.Context) error
	Submitted() bool
}

type SubmissionService struct {
	apps    repository.ApplicationRepository
	plans   PlanTable
	group   singleflight.Group
	timeout time.Duration
	logger  *logrus.Logger
}

func NewSubmissionService(
	apps repository.ApplicationRepository,
	plans PlanTable,
	logger *logrus.Logger,
) *SubmissionService {
	return &SubmissionService{apps: apps, plans: plans, timeout: DefaultSubmissionTimeout, logger: logger}
}

// WithTimeout bounds a whole submission, all backend stages included.
func (s *SubmissionService) WithTimeout(d time.Duration) *SubmissionService {
	if d > 0 {
		s.timeout = d
	}
	return s
}

// Submit sends the draft: create or update, upload documents, submit. A
// second call for the same draft while one is in flight waits for the first
// and gets its result. The shared work is detached from the caller that
// started it: a client that disconnects only stops waiting.
func (s *SubmissionService) Submit(ctx context.Context, target SubmissionTarget) (int, error) {
	draft := target.Snapshot()
	if draft == nil {
		return 0, ErrNoDraft
	}

	ch := s.group.DoChan(draft.ID, func() (interface{}, error) {
		if target.Submitted() {
			return 0, ErrAlreadySubmitted
		}
		work, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		// se relee el borrador: una llamada previa pudo haber guardado el id remoto
		return s.submit(work, target, target.Snapshot())
	})

	select {
	case <-ctx.Done():
		s.logger.WithField("draft_id", draft.ID).Warn("El cliente dejó de esperar el envío en curso")
		return 0, ctx.Err()
	case res := <-ch:
		if res.Shared {
			s.logger.WithField("draft_id", draft.ID).Debug("Envío concurrente unido al envío en curso")
		}
		if res.Err != nil {
			return 0, res.Err
		}
		return res.Val.(int), nil
	}
}

func (s *SubmissionService) submit(
	ctx context.Context,
	target SubmissionTarget,
	draft *domain.ApplicationDraft,
) (int, error) {
	log := s.logger.WithField("draft_id", draft.ID)

	if draft.CurrentStep != domain.StepConfirm {
		return 0, domain.NewValidationError(domain.UnsupportedCombination, "step",
			"La solicitud solo puede enviarse desde el paso de confirmación")
	}
	for _, step := range []domain.Step{domain.StepReview, domain.StepPersonal, domain.StepConfirm} {
		if err := validateStep(draft, step); err != nil {
			return 0, err
		}
	}

	payload, err := BuildWirePayload(draft, s.plans)
	if err != nil {
		return 0, classifySubmissionError(StageNormalize, err)
	}

	var id int
	if draft.RemoteRequestID != nil {
		id = *draft.RemoteRequestID
		log = log.WithField("remote_request_id", id)
		if err := s.apps.Update(ctx, id, payload); err != nil {
			return 0, s.partial(log, id, StageUpdate, err)
		}
		log.Info("Solicitud existente actualizada")
	} else {
		id, err = s.apps.Create(ctx, payload)
		if err != nil {
			se := classifySubmissionError(StageCreate, err)
			log.WithError(err).WithField("retryable", se.Retryable).Error("Error creando la solicitud")
			return 0, se
		}
		log = log.WithField("remote_request_id", id)
		if err := target.RecordRemoteID(ctx, id); err != nil {
			log.WithError(err).Warn("No se pudo registrar el id remoto en el borrador")
		}
		log.Info("Solicitud creada")
	}

	pending := draft.Attachments
	if draft.UploadedCount > 0 && draft.UploadedCount <= len(pending) {
		pending = pending[draft.UploadedCount:]
	}
	if len(pending) > 0 {
		if err := s.apps.UploadDocuments(ctx, id, pending); err != nil {
			return 0, s.partial(log, id, StageUpload, err)
		}
		if err := target.RecordUploaded(ctx, len(draft.Attachments)); err != nil {
			log.WithError(err).Warn("No se pudo registrar la carga de documentos")
		}
		log.WithField("documents", len(pending)).Info("Documentos cargados")
	}

	if err := s.apps.Submit(ctx, id); err != nil {
		return 0, s.partial(log, id, StageSubmit, err)
	}

	if err := target.MarkSubmitted(ctx); err != nil {
		log.WithError(err).Warn("Solicitud enviada pero no se pudo limpiar el borrador")
	}
	log.Info("Solicitud enviada")
	return id, nil
}

func (s *SubmissionService) partial(log *logrus.Entry, id int, stage SubmissionStage, err error) error {
	se := classifySubmissionError(stage, err)
	log.WithError(err).WithFields(logrus.Fields{
		"stage":     stage,
		"retryable": se.Retryable,
	}).Error("Envío incompleto")
	return &PartialSubmissionError{RemoteRequestID: id, Cause: se}
}

// IsRetryable reports whether the applicant can simply try again.
func IsRetryable(err error) bool {
	var partial *PartialSubmissionError
	if errors.As(err, &partial) {
		return partial.Cause.Retryable
	}
	var se *SubmissionError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}
