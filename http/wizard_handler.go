package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"financing-wizard/backend"
	"financing-wizard/domain"
	"financing-wizard/repository"
	"financing-wizard/service"
)

const (
	sessionCookie = "financing_session"
	// holgura para las cabeceras del multipart
	uploadOverhead = 1 << 20
)

type WizardHandler struct {
	cache      repository.CacheRepository
	apps       repository.ApplicationRepository
	calc       *service.CalculationService
	submission *service.SubmissionService
	sessions   *WizardSessions
	storeOpts  service.DraftStoreOptions
	logger     *logrus.Logger
}

func NewWizardHandler(
	cache repository.CacheRepository,
	apps repository.ApplicationRepository,
	calc *service.CalculationService,
	submission *service.SubmissionService,
	sessions *WizardSessions,
	storeOpts service.DraftStoreOptions,
	logger *logrus.Logger,
) *WizardHandler {
	return &WizardHandler{
		cache:      cache,
		apps:       apps,
		calc:       calc,
		submission: submission,
		sessions:   sessions,
		storeOpts:  storeOpts,
		logger:     logger,
	}
}

type documentView struct {
	Name      string `json:"name"`
	SizeBytes int64  `json:"size_bytes"`
	MimeType  string `json:"mime_type"`
	Uploaded  bool   `json:"uploaded"`
}

// wizardState is the draft as the client sees it; file contents stay on the
// server.
type wizardState struct {
	DraftID             string                    `json:"draft_id"`
	Step                domain.Step               `json:"step"`
	StepName            string                    `json:"step_name"`
	Calculation         *domain.CalculationResult `json:"calculation"`
	Personal            domain.PersonalInfo       `json:"personal"`
	Documents           []documentView            `json:"documents"`
	RemoteRequestID     *int                      `json:"remote_request_id,omitempty"`
	TermsAccepted       bool                      `json:"terms_accepted"`
	DataConsentAccepted bool                      `json:"data_consent_accepted"`
	Submitted           bool                      `json:"submitted"`
	Navigation          string                    `json:"navigation"`
	UpdatedAt           time.Time                 `json:"updated_at"`
}

func stateOf(w *service.Wizard) wizardState {
	d := w.Draft()
	if d == nil {
		return wizardState{Submitted: w.Submitted()}
	}
	docs := make([]documentView, 0, len(d.Attachments))
	for i, f := range d.Attachments {
		docs = append(docs, documentView{
			Name:      f.Name,
			SizeBytes: f.SizeBytes,
			MimeType:  f.MimeType,
			Uploaded:  i < d.UploadedCount,
		})
	}
	return wizardState{
		DraftID:             d.ID,
		Step:                d.CurrentStep,
		StepName:            d.CurrentStep.String(),
		Calculation:         d.Calculation,
		Personal:            d.Personal,
		Documents:           docs,
		RemoteRequestID:     d.RemoteRequestID,
		TermsAccepted:       d.TermsAccepted,
		DataConsentAccepted: d.DataConsentAccepted,
		Submitted:           w.Submitted(),
		Navigation:          w.Navigation(),
		UpdatedAt:           d.UpdatedAt,
	}
}

// sessionID reads the session cookie, issuing a new one when missing.
func sessionID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

// withBackendSession forwards the applicant's credentials to the backend
// client.
func withBackendSession(r *http.Request) context.Context {
	access := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer"))
	sess := backend.NewSession(access, r.Header.Get("X-Refresh-Token"), r.Header.Get("X-CSRFToken"))
	return backend.WithSession(r.Context(), sess)
}

func (h *WizardHandler) newWizard(sid string, r *http.Request) *service.Wizard {
	nav := service.NewNavigationContext(r.URL.Query())
	store := service.NewDraftStore(h.cache, h.apps, nav, sid, h.storeOpts, h.logger)
	return service.NewWizard(store, h.logger)
}

// wizardFor returns the live wizard of the session, restoring it from the
// durable cache after a restart or an idle drop.
func (h *WizardHandler) wizardFor(w http.ResponseWriter, r *http.Request) (*service.Wizard, string, error) {
	sid := sessionID(w, r)
	if wiz, ok := h.sessions.get(sid); ok {
		return wiz, sid, nil
	}
	wiz := h.newWizard(sid, r)
	if err := wiz.Start(withBackendSession(r)); err != nil {
		return nil, sid, err
	}
	h.sessions.put(sid, wiz)
	return wiz, sid, nil
}

// Start opens the wizard. With a calculator input in the body it starts a new
// draft from it; otherwise the draft is resolved from the query string
// (calculation, id, step) and the cache.
func (h *WizardHandler) Start(w http.ResponseWriter, r *http.Request) {
	sid := sessionID(w, r)
	wiz := h.newWizard(sid, r)
	ctx := withBackendSession(r)

	body, err := io.ReadAll(io.LimitReader(r.Body, uploadOverhead))
	if err != nil {
		writeJSON(w, h.logger, http.StatusBadRequest, apiError{Error: "invalid request body"})
		return
	}

	if len(strings.TrimSpace(string(body))) > 0 {
		var input domain.CalculationInput
		if err := json.Unmarshal(body, &input); err != nil {
			writeJSON(w, h.logger, http.StatusBadRequest, apiError{Error: "invalid request body"})
			return
		}
		result, err := h.calc.CalculateRemote(ctx, input)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		wiz.StartWith(ctx, &domain.ApplicationDraft{
			ID:          uuid.NewString(),
			CurrentStep: domain.StepReview,
			Calculation: &result,
		})
	} else if err := wiz.Start(ctx); err != nil {
		writeError(w, h.logger, err)
		return
	}

	h.sessions.put(sid, wiz)
	h.logger.WithFields(logrus.Fields{
		"session":  sid,
		"draft_id": wiz.Draft().ID,
		"step":     wiz.Step(),
	}).Info("Asistente de solicitud iniciado")
	writeJSON(w, h.logger, http.StatusOK, stateOf(wiz))
}

func (h *WizardHandler) GetState(w http.ResponseWriter, r *http.Request) {
	wiz, _, err := h.wizardFor(w, r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, stateOf(wiz))
}

func (h *WizardHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	wiz, _, err := h.wizardFor(w, r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, wiz.Summary())
}

type fieldsResponse struct {
	State  wizardState               `json:"state"`
	Errors []*domain.ValidationError `json:"errors,omitempty"`
}

// SetFields applies a batch of form fields. Fields that fail validation are
// reported but the rest are kept.
func (h *WizardHandler) SetFields(w http.ResponseWriter, r *http.Request) {
	wiz, _, err := h.wizardFor(w, r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	var fields map[string]string
	if !decodeJSONBody(w, r, h.logger, &fields) {
		return
	}

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []*domain.ValidationError
	for _, name := range names {
		if verr := wiz.SetField(r.Context(), name, fields[name]); verr != nil {
			errs = append(errs, verr)
		}
	}

	status := http.StatusOK
	if len(errs) > 0 {
		status = http.StatusBadRequest
	}
	writeJSON(w, h.logger, status, fieldsResponse{State: stateOf(wiz), Errors: errs})
}

func (h *WizardHandler) Advance(w http.ResponseWriter, r *http.Request) {
	h.move(w, r, func(wiz *service.Wizard) error { return wiz.Advance(r.Context()) })
}

func (h *WizardHandler) Retreat(w http.ResponseWriter, r *http.Request) {
	h.move(w, r, func(wiz *service.Wizard) error { return wiz.Retreat(r.Context()) })
}

func (h *WizardHandler) Jump(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Step domain.Step `json:"step"`
	}
	if !decodeJSONBody(w, r, h.logger, &body) {
		return
	}
	h.move(w, r, func(wiz *service.Wizard) error { return wiz.JumpTo(r.Context(), body.Step) })
}

// Recalculate prices a new calculation for the draft under review. The
// backend answer is applied only if the wizard did not move while it was in
// flight; a late answer gets 409.
func (h *WizardHandler) Recalculate(w http.ResponseWriter, r *http.Request) {
	var input domain.CalculationInput
	if !decodeJSONBody(w, r, h.logger, &input) {
		return
	}
	wiz, _, err := h.wizardFor(w, r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	ticket := wiz.Begin()
	if ticket.Step != domain.StepReview {
		writeError(w, h.logger, domain.NewValidationError(domain.UnsupportedCombination, "step",
			"el cálculo solo se puede modificar en el paso de revisión"))
		return
	}

	result, err := h.calc.CalculateRemote(withBackendSession(r), input)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	err = wiz.Apply(r.Context(), ticket, func(d *domain.ApplicationDraft) error {
		d.Calculation = &result
		return nil
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, stateOf(wiz))
}

func (h *WizardHandler) move(w http.ResponseWriter, r *http.Request, fn func(*service.Wizard) error) {
	wiz, _, err := h.wizardFor(w, r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := fn(wiz); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, stateOf(wiz))
}

type documentsResponse struct {
	State    wizardState             `json:"state"`
	Rejected []service.FileRejection `json:"rejected,omitempty"`
}

// UploadDocuments stages the files of the "documents" multipart field.
func (h *WizardHandler) UploadDocuments(w http.ResponseWriter, r *http.Request) {
	wiz, _, err := h.wizardFor(w, r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	// se admite un archivo por encima del límite para poder informarlo
	r.Body = http.MaxBytesReader(w, r.Body, service.MaxAttachments*service.MaxFileSizeBytes+uploadOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeJSON(w, h.logger, http.StatusRequestEntityTooLarge, apiError{
				Error: "Los documentos exceden el tamaño total permitido",
				Kind:  domain.FileTooLarge,
			})
			return
		}
		writeJSON(w, h.logger, http.StatusBadRequest, apiError{Error: "Formulario de documentos inválido"})
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["documents"]
	if len(headers) == 0 {
		writeJSON(w, h.logger, http.StatusBadRequest, apiError{
			Error: "Seleccione al menos un documento",
			Kind:  domain.MissingField,
			Field: "documents",
		})
		return
	}

	files := make([]service.IncomingFile, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			writeJSON(w, h.logger, http.StatusBadRequest, apiError{Error: "No se pudo leer " + fh.Filename})
			return
		}
		content, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			writeJSON(w, h.logger, http.StatusBadRequest, apiError{Error: "No se pudo leer " + fh.Filename})
			return
		}
		files = append(files, service.IncomingFile{Name: fh.Filename, Content: content})
	}

	rejected, err := wiz.StageFiles(r.Context(), files)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	status := http.StatusOK
	if len(rejected) == len(files) {
		status = http.StatusBadRequest
	}
	writeJSON(w, h.logger, status, documentsResponse{State: stateOf(wiz), Rejected: rejected})
}

func (h *WizardHandler) RemoveDocument(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeJSON(w, h.logger, http.StatusBadRequest, apiError{Error: "índice de documento inválido"})
		return
	}
	h.move(w, r, func(wiz *service.Wizard) error { return wiz.RemoveFile(r.Context(), index) })
}

type submitResponse struct {
	RemoteRequestID int    `json:"remote_request_id"`
	Message         string `json:"message"`
}

// Submit runs the submission pipeline with the applicant's credentials. On
// a partial failure the draft keeps the remote id, so calling it again
// updates the same application.
func (h *WizardHandler) Submit(w http.ResponseWriter, r *http.Request) {
	wiz, sid, err := h.wizardFor(w, r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	id, err := h.submission.Submit(withBackendSession(r), wiz)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	h.sessions.drop(sid)
	writeJSON(w, h.logger, http.StatusOK, submitResponse{
		RemoteRequestID: id,
		Message:         "Solicitud enviada exitosamente",
	})
}

func (h *WizardHandler) Abandon(w http.ResponseWriter, r *http.Request) {
	sid := sessionID(w, r)
	wiz, ok := h.sessions.get(sid)
	if !ok {
		wiz = h.newWizard(sid, r)
	}
	if err := wiz.Abandon(r.Context()); err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.sessions.drop(sid)
	w.WriteHeader(http.StatusNoContent)
}
