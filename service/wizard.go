package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"financing-wizard/domain"
)

var (
	ErrStaleResponse    = errors.New("respuesta descartada: el formulario cambió de paso")
	ErrAlreadySubmitted = errors.New("la solicitud ya fue enviada")
	ErrNoDraft          = errors.New("no hay un borrador cargado")
)

// Field names accepted by SetField, matching the form and the wire payload.
const (
	FieldEmploymentType      = "employment_type"
	FieldMonthlyIncome       = "monthly_income"
	FieldCompanyName         = "company_name"
	FieldJobPosition         = "job_position"
	FieldWorkPhone           = "work_phone"
	FieldYearsEmployed       = "years_employed"
	FieldReference1Name      = "reference1_name"
	FieldReference1Phone     = "reference1_phone"
	FieldReference2Name      = "reference2_name"
	FieldReference2Phone     = "reference2_phone"
	FieldTermsAccepted       = "terms_accepted"
	FieldDataConsentAccepted = "data_consent_accepted"
)

// StepError lists everything that blocks leaving a step.
type StepError struct {
	Step   domain.Step               `json:"step"`
	Errors []*domain.ValidationError `json:"errors"`
}

func (e *StepError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, v := range e.Errors {
		msgs = append(msgs, v.Message)
	}
	return fmt.Sprintf("paso %s incompleto: %s", e.Step, strings.Join(msgs, "; "))
}

// Ticket identifies the wizard position an async request was issued from.
type Ticket struct {
	Step     domain.Step
	Revision uint64
}

// Wizard is the four-step state machine over one draft. It is the only
// writer of the draft; every mutation is persisted through the store.
type Wizard struct {
	mu        sync.Mutex
	store     *DraftStore
	draft     *domain.ApplicationDraft
	revision  uint64
	submitted bool
	logger    *logrus.Logger
}

func NewWizard(store *DraftStore, logger *logrus.Logger) *Wizard {
	return &Wizard{store: store, logger: logger}
}

// Start loads the initial draft from the store.
func (w *Wizard) Start(ctx context.Context) error {
	draft, err := w.store.LoadInitial(ctx)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.draft = draft
	w.revision++
	w.persist(ctx)
	return nil
}

// StartWith begins a new draft from a calculation made elsewhere.
func (w *Wizard) StartWith(ctx context.Context, draft *domain.ApplicationDraft) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.draft = draft
	if !w.draft.CurrentStep.Valid() {
		w.draft.CurrentStep = domain.StepReview
	}
	w.revision++
	w.persist(ctx)
}

// Draft returns a copy of the current draft.
func (w *Wizard) Draft() *domain.ApplicationDraft {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.draft.Clone()
}

func (w *Wizard) Step() domain.Step {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.draft == nil {
		return 0
	}
	return w.draft.CurrentStep
}

// Submitted reports whether the wizard reached its terminal state.
func (w *Wizard) Submitted() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.submitted
}

// Navigation returns the query string the client should carry.
func (w *Wizard) Navigation() string {
	return w.store.Navigation().Encode()
}

// persist must be called with mu held. A failed save is logged; the draft in
// memory stays authoritative.
func (w *Wizard) persist(ctx context.Context) {
	if err := w.store.Save(ctx, w.draft); err != nil {
		w.logger.WithError(err).WithField("draft_id", w.draft.ID).Warn("No se pudo guardar el borrador")
	}
}

func (w *Wizard) ready() error {
	if w.draft == nil {
		return ErrNoDraft
	}
	if w.submitted {
		return ErrAlreadySubmitted
	}
	return nil
}

// ValidateStep runs the gate of the given step against the current draft.
func (w *Wizard) ValidateStep(step domain.Step) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.draft == nil {
		return ErrNoDraft
	}
	return validateStep(w.draft, step)
}

func validateStep(d *domain.ApplicationDraft, step domain.Step) error {
	var errs []*domain.ValidationError
	switch step {
	case domain.StepReview:
		if d.Calculation == nil || !d.Calculation.Valid() {
			errs = append(errs, domain.NewValidationError(domain.MissingField, "calculation",
				"No hay datos de cálculo disponibles"))
		}
	case domain.StepPersonal:
		if strings.TrimSpace(d.Personal.EmploymentType) == "" {
			errs = append(errs, domain.NewValidationError(domain.MissingField, FieldEmploymentType,
				"Este campo es obligatorio"))
		}
		if d.Personal.MonthlyIncome <= 0 {
			errs = append(errs, domain.NewValidationError(domain.MissingField, FieldMonthlyIncome,
				"Este campo es obligatorio"))
		}
	case domain.StepDocuments:
		// los documentos son opcionales
	case domain.StepConfirm:
		if !d.TermsAccepted {
			errs = append(errs, domain.NewValidationError(domain.MissingField, FieldTermsAccepted,
				"Debe aceptar los términos y condiciones"))
		}
		if !d.DataConsentAccepted {
			errs = append(errs, domain.NewValidationError(domain.MissingField, FieldDataConsentAccepted,
				"Debe autorizar el tratamiento de datos personales"))
		}
	default:
		errs = append(errs, domain.NewValidationError(domain.OutOfRange, "step",
			fmt.Sprintf("paso inválido: %d", step)))
	}
	if len(errs) > 0 {
		return &StepError{Step: step, Errors: errs}
	}
	return nil
}

// Advance moves to the next step if the current one validates. At the last
// step it does nothing.
func (w *Wizard) Advance(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.ready(); err != nil {
		return err
	}
	if w.draft.CurrentStep >= domain.LastStep {
		return nil
	}
	if err := validateStep(w.draft, w.draft.CurrentStep); err != nil {
		return err
	}
	w.draft.CurrentStep++
	w.revision++
	w.persist(ctx)
	return nil
}

// Retreat goes back one step without validating.
func (w *Wizard) Retreat(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.ready(); err != nil {
		return err
	}
	if w.draft.CurrentStep <= domain.FirstStep {
		return nil
	}
	w.draft.CurrentStep--
	w.revision++
	w.persist(ctx)
	return nil
}

// JumpTo places the wizard on step directly, skipping validation. Only a
// draft that resumes an application already stored in the backend may jump.
func (w *Wizard) JumpTo(ctx context.Context, step domain.Step) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.ready(); err != nil {
		return err
	}
	if !step.Valid() {
		return domain.NewValidationError(domain.OutOfRange, "step", fmt.Sprintf("paso inválido: %d", step))
	}
	if w.draft.RemoteRequestID == nil {
		return domain.NewValidationError(domain.UnsupportedCombination, "step",
			"solo se puede saltar de paso al retomar una solicitud existente")
	}
	w.draft.CurrentStep = step
	w.revision++
	w.persist(ctx)
	return nil
}

// SetField updates one personal-info or consent field and validates it.
// Values that parse are stored even when they fail validation, so the form
// keeps what the applicant typed.
func (w *Wizard) SetField(ctx context.Context, name, value string) *domain.ValidationError {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.ready(); err != nil {
		return domain.NewValidationError(domain.UnsupportedCombination, name, err.Error())
	}

	verr := applyField(w.draft, name, value)
	if verr != nil && verr.Kind == domain.UnsupportedCombination {
		return verr
	}
	w.persist(ctx)
	return verr
}

func applyField(d *domain.ApplicationDraft, name, value string) *domain.ValidationError {
	value = strings.TrimSpace(value)
	p := &d.Personal

	switch name {
	case FieldEmploymentType:
		if value == "" {
			p.EmploymentType = ""
			return domain.NewValidationError(domain.MissingField, name, "Este campo es obligatorio")
		}
		token, ok := CanonicalEmploymentType(value)
		if !ok {
			p.EmploymentType = value
			return domain.NewValidationError(domain.OutOfRange, name,
				fmt.Sprintf("Tipo de empleo no reconocido: %s", value))
		}
		p.EmploymentType = token
	case FieldMonthlyIncome:
		if value == "" {
			p.MonthlyIncome = 0
			return domain.NewValidationError(domain.MissingField, name, "Este campo es obligatorio")
		}
		income, err := parseAmount(value)
		if err != nil {
			return domain.NewValidationError(domain.UnsupportedCombination, name, "Ingrese un monto numérico")
		}
		p.MonthlyIncome = income
		if income <= 0 {
			return domain.NewValidationError(domain.OutOfRange, name, "El ingreso mensual debe ser mayor a 0")
		}
	case FieldYearsEmployed:
		if value == "" {
			p.YearsEmployed = 0
			return nil
		}
		years, err := parseAmount(value)
		if err != nil {
			return domain.NewValidationError(domain.UnsupportedCombination, name, "Ingrese un número de años válido")
		}
		p.YearsEmployed = years
		if years < 0 {
			return domain.NewValidationError(domain.OutOfRange, name, "El valor mínimo es 0")
		}
	case FieldCompanyName:
		p.CompanyName = value
	case FieldJobPosition:
		p.JobPosition = value
	case FieldWorkPhone:
		p.WorkPhone = value
		return validatePhone(name, value)
	case FieldReference1Name:
		p.Reference1.Name = value
	case FieldReference1Phone:
		p.Reference1.Phone = value
		return validatePhone(name, value)
	case FieldReference2Name:
		p.Reference2.Name = value
	case FieldReference2Phone:
		p.Reference2.Phone = value
		return validatePhone(name, value)
	case FieldTermsAccepted, FieldDataConsentAccepted:
		accepted, err := strconv.ParseBool(value)
		if err != nil {
			return domain.NewValidationError(domain.UnsupportedCombination, name, "Valor inválido para la casilla")
		}
		if name == FieldTermsAccepted {
			d.TermsAccepted = accepted
		} else {
			d.DataConsentAccepted = accepted
		}
	default:
		return domain.NewValidationError(domain.UnsupportedCombination, name,
			fmt.Sprintf("campo desconocido: %s", name))
	}
	return nil
}

// parseAmount accepts "1500", "1500.50" and "1.500,50".
func parseAmount(s string) (float64, error) {
	s = strings.ReplaceAll(s, " ", "")
	if strings.Contains(s, ",") {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	}
	return strconv.ParseFloat(s, 64)
}

func validatePhone(field, value string) *domain.ValidationError {
	if value == "" {
		return nil
	}
	digits := 0
	for _, r := range value {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case strings.ContainsRune("+-() ", r):
		default:
			return domain.NewValidationError(domain.OutOfRange, field, "El teléfono solo puede contener números")
		}
	}
	if digits < 7 {
		return domain.NewValidationError(domain.OutOfRange, field, "El teléfono debe tener al menos 7 dígitos")
	}
	return nil
}

// StageFiles validates and stages documents. Valid files are added even when
// others in the same batch are rejected.
func (w *Wizard) StageFiles(ctx context.Context, files []IncomingFile) ([]FileRejection, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.ready(); err != nil {
		return nil, err
	}

	var rejected []FileRejection
	staged := 0
	for _, f := range files {
		file, rej := ValidateFile(f)
		if rej != nil {
			rejected = append(rejected, *rej)
			continue
		}
		if len(w.draft.Attachments) >= MaxAttachments {
			rejected = append(rejected, FileRejection{
				Name:    file.Name,
				Kind:    domain.UnsupportedCombination,
				Message: fmt.Sprintf("Solo se permiten %d documentos por solicitud", MaxAttachments),
			})
			continue
		}
		w.draft.Attachments = append(w.draft.Attachments, file)
		staged++
	}

	for _, r := range rejected {
		w.logger.WithFields(logrus.Fields{
			"draft_id": w.draft.ID,
			"file":     r.Name,
			"kind":     r.Kind,
		}).Info("Documento rechazado")
	}
	if staged > 0 {
		w.persist(ctx)
	}
	return rejected, nil
}

// RemoveFile drops a staged document by position.
func (w *Wizard) RemoveFile(ctx context.Context, index int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.ready(); err != nil {
		return err
	}
	if index < 0 || index >= len(w.draft.Attachments) {
		return domain.NewValidationError(domain.OutOfRange, "documents",
			fmt.Sprintf("no existe el documento %d", index))
	}
	if index < w.draft.UploadedCount {
		return domain.NewValidationError(domain.UnsupportedCombination, "documents",
			"El documento ya fue enviado y no puede eliminarse")
	}
	w.draft.Attachments = append(w.draft.Attachments[:index], w.draft.Attachments[index+1:]...)
	w.persist(ctx)
	return nil
}

// Begin issues a ticket for an async request started from the current step.
func (w *Wizard) Begin() Ticket {
	w.mu.Lock()
	defer w.mu.Unlock()
	t := Ticket{Revision: w.revision}
	if w.draft != nil {
		t.Step = w.draft.CurrentStep
	}
	return t
}

// Apply runs fn on the draft only if the wizard is still where the ticket
// was issued; otherwise the response is discarded. Applying consumes the
// revision, so of two overlapping responses only the first lands.
func (w *Wizard) Apply(ctx context.Context, t Ticket, fn func(*domain.ApplicationDraft) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.draft == nil {
		return ErrNoDraft
	}
	if t.Revision != w.revision || t.Step != w.draft.CurrentStep {
		w.logger.WithFields(logrus.Fields{
			"ticket_step":  t.Step,
			"current_step": w.draft.CurrentStep,
		}).Debug("Respuesta obsoleta descartada")
		return ErrStaleResponse
	}
	if err := fn(w.draft); err != nil {
		return err
	}
	w.revision++
	w.persist(ctx)
	return nil
}

// Snapshot is the copy the submission pipeline works on.
func (w *Wizard) Snapshot() *domain.ApplicationDraft {
	return w.Draft()
}

// RecordRemoteID stores the id the backend assigned, so a retry updates the
// same application instead of creating another one.
func (w *Wizard) RecordRemoteID(ctx context.Context, id int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.draft == nil {
		return ErrNoDraft
	}
	w.draft.RemoteRequestID = &id
	if err := w.store.Save(ctx, w.draft); err != nil {
		w.logger.WithError(err).WithField("remote_request_id", id).
			Warn("No se pudo guardar el id remoto del borrador")
	}
	return nil
}

// RecordUploaded marks the first count attachments as already sent.
func (w *Wizard) RecordUploaded(ctx context.Context, count int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.draft == nil {
		return ErrNoDraft
	}
	w.draft.UploadedCount = min(count, len(w.draft.Attachments))
	return w.store.Save(ctx, w.draft)
}

// MarkSubmitted moves the wizard to its terminal state and clears the draft
// from both persistence channels.
func (w *Wizard) MarkSubmitted(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.submitted = true
	w.revision++
	return w.store.Clear(ctx)
}

// Abandon discards the draft at the applicant's request.
func (w *Wizard) Abandon(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.draft = nil
	w.revision++
	return w.store.Clear(ctx)
}
