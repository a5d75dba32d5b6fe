package service

import (
	"context"
	"errors"
	"testing"

	"financing-wizard/domain"
	"financing-wizard/repository"
)

var bgCtx = context.Background()

func newTestWizard(t *testing.T, draft *domain.ApplicationDraft) *Wizard {
	t.Helper()
	store := newTestDraftStore(repository.NewMockCache(), nil, nil)
	wizard := NewWizard(store, testLogger())
	wizard.StartWith(bgCtx, draft)
	return wizard
}

func reviewDraft(t *testing.T) *domain.ApplicationDraft {
	return &domain.ApplicationDraft{ID: "draft-1", CurrentStep: domain.StepReview, Calculation: scenarioACalculation(t)}
}

func documentsDraft(t *testing.T) *domain.ApplicationDraft {
	d := reviewDraft(t)
	d.CurrentStep = domain.StepDocuments
	d.Personal = domain.PersonalInfo{EmploymentType: "empleado_privado", MonthlyIncome: 1200}
	return d
}

func confirmDraft(t *testing.T) *domain.ApplicationDraft {
	d := documentsDraft(t)
	d.CurrentStep = domain.StepConfirm
	d.TermsAccepted = true
	d.DataConsentAccepted = true
	return d
}

// fieldErr avoids a typed nil inside an error interface.
func fieldErr(v *domain.ValidationError) error {
	if v == nil {
		return nil
	}
	return v
}

func TestWizard_AdvanceRequiresValidStep(t *testing.T) {

	wizard := newTestWizard(t, reviewDraft(t))

	if err := wizard.Advance(bgCtx); err != nil {
		t.Fatalf("unexpected error leaving review: %v", err)
	}
	if wizard.Step() != domain.StepPersonal {
		t.Fatalf("expected step 2, got %d", wizard.Step())
	}

	err := wizard.Advance(bgCtx)

	var stepErr *StepError
	if !errors.As(err, &stepErr) {
		t.Fatalf("expected StepError, got %v", err)
	}
	if len(stepErr.Errors) != 2 {
		t.Errorf("expected employment type and income errors, got %d", len(stepErr.Errors))
	}
	if wizard.Step() != domain.StepPersonal {
		t.Errorf("expected to stay on step 2")
	}
}

func TestWizard_ReviewWithoutCalculation(t *testing.T) {

	wizard := newTestWizard(t, &domain.ApplicationDraft{ID: "empty", CurrentStep: domain.StepReview})

	err := wizard.Advance(bgCtx)

	if UserMessage(err) != "No hay datos de cálculo disponibles" {
		t.Errorf("unexpected message %q", UserMessage(err))
	}
}

func TestWizard_FullWalk(t *testing.T) {

	wizard := newTestWizard(t, reviewDraft(t))

	steps := []func() error{
		func() error { return wizard.Advance(bgCtx) },
		func() error { return fieldErr(wizard.SetField(bgCtx, FieldEmploymentType, "Empleado Público")) },
		func() error { return fieldErr(wizard.SetField(bgCtx, FieldMonthlyIncome, "1.500,50")) },
		func() error { return wizard.Advance(bgCtx) },
		func() error { return wizard.Advance(bgCtx) },
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d: unexpected error: %v", i, err)
		}
	}
	if wizard.Step() != domain.StepConfirm {
		t.Fatalf("expected confirm step, got %d", wizard.Step())
	}

	d := wizard.Draft()
	if d.Personal.EmploymentType != "empleado_publico" || d.Personal.MonthlyIncome != 1500.50 {
		t.Errorf("unexpected personal info %+v", d.Personal)
	}
	if err := wizard.Advance(bgCtx); err != nil || wizard.Step() != domain.StepConfirm {
		t.Errorf("advancing on the last step must be a no-op, got %v", err)
	}
	if err := wizard.ValidateStep(domain.StepConfirm); err == nil {
		t.Errorf("expected consents to be required")
	}
}

func TestWizard_RetreatAndJump(t *testing.T) {

	draft := documentsDraft(t)
	remoteID := 31
	draft.RemoteRequestID = &remoteID
	wizard := newTestWizard(t, draft)

	if err := wizard.Retreat(bgCtx); err != nil || wizard.Step() != domain.StepPersonal {
		t.Fatalf("expected step 2 after retreat, got %d (%v)", wizard.Step(), err)
	}
	if err := wizard.JumpTo(bgCtx, domain.StepReview); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := wizard.Retreat(bgCtx); err != nil || wizard.Step() != domain.StepReview {
		t.Errorf("retreat on step 1 must be a no-op")
	}

	var verr *domain.ValidationError
	if err := wizard.JumpTo(bgCtx, domain.Step(7)); !errors.As(err, &verr) || verr.Kind != domain.OutOfRange {
		t.Errorf("expected OUT_OF_RANGE for an invalid step, got %v", err)
	}
}

func TestWizard_JumpRequiresRemoteApplication(t *testing.T) {

	wizard := newTestWizard(t, reviewDraft(t))

	var verr *domain.ValidationError
	err := wizard.JumpTo(bgCtx, domain.StepConfirm)

	if !errors.As(err, &verr) || verr.Kind != domain.UnsupportedCombination {
		t.Fatalf("expected UNSUPPORTED_COMBINATION, got %v", err)
	}
	if wizard.Step() != domain.StepReview {
		t.Errorf("expected the wizard to stay on step 1, got %d", wizard.Step())
	}
}

func TestWizard_SetField(t *testing.T) {

	cases := []struct {
		field    string
		value    string
		wantKind domain.ValidationKind
	}{
		{FieldEmploymentType, "Trabajador Independiente", ""},
		{FieldEmploymentType, "", domain.MissingField},
		{FieldEmploymentType, "astronauta", domain.OutOfRange},
		{FieldMonthlyIncome, "0", domain.OutOfRange},
		{FieldMonthlyIncome, "mucho", domain.UnsupportedCombination},
		{FieldYearsEmployed, "-1", domain.OutOfRange},
		{FieldWorkPhone, "+58 (212) 555-1234", ""},
		{FieldWorkPhone, "12ab", domain.OutOfRange},
		{FieldReference1Phone, "12345", domain.OutOfRange},
		{FieldTermsAccepted, "true", ""},
		{FieldTermsAccepted, "quizás", domain.UnsupportedCombination},
		{"favorite_color", "azul", domain.UnsupportedCombination},
	}

	for _, c := range cases {
		wizard := newTestWizard(t, reviewDraft(t))
		verr := wizard.SetField(bgCtx, c.field, c.value)
		switch {
		case c.wantKind == "" && verr != nil:
			t.Errorf("%s=%q: unexpected error %s", c.field, c.value, verr.Message)
		case c.wantKind != "" && (verr == nil || verr.Kind != c.wantKind):
			t.Errorf("%s=%q: expected %s, got %v", c.field, c.value, c.wantKind, verr)
		}
	}
}

func TestWizard_SetFieldKeepsTypedValue(t *testing.T) {

	wizard := newTestWizard(t, reviewDraft(t))

	if verr := wizard.SetField(bgCtx, FieldMonthlyIncome, "-20"); verr == nil {
		t.Fatalf("expected a validation error")
	}

	if got := wizard.Draft().Personal.MonthlyIncome; got != -20 {
		t.Errorf("expected the typed value to be kept, got %.2f", got)
	}
}

func TestWizard_StaleResponseIsDiscarded(t *testing.T) {

	wizard := newTestWizard(t, reviewDraft(t))
	ticket := wizard.Begin()

	if err := wizard.Advance(bgCtx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	applied := false
	err := wizard.Apply(bgCtx, ticket, func(d *domain.ApplicationDraft) error {
		applied = true
		return nil
	})

	if !errors.Is(err, ErrStaleResponse) || applied {
		t.Errorf("expected ErrStaleResponse, got %v (applied=%v)", err, applied)
	}

	fresh := wizard.Begin()
	err = wizard.Apply(bgCtx, fresh, func(d *domain.ApplicationDraft) error {
		d.Personal.CompanyName = "Concesionaria Norte"
		return nil
	})
	if err != nil || wizard.Draft().Personal.CompanyName != "Concesionaria Norte" {
		t.Errorf("expected a fresh ticket to apply, got %v", err)
	}
}

func TestWizard_OverlappingResponsesApplyOnce(t *testing.T) {

	wizard := newTestWizard(t, reviewDraft(t))
	first := wizard.Begin()
	second := wizard.Begin()

	if err := wizard.Apply(bgCtx, second, func(d *domain.ApplicationDraft) error {
		d.Calculation.Credit.TermMonths = 12
		return nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := wizard.Apply(bgCtx, first, func(d *domain.ApplicationDraft) error {
		d.Calculation.Credit.TermMonths = 18
		return nil
	})

	if !errors.Is(err, ErrStaleResponse) {
		t.Errorf("expected the older response to be discarded, got %v", err)
	}
	if got := wizard.Draft().Calculation.Credit.TermMonths; got != 12 {
		t.Errorf("expected term 12, got %d", got)
	}
}

func TestWizard_RemoveFile(t *testing.T) {

	draft := documentsDraft(t)
	draft.Attachments = []domain.StagedFile{
		{Name: "a.pdf", MimeType: "application/pdf", Content: pdfContent},
		{Name: "b.pdf", MimeType: "application/pdf", Content: pdfContent},
	}
	draft.UploadedCount = 1
	wizard := newTestWizard(t, draft)

	if err := wizard.RemoveFile(bgCtx, 0); err == nil {
		t.Errorf("expected an uploaded document to be kept")
	}
	if err := wizard.RemoveFile(bgCtx, 5); err == nil {
		t.Errorf("expected an out of range index to fail")
	}
	if err := wizard.RemoveFile(bgCtx, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := wizard.Draft().Attachments; len(got) != 1 || got[0].Name != "a.pdf" {
		t.Errorf("unexpected attachments %+v", got)
	}
}

func TestWizard_DraftIsACopy(t *testing.T) {

	wizard := newTestWizard(t, documentsDraft(t))

	d := wizard.Draft()
	d.Personal.MonthlyIncome = 1
	d.Calculation.Credit.PaymentAmount = 1

	again := wizard.Draft()
	if again.Personal.MonthlyIncome != 1200 || again.Calculation.Credit.PaymentAmount != 137.69 {
		t.Errorf("expected the wizard draft to be unaffected by caller changes")
	}
}

func TestWizard_SubmittedIsTerminal(t *testing.T) {

	wizard := newTestWizard(t, confirmDraft(t))

	if err := wizard.MarkSubmitted(bgCtx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := wizard.Retreat(bgCtx); !errors.Is(err, ErrAlreadySubmitted) {
		t.Errorf("expected ErrAlreadySubmitted, got %v", err)
	}
	if wizard.Navigation() != "" {
		t.Errorf("expected navigation cleared, got %q", wizard.Navigation())
	}
}

func TestWizard_Summary(t *testing.T) {

	wizard := newTestWizard(t, confirmDraft(t))

	s := wizard.Summary()

	if s.Step != domain.StepConfirm || len(s.Lines) == 0 {
		t.Fatalf("unexpected summary %+v", s)
	}
	found := map[string]string{}
	for _, l := range s.Lines {
		found[l.Label] = l.Value
	}
	if found["Cuota"] != "$137,69" {
		t.Errorf("expected Cuota $137,69, got %q", found["Cuota"])
	}
	if found["Tipo de empleo"] != "Empleado Privado" {
		t.Errorf("unexpected employment label %q", found["Tipo de empleo"])
	}
	if found["Documentos"] != "Sin documentos adjuntos" {
		t.Errorf("expected empty documents line")
	}
}
