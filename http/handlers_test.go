package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"financing-wizard/domain"
	"financing-wizard/repository"
	"financing-wizard/service"
)

const scenarioA = `{
	"mode_type": "credito",
	"product_price": 4500,
	"down_payment_percentage": 35,
	"term_months": 24,
	"payment_frequency": "monthly"
}`

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestRouter(t *testing.T, limit int) (http.Handler, *repository.ApplicationRepositoryMemory) {
	t.Helper()
	return newTestRouterWithRemote(t, limit, nil)
}

func newTestRouterWithRemote(t *testing.T, limit int, remote service.RemoteCalculator) (http.Handler, *repository.ApplicationRepositoryMemory) {
	t.Helper()
	logger := testLogger()
	config := service.NewStaticConfigProvider(service.DefaultCalculatorConfig(), logger)
	calc := service.NewCalculationService(config, remote, nil, logger)
	plans := service.NewPlanRecommendationService(calc, config, logger)
	apps := repository.NewApplicationRepositoryMemory()
	submission := service.NewSubmissionService(apps, service.DefaultPlanTable(), logger)

	sessions := NewWizardSessions(time.Hour)
	t.Cleanup(sessions.Stop)
	limiter := NewRateLimiter(limit, time.Minute)
	t.Cleanup(limiter.Stop)

	wizard := NewWizardHandler(repository.NewMockCache(), apps, calc, submission, sessions, service.DraftStoreOptions{}, logger)
	router := NewRouter(NewCalculatorHandler(calc, config, plans, logger), wizard, limiter, RouterOptions{}, logger)
	return router, apps
}

func do(t *testing.T, h http.Handler, method, path, contentType string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.AddCookie(&http.Cookie{Name: sessionCookie, Value: "test-session"})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	return do(t, h, method, path, "application/json", strings.NewReader(body))
}

func TestCalculateHandler_OK(t *testing.T) {

	router, _ := newTestRouter(t, 100)

	w := doJSON(t, router, http.MethodPost, "/api/calculator/calculate", scenarioA)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var result domain.CalculationResult
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Credit == nil || result.Credit.PaymentAmount != 137.69 || len(result.Credit.Schedule) != 24 {
		t.Errorf("unexpected result %+v", result.Credit)
	}
}

func TestCalculateHandler_MethodNotAllowed(t *testing.T) {

	router, _ := newTestRouter(t, 100)

	w := do(t, router, http.MethodGet, "/api/calculator/calculate", "", nil)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", w.Code)
	}
}

func TestCalculateHandler_BadRequest(t *testing.T) {

	router, _ := newTestRouter(t, 100)

	w := doJSON(t, router, http.MethodPost, "/api/calculator/calculate", `{invalid-json}`)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestCalculateHandler_UnsupportedMediaType(t *testing.T) {

	router, _ := newTestRouter(t, 100)

	w := do(t, router, http.MethodPost, "/api/calculator/calculate", "text/plain", strings.NewReader(scenarioA))

	if w.Code != http.StatusUnsupportedMediaType {
		t.Errorf("expected 415, got %d", w.Code)
	}
}

func TestCalculateHandler_ValidationError(t *testing.T) {

	router, _ := newTestRouter(t, 100)
	body := strings.Replace(scenarioA, `"down_payment_percentage": 35`, `"down_payment_percentage": 40`, 1)

	w := doJSON(t, router, http.MethodPost, "/api/calculator/calculate", body)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	var resp apiError
	_ = json.NewDecoder(w.Body).Decode(&resp)
	if resp.Kind != domain.OutOfRange || resp.Field != "down_payment_percentage" {
		t.Errorf("unexpected error body %+v", resp)
	}
}

func TestGetConfigHandler(t *testing.T) {

	router, _ := newTestRouter(t, 100)

	w := do(t, router, http.MethodGet, "/api/calculator/config", "", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var cfg domain.CalculatorConfig
	if err := json.NewDecoder(w.Body).Decode(&cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := cfg.Mode(domain.ModeImmediateCredit); !ok {
		t.Errorf("expected the credit mode in the config")
	}
}

func TestRecommendPlanHandler(t *testing.T) {

	router, _ := newTestRouter(t, 100)

	w := doJSON(t, router, http.MethodPost, "/api/calculator/recommend-plan",
		`{"product_price": 4500, "max_payment": 90, "preference": "minimize_payment"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, http.MethodPost, "/api/calculator/recommend-plan", `{"product_price": 4500, "max_payment": 5}`)
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 when nothing fits, got %d", w.Code)
	}
}

func TestRateLimit_Returns429WithRetryAfter(t *testing.T) {

	router, _ := newTestRouter(t, 1)

	first := doJSON(t, router, http.MethodPost, "/api/calculator/calculate", scenarioA)
	second := doJSON(t, router, http.MethodPost, "/api/calculator/calculate", scenarioA)

	if first.Code != http.StatusOK {
		t.Fatalf("expected the first call to pass, got %d", first.Code)
	}
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", second.Code)
	}
	if second.Header().Get("Retry-After") == "" {
		t.Errorf("expected a Retry-After header")
	}
}

func TestWizardHandler_NoDraft(t *testing.T) {

	router, _ := newTestRouter(t, 100)

	w := do(t, router, http.MethodGet, "/api/wizard/", "", nil)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func multipartBody(t *testing.T, files map[string][]byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, content := range files {
		part, err := mw.CreateFormFile("documents", name)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		part.Write(content)
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestWizardHandler_FullFlow(t *testing.T) {

	router, apps := newTestRouter(t, 100)

	w := doJSON(t, router, http.MethodPost, "/api/wizard/start", scenarioA)
	if w.Code != http.StatusOK {
		t.Fatalf("start: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var state wizardState
	json.NewDecoder(w.Body).Decode(&state)
	if state.Step != domain.StepReview || state.DraftID == "" || !strings.Contains(state.Navigation, "calculation=") {
		t.Fatalf("unexpected start state %+v", state)
	}

	if w := do(t, router, http.MethodPost, "/api/wizard/advance", "", nil); w.Code != http.StatusOK {
		t.Fatalf("advance to personal: got %d", w.Code)
	}
	if w := do(t, router, http.MethodPost, "/api/wizard/advance", "", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected personal info to be required, got %d", w.Code)
	}

	w = doJSON(t, router, http.MethodPatch, "/api/wizard/fields",
		`{"employment_type": "Empleado Privado", "monthly_income": "1200"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("fields: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if w := do(t, router, http.MethodPost, "/api/wizard/advance", "", nil); w.Code != http.StatusOK {
		t.Fatalf("advance to documents: got %d", w.Code)
	}

	body, contentType := multipartBody(t, map[string][]byte{
		"cedula.pdf": []byte("%PDF-1.4\n1 0 obj\n<< >>\nendobj\n"),
		"virus.exe":  append([]byte("MZ"), make([]byte, 64)...),
	})
	w = do(t, router, http.MethodPost, "/api/wizard/documents", contentType, body)
	if w.Code != http.StatusOK {
		t.Fatalf("documents: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var docs documentsResponse
	json.NewDecoder(w.Body).Decode(&docs)
	if len(docs.State.Documents) != 1 || len(docs.Rejected) != 1 || docs.Rejected[0].Name != "virus.exe" {
		t.Fatalf("unexpected documents response %+v", docs)
	}

	if w := do(t, router, http.MethodPost, "/api/wizard/advance", "", nil); w.Code != http.StatusOK {
		t.Fatalf("advance to confirm: got %d", w.Code)
	}
	if w := do(t, router, http.MethodPost, "/api/wizard/submit", "", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected consents to be required, got %d", w.Code)
	}
	w = doJSON(t, router, http.MethodPatch, "/api/wizard/fields", `{"terms_accepted": "true", "data_consent_accepted": "true"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("consents: expected 200, got %d", w.Code)
	}

	w = do(t, router, http.MethodPost, "/api/wizard/submit", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("submit: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp submitResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if !apps.Submitted(resp.RemoteRequestID) || len(apps.Documents(resp.RemoteRequestID)) != 1 {
		t.Errorf("expected application %d submitted with one document", resp.RemoteRequestID)
	}

	if w := do(t, router, http.MethodGet, "/api/wizard/", "", nil); w.Code != http.StatusNotFound {
		t.Errorf("expected the draft to be gone after submit, got %d", w.Code)
	}
}

func TestWizardHandler_SubmitPartialFailure(t *testing.T) {

	router, apps := newTestRouter(t, 100)
	apps.FailNext(repository.OpSubmit, &domain.NetworkError{Op: "submit", Err: io.ErrUnexpectedEOF})

	doJSON(t, router, http.MethodPost, "/api/wizard/start", scenarioA)
	doJSON(t, router, http.MethodPatch, "/api/wizard/fields", `{
		"employment_type": "empresario",
		"monthly_income": "900",
		"terms_accepted": "true",
		"data_consent_accepted": "true"
	}`)
	for i := 0; i < 3; i++ {
		if w := do(t, router, http.MethodPost, "/api/wizard/advance", "", nil); w.Code != http.StatusOK {
			t.Fatalf("advance %d: got %d", i+1, w.Code)
		}
	}

	w := do(t, router, http.MethodPost, "/api/wizard/submit", "", nil)

	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", w.Code, w.Body.String())
	}
	var resp apiError
	json.NewDecoder(w.Body).Decode(&resp)
	if !resp.Retryable || resp.RemoteRequestID == 0 {
		t.Errorf("expected a retryable error with the remote id, got %+v", resp)
	}

	w = do(t, router, http.MethodPost, "/api/wizard/submit", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("retry: expected 200, got %d", w.Code)
	}
	if apps.Calls(repository.OpCreate) != 1 {
		t.Errorf("expected a single create, got %d", apps.Calls(repository.OpCreate))
	}
}

func TestWizardHandler_Abandon(t *testing.T) {

	router, _ := newTestRouter(t, 100)
	doJSON(t, router, http.MethodPost, "/api/wizard/start", scenarioA)

	if w := do(t, router, http.MethodDelete, "/api/wizard/", "", nil); w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if w := do(t, router, http.MethodGet, "/api/wizard/", "", nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 after abandon, got %d", w.Code)
	}
}

func TestWizardHandler_JumpRejectedForNewDraft(t *testing.T) {

	router, _ := newTestRouter(t, 100)
	doJSON(t, router, http.MethodPost, "/api/wizard/start", scenarioA)

	w := doJSON(t, router, http.MethodPost, "/api/wizard/jump", `{"step": 4}`)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
	var state wizardState
	json.NewDecoder(do(t, router, http.MethodGet, "/api/wizard/", "", nil).Body).Decode(&state)
	if state.Step != domain.StepReview {
		t.Errorf("expected step 1, got %d", state.Step)
	}
}

// gatedRemote answers like a backend that only echoes the local figures.
// Once closed, it holds each call until the gate opens.
type gatedRemote struct {
	mu      sync.Mutex
	entered chan struct{}
	gate    chan struct{}
}

func (g *gatedRemote) hold() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entered = make(chan struct{})
	g.gate = make(chan struct{})
}

func (g *gatedRemote) Calculate(ctx context.Context, input domain.CalculationInput) ([]byte, error) {
	g.mu.Lock()
	entered, gate := g.entered, g.gate
	g.mu.Unlock()
	if gate != nil {
		close(entered)
		<-gate
	}
	return []byte(`{}`), nil
}

func TestWizardHandler_Recalculate(t *testing.T) {

	router, _ := newTestRouter(t, 100)
	doJSON(t, router, http.MethodPost, "/api/wizard/start", scenarioA)
	body := strings.Replace(scenarioA, `"term_months": 24`, `"term_months": 12`, 1)

	w := doJSON(t, router, http.MethodPost, "/api/wizard/recalculate", body)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var state wizardState
	json.NewDecoder(w.Body).Decode(&state)
	if state.Calculation == nil || state.Calculation.Credit.TermMonths != 12 {
		t.Errorf("expected the new calculation, got %+v", state.Calculation)
	}

	do(t, router, http.MethodPost, "/api/wizard/advance", "", nil)
	if w := doJSON(t, router, http.MethodPost, "/api/wizard/recalculate", body); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 outside the review step, got %d", w.Code)
	}
}

func TestWizardHandler_RecalculateDiscardedWhenStepMoves(t *testing.T) {

	remote := &gatedRemote{}
	router, _ := newTestRouterWithRemote(t, 100, remote)
	if w := doJSON(t, router, http.MethodPost, "/api/wizard/start", scenarioA); w.Code != http.StatusOK {
		t.Fatalf("start: got %d", w.Code)
	}

	remote.hold()
	body := strings.Replace(scenarioA, `"term_months": 24`, `"term_months": 12`, 1)
	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		done <- doJSON(t, router, http.MethodPost, "/api/wizard/recalculate", body)
	}()
	<-remote.entered

	if w := do(t, router, http.MethodPost, "/api/wizard/advance", "", nil); w.Code != http.StatusOK {
		t.Fatalf("advance: got %d", w.Code)
	}
	close(remote.gate)

	if w := <-done; w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for the late answer, got %d: %s", w.Code, w.Body.String())
	}
	var state wizardState
	json.NewDecoder(do(t, router, http.MethodGet, "/api/wizard/", "", nil).Body).Decode(&state)
	if state.Step != domain.StepPersonal || state.Calculation.Credit.TermMonths != 24 {
		t.Errorf("expected step 2 with the original calculation, got step %d term %d",
			state.Step, state.Calculation.Credit.TermMonths)
	}
}
