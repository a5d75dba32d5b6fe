package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"financing-wizard/domain"
)

// Operation names, used to count calls and to inject failures.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpUpload = "upload"
	OpSubmit = "submit"
)

type storedApplication struct {
	payload   domain.WirePayload
	documents []domain.StagedFile
	submitted bool
}

// ApplicationRepositoryMemory is an in-memory implementation of
// ApplicationRepository, used in offline mode.
type ApplicationRepositoryMemory struct {
	mu       sync.Mutex
	nextID   int
	data     map[int]*storedApplication
	calls    map[string]int
	failures map[string][]error
}

func NewApplicationRepositoryMemory() *ApplicationRepositoryMemory {
	return &ApplicationRepositoryMemory{
		nextID:   1,
		data:     make(map[int]*storedApplication),
		calls:    make(map[string]int),
		failures: make(map[string][]error),
	}
}

// FailNext makes the next call of op return err.
func (r *ApplicationRepositoryMemory) FailNext(op string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[op] = append(r.failures[op], err)
}

// Calls returns how many times op was invoked, failed calls included.
func (r *ApplicationRepositoryMemory) Calls(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[op]
}

// Documents returns the files uploaded for id.
func (r *ApplicationRepositoryMemory) Documents(id int) []domain.StagedFile {
	r.mu.Lock()
	defer r.mu.Unlock()
	if app, ok := r.data[id]; ok {
		return append([]domain.StagedFile(nil), app.documents...)
	}
	return nil
}

// Submitted reports whether id went through the submit step.
func (r *ApplicationRepositoryMemory) Submitted(id int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	app, ok := r.data[id]
	return ok && app.submitted
}

// must be called with mu held
func (r *ApplicationRepositoryMemory) record(op string) error {
	r.calls[op]++
	if queued := r.failures[op]; len(queued) > 0 {
		r.failures[op] = queued[1:]
		return queued[0]
	}
	return nil
}

func (r *ApplicationRepositoryMemory) Get(_ context.Context, id int) (domain.RemoteApplication, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	app, ok := r.data[id]
	if !ok {
		return domain.RemoteApplication{}, ErrApplicationNotFound
	}
	return toRemote(id, app), nil
}

func (r *ApplicationRepositoryMemory) Create(_ context.Context, payload domain.WirePayload) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.record(OpCreate); err != nil {
		return 0, err
	}
	id := r.nextID
	r.nextID++
	r.data[id] = &storedApplication{payload: payload}
	return id, nil
}

func (r *ApplicationRepositoryMemory) Update(_ context.Context, id int, payload domain.WirePayload) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.record(OpUpdate); err != nil {
		return err
	}
	app, ok := r.data[id]
	if !ok {
		return ErrApplicationNotFound
	}
	if app.submitted {
		return fmt.Errorf("la solicitud %d ya fue enviada", id)
	}
	app.payload = payload
	return nil
}

func (r *ApplicationRepositoryMemory) UploadDocuments(_ context.Context, id int, files []domain.StagedFile) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.record(OpUpload); err != nil {
		return err
	}
	app, ok := r.data[id]
	if !ok {
		return ErrApplicationNotFound
	}
	app.documents = append(app.documents, files...)
	return nil
}

func (r *ApplicationRepositoryMemory) Submit(_ context.Context, id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.record(OpSubmit); err != nil {
		return err
	}
	app, ok := r.data[id]
	if !ok {
		return ErrApplicationNotFound
	}
	app.submitted = true
	return nil
}

func toRemote(id int, app *storedApplication) domain.RemoteApplication {
	p := app.payload
	status := "draft"
	if app.submitted {
		status = "submitted"
	}
	return domain.RemoteApplication{
		ID:                    id,
		ApplicationNumber:     fmt.Sprintf("SOL-%06d", id),
		Status:                status,
		Product:               p.Product,
		FinancingPlan:         p.FinancingPlan,
		ProductPrice:          parseDecimal(p.ProductPrice),
		DownPaymentPercentage: decimal.NewFromInt(int64(p.DownPaymentPercentage)),
		DownPaymentAmount:     parseDecimal(p.DownPaymentAmount),
		FinancedAmount:        parseDecimal(p.FinancedAmount),
		InterestRate:          parseDecimal(p.InterestRate),
		TotalInterest:         parseDecimal(p.TotalInterest),
		TotalAmount:           parseDecimal(p.TotalAmount),
		PaymentFrequency:      p.PaymentFrequency,
		NumberOfPayments:      p.NumberOfPayments,
		PaymentAmount:         parseDecimal(p.PaymentAmount),
		EmploymentType:        p.EmploymentType,
		MonthlyIncome:         parseDecimal(p.MonthlyIncome),
		CompanyName:           p.CompanyName,
		JobPosition:           p.JobPosition,
		WorkPhone:             p.WorkPhone,
		YearsEmployed:         decimal.NewFromFloat(p.YearsEmployed),
		Reference1Name:        p.Reference1Name,
		Reference1Phone:       p.Reference1Phone,
		Reference2Name:        p.Reference2Name,
		Reference2Phone:       p.Reference2Phone,
	}
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
