package service

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"financing-wizard/domain"
)

// PlanTable maps a draft to the backend's financing plan id.
type PlanTable struct {
	ByDownPayment    map[int]int
	Default          int
	AccumulationPlan int
}

func DefaultPlanTable() PlanTable {
	return PlanTable{
		ByDownPayment:    defaultPlanByDownPayment,
		Default:          defaultFinancingPlan,
		AccumulationPlan: defaultAccumulationPlan,
	}
}

// PlanFor returns the plan id for a credit down-payment percentage.
func (t PlanTable) PlanFor(downPaymentPct int) int {
	if plan, ok := t.ByDownPayment[downPaymentPct]; ok {
		return plan
	}
	return t.Default
}

// ModeOf tells which product a backend plan id belongs to.
func (t PlanTable) ModeOf(plan int) (domain.Mode, bool) {
	if plan == t.AccumulationPlan {
		return domain.ModeAccumulation, true
	}
	if plan == t.Default {
		return domain.ModeImmediateCredit, true
	}
	for _, p := range t.ByDownPayment {
		if p == plan {
			return domain.ModeImmediateCredit, true
		}
	}
	return "", false
}

var frequencyTokens = map[string]domain.PaymentFrequency{
	"weekly":    domain.FrequencyWeekly,
	"semanal":   domain.FrequencyWeekly,
	"biweekly":  domain.FrequencyBiweekly,
	"quincenal": domain.FrequencyBiweekly,
	"monthly":   domain.FrequencyMonthly,
	"mensual":   domain.FrequencyMonthly,
}

var employmentTokens = map[string]string{
	"empleado_publico":         "empleado_publico",
	"empleado_privado":         "empleado_privado",
	"independiente":            "independiente",
	"trabajador_independiente": "independiente",
	"empresario":               "empresario",
	"pensionado":               "pensionado",
	"jubilado":                 "pensionado",
	"otro":                     "otro",
}

// foldLabel strips accents and case so "Empleado Público" and
// "empleado_publico" compare equal.
func foldLabel(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	folded = strings.ToLower(strings.TrimSpace(folded))
	return strings.Join(strings.FieldsFunc(folded, func(r rune) bool {
		return r == ' ' || r == '-' || r == '_'
	}), "_")
}

// CanonicalFrequency accepts English tokens and Spanish labels.
func CanonicalFrequency(s string) (domain.PaymentFrequency, bool) {
	f, ok := frequencyTokens[foldLabel(s)]
	return f, ok
}

// CanonicalEmploymentType maps a label or token to the backend token.
func CanonicalEmploymentType(s string) (string, bool) {
	t, ok := employmentTokens[foldLabel(s)]
	return t, ok
}

func money(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2)
}

// BuildWirePayload converts a draft into the exact body of
// POST/PUT /api/financing/requests/.
func BuildWirePayload(d *domain.ApplicationDraft, plans PlanTable) (domain.WirePayload, error) {
	if d == nil || d.Calculation == nil || !d.Calculation.Valid() {
		return domain.WirePayload{}, errors.New("el borrador no tiene un cálculo válido")
	}

	employment := d.Personal.EmploymentType
	if token, ok := CanonicalEmploymentType(employment); ok {
		employment = token
	}

	p := domain.WirePayload{
		Product:         d.Calculation.ProductRef,
		EmploymentType:  employment,
		MonthlyIncome:   money(d.Personal.MonthlyIncome),
		CompanyName:     d.Personal.CompanyName,
		JobPosition:     d.Personal.JobPosition,
		WorkPhone:       d.Personal.WorkPhone,
		YearsEmployed:   d.Personal.YearsEmployed,
		Reference1Name:  d.Personal.Reference1.Name,
		Reference1Phone: d.Personal.Reference1.Phone,
		Reference2Name:  d.Personal.Reference2.Name,
		Reference2Phone: d.Personal.Reference2.Phone,
	}

	switch {
	case d.Calculation.Credit != nil:
		c := d.Calculation.Credit
		pct := int(math.Round(c.DownPaymentPercentage))
		freq := c.PaymentFrequency
		if canonical, ok := CanonicalFrequency(string(freq)); ok {
			freq = canonical
		}
		p.FinancingPlan = plans.PlanFor(pct)
		p.ProductPrice = money(c.VehicleValue)
		p.DownPaymentPercentage = pct
		p.DownPaymentAmount = money(c.DownPaymentAmount)
		p.FinancedAmount = money(c.FinancedAmount)
		p.InterestRate = money(c.InterestRate)
		p.TotalInterest = money(c.TotalInterest)
		p.TotalAmount = money(c.TotalCost)
		p.PaymentFrequency = string(freq)
		p.NumberOfPayments = c.NumberOfPayments
		p.PaymentAmount = money(c.PaymentAmount)
	case d.Calculation.Accumulation != nil:
		a := d.Calculation.Accumulation
		p.FinancingPlan = plans.AccumulationPlan
		p.ProductPrice = money(a.VehicleValue)
		p.DownPaymentPercentage = int(math.Round(a.InitialContributionPct))
		p.DownPaymentAmount = money(a.InitialContribution)
		p.FinancedAmount = money(a.AmountToFinance)
		p.InterestRate = money(0)
		p.TotalInterest = money(0)
		p.TotalAmount = money(a.VehicleValue)
		p.PaymentFrequency = string(domain.FrequencyMonthly)
		p.NumberOfPayments = a.MonthsToAdjudication
		p.PaymentAmount = money(a.MonthlyPayment)
	}
	return p, nil
}

// ParseWirePayload reads a payload back into a credit result and personal
// info. Dates and the schedule are not part of the payload and stay empty.
func ParseWirePayload(p domain.WirePayload) (*domain.CreditResult, domain.PersonalInfo, error) {
	credit := &domain.CreditResult{
		DownPaymentPercentage: float64(p.DownPaymentPercentage),
		NumberOfPayments:      p.NumberOfPayments,
	}
	personal := domain.PersonalInfo{
		EmploymentType: p.EmploymentType,
		CompanyName:    p.CompanyName,
		JobPosition:    p.JobPosition,
		WorkPhone:      p.WorkPhone,
		YearsEmployed:  p.YearsEmployed,
		Reference1:     domain.Reference{Name: p.Reference1Name, Phone: p.Reference1Phone},
		Reference2:     domain.Reference{Name: p.Reference2Name, Phone: p.Reference2Phone},
	}

	amounts := []struct {
		name string
		raw  string
		dst  *float64
	}{
		{"product_price", p.ProductPrice, &credit.VehicleValue},
		{"down_payment_amount", p.DownPaymentAmount, &credit.DownPaymentAmount},
		{"financed_amount", p.FinancedAmount, &credit.FinancedAmount},
		{"interest_rate", p.InterestRate, &credit.InterestRate},
		{"total_interest", p.TotalInterest, &credit.TotalInterest},
		{"total_amount", p.TotalAmount, &credit.TotalCost},
		{"payment_amount", p.PaymentAmount, &credit.PaymentAmount},
		{"monthly_income", p.MonthlyIncome, &personal.MonthlyIncome},
	}
	for _, a := range amounts {
		d, err := decimal.NewFromString(a.raw)
		if err != nil {
			return nil, domain.PersonalInfo{}, fmt.Errorf("%s inválido: %q", a.name, a.raw)
		}
		*a.dst = d.InexactFloat64()
	}

	freq, ok := CanonicalFrequency(p.PaymentFrequency)
	if !ok {
		return nil, domain.PersonalInfo{}, fmt.Errorf("frecuencia de pago inválida: %q", p.PaymentFrequency)
	}
	credit.PaymentFrequency = freq
	credit.TermMonths = int(math.Round(float64(p.NumberOfPayments) * 12 / float64(freq.PeriodsPerYear())))
	return credit, personal, nil
}

// DraftFromRemote rebuilds a draft from an application already stored in the
// backend. The financing plan decides the product; an application on a plan
// the table does not know is not resumed, so a later update cannot change
// its product. Dates and the schedule are regenerated starting now.
func DraftFromRemote(app domain.RemoteApplication, plans PlanTable, now time.Time) (*domain.ApplicationDraft, error) {
	mode, ok := plans.ModeOf(app.FinancingPlan)
	if !ok {
		return nil, fmt.Errorf("la solicitud %d tiene un plan de financiamiento desconocido: %d", app.ID, app.FinancingPlan)
	}
	if app.NumberOfPayments <= 0 || !app.PaymentAmount.IsPositive() {
		return nil, fmt.Errorf("la solicitud %d no tiene un plan de pagos válido", app.ID)
	}

	calc := &domain.CalculationResult{Mode: mode, ProductRef: app.Product}
	if mode == domain.ModeAccumulation {
		calc.Accumulation = accumulationFromRemote(app, now)
	} else {
		calc.Credit = creditFromRemote(app, now)
	}

	id := app.ID
	return &domain.ApplicationDraft{
		CurrentStep: domain.StepReview,
		Calculation: calc,
		Personal: domain.PersonalInfo{
			EmploymentType: app.EmploymentType,
			MonthlyIncome:  app.MonthlyIncome.InexactFloat64(),
			CompanyName:    app.CompanyName,
			JobPosition:    app.JobPosition,
			WorkPhone:      app.WorkPhone,
			YearsEmployed:  app.YearsEmployed.InexactFloat64(),
			Reference1:     domain.Reference{Name: app.Reference1Name, Phone: app.Reference1Phone},
			Reference2:     domain.Reference{Name: app.Reference2Name, Phone: app.Reference2Phone},
		},
		RemoteRequestID: &id,
	}, nil
}

func creditFromRemote(app domain.RemoteApplication, now time.Time) *domain.CreditResult {
	freq, ok := CanonicalFrequency(app.PaymentFrequency)
	if !ok {
		freq = domain.FrequencyMonthly
	}
	n := app.NumberOfPayments
	credit := &domain.CreditResult{
		VehicleValue:          app.ProductPrice.InexactFloat64(),
		DownPaymentAmount:     app.DownPaymentAmount.InexactFloat64(),
		DownPaymentPercentage: app.DownPaymentPercentage.InexactFloat64(),
		FinancedAmount:        app.FinancedAmount.InexactFloat64(),
		InterestRate:          app.InterestRate.InexactFloat64(),
		PaymentFrequency:      freq,
		NumberOfPayments:      n,
		PaymentAmount:         app.PaymentAmount.InexactFloat64(),
		TotalInterest:         app.TotalInterest.InexactFloat64(),
		TotalCost:             app.TotalAmount.InexactFloat64(),
		TermMonths:            int(math.Round(float64(n) * 12 / float64(freq.PeriodsPerYear()))),
	}

	rate := PeriodRate(credit.InterestRate, freq)
	credit.Schedule = BuildSchedule(credit.FinancedAmount, credit.PaymentAmount, rate, n, truncateToDay(now), freq)
	if len(credit.Schedule) > 0 {
		credit.FirstPaymentDate = credit.Schedule[0].DueDate
		credit.PayoffDate = credit.Schedule[len(credit.Schedule)-1].DueDate
	}
	return credit
}

// accumulationFromRemote keeps the stored figures. Points and reduced months
// depend on a punctuality the backend does not store, so none are assumed.
func accumulationFromRemote(app domain.RemoteApplication, now time.Time) *domain.AccumulationResult {
	months := app.NumberOfPayments
	estimated := truncateToDay(now).AddDate(0, months, 0)
	return &domain.AccumulationResult{
		VehicleValue:              app.ProductPrice.InexactFloat64(),
		InitialContribution:       app.DownPaymentAmount.InexactFloat64(),
		InitialContributionPct:    app.DownPaymentPercentage.InexactFloat64(),
		AmountToFinance:           app.FinancedAmount.InexactFloat64(),
		MonthlyPayment:            app.PaymentAmount.InexactFloat64(),
		MonthsToAdjudication:      months,
		EstimatedAdjudicationDate: estimated,
		FinalAdjudicationDate:     estimated,
	}
}
