package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"financing-wizard/domain"
)

// ConfigSource supplies the calculator configuration.
type ConfigSource interface {
	Get(ctx context.Context) (domain.CalculatorConfig, error)
}

// RemoteCalculator posts a calculation to the backend and returns the raw
// response body.
type RemoteCalculator interface {
	Calculate(ctx context.Context, input domain.CalculationInput) ([]byte, error)
}

// PunctualityBonus turns a payment-punctuality profile and the projected
// months of saving into accrued points and months taken off the
// adjudication date.
type PunctualityBonus func(p domain.Punctuality, months int) (points, reducedMonths int)

// BonusRule is the configurable form of PunctualityBonus.
type BonusRule struct {
	PointsPerMonth        map[domain.Punctuality]int
	PointsPerReducedMonth int
	MaxReducedMonths      int
}

func DefaultBonusRule() BonusRule {
	return BonusRule{
		PointsPerMonth: map[domain.Punctuality]int{
			domain.PunctualityEarly:  15,
			domain.PunctualityOnTime: 10,
			domain.PunctualityLate:   0,
		},
		PointsPerReducedMonth: 60,
		MaxReducedMonths:      6,
	}
}

// Func builds the bonus function. At least one month of saving always
// remains before adjudication.
func (r BonusRule) Func() PunctualityBonus {
	return func(p domain.Punctuality, months int) (int, int) {
		points := r.PointsPerMonth[p] * months
		if points <= 0 || r.PointsPerReducedMonth <= 0 {
			return max(points, 0), 0
		}
		reduced := min(points/r.PointsPerReducedMonth, r.MaxReducedMonths, months-1)
		return points, max(reduced, 0)
	}
}

type CalculationService struct {
	config ConfigSource
	remote RemoteCalculator
	bonus  PunctualityBonus
	now    func() time.Time
	logger *logrus.Logger
}

// NewCalculationService creates the calculation engine. remote may be nil
// when only local calculations are needed.
func NewCalculationService(
	config ConfigSource,
	remote RemoteCalculator,
	bonus PunctualityBonus,
	logger *logrus.Logger,
) *CalculationService {
	if bonus == nil {
		bonus = DefaultBonusRule().Func()
	}
	return &CalculationService{
		config: config,
		remote: remote,
		bonus:  bonus,
		now:    time.Now,
		logger: logger,
	}
}

// WithClock fixes "today" for projected dates.
func (s *CalculationService) WithClock(now func() time.Time) *CalculationService {
	s.now = now
	return s
}

// Calculate fetches the configuration and computes the result locally.
func (s *CalculationService) Calculate(
	ctx context.Context,
	input domain.CalculationInput,
) (domain.CalculationResult, error) {
	cfg, err := s.config.Get(ctx)
	if err != nil {
		return domain.CalculationResult{}, fmt.Errorf("configuración de calculadora: %w", err)
	}
	return s.Compute(cfg, input)
}

// Compute is the pure part of the engine: same configuration, same clock and
// same input always produce the same result.
func (s *CalculationService) Compute(
	cfg domain.CalculatorConfig,
	input domain.CalculationInput,
) (domain.CalculationResult, error) {
	mode, err := s.Validate(cfg, input)
	if err != nil {
		return domain.CalculationResult{}, err
	}

	result := domain.CalculationResult{Mode: input.Mode, ProductRef: input.ProductRef}
	switch input.Mode {
	case domain.ModeImmediateCredit:
		result.Credit = s.computeCredit(mode, input)
	case domain.ModeAccumulation:
		acc, err := s.computeAccumulation(mode, input)
		if err != nil {
			return domain.CalculationResult{}, err
		}
		result.Accumulation = acc
	}
	return result, nil
}

// Validate checks the mode-specific preconditions and returns the matching
// mode configuration.
func (s *CalculationService) Validate(
	cfg domain.CalculatorConfig,
	input domain.CalculationInput,
) (domain.ModeConfig, error) {
	if input.Mode == "" {
		return domain.ModeConfig{}, domain.NewValidationError(domain.MissingField, "mode_type", "seleccione una modalidad de financiamiento")
	}
	mode, ok := cfg.Mode(input.Mode)
	if !ok {
		return domain.ModeConfig{}, domain.NewValidationError(domain.UnsupportedCombination, "mode_type",
			fmt.Sprintf("modalidad no disponible: %s", input.Mode))
	}

	if input.ProductPrice <= 0 {
		return mode, domain.NewValidationError(domain.MissingField, "product_price",
			"seleccione un producto o ingrese un precio válido")
	}
	if input.ProductPrice > MaxProductPrice {
		return mode, domain.NewValidationError(domain.OutOfRange, "product_price",
			fmt.Sprintf("el precio excede el máximo permitido de $%.2f", MaxProductPrice))
	}

	switch input.Mode {
	case domain.ModeAccumulation:
		return mode, validateAccumulation(mode, input)
	case domain.ModeImmediateCredit:
		return mode, validateCredit(mode, input)
	}
	return mode, domain.NewValidationError(domain.UnsupportedCombination, "mode_type", "modalidad inválida")
}

func validateAccumulation(mode domain.ModeConfig, input domain.CalculationInput) error {
	pct := input.InitialContributionPercentage
	if pct < mode.MinInitialContribution || pct > mode.MaxInitialContribution {
		return domain.NewValidationError(domain.OutOfRange, "initial_contribution_percentage",
			fmt.Sprintf("el aporte inicial debe estar entre %.0f%% y %.0f%%",
				mode.MinInitialContribution, mode.MaxInitialContribution))
	}
	if input.MonthlyPayment <= 0 {
		return domain.NewValidationError(domain.MissingField, "monthly_payment",
			"ingrese una cuota mensual válida")
	}
	switch input.Punctuality {
	case domain.PunctualityOnTime, domain.PunctualityEarly, domain.PunctualityLate:
	case "":
		return domain.NewValidationError(domain.MissingField, "punctuality", "seleccione su puntualidad de pago")
	default:
		return domain.NewValidationError(domain.OutOfRange, "punctuality",
			fmt.Sprintf("puntualidad inválida: %s", input.Punctuality))
	}
	return nil
}

func validateCredit(mode domain.ModeConfig, input domain.CalculationInput) error {
	if input.DownPaymentPercentage == 0 {
		return domain.NewValidationError(domain.MissingField, "down_payment_percentage",
			"seleccione un porcentaje de inicial")
	}
	if !containsPercentage(mode.DownPaymentOptions, input.DownPaymentPercentage) {
		return domain.NewValidationError(domain.OutOfRange, "down_payment_percentage",
			fmt.Sprintf("porcentaje de inicial no disponible: %.0f%%", input.DownPaymentPercentage))
	}
	if input.TermMonths == 0 {
		return domain.NewValidationError(domain.MissingField, "term_months", "seleccione un plazo")
	}
	if !containsTerm(mode.TermOptions, input.TermMonths) {
		return domain.NewValidationError(domain.OutOfRange, "term_months",
			fmt.Sprintf("plazo no disponible: %d meses", input.TermMonths))
	}
	if input.PaymentFrequency == "" {
		return domain.NewValidationError(domain.MissingField, "payment_frequency", "seleccione la frecuencia de pago")
	}
	if input.PaymentFrequency.PeriodsPerYear() == 0 {
		return domain.NewValidationError(domain.OutOfRange, "payment_frequency",
			fmt.Sprintf("frecuencia de pago inválida: %s", input.PaymentFrequency))
	}
	if mode.InterestRate < 0 || mode.InterestRate > MaxInterestRate {
		return domain.NewValidationError(domain.UnsupportedCombination, "interest_rate",
			"la tasa configurada para esta modalidad es inválida")
	}
	if NumberOfPayments(input.TermMonths, input.PaymentFrequency) < 1 {
		return domain.NewValidationError(domain.UnsupportedCombination, "term_months",
			"el plazo es demasiado corto para la frecuencia seleccionada")
	}
	return nil
}

func (s *CalculationService) computeCredit(mode domain.ModeConfig, input domain.CalculationInput) *domain.CreditResult {
	value := roundTo2Decimals(input.ProductPrice)
	down := roundTo2Decimals(value * input.DownPaymentPercentage / 100)
	financed := roundTo2Decimals(value - down)

	n := NumberOfPayments(input.TermMonths, input.PaymentFrequency)
	rate := PeriodRate(mode.InterestRate, input.PaymentFrequency)
	payment := roundTo2Decimals(InstallmentAmount(financed, rate, n))

	start := truncateToDay(s.now())
	schedule := BuildSchedule(financed, payment, rate, n, start, input.PaymentFrequency)
	paid, interest := ScheduleTotals(schedule)

	credit := &domain.CreditResult{
		VehicleValue:          value,
		DownPaymentAmount:     down,
		DownPaymentPercentage: input.DownPaymentPercentage,
		FinancedAmount:        financed,
		InterestRate:          mode.InterestRate,
		TermMonths:            input.TermMonths,
		PaymentFrequency:      input.PaymentFrequency,
		NumberOfPayments:      len(schedule),
		PaymentAmount:         payment,
		TotalInterest:         interest,
		TotalCost:             roundTo2Decimals(down + paid),
		Schedule:              schedule,
	}
	if len(schedule) > 0 {
		credit.FirstPaymentDate = schedule[0].DueDate
		credit.PayoffDate = schedule[len(schedule)-1].DueDate
	}
	return credit
}

func (s *CalculationService) computeAccumulation(
	mode domain.ModeConfig,
	input domain.CalculationInput,
) (*domain.AccumulationResult, error) {
	value := roundTo2Decimals(input.ProductPrice)
	contribution := roundTo2Decimals(value * input.InitialContributionPercentage / 100)
	toFinance := roundTo2Decimals(value - contribution)

	months := MonthsToTarget(toFinance, input.MonthlyPayment)
	if longest := mode.MaxTerm(); longest > 0 && months > longest {
		return nil, domain.NewValidationError(domain.UnsupportedCombination, "monthly_payment",
			fmt.Sprintf("con esta cuota la adjudicación tomaría %d meses, el máximo es %d", months, longest))
	}

	points, reduced := s.bonus(input.Punctuality, months)
	today := truncateToDay(s.now())
	estimated := today.AddDate(0, months, 0)

	return &domain.AccumulationResult{
		VehicleValue:              value,
		InitialFee:                roundTo2Decimals(value * mode.InitialFeePercentage / 100),
		InitialContribution:       contribution,
		InitialContributionPct:    input.InitialContributionPercentage,
		AmountToFinance:           toFinance,
		MonthlyPayment:            roundTo2Decimals(input.MonthlyPayment),
		MonthsToAdjudication:      months,
		EstimatedAdjudicationDate: estimated,
		AccumulatedPoints:         points,
		ReducedMonths:             reduced,
		FinalAdjudicationDate:     estimated.AddDate(0, -reduced, 0),
		AdjudicationPercentage:    mode.AdjudicationPercentage,
		PostAdjudicationAmount:    roundTo2Decimals(value * (100 - mode.AdjudicationPercentage) / 100),
		Punctuality:               input.Punctuality,
	}, nil
}

func containsPercentage(options []float64, pct float64) bool {
	for _, o := range options {
		if math.Abs(o-pct) < 1e-9 {
			return true
		}
	}
	return false
}

func containsTerm(options []int, term int) bool {
	for _, o := range options {
		if o == term {
			return true
		}
	}
	return false
}

func truncateToDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
