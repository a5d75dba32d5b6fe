package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"financing-wizard/domain"
)

var ErrNoPlanFits = errors.New("ningún plan cumple con la cuota máxima indicada")

// PlanRecommendationService compares every configured combination of down
// payment and term and ranks the ones within the applicant's budget.
type PlanRecommendationService struct {
	calc   *CalculationService
	config ConfigSource
	logger *logrus.Logger
}

func NewPlanRecommendationService(
	calc *CalculationService,
	config ConfigSource,
	logger *logrus.Logger,
) *PlanRecommendationService {
	return &PlanRecommendationService{calc: calc, config: config, logger: logger}
}

// RecommendPlan analiza los planes disponibles y recomienda el óptimo
func (s *PlanRecommendationService) RecommendPlan(
	ctx context.Context,
	input domain.PlanRecommendationInput,
) (domain.PlanRecommendationResult, error) {

	// Validaciones
	if input.ProductPrice <= 0 {
		return domain.PlanRecommendationResult{}, domain.NewValidationError(domain.MissingField, "product_price", "precio inválido")
	}
	if input.MaxPayment <= 0 {
		return domain.PlanRecommendationResult{}, domain.NewValidationError(domain.MissingField, "max_payment", "cuota máxima inválida")
	}
	switch input.Preference {
	case domain.PreferMinimizeInterest, domain.PreferMinimizePayment, domain.PreferBalanced:
	case "":
		input.Preference = domain.PreferBalanced
	default:
		return domain.PlanRecommendationResult{}, domain.NewValidationError(domain.OutOfRange, "preference",
			fmt.Sprintf("preferencia inválida: %s", input.Preference))
	}
	if input.PaymentFrequency == "" {
		input.PaymentFrequency = domain.FrequencyMonthly
	}

	cfg, err := s.config.Get(ctx)
	if err != nil {
		return domain.PlanRecommendationResult{}, fmt.Errorf("configuración de calculadora: %w", err)
	}
	mode, ok := cfg.Mode(domain.ModeImmediateCredit)
	if !ok {
		return domain.PlanRecommendationResult{}, domain.NewValidationError(domain.UnsupportedCombination, "mode_type",
			"crédito inmediato no disponible")
	}

	var candidates []domain.PlanRecommendation
	for _, pct := range mode.DownPaymentOptions {
		for _, term := range mode.TermOptions {
			result, err := s.calc.Compute(cfg, domain.CalculationInput{
				Mode:                  domain.ModeImmediateCredit,
				ProductPrice:          input.ProductPrice,
				DownPaymentPercentage: pct,
				TermMonths:            term,
				PaymentFrequency:      input.PaymentFrequency,
			})
			if err != nil {
				s.logger.WithError(err).WithFields(logrus.Fields{
					"down_payment_percentage": pct,
					"term_months":             term,
				}).Warn("Plan descartado")
				continue
			}
			// Filtrar por cuota máxima
			if result.Credit.PaymentAmount > input.MaxPayment {
				continue
			}
			candidates = append(candidates, domain.PlanRecommendation{
				DownPaymentPercentage: pct,
				TermMonths:            term,
				PaymentAmount:         result.Credit.PaymentAmount,
				TotalInterest:         result.Credit.TotalInterest,
			})
		}
	}
	if len(candidates) == 0 {
		return domain.PlanRecommendationResult{}, ErrNoPlanFits
	}

	scorePlans(candidates, input.Preference)
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	return domain.PlanRecommendationResult{
		Recommended:     candidates[0],
		Recommendations: candidates,
	}, nil
}

// scorePlans puntúa de 0 a 10 cada plan relativo a los demás candidatos
func scorePlans(plans []domain.PlanRecommendation, pref domain.PlanPreference) {
	minInt, maxInt := plans[0].TotalInterest, plans[0].TotalInterest
	minPay, maxPay := plans[0].PaymentAmount, plans[0].PaymentAmount
	minDown, maxDown := plans[0].DownPaymentPercentage, plans[0].DownPaymentPercentage
	for _, p := range plans[1:] {
		minInt, maxInt = min(minInt, p.TotalInterest), max(maxInt, p.TotalInterest)
		minPay, maxPay = min(minPay, p.PaymentAmount), max(maxPay, p.PaymentAmount)
		minDown, maxDown = min(minDown, p.DownPaymentPercentage), max(maxDown, p.DownPaymentPercentage)
	}

	for i := range plans {
		p := &plans[i]
		interestScore := relativeScore(p.TotalInterest, minInt, maxInt)
		paymentScore := relativeScore(p.PaymentAmount, minPay, maxPay)
		downScore := relativeScore(p.DownPaymentPercentage, minDown, maxDown)

		var score float64
		switch pref {
		case domain.PreferMinimizeInterest:
			score = 0.6*interestScore + 0.2*paymentScore + 0.2*downScore
			p.Reason = "Plan optimizado para minimizar el costo total de intereses"
		case domain.PreferMinimizePayment:
			score = 0.2*interestScore + 0.6*paymentScore + 0.2*downScore
			p.Reason = "Plan optimizado para minimizar la cuota"
		default:
			score = 0.4*interestScore + 0.4*paymentScore + 0.2*downScore
			p.Reason = "Balance óptimo entre cuota y costo total"
		}
		p.Score = roundTo2Decimals(score)
	}
}

// relativeScore da 10 al menor valor del rango y 0 al mayor
func relativeScore(v, lo, hi float64) float64 {
	if hi-lo <= 0 {
		return 10
	}
	return 10 * (1 - (v-lo)/(hi-lo))
}
