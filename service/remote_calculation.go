package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"financing-wizard/domain"
)

// CalculateRemote asks the backend to price the plan. The input is validated
// locally first, so an invalid combination never reaches the network. The
// backend answer is normalized into the same tagged result Calculate returns;
// the local computation fills anything the backend leaves out.
func (s *CalculationService) CalculateRemote(
	ctx context.Context,
	input domain.CalculationInput,
) (domain.CalculationResult, error) {
	cfg, err := s.config.Get(ctx)
	if err != nil {
		return domain.CalculationResult{}, fmt.Errorf("configuración de calculadora: %w", err)
	}
	local, err := s.Compute(cfg, input)
	if err != nil {
		return domain.CalculationResult{}, err
	}
	if s.remote == nil {
		return local, nil
	}

	body, err := s.remote.Calculate(ctx, input)
	if err != nil {
		return domain.CalculationResult{}, err
	}

	result, err := NormalizeRemoteResult(body, local)
	if err != nil {
		s.logger.WithError(err).Warn("Respuesta de cálculo remoto no reconocida, se usa el cálculo local")
		return local, nil
	}
	if local.Credit != nil && math.Abs(local.Credit.PaymentAmount-result.Credit.PaymentAmount) > BalanceTolerance {
		s.logger.WithFields(logrus.Fields{
			"local_payment":  local.Credit.PaymentAmount,
			"remote_payment": result.Credit.PaymentAmount,
		}).Warn("El backend calculó una cuota distinta a la local")
	}
	return result, nil
}

// looseObject reads a JSON object whose field names vary between backend
// versions.
type looseObject map[string]json.RawMessage

func (o looseObject) raw(keys ...string) (json.RawMessage, bool) {
	for _, k := range keys {
		if v, ok := o[k]; ok && len(v) > 0 && string(v) != "null" {
			return v, true
		}
	}
	return nil, false
}

func (o looseObject) number(fallback float64, keys ...string) float64 {
	v, ok := o.raw(keys...)
	if !ok {
		return fallback
	}
	var d decimal.Decimal
	if err := json.Unmarshal(v, &d); err != nil {
		return fallback
	}
	return d.InexactFloat64()
}

func (o looseObject) integer(fallback int, keys ...string) int {
	f := o.number(math.NaN(), keys...)
	if math.IsNaN(f) {
		return fallback
	}
	return int(math.Round(f))
}

func (o looseObject) text(fallback string, keys ...string) string {
	v, ok := o.raw(keys...)
	if !ok {
		return fallback
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil || s == "" {
		return fallback
	}
	return s
}

func (o looseObject) date(fallback time.Time, keys ...string) time.Time {
	s := o.text("", keys...)
	if s == "" {
		return fallback
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return fallback
}

// NormalizeRemoteResult converts the backend's calculate response into the
// tagged result. The response may be flat or wrapped in a "calculation"
// object, and amounts may be quoted or bare. base supplies the mode and any
// field the backend omits.
func NormalizeRemoteResult(body []byte, base domain.CalculationResult) (domain.CalculationResult, error) {
	var obj looseObject
	if err := json.Unmarshal(body, &obj); err != nil {
		return domain.CalculationResult{}, fmt.Errorf("respuesta inválida: %w", err)
	}
	if inner, ok := obj.raw("calculation", "result"); ok {
		var nested looseObject
		if err := json.Unmarshal(inner, &nested); err == nil {
			obj = nested
		}
	}
	if success, ok := obj.raw("success"); ok && strings.TrimSpace(string(success)) == "false" {
		return domain.CalculationResult{}, fmt.Errorf("el backend rechazó el cálculo: %s", obj.text("", "error", "message"))
	}

	out := domain.CalculationResult{Mode: base.Mode, ProductRef: base.ProductRef}
	switch {
	case base.Credit != nil:
		c := *base.Credit
		c.VehicleValue = obj.number(c.VehicleValue, "vehicle_value", "product_price")
		c.DownPaymentAmount = obj.number(c.DownPaymentAmount, "down_payment_amount", "initial_amount", "down_payment")
		c.DownPaymentPercentage = obj.number(c.DownPaymentPercentage, "down_payment_percentage", "initial_percentage")
		c.FinancedAmount = obj.number(c.FinancedAmount, "financed_amount", "remaining_amount", "amount_to_finance")
		c.InterestRate = obj.number(c.InterestRate, "interest_rate", "annual_interest_rate")
		c.PaymentAmount = obj.number(c.PaymentAmount, "payment_amount", "monthly_payment", "installment")
		c.TotalInterest = obj.number(c.TotalInterest, "total_interest")
		c.TotalCost = obj.number(c.TotalCost, "total_cost", "total_amount")
		c.NumberOfPayments = obj.integer(c.NumberOfPayments, "number_of_payments")
		c.TermMonths = obj.integer(c.TermMonths, "term_months", "term")
		c.FirstPaymentDate = obj.date(c.FirstPaymentDate, "first_payment_date")
		c.PayoffDate = obj.date(c.PayoffDate, "payoff_date", "last_payment_date")
		if c.PaymentAmount <= 0 || c.FinancedAmount < 0 {
			return domain.CalculationResult{}, fmt.Errorf("cuota remota inválida: %.2f", c.PaymentAmount)
		}
		if c.PaymentAmount != base.Credit.PaymentAmount || c.FinancedAmount != base.Credit.FinancedAmount {
			c.Schedule = RebuildSchedule(&c)
		}
		out.Credit = &c
	case base.Accumulation != nil:
		a := *base.Accumulation
		a.VehicleValue = obj.number(a.VehicleValue, "vehicle_value", "product_price")
		a.InitialFee = obj.number(a.InitialFee, "initial_fee")
		a.InitialContribution = obj.number(a.InitialContribution, "initial_contribution")
		a.AmountToFinance = obj.number(a.AmountToFinance, "amount_to_finance", "financed_amount")
		a.MonthlyPayment = obj.number(a.MonthlyPayment, "monthly_payment", "payment_amount")
		a.MonthsToAdjudication = obj.integer(a.MonthsToAdjudication, "months_to_adjudication")
		a.EstimatedAdjudicationDate = obj.date(a.EstimatedAdjudicationDate, "estimated_adjudication_date")
		a.AccumulatedPoints = obj.integer(a.AccumulatedPoints, "accumulated_points", "points")
		a.ReducedMonths = obj.integer(a.ReducedMonths, "reduced_months")
		a.FinalAdjudicationDate = obj.date(a.FinalAdjudicationDate, "final_adjudication_date")
		a.PostAdjudicationAmount = obj.number(a.PostAdjudicationAmount, "post_adjudication_amount")
		out.Accumulation = &a
	default:
		return domain.CalculationResult{}, fmt.Errorf("resultado base sin modalidad")
	}
	return out, nil
}
