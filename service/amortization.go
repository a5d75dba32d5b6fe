package service

import (
	"math"
	"time"

	"financing-wizard/domain"
)

// roundTo2Decimals redondea un float64 a 2 decimales
func roundTo2Decimals(value float64) float64 {
	return math.Round(value*100) / 100
}

// PeriodRate converts a nominal annual rate in percent into the rate of one
// installment period.
func PeriodRate(annualRatePct float64, freq domain.PaymentFrequency) float64 {
	ppy := freq.PeriodsPerYear()
	if ppy == 0 {
		return 0
	}
	return (annualRatePct / 100) / float64(ppy)
}

// NumberOfPayments is the count of installments implied by a term in months
// at the given frequency.
func NumberOfPayments(termMonths int, freq domain.PaymentFrequency) int {
	return int(math.Round(float64(termMonths) * float64(freq.PeriodsPerYear()) / 12))
}

// InstallmentAmount returns the fixed-rate annuity payment, unrounded.
func InstallmentAmount(principal, rate float64, n int) float64 {
	if n <= 0 {
		return 0
	}
	if rate == 0 {
		return principal / float64(n)
	}
	growth := math.Pow(1+rate, float64(n))
	return principal * (rate * growth) / (growth - 1)
}

// DueDate returns the date of the given installment counted from start.
// Biweekly means twice a month (24 periods per year), on the same day and
// fifteen days later. Month steps keep the day of start, or the last day of
// the month when it is shorter: Jan 31 is followed by Feb 28, not Mar 3.
func DueDate(start time.Time, freq domain.PaymentFrequency, period int) time.Time {
	switch freq {
	case domain.FrequencyWeekly:
		return start.AddDate(0, 0, 7*period)
	case domain.FrequencyBiweekly:
		return addMonths(start, period/2).AddDate(0, 0, 15*(period%2))
	default:
		return addMonths(start, period)
	}
}

func addMonths(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(months), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	last := first.AddDate(0, 1, -1).Day()
	return first.AddDate(0, 0, min(d, last)-1)
}

// BuildSchedule generates the amortization table for a loan. Interest on the
// remaining balance is charged before principal; the last row takes exactly
// the remaining balance as principal so no residual cents are left.
func BuildSchedule(
	principal, payment, rate float64,
	n int,
	start time.Time,
	freq domain.PaymentFrequency,
) []domain.AmortizationEntry {
	schedule := make([]domain.AmortizationEntry, 0, n)
	balance := roundTo2Decimals(principal)

	for period := 1; period <= n && balance > 0; period++ {
		interest := roundTo2Decimals(balance * rate)
		principalPart := roundTo2Decimals(payment - interest)
		amount := payment

		if period == n || principalPart >= balance {
			principalPart = balance
			amount = roundTo2Decimals(principalPart + interest)
		}

		balance = roundTo2Decimals(balance - principalPart)
		if balance < BalanceTolerance {
			balance = 0
		}

		schedule = append(schedule, domain.AmortizationEntry{
			Period:             period,
			DueDate:            DueDate(start, freq, period),
			PaymentAmount:      amount,
			PrincipalComponent: principalPart,
			InterestComponent:  interest,
			RemainingBalance:   balance,
		})
	}

	return schedule
}

// RebuildSchedule regenerates the table of a credit result that travelled
// without it, stepping back one period from its first payment date. A
// monthly plan that started after the 28th restarts on the day of its first
// payment, since the clamp cannot be undone.
func RebuildSchedule(c *domain.CreditResult) []domain.AmortizationEntry {
	n := c.NumberOfPayments
	if n == 0 {
		n = NumberOfPayments(c.TermMonths, c.PaymentFrequency)
	}
	start := DueDate(c.FirstPaymentDate, c.PaymentFrequency, -1)
	rate := PeriodRate(c.InterestRate, c.PaymentFrequency)
	return BuildSchedule(c.FinancedAmount, c.PaymentAmount, rate, n, start, c.PaymentFrequency)
}

// ScheduleTotals sums the payment and interest columns.
func ScheduleTotals(schedule []domain.AmortizationEntry) (paid, interest float64) {
	for _, e := range schedule {
		paid += e.PaymentAmount
		interest += e.InterestComponent
	}
	return roundTo2Decimals(paid), roundTo2Decimals(interest)
}

// MonthsToTarget is the number of whole monthly contributions needed to
// accumulate amount.
func MonthsToTarget(amount, monthly float64) int {
	if monthly <= 0 || amount <= 0 {
		return 0
	}
	// el épsilon evita que un cociente exacto con ruido de float sume un mes
	return int(math.Ceil(amount/monthly - 1e-9))
}
