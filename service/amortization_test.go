package service

import (
	"math"
	"testing"
	"time"

	"financing-wizard/domain"
)

func TestBuildSchedule_ReachesZero(t *testing.T) {

	start := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	freqs := []domain.PaymentFrequency{
		domain.FrequencyWeekly,
		domain.FrequencyBiweekly,
		domain.FrequencyMonthly,
	}

	for _, freq := range freqs {
		for _, term := range []int{6, 12, 18, 24} {
			n := NumberOfPayments(term, freq)
			rate := PeriodRate(12, freq)
			payment := roundTo2Decimals(InstallmentAmount(2925, rate, n))

			schedule := BuildSchedule(2925, payment, rate, n, start, freq)

			if len(schedule) != n {
				t.Fatalf("%s/%d: expected %d rows, got %d", freq, term, n, len(schedule))
			}
			last := schedule[len(schedule)-1]
			if last.RemainingBalance != 0 {
				t.Errorf("%s/%d: expected final balance 0, got %.2f", freq, term, last.RemainingBalance)
			}

			principal := 0.0
			prev := 2925.0
			for _, e := range schedule {
				principal += e.PrincipalComponent
				if e.RemainingBalance > prev {
					t.Errorf("%s/%d: balance increased at period %d", freq, term, e.Period)
				}
				prev = e.RemainingBalance
			}
			if math.Abs(principal-2925) > BalanceTolerance {
				t.Errorf("%s/%d: expected principal sum 2925.00, got %.2f", freq, term, principal)
			}
		}
	}
}

func TestBuildSchedule_PrincipalPlusInterestEqualsPayment(t *testing.T) {

	start := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	rate := PeriodRate(12, domain.FrequencyMonthly)
	schedule := BuildSchedule(2925, 137.69, rate, 24, start, domain.FrequencyMonthly)

	for _, e := range schedule[:len(schedule)-1] {
		if math.Abs(e.PrincipalComponent+e.InterestComponent-e.PaymentAmount) > 0.001 {
			t.Errorf("period %d: %.2f + %.2f != %.2f",
				e.Period, e.PrincipalComponent, e.InterestComponent, e.PaymentAmount)
		}
	}
}

func TestInstallmentAmount_ZeroRate(t *testing.T) {

	got := InstallmentAmount(1200, 0, 12)

	if got != 100 {
		t.Errorf("expected 100.00, got %.2f", got)
	}
}

func TestNumberOfPayments(t *testing.T) {

	cases := []struct {
		term int
		freq domain.PaymentFrequency
		want int
	}{
		{24, domain.FrequencyMonthly, 24},
		{24, domain.FrequencyBiweekly, 48},
		{24, domain.FrequencyWeekly, 104},
		{6, domain.FrequencyWeekly, 26},
	}

	for _, c := range cases {
		if got := NumberOfPayments(c.term, c.freq); got != c.want {
			t.Errorf("%d months %s: expected %d, got %d", c.term, c.freq, c.want, got)
		}
	}
}

func TestDueDate(t *testing.T) {

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if got := DueDate(start, domain.FrequencyMonthly, 2); !got.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("monthly: got %s", got)
	}
	if got := DueDate(start, domain.FrequencyBiweekly, 1); !got.Equal(time.Date(2026, 1, 16, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("biweekly 1: got %s", got)
	}
	if got := DueDate(start, domain.FrequencyBiweekly, 2); !got.Equal(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("biweekly 2: got %s", got)
	}
	if got := DueDate(start, domain.FrequencyWeekly, 3); !got.Equal(time.Date(2026, 1, 22, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("weekly: got %s", got)
	}
}

func TestMonthsToTarget(t *testing.T) {

	if got := MonthsToTarget(13500, 500); got != 27 {
		t.Errorf("expected 27, got %d", got)
	}
	if got := MonthsToTarget(13501, 500); got != 28 {
		t.Errorf("expected 28, got %d", got)
	}
	if got := MonthsToTarget(1000, 0); got != 0 {
		t.Errorf("expected 0 for zero payment, got %d", got)
	}
}

func TestRebuildSchedule_MatchesOriginal(t *testing.T) {

	start := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	rate := PeriodRate(12, domain.FrequencyMonthly)
	original := BuildSchedule(2925, 137.69, rate, 24, start, domain.FrequencyMonthly)

	credit := &domain.CreditResult{
		FinancedAmount:   2925,
		InterestRate:     12,
		TermMonths:       24,
		PaymentFrequency: domain.FrequencyMonthly,
		NumberOfPayments: 24,
		PaymentAmount:    137.69,
		FirstPaymentDate: original[0].DueDate,
	}
	rebuilt := RebuildSchedule(credit)

	if len(rebuilt) != len(original) {
		t.Fatalf("expected %d rows, got %d", len(original), len(rebuilt))
	}
	for i := range original {
		if rebuilt[i] != original[i] {
			t.Errorf("row %d differs: %+v vs %+v", i+1, rebuilt[i], original[i])
		}
	}
}

func TestDueDate_MonthEndClamps(t *testing.T) {

	start := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		freq   domain.PaymentFrequency
		period int
		want   time.Time
	}{
		{domain.FrequencyMonthly, 1, time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC)},
		{domain.FrequencyMonthly, 2, time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)},
		{domain.FrequencyMonthly, 3, time.Date(2026, 4, 30, 0, 0, 0, 0, time.UTC)},
		{domain.FrequencyMonthly, 13, time.Date(2027, 2, 28, 0, 0, 0, 0, time.UTC)},
		{domain.FrequencyBiweekly, 1, time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC)},
		{domain.FrequencyBiweekly, 2, time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC)},
		{domain.FrequencyMonthly, -1, time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)},
	}

	for _, c := range cases {
		if got := DueDate(start, c.freq, c.period); !got.Equal(c.want) {
			t.Errorf("%s %d: expected %s, got %s", c.freq, c.period, c.want.Format("2006-01-02"), got.Format("2006-01-02"))
		}
	}
}

func TestDueDate_LeapYear(t *testing.T) {

	start := time.Date(2028, 1, 30, 0, 0, 0, 0, time.UTC)

	if got := DueDate(start, domain.FrequencyMonthly, 1); !got.Equal(time.Date(2028, 2, 29, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("expected Feb 29, got %s", got.Format("2006-01-02"))
	}
}

func TestRebuildSchedule_BiweeklyFromMonthEnd(t *testing.T) {

	start := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	rate := PeriodRate(12, domain.FrequencyBiweekly)
	payment := roundTo2Decimals(InstallmentAmount(2925, rate, 12))
	original := BuildSchedule(2925, payment, rate, 12, start, domain.FrequencyBiweekly)

	credit := &domain.CreditResult{
		FinancedAmount:   2925,
		InterestRate:     12,
		PaymentFrequency: domain.FrequencyBiweekly,
		NumberOfPayments: 12,
		PaymentAmount:    payment,
		FirstPaymentDate: original[0].DueDate,
	}
	rebuilt := RebuildSchedule(credit)

	if len(rebuilt) != len(original) {
		t.Fatalf("expected %d rows, got %d", len(original), len(rebuilt))
	}
	for i := range original {
		if !rebuilt[i].DueDate.Equal(original[i].DueDate) {
			t.Errorf("row %d: expected %s, got %s", i+1,
				original[i].DueDate.Format("2006-01-02"), rebuilt[i].DueDate.Format("2006-01-02"))
		}
	}
}
