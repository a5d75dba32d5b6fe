package domain

import "time"

// Mode selects one of the two mutually exclusive financing products.
type Mode string

const (
	ModeAccumulation    Mode = "programada" // compra programada
	ModeImmediateCredit Mode = "credito"    // crédito inmediato
)

type PaymentFrequency string

const (
	FrequencyWeekly   PaymentFrequency = "weekly"
	FrequencyBiweekly PaymentFrequency = "biweekly"
	FrequencyMonthly  PaymentFrequency = "monthly"
)

// PeriodsPerYear returns the number of installments per year, or 0 for
// an unknown frequency.
func (f PaymentFrequency) PeriodsPerYear() int {
	switch f {
	case FrequencyWeekly:
		return 52
	case FrequencyBiweekly:
		return 24
	case FrequencyMonthly:
		return 12
	}
	return 0
}

type Punctuality string

const (
	PunctualityOnTime Punctuality = "on_time"
	PunctualityEarly  Punctuality = "early"
	PunctualityLate   Punctuality = "late"
)

// CalculationInput is built from the calculator form at calculate time.
// Only the fields of the selected mode are read.
type CalculationInput struct {
	Mode         Mode    `json:"mode_type"`
	ProductPrice float64 `json:"product_price"`
	ProductRef   *int    `json:"product_id,omitempty"`

	// Compra programada
	InitialContributionPercentage float64     `json:"initial_contribution_percentage,omitempty"`
	MonthlyPayment                float64     `json:"monthly_payment,omitempty"`
	Punctuality                   Punctuality `json:"punctuality,omitempty"`

	// Crédito inmediato
	DownPaymentPercentage float64          `json:"down_payment_percentage,omitempty"`
	TermMonths            int              `json:"term_months,omitempty"`
	PaymentFrequency      PaymentFrequency `json:"payment_frequency,omitempty"`
}

// CalculationResult is a tagged union: exactly one of Accumulation or
// Credit is set, matching Mode.
type CalculationResult struct {
	Mode         Mode                `json:"mode_type"`
	ProductRef   *int                `json:"product_id,omitempty"`
	Accumulation *AccumulationResult `json:"accumulation,omitempty"`
	Credit       *CreditResult       `json:"credit,omitempty"`
}

// Valid reports whether the union is consistent with its tag.
func (r *CalculationResult) Valid() bool {
	if r == nil {
		return false
	}
	switch r.Mode {
	case ModeAccumulation:
		return r.Accumulation != nil && r.Credit == nil
	case ModeImmediateCredit:
		return r.Credit != nil && r.Accumulation == nil
	}
	return false
}

type AccumulationResult struct {
	VehicleValue              float64     `json:"vehicle_value"`
	InitialFee                float64     `json:"initial_fee"`
	InitialContribution       float64     `json:"initial_contribution"`
	InitialContributionPct    float64     `json:"initial_contribution_percentage"`
	AmountToFinance           float64     `json:"amount_to_finance"`
	MonthlyPayment            float64     `json:"monthly_payment"`
	MonthsToAdjudication      int         `json:"months_to_adjudication"`
	EstimatedAdjudicationDate time.Time   `json:"estimated_adjudication_date"`
	AccumulatedPoints         int         `json:"accumulated_points"`
	ReducedMonths             int         `json:"reduced_months"`
	FinalAdjudicationDate     time.Time   `json:"final_adjudication_date"`
	AdjudicationPercentage    float64     `json:"adjudication_percentage"`
	PostAdjudicationAmount    float64     `json:"post_adjudication_amount"`
	Punctuality               Punctuality `json:"punctuality"`
}

type CreditResult struct {
	VehicleValue          float64             `json:"vehicle_value"`
	DownPaymentAmount     float64             `json:"down_payment_amount"`
	DownPaymentPercentage float64             `json:"down_payment_percentage"`
	FinancedAmount        float64             `json:"financed_amount"`
	InterestRate          float64             `json:"interest_rate"` // anual, en %
	TermMonths            int                 `json:"term_months"`
	PaymentFrequency      PaymentFrequency    `json:"payment_frequency"`
	NumberOfPayments      int                 `json:"number_of_payments"`
	PaymentAmount         float64             `json:"payment_amount"`
	TotalInterest         float64             `json:"total_interest"`
	TotalCost             float64             `json:"total_cost"`
	FirstPaymentDate      time.Time           `json:"first_payment_date"`
	PayoffDate            time.Time           `json:"payoff_date"`
	Schedule              []AmortizationEntry `json:"schedule,omitempty"`
}

type AmortizationEntry struct {
	Period             int       `json:"period"`
	DueDate            time.Time `json:"due_date"`
	PaymentAmount      float64   `json:"payment_amount"`
	PrincipalComponent float64   `json:"principal"`
	InterestComponent  float64   `json:"interest"`
	RemainingBalance   float64   `json:"remaining_balance"`
}
