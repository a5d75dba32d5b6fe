package domain

type PlanPreference string

const (
	PreferMinimizeInterest PlanPreference = "minimize_interest"
	PreferMinimizePayment  PlanPreference = "minimize_payment"
	PreferBalanced         PlanPreference = "balanced"
)

// PlanRecommendationInput asks which immediate-credit plan fits a budget.
type PlanRecommendationInput struct {
	ProductPrice     float64          `json:"product_price"`
	PaymentFrequency PaymentFrequency `json:"payment_frequency"`
	MaxPayment       float64          `json:"max_payment"`
	Preference       PlanPreference   `json:"preference"`
}

type PlanRecommendation struct {
	DownPaymentPercentage float64 `json:"down_payment_percentage"`
	TermMonths            int     `json:"term_months"`
	PaymentAmount         float64 `json:"payment_amount"`
	TotalInterest         float64 `json:"total_interest"`
	Score                 float64 `json:"score"`
	Reason                string  `json:"reason"`
}

type PlanRecommendationResult struct {
	Recommended     PlanRecommendation   `json:"recommended"`
	Recommendations []PlanRecommendation `json:"recommendations"`
}
