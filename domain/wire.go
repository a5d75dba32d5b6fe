package domain

import "github.com/shopspring/decimal"

// WirePayload is the exact field set sent on POST/PUT
// /api/financing/requests/. Money is carried as fixed 2-decimal strings.
type WirePayload struct {
	Product               *int   `json:"product"`
	FinancingPlan         int    `json:"financing_plan"`
	ProductPrice          string `json:"product_price"`
	DownPaymentPercentage int    `json:"down_payment_percentage"`
	DownPaymentAmount     string `json:"down_payment_amount"`
	FinancedAmount        string `json:"financed_amount"`
	InterestRate          string `json:"interest_rate"`
	TotalInterest         string `json:"total_interest"`
	TotalAmount           string `json:"total_amount"`
	PaymentFrequency      string `json:"payment_frequency"`
	NumberOfPayments      int    `json:"number_of_payments"`
	PaymentAmount         string `json:"payment_amount"`

	EmploymentType  string  `json:"employment_type"`
	MonthlyIncome   string  `json:"monthly_income"`
	CompanyName     string  `json:"company_name"`
	JobPosition     string  `json:"job_position"`
	WorkPhone       string  `json:"work_phone"`
	YearsEmployed   float64 `json:"years_employed"`
	Reference1Name  string  `json:"reference1_name"`
	Reference1Phone string  `json:"reference1_phone"`
	Reference2Name  string  `json:"reference2_name"`
	Reference2Phone string  `json:"reference2_phone"`
}

// RemoteApplication is the subset of GET /api/financing/requests/{id}/
// needed to resume a draft. The backend sends decimals either quoted or bare,
// decimal.Decimal accepts both.
type RemoteApplication struct {
	ID                    int             `json:"id"`
	ApplicationNumber     string          `json:"application_number,omitempty"`
	Status                string          `json:"status,omitempty"`
	Product               *int            `json:"product"`
	FinancingPlan         int             `json:"financing_plan"`
	ProductPrice          decimal.Decimal `json:"product_price"`
	DownPaymentPercentage decimal.Decimal `json:"down_payment_percentage"`
	DownPaymentAmount     decimal.Decimal `json:"down_payment_amount"`
	FinancedAmount        decimal.Decimal `json:"financed_amount"`
	InterestRate          decimal.Decimal `json:"interest_rate"`
	TotalInterest         decimal.Decimal `json:"total_interest"`
	TotalAmount           decimal.Decimal `json:"total_amount"`
	PaymentFrequency      string          `json:"payment_frequency"`
	NumberOfPayments      int             `json:"number_of_payments"`
	PaymentAmount         decimal.Decimal `json:"payment_amount"`

	EmploymentType  string          `json:"employment_type"`
	MonthlyIncome   decimal.Decimal `json:"monthly_income"`
	CompanyName     string          `json:"company_name"`
	JobPosition     string          `json:"job_position"`
	WorkPhone       string          `json:"work_phone"`
	YearsEmployed   decimal.Decimal `json:"years_employed"`
	Reference1Name  string          `json:"reference1_name"`
	Reference1Phone string          `json:"reference1_phone"`
	Reference2Name  string          `json:"reference2_name"`
	Reference2Phone string          `json:"reference2_phone"`
}
