package domain

// CalculatorConfig mirrors GET /api/financing/calculator/config/.
type CalculatorConfig struct {
	Modes      []ModeConfig `json:"modes"`
	Categories []Category   `json:"categories"`
}

type ModeConfig struct {
	ModeType               Mode      `json:"mode_type"`
	Name                   string    `json:"name"`
	Description            string    `json:"description"`
	AdjudicationPercentage float64   `json:"adjudication_percentage"`
	InitialFeePercentage   float64   `json:"initial_fee_percentage"`
	MinInitialContribution float64   `json:"min_initial_contribution"`
	MaxInitialContribution float64   `json:"max_initial_contribution"`
	DownPaymentOptions     []float64 `json:"down_payment_options"`
	TermOptions            []int     `json:"term_options"`
	InterestRate           float64   `json:"interest_rate"` // anual, en %
}

type Category struct {
	ID       int       `json:"id"`
	Name     string    `json:"name"`
	Slug     string    `json:"slug"`
	Products []Product `json:"products"`
}

type Product struct {
	ID    int     `json:"id"`
	Name  string  `json:"name"`
	Brand string  `json:"brand"`
	Price float64 `json:"price"`
}

// Mode returns the configuration of the given mode, if present.
func (c CalculatorConfig) Mode(m Mode) (ModeConfig, bool) {
	for _, mc := range c.Modes {
		if mc.ModeType == m {
			return mc, true
		}
	}
	return ModeConfig{}, false
}

// MaxTerm returns the longest configured term, or 0 when none is set.
func (m ModeConfig) MaxTerm() int {
	longest := 0
	for _, t := range m.TermOptions {
		if t > longest {
			longest = t
		}
	}
	return longest
}
