package domain

import "time"

// Step is a position in the application wizard.
type Step int

const (
	StepReview Step = iota + 1
	StepPersonal
	StepDocuments
	StepConfirm
)

const (
	FirstStep = StepReview
	LastStep  = StepConfirm
)

func (s Step) String() string {
	switch s {
	case StepReview:
		return "REVIEW"
	case StepPersonal:
		return "PERSONAL"
	case StepDocuments:
		return "DOCUMENTS"
	case StepConfirm:
		return "CONFIRM"
	}
	return "UNKNOWN"
}

// Valid reports whether s is one of the four wizard steps.
func (s Step) Valid() bool {
	return s >= FirstStep && s <= LastStep
}

type Reference struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type PersonalInfo struct {
	EmploymentType string    `json:"employment_type"`
	MonthlyIncome  float64   `json:"monthly_income"`
	CompanyName    string    `json:"company_name,omitempty"`
	JobPosition    string    `json:"job_position,omitempty"`
	WorkPhone      string    `json:"work_phone,omitempty"`
	YearsEmployed  float64   `json:"years_employed,omitempty"`
	Reference1     Reference `json:"reference1"`
	Reference2     Reference `json:"reference2"`
}

// StagedFile is a document accepted for upload. Content holds the raw bytes
// until the submission pipeline sends them.
type StagedFile struct {
	Name      string `json:"name"`
	SizeBytes int64  `json:"size_bytes"`
	MimeType  string `json:"mime_type"`
	Content   []byte `json:"content"`
}

// ApplicationDraft is the wizard's unit of work.
type ApplicationDraft struct {
	ID                  string             `json:"id"`
	CurrentStep         Step               `json:"current_step"`
	Calculation         *CalculationResult `json:"calculation"`
	Personal            PersonalInfo       `json:"personal"`
	Attachments         []StagedFile       `json:"attachments"`
	UploadedCount       int                `json:"uploaded_count"` // adjuntos ya enviados al backend
	RemoteRequestID     *int               `json:"remote_request_id,omitempty"`
	TermsAccepted       bool               `json:"terms_accepted"`
	DataConsentAccepted bool               `json:"data_consent_accepted"`
	UpdatedAt           time.Time          `json:"updated_at"`
}

// Clone returns a deep copy, so readers never alias the store's draft.
func (d *ApplicationDraft) Clone() *ApplicationDraft {
	if d == nil {
		return nil
	}
	c := *d
	if d.Calculation != nil {
		calc := *d.Calculation
		if calc.Credit != nil {
			credit := *calc.Credit
			credit.Schedule = append([]AmortizationEntry(nil), calc.Credit.Schedule...)
			calc.Credit = &credit
		}
		if calc.Accumulation != nil {
			acc := *calc.Accumulation
			calc.Accumulation = &acc
		}
		if calc.ProductRef != nil {
			ref := *calc.ProductRef
			calc.ProductRef = &ref
		}
		c.Calculation = &calc
	}
	if d.RemoteRequestID != nil {
		id := *d.RemoteRequestID
		c.RemoteRequestID = &id
	}
	c.Attachments = append([]StagedFile(nil), d.Attachments...)
	return &c
}
