package service

import (
	"fmt"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"financing-wizard/domain"
)

var printer = message.NewPrinter(language.Spanish)

var frequencyLabels = map[domain.PaymentFrequency]string{
	domain.FrequencyWeekly:   "Semanal",
	domain.FrequencyBiweekly: "Quincenal",
	domain.FrequencyMonthly:  "Mensual",
}

var employmentLabels = map[string]string{
	"empleado_publico": "Empleado Público",
	"empleado_privado": "Empleado Privado",
	"independiente":    "Trabajador Independiente",
	"empresario":       "Empresario",
	"pensionado":       "Pensionado",
	"otro":             "Otro",
}

type SummaryLine struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

type StepSummary struct {
	Step  domain.Step   `json:"step"`
	Title string        `json:"title"`
	Lines []SummaryLine `json:"lines"`
}

// FormatMoney formats an amount the way the storefront shows it: $1.575,00.
func FormatMoney(v float64) string {
	return printer.Sprintf("$%.2f", v)
}

func formatDate(d domain.AmortizationEntry) string {
	return d.DueDate.Format("02/01/2006")
}

func FrequencyLabel(f domain.PaymentFrequency) string {
	if l, ok := frequencyLabels[f]; ok {
		return l
	}
	return string(f)
}

func EmploymentLabel(token string) string {
	if l, ok := employmentLabels[token]; ok {
		return l
	}
	return token
}

// SummarizeCalculation lists the figures of a calculation for display.
func SummarizeCalculation(c *domain.CalculationResult) []SummaryLine {
	switch {
	case c == nil:
		return nil
	case c.Credit != nil:
		cr := c.Credit
		lines := []SummaryLine{
			{"Modalidad", "Crédito Inmediato"},
			{"Precio", FormatMoney(cr.VehicleValue)},
			{"Inicial", fmt.Sprintf("%s (%.0f%%)", FormatMoney(cr.DownPaymentAmount), cr.DownPaymentPercentage)},
			{"Monto financiado", FormatMoney(cr.FinancedAmount)},
			{"Plazo", fmt.Sprintf("%d meses", cr.TermMonths)},
			{"Frecuencia de pago", FrequencyLabel(cr.PaymentFrequency)},
			{"Cuota", FormatMoney(cr.PaymentAmount)},
			{"Número de cuotas", fmt.Sprintf("%d", cr.NumberOfPayments)},
			{"Intereses", FormatMoney(cr.TotalInterest)},
			{"Total a pagar", FormatMoney(cr.TotalCost)},
		}
		if n := len(cr.Schedule); n > 0 {
			lines = append(lines,
				SummaryLine{"Primer pago", formatDate(cr.Schedule[0])},
				SummaryLine{"Último pago", formatDate(cr.Schedule[n-1])},
			)
		}
		return lines
	case c.Accumulation != nil:
		a := c.Accumulation
		return []SummaryLine{
			{"Modalidad", "Compra Programada"},
			{"Precio", FormatMoney(a.VehicleValue)},
			{"Cuota de inscripción", FormatMoney(a.InitialFee)},
			{"Aporte inicial", fmt.Sprintf("%s (%.0f%%)", FormatMoney(a.InitialContribution), a.InitialContributionPct)},
			{"Monto a financiar", FormatMoney(a.AmountToFinance)},
			{"Cuota mensual", FormatMoney(a.MonthlyPayment)},
			{"Meses hasta adjudicación", fmt.Sprintf("%d", a.MonthsToAdjudication)},
			{"Puntos acumulados", fmt.Sprintf("%d", a.AccumulatedPoints)},
			{"Meses reducidos", fmt.Sprintf("%d", a.ReducedMonths)},
			{"Adjudicación estimada", a.FinalAdjudicationDate.Format("02/01/2006")},
			{"Monto post-adjudicación", FormatMoney(a.PostAdjudicationAmount)},
		}
	}
	return nil
}

func summarizePersonal(p domain.PersonalInfo) []SummaryLine {
	lines := []SummaryLine{
		{"Tipo de empleo", EmploymentLabel(p.EmploymentType)},
		{"Ingreso mensual", FormatMoney(p.MonthlyIncome)},
	}
	optional := []SummaryLine{
		{"Empresa", p.CompanyName},
		{"Cargo", p.JobPosition},
		{"Teléfono laboral", p.WorkPhone},
		{"Referencia 1", joinReference(p.Reference1)},
		{"Referencia 2", joinReference(p.Reference2)},
	}
	if p.YearsEmployed > 0 {
		optional = append(optional, SummaryLine{"Años de antigüedad", printer.Sprintf("%.1f", p.YearsEmployed)})
	}
	for _, l := range optional {
		if l.Value != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

func joinReference(r domain.Reference) string {
	switch {
	case r.Name == "":
		return r.Phone
	case r.Phone == "":
		return r.Name
	}
	return r.Name + " - " + r.Phone
}

func summarizeDocuments(files []domain.StagedFile) []SummaryLine {
	lines := make([]SummaryLine, 0, len(files))
	for _, f := range files {
		lines = append(lines, SummaryLine{
			Label: f.Name,
			Value: printer.Sprintf("%s, %.1f KB", allowedMimeTypes[f.MimeType], float64(f.SizeBytes)/1024),
		})
	}
	if len(lines) == 0 {
		lines = append(lines, SummaryLine{"Documentos", "Sin documentos adjuntos"})
	}
	return lines
}

// Summary renders the summary of the current step. The confirmation step
// shows everything.
func (w *Wizard) Summary() StepSummary {
	d := w.Draft()
	if d == nil {
		return StepSummary{}
	}

	s := StepSummary{Step: d.CurrentStep}
	switch d.CurrentStep {
	case domain.StepReview:
		s.Title = "Resumen del financiamiento"
		s.Lines = SummarizeCalculation(d.Calculation)
	case domain.StepPersonal:
		s.Title = "Información personal"
		s.Lines = summarizePersonal(d.Personal)
	case domain.StepDocuments:
		s.Title = "Documentos"
		s.Lines = summarizeDocuments(d.Attachments)
	case domain.StepConfirm:
		s.Title = "Confirmación"
		s.Lines = append(s.Lines, SummarizeCalculation(d.Calculation)...)
		s.Lines = append(s.Lines, summarizePersonal(d.Personal)...)
		s.Lines = append(s.Lines, summarizeDocuments(d.Attachments)...)
	}
	return s
}
