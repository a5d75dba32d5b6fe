package report

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/go-pdf/fpdf"

	"financing-wizard/domain"
	"financing-wizard/service"
)

const (
	pageWidth    = 210.0
	marginLeft   = 15.0
	marginRight  = 15.0
	marginTop    = 15.0
	marginBottom = 20.0
	contentWidth = pageWidth - marginLeft - marginRight
	rowHeight    = 6.0
)

var scheduleColumns = []struct {
	title string
	width float64
	align string
}{
	{"Nº", 15, "C"},
	{"Fecha", 30, "C"},
	{"Cuota", 35, "R"},
	{"Capital", 35, "R"},
	{"Interés", 30, "R"},
	{"Saldo", 35, "R"},
}

// SchedulePDF renders the calculation summary and, for immediate credit,
// the full amortization table.
type SchedulePDF struct {
	pdf *fpdf.Fpdf
	tr  func(string) string
}

// GenerateSchedulePDF returns the PDF bytes for a calculation result.
func GenerateSchedulePDF(result *domain.CalculationResult) ([]byte, error) {
	if !result.Valid() {
		return nil, errors.New("cálculo inválido para generar el reporte")
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	r := &SchedulePDF{pdf: pdf, tr: pdf.UnicodeTranslatorFromDescriptor("")}
	pdf.SetMargins(marginLeft, marginTop, marginRight)
	pdf.SetAutoPageBreak(true, marginBottom)
	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont("Arial", "I", 8)
		pdf.SetTextColor(128, 128, 128)
		pdf.CellFormat(0, 10, r.tr(fmt.Sprintf("Página %d", pdf.PageNo())), "", 0, "C", false, 0, "")
	})

	pdf.AddPage()
	r.addTitle(result)
	r.addSummary(result)
	if result.Credit != nil && len(result.Credit.Schedule) > 0 {
		r.addSchedule(result.Credit.Schedule)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("generar PDF: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *SchedulePDF) addTitle(result *domain.CalculationResult) {
	title := "Plan de Compra Programada"
	if result.Credit != nil {
		title = "Tabla de Amortización"
	}
	r.pdf.SetFont("Arial", "B", 18)
	r.pdf.SetTextColor(0, 51, 102)
	r.pdf.CellFormat(contentWidth, 12, r.tr(title), "", 1, "C", false, 0, "")
	r.pdf.Ln(4)
}

func (r *SchedulePDF) addSummary(result *domain.CalculationResult) {
	r.pdf.SetTextColor(0, 0, 0)
	for _, line := range service.SummarizeCalculation(result) {
		r.pdf.SetFont("Arial", "B", 10)
		r.pdf.CellFormat(contentWidth/2, rowHeight, r.tr(line.Label), "", 0, "L", false, 0, "")
		r.pdf.SetFont("Arial", "", 10)
		r.pdf.CellFormat(contentWidth/2, rowHeight, r.tr(line.Value), "", 1, "R", false, 0, "")
	}
	r.pdf.Ln(6)
}

func (r *SchedulePDF) header() {
	r.pdf.SetFont("Arial", "B", 9)
	r.pdf.SetFillColor(0, 51, 102)
	r.pdf.SetTextColor(255, 255, 255)
	for _, c := range scheduleColumns {
		r.pdf.CellFormat(c.width, rowHeight+1, r.tr(c.title), "1", 0, "C", true, 0, "")
	}
	r.pdf.Ln(-1)
	r.pdf.SetTextColor(0, 0, 0)
	r.pdf.SetFont("Arial", "", 9)
}

func (r *SchedulePDF) addSchedule(schedule []domain.AmortizationEntry) {
	_, pageHeight := r.pdf.GetPageSize()
	r.header()
	for i, e := range schedule {
		// repetir encabezado en cada página
		if r.pdf.GetY()+rowHeight > pageHeight-marginBottom {
			r.pdf.AddPage()
			r.header()
		}
		fill := i%2 == 1
		r.pdf.SetFillColor(240, 244, 248)
		values := []string{
			fmt.Sprintf("%d", e.Period),
			e.DueDate.Format("02/01/2006"),
			service.FormatMoney(e.PaymentAmount),
			service.FormatMoney(e.PrincipalComponent),
			service.FormatMoney(e.InterestComponent),
			service.FormatMoney(e.RemainingBalance),
		}
		for j, c := range scheduleColumns {
			r.pdf.CellFormat(c.width, rowHeight, r.tr(values[j]), "1", 0, c.align, fill, 0, "")
		}
		r.pdf.Ln(-1)
	}
}
