package service

import "time"

const (
	MaxProductPrice = 1_000_000.0 // precio máximo aceptado en la calculadora
	MaxInterestRate = 1000.0      // 1000% anual

	// Límites de documentos adjuntos
	MaxFileSizeBytes = 5 * 1024 * 1024 // 5 MiB
	MaxAttachments   = 10

	// Tolerancia para considerar el saldo en cero
	BalanceTolerance = 0.01

	DefaultDraftFreshness = time.Hour

	// Tope de un envío completo: crear o actualizar, cargar documentos y enviar
	DefaultSubmissionTimeout = time.Minute
)

// allowedMimeTypes lists the document types the backend accepts.
var allowedMimeTypes = map[string]string{
	"application/pdf": "PDF",
	"image/jpeg":      "JPEG",
	"image/png":       "PNG",
}

// defaultPlanByDownPayment maps a down-payment percentage to the backend's
// financing plan id.
var defaultPlanByDownPayment = map[int]int{
	35: 5, // Crédito Inmediato 35%
	45: 6, // Crédito Inmediato 45%
	55: 7, // Crédito Inmediato 55%
	60: 8, // Crédito Inmediato 60%
}

const (
	defaultFinancingPlan    = 5
	defaultAccumulationPlan = 1 // Compra Programada
)
