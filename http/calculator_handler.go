package http

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"financing-wizard/domain"
	"financing-wizard/service"
)

type CalculatorHandler struct {
	calc   *service.CalculationService
	config service.ConfigSource
	plans  *service.PlanRecommendationService
	logger *logrus.Logger
}

func NewCalculatorHandler(
	calc *service.CalculationService,
	config service.ConfigSource,
	plans *service.PlanRecommendationService,
	logger *logrus.Logger,
) *CalculatorHandler {
	return &CalculatorHandler{calc: calc, config: config, plans: plans, logger: logger}
}

func (h *CalculatorHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.config.Get(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("Error cargando la configuración de la calculadora")
		writeJSON(w, h.logger, http.StatusServiceUnavailable, apiError{
			Error:     "No se pudo cargar la configuración de la calculadora",
			Retryable: true,
		})
		return
	}
	writeJSON(w, h.logger, http.StatusOK, cfg)
}

// Calculate runs the calculator. Invalid input never reaches the backend.
func (h *CalculatorHandler) Calculate(w http.ResponseWriter, r *http.Request) {
	var input domain.CalculationInput
	if !decodeJSONBody(w, r, h.logger, &input) {
		return
	}

	result, err := h.calc.CalculateRemote(r.Context(), input)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, result)
}

func (h *CalculatorHandler) RecommendPlan(w http.ResponseWriter, r *http.Request) {
	var input domain.PlanRecommendationInput
	if !decodeJSONBody(w, r, h.logger, &input) {
		return
	}

	result, err := h.plans.RecommendPlan(r.Context(), input)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, result)
}

// decodeJSONBody writes the error response itself and reports whether the
// handler may go on.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, logger *logrus.Logger, dst interface{}) bool {
	// Validar Content-Type
	if !strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		writeJSON(w, logger, http.StatusUnsupportedMediaType, apiError{Error: "Content-Type must be application/json"})
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		logger.WithError(err).Debug("Error decoding request body")
		writeJSON(w, logger, http.StatusBadRequest, apiError{Error: "invalid request body"})
		return false
	}
	return true
}
