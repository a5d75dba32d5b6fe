package service

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"financing-wizard/domain"
)

// ConfigFetcher loads the calculator configuration from the backend.
type ConfigFetcher interface {
	FetchConfig(ctx context.Context) (domain.CalculatorConfig, error)
}

// ConfigProvider fetches the calculator configuration once and serves it from
// memory afterwards. Concurrent first calls share a single request.
type ConfigProvider struct {
	fetcher ConfigFetcher
	logger  *logrus.Logger
	group   singleflight.Group

	mu     sync.RWMutex
	cached *domain.CalculatorConfig
}

func NewConfigProvider(fetcher ConfigFetcher, logger *logrus.Logger) *ConfigProvider {
	return &ConfigProvider{fetcher: fetcher, logger: logger}
}

// NewStaticConfigProvider serves a fixed configuration and never touches the
// network.
func NewStaticConfigProvider(cfg domain.CalculatorConfig, logger *logrus.Logger) *ConfigProvider {
	return &ConfigProvider{logger: logger, cached: &cfg}
}

func (p *ConfigProvider) Get(ctx context.Context) (domain.CalculatorConfig, error) {
	p.mu.RLock()
	cached := p.cached
	p.mu.RUnlock()
	if cached != nil {
		return *cached, nil
	}
	return p.load(ctx)
}

// Refresh reloads the configuration. On failure the previous copy is kept.
func (p *ConfigProvider) Refresh(ctx context.Context) error {
	if p.fetcher == nil {
		return nil
	}
	_, err := p.load(ctx)
	if err != nil {
		p.logger.WithError(err).Warn("No se pudo refrescar la configuración de la calculadora")
	}
	return err
}

func (p *ConfigProvider) load(ctx context.Context) (domain.CalculatorConfig, error) {
	v, err, shared := p.group.Do("config", func() (interface{}, error) {
		cfg, err := p.fetcher.FetchConfig(ctx)
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		p.cached = &cfg
		p.mu.Unlock()
		return cfg, nil
	})
	if err != nil {
		return domain.CalculatorConfig{}, err
	}
	p.logger.WithFields(logrus.Fields{
		"modes":  len(v.(domain.CalculatorConfig).Modes),
		"shared": shared,
	}).Debug("Configuración de calculadora cargada")
	return v.(domain.CalculatorConfig), nil
}

// DefaultCalculatorConfig is used in offline mode and when the backend has
// never answered.
func DefaultCalculatorConfig() domain.CalculatorConfig {
	return domain.CalculatorConfig{
		Modes: []domain.ModeConfig{
			{
				ModeType:               domain.ModeAccumulation,
				Name:                   "Compra Programada",
				Description:            "Ahorra mensualmente y recibe tu vehículo al alcanzar el porcentaje de adjudicación",
				AdjudicationPercentage: 45,
				InitialFeePercentage:   5,
				MinInitialContribution: 10,
				MaxInitialContribution: 15,
				TermOptions:            []int{12, 24, 36, 48, 60},
				InterestRate:           0,
			},
			{
				ModeType:           domain.ModeImmediateCredit,
				Name:               "Crédito Inmediato",
				Description:        "Recibe tu vehículo de inmediato pagando una inicial",
				DownPaymentOptions: []float64{35, 45, 55, 60},
				TermOptions:        []int{6, 12, 18, 24},
				InterestRate:       12,
			},
		},
	}
}
