package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"financing-wizard/backend"
	"financing-wizard/config"
	httpLayer "financing-wizard/http"
	"financing-wizard/repository"
	"financing-wizard/service"
)

// Build-time variables (set via -ldflags).
var (
	version = "dev"
	commit  = "unknown"
)

var (
	cfg    *config.Config
	logger *logrus.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "financing-wizard",
	Short:         "Calculadora de financiamiento y solicitud de crédito vehicular",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		configFile, _ := cmd.Flags().GetString("config")
		if configFile != "" {
			cfg, err = config.LoadFromFile(configFile)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return fmt.Errorf("no se pudo cargar la configuración: %w", err)
		}
		if level, _ := cmd.Flags().GetString("log-level"); level != "" {
			cfg.Logging.Level = level
		}
		logger = cfg.NewLogger()
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "archivo de configuración (por defecto ./config/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "nivel de log (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("offline", false, "no usar el backend; repositorio en memoria")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(calculateCmd)
	rootCmd.AddCommand(scheduleCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Muestra la versión",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("financing-wizard %s (%s)\n", version, commit)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Levanta la API de la calculadora y del asistente de solicitud",
	RunE: func(cmd *cobra.Command, args []string) error {
		if offline, _ := cmd.Flags().GetBool("offline"); offline {
			cfg.Backend.Offline = true
		}
		return serve()
	},
}

func serve() error {
	deps, err := buildDependencies()
	if err != nil {
		return err
	}

	cache, closeCache := buildCache()
	defer closeCache()

	if !cfg.Backend.Offline && cfg.Schedule.ConfigRefresh != "" {
		c := cron.New()
		_, err := c.AddFunc(cfg.Schedule.ConfigRefresh, func() {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.Backend.Timeout)
			defer cancel()
			if err := deps.config.Refresh(ctx); err == nil {
				logger.Info("Configuración de la calculadora actualizada")
			}
		})
		if err != nil {
			return fmt.Errorf("schedule.config_refresh inválido: %w", err)
		}
		c.Start()
		defer c.Stop()
	}

	plans := service.NewPlanRecommendationService(deps.calc, deps.config, logger)
	plansTable := planTable(cfg.Plans)
	// crear o actualizar, cargar documentos y enviar: cuatro llamadas al backend
	submission := service.NewSubmissionService(deps.apps, plansTable, logger).
		WithTimeout(4 * cfg.Backend.Timeout)

	sessions := httpLayer.NewWizardSessions(cfg.Server.SessionIdle)
	defer sessions.Stop()

	rateLimiter := httpLayer.NewRateLimiter(cfg.Limits.RequestsPerWindow, cfg.Limits.Window)
	defer rateLimiter.Stop()

	calculatorHandler := httpLayer.NewCalculatorHandler(deps.calc, deps.config, plans, logger)
	wizardHandler := httpLayer.NewWizardHandler(
		cache,
		deps.apps,
		deps.calc,
		submission,
		sessions,
		service.DraftStoreOptions{Freshness: cfg.Draft.Freshness, TTL: cfg.Draft.TTL, Plans: plansTable},
		logger,
	)

	router := httpLayer.NewRouter(calculatorHandler, wizardHandler, rateLimiter, httpLayer.RouterOptions{
		CORSOrigins:    cfg.Server.CORSOrigins,
		RequestTimeout: cfg.Server.RequestTimeout,
	}, logger)

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Server.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{
			"addr":    cfg.Server.Addr,
			"offline": cfg.Backend.Offline,
		}).Info("API de financiamiento iniciada")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		return fmt.Errorf("error iniciando el servidor: %w", err)
	case <-quit:
		logger.Info("Apagando el servidor...")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Error durante el apagado del servidor")
	}

	logger.Info("Servidor detenido")
	return nil
}

// buildCache connects to Redis when configured and falls back to the
// in-memory cache when it is unreachable.
func buildCache() (repository.CacheRepository, func()) {
	if cfg.Redis.Addr == "" {
		logger.Info("Redis no configurado, se usa caché en memoria")
		return repository.NewMockCache(), func() {}
	}

	redisCache := repository.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Prefix)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := redisCache.Ping(ctx); err != nil {
		logger.WithError(err).WithField("addr", cfg.Redis.Addr).
			Warn("Redis no disponible, se usa caché en memoria")
		_ = redisCache.Close()
		return repository.NewMockCache(), func() {}
	}
	return redisCache, func() {
		if err := redisCache.Close(); err != nil {
			logger.WithError(err).Warn("Error cerrando Redis")
		}
	}
}

type dependencies struct {
	apps   repository.ApplicationRepository
	config *service.ConfigProvider
	calc   *service.CalculationService
}

// buildDependencies wires the backend client, or the in-memory repository
// and the built-in calculator configuration when running offline.
func buildDependencies() (*dependencies, error) {
	bonus := bonusRule(cfg.Bonus).Func()

	if cfg.Backend.Offline {
		provider := service.NewStaticConfigProvider(service.DefaultCalculatorConfig(), logger)
		return &dependencies{
			apps:   repository.NewApplicationRepositoryMemory(),
			config: provider,
			calc:   service.NewCalculationService(provider, nil, bonus, logger),
		}, nil
	}

	client, err := backend.NewClient(backend.Config{
		BaseURL:       cfg.Backend.BaseURL,
		Timeout:       cfg.Backend.Timeout,
		LoginURL:      cfg.Backend.LoginURL,
		CSRFPagePath:  cfg.Backend.CSRFPagePath,
		RefreshLeeway: cfg.Backend.RefreshLeeway,
	}, logger)
	if err != nil {
		return nil, err
	}
	provider := service.NewConfigProvider(client, logger)
	return &dependencies{
		apps:   client,
		config: provider,
		calc:   service.NewCalculationService(provider, client, bonus, logger),
	}, nil
}
