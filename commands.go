package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"financing-wizard/config"
	"financing-wizard/domain"
	"financing-wizard/report"
	"financing-wizard/service"
)

var calculateCmd = &cobra.Command{
	Use:   "calculate",
	Short: "Calcula un plan de financiamiento",
	Long: `Calcula un plan de compra programada o de crédito inmediato.
Sin --offline la configuración de la calculadora se descarga del backend.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := calculateFromFlags(cmd)
		if err != nil {
			return err
		}
		output, _ := cmd.Flags().GetString("output")
		return writeResult(cmd.OutOrStdout(), result, output)
	},
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Genera la tabla de amortización en PDF",
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := calculateFromFlags(cmd)
		if err != nil {
			return err
		}
		path, _ := cmd.Flags().GetString("pdf")
		content, err := report.GenerateSchedulePDF(&result)
		if err != nil {
			return err
		}
		if err := os.WriteFile(path, content, 0o644); err != nil {
			return fmt.Errorf("no se pudo escribir %s: %w", path, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "PDF generado: %s\n", path)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{calculateCmd, scheduleCmd} {
		c.Flags().String("mode", string(domain.ModeImmediateCredit), "programada | credito")
		c.Flags().Float64("price", 0, "precio del vehículo")
		c.Flags().Int("product", 0, "id del producto del catálogo")
		c.Flags().Float64("down", 35, "porcentaje de inicial (crédito)")
		c.Flags().Int("term", 24, "plazo en meses (crédito)")
		c.Flags().String("frequency", string(domain.FrequencyMonthly), "weekly | biweekly | monthly")
		c.Flags().Float64("initial", 0, "porcentaje de aporte inicial (programada)")
		c.Flags().Float64("monthly", 0, "cuota mensual (programada)")
		c.Flags().String("punctuality", string(domain.PunctualityOnTime), "early | on_time | late")
	}
	calculateCmd.Flags().StringP("output", "o", "table", "table | json | yaml")
	scheduleCmd.Flags().String("pdf", "amortizacion.pdf", "archivo de salida")
}

func calculateFromFlags(cmd *cobra.Command) (domain.CalculationResult, error) {
	if offline, _ := cmd.Flags().GetBool("offline"); offline {
		cfg.Backend.Offline = true
	}
	deps, err := buildDependencies()
	if err != nil {
		return domain.CalculationResult{}, err
	}

	f := cmd.Flags()
	mode, _ := f.GetString("mode")
	input := domain.CalculationInput{Mode: domain.Mode(mode)}
	input.ProductPrice, _ = f.GetFloat64("price")
	if id, _ := f.GetInt("product"); id > 0 {
		input.ProductRef = &id
	}
	switch input.Mode {
	case domain.ModeImmediateCredit:
		input.DownPaymentPercentage, _ = f.GetFloat64("down")
		input.TermMonths, _ = f.GetInt("term")
		freq, _ := f.GetString("frequency")
		canonical, ok := service.CanonicalFrequency(freq)
		if !ok {
			return domain.CalculationResult{}, fmt.Errorf("frecuencia de pago inválida: %q", freq)
		}
		input.PaymentFrequency = canonical
	case domain.ModeAccumulation:
		input.InitialContributionPercentage, _ = f.GetFloat64("initial")
		input.MonthlyPayment, _ = f.GetFloat64("monthly")
		p, _ := f.GetString("punctuality")
		input.Punctuality = domain.Punctuality(p)
	default:
		return domain.CalculationResult{}, fmt.Errorf("modalidad desconocida: %q", mode)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Backend.Timeout)
	defer cancel()
	result, err := deps.calc.Calculate(ctx, input)
	if err != nil {
		return domain.CalculationResult{}, errors.New(service.UserMessage(err))
	}
	return result, nil
}

func writeResult(w io.Writer, result domain.CalculationResult, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(result)
	case "table", "":
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		for _, line := range service.SummarizeCalculation(&result) {
			fmt.Fprintf(tw, "%s\t%s\n", line.Label, line.Value)
		}
		return tw.Flush()
	}
	return fmt.Errorf("formato de salida desconocido: %q", format)
}

func planTable(c config.PlansConfig) service.PlanTable {
	table := service.DefaultPlanTable()
	if len(c.ByDownPayment) > 0 {
		table.ByDownPayment = make(map[int]int, len(c.ByDownPayment))
		for pct, plan := range c.ByDownPayment {
			n, err := strconv.Atoi(pct)
			if err != nil {
				logger.WithField("key", pct).Warn("Porcentaje de inicial inválido en plans.by_down_payment, se ignora")
				continue
			}
			table.ByDownPayment[n] = plan
		}
	}
	if c.Default > 0 {
		table.Default = c.Default
	}
	if c.AccumulationPlan > 0 {
		table.AccumulationPlan = c.AccumulationPlan
	}
	return table
}

func bonusRule(c config.BonusConfig) service.BonusRule {
	return service.BonusRule{
		PointsPerMonth: map[domain.Punctuality]int{
			domain.PunctualityEarly:  c.PointsEarly,
			domain.PunctualityOnTime: c.PointsOnTime,
			domain.PunctualityLate:   c.PointsLate,
		},
		PointsPerReducedMonth: c.PointsPerReducedMonth,
		MaxReducedMonths:      c.MaxReducedMonths,
	}
}
