package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/seaquant/tradeflow/internal/broker"
	"github.com/seaquant/tradeflow/internal/config"
	"github.com/seaquant/tradeflow/internal/convert"
	"github.com/seaquant/tradeflow/internal/executor"
	"github.com/seaquant/tradeflow/internal/ordermgr"
	"github.com/seaquant/tradeflow/internal/risk"
	"github.com/seaquant/tradeflow/pkg/models"
)

var paperCmd = &cobra.Command{
	Use:   "paper [symbol]",
	Short: "Execute one signal against the paper broker",
	Long: `Run a single trading signal through the full execution pipeline
(sizing, stops, risk checks, submission) against the in-memory paper
broker, seeded with the given market price.

Examples:
  tradeflow paper BHP.AX --price 42.50
  tradeflow paper CBA.AX --price 110 --side sell --confidence 0.9`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		symbol := models.NormalizeTicker(args[0])
		side, _ := cmd.Flags().GetString("side")
		priceStr, _ := cmd.Flags().GetString("price")
		confidence, _ := cmd.Flags().GetFloat64("confidence")
		strength, _ := cmd.Flags().GetFloat64("strength")

		var sigType models.SignalType
		switch side {
		case "buy":
			sigType = models.SignalBuy
		case "sell":
			sigType = models.SignalSell
		default:
			return fmt.Errorf("invalid --side %q: use buy or sell", side)
		}
		if priceStr == "" {
			return fmt.Errorf("--price is required to seed the simulated market")
		}
		price, err := models.ParseDecimal(priceStr)
		if err != nil || !price.IsPositive() {
			return fmt.Errorf("invalid --price %q: need a positive decimal", priceStr)
		}

		pcfg, err := paperBrokerConfig(cfg.Broker.Paper)
		if err != nil {
			return err
		}
		pcfg.Prices = map[string]decimal.Decimal{symbol: price}
		pb := broker.NewPaper(pcfg)

		ctx := cmd.Context()
		if err := pb.Connect(ctx); err != nil {
			return fmt.Errorf("connect paper broker: %w", err)
		}

		rc, err := riskConfig(cfg.Risk)
		if err != nil {
			return err
		}
		convCfg, err := convert.FromConfig(cfg.Converter)
		if err != nil {
			return err
		}
		execCfg, err := executor.FromConfig(cfg.Executor)
		if err != nil {
			return err
		}
		exec, err := executor.New(executor.Options{
			Broker:    pb,
			Orders:    ordermgr.New(nil, log),
			Risk:      risk.New(rc, log),
			Converter: convert.New(convCfg),
			Config:    execCfg,
			Logger:    log,
		})
		if err != nil {
			return err
		}

		sig := models.TradingSignal{
			ID:         uuid.NewString(),
			Symbol:     symbol,
			Type:       sigType,
			Strength:   strength,
			Confidence: confidence,
			Timestamp:  time.Now().UTC(),
			Source:     "cli",
		}

		res := exec.ExecuteSignal(ctx, sig)
		printExecution(res)

		switch res.Outcome {
		case executor.OutcomeRiskRejected:
			return exitWith(3, "risk rejected %s %s", side, symbol)
		case executor.OutcomeFilled, executor.OutcomeSkipped:
			return nil
		default:
			return fmt.Errorf("execution %s: %s", res.Outcome, res.Error)
		}
	},
}

func init() {
	paperCmd.Flags().String("side", "buy", "signal side: buy or sell")
	paperCmd.Flags().String("price", "", "simulated market price for the symbol (required)")
	paperCmd.Flags().Float64("confidence", 0.8, "signal confidence in [0,1]")
	paperCmd.Flags().Float64("strength", 0.5, "signal strength in [0,1]")
}

// paperBrokerConfig translates the string-typed paper block.
func paperBrokerConfig(pc config.PaperConfig) (*broker.PaperConfig, error) {
	cash, err := parseDec("broker.paper.initial_cash", pc.InitialCash)
	if err != nil {
		return nil, err
	}
	slippage, err := parseDec("broker.paper.slippage_percent", pc.SlippagePercent)
	if err != nil {
		return nil, err
	}
	commission, err := parseDec("broker.paper.commission_fixed", pc.CommissionFixed)
	if err != nil {
		return nil, err
	}
	return &broker.PaperConfig{
		InitialCash:     cash,
		Currency:        pc.Currency,
		SlippagePercent: slippage,
		FillProbability: pc.FillProbability,
		Commission:      commission,
	}, nil
}

// printExecution renders one pipeline result.
func printExecution(res *executor.ExecutionResult) {
	fmt.Println("═══════════════════════════════════════")
	fmt.Printf("  %s %s — %s\n", res.SignalType, res.Symbol, res.Outcome)
	fmt.Println("═══════════════════════════════════════")
	if res.Order != nil {
		o := res.Order
		fmt.Printf("  Order:       %s %s %s @ %s\n", o.Side, o.Quantity, o.Symbol, fillPrice(o))
		fmt.Printf("  Status:      %s (filled %s)\n", o.Status, o.FilledQuantity)
		for _, leg := range res.Bracket {
			fmt.Printf("  Bracket:     %s %s (%s)\n", leg.Side, leg.Type, leg.ClientOrderID)
		}
	}
	for _, v := range res.Violations {
		fmt.Printf("  Violation:   [%s] %s\n", v.RuleName, v.Message)
	}
	if res.Error != "" {
		fmt.Printf("  Error:       %s\n", res.Error)
	}
	if res.Attempts > 1 {
		fmt.Printf("  Attempts:    %d\n", res.Attempts)
	}
	fmt.Printf("  Elapsed:     %s\n", res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond))
	fmt.Println("═══════════════════════════════════════")
}

// fillPrice renders the average fill price, falling back to the limit.
func fillPrice(o *models.Order) string {
	if o.AvgFillPrice.Valid {
		return o.AvgFillPrice.Decimal.StringFixed(4)
	}
	if o.LimitPrice.Valid {
		return o.LimitPrice.Decimal.StringFixed(4)
	}
	return "market"
}
