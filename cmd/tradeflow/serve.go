package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/seaquant/tradeflow/api"
	"github.com/seaquant/tradeflow/internal/broker"
	"github.com/seaquant/tradeflow/internal/config"
	"github.com/seaquant/tradeflow/internal/convert"
	"github.com/seaquant/tradeflow/internal/executor"
	"github.com/seaquant/tradeflow/internal/ledger"
	"github.com/seaquant/tradeflow/internal/ordermgr"
	"github.com/seaquant/tradeflow/internal/risk"
	"github.com/seaquant/tradeflow/internal/router"
	"github.com/seaquant/tradeflow/internal/signal"
	"github.com/seaquant/tradeflow/internal/store"
	"github.com/seaquant/tradeflow/pkg/models"
	"github.com/seaquant/tradeflow/pkg/utils"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the trading engine: API server, signal pipeline and scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runEngine(ctx)
	},
}

// runEngine wires every component and serves until ctx is cancelled.
func runEngine(ctx context.Context) error {
	// Broker.
	b, err := buildBroker(cfg)
	if err != nil {
		return err
	}
	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err = b.Connect(connectCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("connect %s: %w", b.Name(), err)
	}
	defer b.Disconnect(context.Background())
	log.Info().Str("broker", b.Name()).Msg("broker connected")

	// Router: one configured broker handles listed equities and ETFs and
	// catches everything else as the fallback.
	rtr := router.New(&router.Config{HistorySize: cfg.Router.HistorySize}, log)
	if err := rtr.Register(router.Registration{
		Name:     b.Name(),
		Broker:   b,
		Classes:  []models.AssetClass{models.AssetEquity, models.AssetETF},
		Priority: 1,
	}); err != nil {
		return err
	}
	if err := rtr.SetFallback(b.Name()); err != nil {
		return err
	}

	// Order, risk and conversion layers.
	orders := ordermgr.New(nil, log)
	rc, err := riskConfig(cfg.Risk)
	if err != nil {
		return err
	}
	riskMgr := risk.New(rc, log)
	convCfg, err := convert.FromConfig(cfg.Converter)
	if err != nil {
		return err
	}
	execCfg, err := executor.FromConfig(cfg.Executor)
	if err != nil {
		return err
	}

	// Persistence and the CGT ledger.
	var st *store.Store
	if cfg.Store.Path != "" {
		st, err = store.Open(cfg.Store.Path, log)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer st.Close()
	}
	rules, err := ledgerRules(cfg.Ledger)
	if err != nil {
		return err
	}
	ldgr := ledger.New(&rules)
	if st != nil {
		ldgr.WithStore(st.Trades)
	}

	// API server over the live components.
	srv, err := api.New(api.Options{
		Config:  cfg,
		Orders:  orders,
		Broker:  b,
		Brokers: rtr,
		Risk:    riskMgr,
		Loader:  newLoader(cfg.MarketData.DataDir),
		Logger:  log,
		Version: version,
	})
	if err != nil {
		return err
	}

	// Execution pipeline. Every finalized result goes to the stream;
	// fills are booked into the ledger.
	exec, err := executor.New(executor.Options{
		Broker:    b,
		Orders:    orders,
		Risk:      riskMgr,
		Converter: convert.New(convCfg),
		Config:    execCfg,
		Logger:    log,
		OnResult: func(res *executor.ExecutionResult) {
			srv.Hub().Broadcast(api.Event{Type: "execution", Data: res})
			if res.Outcome == executor.OutcomeFilled && res.Order != nil {
				bookFill(ldgr, res.Order)
			}
		},
	})
	if err != nil {
		return err
	}

	// Signal sources feed the executor until shutdown.
	if sources := buildSources(cfg.Signals); len(sources) > 0 {
		stream := signal.NewMux(log, sources...).Start(ctx)
		go func() {
			if err := exec.Run(ctx, stream); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("signal pipeline stopped")
			}
		}()
	}

	// Scheduled jobs run on the exchange clock.
	sched := cron.New(cron.WithLocation(utils.Sydney))
	if _, err := sched.AddFunc(cfg.Scheduler.DailyResetCron, func() {
		riskMgr.ResetDailyLimits()
		log.Info().Msg("daily risk limits reset")
	}); err != nil {
		return fmt.Errorf("scheduler daily reset: %w", err)
	}
	if _, err := sched.AddFunc(cfg.Scheduler.LedgerFlushCron, func() {
		logLedgerReport(ldgr)
	}); err != nil {
		return fmt.Errorf("scheduler ledger flush: %w", err)
	}
	sched.Start()
	defer sched.Stop()

	addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
	return srv.ListenAndServe(ctx, addr)
}

// buildBroker constructs the configured default broker.
func buildBroker(cfg *config.Config) (broker.Broker, error) {
	switch cfg.Broker.Provider {
	case "", "paper":
		pcfg, err := paperBrokerConfig(cfg.Broker.Paper)
		if err != nil {
			return nil, err
		}
		return broker.NewPaper(pcfg), nil
	case "alpaca":
		if cfg.Broker.Alpaca.APIKey == "" || cfg.Broker.Alpaca.APISecret == "" {
			return nil, fmt.Errorf("alpaca: api_key and api_secret are required")
		}
		return broker.NewAlpaca(&broker.AlpacaConfig{
			APIKey:        cfg.Broker.Alpaca.APIKey,
			APISecret:     cfg.Broker.Alpaca.APISecret,
			Paper:         cfg.Broker.Alpaca.Paper,
			RatePerMinute: cfg.Broker.Alpaca.RequestsPerMinute,
		}), nil
	case "ibkr":
		return broker.NewIBKR(&broker.IBKRConfig{
			Host:     cfg.Broker.IBKR.Host,
			Port:     cfg.Broker.IBKR.Port,
			ClientID: cfg.Broker.IBKR.ClientID,
			Live:     cfg.Broker.IBKR.Live,
		}), nil
	}
	return nil, fmt.Errorf("unknown broker provider %q (paper, alpaca, ibkr)", cfg.Broker.Provider)
}

// buildSources assembles the configured live signal sources.
func buildSources(sc config.SignalsConfig) []signal.Source {
	var sources []signal.Source
	if sc.NewsEnabled && len(sc.Watchlist) > 0 {
		sources = append(sources, signal.NewNews(signal.NewsConfig{
			Symbols:       sc.Watchlist,
			PollInterval:  time.Duration(sc.NewsPollSeconds) * time.Second,
			MinConfidence: sc.NewsMinConfidence,
		}, log))
	}
	return sources
}

// ledgerRules translates the ledger config block.
func ledgerRules(lc config.LedgerConfig) (ledger.Rules, error) {
	rules := ledger.DefaultRules()
	if lc.BaseCurrency != "" {
		rules.BaseCurrency = models.NormalizeCurrency(lc.BaseCurrency)
	}
	if lc.DiscountDays > 0 {
		rules.DiscountDays = lc.DiscountDays
	}
	if lc.FYStartMonth >= 1 && lc.FYStartMonth <= 12 {
		rules.FYStartMonth = time.Month(lc.FYStartMonth)
	}
	if lc.DiscountFactor != "" {
		d, err := parseDec("ledger.discount_factor", lc.DiscountFactor)
		if err != nil {
			return rules, err
		}
		rules.DiscountFactor = d
	}
	return rules, nil
}

// bookFill records a completed entry order in the CGT ledger.
func bookFill(ldgr *ledger.Ledger, o *models.Order) {
	if !o.FilledQuantity.IsPositive() || !o.AvgFillPrice.Valid {
		return
	}
	at := o.FilledAt
	if at.IsZero() {
		at = o.UpdatedAt
	}
	fill := models.Fill{
		OrderID:    o.ID,
		Symbol:     o.Symbol,
		Side:       o.Side,
		Quantity:   o.FilledQuantity,
		Price:      o.AvgFillPrice.Decimal,
		Commission: decimal.Zero,
		Timestamp:  at,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := ldgr.RecordFill(ctx, fill, 0); err != nil {
		log.Error().Err(err).Str("order_id", o.ID).Msg("ledger booking failed")
	}
}

// logLedgerReport logs the tax-year-to-date CGT totals at end of day.
func logLedgerReport(ldgr *ledger.Ledger) {
	now := time.Now().In(utils.Sydney)
	taxYear := ldgr.Rules().TaxYear(now)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rep, err := ldgr.Report(ctx, taxYear)
	if err != nil {
		log.Error().Err(err).Str("tax_year", taxYear).Msg("ledger report failed")
		return
	}
	log.Info().
		Str("tax_year", rep.TaxYear).
		Int("sells", rep.Sells).
		Int("discounted_sells", rep.DiscountedSells).
		Str("gross_gain", rep.GrossGain.String()).
		Str("gross_loss", rep.GrossLoss.String()).
		Str("net_gain", rep.NetGain.String()).
		Msg("end-of-day ledger report")
}
