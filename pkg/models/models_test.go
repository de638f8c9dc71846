package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ════════════════════════════════════════════════════════════════════
// Decimal policy
// ════════════════════════════════════════════════════════════════════

func TestParseDecimalRoundTrip(t *testing.T) {
	cases := []string{"100.1234", "0.00000001", "42", "-3.5000"}
	for _, s := range cases {
		d, err := ParseDecimal(s)
		if err != nil {
			t.Fatalf("ParseDecimal(%q): %v", s, err)
		}
		back, err := ParseDecimal(d.String())
		if err != nil {
			t.Fatalf("re-parse %q: %v", d.String(), err)
		}
		if !back.Equal(d) {
			t.Errorf("round trip changed value: %s -> %s", s, back)
		}
	}
	if _, err := ParseDecimal("not-a-number"); err == nil {
		t.Errorf("expected error for malformed input")
	}
}

func TestRoundQuantityNeverRoundsUp(t *testing.T) {
	q := MustDecimal("10.99999")
	got := RoundQuantity(q)
	if got.GreaterThan(q) {
		t.Errorf("RoundQuantity rounded up: %s -> %s", q, got)
	}
	if want := MustDecimal("10.9999"); !got.Equal(want) {
		t.Errorf("expected %s, got %s", want, got)
	}
}

func TestRoundValueBankers(t *testing.T) {
	// Half-even: .00005 ties round to the even neighbor.
	if got := RoundValue(MustDecimal("1.00025")); !got.Equal(MustDecimal("1.0002")) {
		t.Errorf("expected 1.0002, got %s", got)
	}
	if got := RoundValue(MustDecimal("1.00035")); !got.Equal(MustDecimal("1.0004")) {
		t.Errorf("expected 1.0004, got %s", got)
	}
}

// ════════════════════════════════════════════════════════════════════
// Bars
// ════════════════════════════════════════════════════════════════════

func validBar(day int, close string) Bar {
	c := MustDecimal(close)
	return Bar{
		Timestamp: date(2024, time.January, day),
		Open:      c.Sub(MustDecimal("1")),
		High:      c.Add(MustDecimal("2")),
		Low:       c.Sub(MustDecimal("2")),
		Close:     c,
		Volume:    1000,
	}
}

func TestBarValidate(t *testing.T) {
	if err := validBar(2, "100").Validate(); err != nil {
		t.Fatalf("valid bar rejected: %v", err)
	}
	bad := validBar(2, "100")
	bad.Low = MustDecimal("150")
	if err := bad.Validate(); err == nil {
		t.Errorf("expected error for low above open/close")
	}
	neg := validBar(2, "100")
	neg.Open = MustDecimal("-5")
	if err := neg.Validate(); err == nil {
		t.Errorf("expected error for negative price")
	}
	vol := validBar(2, "100")
	vol.Volume = -1
	if err := vol.Validate(); err == nil {
		t.Errorf("expected error for negative volume")
	}
}

func TestSeriesGetBarAndSlice(t *testing.T) {
	s := Series{Ticker: "AAPL", Interval: Interval1Day, Bars: []Bar{
		validBar(2, "100"), validBar(3, "101"), validBar(4, "102"), validBar(5, "103"),
	}}
	if err := s.Validate(); err != nil {
		t.Fatalf("series invalid: %v", err)
	}

	b, ok := s.GetBar(date(2024, time.January, 3))
	if !ok || !b.Close.Equal(MustDecimal("101")) {
		t.Errorf("GetBar(jan 3): ok=%v close=%s", ok, b.Close)
	}
	if _, ok := s.GetBar(date(2024, time.January, 9)); ok {
		t.Errorf("GetBar on missing date should report absence")
	}

	sub := s.Slice(date(2024, time.January, 3), date(2024, time.January, 4))
	if sub.Len() != 2 {
		t.Fatalf("expected 2 bars in slice, got %d", sub.Len())
	}
	if !sub.Bars[0].Close.Equal(MustDecimal("101")) {
		t.Errorf("slice starts at wrong bar: %s", sub.Bars[0].Close)
	}

	last, ok := s.BarOnOrBefore(date(2024, time.January, 7))
	if !ok || !last.Close.Equal(MustDecimal("103")) {
		t.Errorf("BarOnOrBefore: ok=%v close=%s", ok, last.Close)
	}
}

// ════════════════════════════════════════════════════════════════════
// Order requests
// ════════════════════════════════════════════════════════════════════

func TestOrderRequestValidate(t *testing.T) {
	market := OrderRequest{Symbol: "AAPL", Side: SideBuy, Quantity: MustDecimal("10"), Type: OrderTypeMarket}
	if err := market.Validate(); err != nil {
		t.Errorf("market order rejected: %v", err)
	}

	limitNoPrice := OrderRequest{Symbol: "AAPL", Side: SideBuy, Quantity: MustDecimal("10"), Type: OrderTypeLimit}
	if err := limitNoPrice.Validate(); err == nil {
		t.Errorf("limit without limit_price should fail")
	}

	zeroQty := OrderRequest{Symbol: "AAPL", Side: SideSell, Quantity: decimal.Zero, Type: OrderTypeMarket}
	if err := zeroQty.Validate(); err == nil {
		t.Errorf("zero quantity should fail")
	}

	stopLimit := OrderRequest{
		Symbol: "AAPL", Side: SideSell, Quantity: MustDecimal("5"), Type: OrderTypeStopLimit,
		LimitPrice: NullDecimalFrom(MustDecimal("95")),
	}
	if err := stopLimit.Validate(); err == nil {
		t.Errorf("stop_limit without stop_price should fail")
	}

	trail := OrderRequest{Symbol: "AAPL", Side: SideSell, Quantity: MustDecimal("5"), Type: OrderTypeTrailingStop}
	if err := trail.Validate(); err == nil {
		t.Errorf("trailing_stop without trail fields should fail")
	}
	trail.TrailPercent = NullDecimalFrom(MustDecimal("2"))
	if err := trail.Validate(); err != nil {
		t.Errorf("trailing_stop with trail_percent rejected: %v", err)
	}

	badTIF := market
	badTIF.TimeInForce = TimeInForce("forever")
	if err := badTIF.Validate(); err == nil {
		t.Errorf("unknown time in force should fail")
	}
}

func TestOrderStatusSets(t *testing.T) {
	open := []OrderStatus{StatusPendingNew, StatusNew, StatusPartiallyFilled, StatusPendingCancel}
	terminal := []OrderStatus{StatusFilled, StatusCancelled, StatusRejected, StatusExpired, StatusReplaced}
	for _, s := range open {
		if !s.IsOpen() || s.IsTerminal() {
			t.Errorf("%s should be open and not terminal", s)
		}
	}
	for _, s := range terminal {
		if s.IsOpen() || !s.IsTerminal() {
			t.Errorf("%s should be terminal and not open", s)
		}
	}
}

// ════════════════════════════════════════════════════════════════════
// Fills and portfolio accounting
// ════════════════════════════════════════════════════════════════════

func TestFillTotalCost(t *testing.T) {
	f := Fill{Symbol: "AAPL", Side: SideBuy, Quantity: MustDecimal("10"), Price: MustDecimal("100"), Commission: MustDecimal("5")}
	if got := f.TotalCost(); !got.Equal(MustDecimal("1005")) {
		t.Errorf("buy cost: expected 1005, got %s", got)
	}
	f.Side = SideSell
	if got := f.TotalCost(); !got.Equal(MustDecimal("995")) {
		t.Errorf("sell proceeds: expected 995, got %s", got)
	}
}

func TestApplyFillWeightedAverage(t *testing.T) {
	pf, err := NewPortfolio(MustDecimal("100000"), "aud")
	if err != nil {
		t.Fatalf("NewPortfolio: %v", err)
	}
	if pf.Currency != "AUD" {
		t.Errorf("currency not normalized: %q", pf.Currency)
	}

	buy := func(qty, price string) {
		t.Helper()
		f := Fill{Symbol: "AAPL", Side: SideBuy, Quantity: MustDecimal(qty), Price: MustDecimal(price), Timestamp: date(2024, time.March, 1)}
		if err := pf.ApplyFill(f); err != nil {
			t.Fatalf("ApplyFill buy %s@%s: %v", qty, price, err)
		}
	}

	buy("10", "100")
	buy("10", "110")

	pos, ok := pf.Position("AAPL")
	if !ok {
		t.Fatalf("position missing after buys")
	}
	if !pos.Quantity.Equal(MustDecimal("20")) {
		t.Errorf("quantity: expected 20, got %s", pos.Quantity)
	}
	if !pos.AvgEntryPrice.Equal(MustDecimal("105")) {
		t.Errorf("avg entry: expected 105, got %s", pos.AvgEntryPrice)
	}
	if pos.Side != PositionLong {
		t.Errorf("side: expected long, got %s", pos.Side)
	}
	if want := MustDecimal("97900"); !pf.Cash.Equal(want) {
		t.Errorf("cash: expected %s, got %s", want, pf.Cash)
	}
}

func TestApplyFillRealizesPnL(t *testing.T) {
	pf, _ := NewPortfolio(MustDecimal("10000"), "AUD")
	in := Fill{Symbol: "BHP.AX", Side: SideBuy, Quantity: MustDecimal("50"), Price: MustDecimal("40"), Timestamp: date(2024, time.March, 1)}
	if err := pf.ApplyFill(in); err != nil {
		t.Fatalf("open: %v", err)
	}
	out := Fill{Symbol: "BHP.AX", Side: SideSell, Quantity: MustDecimal("50"), Price: MustDecimal("44"), Commission: MustDecimal("10"), Timestamp: date(2024, time.April, 1)}
	if err := pf.ApplyFill(out); err != nil {
		t.Fatalf("close: %v", err)
	}

	// 50 × (44 − 40) − 10 commission.
	if want := MustDecimal("190"); !pf.TotalRealizedPnL.Equal(want) {
		t.Errorf("realized: expected %s, got %s", want, pf.TotalRealizedPnL)
	}
	if _, ok := pf.Position("BHP.AX"); ok {
		t.Errorf("flat position should be deleted")
	}
	if !pf.DailyPnL.Equal(MustDecimal("190")) {
		t.Errorf("daily pnl: expected 190, got %s", pf.DailyPnL)
	}
}

func TestApplyFillFlipThroughZero(t *testing.T) {
	pf, _ := NewPortfolio(MustDecimal("100000"), "AUD")
	if err := pf.ApplyFill(Fill{Symbol: "AAPL", Side: SideBuy, Quantity: MustDecimal("10"), Price: MustDecimal("100"), Timestamp: date(2024, time.March, 1)}); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := pf.ApplyFill(Fill{Symbol: "AAPL", Side: SideSell, Quantity: MustDecimal("15"), Price: MustDecimal("120"), Timestamp: date(2024, time.March, 5)}); err != nil {
		t.Fatalf("flip: %v", err)
	}
	pos, ok := pf.Position("AAPL")
	if !ok {
		t.Fatalf("expected short remainder")
	}
	if !pos.Quantity.Equal(MustDecimal("-5")) || pos.Side != PositionShort {
		t.Errorf("expected -5 short, got %s %s", pos.Quantity, pos.Side)
	}
	if !pos.AvgEntryPrice.Equal(MustDecimal("120")) {
		t.Errorf("remainder should open at fill price, got %s", pos.AvgEntryPrice)
	}
	// Realized only on the closed 10: 10 × (120 − 100).
	if want := MustDecimal("200"); !pf.TotalRealizedPnL.Equal(want) {
		t.Errorf("realized: expected %s, got %s", want, pf.TotalRealizedPnL)
	}
}

func TestApplyFillInsufficientCash(t *testing.T) {
	pf, _ := NewPortfolio(MustDecimal("100"), "AUD")
	err := pf.ApplyFill(Fill{Symbol: "AAPL", Side: SideBuy, Quantity: MustDecimal("10"), Price: MustDecimal("100"), Timestamp: date(2024, time.March, 1)})
	if err == nil {
		t.Fatalf("expected rejection when cost exceeds cash")
	}
	if !pf.Cash.Equal(MustDecimal("100")) {
		t.Errorf("cash mutated on rejected fill: %s", pf.Cash)
	}
	if len(pf.Positions) != 0 {
		t.Errorf("position created on rejected fill")
	}
}

// Cash conservation with zero commissions:
// cash + Σ cost_basis − Σ realized_pnl stays at initial capital.
func TestPortfolioCashConservation(t *testing.T) {
	pf, _ := NewPortfolio(MustDecimal("50000"), "AUD")
	fills := []Fill{
		{Symbol: "A", Side: SideBuy, Quantity: MustDecimal("10"), Price: MustDecimal("100")},
		{Symbol: "B", Side: SideBuy, Quantity: MustDecimal("20"), Price: MustDecimal("50")},
		{Symbol: "A", Side: SideSell, Quantity: MustDecimal("4"), Price: MustDecimal("110")},
		{Symbol: "B", Side: SideBuy, Quantity: MustDecimal("5"), Price: MustDecimal("60")},
		{Symbol: "B", Side: SideSell, Quantity: MustDecimal("25"), Price: MustDecimal("45")},
	}
	for i, f := range fills {
		f.Timestamp = date(2024, time.March, i+1)
		if err := pf.ApplyFill(f); err != nil {
			t.Fatalf("fill %d: %v", i, err)
		}
	}
	basis := decimal.Zero
	for _, p := range pf.Positions {
		basis = basis.Add(p.CostBasis())
	}
	got := pf.Cash.Add(basis).Sub(pf.TotalRealizedPnL)
	if !got.Equal(MustDecimal("50000")) {
		t.Errorf("conservation violated: %s", got)
	}
}

func TestPortfolioDrawdown(t *testing.T) {
	pf, _ := NewPortfolio(MustDecimal("1000"), "AUD")
	pf.UpdatePeakEquity(MustDecimal("1200"))
	pf.UpdatePeakEquity(MustDecimal("1100")) // peak is monotone
	if !pf.PeakEquity.Equal(MustDecimal("1200")) {
		t.Errorf("peak should stay 1200, got %s", pf.PeakEquity)
	}
	if dd := pf.Drawdown(); !dd.Equal(MustDecimal("200")) {
		t.Errorf("drawdown: expected 200, got %s", dd)
	}
}

// ════════════════════════════════════════════════════════════════════
// Signals, currency, settings
// ════════════════════════════════════════════════════════════════════

func TestSignalValidate(t *testing.T) {
	good := TradingSignal{Symbol: "AAPL", Type: SignalBuy, Confidence: 0.8, Timestamp: time.Now(), Source: "test"}
	if err := good.Validate(); err != nil {
		t.Errorf("valid signal rejected: %v", err)
	}
	bad := good
	bad.Confidence = 1.5
	if err := bad.Validate(); err == nil {
		t.Errorf("confidence above 1 should fail")
	}
	hold := good
	hold.Type = SignalHold
	if hold.IsActionable() {
		t.Errorf("hold is not actionable")
	}
}

func TestDecisionFlatten(t *testing.T) {
	d := TradingDecision{
		Symbol: "AAPL", Action: SignalBuy, Confidence: 0.7,
		Rationale: "momentum turning", Source: "committee",
	}
	sig := d.Flatten(date(2024, time.May, 1))
	if sig.Type != SignalBuy || sig.Symbol != "AAPL" {
		t.Errorf("flatten lost identity: %+v", sig)
	}
	if sig.Metadata["rationale"] != "momentum turning" {
		t.Errorf("rationale should travel in metadata")
	}
}

func TestNormalizeCurrencyIdempotent(t *testing.T) {
	once := NormalizeCurrency(" aud ")
	twice := NormalizeCurrency(once)
	if once != "AUD" || twice != once {
		t.Errorf("normalization not idempotent: %q %q", once, twice)
	}
}

func TestSettingsValidate(t *testing.T) {
	s := Settings{
		RiskProfile:         RiskModerate,
		RiskScore:           5,
		MaxPositionPct:      MustDecimal("20"),
		MaxPortfolioRiskPct: MustDecimal("40"),
	}
	if err := s.Validate(); err != nil {
		t.Errorf("valid settings rejected: %v", err)
	}
	s.RiskScore = 11
	if err := s.Validate(); err == nil {
		t.Errorf("risk score above 10 should fail")
	}
}

func TestAlertPreferencesReassignment(t *testing.T) {
	base := AlertPreferences{ChannelEmail: {Enabled: true, Address: "a@b.c"}}
	next := base.WithChannel(ChannelSMS, ChannelPrefs{Enabled: true, Address: "+614"})
	if len(base) != 1 {
		t.Errorf("WithChannel mutated the receiver")
	}
	if len(next) != 2 || !next[ChannelSMS].Enabled {
		t.Errorf("WithChannel did not add the channel")
	}
}

// ════════════════════════════════════════════════════════════════════
// Backtest config and result round-trip
// ════════════════════════════════════════════════════════════════════

func TestBacktestConfigValidate(t *testing.T) {
	cfg := BacktestConfig{
		Name:      "sma-test",
		Tickers:   []string{"aapl", "bhp.ax"},
		StartDate: date(2024, time.January, 1),
		EndDate:   date(2024, time.June, 30),
		Portfolio: DefaultPortfolioConfig(),
	}
	cfg.Normalize()
	if cfg.Tickers[0] != "AAPL" || cfg.Tickers[1] != "BHP.AX" {
		t.Errorf("tickers not normalized: %v", cfg.Tickers)
	}
	if cfg.Interval != Interval1Day {
		t.Errorf("interval should default to 1d")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}

	bad := cfg
	bad.StartDate, bad.EndDate = bad.EndDate, bad.StartDate
	if err := bad.Validate(); err == nil {
		t.Errorf("start after end should fail")
	}
}

func TestPortfolioConfigValidate(t *testing.T) {
	cfg := DefaultPortfolioConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	cfg.MaxPositionSizePercent = decimal.Zero
	if err := cfg.Validate(); err == nil {
		t.Errorf("zero max position size should fail")
	}
	cfg = DefaultPortfolioConfig()
	cfg.MaxCommission = NullDecimalFrom(MustDecimal("1"))
	cfg.MinCommission = MustDecimal("5")
	if err := cfg.Validate(); err == nil {
		t.Errorf("max commission below min should fail")
	}
}

func TestBacktestResultJSONRoundTrip(t *testing.T) {
	res := BacktestResult{
		ID: "bt-1",
		Config: BacktestConfig{
			Name:      "roundtrip",
			Tickers:   []string{"AAPL", "MSFT"},
			StartDate: date(2024, time.January, 1),
			EndDate:   date(2024, time.June, 30),
			Interval:  Interval1Day,
			Portfolio: DefaultPortfolioConfig(),
		},
		Status: BacktestCompleted,
	}
	raw, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back BacktestResult
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Config.Name != "roundtrip" {
		t.Errorf("name lost: %q", back.Config.Name)
	}
	if len(back.Config.Tickers) != 2 || back.Config.Tickers[0] != "AAPL" {
		t.Errorf("tickers lost: %v", back.Config.Tickers)
	}
	if !back.Config.StartDate.Equal(res.Config.StartDate) || !back.Config.EndDate.Equal(res.Config.EndDate) {
		t.Errorf("dates lost")
	}
	if !back.Config.Portfolio.InitialCash.Equal(res.Config.Portfolio.InitialCash) {
		t.Errorf("initial cash lost: %s", back.Config.Portfolio.InitialCash)
	}
}
