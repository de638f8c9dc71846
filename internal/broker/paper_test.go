package broker

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/seaquant/tradeflow/pkg/models"
)

// ════════════════════════════════════════════════════════════════════
// Paper Broker Tests
// ════════════════════════════════════════════════════════════════════

func TestNewPaper_Defaults(t *testing.T) {
	pb := NewPaper(nil)

	if pb.Name() != "paper" {
		t.Errorf("expected name 'paper', got '%s'", pb.Name())
	}

	ctx := context.Background()
	account, err := pb.GetAccount(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !account.Cash.Equal(dec("100000")) {
		t.Errorf("expected default cash 100000, got %s", account.Cash)
	}
	if account.Currency != "AUD" {
		t.Errorf("expected AUD default currency, got %s", account.Currency)
	}
	if !account.BuyingPower.Equal(account.Cash) {
		t.Errorf("buying power %s should equal cash %s", account.BuyingPower, account.Cash)
	}

	open, err := pb.IsMarketOpen(ctx)
	if err != nil || !open {
		t.Errorf("simulated market should always be open, got %v / %v", open, err)
	}
}

func TestNewPaper_CustomConfig(t *testing.T) {
	pb := NewPaper(&PaperConfig{
		InitialCash:     dec("250000"),
		Currency:        "usd",
		FillProbability: 1,
	})

	account, _ := pb.GetAccount(context.Background())
	if !account.Cash.Equal(dec("250000")) {
		t.Errorf("expected cash 250000, got %s", account.Cash)
	}
	if account.Currency != "USD" {
		t.Errorf("expected currency normalized to USD, got %s", account.Currency)
	}
}

func TestPaper_MarketBuyFills(t *testing.T) {
	pb := NewPaper(&PaperConfig{
		InitialCash:     dec("100000"),
		FillProbability: 1,
	})
	pb.SetPrice("AAPL", dec("100"))
	ctx := context.Background()

	order, err := pb.SubmitOrder(ctx, models.OrderRequest{
		Symbol:   "AAPL",
		Side:     models.SideBuy,
		Quantity: dec("10"),
		Type:     models.OrderTypeMarket,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.Status != models.StatusFilled {
		t.Errorf("expected filled, got %s", order.Status)
	}
	if !order.FilledQuantity.Equal(dec("10")) {
		t.Errorf("expected filled quantity 10, got %s", order.FilledQuantity)
	}
	if !order.AvgFillPrice.Valid || !order.AvgFillPrice.Decimal.Equal(dec("100")) {
		t.Errorf("expected avg fill price 100, got %v", order.AvgFillPrice)
	}

	account, _ := pb.GetAccount(ctx)
	if !account.Cash.Equal(dec("99000")) {
		t.Errorf("expected cash 99000 after fill, got %s", account.Cash)
	}

	position, err := pb.GetPosition(ctx, "AAPL")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !position.Quantity.Equal(dec("10")) {
		t.Errorf("expected position quantity 10, got %s", position.Quantity)
	}
	if !position.AvgEntryPrice.Equal(dec("100")) {
		t.Errorf("expected avg entry 100, got %s", position.AvgEntryPrice)
	}
	if position.Side != models.PositionLong {
		t.Errorf("expected long position, got %s", position.Side)
	}
}

func TestPaper_InsufficientFunds(t *testing.T) {
	pb := NewPaper(&PaperConfig{
		InitialCash:     dec("100"),
		FillProbability: 1,
	})
	pb.SetPrice("AAPL", dec("100"))
	ctx := context.Background()

	order, err := pb.SubmitOrder(ctx, models.OrderRequest{
		Symbol:   "AAPL",
		Side:     models.SideBuy,
		Quantity: dec("10"),
		Type:     models.OrderTypeMarket,
	})
	if err == nil {
		t.Fatal("expected insufficient funds error")
	}
	if !IsKind(err, KindInsufficientFunds) {
		t.Errorf("expected insufficient_funds kind, got %s", KindOf(err))
	}
	if order == nil || order.Status != models.StatusRejected {
		t.Errorf("expected rejected order returned alongside the error, got %+v", order)
	}

	account, _ := pb.GetAccount(ctx)
	if !account.Cash.Equal(dec("100")) {
		t.Errorf("cash should be unchanged at 100, got %s", account.Cash)
	}
	if _, err := pb.GetPosition(ctx, "AAPL"); !errors.Is(err, ErrPositionNotFound) {
		t.Errorf("no position should exist, got %v", err)
	}
}

func TestPaper_LimitMissRestsOpen(t *testing.T) {
	pb := NewPaper(&PaperConfig{FillProbability: 1})
	pb.SetPrice("AAPL", dec("100"))
	ctx := context.Background()

	order, err := pb.SubmitOrder(ctx, models.OrderRequest{
		Symbol:     "AAPL",
		Side:       models.SideBuy,
		Quantity:   dec("10"),
		Type:       models.OrderTypeLimit,
		LimitPrice: decimal.NewNullDecimal(dec("90")),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.Status != models.StatusNew {
		t.Errorf("expected new, got %s", order.Status)
	}
	if !order.FilledQuantity.IsZero() {
		t.Errorf("expected zero filled quantity, got %s", order.FilledQuantity)
	}

	account, _ := pb.GetAccount(ctx)
	if !account.Cash.Equal(dec("100000")) {
		t.Errorf("cash should be unchanged, got %s", account.Cash)
	}

	if err := pb.CancelOrder(ctx, order.ID); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	cancelled, _ := pb.GetOrder(ctx, order.ID)
	if cancelled.Status != models.StatusCancelled {
		t.Errorf("expected cancelled, got %s", cancelled.Status)
	}
}

func TestPaper_MarketableLimitFills(t *testing.T) {
	pb := NewPaper(&PaperConfig{FillProbability: 1})
	pb.SetPrice("AAPL", dec("100"))

	order, err := pb.SubmitOrder(context.Background(), models.OrderRequest{
		Symbol:     "AAPL",
		Side:       models.SideBuy,
		Quantity:   dec("5"),
		Type:       models.OrderTypeLimit,
		LimitPrice: decimal.NewNullDecimal(dec("105")),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.Status != models.StatusFilled {
		t.Errorf("marketable limit should fill, got %s", order.Status)
	}
	if !order.AvgFillPrice.Decimal.Equal(dec("100")) {
		t.Errorf("expected fill at market 100, got %s", order.AvgFillPrice.Decimal)
	}
}

func TestPaper_SlippageDirectional(t *testing.T) {
	pb := NewPaper(&PaperConfig{
		SlippagePercent: dec("1"),
		FillProbability: 1,
	})
	pb.SetPrice("AAPL", dec("100"))
	ctx := context.Background()

	buy, err := pb.SubmitOrder(ctx, models.OrderRequest{
		Symbol:   "AAPL",
		Side:     models.SideBuy,
		Quantity: dec("1"),
		Type:     models.OrderTypeMarket,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !buy.AvgFillPrice.Decimal.Equal(dec("101")) {
		t.Errorf("buy should pay slippage up, expected 101, got %s", buy.AvgFillPrice.Decimal)
	}

	sell, err := pb.SubmitOrder(ctx, models.OrderRequest{
		Symbol:   "MSFT",
		Side:     models.SideSell,
		Quantity: dec("1"),
		Type:     models.OrderTypeMarket,
	})
	if err == nil {
		t.Fatal("expected no price error for MSFT")
	}
	pb.SetPrice("MSFT", dec("100"))
	sell, err = pb.SubmitOrder(ctx, models.OrderRequest{
		Symbol:   "MSFT",
		Side:     models.SideSell,
		Quantity: dec("1"),
		Type:     models.OrderTypeMarket,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sell.AvgFillPrice.Decimal.Equal(dec("99")) {
		t.Errorf("sell should receive slippage down, expected 99, got %s", sell.AvgFillPrice.Decimal)
	}
}

func TestPaper_FillProbabilityZero(t *testing.T) {
	pb := NewPaper(&PaperConfig{FillProbability: 0})
	pb.SetPrice("AAPL", dec("100"))

	order, err := pb.SubmitOrder(context.Background(), models.OrderRequest{
		Symbol:   "AAPL",
		Side:     models.SideBuy,
		Quantity: dec("1"),
		Type:     models.OrderTypeMarket,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.Status != models.StatusNew {
		t.Errorf("zero fill probability should leave the order new, got %s", order.Status)
	}
}

func TestPaper_NoPriceRejects(t *testing.T) {
	pb := NewPaper(nil)

	order, err := pb.SubmitOrder(context.Background(), models.OrderRequest{
		Symbol:   "GHOST",
		Side:     models.SideBuy,
		Quantity: dec("1"),
		Type:     models.OrderTypeMarket,
	})
	if err == nil {
		t.Fatal("expected error for unknown symbol")
	}
	if !errors.Is(err, ErrNoPrice) {
		t.Errorf("expected ErrNoPrice in chain, got %v", err)
	}
	if order == nil || order.Status != models.StatusRejected {
		t.Errorf("expected rejected order, got %+v", order)
	}
}

func TestPaper_InvalidRequestRejects(t *testing.T) {
	pb := NewPaper(nil)

	order, err := pb.SubmitOrder(context.Background(), models.OrderRequest{
		Quantity: dec("10"),
	})
	if err == nil {
		t.Fatal("expected error for invalid request")
	}
	if !IsKind(err, KindOrderInvalid) {
		t.Errorf("expected order_invalid kind, got %s", KindOf(err))
	}
	if order == nil || order.RejectReason == "" {
		t.Error("expected rejected order with a reason")
	}
}

func TestPaper_StopOrdersRest(t *testing.T) {
	pb := NewPaper(&PaperConfig{FillProbability: 1})
	pb.SetPrice("AAPL", dec("100"))

	order, err := pb.SubmitOrder(context.Background(), models.OrderRequest{
		Symbol:    "AAPL",
		Side:      models.SideSell,
		Quantity:  dec("1"),
		Type:      models.OrderTypeStop,
		StopPrice: decimal.NewNullDecimal(dec("95")),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.Status != models.StatusNew {
		t.Errorf("stop order should rest as new, got %s", order.Status)
	}
}

func TestPaper_SellReducesAndRealizes(t *testing.T) {
	pb := NewPaper(&PaperConfig{
		InitialCash:     dec("100000"),
		FillProbability: 1,
	})
	pb.SetPrice("AAPL", dec("100"))
	ctx := context.Background()

	if _, err := pb.SubmitOrder(ctx, models.OrderRequest{
		Symbol:   "AAPL",
		Side:     models.SideBuy,
		Quantity: dec("10"),
		Type:     models.OrderTypeMarket,
	}); err != nil {
		t.Fatalf("buy failed: %v", err)
	}

	pb.SetPrice("AAPL", dec("110"))
	if _, err := pb.SubmitOrder(ctx, models.OrderRequest{
		Symbol:   "AAPL",
		Side:     models.SideSell,
		Quantity: dec("5"),
		Type:     models.OrderTypeMarket,
	}); err != nil {
		t.Fatalf("sell failed: %v", err)
	}

	position, err := pb.GetPosition(ctx, "AAPL")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !position.Quantity.Equal(dec("5")) {
		t.Errorf("expected remaining quantity 5, got %s", position.Quantity)
	}
	if !position.RealizedPnL.Equal(dec("50")) {
		t.Errorf("expected realized pnl 50, got %s", position.RealizedPnL)
	}

	account, _ := pb.GetAccount(ctx)
	// 100000 - 1000 + 550
	if !account.Cash.Equal(dec("99550")) {
		t.Errorf("expected cash 99550, got %s", account.Cash)
	}
}

func TestPaper_ShortThenCover(t *testing.T) {
	pb := NewPaper(&PaperConfig{FillProbability: 1})
	pb.SetPrice("AAPL", dec("100"))
	ctx := context.Background()

	if _, err := pb.SubmitOrder(ctx, models.OrderRequest{
		Symbol:   "AAPL",
		Side:     models.SideSell,
		Quantity: dec("10"),
		Type:     models.OrderTypeMarket,
	}); err != nil {
		t.Fatalf("short failed: %v", err)
	}

	position, _ := pb.GetPosition(ctx, "AAPL")
	if position.Side != models.PositionShort {
		t.Errorf("expected short, got %s", position.Side)
	}
	if !position.Quantity.Equal(dec("-10")) {
		t.Errorf("expected quantity -10, got %s", position.Quantity)
	}

	pb.SetPrice("AAPL", dec("90"))
	if _, err := pb.SubmitOrder(ctx, models.OrderRequest{
		Symbol:   "AAPL",
		Side:     models.SideBuy,
		Quantity: dec("10"),
		Type:     models.OrderTypeMarket,
	}); err != nil {
		t.Fatalf("cover failed: %v", err)
	}

	if _, err := pb.GetPosition(ctx, "AAPL"); !errors.Is(err, ErrPositionNotFound) {
		t.Errorf("position should be closed, got %v", err)
	}

	account, _ := pb.GetAccount(ctx)
	// 100000 + 1000 - 900 = 100100, including the 100 short gain
	if !account.Cash.Equal(dec("100100")) {
		t.Errorf("expected cash 100100, got %s", account.Cash)
	}
}

func TestPaper_CashConservation(t *testing.T) {
	pb := NewPaper(&PaperConfig{
		InitialCash:     dec("100000"),
		FillProbability: 1,
	})
	pb.SetPrice("AAPL", dec("100"))
	pb.SetPrice("MSFT", dec("200"))
	ctx := context.Background()

	steps := []models.OrderRequest{
		{Symbol: "AAPL", Side: models.SideBuy, Quantity: dec("10"), Type: models.OrderTypeMarket},
		{Symbol: "MSFT", Side: models.SideBuy, Quantity: dec("20"), Type: models.OrderTypeMarket},
		{Symbol: "AAPL", Side: models.SideSell, Quantity: dec("4"), Type: models.OrderTypeMarket},
	}
	for _, req := range steps {
		if _, err := pb.SubmitOrder(ctx, req); err != nil {
			t.Fatalf("submit %s %s: %v", req.Side, req.Symbol, err)
		}
	}

	snapshot := pb.Portfolio()
	costBasis := decimal.Zero
	for _, p := range snapshot.Positions {
		costBasis = costBasis.Add(p.CostBasis())
	}
	total := snapshot.Cash.Add(costBasis).Sub(snapshot.TotalRealizedPnL)
	if !total.Equal(dec("100000")) {
		t.Errorf("cash + cost basis - realized should equal initial 100000, got %s", total)
	}
}

func TestPaper_ReplaceOrder(t *testing.T) {
	pb := NewPaper(&PaperConfig{FillProbability: 1})
	pb.SetPrice("AAPL", dec("100"))
	ctx := context.Background()

	resting, err := pb.SubmitOrder(ctx, models.OrderRequest{
		Symbol:     "AAPL",
		Side:       models.SideBuy,
		Quantity:   dec("5"),
		Type:       models.OrderTypeLimit,
		LimitPrice: decimal.NewNullDecimal(dec("90")),
	})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	replacement, err := pb.ReplaceOrder(ctx, resting.ID, models.OrderRequest{
		LimitPrice: decimal.NewNullDecimal(dec("120")),
	})
	if err != nil {
		t.Fatalf("replace failed: %v", err)
	}
	if replacement.ID == resting.ID {
		t.Error("replacement should carry a new order ID")
	}
	if replacement.Status != models.StatusFilled {
		t.Errorf("marketable replacement should fill, got %s", replacement.Status)
	}
	if !replacement.Quantity.Equal(dec("5")) {
		t.Errorf("replacement should inherit quantity 5, got %s", replacement.Quantity)
	}

	original, _ := pb.GetOrder(ctx, resting.ID)
	if original.Status != models.StatusReplaced {
		t.Errorf("original should be replaced, got %s", original.Status)
	}

	if _, err := pb.ReplaceOrder(ctx, replacement.ID, models.OrderRequest{}); !errors.Is(err, ErrOrderNotOpen) {
		t.Errorf("replacing a filled order should fail with ErrOrderNotOpen, got %v", err)
	}
}

func TestPaper_CancelOrderErrors(t *testing.T) {
	pb := NewPaper(&PaperConfig{FillProbability: 1})
	pb.SetPrice("AAPL", dec("100"))
	ctx := context.Background()

	if err := pb.CancelOrder(ctx, "missing"); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("expected ErrOrderNotFound, got %v", err)
	}

	filled, _ := pb.SubmitOrder(ctx, models.OrderRequest{
		Symbol:   "AAPL",
		Side:     models.SideBuy,
		Quantity: dec("1"),
		Type:     models.OrderTypeMarket,
	})
	if err := pb.CancelOrder(ctx, filled.ID); !errors.Is(err, ErrOrderNotOpen) {
		t.Errorf("expected ErrOrderNotOpen for filled order, got %v", err)
	}
}

func TestPaper_ClosePosition(t *testing.T) {
	pb := NewPaper(&PaperConfig{FillProbability: 1})
	pb.SetPrice("AAPL", dec("100"))
	ctx := context.Background()

	if _, err := pb.SubmitOrder(ctx, models.OrderRequest{
		Symbol:   "AAPL",
		Side:     models.SideBuy,
		Quantity: dec("10"),
		Type:     models.OrderTypeMarket,
	}); err != nil {
		t.Fatalf("buy failed: %v", err)
	}

	order, err := pb.ClosePosition(ctx, "AAPL")
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if order.Side != models.SideSell || !order.Quantity.Equal(dec("10")) {
		t.Errorf("expected sell of 10, got %s %s", order.Side, order.Quantity)
	}
	if _, err := pb.GetPosition(ctx, "AAPL"); !errors.Is(err, ErrPositionNotFound) {
		t.Errorf("position should be gone, got %v", err)
	}

	if _, err := pb.ClosePosition(ctx, "AAPL"); !errors.Is(err, ErrPositionNotFound) {
		t.Errorf("closing a missing position should fail, got %v", err)
	}
}

func TestPaper_CloseAllPositions(t *testing.T) {
	pb := NewPaper(&PaperConfig{FillProbability: 1})
	pb.SetPrice("AAPL", dec("100"))
	pb.SetPrice("MSFT", dec("200"))
	ctx := context.Background()

	for _, symbol := range []string{"AAPL", "MSFT"} {
		if _, err := pb.SubmitOrder(ctx, models.OrderRequest{
			Symbol:   symbol,
			Side:     models.SideBuy,
			Quantity: dec("1"),
			Type:     models.OrderTypeMarket,
		}); err != nil {
			t.Fatalf("buy %s failed: %v", symbol, err)
		}
	}

	orders, err := pb.CloseAllPositions(ctx)
	if err != nil {
		t.Fatalf("close all failed: %v", err)
	}
	if len(orders) != 2 {
		t.Errorf("expected 2 closing orders, got %d", len(orders))
	}
	positions, _ := pb.GetPositions(ctx)
	if len(positions) != 0 {
		t.Errorf("expected no positions, got %d", len(positions))
	}
}

func TestPaper_GetOrdersFilter(t *testing.T) {
	pb := NewPaper(&PaperConfig{FillProbability: 1})
	pb.SetPrice("AAPL", dec("100"))
	ctx := context.Background()

	pb.SubmitOrder(ctx, models.OrderRequest{
		Symbol: "AAPL", Side: models.SideBuy, Quantity: dec("1"), Type: models.OrderTypeMarket,
	})
	resting, _ := pb.SubmitOrder(ctx, models.OrderRequest{
		Symbol: "AAPL", Side: models.SideBuy, Quantity: dec("1"),
		Type: models.OrderTypeLimit, LimitPrice: decimal.NewNullDecimal(dec("90")),
	})
	pb.SubmitOrder(ctx, models.OrderRequest{
		Symbol: "MSFT", Side: models.SideBuy, Quantity: dec("1"), Type: models.OrderTypeMarket,
	})

	all, _ := pb.GetOrders(ctx, OrderFilter{})
	// MSFT has no price: rejected order still recorded
	if len(all) != 3 {
		t.Fatalf("expected 3 orders, got %d", len(all))
	}

	open, _ := pb.GetOrders(ctx, OrderFilter{OpenOnly: true})
	if len(open) != 1 || open[0].ID != resting.ID {
		t.Errorf("expected only the resting limit order, got %d", len(open))
	}

	filled, _ := pb.GetOrders(ctx, OrderFilter{Status: models.StatusFilled})
	if len(filled) != 1 {
		t.Errorf("expected 1 filled order, got %d", len(filled))
	}

	aapl, _ := pb.GetOrders(ctx, OrderFilter{Symbols: []string{"AAPL"}})
	if len(aapl) != 2 {
		t.Errorf("expected 2 AAPL orders, got %d", len(aapl))
	}

	limited, _ := pb.GetOrders(ctx, OrderFilter{Limit: 2})
	if len(limited) != 2 {
		t.Errorf("expected limit of 2 orders, got %d", len(limited))
	}
	if limited[0].ID == all[0].ID {
		t.Error("limit should keep the most recent orders")
	}
}

func TestPaper_GetQuoteSynthetic(t *testing.T) {
	pb := NewPaper(nil)
	pb.SetPrice("AAPL", dec("100"))

	quote, err := pb.GetQuote(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !quote.Bid.Equal(dec("99.95")) {
		t.Errorf("expected bid 99.95, got %s", quote.Bid)
	}
	if !quote.Ask.Equal(dec("100.05")) {
		t.Errorf("expected ask 100.05, got %s", quote.Ask)
	}
	if !quote.Mid().Equal(dec("100")) {
		t.Errorf("expected mid 100, got %s", quote.Mid())
	}

	if _, err := pb.GetQuote(context.Background(), "GHOST"); !errors.Is(err, ErrNoPrice) {
		t.Errorf("expected ErrNoPrice, got %v", err)
	}
}

func TestPaper_GetQuotesSkipsUnknown(t *testing.T) {
	pb := NewPaper(nil)
	pb.SetPrice("AAPL", dec("100"))

	quotes, err := pb.GetQuotes(context.Background(), []string{"AAPL", "GHOST"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(quotes) != 1 {
		t.Errorf("expected 1 quote, got %d", len(quotes))
	}
	if _, ok := quotes["AAPL"]; !ok {
		t.Error("expected AAPL quote present")
	}
}

func TestPaper_GetAssetClassification(t *testing.T) {
	pb := NewPaper(nil)
	ctx := context.Background()

	tests := []struct {
		symbol   string
		class    models.AssetClass
		exchange string
	}{
		{"AAPL", models.AssetEquity, "SIM"},
		{"SPY", models.AssetETF, "SIM"},
		{"BTC-USD", models.AssetCrypto, "SIM"},
		{"BHP.AX", models.AssetEquity, "ASX"},
	}
	for _, tc := range tests {
		asset, err := pb.GetAsset(ctx, tc.symbol)
		if err != nil {
			t.Fatalf("GetAsset(%s): %v", tc.symbol, err)
		}
		if asset.Class != tc.class {
			t.Errorf("GetAsset(%s) class = %s, want %s", tc.symbol, asset.Class, tc.class)
		}
		if asset.Exchange != tc.exchange {
			t.Errorf("GetAsset(%s) exchange = %s, want %s", tc.symbol, asset.Exchange, tc.exchange)
		}
		if !asset.Tradable {
			t.Errorf("GetAsset(%s) should be tradable", tc.symbol)
		}
	}
}

func TestPaper_PriceFuncOverridesStatic(t *testing.T) {
	pb := NewPaper(&PaperConfig{FillProbability: 1})
	pb.SetPrice("AAPL", dec("100"))
	pb.SetPriceFunc(func(symbol string) (decimal.Decimal, bool) {
		if symbol == "AAPL" {
			return dec("150"), true
		}
		return decimal.Decimal{}, false
	})

	order, err := pb.SubmitOrder(context.Background(), models.OrderRequest{
		Symbol:   "AAPL",
		Side:     models.SideBuy,
		Quantity: dec("1"),
		Type:     models.OrderTypeMarket,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !order.AvgFillPrice.Decimal.Equal(dec("150")) {
		t.Errorf("price func should win, expected 150, got %s", order.AvgFillPrice.Decimal)
	}
}

func TestPaper_EquityMarksToMarket(t *testing.T) {
	pb := NewPaper(&PaperConfig{
		InitialCash:     dec("100000"),
		FillProbability: 1,
	})
	pb.SetPrice("AAPL", dec("100"))
	ctx := context.Background()

	if _, err := pb.SubmitOrder(ctx, models.OrderRequest{
		Symbol:   "AAPL",
		Side:     models.SideBuy,
		Quantity: dec("10"),
		Type:     models.OrderTypeMarket,
	}); err != nil {
		t.Fatalf("buy failed: %v", err)
	}

	pb.SetPrice("AAPL", dec("110"))
	account, _ := pb.GetAccount(ctx)
	if !account.Equity.Equal(dec("100100")) {
		t.Errorf("expected equity 100100 after mark, got %s", account.Equity)
	}
	if !account.PositionsValue.Equal(dec("1100")) {
		t.Errorf("expected positions value 1100, got %s", account.PositionsValue)
	}
}

func TestPaper_Reset(t *testing.T) {
	pb := NewPaper(&PaperConfig{
		InitialCash:     dec("100000"),
		FillProbability: 1,
	})
	pb.SetPrice("AAPL", dec("100"))
	ctx := context.Background()

	if _, err := pb.SubmitOrder(ctx, models.OrderRequest{
		Symbol:   "AAPL",
		Side:     models.SideBuy,
		Quantity: dec("10"),
		Type:     models.OrderTypeMarket,
	}); err != nil {
		t.Fatalf("buy failed: %v", err)
	}

	pb.Reset()

	account, _ := pb.GetAccount(ctx)
	if !account.Cash.Equal(dec("100000")) {
		t.Errorf("reset should restore cash, got %s", account.Cash)
	}
	positions, _ := pb.GetPositions(ctx)
	if len(positions) != 0 {
		t.Errorf("reset should clear positions, got %d", len(positions))
	}
	orders, _ := pb.GetOrders(ctx, OrderFilter{})
	if len(orders) != 0 {
		t.Errorf("reset should clear orders, got %d", len(orders))
	}

	// Prices survive a reset.
	order, err := pb.SubmitOrder(ctx, models.OrderRequest{
		Symbol:   "AAPL",
		Side:     models.SideBuy,
		Quantity: dec("1"),
		Type:     models.OrderTypeMarket,
	})
	if err != nil || order.Status != models.StatusFilled {
		t.Errorf("trading after reset should work, got %v / %v", order, err)
	}
}

func TestPaper_PortfolioSnapshotIsolated(t *testing.T) {
	pb := NewPaper(&PaperConfig{FillProbability: 1})
	pb.SetPrice("AAPL", dec("100"))

	if _, err := pb.SubmitOrder(context.Background(), models.OrderRequest{
		Symbol:   "AAPL",
		Side:     models.SideBuy,
		Quantity: dec("10"),
		Type:     models.OrderTypeMarket,
	}); err != nil {
		t.Fatalf("buy failed: %v", err)
	}

	snapshot := pb.Portfolio()
	snapshot.Positions["AAPL"].Quantity = dec("999")
	snapshot.Cash = decimal.Zero

	position, _ := pb.GetPosition(context.Background(), "AAPL")
	if !position.Quantity.Equal(dec("10")) {
		t.Errorf("mutating the snapshot should not affect the broker, got %s", position.Quantity)
	}
}
