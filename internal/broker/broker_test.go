package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/seaquant/tradeflow/pkg/models"
)

// ════════════════════════════════════════════════════════════════════
// Interface Compliance
// ════════════════════════════════════════════════════════════════════

func TestBrokerInterfaceCompliance(t *testing.T) {
	var _ Broker = (*Paper)(nil)
	var _ Broker = (*Alpaca)(nil)
	var _ Broker = (*IBKR)(nil)
}

// ════════════════════════════════════════════════════════════════════
// Order Filter
// ════════════════════════════════════════════════════════════════════

func TestOrderFilter_Matches(t *testing.T) {
	filledAAPL := &models.Order{
		OrderRequest: models.OrderRequest{Symbol: "AAPL"},
		Status:       models.StatusFilled,
	}
	newMSFT := &models.Order{
		OrderRequest: models.OrderRequest{Symbol: "MSFT"},
		Status:       models.StatusNew,
	}
	partialAAPL := &models.Order{
		OrderRequest: models.OrderRequest{Symbol: "AAPL"},
		Status:       models.StatusPartiallyFilled,
	}

	tests := []struct {
		name   string
		filter OrderFilter
		order  *models.Order
		want   bool
	}{
		{"empty filter matches everything", OrderFilter{}, filledAAPL, true},
		{"open only rejects terminal", OrderFilter{OpenOnly: true}, filledAAPL, false},
		{"open only keeps new", OrderFilter{OpenOnly: true}, newMSFT, true},
		{"open only keeps partial fills", OrderFilter{OpenOnly: true}, partialAAPL, true},
		{"status match", OrderFilter{Status: models.StatusFilled}, filledAAPL, true},
		{"status mismatch", OrderFilter{Status: models.StatusCancelled}, filledAAPL, false},
		{"symbol match", OrderFilter{Symbols: []string{"MSFT", "AAPL"}}, filledAAPL, true},
		{"symbol mismatch", OrderFilter{Symbols: []string{"MSFT"}}, filledAAPL, false},
		{"combined constraints", OrderFilter{OpenOnly: true, Symbols: []string{"MSFT"}}, newMSFT, true},
	}
	for _, tc := range tests {
		if got := tc.filter.matches(tc.order); got != tc.want {
			t.Errorf("%s: matches() = %v, want %v", tc.name, got, tc.want)
		}
	}
}

// ════════════════════════════════════════════════════════════════════
// Bulk Helpers
// ════════════════════════════════════════════════════════════════════

func TestCancelAllOrders(t *testing.T) {
	pb := NewPaper(&PaperConfig{FillProbability: 1})
	pb.SetPrice("AAPL", dec("100"))
	ctx := context.Background()

	resting := make([]string, 0, 2)
	for i := 0; i < 2; i++ {
		order, err := pb.SubmitOrder(ctx, models.OrderRequest{
			Symbol:     "AAPL",
			Side:       models.SideBuy,
			Quantity:   dec("1"),
			Type:       models.OrderTypeLimit,
			LimitPrice: decimal.NewNullDecimal(dec("90")),
		})
		if err != nil {
			t.Fatalf("submit failed: %v", err)
		}
		resting = append(resting, order.ID)
	}
	if _, err := pb.SubmitOrder(ctx, models.OrderRequest{
		Symbol:   "AAPL",
		Side:     models.SideBuy,
		Quantity: dec("1"),
		Type:     models.OrderTypeMarket,
	}); err != nil {
		t.Fatalf("market buy failed: %v", err)
	}

	cancelled, err := CancelAllOrders(ctx, pb)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cancelled) != 2 {
		t.Errorf("expected 2 cancellations, got %d", len(cancelled))
	}
	for _, id := range resting {
		order, _ := pb.GetOrder(ctx, id)
		if order.Status != models.StatusCancelled {
			t.Errorf("order %s should be cancelled, got %s", id, order.Status)
		}
	}

	again, err := CancelAllOrders(ctx, pb)
	if err != nil || len(again) != 0 {
		t.Errorf("second sweep should be a no-op, got %d / %v", len(again), err)
	}
}

func TestCloseRequest(t *testing.T) {
	long := &models.Position{Symbol: "AAPL", Quantity: dec("10")}
	req := closeRequest(long)
	if req.Side != models.SideSell || !req.Quantity.Equal(dec("10")) {
		t.Errorf("long close should sell 10, got %s %s", req.Side, req.Quantity)
	}
	if req.Type != models.OrderTypeMarket || req.TimeInForce != models.TIFDay {
		t.Errorf("close should be a day market order, got %s %s", req.Type, req.TimeInForce)
	}

	short := &models.Position{Symbol: "AAPL", Quantity: dec("-7")}
	req = closeRequest(short)
	if req.Side != models.SideBuy || !req.Quantity.Equal(dec("7")) {
		t.Errorf("short close should buy 7, got %s %s", req.Side, req.Quantity)
	}
}

// ════════════════════════════════════════════════════════════════════
// Error Classification
// ════════════════════════════════════════════════════════════════════

func TestErrorClassification(t *testing.T) {
	err := NewError(KindRateLimit, "too many requests").WithRetryAfter(2 * time.Second)
	if KindOf(err) != KindRateLimit {
		t.Errorf("KindOf = %s, want %s", KindOf(err), KindRateLimit)
	}
	if !IsKind(err, KindRateLimit) || IsKind(err, KindConnection) {
		t.Error("IsKind should match only the carried kind")
	}
	d, ok := RetryAfterOf(err)
	if !ok || d != 2*time.Second {
		t.Errorf("RetryAfterOf = %v/%v, want 2s/true", d, ok)
	}

	// Classification survives plain wrapping.
	wrapped := fmt.Errorf("submit order: %w", err)
	if KindOf(wrapped) != KindRateLimit {
		t.Errorf("wrapped KindOf = %s, want %s", KindOf(wrapped), KindRateLimit)
	}

	plain := errors.New("plain failure")
	if KindOf(plain) != KindUnknown {
		t.Errorf("unclassified error should report %s, got %s", KindUnknown, KindOf(plain))
	}
	if _, ok := RetryAfterOf(plain); ok {
		t.Error("plain errors carry no retry hint")
	}
}

func TestErrorUnwrap(t *testing.T) {
	err := WrapError(KindOrderRejected, "submit AAPL", ErrNoPrice)
	if !errors.Is(err, ErrNoPrice) {
		t.Errorf("cause should survive wrapping, got %v", err)
	}
	msg := err.Error()
	if !strings.Contains(msg, string(KindOrderRejected)) || !strings.Contains(msg, "no market price") {
		t.Errorf("message should carry kind and cause, got %q", msg)
	}
}

func TestErrorf(t *testing.T) {
	err := Errorf(KindOrderInvalid, "unsupported type %q", "weird")
	want := `order_invalid: unsupported type "weird"`
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

// ════════════════════════════════════════════════════════════════════
// Order Validation
// ════════════════════════════════════════════════════════════════════

// assetStub overrides tradability metadata on top of the simulator.
type assetStub struct {
	*Paper
	asset *models.Asset
}

func (s *assetStub) GetAsset(ctx context.Context, symbol string) (*models.Asset, error) {
	return s.asset, nil
}

func TestValidateRequest(t *testing.T) {
	bad := ValidateRequest(models.OrderRequest{Quantity: dec("10")})
	if bad.IsValid() {
		t.Error("request without symbol should be invalid")
	}
	if bad.ErrorString() == "" {
		t.Error("invalid result should produce an error string")
	}

	good := ValidateRequest(models.OrderRequest{
		Symbol:   "AAPL",
		Side:     models.SideBuy,
		Quantity: dec("10"),
		Type:     models.OrderTypeMarket,
	})
	if !good.IsValid() {
		t.Errorf("valid request rejected: %s", good.ErrorString())
	}
	if good.ErrorString() != "" {
		t.Errorf("valid result should have empty error string, got %q", good.ErrorString())
	}
}

func TestValidateOrder_BuyingPower(t *testing.T) {
	pb := NewPaper(&PaperConfig{InitialCash: dec("100"), FillProbability: 1})
	pb.SetPrice("AAPL", dec("100"))
	ctx := context.Background()

	result := ValidateOrder(ctx, pb, models.OrderRequest{
		Symbol:   "AAPL",
		Side:     models.SideBuy,
		Quantity: dec("10"),
		Type:     models.OrderTypeMarket,
	})
	if result.IsValid() {
		t.Fatal("buy exceeding buying power should be invalid")
	}
	if !strings.Contains(result.ErrorString(), "buying power") {
		t.Errorf("expected buying-power error, got %q", result.ErrorString())
	}

	// Exactly at the limit passes.
	exact := ValidateOrder(ctx, pb, models.OrderRequest{
		Symbol:   "AAPL",
		Side:     models.SideBuy,
		Quantity: dec("1"),
		Type:     models.OrderTypeMarket,
	})
	if !exact.IsValid() {
		t.Errorf("buy at exactly buying power rejected: %s", exact.ErrorString())
	}

	// Sells skip the buying-power check.
	sell := ValidateOrder(ctx, pb, models.OrderRequest{
		Symbol:   "AAPL",
		Side:     models.SideSell,
		Quantity: dec("10"),
		Type:     models.OrderTypeMarket,
	})
	if !sell.IsValid() {
		t.Errorf("sell rejected: %s", sell.ErrorString())
	}
}

func TestValidateOrder_LimitPriceDrivesEstimate(t *testing.T) {
	pb := NewPaper(&PaperConfig{InitialCash: dec("1000"), FillProbability: 1})
	pb.SetPrice("AAPL", dec("100"))

	// 10 × limit 50 = 500 fits even though 10 × market 100 would not.
	result := ValidateOrder(context.Background(), pb, models.OrderRequest{
		Symbol:     "AAPL",
		Side:       models.SideBuy,
		Quantity:   dec("10"),
		Type:       models.OrderTypeLimit,
		LimitPrice: decimal.NewNullDecimal(dec("50")),
	})
	if !result.IsValid() {
		t.Errorf("limit-priced buy rejected: %s", result.ErrorString())
	}
}

func TestValidateOrder_NoPriceWarns(t *testing.T) {
	pb := NewPaper(nil)

	result := ValidateOrder(context.Background(), pb, models.OrderRequest{
		Symbol:   "GHOST",
		Side:     models.SideBuy,
		Quantity: dec("1"),
		Type:     models.OrderTypeMarket,
	})
	if !result.IsValid() {
		t.Errorf("missing price should warn, not block: %s", result.ErrorString())
	}
	if len(result.Warnings) == 0 {
		t.Error("expected a warning about the missing price")
	}
}

func TestValidateOrder_NotTradable(t *testing.T) {
	stub := &assetStub{
		Paper: NewPaper(nil),
		asset: &models.Asset{Symbol: "XYZ", Tradable: false},
	}

	result := ValidateOrder(context.Background(), stub, models.OrderRequest{
		Symbol:   "XYZ",
		Side:     models.SideSell,
		Quantity: dec("1"),
		Type:     models.OrderTypeMarket,
	})
	if result.IsValid() {
		t.Error("untradable asset should be invalid")
	}
	if !strings.Contains(result.ErrorString(), "not tradable") {
		t.Errorf("expected tradability error, got %q", result.ErrorString())
	}
}

func TestValidateOrder_FractionalQuantity(t *testing.T) {
	stub := &assetStub{
		Paper: NewPaper(nil),
		asset: &models.Asset{Symbol: "XYZ", Tradable: true, Fractionable: false},
	}
	ctx := context.Background()

	fractional := ValidateOrder(ctx, stub, models.OrderRequest{
		Symbol:   "XYZ",
		Side:     models.SideSell,
		Quantity: dec("1.5"),
		Type:     models.OrderTypeMarket,
	})
	if fractional.IsValid() {
		t.Error("fractional quantity on a whole-share asset should be invalid")
	}

	whole := ValidateOrder(ctx, stub, models.OrderRequest{
		Symbol:   "XYZ",
		Side:     models.SideSell,
		Quantity: dec("2"),
		Type:     models.OrderTypeMarket,
	})
	if !whole.IsValid() {
		t.Errorf("whole quantity rejected: %s", whole.ErrorString())
	}
}
