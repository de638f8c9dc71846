package broker

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/seaquant/tradeflow/pkg/models"
)

// ════════════════════════════════════════════════════════════════════
// Pre-Submit Order Validation
// ════════════════════════════════════════════════════════════════════

// ValidationError represents an order validation failure.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationResult holds the results of order validation. Errors block the
// order; warnings do not.
type ValidationResult struct {
	Valid    bool              `json:"valid"`
	Errors   []ValidationError `json:"errors,omitempty"`
	Warnings []string          `json:"warnings,omitempty"`
}

// IsValid returns true if the order passed all blocking checks.
func (v *ValidationResult) IsValid() bool {
	return v.Valid && len(v.Errors) == 0
}

// ErrorString returns a combined error string.
func (v *ValidationResult) ErrorString() string {
	if v.IsValid() {
		return ""
	}
	msgs := make([]string, len(v.Errors))
	for i, e := range v.Errors {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}

// addError appends a validation error and marks the result invalid.
func (v *ValidationResult) addError(field, message string) {
	v.Valid = false
	v.Errors = append(v.Errors, ValidationError{Field: field, Message: message})
}

// addWarning appends a non-blocking warning.
func (v *ValidationResult) addWarning(message string) {
	v.Warnings = append(v.Warnings, message)
}

// ValidateRequest applies the static construction-time checks without
// touching the broker: required fields, known enums, and price signs for
// conditional orders.
func ValidateRequest(req models.OrderRequest) *ValidationResult {
	result := &ValidationResult{Valid: true}
	if err := req.Validate(); err != nil {
		result.addError("request", err.Error())
	}
	return result
}

// ValidateOrder runs the full pre-submit check against a broker: static
// request validation, tradability of the asset, and estimated buying-power
// coverage for buys. Broker lookups that fail downgrade to warnings so a
// flaky vendor endpoint never blocks an otherwise valid order.
func ValidateOrder(ctx context.Context, b Broker, req models.OrderRequest) *ValidationResult {
	result := ValidateRequest(req)
	if !result.IsValid() {
		return result
	}

	// Tradability.
	asset, err := b.GetAsset(ctx, req.Symbol)
	switch {
	case err != nil:
		result.addWarning(fmt.Sprintf("could not confirm tradability of %s: %v", req.Symbol, err))
	case !asset.Tradable:
		result.addError("symbol", fmt.Sprintf("%s is not tradable on %s", req.Symbol, b.Name()))
	case !asset.Fractionable && !req.Quantity.Equal(req.Quantity.Truncate(0)):
		result.addError("quantity", fmt.Sprintf("%s does not support fractional quantities", req.Symbol))
	}

	// Estimated buying-power coverage for buys.
	if req.Side == models.SideBuy {
		price, ok := estimatePrice(ctx, b, req)
		if !ok {
			result.addWarning(fmt.Sprintf("no price available to estimate cost of %s", req.Symbol))
			return result
		}
		account, err := b.GetAccount(ctx)
		if err != nil {
			result.addWarning(fmt.Sprintf("could not read account for buying-power check: %v", err))
			return result
		}
		estimated := models.RoundValue(price.Mul(req.Quantity))
		if estimated.GreaterThan(account.BuyingPower) {
			result.addError("quantity", fmt.Sprintf(
				"estimated cost %s exceeds buying power %s", estimated, account.BuyingPower))
		}
	}

	return result
}

// estimatePrice picks the best available price hint for a request: the
// order's own limit/stop price, otherwise the live quote mid.
func estimatePrice(ctx context.Context, b Broker, req models.OrderRequest) (price decimal.Decimal, ok bool) {
	if req.LimitPrice.Valid && req.LimitPrice.Decimal.IsPositive() {
		return req.LimitPrice.Decimal, true
	}
	if req.StopPrice.Valid && req.StopPrice.Decimal.IsPositive() {
		return req.StopPrice.Decimal, true
	}
	quote, err := b.GetQuote(ctx, req.Symbol)
	if err != nil {
		return price, false
	}
	mid := quote.Mid()
	if !mid.IsPositive() {
		return price, false
	}
	return mid, true
}
