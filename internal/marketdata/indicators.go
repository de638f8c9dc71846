package marketdata

import (
	"github.com/markcheno/go-talib"

	"github.com/seaquant/tradeflow/pkg/models"
)

// ════════════════════════════════════════════════════════════════════
// Technical Indicators
// ════════════════════════════════════════════════════════════════════

// Indicators holds the derived values for one bar. Fields are nil while the
// indicator is still inside its warm-up window. Indicator math runs on
// float64; money stays decimal elsewhere.
type Indicators struct {
	SMA20  *float64 `json:"sma_20,omitempty"`
	SMA50  *float64 `json:"sma_50,omitempty"`
	SMA200 *float64 `json:"sma_200,omitempty"`

	EMA10 *float64 `json:"ema_10,omitempty"`
	EMA20 *float64 `json:"ema_20,omitempty"`

	RSI14 *float64 `json:"rsi_14,omitempty"`

	MACD       *float64 `json:"macd,omitempty"`
	MACDSignal *float64 `json:"macd_signal,omitempty"`
	MACDHist   *float64 `json:"macd_hist,omitempty"`

	BBUpper  *float64 `json:"bb_upper,omitempty"`
	BBMiddle *float64 `json:"bb_middle,omitempty"`
	BBLower  *float64 `json:"bb_lower,omitempty"`

	ATR14 *float64 `json:"atr_14,omitempty"`
	MFI14 *float64 `json:"mfi_14,omitempty"`
}

// Standard indicator parameters.
const (
	macdFast   = 12
	macdSlow   = 26
	macdSignal = 9
	bbPeriod   = 20
	bbWidth    = 2.0
	rsiPeriod  = 14
	atrPeriod  = 14
	mfiPeriod  = 14
)

// Compute derives the full indicator set for every bar in the series. The
// returned slice is aligned to series.Bars.
func Compute(series *models.Series) []Indicators {
	n := series.Len()
	out := make([]Indicators, n)
	if n == 0 {
		return out
	}

	highs := make([]float64, n)
	lows := make([]float64, n)
	closes := make([]float64, n)
	volumes := make([]float64, n)
	for i, b := range series.Bars {
		highs[i], _ = b.High.Float64()
		lows[i], _ = b.Low.Float64()
		closes[i], _ = b.Close.Float64()
		volumes[i] = float64(b.Volume)
	}

	apply := func(values []float64, warm int, set func(*Indicators, *float64)) {
		if values == nil {
			return
		}
		for i := range out {
			set(&out[i], at(values, i, warm))
		}
	}

	apply(smaIf(closes, 20), 19, func(ind *Indicators, v *float64) { ind.SMA20 = v })
	apply(smaIf(closes, 50), 49, func(ind *Indicators, v *float64) { ind.SMA50 = v })
	apply(smaIf(closes, 200), 199, func(ind *Indicators, v *float64) { ind.SMA200 = v })
	apply(emaIf(closes, 10), 9, func(ind *Indicators, v *float64) { ind.EMA10 = v })
	apply(emaIf(closes, 20), 19, func(ind *Indicators, v *float64) { ind.EMA20 = v })

	if n > rsiPeriod {
		apply(talib.Rsi(closes, rsiPeriod), rsiPeriod, func(ind *Indicators, v *float64) { ind.RSI14 = v })
	}

	// The signal line needs slow + signal periods of history; all three MACD
	// outputs are reported together from that point.
	if macdWarm := macdSlow + macdSignal - 2; n > macdWarm {
		macd, signal, hist := talib.Macd(closes, macdFast, macdSlow, macdSignal)
		apply(macd, macdWarm, func(ind *Indicators, v *float64) { ind.MACD = v })
		apply(signal, macdWarm, func(ind *Indicators, v *float64) { ind.MACDSignal = v })
		apply(hist, macdWarm, func(ind *Indicators, v *float64) { ind.MACDHist = v })
	}

	if n >= bbPeriod {
		upper, middle, lower := talib.BBands(closes, bbPeriod, bbWidth, bbWidth, talib.SMA)
		apply(upper, bbPeriod-1, func(ind *Indicators, v *float64) { ind.BBUpper = v })
		apply(middle, bbPeriod-1, func(ind *Indicators, v *float64) { ind.BBMiddle = v })
		apply(lower, bbPeriod-1, func(ind *Indicators, v *float64) { ind.BBLower = v })
	}

	if n > atrPeriod {
		apply(talib.Atr(highs, lows, closes, atrPeriod), atrPeriod, func(ind *Indicators, v *float64) { ind.ATR14 = v })
	}
	if n > mfiPeriod {
		apply(talib.Mfi(highs, lows, closes, volumes, mfiPeriod), mfiPeriod, func(ind *Indicators, v *float64) { ind.MFI14 = v })
	}

	return out
}

// smaIf computes an SMA when the series is long enough, else nil.
func smaIf(closes []float64, period int) []float64 {
	if len(closes) < period {
		return nil
	}
	return talib.Sma(closes, period)
}

// emaIf computes an EMA when the series is long enough, else nil.
func emaIf(closes []float64, period int) []float64 {
	if len(closes) < period {
		return nil
	}
	return talib.Ema(closes, period)
}

// at returns a pointer to values[i] once past the warm-up index, else nil.
func at(values []float64, i, warm int) *float64 {
	if i < warm || i >= len(values) {
		return nil
	}
	v := values[i]
	if v != v { // NaN guard
		return nil
	}
	return &v
}
