package utils

import (
	"strings"

	"github.com/seaquant/tradeflow/pkg/models"
)

// Well-known crypto base assets. Pairs are written BTC/USD or BTC-USD.
var cryptoBases = map[string]bool{
	"BTC": true, "ETH": true, "SOL": true, "ADA": true, "XRP": true,
	"DOGE": true, "LTC": true, "DOT": true, "AVAX": true, "LINK": true,
	"MATIC": true, "UNI": true, "BCH": true,
}

// US-listed ETFs the engine routes as the etf class. Lookup only; the
// default class for unknown symbols is equity.
var etfSymbols = map[string]bool{
	"SPY": true, "QQQ": true, "IWM": true, "DIA": true, "VOO": true,
	"VTI": true, "EEM": true, "GLD": true, "SLV": true, "TLT": true,
	"XLF": true, "XLE": true, "XLK": true, "VAS.AX": true, "VGS.AX": true,
	"IOZ.AX": true, "STW.AX": true,
}

// Futures root symbols with their contract venue. Covers the common US
// index, commodity, ag, rates and FX futures.
var futuresRoots = map[string]bool{
	"ES": true, "NQ": true, "YM": true, "RTY": true, // index
	"CL": true, "NG": true, "GC": true, "SI": true, "HG": true, // energy & metals
	"ZC": true, "ZS": true, "ZW": true, // ags
	"ZB": true, "ZN": true, "ZF": true, "ZT": true, // rates
	"6E": true, "6J": true, "6B": true, "6A": true, // fx
}

// CleanSymbol upper-cases, trims and strips a leading $.
func CleanSymbol(symbol string) string {
	s := strings.TrimSpace(strings.ToUpper(symbol))
	return strings.TrimPrefix(s, "$")
}

// IsASX reports whether the symbol carries the Australian .AX suffix.
func IsASX(symbol string) bool {
	return strings.HasSuffix(CleanSymbol(symbol), ".AX")
}

// BaseSymbol strips a trailing exchange suffix: BHP.AX -> BHP.
func BaseSymbol(symbol string) string {
	s := CleanSymbol(symbol)
	if i := strings.LastIndex(s, "."); i > 0 {
		return s[:i]
	}
	return s
}

// IsCryptoPair reports whether the symbol looks like a crypto pair
// (BTC/USD, ETH-USD) or a bare known crypto base.
func IsCryptoPair(symbol string) bool {
	s := CleanSymbol(symbol)
	for _, sep := range []string{"/", "-"} {
		if base, _, ok := strings.Cut(s, sep); ok {
			return cryptoBases[base]
		}
	}
	return cryptoBases[s]
}

// IsETF reports whether the symbol is a known exchange-traded fund.
func IsETF(symbol string) bool {
	return etfSymbols[CleanSymbol(symbol)]
}

// IsFuturesSymbol reports whether the symbol is a futures root or a
// root+contract-month code such as ESZ5 or ESZ25.
func IsFuturesSymbol(symbol string) bool {
	s := CleanSymbol(symbol)
	if futuresRoots[s] {
		return true
	}
	// Month code + one or two year digits after a known root.
	for root := range futuresRoots {
		rest, ok := strings.CutPrefix(s, root)
		if !ok || len(rest) < 2 || len(rest) > 3 {
			continue
		}
		if !strings.ContainsRune("FGHJKMNQUVXZ", rune(rest[0])) {
			continue
		}
		digits := rest[1:]
		allDigits := true
		for _, r := range digits {
			if r < '0' || r > '9' {
				allDigits = false
				break
			}
		}
		if allDigits {
			return true
		}
	}
	return false
}

// FuturesRoot returns the root of a futures symbol (ESZ5 -> ES). The
// symbol itself is returned when no known root matches.
func FuturesRoot(symbol string) string {
	s := CleanSymbol(symbol)
	if futuresRoots[s] {
		return s
	}
	for root := range futuresRoots {
		if strings.HasPrefix(s, root) && IsFuturesSymbol(s) {
			return root
		}
	}
	return s
}

// AssetClassOf buckets a symbol for routing: crypto pairs, futures roots
// and known ETFs are recognized; everything else is equity (including
// .AX-suffixed ASX listings).
func AssetClassOf(symbol string) models.AssetClass {
	s := CleanSymbol(symbol)
	switch {
	case IsCryptoPair(s):
		return models.AssetCrypto
	case IsFuturesSymbol(s):
		return models.AssetFuture
	case IsETF(s):
		return models.AssetETF
	default:
		return models.AssetEquity
	}
}
