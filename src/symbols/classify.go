// Package symbols centralizes symbol-class detection and the unit conversions
// that depend on it. Every caller that needs to know "is this crypto, metal,
// yen-cross or plain forex" goes through Classify; the substring heuristics
// live in exactly one place.
package symbols

import "strings"

// Class is the closed set of instrument classes the execution rules branch on.
type Class string

const (
	ClassForex         Class = "forex"
	ClassYenCross      Class = "yen_cross"
	ClassCrypto        Class = "crypto"
	ClassPreciousMetal Class = "precious_metal"
)

var cryptoTokens = []string{"BTC", "ETH", "XRP", "LTC", "ADA", "DOGE", "SOL"}
var metalTokens = []string{"XAU", "XAG", "GOLD", "SILVER"}

// Classify maps a symbol name to its instrument class.
//
// Detection is substring based, matching broker naming conventions rather
// than any formal registry. A hypothetical symbol containing a false-positive
// token would be misclassified; fixing that needs product-level symbol
// mapping configuration, not a smarter heuristic here.
func Classify(symbol string) Class {
	s := strings.ToUpper(symbol)

	for _, tok := range cryptoTokens {
		if strings.Contains(s, tok) {
			return ClassCrypto
		}
	}
	for _, tok := range metalTokens {
		if strings.Contains(s, tok) {
			return ClassPreciousMetal
		}
	}
	if strings.Contains(s, "JPY") {
		return ClassYenCross
	}
	return ClassForex
}

// PipSize derives the pip for a symbol from its quoted digits. Yen crosses
// are forced to 0.01 regardless of reported digits; some brokers quote them
// with 3 digits, some with 2, and the pip is 0.01 either way.
func PipSize(symbol string, digits int) float64 {
	if strings.Contains(strings.ToUpper(symbol), "JPY") {
		return 0.01
	}
	switch digits {
	case 2, 3:
		return 0.01
	default:
		return 0.0001
	}
}

// ApplySuffix appends a venue-specific symbol suffix (".r", "m", "-ECN"...)
// for forex and metal symbols. Crypto symbols are listed without suffixes on
// the venues this targets, so they pass through untouched.
func ApplySuffix(symbol, suffix string) string {
	if suffix == "" {
		return symbol
	}
	if Classify(symbol) == ClassCrypto {
		return symbol
	}
	if strings.HasSuffix(symbol, suffix) {
		return symbol
	}
	return symbol + suffix
}

// DeviationPoints scales the configured market-order deviation for the
// instrument class. Forex and yen crosses use the configured value verbatim;
// the wider classes get an integer multiplier, crypto widest.
func DeviationPoints(class Class, configured int) int {
	switch class {
	case ClassCrypto:
		return configured * 10
	case ClassPreciousMetal:
		return configured * 5
	default:
		return configured
	}
}

// Per-lot unit values used when the broker reports an implausibly small tick
// value for a non-forex instrument. Symbol-class constants, not quotes.
const (
	lotValueBTC    = 1.0
	lotValueCrypto = 0.5
	lotValueMetal  = 5.0
)

// LotValueOverride returns the fallback per-unit value for a symbol whose
// broker-reported tick value failed the plausibility check. Returns 0 for
// classes that have no override (forex, yen).
func LotValueOverride(class Class, symbol string) float64 {
	switch class {
	case ClassCrypto:
		if strings.Contains(strings.ToUpper(symbol), "BTC") {
			return lotValueBTC
		}
		return lotValueCrypto
	case ClassPreciousMetal:
		return lotValueMetal
	default:
		return 0
	}
}

// CloseTolerance is the band used when classifying an externally observed
// close price against the SL/TP ladder: one unit of the instrument's natural
// distance measure (a pip for forex/yen, one price unit for point-based
// instruments).
func CloseTolerance(symbol string, digits int) float64 {
	switch Classify(symbol) {
	case ClassCrypto, ClassPreciousMetal:
		return 1.0
	default:
		return PipSize(symbol, digits)
	}
}
