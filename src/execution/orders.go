package execution

import (
	"errors"
	"fmt"
	"math"

	"signalbridge/src/broker"
	"signalbridge/src/model"
	"signalbridge/src/symbols"
)

// ErrPriceMoved means the market has run past the configured entry further
// than the conversion tolerance allows, with smart conversion disabled or out
// of range. The signal is unexecutable as priced.
var ErrPriceMoved = errors.New("price moved past entry, signal not executable")

// ErrInvalidLadder means the signal's price levels are not strictly ordered
// for its direction. No market move can fix that, so callers treat it as a
// permanent failure.
var ErrInvalidLadder = errors.New("invalid price ladder")

// Decision is the resolved order shape for one signal at one quote.
type Decision struct {
	Type      broker.OrderType
	Price     float64 // 0 for market orders
	Fill      broker.FillPolicy
	Deviation int
	Converted bool // resting entry smart-converted to market
}

// ValidateLadder enforces the price-ordering invariant before any order is
// placed: BUY wants stop < entry < tp1 < tp2 < tp3 (configured levels only),
// SELL the mirror image. The store accepts signals as-is; this is the
// pre-trade gate.
func ValidateLadder(sig *model.Signal) error {
	levels := []float64{sig.EntryPrice, sig.TP1}
	if sig.TP2 > 0 {
		levels = append(levels, sig.TP2)
	}
	if sig.TP3 > 0 {
		levels = append(levels, sig.TP3)
	}

	prev := sig.StopLoss
	for _, lv := range levels {
		if sig.IsBuy() && lv <= prev {
			return fmt.Errorf("%w: BUY level %v not above %v", ErrInvalidLadder, lv, prev)
		}
		if !sig.IsBuy() && lv >= prev {
			return fmt.Errorf("%w: SELL level %v not below %v", ErrInvalidLadder, lv, prev)
		}
		prev = lv
	}
	return nil
}

// DecideOrder selects the order type for a signal against the live quote.
//
// A BUY entry below the current ask rests as a buy limit, a SELL entry above
// the current bid as a sell limit. When the market has already moved
// favorably past the entry, the resting order would be rejected; with smart
// conversion enabled and the move inside the class deviation tolerance, the
// signal executes as an immediate market order instead.
func DecideOrder(sig *model.Signal, q broker.Quote, spec broker.SymbolSpec, smartConvert bool, baseDeviation int) (Decision, error) {
	class := symbols.Classify(sig.Symbol)
	deviation := symbols.DeviationPoints(class, baseDeviation)
	fill := PickFillPolicy(spec)

	var current, diff float64
	var restingType broker.OrderType
	if sig.IsBuy() {
		current = q.Ask
		diff = current - sig.EntryPrice
		restingType = broker.OrderTypeBuyLimit
	} else {
		current = q.Bid
		diff = sig.EntryPrice - current
		restingType = broker.OrderTypeSellLimit
	}

	// diff > 0 means the entry still sits on the passive side of the book:
	// below the ask for a buy limit, above the bid for a sell limit.
	if diff > 0 {
		return Decision{
			Type:      restingType,
			Price:     sig.EntryPrice,
			Fill:      fill,
			Deviation: deviation,
		}, nil
	}

	tolerance := float64(deviation) * spec.Point
	if smartConvert && math.Abs(diff) <= tolerance {
		marketType := broker.OrderTypeBuy
		if !sig.IsBuy() {
			marketType = broker.OrderTypeSell
		}
		return Decision{
			Type:      marketType,
			Fill:      fill,
			Deviation: deviation,
			Converted: true,
		}, nil
	}

	return Decision{}, fmt.Errorf("%w: entry %v vs current %v", ErrPriceMoved, sig.EntryPrice, current)
}

// PickFillPolicy walks the preference ladder (partial fills first, then IOC,
// then FOK) and returns the first policy the symbol supports. Falls back to
// FOK when the broker reports nothing.
func PickFillPolicy(spec broker.SymbolSpec) broker.FillPolicy {
	preference := []broker.FillPolicy{
		broker.FillPolicyPartial,
		broker.FillPolicyIOC,
		broker.FillPolicyFOK,
	}
	for _, p := range preference {
		for _, supported := range spec.FillPolicies {
			if p == supported {
				return p
			}
		}
	}
	return broker.FillPolicyFOK
}
