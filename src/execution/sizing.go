package execution

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"

	"signalbridge/src/broker"
	"signalbridge/src/model"
	"signalbridge/src/symbols"
)

// Broker-reported tick values below this (in deposit currency) for non-forex
// instruments are treated as bogus metadata and replaced with the class
// constants in the symbols package.
const implausibleTickValue = 0.05

var ErrZeroStopDistance = errors.New("entry and stop-loss are equal, cannot size position")

// SizingInput carries everything lot sizing needs.
type SizingInput struct {
	Signal      *model.Signal
	Balance     float64
	RiskPercent float64
	FixedLot    float64 // > 0 overrides risk-based sizing
	Spec        broker.SymbolSpec
}

// ComputeLot decides the order volume. A configured fixed lot wins; otherwise
// the lot risks RiskPercent of the balance over the entry-to-stop distance,
// expressed in the instrument's natural unit (pips for forex and yen crosses,
// raw price distance for point-based instruments).
func ComputeLot(in SizingInput) (float64, error) {
	if in.FixedLot > 0 {
		return clampToStep(in.FixedLot, in.Spec), nil
	}

	distance := math.Abs(in.Signal.EntryPrice - in.Signal.StopLoss)
	if distance == 0 {
		return 0, ErrZeroStopDistance
	}

	class := symbols.Classify(in.Signal.Symbol)

	units := decimal.NewFromFloat(distance)
	if class == symbols.ClassForex || class == symbols.ClassYenCross {
		pip := symbols.PipSize(in.Signal.Symbol, in.Spec.Digits)
		units = units.Div(decimal.NewFromFloat(pip))
	}

	unitValue := in.Spec.TickValue
	if class == symbols.ClassCrypto || class == symbols.ClassPreciousMetal {
		if unitValue < implausibleTickValue {
			unitValue = symbols.LotValueOverride(class, in.Signal.Symbol)
		}
	}
	if unitValue <= 0 {
		return 0, errors.New("no usable unit value for symbol " + in.Signal.Symbol)
	}

	riskAmount := decimal.NewFromFloat(in.Balance).
		Mul(decimal.NewFromFloat(in.RiskPercent)).
		Div(decimal.NewFromInt(100))

	lot := riskAmount.Div(units.Mul(decimal.NewFromFloat(unitValue)))

	return clampToStep(lot.InexactFloat64(), in.Spec), nil
}

// clampToStep rounds to the broker's volume step and clamps to [min, max].
func clampToStep(lot float64, spec broker.SymbolSpec) float64 {
	if spec.LotStep > 0 {
		lot = math.Round(lot/spec.LotStep) * spec.LotStep
	}
	if spec.MinLot > 0 && lot < spec.MinLot {
		lot = spec.MinLot
	}
	if spec.MaxLot > 0 && lot > spec.MaxLot {
		lot = spec.MaxLot
	}
	return lot
}
