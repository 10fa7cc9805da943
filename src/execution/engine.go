package execution

import (
	"fmt"

	logger "github.com/sirupsen/logrus"

	"signalbridge/src/broker"
	"signalbridge/src/model"
	"signalbridge/src/symbols"
)

// Params are the operator-facing execution knobs.
type Params struct {
	RiskPercent     float64
	FixedLot        float64
	SmartConversion bool
	Deviation       int // base market-order deviation in points
	SymbolSuffix    string
}

// Engine turns a signal plus live market data into a concrete order
// submission against the broker.
type Engine struct {
	broker broker.Broker
	params Params
}

// NewEngine creates an execution engine bound to a broker.
func NewEngine(b broker.Broker, params Params) *Engine {
	return &Engine{broker: b, params: params}
}

// Placement describes a submitted order: the ticket, the venue symbol
// actually traded (suffix applied), and whether the fill was immediate.
type Placement struct {
	Ticket      int64
	VenueSymbol string
	Spec        broker.SymbolSpec
	Type        broker.OrderType
	Lot         float64
	Converted   bool
}

// Market reports whether the placement filled immediately rather than
// resting on the book.
func (p *Placement) Market() bool {
	return p.Type.IsMarket()
}

// Place validates, sizes and submits the order for a signal.
func (e *Engine) Place(sig *model.Signal) (*Placement, error) {
	if err := ValidateLadder(sig); err != nil {
		return nil, err
	}

	venueSymbol := symbols.ApplySuffix(sig.Symbol, e.params.SymbolSuffix)
	if !e.broker.SelectSymbol(venueSymbol) {
		return nil, &broker.Error{Code: broker.CodeSymbolUnknown, Msg: "symbol not available: " + venueSymbol}
	}

	spec, err := e.broker.SymbolSpec(venueSymbol)
	if err != nil {
		return nil, err
	}
	if !spec.TradeAllowed {
		return nil, &broker.Error{Code: broker.CodeTradeDisabled, Msg: "trading disabled for " + venueSymbol}
	}

	quote, err := e.broker.Quote(venueSymbol)
	if err != nil {
		return nil, fmt.Errorf("quote refresh failed for %s: %w", venueSymbol, err)
	}

	decision, err := DecideOrder(sig, quote, spec, e.params.SmartConversion, e.params.Deviation)
	if err != nil {
		return nil, err
	}

	balance, err := e.broker.AccountBalance()
	if err != nil {
		return nil, err
	}

	lot, err := ComputeLot(SizingInput{
		Signal:      sig,
		Balance:     balance,
		RiskPercent: e.params.RiskPercent,
		FixedLot:    e.params.FixedLot,
		Spec:        spec,
	})
	if err != nil {
		return nil, err
	}

	ticket, err := e.broker.PlaceOrder(broker.OrderSpec{
		Symbol:     venueSymbol,
		Type:       decision.Type,
		Volume:     lot,
		Price:      decision.Price,
		StopLoss:   sig.StopLoss,
		TakeProfit: 0, // TP ladder is managed by the tracker, not the venue
		Deviation:  decision.Deviation,
		Fill:       decision.Fill,
		Magic:      sig.MessageID,
		Comment:    "signal " + sig.ID,
	})
	if err != nil {
		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"signal_id":  sig.ID,
		"message_id": sig.MessageID,
		"symbol":     venueSymbol,
		"order_type": string(decision.Type),
		"lot":        lot,
		"converted":  decision.Converted,
		"ticket":     ticket,
	}).Info("order placed")

	return &Placement{
		Ticket:      ticket,
		VenueSymbol: venueSymbol,
		Spec:        spec,
		Type:        decision.Type,
		Lot:         lot,
		Converted:   decision.Converted,
	}, nil
}
