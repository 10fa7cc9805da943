package execution

import (
	"errors"
	"testing"

	"signalbridge/src/broker"
	"signalbridge/src/model"
)

func buySignal() *model.Signal {
	return &model.Signal{
		Symbol:     "EURUSD",
		Action:     model.ActionBuy,
		EntryPrice: 1.0850,
		StopLoss:   1.0800,
		TP1:        1.0900,
		TP2:        1.0950,
		TP3:        1.1000,
	}
}

func sellSignal() *model.Signal {
	return &model.Signal{
		Symbol:     "EURUSD",
		Action:     model.ActionSell,
		EntryPrice: 1.0850,
		StopLoss:   1.0900,
		TP1:        1.0800,
		TP2:        1.0750,
		TP3:        1.0700,
	}
}

func TestValidateLadder(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*model.Signal)
		buy     bool
		wantErr bool
	}{
		{"valid buy", func(s *model.Signal) {}, true, false},
		{"valid sell", func(s *model.Signal) {}, false, false},
		{"buy stop above entry", func(s *model.Signal) { s.StopLoss = 1.0860 }, true, true},
		{"buy tp1 below entry", func(s *model.Signal) { s.TP1 = 1.0840 }, true, true},
		{"buy tp3 below tp2", func(s *model.Signal) { s.TP3 = 1.0940 }, true, true},
		{"sell stop below entry", func(s *model.Signal) { s.StopLoss = 1.0840 }, false, true},
		{"sell tp1 above entry", func(s *model.Signal) { s.TP1 = 1.0860 }, false, true},
		{"buy single tp valid", func(s *model.Signal) { s.TP2, s.TP3 = 0, 0 }, true, false},
		{"buy tp2 only valid", func(s *model.Signal) { s.TP3 = 0 }, true, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sig := buySignal()
			if !tc.buy {
				sig = sellSignal()
			}
			tc.mutate(sig)

			err := ValidateLadder(sig)
			if tc.wantErr && !errors.Is(err, ErrInvalidLadder) {
				t.Fatalf("expected ErrInvalidLadder, got %v", err)
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestDecideOrderRestsOnPassiveSide(t *testing.T) {
	spec := forexSpec()

	// BUY entry below the ask waits as a buy limit at the entry.
	d, err := DecideOrder(buySignal(), broker.Quote{Bid: 1.0858, Ask: 1.0860}, spec, true, 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Type != broker.OrderTypeBuyLimit || d.Price != 1.0850 || d.Converted {
		t.Fatalf("expected resting buy limit at entry, got %+v", d)
	}

	// SELL entry above the bid waits as a sell limit.
	d, err = DecideOrder(sellSignal(), broker.Quote{Bid: 1.0840, Ask: 1.0842}, spec, true, 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Type != broker.OrderTypeSellLimit || d.Price != 1.0850 {
		t.Fatalf("expected resting sell limit at entry, got %+v", d)
	}
}

func TestDecideOrderSmartConversion(t *testing.T) {
	spec := forexSpec()

	// Ask already 1 point below entry: inside the 20-point tolerance,
	// converts to an immediate buy.
	d, err := DecideOrder(buySignal(), broker.Quote{Bid: 1.08488, Ask: 1.08490}, spec, true, 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Type != broker.OrderTypeBuy || !d.Converted || d.Price != 0 {
		t.Fatalf("expected converted market buy, got %+v", d)
	}

	// Mirror for SELL.
	d, err = DecideOrder(sellSignal(), broker.Quote{Bid: 1.08510, Ask: 1.08512}, spec, true, 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Type != broker.OrderTypeSell || !d.Converted {
		t.Fatalf("expected converted market sell, got %+v", d)
	}
}

func TestDecideOrderPriceMovedTooFar(t *testing.T) {
	spec := forexSpec()

	// 50 points past the entry, tolerance is 20.
	_, err := DecideOrder(buySignal(), broker.Quote{Bid: 1.08448, Ask: 1.08450}, spec, true, 20)
	if !errors.Is(err, ErrPriceMoved) {
		t.Fatalf("expected ErrPriceMoved, got %v", err)
	}
}

func TestDecideOrderConversionDisabled(t *testing.T) {
	spec := forexSpec()

	_, err := DecideOrder(buySignal(), broker.Quote{Bid: 1.08488, Ask: 1.08490}, spec, false, 20)
	if !errors.Is(err, ErrPriceMoved) {
		t.Fatalf("expected ErrPriceMoved with conversion disabled, got %v", err)
	}
}

// Crypto gets a 10x deviation multiplier, so a move that kills a forex
// signal still converts for BTC.
func TestDecideOrderClassDeviation(t *testing.T) {
	spec := broker.SymbolSpec{
		Name: "BTCUSD", Digits: 2, Point: 0.01, TickValue: 1.0,
		MinLot: 0.01, MaxLot: 10, LotStep: 0.01,
	}
	sig := &model.Signal{
		Symbol: "BTCUSD", Action: model.ActionBuy,
		EntryPrice: 64000, StopLoss: 63000,
		TP1: 65000, TP2: 66000, TP3: 67000,
	}

	// 1.5 below entry; tolerance = 20 * 10 * 0.01 = 2.0.
	d, err := DecideOrder(sig, broker.Quote{Bid: 63998.0, Ask: 63998.5}, spec, true, 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Type != broker.OrderTypeBuy || !d.Converted {
		t.Fatalf("expected converted market buy for crypto, got %+v", d)
	}
	if d.Deviation != 200 {
		t.Fatalf("expected deviation 200, got %d", d.Deviation)
	}
}

func TestPickFillPolicy(t *testing.T) {
	cases := []struct {
		name      string
		supported []broker.FillPolicy
		want      broker.FillPolicy
	}{
		{"partial preferred", []broker.FillPolicy{broker.FillPolicyFOK, broker.FillPolicyPartial}, broker.FillPolicyPartial},
		{"ioc next", []broker.FillPolicy{broker.FillPolicyFOK, broker.FillPolicyIOC}, broker.FillPolicyIOC},
		{"fok last", []broker.FillPolicy{broker.FillPolicyFOK}, broker.FillPolicyFOK},
		{"empty falls back to fok", nil, broker.FillPolicyFOK},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := PickFillPolicy(broker.SymbolSpec{FillPolicies: tc.supported})
			if got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}
