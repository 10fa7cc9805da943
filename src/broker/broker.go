// Package broker defines the abstract trading-platform capability the
// execution side runs against. The lifecycle state machine has exactly one
// implementation of its evaluation logic; swapping the broker swaps the
// venue, not the rules. SimBroker provides the in-memory implementation used
// for dry runs and tests.
package broker

import (
	"errors"
	"fmt"
)

// OrderType covers immediate and resting order kinds. buy/sell are market
// orders, the limits are resting entries on the passive side of the book.
type OrderType string

const (
	OrderTypeBuy       OrderType = "buy"
	OrderTypeSell      OrderType = "sell"
	OrderTypeBuyLimit  OrderType = "buy_limit"
	OrderTypeSellLimit OrderType = "sell_limit"
)

// IsMarket reports whether t executes immediately.
func (t OrderType) IsMarket() bool {
	return t == OrderTypeBuy || t == OrderTypeSell
}

// Side returns the trade direction for any order type.
func (t OrderType) Side() string {
	switch t {
	case OrderTypeBuy, OrderTypeBuyLimit:
		return "BUY"
	default:
		return "SELL"
	}
}

// FillPolicy is the venue fill mode for market orders, ordered here from most
// to least preferred: a policy that allows partial fills beats one that
// cancels or kills the remainder.
type FillPolicy string

const (
	FillPolicyPartial FillPolicy = "partial"
	FillPolicyIOC     FillPolicy = "ioc"
	FillPolicyFOK     FillPolicy = "fok"
)

// Quote is the live top-of-book for a symbol.
type Quote struct {
	Bid float64
	Ask float64
}

// SymbolSpec is the broker-reported trading metadata for one symbol.
type SymbolSpec struct {
	Name         string
	Digits       int
	Point        float64
	TickValue    float64
	MinLot       float64
	MaxLot       float64
	LotStep      float64
	FillPolicies []FillPolicy
	TradeAllowed bool
}

// OrderSpec describes one order submission. Magic carries the signal's
// message id so positions can be correlated back to their signal.
type OrderSpec struct {
	Symbol     string
	Type       OrderType
	Volume     float64
	Price      float64 // ignored for market orders
	StopLoss   float64
	TakeProfit float64
	Deviation  int // max price deviation for market orders, in points
	Fill       FillPolicy
	Magic      int64
	Comment    string
}

// Position is an open broker position.
type Position struct {
	Ticket    int64
	Symbol    string
	Magic     int64
	Side      string // BUY or SELL
	Volume    float64
	OpenPrice float64
	StopLoss  float64
}

// ClosingTrade is the broker's record of how a position left the book.
type ClosingTrade struct {
	Price  float64
	Profit float64
	Reason string
}

// Broker is the abstract execution capability. Implementations must be safe
// for sequential use from a single goroutine; the execution loop never calls
// concurrently.
type Broker interface {
	// SelectSymbol makes a symbol tradeable, reporting whether the venue
	// knows it at all.
	SelectSymbol(name string) bool

	// SymbolSpec returns trading metadata for a selected symbol.
	SymbolSpec(name string) (SymbolSpec, error)

	// Quote returns the live bid/ask.
	Quote(symbol string) (Quote, error)

	// AccountBalance returns the account balance in deposit currency.
	AccountBalance() (float64, error)

	// PlaceOrder submits an order and returns the broker ticket.
	PlaceOrder(spec OrderSpec) (int64, error)

	// ClosePosition closes volume lots of the position; volume 0 closes all.
	ClosePosition(ticket int64, volume float64) error

	// ModifyStop moves the position's stop-loss.
	ModifyStop(ticket int64, newSL float64) error

	// PositionByMagic finds the open position correlated to a signal.
	// Returns (nil, nil) when none exists.
	PositionByMagic(magic int64) (*Position, error)

	// HasRestingOrder reports whether a pending order for the signal is
	// still on the book.
	HasRestingOrder(magic int64) (bool, error)

	// ClosingTrade returns the deal that closed the given position, or
	// (nil, nil) when the broker has no record of it.
	ClosingTrade(ticket int64) (*ClosingTrade, error)
}

// Error is a broker return code with its message. Codes are classified into
// retryable and fatal so a transient rejection is not treated like a dead
// symbol.
type Error struct {
	Code int
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("broker error %d: %s", e.Code, e.Msg)
}

// Broker return codes. The numbering follows the usual trade-server
// convention: 1xx transient, 13x structural.
const (
	CodeRequote          = 138
	CodePriceOff         = 135
	CodeTradeTimeout     = 128
	CodeNoConnection     = 6
	CodeNoMoney          = 134
	CodeTradeDisabled    = 133
	CodeMarketClosed     = 132
	CodeInvalidStops     = 130
	CodeSymbolUnknown    = 4301
	CodeUnsupportedFill  = 4756
	CodeInvalidVolume    = 131
	CodePositionNotFound = 4754
)

// Retryable reports whether err is a broker rejection worth retrying on the
// next cycle. Non-broker errors (transport, timeouts) are treated as
// retryable; only structurally fatal broker codes are not.
func Retryable(err error) bool {
	var be *Error
	if !errors.As(err, &be) {
		return true
	}
	switch be.Code {
	case CodeNoMoney, CodeTradeDisabled, CodeSymbolUnknown, CodeInvalidVolume:
		return false
	default:
		return true
	}
}
