package broker

// SimBroker is an in-memory broker. It backs the executor's dry-run mode and
// the test suites: the same lifecycle code runs against it and against a real
// venue adapter. Not safe for concurrent use, same contract as the interface.
type SimBroker struct {
	balance    float64
	specs      map[string]SymbolSpec
	quotes     map[string]Quote
	positions  map[int64]*Position
	resting    map[int64]OrderSpec // keyed by ticket
	closed     map[int64]ClosingTrade
	nextTicket int64

	failPlace  error
	failClose  error
	failModify error
}

// NewSimBroker creates a simulator with the given account balance.
func NewSimBroker(balance float64) *SimBroker {
	return &SimBroker{
		balance:    balance,
		specs:      make(map[string]SymbolSpec),
		quotes:     make(map[string]Quote),
		positions:  make(map[int64]*Position),
		resting:    make(map[int64]OrderSpec),
		closed:     make(map[int64]ClosingTrade),
		nextTicket: 1000,
	}
}

// AddSymbol registers a tradeable symbol.
func (b *SimBroker) AddSymbol(spec SymbolSpec) {
	b.specs[spec.Name] = spec
}

// SetQuote updates the live top-of-book for a symbol.
func (b *SimBroker) SetQuote(symbol string, bid, ask float64) {
	b.quotes[symbol] = Quote{Bid: bid, Ask: ask}
}

func (b *SimBroker) SelectSymbol(name string) bool {
	_, ok := b.specs[name]
	return ok
}

func (b *SimBroker) SymbolSpec(name string) (SymbolSpec, error) {
	spec, ok := b.specs[name]
	if !ok {
		return SymbolSpec{}, &Error{Code: CodeSymbolUnknown, Msg: "unknown symbol " + name}
	}
	return spec, nil
}

func (b *SimBroker) Quote(symbol string) (Quote, error) {
	q, ok := b.quotes[symbol]
	if !ok {
		return Quote{}, &Error{Code: CodeSymbolUnknown, Msg: "no quote for " + symbol}
	}
	return q, nil
}

func (b *SimBroker) AccountBalance() (float64, error) {
	return b.balance, nil
}

func (b *SimBroker) PlaceOrder(spec OrderSpec) (int64, error) {
	if b.failPlace != nil {
		err := b.failPlace
		b.failPlace = nil
		return 0, err
	}
	if _, ok := b.specs[spec.Symbol]; !ok {
		return 0, &Error{Code: CodeSymbolUnknown, Msg: "unknown symbol " + spec.Symbol}
	}

	b.nextTicket++
	ticket := b.nextTicket

	if spec.Type.IsMarket() {
		q, err := b.Quote(spec.Symbol)
		if err != nil {
			return 0, err
		}
		price := q.Ask
		if spec.Type.Side() == "SELL" {
			price = q.Bid
		}
		b.positions[ticket] = &Position{
			Ticket:    ticket,
			Symbol:    spec.Symbol,
			Magic:     spec.Magic,
			Side:      spec.Type.Side(),
			Volume:    spec.Volume,
			OpenPrice: price,
			StopLoss:  spec.StopLoss,
		}
		return ticket, nil
	}

	b.resting[ticket] = spec
	return ticket, nil
}

func (b *SimBroker) ClosePosition(ticket int64, volume float64) error {
	if b.failClose != nil {
		err := b.failClose
		b.failClose = nil
		return err
	}
	pos, ok := b.positions[ticket]
	if !ok {
		return &Error{Code: CodePositionNotFound, Msg: "position not found"}
	}

	if volume > 0 && volume < pos.Volume {
		pos.Volume -= volume
		return nil
	}

	q := b.quotes[pos.Symbol]
	price := q.Bid
	if pos.Side == "SELL" {
		price = q.Ask
	}
	b.closed[ticket] = ClosingTrade{Price: price, Reason: "close"}
	delete(b.positions, ticket)
	return nil
}

func (b *SimBroker) ModifyStop(ticket int64, newSL float64) error {
	if b.failModify != nil {
		err := b.failModify
		b.failModify = nil
		return err
	}
	pos, ok := b.positions[ticket]
	if !ok {
		return &Error{Code: CodePositionNotFound, Msg: "position not found"}
	}
	pos.StopLoss = newSL
	return nil
}

func (b *SimBroker) PositionByMagic(magic int64) (*Position, error) {
	for _, pos := range b.positions {
		if pos.Magic == magic {
			return pos, nil
		}
	}
	return nil, nil
}

func (b *SimBroker) HasRestingOrder(magic int64) (bool, error) {
	for _, spec := range b.resting {
		if spec.Magic == magic {
			return true, nil
		}
	}
	return false, nil
}

func (b *SimBroker) ClosingTrade(ticket int64) (*ClosingTrade, error) {
	ct, ok := b.closed[ticket]
	if !ok {
		return nil, nil
	}
	return &ct, nil
}

// FillRestingOrder converts a pending order into an open position at its
// configured price. Test/simulation hook.
func (b *SimBroker) FillRestingOrder(magic int64) (int64, bool) {
	for ticket, spec := range b.resting {
		if spec.Magic != magic {
			continue
		}
		delete(b.resting, ticket)
		b.positions[ticket] = &Position{
			Ticket:    ticket,
			Symbol:    spec.Symbol,
			Magic:     spec.Magic,
			Side:      spec.Type.Side(),
			Volume:    spec.Volume,
			OpenPrice: spec.Price,
			StopLoss:  spec.StopLoss,
		}
		return ticket, true
	}
	return 0, false
}

// CancelRestingOrder removes a pending order from the book. Test hook.
func (b *SimBroker) CancelRestingOrder(magic int64) {
	for ticket, spec := range b.resting {
		if spec.Magic == magic {
			delete(b.resting, ticket)
		}
	}
}

// CloseExternally removes a position as if the venue closed it (stop hit,
// manual close in the terminal) and records the closing trade.
func (b *SimBroker) CloseExternally(ticket int64, price, profit float64, reason string) {
	delete(b.positions, ticket)
	b.closed[ticket] = ClosingTrade{Price: price, Profit: profit, Reason: reason}
}

// FailNextClose makes the next ClosePosition call return err. Test hook.
func (b *SimBroker) FailNextClose(err error) { b.failClose = err }

// FailNextModify makes the next ModifyStop call return err. Test hook.
func (b *SimBroker) FailNextModify(err error) { b.failModify = err }

// FailNextPlace makes the next PlaceOrder call return err. Test hook.
func (b *SimBroker) FailNextPlace(err error) { b.failPlace = err }
