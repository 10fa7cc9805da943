// Package tracker holds the live working copies of signals on the execution
// side and drives them through their lifecycle: pending (order resting or
// not yet observed), active (position open, partial closes possible),
// terminal (fully closed or failed). All state transitions are evaluated here
// and nowhere else; the broker only executes, the store only records.
//
// The tracker assumes sequential, non-reentrant callbacks: the polling pass
// and tick evaluation are never called concurrently, so there is no locking,
// only the discipline of setting a level's hit flag before attempting the
// matching broker action.
package tracker

import (
	"context"
	"math"

	"github.com/sirupsen/logrus"

	"signalbridge/src/broker"
	"signalbridge/src/model"
	"signalbridge/src/recovery"
	"signalbridge/src/symbols"
)

// Reporter delivers trade events to the signal store. A failed report is
// logged and dropped; it must never block or abort the evaluation pass.
type Reporter interface {
	ReportEvent(ctx context.Context, signalID string, messageID int64, eventType string, data map[string]interface{}) error
}

// Tracked is the in-memory working copy of one signal: the plan plus the
// runtime state that the store only learns about through events.
type Tracked struct {
	Signal      model.Signal
	VenueSymbol string
	Spec        broker.SymbolSpec

	CurrentSL      float64
	TP1Hit         bool
	TP2Hit         bool
	TP3Hit         bool
	TP1PartialDone bool
	TP2PartialDone bool

	Ticket      int64 // live position ticket, 0 when none observed yet
	HadPosition bool
	Active      bool
}

// Tracker owns the active tracking set, keyed by the signal's message id
// (the broker-side magic number).
type Tracker struct {
	broker  broker.Broker
	report  Reporter
	diag    *Diag
	log     *logrus.Entry
	signals map[int64]*Tracked

	// RetryMissedPartials controls what happens when a partial close or
	// stop move fails at the broker: false (default, matching the legacy
	// behavior) keeps the hit flag set so the tranche is never retried;
	// true clears the flag so the next tick attempts the close again.
	retryMissedPartials bool

	sweeping bool
}

// New creates a tracker bound to a broker and an event reporter.
func New(b broker.Broker, r Reporter, retryMissedPartials bool) *Tracker {
	log := logrus.WithField("component", "tracker")
	return &Tracker{
		broker:              b,
		report:              r,
		diag:                NewDiag(log),
		log:                 log,
		signals:             make(map[int64]*Tracked),
		retryMissedPartials: retryMissedPartials,
	}
}

// Has reports whether a signal is already in the tracking set.
func (tr *Tracker) Has(messageID int64) bool {
	_, ok := tr.signals[messageID]
	return ok
}

// Len returns the size of the tracking set, inactive records included.
func (tr *Tracker) Len() int {
	return len(tr.signals)
}

// ActiveSymbols returns the distinct venue symbols with at least one active
// tracked signal, for the quote-fetch loop.
func (tr *Tracker) ActiveSymbols() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, t := range tr.signals {
		if !t.Active {
			continue
		}
		if _, dup := seen[t.VenueSymbol]; dup {
			continue
		}
		seen[t.VenueSymbol] = struct{}{}
		out = append(out, t.VenueSymbol)
	}
	return out
}

// Track admits a signal into the tracking set with its recovered state.
// A terminal recovery state admits nothing; if the terminal state is a TP3
// close, any position still open under this magic is stale (crash between
// the TP3 close and its confirmation) and is closed now, with the healing
// recorded on the audit trail. A state whose history proves a fill marks the
// record as having had a position even without a live ticket, so a close
// that happened offline is reconciled instead of silently dropped.
func (tr *Tracker) Track(ctx context.Context, sig model.Signal, venueSymbol string, spec broker.SymbolSpec, ticket int64, st recovery.State) {
	if st.Terminal {
		if st.TP3Hit {
			tr.healStalePosition(ctx, &sig)
		}
		return
	}

	tr.signals[sig.MessageID] = &Tracked{
		Signal:         sig,
		VenueSymbol:    venueSymbol,
		Spec:           spec,
		CurrentSL:      st.CurrentStopLoss,
		TP1Hit:         st.TP1Hit,
		TP2Hit:         st.TP2Hit,
		TP3Hit:         st.TP3Hit,
		TP1PartialDone: st.TP1PartialDone,
		TP2PartialDone: st.TP2PartialDone,
		Ticket:         ticket,
		HadPosition:    ticket != 0 || st.PositionOpened || st.TP1Hit || st.TP2Hit,
		Active:         true,
	}

	tr.log.WithFields(logrus.Fields{
		"signal_id":  sig.ID,
		"message_id": sig.MessageID,
		"symbol":     venueSymbol,
		"tp1_hit":    st.TP1Hit,
		"tp2_hit":    st.TP2Hit,
		"current_sl": st.CurrentStopLoss,
	}).Info("signal tracked")
}

func (tr *Tracker) healStalePosition(ctx context.Context, sig *model.Signal) {
	pos, err := tr.broker.PositionByMagic(sig.MessageID)
	if err != nil || pos == nil {
		return
	}

	tr.log.WithFields(logrus.Fields{
		"signal_id": sig.ID,
		"ticket":    pos.Ticket,
	}).Warn("position still open for a signal already closed at final take-profit, closing now")

	if err := tr.broker.ClosePosition(pos.Ticket, 0); err != nil {
		tr.diag.Once(sig.MessageID, "stale_close_failed", logrus.Fields{"ticket": pos.Ticket}, "failed to close stale position")
		return
	}

	tr.emit(ctx, sig, model.EventManualClose, map[string]interface{}{
		"reason": "stale position closed after final take-profit",
		"ticket": pos.Ticket,
	})
}

// OnTick evaluates every active signal on the given venue symbol against a
// fresh quote. This is the hot path; it must stay cheap for symbols with no
// pending level crossings.
func (tr *Tracker) OnTick(ctx context.Context, venueSymbol string, q broker.Quote) {
	tr.sweeping = true
	defer func() { tr.sweeping = false }()

	for _, t := range tr.signals {
		if !t.Active || t.Ticket == 0 || t.VenueSymbol != venueSymbol {
			continue
		}
		tr.evaluate(ctx, t, q)
	}
}

func (tr *Tracker) evaluate(ctx context.Context, t *Tracked, q broker.Quote) {
	sig := &t.Signal

	// A long closes against the bid, a short against the ask.
	price := q.Bid
	if !sig.IsBuy() {
		price = q.Ask
	}

	// Profitability guard: never claim a take-profit while the position is
	// at an unrealized loss. Protects against stale or erroneous quotes
	// after the true price retraced through the stop.
	if sig.IsBuy() && price <= sig.EntryPrice {
		return
	}
	if !sig.IsBuy() && price >= sig.EntryPrice {
		return
	}

	crossed := func(target float64) bool {
		if sig.IsBuy() {
			return price >= target
		}
		return price <= target
	}

	// Ladder priority TP3 -> TP2 -> TP1. TP3 is a full close and
	// short-circuits; TP2 and TP1 can both fire in one gapping tick.
	if sig.TP3 > 0 && !t.TP3Hit && crossed(sig.TP3) {
		tr.takeFinal(ctx, t, price)
		return
	}

	if sig.TP2 > 0 && !t.TP2Hit && crossed(sig.TP2) {
		tr.takePartial(ctx, t, 2, price)
	}

	if !t.TP1Hit && crossed(sig.TP1) {
		if sig.MultiTP() {
			tr.takePartial(ctx, t, 1, price)
		} else {
			tr.takeSingleTP(ctx, t, price)
		}
	}
}

// takeFinal closes the remaining size at TP3 and terminates the signal.
func (tr *Tracker) takeFinal(ctx context.Context, t *Tracked, price float64) {
	t.TP3Hit = true // set before the broker call, guards re-entry

	if err := tr.broker.ClosePosition(t.Ticket, 0); err != nil {
		tr.diag.Once(t.Signal.MessageID, "tp3_close_failed", logrus.Fields{"ticket": t.Ticket}, "failed to close position at final take-profit")
		if tr.retryMissedPartials {
			t.TP3Hit = false
		}
		return
	}

	t.Active = false
	tr.emit(ctx, &t.Signal, model.EventTP3Hit, map[string]interface{}{
		"price":          price,
		"closed_percent": 100,
	})
}

// takeSingleTP closes the full position for a signal that only carries TP1.
func (tr *Tracker) takeSingleTP(ctx context.Context, t *Tracked, price float64) {
	t.TP1Hit = true

	if err := tr.broker.ClosePosition(t.Ticket, 0); err != nil {
		tr.diag.Once(t.Signal.MessageID, "tp1_close_failed", logrus.Fields{"ticket": t.Ticket}, "failed to close position at take-profit")
		if tr.retryMissedPartials {
			t.TP1Hit = false
		}
		return
	}

	t.TP1PartialDone = true
	t.Active = false
	tr.emit(ctx, &t.Signal, model.EventTP1Hit, map[string]interface{}{
		"price":          price,
		"single_tp":      true,
		"closed_percent": 100,
	})
}

// takePartial closes half of the current remaining size at TP1 or TP2 and
// ratchets the stop (TP1 -> break-even, TP2 -> TP1). The event is emitted
// only after both broker actions succeed; a set hit flag with no event is
// the accepted divergence on transient broker failure.
func (tr *Tracker) takePartial(ctx context.Context, t *Tracked, level int, price float64) {
	sig := &t.Signal

	var newSL float64
	var eventType string
	if level == 1 {
		t.TP1Hit = true
		newSL = sig.EntryPrice
		if t.TP2Hit {
			// TP2 already ratcheted the stop to TP1; never step back.
			newSL = sig.TP1
		}
		eventType = model.EventTP1Hit
	} else {
		t.TP2Hit = true
		newSL = sig.TP1
		eventType = model.EventTP2Hit
	}

	rollback := func() {
		if !tr.retryMissedPartials {
			return
		}
		if level == 1 {
			t.TP1Hit = false
		} else {
			t.TP2Hit = false
		}
	}

	pos, err := tr.broker.PositionByMagic(sig.MessageID)
	if err != nil || pos == nil {
		tr.diag.Once(sig.MessageID, "partial_no_position", nil, "no position found for partial close")
		rollback()
		return
	}

	half := halfVolume(pos.Volume, t.Spec)
	if err := tr.broker.ClosePosition(t.Ticket, half); err != nil {
		tr.diag.Once(sig.MessageID, "partial_close_failed", logrus.Fields{"ticket": t.Ticket, "volume": half}, "partial close rejected by broker")
		rollback()
		return
	}

	if level == 1 {
		t.TP1PartialDone = true
	} else {
		t.TP2PartialDone = true
	}

	if err := tr.broker.ModifyStop(t.Ticket, newSL); err != nil {
		// The tranche is closed but the stop did not move; no event goes
		// out, so recovery will re-derive the old stop. Logged for the
		// operator, not retried.
		tr.diag.Once(sig.MessageID, "stop_move_failed", logrus.Fields{"ticket": t.Ticket, "new_sl": newSL}, "failed to move stop-loss after partial close")
		return
	}

	t.CurrentSL = newSL
	tr.emit(ctx, sig, eventType, map[string]interface{}{
		"price":             price,
		"closed_50_percent": true,
		"closed_volume":     half,
		"new_sl":            newSL,
	})
}

// halfVolume halves the live volume and rounds it to the broker step, never
// below the minimum lot.
func halfVolume(volume float64, spec broker.SymbolSpec) float64 {
	half := volume / 2
	if spec.LotStep > 0 {
		half = math.Round(half/spec.LotStep) * spec.LotStep
	}
	if spec.MinLot > 0 && half < spec.MinLot {
		half = spec.MinLot
	}
	if half > volume {
		half = volume
	}
	return half
}

// CheckPresence runs the per-signal presence cases: first observation of a
// fill, waiting on a resting order, or the position/order pair vanishing.
func (tr *Tracker) CheckPresence(ctx context.Context) {
	tr.sweeping = true
	defer func() { tr.sweeping = false }()

	for _, t := range tr.signals {
		if !t.Active {
			continue
		}
		tr.checkOne(ctx, t)
	}
}

func (tr *Tracker) checkOne(ctx context.Context, t *Tracked) {
	sig := &t.Signal

	pos, err := tr.broker.PositionByMagic(sig.MessageID)
	if err != nil {
		tr.diag.Once(sig.MessageID, "position_lookup_failed", nil, "failed to query position")
		return
	}

	if pos != nil {
		tr.diag.Clear(sig.MessageID, "position_lookup_failed")
		if t.Ticket == 0 {
			// First observation of the fill.
			t.Ticket = pos.Ticket
			t.HadPosition = true
			tr.emit(ctx, sig, model.EventPositionOpened, map[string]interface{}{
				"ticket":     pos.Ticket,
				"open_price": pos.OpenPrice,
				"volume":     pos.Volume,
			})
		}
		return
	}

	resting, err := tr.broker.HasRestingOrder(sig.MessageID)
	if err != nil {
		tr.diag.Once(sig.MessageID, "order_lookup_failed", nil, "failed to query resting order")
		return
	}
	if resting {
		// Order still on the book, keep waiting.
		return
	}

	if !t.HadPosition {
		// Neither order nor position and it never filled: the trade never
		// existed, drop it without a close event.
		t.Active = false
		tr.log.WithFields(logrus.Fields{
			"signal_id":  sig.ID,
			"message_id": sig.MessageID,
		}).Warn("order and position both missing before any fill, marking signal inactive")
		return
	}

	// Previously filled, now gone with no event of ours explaining it:
	// reconcile against the broker's closing trade.
	tr.reconcileClose(ctx, t)
}

// reconcileClose classifies an externally observed close against the SL/TP
// ladder and emits the matching event retroactively. A tick loop can miss an
// exact level under gaps or slippage; the closing trade price tells us which
// boundary was actually crossed. An unclassifiable close still emits
// manual_close with the realized result so the audit trail stays complete.
func (tr *Tracker) reconcileClose(ctx context.Context, t *Tracked) {
	t.Active = false

	data := map[string]interface{}{}
	eventType := model.EventManualClose

	ct, err := tr.broker.ClosingTrade(t.Ticket)
	if err == nil && ct != nil {
		eventType = tr.classifyClose(t, ct.Price)
		data["close_price"] = ct.Price
		data["profit"] = ct.Profit
		if ct.Reason != "" {
			data["reason"] = ct.Reason
		}
	} else {
		tr.diag.Once(t.Signal.MessageID, "closing_trade_missing", nil, "position vanished and no closing trade found")
		data["reason"] = "position vanished, closing trade unavailable"
	}

	tr.emit(ctx, &t.Signal, eventType, data)
}

func (tr *Tracker) classifyClose(t *Tracked, price float64) string {
	sig := &t.Signal
	tol := symbols.CloseTolerance(sig.Symbol, t.Spec.Digits)

	near := func(level float64) bool {
		return level > 0 && math.Abs(price-level) <= tol
	}

	switch {
	case near(t.CurrentSL):
		return model.EventSLHit
	case sig.TP3 > 0 && !t.TP3Hit && near(sig.TP3):
		return model.EventTP3Hit
	case sig.TP2 > 0 && !t.TP2Hit && near(sig.TP2):
		return model.EventTP2Hit
	case !t.TP1Hit && near(sig.TP1):
		return model.EventTP1Hit
	default:
		return model.EventManualClose
	}
}

// Fail marks a signal as failed execution and drops it from active tracking.
// Used by the polling side when order placement is structurally impossible.
func (tr *Tracker) Fail(messageID int64) {
	if t, ok := tr.signals[messageID]; ok {
		t.Active = false
	}
}

// Compact rebuilds the tracking set without inactive records to bound
// memory. It runs only between evaluation sweeps, never during one.
func (tr *Tracker) Compact() {
	if tr.sweeping {
		return
	}

	live := make(map[int64]*Tracked, len(tr.signals))
	for id, t := range tr.signals {
		if t.Active {
			live[id] = t
			continue
		}
		tr.diag.Drop(id)
	}

	if len(live) != len(tr.signals) {
		tr.log.WithFields(logrus.Fields{
			"before": len(tr.signals),
			"after":  len(live),
		}).Debug("compacted tracking set")
	}
	tr.signals = live
}

func (tr *Tracker) emit(ctx context.Context, sig *model.Signal, eventType string, data map[string]interface{}) {
	if data == nil {
		data = map[string]interface{}{}
	}
	if err := tr.report.ReportEvent(ctx, sig.ID, sig.MessageID, eventType, data); err != nil {
		// Never fatal: the local flags already prevent a duplicate broker
		// action, the store will catch up through reconciliation.
		tr.log.WithFields(logrus.Fields{
			"signal_id":  sig.ID,
			"event_type": eventType,
		}).WithError(err).Error("failed to report trade event")
		return
	}

	tr.log.WithFields(logrus.Fields{
		"signal_id":  sig.ID,
		"message_id": sig.MessageID,
		"event_type": eventType,
	}).Info("trade event reported")
}

// Get returns the tracking record for a signal, for inspection.
func (tr *Tracker) Get(messageID int64) *Tracked {
	return tr.signals[messageID]
}
