// Package recovery reconstructs a signal's current TP/SL state by folding its
// persisted event log. The fold is pure: same signal and same event sequence
// always yield the same state, so it can run on the store side to answer
// recovery queries and on the execution side to resume monitoring after a
// restart.
package recovery

import "signalbridge/src/model"

// State is the derived TP/SL state of a signal after replaying its events.
// PositionOpened records that a fill was ever observed, so a restart can
// tell a never-filled order apart from a position that vanished offline.
type State struct {
	CurrentStopLoss float64 `json:"current_sl"`
	TP1Hit          bool    `json:"tp1_hit"`
	TP2Hit          bool    `json:"tp2_hit"`
	TP3Hit          bool    `json:"tp3_hit"`
	TP1PartialDone  bool    `json:"tp1_partial_done"`
	TP2PartialDone  bool    `json:"tp2_partial_done"`
	PositionOpened  bool    `json:"position_opened"`
	Terminal        bool    `json:"terminal"`
}

// Fold replays events in order and returns the derived state.
//
// Only the event type tag and the signal's static TP ladder drive the
// transitions. Numeric payloads inside event_data are never inspected, which
// keeps recovery robust against partial or garbled payloads and lets old
// recovery code skip over event types it does not know about.
func Fold(sig *model.Signal, events []model.TradeEvent) State {
	st := State{CurrentStopLoss: sig.StopLoss}

	for i := range events {
		switch events[i].EventType {
		case model.EventPositionOpened:
			st.PositionOpened = true
		case model.EventTP1Hit:
			st.TP1Hit = true
			st.TP1PartialDone = true
			st.PositionOpened = true
			if !sig.MultiTP() {
				// Single-TP signal: TP1 is a full close.
				st.Terminal = true
			} else if !st.TP2Hit {
				// Partial close at TP1 ratchets the stop to break-even.
				// Never steps backwards when TP2 was already recorded.
				st.CurrentStopLoss = sig.EntryPrice
			}
		case model.EventTP2Hit:
			st.TP2Hit = true
			st.TP2PartialDone = true
			st.PositionOpened = true
			st.CurrentStopLoss = sig.TP1
		case model.EventTP3Hit:
			st.TP3Hit = true
			st.PositionOpened = true
			st.Terminal = true
		case model.EventSLHit, model.EventManualClose:
			st.Terminal = true
		default:
			// order_placed, error, ea_started and any future informational
			// types carry no recovery delta.
		}
	}

	return st
}
