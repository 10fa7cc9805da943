package executors

import (
	"context"
	"errors"
	"time"

	logger "github.com/sirupsen/logrus"

	"signalbridge/src/broker"
	"signalbridge/src/client"
	"signalbridge/src/execution"
	"signalbridge/src/model"
	"signalbridge/src/recovery"
	"signalbridge/src/symbols"
	"signalbridge/src/tracker"
)

// StartLoop runs the executor's polling loop until the context is cancelled:
// fetch pending signals from the store, place or recover each new one, sweep
// broker presence, evaluate quotes against the TP ladder, and periodically
// compact the tracking set.
func StartLoop(ctx context.Context, b broker.Broker, store *client.StoreClient) error {
	config := GetConfig()

	if err := store.Health(ctx); err != nil {
		logger.WithError(err).Error("signal store unreachable")
		return err
	}

	engine := execution.NewEngine(b, execution.Params{
		RiskPercent:     config.RiskPercent,
		FixedLot:        config.FixedLot,
		SmartConversion: config.SmartConversion,
		Deviation:       config.Deviation,
		SymbolSuffix:    config.SymbolSuffix,
	})
	track := tracker.New(b, store, config.RetryMissedPartials)

	ticker := time.NewTicker(config.PollPeriod)
	defer ticker.Stop()

	lastCompact := time.Now()

	logger.WithFields(logger.Fields{
		"poll_period": config.PollPeriod.String(),
		"dry_run":     config.DryRun,
	}).Info("executor loop started")

	for {
		select {
		case <-ctx.Done():
			logger.Info("executor loop stopped")
			return nil

		case <-ticker.C:
			runPass(ctx, config, engine, track, b, store)

			if time.Since(lastCompact) >= config.CompactPeriod {
				track.Compact()
				lastCompact = time.Now()
			}
		}
	}
}

// runPass is one full poll-sweep-evaluate cycle. Each per-signal failure is
// isolated so one bad symbol cannot stall the rest of the book.
func runPass(ctx context.Context, config Config, engine *execution.Engine, track *tracker.Tracker, b broker.Broker, store *client.StoreClient) {
	pending, err := store.GetPendingSignals(ctx)
	if err != nil {
		logger.WithError(err).Error("failed to fetch pending signals")
	} else {
		for i := range pending {
			if track.Has(pending[i].MessageID) {
				continue
			}
			admitSignal(ctx, config, engine, track, b, store, pending[i])
		}
	}

	track.CheckPresence(ctx)

	for _, venueSymbol := range track.ActiveSymbols() {
		q, err := b.Quote(venueSymbol)
		if err != nil {
			logger.WithField("symbol", venueSymbol).WithError(err).Warn("quote refresh failed")
			continue
		}
		track.OnTick(ctx, venueSymbol, q)
	}
}

// admitSignal brings one store signal under local management. The polling
// payload carries only the plan, so the event-log state decides the path: a
// signal with live history is recovered so no take-profit level fires twice,
// a fresh one gets an order placed.
func admitSignal(ctx context.Context, config Config, engine *execution.Engine, track *tracker.Tracker, b broker.Broker, store *client.StoreClient, ps client.PendingSignal) {
	sig := toModel(ps)
	log := logger.WithFields(logger.Fields{
		"signal_id":  sig.ID,
		"message_id": sig.MessageID,
		"symbol":     sig.Symbol,
	})

	st, err := store.GetSignalState(ctx, sig.MessageID)
	if err != nil {
		log.WithError(err).Error("failed to fetch signal state")
		return
	}
	if st == nil {
		log.Warn("signal vanished from store before admission")
		return
	}

	if st.Signal.Status == model.SignalStatusActive {
		recoverSignal(ctx, config, track, b, store, sig, st, log)
		return
	}

	placement, err := engine.Place(&sig)
	if err != nil {
		log.WithError(err).Error("order placement failed")

		// A bad ladder, a zero stop distance, an entry already overrun by
		// the market, and fatal broker codes cannot succeed on a retry.
		// Everything else (requotes, transport) waits for the next poll.
		permanent := errors.Is(err, execution.ErrInvalidLadder) ||
			errors.Is(err, execution.ErrZeroStopDistance) ||
			errors.Is(err, execution.ErrPriceMoved) ||
			!broker.Retryable(err)
		if !permanent {
			return
		}
		reportErr := store.ReportEvent(ctx, sig.ID, sig.MessageID, model.EventError, map[string]interface{}{
			"stage":   "placement",
			"message": err.Error(),
		})
		if reportErr != nil {
			log.WithError(reportErr).Error("failed to report placement error")
		}
		return
	}

	ticket := int64(0)
	if placement.Market() {
		ticket = placement.Ticket
	}

	state := recovery.State{CurrentStopLoss: sig.StopLoss}
	track.Track(ctx, sig, placement.VenueSymbol, placement.Spec, ticket, state)

	if err := store.ReportEvent(ctx, sig.ID, sig.MessageID, model.EventOrderPlaced, map[string]interface{}{
		"ticket":     placement.Ticket,
		"symbol":     placement.VenueSymbol,
		"order_type": string(placement.Type),
		"lot":        placement.Lot,
	}); err != nil {
		log.WithError(err).Error("failed to report order placement")
	}

	if placement.Market() {
		// A market fill opens the position right away. Recording it here
		// keeps the event log authoritative about whether a position ever
		// existed, which a later restart relies on to tell a vanished
		// position apart from an order that never filled.
		data := map[string]interface{}{
			"ticket": placement.Ticket,
			"volume": placement.Lot,
		}
		if pos, perr := b.PositionByMagic(sig.MessageID); perr == nil && pos != nil {
			data["open_price"] = pos.OpenPrice
			data["volume"] = pos.Volume
		}
		if err := store.ReportEvent(ctx, sig.ID, sig.MessageID, model.EventPositionOpened, data); err != nil {
			log.WithError(err).Error("failed to report position open")
		}
	}
}

// recoverSignal re-adopts a signal that already has live history: fold state
// comes from the store, position presence from the broker.
func recoverSignal(ctx context.Context, config Config, track *tracker.Tracker, b broker.Broker, store *client.StoreClient, sig model.Signal, st *client.SignalState, log *logger.Entry) {
	venueSymbol := symbols.ApplySuffix(sig.Symbol, config.SymbolSuffix)
	if !b.SelectSymbol(venueSymbol) {
		log.WithField("venue_symbol", venueSymbol).Error("symbol not available, cannot recover")
		return
	}
	spec, err := b.SymbolSpec(venueSymbol)
	if err != nil {
		log.WithError(err).Error("failed to load symbol spec for recovery")
		return
	}

	rs := st.RecoveryState
	state := recovery.State{
		CurrentStopLoss: rs.CurrentSL,
		TP1Hit:          rs.TP1Hit,
		TP2Hit:          rs.TP2Hit,
		TP3Hit:          rs.TP3Hit,
		TP1PartialDone:  rs.TP1PartialDone,
		TP2PartialDone:  rs.TP2PartialDone,
		PositionOpened:  rs.PositionOpened,
		Terminal:        rs.Terminal,
	}

	ticket := int64(0)
	if pos, err := b.PositionByMagic(sig.MessageID); err == nil && pos != nil {
		ticket = pos.Ticket
	}

	track.Track(ctx, sig, venueSymbol, spec, ticket, state)

	if state.Terminal {
		return
	}

	log.WithFields(logger.Fields{
		"tp1_hit":    state.TP1Hit,
		"tp2_hit":    state.TP2Hit,
		"current_sl": state.CurrentStopLoss,
		"ticket":     ticket,
	}).Info("signal recovered from event log")

	if err := store.ReportEvent(ctx, sig.ID, sig.MessageID, model.EventEAStarted, map[string]interface{}{
		"recovered": true,
	}); err != nil {
		log.WithError(err).Error("failed to report tracking restart")
	}
}

func toModel(ps client.PendingSignal) model.Signal {
	sig := model.Signal{
		ID:         ps.ID,
		MessageID:  ps.MessageID,
		Symbol:     ps.Symbol,
		Action:     ps.Action,
		EntryPrice: ps.EntryPrice,
		StopLoss:   ps.StopLoss,
		TP1:        ps.TP1,
		Status:     ps.Status,
	}
	if ps.TP2 != nil {
		sig.TP2 = *ps.TP2
	}
	if ps.TP3 != nil {
		sig.TP3 = *ps.TP3
	}
	return sig
}
