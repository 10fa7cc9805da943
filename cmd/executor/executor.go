package executor

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"signalbridge/src/broker"
	"signalbridge/src/client"
	"signalbridge/src/executors"
)

type Executor struct {
}

// Start wires the broker and the store client and runs the polling loop
// until SIGINT/SIGTERM.
func (t *Executor) Start() error {
	config := executors.GetConfig()

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	var b broker.Broker
	if config.DryRun {
		logrus.Warn("dry-run mode, orders go to the simulated broker")
		b = seededSimBroker()
	} else {
		// A live venue adapter plugs in here; until one is configured the
		// simulator is the only backend.
		logrus.Warn("no live venue adapter configured, falling back to the simulated broker")
		b = seededSimBroker()
	}

	store := client.NewStoreClient(config.StoreURL)

	logrus.WithField("store_url", config.StoreURL).Info("starting signal executor")

	if err := executors.StartLoop(ctx, b, store); err != nil {
		logrus.WithError(err).Error("executor loop failed")
		return err
	}

	return nil
}

// seededSimBroker builds a simulator with a small book of common symbols so
// dry-run placements resolve without a live feed.
func seededSimBroker() *broker.SimBroker {
	b := broker.NewSimBroker(10000)

	forex := broker.SymbolSpec{
		Digits: 5, Point: 0.00001, TickValue: 1.0,
		MinLot: 0.01, MaxLot: 100, LotStep: 0.01,
		FillPolicies: []broker.FillPolicy{broker.FillPolicyIOC, broker.FillPolicyFOK},
		TradeAllowed: true,
	}
	yen := forex
	yen.Digits = 3
	yen.Point = 0.001

	metal := broker.SymbolSpec{
		Digits: 2, Point: 0.01, TickValue: 1.0,
		MinLot: 0.01, MaxLot: 50, LotStep: 0.01,
		FillPolicies: []broker.FillPolicy{broker.FillPolicyPartial, broker.FillPolicyIOC},
		TradeAllowed: true,
	}
	crypto := broker.SymbolSpec{
		Digits: 2, Point: 0.01, TickValue: 0.01,
		MinLot: 0.01, MaxLot: 10, LotStep: 0.01,
		FillPolicies: []broker.FillPolicy{broker.FillPolicyIOC},
		TradeAllowed: true,
	}

	seed := []struct {
		name     string
		spec     broker.SymbolSpec
		bid, ask float64
	}{
		{"EURUSD", forex, 1.08500, 1.08512},
		{"GBPUSD", forex, 1.26700, 1.26715},
		{"USDJPY", yen, 149.500, 149.512},
		{"XAUUSD", metal, 2320.50, 2320.90},
		{"BTCUSD", crypto, 64100.00, 64130.00},
	}
	for _, s := range seed {
		spec := s.spec
		spec.Name = s.name
		b.AddSymbol(spec)
		b.SetQuote(s.name, s.bid, s.ask)
	}

	return b
}
