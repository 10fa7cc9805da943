package executors

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	StoreURL      string        `envconfig:"STORE_URL" default:"http://localhost:8888"`
	PollPeriod    time.Duration `envconfig:"POLL_PERIOD" default:"5s"`
	CompactPeriod time.Duration `envconfig:"COMPACT_PERIOD" default:"5m"`

	// Sizing. FixedLot > 0 wins over RiskPercent.
	RiskPercent float64 `envconfig:"RISK_PERCENT" default:"1.0"`
	FixedLot    float64 `envconfig:"FIXED_LOT" default:"0"`

	// Order placement.
	SmartConversion bool   `envconfig:"SMART_CONVERSION" default:"true"`
	SymbolSuffix    string `envconfig:"SYMBOL_SUFFIX" default:""`
	Deviation       int    `envconfig:"DEVIATION" default:"20"`

	// Lifecycle.
	RetryMissedPartials bool `envconfig:"RETRY_MISSED_PARTIALS" default:"false"`

	// DryRun runs against the built-in simulated broker instead of a venue.
	DryRun bool `envconfig:"DRY_RUN" default:"true"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
