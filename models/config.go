package models

import (
	"time"
)

// Config is the resolved runtime configuration of the treasury service.
type Config struct {
	ConnectionString string `mapstructure:"TREASURY_CONNECTION_STRING"`
	DBDriver         string `mapstructure:"DB_DRIVER"`
	SQLitePath       string `mapstructure:"SQLITE_PATH"`
	AutoMigrate      bool   `mapstructure:"AUTO_MIGRATE"`

	HTTPPort     int    `mapstructure:"HTTP_PORT"`
	EventPort    int    `mapstructure:"EVENT_PORT"`
	EventSinkURL string `mapstructure:"EVENT_SINK_URL"`

	LedgerNodeAPI   string        `mapstructure:"LEDGER_NODE_API"`
	LedgerNetwork   string        `mapstructure:"LEDGER_NETWORK"`
	TreasuryAddress string        `mapstructure:"TREASURY_ADDRESS"`
	LedgerTimeout   time.Duration `mapstructure:"LEDGER_TIMEOUT"`

	VotingPeriod      time.Duration `mapstructure:"VOTING_PERIOD"`
	QuorumPercentage  float64       `mapstructure:"QUORUM_PERCENTAGE"`
	ApprovalThreshold float64       `mapstructure:"APPROVAL_THRESHOLD"`

	TallySchedule         string        `mapstructure:"TALLY_SCHEDULE"`
	ReconcileSchedule     string        `mapstructure:"RECONCILE_SCHEDULE"`
	PayoutSchedule        string        `mapstructure:"PAYOUT_SCHEDULE"`
	StaleTransactionAfter time.Duration `mapstructure:"STALE_TRANSACTION_AFTER"`

	RateLimitRPS   float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `mapstructure:"RATE_LIMIT_BURST"`
}

// DefaultConfig returns the configuration used for any key left unset.
func DefaultConfig() Config {
	return Config{
		DBDriver:              "postgres",
		AutoMigrate:           true,
		HTTPPort:              8080,
		LedgerNetwork:         "testnet",
		LedgerTimeout:         30 * time.Second,
		VotingPeriod:          72 * time.Hour,
		QuorumPercentage:      0.30,
		ApprovalThreshold:     0.50,
		TallySchedule:         "@every 1m",
		ReconcileSchedule:     "@every 30s",
		StaleTransactionAfter: 15 * time.Minute,
		RateLimitRPS:          20,
		RateLimitBurst:        40,
	}
}
