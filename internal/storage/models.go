package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// Run statuses.
const (
	StatusConfirmed = "confirmed"
	StatusDryRun    = "dry_run"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

// RebaseRun is one persisted control-loop invocation.
type RebaseRun struct {
	ID              int64
	RunAt           time.Time
	Status          string
	Stage           string
	Price           decimal.Decimal
	TargetPrice     decimal.Decimal
	MultipleOfStart decimal.Decimal
	DesiredMultiple decimal.Decimal
	PriceChangePct  decimal.Decimal
	SupplyChangePct decimal.Decimal
	Supply          decimal.Decimal
	Delta           decimal.Decimal
	Epoch           decimal.NullDecimal
	TxHash          *string
	BlockNumber     *int64
	Error           *string
	CreatedAt       time.Time
}
