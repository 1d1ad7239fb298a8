package service

import (
	"context"
	"math/big"
	"time"

	"github.com/shopspring/decimal"

	"rebase-keeper/internal/alerting"
	"rebase-keeper/internal/metrics"
	"rebase-keeper/internal/publisher"
	"rebase-keeper/internal/rebase"
	"rebase-keeper/internal/storage"
	"rebase-keeper/internal/submitter"
)

// Outcome is the result of one invocation. Computation and Confirmation are set once
// their stage has completed.
type Outcome struct {
	RunAt        time.Time
	Status       string
	Stage        rebase.Stage
	Price        *big.Int
	TargetPrice  *big.Int
	Computation  *rebase.Computation
	Confirmation *submitter.Confirmation
	Err          error
}

// Status is the JSON view of the last outcome served by the HTTP API.
type Status struct {
	RunAt           time.Time `json:"run_at"`
	Status          string    `json:"status"`
	Stage           string    `json:"stage,omitempty"`
	Price           string    `json:"price,omitempty"`
	TargetMultiple  string    `json:"target_multiple,omitempty"`
	SupplyChangePct string    `json:"supply_change_pct,omitempty"`
	Delta           string    `json:"supply_delta,omitempty"`
	Epoch           string    `json:"epoch,omitempty"`
	TxHash          string    `json:"tx_hash,omitempty"`
	Error           string    `json:"error,omitempty"`
}

// LastStatus returns the last reported outcome, or an untyped nil before the first run.
func (s *Service) LastStatus() any {
	s.lastMu.RLock()
	defer s.lastMu.RUnlock()
	if s.last == nil {
		return nil
	}
	return s.last.status()
}

// report fans the outcome out to the optional sinks. Sink failures are logged and never
// change the outcome of the invocation.
func (s *Service) report(ctx context.Context, out Outcome) {
	if out.Computation != nil && out.TargetPrice == nil {
		out.TargetPrice = s.opts.Band.TargetPrice(out.Computation.DesiredMultiple)
	}

	s.lastMu.Lock()
	saved := out
	s.last = &saved
	s.lastMu.Unlock()

	metrics.ObserveRun(out.Status, string(out.Stage))
	if out.Confirmation != nil && out.Confirmation.Epoch != nil {
		metrics.ObserveEpoch(decimal.NewFromBigInt(out.Confirmation.Epoch, 0))
	}

	if s.deps.Store != nil {
		if _, err := s.deps.Store.InsertRun(ctx, out.run()); err != nil {
			s.logger.Error().Err(err).Msg("failed to record rebase run")
		}
	}

	if s.deps.Publisher != nil {
		if err := s.deps.Publisher.Publish(ctx, out.event()); err != nil {
			s.logger.Error().Err(err).Msg("failed to publish rebase event")
		}
	}

	if s.deps.Notifier != nil && (out.Status == storage.StatusFailed || s.opts.NotifySuccess) {
		if err := s.deps.Notifier.Notify(ctx, out.notification()); err != nil {
			s.logger.Error().Err(err).Msg("failed to send rebase notification")
		}
	}
}

func (o Outcome) run() storage.RebaseRun {
	run := storage.RebaseRun{
		RunAt:  o.RunAt,
		Status: o.Status,
		Stage:  string(o.Stage),
	}
	if o.Price != nil {
		run.Price = rebase.FromNormalized(o.Price)
	}
	if o.TargetPrice != nil {
		run.TargetPrice = rebase.FromNormalized(o.TargetPrice)
	}
	if c := o.Computation; c != nil {
		run.MultipleOfStart = c.MultipleDecimal()
		run.DesiredMultiple = c.DesiredDecimal()
		run.PriceChangePct = c.PriceChangePct()
		run.SupplyChangePct = c.SupplyChangePct()
		run.Supply = decimal.NewFromBigInt(c.CurrentSupply, 0)
		run.Delta = decimal.NewFromBigInt(c.Delta, 0)
	}
	if conf := o.Confirmation; conf != nil {
		run.Epoch = decimal.NewNullDecimal(decimal.NewFromBigInt(conf.Epoch, 0))
		hash := conf.TxHash.Hex()
		run.TxHash = &hash
		block := int64(conf.BlockNumber)
		run.BlockNumber = &block
	}
	if o.Err != nil {
		msg := o.Err.Error()
		run.Error = &msg
	}
	return run
}

func (o Outcome) event() publisher.RebaseEvent {
	run := o.run()
	event := publisher.RebaseEvent{
		RunAt:           o.RunAt,
		Status:          o.Status,
		Stage:           run.Stage,
		Price:           run.Price.String(),
		TargetPrice:     run.TargetPrice.String(),
		SupplyChangePct: run.SupplyChangePct.StringFixed(2),
		Delta:           run.Delta.String(),
	}
	if run.Epoch.Valid {
		event.Epoch = run.Epoch.Decimal.String()
	}
	if run.TxHash != nil {
		event.TxHash = *run.TxHash
	}
	if run.Error != nil {
		event.Error = *run.Error
	}
	return event
}

func (o Outcome) notification() alerting.Notification {
	run := o.run()
	note := alerting.Notification{
		RunAt:           o.RunAt,
		Status:          o.Status,
		Stage:           run.Stage,
		Price:           run.Price,
		TargetPrice:     run.TargetPrice,
		PriceChangePct:  run.PriceChangePct,
		SupplyChangePct: run.SupplyChangePct,
		Delta:           run.Delta.String(),
	}
	if run.Epoch.Valid {
		note.Epoch = run.Epoch.Decimal.String()
	}
	if run.TxHash != nil {
		note.TxHash = *run.TxHash
	}
	if run.Error != nil {
		note.Error = *run.Error
	}
	return note
}

func (o Outcome) status() Status {
	event := o.event()
	st := Status{
		RunAt:  o.RunAt,
		Status: o.Status,
		Stage:  event.Stage,
		Epoch:  event.Epoch,
		TxHash: event.TxHash,
		Error:  event.Error,
	}
	if o.Price != nil {
		st.Price = event.Price
	}
	if c := o.Computation; c != nil {
		st.TargetMultiple = c.DesiredDecimal().String()
		st.SupplyChangePct = event.SupplyChangePct
		st.Delta = event.Delta
	}
	return st
}
