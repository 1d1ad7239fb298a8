package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"rebase-keeper/internal/alerting"
	"rebase-keeper/internal/metrics"
	"rebase-keeper/internal/oracle"
	"rebase-keeper/internal/publisher"
	"rebase-keeper/internal/rebase"
	"rebase-keeper/internal/storage"
	"rebase-keeper/internal/submitter"
)

// PriceReader reads the live normalized price.
type PriceReader interface {
	ReadPrice(ctx context.Context, pair oracle.Pair, asset oracle.BalanceReader, assetAddress common.Address) (*big.Int, error)
}

// Asset is the base asset ledger as seen by the driver.
type Asset interface {
	oracle.BalanceReader
	TotalSupply(ctx context.Context) (*big.Int, error)
}

// RebaseSubmitter submits a delta under the next epoch.
type RebaseSubmitter interface {
	Submit(ctx context.Context, delta *big.Int, pair common.Address) (submitter.Confirmation, error)
}

// Options are the immutable per-process settings of the driver.
type Options struct {
	Band          rebase.PriceBand
	Precision     int64
	TokenAddress  common.Address
	DryRun        bool
	LockKey       int64
	NotifySuccess bool
	Retry         RetryOptions
}

// RetryOptions bound the retry of read-only chain calls.
type RetryOptions struct {
	MaxAttempts     uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Deps are the collaborators of the driver. Store, Locker, Notifier and Publisher are optional.
type Deps struct {
	Oracle    PriceReader
	Pair      oracle.Pair
	Asset     Asset
	Submitter RebaseSubmitter
	Store     storage.RunStore
	Locker    storage.AdvisoryLocker
	Notifier  alerting.Notifier
	Publisher publisher.EventPublisher
	Clock     func() time.Time
}

// Service runs the rebase pipeline: read price, compute target, compute delta, submit.
// It keeps no state across invocations other than the last outcome for reporting.
type Service struct {
	opts   Options
	deps   Deps
	logger zerolog.Logger

	running sync.Mutex

	lastMu sync.RWMutex
	last   *Outcome
}

// New constructs the control-loop driver.
func New(opts Options, deps Deps, logger zerolog.Logger) (*Service, error) {
	if deps.Oracle == nil || deps.Pair == nil || deps.Asset == nil {
		return nil, errors.New("oracle, pair and asset are required")
	}
	if deps.Submitter == nil && !opts.DryRun {
		return nil, errors.New("submitter is required unless dry_run is set")
	}
	if opts.Band.IsZero() {
		return nil, fmt.Errorf("%w: price band not configured", rebase.ErrConfiguration)
	}
	if opts.Precision <= 0 {
		opts.Precision = rebase.DefaultPrecision
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry.MaxAttempts = 1
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	return &Service{
		opts:   opts,
		deps:   deps,
		logger: logger.With().Str("component", "service").Logger(),
	}, nil
}

// Tick adapts RunOnce to the scheduler; the outcome is already reported.
func (s *Service) Tick(ctx context.Context, _ time.Time) error {
	_, err := s.RunOnce(ctx)
	return err
}

// RunOnce performs one complete, independent invocation. At most one invocation runs
// per process; with a lock key and locker configured, at most one runs across processes.
func (s *Service) RunOnce(ctx context.Context) (Outcome, error) {
	runAt := s.deps.Clock().UTC()

	if !s.running.TryLock() {
		return s.skip(runAt, "another invocation is running in this process")
	}
	defer s.running.Unlock()

	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return s.fail(ctx, Outcome{RunAt: runAt}, rebase.StageLock, err)
	}
	if !proceed {
		return s.skip(runAt, "advisory lock held elsewhere")
	}
	if unlock != nil {
		defer unlock()
	}

	return s.execute(ctx, runAt)
}

func (s *Service) execute(ctx context.Context, runAt time.Time) (Outcome, error) {
	out := Outcome{RunAt: runAt}

	var price *big.Int
	err := s.retryRead(ctx, func() error {
		var readErr error
		price, readErr = s.deps.Oracle.ReadPrice(ctx, s.deps.Pair, s.deps.Asset, s.opts.TokenAddress)
		return readErr
	})
	if err != nil {
		return s.fail(ctx, out, rebase.StageOracle, err)
	}
	out.Price = price

	var supply *big.Int
	err = s.retryRead(ctx, func() error {
		var readErr error
		supply, readErr = s.deps.Asset.TotalSupply(ctx)
		if readErr != nil {
			return fmt.Errorf("%w: total supply: %w", rebase.ErrOracleRead, readErr)
		}
		return nil
	})
	if err != nil {
		return s.fail(ctx, out, rebase.StageSupply, err)
	}

	comp, err := rebase.ComputeDelta(price, s.opts.Band, runAt, supply, s.opts.Precision)
	if err != nil {
		return s.fail(ctx, out, rebase.StageCompute, err)
	}
	out.Computation = &comp

	s.logger.Info().
		Str("price", rebase.FromNormalized(price).String()).
		Str("multiple_of_start", comp.MultipleDecimal().String()).
		Float64("target_multiple", comp.DesiredMultiple).
		Str("supply", supply.String()).
		Str("supply_delta", comp.Delta.String()).
		Str("supply_change_pct", comp.SupplyChangePct().StringFixed(2)).
		Str("price_change_pct", comp.PriceChangePct().StringFixed(2)).
		Msgf("changing supply by %s%% (price by %s%%)", comp.SupplyChangePct().StringFixed(2), comp.PriceChangePct().StringFixed(2))
	metrics.ObserveComputation(rebase.FromNormalized(price), comp.DesiredMultiple, comp.SupplyChangePct())

	if s.opts.DryRun {
		out.Status = storage.StatusDryRun
		s.report(ctx, out)
		return out, nil
	}

	// Nothing has been sent yet; a cancelled invocation leaves no external state behind.
	if err := ctx.Err(); err != nil {
		return s.fail(ctx, out, rebase.StageSubmit, err)
	}

	conf, err := s.deps.Submitter.Submit(ctx, comp.Delta, s.deps.Pair.Address())
	if err != nil {
		return s.fail(ctx, out, rebase.StageSubmit, err)
	}
	out.Confirmation = &conf
	out.Status = storage.StatusConfirmed

	s.report(ctx, out)
	return out, nil
}

// retryRead retries side-effect free reads; invalid state and configuration are permanent.
func (s *Service) retryRead(ctx context.Context, op func() error) error {
	policy := backoff.NewExponentialBackOff()
	if s.opts.Retry.InitialInterval > 0 {
		policy.InitialInterval = s.opts.Retry.InitialInterval
	}
	if s.opts.Retry.MaxInterval > 0 {
		policy.MaxInterval = s.opts.Retry.MaxInterval
	}

	attempt := 0
	b := backoff.WithContext(backoff.WithMaxRetries(policy, s.opts.Retry.MaxAttempts-1), ctx)
	return backoff.Retry(func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if errors.Is(err, rebase.ErrInvalidPriceState) || errors.Is(err, rebase.ErrConfiguration) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		s.logger.Warn().Err(err).Int("attempt", attempt).Msg("read failed")
		return err
	}, b)
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.opts.LockKey == 0 || s.deps.Locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.deps.Locker.TryAdvisoryLock(ctx, s.opts.LockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

func (s *Service) skip(runAt time.Time, reason string) (Outcome, error) {
	s.logger.Warn().Str("reason", reason).Msg("skipping rebase invocation")
	metrics.ObserveRun(storage.StatusSkipped, "")
	err := &rebase.StageError{Stage: rebase.StageLock, Err: rebase.ErrInvocationInProgress}
	return Outcome{RunAt: runAt, Status: storage.StatusSkipped, Stage: rebase.StageLock, Err: err}, err
}

func (s *Service) fail(ctx context.Context, out Outcome, stage rebase.Stage, err error) (Outcome, error) {
	stageErr := &rebase.StageError{Stage: stage, Err: err}
	out.Status = storage.StatusFailed
	out.Stage = stage
	out.Err = stageErr

	s.logger.Error().Err(err).Str("stage", string(stage)).Msg("rebase invocation failed")
	s.report(ctx, out)
	return out, stageErr
}
