package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"rebase-keeper/internal/alerting"
	"rebase-keeper/internal/oracle"
	"rebase-keeper/internal/publisher"
	"rebase-keeper/internal/rebase"
	"rebase-keeper/internal/storage"
	"rebase-keeper/internal/submitter"
)

var (
	tokenAddr = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	pairAddr  = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	errRPC    = errors.New("rpc unavailable")
)

const bandStart = int64(1_700_000_000)

type fakeOracle struct {
	mu    sync.Mutex
	price *big.Int
	errs  []error
	calls int
}

func (o *fakeOracle) ReadPrice(ctx context.Context, pair oracle.Pair, asset oracle.BalanceReader, assetAddress common.Address) (*big.Int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	if len(o.errs) > 0 {
		err := o.errs[0]
		o.errs = o.errs[1:]
		return nil, err
	}
	return new(big.Int).Set(o.price), nil
}

type fakePair struct{}

func (fakePair) Address() common.Address { return pairAddr }

func (fakePair) Token0(ctx context.Context) (common.Address, error) { return tokenAddr, nil }

func (fakePair) GetReserves(ctx context.Context) (*big.Int, *big.Int, error) {
	return big.NewInt(0), big.NewInt(0), nil
}

type fakeAsset struct {
	supply    *big.Int
	supplyErr error
}

func (a *fakeAsset) BalanceOf(ctx context.Context, holder common.Address) (*big.Int, error) {
	return big.NewInt(1), nil
}

func (a *fakeAsset) TotalSupply(ctx context.Context) (*big.Int, error) {
	if a.supplyErr != nil {
		return nil, a.supplyErr
	}
	return new(big.Int).Set(a.supply), nil
}

type fakeSubmitter struct {
	deltas []*big.Int
	pairs  []common.Address
	err    error
}

func (f *fakeSubmitter) Submit(ctx context.Context, delta *big.Int, pair common.Address) (submitter.Confirmation, error) {
	f.deltas = append(f.deltas, new(big.Int).Set(delta))
	f.pairs = append(f.pairs, pair)
	if f.err != nil {
		return submitter.Confirmation{}, fmt.Errorf("%w: %w", rebase.ErrSubmission, f.err)
	}
	return submitter.Confirmation{
		Epoch:       big.NewInt(int64(len(f.deltas)) + 41),
		Delta:       delta,
		TxHash:      common.HexToHash("0xfeed"),
		BlockNumber: 1234,
	}, nil
}

type fakeStore struct {
	runs []storage.RebaseRun
}

func (f *fakeStore) InsertRun(ctx context.Context, run storage.RebaseRun) (storage.RebaseRun, error) {
	run.ID = int64(len(f.runs) + 1)
	f.runs = append(f.runs, run)
	return run, nil
}

func (f *fakeStore) ListRecentRuns(ctx context.Context, limit int) ([]storage.RebaseRun, error) {
	return f.runs, nil
}

func (f *fakeStore) ListRunsBetween(ctx context.Context, from, to time.Time) ([]storage.RebaseRun, error) {
	return f.runs, nil
}

type fakeLocker struct {
	acquired bool
	released int
}

func (f *fakeLocker) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	if !f.acquired {
		return nil, false, nil
	}
	return func() { f.released++ }, true, nil
}

type fakeNotifier struct {
	notes []alerting.Notification
}

func (f *fakeNotifier) Notify(ctx context.Context, note alerting.Notification) error {
	f.notes = append(f.notes, note)
	return nil
}

type fakePublisher struct {
	events []publisher.RebaseEvent
}

func (f *fakePublisher) Publish(ctx context.Context, event publisher.RebaseEvent) error {
	f.events = append(f.events, event)
	return nil
}

type fixture struct {
	oracle    *fakeOracle
	asset     *fakeAsset
	submitter *fakeSubmitter
	store     *fakeStore
	notifier  *fakeNotifier
	publisher *fakePublisher
	opts      Options
}

// newFixture models a 1.00 -> 1.20 band over ten days, evaluated halfway, with the price
// still at 1.00 and a supply of 1,000,000.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	band, err := rebase.NewPriceBandFromDecimal(
		rebase.FromNormalized(big.NewInt(1e18)),
		rebase.FromNormalized(big.NewInt(12e17)),
		bandStart, bandStart+10*24*3600,
	)
	require.NoError(t, err)

	return &fixture{
		oracle:    &fakeOracle{price: big.NewInt(1e18)},
		asset:     &fakeAsset{supply: big.NewInt(1_000_000)},
		submitter: &fakeSubmitter{},
		store:     &fakeStore{},
		notifier:  &fakeNotifier{},
		publisher: &fakePublisher{},
		opts: Options{
			Band:         band,
			Precision:    rebase.DefaultPrecision,
			TokenAddress: tokenAddr,
			Retry:        RetryOptions{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond},
		},
	}
}

func (f *fixture) service(t *testing.T, locker storage.AdvisoryLocker) *Service {
	t.Helper()
	var sub RebaseSubmitter
	if f.submitter != nil {
		sub = f.submitter
	}
	svc, err := New(f.opts, Deps{
		Oracle:    f.oracle,
		Pair:      fakePair{},
		Asset:     f.asset,
		Submitter: sub,
		Store:     f.store,
		Locker:    locker,
		Notifier:  f.notifier,
		Publisher: f.publisher,
		Clock:     func() time.Time { return time.Unix(bandStart+5*24*3600, 0) },
	}, zerolog.Nop())
	require.NoError(t, err)
	return svc
}

func TestRunOnceSubmitsComputedDelta(t *testing.T) {
	f := newFixture(t)
	f.opts.NotifySuccess = true
	svc := f.service(t, nil)

	require.Nil(t, svc.LastStatus())

	out, err := svc.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, storage.StatusConfirmed, out.Status)
	require.Equal(t, "-87129", out.Computation.Delta.String())
	require.Equal(t, "contract", out.Computation.Direction())

	require.Len(t, f.submitter.deltas, 1)
	require.Equal(t, "-87129", f.submitter.deltas[0].String())
	require.Equal(t, pairAddr, f.submitter.pairs[0])

	require.Len(t, f.store.runs, 1)
	run := f.store.runs[0]
	require.Equal(t, storage.StatusConfirmed, run.Status)
	require.Equal(t, "-87129", run.Delta.String())
	require.Equal(t, "-8.71", run.SupplyChangePct.StringFixed(2))
	require.Equal(t, "42", run.Epoch.Decimal.String())
	require.NotNil(t, run.TxHash)
	require.Nil(t, run.Error)

	require.Len(t, f.publisher.events, 1)
	require.Equal(t, "-87129", f.publisher.events[0].Delta)
	require.Equal(t, "42", f.publisher.events[0].Epoch)
	require.Len(t, f.notifier.notes, 1)

	status, ok := svc.LastStatus().(Status)
	require.True(t, ok)
	require.Equal(t, storage.StatusConfirmed, status.Status)
	require.Equal(t, "-8.71", status.SupplyChangePct)
}

func TestRunOnceDryRunSkipsSubmission(t *testing.T) {
	f := newFixture(t)
	f.opts.DryRun = true
	f.submitter = nil
	svc := f.service(t, nil)

	out, err := svc.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, storage.StatusDryRun, out.Status)
	require.Nil(t, out.Confirmation)
	require.Equal(t, "-87129", out.Computation.Delta.String())

	require.Len(t, f.store.runs, 1)
	require.False(t, f.store.runs[0].Epoch.Valid)
	require.Empty(t, f.notifier.notes, "success is only notified when asked")
}

func TestRunOnceRejectsConcurrentInvocation(t *testing.T) {
	f := newFixture(t)
	svc := f.service(t, nil)

	svc.running.Lock()
	out, err := svc.RunOnce(context.Background())
	svc.running.Unlock()

	require.ErrorIs(t, err, rebase.ErrInvocationInProgress)
	require.Equal(t, rebase.StageLock, rebase.StageOf(err))
	require.Equal(t, storage.StatusSkipped, out.Status)
	require.Zero(t, f.oracle.calls)
	require.Empty(t, f.submitter.deltas)
	require.Empty(t, f.store.runs)
}

func TestRunOnceHonoursAdvisoryLock(t *testing.T) {
	f := newFixture(t)
	f.opts.LockKey = 42

	busy := &fakeLocker{acquired: false}
	_, err := f.service(t, busy).RunOnce(context.Background())
	require.ErrorIs(t, err, rebase.ErrInvocationInProgress)
	require.Zero(t, f.oracle.calls)

	free := &fakeLocker{acquired: true}
	_, err = f.service(t, free).RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, free.released)
}

func TestRunOnceRetriesTransientReads(t *testing.T) {
	f := newFixture(t)
	f.oracle.errs = []error{
		fmt.Errorf("%w: %w", rebase.ErrOracleRead, errRPC),
		fmt.Errorf("%w: %w", rebase.ErrOracleRead, errRPC),
	}
	svc := f.service(t, nil)

	out, err := svc.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, f.oracle.calls)
	require.Equal(t, storage.StatusConfirmed, out.Status)
	require.Len(t, f.submitter.deltas, 1)
}

func TestRunOnceGivesUpAfterMaxAttempts(t *testing.T) {
	f := newFixture(t)
	f.asset.supplyErr = errRPC
	svc := f.service(t, nil)

	out, err := svc.RunOnce(context.Background())
	require.ErrorIs(t, err, rebase.ErrOracleRead)
	require.ErrorIs(t, err, errRPC)
	require.Equal(t, rebase.StageSupply, rebase.StageOf(err))
	require.Equal(t, storage.StatusFailed, out.Status)
	require.Empty(t, f.submitter.deltas)
}

func TestRunOnceDoesNotRetryInvalidPriceState(t *testing.T) {
	f := newFixture(t)
	f.oracle.errs = []error{fmt.Errorf("%w: base asset balance held by pair is zero", rebase.ErrInvalidPriceState)}
	svc := f.service(t, nil)

	out, err := svc.RunOnce(context.Background())
	require.ErrorIs(t, err, rebase.ErrInvalidPriceState)
	require.Equal(t, rebase.StageOracle, rebase.StageOf(err))
	require.Equal(t, 1, f.oracle.calls)
	require.Empty(t, f.submitter.deltas)

	require.Equal(t, storage.StatusFailed, out.Status)
	require.Len(t, f.store.runs, 1)
	require.Equal(t, string(rebase.StageOracle), f.store.runs[0].Stage)
	require.NotNil(t, f.store.runs[0].Error)
	require.Len(t, f.notifier.notes, 1, "failures are always notified")
	require.Equal(t, "oracle", f.notifier.notes[0].Stage)
}

func TestRunOnceDoesNotRetrySubmission(t *testing.T) {
	f := newFixture(t)
	f.submitter.err = errors.New("transaction reverted")
	svc := f.service(t, nil)

	_, err := svc.RunOnce(context.Background())
	require.ErrorIs(t, err, rebase.ErrSubmission)
	require.Equal(t, rebase.StageSubmit, rebase.StageOf(err))
	require.Len(t, f.submitter.deltas, 1)

	status, ok := svc.LastStatus().(Status)
	require.True(t, ok)
	require.Equal(t, storage.StatusFailed, status.Status)
	require.Equal(t, "submit", status.Stage)
}

func TestRunOnceCancelledBeforeSubmission(t *testing.T) {
	f := newFixture(t)
	svc := f.service(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.RunOnce(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, f.submitter.deltas)
}

func TestRunOnceComputeFailure(t *testing.T) {
	f := newFixture(t)
	f.asset.supply = big.NewInt(-1)
	svc := f.service(t, nil)

	_, err := svc.RunOnce(context.Background())
	require.ErrorIs(t, err, rebase.ErrInvalidPriceState)
	require.Equal(t, rebase.StageCompute, rebase.StageOf(err))
	require.Empty(t, f.submitter.deltas)
}

func TestNewRequiresSubmitterUnlessDryRun(t *testing.T) {
	f := newFixture(t)
	_, err := New(f.opts, Deps{Oracle: f.oracle, Pair: fakePair{}, Asset: f.asset}, zerolog.Nop())
	require.Error(t, err)

	f.opts.DryRun = true
	_, err = New(f.opts, Deps{Oracle: f.oracle, Pair: fakePair{}, Asset: f.asset}, zerolog.Nop())
	require.NoError(t, err)
}
