package submitter

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"rebase-keeper/internal/rebase"
)

var pair = common.HexToAddress("0x3333333333333333333333333333333333333333")

var errStaleEpoch = errors.New("epoch is not the successor of lastEpoch")

// fakeLedger applies rebases with the same successor check the contract enforces.
type fakeLedger struct {
	mu        sync.Mutex
	epoch     int64
	calls     []int64
	beforeTx  func(l *fakeLedger)
	readErr   error
	submitErr error
}

func (l *fakeLedger) LastEpoch(ctx context.Context) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.readErr != nil {
		return nil, l.readErr
	}
	return big.NewInt(l.epoch), nil
}

func (l *fakeLedger) RebaseAndSync(ctx context.Context, epoch, delta *big.Int, p common.Address) (*types.Receipt, error) {
	if l.beforeTx != nil {
		l.beforeTx(l)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, epoch.Int64())
	if l.submitErr != nil {
		return nil, l.submitErr
	}
	if epoch.Int64() != l.epoch+1 {
		return nil, fmt.Errorf("%w: got %d, last %d", errStaleEpoch, epoch.Int64(), l.epoch)
	}
	l.epoch = epoch.Int64()
	return &types.Receipt{TxHash: common.HexToHash("0xabc"), BlockNumber: big.NewInt(100), GasUsed: 21000, Status: types.ReceiptStatusSuccessful}, nil
}

func TestSubmitProposesSuccessorEpoch(t *testing.T) {
	ledger := &fakeLedger{epoch: 7}
	s := New(ledger, zerolog.Nop())

	conf, err := s.Submit(context.Background(), big.NewInt(-500), pair)
	require.NoError(t, err)
	require.Equal(t, int64(8), conf.Epoch.Int64())
	require.Equal(t, int64(-500), conf.Delta.Int64())
	require.Equal(t, uint64(100), conf.BlockNumber)
	require.Equal(t, common.HexToHash("0xabc"), conf.TxHash)
	require.Equal(t, []int64{8}, ledger.calls)
}

func TestSubmitRejectedAfterConcurrentEpochBump(t *testing.T) {
	ledger := &fakeLedger{epoch: 7}
	// Another actor lands epoch 8 between our read and our transaction.
	ledger.beforeTx = func(l *fakeLedger) {
		l.mu.Lock()
		l.epoch++
		l.mu.Unlock()
		l.beforeTx = nil
	}
	s := New(ledger, zerolog.Nop())

	_, err := s.Submit(context.Background(), big.NewInt(10), pair)
	require.ErrorIs(t, err, rebase.ErrSubmission)
	require.ErrorIs(t, err, errStaleEpoch)
	require.Equal(t, []int64{8}, ledger.calls, "stale submission must not be retried")
	require.Equal(t, int64(8), ledger.epoch)
}

func TestSubmitRerunReadsAuthoritativeEpoch(t *testing.T) {
	ledger := &fakeLedger{epoch: 3}
	s := New(ledger, zerolog.Nop())

	_, err := s.Submit(context.Background(), big.NewInt(1), pair)
	require.NoError(t, err)
	_, err = s.Submit(context.Background(), big.NewInt(1), pair)
	require.NoError(t, err)
	require.Equal(t, []int64{4, 5}, ledger.calls)
}

func TestSubmitSurfacesFailures(t *testing.T) {
	boom := errors.New("confirmation timeout")

	s := New(&fakeLedger{readErr: boom}, zerolog.Nop())
	_, err := s.Submit(context.Background(), big.NewInt(1), pair)
	require.ErrorIs(t, err, rebase.ErrOracleRead)
	require.ErrorIs(t, err, boom)

	ledger := &fakeLedger{submitErr: boom}
	s = New(ledger, zerolog.Nop())
	_, err = s.Submit(context.Background(), big.NewInt(1), pair)
	require.ErrorIs(t, err, rebase.ErrSubmission)
	require.ErrorIs(t, err, boom)
	require.Len(t, ledger.calls, 1)

	_, err = s.Submit(context.Background(), nil, pair)
	require.Error(t, err)
}
