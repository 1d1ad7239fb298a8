package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"rebase-keeper/internal/config"
	"rebase-keeper/internal/rebase"
	"rebase-keeper/internal/storage"
)

const bandStart = int64(1_700_000_000)

func testApp() *App {
	cfg := &config.Config{
		Rebase: config.RebaseConfig{
			StartPrice:     decimal.RequireFromString("1.00"),
			EndPrice:       decimal.RequireFromString("1.20"),
			StartTimestamp: bandStart,
			EndTimestamp:   bandStart + 10*24*3600,
			Precision:      rebase.DefaultPrecision,
			DecimalsOffset: 9,
		},
		Scheduler: config.SchedulerConfig{Interval: 24 * time.Hour},
		Export:    config.ExportConfig{MaxDataPoints: 100},
	}
	return NewApp(cfg, zerolog.Nop())
}

func TestSimulateHalfway(t *testing.T) {
	var out bytes.Buffer
	outcome, err := testApp().Simulate(context.Background(), SimulateOptions{
		Price: decimal.RequireFromString("1.00"),
		At:    time.Unix(bandStart+5*24*3600, 0),
	}, &out)
	require.NoError(t, err)
	require.Equal(t, storage.StatusDryRun, outcome.Status)
	require.Equal(t, "-87129", outcome.Computation.Delta.String())

	text := out.String()
	require.Contains(t, text, "-87129")
	require.Contains(t, text, "-8.71")
	require.Contains(t, text, "contract")
}

func TestSimulateUsesGivenSupply(t *testing.T) {
	var out bytes.Buffer
	outcome, err := testApp().Simulate(context.Background(), SimulateOptions{
		Price:  decimal.RequireFromString("1.20"),
		Supply: big.NewInt(1_000_000),
		At:     time.Unix(bandStart+5*24*3600, 0),
	}, &out)
	require.NoError(t, err)
	require.Equal(t, "95445", outcome.Computation.Delta.String())
	require.Equal(t, "expand", outcome.Computation.Direction())
}

func TestSimulateRejectsZeroPrice(t *testing.T) {
	_, err := testApp().Simulate(context.Background(), SimulateOptions{Price: decimal.Zero}, &bytes.Buffer{})
	require.ErrorIs(t, err, rebase.ErrInvalidPriceState)
	require.Equal(t, rebase.StageOracle, rebase.StageOf(err))
}

func TestTrajectoryCoversBandInclusively(t *testing.T) {
	band, err := testApp().Config.PriceBand()
	require.NoError(t, err)

	points, err := Trajectory(band, PreviewOptions{Step: 24 * time.Hour})
	require.NoError(t, err)
	require.Len(t, points, 11)
	require.Equal(t, 1.0, points[0].Multiple)
	require.Equal(t, 1.2, points[len(points)-1].Multiple)
	require.Equal(t, "1200000000000000000", points[len(points)-1].TargetPrice.String())

	for i := 1; i < len(points); i++ {
		require.Greater(t, points[i].Multiple, points[i-1].Multiple)
	}
}

func TestTrajectoryClampsFinalStep(t *testing.T) {
	band, err := testApp().Config.PriceBand()
	require.NoError(t, err)

	points, err := Trajectory(band, PreviewOptions{
		From: time.Unix(bandStart, 0),
		To:   time.Unix(bandStart+36*3600, 0),
		Step: 24 * time.Hour,
	})
	require.NoError(t, err)
	require.Len(t, points, 3)
	require.Equal(t, time.Unix(bandStart+36*3600, 0), points[2].At)

	_, err = Trajectory(band, PreviewOptions{From: time.Unix(bandStart+10, 0), To: time.Unix(bandStart, 0)})
	require.Error(t, err)
}

func TestPreviewWritesTable(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, testApp().Preview(PreviewOptions{Step: 5 * 24 * time.Hour}, &out))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	require.Contains(t, lines[0], "Target multiple")
	require.Contains(t, lines[3], "1.200000")
}

func sampleRuns() []storage.RebaseRun {
	hash := "0xfeed"
	block := int64(1234)
	msg := "oracle stage: rpc\nunavailable"
	return []storage.RebaseRun{
		{
			RunAt:           time.Unix(bandStart, 0).UTC(),
			Status:          storage.StatusConfirmed,
			Price:           decimal.RequireFromString("1"),
			TargetPrice:     decimal.RequireFromString("1.095445115"),
			SupplyChangePct: decimal.RequireFromString("-8.7129071"),
			Supply:          decimal.NewFromInt(1_000_000),
			Delta:           decimal.NewFromInt(-87129),
			Epoch:           decimal.NewNullDecimal(decimal.NewFromInt(42)),
			TxHash:          &hash,
			BlockNumber:     &block,
		},
		{
			RunAt:  time.Unix(bandStart+86400, 0).UTC(),
			Status: storage.StatusFailed,
			Stage:  "oracle",
			Error:  &msg,
		},
	}
}

func TestWriteRunsCSV(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, writeRunsCSV(&out, sampleRuns()))

	records, err := csv.NewReader(&out).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Equal(t, "run_at", records[0][0])
	require.Equal(t, "-87129", records[1][10])
	require.Equal(t, "42", records[1][11])
	require.Equal(t, "1234", records[1][13])
	require.Equal(t, "oracle", records[2][2])
}

func TestWriteRunsTable(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, writeRuns(&out, sampleRuns()))

	text := out.String()
	require.Contains(t, text, "confirmed")
	require.Contains(t, text, "failed/oracle")
	require.Contains(t, text, "-8.71")
	require.Contains(t, text, "rpc unavailable")

	out.Reset()
	require.NoError(t, writeRuns(&out, nil))
	require.Equal(t, "no rebase runs found\n", out.String())
}

func TestDownsampleRuns(t *testing.T) {
	runs := make([]storage.RebaseRun, 10)
	for i := range runs {
		runs[i].ID = int64(i)
	}

	out := downsampleRuns(runs, 4)
	require.Len(t, out, 4)
	require.Equal(t, int64(0), out[0].ID)
	require.Equal(t, int64(9), out[3].ID)

	require.Len(t, downsampleRuns(runs, 20), 10)
	require.Equal(t, int64(9), downsampleRuns(runs, 1)[0].ID)
}

func TestExportRequiresTarget(t *testing.T) {
	err := testApp().Export(context.Background(), ExportOptions{})
	require.Error(t, err)
}
