package app

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"rebase-keeper/internal/storage"
)

// Export renders run history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * a.Config.Scheduler.Interval)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	runs, err := store.ListRunsBetween(ctx, from, to)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		a.Logger.Info().Msg("no rebase runs found for export window")
		return nil
	}

	downsampled := downsampleRuns(runs, opts.MaxPoints)
	a.Logger.Info().Int("total", len(runs)).Int("exported", len(downsampled)).Msg("exporting rebase runs")

	if opts.CSVPath != "" {
		if err := writeRunsCSVFile(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeRunsPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleRuns(runs []storage.RebaseRun, max int) []storage.RebaseRun {
	if max <= 0 || len(runs) <= max {
		return runs
	}
	if max == 1 {
		return runs[len(runs)-1:]
	}

	result := make([]storage.RebaseRun, 0, max)
	step := float64(len(runs)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(runs) {
			idx = len(runs) - 1
		}
		result = append(result, runs[idx])
	}
	return result
}

func writeRunsCSVFile(path string, runs []storage.RebaseRun) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return writeRunsCSV(file, runs)
}

func writeRunsCSV(out io.Writer, runs []storage.RebaseRun) error {
	writer := csv.NewWriter(out)

	header := []string{
		"run_at", "status", "stage", "price", "target_price", "multiple_of_start", "target_multiple",
		"price_change_pct", "supply_change_pct", "supply", "supply_delta", "epoch", "tx_hash", "block_number", "error",
	}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, run := range runs {
		var epoch, tx, block, errMsg string
		if run.Epoch.Valid {
			epoch = run.Epoch.Decimal.String()
		}
		if run.TxHash != nil {
			tx = *run.TxHash
		}
		if run.BlockNumber != nil {
			block = strconv.FormatInt(*run.BlockNumber, 10)
		}
		if run.Error != nil {
			errMsg = *run.Error
		}
		record := []string{
			run.RunAt.UTC().Format(time.RFC3339),
			run.Status,
			run.Stage,
			run.Price.String(),
			run.TargetPrice.String(),
			run.MultipleOfStart.String(),
			run.DesiredMultiple.String(),
			run.PriceChangePct.String(),
			run.SupplyChangePct.String(),
			run.Supply.String(),
			run.Delta.String(),
			epoch,
			tx,
			block,
			errMsg,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeRunsPNG(path string, runs []storage.RebaseRun) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	// Failed runs before the oracle stage carry no price.
	x := make([]time.Time, 0, len(runs))
	price := make([]float64, 0, len(runs))
	target := make([]float64, 0, len(runs))
	supplyPct := make([]float64, 0, len(runs))

	for _, run := range runs {
		if run.Price.IsZero() {
			continue
		}
		x = append(x, run.RunAt)
		price = append(price, run.Price.InexactFloat64())
		target = append(target, run.TargetPrice.InexactFloat64())
		supplyPct = append(supplyPct, run.SupplyChangePct.InexactFloat64())
	}
	if len(x) < 2 {
		return errors.New("not enough priced runs to render a chart")
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.4f")
	}
	pctFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Price (quote per base)",
			ValueFormatter: priceFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Supply change (%)",
			ValueFormatter: pctFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Price",
				XValues: x,
				YValues: price,
			},
			chart.TimeSeries{
				Name:    "Target",
				XValues: x,
				YValues: target,
			},
			chart.TimeSeries{
				Name:    "Supply change %",
				XValues: x,
				YValues: supplyPct,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
