package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"rebase-keeper/internal/storage"
)

// Show prints recent rebase runs.
func (a *App) Show(ctx context.Context, opts ShowOptions, out io.Writer) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show runs")
	}
	if closeStore != nil {
		defer closeStore()
	}

	runs, err := store.ListRecentRuns(ctx, opts.Limit)
	if err != nil {
		return err
	}
	return writeRuns(out, runs)
}

func writeRuns(out io.Writer, runs []storage.RebaseRun) error {
	if len(runs) == 0 {
		fmt.Fprintln(out, "no rebase runs found")
		return nil
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tStatus\tPrice\tTarget\tSupply%\tDelta\tEpoch\tTx\tError")

	for _, run := range runs {
		epoch := ""
		if run.Epoch.Valid {
			epoch = run.Epoch.Decimal.String()
		}
		tx := ""
		if run.TxHash != nil {
			tx = *run.TxHash
		}
		errMsg := ""
		if run.Error != nil {
			errMsg = sanitizeInline(*run.Error)
		}
		status := run.Status
		if run.Stage != "" {
			status += "/" + run.Stage
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			run.RunAt.UTC().Format(time.RFC3339),
			status,
			formatDecimal(run.Price, 6),
			formatDecimal(run.TargetPrice, 6),
			formatDecimal(run.SupplyChangePct, 2),
			run.Delta.String(),
			epoch,
			tx,
			errMsg,
		)
	}

	return writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
