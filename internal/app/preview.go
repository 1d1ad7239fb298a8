package app

import (
	"errors"
	"fmt"
	"io"
	"math/big"
	"text/tabwriter"
	"time"

	"rebase-keeper/internal/rebase"
)

// PreviewOptions bound the target trajectory window.
type PreviewOptions struct {
	From time.Time
	To   time.Time
	Step time.Duration
}

// TrajectoryPoint is the target at one instant.
type TrajectoryPoint struct {
	At          time.Time
	Multiple    float64
	TargetPrice *big.Int
}

// Trajectory samples the target multiple across [from, to], inclusive of to.
func Trajectory(band rebase.PriceBand, opts PreviewOptions) ([]TrajectoryPoint, error) {
	from, to := opts.From, opts.To
	if from.IsZero() {
		from = band.Start()
	}
	if to.IsZero() {
		to = band.End()
	}
	if !from.Before(to) {
		return nil, errors.New("from must be before to")
	}
	step := opts.Step
	if step <= 0 {
		step = 24 * time.Hour
	}

	points := make([]TrajectoryPoint, 0, int(to.Sub(from)/step)+2)
	for at := from; ; at = at.Add(step) {
		if at.After(to) {
			at = to
		}
		multiple := rebase.TargetMultiple(at, band)
		points = append(points, TrajectoryPoint{At: at, Multiple: multiple, TargetPrice: band.TargetPrice(multiple)})
		if !at.Before(to) {
			break
		}
	}
	return points, nil
}

// Preview prints the target trajectory; it needs no chain access.
func (a *App) Preview(opts PreviewOptions, out io.Writer) error {
	band, err := a.Config.PriceBand()
	if err != nil {
		return err
	}

	points, err := Trajectory(band, opts)
	if err != nil {
		return err
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tTarget multiple\tTarget price")
	for _, p := range points {
		fmt.Fprintf(writer, "%s\t%.9f\t%s\n",
			p.At.UTC().Format(time.RFC3339),
			p.Multiple,
			formatDecimal(rebase.FromNormalized(p.TargetPrice), 6),
		)
	}
	return writer.Flush()
}
