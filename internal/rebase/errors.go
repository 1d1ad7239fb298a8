package rebase

import (
	"errors"
	"fmt"
)

var (
	// ErrOracleRead wraps transport or contract read failures.
	ErrOracleRead = errors.New("oracle read failure")
	// ErrInvalidPriceState indicates a zero or negative price, balance or multiple.
	ErrInvalidPriceState = errors.New("invalid price state")
	// ErrConfiguration indicates a malformed price band or precision.
	ErrConfiguration = errors.New("configuration error")
	// ErrArithmeticBounds indicates the desired change drives the supply denominator non-positive.
	ErrArithmeticBounds = errors.New("arithmetic bounds error")
	// ErrSubmission wraps rejected or unconfirmed rebase transactions.
	ErrSubmission = errors.New("submission failure")
	// ErrInvocationInProgress is returned when another invocation holds the single-run lock.
	ErrInvocationInProgress = errors.New("rebase invocation already in progress")
)

// Stage names the pipeline step an invocation failed in.
type Stage string

const (
	StageLock    Stage = "lock"
	StageOracle  Stage = "oracle"
	StageSupply  Stage = "supply"
	StageCompute Stage = "compute"
	StageSubmit  Stage = "submit"
)

// StageError attaches the failing stage to an error without masking it.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// StageOf returns the stage recorded on err, or "" when err carries none.
func StageOf(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}
