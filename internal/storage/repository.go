package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const runColumns = `
        id,
        run_at,
        status,
        stage,
        price::text,
        target_price::text,
        multiple_of_start::text,
        desired_multiple::text,
        price_change_pct::text,
        supply_change_pct::text,
        supply::text,
        supply_delta::text,
        epoch::text,
        tx_hash,
        block_number,
        error,
        created_at`

const (
	insertRunSQL = `INSERT INTO rebase_runs (
        run_at,
        status,
        stage,
        price,
        target_price,
        multiple_of_start,
        desired_multiple,
        price_change_pct,
        supply_change_pct,
        supply,
        supply_delta,
        epoch,
        tx_hash,
        block_number,
        error
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15
    )
    RETURNING id, created_at;`

	listRecentRunsSQL = `SELECT` + runColumns + `
    FROM rebase_runs
    ORDER BY run_at DESC
    LIMIT $1;`

	listRunsBetweenSQL = `SELECT` + runColumns + `
    FROM rebase_runs
    WHERE run_at >= $1
      AND run_at < $2
    ORDER BY run_at;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// RunStore persists control-loop invocations.
type RunStore interface {
	InsertRun(ctx context.Context, run RebaseRun) (RebaseRun, error)
	ListRecentRuns(ctx context.Context, limit int) ([]RebaseRun, error)
	ListRunsBetween(ctx context.Context, from, to time.Time) ([]RebaseRun, error)
}

// AdvisoryLocker exposes a cross-process single-run lock.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store is the PostgreSQL implementation of RunStore and AdvisoryLocker.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts a session-level advisory lock held on a dedicated connection
// until the returned func is called.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// The session lock dies with the connection; drop it rather than reuse it.
			conn.Conn().Close(ctxUnlock)
		}
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// InsertRun appends a run record and returns it with its id.
func (s *Store) InsertRun(ctx context.Context, run RebaseRun) (RebaseRun, error) {
	pool, err := s.getPool()
	if err != nil {
		return RebaseRun{}, err
	}

	var epoch interface{}
	if run.Epoch.Valid {
		epoch = run.Epoch.Decimal.String()
	}

	var block interface{}
	if run.BlockNumber != nil {
		block = *run.BlockNumber
	}

	row := pool.QueryRow(ctx, insertRunSQL,
		run.RunAt,
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
		run.TxHash,
		block,
		run.Error,
	)
	if scanErr := row.Scan(&run.ID, &run.CreatedAt); scanErr != nil {
		return RebaseRun{}, fmt.Errorf("insert rebase run: %w", scanErr)
	}
	return run, nil
}

// ListRecentRuns lists the most recent runs ordered by descending run time.
func (s *Store) ListRecentRuns(ctx context.Context, limit int) ([]RebaseRun, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentRunsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent runs: %w", queryErr)
	}
	return collectRuns(rows, limit)
}

// ListRunsBetween lists runs within [from, to).
func (s *Store) ListRunsBetween(ctx context.Context, from, to time.Time) ([]RebaseRun, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRunsBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list runs between: %w", queryErr)
	}
	return collectRuns(rows, 0)
}

func collectRuns(rows pgx.Rows, capacity int) ([]RebaseRun, error) {
	defer rows.Close()

	runs := make([]RebaseRun, 0, capacity)
	for rows.Next() {
		run, scanErr := scanRun(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		runs = append(runs, run)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return runs, nil
}

func scanRun(rows pgx.Rows) (RebaseRun, error) {
	var (
		run      RebaseRun
		numerics [8]string
		epoch    sql.NullString
		txHash   sql.NullString
		block    sql.NullInt64
		errMsg   sql.NullString
	)

	if err := rows.Scan(
		&run.ID,
		&run.RunAt,
		&run.Status,
		&run.Stage,
		&numerics[0],
		&numerics[1],
		&numerics[2],
		&numerics[3],
		&numerics[4],
		&numerics[5],
		&numerics[6],
		&numerics[7],
		&epoch,
		&txHash,
		&block,
		&errMsg,
		&run.CreatedAt,
	); err != nil {
		return RebaseRun{}, err
	}

	targets := [8]*decimal.Decimal{
		&run.Price,
		&run.TargetPrice,
		&run.MultipleOfStart,
		&run.DesiredMultiple,
		&run.PriceChangePct,
		&run.SupplyChangePct,
		&run.Supply,
		&run.Delta,
	}
	for i, raw := range numerics {
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return RebaseRun{}, fmt.Errorf("parse numeric column %d: %w", i, err)
		}
		*targets[i] = v
	}

	if epoch.Valid {
		v, err := decimal.NewFromString(epoch.String)
		if err != nil {
			return RebaseRun{}, fmt.Errorf("parse epoch: %w", err)
		}
		run.Epoch = decimal.NewNullDecimal(v)
	}
	if txHash.Valid {
		hash := txHash.String
		run.TxHash = &hash
	}
	if block.Valid {
		value := block.Int64
		run.BlockNumber = &value
	}
	if errMsg.Valid {
		msg := errMsg.String
		run.Error = &msg
	}

	return run, nil
}
