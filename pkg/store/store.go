// Package store persists fetched listings and the history of task firings.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	scheduler "github.com/alextanhongpin/ani-scheduler"
	"github.com/alextanhongpin/ani-scheduler/pkg/anime"
)

var (
	ErrUnknownDriver = errors.New("store: unknown driver")
	ErrClosed        = errors.New("store: closed")
)

const defaultRunLimit = 50

// Store is both the payload sink and the run recorder of the scheduler.
type Store interface {
	scheduler.Sink[anime.Schedule]
	scheduler.Recorder[anime.Schedule]

	Migrate(ctx context.Context) error
	ListRuns(ctx context.Context, filter RunFilter) ([]Run, error)
	ListItems(ctx context.Context, since time.Time) ([]anime.Item, error)
	Close() error
}

var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgresStore)(nil)
)

// Run is a recorded firing.
type Run struct {
	ID         uuid.UUID        `json:"id"`
	Name       string           `json:"name"`
	Status     scheduler.Status `json:"status"`
	Attempts   int              `json:"attempts"`
	Error      string           `json:"error,omitempty"`
	Items      int              `json:"items"`
	StartedAt  time.Time        `json:"startedAt"`
	FinishedAt time.Time        `json:"finishedAt"`
}

// RunFilter narrows ListRuns. A zero filter returns the latest runs.
type RunFilter struct {
	Names []string
	Limit int
}

func (f RunFilter) limit() int {
	if f.Limit <= 0 {
		return defaultRunLimit
	}

	return f.Limit
}

// Open opens the store for driver ("sqlite" or "postgres") and applies its
// migration.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	var (
		st  Store
		err error
	)
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite", "sqlite3":
		st, err = OpenSQLite(dsn)
	case "postgres", "postgresql":
		st, err = OpenPostgres(dsn)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()

		return nil, err
	}

	return st, nil
}

func runFromResult(res scheduler.Result[anime.Schedule]) Run {
	run := Run{
		ID:         res.ID,
		Name:       res.Name,
		Status:     res.Status,
		Attempts:   res.Attempts,
		Error:      res.Err,
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
	}
	if res.Payload != nil {
		run.Items = res.Payload.Len()
	}

	return run
}

type txKey struct{}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn returns the transaction carried by ctx, or db.
func conn(ctx context.Context, db *sql.DB) dbtx {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}

	return db
}

// atomic runs fn inside a transaction reachable through conn(ctx, db).
func atomic(ctx context.Context, db *sql.DB, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction", err)
	}

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}

		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit transaction", err)
	}

	return nil
}

func scanRuns(rows *sql.Rows) ([]Run, error) {
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run               Run
			errText           sql.NullString
			started, finished int64
		)
		if err := rows.Scan(
			&run.ID,
			&run.Name,
			&run.Status,
			&run.Attempts,
			&errText,
			&run.Items,
			&started,
			&finished,
		); err != nil {
			return nil, fmt.Errorf("%w: failed to scan run", err)
		}

		run.Error = errText.String
		run.StartedAt = time.UnixMilli(started)
		run.FinishedAt = time.UnixMilli(finished)
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to process rows", err)
	}

	return runs, nil
}

func scanItems(rows *sql.Rows) ([]anime.Item, error) {
	defer rows.Close()

	var items []anime.Item
	for rows.Next() {
		var (
			item       anime.Item
			updateTime int64
		)
		if err := rows.Scan(
			&item.Title,
			&item.UpdateCount,
			&item.UpdateInfo,
			&item.ImageURL,
			&item.DetailURL,
			&updateTime,
			&item.Platform,
		); err != nil {
			return nil, fmt.Errorf("%w: failed to scan item", err)
		}

		item.UpdateTime = time.UnixMilli(updateTime)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to process rows", err)
	}

	return items, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{
		String: s,
		Valid:  len(s) > 0,
	}
}
