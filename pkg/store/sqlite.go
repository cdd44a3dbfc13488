package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	scheduler "github.com/alextanhongpin/ani-scheduler"
	"github.com/alextanhongpin/ani-scheduler/pkg/anime"
)

//go:embed migrations/sqlite.sql
var sqliteMigration string

const sqliteBusyTimeout = 5 * time.Second

// SQLiteStore is the default store of the desktop application.
type SQLiteStore struct {
	db  *sql.DB
	log zerolog.Logger
}

// OpenSQLite opens (and creates) the database file at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("store: sqlite path is required")
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("%w: failed to create data dir", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open sqlite", err)
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", sqliteBusyTimeout.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()

			return nil, fmt.Errorf("%w: %s", err, pragma)
		}
	}

	return &SQLiteStore{
		db:  db,
		log: log.With().Str("pkg", "store").Str("driver", "sqlite").Logger(),
	}, nil
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteMigration); err != nil {
		return fmt.Errorf("%w: failed to migrate sqlite", err)
	}

	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return ErrClosed
	}

	return s.db.Close()
}

// Save upserts every item of the schedule, whatever day it is keyed by.
func (s *SQLiteStore) Save(ctx context.Context, name string, sched anime.Schedule) error {
	items := sched.Items()
	if len(items) == 0 {
		s.log.Debug().Str("task", name).Msg("no items to save")

		return nil
	}

	err := atomic(ctx, s.db, func(ctx context.Context) error {
		db := conn(ctx, s.db)

		for _, item := range items {
			if _, err := db.ExecContext(ctx, `
				INSERT INTO ani_items (
					title,
					update_count,
					update_info,
					image_url,
					detail_url,
					update_time,
					platform
				) VALUES (?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (title, platform) DO UPDATE SET
					update_count = excluded.update_count,
					update_info = excluded.update_info,
					image_url = excluded.image_url,
					detail_url = excluded.detail_url,
					update_time = excluded.update_time
			`,
				item.Title,
				item.UpdateCount,
				item.UpdateInfo,
				item.ImageURL,
				item.DetailURL,
				item.UpdateTime.UnixMilli(),
				item.Platform,
			); err != nil {
				return fmt.Errorf("%w: failed to upsert item %q", err, item.Title)
			}
		}

		return nil
	})
	if err != nil {
		return err
	}

	s.log.Info().Str("task", name).Int("items", len(items)).Msg("saved items")

	return nil
}

func (s *SQLiteStore) Record(ctx context.Context, res scheduler.Result[anime.Schedule]) error {
	run := runFromResult(res)

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO task_runs (
			id,
			name,
			status,
			attempts,
			error,
			items,
			started_at,
			finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID.String(),
		run.Name,
		run.Status.String(),
		run.Attempts,
		nullString(run.Error),
		run.Items,
		run.StartedAt.UnixMilli(),
		run.FinishedAt.UnixMilli(),
	); err != nil {
		return fmt.Errorf("%w: failed to insert task run", err)
	}

	return nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	query := `
		SELECT
			id,
			name,
			status,
			attempts,
			error,
			items,
			started_at,
			finished_at
		FROM task_runs
	`
	var args []any
	if len(filter.Names) > 0 {
		query += "WHERE name IN (?" + strings.Repeat(", ?", len(filter.Names)-1) + ")\n"
		for _, name := range filter.Names {
			args = append(args, name)
		}
	}
	query += "ORDER BY started_at DESC LIMIT ?"
	args = append(args, filter.limit())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: select task runs", err)
	}

	return scanRuns(rows)
}

func (s *SQLiteStore) ListItems(ctx context.Context, since time.Time) ([]anime.Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			title,
			update_count,
			update_info,
			image_url,
			detail_url,
			update_time,
			platform
		FROM ani_items
		WHERE update_time >= ?
		ORDER BY update_time DESC, platform, title
	`, since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("%w: select items", err)
	}

	return scanItems(rows)
}
