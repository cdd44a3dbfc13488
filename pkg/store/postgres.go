package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	scheduler "github.com/alextanhongpin/ani-scheduler"
	"github.com/alextanhongpin/ani-scheduler/pkg/anime"
)

//go:embed migrations/postgres.sql
var postgresMigration string

var ErrDuplicateRun = errors.New("store: duplicate run")

const pqUniqueViolation = "23505"

type PostgresStore struct {
	db  *sql.DB
	log zerolog.Logger
}

func OpenPostgres(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open postgres", err)
	}

	return NewPostgresStore(db), nil
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		db:  db,
		log: log.With().Str("pkg", "store").Str("driver", "postgres").Logger(),
	}
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	return atomic(ctx, s.db, func(ctx context.Context) error {
		if _, err := conn(ctx, s.db).ExecContext(ctx, postgresMigration); err != nil {
			return fmt.Errorf("%w: failed to migrate postgres", err)
		}

		return nil
	})
}

func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return ErrClosed
	}

	return s.db.Close()
}

func (s *PostgresStore) Save(ctx context.Context, name string, sched anime.Schedule) error {
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
				) VALUES (
					$1,
					$2,
					$3,
					$4,
					$5,
					$6,
					$7
				)
				ON CONFLICT (title, platform)
				DO UPDATE SET
					update_count = EXCLUDED.update_count,
					update_info = EXCLUDED.update_info,
					image_url = EXCLUDED.image_url,
					detail_url = EXCLUDED.detail_url,
					update_time = EXCLUDED.update_time
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

func (s *PostgresStore) Record(ctx context.Context, res scheduler.Result[anime.Schedule]) error {
	run := runFromResult(res)

	_, err := conn(ctx, s.db).ExecContext(ctx, `
		INSERT INTO task_runs (
			id,
			name,
			status,
			attempts,
			error,
			items,
			started_at,
			finished_at
		) VALUES (
			$1,
			$2,
			$3,
			$4,
			$5,
			$6,
			$7,
			$8
		)
	`,
		run.ID.String(),
		run.Name,
		run.Status.String(),
		run.Attempts,
		nullString(run.Error),
		run.Items,
		run.StartedAt.UnixMilli(),
		run.FinishedAt.UnixMilli(),
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return fmt.Errorf("%w: id=%s", ErrDuplicateRun, run.ID)
		}

		return fmt.Errorf("%w: failed to insert task run", err)
	}

	return nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	var names any
	if len(filter.Names) > 0 {
		names = pq.StringArray(filter.Names)
	}

	rows, err := conn(ctx, s.db).QueryContext(ctx, `
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
		WHERE $1::text[] IS NULL OR name = ANY($1)
		ORDER BY started_at DESC
		LIMIT $2
	`,
		names,
		filter.limit(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: select task runs", err)
	}

	return scanRuns(rows)
}

func (s *PostgresStore) ListItems(ctx context.Context, since time.Time) ([]anime.Item, error) {
	rows, err := conn(ctx, s.db).QueryContext(ctx, `
		SELECT
			title,
			update_count,
			update_info,
			image_url,
			detail_url,
			update_time,
			platform
		FROM ani_items
		WHERE update_time >= $1
		ORDER BY update_time DESC, platform, title
	`, since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("%w: select items", err)
	}

	return scanItems(rows)
}
