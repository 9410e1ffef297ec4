package bunstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/hyunkyoun/moira/store"
)

var _ store.Store = (*Store)(nil)

// Store keeps jobs in PostgreSQL through the bun ORM. A Store built with
// New leaves the *bun.DB to its caller; one built with Open closes it.
type Store struct {
	db     *bun.DB
	logger *slog.Logger
	owned  bool
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a new Bun store. The caller owns the db lifecycle; the Store
// will not close it on Close().
func New(db *bun.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects to dsn through pgdriver. The returned Store owns the
// connection and closes it on Close.
func Open(dsn string, opts ...Option) *Store {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	s := New(bun.NewDB(sqldb, pgdialect.New()), opts...)
	s.owned = true
	return s
}

// DB returns the underlying *bun.DB for advanced usage.
func (s *Store) DB() *bun.DB {
	return s.db
}

// ──────────────────────────────────────────────────
// Migrations
// ──────────────────────────────────────────────────

type migrationModel struct {
	bun.BaseModel `bun:"table:moira_migrations"`

	Filename  string    `bun:"filename,pk"`
	AppliedAt time.Time `bun:"applied_at,notnull,default:current_timestamp"`
}

type migration struct {
	name string
	up   func(ctx context.Context, tx bun.Tx) error
}

var migrations = []migration{
	{
		name: "001_create_jobs",
		up: func(ctx context.Context, tx bun.Tx) error {
			if _, err := tx.NewCreateTable().Model((*jobModel)(nil)).IfNotExists().Exec(ctx); err != nil {
				return err
			}
			_, err := tx.NewCreateIndex().Model((*jobModel)(nil)).
				Index("idx_moira_jobs_owner_created").
				Column("owner_id", "created_at", "id").
				IfNotExists().
				Exec(ctx)
			if err != nil {
				return err
			}
			_, err = tx.NewCreateIndex().Model((*jobModel)(nil)).
				Index("idx_moira_jobs_state").
				Column("state").
				IfNotExists().
				Exec(ctx)
			return err
		},
	},
	{
		// Lineage lookups only care about resubmitted jobs.
		name: "002_index_resubmitted_from",
		up: func(ctx context.Context, tx bun.Tx) error {
			_, err := tx.NewCreateIndex().Model((*jobModel)(nil)).
				Index("idx_moira_jobs_resubmitted_from").
				Column("resubmitted_from").
				Where("resubmitted_from <> ''").
				IfNotExists().
				Exec(ctx)
			return err
		},
	},
}

// Migrate applies pending migrations, each in its own transaction.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.NewCreateTable().Model((*migrationModel)(nil)).IfNotExists().Exec(ctx)
	if err != nil {
		return fmt.Errorf("moira/bun: create migrations table: %w", err)
	}

	for _, m := range migrations {
		applied, err := s.db.NewSelect().Model((*migrationModel)(nil)).
			Where("filename = ?", m.name).
			Exists(ctx)
		if err != nil {
			return fmt.Errorf("moira/bun: check migration %s: %w", m.name, err)
		}
		if applied {
			continue
		}

		err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			if err := m.up(ctx, tx); err != nil {
				return err
			}
			_, err := tx.NewInsert().Model(&migrationModel{Filename: m.name, AppliedAt: time.Now().UTC()}).Exec(ctx)
			return err
		})
		if err != nil {
			return fmt.Errorf("moira/bun: apply migration %s: %w", m.name, err)
		}
		s.logger.Info("applied migration", slog.String("name", m.name))
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database only when the Store opened it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}
