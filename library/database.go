package library

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// Database is the catalog store handle. It is safe to share between the
// catalog, inventory and circulation code; nothing in this package keeps a
// connection in package state.
type Database struct {
	db     *sqlx.DB
	pool   *pgxpool.Pool
	driver Driver
	sq     squirrel.StatementBuilderType

	addBookStmt   *sqlx.Stmt
	addMemberStmt *sqlx.Stmt
}

// NewDatabase connects to the store described by cfg, creates missing tables
// and prepares common statements. Failing to reach the store yields an error
// wrapping ErrConnection.
func NewDatabase(ctx context.Context, cfg Config) (*Database, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	d := &Database{driver: cfg.Driver}
	var err error
	switch cfg.Driver {
	case DriverSQLite:
		err = d.openSQLite(cfg)
	case DriverPostgres:
		err = d.openPostgres(ctx, cfg)
	}
	if err != nil {
		return nil, err
	}

	pingCtx := ctx
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}
	if err := d.db.PingContext(pingCtx); err != nil {
		d.Close()
		return nil, fmt.Errorf("ping %s: %w: %w", cfg.Redacted(), ErrConnection, err)
	}

	if err := d.applySchema(ctx); err != nil {
		d.Close()
		return nil, err
	}
	if err := d.prepareStatements(ctx); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func (d *Database) openSQLite(cfg Config) error {
	// Ensure directory exists so first-run succeeds.
	if dir := filepath.Dir(cfg.Database); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sqlx.Open("sqlite3", cfg.DSN())
	if err != nil {
		return fmt.Errorf("open sqlite: %w: %w", ErrConnection, err)
	}
	// One connection: writers queue in database/sql rather than in SQLite's lock.
	db.SetMaxOpenConns(1)
	d.db = db
	d.sq = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question)
	return nil
}

func (d *Database) openPostgres(ctx context.Context, cfg Config) error {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return fmt.Errorf("parse postgres config %s: %w", cfg.Redacted(), err)
	}
	poolCfg.MaxConns = cfg.MaxConns

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return fmt.Errorf("create postgres pool %s: %w: %w", cfg.Redacted(), ErrConnection, err)
	}
	sqlDB := stdlib.OpenDBFromPool(pool)
	sqlDB.SetMaxOpenConns(int(cfg.MaxConns))

	d.pool = pool
	d.db = sqlx.NewDb(sqlDB, "pgx")
	d.sq = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
	return nil
}

// Close releases prepared statements and closes the store.
func (d *Database) Close() error {
	if d.addBookStmt != nil {
		d.addBookStmt.Close()
	}
	if d.addMemberStmt != nil {
		d.addMemberStmt.Close()
	}
	err := d.db.Close()
	if d.pool != nil {
		d.pool.Close()
	}
	return err
}

// Driver reports which engine backs the store.
func (d *Database) Driver() Driver { return d.driver }

// Ping checks the store is still reachable.
func (d *Database) Ping(ctx context.Context) error {
	if err := d.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping: %w: %w", ErrConnection, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Schema
// ---------------------------------------------------------------------------

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS books (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            title TEXT NOT NULL,
            author TEXT NOT NULL DEFAULT '',
            isbn TEXT NOT NULL DEFAULT '',
            total_copies INTEGER NOT NULL CHECK (total_copies >= 0),
            available_copies INTEGER NOT NULL,
            CHECK (available_copies >= 0 AND available_copies <= total_copies)
        );`,
	`CREATE TABLE IF NOT EXISTS members (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            name TEXT NOT NULL,
            email TEXT NOT NULL DEFAULT '',
            phone TEXT NOT NULL DEFAULT ''
        );`,
	`CREATE TABLE IF NOT EXISTS issues (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            book_id INTEGER NOT NULL REFERENCES books(id),
            member_id INTEGER NOT NULL REFERENCES members(id),
            issue_date DATE NOT NULL,
            return_date DATE,
            returned BOOLEAN NOT NULL DEFAULT 0,
            CHECK (returned = (return_date IS NOT NULL))
        );`,
	`CREATE INDEX IF NOT EXISTS issues_open_by_book ON issues(book_id) WHERE returned = 0;`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS books (
            id BIGSERIAL PRIMARY KEY,
            title TEXT NOT NULL,
            author TEXT NOT NULL DEFAULT '',
            isbn TEXT NOT NULL DEFAULT '',
            total_copies INTEGER NOT NULL CHECK (total_copies >= 0),
            available_copies INTEGER NOT NULL,
            CHECK (available_copies >= 0 AND available_copies <= total_copies)
        );`,
	`CREATE TABLE IF NOT EXISTS members (
            id BIGSERIAL PRIMARY KEY,
            name TEXT NOT NULL,
            email TEXT NOT NULL DEFAULT '',
            phone TEXT NOT NULL DEFAULT ''
        );`,
	`CREATE TABLE IF NOT EXISTS issues (
            id BIGSERIAL PRIMARY KEY,
            book_id BIGINT NOT NULL REFERENCES books(id),
            member_id BIGINT NOT NULL REFERENCES members(id),
            issue_date DATE NOT NULL,
            return_date DATE,
            returned BOOLEAN NOT NULL DEFAULT FALSE,
            CHECK (returned = (return_date IS NOT NULL))
        );`,
	`CREATE INDEX IF NOT EXISTS issues_open_by_book ON issues(book_id) WHERE NOT returned;`,
}

func (d *Database) applySchema(ctx context.Context) error {
	stmts := postgresSchema
	if d.driver == DriverSQLite {
		// WAL lets readers proceed while an issue or return commits.
		if _, err := d.db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
			return storeError("enable WAL", err)
		}
		stmts = sqliteSchema
	}

	return d.withTx(ctx, "apply schema", func(tx *sqlx.Tx) error {
		for _, stmt := range stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return storeError("apply schema", err)
			}
		}
		return nil
	})
}

// ---------------------------------------------------------------------------
// Prepared statements
// ---------------------------------------------------------------------------

func (d *Database) prepareStatements(ctx context.Context) error {
	var err error
	if d.addBookStmt, err = d.db.PreparexContext(ctx, d.db.Rebind(
		`INSERT INTO books(title,author,isbn,total_copies,available_copies) VALUES(?,?,?,?,?) RETURNING id`)); err != nil {
		return storeError("prepare add book", err)
	}
	if d.addMemberStmt, err = d.db.PreparexContext(ctx, d.db.Rebind(
		`INSERT INTO members(name,email,phone) VALUES(?,?,?) RETURNING id`)); err != nil {
		return storeError("prepare add member", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Query helpers
// ---------------------------------------------------------------------------

// withTx runs fn in one transaction, committing only when fn succeeds.
func (d *Database) withTx(ctx context.Context, op string, fn func(tx *sqlx.Tx) error) error {
	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return storeError(op+": begin", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return storeError(op+": commit", err)
	}
	return nil
}

func getRow(ctx context.Context, q sqlx.QueryerContext, dest any, b squirrel.Sqlizer) error {
	query, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	return sqlx.GetContext(ctx, q, dest, query, args...)
}

func selectRows(ctx context.Context, q sqlx.QueryerContext, dest any, b squirrel.Sqlizer) error {
	query, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	return sqlx.SelectContext(ctx, q, dest, query, args...)
}

// execAffected runs b and returns the number of rows it touched.
func execAffected(ctx context.Context, q sqlx.ExecerContext, b squirrel.Sqlizer) (int64, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build statement: %w", err)
	}
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
