package translation

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"

	_ "modernc.org/sqlite"

	"github.com/nectic/terrier-core/pkg/postgres"
)

// Store persists a translation table.
type Store interface {
	Load(ctx context.Context) (map[string][]Candidate, error)
	Save(ctx context.Context, table map[string][]Candidate) error
	Close() error
}

const schema = `
CREATE TABLE IF NOT EXISTS translations (
	source TEXT NOT NULL,
	target TEXT NOT NULL,
	score DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (source, target)
)`

const (
	sqliteUpsert = `INSERT INTO translations (source, target, score) VALUES (?, ?, ?)
	ON CONFLICT (source, target) DO UPDATE SET score = excluded.score`
	postgresUpsert = `INSERT INTO translations (source, target, score) VALUES ($1, $2, $3)
	ON CONFLICT (source, target) DO UPDATE SET score = EXCLUDED.score`
)

// sqlStore implements Store over database/sql. The two backends differ only
// in placeholder syntax and how transactions are opened.
type sqlStore struct {
	db     *sql.DB
	upsert string
	inTx   func(ctx context.Context, fn func(tx *sql.Tx) error) error
	close  func() error
	logger *slog.Logger
}

// OpenSQLite opens (creating if needed) a SQLite translation store.
func OpenSQLite(ctx context.Context, path string) (Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialising sqlite schema: %w", err)
	}
	s := &sqlStore{
		db:     db,
		upsert: sqliteUpsert,
		close:  db.Close,
		logger: slog.Default().With("component", "translation-store", "backend", "sqlite"),
	}
	s.inTx = s.sqliteTx
	return s, nil
}

// NewPostgresStore uses an open postgres client as a translation store.
func NewPostgresStore(ctx context.Context, client *postgres.Client) (Store, error) {
	if _, err := client.DB.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("initialising postgres schema: %w", err)
	}
	return &sqlStore{
		db:     client.DB,
		upsert: postgresUpsert,
		inTx:   client.InTx,
		close:  client.Close,
		logger: slog.Default().With("component", "translation-store", "backend", "postgres"),
	}, nil
}

func (s *sqlStore) sqliteTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rolling back transaction after error %v: %w", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *sqlStore) Load(ctx context.Context) (map[string][]Candidate, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT source, target, score FROM translations`)
	if err != nil {
		return nil, fmt.Errorf("querying translations: %w", err)
	}
	defer rows.Close()

	table := make(map[string][]Candidate)
	n := 0
	for rows.Next() {
		var source string
		var c Candidate
		if err := rows.Scan(&source, &c.Term, &c.Score); err != nil {
			return nil, fmt.Errorf("scanning translation row: %w", err)
		}
		table[source] = append(table[source], c)
		n++
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating translations: %w", err)
	}
	s.logger.Info("translation table loaded", "sources", len(table), "rows", n)
	return table, nil
}

func (s *sqlStore) Save(ctx context.Context, table map[string][]Candidate) error {
	sources := make([]string, 0, len(table))
	for source := range table {
		sources = append(sources, source)
	}
	sort.Strings(sources)

	n := 0
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, s.upsert)
		if err != nil {
			return fmt.Errorf("preparing upsert: %w", err)
		}
		defer stmt.Close()
		for _, source := range sources {
			for _, c := range table[source] {
				if _, err := stmt.ExecContext(ctx, source, c.Term, c.Score); err != nil {
					return fmt.Errorf("saving %s -> %s: %w", source, c.Term, err)
				}
				n++
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info("translation table saved", "sources", len(sources), "rows", n)
	return nil
}

func (s *sqlStore) Close() error {
	return s.close()
}
