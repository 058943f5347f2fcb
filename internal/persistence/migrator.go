package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// Migrator applies the ledger schema from versioned SQL files. File
// naming follows the golang-migrate convention,
// {version}_{name}.up.sql with a matching .down.sql.
type Migrator struct {
	db  *sql.DB
	dir string
}

// migration is one discovered up-file, keyed by its version prefix.
type migration struct {
	version  string
	filename string
}

func NewMigrator(db *sql.DB, migrationsDir string) *Migrator {
	return &Migrator{db: db, dir: migrationsDir}
}

// Up applies every migration not yet recorded in
// public.schema_migrations, oldest first, each in its own transaction.
func (m *Migrator) Up(ctx context.Context) error {
	if err := m.ensureLedgerTable(ctx); err != nil {
		return fmt.Errorf("ensure migration ledger: %w", err)
	}

	pending, err := m.pending(ctx)
	if err != nil {
		return err
	}

	for _, mig := range pending {
		sqlText, err := os.ReadFile(filepath.Join(m.dir, mig.filename))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", mig.filename, err)
		}

		err = m.inTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, string(sqlText)); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO public.schema_migrations (version, filename) VALUES ($1, $2)`,
				mig.version, mig.filename)
			return err
		})
		if err != nil {
			return fmt.Errorf("apply migration %s: %w", mig.filename, err)
		}
		log.Printf("INFO: applied migration %s", mig.filename)
	}

	return nil
}

// Down rolls back the most recently applied migration using its
// .down.sql counterpart.
func (m *Migrator) Down(ctx context.Context) error {
	if err := m.ensureLedgerTable(ctx); err != nil {
		return fmt.Errorf("ensure migration ledger: %w", err)
	}

	var last migration
	err := m.db.QueryRowContext(ctx,
		`SELECT version, filename FROM public.schema_migrations ORDER BY version DESC LIMIT 1`,
	).Scan(&last.version, &last.filename)
	if err == sql.ErrNoRows {
		log.Println("INFO: no migrations to roll back")
		return nil
	}
	if err != nil {
		return fmt.Errorf("latest migration: %w", err)
	}

	downName := strings.Replace(last.filename, ".up.sql", ".down.sql", 1)
	sqlText, err := os.ReadFile(filepath.Join(m.dir, downName))
	if err != nil {
		return fmt.Errorf("read down migration %s: %w", downName, err)
	}

	err = m.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, string(sqlText)); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`DELETE FROM public.schema_migrations WHERE version = $1`, last.version)
		return err
	})
	if err != nil {
		return fmt.Errorf("roll back migration %s: %w", downName, err)
	}

	log.Printf("INFO: rolled back migration %s", downName)
	return nil
}

// pending lists discovered up-migrations whose version has no ledger
// row, sorted ascending by filename.
func (m *Migrator) pending(ctx context.Context) ([]migration, error) {
	applied := make(map[string]bool)
	rows, err := m.db.QueryContext(ctx, `SELECT version FROM public.schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("applied versions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	var out []migration
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		version, _, _ := strings.Cut(name, "_")
		if applied[version] {
			continue
		}
		out = append(out, migration{version: version, filename: name})
	}
	slices.SortFunc(out, func(a, b migration) int {
		return strings.Compare(a.filename, b.filename)
	})
	return out, nil
}

func (m *Migrator) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (m *Migrator) ensureLedgerTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS public.schema_migrations (
			version    TEXT PRIMARY KEY,
			filename   TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}
