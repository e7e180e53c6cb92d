package project

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// DB persists the file index so a restart does not rescan cold.
type DB struct {
	db *sql.DB
}

// NewDB opens (or creates) the index database and initialises the schema.
func NewDB(ctx context.Context, dbPath string) (*DB, error) {
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open index database: %w", err)
	}
	// SQLite does not take multiple writers well.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping index database: %w", err)
	}

	d := &DB{db: db}
	if err := d.initSchema(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *DB) initSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS files (
	root       TEXT NOT NULL,
	path       TEXT NOT NULL,
	ext        TEXT NOT NULL,
	size_bytes INTEGER NOT NULL,
	mtime_unix INTEGER NOT NULL,
	PRIMARY KEY (root, path)
);
CREATE INDEX IF NOT EXISTS idx_files_ext ON files(root, ext);
`
	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize index schema: %w", err)
	}
	return nil
}

// ReplaceFiles swaps the stored index for a root in one transaction.
func (d *DB) ReplaceFiles(ctx context.Context, root string, files []FileEntry) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin index transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE root = ?`, root); err != nil {
		return fmt.Errorf("failed to clear index: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO files (root, path, ext, size_bytes, mtime_unix) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare index insert: %w", err)
	}
	defer stmt.Close()

	for _, f := range files {
		if _, err := stmt.ExecContext(ctx, root, f.RelPath, f.Ext, f.Size, f.ModTime); err != nil {
			return fmt.Errorf("failed to insert %s: %w", f.RelPath, err)
		}
	}
	return tx.Commit()
}

// LoadFiles returns the stored index for a root.
func (d *DB) LoadFiles(ctx context.Context, root string) ([]FileEntry, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT path, ext, size_bytes, mtime_unix FROM files WHERE root = ? ORDER BY path`, root)
	if err != nil {
		return nil, fmt.Errorf("failed to query index: %w", err)
	}
	defer rows.Close()

	var files []FileEntry
	for rows.Next() {
		var f FileEntry
		if err := rows.Scan(&f.RelPath, &f.Ext, &f.Size, &f.ModTime); err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}
