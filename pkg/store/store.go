package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"time"
)

// SetupSchema creates the template table in the provided database. It is
// idempotent and safe to call on an already-initialized database.
func SetupSchema(db *sql.DB) error {

	const schemaTemplates = `
CREATE TABLE IF NOT EXISTS ejs_templates (
    name TEXT PRIMARY KEY,
    source TEXT NOT NULL,
    updated_at INTEGER NOT NULL
);
`

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}

	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	if _, err = tx.Exec(schemaTemplates); err != nil {
		return fmt.Errorf("could not create schema: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("could not commit transaction: %w", err)
	}

	return nil
}

// Store keeps template sources in SQLite. Names are slash-separated paths such
// as "partials/header.ejs". It satisfies ejs.FileReader.
type Store struct {
	db         *sql.DB
	stmtGet    *sql.Stmt
	stmtPut    *sql.Stmt
	stmtDelete *sql.Stmt
	stmtList   *sql.Stmt
	logger     *slog.Logger
}

// New prepares the statements used by the Store. SetupSchema must have been
// called on db first. If any statement fails to prepare, the ones already
// prepared are closed.
func New(db *sql.DB) (_ *Store, err error) {
	var prepared []*sql.Stmt
	defer func() {
		if err != nil {
			for _, stmt := range prepared {
				_ = stmt.Close()
			}
		}
	}()

	prepare := func(query string) *sql.Stmt {
		if err != nil {
			return nil
		}
		var stmt *sql.Stmt
		if stmt, err = db.Prepare(query); err != nil {
			err = fmt.Errorf("could not prepare statement: %w", err)
			return nil
		}
		prepared = append(prepared, stmt)
		return stmt
	}

	s := &Store{
		db:         db,
		stmtGet:    prepare(`SELECT source FROM ejs_templates WHERE name = ?;`),
		stmtPut:    prepare(`INSERT INTO ejs_templates (name, source, updated_at) VALUES (?, ?, ?) ON CONFLICT(name) DO UPDATE SET source = excluded.source, updated_at = excluded.updated_at;`),
		stmtDelete: prepare(`DELETE FROM ejs_templates WHERE name = ?;`),
		stmtList:   prepare(`SELECT name FROM ejs_templates ORDER BY name;`),
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Close releases the prepared statements. The database itself is left open.
func (s *Store) Close() {
	_ = s.stmtGet.Close()
	_ = s.stmtPut.Close()
	_ = s.stmtDelete.Close()
	_ = s.stmtList.Close()
}

// SetLogger sets the logger for the Store. By default, all logs are discarded.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// ReadFile returns the source stored under name. A missing template is
// reported as fs.ErrNotExist so callers can treat the store like a filesystem.
func (s *Store) ReadFile(name string) ([]byte, error) {
	var src string
	err := s.stmtGet.QueryRowContext(context.Background(), name).Scan(&src)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &fs.PathError{Op: "read", Path: name, Err: fs.ErrNotExist}
	}
	if err != nil {
		return nil, fmt.Errorf("could not read template %s: %w", name, err)
	}
	return []byte(src), nil
}

// Put creates or replaces the template stored under name.
func (s *Store) Put(ctx context.Context, name, src string) error {
	if _, err := s.stmtPut.ExecContext(ctx, name, src, time.Now().Unix()); err != nil {
		return fmt.Errorf("could not store template %s: %w", name, err)
	}
	s.logger.Debug("Stored template", "name", name, "bytes", len(src))
	return nil
}

// Delete removes the template stored under name. Deleting a missing template
// returns fs.ErrNotExist.
func (s *Store) Delete(ctx context.Context, name string) error {
	res, err := s.stmtDelete.ExecContext(ctx, name)
	if err != nil {
		return fmt.Errorf("could not delete template %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("could not delete template %s: %w", name, err)
	}
	if n == 0 {
		return &fs.PathError{Op: "delete", Path: name, Err: fs.ErrNotExist}
	}
	s.logger.Debug("Deleted template", "name", name)
	return nil
}

// List returns the names of all stored templates in lexical order.
func (s *Store) List(ctx context.Context) ([]string, error) {
	rows, err := s.stmtList.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not list templates: %w", err)
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	names := []string{}
	for rows.Next() {
		var name string
		if err = rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("could not scan template name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
