package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pavel-fokin/files-manager/internal/files"
	_ "modernc.org/sqlite"
)

const recordColumns = `id, user_id, name, type, is_public, parent_id, local_path, created_at`

// Repository implements files.Catalog and files.IdentityResolver using SQLite
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new SQLite repository
func NewRepository(dbPath string) (*Repository, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows a single writer; serialize access through one connection.
	db.SetMaxOpenConns(1)

	repo := &Repository{db: db}

	// Initialize database schema
	if err := repo.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return repo, nil
}

// DB exposes the underlying handle so the job queue can share it
func (r *Repository) DB() *sql.DB {
	return r.db
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}

// initSchema creates the necessary database tables
func (r *Repository) initSchema() error {
	// seq keeps insertion order for paging; id is the public identifier.
	createFilesQuery := `
	CREATE TABLE IF NOT EXISTS files (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		type TEXT NOT NULL CHECK (type IN ('folder', 'file', 'image')),
		is_public INTEGER NOT NULL DEFAULT 0,
		parent_id TEXT NOT NULL DEFAULT '',
		local_path TEXT,
		created_at DATETIME NOT NULL
	);`
	if _, err := r.db.Exec(createFilesQuery); err != nil {
		return fmt.Errorf("failed to create files table: %w", err)
	}

	createSessionsQuery := `
	CREATE TABLE IF NOT EXISTS sessions (
		token TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);`
	if _, err := r.db.Exec(createSessionsQuery); err != nil {
		return fmt.Errorf("failed to create sessions table: %w", err)
	}

	createJobsQuery := `
	CREATE TABLE IF NOT EXISTS jobs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		queue TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		claimed_at DATETIME
	);`
	if _, err := r.db.Exec(createJobsQuery); err != nil {
		return fmt.Errorf("failed to create jobs table: %w", err)
	}

	createIndexesQuery := `
	CREATE INDEX IF NOT EXISTS idx_files_parent_id_seq ON files(parent_id, seq);
	CREATE INDEX IF NOT EXISTS idx_jobs_queue_claimed ON jobs(queue, claimed_at, id);
	`
	if _, err := r.db.Exec(createIndexesQuery); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	return nil
}

// Ping reports whether the database is reachable
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Insert stores a new record and assigns its ID
func (r *Repository) Insert(ctx context.Context, record *files.Record) error {
	query := `
	INSERT INTO files (id, user_id, name, type, is_public, parent_id, local_path, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	id := files.NewID()
	createdAt := time.Now().UTC()
	var localPath sql.NullString
	if record.LocalPath != "" {
		localPath = sql.NullString{String: record.LocalPath, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, query,
		id,
		record.OwnerID,
		record.Name,
		string(record.Kind),
		record.IsPublic,
		string(record.ParentID),
		localPath,
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create file record: %w", err)
	}

	record.ID = id
	record.CreatedAt = createdAt
	return nil
}

// FindByID retrieves a record by ID
func (r *Repository) FindByID(ctx context.Context, id string) (*files.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM files WHERE id = ?`

	record, err := scanRecord(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, files.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to find file: %w", err)
	}
	return record, nil
}

// Find returns a page of records in insertion order. A root parent matches
// every record.
func (r *Repository) Find(ctx context.Context, filter files.ListFilter) ([]*files.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM files`
	var args []any
	if !filter.ParentID.IsRoot() {
		query += ` WHERE parent_id = ?`
		args = append(args, string(filter.ParentID))
	}
	query += ` ORDER BY seq LIMIT ? OFFSET ?`
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query files: %w", err)
	}
	defer rows.Close()

	var records []*files.Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file row: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating file rows: %w", err)
	}

	return records, nil
}

// UpdateVisibility sets is_public on a single record and returns it
func (r *Repository) UpdateVisibility(ctx context.Context, id string, isPublic bool) (*files.Record, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `UPDATE files SET is_public = ? WHERE id = ?`, isPublic, id)
	if err != nil {
		return nil, fmt.Errorf("failed to update file visibility: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, files.ErrRecordNotFound
	}

	query := `SELECT ` + recordColumns + ` FROM files WHERE id = ?`
	record, err := scanRecord(tx.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("failed to find file: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit visibility update: %w", err)
	}
	return record, nil
}

// CountFiles returns the number of records in the catalog
func (r *Repository) CountFiles(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM files`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count files: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*files.Record, error) {
	var (
		record    files.Record
		kind      string
		parentID  string
		localPath sql.NullString
	)
	err := row.Scan(
		&record.ID,
		&record.OwnerID,
		&record.Name,
		&kind,
		&record.IsPublic,
		&parentID,
		&localPath,
		&record.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	record.Kind = files.Kind(kind)
	record.ParentID = files.ParentID(parentID)
	if localPath.Valid {
		record.LocalPath = localPath.String
	}
	return &record, nil
}
