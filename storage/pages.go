// Package storage persists crawled pages for the enrichment queue in SQLite
// and merged entity graphs in NATS KV.
package storage

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/c360studio/semcontext/source"
)

// PageStats counts pages by status.
type PageStats struct {
	Total    int                       `json:"total"`
	ByStatus map[source.PageStatus]int `json:"by_status"`
}

// Count returns the number of pages in status s.
func (s PageStats) Count(status source.PageStatus) int {
	return s.ByStatus[status]
}

// PageStoreOption configures a PageStore.
type PageStoreOption func(*PageStore)

// WithClock sets the time source.
func WithClock(now func() time.Time) PageStoreOption {
	return func(s *PageStore) {
		s.now = now
	}
}

// PageStore is the SQLite page queue. Claims are a single UPDATE ...
// RETURNING statement, so no two workers receive the same page even across
// processes sharing the database file.
type PageStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenPageStore opens or creates the database at path and applies
// migrations. Use ":memory:" for a private in-memory store.
func OpenPageStore(ctx context.Context, path string, opts ...PageStoreOption) (*PageStore, error) {
	db, err := openDatabase(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &PageStore{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	if err := ApplyMigrations(ctx, db, s.now().UnixMilli()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return s, nil
}

func openDatabase(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, path)
	if err != nil {
		return nil, err
	}

	// one connection: SQLite has a single writer, and ":memory:" databases
	// are per connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return db, nil
}

// Close closes the database.
func (s *PageStore) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for maintenance commands.
func (s *PageStore) DB() *sql.DB {
	return s.db
}

// ContentHash returns the hash stored with each page's content.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// AddPage inserts a page as pending. Re-adding an existing page with the
// same content is a no-op and returns false; changed content replaces the
// stored page and queues it again.
func (s *PageStore) AddPage(ctx context.Context, p *source.Page) (bool, error) {
	if strings.TrimSpace(p.ID) == "" {
		return false, errors.New("page id is required")
	}
	contentType := p.ContentType
	if contentType == "" {
		contentType = "text/markdown"
	}
	hash := ContentHash(p.Content)
	now := s.now().UnixMilli()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO pages (id, url, title, content_type, content, content_hash, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 'pending', ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			url = excluded.url,
			title = excluded.title,
			content_type = excluded.content_type,
			content = excluded.content,
			content_hash = excluded.content_hash,
			contexted = '',
			status = 'pending',
			attempts = 0,
			worker_id = '',
			error = '',
			claimed_at = NULL,
			updated_at = excluded.updated_at
		WHERE pages.content_hash != excluded.content_hash`,
		p.ID, p.URL, p.Title, contentType, p.Content, hash, now, now)
	if err != nil {
		return false, fmt.Errorf("add page %s: %w", p.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

const pageColumns = `id, url, title, content_type, content, contexted, status, attempts,
	worker_id, error, claimed_at, created_at, updated_at`

// GetPage returns a page by id.
func (s *PageStore) GetPage(ctx context.Context, id string) (*source.Page, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+pageColumns+" FROM pages WHERE id = ?", id)
	p, err := scanPage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get page %s: %w", id, err)
	}
	return p, nil
}

// ListPages returns up to limit pages in status, oldest first. An empty
// status lists every page.
func (s *PageStore) ListPages(ctx context.Context, status source.PageStatus, limit int) ([]*source.Page, error) {
	if limit <= 0 {
		limit = 100
	}
	query := "SELECT " + pageColumns + " FROM pages"
	args := []any{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY created_at, id LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	return collectPages(rows)
}

// MaxTimeoutAttempts bounds how often a page that timed out is retried.
const MaxTimeoutAttempts = 3

// ResetStuckProcessing returns pages claimed longer than olderThan ago to
// pending, for workers that died mid-document. Pages that timed out more
// than olderThan ago are queued again too, until they have been attempted
// MaxTimeoutAttempts times.
func (s *PageStore) ResetStuckProcessing(ctx context.Context, olderThan time.Duration) (int, error) {
	now := s.now()
	cutoff := now.Add(-olderThan).UnixMilli()
	res, err := s.db.ExecContext(ctx, `
		UPDATE pages
		SET status = 'pending', worker_id = '', claimed_at = NULL, updated_at = ?
		WHERE (status = 'processing' AND claimed_at < ?)
		   OR (status = 'timeout' AND updated_at < ? AND attempts < ?)`,
		now.UnixMilli(), cutoff, cutoff, MaxTimeoutAttempts)
	if err != nil {
		return 0, fmt.Errorf("reset stuck pages: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// ClaimPagesForProcessing atomically moves up to batchSize pending pages,
// oldest first, to processing under workerID and returns them.
func (s *PageStore) ClaimPagesForProcessing(ctx context.Context, batchSize int, workerID string) ([]*source.Page, error) {
	if batchSize <= 0 {
		return nil, nil
	}
	now := s.now().UnixMilli()
	rows, err := s.db.QueryContext(ctx, `
		UPDATE pages
		SET status = 'processing', worker_id = ?, claimed_at = ?, updated_at = ?, attempts = attempts + 1
		WHERE id IN (
			SELECT id FROM pages WHERE status = 'pending' ORDER BY created_at, id LIMIT ?
		)
		RETURNING `+pageColumns,
		workerID, now, now, batchSize)
	if err != nil {
		return nil, fmt.Errorf("claim pages: %w", err)
	}
	pages, err := collectPages(rows)
	if err != nil {
		return nil, fmt.Errorf("claim pages: %w", err)
	}
	// RETURNING order is unspecified
	sort.Slice(pages, func(i, j int) bool {
		if !pages[i].CreatedAt.Equal(pages[j].CreatedAt) {
			return pages[i].CreatedAt.Before(pages[j].CreatedAt)
		}
		return pages[i].ID < pages[j].ID
	})
	return pages, nil
}

// MarkPageContexted stores the enriched content and marks the page done.
func (s *PageStore) MarkPageContexted(ctx context.Context, id, content string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pages
		SET status = 'contexted', contexted = ?, error = '', worker_id = '', updated_at = ?
		WHERE id = ?`,
		content, s.now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("mark page %s contexted: %w", id, err)
	}
	return requireRow(res)
}

// MarkPageFailed records a terminal failure status and its reason. The
// page's content is left untouched.
func (s *PageStore) MarkPageFailed(ctx context.Context, id string, status source.PageStatus, reason string) error {
	switch status {
	case source.StatusFailed, source.StatusRateLimited, source.StatusTimeout:
	default:
		return fmt.Errorf("%w: %q is not a failure status", ErrInvalidStatus, status)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE pages
		SET status = ?, error = ?, worker_id = '', updated_at = ?
		WHERE id = ?`,
		string(status), reason, s.now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("mark page %s %s: %w", id, status, err)
	}
	return requireRow(res)
}

// ReleasePage returns a claimed page to pending without counting a
// failure, for shutdowns mid-batch.
func (s *PageStore) ReleasePage(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pages
		SET status = 'pending', worker_id = '', claimed_at = NULL,
			attempts = MAX(attempts - 1, 0), updated_at = ?
		WHERE id = ? AND status = 'processing'`,
		s.now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("release page %s: %w", id, err)
	}
	return requireRow(res)
}

// RequeuePage moves one finished page back to pending. A page that is
// already pending or being processed is left alone and false is returned.
func (s *PageStore) RequeuePage(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pages
		SET status = 'pending', worker_id = '', error = '', claimed_at = NULL, updated_at = ?
		WHERE id = ? AND status NOT IN ('pending', 'processing')`,
		s.now().UnixMilli(), id)
	if err != nil {
		return false, fmt.Errorf("requeue page %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	if _, err := s.GetPage(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// ResetPages moves every page in one of statuses back to pending.
func (s *PageStore) ResetPages(ctx context.Context, statuses ...source.PageStatus) (int, error) {
	if len(statuses) == 0 {
		return 0, nil
	}
	placeholders := make([]string, len(statuses))
	args := []any{s.now().UnixMilli()}
	for i, st := range statuses {
		if !st.IsValid() {
			return 0, fmt.Errorf("%w: %q", ErrInvalidStatus, st)
		}
		placeholders[i] = "?"
		args = append(args, string(st))
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE pages
		SET status = 'pending', worker_id = '', error = '', claimed_at = NULL, updated_at = ?
		WHERE status IN (`+strings.Join(placeholders, ", ")+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("reset pages: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Stats counts pages by status.
func (s *PageStore) Stats(ctx context.Context) (PageStats, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM pages GROUP BY status")
	if err != nil {
		return PageStats{}, fmt.Errorf("page stats: %w", err)
	}
	defer rows.Close()

	stats := PageStats{ByStatus: make(map[source.PageStatus]int)}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return PageStats{}, fmt.Errorf("scan page stats: %w", err)
		}
		stats.ByStatus[source.PageStatus(status)] = n
		stats.Total += n
	}
	return stats, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPage(row rowScanner) (*source.Page, error) {
	var p source.Page
	var status string
	var claimedAt sql.NullInt64
	var createdAt, updatedAt int64
	if err := row.Scan(&p.ID, &p.URL, &p.Title, &p.ContentType, &p.Content, &p.Contexted,
		&status, &p.Attempts, &p.WorkerID, &p.Error, &claimedAt, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	p.Status = source.PageStatus(status)
	if claimedAt.Valid {
		t := time.UnixMilli(claimedAt.Int64)
		p.ClaimedAt = &t
	}
	p.CreatedAt = time.UnixMilli(createdAt)
	p.UpdatedAt = time.UnixMilli(updatedAt)
	return &p, nil
}

func collectPages(rows *sql.Rows) ([]*source.Page, error) {
	defer rows.Close()
	var pages []*source.Page
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, err
		}
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
