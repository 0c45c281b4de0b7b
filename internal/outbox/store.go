// Package outbox manages the SQLite database holding leads captured offline
// and not yet confirmed by the server.
//
// Only this package may open or query the database. All other packages
// receive a [*Store] and call its methods. An item's presence in the store is
// its pending-ness: successful delivery removes the row, no history is kept.
package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/skylarkcrm/fieldsync/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS outbox_items (
    id              TEXT    PRIMARY KEY,
    client_lead_id  TEXT    NOT NULL,
    form_id         TEXT    NOT NULL,
    captured_by     TEXT    NOT NULL DEFAULT '',
    values_json     TEXT    NOT NULL DEFAULT '{}',
    created_at      TEXT    NOT NULL DEFAULT '',
    tries           INTEGER NOT NULL DEFAULT 0,
    status          TEXT    NOT NULL DEFAULT 'queued',
    last_attempt_at TEXT    NOT NULL DEFAULT '',
    last_success_at TEXT    NOT NULL DEFAULT '',
    error_code      TEXT    NOT NULL DEFAULT '',
    error_message   TEXT    NOT NULL DEFAULT '',
    error_at        TEXT    NOT NULL DEFAULT '',
    position        INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS outbox_attachments (
    id            TEXT    PRIMARY KEY,
    item_id       TEXT    NOT NULL REFERENCES outbox_items(id) ON DELETE CASCADE,
    local_uri     TEXT    NOT NULL,
    filename      TEXT    NOT NULL DEFAULT '',
    mime_type     TEXT    NOT NULL DEFAULT '',
    kind          TEXT    NOT NULL DEFAULT 'IMAGE',
    status        TEXT    NOT NULL DEFAULT 'pending',
    tries         INTEGER NOT NULL DEFAULT 0,
    error_code    TEXT    NOT NULL DEFAULT '',
    error_message TEXT    NOT NULL DEFAULT '',
    error_at      TEXT    NOT NULL DEFAULT '',
    ord           INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_outbox_position    ON outbox_items (position);
CREATE INDEX IF NOT EXISTS idx_attachment_item_id ON outbox_attachments (item_id);
`

// Store is the SQLite-backed outbox repository.
type Store struct {
	db *sql.DB
}

// DefaultDBPath returns the default path for the outbox database:
// ~/.local/share/fieldsync/outbox.db
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "fieldsync", "outbox.db"), nil
}

// Open opens (or creates) the SQLite database at path, applies the schema,
// and configures WAL mode. A database file that cannot be opened or migrated
// is moved aside and replaced with a fresh empty one — captured leads in it
// are beyond recovery at that point and the engine prefers staying available
// for new captures over refusing to start.
//
// Items left in the syncing state by a crashed process are returned to
// queued so the next run retries them.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating outbox directory: %w", err)
	}

	db, err := open(path)
	if err != nil {
		// Corrupt or unreadable file: move it aside and start empty.
		aside := fmt.Sprintf("%s.corrupt-%d", path, time.Now().Unix())
		if renameErr := os.Rename(path, aside); renameErr != nil {
			return nil, fmt.Errorf("opening outbox database %q: %w", path, err)
		}
		db, err = open(path)
		if err != nil {
			return nil, fmt.Errorf("recreating outbox database %q: %w", path, err)
		}
	}

	s := &Store{db: db}
	if err := s.recoverInterrupted(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	// Single writer to avoid SQLITE_BUSY under WAL.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// recoverInterrupted returns items stranded mid-attempt by a crash to the
// queued state. The syncing status is runtime evidence, never a resting state.
func (s *Store) recoverInterrupted() error {
	_, err := s.db.Exec(
		`UPDATE outbox_items SET status = ? WHERE status = ?`,
		model.StatusQueued, model.StatusSyncing,
	)
	if err != nil {
		return fmt.Errorf("recovering interrupted items: %w", err)
	}
	return nil
}

// Load returns all queued items, newest capture first. Malformed per-item
// payloads are defaulted rather than rejected so that records persisted by
// older builds remain loadable.
func (s *Store) Load(ctx context.Context) ([]*model.OutboxItem, error) {
	const q = `
		SELECT id, client_lead_id, form_id, captured_by, values_json,
		       created_at, tries, status, last_attempt_at, last_success_at,
		       error_code, error_message, error_at
		FROM outbox_items ORDER BY position ASC`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("querying outbox items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []*model.OutboxItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, item := range items {
		if err := s.loadAttachments(ctx, item); err != nil {
			return nil, err
		}
		item.Normalize()
	}
	return items, nil
}

// Get returns the item with the given ID, or (nil, nil) if no such item
// exists.
func (s *Store) Get(ctx context.Context, id string) (*model.OutboxItem, error) {
	const q = `
		SELECT id, client_lead_id, form_id, captured_by, values_json,
		       created_at, tries, status, last_attempt_at, last_success_at,
		       error_code, error_message, error_at
		FROM outbox_items WHERE id = ?`
	item, err := scanItem(s.db.QueryRowContext(ctx, q, id))
	if err != nil || item == nil {
		return item, err
	}
	if err := s.loadAttachments(ctx, item); err != nil {
		return nil, err
	}
	item.Normalize()
	return item, nil
}

// Save atomically replaces the entire collection with the given items, kept
// in slice order.
func (s *Store) Save(ctx context.Context, items []*model.OutboxItem) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning save transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM outbox_attachments`); err != nil {
		return fmt.Errorf("clearing attachments: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM outbox_items`); err != nil {
		return fmt.Errorf("clearing items: %w", err)
	}
	for pos, item := range items {
		if err := insertItem(ctx, tx, item, pos); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Enqueue prepends the item (newest first) and persists it with its
// attachments.
func (s *Store) Enqueue(ctx context.Context, item *model.OutboxItem) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning enqueue transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var pos int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MIN(position), 1) - 1 FROM outbox_items`).Scan(&pos)
	if err != nil {
		return fmt.Errorf("computing enqueue position: %w", err)
	}

	if err := insertItem(ctx, tx, item, pos); err != nil {
		return err
	}
	return tx.Commit()
}

// Patch is a partial update applied to a single item. Nil fields are left
// untouched. SetError and ClearError are mutually exclusive; Tries and the
// error fields travel together in every runner-issued patch so that failure
// accounting is atomic.
type Patch struct {
	Status        *model.ItemStatus
	Tries         *int
	LastAttemptAt *time.Time
	LastSuccessAt *time.Time
	SetError      *model.SyncError
	ClearError    bool

	// Attachments, when non-nil, replaces the item's attachment list
	// wholesale. Attachment state is small and owned by one writer, so
	// record-level last-writer-wins is sufficient.
	Attachments []model.PendingAttachment
}

// Update merge-patches the item with the given ID. Updating an item that no
// longer exists (delivered or deleted concurrently) is a no-op, not an error.
func (s *Store) Update(ctx context.Context, id string, p Patch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning update transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const q = `
		SELECT id, client_lead_id, form_id, captured_by, values_json,
		       created_at, tries, status, last_attempt_at, last_success_at,
		       error_code, error_message, error_at
		FROM outbox_items WHERE id = ?`
	item, err := scanItem(tx.QueryRowContext(ctx, q, id))
	if err != nil {
		return err
	}
	if item == nil {
		return nil
	}

	if p.Status != nil {
		item.Status = *p.Status
	}
	if p.Tries != nil {
		item.Tries = *p.Tries
	}
	if p.LastAttemptAt != nil {
		item.LastAttemptAt = p.LastAttemptAt
	}
	if p.LastSuccessAt != nil {
		item.LastSuccessAt = p.LastSuccessAt
	}
	if p.SetError != nil {
		item.LastError = p.SetError
	} else if p.ClearError {
		item.LastError = nil
	}

	if err := writeItemFields(ctx, tx, item); err != nil {
		return err
	}

	if p.Attachments != nil {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM outbox_attachments WHERE item_id = ?`, id); err != nil {
			return fmt.Errorf("replacing attachments for %s: %w", id, err)
		}
		for ord, a := range p.Attachments {
			if err := insertAttachment(ctx, tx, id, a, ord); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

// Remove deletes the item and its attachment rows. Removing an absent item
// is a no-op.
func (s *Store) Remove(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM outbox_items WHERE id = ?`, id); err != nil {
		return fmt.Errorf("removing item %s: %w", id, err)
	}
	return nil
}

// Clear deletes every item in the outbox.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM outbox_items`); err != nil {
		return fmt.Errorf("clearing outbox: %w", err)
	}
	return nil
}

// ResetTries clears the item's tries and last error together and returns it
// to the queued state. Values and attachments are untouched.
func (s *Store) ResetTries(ctx context.Context, id string) error {
	const q = `
		UPDATE outbox_items
		SET tries = 0, status = ?, error_code = '', error_message = '', error_at = ''
		WHERE id = ?`
	if _, err := s.db.ExecContext(ctx, q, model.StatusQueued, id); err != nil {
		return fmt.Errorf("resetting tries for %s: %w", id, err)
	}
	return nil
}

// ResetAllTries applies [Store.ResetTries] semantics to every item.
func (s *Store) ResetAllTries(ctx context.Context) error {
	const q = `
		UPDATE outbox_items
		SET tries = 0, status = ?, error_code = '', error_message = '', error_at = ''`
	if _, err := s.db.ExecContext(ctx, q, model.StatusQueued); err != nil {
		return fmt.Errorf("resetting tries: %w", err)
	}
	return nil
}

// Len returns the number of queued items.
func (s *Store) Len(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox_items`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting outbox items: %w", err)
	}
	return count, nil
}

// --- row plumbing ------------------------------------------------------------

// execer matches both *sql.Tx and *sql.DB for the insert helpers.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertItem(ctx context.Context, tx execer, item *model.OutboxItem, pos int) error {
	values, err := json.Marshal(item.Values)
	if err != nil {
		// Opaque capture values that cannot round-trip JSON are persisted
		// as empty rather than losing the whole item.
		values = []byte("{}")
	}

	code, msg, at := flattenError(item.LastError)
	const q = `
		INSERT INTO outbox_items
		    (id, client_lead_id, form_id, captured_by, values_json, created_at,
		     tries, status, last_attempt_at, last_success_at,
		     error_code, error_message, error_at, position)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = tx.ExecContext(ctx, q,
		item.ID,
		item.ClientLeadID,
		item.FormID,
		item.CapturedByDeviceID,
		string(values),
		formatTime(item.CreatedAt),
		item.Tries,
		string(item.Status),
		formatTimePtr(item.LastAttemptAt),
		formatTimePtr(item.LastSuccessAt),
		code, msg, at,
		pos,
	)
	if err != nil {
		return fmt.Errorf("inserting item %s: %w", item.ID, err)
	}

	for ord, a := range item.Attachments {
		if err := insertAttachment(ctx, tx, item.ID, a, ord); err != nil {
			return err
		}
	}
	return nil
}

func insertAttachment(ctx context.Context, tx execer, itemID string, a model.PendingAttachment, ord int) error {
	code, msg, at := flattenError(a.LastError)
	const q = `
		INSERT INTO outbox_attachments
		    (id, item_id, local_uri, filename, mime_type, kind, status,
		     tries, error_code, error_message, error_at, ord)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := tx.ExecContext(ctx, q,
		a.ID, itemID, a.LocalURI, a.Filename, a.MimeType,
		string(a.Kind), string(a.Status),
		a.Tries, code, msg, at, ord,
	)
	if err != nil {
		return fmt.Errorf("inserting attachment %s: %w", a.ID, err)
	}
	return nil
}

// writeItemFields persists the mutable item columns after a merge-patch.
func writeItemFields(ctx context.Context, tx execer, item *model.OutboxItem) error {
	code, msg, at := flattenError(item.LastError)
	const q = `
		UPDATE outbox_items
		SET tries = ?, status = ?, last_attempt_at = ?, last_success_at = ?,
		    error_code = ?, error_message = ?, error_at = ?
		WHERE id = ?`
	_, err := tx.ExecContext(ctx, q,
		item.Tries,
		string(item.Status),
		formatTimePtr(item.LastAttemptAt),
		formatTimePtr(item.LastSuccessAt),
		code, msg, at,
		item.ID,
	)
	if err != nil {
		return fmt.Errorf("updating item %s: %w", item.ID, err)
	}
	return nil
}

func (s *Store) loadAttachments(ctx context.Context, item *model.OutboxItem) error {
	const q = `
		SELECT id, local_uri, filename, mime_type, kind, status,
		       tries, error_code, error_message, error_at
		FROM outbox_attachments WHERE item_id = ? ORDER BY ord ASC`
	rows, err := s.db.QueryContext(ctx, q, item.ID)
	if err != nil {
		return fmt.Errorf("querying attachments for %s: %w", item.ID, err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var a model.PendingAttachment
		var kind, status, code, msg, at string
		err := rows.Scan(&a.ID, &a.LocalURI, &a.Filename, &a.MimeType,
			&kind, &status, &a.Tries, &code, &msg, &at)
		if err != nil {
			return fmt.Errorf("scanning attachment row: %w", err)
		}
		a.Kind = model.AttachmentKind(kind)
		a.Status = model.AttachmentStatus(status)
		a.LastError = unflattenError(code, msg, at)
		item.Attachments = append(item.Attachments, a)
	}
	return rows.Err()
}

// scanner matches both *sql.Row and *sql.Rows so scanItem can be reused.
type scanner interface {
	Scan(dest ...any) error
}

func scanItem(s scanner) (*model.OutboxItem, error) {
	var item model.OutboxItem
	var values, createdAt, status, lastAttempt, lastSuccess string
	var code, msg, at string

	err := s.Scan(
		&item.ID,
		&item.ClientLeadID,
		&item.FormID,
		&item.CapturedByDeviceID,
		&values,
		&createdAt,
		&item.Tries,
		&status,
		&lastAttempt,
		&lastSuccess,
		&code, &msg, &at,
	)
	if err == sql.ErrNoRows {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	if err != nil {
		return nil, fmt.Errorf("scanning item row: %w", err)
	}

	// A values payload that does not parse is treated as empty, not fatal.
	if err := json.Unmarshal([]byte(values), &item.Values); err != nil {
		item.Values = map[string]any{}
	}

	item.Status = model.ItemStatus(status)
	item.CreatedAt, _ = parseTime(createdAt)
	item.LastAttemptAt = parseTimePtr(lastAttempt)
	item.LastSuccessAt = parseTimePtr(lastSuccess)
	item.LastError = unflattenError(code, msg, at)

	return &item, nil
}

func flattenError(e *model.SyncError) (code, msg, at string) {
	if e == nil {
		return "", "", ""
	}
	return e.Code, e.Message, formatTime(e.At)
}

func unflattenError(code, msg, at string) *model.SyncError {
	if msg == "" && code == "" {
		return nil
	}
	t, _ := parseTime(at)
	return &model.SyncError{Code: code, Message: msg, At: t}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

func parseTimePtr(s string) *time.Time {
	t, err := parseTime(s)
	if err != nil || t.IsZero() {
		return nil
	}
	return &t
}
