package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
)

var (
	// ErrNotFound is returned when a mutation targets a contact that does not exist.
	ErrNotFound = errors.New("contact not found")
	// ErrInvalidTable is returned for relation names that are not plain identifiers.
	ErrInvalidTable = errors.New("invalid table name")
)

// Store defines the contact store operations.
// Methods accept context.Context for cancellation and timeouts.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// ListTables returns the user relations in the database.
	ListTables(ctx context.Context) ([]string, error)

	// CountRows returns the number of rows in table.
	CountRows(ctx context.Context, table string) (int64, error)

	// EnsureContactsTable creates a contacts relation named table if it is missing.
	EnsureContactsTable(ctx context.Context, table string) error

	// GetContact retrieves a contact by user ID. Returns nil, nil if not found.
	GetContact(ctx context.Context, table string, userID int64) (*Contact, error)

	// ListContacts retrieves contacts, pinned first.
	ListContacts(ctx context.Context, table string, opts ListOptions) ([]Contact, error)

	// UpsertContacts writes rows in one transaction using user_id as the
	// conflict key. Only the dialog-derived columns and updated_at are
	// written; history and summary of existing rows are kept.
	UpsertContacts(ctx context.Context, table string, rows []Contact) error

	// UpdateContactAnalysis sets history, summary and updated_at of one
	// contact in a single statement and returns the updated row.
	// Returns ErrNotFound when no row matches userID.
	UpdateContactAnalysis(ctx context.Context, table string, userID int64, history History, summary Analysis, updatedAt time.Time) (*Contact, error)

	// RunSQLMaintenance performs database maintenance tasks like VACUUM.
	RunSQLMaintenance(ctx context.Context) error
}

// Publisher receives committed change events.
type Publisher interface {
	Publish(event ChangeEvent)
}

// StoreOption configures a Store.
type StoreOption func(*sqlxStore)

// WithPublisher makes the store publish a ChangeEvent for every committed row mutation.
func WithPublisher(p Publisher) StoreOption {
	return func(s *sqlxStore) {
		s.publisher = p
	}
}

// sqlxStore implements Store on top of sqlx.
type sqlxStore struct {
	db        *sqlx.DB
	logger    *slog.Logger
	publisher Publisher

	// commitMu is held from Commit until the commit's events are
	// published, so events for one row are delivered in commit order.
	commitMu sync.Mutex
}

// NewStore creates a Store backed by sqlx.
func NewStore(db *sqlx.DB, logger *slog.Logger, opts ...StoreOption) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// quoteTable validates a relation name and returns it quoted for SQLite.
func quoteTable(table string) (string, error) {
	if !identifierRe.MatchString(table) {
		return "", fmt.Errorf("%w: %q", ErrInvalidTable, table)
	}
	return `"` + table + `"`, nil
}

const contactColumns = `id, user_id, first_name, last_name, username, last_message, is_pinned, unread_count, history, summary, updated_at`

// Ping checks the database connection.
func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ListTables returns user relations, excluding SQLite internals and the migration ledger.
func (s *sqlxStore) ListTables(ctx context.Context) ([]string, error) {
	var tables []string
	query := `
        SELECT name FROM sqlite_master
        WHERE type = 'table' AND name NOT LIKE 'sqlite_%' AND name != 'schema_migrations'
        ORDER BY name;
    `
	if err := s.db.SelectContext(ctx, &tables, query); err != nil {
		s.logger.ErrorContext(ctx, "Error listing tables", "error", err)
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	return tables, nil
}

// CountRows returns the number of rows in table.
func (s *sqlxStore) CountRows(ctx context.Context, table string) (int64, error) {
	quoted, err := quoteTable(table)
	if err != nil {
		return 0, err
	}
	var count int64
	if err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM `+quoted); err != nil {
		return 0, fmt.Errorf("failed to count rows in %s: %w", table, err)
	}
	return count, nil
}

// EnsureContactsTable creates the contacts relation table with the same
// layout the migrations create for the default relation.
func (s *sqlxStore) EnsureContactsTable(ctx context.Context, table string) error {
	quoted, err := quoteTable(table)
	if err != nil {
		return err
	}
	ddl := `
        CREATE TABLE IF NOT EXISTS ` + quoted + ` (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            user_id INTEGER NOT NULL UNIQUE,
            first_name TEXT NOT NULL DEFAULT '',
            last_name TEXT,
            username TEXT,
            last_message TEXT,
            is_pinned BOOLEAN NOT NULL DEFAULT 0,
            unread_count INTEGER NOT NULL DEFAULT 0,
            history TEXT,
            summary TEXT,
            updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
        );
    `
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		s.logger.ErrorContext(ctx, "Error creating contacts table", "table", table, "error", err)
		return fmt.Errorf("failed to create table %s: %w", table, err)
	}
	return nil
}

// GetContact retrieves a contact by user ID. Returns nil, nil if not found.
func (s *sqlxStore) GetContact(ctx context.Context, table string, userID int64) (*Contact, error) {
	quoted, err := quoteTable(table)
	if err != nil {
		return nil, err
	}

	var contact Contact
	query := `SELECT ` + contactColumns + ` FROM ` + quoted + ` WHERE user_id = ?;`
	err = s.db.GetContext(ctx, &contact, query, userID)
	if errors.Is(err, sql.ErrNoRows) {
		s.logger.DebugContext(ctx, "Contact not found", "table", table, "user_id", userID)
		return nil, nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.logger.WarnContext(ctx, "Context timeout or cancellation while fetching contact",
			"user_id", userID, "error", err)
		return nil, err
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "Error getting contact", "table", table, "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to get contact %d: %w", userID, err)
	}
	return &contact, nil
}

// ListContacts retrieves contacts ordered pinned first, then by last message.
func (s *sqlxStore) ListContacts(ctx context.Context, table string, opts ListOptions) ([]Contact, error) {
	quoted, err := quoteTable(table)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + contactColumns + ` FROM ` + quoted
	if opts.AnalyzedOnly {
		query += ` WHERE summary IS NOT NULL OR json_extract(history, '$.analysis') IS NOT NULL`
	}
	query += ` ORDER BY is_pinned DESC, last_message DESC, user_id ASC`

	var args []any
	if opts.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, opts.Limit, max(opts.Offset, 0))
	}

	contacts := []Contact{}
	if err := s.db.SelectContext(ctx, &contacts, query, args...); err != nil {
		s.logger.ErrorContext(ctx, "Error listing contacts", "table", table, "error", err)
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	return contacts, nil
}

// UpsertContacts writes all rows in one transaction. A failure on any row
// rolls back the whole call. Change events are published after commit.
func (s *sqlxStore) UpsertContacts(ctx context.Context, table string, rows []Contact) error {
	if len(rows) == 0 {
		return nil
	}
	quoted, err := quoteTable(table)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to begin transaction for upsert", "table", table, "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
				s.logger.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
			}
		}
	}()

	upsert, err := tx.PrepareNamedContext(ctx, `
        INSERT INTO `+quoted+` (user_id, first_name, last_name, username, last_message, is_pinned, unread_count, updated_at)
        VALUES (:user_id, :first_name, :last_name, :username, :last_message, :is_pinned, :unread_count, :updated_at)
        ON CONFLICT(user_id) DO UPDATE SET
            first_name = excluded.first_name,
            last_name = excluded.last_name,
            username = excluded.username,
            last_message = excluded.last_message,
            is_pinned = excluded.is_pinned,
            unread_count = excluded.unread_count,
            updated_at = excluded.updated_at;
    `)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert into %s: %w", table, err)
	}
	defer upsert.Close()

	selectQuery := `SELECT ` + contactColumns + ` FROM ` + quoted + ` WHERE user_id = ?;`
	events := make([]ChangeEvent, 0, len(rows))
	for i := range rows {
		row := &rows[i]

		var old *Contact
		var existing Contact
		switch err := tx.GetContext(ctx, &existing, selectQuery, row.UserID); {
		case err == nil:
			old = &existing
		case errors.Is(err, sql.ErrNoRows):
		default:
			return fmt.Errorf("failed to read contact %d: %w", row.UserID, err)
		}

		if _, err := upsert.ExecContext(ctx, row); err != nil {
			s.logger.ErrorContext(ctx, "Error upserting contact", "table", table, "user_id", row.UserID, "error", err)
			return fmt.Errorf("failed to upsert contact %d: %w", row.UserID, err)
		}

		var written Contact
		if err := tx.GetContext(ctx, &written, selectQuery, row.UserID); err != nil {
			return fmt.Errorf("failed to read back contact %d: %w", row.UserID, err)
		}

		eventType := EventInsert
		if old != nil {
			eventType = EventUpdate
		}
		events = append(events, ChangeEvent{Table: table, Type: eventType, New: &written, Old: old})
	}

	if err := s.commitAndPublish(tx, events...); err != nil {
		s.logger.ErrorContext(ctx, "Failed to commit upsert", "table", table, "rows", len(rows), "error", err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	tx = nil

	s.logger.DebugContext(ctx, "Contacts upserted", "table", table, "rows", len(rows))
	return nil
}

// UpdateContactAnalysis writes history, summary and updated_at in one UPDATE
// statement. The old and new rows are read in the same transaction so the
// published event reflects exactly this write.
func (s *sqlxStore) UpdateContactAnalysis(ctx context.Context, table string, userID int64, history History, summary Analysis, updatedAt time.Time) (*Contact, error) {
	quoted, err := quoteTable(table)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to begin transaction for analysis update", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
				s.logger.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
			}
		}
	}()

	selectQuery := `SELECT ` + contactColumns + ` FROM ` + quoted + ` WHERE user_id = ?;`

	var old Contact
	if err := tx.GetContext(ctx, &old, selectQuery, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read contact %d: %w", userID, err)
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE `+quoted+` SET history = ?, summary = ?, updated_at = ? WHERE user_id = ?;`,
		history, summary, updatedAt, userID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error updating contact analysis", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to update contact %d: %w", userID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return nil, ErrNotFound
	}

	var updated Contact
	if err := tx.GetContext(ctx, &updated, selectQuery, userID); err != nil {
		return nil, fmt.Errorf("failed to read back contact %d: %w", userID, err)
	}

	event := ChangeEvent{Table: table, Type: EventUpdate, New: &updated, Old: &old}
	if err := s.commitAndPublish(tx, event); err != nil {
		s.logger.ErrorContext(ctx, "Failed to commit analysis update", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	tx = nil

	s.logger.DebugContext(ctx, "Contact analysis updated", "table", table, "user_id", userID)
	return &updated, nil
}

// RunSQLMaintenance executes VACUUM and ANALYZE on the database.
func (s *sqlxStore) RunSQLMaintenance(ctx context.Context) error {
	if ctx.Err() != nil {
		s.logger.WarnContext(ctx, "Context cancelled or timed out before starting VACUUM", "error", ctx.Err())
		return ctx.Err()
	}

	startTime := time.Now()
	s.logger.InfoContext(ctx, "Starting database maintenance (VACUUM)")

	if _, err := s.db.ExecContext(ctx, "VACUUM;"); err != nil {
		s.logger.ErrorContext(ctx, "Error running VACUUM", "error", err)
		return fmt.Errorf("failed to run VACUUM: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "ANALYZE;"); err != nil {
		s.logger.WarnContext(ctx, "Error running ANALYZE", "error", err)
	}

	s.logger.InfoContext(ctx, "Database maintenance completed", "duration", time.Since(startTime))
	return nil
}

// commitAndPublish commits tx and publishes events stamped with the commit
// time. No other commit can happen until the events are published.
func (s *sqlxStore) commitAndPublish(tx *sqlx.Tx, events ...ChangeEvent) error {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	if err := tx.Commit(); err != nil {
		return err
	}
	commitTime := time.Now().UTC()
	for _, event := range events {
		event.CommitTime = commitTime
		s.publish(event)
	}
	return nil
}

func (s *sqlxStore) publish(event ChangeEvent) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(event)
}
