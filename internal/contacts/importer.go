// Package contacts implements the contact import and analysis pipelines.
package contacts

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/edgard/lifetracker/internal/database"
)

// DefaultBatchSize is the number of rows written per upsert call.
const DefaultBatchSize = 100

// ContactWriter is the part of database.Store the importer needs.
type ContactWriter interface {
	UpsertContacts(ctx context.Context, table string, rows []database.Contact) error
}

// BatchResult is the outcome of one upsert call.
type BatchResult struct {
	Index int
	Size  int
	Err   error
}

// ImportResult summarizes an import. Unique is the number of distinct
// chat ids submitted; Committed counts rows in committed batches.
type ImportResult struct {
	Unique    int
	Batches   []BatchResult
	Committed int
}

// Importer deduplicates dialogs and upserts them in batches.
type Importer struct {
	store     ContactWriter
	batchSize int
	now       func() time.Time
	log       *slog.Logger
}

// ImporterOption configures an Importer.
type ImporterOption func(*Importer)

// WithBatchSize overrides DefaultBatchSize.
func WithBatchSize(n int) ImporterOption {
	return func(i *Importer) {
		if n > 0 {
			i.batchSize = n
		}
	}
}

// WithImportClock sets the clock used for updated_at.
func WithImportClock(now func() time.Time) ImporterOption {
	return func(i *Importer) {
		i.now = now
	}
}

// NewImporter creates an Importer writing through store.
func NewImporter(store ContactWriter, log *slog.Logger, opts ...ImporterOption) *Importer {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	i := &Importer{
		store:     store,
		batchSize: DefaultBatchSize,
		now:       time.Now,
		log:       log.With("component", "importer"),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Import writes dialogs into table. Batches run sequentially and the import
// stops at the first failed batch, returning *ImportBatchError together
// with the partial result. Earlier batches stay committed.
func (i *Importer) Import(ctx context.Context, dialogs []database.Dialog, table string) (*ImportResult, error) {
	startTime := time.Now()
	unique := Dedupe(dialogs)
	result := &ImportResult{Unique: len(unique)}

	i.log.InfoContext(ctx, "Starting contact import",
		"table", table, "dialogs", len(dialogs), "unique", len(unique), "batch_size", i.batchSize)

	for start, index := 0, 0; start < len(unique); start, index = start+i.batchSize, index+1 {
		if err := ctx.Err(); err != nil {
			return result, &ImportBatchError{
				BatchIndex:       index,
				CommittedBatches: index,
				CommittedRows:    result.Committed,
				Err:              err,
			}
		}

		end := min(start+i.batchSize, len(unique))
		batch := unique[start:end]

		now := i.now().UTC()
		rows := make([]database.Contact, len(batch))
		for j, d := range batch {
			rows[j] = ContactFromDialog(d, now)
		}

		err := i.store.UpsertContacts(ctx, table, rows)
		result.Batches = append(result.Batches, BatchResult{Index: index, Size: len(rows), Err: err})
		if err != nil {
			i.log.ErrorContext(ctx, "Import batch failed",
				"table", table, "batch_index", index, "batch_size", len(rows), "error", err)
			return result, &ImportBatchError{
				BatchIndex:       index,
				CommittedBatches: index,
				CommittedRows:    result.Committed,
				Err:              err,
			}
		}
		result.Committed += len(rows)
		i.log.DebugContext(ctx, "Import batch committed", "table", table, "batch_index", index, "batch_size", len(rows))
	}

	i.log.InfoContext(ctx, "Contact import finished",
		"table", table,
		"unique", result.Unique,
		"batches", len(result.Batches),
		"duration_ms", time.Since(startTime).Milliseconds())
	return result, nil
}

// Dedupe collapses dialogs sharing a chat_id. The last occurrence wins and
// takes the position of the first occurrence.
func Dedupe(dialogs []database.Dialog) []database.Dialog {
	positions := make(map[int64]int, len(dialogs))
	unique := make([]database.Dialog, 0, len(dialogs))
	for _, d := range dialogs {
		if pos, ok := positions[d.ChatID]; ok {
			unique[pos] = d
			continue
		}
		positions[d.ChatID] = len(unique)
		unique = append(unique, d)
	}
	return unique
}

// SplitName returns the first whitespace separated token of name and the
// remaining tokens joined by a single space, or nil when there are none.
func SplitName(name string) (string, *string) {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return "", nil
	}
	if len(fields) == 1 {
		return fields[0], nil
	}
	rest := strings.Join(fields[1:], " ")
	return fields[0], &rest
}

// ContactFromDialog maps a dialog to the contact row written by the importer.
func ContactFromDialog(d database.Dialog, updatedAt time.Time) database.Contact {
	first, last := SplitName(d.Name)
	return database.Contact{
		UserID:      d.ChatID,
		FirstName:   first,
		LastName:    last,
		Username:    d.Username,
		LastMessage: d.LastMessage,
		IsPinned:    d.IsPinned,
		UnreadCount: d.UnreadCount,
		UpdatedAt:   updatedAt,
	}
}
