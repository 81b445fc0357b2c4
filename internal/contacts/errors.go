package contacts

import (
	"errors"
	"fmt"
)

// ErrContactNotFound is wrapped by PersistError when the contact row is missing.
var ErrContactNotFound = errors.New("contact not found")

// HistoryFetchError reports a failed or malformed history fetch.
// The contact row is left unmodified.
type HistoryFetchError struct {
	ContactID int64
	Err       error
}

func (e *HistoryFetchError) Error() string {
	return fmt.Sprintf("failed to fetch history for contact %d: %v", e.ContactID, e.Err)
}

func (e *HistoryFetchError) Unwrap() error { return e.Err }

// AnalysisError reports a failed or unusable analysis call.
// The contact row is left unmodified.
type AnalysisError struct {
	ContactID int64
	Err       error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("failed to analyze history for contact %d: %v", e.ContactID, e.Err)
}

func (e *AnalysisError) Unwrap() error { return e.Err }

// PersistError reports a failed store read or write for a contact.
// A failed write leaves the row unmodified.
type PersistError struct {
	ContactID int64
	Err       error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("failed to persist analysis for contact %d: %v", e.ContactID, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

// NotFound reports whether the contact row does not exist.
func (e *PersistError) NotFound() bool {
	return errors.Is(e.Err, ErrContactNotFound)
}

// ImportBatchError reports the first failed import batch. Batches before
// BatchIndex are committed; the failed batch and all later ones are not.
type ImportBatchError struct {
	BatchIndex       int
	CommittedBatches int
	CommittedRows    int
	Err              error
}

func (e *ImportBatchError) Error() string {
	return fmt.Sprintf("import batch %d failed after %d committed batches (%d rows): %v",
		e.BatchIndex, e.CommittedBatches, e.CommittedRows, e.Err)
}

func (e *ImportBatchError) Unwrap() error { return e.Err }

// ConflictError is returned under the reject policy when an analysis for
// the same contact is already running.
type ConflictError struct {
	ContactID int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("analysis already in progress for contact %d", e.ContactID)
}
