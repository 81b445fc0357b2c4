package contacts

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/edgard/lifetracker/internal/analysis"
	"github.com/edgard/lifetracker/internal/database"
)

// DefaultAnalyzeTimeout bounds one analysis run.
const DefaultAnalyzeTimeout = 2 * time.Minute

// State is a step of an analysis run.
type State string

// Analysis run states. Done and Failed are terminal.
const (
	StateIdle            State = "idle"
	StateFetchingHistory State = "fetching_history"
	StateAnalyzing       State = "analyzing"
	StatePersisting      State = "persisting"
	StateDone            State = "done"
	StateFailed          State = "failed"
)

// Policy decides what a concurrent Analyze call for the same contact does.
type Policy string

const (
	// PolicyShare makes concurrent callers wait for and share the running result.
	PolicyShare Policy = "share"
	// PolicyReject makes concurrent callers fail with *ConflictError.
	PolicyReject Policy = "reject"
)

// HistoryFetcher fetches the raw history payload of a chat.
type HistoryFetcher interface {
	FetchHistory(ctx context.Context, chatID int64) (json.RawMessage, error)
}

// ContactRepository is the part of database.Store the analyzer needs.
type ContactRepository interface {
	GetContact(ctx context.Context, table string, userID int64) (*database.Contact, error)
	UpdateContactAnalysis(ctx context.Context, table string, userID int64, history database.History, summary database.Analysis, updatedAt time.Time) (*database.Contact, error)
}

// Observer is told about every state transition of a run.
// err is set only for StateFailed.
type Observer interface {
	OnStateChange(ctx context.Context, contactID int64, state State, err error)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, contactID int64, state State, err error)

// OnStateChange implements Observer.
func (f ObserverFunc) OnStateChange(ctx context.Context, contactID int64, state State, err error) {
	f(ctx, contactID, state, err)
}

// Analyzer runs fetch, analyze and persist for one contact at a time per id.
type Analyzer struct {
	history  HistoryFetcher
	service  analysis.Service
	store    ContactRepository
	table    string
	timeout  time.Duration
	policy   Policy
	observer Observer
	now      func() time.Time
	log      *slog.Logger

	group    singleflight.Group
	mu       sync.Mutex
	inflight map[int64]struct{}
	calls    sync.WaitGroup
}

// AnalyzerOption configures an Analyzer.
type AnalyzerOption func(*Analyzer)

// WithTimeout bounds each run. Runs are detached from caller cancellation.
func WithTimeout(d time.Duration) AnalyzerOption {
	return func(a *Analyzer) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithPolicy sets the concurrency policy.
func WithPolicy(p Policy) AnalyzerOption {
	return func(a *Analyzer) {
		if p == PolicyShare || p == PolicyReject {
			a.policy = p
		}
	}
}

// WithObserver registers an observer for state transitions.
func WithObserver(o Observer) AnalyzerOption {
	return func(a *Analyzer) {
		a.observer = o
	}
}

// WithAnalyzeClock sets the clock used for updated_at.
func WithAnalyzeClock(now func() time.Time) AnalyzerOption {
	return func(a *Analyzer) {
		a.now = now
	}
}

// NewAnalyzer creates an Analyzer for contacts in table.
func NewAnalyzer(history HistoryFetcher, service analysis.Service, store ContactRepository, table string, log *slog.Logger, opts ...AnalyzerOption) *Analyzer {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	a := &Analyzer{
		history:  history,
		service:  service,
		store:    store,
		table:    table,
		timeout:  DefaultAnalyzeTimeout,
		policy:   PolicyShare,
		now:      time.Now,
		log:      log.With("component", "analyzer"),
		inflight: make(map[int64]struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze produces and persists a fresh analysis for contactID and returns
// the contact with its new history, summary and updated_at.
//
// The run is detached from ctx: if ctx ends first Analyze returns ctx.Err()
// while the run continues, bounded by the analyzer timeout, and its result
// is still persisted.
func (a *Analyzer) Analyze(ctx context.Context, contactID int64) (*database.Contact, error) {
	if a.policy == PolicyReject {
		a.mu.Lock()
		if _, busy := a.inflight[contactID]; busy {
			a.mu.Unlock()
			a.log.InfoContext(ctx, "Rejecting concurrent analysis", "user_id", contactID)
			return nil, &ConflictError{ContactID: contactID}
		}
		a.inflight[contactID] = struct{}{}
		a.mu.Unlock()
	}

	runCtx := context.WithoutCancel(ctx)
	key := strconv.FormatInt(contactID, 10)
	a.calls.Add(1)
	ch := a.group.DoChan(key, func() (any, error) {
		if a.policy == PolicyReject {
			defer func() {
				// Forget first so a caller admitted after this point starts a new run.
				a.group.Forget(key)
				a.mu.Lock()
				delete(a.inflight, contactID)
				a.mu.Unlock()
			}()
		}
		return a.run(runCtx, contactID)
	})

	select {
	case <-ctx.Done():
		a.log.WarnContext(ctx, "Caller abandoned analysis, run continues", "user_id", contactID, "error", ctx.Err())
		go func() {
			<-ch
			a.calls.Done()
		}()
		return nil, ctx.Err()
	case res := <-ch:
		a.calls.Done()
		if res.Err != nil {
			return nil, res.Err
		}
		contact := *res.Val.(*database.Contact)
		return &contact, nil
	}
}

// Wait blocks until every run started by a returned Analyze call has
// finished, including runs whose callers gave up. Call it before closing
// the store the analyzer writes to.
func (a *Analyzer) Wait() {
	a.calls.Wait()
}

func (a *Analyzer) run(ctx context.Context, contactID int64) (*database.Contact, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	startTime := time.Now()
	log := a.log.With("user_id", contactID, "table", a.table)
	a.transition(ctx, contactID, StateIdle, nil)

	pre, err := a.store.GetContact(ctx, a.table, contactID)
	if err != nil {
		return nil, a.fail(ctx, contactID, &PersistError{ContactID: contactID, Err: err})
	}
	if pre == nil {
		return nil, a.fail(ctx, contactID, &PersistError{ContactID: contactID, Err: ErrContactNotFound})
	}

	a.transition(ctx, contactID, StateFetchingHistory, nil)
	raw, err := a.history.FetchHistory(ctx, contactID)
	if err != nil {
		return nil, a.fail(ctx, contactID, &HistoryFetchError{ContactID: contactID, Err: err})
	}
	messages, err := database.DecodeMessages(raw)
	if err != nil {
		return nil, a.fail(ctx, contactID, &HistoryFetchError{ContactID: contactID, Err: err})
	}
	log.DebugContext(ctx, "History fetched", "messages", len(messages), "bytes", len(raw))

	a.transition(ctx, contactID, StateAnalyzing, nil)
	result, err := a.service.Analyze(ctx, raw)
	if err != nil {
		return nil, a.fail(ctx, contactID, &AnalysisError{ContactID: contactID, Err: err})
	}
	if result == nil {
		return nil, a.fail(ctx, contactID, &AnalysisError{ContactID: contactID, Err: analysis.ErrEmptyResponse})
	}

	a.transition(ctx, contactID, StatePersisting, nil)
	history := database.History{Raw: raw, Analysis: result}
	updatedAt := a.now().UTC()
	if _, err := a.store.UpdateContactAnalysis(ctx, a.table, contactID, history, *result, updatedAt); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			err = ErrContactNotFound
		}
		return nil, a.fail(ctx, contactID, &PersistError{ContactID: contactID, Err: err})
	}

	contact := *pre
	contact.History = &history
	contact.Summary = result
	contact.UpdatedAt = updatedAt

	a.transition(ctx, contactID, StateDone, nil)
	log.InfoContext(ctx, "Contact analyzed",
		"messages", len(messages),
		"sentiment", result.Sentiment,
		"duration_ms", time.Since(startTime).Milliseconds())
	return &contact, nil
}

func (a *Analyzer) fail(ctx context.Context, contactID int64, err error) error {
	a.log.ErrorContext(ctx, "Contact analysis failed", "user_id", contactID, "error", err)
	a.transition(ctx, contactID, StateFailed, err)
	return err
}

func (a *Analyzer) transition(ctx context.Context, contactID int64, state State, err error) {
	a.log.DebugContext(ctx, "Analysis state changed", "user_id", contactID, "state", state)
	if a.observer != nil {
		a.observer.OnStateChange(ctx, contactID, state, err)
	}
}
