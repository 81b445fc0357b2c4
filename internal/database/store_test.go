package database_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/edgard/lifetracker/internal/database"
)

const table = "contacts_userbot_leo"

type recordingPublisher struct {
	mu     sync.Mutex
	events []database.ChangeEvent
}

func (p *recordingPublisher) Publish(event database.ChangeEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) Events() []database.ChangeEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]database.ChangeEvent(nil), p.events...)
}

func newTestStore(t *testing.T) (database.Store, *recordingPublisher, *sqlx.DB) {
	t.Helper()
	db, err := database.NewDB(":memory:")
	if err != nil {
		t.Fatalf("NewDB() error = %v", err)
	}
	t.Cleanup(func() { database.CloseDB(db) })
	pub := &recordingPublisher{}
	return database.NewStore(db, nil, database.WithPublisher(pub)), pub, db
}

func strPtr(s string) *string { return &s }

func TestUpsertContacts(t *testing.T) {
	t.Parallel()
	store, pub, _ := newTestStore(t)
	ctx := context.Background()

	first := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	rows := []database.Contact{
		{UserID: 1, FirstName: "Ann", LastName: strPtr("Lee"), IsPinned: true, UpdatedAt: first},
		{UserID: 2, FirstName: "Bob", Username: strPtr("bob"), UnreadCount: 3, UpdatedAt: first},
	}
	if err := store.UpsertContacts(ctx, table, rows); err != nil {
		t.Fatalf("UpsertContacts() error = %v", err)
	}

	count, err := store.CountRows(ctx, table)
	if err != nil || count != 2 {
		t.Fatalf("CountRows() = %d, %v; want 2", count, err)
	}

	events := pub.Events()
	if len(events) != 2 {
		t.Fatalf("published %d events, want 2", len(events))
	}
	for _, e := range events {
		if e.Type != database.EventInsert || e.Old != nil || e.New == nil {
			t.Errorf("event = %+v, want INSERT with new row", e)
		}
	}

	// Keep an analysis on row 1 and make sure a re-import leaves it alone.
	analysis := database.Analysis{Summary: "friendly", Sentiment: database.SentimentPositive}
	history := database.History{Raw: json.RawMessage(`{"messages":[]}`), Analysis: &analysis}
	if _, err := store.UpdateContactAnalysis(ctx, table, 1, history, analysis, first); err != nil {
		t.Fatalf("UpdateContactAnalysis() error = %v", err)
	}

	second := first.Add(time.Hour)
	if err := store.UpsertContacts(ctx, table, []database.Contact{
		{UserID: 1, FirstName: "Anna", IsPinned: false, UpdatedAt: second},
	}); err != nil {
		t.Fatalf("UpsertContacts() second call error = %v", err)
	}

	got, err := store.GetContact(ctx, table, 1)
	if err != nil || got == nil {
		t.Fatalf("GetContact() = %v, %v", got, err)
	}
	if got.FirstName != "Anna" || got.LastName != nil || got.IsPinned {
		t.Errorf("dialog columns not replaced: %+v", got)
	}
	if got.Summary == nil || got.Summary.Summary != "friendly" {
		t.Errorf("summary lost on upsert: %+v", got.Summary)
	}
	if got.History == nil || got.History.Analysis == nil {
		t.Errorf("history lost on upsert: %+v", got.History)
	}
	if !got.UpdatedAt.Equal(second) {
		t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, second)
	}

	events = pub.Events()
	last := events[len(events)-1]
	if last.Type != database.EventUpdate || last.Old == nil || last.Old.FirstName != "Ann" {
		t.Errorf("last event = %+v, want UPDATE with old row", last)
	}
}

func TestUpsertContactsRollsBackOnFailure(t *testing.T) {
	t.Parallel()
	store, pub, db := newTestStore(t)
	ctx := context.Background()

	// Reject one specific row so the batch fails midway.
	if _, err := db.Exec(`
        CREATE TRIGGER reject_user BEFORE INSERT ON contacts_userbot_leo
        WHEN NEW.user_id = 13
        BEGIN SELECT RAISE(ABORT, 'rejected'); END;`); err != nil {
		t.Fatalf("failed to create trigger: %v", err)
	}

	err := store.UpsertContacts(ctx, table, []database.Contact{
		{UserID: 12, FirstName: "Ok", UpdatedAt: time.Now()},
		{UserID: 13, FirstName: "Bad", UpdatedAt: time.Now()},
	})
	if err == nil {
		t.Fatal("UpsertContacts() error = nil, want trigger failure")
	}

	count, err := store.CountRows(ctx, table)
	if err != nil || count != 0 {
		t.Errorf("CountRows() = %d, %v; want 0 after rollback", count, err)
	}
	if n := len(pub.Events()); n != 0 {
		t.Errorf("published %d events for a rolled back batch", n)
	}
}

func TestUpdateContactAnalysisNotFound(t *testing.T) {
	t.Parallel()
	store, pub, _ := newTestStore(t)

	_, err := store.UpdateContactAnalysis(context.Background(), table, 404,
		database.History{Raw: json.RawMessage(`{}`)}, database.Analysis{}, time.Now())
	if !errors.Is(err, database.ErrNotFound) {
		t.Fatalf("UpdateContactAnalysis() error = %v, want ErrNotFound", err)
	}
	if n := len(pub.Events()); n != 0 {
		t.Errorf("published %d events for a missing row", n)
	}
}

// stallingPublisher holds up the first event published after arm so a
// concurrent writer gets the chance to commit in between.
type stallingPublisher struct {
	recordingPublisher
	stall time.Duration
	armed bool
}

func (p *stallingPublisher) arm() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.armed = true
	p.events = nil
}

func (p *stallingPublisher) Publish(event database.ChangeEvent) {
	p.mu.Lock()
	stall := p.armed
	p.armed = false
	p.mu.Unlock()
	if stall {
		time.Sleep(p.stall)
	}
	p.recordingPublisher.Publish(event)
}

func TestConcurrentUpdatesPublishInCommitOrder(t *testing.T) {
	t.Parallel()
	db, err := database.NewDB(":memory:")
	if err != nil {
		t.Fatalf("NewDB() error = %v", err)
	}
	t.Cleanup(func() { database.CloseDB(db) })
	pub := &stallingPublisher{stall: 50 * time.Millisecond}
	store := database.NewStore(db, nil, database.WithPublisher(pub))
	ctx := context.Background()

	if err := store.UpsertContacts(ctx, table, []database.Contact{{UserID: 7, FirstName: "Ann", UpdatedAt: time.Now()}}); err != nil {
		t.Fatalf("UpsertContacts() error = %v", err)
	}
	pub.arm()

	var wg sync.WaitGroup
	for _, summary := range []string{"first", "second"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.UpdateContactAnalysis(ctx, table, 7,
				database.History{Raw: json.RawMessage(`{}`)}, database.Analysis{Summary: summary}, time.Now().UTC())
			if err != nil {
				t.Errorf("UpdateContactAnalysis(%s) error = %v", summary, err)
			}
		}()
	}
	wg.Wait()

	events := pub.Events()
	if len(events) != 2 {
		t.Fatalf("published %d events, want 2", len(events))
	}
	row, err := store.GetContact(ctx, table, 7)
	if err != nil || row == nil || row.Summary == nil {
		t.Fatalf("GetContact() = %+v, %v", row, err)
	}
	if got := events[1].New.Summary.Summary; got != row.Summary.Summary {
		t.Errorf("last event summary = %q, row summary = %q", got, row.Summary.Summary)
	}
	if events[1].Old == nil || events[1].Old.Summary == nil || events[1].Old.Summary.Summary != events[0].New.Summary.Summary {
		t.Errorf("second event old row = %+v, want the first event's new row", events[1].Old)
	}
	if events[1].CommitTime.Before(events[0].CommitTime) {
		t.Errorf("commit times out of order: %v then %v", events[0].CommitTime, events[1].CommitTime)
	}
}

func TestGetContactMissing(t *testing.T) {
	t.Parallel()
	store, _, _ := newTestStore(t)

	got, err := store.GetContact(context.Background(), table, 1)
	if err != nil || got != nil {
		t.Errorf("GetContact() = %v, %v; want nil, nil", got, err)
	}
}

func TestListContacts(t *testing.T) {
	t.Parallel()
	store, _, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := store.UpsertContacts(ctx, table, []database.Contact{
		{UserID: 1, FirstName: "A", LastMessage: strPtr("a"), UpdatedAt: now},
		{UserID: 2, FirstName: "B", LastMessage: strPtr("z"), UpdatedAt: now},
		{UserID: 3, FirstName: "C", LastMessage: strPtr("m"), IsPinned: true, UpdatedAt: now},
	}); err != nil {
		t.Fatalf("UpsertContacts() error = %v", err)
	}
	analysis := database.Analysis{Summary: "s"}
	if _, err := store.UpdateContactAnalysis(ctx, table, 1,
		database.History{Raw: json.RawMessage(`{}`), Analysis: &analysis}, analysis, now); err != nil {
		t.Fatalf("UpdateContactAnalysis() error = %v", err)
	}

	tests := []struct {
		name string
		opts database.ListOptions
		want []int64
	}{
		{"all pinned first", database.ListOptions{}, []int64{3, 2, 1}},
		{"limit", database.ListOptions{Limit: 2}, []int64{3, 2}},
		{"offset", database.ListOptions{Limit: 2, Offset: 2}, []int64{1}},
		{"analyzed only", database.ListOptions{AnalyzedOnly: true}, []int64{1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			contacts, err := store.ListContacts(ctx, table, tt.opts)
			if err != nil {
				t.Fatalf("ListContacts() error = %v", err)
			}
			if len(contacts) != len(tt.want) {
				t.Fatalf("ListContacts() returned %d rows, want %d", len(contacts), len(tt.want))
			}
			for i, c := range contacts {
				if c.UserID != tt.want[i] {
					t.Errorf("row %d user_id = %d, want %d", i, c.UserID, tt.want[i])
				}
			}
		})
	}
}

func TestTablesAndIdentifiers(t *testing.T) {
	t.Parallel()
	store, _, _ := newTestStore(t)
	ctx := context.Background()

	if err := store.EnsureContactsTable(ctx, "contacts_other"); err != nil {
		t.Fatalf("EnsureContactsTable() error = %v", err)
	}
	tables, err := store.ListTables(ctx)
	if err != nil {
		t.Fatalf("ListTables() error = %v", err)
	}
	want := []string{"contacts_other", "contacts_userbot_leo"}
	if len(tables) != len(want) {
		t.Fatalf("ListTables() = %v, want %v", tables, want)
	}
	for i := range want {
		if tables[i] != want[i] {
			t.Errorf("ListTables()[%d] = %q, want %q", i, tables[i], want[i])
		}
	}

	if _, err := store.CountRows(ctx, `x"; DROP TABLE contacts_userbot_leo; --`); !errors.Is(err, database.ErrInvalidTable) {
		t.Errorf("CountRows() error = %v, want ErrInvalidTable", err)
	}
	if err := store.RunSQLMaintenance(ctx); err != nil {
		t.Errorf("RunSQLMaintenance() error = %v", err)
	}
}
