package handlers

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/edgard/lifetracker/internal/config"
	"github.com/edgard/lifetracker/internal/contacts"
	"github.com/edgard/lifetracker/internal/database"
	"github.com/edgard/lifetracker/internal/logger"
)

type fakeAnalyzer struct {
	contact *database.Contact
	err     error
}

func (f fakeAnalyzer) Analyze(context.Context, int64) (*database.Contact, error) {
	return f.contact, f.err
}

func newDeps(t *testing.T, analyzer ContactAnalyzer) HandlerDeps {
	t.Helper()
	db, err := database.NewDB(":memory:")
	if err != nil {
		t.Fatalf("NewDB() error = %v", err)
	}
	t.Cleanup(func() { database.CloseDB(db) })

	cfg := &config.Config{}
	cfg.Contacts.Table = config.DefaultContactsTable
	cfg.Telegram.AdminUserID = 1

	return HandlerDeps{
		Logger:   logger.Discard(),
		Config:   cfg,
		Store:    database.NewStore(db, nil),
		Analyzer: analyzer,
	}
}

func seed(t *testing.T, deps HandlerDeps, rows ...database.Contact) {
	t.Helper()
	if err := deps.Store.UpsertContacts(context.Background(), deps.table(), rows); err != nil {
		t.Fatalf("UpsertContacts() error = %v", err)
	}
}

func strPtr(s string) *string { return &s }

func TestCommandArgID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text    string
		want    int64
		wantErr bool
	}{
		{"/contact 42", 42, false},
		{"/analyze   -100123 extra", -100123, false},
		{"/contact", 0, true},
		{"/contact abc", 0, true},
	}
	for _, tt := range tests {
		got, err := commandArgID(tt.text)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("commandArgID(%q) = %d, %v; want %d, err=%v", tt.text, got, err, tt.want, tt.wantErr)
		}
	}
}

func TestContactReply(t *testing.T) {
	t.Parallel()
	deps := newDeps(t, nil)
	seed(t, deps, database.Contact{UserID: 7, FirstName: "Ann", LastName: strPtr("Lee"), Username: strPtr("ann"), UpdatedAt: time.Now()})

	h := contactHandler{deps}
	ctx := context.Background()

	if got := h.reply(ctx, "/contact 7"); !strings.Contains(got, "Ann Lee (id 7)") || !strings.Contains(got, "@ann") || !strings.Contains(got, "Not analyzed yet") {
		t.Errorf("reply = %q", got)
	}
	if got := h.reply(ctx, "/contact 8"); got != msgNotFound {
		t.Errorf("missing reply = %q", got)
	}
	if got := h.reply(ctx, "/contact"); got != msgUsageContact {
		t.Errorf("usage reply = %q", got)
	}
}

func TestContactsReply(t *testing.T) {
	t.Parallel()
	deps := newDeps(t, nil)
	h := contactsHandler{deps}

	if got := h.reply(context.Background()); got != msgNoContacts {
		t.Errorf("empty reply = %q", got)
	}

	seed(t, deps,
		database.Contact{UserID: 1, FirstName: "Ann", UpdatedAt: time.Now()},
		database.Contact{UserID: 2, FirstName: "Bob", IsPinned: true, UnreadCount: 3, UpdatedAt: time.Now()},
	)
	got := h.reply(context.Background())
	lines := strings.Split(got, "\n")
	if len(lines) != 2 || lines[0] != "2: Bob [pinned, 3 unread]" || lines[1] != "1: Ann" {
		t.Errorf("reply = %q", got)
	}
}

func TestAnalyzeReply(t *testing.T) {
	t.Parallel()

	analyzed := &database.Contact{UserID: 3, FirstName: "Cat", Summary: &database.Analysis{
		Summary:     "planning a trip",
		Sentiment:   database.SentimentPositive,
		Topics:      []string{"travel"},
		ActionItems: []string{"book tickets"},
	}}

	tests := []struct {
		name string
		fake fakeAnalyzer
		want string
	}{
		{"ok", fakeAnalyzer{contact: analyzed}, "Summary: planning a trip"},
		{"busy", fakeAnalyzer{err: &contacts.ConflictError{ContactID: 3}}, msgAnalyzeBusy},
		{"not found", fakeAnalyzer{err: &contacts.PersistError{ContactID: 3, Err: contacts.ErrContactNotFound}}, msgNotFound},
		{"history", fakeAnalyzer{err: &contacts.HistoryFetchError{ContactID: 3, Err: errors.New("502")}}, msgHistoryFailed},
		{"analysis", fakeAnalyzer{err: &contacts.AnalysisError{ContactID: 3, Err: errors.New("500")}}, msgAnalysisFailed},
		{"timeout", fakeAnalyzer{err: context.DeadlineExceeded}, msgAnalyzeTimeout},
		{"other", fakeAnalyzer{err: &contacts.PersistError{ContactID: 3, Err: errors.New("disk")}}, msgGeneralError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := analyzeHandler{HandlerDeps{Logger: logger.Discard(), Analyzer: tt.fake}}
			if got := h.reply(context.Background(), 3); !strings.Contains(got, tt.want) {
				t.Errorf("reply = %q, want it to contain %q", got, tt.want)
			}
		})
	}
}

func TestFormatAnalysis(t *testing.T) {
	t.Parallel()

	got := FormatAnalysis(&database.Analysis{
		Summary:     "s",
		Topics:      []string{"a", "b"},
		Conclusions: &database.Conclusions{NextSteps: []string{"call back"}},
	})
	want := "Summary: s\nTopics:\n- a\n- b\nNext steps:\n- call back\n"
	if got != want {
		t.Errorf("FormatAnalysis() = %q, want %q", got, want)
	}
}

func TestRegisterAllCommands(t *testing.T) {
	t.Parallel()
	deps := newDeps(t, nil)
	cmds := RegisterAllCommands(deps)

	for _, name := range []string{"/start", "/help", "/contacts", "/contact", "/analyze"} {
		h, ok := cmds[name]
		if !ok || h.Handler == nil {
			t.Errorf("command %s not registered", name)
			continue
		}
		admin := len(h.Middleware) > 0
		if wantAdmin := name != "/start" && name != "/help"; admin != wantAdmin {
			t.Errorf("%s admin-only = %v, want %v", name, admin, wantAdmin)
		}
	}
}
