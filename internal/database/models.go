package database

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Dialog is one entry of the dialog list returned by the bot API.
// It is read-only input to the importer.
type Dialog struct {
	ChatID              int64   `json:"chat_id"`
	Name                string  `json:"name"`
	Username            *string `json:"username"`
	LastMessage         *string `json:"last_message"`
	UnreadCount         int     `json:"unread_count"`
	UnreadMentionsCount int     `json:"unread_mentions_count"`
	IsUnread            bool    `json:"is_unread"`
	IsPinned            bool    `json:"is_pinned"`
}

// Contact is a row of a contacts relation. UserID is the natural key.
// History and Summary are nil until the contact is analyzed.
type Contact struct {
	ID          int64     `db:"id"           json:"id"`
	UserID      int64     `db:"user_id"      json:"user_id"`
	FirstName   string    `db:"first_name"   json:"first_name"`
	LastName    *string   `db:"last_name"    json:"last_name"`
	Username    *string   `db:"username"     json:"username"`
	LastMessage *string   `db:"last_message" json:"last_message"`
	IsPinned    bool      `db:"is_pinned"    json:"is_pinned"`
	UnreadCount int       `db:"unread_count" json:"unread_count"`
	History     *History  `db:"history"      json:"history"`
	Summary     *Analysis `db:"summary"      json:"summary"`
	UpdatedAt   time.Time `db:"updated_at"   json:"updated_at"`
}

// Analyzed reports whether the contact carries an analysis.
func (c *Contact) Analyzed() bool {
	return c.Summary != nil || (c.History != nil && c.History.Analysis != nil)
}

// DisplayName joins first and last name.
func (c *Contact) DisplayName() string {
	if c.LastName == nil || *c.LastName == "" {
		return c.FirstName
	}
	return c.FirstName + " " + *c.LastName
}

// History is the stored history blob: the fetched payload kept verbatim
// next to the analysis derived from it.
type History struct {
	Raw      json.RawMessage `json:"raw"`
	Analysis *Analysis       `json:"analysis"`
}

// Messages decodes raw.messages. A payload without a messages key yields nil.
func (h *History) Messages() ([]Message, error) {
	if h == nil {
		return nil, nil
	}
	return DecodeMessages(h.Raw)
}

// Value implements driver.Valuer; the blob is stored as JSON text.
func (h History) Value() (driver.Value, error) {
	return jsonValue(h)
}

// Scan implements sql.Scanner.
func (h *History) Scan(src any) error {
	return jsonScan(src, h)
}

// Message is one element of history.raw.messages, in the order fetched.
type Message struct {
	Text     string    `json:"text"`
	Date     Timestamp `json:"date"`
	FromUser bool      `json:"from_user"`
}

// Timestamp accepts the date encodings seen from the history endpoint:
// RFC 3339, ISO 8601 without a zone, "YYYY-MM-DD HH:MM:SS", and unix seconds.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	if len(data) > 0 && data[0] != '"' {
		secs, err := strconv.ParseFloat(string(data), 64)
		if err != nil {
			return fmt.Errorf("invalid timestamp %s: %w", data, err)
		}
		whole := int64(secs)
		t.Time = time.Unix(whole, int64((secs-float64(whole))*1e9)).UTC()
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("invalid timestamp %q", s)
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Format(time.RFC3339Nano))
}

// ErrMalformedHistory is returned when a history payload does not have
// the expected shape.
var ErrMalformedHistory = errors.New("malformed history payload")

// DecodeMessages validates a raw history payload and returns its messages.
// The payload must be a JSON object; when it has a messages key the value
// must be an array of Message.
func DecodeMessages(raw json.RawMessage) ([]Message, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil || envelope == nil {
		return nil, fmt.Errorf("%w: expected a JSON object", ErrMalformedHistory)
	}
	msgs, ok := envelope["messages"]
	if !ok || bytes.Equal(bytes.TrimSpace(msgs), []byte("null")) {
		return nil, nil
	}
	var messages []Message
	if err := json.Unmarshal(msgs, &messages); err != nil {
		return nil, fmt.Errorf("%w: messages: %v", ErrMalformedHistory, err)
	}
	return messages, nil
}

// Sentiment values an analysis may report.
const (
	SentimentPositive = "positive"
	SentimentNeutral  = "neutral"
	SentimentNegative = "negative"
)

// Analysis is the structured result of analyzing a message history.
// Every leaf is optional; an absent leaf means "not reported". Lists keep
// the difference between absent (nil) and reported empty ([]).
type Analysis struct {
	Summary              string                `json:"summary,omitempty"`
	Topics               []string              `json:"topics"`
	Sentiment            string                `json:"sentiment,omitempty" validate:"omitempty,oneof=positive neutral negative"`
	ActionItems          []string              `json:"actionItems"`
	Participants         *Participants         `json:"participants,omitempty"`
	Context              *AnalysisContext      `json:"context,omitempty"`
	PsychologicalAspects *PsychologicalAspects `json:"psychologicalAspects,omitempty"`
	BusinessAnalysis     *BusinessAnalysis     `json:"businessAnalysis,omitempty"`
	Conclusions          *Conclusions          `json:"conclusions,omitempty"`
}

// Participants describes who takes part in the conversation.
type Participants struct {
	Roles              []string `json:"roles"`
	Interests          []string `json:"interests"`
	CommunicationStyle []string `json:"communicationStyle"`
}

// AnalysisContext describes what the conversation is about.
type AnalysisContext struct {
	Type         string   `json:"type,omitempty"`
	MainGoal     string   `json:"mainGoal,omitempty"`
	Technologies []string `json:"technologies"`
}

// PsychologicalAspects holds the values, motivations and mood read from the history.
type PsychologicalAspects struct {
	Values      []string `json:"values"`
	Motivations []string `json:"motivations"`
	Mood        string   `json:"mood,omitempty"`
}

// BusinessAnalysis holds strengths, risks and recommendations.
type BusinessAnalysis struct {
	Strengths       []string `json:"strengths"`
	Risks           []string `json:"risks"`
	Recommendations []string `json:"recommendations"`
}

// Conclusions holds what was achieved, what is pending and the next steps.
type Conclusions struct {
	Achieved  []string `json:"achieved"`
	Pending   []string `json:"pending"`
	NextSteps []string `json:"nextSteps"`
}

// Value implements driver.Valuer.
func (a Analysis) Value() (driver.Value, error) {
	return jsonValue(a)
}

// Scan implements sql.Scanner.
func (a *Analysis) Scan(src any) error {
	return jsonScan(src, a)
}

// EventType is the kind of row mutation carried by a ChangeEvent.
type EventType string

// Row mutation kinds.
const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// ChangeEvent describes one committed mutation of a contacts row.
type ChangeEvent struct {
	Table      string    `json:"table"`
	Type       EventType `json:"eventType"`
	New        *Contact  `json:"new"`
	Old        *Contact  `json:"old"`
	CommitTime time.Time `json:"commit_timestamp"`
}

// UserID returns the user id of the affected row.
func (e ChangeEvent) UserID() int64 {
	if e.New != nil {
		return e.New.UserID
	}
	if e.Old != nil {
		return e.Old.UserID
	}
	return 0
}

// ListOptions controls ListContacts. Contacts are ordered pinned first,
// then by last message descending.
type ListOptions struct {
	AnalyzedOnly bool
	Limit        int
	Offset       int
}

func jsonValue(v any) (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode json column: %w", err)
	}
	return string(b), nil
}

func jsonScan(src any, dst any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported json column type %T", src)
	}
	if strings.TrimSpace(string(data)) == "" {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to decode json column: %w", err)
	}
	return nil
}
