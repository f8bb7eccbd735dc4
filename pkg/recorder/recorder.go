// Package recorder stores conversation transcripts and rendered components in
// SQLite.
package recorder

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-go-golems/codeact/pkg/codeact"
	"github.com/go-go-golems/codeact/pkg/conversation"
	"github.com/go-go-golems/codeact/pkg/markdown"
	"github.com/iancoleman/strcase"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

const (
	conversationsTable = "conversations"
	turnsTable         = "turns"
	componentsTable    = "components"
)

// Summary is one row of the conversations table.
type Summary struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	State       string `json:"state"`
	TurnCount   int    `json:"turn_count"`
	MaxTurns    int    `json:"max_turns"`
	FinalAnswer string `json:"final_answer,omitempty"`
	CreatedAtMs int64  `json:"created_at_ms"`
	UpdatedAtMs int64  `json:"updated_at_ms"`
}

type TurnRow struct {
	TurnID         string   `json:"turn_id"`
	TurnIndex      int      `json:"turn_index"`
	Action         string   `json:"action,omitempty"`
	Thought        string   `json:"thought,omitempty"`
	Code           string   `json:"code,omitempty"`
	FinalAnswer    string   `json:"final_answer,omitempty"`
	Corrections    []string `json:"corrections,omitempty"`
	Recovered      bool     `json:"recovered,omitempty"`
	Forced         bool     `json:"forced,omitempty"`
	PreviewSuccess *bool    `json:"preview_success,omitempty"`
	PreviewError   string   `json:"preview_error,omitempty"`
	Feedback       string   `json:"feedback,omitempty"`
	Diff           string   `json:"diff,omitempty"`
	Error          string   `json:"error,omitempty"`
	InputTokens    int      `json:"input_tokens,omitempty"`
	OutputTokens   int      `json:"output_tokens,omitempty"`
	StartedAtMs    int64    `json:"started_at_ms"`
	FinishedAtMs   int64    `json:"finished_at_ms,omitempty"`
}

// Transcript is a stored conversation with its messages and turns.
type Transcript struct {
	Summary
	Messages conversation.Conversation `json:"messages"`
	Turns    []TurnRow                 `json:"turns"`
}

// Component is a rendered snippet kept for later inspection.
type Component struct {
	ExecutionID    string `json:"execution_id"`
	Name           string `json:"name"`
	FileName       string `json:"file_name"`
	Code           string `json:"code"`
	Success        bool   `json:"success"`
	Error          string `json:"error,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	TurnID         string `json:"turn_id,omitempty"`
	CreatedAtMs    int64  `json:"created_at_ms"`
}

// Query filters List. An empty query returns the most recent conversations.
type Query struct {
	State string
	Limit int
}

type Recorder struct {
	db *sql.DB
	// sqlite allows one writer
	mu sync.Mutex
}

var _ codeact.Recorder = (*Recorder)(nil)

// Open opens or creates the database at path. ":memory:" keeps everything in
// memory.
func Open(path string) (*Recorder, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("recorder: db path is empty")
	}
	if path != ":memory:" {
		if err := ensureParentDir(path); err != nil {
			return nil, errors.Wrap(err, "recorder: could not create parent directory")
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "recorder: could not open database")
	}
	db.SetMaxOpenConns(1)
	if err := ensureTables(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Recorder{db: db}, nil
}

func (r *Recorder) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// Record replaces the stored state of the conversation with the snapshot.
func (r *Recorder) Record(ctx context.Context, s codeact.Snapshot) error {
	messagesJSON, err := marshalJSONString(s.Messages)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "recorder: could not begin transaction")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx, `
INSERT OR REPLACE INTO conversations (
  id,
  title,
  state,
  turn_count,
  max_turns,
  final_answer,
  messages_json,
  version,
  created_at_ms,
  updated_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID,
		s.Title,
		string(s.State),
		s.TurnCount,
		s.MaxTurns,
		nullableString(finalAnswer(s)),
		messagesJSON,
		s.Version,
		s.CreatedAt.UnixMilli(),
		s.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return errors.Wrap(err, "recorder: could not store conversation")
	}

	if err := insertTurns(ctx, tx, s); err != nil {
		return err
	}
	for _, c := range turnComponents(s) {
		if err := insertComponent(ctx, tx, c); err != nil {
			return err
		}
	}
	return errors.Wrap(tx.Commit(), "recorder: could not commit")
}

func insertTurns(ctx context.Context, tx *sql.Tx, s codeact.Snapshot) error {
	if len(s.Turns) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
INSERT OR REPLACE INTO turns (
  conversation_id,
  turn_id,
  turn_index,
  action,
  thought,
  code,
  final_answer,
  corrections_json,
  recovered,
  forced,
  preview_success,
  preview_error,
  feedback,
  diff,
  error,
  input_tokens,
  output_tokens,
  started_at_ms,
  finished_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.Wrap(err, "recorder: could not prepare turn insert")
	}
	defer func() {
		_ = stmt.Close()
	}()

	for _, t := range s.Turns {
		row := turnRow(t)
		correctionsJSON, err := marshalJSONString(row.Corrections)
		if err != nil {
			return err
		}
		var previewSuccess any
		if row.PreviewSuccess != nil {
			previewSuccess = boolToInt(*row.PreviewSuccess)
		}
		if _, err := stmt.ExecContext(ctx,
			s.ID,
			row.TurnID,
			row.TurnIndex,
			nullableString(row.Action),
			nullableString(row.Thought),
			nullableString(row.Code),
			nullableString(row.FinalAnswer),
			correctionsJSON,
			boolToInt(row.Recovered),
			boolToInt(row.Forced),
			previewSuccess,
			nullableString(truncateString(row.PreviewError, 4000)),
			nullableString(row.Feedback),
			nullableString(row.Diff),
			nullableString(truncateString(row.Error, 4000)),
			nullableInt(row.InputTokens),
			nullableInt(row.OutputTokens),
			row.StartedAtMs,
			nullableInt64(row.FinishedAtMs),
		); err != nil {
			return errors.Wrapf(err, "recorder: could not store turn %s", row.TurnID)
		}
	}
	return nil
}

func turnRow(t codeact.Turn) TurnRow {
	row := TurnRow{
		TurnID:      t.ID,
		TurnIndex:   t.Index,
		Corrections: t.Corrections,
		Recovered:   t.Recovered,
		Forced:      t.Forced,
		Feedback:    t.Feedback,
		Diff:        t.Diff,
		Error:       t.Error,
		StartedAtMs: t.StartedAt.UnixMilli(),
	}
	if t.Envelope != nil {
		row.Action = string(t.Envelope.Action)
		row.Thought = t.Envelope.Thought
		row.Code = t.Envelope.Code
		row.FinalAnswer = t.Envelope.FinalAnswer
	}
	if t.Preview != nil {
		ok := t.Preview.Success
		row.PreviewSuccess = &ok
		row.PreviewError = t.Preview.Error
	}
	if t.FinishedAt != nil {
		row.FinishedAtMs = t.FinishedAt.UnixMilli()
	}
	row.InputTokens = intFromMetadata(t.Metadata, "input_tokens")
	row.OutputTokens = intFromMetadata(t.Metadata, "output_tokens")
	return row
}

// turnComponents archives the code of every turn that has been rendered.
func turnComponents(s codeact.Snapshot) []Component {
	var ret []Component
	for _, t := range s.Turns {
		if t.Envelope == nil || !t.Envelope.HasCode() || t.Preview == nil {
			continue
		}
		name := ""
		if t.Preview.Resolution != nil {
			name = t.Preview.Resolution.Component
		}
		c := NewComponent(t.ID, name, t.Envelope.Code, t.Preview.Success, t.Preview.Error)
		c.ConversationID = s.ID
		c.TurnID = t.ID
		if t.FinishedAt != nil {
			c.CreatedAtMs = t.FinishedAt.UnixMilli()
		}
		ret = append(ret, c)
	}
	return ret
}

// NewComponent names the archive file after the component, or after the
// execution id when the component is anonymous.
func NewComponent(executionID, name, code string, success bool, errString string) Component {
	base := strcase.ToKebab(name)
	if base == "" || name == "self-rendered" {
		base = "component-" + executionID
	}
	return Component{
		ExecutionID: executionID,
		Name:        name,
		FileName:    base + ".jsx",
		Code:        code,
		Success:     success,
		Error:       errString,
		CreatedAtMs: time.Now().UnixMilli(),
	}
}

// ArchiveComponent stores a component rendered outside of a conversation.
func (r *Recorder) ArchiveComponent(ctx context.Context, c Component) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "recorder: could not begin transaction")
	}
	defer func() {
		_ = tx.Rollback()
	}()
	if err := insertComponent(ctx, tx, c); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(), "recorder: could not commit")
}

func insertComponent(ctx context.Context, tx *sql.Tx, c Component) error {
	_, err := tx.ExecContext(ctx, `
INSERT OR REPLACE INTO components (
  execution_id,
  name,
  file_name,
  code,
  success,
  error,
  conversation_id,
  turn_id,
  created_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ExecutionID,
		nullableString(c.Name),
		c.FileName,
		c.Code,
		boolToInt(c.Success),
		nullableString(truncateString(c.Error, 4000)),
		nullableString(c.ConversationID),
		nullableString(c.TurnID),
		c.CreatedAtMs,
	)
	return errors.Wrapf(err, "recorder: could not store component %s", c.ExecutionID)
}

// List returns stored conversations, most recently updated first.
func (r *Recorder) List(ctx context.Context, q Query) ([]Summary, error) {
	query := `SELECT id, title, state, turn_count, max_turns, final_answer, created_at_ms, updated_at_ms FROM conversations`
	var args []any
	if q.State != "" {
		query += ` WHERE state = ?`
		args = append(args, q.State)
	}
	query += ` ORDER BY updated_at_ms DESC`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "recorder: could not list conversations")
	}
	defer func() {
		_ = rows.Close()
	}()

	var ret []Summary
	for rows.Next() {
		var s Summary
		var answer sql.NullString
		if err := rows.Scan(&s.ID, &s.Title, &s.State, &s.TurnCount, &s.MaxTurns, &answer, &s.CreatedAtMs, &s.UpdatedAtMs); err != nil {
			return nil, errors.Wrap(err, "recorder: could not read conversation")
		}
		s.FinalAnswer = answer.String
		ret = append(ret, s)
	}
	return ret, rows.Err()
}

// Load returns the stored transcript of a conversation, or sql.ErrNoRows.
func (r *Recorder) Load(ctx context.Context, id string) (*Transcript, error) {
	var t Transcript
	var answer sql.NullString
	var messagesJSON string
	err := r.db.QueryRowContext(ctx, `
SELECT id, title, state, turn_count, max_turns, final_answer, messages_json, created_at_ms, updated_at_ms
FROM conversations WHERE id = ?`, id).Scan(
		&t.ID, &t.Title, &t.State, &t.TurnCount, &t.MaxTurns, &answer, &messagesJSON, &t.CreatedAtMs, &t.UpdatedAtMs,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "recorder: could not load conversation %s", id)
	}
	t.FinalAnswer = answer.String
	if err := json.Unmarshal([]byte(messagesJSON), &t.Messages); err != nil {
		return nil, errors.Wrap(err, "recorder: could not decode messages")
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT turn_id, turn_index, action, thought, code, final_answer, corrections_json, recovered, forced,
  preview_success, preview_error, feedback, diff, error, input_tokens, output_tokens, started_at_ms, finished_at_ms
FROM turns WHERE conversation_id = ? ORDER BY turn_index, started_at_ms`, id)
	if err != nil {
		return nil, errors.Wrap(err, "recorder: could not load turns")
	}
	defer func() {
		_ = rows.Close()
	}()

	for rows.Next() {
		var row TurnRow
		var action, thought, code, finalAnswer, previewError, feedback, diff, errString sql.NullString
		var correctionsJSON string
		var recovered, forced int
		var previewSuccess, inputTokens, outputTokens, finishedAt sql.NullInt64
		if err := rows.Scan(
			&row.TurnID, &row.TurnIndex, &action, &thought, &code, &finalAnswer, &correctionsJSON, &recovered, &forced,
			&previewSuccess, &previewError, &feedback, &diff, &errString, &inputTokens, &outputTokens, &row.StartedAtMs, &finishedAt,
		); err != nil {
			return nil, errors.Wrap(err, "recorder: could not read turn")
		}
		row.Action = action.String
		row.Thought = thought.String
		row.Code = code.String
		row.FinalAnswer = finalAnswer.String
		row.PreviewError = previewError.String
		row.Feedback = feedback.String
		row.Diff = diff.String
		row.Error = errString.String
		row.Recovered = recovered != 0
		row.Forced = forced != 0
		row.InputTokens = int(inputTokens.Int64)
		row.OutputTokens = int(outputTokens.Int64)
		row.FinishedAtMs = finishedAt.Int64
		if previewSuccess.Valid {
			ok := previewSuccess.Int64 != 0
			row.PreviewSuccess = &ok
		}
		if err := json.Unmarshal([]byte(correctionsJSON), &row.Corrections); err != nil {
			return nil, errors.Wrap(err, "recorder: could not decode corrections")
		}
		t.Turns = append(t.Turns, row)
	}
	return &t, rows.Err()
}

// Components returns archived components, newest first.
func (r *Recorder) Components(ctx context.Context, limit int) ([]Component, error) {
	query := `SELECT execution_id, name, file_name, code, success, error, conversation_id, turn_id, created_at_ms
FROM components ORDER BY created_at_ms DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "recorder: could not list components")
	}
	defer func() {
		_ = rows.Close()
	}()

	var ret []Component
	for rows.Next() {
		var c Component
		var name, errString, conversationID, turnID sql.NullString
		var success int
		if err := rows.Scan(&c.ExecutionID, &name, &c.FileName, &c.Code, &success, &errString, &conversationID, &turnID, &c.CreatedAtMs); err != nil {
			return nil, errors.Wrap(err, "recorder: could not read component")
		}
		c.Name = name.String
		c.Error = errString.String
		c.ConversationID = conversationID.String
		c.TurnID = turnID.String
		c.Success = success != 0
		ret = append(ret, c)
	}
	return ret, rows.Err()
}

func finalAnswer(s codeact.Snapshot) string {
	for i := len(s.Turns) - 1; i >= 0; i-- {
		if e := s.Turns[i].Envelope; e != nil && e.Action.IsTerminal() && e.FinalAnswer != "" {
			return markdown.Summary(e.FinalAnswer, 500)
		}
	}
	return ""
}

func ensureTables(db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS ` + conversationsTable + ` (
  id TEXT PRIMARY KEY,
  title TEXT NOT NULL,
  state TEXT NOT NULL,
  turn_count INTEGER NOT NULL,
  max_turns INTEGER NOT NULL,
  final_answer TEXT,
  messages_json TEXT NOT NULL,
  version INTEGER NOT NULL DEFAULT 0,
  created_at_ms INTEGER NOT NULL,
  updated_at_ms INTEGER NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS ` + turnsTable + ` (
  conversation_id TEXT NOT NULL,
  turn_id TEXT NOT NULL,
  turn_index INTEGER NOT NULL,
  action TEXT,
  thought TEXT,
  code TEXT,
  final_answer TEXT,
  corrections_json TEXT NOT NULL,
  recovered INTEGER NOT NULL DEFAULT 0,
  forced INTEGER NOT NULL DEFAULT 0,
  preview_success INTEGER,
  preview_error TEXT,
  feedback TEXT,
  diff TEXT,
  error TEXT,
  input_tokens INTEGER,
  output_tokens INTEGER,
  started_at_ms INTEGER NOT NULL,
  finished_at_ms INTEGER,
  PRIMARY KEY (conversation_id, turn_id)
)`,
		`CREATE TABLE IF NOT EXISTS ` + componentsTable + ` (
  execution_id TEXT PRIMARY KEY,
  name TEXT,
  file_name TEXT NOT NULL,
  code TEXT NOT NULL,
  success INTEGER NOT NULL,
  error TEXT,
  conversation_id TEXT,
  turn_id TEXT,
  created_at_ms INTEGER NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_updated_at ON conversations (updated_at_ms DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_turns_conversation ON turns (conversation_id, turn_index)`,
		`CREATE INDEX IF NOT EXISTS idx_components_created_at ON components (created_at_ms DESC)`,
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return errors.Wrap(err, "recorder: could not create tables")
		}
	}
	return nil
}

func ensureParentDir(path string) error {
	parent := filepath.Dir(path)
	if parent == "" || parent == "." {
		return nil
	}
	return os.MkdirAll(parent, 0o755)
}

func marshalJSONString(v any) (string, error) {
	if v == nil {
		return "null", nil
	}
	blob, err := json.Marshal(v)
	if err != nil {
		return "", errors.Wrap(err, "recorder: could not encode value")
	}
	return string(blob), nil
}

func intFromMetadata(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func nullableString(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

func nullableInt(v int) any {
	if v == 0 {
		return nil
	}
	return v
}

func nullableInt64(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func truncateString(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
