// Package sqlstore implements chat.Store on SQLite or PostgreSQL through sqlx.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/kandev/acpchat/internal/chat"
	"github.com/kandev/acpchat/internal/db"
)

// Store persists chat messages and attachments.
type Store struct {
	pool      *db.Pool
	triggers  *chat.Triggers
	listeners []chat.Listener
}

var _ chat.Store = (*Store)(nil)

// New creates the store and its tables.
func New(pool *db.Pool, triggers *chat.Triggers, listeners ...chat.Listener) (*Store, error) {
	if triggers == nil {
		triggers = chat.NewTriggers()
	}
	s := &Store{pool: pool, triggers: triggers, listeners: listeners}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize chat schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	seq := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if db.IsPostgres(s.pool.Driver()) {
		seq = "BIGSERIAL PRIMARY KEY"
	}
	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS chat_messages (
		seq %s,
		id TEXT NOT NULL UNIQUE,
		room_id TEXT NOT NULL,
		sender TEXT NOT NULL,
		body TEXT NOT NULL,
		metadata TEXT NOT NULL DEFAULT '',
		attachments TEXT NOT NULL DEFAULT '[]',
		mentions TEXT NOT NULL DEFAULT '[]',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_chat_messages_room ON chat_messages(room_id, seq);

	CREATE TABLE IF NOT EXISTS chat_attachments (
		id TEXT PRIMARY KEY,
		room_id TEXT NOT NULL,
		raw TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_chat_attachments_room ON chat_attachments(room_id);
	`, seq)
	_, err := s.pool.Writer().Exec(schema)
	return err
}

type messageRow struct {
	ID          string    `db:"id"`
	RoomID      string    `db:"room_id"`
	Sender      string    `db:"sender"`
	Body        string    `db:"body"`
	Metadata    string    `db:"metadata"`
	Attachments string    `db:"attachments"`
	Mentions    string    `db:"mentions"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

const selectMessage = `SELECT id, room_id, sender, body, metadata, attachments, mentions, created_at, updated_at FROM chat_messages`

func (r messageRow) toMessage() (chat.Message, error) {
	m := chat.Message{
		ID:        r.ID,
		RoomID:    r.RoomID,
		Sender:    r.Sender,
		Body:      r.Body,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.Metadata != "" {
		if err := json.Unmarshal([]byte(r.Metadata), &m.Metadata); err != nil {
			return chat.Message{}, fmt.Errorf("decode metadata of message %s: %w", r.ID, err)
		}
	}
	if err := unmarshalList(r.Attachments, &m.Attachments); err != nil {
		return chat.Message{}, fmt.Errorf("decode attachments of message %s: %w", r.ID, err)
	}
	if err := unmarshalList(r.Mentions, &m.Mentions); err != nil {
		return chat.Message{}, fmt.Errorf("decode mentions of message %s: %w", r.ID, err)
	}
	return m, nil
}

func unmarshalList(raw string, out *[]string) error {
	if raw == "" || raw == "[]" || raw == "null" {
		return nil
	}
	return json.Unmarshal([]byte(raw), out)
}

func marshalList(v []string) string {
	if len(v) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func marshalMetadata(m map[string]any) (string, error) {
	if m == nil {
		return "", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(b), nil
}

func (s *Store) notify(ctx context.Context, evt chat.Event) {
	for _, l := range s.listeners {
		l(ctx, evt)
	}
}

// AddMessage inserts a new message and returns its id.
func (s *Store) AddMessage(ctx context.Context, roomID string, msg chat.NewMessage, triggers ...string) (string, error) {
	now := time.Now().UTC()
	m := chat.Message{
		ID:          uuid.New().String(),
		RoomID:      roomID,
		Sender:      msg.Sender,
		Body:        msg.Body,
		Attachments: append([]string(nil), msg.Attachments...),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.triggers.Run(ctx, &m, triggers)

	w := s.pool.Writer()
	_, err := w.ExecContext(ctx, w.Rebind(`
		INSERT INTO chat_messages (id, room_id, sender, body, metadata, attachments, mentions, created_at, updated_at)
		VALUES (?, ?, ?, ?, '', ?, ?, ?, ?)
	`), m.ID, m.RoomID, m.Sender, m.Body, marshalList(m.Attachments), marshalList(m.Mentions), m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return "", fmt.Errorf("insert chat message: %w", err)
	}

	s.notify(ctx, chat.Event{Type: chat.EventMessageAdded, RoomID: roomID, Message: m})
	return m.ID, nil
}

// UpdateMessage replaces or appends to a stored message inside one transaction.
func (s *Store) UpdateMessage(ctx context.Context, roomID string, msg chat.Message, opts chat.UpdateOptions) error {
	var next chat.Message
	err := withTx(ctx, s.pool.Writer(), func(tx *sqlx.Tx) error {
		var row messageRow
		err := tx.GetContext(ctx, &row, tx.Rebind(selectMessage+` WHERE room_id = ? AND id = ?`), roomID, msg.ID)
		if errors.Is(err, sql.ErrNoRows) {
			return chat.ErrMessageNotFound
		}
		if err != nil {
			return err
		}
		cur, err := row.toMessage()
		if err != nil {
			return err
		}

		next = chat.ApplyUpdate(cur, msg, opts.Append, time.Now().UTC())
		s.triggers.Run(ctx, &next, opts.Triggers)

		metadata, err := marshalMetadata(next.Metadata)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, tx.Rebind(`
			UPDATE chat_messages SET body = ?, metadata = ?, mentions = ?, updated_at = ?
			WHERE room_id = ? AND id = ?
		`), next.Body, metadata, marshalList(next.Mentions), next.UpdatedAt, roomID, msg.ID)
		return err
	})
	if err != nil {
		if errors.Is(err, chat.ErrMessageNotFound) {
			return err
		}
		return fmt.Errorf("update chat message %s: %w", msg.ID, err)
	}

	s.notify(ctx, chat.Event{Type: chat.EventMessageUpdated, RoomID: roomID, Message: next})
	return nil
}

func withTx(ctx context.Context, x *sqlx.DB, fn func(tx *sqlx.Tx) error) error {
	tx, err := x.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// GetMessage returns the message, or nil when it does not exist.
func (s *Store) GetMessage(ctx context.Context, roomID, id string) (*chat.Message, error) {
	r := s.pool.Reader()
	var row messageRow
	err := r.GetContext(ctx, &row, r.Rebind(selectMessage+` WHERE room_id = ? AND id = ?`), roomID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get chat message %s: %w", id, err)
	}
	m, err := row.toMessage()
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMessages returns the room's messages in insertion order.
func (s *Store) ListMessages(ctx context.Context, roomID string) ([]chat.Message, error) {
	r := s.pool.Reader()
	var rows []messageRow
	if err := r.SelectContext(ctx, &rows, r.Rebind(selectMessage+` WHERE room_id = ? ORDER BY seq`), roomID); err != nil {
		return nil, fmt.Errorf("list chat messages: %w", err)
	}
	out := make([]chat.Message, 0, len(rows))
	for _, row := range rows {
		m, err := row.toMessage()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// AddAttachment stores raw attachment JSON and returns its id.
func (s *Store) AddAttachment(ctx context.Context, roomID string, raw json.RawMessage) (string, error) {
	if !json.Valid(raw) {
		return "", fmt.Errorf("attachment is not valid JSON")
	}
	id := uuid.New().String()
	w := s.pool.Writer()
	_, err := w.ExecContext(ctx, w.Rebind(`
		INSERT INTO chat_attachments (id, room_id, raw, created_at) VALUES (?, ?, ?, ?)
	`), id, roomID, string(raw), time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("insert chat attachment: %w", err)
	}
	return id, nil
}

// GetAttachments returns every attachment of the room keyed by id.
func (s *Store) GetAttachments(ctx context.Context, roomID string) (map[string]json.RawMessage, error) {
	r := s.pool.Reader()
	var rows []struct {
		ID  string `db:"id"`
		Raw string `db:"raw"`
	}
	if err := r.SelectContext(ctx, &rows, r.Rebind(`SELECT id, raw FROM chat_attachments WHERE room_id = ?`), roomID); err != nil {
		return nil, fmt.Errorf("list chat attachments: %w", err)
	}
	out := make(map[string]json.RawMessage, len(rows))
	for _, row := range rows {
		out[row.ID] = json.RawMessage(row.Raw)
	}
	return out, nil
}
