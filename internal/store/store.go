// Package store persists settings and conversation transcripts in SQLite.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"TutorChat/internal/config"
	"TutorChat/internal/transcript"
)

// Setting keys
const (
	KeyAPIKey        = "api_key"
	KeySelectedModel = "selected_model"
)

// ErrNotFound is returned when a conversation does not exist.
var ErrNotFound = errors.New("not found")

// ConversationInfo summarizes a stored conversation
type ConversationInfo struct {
	ID        string
	StartedAt time.Time
	Mode      config.Mode
	Turns     int
}

// SQLiteStore implements durable key-value settings and transcript storage.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens or creates the SQLite database at path.
func Open(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	createSettingsTable := `
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME
	);`

	createConversationsTable := `
	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		started_at DATETIME,
		mode TEXT
	);`

	createTurnsTable := `
	CREATE TABLE IF NOT EXISTS turns (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		role TEXT NOT NULL,
		text TEXT NOT NULL,
		image_mime TEXT,
		image_data TEXT,
		is_error INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME,
		FOREIGN KEY(conversation_id) REFERENCES conversations(id)
	);
	CREATE INDEX IF NOT EXISTS idx_turns_conversation ON turns(conversation_id, created_at);`

	for name, stmt := range map[string]string{
		"settings":      createSettingsTable,
		"conversations": createConversationsTable,
		"turns":         createTurnsTable,
	} {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create %s table: %w", name, err)
		}
	}
	return nil
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Get returns a setting value and whether it exists.
func (s *SQLiteStore) Get(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read setting %s: %w", key, err)
	}
	return value, true, nil
}

// Set stores a setting value, replacing any previous value.
func (s *SQLiteStore) Set(key, value string) error {
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO settings (key, value, updated_at) VALUES (?, ?, ?)",
		key, value, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to save setting %s: %w", key, err)
	}
	return nil
}

// SaveConversation records the conversation header if it is not stored yet.
func (s *SQLiteStore) SaveConversation(c *transcript.Conversation) error {
	_, err := s.db.Exec(
		"INSERT OR IGNORE INTO conversations (id, started_at, mode) VALUES (?, ?, ?)",
		c.ID, c.StartedAt, string(c.Mode),
	)
	if err != nil {
		return fmt.Errorf("failed to save conversation: %w", err)
	}
	return nil
}

// UpdateMode records the mode a conversation resumes with.
func (s *SQLiteStore) UpdateMode(conversationID string, mode config.Mode) error {
	res, err := s.db.Exec("UPDATE conversations SET mode = ? WHERE id = ?", string(mode), conversationID)
	if err != nil {
		return fmt.Errorf("failed to update conversation mode: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
	}
	return nil
}

// AppendTurns stores turns for a conversation. Turns already stored are skipped.
func (s *SQLiteStore) AppendTurns(conversationID string, turns ...transcript.Turn) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, t := range turns {
		var mime, data sql.NullString
		if t.Image != nil {
			mime = sql.NullString{String: t.Image.MIMEType, Valid: true}
			data = sql.NullString{String: t.Image.DataURI, Valid: true}
		}
		_, err = tx.Exec(
			`INSERT OR IGNORE INTO turns (id, conversation_id, role, text, image_mime, image_data, is_error, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, conversationID, string(t.Role), t.Text, mime, data, t.IsError, t.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to save turn: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// LoadConversation loads a conversation and its turns.
func (s *SQLiteStore) LoadConversation(id string) (*transcript.Conversation, error) {
	var startedAt time.Time
	var mode string

	err := s.db.QueryRow("SELECT started_at, mode FROM conversations WHERE id = ?", id).
		Scan(&startedAt, &mode)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}

	rows, err := s.db.Query(
		`SELECT id, role, text, image_mime, image_data, is_error, created_at
		 FROM turns WHERE conversation_id = ? ORDER BY created_at, id`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load turns: %w", err)
	}
	defer rows.Close()

	var turns []transcript.Turn
	for rows.Next() {
		var t transcript.Turn
		var role string
		var mime, data sql.NullString
		if err := rows.Scan(&t.ID, &role, &t.Text, &mime, &data, &t.IsError, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		t.Role = transcript.Role(role)
		if mime.Valid {
			t.Image = &transcript.Image{MIMEType: mime.String, DataURI: data.String}
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read turns: %w", err)
	}

	return transcript.Restore(id, startedAt, config.Mode(mode), turns), nil
}

// ListConversations returns stored conversations, newest first.
func (s *SQLiteStore) ListConversations(limit int) ([]ConversationInfo, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT c.id, c.started_at, c.mode, COUNT(t.id)
		 FROM conversations c LEFT JOIN turns t ON t.conversation_id = c.id
		 GROUP BY c.id ORDER BY c.started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var out []ConversationInfo
	for rows.Next() {
		var info ConversationInfo
		var mode string
		if err := rows.Scan(&info.ID, &info.StartedAt, &mode, &info.Turns); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		info.Mode = config.Mode(mode)
		out = append(out, info)
	}
	return out, rows.Err()
}
