package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists audit records in an SQLite database. SQLite's
// write serialization gives the one-append-one-record atomicity the
// audit contract requires without any locking of our own.
type SQLiteStore struct {
	conn *sql.DB
	path string
}

// DefaultDBPath returns the default location of the audit database.
func DefaultDBPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "scribe", "audit.db")
}

// OpenSQLite opens (creating if needed) the audit database at path and
// applies the schema. WAL mode is enabled so audit tailing never blocks
// concurrent appends.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := conn.Exec(schemaExecutions); err != nil {
		conn.Close()
		return nil, fmt.Errorf("create executions table: %w", err)
	}

	return &SQLiteStore{conn: conn, path: path}, nil
}

const schemaExecutions = `
CREATE TABLE IF NOT EXISTS executions (
	id TEXT PRIMARY KEY,
	timestamp DATETIME NOT NULL,
	conversation_id TEXT NOT NULL,
	tool_call_id TEXT NOT NULL,
	skill_id TEXT NOT NULL,
	script TEXT NOT NULL,
	argv TEXT NOT NULL,
	exit_code INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	outcome TEXT NOT NULL,
	output_bytes INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_executions_conversation ON executions(conversation_id);
CREATE INDEX IF NOT EXISTS idx_executions_timestamp ON executions(timestamp);
`

// Append inserts one record.
func (s *SQLiteStore) Append(ctx context.Context, rec Record) error {
	argv, err := json.Marshal(rec.Argv)
	if err != nil {
		return fmt.Errorf("marshal argv: %w", err)
	}

	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO executions
			(id, timestamp, conversation_id, tool_call_id, skill_id, script, argv, exit_code, duration_ms, outcome, output_bytes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, formatTime(rec.Timestamp), rec.ConversationID, rec.ToolCallID,
		rec.SkillID, rec.Script, string(argv), rec.ExitCode, rec.DurationMs,
		string(rec.Outcome), rec.OutputBytes)
	if err != nil {
		return fmt.Errorf("append audit record: %w", err)
	}
	return nil
}

// Tail returns the most recent n records, newest first.
func (s *SQLiteStore) Tail(ctx context.Context, n int) ([]Record, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, timestamp, conversation_id, tool_call_id, skill_id, script, argv, exit_code, duration_ms, outcome, output_bytes
		FROM executions ORDER BY timestamp DESC, id DESC LIMIT ?
	`, n)
	if err != nil {
		return nil, fmt.Errorf("tail audit records: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// ByConversation returns all records for a conversation, oldest first.
func (s *SQLiteStore) ByConversation(ctx context.Context, conversationID string) ([]Record, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, timestamp, conversation_id, tool_call_id, skill_id, script, argv, exit_code, duration_ms, outcome, output_bytes
		FROM executions WHERE conversation_id = ? ORDER BY timestamp ASC, id ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var records []Record
	for rows.Next() {
		var rec Record
		var ts, argv, outcome string
		if err := rows.Scan(&rec.ID, &ts, &rec.ConversationID, &rec.ToolCallID,
			&rec.SkillID, &rec.Script, &argv, &rec.ExitCode, &rec.DurationMs,
			&outcome, &rec.OutputBytes); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		rec.Timestamp, _ = parseTime(ts)
		rec.Outcome = Outcome(outcome)
		if err := json.Unmarshal([]byte(argv), &rec.Argv); err != nil {
			return nil, fmt.Errorf("unmarshal argv: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// Verify SQLiteStore implements Store at compile time.
var _ Store = (*SQLiteStore)(nil)
