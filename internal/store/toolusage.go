package store

import (
	"fmt"
	"time"

	"sm/internal/model"
)

// InsertToolUse appends a ToolUseEntry audit row (spec.md §3, append-only).
func (s *Store) InsertToolUse(e *model.ToolUseEntry) error {
	res, err := s.db.Exec(`
		INSERT INTO tool_usage (
			timestamp, session_id, claude_session_id, hook_type, tool_name,
			target_file, bash_command, tool_use_id, cwd, agent_id
		) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		e.Timestamp.UTC().Format(time.RFC3339Nano), e.SessionID, nullString(e.ClaudeSessionID),
		e.HookType, nullString(e.ToolName), nullString(e.TargetFile), nullString(e.BashCommand),
		nullString(e.ToolUseID), nullString(e.Cwd), nullString(e.AgentID),
	)
	if err != nil {
		return fmt.Errorf("store: insert tool use for session %s: %w", e.SessionID, err)
	}
	if id, err := res.LastInsertId(); err == nil {
		e.ID = id
	}
	return nil
}

// ToolUseByID returns the most recently inserted row with the given
// tool_use_id, whatever its hook type (spec.md §3: "Pre/Post rows are
// correlated by tool_use_id").
func (s *Store) ToolUseByID(toolUseID string) (*model.ToolUseEntry, error) {
	row := s.db.QueryRow(`
		SELECT id, timestamp, session_id, claude_session_id, hook_type, tool_name,
			target_file, bash_command, tool_use_id, cwd, agent_id
		FROM tool_usage WHERE tool_use_id = ? ORDER BY id DESC LIMIT 1`, toolUseID)
	return scanToolUse(row)
}

// ListToolUseForSession returns a session's audit rows, most recent first,
// at most limit of them (200 when limit <= 0).
func (s *Store) ListToolUseForSession(sessionID string, limit int) ([]*model.ToolUseEntry, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.Query(`
		SELECT id, timestamp, session_id, claude_session_id, hook_type, tool_name,
			target_file, bash_command, tool_use_id, cwd, agent_id
		FROM tool_usage WHERE session_id = ? ORDER BY id DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list tool use for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var out []*model.ToolUseEntry
	for rows.Next() {
		e, err := scanToolUse(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanToolUse(row scannable) (*model.ToolUseEntry, error) {
	var (
		e                                                        model.ToolUseEntry
		timestamp                                                string
		claudeSessionID, toolName, targetFile, bashCommand       interface{}
		toolUseID, cwd, agentID                                  interface{}
	)
	if err := row.Scan(&e.ID, &timestamp, &e.SessionID, &claudeSessionID, &e.HookType, &toolName,
		&targetFile, &bashCommand, &toolUseID, &cwd, &agentID); err != nil {
		return nil, fmt.Errorf("store: scan tool use row: %w", err)
	}
	var err error
	if e.Timestamp, err = time.Parse(time.RFC3339Nano, timestamp); err != nil {
		return nil, fmt.Errorf("store: parse tool use timestamp: %w", err)
	}
	e.ClaudeSessionID = asString(claudeSessionID)
	e.ToolName = asString(toolName)
	e.TargetFile = asString(targetFile)
	e.BashCommand = asString(bashCommand)
	e.ToolUseID = asString(toolUseID)
	e.Cwd = asString(cwd)
	e.AgentID = asString(agentID)
	return &e, nil
}

func asString(v interface{}) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return fmt.Sprint(v)
}
