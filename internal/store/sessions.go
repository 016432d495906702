package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"sm/internal/model"
)

// UpsertSession mirrors a Session into the sessions table (spec.md §4.2:
// "sessions (mirror of the registry on every mutation)").
func (s *Store) UpsertSession(sess *model.Session) error {
	toolCounts, err := json.Marshal(sess.ToolCounts)
	if err != nil {
		return fmt.Errorf("store: marshal tool_counts: %w", err)
	}
	subagents, err := json.Marshal(sess.Subagents)
	if err != nil {
		return fmt.Errorf("store: marshal subagents: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO sessions (
			id, name, friendly_name, working_dir, window_name, provider, status,
			created_at, last_activity, parent_session_id, is_em, role, task,
			completion_status, agent_status_text, agent_status_at,
			tokens_used, tool_counts, last_tool_name, last_tool_at,
			context_monitor_enabled, context_notify_target, context_warning_sent,
			context_critical_sent, compacting, transcript_path, telegram_chat_id,
			telegram_thread_id, last_handoff_path, git_remote_url, subagents
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, friendly_name=excluded.friendly_name,
			working_dir=excluded.working_dir, window_name=excluded.window_name,
			provider=excluded.provider, status=excluded.status,
			created_at=excluded.created_at, last_activity=excluded.last_activity,
			parent_session_id=excluded.parent_session_id, is_em=excluded.is_em,
			role=excluded.role, task=excluded.task, completion_status=excluded.completion_status,
			agent_status_text=excluded.agent_status_text, agent_status_at=excluded.agent_status_at,
			tokens_used=excluded.tokens_used, tool_counts=excluded.tool_counts,
			last_tool_name=excluded.last_tool_name, last_tool_at=excluded.last_tool_at,
			context_monitor_enabled=excluded.context_monitor_enabled,
			context_notify_target=excluded.context_notify_target,
			context_warning_sent=excluded.context_warning_sent,
			context_critical_sent=excluded.context_critical_sent,
			compacting=excluded.compacting, transcript_path=excluded.transcript_path,
			telegram_chat_id=excluded.telegram_chat_id, telegram_thread_id=excluded.telegram_thread_id,
			last_handoff_path=excluded.last_handoff_path, git_remote_url=excluded.git_remote_url,
			subagents=excluded.subagents
	`,
		sess.ID, sess.Name, nullString(sess.FriendlyName), sess.WorkingDir, sess.WindowName,
		string(sess.Provider), string(sess.Status), sess.CreatedAt.UTC().Format(time.RFC3339Nano),
		sess.LastActivity.UTC().Format(time.RFC3339Nano), nullString(sess.ParentSessionID),
		boolToInt(sess.IsEM), nullString(sess.Role), nullString(sess.Task), nullString(sess.CompletionStatus),
		nullString(sess.AgentStatusText), nullTime(sess.AgentStatusAt),
		sess.TokensUsed, string(toolCounts), nullString(sess.LastToolName), nullTime(sess.LastToolAt),
		boolToInt(sess.ContextMonitorEnabled), nullString(sess.ContextNotifyTarget),
		boolToInt(sess.ContextWarningSent), boolToInt(sess.ContextCriticalSent), boolToInt(sess.Compacting),
		nullString(sess.TranscriptPath), nullInt64(sess.TelegramChatID), nullInt64(sess.TelegramThreadID),
		nullString(sess.LastHandoffPath), nullString(sess.GitRemoteURL), string(subagents),
	)
	if err != nil {
		return fmt.Errorf("store: upsert session %s: %w", sess.ID, err)
	}
	return nil
}

// DeleteSession removes a session row. Called when a session transitions to
// a terminal state and is dropped from the live registry (spec.md §3).
func (s *Store) DeleteSession(id string) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete session %s: %w", id, err)
	}
	return nil
}

// GetSession loads a single session by id. Returns (nil, nil) if absent.
func (s *Store) GetSession(id string) (*model.Session, error) {
	row := s.db.QueryRow(sessionSelectCols+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get session %s: %w", id, err)
	}
	return sess, nil
}

// ListSessions loads every persisted session, for startup recovery (spec.md
// §4.2).
func (s *Store) ListSessions() ([]*model.Session, error) {
	rows, err := s.db.Query(sessionSelectCols + ` FROM sessions ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	defer rows.Close()

	var out []*model.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan session row: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

const sessionSelectCols = `SELECT
	id, name, friendly_name, working_dir, window_name, provider, status,
	created_at, last_activity, parent_session_id, is_em, role, task,
	completion_status, agent_status_text, agent_status_at,
	tokens_used, tool_counts, last_tool_name, last_tool_at,
	context_monitor_enabled, context_notify_target, context_warning_sent,
	context_critical_sent, compacting, transcript_path, telegram_chat_id,
	telegram_thread_id, last_handoff_path, git_remote_url, subagents`

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanSession(row scannable) (*model.Session, error) {
	var (
		sess                                       model.Session
		friendlyName, parentID, role, task          sql.NullString
		completionStatus, agentStatusText           sql.NullString
		agentStatusAt, lastToolAt                   sql.NullString
		toolCounts, subagents                       string
		lastToolName, transcriptPath, notifyTarget  sql.NullString
		handoffPath, gitRemoteURL                   sql.NullString
		telegramChatID, telegramThreadID            sql.NullInt64
		createdAt, lastActivity                     string
		isEM, contextMonitorEnabled                 int
		contextWarningSent, contextCriticalSent     int
		compacting                                  int
		provider, status                            string
	)
	if err := row.Scan(
		&sess.ID, &sess.Name, &friendlyName, &sess.WorkingDir, &sess.WindowName,
		&provider, &status, &createdAt, &lastActivity, &parentID, &isEM, &role, &task,
		&completionStatus, &agentStatusText, &agentStatusAt,
		&sess.TokensUsed, &toolCounts, &lastToolName, &lastToolAt,
		&contextMonitorEnabled, &notifyTarget, &contextWarningSent,
		&contextCriticalSent, &compacting, &transcriptPath, &telegramChatID,
		&telegramThreadID, &handoffPath, &gitRemoteURL, &subagents,
	); err != nil {
		return nil, err
	}

	sess.Provider = model.Provider(provider)
	sess.Status = model.Status(status)
	sess.FriendlyName = friendlyName.String
	sess.ParentSessionID = parentID.String
	sess.Role = role.String
	sess.Task = task.String
	sess.CompletionStatus = completionStatus.String
	sess.AgentStatusText = agentStatusText.String
	sess.LastToolName = lastToolName.String
	sess.TranscriptPath = transcriptPath.String
	sess.ContextNotifyTarget = notifyTarget.String
	sess.LastHandoffPath = handoffPath.String
	sess.GitRemoteURL = gitRemoteURL.String
	sess.IsEM = isEM != 0
	sess.ContextMonitorEnabled = contextMonitorEnabled != 0
	sess.ContextWarningSent = contextWarningSent != 0
	sess.ContextCriticalSent = contextCriticalSent != 0
	sess.Compacting = compacting != 0

	var err error
	if sess.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if sess.LastActivity, err = time.Parse(time.RFC3339Nano, lastActivity); err != nil {
		return nil, fmt.Errorf("parse last_activity: %w", err)
	}
	if sess.AgentStatusAt, err = parseNullTime(nullableString(agentStatusAt)); err != nil {
		return nil, err
	}
	if sess.LastToolAt, err = parseNullTime(nullableString(lastToolAt)); err != nil {
		return nil, err
	}
	if telegramChatID.Valid {
		v := telegramChatID.Int64
		sess.TelegramChatID = &v
	}
	if telegramThreadID.Valid {
		v := telegramThreadID.Int64
		sess.TelegramThreadID = &v
	}

	sess.ToolCounts = make(map[string]int)
	if toolCounts != "" {
		if err := json.Unmarshal([]byte(toolCounts), &sess.ToolCounts); err != nil {
			return nil, fmt.Errorf("unmarshal tool_counts: %w", err)
		}
	}
	if subagents != "" {
		if err := json.Unmarshal([]byte(subagents), &sess.Subagents); err != nil {
			return nil, fmt.Errorf("unmarshal subagents: %w", err)
		}
	}
	return &sess, nil
}

func nullableString(ns sql.NullString) interface{} {
	if !ns.Valid {
		return nil
	}
	return ns.String
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullInt64(p *int64) interface{} {
	if p == nil {
		return nil
	}
	return *p
}
