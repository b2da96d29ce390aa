package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/reclaw/reclaw/internal/domain"
)

type agentRunRow struct {
	RunID         string  `db:"run_id"`
	AgentID       string  `db:"agent_id"`
	Input         string  `db:"input"`
	Output        string  `db:"output"`
	Status        string  `db:"status"`
	SessionKey    *string `db:"session_key"`
	MetadataJSON  string  `db:"metadata_json"`
	CreatedAtMs   int64   `db:"created_at_ms"`
	UpdatedAtMs   int64   `db:"updated_at_ms"`
	CompletedAtMs *int64  `db:"completed_at_ms"`
}

func (r agentRunRow) record() domain.AgentRun {
	run := domain.AgentRun{
		ID:            r.RunID,
		AgentID:       r.AgentID,
		Input:         r.Input,
		Output:        r.Output,
		Status:        r.Status,
		Metadata:      domain.JSON(r.MetadataJSON),
		CreatedAtMs:   r.CreatedAtMs,
		UpdatedAtMs:   r.UpdatedAtMs,
		CompletedAtMs: r.CompletedAtMs,
	}
	if r.SessionKey != nil {
		run.SessionKey = *r.SessionKey
	}
	return run
}

const agentRunColumns = `run_id, agent_id, input, output, status, session_key,
	metadata_json, created_at_ms, updated_at_ms, completed_at_ms`

func (s *Store) UpsertAgentRun(run *domain.AgentRun) error {
	_, err := s.db.Exec(
		`INSERT INTO agent_runs(run_id, agent_id, input, output, status, session_key, metadata_json, created_at_ms, updated_at_ms, completed_at_ms)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET
		   output = excluded.output, status = excluded.status, session_key = excluded.session_key,
		   metadata_json = excluded.metadata_json, updated_at_ms = excluded.updated_at_ms,
		   completed_at_ms = excluded.completed_at_ms`,
		run.ID, run.AgentID, run.Input, run.Output, run.Status,
		nullableString(run.SessionKey), jsonText(run.Metadata),
		run.CreatedAtMs, run.UpdatedAtMs, run.CompletedAtMs)
	if err != nil {
		return domain.Storagef("failed to upsert agent run: %v", err)
	}
	return nil
}

func (s *Store) GetAgentRun(runID string) (*domain.AgentRun, error) {
	var row agentRunRow
	err := s.db.Get(&row,
		`SELECT `+agentRunColumns+` FROM agent_runs WHERE run_id = ? LIMIT 1`, runID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.Storagef("failed to get agent run: %v", err)
	}
	record := row.record()
	return &record, nil
}

func (s *Store) CountAgentRuns() (int64, error) {
	var count int64
	if err := s.db.Get(&count, `SELECT COUNT(*) FROM agent_runs`); err != nil {
		return 0, domain.Storagef("failed to count agent runs: %v", err)
	}
	return count, nil
}

// ListAgentRunsBySession returns a session's runs newest first. The
// limit is clamped to 5000 to bound abort-all scans.
func (s *Store) ListAgentRunsBySession(sessionKey string, limit int) ([]domain.AgentRun, error) {
	if limit <= 0 || limit > 5000 {
		limit = 5000
	}
	var rows []agentRunRow
	err := s.db.Select(&rows,
		`SELECT `+agentRunColumns+` FROM agent_runs WHERE session_key = ?
		 ORDER BY updated_at_ms DESC LIMIT `+fmt.Sprint(limit), sessionKey)
	if err != nil {
		return nil, domain.Storagef("failed to list agent runs: %v", err)
	}
	runs := make([]domain.AgentRun, 0, len(rows))
	for _, row := range rows {
		runs = append(runs, row.record())
	}
	return runs, nil
}

// TransitionAgentRunStatus atomically moves a run from one status to
// another. Returning false means someone else got there first; callers
// use this to claim a queued run exactly once.
func (s *Store) TransitionAgentRunStatus(runID, from, to string, nowMs int64) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE agent_runs SET status = ?, updated_at_ms = ? WHERE run_id = ? AND status = ?`,
		to, nowMs, runID, from)
	if err != nil {
		return false, domain.Storagef("failed to transition agent run: %v", err)
	}
	affected, _ := result.RowsAffected()
	return affected == 1, nil
}

// FinalizeAgentRunIfStatus writes every mutable field only if the row
// is still in the expected status. A concurrent abort therefore wins
// over a late completion.
func (s *Store) FinalizeAgentRunIfStatus(run *domain.AgentRun, expected string) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE agent_runs SET
		   output = ?, status = ?, session_key = ?, metadata_json = ?,
		   updated_at_ms = ?, completed_at_ms = ?
		 WHERE run_id = ? AND status = ?`,
		run.Output, run.Status, nullableString(run.SessionKey), jsonText(run.Metadata),
		run.UpdatedAtMs, run.CompletedAtMs, run.ID, expected)
	if err != nil {
		return false, domain.Storagef("failed to finalize agent run: %v", err)
	}
	affected, _ := result.RowsAffected()
	return affected == 1, nil
}

func nullableString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
