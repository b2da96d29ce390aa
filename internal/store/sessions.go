package store

import (
	"database/sql"
	"errors"

	"github.com/reclaw/reclaw/internal/domain"
)

type sessionRow struct {
	ID           string `db:"id"`
	Title        string `db:"title"`
	TagsJSON     string `db:"tags_json"`
	MetadataJSON string `db:"metadata_json"`
	CreatedAtMs  int64  `db:"created_at_ms"`
	UpdatedAtMs  int64  `db:"updated_at_ms"`
}

func (r sessionRow) record() (domain.Session, error) {
	tags, err := decodeStrings(r.TagsJSON)
	if err != nil {
		return domain.Session{}, err
	}
	return domain.Session{
		ID:          r.ID,
		Title:       r.Title,
		Tags:        tags,
		Metadata:    domain.JSON(r.MetadataJSON),
		CreatedAtMs: r.CreatedAtMs,
		UpdatedAtMs: r.UpdatedAtMs,
	}, nil
}

func (s *Store) ListSessions() ([]domain.Session, error) {
	var rows []sessionRow
	err := s.db.Select(&rows,
		`SELECT id, title, tags_json, metadata_json, created_at_ms, updated_at_ms
		 FROM sessions ORDER BY updated_at_ms DESC`)
	if err != nil {
		return nil, domain.Storagef("failed to list sessions: %v", err)
	}
	sessions := make([]domain.Session, 0, len(rows))
	for _, row := range rows {
		record, err := row.record()
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, record)
	}
	return sessions, nil
}

func (s *Store) GetSession(id string) (*domain.Session, error) {
	var row sessionRow
	err := s.db.Get(&row,
		`SELECT id, title, tags_json, metadata_json, created_at_ms, updated_at_ms
		 FROM sessions WHERE id = ? LIMIT 1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.Storagef("failed to get session: %v", err)
	}
	record, err := row.record()
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *Store) UpsertSession(session *domain.Session) error {
	tagsJSON, err := encodeJSON(session.Tags)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO sessions(id, title, tags_json, metadata_json, created_at_ms, updated_at_ms)
		 VALUES(?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   title = excluded.title, tags_json = excluded.tags_json,
		   metadata_json = excluded.metadata_json, updated_at_ms = excluded.updated_at_ms`,
		session.ID, session.Title, tagsJSON, jsonText(session.Metadata),
		session.CreatedAtMs, session.UpdatedAtMs)
	if err != nil {
		return domain.Storagef("failed to upsert session: %v", err)
	}
	return nil
}

func (s *Store) RemoveSession(id string) (bool, error) {
	result, err := s.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return false, domain.Storagef("failed to delete session: %v", err)
	}
	affected, _ := result.RowsAffected()
	return affected > 0, nil
}

func (s *Store) ClearSessions() (int64, error) {
	result, err := s.db.Exec(`DELETE FROM sessions`)
	if err != nil {
		return 0, domain.Storagef("failed to clear sessions: %v", err)
	}
	removed, _ := result.RowsAffected()
	return removed, nil
}

// CompactSessions deletes sessions idle for longer than maxAgeMs.
func (s *Store) CompactSessions(maxAgeMs int64) (int64, error) {
	cutoff := NowUnixMs() - maxAgeMs
	result, err := s.db.Exec(`DELETE FROM sessions WHERE updated_at_ms < ?`, cutoff)
	if err != nil {
		return 0, domain.Storagef("failed to compact sessions: %v", err)
	}
	removed, _ := result.RowsAffected()
	return removed, nil
}

func (s *Store) CountSessions() (int64, error) {
	var count int64
	if err := s.db.Get(&count, `SELECT COUNT(*) FROM sessions`); err != nil {
		return 0, domain.Storagef("failed to count sessions: %v", err)
	}
	return count, nil
}
