package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/reclaw/reclaw/internal/domain"
)

// configRootKey holds the legacy whole-document config consumed by
// config.get/set/patch.
const configRootKey = "root"

// LoadConfigDoc returns the root config document; missing or non-object
// values read as {}.
func (s *Store) LoadConfigDoc() (domain.JSON, error) {
	entry, err := s.GetConfigEntry(configRootKey)
	if err != nil {
		return nil, err
	}
	if entry == nil || !isJSONObject(entry.Value) {
		return domain.JSON(`{}`), nil
	}
	return entry.Value, nil
}

// SaveConfigDoc replaces the root document wholesale.
func (s *Store) SaveConfigDoc(value domain.JSON) error {
	if !isJSONObject(value) {
		return domain.InvalidRequestf("config payload must be an object")
	}
	_, err := s.SetConfigEntry(configRootKey, value)
	return err
}

func (s *Store) GetConfigEntry(key string) (*domain.ConfigEntry, error) {
	var row struct {
		Key         string `db:"key"`
		ValueJSON   string `db:"value_json"`
		UpdatedAtMs int64  `db:"updated_at_ms"`
	}
	err := s.db.Get(&row,
		`SELECT key, value_json, updated_at_ms FROM config_entries WHERE key = ? LIMIT 1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.Storagef("failed to read config entry: %v", err)
	}
	return &domain.ConfigEntry{
		Key:         row.Key,
		Value:       domain.JSON(row.ValueJSON),
		UpdatedAtMs: row.UpdatedAtMs,
	}, nil
}

func (s *Store) SetConfigEntry(key string, value domain.JSON) (*domain.ConfigEntry, error) {
	now := NowUnixMs()
	text := jsonText(value)
	_, err := s.db.Exec(
		`INSERT INTO config_entries(key, value_json, updated_at_ms) VALUES(?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value_json = excluded.value_json, updated_at_ms = excluded.updated_at_ms`,
		key, text, now)
	if err != nil {
		return nil, domain.Storagef("failed to persist config entry: %v", err)
	}
	return &domain.ConfigEntry{Key: key, Value: domain.JSON(text), UpdatedAtMs: now}, nil
}

func (s *Store) DeleteConfigEntry(key string) (bool, error) {
	result, err := s.db.Exec(`DELETE FROM config_entries WHERE key = ?`, key)
	if err != nil {
		return false, domain.Storagef("failed to delete config entry: %v", err)
	}
	affected, _ := result.RowsAffected()
	return affected > 0, nil
}

// ListConfigEntries returns entries whose key starts with prefix,
// newest first by update time.
func (s *Store) ListConfigEntries(prefix string, limit int) ([]domain.ConfigEntry, error) {
	query := `SELECT key, value_json, updated_at_ms FROM config_entries
		WHERE key LIKE ? ORDER BY updated_at_ms DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	var rows []struct {
		Key         string `db:"key"`
		ValueJSON   string `db:"value_json"`
		UpdatedAtMs int64  `db:"updated_at_ms"`
	}
	if err := s.db.Select(&rows, query, prefix+"%"); err != nil {
		return nil, domain.Storagef("failed to list config entries: %v", err)
	}

	entries := make([]domain.ConfigEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, domain.ConfigEntry{
			Key:         row.Key,
			Value:       domain.JSON(row.ValueJSON),
			UpdatedAtMs: row.UpdatedAtMs,
		})
	}
	return entries, nil
}

func isJSONObject(value domain.JSON) bool {
	var probe map[string]json.RawMessage
	return json.Unmarshal(value, &probe) == nil && probe != nil
}
