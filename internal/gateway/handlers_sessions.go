package gateway

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/reclaw/reclaw/internal/domain"
	"github.com/reclaw/reclaw/internal/protocol"
	"github.com/reclaw/reclaw/internal/store"
)

func handleSessionsList(state *SharedState, params json.RawMessage) (interface{}, *protocol.ErrorShape) {
	var parsed struct {
		Limit *int `json:"limit"`
	}
	if shapeErr := parseOptionalParams("sessions.list", params, &parsed); shapeErr != nil {
		return nil, shapeErr
	}

	sessions, err := state.Store().ListSessions()
	if err != nil {
		return nil, mapDomainError(err)
	}
	if parsed.Limit != nil && *parsed.Limit >= 0 && *parsed.Limit < len(sessions) {
		sessions = sessions[:*parsed.Limit]
	}

	return map[string]interface{}{
		"ts":       store.NowUnixMs(),
		"sessions": sessions,
	}, nil
}

func handleSessionsPreview(state *SharedState, params json.RawMessage) (interface{}, *protocol.ErrorShape) {
	var parsed struct {
		Keys     []string `json:"keys"`
		Limit    *int     `json:"limit"`
		MaxChars *int     `json:"maxChars"`
	}
	if shapeErr := parseOptionalParams("sessions.preview", params, &parsed); shapeErr != nil {
		return nil, shapeErr
	}

	const maxKeys = 64
	limit := clampInt(valueOr(parsed.Limit, 12), 1, 200)
	maxChars := clampInt(valueOr(parsed.MaxChars, 240), 20, 4096)

	previews := make([]map[string]interface{}, 0, len(parsed.Keys))
	for _, raw := range parsed.Keys {
		if len(previews) >= maxKeys {
			break
		}
		key := strings.TrimSpace(raw)
		if key == "" {
			continue
		}

		session, err := state.Store().GetSession(key)
		if err != nil {
			return nil, mapDomainError(err)
		}
		messages, err := state.Store().ListChatMessages(key, limit)
		if err != nil {
			return nil, mapDomainError(err)
		}

		items := make([]map[string]interface{}, 0, len(messages))
		for _, message := range messages {
			text := message.Text
			if runes := []rune(text); len(runes) > maxChars {
				text = string(runes[:maxChars])
			}
			items = append(items, map[string]interface{}{
				"id":     message.ID,
				"role":   message.Role,
				"text":   text,
				"status": message.Status,
				"ts":     message.Ts,
			})
		}

		status := "ok"
		if session == nil {
			status = "missing"
		} else if len(items) == 0 {
			status = "empty"
		}

		previews = append(previews, map[string]interface{}{
			"key":    key,
			"status": status,
			"items":  items,
		})
	}

	return map[string]interface{}{
		"ts":       store.NowUnixMs(),
		"previews": previews,
	}, nil
}

func handleSessionsPatch(state *SharedState, params json.RawMessage) (interface{}, *protocol.ErrorShape) {
	var parsed struct {
		ID       string          `json:"id"`
		Key      string          `json:"key"`
		Title    string          `json:"title"`
		Tags     []string        `json:"tags"`
		Metadata json.RawMessage `json:"metadata"`
	}
	if shapeErr := parseRequiredParams("sessions.patch", params, &parsed); shapeErr != nil {
		return nil, shapeErr
	}
	id, shapeErr := resolveSessionID(parsed.ID, parsed.Key)
	if shapeErr != nil {
		return nil, shapeErr
	}

	existing, err := state.Store().GetSession(id)
	if err != nil {
		return nil, mapDomainError(err)
	}
	now := store.NowUnixMs()

	title := strings.TrimSpace(parsed.Title)
	if title == "" {
		if existing != nil {
			title = existing.Title
		} else {
			title = fmt.Sprintf("Session %s", id)
		}
	}

	var tags []string
	if parsed.Tags != nil {
		tags = sanitizeItems(parsed.Tags)
	} else if existing != nil {
		tags = existing.Tags
	} else {
		tags = []string{}
	}

	metadata := domain.JSON(`{}`)
	if len(parsed.Metadata) > 0 {
		if !isJSONObjectRaw(parsed.Metadata) {
			return nil, protocol.NewError(protocol.ErrorInvalidRequest,
				"invalid sessions.patch params: metadata must be an object")
		}
		metadata = domain.JSON(parsed.Metadata)
	} else if existing != nil {
		metadata = existing.Metadata
	}

	createdAt := now
	if existing != nil {
		createdAt = existing.CreatedAtMs
	}

	next := &domain.Session{
		ID:          id,
		Title:       title,
		Tags:        tags,
		Metadata:    metadata,
		CreatedAtMs: createdAt,
		UpdatedAtMs: now,
	}
	if err := state.Store().UpsertSession(next); err != nil {
		return nil, mapDomainError(err)
	}

	return map[string]interface{}{
		"ok":    true,
		"key":   id,
		"entry": next,
	}, nil
}

func handleSessionsReset(state *SharedState) (interface{}, *protocol.ErrorShape) {
	removed, err := state.Store().ClearSessions()
	if err != nil {
		return nil, mapDomainError(err)
	}
	return map[string]interface{}{
		"ok":      true,
		"removed": removed,
	}, nil
}

func handleSessionsDelete(state *SharedState, params json.RawMessage) (interface{}, *protocol.ErrorShape) {
	var parsed struct {
		ID  string `json:"id"`
		Key string `json:"key"`
	}
	if shapeErr := parseRequiredParams("sessions.delete", params, &parsed); shapeErr != nil {
		return nil, shapeErr
	}
	id, shapeErr := resolveSessionID(parsed.ID, parsed.Key)
	if shapeErr != nil {
		return nil, shapeErr
	}

	deleted, err := state.Store().RemoveSession(id)
	if err != nil {
		return nil, mapDomainError(err)
	}
	return map[string]interface{}{
		"ok":      true,
		"key":     id,
		"deleted": deleted,
	}, nil
}

func handleSessionsCompact(state *SharedState, params json.RawMessage) (interface{}, *protocol.ErrorShape) {
	var parsed struct {
		MaxAgeMs *int64 `json:"maxAgeMs"`
	}
	if shapeErr := parseOptionalParams("sessions.compact", params, &parsed); shapeErr != nil {
		return nil, shapeErr
	}
	maxAgeMs := int64(7 * 24 * 60 * 60 * 1000)
	if parsed.MaxAgeMs != nil {
		maxAgeMs = *parsed.MaxAgeMs
	}

	removed, err := state.Store().CompactSessions(maxAgeMs)
	if err != nil {
		return nil, mapDomainError(err)
	}
	return map[string]interface{}{
		"ok":       true,
		"removed":  removed,
		"maxAgeMs": maxAgeMs,
	}, nil
}

func resolveSessionID(id, key string) (string, *protocol.ErrorShape) {
	resolved := strings.TrimSpace(id)
	if resolved == "" {
		resolved = strings.TrimSpace(key)
	}
	if resolved == "" {
		return "", protocol.NewError(protocol.ErrorInvalidRequest,
			"invalid sessions params: id or key is required")
	}
	return resolved, nil
}

func valueOr(value *int, fallback int) int {
	if value != nil {
		return *value
	}
	return fallback
}

func clampInt(value, low, high int) int {
	if value < low {
		return low
	}
	if value > high {
		return high
	}
	return value
}
