package gateway

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/reclaw/reclaw/internal/domain"
	"github.com/reclaw/reclaw/internal/protocol"
	"github.com/reclaw/reclaw/internal/store"
)

const (
	lastHeartbeatKey  = "system/last-heartbeat"
	heartbeatsKey     = "system/heartbeats"
	systemEventPrefix = "system/events/"
)

func handleLastHeartbeat(state *SharedState, params json.RawMessage) (interface{}, *protocol.ErrorShape) {
	var ignored map[string]json.RawMessage
	if shapeErr := parseOptionalParams("last-heartbeat", params, &ignored); shapeErr != nil {
		return nil, shapeErr
	}

	entry, err := state.Store().GetConfigEntry(lastHeartbeatKey)
	if err != nil {
		return nil, mapDomainError(err)
	}
	if entry == nil {
		return map[string]interface{}{
			"ts":     0,
			"status": "none",
		}, nil
	}
	return entry.Value, nil
}

func handleSetHeartbeats(state *SharedState, params json.RawMessage) (interface{}, *protocol.ErrorShape) {
	var parsed struct {
		Heartbeats json.RawMessage `json:"heartbeats"`
	}
	if shapeErr := parseRequiredParams("set-heartbeats", params, &parsed); shapeErr != nil {
		return nil, shapeErr
	}
	if len(parsed.Heartbeats) == 0 || string(parsed.Heartbeats) == "null" {
		return nil, protocol.NewError(protocol.ErrorInvalidRequest,
			"invalid set-heartbeats params: heartbeats is required")
	}

	if _, err := state.Store().SetConfigEntry(heartbeatsKey, domain.JSON(parsed.Heartbeats)); err != nil {
		return nil, mapDomainError(err)
	}
	return map[string]interface{}{
		"ok":         true,
		"heartbeats": parsed.Heartbeats,
	}, nil
}

func handleWake(state *SharedState, session *SessionContext, params json.RawMessage) (interface{}, *protocol.ErrorShape) {
	var parsed struct {
		Reason string `json:"reason"`
	}
	if shapeErr := parseOptionalParams("wake", params, &parsed); shapeErr != nil {
		return nil, shapeErr
	}

	reason := strings.TrimSpace(parsed.Reason)
	if reason == "" {
		reason = "manual"
	}
	payload := map[string]interface{}{
		"ts":     store.NowUnixMs(),
		"reason": reason,
		"by":     session.ClientID,
		"role":   session.Role,
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, protocol.NewError(protocol.ErrorUnavailable, err.Error())
	}
	if _, err := state.Store().SetConfigEntry(lastHeartbeatKey, encoded); err != nil {
		return nil, mapDomainError(err)
	}
	return map[string]interface{}{
		"ok":        true,
		"heartbeat": payload,
	}, nil
}

func handleSystemPresence(state *SharedState, params json.RawMessage) (interface{}, *protocol.ErrorShape) {
	var ignored map[string]json.RawMessage
	if shapeErr := parseOptionalParams("system-presence", params, &ignored); shapeErr != nil {
		return nil, shapeErr
	}

	snapshot, err := state.Snapshot()
	if err != nil {
		return nil, mapDomainError(err)
	}
	return map[string]interface{}{
		"presence":     snapshot.Presence,
		"stateVersion": snapshot.StateVersion,
		"uptimeMs":     snapshot.UptimeMs,
	}, nil
}

func handleSystemEvent(state *SharedState, session *SessionContext, params json.RawMessage) (interface{}, *protocol.ErrorShape) {
	var parsed struct {
		Event   string          `json:"event"`
		Payload json.RawMessage `json:"payload"`
	}
	if shapeErr := parseRequiredParams("system-event", params, &parsed); shapeErr != nil {
		return nil, shapeErr
	}
	event := strings.TrimSpace(parsed.Event)
	if event == "" {
		return nil, protocol.NewError(protocol.ErrorInvalidRequest,
			"invalid system-event params: event is required")
	}

	ts := store.NowUnixMs()
	id := fmt.Sprintf("%s%d-%s", systemEventPrefix, ts, uuid.NewString())
	var eventPayload interface{}
	if len(parsed.Payload) > 0 {
		eventPayload = parsed.Payload
	}
	entry := map[string]interface{}{
		"id":      id,
		"event":   event,
		"payload": eventPayload,
		"ts":      ts,
		"by":      session.ClientID,
	}

	encoded, err := json.Marshal(entry)
	if err != nil {
		return nil, protocol.NewError(protocol.ErrorUnavailable, err.Error())
	}
	if _, err := state.Store().SetConfigEntry(id, encoded); err != nil {
		return nil, mapDomainError(err)
	}
	return map[string]interface{}{
		"ok":    true,
		"entry": entry,
	}, nil
}

func handleSend(state *SharedState, session *SessionContext, params json.RawMessage) (interface{}, *protocol.ErrorShape) {
	var parsed struct {
		SessionKey string `json:"sessionKey"`
		SessionID  string `json:"sessionId"`
		Message    string `json:"message"`
		Text       string `json:"text"`
		Channel    string `json:"channel"`
	}
	if shapeErr := parseRequiredParams("send", params, &parsed); shapeErr != nil {
		return nil, shapeErr
	}

	sessionKey := firstNonEmpty(parsed.SessionKey, parsed.SessionID)
	if sessionKey == "" {
		sessionKey = "agent:main:main"
	}

	message := firstNonEmpty(parsed.Message, parsed.Text)
	if message == "" {
		return nil, protocol.NewError(protocol.ErrorInvalidRequest,
			"invalid send params: message is required")
	}

	if shapeErr := ensureSessionExists(state, sessionKey); shapeErr != nil {
		return nil, shapeErr
	}

	var channel interface{}
	if trimmed := strings.TrimSpace(parsed.Channel); trimmed != "" {
		channel = trimmed
	}
	metadata, _ := json.Marshal(map[string]interface{}{
		"source":      "send",
		"channel":     channel,
		"requestedBy": session.ClientID,
	})
	entry := domain.ChatMessage{
		ID:       "msg-" + uuid.NewString(),
		Role:     "assistant",
		Text:     message,
		Status:   "final",
		Ts:       store.NowUnixMs(),
		Metadata: metadata,
	}

	if err := state.Store().AppendChatMessages(sessionKey, []domain.ChatMessage{entry}); err != nil {
		return nil, mapDomainError(err)
	}
	return map[string]interface{}{
		"ok":         true,
		"delivered":  true,
		"sessionKey": sessionKey,
		"message":    entry,
	}, nil
}
