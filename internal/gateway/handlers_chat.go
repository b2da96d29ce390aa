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

func handleChatSend(state *SharedState, session *SessionContext, params json.RawMessage) (interface{}, *protocol.ErrorShape) {
	var parsed struct {
		SessionKey     string `json:"sessionKey"`
		SessionID      string `json:"sessionId"`
		Message        string `json:"message"`
		IdempotencyKey string `json:"idempotencyKey"`
		Deferred       bool   `json:"deferred"`
	}
	if shapeErr := parseRequiredParams("chat.send", params, &parsed); shapeErr != nil {
		return nil, shapeErr
	}

	sessionKey, shapeErr := resolveChatSessionKey(parsed.SessionKey, parsed.SessionID)
	if shapeErr != nil {
		return nil, shapeErr
	}
	inbound, shapeErr := sanitizeChatMessage(parsed.Message)
	if shapeErr != nil {
		return nil, shapeErr
	}

	runID := strings.TrimSpace(parsed.IdempotencyKey)
	if runID == "" {
		runID = "chat-" + uuid.NewString()
	}

	existing, err := state.Store().GetAgentRun(runID)
	if err != nil {
		return nil, mapDomainError(err)
	}
	if existing != nil {
		return resolveExistingChatRun(existing, sessionKey)
	}

	if shapeErr := ensureSessionExists(state, sessionKey); shapeErr != nil {
		return nil, shapeErr
	}

	now := store.NowUnixMs()
	if parsed.Deferred {
		metadata, _ := json.Marshal(map[string]interface{}{
			"source":       "chat.send",
			"deferred":     true,
			"originConnId": session.ConnID,
		})
		run := &domain.AgentRun{
			ID:          runID,
			AgentID:     "main",
			Input:       inbound,
			Status:      domain.RunStatusQueued,
			SessionKey:  sessionKey,
			Metadata:    metadata,
			CreatedAtMs: now,
			UpdatedAtMs: now,
		}
		if err := state.Store().UpsertAgentRun(run); err != nil {
			return nil, mapDomainError(err)
		}
		return map[string]interface{}{
			"runId":      runID,
			"status":     "queued",
			"sessionKey": sessionKey,
			"message":    nil,
		}, nil
	}

	reply := "Echo: " + inbound
	messageMetadata, _ := json.Marshal(map[string]interface{}{"runId": runID})
	messages := []domain.ChatMessage{
		{
			ID:       "msg-" + uuid.NewString(),
			Role:     "user",
			Text:     inbound,
			Status:   "final",
			Ts:       now,
			Metadata: messageMetadata,
		},
		{
			ID:       "msg-" + uuid.NewString(),
			Role:     "assistant",
			Text:     reply,
			Status:   "final",
			Ts:       now + 1,
			Metadata: messageMetadata,
		},
	}
	if err := state.Store().AppendChatMessages(sessionKey, messages); err != nil {
		return nil, mapDomainError(err)
	}

	runMetadata, _ := json.Marshal(map[string]interface{}{
		"source":       "chat.send",
		"deferred":     false,
		"originConnId": session.ConnID,
	})
	completedAt := now
	run := &domain.AgentRun{
		ID:            runID,
		AgentID:       "main",
		Input:         inbound,
		Output:        reply,
		Status:        domain.RunStatusCompleted,
		SessionKey:    sessionKey,
		Metadata:      runMetadata,
		CreatedAtMs:   now,
		UpdatedAtMs:   now,
		CompletedAtMs: &completedAt,
	}
	if err := state.Store().UpsertAgentRun(run); err != nil {
		return nil, mapDomainError(err)
	}

	return map[string]interface{}{
		"runId":      runID,
		"status":     "completed",
		"sessionKey": sessionKey,
		"message":    reply,
	}, nil
}

func resolveExistingChatRun(existing *domain.AgentRun, requestedSessionKey string) (interface{}, *protocol.ErrorShape) {
	var metadata struct {
		Source string `json:"source"`
	}
	_ = json.Unmarshal(existing.Metadata, &metadata)
	if metadata.Source != "" && metadata.Source != "chat.send" {
		return nil, protocol.NewError(protocol.ErrorInvalidRequest,
			"invalid chat.send params: idempotency key already used by another method")
	}
	if existing.SessionKey != "" && existing.SessionKey != requestedSessionKey {
		return nil, protocol.NewError(protocol.ErrorInvalidRequest,
			"invalid chat.send params: idempotency key already used with a different sessionKey")
	}

	sessionKey := existing.SessionKey
	if sessionKey == "" {
		sessionKey = requestedSessionKey
	}
	var message interface{}
	if existing.Status == domain.RunStatusCompleted || existing.Status == domain.RunStatusError {
		message = existing.Output
	}
	return map[string]interface{}{
		"runId":      existing.ID,
		"status":     existing.Status,
		"sessionKey": sessionKey,
		"message":    message,
	}, nil
}

func handleChatHistory(state *SharedState, params json.RawMessage) (interface{}, *protocol.ErrorShape) {
	var parsed struct {
		SessionKey string `json:"sessionKey"`
		SessionID  string `json:"sessionId"`
		Limit      *int   `json:"limit"`
	}
	if shapeErr := parseRequiredParams("chat.history", params, &parsed); shapeErr != nil {
		return nil, shapeErr
	}
	sessionKey, shapeErr := resolveChatSessionKey(parsed.SessionKey, parsed.SessionID)
	if shapeErr != nil {
		return nil, shapeErr
	}

	limit := 0
	if parsed.Limit != nil {
		limit = clampInt(*parsed.Limit, 1, 1000)
	}

	messages, err := state.Store().ListChatMessages(sessionKey, limit)
	if err != nil {
		return nil, mapDomainError(err)
	}
	return map[string]interface{}{
		"sessionKey": sessionKey,
		"sessionId":  sessionKey,
		"messages":   messages,
	}, nil
}

func handleChatAbort(state *SharedState, params json.RawMessage) (interface{}, *protocol.ErrorShape) {
	var parsed struct {
		SessionKey string `json:"sessionKey"`
		SessionID  string `json:"sessionId"`
		RunID      string `json:"runId"`
	}
	if shapeErr := parseOptionalParams("chat.abort", params, &parsed); shapeErr != nil {
		return nil, shapeErr
	}

	sessionKey := strings.TrimSpace(parsed.SessionKey)
	if sessionKey == "" {
		sessionKey = strings.TrimSpace(parsed.SessionID)
	}
	if sessionKey == "" {
		sessionKey = "agent:main:main"
	}

	runID := strings.TrimSpace(parsed.RunID)
	if runID == "" {
		runs, err := state.Store().ListAgentRunsBySession(sessionKey, 500)
		if err != nil {
			return nil, mapDomainError(err)
		}
		abortedRunIDs := []string{}
		for i := range runs {
			run := runs[i]
			if run.Terminal() {
				continue
			}
			if shapeErr := abortRun(state, &run); shapeErr != nil {
				return nil, shapeErr
			}
			abortedRunIDs = append(abortedRunIDs, run.ID)
		}
		return map[string]interface{}{
			"ok":         true,
			"aborted":    len(abortedRunIDs) > 0,
			"sessionKey": sessionKey,
			"runIds":     abortedRunIDs,
		}, nil
	}

	run, err := state.Store().GetAgentRun(runID)
	if err != nil {
		return nil, mapDomainError(err)
	}
	if run == nil {
		return map[string]interface{}{
			"ok":         true,
			"aborted":    false,
			"sessionKey": sessionKey,
			"runIds":     []string{runID},
		}, nil
	}

	if run.SessionKey != "" && run.SessionKey != sessionKey {
		return nil, protocol.NewError(protocol.ErrorInvalidRequest,
			"invalid chat.abort params: runId does not belong to sessionKey")
	}

	if run.Terminal() {
		return map[string]interface{}{
			"ok":         true,
			"aborted":    false,
			"sessionKey": sessionKey,
			"runIds":     []string{runID},
		}, nil
	}

	if shapeErr := abortRun(state, run); shapeErr != nil {
		return nil, shapeErr
	}
	return map[string]interface{}{
		"ok":         true,
		"aborted":    true,
		"sessionKey": sessionKey,
		"runIds":     []string{runID},
	}, nil
}

func abortRun(state *SharedState, run *domain.AgentRun) *protocol.ErrorShape {
	abortedAt := store.NowUnixMs()
	run.Status = domain.RunStatusAborted
	run.UpdatedAtMs = abortedAt
	run.CompletedAtMs = &abortedAt
	if strings.TrimSpace(run.Output) == "" {
		run.Output = "aborted by chat.abort"
	}

	var metadata map[string]interface{}
	if err := json.Unmarshal(run.Metadata, &metadata); err != nil || metadata == nil {
		metadata = map[string]interface{}{}
	}
	metadata["abortedBy"] = "chat.abort"
	metadata["abortedAtMs"] = abortedAt
	encoded, _ := json.Marshal(metadata)
	run.Metadata = encoded

	if err := state.Store().UpsertAgentRun(run); err != nil {
		return mapDomainError(err)
	}
	return nil
}

func resolveChatSessionKey(sessionKey, sessionID string) (string, *protocol.ErrorShape) {
	key := strings.TrimSpace(sessionKey)
	if key == "" {
		key = strings.TrimSpace(sessionID)
	}
	if key == "" {
		return "", protocol.NewError(protocol.ErrorInvalidRequest,
			"invalid chat params: sessionKey is required")
	}
	return key, nil
}

func sanitizeChatMessage(input string) (string, *protocol.ErrorShape) {
	if strings.ContainsRune(input, 0) {
		return "", protocol.NewError(protocol.ErrorInvalidRequest,
			"invalid chat.send params: message contains null bytes")
	}
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return "", protocol.NewError(protocol.ErrorInvalidRequest,
			"invalid chat.send params: message or attachment required")
	}
	return trimmed, nil
}

func ensureSessionExists(state *SharedState, sessionKey string) *protocol.ErrorShape {
	existing, err := state.Store().GetSession(sessionKey)
	if err != nil {
		return mapDomainError(err)
	}
	if existing != nil {
		return nil
	}

	now := store.NowUnixMs()
	session := &domain.Session{
		ID:          sessionKey,
		Title:       fmt.Sprintf("Session %s", sessionKey),
		Tags:        []string{},
		Metadata:    domain.JSON(`{}`),
		CreatedAtMs: now,
		UpdatedAtMs: now,
	}
	if err := state.Store().UpsertSession(session); err != nil {
		return mapDomainError(err)
	}
	return nil
}
