package gateway

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/reclaw/reclaw/internal/domain"
	"github.com/reclaw/reclaw/internal/protocol"
	"github.com/reclaw/reclaw/internal/store"
)

func handleAgent(state *SharedState, _ *SessionContext, params json.RawMessage) (interface{}, *protocol.ErrorShape) {
	var parsed struct {
		RunID          string `json:"runId"`
		IdempotencyKey string `json:"idempotencyKey"`
		AgentID        string `json:"agentId"`
		SessionKey     string `json:"sessionKey"`
		Input          string `json:"input"`
		Message        string `json:"message"`
		Text           string `json:"text"`
		Deferred       bool   `json:"deferred"`
	}
	if shapeErr := parseRequiredParams("agent", params, &parsed); shapeErr != nil {
		return nil, shapeErr
	}

	input := firstNonEmpty(parsed.Input, parsed.Message, parsed.Text)
	if input == "" {
		return nil, protocol.NewError(protocol.ErrorInvalidRequest,
			"invalid agent params: input is required")
	}

	runID := firstNonEmpty(parsed.RunID, parsed.IdempotencyKey)
	if runID == "" {
		runID = "run-" + uuid.NewString()
	}
	sessionKey := strings.TrimSpace(parsed.SessionKey)
	if sessionKey == "" {
		sessionKey = "agent:main:main"
	}
	agentID := strings.TrimSpace(parsed.AgentID)
	if agentID == "" {
		agentID = "main"
	}

	existing, err := state.Store().GetAgentRun(runID)
	if err != nil {
		return nil, mapDomainError(err)
	}
	if existing != nil {
		return resolveExistingAgentRun(existing, sessionKey, agentID)
	}

	if shapeErr := ensureSessionExists(state, sessionKey); shapeErr != nil {
		return nil, shapeErr
	}

	now := store.NowUnixMs()
	status := domain.RunStatusRunning
	if parsed.Deferred {
		status = domain.RunStatusQueued
	}
	run := &domain.AgentRun{
		ID:          runID,
		AgentID:     agentID,
		Input:       input,
		Status:      status,
		SessionKey:  sessionKey,
		Metadata:    agentRunMetadata(parsed.Deferred),
		CreatedAtMs: now,
		UpdatedAtMs: now,
	}

	if parsed.Deferred {
		if err := state.Store().UpsertAgentRun(run); err != nil {
			return nil, mapDomainError(err)
		}
		return agentMethodResponse(runID, sessionKey, nil, domain.RunStatusQueued), nil
	}

	run, shapeErr := executeAgentRun(state, run)
	if shapeErr != nil {
		return nil, shapeErr
	}
	output := run.Output
	return agentMethodResponse(runID, sessionKey, &output, domain.RunStatusCompleted), nil
}

func agentRunMetadata(deferred bool) domain.JSON {
	metadata, _ := json.Marshal(map[string]interface{}{
		"runtime":  "reclaw-core",
		"source":   "agent",
		"lineage":  "openclaw",
		"deferred": deferred,
	})
	return metadata
}

func agentMethodResponse(runID, sessionKey string, output *string, summary string) map[string]interface{} {
	var out interface{}
	if output != nil {
		out = *output
	}
	return map[string]interface{}{
		"runId":   runID,
		"status":  "ok",
		"summary": summary,
		"result": map[string]interface{}{
			"output":     out,
			"sessionKey": sessionKey,
		},
	}
}

// executeAgentRun performs the synchronous echo turn. Terminal states
// always win: a concurrent abort is never overwritten.
func executeAgentRun(state *SharedState, run *domain.AgentRun) (*domain.AgentRun, *protocol.ErrorShape) {
	sessionKey := run.SessionKey
	if sessionKey == "" {
		return nil, protocol.NewError(protocol.ErrorInvalidRequest,
			"invalid stored agent run: sessionKey is required")
	}

	if existing, shapeErr := loadTerminalRun(state, run.ID); shapeErr != nil || existing != nil {
		return existing, shapeErr
	}

	if run.Status != domain.RunStatusRunning {
		run.Status = domain.RunStatusRunning
		run.UpdatedAtMs = store.NowUnixMs()
		if err := state.Store().UpsertAgentRun(run); err != nil {
			return nil, mapDomainError(err)
		}
	} else {
		stored, err := state.Store().GetAgentRun(run.ID)
		if err != nil {
			return nil, mapDomainError(err)
		}
		if stored == nil {
			if err := state.Store().UpsertAgentRun(run); err != nil {
				return nil, mapDomainError(err)
			}
		}
	}

	if existing, shapeErr := loadTerminalRun(state, run.ID); shapeErr != nil || existing != nil {
		return existing, shapeErr
	}

	output := "Echo: " + run.Input
	messageMetadata, _ := json.Marshal(map[string]interface{}{"runId": run.ID})
	messages := []domain.ChatMessage{
		{
			ID:       "msg-" + uuid.NewString(),
			Role:     "user",
			Text:     run.Input,
			Status:   "final",
			Ts:       run.UpdatedAtMs,
			Metadata: messageMetadata,
		},
		{
			ID:       "msg-" + uuid.NewString(),
			Role:     "assistant",
			Text:     output,
			Status:   "final",
			Ts:       run.UpdatedAtMs + 1,
			Metadata: messageMetadata,
		},
	}

	if err := state.Store().AppendChatMessages(sessionKey, messages); err != nil {
		failedAt := store.NowUnixMs()
		run.Status = domain.RunStatusError
		run.Output = fmt.Sprintf("agent execution failed while appending chat messages: %v", err)
		run.UpdatedAtMs = failedAt
		run.CompletedAtMs = &failedAt
		finalized, finalizeErr := state.Store().FinalizeAgentRunIfStatus(run, domain.RunStatusRunning)
		if finalizeErr != nil {
			return nil, mapDomainError(finalizeErr)
		}
		if !finalized {
			latest, getErr := state.Store().GetAgentRun(run.ID)
			if getErr != nil {
				return nil, mapDomainError(getErr)
			}
			if latest != nil {
				return latest, nil
			}
		}
		return nil, mapDomainError(err)
	}

	if existing, shapeErr := loadTerminalRun(state, run.ID); shapeErr != nil || existing != nil {
		return existing, shapeErr
	}

	completedAt := store.NowUnixMs()
	run.Status = domain.RunStatusCompleted
	run.Output = output
	run.UpdatedAtMs = completedAt
	run.CompletedAtMs = &completedAt
	finalized, err := state.Store().FinalizeAgentRunIfStatus(run, domain.RunStatusRunning)
	if err != nil {
		return nil, mapDomainError(err)
	}
	if finalized {
		return run, nil
	}
	latest, err := state.Store().GetAgentRun(run.ID)
	if err != nil {
		return nil, mapDomainError(err)
	}
	if latest != nil {
		return latest, nil
	}
	if err := state.Store().UpsertAgentRun(run); err != nil {
		return nil, mapDomainError(err)
	}
	return run, nil
}

func resolveExistingAgentRun(existing *domain.AgentRun, requestedSessionKey, requestedAgentID string) (interface{}, *protocol.ErrorShape) {
	var metadata struct {
		Source string `json:"source"`
	}
	_ = json.Unmarshal(existing.Metadata, &metadata)
	if metadata.Source != "" && metadata.Source != "agent" {
		return nil, protocol.NewError(protocol.ErrorInvalidRequest,
			"invalid agent params: runId is already used by another method")
	}
	if existing.AgentID != requestedAgentID {
		return nil, protocol.NewError(protocol.ErrorInvalidRequest,
			"invalid agent params: runId is already used with a different agentId")
	}
	if existing.SessionKey != "" && existing.SessionKey != requestedSessionKey {
		return nil, protocol.NewError(protocol.ErrorInvalidRequest,
			"invalid agent params: runId is already used with a different sessionKey")
	}

	var output interface{}
	if existing.Status == domain.RunStatusCompleted || existing.Status == domain.RunStatusError {
		output = existing.Output
	}
	sessionKey := existing.SessionKey
	if sessionKey == "" {
		sessionKey = requestedSessionKey
	}
	return map[string]interface{}{
		"runId":   existing.ID,
		"status":  "ok",
		"summary": existing.Status,
		"result": map[string]interface{}{
			"output":     output,
			"sessionKey": sessionKey,
		},
	}, nil
}

func handleAgentWait(state *SharedState, params json.RawMessage) (interface{}, *protocol.ErrorShape) {
	var parsed struct {
		RunID     string `json:"runId"`
		TimeoutMs *int64 `json:"timeoutMs"`
	}
	if shapeErr := parseRequiredParams("agent.wait", params, &parsed); shapeErr != nil {
		return nil, shapeErr
	}
	runID := strings.TrimSpace(parsed.RunID)
	if runID == "" {
		return nil, protocol.NewError(protocol.ErrorInvalidRequest,
			"invalid agent.wait params: runId is required")
	}

	timeoutMs := int64(30_000)
	if parsed.TimeoutMs != nil {
		timeoutMs = *parsed.TimeoutMs
	}
	if timeoutMs > 120_000 {
		timeoutMs = 120_000
	}
	deadline := time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)

	for {
		run, err := state.Store().GetAgentRun(runID)
		if err != nil {
			return nil, mapDomainError(err)
		}
		if run != nil {
			if run.Status == domain.RunStatusQueued {
				updatedAt := store.NowUnixMs()
				claimed, err := state.Store().TransitionAgentRunStatus(
					runID, domain.RunStatusQueued, domain.RunStatusRunning, updatedAt)
				if err != nil {
					return nil, mapDomainError(err)
				}
				if claimed {
					run.Status = domain.RunStatusRunning
					run.UpdatedAtMs = updatedAt
					executed, shapeErr := executeAgentRun(state, run)
					if shapeErr != nil {
						return nil, shapeErr
					}
					return agentWaitPayload(runID, executed), nil
				}
			}

			if !run.Terminal() {
				if !time.Now().Before(deadline) {
					return agentTimeoutPayload(runID), nil
				}
				time.Sleep(50 * time.Millisecond)
				continue
			}
			return agentWaitPayload(runID, run), nil
		}

		if !time.Now().Before(deadline) {
			return agentTimeoutPayload(runID), nil
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func agentWaitPayload(runID string, run *domain.AgentRun) map[string]interface{} {
	var output interface{}
	if run.Status == domain.RunStatusCompleted {
		output = run.Output
	}
	var runError interface{}
	if run.Status == domain.RunStatusError {
		runError = run.Output
	}
	return map[string]interface{}{
		"runId":     runID,
		"status":    run.Status,
		"startedAt": run.CreatedAtMs,
		"endedAt":   run.CompletedAtMs,
		"error":     runError,
		"result": map[string]interface{}{
			"output":     output,
			"sessionKey": run.SessionKey,
		},
	}
}

func agentTimeoutPayload(runID string) map[string]interface{} {
	return map[string]interface{}{
		"runId":  runID,
		"status": "timeout",
	}
}

func loadTerminalRun(state *SharedState, runID string) (*domain.AgentRun, *protocol.ErrorShape) {
	run, err := state.Store().GetAgentRun(runID)
	if err != nil {
		return nil, mapDomainError(err)
	}
	if run != nil && run.Terminal() {
		return run, nil
	}
	return nil, nil
}

func handleAgentIdentity(_ *SharedState, params json.RawMessage) (interface{}, *protocol.ErrorShape) {
	var parsed struct {
		AgentID    string `json:"agentId"`
		SessionKey string `json:"sessionKey"`
	}
	if shapeErr := parseOptionalParams("agent.identity.get", params, &parsed); shapeErr != nil {
		return nil, shapeErr
	}

	agentID := strings.TrimSpace(parsed.AgentID)
	if agentID == "" {
		agentID = agentIDFromSessionKey(parsed.SessionKey)
	}
	if agentID == "" {
		agentID = "main"
	}

	return map[string]interface{}{
		"agentId": agentID,
		"name":    "Reclaw",
		"role":    "assistant",
		"avatar":  nil,
		"runtime": "go",
	}, nil
}

func agentIDFromSessionKey(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	parts := strings.Split(trimmed, ":")
	if len(parts) < 2 || parts[0] != "agent" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
