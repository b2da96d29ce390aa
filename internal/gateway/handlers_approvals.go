package gateway

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/reclaw/reclaw/internal/protocol"
	"github.com/reclaw/reclaw/internal/store"
)

const (
	execApprovalsGlobalKey    = "runtime/exec-approvals/global"
	execApprovalsNodePrefix   = "runtime/exec-approvals/node/"
	execApprovalRequestPrefix = "runtime/exec-approval/request/"
	defaultApprovalTimeoutMs  = 30_000
)

type execApprovalRequest struct {
	Command      string  `json:"command"`
	Cwd          *string `json:"cwd"`
	NodeID       *string `json:"nodeId"`
	Host         *string `json:"host"`
	Security     *string `json:"security"`
	Ask          *string `json:"ask"`
	AgentID      *string `json:"agentId"`
	ResolvedPath *string `json:"resolvedPath"`
	SessionKey   *string `json:"sessionKey"`
	RequestedBy  *string `json:"requestedBy"`
}

type execApprovalRecord struct {
	ID           string              `json:"id"`
	Request      execApprovalRequest `json:"request"`
	Status       string              `json:"status"`
	Decision     *string             `json:"decision"`
	CreatedAtMs  int64               `json:"createdAtMs"`
	ExpiresAtMs  int64               `json:"expiresAtMs"`
	ResolvedAtMs *int64              `json:"resolvedAtMs"`
	ResolvedBy   *string             `json:"resolvedBy"`
}

func handleExecApprovalsGet(state *SharedState, params json.RawMessage) (interface{}, *protocol.ErrorShape) {
	var parsed struct {
		BaseHash string `json:"baseHash"`
	}
	if shapeErr := parseOptionalParams("exec.approvals.get", params, &parsed); shapeErr != nil {
		return nil, shapeErr
	}
	return readApprovalsSnapshot(state, execApprovalsGlobalKey)
}

func handleExecApprovalsSet(state *SharedState, params json.RawMessage) (interface{}, *protocol.ErrorShape) {
	var parsed struct {
		File     json.RawMessage `json:"file"`
		BaseHash string          `json:"baseHash"`
	}
	if shapeErr := parseRequiredParams("exec.approvals.set", params, &parsed); shapeErr != nil {
		return nil, shapeErr
	}
	return saveApprovalsSnapshot(state, execApprovalsGlobalKey, parsed.File, parsed.BaseHash, "exec.approvals.set")
}

func handleExecApprovalsNodeGet(state *SharedState, params json.RawMessage) (interface{}, *protocol.ErrorShape) {
	var parsed struct {
		NodeID   string `json:"nodeId"`
		BaseHash string `json:"baseHash"`
	}
	if shapeErr := parseRequiredParams("exec.approvals.node.get", params, &parsed); shapeErr != nil {
		return nil, shapeErr
	}
	nodeID := strings.TrimSpace(parsed.NodeID)
	if nodeID == "" {
		return nil, protocol.NewError(protocol.ErrorInvalidRequest,
			"invalid exec.approvals.node.get params: nodeId is required")
	}
	return readApprovalsSnapshot(state, execApprovalsNodePrefix+nodeID)
}

func handleExecApprovalsNodeSet(state *SharedState, params json.RawMessage) (interface{}, *protocol.ErrorShape) {
	var parsed struct {
		NodeID   string          `json:"nodeId"`
		File     json.RawMessage `json:"file"`
		BaseHash string          `json:"baseHash"`
	}
	if shapeErr := parseRequiredParams("exec.approvals.node.set", params, &parsed); shapeErr != nil {
		return nil, shapeErr
	}
	nodeID := strings.TrimSpace(parsed.NodeID)
	if nodeID == "" {
		return nil, protocol.NewError(protocol.ErrorInvalidRequest,
			"invalid exec.approvals.node.set params: nodeId is required")
	}
	return saveApprovalsSnapshot(state, execApprovalsNodePrefix+nodeID, parsed.File, parsed.BaseHash, "exec.approvals.node.set")
}

func handleExecApprovalRequest(state *SharedState, session *SessionContext, params json.RawMessage) (interface{}, *protocol.ErrorShape) {
	var parsed struct {
		ID           string `json:"id"`
		Command      string `json:"command"`
		Cwd          string `json:"cwd"`
		NodeID       string `json:"nodeId"`
		Host         string `json:"host"`
		Security     string `json:"security"`
		Ask          string `json:"ask"`
		AgentID      string `json:"agentId"`
		ResolvedPath string `json:"resolvedPath"`
		SessionKey   string `json:"sessionKey"`
		TimeoutMs    *int64 `json:"timeoutMs"`
		TwoPhase     bool   `json:"twoPhase"`
	}
	if shapeErr := parseRequiredParams("exec.approval.request", params, &parsed); shapeErr != nil {
		return nil, shapeErr
	}

	command := strings.TrimSpace(parsed.Command)
	if command == "" {
		return nil, protocol.NewError(protocol.ErrorInvalidRequest,
			"invalid exec.approval.request params: command is required")
	}

	host := trimToNil(parsed.Host)
	nodeID := trimToNil(parsed.NodeID)
	if host != nil && *host == "node" && nodeID == nil {
		return nil, protocol.NewError(protocol.ErrorInvalidRequest, "nodeId is required for host=node")
	}

	id := strings.TrimSpace(parsed.ID)
	if id == "" {
		id = uuid.NewString()
	}

	existing, shapeErr := loadApprovalRecord(state, id)
	if shapeErr != nil {
		return nil, shapeErr
	}
	if existing != nil {
		return nil, protocol.NewError(protocol.ErrorInvalidRequest, "approval id already exists")
	}

	timeoutMs := int64(defaultApprovalTimeoutMs)
	if parsed.TimeoutMs != nil {
		timeoutMs = *parsed.TimeoutMs
	}
	if timeoutMs < 1_000 {
		timeoutMs = 1_000
	}
	if timeoutMs > 300_000 {
		timeoutMs = 300_000
	}

	createdAt := store.NowUnixMs()
	requestedBy := session.ClientID
	record := &execApprovalRecord{
		ID: id,
		Request: execApprovalRequest{
			Command:      command,
			Cwd:          trimToNil(parsed.Cwd),
			NodeID:       nodeID,
			Host:         host,
			Security:     trimToNil(parsed.Security),
			Ask:          trimToNil(parsed.Ask),
			AgentID:      trimToNil(parsed.AgentID),
			ResolvedPath: trimToNil(parsed.ResolvedPath),
			SessionKey:   trimToNil(parsed.SessionKey),
			RequestedBy:  &requestedBy,
		},
		Status:      "pending",
		CreatedAtMs: createdAt,
		ExpiresAtMs: createdAt + timeoutMs,
	}

	if shapeErr := saveApprovalRecord(state, record); shapeErr != nil {
		return nil, shapeErr
	}

	if parsed.TwoPhase {
		return map[string]interface{}{
			"status":      "accepted",
			"id":          record.ID,
			"createdAtMs": record.CreatedAtMs,
			"expiresAtMs": record.ExpiresAtMs,
		}, nil
	}
	return approvalDecisionPayload(record, record.Status), nil
}

func handleExecApprovalWaitDecision(state *SharedState, params json.RawMessage) (interface{}, *protocol.ErrorShape) {
	var parsed struct {
		ID        string `json:"id"`
		TimeoutMs *int64 `json:"timeoutMs"`
	}
	if shapeErr := parseRequiredParams("exec.approval.waitDecision", params, &parsed); shapeErr != nil {
		return nil, shapeErr
	}
	id := strings.TrimSpace(parsed.ID)
	if id == "" {
		return nil, protocol.NewError(protocol.ErrorInvalidRequest,
			"invalid exec.approval.waitDecision params: id is required")
	}

	timeoutMs := int64(15_000)
	if parsed.TimeoutMs != nil {
		timeoutMs = *parsed.TimeoutMs
	}
	if timeoutMs < 1 {
		timeoutMs = 1
	}
	if timeoutMs > 120_000 {
		timeoutMs = 120_000
	}
	deadline := time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)

	for {
		record, shapeErr := loadApprovalRecord(state, id)
		if shapeErr != nil {
			return nil, shapeErr
		}
		if record == nil {
			return nil, protocol.NewError(protocol.ErrorInvalidRequest, "approval expired or not found")
		}

		if record.Status != "pending" || record.Decision != nil {
			return approvalDecisionPayload(record, record.Status), nil
		}

		if store.NowUnixMs() >= record.ExpiresAtMs {
			record.Status = "expired"
			if shapeErr := saveApprovalRecord(state, record); shapeErr != nil {
				return nil, shapeErr
			}
			return approvalDecisionPayload(record, record.Status), nil
		}

		if !time.Now().Before(deadline) {
			return approvalDecisionPayload(record, "pending"), nil
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func handleExecApprovalResolve(state *SharedState, session *SessionContext, params json.RawMessage) (interface{}, *protocol.ErrorShape) {
	var parsed struct {
		ID       string `json:"id"`
		Decision string `json:"decision"`
	}
	if shapeErr := parseRequiredParams("exec.approval.resolve", params, &parsed); shapeErr != nil {
		return nil, shapeErr
	}
	id := strings.TrimSpace(parsed.ID)
	if id == "" {
		return nil, protocol.NewError(protocol.ErrorInvalidRequest,
			"invalid exec.approval.resolve params: id is required")
	}
	decision := strings.TrimSpace(parsed.Decision)
	if decision == "" {
		return nil, protocol.NewError(protocol.ErrorInvalidRequest,
			"invalid exec.approval.resolve params: decision is required")
	}
	switch decision {
	case "allow-once", "allow-always", "deny":
	default:
		return nil, protocol.NewError(protocol.ErrorInvalidRequest, "invalid decision")
	}

	record, shapeErr := loadApprovalRecord(state, id)
	if shapeErr != nil {
		return nil, shapeErr
	}
	if record == nil {
		return nil, protocol.NewError(protocol.ErrorInvalidRequest, "unknown approval id")
	}
	if record.Status != "pending" {
		return nil, protocol.NewError(protocol.ErrorInvalidRequest, "approval is not pending")
	}

	resolvedAt := store.NowUnixMs()
	record.Status = "resolved"
	record.Decision = &decision
	record.ResolvedAtMs = &resolvedAt
	record.ResolvedBy = &session.ClientID
	if shapeErr := saveApprovalRecord(state, record); shapeErr != nil {
		return nil, shapeErr
	}

	return map[string]interface{}{
		"ok":       true,
		"id":       record.ID,
		"decision": decision,
	}, nil
}

func approvalDecisionPayload(record *execApprovalRecord, status string) map[string]interface{} {
	var decision interface{}
	if status == record.Status && record.Decision != nil {
		decision = *record.Decision
	}
	return map[string]interface{}{
		"id":          record.ID,
		"decision":    decision,
		"createdAtMs": record.CreatedAtMs,
		"expiresAtMs": record.ExpiresAtMs,
		"status":      status,
	}
}

func readApprovalsSnapshot(state *SharedState, key string) (map[string]interface{}, *protocol.ErrorShape) {
	entry, err := state.Store().GetConfigEntry(key)
	if err != nil {
		return nil, mapDomainError(err)
	}

	exists := entry != nil
	file := json.RawMessage(`{}`)
	var hash interface{}
	if exists {
		file = entry.Value
		hash = stableValueHash(file)
	}

	return map[string]interface{}{
		"path":   key,
		"exists": exists,
		"hash":   hash,
		"file":   file,
	}, nil
}

// saveApprovalsSnapshot enforces optimistic concurrency: once a file
// exists, writers must echo the hash they last read.
func saveApprovalsSnapshot(state *SharedState, key string, file json.RawMessage, baseHash, method string) (map[string]interface{}, *protocol.ErrorShape) {
	if len(file) == 0 || !isJSONObjectRaw(file) {
		return nil, protocol.NewError(protocol.ErrorInvalidRequest,
			fmt.Sprintf("invalid %s params: file must be an object", method))
	}

	current, shapeErr := readApprovalsSnapshot(state, key)
	if shapeErr != nil {
		return nil, shapeErr
	}
	exists, _ := current["exists"].(bool)
	if exists {
		currentHash, ok := current["hash"].(string)
		if !ok || currentHash == "" {
			return nil, protocol.NewError(protocol.ErrorInvalidRequest,
				"exec approvals base hash unavailable; re-run get and retry")
		}
		baseHash = strings.TrimSpace(baseHash)
		if baseHash == "" {
			return nil, protocol.NewError(protocol.ErrorInvalidRequest,
				"exec approvals base hash required; re-run get and retry")
		}
		if baseHash != currentHash {
			return nil, protocol.NewError(protocol.ErrorInvalidRequest,
				"exec approvals changed since last load; re-run get and retry")
		}
	}

	if _, err := state.Store().SetConfigEntry(key, file); err != nil {
		return nil, mapDomainError(err)
	}
	return readApprovalsSnapshot(state, key)
}

func loadApprovalRecord(state *SharedState, id string) (*execApprovalRecord, *protocol.ErrorShape) {
	entry, err := state.Store().GetConfigEntry(execApprovalRequestPrefix + id)
	if err != nil {
		return nil, mapDomainError(err)
	}
	if entry == nil {
		return nil, nil
	}

	var record execApprovalRecord
	if err := json.Unmarshal(entry.Value, &record); err != nil {
		return nil, protocol.NewError(protocol.ErrorUnavailable,
			fmt.Sprintf("failed to decode approval record: %v", err))
	}
	return &record, nil
}

func saveApprovalRecord(state *SharedState, record *execApprovalRecord) *protocol.ErrorShape {
	payload, err := json.Marshal(record)
	if err != nil {
		return protocol.NewError(protocol.ErrorUnavailable,
			fmt.Sprintf("failed to encode approval record: %v", err))
	}
	if _, err := state.Store().SetConfigEntry(execApprovalRequestPrefix+record.ID, payload); err != nil {
		return mapDomainError(err)
	}
	return nil
}

// stableValueHash canonicalizes the JSON text before hashing so
// semantically equal documents compare equal.
func stableValueHash(value json.RawMessage) string {
	var decoded interface{}
	text := string(value)
	if err := json.Unmarshal(value, &decoded); err == nil {
		if canonical, err := json.Marshal(decoded); err == nil {
			text = string(canonical)
		}
	}
	hasher := fnv.New64a()
	_, _ = hasher.Write([]byte(text))
	return fmt.Sprintf("%016x", hasher.Sum64())
}

func trimToNil(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
