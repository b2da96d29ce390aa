package gateway

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/reclaw/reclaw/internal/domain"
	"github.com/reclaw/reclaw/internal/protocol"
	"github.com/reclaw/reclaw/internal/store"
)

func handleNodePairRequest(state *SharedState, params json.RawMessage) (interface{}, *protocol.ErrorShape) {
	var parsed struct {
		NodeID       string   `json:"nodeId"`
		DisplayName  string   `json:"displayName"`
		Platform     string   `json:"platform"`
		DeviceFamily string   `json:"deviceFamily"`
		Commands     []string `json:"commands"`
		PublicKey    string   `json:"publicKey"`
	}
	if shapeErr := parseRequiredParams("node.pair.request", params, &parsed); shapeErr != nil {
		return nil, shapeErr
	}

	nodeID := strings.TrimSpace(parsed.NodeID)
	if nodeID == "" {
		return nil, protocol.NewError(protocol.ErrorInvalidRequest,
			"invalid node.pair.request params: nodeId is required")
	}

	displayName := strings.TrimSpace(parsed.DisplayName)
	if displayName == "" {
		displayName = nodeID
	}
	platform := strings.TrimSpace(parsed.Platform)
	if platform == "" {
		platform = "unknown"
	}

	request, err := state.Store().AddNodePairRequest(domain.NodePairRequestInput{
		NodeID:       nodeID,
		DisplayName:  displayName,
		Platform:     platform,
		DeviceFamily: trimToNil(parsed.DeviceFamily),
		Commands:     sanitizeItems(parsed.Commands),
		PublicKey:    trimToNil(parsed.PublicKey),
	})
	if err != nil {
		return nil, mapDomainError(err)
	}

	return map[string]interface{}{
		"status":  "pending",
		"created": true,
		"request": request,
	}, nil
}

func handleNodePairList(state *SharedState, params json.RawMessage) (interface{}, *protocol.ErrorShape) {
	var ignored map[string]json.RawMessage
	if shapeErr := parseOptionalParams("node.pair.list", params, &ignored); shapeErr != nil {
		return nil, shapeErr
	}
	requests, err := state.Store().ListNodePairRequests()
	if err != nil {
		return nil, mapDomainError(err)
	}
	return map[string]interface{}{
		"ts":       store.NowUnixMs(),
		"requests": requests,
	}, nil
}

func handleNodePairResolution(state *SharedState, params json.RawMessage, approved bool, method string) (interface{}, *protocol.ErrorShape) {
	var parsed struct {
		RequestID string `json:"requestId"`
		Reason    string `json:"reason"`
	}
	if shapeErr := parseRequiredParams(method, params, &parsed); shapeErr != nil {
		return nil, shapeErr
	}
	requestID := strings.TrimSpace(parsed.RequestID)
	if requestID == "" {
		return nil, protocol.NewError(protocol.ErrorInvalidRequest,
			fmt.Sprintf("invalid %s params: requestId is required", method))
	}

	resolved, err := state.Store().ResolveNodePairRequest(requestID, approved, trimToNil(parsed.Reason))
	if err != nil {
		return nil, mapDomainError(err)
	}
	return resolved, nil
}

func handleNodePairVerify(state *SharedState, params json.RawMessage) (interface{}, *protocol.ErrorShape) {
	var parsed struct {
		NodeID string `json:"nodeId"`
		Token  string `json:"token"`
	}
	if shapeErr := parseRequiredParams("node.pair.verify", params, &parsed); shapeErr != nil {
		return nil, shapeErr
	}
	nodeID := strings.TrimSpace(parsed.NodeID)
	if nodeID == "" {
		return nil, protocol.NewError(protocol.ErrorInvalidRequest,
			"invalid node.pair.verify params: nodeId is required")
	}

	node, err := state.Store().GetNode(nodeID)
	if err != nil {
		return nil, mapDomainError(err)
	}
	if node == nil {
		return map[string]interface{}{
			"ok":       true,
			"nodeId":   nodeID,
			"paired":   false,
			"verified": false,
		}, nil
	}

	hasToken := strings.TrimSpace(parsed.Token) != ""
	return map[string]interface{}{
		"ok":       true,
		"nodeId":   nodeID,
		"paired":   node.Paired,
		"verified": node.Paired && hasToken,
	}, nil
}

func handleNodeRename(state *SharedState, params json.RawMessage) (interface{}, *protocol.ErrorShape) {
	var parsed struct {
		NodeID      string `json:"nodeId"`
		ID          string `json:"id"`
		DisplayName string `json:"displayName"`
	}
	if shapeErr := parseRequiredParams("node.rename", params, &parsed); shapeErr != nil {
		return nil, shapeErr
	}
	nodeID, shapeErr := resolveNodeID(parsed.NodeID, parsed.ID, "node.rename")
	if shapeErr != nil {
		return nil, shapeErr
	}
	displayName := strings.TrimSpace(parsed.DisplayName)
	if displayName == "" {
		return nil, protocol.NewError(protocol.ErrorInvalidRequest,
			"invalid node.rename params: displayName is required")
	}

	node, err := state.Store().RenameNode(nodeID, displayName)
	if err != nil {
		return nil, mapDomainError(err)
	}
	return map[string]interface{}{
		"nodeId":      node.ID,
		"displayName": node.DisplayName,
	}, nil
}

func handleNodeList(state *SharedState, params json.RawMessage) (interface{}, *protocol.ErrorShape) {
	var ignored map[string]json.RawMessage
	if shapeErr := parseOptionalParams("node.list", params, &ignored); shapeErr != nil {
		return nil, shapeErr
	}
	nodes, err := state.Store().ListNodes()
	if err != nil {
		return nil, mapDomainError(err)
	}
	return map[string]interface{}{
		"ts":    store.NowUnixMs(),
		"nodes": nodes,
	}, nil
}

func handleNodeDescribe(state *SharedState, params json.RawMessage) (interface{}, *protocol.ErrorShape) {
	var parsed struct {
		NodeID string `json:"nodeId"`
		ID     string `json:"id"`
	}
	if shapeErr := parseRequiredParams("node.describe", params, &parsed); shapeErr != nil {
		return nil, shapeErr
	}
	nodeID, shapeErr := resolveNodeID(parsed.NodeID, parsed.ID, "node.describe")
	if shapeErr != nil {
		return nil, shapeErr
	}

	node, err := state.Store().GetNode(nodeID)
	if err != nil {
		return nil, mapDomainError(err)
	}
	if node == nil {
		return nil, protocol.NewError(protocol.ErrorInvalidRequest, "unknown nodeId")
	}

	return map[string]interface{}{
		"ts":           store.NowUnixMs(),
		"nodeId":       node.ID,
		"displayName":  node.DisplayName,
		"platform":     node.Platform,
		"deviceFamily": node.DeviceFamily,
		"commands":     node.Commands,
		"paired":       node.Paired,
		"status":       node.Status,
		"lastSeenMs":   node.LastSeenMs,
		"metadata":     node.Metadata,
	}, nil
}

func handleNodeInvoke(state *SharedState, params json.RawMessage) (interface{}, *protocol.ErrorShape) {
	var parsed struct {
		NodeID  string          `json:"nodeId"`
		Command string          `json:"command"`
		Args    []string        `json:"args"`
		Input   json.RawMessage `json:"input"`
	}
	if shapeErr := parseRequiredParams("node.invoke", params, &parsed); shapeErr != nil {
		return nil, shapeErr
	}

	nodeID := strings.TrimSpace(parsed.NodeID)
	if nodeID == "" {
		return nil, protocol.NewError(protocol.ErrorInvalidRequest,
			"invalid node.invoke params: nodeId is required")
	}
	command := strings.TrimSpace(parsed.Command)
	if command == "" {
		return nil, protocol.NewError(protocol.ErrorInvalidRequest,
			"invalid node.invoke params: command is required")
	}

	invoke, err := state.Store().CreateNodeInvoke(domain.NodeInvokeInput{
		NodeID:  nodeID,
		Command: command,
		Args:    sanitizeItems(parsed.Args),
		Input:   domain.JSON(parsed.Input),
	})
	if err != nil {
		return nil, mapDomainError(err)
	}

	return map[string]interface{}{
		"ok":        true,
		"nodeId":    nodeID,
		"command":   command,
		"requestId": invoke.RequestID,
		"status":    invoke.Status,
		"payload":   invoke.Result,
	}, nil
}

func handleNodeInvokeResult(state *SharedState, params json.RawMessage) (interface{}, *protocol.ErrorShape) {
	var parsed struct {
		RequestID string          `json:"requestId"`
		Status    string          `json:"status"`
		Payload   json.RawMessage `json:"payload"`
		Error     *string         `json:"error"`
	}
	if shapeErr := parseRequiredParams("node.invoke.result", params, &parsed); shapeErr != nil {
		return nil, shapeErr
	}

	requestID := strings.TrimSpace(parsed.RequestID)
	if requestID == "" {
		return nil, protocol.NewError(protocol.ErrorInvalidRequest,
			"invalid node.invoke.result params: requestId is required")
	}
	status := strings.TrimSpace(parsed.Status)
	if status == "" {
		return nil, protocol.NewError(protocol.ErrorInvalidRequest,
			"invalid node.invoke.result params: status is required")
	}

	updated, err := state.Store().UpdateNodeInvokeResult(requestID, status, domain.JSON(parsed.Payload), parsed.Error)
	if err != nil {
		return nil, mapDomainError(err)
	}
	return updated, nil
}

func handleNodeEvent(state *SharedState, session *SessionContext, params json.RawMessage) (interface{}, *protocol.ErrorShape) {
	var parsed struct {
		NodeID  string          `json:"nodeId"`
		Event   string          `json:"event"`
		Payload json.RawMessage `json:"payload"`
	}
	if shapeErr := parseRequiredParams("node.event", params, &parsed); shapeErr != nil {
		return nil, shapeErr
	}

	nodeID := strings.TrimSpace(parsed.NodeID)
	if nodeID == "" && session.Role == "node" {
		nodeID = session.ClientID
	}
	if nodeID == "" {
		return nil, protocol.NewError(protocol.ErrorInvalidRequest,
			"invalid node.event params: nodeId is required")
	}

	event := strings.TrimSpace(parsed.Event)
	if event == "" {
		return nil, protocol.NewError(protocol.ErrorInvalidRequest,
			"invalid node.event params: event is required")
	}

	record, err := state.Store().AddNodeEvent(nodeID, event, domain.JSON(parsed.Payload))
	if err != nil {
		return nil, mapDomainError(err)
	}
	return map[string]interface{}{
		"ok":    true,
		"event": record,
	}, nil
}

func resolveNodeID(nodeID, id, method string) (string, *protocol.ErrorShape) {
	resolved := strings.TrimSpace(nodeID)
	if resolved == "" {
		resolved = strings.TrimSpace(id)
	}
	if resolved == "" {
		return "", protocol.NewError(protocol.ErrorInvalidRequest,
			fmt.Sprintf("invalid %s params: nodeId is required", method))
	}
	return resolved, nil
}

// sanitizeItems trims, drops blanks and de-duplicates while preserving
// order.
func sanitizeItems(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]bool, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" || seen[trimmed] {
			continue
		}
		seen[trimmed] = true
		out = append(out, trimmed)
	}
	return out
}
