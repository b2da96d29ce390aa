package gateway

import (
	"encoding/json"

	"github.com/reclaw/reclaw/internal/protocol"
)

// handleHealth never fails the RPC: storage trouble is reported inside
// the payload instead.
func handleHealth(state *SharedState, _ json.RawMessage) (interface{}, *protocol.ErrorShape) {
	payload, err := state.HealthPayload()
	if err != nil {
		return map[string]interface{}{
			"ok":    false,
			"error": protocol.NewError(protocol.ErrorUnavailable, err.Error()),
		}, nil
	}
	return payload, nil
}

func handleStatus(state *SharedState, session *SessionContext) (interface{}, *protocol.ErrorShape) {
	return map[string]interface{}{
		"ok":          true,
		"runtime":     "go",
		"version":     state.RuntimeVersion(),
		"authMode":    state.AuthModeLabel(),
		"uptimeMs":    state.UptimeMs(),
		"connections": state.ConnectionCount(),
		"session": map[string]interface{}{
			"connId":     session.ConnID,
			"role":       session.Role,
			"scopes":     session.Scopes,
			"clientId":   session.ClientID,
			"clientMode": session.ClientMode,
		},
	}, nil
}

func readyPayload(state *SharedState) map[string]interface{} {
	return map[string]interface{}{
		"ok":          true,
		"runtime":     "go",
		"version":     state.RuntimeVersion(),
		"connections": state.ConnectionCount(),
	}
}

func infoPayload(state *SharedState) map[string]interface{} {
	return map[string]interface{}{
		"name":    "reclaw-core",
		"runtime": "go",
		"version": state.RuntimeVersion(),
		"lineage": map[string]interface{}{
			"forkedFrom": "openclaw",
			"upstream":   "https://github.com/openclaw/openclaw",
		},
		"protocolVersion": protocol.Version,
		"authMode":        state.AuthModeLabel(),
		"methods":         state.Methods(),
		"events":          state.Events(),
	}
}
