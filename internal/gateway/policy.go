package gateway

import (
	"fmt"
	"strings"

	"github.com/reclaw/reclaw/internal/protocol"
)

// Operator scopes. An operator connection with no scopes is granted
// all of them.
const (
	ScopeAdmin     = "operator.admin"
	ScopeRead      = "operator.read"
	ScopeWrite     = "operator.write"
	ScopeApprovals = "operator.approvals"
	ScopePairing   = "operator.pairing"
)

var nodeRoleMethods = map[string]bool{
	"node.invoke.result": true,
	"node.event":         true,
	"skills.bins":        true,
}

var controlPlaneWriteMethods = map[string]bool{
	"config.apply": true,
	"config.patch": true,
	"update.run":   true,
}

func isControlPlaneWriteMethod(method string) bool {
	return controlPlaneWriteMethods[method]
}

func defaultOperatorScopes() []string {
	return []string{ScopeAdmin, ScopeRead, ScopeWrite, ScopeApprovals, ScopePairing}
}

// authorizeSession enforces role and scope policy for a method.
// health is always allowed; node-only methods reject operators and
// vice versa; operator.admin grants everything else.
func authorizeSession(session *SessionContext, method string) *protocol.ErrorShape {
	if method == "health" {
		return nil
	}

	role := session.Role
	if role != "operator" && role != "node" {
		return protocol.NewError(protocol.ErrorInvalidRequest, fmt.Sprintf("unauthorized role: %s", role))
	}

	if nodeRoleMethods[method] {
		if role != "node" {
			return protocol.NewError(protocol.ErrorInvalidRequest, fmt.Sprintf("unauthorized role: %s", role))
		}
		return nil
	}

	if role != "operator" {
		return protocol.NewError(protocol.ErrorInvalidRequest, fmt.Sprintf("unauthorized role: %s", role))
	}

	if hasScope(session.Scopes, ScopeAdmin) {
		return nil
	}

	required := requiredScopeForMethod(method)

	if required == ScopeRead {
		if hasScope(session.Scopes, ScopeRead) || hasScope(session.Scopes, ScopeWrite) {
			return nil
		}
		return protocol.NewError(protocol.ErrorInvalidRequest, fmt.Sprintf("missing scope: %s", ScopeRead))
	}

	if hasScope(session.Scopes, required) {
		return nil
	}
	return protocol.NewError(protocol.ErrorInvalidRequest, fmt.Sprintf("missing scope: %s", required))
}

func hasScope(scopes []string, scope string) bool {
	for _, candidate := range scopes {
		if candidate == scope {
			return true
		}
	}
	return false
}

func requiredScopeForMethod(method string) string {
	switch method {
	case "exec.approval.request", "exec.approval.waitDecision", "exec.approval.resolve":
		return ScopeApprovals
	case "node.pair.request", "node.pair.list", "node.pair.approve", "node.pair.reject",
		"node.pair.verify", "device.pair.list", "device.pair.approve", "device.pair.reject",
		"device.pair.remove", "device.token.rotate", "device.token.revoke", "node.rename":
		return ScopePairing
	case "health", "doctor.memory.status", "logs.tail", "channels.status", "status",
		"usage.status", "usage.cost", "tts.status", "tts.providers", "models.list",
		"tools.catalog", "agents.list", "agent.identity.get", "skills.status",
		"voicewake.get", "sessions.list", "sessions.preview", "cron.list", "cron.status",
		"cron.runs", "system-presence", "last-heartbeat", "node.list", "node.describe",
		"chat.history", "config.get", "talk.config", "agents.files.list", "agents.files.get":
		return ScopeRead
	case "send", "agent", "agent.wait", "wake", "talk.mode", "tts.enable", "tts.disable",
		"tts.convert", "tts.setProvider", "voicewake.set", "node.invoke", "chat.send",
		"chat.abort", "browser.request":
		return ScopeWrite
	case "channels.logout", "agents.create", "agents.update", "agents.delete",
		"skills.install", "skills.update", "cron.add", "cron.update", "cron.remove",
		"cron.run", "sessions.patch", "sessions.reset", "sessions.delete",
		"sessions.compact", "connect", "set-heartbeats", "system-event", "agents.files.set":
		return ScopeAdmin
	default:
		// Unmapped methods, including the exec.approvals./config./
		// wizard./update. prefixes, fall back to admin.
		return ScopeAdmin
	}
}

// sanitizeScopes trims and deduplicates while preserving sorted-set
// semantics: blank entries are dropped.
func sanitizeScopes(scopes []string) []string {
	seen := make(map[string]bool, len(scopes))
	out := make([]string, 0, len(scopes))
	for _, scope := range scopes {
		trimmed := strings.TrimSpace(scope)
		if trimmed == "" || seen[trimmed] {
			continue
		}
		seen[trimmed] = true
		out = append(out, trimmed)
	}
	return out
}
