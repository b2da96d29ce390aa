package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/reclaw/reclaw/internal/protocol"
)

// baseMethods is the full advertised RPC surface. Methods listed here
// but absent from implementedMethods answer with a retryable
// "recognized but not implemented yet" error.
var baseMethods = []string{
	"health",
	"doctor.memory.status",
	"logs.tail",
	"channels.status",
	"channels.logout",
	"status",
	"usage.status",
	"usage.cost",
	"tts.status",
	"tts.providers",
	"tts.enable",
	"tts.disable",
	"tts.convert",
	"tts.setProvider",
	"config.get",
	"config.set",
	"config.apply",
	"config.patch",
	"config.schema",
	"exec.approvals.get",
	"exec.approvals.set",
	"exec.approvals.node.get",
	"exec.approvals.node.set",
	"exec.approval.request",
	"exec.approval.waitDecision",
	"exec.approval.resolve",
	"wizard.start",
	"wizard.next",
	"wizard.cancel",
	"wizard.status",
	"talk.config",
	"talk.mode",
	"models.list",
	"tools.catalog",
	"agents.list",
	"agents.create",
	"agents.update",
	"agents.delete",
	"agents.files.list",
	"agents.files.get",
	"agents.files.set",
	"skills.status",
	"skills.bins",
	"skills.install",
	"skills.update",
	"update.run",
	"voicewake.get",
	"voicewake.set",
	"sessions.list",
	"sessions.preview",
	"sessions.patch",
	"sessions.reset",
	"sessions.delete",
	"sessions.compact",
	"last-heartbeat",
	"set-heartbeats",
	"wake",
	"node.pair.request",
	"node.pair.list",
	"node.pair.approve",
	"node.pair.reject",
	"node.pair.verify",
	"device.pair.list",
	"device.pair.approve",
	"device.pair.reject",
	"device.pair.remove",
	"device.token.rotate",
	"device.token.revoke",
	"node.rename",
	"node.list",
	"node.describe",
	"node.invoke",
	"node.invoke.result",
	"node.event",
	"cron.list",
	"cron.status",
	"cron.add",
	"cron.update",
	"cron.remove",
	"cron.run",
	"cron.runs",
	"system-presence",
	"system-event",
	"send",
	"agent",
	"agent.identity.get",
	"agent.wait",
	"browser.request",
	"chat.history",
	"chat.abort",
	"chat.send",
}

// gatewayEvents is advertised in the hello features block. The event
// bus is reserved; the core does not push server-initiated frames.
var gatewayEvents = []string{
	"connect.challenge",
	"agent",
	"chat",
	"presence",
	"tick",
	"talk.mode",
	"shutdown",
	"health",
	"heartbeat",
	"cron",
	"node.pair.requested",
	"node.pair.resolved",
	"node.invoke.request",
	"device.pair.requested",
	"device.pair.resolved",
	"voicewake.changed",
	"exec.approval.requested",
	"exec.approval.resolved",
	"update.available",
}

var implementedMethods = []string{
	"health",
	"status",
	"config.get",
	"config.set",
	"config.apply",
	"config.patch",
	"config.schema",
	"exec.approvals.get",
	"exec.approvals.set",
	"exec.approvals.node.get",
	"exec.approvals.node.set",
	"exec.approval.request",
	"exec.approval.waitDecision",
	"exec.approval.resolve",
	"sessions.list",
	"sessions.preview",
	"sessions.patch",
	"sessions.reset",
	"sessions.delete",
	"sessions.compact",
	"last-heartbeat",
	"set-heartbeats",
	"wake",
	"system-presence",
	"system-event",
	"send",
	"agent",
	"agent.identity.get",
	"agent.wait",
	"chat.history",
	"chat.abort",
	"chat.send",
	"cron.list",
	"cron.status",
	"cron.add",
	"cron.update",
	"cron.remove",
	"cron.run",
	"cron.runs",
	"node.pair.request",
	"node.pair.list",
	"node.pair.approve",
	"node.pair.reject",
	"node.pair.verify",
	"node.rename",
	"node.list",
	"node.describe",
	"node.invoke",
	"node.invoke.result",
	"node.event",
}

var (
	knownMethodSet       = toSet(baseMethods)
	implementedMethodSet = toSet(implementedMethods)
)

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, value := range values {
		set[value] = true
	}
	return set
}

func isKnownMethod(method string) bool       { return knownMethodSet[method] }
func isImplementedMethod(method string) bool { return implementedMethodSet[method] }

// parseOptionalParams decodes params into out, treating a missing
// params block as an empty object.
func parseOptionalParams(method string, params json.RawMessage, out interface{}) *protocol.ErrorShape {
	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}
	if err := json.Unmarshal(params, out); err != nil {
		return protocol.NewError(protocol.ErrorInvalidRequest,
			fmt.Sprintf("invalid %s params: %v", method, err))
	}
	return nil
}

// parseRequiredParams decodes params into out and rejects missing or
// non-object params.
func parseRequiredParams(method string, params json.RawMessage, out interface{}) *protocol.ErrorShape {
	if len(params) == 0 || !isJSONObjectRaw(params) {
		return protocol.NewError(protocol.ErrorInvalidRequest,
			fmt.Sprintf("invalid %s params: object required", method))
	}
	if err := json.Unmarshal(params, out); err != nil {
		return protocol.NewError(protocol.ErrorInvalidRequest,
			fmt.Sprintf("invalid %s params: %v", method, err))
	}
	return nil
}

func isJSONObjectRaw(raw json.RawMessage) bool {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		case '{':
			return true
		default:
			return false
		}
	}
	return false
}
