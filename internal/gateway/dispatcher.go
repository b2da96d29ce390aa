package gateway

import (
	"errors"
	"fmt"

	"github.com/reclaw/reclaw/internal/domain"
	"github.com/reclaw/reclaw/internal/protocol"
)

// dispatchRequest routes one post-handshake request frame: policy check,
// control-plane rate limit, then the method handler.
func dispatchRequest(state *SharedState, session *SessionContext, request *protocol.RequestFrame) *protocol.ResponseFrame {
	if request.Method == "connect" {
		return protocol.ResponseError(request.ID, protocol.NewError(
			protocol.ErrorInvalidRequest,
			"connect can only be used as the first handshake request"))
	}

	if shapeErr := authorizeSession(session, request.Method); shapeErr != nil {
		return protocol.ResponseError(request.ID, shapeErr)
	}

	if isControlPlaneWriteMethod(request.Method) {
		key := fmt.Sprintf("%s:%s", session.ClientID, request.Method)
		decision := state.controlLimiter.RecordFailure(key)
		if !decision.Allowed {
			retrySecs := (decision.RetryAfterMs + 999) / 1000
			shapeErr := protocol.NewError(protocol.ErrorUnavailable,
				fmt.Sprintf("rate limit exceeded for %s; retry after %ds", request.Method, retrySecs)).
				WithRetry(decision.RetryAfterMs).
				WithDetails(map[string]interface{}{
					"method": request.Method,
					"limit":  "3 per 60s",
				})
			return protocol.ResponseError(request.ID, shapeErr)
		}
	}

	state.AppendGatewayLog("info", "rpc request method="+request.Method, request.Method, session.ConnID)

	payload, shapeErr := routeMethod(state, session, request)
	if shapeErr != nil {
		state.AppendGatewayLog("warn",
			fmt.Sprintf("rpc error method=%s code=%s", request.Method, shapeErr.Code),
			request.Method, session.ConnID)
		return protocol.ResponseError(request.ID, shapeErr)
	}

	state.AppendGatewayLog("info", "rpc success method="+request.Method, request.Method, session.ConnID)
	return protocol.ResponseOK(request.ID, payload)
}

func routeMethod(state *SharedState, session *SessionContext, request *protocol.RequestFrame) (interface{}, *protocol.ErrorShape) {
	params := request.Params

	switch request.Method {
	case "health":
		return handleHealth(state, params)
	case "status":
		return handleStatus(state, session)
	case "config.get":
		return handleConfigGet(state, params)
	case "config.set":
		return handleConfigWrite(state, params, "config.set")
	case "config.apply":
		return handleConfigWrite(state, params, "config.apply")
	case "config.patch":
		return handleConfigPatch(state, params)
	case "config.schema":
		return handleConfigSchema(), nil
	case "exec.approvals.get":
		return handleExecApprovalsGet(state, params)
	case "exec.approvals.set":
		return handleExecApprovalsSet(state, params)
	case "exec.approvals.node.get":
		return handleExecApprovalsNodeGet(state, params)
	case "exec.approvals.node.set":
		return handleExecApprovalsNodeSet(state, params)
	case "exec.approval.request":
		return handleExecApprovalRequest(state, session, params)
	case "exec.approval.waitDecision":
		return handleExecApprovalWaitDecision(state, params)
	case "exec.approval.resolve":
		return handleExecApprovalResolve(state, session, params)
	case "sessions.list":
		return handleSessionsList(state, params)
	case "sessions.preview":
		return handleSessionsPreview(state, params)
	case "sessions.patch":
		return handleSessionsPatch(state, params)
	case "sessions.reset":
		return handleSessionsReset(state)
	case "sessions.delete":
		return handleSessionsDelete(state, params)
	case "sessions.compact":
		return handleSessionsCompact(state, params)
	case "last-heartbeat":
		return handleLastHeartbeat(state, params)
	case "set-heartbeats":
		return handleSetHeartbeats(state, params)
	case "wake":
		return handleWake(state, session, params)
	case "node.pair.request":
		return handleNodePairRequest(state, params)
	case "node.pair.list":
		return handleNodePairList(state, params)
	case "node.pair.approve":
		return handleNodePairResolution(state, params, true, "node.pair.approve")
	case "node.pair.reject":
		return handleNodePairResolution(state, params, false, "node.pair.reject")
	case "node.pair.verify":
		return handleNodePairVerify(state, params)
	case "node.rename":
		return handleNodeRename(state, params)
	case "node.list":
		return handleNodeList(state, params)
	case "node.describe":
		return handleNodeDescribe(state, params)
	case "node.invoke":
		return handleNodeInvoke(state, params)
	case "node.invoke.result":
		return handleNodeInvokeResult(state, params)
	case "node.event":
		return handleNodeEvent(state, session, params)
	case "cron.list":
		return handleCronList(state, params)
	case "cron.status":
		return handleCronStatus(state, params)
	case "cron.add":
		return handleCronAdd(state, params)
	case "cron.update":
		return handleCronUpdate(state, params)
	case "cron.remove":
		return handleCronRemove(state, params)
	case "cron.run":
		return handleCronRun(state, params)
	case "cron.runs":
		return handleCronRuns(state, params)
	case "system-presence":
		return handleSystemPresence(state, params)
	case "system-event":
		return handleSystemEvent(state, session, params)
	case "send":
		return handleSend(state, session, params)
	case "agent":
		return handleAgent(state, session, params)
	case "agent.identity.get":
		return handleAgentIdentity(state, params)
	case "agent.wait":
		return handleAgentWait(state, params)
	case "chat.history":
		return handleChatHistory(state, params)
	case "chat.abort":
		return handleChatAbort(state, params)
	case "chat.send":
		return handleChatSend(state, session, params)
	}

	if isKnownMethod(request.Method) {
		return nil, protocol.NewError(protocol.ErrorUnavailable,
			fmt.Sprintf("method %s is recognized but not implemented yet", request.Method)).
			WithRetry(1000).
			WithDetails(map[string]interface{}{"implemented": implementedMethods})
	}
	return nil, protocol.NewError(protocol.ErrorInvalidRequest,
		fmt.Sprintf("unknown method: %s", request.Method))
}

// mapDomainError translates a domain error into the wire shape.
func mapDomainError(err error) *protocol.ErrorShape {
	message := domain.Message(err)
	switch {
	case errors.Is(err, domain.ErrInvalidRequest), errors.Is(err, domain.ErrNotFound):
		return protocol.NewError(protocol.ErrorInvalidRequest, message)
	case errors.Is(err, domain.ErrNotPaired):
		return protocol.NewError(protocol.ErrorNotPaired, message)
	default:
		return protocol.NewError(protocol.ErrorUnavailable, message)
	}
}
