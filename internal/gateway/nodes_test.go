package gateway

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nodeSession(clientID string) *SessionContext {
	return &SessionContext{
		ConnID:   "conn-node",
		Role:     "node",
		ClientID: clientID,
	}
}

func TestNodePairRequestApproveFlow(t *testing.T) {
	state := newTestState(t)
	session := operatorSession()

	created := payloadMap(t, call(state, session, "node.pair.request",
		`{"nodeId":"mac-1","displayName":"Mac Studio","platform":"darwin","commands":["say"," say ",""]}`))
	assert.Equal(t, "pending", created["status"])
	request := created["request"].(map[string]interface{})
	requestID := request["requestId"].(string)
	require.NotEmpty(t, requestID)
	assert.Equal(t, []interface{}{"say"}, request["commands"])

	listed := payloadMap(t, call(state, session, "node.pair.list", `{}`))
	requests := listed["requests"].([]interface{})
	require.Len(t, requests, 1)

	resolved := payloadMap(t, call(state, session, "node.pair.approve",
		fmt.Sprintf(`{"requestId":%q}`, requestID)))
	assert.Equal(t, "approved", resolved["status"])

	node, err := state.Store().GetNode("mac-1")
	require.NoError(t, err)
	require.NotNil(t, node)
	assert.True(t, node.Paired)

	verify := payloadMap(t, call(state, session, "node.pair.verify",
		`{"nodeId":"mac-1","token":"tok"}`))
	assert.Equal(t, true, verify["paired"])
	assert.Equal(t, true, verify["verified"])
}

func TestNodePairReject(t *testing.T) {
	state := newTestState(t)
	session := operatorSession()

	created := payloadMap(t, call(state, session, "node.pair.request",
		`{"nodeId":"mac-2"}`))
	requestID := created["request"].(map[string]interface{})["requestId"].(string)

	resolved := payloadMap(t, call(state, session, "node.pair.reject",
		fmt.Sprintf(`{"requestId":%q,"reason":"not mine"}`, requestID)))
	assert.Equal(t, "rejected", resolved["status"])
	assert.Equal(t, "not mine", resolved["reason"])

	verify := payloadMap(t, call(state, session, "node.pair.verify",
		`{"nodeId":"mac-2"}`))
	assert.Equal(t, false, verify["paired"])
}

func TestNodeRename(t *testing.T) {
	state := newTestState(t)
	session := operatorSession()

	created := payloadMap(t, call(state, session, "node.pair.request", `{"nodeId":"mac-3"}`))
	requestID := created["request"].(map[string]interface{})["requestId"].(string)
	require.True(t, call(state, session, "node.pair.approve",
		fmt.Sprintf(`{"requestId":%q}`, requestID)).OK)

	renamed := payloadMap(t, call(state, session, "node.rename",
		`{"nodeId":"mac-3","displayName":"Kitchen Mac"}`))
	assert.Equal(t, "Kitchen Mac", renamed["displayName"])

	res := call(state, session, "node.rename", `{"nodeId":"ghost","displayName":"x"}`)
	require.False(t, res.OK)
}

func TestNodeInvokeLifecycle(t *testing.T) {
	state := newTestState(t)
	operator := operatorSession()

	created := payloadMap(t, call(state, operator, "node.pair.request", `{"nodeId":"mac-4"}`))
	requestID := created["request"].(map[string]interface{})["requestId"].(string)
	require.True(t, call(state, operator, "node.pair.approve",
		fmt.Sprintf(`{"requestId":%q}`, requestID)).OK)

	invoked := payloadMap(t, call(state, operator, "node.invoke",
		`{"nodeId":"mac-4","command":"say","args":["hello"]}`))
	assert.Equal(t, true, invoked["ok"])
	assert.Equal(t, "completed", invoked["status"])
	invokeID := invoked["requestId"].(string)
	require.NotEmpty(t, invokeID)

	// The node reports the real result under its own role.
	completed := payloadMap(t, call(state, nodeSession("mac-4"), "node.invoke.result",
		fmt.Sprintf(`{"requestId":%q,"status":"completed","payload":{"spoken":true}}`, invokeID)))
	assert.Equal(t, "completed", completed["status"])
	assert.NotNil(t, completed["completedAtMs"])

	res := call(state, nodeSession("mac-4"), "node.invoke.result",
		`{"requestId":"ghost","status":"completed"}`)
	require.False(t, res.OK)
}

func TestNodeInvokeRejectsUnpairedNode(t *testing.T) {
	state := newTestState(t)
	session := operatorSession()

	created := payloadMap(t, call(state, session, "node.pair.request", `{"nodeId":"mac-6"}`))
	requestID := created["request"].(map[string]interface{})["requestId"].(string)
	require.True(t, call(state, session, "node.pair.reject",
		fmt.Sprintf(`{"requestId":%q}`, requestID)).OK)

	res := call(state, session, "node.invoke", `{"nodeId":"mac-6","command":"say"}`)
	require.False(t, res.OK)
	assert.Equal(t, "NOT_PAIRED", res.Error.Code)
}

func TestNodeEventDefaultsToSessionClient(t *testing.T) {
	state := newTestState(t)

	payload := payloadMap(t, call(state, nodeSession("mac-5"), "node.event",
		`{"event":"battery","payload":{"pct":42}}`))
	assert.Equal(t, true, payload["ok"])
	event := payload["event"].(map[string]interface{})
	assert.Equal(t, "mac-5", event["nodeId"])
	assert.Equal(t, "battery", event["event"])
}

func TestNodeDescribeUnknown(t *testing.T) {
	state := newTestState(t)

	res := call(state, operatorSession(), "node.describe", `{"nodeId":"ghost"}`)
	require.False(t, res.OK)
	assert.Equal(t, "unknown nodeId", res.Error.Message)
}
