package gateway

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reclaw/reclaw/internal/protocol"
)

func TestExecApprovalsGetEmpty(t *testing.T) {
	state := newTestState(t)

	payload := payloadMap(t, call(state, operatorSession(), "exec.approvals.get", `{}`))
	assert.Equal(t, false, payload["exists"])
	assert.Nil(t, payload["hash"])
	assert.Equal(t, map[string]interface{}{}, payload["file"])
}

func TestExecApprovalsSetAndHashConcurrency(t *testing.T) {
	state := newTestState(t)
	session := operatorSession()

	saved := payloadMap(t, call(state, session, "exec.approvals.set",
		`{"file":{"allow":["ls"]}}`))
	assert.Equal(t, true, saved["exists"])
	hash, ok := saved["hash"].(string)
	require.True(t, ok)
	require.NotEmpty(t, hash)

	// A write without the current hash is rejected once the file exists.
	res := call(state, session, "exec.approvals.set", `{"file":{"allow":["rm"]}}`)
	require.False(t, res.OK)
	assert.Contains(t, res.Error.Message, "base hash required")

	res = call(state, session, "exec.approvals.set",
		`{"file":{"allow":["rm"]},"baseHash":"0000000000000000"}`)
	require.False(t, res.OK)
	assert.Contains(t, res.Error.Message, "changed since last load")

	updated := payloadMap(t, call(state, session, "exec.approvals.set",
		fmt.Sprintf(`{"file":{"allow":["rm"]},"baseHash":%q}`, hash)))
	assert.Equal(t, true, updated["exists"])
	assert.NotEqual(t, hash, updated["hash"])
}

func TestExecApprovalsSetRejectsNonObject(t *testing.T) {
	state := newTestState(t)

	res := call(state, operatorSession(), "exec.approvals.set", `{"file":[1,2]}`)
	require.False(t, res.OK)
	assert.Contains(t, res.Error.Message, "file must be an object")
}

func TestExecApprovalsNodeScopedFiles(t *testing.T) {
	state := newTestState(t)
	session := operatorSession()

	res := call(state, session, "exec.approvals.node.get", `{}`)
	require.False(t, res.OK)
	assert.Contains(t, res.Error.Message, "nodeId is required")

	saved := payloadMap(t, call(state, session, "exec.approvals.node.set",
		`{"nodeId":"mac-1","file":{"allow":["say"]}}`))
	assert.Equal(t, true, saved["exists"])

	other := payloadMap(t, call(state, session, "exec.approvals.node.get",
		`{"nodeId":"mac-2"}`))
	assert.Equal(t, false, other["exists"], "per-node files are isolated")
}

func TestExecApprovalRequestResolveFlow(t *testing.T) {
	state := newTestState(t)
	session := operatorSession()

	accepted := payloadMap(t, call(state, session, "exec.approval.request",
		`{"id":"appr-1","command":"rm -rf /tmp/x","twoPhase":true}`))
	assert.Equal(t, "accepted", accepted["status"])
	assert.Equal(t, "appr-1", accepted["id"])

	pending := payloadMap(t, call(state, session, "exec.approval.waitDecision",
		`{"id":"appr-1","timeoutMs":1}`))
	assert.Equal(t, "pending", pending["status"])
	assert.Nil(t, pending["decision"])

	resolved := payloadMap(t, call(state, session, "exec.approval.resolve",
		`{"id":"appr-1","decision":"allow-once"}`))
	assert.Equal(t, true, resolved["ok"])

	decided := payloadMap(t, call(state, session, "exec.approval.waitDecision",
		`{"id":"appr-1","timeoutMs":1}`))
	assert.Equal(t, "resolved", decided["status"])
	assert.Equal(t, "allow-once", decided["decision"])
}

func TestExecApprovalRequestValidation(t *testing.T) {
	state := newTestState(t)
	session := operatorSession()

	res := call(state, session, "exec.approval.request", `{"command":"  "}`)
	require.False(t, res.OK)
	assert.Contains(t, res.Error.Message, "command is required")

	res = call(state, session, "exec.approval.request", `{"command":"ls","host":"node"}`)
	require.False(t, res.OK)
	assert.Equal(t, "nodeId is required for host=node", res.Error.Message)

	require.True(t, call(state, session, "exec.approval.request",
		`{"id":"dup","command":"ls","twoPhase":true}`).OK)
	res = call(state, session, "exec.approval.request", `{"id":"dup","command":"ls"}`)
	require.False(t, res.OK)
	assert.Equal(t, "approval id already exists", res.Error.Message)
}

func TestExecApprovalResolveRejectsBadDecision(t *testing.T) {
	state := newTestState(t)
	session := operatorSession()

	require.True(t, call(state, session, "exec.approval.request",
		`{"id":"appr-bad","command":"ls","twoPhase":true}`).OK)

	res := call(state, session, "exec.approval.resolve",
		`{"id":"appr-bad","decision":"maybe"}`)
	require.False(t, res.OK)
	assert.Equal(t, protocol.ErrorInvalidRequest, res.Error.Code)
	assert.Equal(t, "invalid decision", res.Error.Message)

	res = call(state, session, "exec.approval.resolve",
		`{"id":"missing","decision":"deny"}`)
	require.False(t, res.OK)
	assert.Equal(t, "unknown approval id", res.Error.Message)
}

func TestStableValueHashCanonicalizes(t *testing.T) {
	a := stableValueHash(json.RawMessage(`{"a":1,"b":2}`))
	b := stableValueHash(json.RawMessage(`{ "b": 2, "a": 1 }`))
	assert.Equal(t, a, b, "key order and whitespace must not change the hash")

	c := stableValueHash(json.RawMessage(`{"a":1,"b":3}`))
	assert.NotEqual(t, a, c)
}
