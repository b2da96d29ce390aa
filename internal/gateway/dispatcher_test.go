package gateway

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reclaw/reclaw/internal/config"
	"github.com/reclaw/reclaw/internal/protocol"
	"github.com/reclaw/reclaw/internal/store"
)

func newTestState(t *testing.T) *SharedState {
	t.Helper()

	st, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	state, err := NewSharedState(config.ForTest(""), st, zerolog.Nop())
	require.NoError(t, err)
	return state
}

func call(state *SharedState, session *SessionContext, method, params string) *protocol.ResponseFrame {
	frame := &protocol.RequestFrame{
		Type:   "req",
		ID:     "req-1",
		Method: method,
	}
	if params != "" {
		frame.Params = json.RawMessage(params)
	}
	return dispatchRequest(state, session, frame)
}

func payloadMap(t *testing.T, frame *protocol.ResponseFrame) map[string]interface{} {
	t.Helper()
	require.True(t, frame.OK, "expected ok response, got error: %+v", frame.Error)

	encoded, err := json.Marshal(frame.Payload)
	require.NoError(t, err)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(encoded, &out))
	return out
}

func TestDispatchRejectsConnectAfterHandshake(t *testing.T) {
	state := newTestState(t)

	res := call(state, operatorSession(), "connect", `{}`)
	require.False(t, res.OK)
	assert.Equal(t, protocol.ErrorInvalidRequest, res.Error.Code)
	assert.Contains(t, res.Error.Message, "first handshake request")
}

func TestDispatchUnknownMethod(t *testing.T) {
	state := newTestState(t)

	res := call(state, operatorSession(), "no.such.method", `{}`)
	require.False(t, res.OK)
	assert.Equal(t, protocol.ErrorInvalidRequest, res.Error.Code)
	assert.Contains(t, res.Error.Message, "unknown method: no.such.method")
}

func TestDispatchRecognizedButNotImplemented(t *testing.T) {
	state := newTestState(t)

	res := call(state, operatorSession(), "tts.status", `{}`)
	require.False(t, res.OK)
	assert.Equal(t, protocol.ErrorUnavailable, res.Error.Code)
	assert.Contains(t, res.Error.Message, "not implemented yet")
	require.NotNil(t, res.Error.Retryable)
	assert.True(t, *res.Error.Retryable)
	require.NotNil(t, res.Error.RetryAfterMs)
	assert.Equal(t, int64(1000), *res.Error.RetryAfterMs)

	// details.implemented carries the implemented-methods list so
	// clients can discover what this gateway actually answers.
	encoded, err := json.Marshal(res.Error.Details)
	require.NoError(t, err)
	var details struct {
		Implemented []string `json:"implemented"`
	}
	require.NoError(t, json.Unmarshal(encoded, &details))
	assert.Equal(t, implementedMethods, details.Implemented)
	assert.NotContains(t, details.Implemented, "tts.status")
}

func TestDispatchEnforcesScopes(t *testing.T) {
	state := newTestState(t)

	res := call(state, operatorSession(ScopeRead), "chat.send",
		`{"sessionKey":"agent:main:main","message":"hi"}`)
	require.False(t, res.OK)
	assert.Contains(t, res.Error.Message, "missing scope: operator.write")
}

func TestDispatchControlPlaneWriteRateLimit(t *testing.T) {
	state := newTestState(t)
	session := operatorSession()

	for i := 0; i < 3; i++ {
		res := call(state, session, "config.patch", `{"patch":{"logFilter":"info"}}`)
		require.True(t, res.OK, "call %d should pass the limiter: %+v", i, res.Error)
	}

	res := call(state, session, "config.patch", `{"patch":{"logFilter":"info"}}`)
	require.False(t, res.OK)
	assert.Equal(t, protocol.ErrorUnavailable, res.Error.Code)
	assert.Contains(t, res.Error.Message, "rate limit exceeded for config.patch")
}

func TestHealthMethod(t *testing.T) {
	state := newTestState(t)

	payload := payloadMap(t, call(state, operatorSession(), "health", ""))
	assert.Equal(t, true, payload["ok"])
	assert.Equal(t, "go", payload["runtime"])
	assert.Equal(t, float64(protocol.Version), payload["protocolVersion"])
	assert.Equal(t, "none", payload["authMode"])
}

func TestChatSendEchoAndHistory(t *testing.T) {
	state := newTestState(t)
	session := operatorSession()

	payload := payloadMap(t, call(state, session, "chat.send",
		`{"sessionKey":"agent:main:main","message":"  hello there  "}`))
	assert.Equal(t, "completed", payload["status"])
	assert.Equal(t, "agent:main:main", payload["sessionKey"])
	assert.Equal(t, "Echo: hello there", payload["message"])

	history := payloadMap(t, call(state, session, "chat.history",
		`{"sessionKey":"agent:main:main"}`))
	messages, ok := history["messages"].([]interface{})
	require.True(t, ok)
	require.Len(t, messages, 2)

	first := messages[0].(map[string]interface{})
	second := messages[1].(map[string]interface{})
	assert.Equal(t, "user", first["role"])
	assert.Equal(t, "hello there", first["text"])
	assert.Equal(t, "assistant", second["role"])
	assert.Equal(t, "Echo: hello there", second["text"])
}

func TestChatSendIdempotentReplay(t *testing.T) {
	state := newTestState(t)
	session := operatorSession()
	params := `{"sessionKey":"agent:main:main","message":"once","idempotencyKey":"chat-fixed"}`

	firstRun := payloadMap(t, call(state, session, "chat.send", params))
	secondRun := payloadMap(t, call(state, session, "chat.send", params))
	assert.Equal(t, firstRun["runId"], secondRun["runId"])
	assert.Equal(t, "completed", secondRun["status"])
	assert.Equal(t, "Echo: once", secondRun["message"])

	history := payloadMap(t, call(state, session, "chat.history",
		`{"sessionKey":"agent:main:main"}`))
	messages := history["messages"].([]interface{})
	assert.Len(t, messages, 2, "replay must not append messages again")
}

func TestChatSendIdempotencyKeyConflicts(t *testing.T) {
	state := newTestState(t)
	session := operatorSession()

	res := call(state, session, "chat.send",
		`{"sessionKey":"agent:main:main","message":"hi","idempotencyKey":"shared"}`)
	require.True(t, res.OK)

	conflict := call(state, session, "chat.send",
		`{"sessionKey":"agent:other:main","message":"hi","idempotencyKey":"shared"}`)
	require.False(t, conflict.OK)
	assert.Contains(t, conflict.Error.Message, "different sessionKey")
}

func TestChatSendValidation(t *testing.T) {
	state := newTestState(t)
	session := operatorSession()

	res := call(state, session, "chat.send", `{"message":"hi"}`)
	require.False(t, res.OK)
	assert.Contains(t, res.Error.Message, "sessionKey is required")

	res = call(state, session, "chat.send", `{"sessionKey":"agent:main:main","message":"   "}`)
	require.False(t, res.OK)
	assert.Contains(t, res.Error.Message, "message or attachment required")

	res = call(state, session, "chat.send", "")
	require.False(t, res.OK)
	assert.Contains(t, res.Error.Message, "object required")
}

func TestChatSendDeferredThenAgentWait(t *testing.T) {
	state := newTestState(t)
	session := operatorSession()

	queued := payloadMap(t, call(state, session, "chat.send",
		`{"sessionKey":"agent:main:main","message":"later","deferred":true}`))
	assert.Equal(t, "queued", queued["status"])
	runID := queued["runId"].(string)

	waited := payloadMap(t, call(state, session, "agent.wait",
		fmt.Sprintf(`{"runId":%q,"timeoutMs":2000}`, runID)))
	assert.Equal(t, "completed", waited["status"])
	result := waited["result"].(map[string]interface{})
	assert.Equal(t, "Echo: later", result["output"])
	assert.Equal(t, "agent:main:main", result["sessionKey"])
}

func TestChatAbortPendingRun(t *testing.T) {
	state := newTestState(t)
	session := operatorSession()

	queued := payloadMap(t, call(state, session, "chat.send",
		`{"sessionKey":"agent:main:main","message":"never","deferred":true}`))
	runID := queued["runId"].(string)

	aborted := payloadMap(t, call(state, session, "chat.abort",
		fmt.Sprintf(`{"sessionKey":"agent:main:main","runId":%q}`, runID)))
	assert.Equal(t, true, aborted["aborted"])

	again := payloadMap(t, call(state, session, "chat.abort",
		fmt.Sprintf(`{"sessionKey":"agent:main:main","runId":%q}`, runID)))
	assert.Equal(t, false, again["aborted"], "terminal runs are not re-aborted")
}

func TestAgentSynchronousTurn(t *testing.T) {
	state := newTestState(t)
	session := operatorSession()

	payload := payloadMap(t, call(state, session, "agent",
		`{"message":"ping","sessionKey":"agent:main:main"}`))
	assert.Equal(t, "ok", payload["status"])
	assert.Equal(t, "completed", payload["summary"])
	result := payload["result"].(map[string]interface{})
	assert.Equal(t, "Echo: ping", result["output"])
}

func TestAgentWaitTimesOutOnUnknownRun(t *testing.T) {
	state := newTestState(t)

	payload := payloadMap(t, call(state, operatorSession(), "agent.wait",
		`{"runId":"missing-run","timeoutMs":100}`))
	assert.Equal(t, "timeout", payload["status"])
}

func TestSessionsLifecycle(t *testing.T) {
	state := newTestState(t)
	session := operatorSession()

	res := call(state, session, "chat.send",
		`{"sessionKey":"agent:main:discord:chat:general","message":"hi"}`)
	require.True(t, res.OK)

	listed := payloadMap(t, call(state, session, "sessions.list", `{}`))
	sessions := listed["sessions"].([]interface{})
	require.Len(t, sessions, 1)
	entry := sessions[0].(map[string]interface{})
	assert.Equal(t, "agent:main:discord:chat:general", entry["id"])

	deleted := payloadMap(t, call(state, session, "sessions.delete",
		`{"key":"agent:main:discord:chat:general"}`))
	assert.Equal(t, true, deleted["ok"])
	assert.Equal(t, true, deleted["deleted"])

	listed = payloadMap(t, call(state, session, "sessions.list", `{}`))
	assert.Empty(t, listed["sessions"])
}

func TestWakeThenLastHeartbeat(t *testing.T) {
	state := newTestState(t)
	session := operatorSession()

	woke := payloadMap(t, call(state, session, "wake", `{"reason":"test-run"}`))
	assert.Equal(t, true, woke["ok"])

	payload := payloadMap(t, call(state, session, "last-heartbeat", `{}`))
	assert.Equal(t, "test-run", payload["reason"])
	assert.Equal(t, "test-client", payload["by"])
	assert.Greater(t, payload["ts"].(float64), float64(0))
}

func TestLastHeartbeatDefault(t *testing.T) {
	state := newTestState(t)

	payload := payloadMap(t, call(state, operatorSession(), "last-heartbeat", `{}`))
	assert.Equal(t, "none", payload["status"])
	assert.Equal(t, float64(0), payload["ts"])
}

func TestSystemEventRequiresEventName(t *testing.T) {
	state := newTestState(t)

	res := call(state, operatorSession(), "system-event", `{"payload":{"k":"v"}}`)
	require.False(t, res.OK)
	assert.Contains(t, res.Error.Message, "event is required")

	payload := payloadMap(t, call(state, operatorSession(), "system-event",
		`{"event":"sleep","payload":{"k":"v"}}`))
	assert.Equal(t, true, payload["ok"])
}

func TestCronAddListRemove(t *testing.T) {
	state := newTestState(t)
	session := operatorSession()

	job := payloadMap(t, call(state, session, "cron.add",
		`{"name":"nightly","schedule":{"kind":"every","everyMs":60000},"payload":{"kind":"systemEvent","text":"tick"}}`))
	assert.Equal(t, "nightly", job["name"])
	assert.Equal(t, true, job["enabled"])
	assert.NotNil(t, job["nextRunMs"])
	jobID := job["id"].(string)

	listed := payloadMap(t, call(state, session, "cron.list", `{}`))
	assert.Equal(t, float64(1), listed["count"])

	removed := payloadMap(t, call(state, session, "cron.remove",
		fmt.Sprintf(`{"id":%q}`, jobID)))
	assert.Equal(t, true, removed["removed"])

	listed = payloadMap(t, call(state, session, "cron.list", `{}`))
	assert.Equal(t, float64(0), listed["count"])
}

func TestCronAddRejectsBadSchedule(t *testing.T) {
	state := newTestState(t)

	res := call(state, operatorSession(), "cron.add",
		`{"schedule":{"kind":"every","everyMs":0},"payload":{"kind":"systemEvent","text":"x"}}`)
	require.False(t, res.OK)
	assert.Equal(t, protocol.ErrorInvalidRequest, res.Error.Code)
	assert.Contains(t, res.Error.Message, "invalid cron schedule")
}

func TestCronRunNow(t *testing.T) {
	state := newTestState(t)
	session := operatorSession()

	job := payloadMap(t, call(state, session, "cron.add",
		`{"id":"job-manual","schedule":{"kind":"every","everyMs":3600000},"payload":{"kind":"agentTurn","message":"do it"}}`))
	require.Equal(t, "job-manual", job["id"])

	run := payloadMap(t, call(state, session, "cron.run", `{"id":"job-manual"}`))
	assert.Equal(t, "job-manual", run["jobId"])
	assert.Equal(t, "ok", run["status"])
	assert.Equal(t, true, run["manual"])

	runs := payloadMap(t, call(state, session, "cron.runs", `{"id":"job-manual"}`))
	assert.Equal(t, "job", runs["scope"])
	assert.Equal(t, float64(1), runs["count"])
}

func TestCronUpdateClearsNextRunWithExplicitNull(t *testing.T) {
	state := newTestState(t)
	session := operatorSession()

	job := payloadMap(t, call(state, session, "cron.add",
		`{"id":"job-null","schedule":{"kind":"every","everyMs":60000},"payload":{"kind":"systemEvent","text":"x"}}`))
	require.NotNil(t, job["nextRunMs"])

	updated := payloadMap(t, call(state, session, "cron.update",
		`{"id":"job-null","patch":{"nextRunMs":null}}`))
	assert.Nil(t, updated["nextRunMs"])
}

func TestSystemPresenceReflectsRegistry(t *testing.T) {
	state := newTestState(t)
	require.NoError(t, state.RegisterClient(&ConnectedClient{
		ConnID:        "conn-a",
		ClientID:      "cli-a",
		Role:          "operator",
		ConnectedAtMs: store.NowUnixMs(),
	}))

	payload := payloadMap(t, call(state, operatorSession(), "system-presence", `{}`))
	presence := payload["presence"].([]interface{})
	require.Len(t, presence, 1)
	entry := presence[0].(map[string]interface{})
	assert.Equal(t, "cli-a", entry["host"])
}
