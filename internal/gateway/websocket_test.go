package gateway

import (
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reclaw/reclaw/internal/config"
	"github.com/reclaw/reclaw/internal/protocol"
	"github.com/reclaw/reclaw/internal/store"
)

// wireResponse mirrors ResponseFrame with the payload kept raw so tests
// can decode it into the expected shape.
type wireResponse struct {
	Type    string               `json:"type"`
	ID      string               `json:"id"`
	OK      bool                 `json:"ok"`
	Payload json.RawMessage      `json:"payload"`
	Error   *protocol.ErrorShape `json:"error"`
}

func newTestStateWith(t *testing.T, mutate func(*config.Config)) *SharedState {
	t.Helper()

	st, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	cfg := config.ForTest("")
	if mutate != nil {
		mutate(cfg)
	}
	state, err := NewSharedState(cfg, st, zerolog.Nop())
	require.NoError(t, err)
	return state
}

func dialWebSocket(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, res, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if res != nil && res.Body != nil {
		res.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

func readResponse(t *testing.T, conn *websocket.Conn) *wireResponse {
	t.Helper()

	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var response wireResponse
	require.NoError(t, json.Unmarshal(data, &response))
	return &response
}

func connectFrame(extra string) string {
	params := `"minProtocol":3,"maxProtocol":3,"client":{"id":"test-cli","displayName":"Test CLI","version":"1.0.0","platform":"linux","mode":"test"}`
	if extra != "" {
		params += "," + extra
	}
	return fmt.Sprintf(`{"type":"req","id":"connect-1","method":"connect","params":{%s}}`, params)
}

func handshake(t *testing.T, conn *websocket.Conn) *protocol.HelloOk {
	t.Helper()

	sendFrame(t, conn, connectFrame(""))
	response := readResponse(t, conn)
	require.True(t, response.OK, "handshake failed: %+v", response.Error)

	var hello protocol.HelloOk
	require.NoError(t, json.Unmarshal(response.Payload, &hello))
	return &hello
}

func TestHandshakeHelloOk(t *testing.T) {
	state := newTestState(t)
	ts := newTestHTTPServer(t, state)
	conn := dialWebSocket(t, ts)

	hello := handshake(t, conn)
	assert.Equal(t, "hello-ok", hello.Type)
	assert.Equal(t, protocol.Version, hello.Protocol)
	assert.NotEmpty(t, hello.Server.ConnID)
	assert.Equal(t, "test", hello.Server.Version)
	assert.Contains(t, hello.Features.Methods, "health")
	assert.Contains(t, hello.Features.Methods, "chat.send")
	assert.Equal(t, "none", hello.Snapshot.AuthMode)
	assert.Equal(t, int64(512*1024), hello.Policy.MaxPayload)

	require.Len(t, hello.Snapshot.Presence, 1)
	assert.Equal(t, "Test CLI", hello.Snapshot.Presence[0].Host)
	assert.Equal(t, 1, state.ConnectionCount())
}

func TestHandshakeProtocolMismatch(t *testing.T) {
	state := newTestState(t)
	ts := newTestHTTPServer(t, state)
	conn := dialWebSocket(t, ts)

	sendFrame(t, conn, `{"type":"req","id":"connect-1","method":"connect","params":{"minProtocol":1,"maxProtocol":2,"client":{"id":"old"}}}`)
	response := readResponse(t, conn)
	require.False(t, response.OK)
	assert.Equal(t, protocol.ErrorInvalidRequest, response.Error.Code)
	assert.Equal(t, "protocol mismatch", response.Error.Message)

	details := response.Error.Details.(map[string]interface{})
	assert.Equal(t, float64(protocol.Version), details["expectedProtocol"])
}

func TestHandshakeInvalidRole(t *testing.T) {
	state := newTestState(t)
	ts := newTestHTTPServer(t, state)
	conn := dialWebSocket(t, ts)

	sendFrame(t, conn, connectFrame(`"role":"admin"`))
	response := readResponse(t, conn)
	require.False(t, response.OK)
	assert.Equal(t, "invalid role", response.Error.Message)
}

func TestHandshakeFirstRequestMustBeConnect(t *testing.T) {
	state := newTestState(t)
	ts := newTestHTTPServer(t, state)
	conn := dialWebSocket(t, ts)

	sendFrame(t, conn, `{"type":"req","id":"r1","method":"health"}`)
	response := readResponse(t, conn)
	require.False(t, response.OK)
	assert.Equal(t, "r1", response.ID)
	assert.Equal(t, "invalid handshake: first request must be connect", response.Error.Message)

	// The server closes the socket after a rejected handshake.
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestHandshakeParseErrorCorrelatesToConnect(t *testing.T) {
	state := newTestState(t)
	ts := newTestHTTPServer(t, state)
	conn := dialWebSocket(t, ts)

	sendFrame(t, conn, `{not json`)
	response := readResponse(t, conn)
	require.False(t, response.OK)
	assert.Equal(t, "connect", response.ID)
	assert.Contains(t, response.Error.Message, "invalid request frame")
}

func TestHandshakeTokenAuth(t *testing.T) {
	state := newTestStateWith(t, func(cfg *config.Config) {
		cfg.GatewayToken = "sekret"
	})
	ts := newTestHTTPServer(t, state)

	conn := dialWebSocket(t, ts)
	sendFrame(t, conn, connectFrame(""))
	response := readResponse(t, conn)
	require.False(t, response.OK)
	assert.Equal(t, protocol.ErrorUnavailable, response.Error.Code)
	assert.Equal(t, "unauthorized: missing credentials", response.Error.Message)

	conn = dialWebSocket(t, ts)
	sendFrame(t, conn, connectFrame(`"auth":{"token":"wrong"}`))
	response = readResponse(t, conn)
	require.False(t, response.OK)
	assert.Equal(t, "unauthorized: invalid credentials", response.Error.Message)

	conn = dialWebSocket(t, ts)
	sendFrame(t, conn, connectFrame(`"auth":{"token":"sekret"}`))
	response = readResponse(t, conn)
	assert.True(t, response.OK, "expected hello-ok with valid token: %+v", response.Error)
}

func TestHandshakeAuthLockout(t *testing.T) {
	state := newTestStateWith(t, func(cfg *config.Config) {
		cfg.GatewayToken = "sekret"
		cfg.AuthMaxAttempts = 2
	})
	ts := newTestHTTPServer(t, state)

	for i := 0; i < 2; i++ {
		conn := dialWebSocket(t, ts)
		sendFrame(t, conn, connectFrame(`"auth":{"token":"wrong"}`))
		response := readResponse(t, conn)
		require.False(t, response.OK)
	}

	conn := dialWebSocket(t, ts)
	sendFrame(t, conn, connectFrame(`"auth":{"token":"sekret"}`))
	response := readResponse(t, conn)
	require.False(t, response.OK)
	assert.Equal(t, "unauthorized: too many failed attempts", response.Error.Message)
	require.NotNil(t, response.Error.Retryable)
	assert.True(t, *response.Error.Retryable)
}

func TestRPCAfterHandshake(t *testing.T) {
	state := newTestState(t)
	ts := newTestHTTPServer(t, state)
	conn := dialWebSocket(t, ts)
	handshake(t, conn)

	sendFrame(t, conn, `{"type":"req","id":"h1","method":"health"}`)
	response := readResponse(t, conn)
	require.True(t, response.OK)
	assert.Equal(t, "h1", response.ID)

	var health map[string]interface{}
	require.NoError(t, json.Unmarshal(response.Payload, &health))
	assert.Equal(t, true, health["ok"])

	sendFrame(t, conn, `{"type":"req","id":"c1","method":"connect","params":{}}`)
	response = readResponse(t, conn)
	require.False(t, response.OK)
	assert.Contains(t, response.Error.Message, "first handshake request")
}

func TestServeLoopRecoversFromParseErrors(t *testing.T) {
	state := newTestState(t)
	ts := newTestHTTPServer(t, state)
	conn := dialWebSocket(t, ts)
	handshake(t, conn)

	sendFrame(t, conn, `{"id":"bad-1"}`)
	response := readResponse(t, conn)
	require.False(t, response.OK)
	assert.Equal(t, "bad-1", response.ID)

	// The connection stays usable after a malformed frame.
	sendFrame(t, conn, `{"type":"req","id":"h2","method":"health"}`)
	response = readResponse(t, conn)
	assert.True(t, response.OK)
}

func TestServeLoopClosesOnOversizePayload(t *testing.T) {
	state := newTestStateWith(t, func(cfg *config.Config) {
		cfg.MaxPayloadBytes = 400
	})
	ts := newTestHTTPServer(t, state)
	conn := dialWebSocket(t, ts)
	handshake(t, conn)

	oversize := fmt.Sprintf(`{"type":"req","id":"big","method":"health","params":{"pad":%q}}`,
		strings.Repeat("x", 512))
	sendFrame(t, conn, oversize)

	response := readResponse(t, conn)
	require.False(t, response.OK)
	assert.Equal(t, "invalid", response.ID)
	assert.Contains(t, response.Error.Message, "payload exceeds maxPayload")

	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestDisconnectDropsPresence(t *testing.T) {
	state := newTestState(t)
	ts := newTestHTTPServer(t, state)
	conn := dialWebSocket(t, ts)
	handshake(t, conn)
	require.Equal(t, 1, state.ConnectionCount())

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool {
		return state.ConnectionCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNodeHandshakeRegistersNode(t *testing.T) {
	state := newTestState(t)
	ts := newTestHTTPServer(t, state)
	conn := dialWebSocket(t, ts)

	sendFrame(t, conn, connectFrame(`"role":"node"`))
	response := readResponse(t, conn)
	require.True(t, response.OK, "node handshake failed: %+v", response.Error)

	node, err := state.Store().GetNode("test-cli")
	require.NoError(t, err)
	require.NotNil(t, node)
	assert.True(t, node.Paired)
	assert.Equal(t, "online", node.Status)
}
