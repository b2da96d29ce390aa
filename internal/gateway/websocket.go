package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/reclaw/reclaw/internal/protocol"
	"github.com/reclaw/reclaw/internal/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The gateway binds loopback; origin policy belongs to whatever
	// fronts it.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleWebSocket upgrades the request and drives the connection
// lifecycle: handshake, serve loop, unregister.
func (s *SharedState) handleWebSocket(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket upgrade failed")
		return err
	}
	defer conn.Close()

	remoteIP := c.RealIP()

	session, ok := s.performHandshake(conn, remoteIP)
	if !ok {
		s.log.Debug().Str("remote", remoteIP).Msg("handshake rejected")
		return nil
	}
	s.log.Info().
		Str("connId", session.ConnID).
		Str("role", session.Role).
		Str("clientId", session.ClientID).
		Msg("client connected")

	s.serveConnection(conn, session)

	if err := s.UnregisterClient(session.ConnID); err != nil {
		s.log.Warn().Err(err).Str("connId", session.ConnID).Msg("failed to unregister connection")
	}
	s.log.Info().Str("connId", session.ConnID).Msg("client disconnected")
	return nil
}

func (s *SharedState) serveConnection(conn *websocket.Conn, session *SessionContext) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Warn().Err(err).Str("connId", session.ConnID).Msg("websocket read failed")
			}
			return
		}

		text, shapeErr := s.messageToText(messageType, data)
		if shapeErr != nil {
			// Oversize and malformed-binary frames end the connection.
			_ = writeResponse(conn, protocol.ResponseError("invalid", shapeErr))
			return
		}
		if text == nil {
			continue
		}

		request, shapeErr := protocol.ParseRequestFrame(text)
		if shapeErr != nil {
			_ = writeResponse(conn, protocol.ResponseError(protocol.ExtractFrameID(text), shapeErr))
			continue
		}

		response := dispatchRequest(s, session, request)
		if err := writeResponse(conn, response); err != nil {
			s.log.Warn().Err(err).Str("connId", session.ConnID).Msg("websocket write failed")
			return
		}
	}
}

// performHandshake runs the connect exchange. On failure the error has
// already been written and the caller should close the socket.
func (s *SharedState) performHandshake(conn *websocket.Conn, remoteIP string) (*SessionContext, bool) {
	text, shapeErr := s.recvHandshakeText(conn)
	if shapeErr != nil {
		_ = writeResponse(conn, protocol.ResponseError("connect", shapeErr))
		return nil, false
	}

	request, shapeErr := protocol.ParseRequestFrame(text)
	if shapeErr != nil {
		_ = writeResponse(conn, protocol.ResponseError(extractHandshakeID(text), shapeErr))
		return nil, false
	}

	if request.Method != "connect" {
		_ = writeResponse(conn, protocol.ResponseError(request.ID, protocol.NewError(
			protocol.ErrorInvalidRequest, "invalid handshake: first request must be connect")))
		return nil, false
	}

	params, shapeErr := parseConnectParams(request.Params)
	if shapeErr != nil {
		_ = writeResponse(conn, protocol.ResponseError(request.ID, shapeErr))
		return nil, false
	}

	if params.MaxProtocol < protocol.Version || params.MinProtocol > protocol.Version {
		shape := protocol.NewError(protocol.ErrorInvalidRequest, "protocol mismatch").
			WithDetails(map[string]interface{}{"expectedProtocol": protocol.Version})
		_ = writeResponse(conn, protocol.ResponseError(request.ID, shape))
		return nil, false
	}

	role := params.Role
	if role == "" {
		role = "operator"
	}
	if role != "operator" && role != "node" {
		_ = writeResponse(conn, protocol.ResponseError(request.ID,
			protocol.NewError(protocol.ErrorInvalidRequest, "invalid role")))
		return nil, false
	}

	authKey := authLimiterKey(remoteIP, params.Client.ID)
	if decision := s.authLimiter.Check(authKey); !decision.Allowed {
		shape := protocol.NewError(protocol.ErrorUnavailable,
			"unauthorized: too many failed attempts").WithRetry(decision.RetryAfterMs)
		_ = writeResponse(conn, protocol.ResponseError(request.ID, shape))
		return nil, false
	}

	if reason, ok := authorize(s.authMode, s.authSecret, params.Auth); !ok {
		record := s.authLimiter.RecordFailure(authKey)
		shape := authFailureError(reason)
		if !record.Allowed || record.RetryAfterMs > 0 {
			shape = shape.WithRetry(record.RetryAfterMs)
		}
		_ = writeResponse(conn, protocol.ResponseError(request.ID, shape))
		return nil, false
	}
	s.authLimiter.Reset(authKey)

	connID := uuid.NewString()
	scopes := sanitizeScopes(params.Scopes)
	if role == "operator" && len(scopes) == 0 {
		scopes = defaultOperatorScopes()
	}

	client := &ConnectedClient{
		ConnID:          connID,
		ClientID:        params.Client.ID,
		DisplayName:     params.Client.DisplayName,
		ClientVersion:   params.Client.Version,
		Platform:        params.Client.Platform,
		DeviceFamily:    trimToNil(params.Client.DeviceFamily),
		ModelIdentifier: trimToNil(params.Client.ModelIdentifier),
		Mode:            params.Client.Mode,
		Role:            role,
		Scopes:          scopes,
		InstanceID:      trimToNil(params.Client.InstanceID),
		RemoteIP:        remoteIP,
		ConnectedAt:     time.Now(),
		ConnectedAtMs:   store.NowUnixMs(),
	}
	if err := s.RegisterClient(client); err != nil {
		shape := protocol.NewError(protocol.ErrorUnavailable,
			fmt.Sprintf("failed to register connection: %v", err))
		_ = writeResponse(conn, protocol.ResponseError(request.ID, shape))
		return nil, false
	}

	snapshot, err := s.Snapshot()
	if err != nil {
		_ = s.UnregisterClient(connID)
		shape := protocol.NewError(protocol.ErrorUnavailable,
			fmt.Sprintf("failed to build snapshot: %v", err))
		_ = writeResponse(conn, protocol.ResponseError(request.ID, shape))
		return nil, false
	}

	hello := protocol.HelloOk{
		Type:     "hello-ok",
		Protocol: protocol.Version,
		Server: protocol.ServerInfo{
			Version: s.cfg.RuntimeVersion,
			ConnID:  connID,
		},
		Features: protocol.Features{
			Methods: s.Methods(),
			Events:  s.Events(),
		},
		Snapshot: *snapshot,
		Policy: protocol.PolicyInfo{
			MaxPayload:       int64(s.cfg.MaxPayloadBytes),
			MaxBufferedBytes: int64(s.cfg.MaxBufferedBytes),
			TickIntervalMs:   s.cfg.TickIntervalMs,
		},
	}
	if err := writeResponse(conn, protocol.ResponseOK(request.ID, hello)); err != nil {
		_ = s.UnregisterClient(connID)
		return nil, false
	}

	return &SessionContext{
		ConnID:     connID,
		Role:       role,
		Scopes:     scopes,
		ClientID:   params.Client.ID,
		ClientMode: params.Client.Mode,
	}, true
}

// recvHandshakeText reads frames until the first text payload, bounded
// by the handshake timeout.
func (s *SharedState) recvHandshakeText(conn *websocket.Conn) ([]byte, *protocol.ErrorShape) {
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.HandshakeTimeout()))
	defer func() { _ = conn.SetReadDeadline(time.Time{}) }()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if netErr, ok := err.(interface{ Timeout() bool }); ok && netErr.Timeout() {
				return nil, protocol.NewError(protocol.ErrorInvalidRequest, "handshake timeout")
			}
			return nil, protocol.NewError(protocol.ErrorInvalidRequest, "connection closed before handshake")
		}

		text, shapeErr := s.messageToText(messageType, data)
		if shapeErr != nil {
			return nil, shapeErr
		}
		if text != nil {
			return text, nil
		}
	}
}

// messageToText normalizes a websocket frame into UTF-8 text. A nil
// result with no error means the frame should be skipped.
func (s *SharedState) messageToText(messageType int, data []byte) ([]byte, *protocol.ErrorShape) {
	switch messageType {
	case websocket.TextMessage, websocket.BinaryMessage:
		if len(data) > s.cfg.MaxPayloadBytes {
			return nil, protocol.NewError(protocol.ErrorInvalidRequest,
				fmt.Sprintf("payload exceeds maxPayload (%d > %d)", len(data), s.cfg.MaxPayloadBytes))
		}
		if messageType == websocket.BinaryMessage && !utf8.Valid(data) {
			return nil, protocol.NewError(protocol.ErrorInvalidRequest,
				"binary websocket frames must contain UTF-8")
		}
		return data, nil
	default:
		return nil, nil
	}
}

func parseConnectParams(raw json.RawMessage) (*protocol.ConnectParams, *protocol.ErrorShape) {
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	var params protocol.ConnectParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, protocol.NewError(protocol.ErrorInvalidRequest,
			fmt.Sprintf("invalid connect params: %v", err))
	}
	return &params, nil
}

func authLimiterKey(remoteIP, clientID string) string {
	ip := remoteIP
	if ip == "" {
		ip = "unknown"
	}
	return fmt.Sprintf("%s:%s", ip, clientID)
}

// extractHandshakeID correlates pre-handshake parse errors to the
// connect request when no id can be recovered.
func extractHandshakeID(data []byte) string {
	if id := protocol.ExtractFrameID(data); id != "invalid" {
		return id
	}
	return "connect"
}

func writeResponse(conn *websocket.Conn, response *protocol.ResponseFrame) error {
	payload, err := json.Marshal(response)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}
