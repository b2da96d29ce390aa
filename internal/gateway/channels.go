package gateway

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/reclaw/reclaw/internal/protocol"
)

// inboundMessageRequest is the body of POST /channels/inbound. The
// channel may alternatively arrive as a path parameter.
type inboundMessageRequest struct {
	Channel        string          `json:"channel"`
	ConversationID string          `json:"conversationId"`
	Text           string          `json:"text"`
	AgentID        string          `json:"agentId"`
	SenderID       string          `json:"senderId"`
	MessageID      string          `json:"messageId"`
	IdempotencyKey string          `json:"idempotencyKey"`
	Metadata       json.RawMessage `json:"metadata"`
}

// handleChannelInbound bridges an external channel message into
// chat.send under a synthetic operator session.
func (s *Server) handleChannelInbound(c echo.Context) error {
	if token := strings.TrimSpace(s.state.Config().ChannelsInboundToken); token != "" {
		if !hasBearerToken(c.Request(), token) {
			return c.JSON(http.StatusUnauthorized, map[string]interface{}{
				"ok": false,
				"error": map[string]interface{}{
					"code":    "UNAUTHORIZED",
					"message": "invalid or missing bearer token",
				},
			})
		}
	}

	var payload inboundMessageRequest
	if err := c.Bind(&payload); err != nil {
		return inboundBadRequest(c, "invalid inbound body")
	}
	if channel := c.Param("channel"); channel != "" {
		payload.Channel = channel
	}

	inbound, errMessage := normalizeInbound(payload)
	if errMessage != "" {
		return inboundBadRequest(c, errMessage)
	}

	session := &SessionContext{
		ConnID:     "http-inbound-" + uuid.NewString(),
		Role:       "operator",
		Scopes:     defaultOperatorScopes(),
		ClientID:   inbound.channel + "-bridge",
		ClientMode: "channel-bridge",
	}

	params, _ := json.Marshal(map[string]interface{}{
		"sessionKey":     inbound.sessionKey,
		"message":        inbound.text,
		"idempotencyKey": inbound.idempotencyKey,
	})
	result, shapeErr := handleChatSend(s.state, session, params)
	if shapeErr != nil {
		status := http.StatusServiceUnavailable
		if shapeErr.Code == protocol.ErrorInvalidRequest {
			status = http.StatusBadRequest
		}
		return c.JSON(status, map[string]interface{}{
			"ok":    false,
			"error": shapeErr,
		})
	}

	body := map[string]interface{}{
		"ok":         true,
		"sessionKey": inbound.sessionKey,
	}
	if resultMap, ok := result.(map[string]interface{}); ok {
		body["runId"] = resultMap["runId"]
		if reply, ok := resultMap["message"].(string); ok {
			body["reply"] = reply
		} else {
			body["reply"] = nil
		}
	}
	return c.JSON(http.StatusOK, body)
}

type normalizedInbound struct {
	channel        string
	text           string
	sessionKey     string
	idempotencyKey string
}

func normalizeInbound(input inboundMessageRequest) (*normalizedInbound, string) {
	channel := normalizeSegment(input.Channel)
	if channel == "" {
		return nil, "channel is required"
	}

	conversation := normalizeSegment(input.ConversationID)
	if conversation == "" {
		return nil, "conversationId is required"
	}

	agentID := normalizeSegment(input.AgentID)
	if agentID == "" {
		agentID = "main"
	}

	text := strings.TrimSpace(input.Text)
	if text == "" {
		return nil, "text is required"
	}

	messagePart := normalizeSegment(input.MessageID)
	if messagePart == "" {
		messagePart = uuid.NewString()
	}

	idempotencyKey := normalizeSegment(input.IdempotencyKey)
	if idempotencyKey == "" {
		idempotencyKey = fmt.Sprintf("%s-%s-%s", channel, conversation, messagePart)
	}

	return &normalizedInbound{
		channel:        channel,
		text:           text,
		sessionKey:     fmt.Sprintf("agent:%s:%s:chat:%s", agentID, channel, conversation),
		idempotencyKey: idempotencyKey,
	}, ""
}

// normalizeSegment lowercases a session-key segment, collapsing runs of
// separators into single dashes and dropping everything else.
func normalizeSegment(value string) string {
	var out strings.Builder
	pendingDash := false

	for _, ch := range strings.ToLower(value) {
		if ch >= 'a' && ch <= 'z' || ch >= '0' && ch <= '9' {
			if pendingDash && out.Len() > 0 {
				out.WriteByte('-')
			}
			out.WriteRune(ch)
			pendingDash = false
			continue
		}
		if ch == '_' || ch == '-' || ch == ':' || unicode.IsSpace(ch) {
			pendingDash = true
		}
	}

	return strings.Trim(out.String(), "-")
}

func hasBearerToken(r *http.Request, expected string) bool {
	auth := r.Header.Get(echo.HeaderAuthorization)
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(expected)) == 1
}

func inboundBadRequest(c echo.Context, message string) error {
	return c.JSON(http.StatusBadRequest, map[string]interface{}{
		"ok": false,
		"error": map[string]interface{}{
			"code":    protocol.ErrorInvalidRequest,
			"message": message,
		},
	})
}
