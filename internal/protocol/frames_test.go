package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequestFrame(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{"valid", `{"type":"req","id":"r-1","method":"health"}`, ""},
		{"valid with params", `{"type":"req","id":"r-2","method":"chat.send","params":{"message":"hi"}}`, ""},
		{"bad json", `{"type":`, "invalid request frame"},
		{"wrong type", `{"type":"res","id":"r-1","method":"health"}`, "expected type=req"},
		{"missing id", `{"type":"req","method":"health"}`, "missing id"},
		{"blank id", `{"type":"req","id":"  ","method":"health"}`, "missing id"},
		{"missing method", `{"type":"req","id":"r-1"}`, "missing method"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, shape := ParseRequestFrame([]byte(tt.input))
			if tt.wantErr == "" {
				require.Nil(t, shape)
				require.NotNil(t, frame)
				assert.Equal(t, "req", frame.Type)
				return
			}
			require.NotNil(t, shape)
			assert.Equal(t, ErrorInvalidRequest, shape.Code)
			assert.Contains(t, shape.Message, tt.wantErr)
		})
	}
}

func TestExtractFrameID(t *testing.T) {
	assert.Equal(t, "r-9", ExtractFrameID([]byte(`{"id":"r-9","type":"bogus"}`)))
	assert.Equal(t, "invalid", ExtractFrameID([]byte(`not json`)))
	assert.Equal(t, "invalid", ExtractFrameID([]byte(`{"id":""}`)))
}

func TestResponseFrameShape(t *testing.T) {
	ok := ResponseOK("a", map[string]any{"ok": true})
	data, err := json.Marshal(ok)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"res","id":"a","ok":true,"payload":{"ok":true}}`, string(data))

	fail := ResponseError("b", NewError(ErrorUnavailable, "boom").WithRetry(1500))
	data, err = json.Marshal(fail)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, false, decoded["ok"])
	errObj := decoded["error"].(map[string]any)
	assert.Equal(t, "UNAVAILABLE", errObj["code"])
	assert.Equal(t, true, errObj["retryable"])
	assert.Equal(t, float64(1500), errObj["retryAfterMs"])
	_, hasPayload := decoded["payload"]
	assert.False(t, hasPayload)
}
