package store

import (
	"encoding/json"
	"time"

	"github.com/reclaw/reclaw/internal/domain"
)

// NowUnixMs is the single time source for persisted timestamps.
func NowUnixMs() int64 {
	return time.Now().UnixMilli()
}

// jsonText serializes a value for a JSON-text column. Nil raw values
// become the empty object so reads never see NULL metadata.
func jsonText(value domain.JSON) string {
	if len(value) == 0 {
		return "{}"
	}
	return string(value)
}

func encodeJSON(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", domain.Storagef("failed to serialize value: %v", err)
	}
	return string(data), nil
}

func decodeStrings(text string) ([]string, error) {
	var out []string
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, domain.Storagef("invalid JSON column: %v", err)
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}

func optionalJSON(text *string) domain.JSON {
	if text == nil {
		return nil
	}
	return domain.JSON(*text)
}

func optionalText(value domain.JSON) *string {
	if len(value) == 0 {
		return nil
	}
	text := string(value)
	return &text
}
