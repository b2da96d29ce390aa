package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/reclaw/reclaw/internal/protocol"
)

type configWriteParams struct {
	Config json.RawMessage `json:"config"`
	Raw    json.RawMessage `json:"raw"`
}

type configPatchParams struct {
	Patch json.RawMessage `json:"patch"`
	Raw   json.RawMessage `json:"raw"`
}

func handleConfigGet(state *SharedState, params json.RawMessage) (interface{}, *protocol.ErrorShape) {
	var ignored map[string]json.RawMessage
	if shapeErr := parseOptionalParams("config.get", params, &ignored); shapeErr != nil {
		return nil, shapeErr
	}
	doc, err := state.Store().LoadConfigDoc()
	if err != nil {
		return nil, mapDomainError(err)
	}
	return doc, nil
}

func handleConfigWrite(state *SharedState, params json.RawMessage, method string) (interface{}, *protocol.ErrorShape) {
	var parsed configWriteParams
	if shapeErr := parseRequiredParams(method, params, &parsed); shapeErr != nil {
		return nil, shapeErr
	}

	config := parsed.Config
	if len(config) == 0 {
		config = parsed.Raw
	}
	if len(config) == 0 {
		return nil, protocol.NewError(protocol.ErrorInvalidRequest,
			fmt.Sprintf("invalid %s params: config object required", method))
	}
	if !isJSONObjectRaw(config) {
		return nil, protocol.NewError(protocol.ErrorInvalidRequest,
			fmt.Sprintf("invalid %s params: config must be an object", method))
	}

	if err := state.Store().SaveConfigDoc(config); err != nil {
		return nil, mapDomainError(err)
	}
	return map[string]interface{}{
		"ok":     true,
		"path":   state.Store().Path(),
		"config": config,
	}, nil
}

func handleConfigPatch(state *SharedState, params json.RawMessage) (interface{}, *protocol.ErrorShape) {
	var parsed configPatchParams
	if shapeErr := parseRequiredParams("config.patch", params, &parsed); shapeErr != nil {
		return nil, shapeErr
	}

	patch := parsed.Patch
	if len(patch) == 0 {
		patch = parsed.Raw
	}
	if len(patch) == 0 {
		return nil, protocol.NewError(protocol.ErrorInvalidRequest,
			"invalid config.patch params: patch object required")
	}
	if !isJSONObjectRaw(patch) {
		return nil, protocol.NewError(protocol.ErrorInvalidRequest,
			"invalid config.patch params: patch must be an object")
	}

	doc, err := state.Store().LoadConfigDoc()
	if err != nil {
		return nil, mapDomainError(err)
	}

	var current interface{}
	if err := json.Unmarshal(doc, &current); err != nil {
		current = map[string]interface{}{}
	}
	var patchValue interface{}
	if err := json.Unmarshal(patch, &patchValue); err != nil {
		return nil, protocol.NewError(protocol.ErrorInvalidRequest,
			fmt.Sprintf("invalid config.patch params: %v", err))
	}

	merged := mergePatch(current, patchValue)
	if _, ok := merged.(map[string]interface{}); !ok {
		merged = map[string]interface{}{}
	}

	encoded, err := json.Marshal(merged)
	if err != nil {
		return nil, protocol.NewError(protocol.ErrorUnavailable, err.Error())
	}
	if err := state.Store().SaveConfigDoc(encoded); err != nil {
		return nil, mapDomainError(err)
	}
	return map[string]interface{}{
		"ok":     true,
		"path":   state.Store().Path(),
		"config": merged,
	}, nil
}

func handleConfigSchema() map[string]interface{} {
	return map[string]interface{}{
		"$schema":              "https://json-schema.org/draft/2020-12/schema",
		"title":                "Reclaw Config",
		"type":                 "object",
		"additionalProperties": true,
		"description":          "Runtime configuration document persisted in SQLite.",
	}
}

// mergePatch applies RFC 7396 merge-patch semantics: nested objects
// merge recursively, null removes a key, anything else replaces.
func mergePatch(target, patch interface{}) interface{} {
	patchMap, ok := patch.(map[string]interface{})
	if !ok {
		return patch
	}

	targetMap, ok := target.(map[string]interface{})
	if !ok {
		targetMap = map[string]interface{}{}
	}

	for key, patchValue := range patchMap {
		if patchValue == nil {
			delete(targetMap, key)
			continue
		}
		if _, isObject := patchValue.(map[string]interface{}); isObject {
			if existing, found := targetMap[key]; found {
				targetMap[key] = mergePatch(existing, patchValue)
			} else {
				targetMap[key] = patchValue
			}
			continue
		}
		targetMap[key] = patchValue
	}
	return targetMap
}
