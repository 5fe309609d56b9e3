package common

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// ParseJSON cleans and unmarshals a JSON document into a type T.
// It strips markdown fences and surrounding prose, and repairs truncated or
// slightly malformed output from LLM and collaborator payloads.
func ParseJSON[T any](response string) (T, error) {
	var zero T

	jsonStr, err := extractJSON(response)
	if err != nil {
		return zero, err
	}

	var result T
	if err := json.Unmarshal([]byte(jsonStr), &result); err == nil {
		return result, nil
	}

	repaired, rerr := jsonrepair.JSONRepair(jsonStr)
	if rerr != nil {
		return zero, fmt.Errorf("failed to repair JSON: %w\nData: %s", rerr, jsonStr)
	}
	if err := json.Unmarshal([]byte(repaired), &result); err != nil {
		return zero, fmt.Errorf("failed to unmarshal JSON: %w\nData: %s", err, jsonStr)
	}
	return result, nil
}

// extractJSON returns the outermost object or array in s.
func extractJSON(s string) (string, error) {
	objStart := strings.IndexByte(s, '{')
	arrStart := strings.IndexByte(s, '[')

	start, closer := objStart, byte('}')
	if objStart == -1 || (arrStart != -1 && arrStart < objStart) {
		start, closer = arrStart, ']'
	}
	if start == -1 {
		return "", fmt.Errorf("no JSON object found in response (missing '{')")
	}

	end := strings.LastIndexByte(s, closer)
	if end < start {
		// truncated output; let the repairer close it
		return s[start:], nil
	}
	return s[start : end+1], nil
}
