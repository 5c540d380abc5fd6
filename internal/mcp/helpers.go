package mcpserver

import (
	"encoding/json"
	"fmt"
	"strings"
)

func boolPtr(v bool) *bool { return &v }

// getFloat reads a numeric argument. JSON numbers arrive as float64.
func getFloat(args map[string]any, key string, fallback float64) float64 {
	if v, ok := args[key].(float64); ok {
		return v
	}
	return fallback
}

// getString reads a string argument, trimming surrounding spaces.
func getString(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return strings.TrimSpace(s)
}

// requireString reads a mandatory string argument.
func requireString(args map[string]any, key string) (string, error) {
	s := getString(args, key)
	if s == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return s, nil
}

// decodeArg decodes an argument that agents send either as a JSON string or
// as an already-parsed JSON value.
func decodeArg(args map[string]any, key string, target any) error {
	switch v := args[key].(type) {
	case nil:
		return fmt.Errorf("%s is required", key)
	case string:
		if err := json.Unmarshal([]byte(v), target); err != nil {
			return fmt.Errorf("parse %s: %w", key, err)
		}
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode %s: %w", key, err)
		}
		if err := json.Unmarshal(b, target); err != nil {
			return fmt.Errorf("parse %s: %w", key, err)
		}
	}
	return nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
