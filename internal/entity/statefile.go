package entity

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadStateFile reads a YAML mapping of entity ID to raw state:
//
//	sensor.kitchen_temperature: 21.5
//	light.kitchen: "on"
//	sensor.outdoor: unavailable
func LoadStateFile(path string) (map[string]Value, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}
	return ParseStateDocument(data)
}

// ParseStateDocument decodes the state file format.
func ParseStateDocument(data []byte) (map[string]Value, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse state file: %w", err)
	}
	out := make(map[string]Value, len(raw))
	for id, v := range raw {
		out[id] = valueOf(v)
	}
	return out, nil
}

func valueOf(v any) Value {
	switch t := v.(type) {
	case nil:
		return Unavailable()
	case bool:
		return Bool(t)
	case int:
		return Number(float64(t))
	case int64:
		return Number(float64(t))
	case uint64:
		return Number(float64(t))
	case float64:
		return Number(t)
	case string:
		return ParseState(t)
	default:
		return ParseState(fmt.Sprint(t))
	}
}
