// ABOUTME: Minimal JSON Schema argument checking for tool invocations
// ABOUTME: Enforces required properties and primitive types before handlers run

package tools

import (
	"encoding/json"
	"fmt"
	"math"
)

// argSchema is the subset of JSON Schema the registry enforces: an object
// with typed properties and a required list. Tool schemas are authored
// in-repo, so the subset is a deliberate floor, not a general validator.
type argSchema struct {
	Type       string                    `json:"type"`
	Properties map[string]propertySchema `json:"properties"`
	Required   []string                  `json:"required"`
}

// propertySchema is one property's declared type.
type propertySchema struct {
	Type string `json:"type"`
}

// parseArgSchema parses a raw schema document. An empty schema means the
// tool takes no declared arguments and anything object-shaped is accepted.
func parseArgSchema(raw json.RawMessage) (*argSchema, error) {
	if len(raw) == 0 {
		return &argSchema{Type: "object"}, nil
	}

	var s argSchema
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("invalid schema document: %w", err)
	}
	if s.Type != "" && s.Type != "object" {
		return nil, fmt.Errorf("top-level schema type must be object, got %q", s.Type)
	}
	for name, prop := range s.Properties {
		switch prop.Type {
		case "", "string", "integer", "number", "boolean", "object", "array":
		default:
			return nil, fmt.Errorf("property %q has unsupported type %q", name, prop.Type)
		}
	}
	for _, req := range s.Required {
		if _, ok := s.Properties[req]; !ok {
			return nil, fmt.Errorf("required property %q is not declared", req)
		}
	}
	return &s, nil
}

// validate checks the supplied arguments against the schema.
func (s *argSchema) validate(args json.RawMessage) error {
	// Absent arguments are treated as the empty object, matching how
	// clients omit "arguments" for zero-argument tools.
	if len(args) == 0 || string(args) == "null" {
		args = json.RawMessage("{}")
	}

	var obj map[string]any
	if err := json.Unmarshal(args, &obj); err != nil {
		return fmt.Errorf("arguments must be a JSON object")
	}

	for _, req := range s.Required {
		if _, ok := obj[req]; !ok {
			return fmt.Errorf("missing required property %q", req)
		}
	}

	for name, value := range obj {
		prop, declared := s.Properties[name]
		if !declared || prop.Type == "" {
			continue
		}
		if err := checkType(name, prop.Type, value); err != nil {
			return err
		}
	}
	return nil
}

// checkType verifies a decoded JSON value against a declared primitive type.
func checkType(name, typ string, value any) error {
	switch typ {
	case "string":
		if _, ok := value.(string); !ok {
			return fmt.Errorf("property %q must be a string", name)
		}
	case "integer":
		f, ok := value.(float64)
		if !ok || f != math.Trunc(f) {
			return fmt.Errorf("property %q must be an integer", name)
		}
	case "number":
		if _, ok := value.(float64); !ok {
			return fmt.Errorf("property %q must be a number", name)
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("property %q must be a boolean", name)
		}
	case "object":
		if _, ok := value.(map[string]any); !ok {
			return fmt.Errorf("property %q must be an object", name)
		}
	case "array":
		if _, ok := value.([]any); !ok {
			return fmt.Errorf("property %q must be an array", name)
		}
	}
	return nil
}
