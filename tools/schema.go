// Package tools builds the JSON schemas that pin the narrative renderer's
// input and output.
package tools

import "encoding/json"

// Schema is a JSON Schema fragment.
type Schema = map[string]interface{}

// ObjectSchema returns an object with properties. required is omitted when empty.
func ObjectSchema(properties Schema, required ...string) Schema {
	s := Schema{"type": "object", "properties": properties}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func typed(kind, description string) Schema {
	return Schema{"type": kind, "description": description}
}

func StringProperty(description string) Schema  { return typed("string", description) }
func NumberProperty(description string) Schema  { return typed("number", description) }
func IntegerProperty(description string) Schema { return typed("integer", description) }

// StringEnumProperty restricts a string to values.
func StringEnumProperty(description string, values ...string) Schema {
	s := typed("string", description)
	s["enum"] = values
	return s
}

// ArrayProperty is a list of items.
func ArrayProperty(description string, items Schema) Schema {
	s := typed("array", description)
	s["items"] = items
	return s
}

// Marshal renders schema as indented JSON for prompts. It returns "{}" if
// schema cannot be encoded.
func Marshal(schema Schema) string {
	b, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(b)
}
