package schema

import (
	"encoding/json"
	"fmt"
)

// MarshalJSON writes the schema in the same form graph definitions use:
// an object of field name to type name, e.g. {"door_open": "bool"}.
func (s Schema) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("null"), nil
	}
	names := make(map[string]string, len(s))
	for _, field := range sortedKeys(s) {
		if s[field] == nil {
			return nil, fmt.Errorf("schema field %q has no type", field)
		}
		names[field] = s[field].Name()
	}
	return json.Marshal(names)
}

// UnmarshalJSON reads a field-to-type-name object through ParseTypeMap.
// Custom types cannot be restored from their name and are rejected.
func (s *Schema) UnmarshalJSON(data []byte) error {
	var names map[string]string
	if err := json.Unmarshal(data, &names); err != nil {
		return fmt.Errorf("schema must map field names to type names: %w", err)
	}
	if names == nil {
		*s = nil
		return nil
	}
	parsed, err := ParseTypeMap(names)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
