package runner

import (
	"fmt"
	"strings"

	"github.com/aretw0/pergola/pkg/domain"
	"gopkg.in/yaml.v3"
)

// ParseAssignment splits "key=value" and decodes value as a YAML scalar or
// flow collection, so true, 3, [a, b] and {k: v} keep their types.
// Values that do not parse as YAML are kept as plain strings.
func ParseAssignment(s string) (string, any, error) {
	key, raw, ok := strings.Cut(s, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return "", nil, fmt.Errorf("expected key=value, got %q", s)
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return key, nil, nil
	}

	var v any
	if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
		return key, raw, nil
	}
	return key, v, nil
}

// ParseAssignments builds a state update from "key=value" items.
// Later items override earlier ones.
func ParseAssignments(items []string) (domain.State, error) {
	if len(items) == 0 {
		return nil, nil
	}
	out := make(domain.State, len(items))
	for _, item := range items {
		k, v, err := ParseAssignment(item)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}
