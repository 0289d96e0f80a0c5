package schema

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestSchemaJSON(t *testing.T) {
	s := Schema{
		"door_open": Bool(),
		"log":       Slice(String()),
		"meta":      Map(),
	}

	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	want := `{"door_open":"bool","log":"[string]","meta":"map"}`
	if string(data) != want {
		t.Errorf("Marshal() = %s, want %s", data, want)
	}

	var back Schema
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(back) != 3 {
		t.Fatalf("Unmarshal() fields = %d, want 3", len(back))
	}
	for field, typ := range s {
		if back[field] == nil || back[field].Name() != typ.Name() {
			t.Errorf("field %s = %v, want %s", field, back[field], typ.Name())
		}
	}
	if err := ValidatePresent(back, map[string]any{"door_open": true, "log": []any{"x"}}); err != nil {
		t.Errorf("ValidatePresent() error = %v", err)
	}
}

func TestSchemaJSON_Null(t *testing.T) {
	var s Schema
	data, err := json.Marshal(s)
	if err != nil || string(data) != "null" {
		t.Fatalf("Marshal(nil) = %s, %v", data, err)
	}

	s = Schema{"x": Int()}
	if err := json.Unmarshal([]byte("null"), &s); err != nil {
		t.Fatalf("Unmarshal(null) error = %v", err)
	}
	if s != nil {
		t.Errorf("Unmarshal(null) = %v, want nil", s)
	}
}

func TestSchemaJSON_Errors(t *testing.T) {
	if _, err := json.Marshal(Schema{"ghost": nil}); err == nil || !strings.Contains(err.Error(), "ghost") {
		t.Errorf("Marshal() with nil type error = %v, want one naming the field", err)
	}

	tests := []struct {
		name string
		data string
	}{
		{"unknown type", `{"temp":"celsius"}`},
		{"not an object", `["bool"]`},
		{"non-string type", `{"temp":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s Schema
			if err := json.Unmarshal([]byte(tt.data), &s); err == nil {
				t.Errorf("Unmarshal(%s) succeeded, want error", tt.data)
			}
		})
	}
}
