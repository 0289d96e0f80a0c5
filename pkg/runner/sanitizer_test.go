package runner

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/aretw0/pergola/pkg/domain"
)

func TestSanitizeInput_SizeLimit(t *testing.T) {
	// Default Limit is 4096
	limit := 4096

	tests := []struct {
		name      string
		inputSize int
		wantErr   bool
	}{
		{"Under Limit", limit - 1, false},
		{"Exact Limit", limit, false},
		{"Over Limit", limit + 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := strings.Repeat("a", tt.inputSize)
			_, err := SanitizeInput(input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("SanitizeInput() expected error for size %d, got nil", tt.inputSize)
				}
			} else {
				if err != nil {
					t.Errorf("SanitizeInput() unexpected error: %v", err)
				}
			}
		})
	}
}

func TestSanitizeInput_ControlChars(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"Normal Text", "Hello World", "Hello World"},
		{"Safe Controls", "Line1\nLine2\tTabbed", "Line1\nLine2\tTabbed"},
		{"ANSI Code", "\x1b[31mRed\x1b[0m", "[31mRed[0m"}, // ESC removed
		{"Null Byte", "Null\x00Byte", "NullByte"},         // NULL removed
		{"Bell", "Ding\x07", "Ding"},                      // BEL removed
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SanitizeInput(tt.input)
			if err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
			if got != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestSanitizeInput_EnvOverride(t *testing.T) {
	t.Setenv("PERGOLA_MAX_INPUT_SIZE", "10")

	// Input len 11 -> Should fail
	_, err := SanitizeInput("12345678901")
	if err == nil {
		t.Error("Expected error for input > 10 when env var is set")
	}

	// Input len 5 -> Should pass
	_, err = SanitizeInput("12345")
	if err != nil {
		t.Error("Unexpected error for valid input")
	}
}

func TestSanitizeInput_InvalidUTF8(t *testing.T) {
	// Invalid UTF-8 sequence
	input := "\xbd\xb2\x3d\xbc\x20\xe2\x8c\x98"
	_, err := SanitizeInput(input)
	if err != ErrInvalidUTF8 {
		t.Errorf("Expected ErrInvalidUTF8, got %v", err)
	}
}

func TestSanitizePatch(t *testing.T) {
	patch := domain.State{
		"human_decision": "no\x1b[0m",
		"notes\x00":      []any{"ok", "bad\x07", 3},
		"tags":           []string{"a\x00"},
		"meta":           map[string]any{"by": "ops\x1b"},
		"door_open":      false,
	}

	got, err := SanitizePatch(patch)
	if err != nil {
		t.Fatalf("SanitizePatch() error = %v", err)
	}
	want := domain.State{
		"human_decision": "no[0m",
		"notes":          []any{"ok", "bad", 3},
		"tags":           []string{"a"},
		"meta":           domain.State{"by": "ops"},
		"door_open":      false,
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SanitizePatch() = %#v, want %#v", got, want)
	}
	if patch["human_decision"] != "no\x1b[0m" {
		t.Error("SanitizePatch() modified its input")
	}
}

func TestSanitizePatch_Rejects(t *testing.T) {
	t.Setenv("PERGOLA_MAX_INPUT_SIZE", "8")

	_, err := SanitizePatch(domain.State{"log": []any{"short", "much too long"}})
	if !errors.Is(err, ErrInputTooLarge) {
		t.Fatalf("expected ErrInputTooLarge, got %v", err)
	}
	if !strings.Contains(err.Error(), `field "log"`) || !strings.Contains(err.Error(), "element 1") {
		t.Errorf("error should locate the value, got %v", err)
	}

	if _, err := SanitizePatch(domain.State{"k": "\xbd\xb2"}); !errors.Is(err, ErrInvalidUTF8) {
		t.Errorf("expected ErrInvalidUTF8, got %v", err)
	}

	got, err := SanitizePatch(nil)
	if err != nil || got != nil {
		t.Errorf("SanitizePatch(nil) = %v, %v", got, err)
	}
}
