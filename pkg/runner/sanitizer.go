package runner

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/aretw0/pergola/pkg/domain"
)

var (
	// DefaultMaxInputSize bounds a single reviewer line or patch string, in bytes.
	DefaultMaxInputSize = 4096
	// EnvMaxInputSize overrides DefaultMaxInputSize.
	EnvMaxInputSize = "PERGOLA_MAX_INPUT_SIZE"
)

var (
	ErrInputTooLarge = errors.New("input exceeds maximum allowed size")
	ErrInvalidUTF8   = errors.New("input contains invalid UTF-8 sequences")
)

// SanitizeInput checks one line typed by a reviewer: it must fit the size
// limit and be valid UTF-8. Control characters other than newline, tab and
// carriage return are stripped so they never reach the checkpoint log or the
// terminal that renders it. Oversized input is rejected, never truncated.
func SanitizeInput(input string) (string, error) {
	if limit := getMaxInputSize(); len(input) > limit {
		return "", fmt.Errorf("%w: size=%d limit=%d", ErrInputTooLarge, len(input), limit)
	}
	if !utf8.ValidString(input) {
		return "", ErrInvalidUTF8
	}
	return stripControl(input), nil
}

// SanitizePatch applies SanitizeInput to every string a patch carries, field
// names included, descending into nested objects and lists. JSON escapes such
// as \u001b survive decoding, so decoded patches are cleaned here rather than
// as raw text. The patch is not modified; a cleaned copy is returned.
func SanitizePatch(patch domain.State) (domain.State, error) {
	if patch == nil {
		return nil, nil
	}
	out := make(domain.State, len(patch))
	for k, v := range patch {
		key, err := SanitizeInput(k)
		if err != nil {
			return nil, fmt.Errorf("field name %q: %w", k, err)
		}
		clean, err := sanitizeValue(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", key, err)
		}
		out[key] = clean
	}
	return out, nil
}

func sanitizeValue(v any) (any, error) {
	switch t := v.(type) {
	case string:
		return SanitizeInput(t)
	case map[string]any:
		return SanitizePatch(t)
	case domain.State:
		return SanitizePatch(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			clean, err := sanitizeValue(e)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			out[i] = clean
		}
		return out, nil
	case []string:
		out := make([]string, len(t))
		for i, e := range t {
			clean, err := SanitizeInput(e)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			out[i] = clean
		}
		return out, nil
	default:
		return v, nil
	}
}

func stripControl(s string) string {
	if strings.IndexFunc(s, isUnsafeControl) < 0 {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if !isUnsafeControl(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isUnsafeControl(r rune) bool {
	return unicode.IsControl(r) && r != '\n' && r != '\t' && r != '\r'
}

func getMaxInputSize() int {
	if val := os.Getenv(EnvMaxInputSize); val != "" {
		if size, err := strconv.Atoi(val); err == nil && size > 0 {
			return size
		}
	}
	return DefaultMaxInputSize
}
