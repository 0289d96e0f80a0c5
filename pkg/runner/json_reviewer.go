package runner

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aretw0/pergola/pkg/domain"
)

// Event is one JSON line written by the JSONReviewer.
type Event struct {
	Type   string            `json:"type"`
	Result domain.StepResult `json:"result"`
}

// JSONReviewer implements the Reviewer interface for structured JSON-Lines communication.
// Each step is written as an Event; a suspension is answered with one line holding
// a JSON object (the patch), null, or the word quit.
type JSONReviewer struct {
	Reader  *bufio.Reader
	Encoder *json.Encoder
}

// NewJSONReviewer creates a reviewer for JSON IO.
func NewJSONReviewer(r io.Reader, w io.Writer) *JSONReviewer {
	if r == nil {
		r = os.Stdin
	}
	if w == nil {
		w = os.Stdout
	}
	return &JSONReviewer{
		Reader:  bufio.NewReader(r),
		Encoder: json.NewEncoder(w),
	}
}

func (h *JSONReviewer) Report(_ context.Context, res domain.StepResult) error {
	return h.Encoder.Encode(Event{Type: string(res.Kind), Result: res})
}

func (h *JSONReviewer) Review(_ context.Context, res domain.StepResult) (domain.State, error) {
	if err := h.Encoder.Encode(Event{Type: string(res.Kind), Result: res}); err != nil {
		return nil, err
	}

	text, err := h.Reader.ReadString('\n')
	if err != nil && (err != io.EOF || strings.TrimSpace(text) == "") {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "quit" {
		return nil, io.EOF
	}
	if text == "" {
		return nil, nil
	}

	var patch domain.State
	if err := json.Unmarshal([]byte(text), &patch); err != nil {
		return nil, fmt.Errorf("failed to decode patch: %w", err)
	}
	return SanitizePatch(patch)
}
