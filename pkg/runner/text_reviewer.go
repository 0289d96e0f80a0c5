package runner

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/aretw0/pergola/pkg/domain"
)

// TextReviewer implements the standard line-based interface.
// A review reads key=value lines until an empty line; "quit" or "exit" stops.
type TextReviewer struct {
	Reader *bufio.Reader
	Writer io.Writer

	inputChan chan inputResult
	startOnce sync.Once
}

type inputResult struct {
	text string
	err  error
}

// NewTextReviewer creates a reviewer for standard text IO.
func NewTextReviewer(r io.Reader, w io.Writer) *TextReviewer {
	if r == nil {
		r = os.Stdin
	}
	if w == nil {
		w = os.Stdout
	}
	return &TextReviewer{
		Reader: bufio.NewReader(r),
		Writer: w,
	}
}

func (h *TextReviewer) initPump() {
	h.startOnce.Do(func() {
		h.inputChan = make(chan inputResult)
		go h.pump()
	})
}

// pump reads lines in the background so Input can honor context cancellation.
func (h *TextReviewer) pump() {
	for {
		text, err := h.Reader.ReadString('\n')

		// If we got text (even with EOF), send it
		if text != "" {
			h.inputChan <- inputResult{text: text}
		}
		if err != nil {
			if err != io.EOF {
				h.inputChan <- inputResult{err: err}
			}
			close(h.inputChan)
			return
		}
	}
}

// Report prints one line per step.
func (h *TextReviewer) Report(_ context.Context, res domain.StepResult) error {
	var err error
	switch res.Kind {
	case domain.StepAdvanced:
		_, err = fmt.Fprintf(h.Writer, "[step %d] %s -> %s\n", res.Step, res.Node, res.Next)
	case domain.StepCompleted:
		_, err = fmt.Fprintf(h.Writer, "[done] run %s completed at step %d\n", res.RunID, res.Step)
	}
	return err
}

// Review shows the suspended state and reads a patch.
func (h *TextReviewer) Review(ctx context.Context, res domain.StepResult) (domain.State, error) {
	fmt.Fprintf(h.Writer, "\n[suspended] run %s at %q (%s), step %d\n", res.RunID, res.Node, res.Reason, res.Step)
	for _, k := range res.State.Keys() {
		fmt.Fprintf(h.Writer, "  %s = %v\n", k, res.State[k])
	}
	fmt.Fprintln(h.Writer, `Enter key=value to patch the state, an empty line to resume, "quit" to stop.`)

	var patch domain.State
	for {
		line, err := h.Input(ctx)
		if err != nil {
			return nil, err
		}
		switch strings.ToLower(line) {
		case "":
			return patch, nil
		case "quit", "exit":
			return nil, io.EOF
		}

		k, v, err := ParseAssignment(line)
		if err != nil {
			fmt.Fprintf(h.Writer, "Error: %v. Please try again.\n", err)
			continue
		}
		if patch == nil {
			patch = domain.State{}
		}
		patch[k] = v
	}
}

// Input prompts and reads one sanitized line.
func (h *TextReviewer) Input(ctx context.Context) (string, error) {
	h.initPump()

	for {
		// Only show prompt if context is not yet done
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
			fmt.Fprint(h.Writer, "> ")
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case res, ok := <-h.inputChan:
			if !ok {
				return "", io.EOF
			}
			if res.err != nil {
				return "", res.err
			}
			clean, err := SanitizeInput(strings.TrimSpace(res.text))
			if err != nil {
				fmt.Fprintf(h.Writer, "Error: %v. Please try again.\n", err)
				continue
			}
			return clean, nil
		}
	}
}
