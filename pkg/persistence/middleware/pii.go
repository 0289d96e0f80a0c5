package middleware

import (
	"context"
	"regexp"

	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/ports"
)

// Mask replaces the value of every redacted field.
const Mask = "***"

type piiMiddleware struct {
	next     ports.CheckpointStore
	patterns []*regexp.Regexp
}

// NewPIIMiddleware creates a middleware that masks values of keys matching the patterns
// before they reach the store. Nested maps are masked too. In-memory state is untouched,
// so a run keeps working with the real values until it is reloaded.
func NewPIIMiddleware(patternStrings []string) Middleware {
	patterns := make([]*regexp.Regexp, len(patternStrings))
	for i, p := range patternStrings {
		patterns[i] = regexp.MustCompile(p)
	}
	return func(next ports.CheckpointStore) ports.CheckpointStore {
		return &piiMiddleware{next: next, patterns: patterns}
	}
}

func (m *piiMiddleware) Save(ctx context.Context, cp *domain.Checkpoint) error {
	masked := *cp
	masked.State = cp.State.Clone()
	maskMap(masked.State, m.patterns)
	return m.next.Save(ctx, &masked)
}

func (m *piiMiddleware) PatchLatest(ctx context.Context, runID string, update domain.State, fields domain.Fields) (*domain.Checkpoint, error) {
	masked := update.Clone()
	maskMap(masked, m.patterns)
	return m.next.PatchLatest(ctx, runID, masked, fields)
}

func (m *piiMiddleware) LoadLatest(ctx context.Context, runID string) (*domain.Checkpoint, error) {
	return m.next.LoadLatest(ctx, runID)
}

func (m *piiMiddleware) LoadAt(ctx context.Context, runID string, step int) (*domain.Checkpoint, error) {
	return m.next.LoadAt(ctx, runID, step)
}

func (m *piiMiddleware) History(ctx context.Context, runID string) ([]*domain.Checkpoint, error) {
	return m.next.History(ctx, runID)
}

func (m *piiMiddleware) List(ctx context.Context) ([]string, error) {
	return m.next.List(ctx)
}

func (m *piiMiddleware) Delete(ctx context.Context, runID string) error {
	return m.next.Delete(ctx, runID)
}

func maskMap(m map[string]any, patterns []*regexp.Regexp) {
	for k, v := range m {
		masked := false
		for _, p := range patterns {
			if p.MatchString(k) {
				m[k] = Mask
				masked = true
				break
			}
		}
		if masked {
			continue
		}
		if subMap, ok := v.(map[string]any); ok {
			maskMap(subMap, patterns)
		}
	}
}
