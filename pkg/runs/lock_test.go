package runs

import (
	"context"
	"fmt"
	"testing"

	"github.com/aretw0/pergola/pkg/adapters/memory"
	"github.com/aretw0/pergola/pkg/domain"
)

func TestManager_LockLifecycle(t *testing.T) {
	mgr := NewManager(memory.NewStore())
	ctx := context.Background()
	count := 10000

	for i := 0; i < count; i++ {
		id := fmt.Sprintf("run-%d", i)
		_ = mgr.WithLock(ctx, id, func(ctx context.Context) error {
			return mgr.Store().Save(ctx, &domain.Checkpoint{RunID: id, State: domain.State{}})
		})
		_ = mgr.Delete(ctx, id)
	}

	if n := mgr.active(); n != 0 {
		t.Errorf("Memory Leak Detected: %d locks remaining in memory after Delete", n)
	}
}
