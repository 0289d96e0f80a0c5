package middleware_test

import (
	"context"
	"testing"

	"github.com/aretw0/pergola/pkg/adapters/memory"
	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/persistence/middleware"
	"github.com/aretw0/pergola/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPIIMiddleware_Contract(t *testing.T) {
	ports.RunCheckpointStoreContract(t, middleware.NewPIIMiddleware([]string{"password"})(memory.NewStore()))
}

func TestPIIMiddleware_Masking(t *testing.T) {
	underlying := memory.NewStore()
	secure := middleware.NewPIIMiddleware([]string{"password", "ssn"})(underlying)
	ctx := context.Background()

	state := domain.State{
		"username":      "jdoe",
		"user_password": "secret123",
		"details": map[string]any{
			"address":    "123 St",
			"ssn_number": "999-99-9999",
		},
	}
	require.NoError(t, secure.Save(ctx, &domain.Checkpoint{RunID: "pii", State: state}))

	assert.Equal(t, "secret123", state["user_password"], "caller state must not be modified")

	stored, err := underlying.LoadLatest(ctx, "pii")
	require.NoError(t, err)
	assert.Equal(t, "jdoe", stored.State["username"])
	assert.Equal(t, middleware.Mask, stored.State["user_password"])
	details := stored.State["details"].(map[string]any)
	assert.Equal(t, middleware.Mask, details["ssn_number"])
	assert.Equal(t, "123 St", details["address"])
}

func TestPIIMiddleware_PatchIsMasked(t *testing.T) {
	underlying := memory.NewStore()
	secure := middleware.NewPIIMiddleware([]string{"password"})(underlying)
	ctx := context.Background()

	require.NoError(t, secure.Save(ctx, &domain.Checkpoint{RunID: "pii", State: domain.State{}}))
	_, err := secure.PatchLatest(ctx, "pii", domain.State{"password": "hunter2", "name": "ada"}, nil)
	require.NoError(t, err)

	stored, err := underlying.LoadLatest(ctx, "pii")
	require.NoError(t, err)
	assert.Equal(t, middleware.Mask, stored.State["password"])
	assert.Equal(t, "ada", stored.State["name"])
}

func TestChain_OutermostFirst(t *testing.T) {
	underlying := memory.NewStore()
	key := make([]byte, 32)
	store := middleware.Chain(underlying,
		middleware.NewPIIMiddleware([]string{"token"}),
		middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: key}),
	)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, &domain.Checkpoint{RunID: "c", State: domain.State{"token": "abc", "ok": true}}))

	loaded, err := store.LoadLatest(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, middleware.Mask, loaded.State["token"], "masked before encryption")
	assert.Equal(t, true, loaded.State["ok"])
}
