package store_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-invoicing/internal/store"
)

func TestNewIDShape(t *testing.T) {
	seen := map[string]struct{}{}
	for range 100 {
		id := store.NewID()
		require.Len(t, id, 24)
		require.True(t, store.ValidID(id))
		_, dup := seen[id]
		require.False(t, dup, "generated duplicate id %s", id)
		seen[id] = struct{}{}
	}
}

func TestValidID(t *testing.T) {
	require.True(t, store.ValidID("6782814311780a797ea1edd1"))
	require.False(t, store.ValidID(""))
	require.False(t, store.ValidID("6782814311780a797ea1edd"))
	require.False(t, store.ValidID("6782814311780a797ea1eddz"))
}
