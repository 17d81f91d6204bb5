package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/schedule-pipeline/internal/schedule"
)

func TestObjectStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewObjectStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "data/html/2023-01-15.html", "text/html", payload)
	require.NoError(t, err)
	assert.Equal(t, "memory://data/html/2023-01-15.html", uri)

	payload[0] = 'C'
	stored, err := store.GetObject(context.Background(), "data/html/2023-01-15.html")
	require.NoError(t, err)
	assert.Equal(t, "content", string(stored))
}

func TestObjectStoreGetMissing(t *testing.T) {
	t.Parallel()

	store := NewObjectStore()
	_, err := store.GetObject(context.Background(), "data/json/2023-01-15.json")
	require.ErrorIs(t, err, schedule.ErrNotFound)
}

func TestObjectStoreExists(t *testing.T) {
	t.Parallel()

	store := NewObjectStore()
	_, err := store.PutObject(context.Background(), "data/json/2023-01-15.json", "application/json", []byte("{}"))
	require.NoError(t, err)

	ok, err := store.Exists(context.Background(), "data/json/2023-01-15.json")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Exists(context.Background(), "data/json/2023-01-16.json")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestObjectStoreListPrefix(t *testing.T) {
	t.Parallel()

	store := NewObjectStore()
	ctx := context.Background()
	for _, key := range []string{
		"data/json/2023-01-16.json",
		"data/json/2023-01-15.json",
		"data/html/2023-01-15.html",
	} {
		_, err := store.PutObject(ctx, key, "", []byte("x"))
		require.NoError(t, err)
	}

	keys, err := store.ListPrefix(ctx, "data/json/")
	require.NoError(t, err)
	assert.Equal(t, []string{"data/json/2023-01-15.json", "data/json/2023-01-16.json"}, keys)

	keys, err = store.ListPrefix(ctx, "data/missing/")
	require.NoError(t, err)
	assert.Empty(t, keys)
}
