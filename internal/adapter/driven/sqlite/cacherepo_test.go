package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheRepo_GetMissing(t *testing.T) {
	repo := NewCacheRepo(setupTestDB(t))

	blob, ok, err := repo.Get(context.Background(), "collection:students")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, blob)
}

func TestCacheRepo_SetAndReplace(t *testing.T) {
	repo := NewCacheRepo(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Set(ctx, "collection:students", []byte(`{"records":[]}`)))
	require.NoError(t, repo.Set(ctx, "collection:students", []byte(`{"records":[{"id":"1"}]}`)))
	require.NoError(t, repo.Set(ctx, "collection:notes", []byte(`{}`)))

	blob, ok, err := repo.Get(ctx, "collection:students")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"records":[{"id":"1"}]}`, string(blob))

	blob, ok, err = repo.Get(ctx, "collection:notes")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "{}", string(blob))
}

func TestCacheRepo_EmptyBlob(t *testing.T) {
	repo := NewCacheRepo(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Set(ctx, "collection:empty", nil))
	blob, ok, err := repo.Get(ctx, "collection:empty")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, blob)
}
