package flock

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/projecteru2/bootkit/lock"
)

func target(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "boot.img")
	require.NoError(t, os.WriteFile(path, []byte("img"), 0o644))
	return path
}

func TestTryLockExcludesOtherHolders(t *testing.T) {
	ctx := context.Background()
	path := target(t)
	a, b := New(path), New(path)

	require.NoError(t, a.Lock(ctx))
	ok, err := b.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = a.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "same Lock is not reentrant")

	require.NoError(t, a.Unlock(ctx))
	ok, err = b.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, b.Unlock(ctx))
}

func TestLockHonoursContext(t *testing.T) {
	path := target(t)
	holder := New(path)
	require.NoError(t, holder.Lock(context.Background()))
	defer holder.Unlock(context.Background()) //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.Error(t, New(path).Lock(ctx))
}

func TestLockMissingFile(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "absent"))
	assert.Error(t, l.Lock(context.Background()))
	ok, err := New(filepath.Join(t.TempDir(), "absent")).TryLock(context.Background())
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestWithLock(t *testing.T) {
	path := target(t)
	l := New(path)
	ran := false
	require.NoError(t, lock.WithLock(context.Background(), l, func() error {
		ran = true
		ok, err := New(path).TryLock(context.Background())
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	}))
	assert.True(t, ran)

	ok, err := New(path).TryLock(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}
