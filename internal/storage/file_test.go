package storage

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLoadMissing(t *testing.T) {
	f := NewFile(filepath.Join(t.TempDir(), "refresh_token"))

	_, err := f.Load(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileSaveLoadOverwrite(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "refresh_token")
	f := NewFile(path)

	require.NoError(t, f.Save(ctx, []byte("first")))
	require.NoError(t, f.Save(ctx, []byte("second")))

	data, err := f.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	}
}

func TestFileRejectsWorldReadable(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permissions only")
	}

	path := filepath.Join(t.TempDir(), "proofkey")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0644))

	_, err := NewFile(path).Load(context.Background())
	assert.ErrorIs(t, err, ErrInvalidPermissions)
}

func TestPreparePrivateFile(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permissions only")
	}

	dir := t.TempDir()

	path := filepath.Join(dir, "nested", "client.db")
	require.NoError(t, PreparePrivateFile(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	assert.Zero(t, info.Size())

	require.NoError(t, os.WriteFile(path, []byte("data"), 0600))
	require.NoError(t, PreparePrivateFile(path), "an existing private file is accepted")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "data", string(data), "an existing file is left untouched")

	shared := filepath.Join(dir, "shared.db")
	require.NoError(t, os.WriteFile(shared, nil, 0600))
	require.NoError(t, os.Chmod(shared, 0644))
	assert.ErrorIs(t, PreparePrivateFile(shared), ErrInvalidPermissions)
}

func TestFileDelete(t *testing.T) {
	ctx := context.Background()
	f := NewFile(filepath.Join(t.TempDir(), "refresh_token"))

	require.NoError(t, f.Delete(ctx), "deleting a missing file is not an error")
	require.NoError(t, f.Save(ctx, []byte("token")))
	require.NoError(t, f.Delete(ctx))

	_, err := f.Load(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(nil)

	_, err := m.Load(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.Save(ctx, []byte("abc")))
	data, err := m.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))
	assert.Equal(t, 1, m.Saves())

	require.NoError(t, m.Delete(ctx))
	_, err = m.Load(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
}
