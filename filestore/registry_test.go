package filestore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAcquireSharedReturnsSameHandleUntilFullyReleased(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shared.db")
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	a, err := AcquireShared(path)
	require.NoError(t, err)
	b, err := AcquireShared(path)
	require.NoError(t, err)
	require.Same(t, a, b)

	require.NoError(t, ReleaseShared(path))
	require.NoError(t, ReleaseShared(path))

	c, err := AcquireShared(path)
	require.NoError(t, err)
	require.NotSame(t, a, c, "after full release, a fresh acquire must open a new handle")
	require.NoError(t, ReleaseShared(path))
}
