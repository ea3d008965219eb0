package filestore

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSyncAllFlushesEverySession(t *testing.T) {
	dir := t.TempDir()

	var sessions []*Session
	for i := 0; i < 3; i++ {
		path := filepath.Join(dir, fmt.Sprintf("db%d.db", i))
		sess, err := Attach(path, AttachOptions{}, nil)
		require.NoError(t, err)
		sessions = append(sessions, sess)
	}

	db := NewDB(sessions)
	require.NoError(t, db.SyncAll())

	for _, sess := range sessions {
		require.NoError(t, sess.Close())
	}
}
