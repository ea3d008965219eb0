package filestore

import (
	"fmt"

	"github.com/alitto/pond/v2"
)

// DB groups the sessions a process has attached to several database
// files, so they can be flushed together.
//
// Grounded on iavlx/internal/db.go's DB: there, a DB fans per-tree
// hashing out across a pond.ResultPool sized to the tree count. Here
// there is no hashing step, only independent file syncs, so the pool
// fans out MappedFile.Sync instead, one task per attached Session.
type DB struct {
	sessions []*Session
	syncPool pond.ResultPool[struct{}]
}

// NewDB wraps an already-attached set of sessions for concurrent
// flushing. The sessions must outlive the DB; NewDB does not attach or
// close anything itself.
func NewDB(sessions []*Session) *DB {
	return &DB{
		sessions: sessions,
		syncPool: pond.NewResultPool[struct{}](len(sessions)),
	}
}

// SyncAll flushes every session's file concurrently and returns the
// first error encountered, if any.
func (db *DB) SyncAll() error {
	group := db.syncPool.NewGroup()
	for _, s := range db.sessions {
		sess := s
		group.SubmitErr(func() (struct{}, error) {
			return struct{}{}, sess.File.Sync()
		})
	}
	if _, err := group.Wait(); err != nil {
		return fmt.Errorf("filestore: syncAll: %w", err)
	}
	return nil
}
