package filestore

import (
	"path/filepath"
	"sync"
)

// registry is the process-wide table of open MappedFile handles,
// keyed by absolute path, so that every Session in this process
// attaching the same is_shared file shares one mmap rather than
// mapping it twice. Grounded on iavlx/internal.DB's treesByName table,
// generalized from tree name to file path and from a plain map to a
// refcounted one.
type registry struct {
	mu      sync.Mutex
	entries map[string]*registryEntry
}

type registryEntry struct {
	file     *MappedFile
	refCount int
}

var shared = &registry{entries: make(map[string]*registryEntry)}

// acquire returns the shared MappedFile for path, opening it if this
// is the first reference in the process.
func (r *registry) acquire(path string) (*MappedFile, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[abs]; ok {
		e.refCount++
		return e.file, nil
	}

	mf, err := Open(abs)
	if err != nil {
		return nil, err
	}
	r.entries[abs] = &registryEntry{file: mf, refCount: 1}
	return mf, nil
}

// release drops a reference; once it reaches zero, the MappedFile is
// closed and removed from the registry.
func (r *registry) release(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[abs]
	if !ok {
		return nil
	}
	e.refCount--
	if e.refCount > 0 {
		return nil
	}
	delete(r.entries, abs)
	return e.file.Close()
}

// AcquireShared returns the process-wide shared MappedFile for path,
// for callers that open a file with is_shared set.
func AcquireShared(path string) (*MappedFile, error) {
	return shared.acquire(path)
}

// ReleaseShared drops this process's reference to path's shared
// MappedFile, closing it once no references remain.
func ReleaseShared(path string) error {
	return shared.release(path)
}
