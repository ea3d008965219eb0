package filestore

import (
	"fmt"
	"os"
	"sync"

	"github.com/edsrzf/mmap-go"

	"github.com/gravitytrope/realm-core/ref"
)

// MappedFile is the shared, refcounted view of one on-disk database
// file: a read-only mmap handle over the whole file. Writes go straight
// to the file through WriteAt, which syncs and then remaps; there is no
// separate buffered tail. Every Array backed by refs
// below the allocator's baseline ultimately resolves through here.
//
// Grounded on iavlx/internal.MmapFile: a single full-file mmap,
// unmapped and remapped wholesale on growth, rather than the
// section-staircase of partial mappings spec.md §4.2.1 describes for a
// production engine — see DESIGN.md for why that simplification was
// made here.
type MappedFile struct {
	mu   sync.RWMutex
	file *os.File
	path string
	h    mmap.MMap
}

// Open maps path read-only. A zero-length or not-yet-existing file
// maps to an empty region; callers attach a header onto it themselves.
func Open(path string) (*MappedFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("filestore: open %s: %w", path, err)
	}
	mf := &MappedFile{file: f, path: path}
	if err := mf.remapLocked(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return mf, nil
}

func (m *MappedFile) remapLocked() error {
	if m.h != nil {
		if err := m.h.Unmap(); err != nil {
			return fmt.Errorf("filestore: unmap %s: %w", m.path, err)
		}
		m.h = nil
	}
	fi, err := m.file.Stat()
	if err != nil {
		return fmt.Errorf("filestore: stat %s: %w", m.path, err)
	}
	if fi.Size() == 0 {
		return nil
	}
	h, err := mmap.Map(m.file, mmap.RDONLY, 0)
	if err != nil {
		return fmt.Errorf("filestore: mmap %s: %w", m.path, err)
	}
	m.h = h
	return nil
}

// Size returns the current mapped length of the file in bytes.
func (m *MappedFile) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.h)
}

// Translate resolves r to the bytes backing it in the mapped region.
// It satisfies alloc.FileTranslator.
func (m *MappedFile) Translate(r ref.Ref) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	off := int(r)
	if off < 0 || off >= len(m.h) {
		return nil, fmt.Errorf("filestore: ref %s beyond mapped region of %s (size %d)", r, m.path, len(m.h))
	}
	return m.h[off:], nil
}

// ReadAt copies size bytes starting at offset out of the mapped region.
func (m *MappedFile) ReadAt(offset, size int) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if offset < 0 || offset+size > len(m.h) {
		return nil, fmt.Errorf("filestore: read [%d,%d) beyond mapped region of %s (size %d)", offset, offset+size, m.path, len(m.h))
	}
	out := make([]byte, size)
	copy(out, m.h[offset:offset+size])
	return out, nil
}

// WriteAt writes p at offset, growing the file first if needed, then
// remaps so future reads observe it.
func (m *MappedFile) WriteAt(offset int, p []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	need := int64(offset + len(p))
	fi, err := m.file.Stat()
	if err != nil {
		return fmt.Errorf("filestore: stat %s: %w", m.path, err)
	}
	if fi.Size() < need {
		if err := m.file.Truncate(need); err != nil {
			return fmt.Errorf("filestore: grow %s to %d bytes: %w", m.path, need, err)
		}
	}
	if _, err := m.file.WriteAt(p, int64(offset)); err != nil {
		return fmt.Errorf("filestore: write %s at %d: %w", m.path, offset, err)
	}
	if err := m.file.Sync(); err != nil {
		return fmt.Errorf("filestore: sync %s: %w", m.path, err)
	}
	return m.remapLocked()
}

// Sync flushes any OS-buffered writes to disk without remapping.
func (m *MappedFile) Sync() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.file.Sync(); err != nil {
		return fmt.Errorf("filestore: sync %s: %w", m.path, err)
	}
	return nil
}

// Close releases the mapping and closes the file. It does not call
// Sync.
func (m *MappedFile) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.h != nil {
		if err := m.h.Unmap(); err != nil {
			_ = m.file.Close()
			return fmt.Errorf("filestore: unmap %s: %w", m.path, err)
		}
	}
	return m.file.Close()
}
