// Package filestore implements the file header, streaming-footer attach
// protocol, and mmap-backed region mapping described in spec.md §3 and
// §4.3 (components C1 and C5). It wraps the file in a single read-only
// mmap handle over the whole file; writes go straight to the file, are
// synced, and the region is then remapped.
package filestore

import "fmt"

// InvalidDatabase reports that a file's header or footer failed
// validation and cannot be attached.
type InvalidDatabase struct {
	Path   string
	Reason string
}

func (e *InvalidDatabase) Error() string {
	return fmt.Sprintf("filestore: invalid database %q: %s", e.Path, e.Reason)
}

// Retry reports that a shared, non-initiating attach found the file
// size off a section boundary, as seen while another process is
// extending the file; the caller should retry the attach.
type Retry struct {
	Path string
}

func (e *Retry) Error() string {
	return fmt.Sprintf("filestore: retry attach of %q: file size is not on a section boundary", e.Path)
}

// InvalidFreeSpace reports that the allocator layer rejected a commit
// because its free-space bookkeeping was corrupt.
type InvalidFreeSpace struct {
	Path string
}

func (e *InvalidFreeSpace) Error() string {
	return fmt.Sprintf("filestore: %q has invalid free-space bookkeeping", e.Path)
}

// DecryptionFailed reports that an encrypted page could not be
// recovered. The engine itself has no key-management of its own; this
// type exists as the hook a caller's decryption layer reports through.
type DecryptionFailed struct {
	Path string
	Ref  uint64
}

func (e *DecryptionFailed) Error() string {
	return fmt.Sprintf("filestore: failed to decrypt page at ref 0x%x in %q", e.Ref, e.Path)
}
