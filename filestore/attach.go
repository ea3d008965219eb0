package filestore

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/gravitytrope/realm-core/alloc"
	"github.com/gravitytrope/realm-core/ref"
)

// AttachOptions mirrors the flag set spec.md §4.3 opens a file with.
type AttachOptions struct {
	ReadOnly         bool
	IsShared         bool
	SessionInitiator bool
	ClearFile        bool
	NoCreate         bool
	EncryptionKey    []byte // hook only; no key management is implemented here.
	SkipValidate     bool
	PageSize         int
}

func (o AttachOptions) validate() error {
	if o.IsShared && o.ReadOnly {
		return fmt.Errorf("filestore: is_shared and read_only are mutually exclusive")
	}
	if o.SessionInitiator && !o.IsShared {
		return fmt.Errorf("filestore: session_initiator requires is_shared")
	}
	if o.ClearFile && !o.SessionInitiator {
		return fmt.Errorf("filestore: clear_file requires session_initiator")
	}
	return nil
}

func (o AttachOptions) pageSize() int {
	if o.PageSize > 0 {
		return o.PageSize
	}
	return 4096
}

// Session is the result of a successful Attach: the mapped file plus
// the header state the caller selected.
type Session struct {
	File     *MappedFile
	Header   Header
	Path     string
	isShared bool
	logger   *slog.Logger
}

// TopRef returns the currently live top-level ref.
func (s *Session) TopRef() ref.Ref { return s.Header.SelectedTopRef() }

// Close releases this session's reference to its file. An is_shared
// session drops a refcount in the process-wide registry; a private
// session closes its own mapping directly.
func (s *Session) Close() error {
	if s.isShared {
		return ReleaseShared(s.Path)
	}
	return s.File.Close()
}

// Attach opens path and runs the validation and streaming→committed
// transition protocol of spec.md §4.3.
func Attach(path string, opts AttachOptions, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}

	open := Open
	closeFn := func(mf *MappedFile) error { return mf.Close() }
	if opts.IsShared {
		open = AcquireShared
		closeFn = func(*MappedFile) error { return ReleaseShared(path) }
	}

	mf, err := open(path)
	if err != nil {
		return nil, err
	}

	if opts.ClearFile {
		if err := closeFn(mf); err != nil {
			return nil, err
		}
		if err := clearFile(path); err != nil {
			return nil, err
		}
		mf, err = open(path)
		if err != nil {
			return nil, err
		}
	}

	size := mf.Size()
	if size == 0 {
		if opts.NoCreate {
			_ = closeFn(mf)
			return nil, &InvalidDatabase{Path: path, Reason: "file is empty and no_create is set"}
		}
		hdr := Header{FileFormat: [2]byte{currentFileFormat, 0}, SelectBit: 0}
		if err := mf.WriteAt(0, encodeHeader(hdr)); err != nil {
			_ = closeFn(mf)
			return nil, err
		}
		return &Session{File: mf, Header: hdr, Path: path, isShared: opts.IsShared, logger: logger}, nil
	}

	hdr, err := attachExisting(mf, opts, logger)
	if err != nil {
		_ = closeFn(mf)
		return nil, err
	}
	return &Session{File: mf, Header: hdr, Path: path, isShared: opts.IsShared, logger: logger}, nil
}

func attachExisting(mf *MappedFile, opts AttachOptions, logger *slog.Logger) (Header, error) {
	size := mf.Size()

	// A shared, non-initiating attach can race a concurrent writer that
	// is mid-extending the file past a section boundary. Such an attach
	// only trusts a file size that already lands on a boundary; anything
	// else — including a size that isn't even a multiple of 8 — asks the
	// caller to re-read and retry rather than risk reading a section
	// whose mapping is about to move underneath it. This check runs
	// before any header validation.
	if opts.IsShared && !opts.SessionInitiator && !opts.SkipValidate && !isSectionBoundary(size, opts.pageSize()) {
		return Header{}, &Retry{Path: mf.path}
	}

	// 1. File size >= sizeof(Header) and a multiple of 8.
	if size < HeaderSize || size%8 != 0 {
		return Header{}, &InvalidDatabase{Path: mf.path, Reason: fmt.Sprintf("bad file size %d", size)}
	}

	raw, err := mf.ReadAt(0, HeaderSize)
	if err != nil {
		return Header{}, err
	}
	// 2. Magic bytes.
	hdr, err := decodeHeader(raw)
	if err != nil {
		return Header{}, &InvalidDatabase{Path: mf.path, Reason: err.Error()}
	}

	topRef := hdr.TopRef[hdr.selected()]
	streaming := hdr.IsStreamingForm()
	var footer StreamingFooter
	if streaming {
		// 3. Streaming form: the real top_ref lives in the footer.
		fraw, err := mf.ReadAt(size-FooterSize, FooterSize)
		if err != nil {
			return Header{}, &InvalidDatabase{Path: mf.path, Reason: "streaming form missing footer"}
		}
		footer, err = decodeFooter(fraw)
		if err != nil {
			return Header{}, &InvalidDatabase{Path: mf.path, Reason: err.Error()}
		}
		topRef = footer.TopRef
	}

	// 4. Chosen top_ref must be 8-byte aligned and < size.
	if !topRef.Aligned() || uint64(topRef) >= uint64(size) {
		return Header{}, &InvalidDatabase{Path: mf.path, Reason: fmt.Sprintf("top_ref %s out of range for size %d", topRef, size)}
	}

	// 5. file_format[sel] must be supported.
	sel := hdr.selected()
	format := hdr.FileFormat[sel]
	if streaming {
		format = hdr.FileFormat[0]
	}
	if !opts.SkipValidate && !fileFormatSupported(format, opts.IsShared) {
		return Header{}, &InvalidDatabase{Path: mf.path, Reason: fmt.Sprintf("unsupported file_format %d", format)}
	}

	if !streaming {
		return hdr, nil
	}

	if !opts.SessionInitiator {
		// Not the session initiator: report the real top-ref without
		// touching the header on disk.
		out := hdr
		out.TopRef[0] = topRef
		return out, nil
	}

	return transitionStreamingToCommitted(mf, hdr, footer, logger)
}

// transitionStreamingToCommitted performs the three sync'd steps of
// spec.md §4.3: before step 2 the file is still valid as streaming
// form; after step 2 it is valid as committed form; there is no third
// observable state a crash could leave behind.
func transitionStreamingToCommitted(mf *MappedFile, hdr Header, footer StreamingFooter, logger *slog.Logger) (Header, error) {
	// Step 1: copy footer's top_ref into slot 1, file_format[0] into slot 1.
	hdr.TopRef[1] = footer.TopRef
	hdr.FileFormat[1] = hdr.FileFormat[0]
	if err := mf.WriteAt(0, encodeHeader(hdr)); err != nil {
		return Header{}, fmt.Errorf("filestore: streaming transition step 1: %w", err)
	}

	// Step 2: flip select_bit so slot 1 is live.
	hdr.SelectBit = 1
	if err := mf.WriteAt(0, encodeHeader(hdr)); err != nil {
		return Header{}, fmt.Errorf("filestore: streaming transition step 2: %w", err)
	}

	logger.Info("filestore: converted streaming-form file to committed form", "path", mf.path, "top_ref", footer.TopRef.String())
	// Step 3: clear in-memory streaming flag — nothing further to do,
	// since hdr.IsStreamingForm() is now false by construction.
	return hdr, nil
}

func isSectionBoundary(size, pageSize int) bool {
	idx := alloc.SectionIndex(uint64(size), pageSize)
	return alloc.SectionBase(idx, pageSize) == size
}

func clearFile(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("filestore: clear_file %s: %w", path, err)
	}
	return f.Close()
}
