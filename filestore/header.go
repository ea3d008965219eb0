package filestore

import (
	"encoding/binary"
	"fmt"

	"github.com/gravitytrope/realm-core/ref"
)

const (
	// HeaderSize is the fixed 24-byte on-disk file header (spec.md
	// §4.3): two top-ref/file-format slots, a magic, a reserved byte and
	// a flags byte.
	HeaderSize = 24
	// FooterSize is the trailing record written only while a file is in
	// streaming form.
	FooterSize = 16

	streamingTopRef = ref.Ref(0xFFFF_FFFF_FFFF_FFFF)
	magicCookie     = uint64(0x1A2B3C4D5E6F7A8B)
)

var magic = [4]byte{'T', '-', 'D', 'B'}

// supportedUnshared and supportedShared are the file_format version
// sets this engine accepts, per the Open Questions decision in
// SPEC_FULL.md §4.1: a shared (multi-process) attach also tolerates the
// older format 2, which an unshared attach refuses.
var (
	supportedUnshared = map[byte]bool{3: true, 4: true}
	supportedShared   = map[byte]bool{2: true, 3: true, 4: true}
)

// currentFileFormat is the version byte a freshly created file is
// stamped with. It must be a member of both supportedUnshared and
// supportedShared.
const currentFileFormat = 4

// fileFormatSupported reports whether format is acceptable for the
// given is_shared mode.
func fileFormatSupported(format byte, isShared bool) bool {
	if isShared {
		return supportedShared[format]
	}
	return supportedUnshared[format]
}

// Header is the decoded, in-memory form of the 24-byte on-disk file
// header. Fields are named after spec.md §4.3, not the raw byte
// layout.
type Header struct {
	TopRef     [2]ref.Ref
	FileFormat [2]byte
	SelectBit  byte // 0 or 1
}

func (h Header) selected() int { return int(h.SelectBit & 1) }

// SelectedTopRef returns the currently live top ref.
func (h Header) SelectedTopRef() ref.Ref { return h.TopRef[h.selected()] }

// SelectedFileFormat returns the currently live file format byte.
func (h Header) SelectedFileFormat() byte { return h.FileFormat[h.selected()] }

func encodeHeader(h Header) []byte {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint64(buf[0:8], uint64(h.TopRef[0]))
	binary.BigEndian.PutUint64(buf[8:16], uint64(h.TopRef[1]))
	copy(buf[16:20], magic[:])
	buf[20] = h.FileFormat[0]
	buf[21] = h.FileFormat[1]
	// buf[22] is reserved, left zero.
	buf[23] = h.SelectBit & 1
	return buf
}

func decodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("filestore: header too short: %d bytes", len(buf))
	}
	if string(buf[16:20]) != string(magic[:]) {
		return Header{}, fmt.Errorf("filestore: bad magic %q", buf[16:20])
	}
	return Header{
		TopRef:     [2]ref.Ref{ref.Ref(binary.BigEndian.Uint64(buf[0:8])), ref.Ref(binary.BigEndian.Uint64(buf[8:16]))},
		FileFormat: [2]byte{buf[20], buf[21]},
		SelectBit:  buf[23] & 1,
	}, nil
}

// StreamingFooter is the 16-byte trailer present only while the file is
// in streaming form (spec.md §4.3): the real top ref, guarded by a
// magic cookie so a truncated or foreign tail is never mistaken for it.
type StreamingFooter struct {
	TopRef ref.Ref
	Cookie uint64
}

func encodeFooter(f StreamingFooter) []byte {
	buf := make([]byte, FooterSize)
	binary.BigEndian.PutUint64(buf[0:8], uint64(f.TopRef))
	binary.BigEndian.PutUint64(buf[8:16], f.Cookie)
	return buf
}

func decodeFooter(buf []byte) (StreamingFooter, error) {
	if len(buf) < FooterSize {
		return StreamingFooter{}, fmt.Errorf("filestore: footer too short: %d bytes", len(buf))
	}
	f := StreamingFooter{
		TopRef: ref.Ref(binary.BigEndian.Uint64(buf[0:8])),
		Cookie: binary.BigEndian.Uint64(buf[8:16]),
	}
	if f.Cookie != magicCookie {
		return StreamingFooter{}, fmt.Errorf("filestore: bad streaming footer cookie 0x%x", f.Cookie)
	}
	return f, nil
}

// NewStreamingFooter builds a footer carrying the correct cookie, for
// callers writing a streaming-form file (tests, or a higher commit
// layer not built here).
func NewStreamingFooter(topRef ref.Ref) StreamingFooter {
	return StreamingFooter{TopRef: topRef, Cookie: magicCookie}
}

// IsStreamingForm reports whether h, as read straight off disk, marks
// the file as still being in streaming form.
func (h Header) IsStreamingForm() bool {
	return h.selected() == 0 && h.TopRef[0] == streamingTopRef
}
