package filestore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gravitytrope/realm-core/ref"
)

func writeAt(t *testing.T, path string, off int, b []byte) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	require.NoError(t, err)
	defer f.Close()
	_, err = f.WriteAt(b, int64(off))
	require.NoError(t, err)
}

func truncate(t *testing.T, path string, size int64) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(size))
	require.NoError(t, f.Close())
}

func TestAttachCreatesFreshCommittedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fresh.db")

	sess, err := Attach(path, AttachOptions{}, nil)
	require.NoError(t, err)
	require.NoError(t, sess.Close())

	sess2, err := Attach(path, AttachOptions{NoCreate: true}, nil)
	require.NoError(t, err)
	require.Equal(t, ref.Ref(0), sess2.TopRef())
	require.NoError(t, sess2.Close())
}

func TestAttachStreamingFormRecovery(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "streaming.db")
	truncate(t, path, 128)

	hdr := Header{TopRef: [2]ref.Ref{streamingTopRef, 0}, FileFormat: [2]byte{3, 0}, SelectBit: 0}
	writeAt(t, path, 0, encodeHeader(hdr))
	footer := NewStreamingFooter(0x40)
	writeAt(t, path, 128-FooterSize, encodeFooter(footer))

	sess, err := Attach(path, AttachOptions{IsShared: true, SessionInitiator: true, PageSize: 64}, nil)
	require.NoError(t, err)
	require.Equal(t, ref.Ref(0x40), sess.Header.TopRef[1])
	require.Equal(t, byte(1), sess.Header.SelectBit)
	require.NoError(t, sess.Close())

	sess2, err := Attach(path, AttachOptions{IsShared: true, SessionInitiator: false, PageSize: 64}, nil)
	require.NoError(t, err)
	require.Equal(t, ref.Ref(0x40), sess2.TopRef())
	require.NoError(t, sess2.Close())
}

func TestAttachRetriesOnNonSectionBoundarySize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "growing.db")
	truncate(t, path, 31) // 3*8 + 7, not a multiple of the page size below

	hdr := Header{TopRef: [2]ref.Ref{0, 0}, FileFormat: [2]byte{3, 0}, SelectBit: 0}
	writeAt(t, path, 0, encodeHeader(hdr))

	opts := AttachOptions{IsShared: true, SessionInitiator: false, PageSize: 8}
	_, err := Attach(path, opts, nil)
	require.Error(t, err)
	var retry *Retry
	require.ErrorAs(t, err, &retry)

	truncate(t, path, 32) // next section boundary
	sess, err := Attach(path, opts, nil)
	require.NoError(t, err)
	require.Equal(t, ref.Ref(0), sess.TopRef())
	require.NoError(t, sess.Close())
}
