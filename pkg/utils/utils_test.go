package utils

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressDecompressRoundTrip(t *testing.T) {
	src := filepath.Join(t.TempDir(), "tree")
	require.NoError(t, os.MkdirAll(filepath.Join(src, "bin"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "bin", "driver"), []byte("payload"), 0755))

	archive := filepath.Join(t.TempDir(), "tree.tar.gz")
	require.NoError(t, Compress(src, archive))

	out := t.TempDir()
	require.NoError(t, Decompress(archive, out))

	content, err := os.ReadFile(filepath.Join(out, "tree", "bin", "driver"))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(content))
}

func TestDecompressRejectsEscapingEntries(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "evil.tar.gz")
	f, err := os.Create(archive)
	require.NoError(t, err)

	gzw := gzip.NewWriter(f)
	tw := tar.NewWriter(gzw)
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name:     "../../escape.txt",
		Typeflag: tar.TypeReg,
		Mode:     0644,
		Size:     4,
	}))
	_, err = tw.Write([]byte("evil"))
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, gzw.Close())
	require.NoError(t, f.Close())

	target := t.TempDir()
	// Entries are re-rooted under the base dir; nothing may land outside it.
	_ = Decompress(archive, target)
	assert.NoFileExists(t, filepath.Join(filepath.Dir(target), "escape.txt"))
}

func TestDownloadSkipsCachedFile(t *testing.T) {
	payload := []byte("source archive")
	sum := sha256.Sum256(payload)

	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write(payload)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "archive.tar.gz")
	want := hex.EncodeToString(sum[:])

	require.NoError(t, Download(context.Background(), srv.URL, dest, want))
	require.NoError(t, Download(context.Background(), srv.URL, dest, want))
	assert.Equal(t, 1, hits, "a verified cached file must not be re-fetched")
}

func TestDownloadRefetchesStaleFile(t *testing.T) {
	payload := []byte("fresh contents")
	sum := sha256.Sum256(payload)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "archive.tar.gz")
	require.NoError(t, os.WriteFile(dest, []byte("stale"), 0644))

	require.NoError(t, Download(context.Background(), srv.URL, dest, hex.EncodeToString(sum[:])))
	content, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, payload, content)
}

func TestDownloadHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	err := Download(context.Background(), srv.URL, filepath.Join(t.TempDir(), "x"), "00")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestPrefixWriterPrefixesLines(t *testing.T) {
	var buf bytes.Buffer
	w := NewPrefixWriter("linux64", &buf, true)

	_, err := w.Write([]byte("configuring\nbuilding\n"))
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "configuring")
	assert.Contains(t, out, "building")
}

// failingWriter accepts writes until failOn calls have been made, then
// returns an error for every call.
type failingWriter struct {
	calls  int
	failOn int
	buf    bytes.Buffer
}

func (w *failingWriter) Write(b []byte) (int, error) {
	w.calls++
	if w.calls >= w.failOn {
		return 0, errors.New("pipe closed")
	}
	return w.buf.Write(b)
}

func TestPrefixWriterReportsForwardedBytes(t *testing.T) {
	// Calls alternate prefix, line, prefix, line; failing on the third
	// call loses the second line and its prefix.
	under := &failingWriter{failOn: 3}
	w := NewPrefixWriter("win64", under, true)

	n, err := w.Write([]byte("first\nsecond\n"))
	require.Error(t, err)
	assert.Equal(t, len("first\n"), n)
}

func TestPrefixWriterTruncatesLongNames(t *testing.T) {
	var buf bytes.Buffer
	w := NewPrefixWriter("a-very-long-step-name-that-exceeds-the-limit", &buf, true)
	pw, ok := w.(*PrefixWriter)
	require.True(t, ok)
	assert.LessOrEqual(t, len(pw.name), MaxNameLength)
}

func TestFileSHA256(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0644))

	sum, err := FileSHA256(path)
	require.NoError(t, err)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", sum)
}
