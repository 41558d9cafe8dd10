package source

// streaming.go provides the reader wrappers applied to an export before it
// reaches the CSV parser:
//
//   - CountingReader: tracks raw bytes read for progress logging
//   - Decode: converts a legacy character set to UTF-8
//   - SkipBOM: removes a UTF-8 byte order mark written by Windows tools
//
// Order matters: count the raw file, decode, then strip the BOM from the
// decoded text.

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// CountingReader wraps an io.Reader to track bytes read.
type CountingReader struct {
	reader    io.Reader
	BytesRead int64
	Total     int64 // If known (0 if unknown)
}

// NewCountingReader creates a counting reader with optional total size.
func NewCountingReader(r io.Reader, total int64) *CountingReader {
	return &CountingReader{
		reader: r,
		Total:  total,
	}
}

// Read implements io.Reader.
func (r *CountingReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.BytesRead += int64(n)
	return n, err
}

// Progress returns the read progress as a percentage (0-100).
// Returns 0 if total is unknown.
func (r *CountingReader) Progress() int {
	if r.Total <= 0 {
		return 0
	}
	return int(r.BytesRead * 100 / r.Total)
}

// Decode wraps r so that it yields UTF-8 for the character set named by
// label (any WHATWG label, e.g. "utf-8", "shift_jis", "windows-1252").
// UTF-8 input is passed through byte for byte; invalid sequences are left
// for the classifier's ASCII stripping. The canonical encoding name is
// returned for logging.
func Decode(r io.Reader, label string) (io.Reader, string, error) {
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, "", fmt.Errorf("unknown encoding %q: %w", label, err)
	}
	name, err := htmlindex.Name(enc)
	if err != nil {
		name = label
	}
	if name == "utf-8" {
		return r, name, nil
	}
	return transform.NewReader(r, enc.NewDecoder()), name, nil
}

// SkipBOM returns a reader that drops a leading UTF-8 byte order mark.
func SkipBOM(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	if head, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}
	return br
}
