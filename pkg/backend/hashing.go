package backend

import (
	"encoding/hex"
	"hash"
	"io"
)

// HashingReader feeds every byte read from the wrapped reader into a digest,
// so a body can be streamed onward and verified without buffering it. The
// digest is valid once the wrapped reader reports io.EOF.
type HashingReader struct {
	r io.Reader
	h hash.Hash
}

// NewHashingReader wraps r with the given digest.
func NewHashingReader(r io.Reader, h hash.Hash) *HashingReader {
	return &HashingReader{r: r, h: h}
}

func (hr *HashingReader) Read(p []byte) (int, error) {
	n, err := hr.r.Read(p)
	if n > 0 {
		hr.h.Write(p[:n])
	}
	return n, err
}

// Sum returns the hex digest of everything read so far.
func (hr *HashingReader) Sum() string {
	return hex.EncodeToString(hr.h.Sum(nil))
}
