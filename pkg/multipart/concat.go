package multipart

import (
	"context"
	"io"

	"github.com/bunnylabs/bunny-s3-proxy/pkg/backend"
)

// concatReader streams the requested parts back to back, in the caller's
// order. Each part's download is opened only when the previous one is
// exhausted, so at most one part body is in flight and backpressure from
// the destination upload propagates straight to the part download.
type concatReader struct {
	ctx      context.Context
	client   backend.Client
	uploadID string
	parts    []CompletedPart

	index   int
	current io.ReadCloser
}

func (r *concatReader) Read(p []byte) (int, error) {
	for {
		if r.current == nil {
			if r.index >= len(r.parts) {
				return 0, io.EOF
			}
			download, err := r.client.Download(r.ctx, partPath(r.uploadID, r.parts[r.index].Number))
			if err != nil {
				return 0, err
			}
			r.current = download.Body
			r.index++
		}

		n, err := r.current.Read(p)
		if err == io.EOF {
			r.current.Close()
			r.current = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

// Close releases the in-flight part download, if any. Safe to call after a
// clean EOF.
func (r *concatReader) Close() error {
	if r.current != nil {
		err := r.current.Close()
		r.current = nil
		return err
	}
	return nil
}
