package multipart

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bunnylabs/bunny-s3-proxy/pkg/backend"
)

// fakeBackend is a map-backed zone, enough to run the full upload lifecycle
// against.
type fakeBackend struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{objects: make(map[string][]byte)}
}

func (f *fakeBackend) entry(path string, body []byte) backend.StorageObject {
	dir, name := "", path
	if i := strings.LastIndex(path, "/"); i >= 0 {
		dir, name = path[:i+1], path[i+1:]
	}
	return backend.StorageObject{
		StorageZoneName: "zone",
		Path:            "/zone/" + dir,
		ObjectName:      name,
		Length:          int64(len(body)),
		LastChanged:     backend.Timestamp{Time: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
	}
}

func (f *fakeBackend) List(_ context.Context, path string) ([]backend.StorageObject, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	dir := strings.TrimPrefix(path, "/")
	if dir != "" && !strings.HasSuffix(dir, "/") {
		dir += "/"
	}

	var result []backend.StorageObject
	seenDirs := map[string]bool{}
	for key, body := range f.objects {
		if !strings.HasPrefix(key, dir) {
			continue
		}
		rest := strings.TrimPrefix(key, dir)
		if child, _, nested := strings.Cut(rest, "/"); nested {
			if !seenDirs[child] {
				seenDirs[child] = true
				result = append(result, backend.StorageObject{
					StorageZoneName: "zone",
					Path:            "/zone/" + dir,
					ObjectName:      child,
					IsDirectory:     true,
				})
			}
			continue
		}
		result = append(result, f.entry(key, body))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ObjectName < result[j].ObjectName })
	return result, nil
}

func (f *fakeBackend) ListRecursive(_ context.Context, prefix string, max int) ([]backend.StorageObject, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	keys := make([]string, 0, len(f.objects))
	for key := range f.objects {
		if strings.HasPrefix(key, strings.TrimPrefix(prefix, "/")) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	var result []backend.StorageObject
	for _, key := range keys {
		if max > 0 && len(result) >= max {
			break
		}
		result = append(result, f.entry(key, f.objects[key]))
	}
	return result, nil
}

func (f *fakeBackend) Describe(_ context.Context, path string) (backend.StorageObject, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := strings.TrimPrefix(path, "/")
	body, ok := f.objects[key]
	if !ok {
		return backend.StorageObject{}, backend.NotFoundError{Path: path}
	}
	return f.entry(key, body), nil
}

func (f *fakeBackend) Download(_ context.Context, path string) (*backend.Download, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	body, ok := f.objects[strings.TrimPrefix(path, "/")]
	if !ok {
		return nil, backend.NotFoundError{Path: path}
	}
	return &backend.Download{
		ContentLength: int64(len(body)),
		Body:          io.NopCloser(bytes.NewReader(body)),
	}, nil
}

func (f *fakeBackend) Upload(_ context.Context, path string, body []byte, _ backend.UploadOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[strings.TrimPrefix(path, "/")] = append([]byte(nil), body...)
	return nil
}

func (f *fakeBackend) UploadStream(ctx context.Context, path string, body io.Reader, _ int64) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	return f.Upload(ctx, path, data, backend.UploadOptions{})
}

func (f *fakeBackend) Delete(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, strings.TrimPrefix(strings.TrimSuffix(path, "/"), "/"))
	return nil
}

func (f *fakeBackend) Copy(ctx context.Context, src, dst string) error {
	download, err := f.Download(ctx, src)
	if err != nil {
		return err
	}
	body, _ := download.Bytes()
	return f.Upload(ctx, dst, body, backend.UploadOptions{})
}

var _ backend.Client = (*fakeBackend)(nil)

func compositeETag(bodies ...[]byte) string {
	outer := md5.New()
	for _, body := range bodies {
		sum := md5.Sum(body)
		outer.Write(sum[:])
	}
	return fmt.Sprintf("%s-%d", hex.EncodeToString(outer.Sum(nil)), len(bodies))
}

func TestUploadLifecycle(t *testing.T) {
	a := assert.New(t)
	store := newFakeBackend()
	manager := NewManager(store, nil)
	ctx := context.Background()

	uploadID, err := manager.Create(ctx, "videos/movie.mp4")
	require.NoError(t, err)
	a.Contains(store.objects, "__multipart/"+uploadID+"/_meta")

	partA := bytes.Repeat([]byte("A"), 256)
	partB := bytes.Repeat([]byte("B"), 128)

	etag1, err := manager.UploadPart(ctx, uploadID, 1, bytes.NewReader(partA), int64(len(partA)))
	require.NoError(t, err)
	sumA := md5.Sum(partA)
	a.Equal(hex.EncodeToString(sumA[:]), etag1)
	a.Equal(etag1, string(store.objects["__multipart/"+uploadID+"/00001.etag"]))

	etag2, err := manager.UploadPart(ctx, uploadID, 2, bytes.NewReader(partB), int64(len(partB)))
	require.NoError(t, err)

	key, parts, truncated, err := manager.ListParts(ctx, uploadID, 1000)
	require.NoError(t, err)
	a.Equal("videos/movie.mp4", key)
	a.False(truncated)
	require.Len(t, parts, 2)
	a.Equal(1, parts[0].Number)
	a.Equal(etag1, parts[0].ETag)
	a.Equal(int64(256), parts[0].Size)
	a.Equal(2, parts[1].Number)

	etag, size, err := manager.Complete(ctx, uploadID, "videos/movie.mp4", []CompletedPart{
		{Number: 1, ETag: etag1},
		{Number: 2, ETag: `"` + etag2 + `"`}, // quoted form must be accepted
	})
	require.NoError(t, err)
	a.Equal(int64(384), size)
	a.Equal(compositeETag(partA, partB), etag)
	a.Equal(append(partA, partB...), store.objects["videos/movie.mp4"])

	// The upload directory is gone, so the upload no longer exists.
	_, _, _, err = manager.ListParts(ctx, uploadID, 1000)
	var notFound UploadNotFoundError
	require.True(t, errors.As(err, &notFound))
	a.Equal(uploadID, notFound.UploadID)
}

func TestCompleteAssemblesInCallerOrder(t *testing.T) {
	a := assert.New(t)
	store := newFakeBackend()
	manager := NewManager(store, nil)
	ctx := context.Background()

	uploadID, err := manager.Create(ctx, "k")
	require.NoError(t, err)

	etag1, err := manager.UploadPart(ctx, uploadID, 1, strings.NewReader("first"), 5)
	require.NoError(t, err)
	etag2, err := manager.UploadPart(ctx, uploadID, 2, strings.NewReader("second"), 6)
	require.NoError(t, err)

	// Reversed parts list: the callers order defines the layout.
	_, size, err := manager.Complete(ctx, uploadID, "k", []CompletedPart{
		{Number: 2, ETag: etag2},
		{Number: 1, ETag: etag1},
	})
	require.NoError(t, err)
	a.Equal(int64(11), size)
	a.Equal("secondfirst", string(store.objects["k"]))
}

func TestCompleteRejectsETagMismatch(t *testing.T) {
	store := newFakeBackend()
	manager := NewManager(store, nil)
	ctx := context.Background()

	uploadID, err := manager.Create(ctx, "k")
	require.NoError(t, err)
	_, err = manager.UploadPart(ctx, uploadID, 1, strings.NewReader("data"), 4)
	require.NoError(t, err)

	_, _, err = manager.Complete(ctx, uploadID, "k", []CompletedPart{
		{Number: 1, ETag: "0123456789abcdef0123456789abcdef"},
	})
	var invalid InvalidPartError
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, 1, invalid.Number)

	// The upload survives a failed completion.
	_, _, _, err = manager.ListParts(ctx, uploadID, 1000)
	assert.NoError(t, err)
}

func TestCompleteRejectsMissingPart(t *testing.T) {
	store := newFakeBackend()
	manager := NewManager(store, nil)
	ctx := context.Background()

	uploadID, err := manager.Create(ctx, "k")
	require.NoError(t, err)
	etag1, err := manager.UploadPart(ctx, uploadID, 1, strings.NewReader("data"), 4)
	require.NoError(t, err)

	_, _, err = manager.Complete(ctx, uploadID, "k", []CompletedPart{
		{Number: 1, ETag: etag1},
		{Number: 2, ETag: etag1},
	})
	var invalid InvalidPartError
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, 2, invalid.Number)
}

func TestPartNumberBounds(t *testing.T) {
	a := assert.New(t)
	store := newFakeBackend()
	manager := NewManager(store, nil)
	ctx := context.Background()

	uploadID, err := manager.Create(ctx, "k")
	require.NoError(t, err)

	var invalid InvalidPartError
	_, err = manager.UploadPart(ctx, uploadID, 0, strings.NewReader("x"), 1)
	a.True(errors.As(err, &invalid))
	_, err = manager.UploadPart(ctx, uploadID, 10001, strings.NewReader("x"), 1)
	a.True(errors.As(err, &invalid))
	_, err = manager.UploadPart(ctx, uploadID, 10000, strings.NewReader("x"), 1)
	a.NoError(err)

	_, _, err = manager.Complete(ctx, uploadID, "k", []CompletedPart{{Number: -3, ETag: "x"}})
	a.True(errors.As(err, &invalid))
}

func TestOperationsOnUnknownUpload(t *testing.T) {
	a := assert.New(t)
	store := newFakeBackend()
	manager := NewManager(store, nil)
	ctx := context.Background()

	var notFound UploadNotFoundError

	_, err := manager.UploadPart(ctx, "nope", 1, strings.NewReader("x"), 1)
	a.True(errors.As(err, &notFound))

	_, _, err = manager.Complete(ctx, "nope", "k", []CompletedPart{{Number: 1, ETag: "x"}})
	a.True(errors.As(err, &notFound))

	err = manager.Abort(ctx, "nope")
	a.True(errors.As(err, &notFound))

	_, _, _, err = manager.ListParts(ctx, "nope", 1000)
	a.True(errors.As(err, &notFound))
}

func TestAbortTwice(t *testing.T) {
	store := newFakeBackend()
	manager := NewManager(store, nil)
	ctx := context.Background()

	uploadID, err := manager.Create(ctx, "k")
	require.NoError(t, err)
	_, err = manager.UploadPart(ctx, uploadID, 1, strings.NewReader("x"), 1)
	require.NoError(t, err)

	require.NoError(t, manager.Abort(ctx, uploadID))
	assert.Empty(t, store.objects)

	var notFound UploadNotFoundError
	err = manager.Abort(ctx, uploadID)
	require.True(t, errors.As(err, &notFound))
}

func TestListPartsTruncation(t *testing.T) {
	a := assert.New(t)
	store := newFakeBackend()
	manager := NewManager(store, nil)
	ctx := context.Background()

	uploadID, err := manager.Create(ctx, "k")
	require.NoError(t, err)
	for n := 1; n <= 5; n++ {
		_, err := manager.UploadPart(ctx, uploadID, n, strings.NewReader("x"), 1)
		require.NoError(t, err)
	}

	_, parts, truncated, err := manager.ListParts(ctx, uploadID, 3)
	require.NoError(t, err)
	a.True(truncated)
	require.Len(t, parts, 3)
	a.Equal([]int{1, 2, 3}, []int{parts[0].Number, parts[1].Number, parts[2].Number})
}

func TestListUploads(t *testing.T) {
	a := assert.New(t)
	store := newFakeBackend()
	manager := NewManager(store, nil)
	ctx := context.Background()

	id1, err := manager.Create(ctx, "a.txt")
	require.NoError(t, err)
	id2, err := manager.Create(ctx, "b/c.txt")
	require.NoError(t, err)

	uploads, err := manager.ListUploads(ctx)
	require.NoError(t, err)
	require.Len(t, uploads, 2)

	byID := map[string]Upload{}
	for _, u := range uploads {
		byID[u.UploadID] = u
		a.False(u.Initiated.IsZero())
	}
	a.Equal("a.txt", byID[id1].Key)
	a.Equal("b/c.txt", byID[id2].Key)
}

func TestListUploadsEmpty(t *testing.T) {
	manager := NewManager(newFakeBackend(), nil)
	uploads, err := manager.ListUploads(context.Background())
	require.NoError(t, err)
	assert.Empty(t, uploads)
}
