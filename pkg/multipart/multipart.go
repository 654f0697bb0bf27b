// Package multipart simulates S3 multipart uploads on a backend that only
// offers whole-object operations.
//
// State lives on the backend itself, under a reserved prefix:
//
//	__multipart/<uploadId>/_meta       object key and initiation time
//	__multipart/<uploadId>/00001       part data, number zero-padded
//	__multipart/<uploadId>/00001.etag  MD5 computed while the part streamed in
//
// The _meta object is the upload's existence: every operation checks it
// first, and Complete/Abort remove it last of all during cleanup. Parts are
// concatenated at Complete time by streaming them one after another into a
// single upload, so no part is ever buffered whole in memory.
package multipart

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/bunnylabs/bunny-s3-proxy/pkg/backend"
)

// Prefix is the reserved key space holding in-flight upload state. Clients
// must not name their own keys under it.
const Prefix = "__multipart/"

const (
	// MinPartNumber and MaxPartNumber bound valid part numbers, matching S3.
	MinPartNumber = 1
	MaxPartNumber = 10000

	metaObject = "_meta"

	// verifyConcurrency caps the parallel describe/etag fetches during
	// Complete.
	verifyConcurrency = 8
)

// UploadNotFoundError reports an operation on an upload id with no _meta
// object, which includes uploads already completed or aborted.
type UploadNotFoundError struct {
	UploadID string
}

func (e UploadNotFoundError) Error() string {
	return fmt.Sprintf("multipart: upload %s not found", e.UploadID)
}

// InvalidPartError reports a part that cannot be used: an out-of-range
// number, a part object that was never uploaded, or an ETag that does not
// match what the caller claimed.
type InvalidPartError struct {
	Number int
	Reason string
}

func (e InvalidPartError) Error() string {
	return fmt.Sprintf("multipart: part %d: %s", e.Number, e.Reason)
}

// CompletedPart is one entry of a CompleteMultipartUpload request, in the
// caller's order.
type CompletedPart struct {
	Number int
	ETag   string
}

// Part describes one uploaded part.
type Part struct {
	Number       int
	ETag         string
	Size         int64
	LastModified time.Time
}

// Upload describes one in-flight multipart upload.
type Upload struct {
	Key       string
	UploadID  string
	Initiated time.Time
}

// Manager drives the simulation. It is stateless apart from the backend.
type Manager struct {
	client backend.Client
	logger *slog.Logger
}

// NewManager creates a manager on the given backend client.
func NewManager(client backend.Client, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{client: client, logger: logger}
}

func uploadDir(uploadID string) string {
	return Prefix + uploadID + "/"
}

func partPath(uploadID string, number int) string {
	return fmt.Sprintf("%s%05d", uploadDir(uploadID), number)
}

func validatePartNumber(number int) error {
	if number < MinPartNumber || number > MaxPartNumber {
		return InvalidPartError{
			Number: number,
			Reason: fmt.Sprintf("part number must be between %d and %d", MinPartNumber, MaxPartNumber),
		}
	}
	return nil
}

// Create starts a new upload for key and returns its id.
func (m *Manager) Create(ctx context.Context, key string) (string, error) {
	uploadID := uuid.NewString()
	initiated := time.Now().UTC().Format(time.RFC3339)

	meta := key + "|" + initiated
	err := m.client.Upload(ctx, uploadDir(uploadID)+metaObject, []byte(meta), backend.UploadOptions{})
	if err != nil {
		return "", fmt.Errorf("multipart: creating upload for %q: %w", key, err)
	}

	m.logger.Info("MultipartUploadCreated", "uploadId", uploadID, "key", key)
	return uploadID, nil
}

// meta fetches and parses the _meta object. A missing _meta means the
// upload does not exist.
func (m *Manager) meta(ctx context.Context, uploadID string) (string, time.Time, error) {
	download, err := m.client.Download(ctx, uploadDir(uploadID)+metaObject)
	if err != nil {
		var notFound backend.NotFoundError
		if errors.As(err, &notFound) {
			return "", time.Time{}, UploadNotFoundError{UploadID: uploadID}
		}
		return "", time.Time{}, err
	}
	body, err := download.Bytes()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("multipart: reading meta of %s: %w", uploadID, err)
	}

	key, initiatedStr, found := strings.Cut(string(body), "|")
	if !found {
		return "", time.Time{}, fmt.Errorf("multipart: malformed meta for upload %s", uploadID)
	}
	initiated, err := time.Parse(time.RFC3339, initiatedStr)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("multipart: malformed meta timestamp for upload %s: %w", uploadID, err)
	}
	return key, initiated, nil
}

// UploadPart streams body into the upload's directory, computing its MD5 on
// the fly, and records the digest in a sidecar object. The returned ETag is
// the unquoted hex MD5.
func (m *Manager) UploadPart(ctx context.Context, uploadID string, number int, body io.Reader, size int64) (string, error) {
	if err := validatePartNumber(number); err != nil {
		return "", err
	}
	if _, _, err := m.meta(ctx, uploadID); err != nil {
		return "", err
	}

	hashed := backend.NewHashingReader(body, md5.New())
	if err := m.client.UploadStream(ctx, partPath(uploadID, number), hashed, size); err != nil {
		return "", fmt.Errorf("multipart: uploading part %d of %s: %w", number, uploadID, err)
	}

	etag := hashed.Sum()
	sidecar := partPath(uploadID, number) + ".etag"
	if err := m.client.Upload(ctx, sidecar, []byte(etag), backend.UploadOptions{}); err != nil {
		return "", fmt.Errorf("multipart: recording etag of part %d of %s: %w", number, uploadID, err)
	}

	m.logger.Debug("MultipartPartUploaded", "uploadId", uploadID, "part", number, "etag", etag)
	return etag, nil
}

// verifiedPart is the outcome of checking one requested part before
// assembly.
type verifiedPart struct {
	number int
	size   int64
	md5    [md5.Size]byte
}

// verifyParts checks every requested part concurrently: the part object
// must exist and its recorded ETag must equal the caller's claim.
func (m *Manager) verifyParts(ctx context.Context, uploadID string, parts []CompletedPart) ([]verifiedPart, error) {
	verified := make([]verifiedPart, len(parts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(verifyConcurrency)
	for i, part := range parts {
		i, part := i, part
		g.Go(func() error {
			object, err := m.client.Describe(gctx, partPath(uploadID, part.Number))
			if err != nil {
				var notFound backend.NotFoundError
				if errors.As(err, &notFound) {
					return InvalidPartError{Number: part.Number, Reason: "part was not uploaded"}
				}
				return err
			}

			stored, err := m.partETag(gctx, uploadID, part.Number)
			if err != nil {
				return err
			}
			expected := strings.Trim(part.ETag, `"`)
			if stored != expected {
				return InvalidPartError{
					Number: part.Number,
					Reason: fmt.Sprintf("etag mismatch: expected %s, stored %s", expected, stored),
				}
			}

			rawMD5, err := hex.DecodeString(stored)
			if err != nil || len(rawMD5) != md5.Size {
				return InvalidPartError{Number: part.Number, Reason: "malformed stored etag"}
			}

			verified[i] = verifiedPart{number: part.Number, size: object.Length}
			copy(verified[i].md5[:], rawMD5)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return verified, nil
}

func (m *Manager) partETag(ctx context.Context, uploadID string, number int) (string, error) {
	download, err := m.client.Download(ctx, partPath(uploadID, number)+".etag")
	if err != nil {
		var notFound backend.NotFoundError
		if errors.As(err, &notFound) {
			return "", InvalidPartError{Number: number, Reason: "part has no recorded etag"}
		}
		return "", err
	}
	body, err := download.Bytes()
	if err != nil {
		return "", fmt.Errorf("multipart: reading etag of part %d of %s: %w", number, uploadID, err)
	}
	return strings.TrimSpace(string(body)), nil
}

// Complete verifies the requested parts, streams their concatenation into
// the final object and tears the upload down. Parts are assembled in the
// caller's order, not in part-number order. The returned ETag is the
// S3-style composite: MD5 over the raw part digests, suffixed with the part
// count.
func (m *Manager) Complete(ctx context.Context, uploadID, key string, parts []CompletedPart) (string, int64, error) {
	if len(parts) == 0 {
		return "", 0, InvalidPartError{Number: 0, Reason: "no parts in completion request"}
	}
	for _, part := range parts {
		if err := validatePartNumber(part.Number); err != nil {
			return "", 0, err
		}
	}
	if _, _, err := m.meta(ctx, uploadID); err != nil {
		return "", 0, err
	}

	verified, err := m.verifyParts(ctx, uploadID, parts)
	if err != nil {
		return "", 0, err
	}

	var totalSize int64
	digest := md5.New()
	for _, part := range verified {
		totalSize += part.size
		digest.Write(part.md5[:])
	}
	etag := fmt.Sprintf("%s-%d", hex.EncodeToString(digest.Sum(nil)), len(parts))

	m.logger.Info("MultipartCompleteStarted",
		"uploadId", uploadID, "key", key, "parts", len(parts), "size", totalSize)

	concat := &concatReader{ctx: ctx, client: m.client, uploadID: uploadID, parts: parts}
	defer concat.Close()
	if err := m.client.UploadStream(ctx, key, concat, totalSize); err != nil {
		return "", 0, fmt.Errorf("multipart: assembling %s into %q: %w", uploadID, key, err)
	}

	m.cleanup(ctx, uploadID)
	m.logger.Info("MultipartCompleteFinished", "uploadId", uploadID, "key", key, "etag", etag)
	return etag, totalSize, nil
}

// Abort discards the upload and all of its parts.
func (m *Manager) Abort(ctx context.Context, uploadID string) error {
	if _, _, err := m.meta(ctx, uploadID); err != nil {
		return err
	}
	m.cleanup(ctx, uploadID)
	m.logger.Info("MultipartUploadAborted", "uploadId", uploadID)
	return nil
}

// ListParts returns the upload's key and its parts sorted by part number.
// When the upload holds more than maxParts parts, the tail is cut off and
// truncated is true.
func (m *Manager) ListParts(ctx context.Context, uploadID string, maxParts int) (key string, parts []Part, truncated bool, err error) {
	key, _, err = m.meta(ctx, uploadID)
	if err != nil {
		return "", nil, false, err
	}

	objects, err := m.client.List(ctx, uploadDir(uploadID))
	if err != nil {
		return "", nil, false, err
	}

	etags := make(map[int]string)
	sizes := make(map[int]Part)
	for _, object := range objects {
		name := object.ObjectName
		if number, ok := strings.CutSuffix(name, ".etag"); ok {
			if n, err := strconv.Atoi(number); err == nil {
				// The sidecar body is the etag; fetched below only for parts
				// that actually exist.
				etags[n] = ""
			}
			continue
		}
		n, err := strconv.Atoi(name)
		if err != nil {
			continue
		}
		sizes[n] = Part{Number: n, Size: object.Length, LastModified: object.LastChanged.Time}
	}

	for n, part := range sizes {
		if _, hasSidecar := etags[n]; !hasSidecar {
			continue
		}
		etag, err := m.partETag(ctx, uploadID, n)
		if err != nil {
			return "", nil, false, err
		}
		part.ETag = etag
		parts = append(parts, part)
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].Number < parts[j].Number })

	if maxParts > 0 && len(parts) > maxParts {
		parts = parts[:maxParts]
		truncated = true
	}
	return key, parts, truncated, nil
}

// ListUploads returns every in-flight upload, sorted by upload id.
// Directories without a parseable _meta are skipped.
func (m *Manager) ListUploads(ctx context.Context) ([]Upload, error) {
	objects, err := m.client.List(ctx, Prefix)
	if err != nil {
		return nil, err
	}

	var uploads []Upload
	for _, object := range objects {
		if !object.IsDirectory {
			continue
		}
		uploadID := object.ObjectName
		key, initiated, err := m.meta(ctx, uploadID)
		if err != nil {
			m.logger.Warn("MultipartMetaUnreadable", "uploadId", uploadID, "error", err)
			continue
		}
		uploads = append(uploads, Upload{Key: key, UploadID: uploadID, Initiated: initiated})
	}
	sort.Slice(uploads, func(i, j int) bool { return uploads[i].UploadID < uploads[j].UploadID })
	return uploads, nil
}

// cleanup removes the upload directory and everything under it. Errors are
// logged and swallowed: a second Complete or Abort, or a later sweeper run,
// can always retry because delete is idempotent.
func (m *Manager) cleanup(ctx context.Context, uploadID string) {
	dir := uploadDir(uploadID)
	objects, err := m.client.List(ctx, dir)
	if err != nil {
		m.logger.Warn("MultipartCleanupListFailed", "uploadId", uploadID, "error", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(verifyConcurrency)
	for _, object := range objects {
		path := dir + object.ObjectName
		g.Go(func() error {
			if err := m.client.Delete(gctx, path); err != nil {
				m.logger.Warn("MultipartCleanupDeleteFailed", "path", path, "error", err)
			}
			return nil
		})
	}
	g.Wait()

	if err := m.client.Delete(ctx, dir); err != nil {
		m.logger.Warn("MultipartCleanupDeleteFailed", "path", dir, "error", err)
	}
}
