package handler

import (
	"crypto/md5"
	"crypto/sha256"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/bunnylabs/bunny-s3-proxy/pkg/backend"
	"github.com/bunnylabs/bunny-s3-proxy/pkg/s3xml"
	"github.com/bunnylabs/bunny-s3-proxy/pkg/sigv4"
)

// lastModifiedLayout is the HTTP date format for the Last-Modified header.
const lastModifiedLayout = "Mon, 02 Jan 2006 15:04:05 GMT"

func (h *Handler) headObject(w http.ResponseWriter, r *http.Request, req *request) error {
	if err := h.requireBucket(req.Bucket); err != nil {
		return err
	}

	obj, err := h.config.Backend.Describe(r.Context(), req.Key)
	if err != nil {
		return err
	}
	// The backend answers describe calls for missing files with a negative
	// length instead of an error, and reports folders as objects.
	if obj.Length < 0 || obj.IsDirectory {
		return backend.NotFoundError{Path: req.Key}
	}

	w.Header().Set("Content-Length", strconv.FormatInt(obj.Length, 10))
	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("Last-Modified", obj.LastChanged.UTC().Format(lastModifiedLayout))
	w.Header().Set("ETag", `"`+obj.ETag()+`"`)
	if obj.Checksum != "" {
		w.Header().Set("x-amz-checksum-sha256", obj.Checksum)
	}
	w.WriteHeader(http.StatusOK)
	req.log.Info("ResponseOutgoing", "status", http.StatusOK)
	return nil
}

func (h *Handler) getObject(w http.ResponseWriter, r *http.Request, req *request) error {
	if err := h.requireBucket(req.Bucket); err != nil {
		return err
	}

	download, err := h.config.Backend.Download(r.Context(), req.Key)
	if err != nil {
		return err
	}

	contentType := download.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	etag := strings.Trim(download.ETag, `"`)

	if ifNoneMatch := r.Header.Get("If-None-Match"); ifNoneMatch != "" && etag != "" &&
		etagMatches(ifNoneMatch, etag) {
		download.Close()
		w.Header().Set("ETag", `"`+etag+`"`)
		if download.LastModified != "" {
			w.Header().Set("Last-Modified", download.LastModified)
		}
		w.WriteHeader(http.StatusNotModified)
		req.log.Info("ResponseOutgoing", "status", http.StatusNotModified)
		return nil
	}

	if rangeHeader := r.Header.Get("Range"); rangeHeader != "" && download.ContentLength >= 0 {
		if start, end, ok := parseRange(rangeHeader, download.ContentLength); ok {
			return h.sendObjectRange(w, req, download, contentType, etag, start, end)
		}
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Accept-Ranges", "bytes")
	if download.ContentLength >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(download.ContentLength, 10))
	}
	if etag != "" {
		w.Header().Set("ETag", `"`+etag+`"`)
	}
	if download.LastModified != "" {
		w.Header().Set("Last-Modified", download.LastModified)
	}
	w.WriteHeader(http.StatusOK)

	defer download.Close()
	n, _ := io.Copy(w, download.Body)
	h.Metrics.incBytesSent(uint64(n))
	req.log.Info("ResponseOutgoing", "status", http.StatusOK, "bytes", n)
	return nil
}

// sendObjectRange buffers the object and serves the requested slice. The
// backend cannot serve partial downloads itself.
func (h *Handler) sendObjectRange(w http.ResponseWriter, req *request, download *backend.Download, contentType, etag string, start, end int64) error {
	total := download.ContentLength
	data, err := download.Bytes()
	if err != nil {
		return err
	}
	if end > int64(len(data))-1 {
		end = int64(len(data)) - 1
	}
	slice := data[start : end+1]

	w.Header().Set("Content-Length", strconv.Itoa(len(slice)))
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Range", "bytes "+strconv.FormatInt(start, 10)+"-"+strconv.FormatInt(end, 10)+"/"+strconv.FormatInt(total, 10))
	w.Header().Set("Accept-Ranges", "bytes")
	if etag != "" {
		w.Header().Set("ETag", `"`+etag+`"`)
	}
	if download.LastModified != "" {
		w.Header().Set("Last-Modified", download.LastModified)
	}
	w.WriteHeader(http.StatusPartialContent)
	w.Write(slice)
	h.Metrics.incBytesSent(uint64(len(slice)))
	req.log.Info("ResponseOutgoing", "status", http.StatusPartialContent, "bytes", len(slice))
	return nil
}

// etagMatches evaluates an If-None-Match header against the object's
// unquoted ETag.
func etagMatches(ifNoneMatch, etag string) bool {
	if ifNoneMatch == "*" {
		return true
	}
	for _, candidate := range strings.Split(ifNoneMatch, ",") {
		candidate = strings.TrimSpace(candidate)
		candidate = strings.Trim(candidate, `"`)
		candidate = strings.TrimPrefix(candidate, "W/")
		candidate = strings.Trim(candidate, `"`)
		if candidate == etag {
			return true
		}
	}
	return false
}

// parseRange understands the three single-range forms of the Range header:
// bytes=a-b, bytes=a- and bytes=-suffix. The end offset is clamped to the
// last byte of the object.
func parseRange(header string, totalSize int64) (start, end int64, ok bool) {
	spec, found := strings.CutPrefix(header, "bytes=")
	if !found || totalSize <= 0 {
		return 0, 0, false
	}
	from, to, found := strings.Cut(spec, "-")
	if !found {
		return 0, 0, false
	}

	startVal, startErr := strconv.ParseInt(from, 10, 64)
	endVal, endErr := strconv.ParseInt(to, 10, 64)
	switch {
	case startErr == nil && endErr == nil:
		return startVal, min(endVal, totalSize-1), startVal >= 0 && startVal < totalSize && endVal >= startVal
	case startErr == nil:
		return startVal, totalSize - 1, startVal >= 0 && startVal < totalSize
	case endErr == nil:
		return max(totalSize-endVal, 0), totalSize - 1, endVal > 0
	default:
		return 0, 0, false
	}
}

// putObject streams the request body straight through to the backend,
// computing its MD5 on the way for the ETag. When the client committed to a
// SHA-256 payload hash in the signature, that hash is verified as well and a
// mismatch removes the stored object again.
func (h *Handler) putObject(w http.ResponseWriter, r *http.Request, req *request) error {
	if err := h.requireBucket(req.Bucket); err != nil {
		return err
	}

	if strings.TrimSpace(r.Header.Get("If-None-Match")) == "*" {
		lock, acquired := h.config.Locker.TryLock(r.Context(), req.Key)
		if !acquired {
			w.WriteHeader(http.StatusConflict)
			io.WriteString(w, "Concurrent write in progress")
			req.log.Info("ResponseOutgoing", "status", http.StatusConflict)
			return nil
		}
		defer lock.Unlock()

		if obj, err := h.config.Backend.Describe(r.Context(), req.Key); err == nil && obj.Exists() {
			w.WriteHeader(http.StatusPreconditionFailed)
			req.log.Info("ResponseOutgoing", "status", http.StatusPreconditionFailed)
			return nil
		}
	}

	claimedHash := r.Header.Get("x-amz-content-sha256")
	verifyHash := claimedHash != "" && claimedHash != sigv4.UnsignedPayload

	md5Reader := backend.NewHashingReader(r.Body, md5.New())
	body := io.Reader(md5Reader)
	var sha256Reader *backend.HashingReader
	if verifyHash {
		sha256Reader = backend.NewHashingReader(body, sha256.New())
		body = sha256Reader
	}

	if err := h.config.Backend.UploadStream(r.Context(), req.Key, body, r.ContentLength); err != nil {
		return err
	}

	if verifyHash && sha256Reader.Sum() != claimedHash {
		// The backend already stored the corrupted object; remove it
		// before failing the request.
		req.log.Warn("ContentHashMismatch", "expected", claimedHash, "computed", sha256Reader.Sum())
		if err := h.config.Backend.Delete(r.Context(), req.Key); err != nil {
			req.log.Warn("OrphanDeleteFailed", "error", err)
		}
		return errInvalidRequest("Content hash mismatch")
	}

	w.Header().Set("ETag", `"`+md5Reader.Sum()+`"`)
	w.WriteHeader(http.StatusOK)
	req.log.Info("ResponseOutgoing", "status", http.StatusOK)
	return nil
}

func (h *Handler) copyObject(w http.ResponseWriter, r *http.Request, req *request) error {
	if err := h.requireBucket(req.Bucket); err != nil {
		return err
	}

	source := r.Header.Get("x-amz-copy-source")
	if source == "" {
		return errInvalidRequest("Missing x-amz-copy-source")
	}
	srcBucket, srcKey, ok := parseCopySource(source)
	if !ok {
		return errInvalidRequest("Invalid copy source")
	}
	if err := h.requireBucket(srcBucket); err != nil {
		return err
	}

	if err := h.config.Backend.Copy(r.Context(), srcKey, req.Key); err != nil {
		return err
	}
	obj, err := h.config.Backend.Describe(r.Context(), req.Key)
	if err != nil {
		return err
	}

	h.sendXML(w, req, http.StatusOK, s3xml.CopyObject(obj.ETag(), obj.LastChanged.Time))
	return nil
}

// parseCopySource splits an x-amz-copy-source value of the form
// /bucket/key or bucket/key, with an optional ?versionId suffix.
func parseCopySource(source string) (bucket, key string, ok bool) {
	source, _, _ = strings.Cut(source, "?")
	if unescaped, err := url.PathUnescape(source); err == nil {
		source = unescaped
	}
	source = strings.TrimPrefix(source, "/")
	bucket, key, found := strings.Cut(source, "/")
	if !found || bucket == "" || key == "" {
		return "", "", false
	}
	return bucket, key, true
}

func (h *Handler) deleteObject(w http.ResponseWriter, r *http.Request, req *request) error {
	if err := h.requireBucket(req.Bucket); err != nil {
		return err
	}
	if err := h.config.Backend.Delete(r.Context(), req.Key); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	req.log.Info("ResponseOutgoing", "status", http.StatusNoContent)
	return nil
}
