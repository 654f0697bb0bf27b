package handler

import (
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bunnylabs/bunny-s3-proxy/pkg/multipart"
	"github.com/bunnylabs/bunny-s3-proxy/pkg/s3xml"
)

const maxKeysLimit = 1000

// listBuckets reports the single bucket this proxy fronts, named after the
// storage zone. The creation date is not recorded by the backend, so the
// current time stands in.
func (h *Handler) listBuckets(w http.ResponseWriter, r *http.Request, req *request) error {
	accessKey := h.config.Verifier.AccessKeyID()
	doc := s3xml.ListBuckets(
		[]s3xml.Bucket{{Name: h.config.StorageZone, CreationDate: time.Now()}},
		s3xml.Owner{ID: accessKey, DisplayName: accessKey},
	)
	h.sendXML(w, req, http.StatusOK, doc)
	return nil
}

// headBucket confirms the bucket exists and the backend is reachable.
func (h *Handler) headBucket(w http.ResponseWriter, r *http.Request, req *request) error {
	if err := h.requireBucket(req.Bucket); err != nil {
		return err
	}
	if _, err := h.config.Backend.List(r.Context(), ""); err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	req.log.Info("ResponseOutgoing", "status", http.StatusOK)
	return nil
}

// createBucket accepts the request without doing anything. Storage zones are
// provisioned out of band; clients that insist on creating their bucket
// first (the AWS CLI does) still get a success.
func (h *Handler) createBucket(w http.ResponseWriter, r *http.Request, req *request) error {
	w.WriteHeader(http.StatusOK)
	req.log.Info("ResponseOutgoing", "status", http.StatusOK)
	return nil
}

func (h *Handler) listObjectsV2(w http.ResponseWriter, r *http.Request, req *request) error {
	if err := h.requireBucket(req.Bucket); err != nil {
		return err
	}

	query := r.URL.Query()
	prefix := query.Get("prefix")
	delimiter := query.Get("delimiter")
	maxKeys := maxKeysLimit
	if v, err := strconv.Atoi(query.Get("max-keys")); err == nil && v >= 0 && v < maxKeysLimit {
		maxKeys = v
	}
	continuationToken := query.Get("continuation-token")
	startAfter := query.Get("start-after")

	// Both pagination cursors resume strictly after the given key. The
	// continuation token is the last key of the previous page.
	after := startAfter
	if continuationToken > after {
		after = continuationToken
	}

	// A delimited listing only ever collapses one level, so a single
	// directory listing suffices. Without a delimiter the whole subtree is
	// walked, one object past maxKeys to detect truncation. The walk cannot
	// tell how many keys precede a resume cursor, so it runs unbounded when
	// one is set.
	var objects []listedObject
	if delimiter != "" {
		listed, err := h.config.Backend.List(r.Context(), prefix)
		if err != nil {
			return err
		}
		for _, obj := range listed {
			objects = append(objects, listedObject{obj.S3Key(), obj.IsDirectory, obj.Length, obj.ETag(), obj.LastChanged.Time})
		}
	} else {
		limit := maxKeys + 1
		if after != "" {
			limit = 0
		}
		listed, err := h.config.Backend.ListRecursive(r.Context(), prefix, limit)
		if err != nil {
			return err
		}
		for _, obj := range listed {
			objects = append(objects, listedObject{obj.S3Key(), obj.IsDirectory, obj.Length, obj.ETag(), obj.LastChanged.Time})
		}
	}

	var contents []s3xml.Object
	prefixSet := make(map[string]struct{})

	for _, obj := range objects {
		key := obj.key
		// Multipart bookkeeping lives under a reserved prefix and is
		// never surfaced as objects.
		if strings.HasPrefix(key, multipart.Prefix) || key == strings.TrimSuffix(multipart.Prefix, "/") {
			continue
		}
		if !strings.HasPrefix(key, prefix) {
			continue
		}

		if delimiter != "" {
			suffix := key[len(prefix):]
			if pos := strings.Index(suffix, delimiter); pos >= 0 {
				prefixSet[prefix+suffix[:pos]+delimiter] = struct{}{}
				continue
			}
		}

		if obj.isDirectory {
			if delimiter != "" {
				if strings.HasSuffix(key, "/") {
					prefixSet[key] = struct{}{}
				} else {
					prefixSet[key+"/"] = struct{}{}
				}
			}
			continue
		}

		contents = append(contents, s3xml.Object{
			Key:          key,
			LastModified: obj.lastModified,
			ETag:         obj.etag,
			Size:         max(obj.length, 0),
		})
	}

	if after != "" {
		kept := contents[:0]
		for _, obj := range contents {
			if obj.Key > after {
				kept = append(kept, obj)
			}
		}
		contents = kept
	}
	sort.Slice(contents, func(i, j int) bool { return contents[i].Key < contents[j].Key })

	isTruncated := len(contents) > maxKeys
	if isTruncated {
		contents = contents[:maxKeys]
	}
	nextToken := ""
	if isTruncated && len(contents) > 0 {
		nextToken = contents[len(contents)-1].Key
	}

	commonPrefixes := make([]string, 0, len(prefixSet))
	for p := range prefixSet {
		commonPrefixes = append(commonPrefixes, p)
	}
	sort.Strings(commonPrefixes)

	h.sendXML(w, req, http.StatusOK, s3xml.ListObjectsV2{
		Bucket:                req.Bucket,
		Prefix:                prefix,
		Delimiter:             delimiter,
		MaxKeys:               maxKeys,
		KeyCount:              len(contents),
		IsTruncated:           isTruncated,
		ContinuationToken:     continuationToken,
		NextContinuationToken: nextToken,
		StartAfter:            startAfter,
		Objects:               contents,
		CommonPrefixes:        commonPrefixes,
	}.Encode())
	return nil
}

// listedObject is the slice element type of a listing before S3-level
// filtering, with backend naming already resolved to S3 keys.
type listedObject struct {
	key          string
	isDirectory  bool
	length       int64
	etag         string
	lastModified time.Time
}

func (h *Handler) deleteObjects(w http.ResponseWriter, r *http.Request, req *request) error {
	if err := h.requireBucket(req.Bucket); err != nil {
		return err
	}

	deleteReq, err := s3xml.ParseDeleteRequest(req.Body)
	if err != nil {
		return errInvalidRequest(err.Error())
	}

	var deleted []string
	var deleteErrs []s3xml.DeleteError
	for _, obj := range deleteReq.Objects {
		if err := h.config.Backend.Delete(r.Context(), obj.Key); err != nil {
			deleteErrs = append(deleteErrs, s3xml.DeleteError{
				Key:     obj.Key,
				Code:    "InternalError",
				Message: err.Error(),
			})
			continue
		}
		deleted = append(deleted, obj.Key)
	}

	h.sendXML(w, req, http.StatusOK, s3xml.DeleteResult(deleted, deleteErrs, deleteReq.Quiet))
	return nil
}
