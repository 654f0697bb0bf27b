// Package handler translates the S3 REST API into operations on a flat
// storage-zone backend. One storage zone is exposed as one bucket; multipart
// uploads are simulated via the multipart package.
package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/bunnylabs/bunny-s3-proxy/pkg/multipart"
	"github.com/bunnylabs/bunny-s3-proxy/pkg/s3xml"
	"github.com/bunnylabs/bunny-s3-proxy/pkg/sigv4"
)

// Handler is a ready to use http.Handler implementing the S3 surface of the
// proxy. Create it with NewHandler and mount it at the server root.
type Handler struct {
	config    Config
	logger    *slog.Logger
	multipart *multipart.Manager

	// Metrics provides numbers of the usage for this handler.
	Metrics Metrics
}

// NewHandler creates a handler for the given configuration.
func NewHandler(config Config) (*Handler, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}

	return &Handler{
		config:    config,
		logger:    config.Logger,
		multipart: multipart.NewManager(config.Backend, config.Logger),
		Metrics:   newMetrics(),
	}, nil
}

// request carries per-request state shared by the operation methods.
type request struct {
	// ID is echoed as x-amz-request-id and inside error documents.
	ID     string
	Bucket string
	Key    string
	// Body is the buffered request body for control operations. Streaming
	// uploads never populate it.
	Body []byte
	log  *slog.Logger
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req := &request{ID: uuid.NewString()}
	req.Bucket, req.Key = parseS3Path(r.URL.Path)
	req.log = h.logger.With("id", req.ID, "method", r.Method, "path", r.URL.Path)

	w.Header().Set("x-amz-request-id", req.ID)
	req.log.Info("RequestIncoming")
	h.Metrics.incRequestsTotal(r.Method)

	if err := h.dispatch(w, r, req); err != nil {
		h.sendError(w, req, err)
	}
}

// dispatch routes the request. Uploads of object data (PutObject and
// UploadPart) stream the body straight through; every other operation
// buffers the body, which is at most a small XML document, before
// authentication.
func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request, req *request) error {
	query := r.URL.Query()

	// Streaming path. A PUT on an object key carries the object data
	// unless it is a server-side copy.
	if r.Method == http.MethodPut && req.Bucket != "" && req.Key != "" &&
		r.Header.Get("x-amz-copy-source") == "" {
		if err := h.authenticateStreaming(r); err != nil {
			return err
		}
		if query.Has("partNumber") && query.Has("uploadId") {
			return h.uploadPart(w, r, req)
		}
		return h.putObject(w, r, req)
	}

	body, err := h.bufferBody(w, r)
	if err != nil {
		return err
	}
	req.Body = body
	if err := h.authenticateBuffered(r, body); err != nil {
		return err
	}

	switch r.Method {
	case http.MethodGet:
		switch {
		case req.Bucket == "":
			return h.listBuckets(w, r, req)
		case req.Key == "" && query.Has("uploads"):
			return h.listMultipartUploads(w, r, req)
		case req.Key == "":
			return h.listObjectsV2(w, r, req)
		case query.Has("uploadId"):
			return h.listParts(w, r, req)
		default:
			return h.getObject(w, r, req)
		}
	case http.MethodHead:
		if req.Key == "" {
			return h.headBucket(w, r, req)
		}
		return h.headObject(w, r, req)
	case http.MethodPut:
		if req.Key == "" {
			return h.createBucket(w, r, req)
		}
		// Only the copy form of PUT /bucket/key reaches the buffered path.
		return h.copyObject(w, r, req)
	case http.MethodPost:
		switch {
		case req.Key == "" && query.Has("delete"):
			return h.deleteObjects(w, r, req)
		case req.Key != "" && query.Has("uploads"):
			return h.initiateMultipartUpload(w, r, req)
		case req.Key != "" && query.Has("uploadId"):
			return h.completeMultipartUpload(w, r, req)
		}
	case http.MethodDelete:
		switch {
		case req.Key == "" && req.Bucket != "":
			return errInvalidRequest("bucket deletion is not supported")
		case query.Has("uploadId"):
			return h.abortMultipartUpload(w, r, req)
		case req.Key != "":
			return h.deleteObject(w, r, req)
		}
	}

	return errInvalidRequest("unsupported operation")
}

// parseS3Path splits a request path into bucket and key. The key keeps any
// embedded slashes.
func parseS3Path(path string) (bucket string, key string) {
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return "", ""
	}
	bucket, key, _ = strings.Cut(path, "/")
	return bucket, key
}

// hasSignature reports whether the request claims to be signed, either via
// the Authorization header or as a presigned URL. Unsigned requests pass
// through without verification so the proxy can front public zones.
func hasSignature(r *http.Request) bool {
	return r.Header.Get("Authorization") != "" || r.URL.Query().Get("X-Amz-Signature") != ""
}

// authenticateStreaming verifies a signed streaming upload. The payload hash
// the client declared in x-amz-content-sha256 participates in the signature;
// its truthfulness is checked later, while the body streams through.
func (h *Handler) authenticateStreaming(r *http.Request) error {
	if !hasSignature(r) {
		return nil
	}
	bodyHash := r.Header.Get("x-amz-content-sha256")
	if bodyHash == "" {
		bodyHash = sigv4.UnsignedPayload
	}
	return h.config.Verifier.VerifyRequest(r, bodyHash)
}

// authenticateBuffered verifies a signed control request against its
// buffered body. The client signed whatever x-amz-content-sha256 it sent,
// including the UNSIGNED-PAYLOAD marker, so that value is used verbatim; a
// hash is computed only when the header is absent.
func (h *Handler) authenticateBuffered(r *http.Request, body []byte) error {
	if !hasSignature(r) {
		return nil
	}
	bodyHash := r.Header.Get("x-amz-content-sha256")
	if bodyHash == "" {
		bodyHash = sigv4.PayloadHash(body)
	}
	return h.config.Verifier.VerifyRequest(r, bodyHash)
}

// bufferBody reads the whole request body of a control operation, bounded
// by MaxControlBodySize.
func (h *Handler) bufferBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.config.MaxControlBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, errInvalidRequest("request body too large")
		}
		return nil, errInvalidRequest("reading request body: " + err.Error())
	}
	h.Metrics.incBytesReceived(uint64(len(body)))
	return body, nil
}

// requireBucket answers NoSuchBucket for any bucket other than the storage
// zone the proxy fronts.
func (h *Handler) requireBucket(bucket string) error {
	if bucket != h.config.StorageZone {
		return errBucketNotFound(bucket)
	}
	return nil
}

func (h *Handler) sendXML(w http.ResponseWriter, req *request, status int, doc string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	n, _ := io.WriteString(w, doc)
	h.Metrics.incBytesSent(uint64(n))
	req.log.Info("ResponseOutgoing", "status", status)
}

func (h *Handler) sendError(w http.ResponseWriter, req *request, err error) {
	s3Err := toS3Error(err)
	h.Metrics.incErrorsTotal(s3Err)
	req.log.Warn("ResponseError", "status", s3Err.StatusCode, "code", s3Err.Code, "error", s3Err.Message)

	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(s3Err.StatusCode)
	io.WriteString(w, s3xml.Error(s3Err.Code, s3Err.Message, req.ID))
}
