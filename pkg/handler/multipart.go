package handler

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bunnylabs/bunny-s3-proxy/pkg/multipart"
	"github.com/bunnylabs/bunny-s3-proxy/pkg/s3xml"
)

const maxPartsLimit = 1000

func (h *Handler) initiateMultipartUpload(w http.ResponseWriter, r *http.Request, req *request) error {
	if err := h.requireBucket(req.Bucket); err != nil {
		return err
	}

	uploadID, err := h.multipart.Create(r.Context(), req.Key)
	if err != nil {
		return err
	}
	h.Metrics.incUploadsCreated()

	h.sendXML(w, req, http.StatusOK, s3xml.InitiateMultipartUpload(req.Bucket, req.Key, uploadID))
	return nil
}

// uploadPart streams one part's body to its backend object, keyed by upload
// id and zero-padded part number.
func (h *Handler) uploadPart(w http.ResponseWriter, r *http.Request, req *request) error {
	if err := h.requireBucket(req.Bucket); err != nil {
		return err
	}

	query := r.URL.Query()
	uploadID := query.Get("uploadId")
	if uploadID == "" {
		return errInvalidRequest("Missing uploadId")
	}
	number, err := strconv.Atoi(query.Get("partNumber"))
	if err != nil {
		return errInvalidRequest("Invalid partNumber")
	}

	etag, err := h.multipart.UploadPart(r.Context(), uploadID, number, r.Body, r.ContentLength)
	if err != nil {
		return err
	}

	w.Header().Set("ETag", `"`+etag+`"`)
	w.WriteHeader(http.StatusOK)
	req.log.Info("ResponseOutgoing", "status", http.StatusOK)
	return nil
}

// completeMultipartUpload assembles the final object. Assembly takes long
// enough that idle intermediaries would cut the connection, so the response
// is committed immediately as an XML comment that grows by one space per
// keep-alive tick until the real result is known. The status is therefore
// always 200; failures are delivered as an in-band error document.
func (h *Handler) completeMultipartUpload(w http.ResponseWriter, r *http.Request, req *request) error {
	if err := h.requireBucket(req.Bucket); err != nil {
		return err
	}

	uploadID := r.URL.Query().Get("uploadId")
	if uploadID == "" {
		return errInvalidRequest("Missing uploadId")
	}
	completeReq, err := s3xml.ParseCompleteRequest(req.Body)
	if err != nil {
		return errInvalidRequest(err.Error())
	}
	parts := make([]multipart.CompletedPart, len(completeReq.Parts))
	for i, part := range completeReq.Parts {
		parts[i] = multipart.CompletedPart{Number: part.PartNumber, ETag: part.ETag}
	}

	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><!-- `)
	flush(w)

	type outcome struct {
		etag string
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		etag, _, err := h.multipart.Complete(r.Context(), uploadID, req.Key, parts)
		done <- outcome{etag: etag, err: err}
	}()

	ticker := time.NewTicker(h.config.KeepAliveInterval)
	defer ticker.Stop()

	var result outcome
wait:
	for {
		select {
		case result = <-done:
			break wait
		case <-ticker.C:
			io.WriteString(w, " ")
			flush(w)
		}
	}

	if result.err != nil {
		s3Err := toS3Error(result.err)
		req.log.Warn("MultipartCompleteFailed", "error", result.err)
		n, _ := io.WriteString(w, " -->"+s3xml.InlineError("InternalError", s3Err.Message))
		h.Metrics.incBytesSent(uint64(n))
		return nil
	}

	location := strings.TrimSuffix(h.config.Location, "/") + "/" + req.Bucket + "/" + req.Key
	n, _ := io.WriteString(w, " -->"+s3xml.CompleteMultipartUpload(location, req.Bucket, req.Key, result.etag))
	h.Metrics.incBytesSent(uint64(n))
	h.Metrics.incUploadsCompleted()
	req.log.Info("ResponseOutgoing", "status", http.StatusOK)
	return nil
}

func flush(w http.ResponseWriter) {
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (h *Handler) abortMultipartUpload(w http.ResponseWriter, r *http.Request, req *request) error {
	if err := h.requireBucket(req.Bucket); err != nil {
		return err
	}

	uploadID := r.URL.Query().Get("uploadId")
	if uploadID == "" {
		return errInvalidRequest("Missing uploadId")
	}
	if err := h.multipart.Abort(r.Context(), uploadID); err != nil {
		return err
	}
	h.Metrics.incUploadsAborted()

	w.WriteHeader(http.StatusNoContent)
	req.log.Info("ResponseOutgoing", "status", http.StatusNoContent)
	return nil
}

func (h *Handler) listParts(w http.ResponseWriter, r *http.Request, req *request) error {
	if err := h.requireBucket(req.Bucket); err != nil {
		return err
	}

	query := r.URL.Query()
	uploadID := query.Get("uploadId")
	if uploadID == "" {
		return errInvalidRequest("Missing uploadId")
	}
	maxParts := maxPartsLimit
	if v, err := strconv.Atoi(query.Get("max-parts")); err == nil && v >= 0 && v < maxPartsLimit {
		maxParts = v
	}

	_, parts, truncated, err := h.multipart.ListParts(r.Context(), uploadID, maxParts)
	if err != nil {
		return err
	}
	xmlParts := make([]s3xml.Part, len(parts))
	for i, part := range parts {
		xmlParts[i] = s3xml.Part{
			Number:       part.Number,
			ETag:         part.ETag,
			Size:         part.Size,
			LastModified: part.LastModified,
		}
	}

	h.sendXML(w, req, http.StatusOK,
		s3xml.ListParts(req.Bucket, req.Key, uploadID, xmlParts, truncated, maxParts))
	return nil
}

func (h *Handler) listMultipartUploads(w http.ResponseWriter, r *http.Request, req *request) error {
	if err := h.requireBucket(req.Bucket); err != nil {
		return err
	}

	query := r.URL.Query()
	prefix := query.Get("prefix")
	delimiter := query.Get("delimiter")
	maxUploads := maxKeysLimit
	if v, err := strconv.Atoi(query.Get("max-uploads")); err == nil && v >= 0 && v < maxKeysLimit {
		maxUploads = v
	}

	uploads, err := h.multipart.ListUploads(r.Context())
	if err != nil {
		return err
	}

	var kept []s3xml.Upload
	for _, upload := range uploads {
		if prefix != "" && !strings.HasPrefix(upload.Key, prefix) {
			continue
		}
		kept = append(kept, s3xml.Upload{
			Key:       upload.Key,
			UploadID:  upload.UploadID,
			Initiated: upload.Initiated,
		})
	}
	isTruncated := len(kept) > maxUploads
	if isTruncated {
		kept = kept[:maxUploads]
	}

	h.sendXML(w, req, http.StatusOK,
		s3xml.ListMultipartUploads(req.Bucket, kept, prefix, delimiter, maxUploads, isTruncated))
	return nil
}
