package handler

import (
	"errors"
	"net/http"

	"github.com/bunnylabs/bunny-s3-proxy/pkg/backend"
	"github.com/bunnylabs/bunny-s3-proxy/pkg/multipart"
	"github.com/bunnylabs/bunny-s3-proxy/pkg/sigv4"
)

// Error represents an error with the intent to be sent to the client as an
// S3 error document: an S3 error code, a human-readable message and the
// HTTP status to respond with.
type Error struct {
	Code       string
	Message    string
	StatusCode int
}

func (e Error) Error() string {
	return e.Code + ": " + e.Message
}

func (e1 Error) Is(target error) bool {
	e2, ok := target.(Error)
	return ok && e1.Code == e2.Code
}

// NewError constructs a new Error object with the given S3 error code,
// message and HTTP status code.
func NewError(code string, message string, statusCode int) Error {
	return Error{Code: code, Message: message, StatusCode: statusCode}
}

func errBucketNotFound(bucket string) Error {
	return NewError("NoSuchBucket", "Bucket not found: "+bucket, http.StatusNotFound)
}

func errInvalidRequest(message string) Error {
	return NewError("InvalidRequest", "Invalid request: "+message, http.StatusBadRequest)
}

// toS3Error maps any error from the layers below onto the wire
// representation of the S3 error model.
func toS3Error(err error) Error {
	var handlerErr Error
	if errors.As(err, &handlerErr) {
		return handlerErr
	}

	var notFound backend.NotFoundError
	if errors.As(err, &notFound) {
		return NewError("NoSuchKey", "Object not found: "+notFound.Path, http.StatusNotFound)
	}
	var uploadNotFound multipart.UploadNotFoundError
	if errors.As(err, &uploadNotFound) {
		return NewError("NoSuchUpload", "Multipart upload not found: "+uploadNotFound.UploadID, http.StatusNotFound)
	}
	var invalidPart multipart.InvalidPartError
	if errors.As(err, &invalidPart) {
		return NewError("InvalidPart", invalidPart.Error(), http.StatusBadRequest)
	}
	var invalidRequest backend.InvalidRequestError
	if errors.As(err, &invalidRequest) {
		return errInvalidRequest(invalidRequest.Reason)
	}
	if errors.Is(err, backend.ErrAccessDenied) {
		return NewError("AccessDenied", "Access denied", http.StatusForbidden)
	}
	if errors.Is(err, sigv4.ErrInvalidSignature) {
		return NewError("AccessDenied", "Invalid signature", http.StatusForbidden)
	}
	if errors.Is(err, sigv4.ErrMissingAuth) {
		return NewError("AccessDenied", "Missing authentication", http.StatusForbidden)
	}

	return NewError("InternalError", err.Error(), http.StatusInternalServerError)
}
