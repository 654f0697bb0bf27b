package s3xml

import (
	"encoding/xml"
	"fmt"
)

// DeleteRequest is the body of a bulk delete (POST /bucket?delete).
type DeleteRequest struct {
	XMLName xml.Name       `xml:"Delete"`
	Objects []DeleteObject `xml:"Object"`
	Quiet   bool           `xml:"Quiet"`
}

// DeleteObject names one key to remove.
type DeleteObject struct {
	Key string `xml:"Key"`
}

// ParseDeleteRequest decodes a bulk-delete body.
func ParseDeleteRequest(body []byte) (DeleteRequest, error) {
	var req DeleteRequest
	if err := xml.Unmarshal(body, &req); err != nil {
		return DeleteRequest{}, fmt.Errorf("s3xml: parsing Delete request: %w", err)
	}
	return req, nil
}

// CompleteRequest is the body of a CompleteMultipartUpload.
type CompleteRequest struct {
	XMLName xml.Name      `xml:"CompleteMultipartUpload"`
	Parts   []RequestPart `xml:"Part"`
}

// RequestPart pairs a part number with the ETag the client observed when it
// uploaded the part. The order of parts defines the assembly order.
type RequestPart struct {
	PartNumber int    `xml:"PartNumber"`
	ETag       string `xml:"ETag"`
}

// ParseCompleteRequest decodes a CompleteMultipartUpload body.
func ParseCompleteRequest(body []byte) (CompleteRequest, error) {
	var req CompleteRequest
	if err := xml.Unmarshal(body, &req); err != nil {
		return CompleteRequest{}, fmt.Errorf("s3xml: parsing CompleteMultipartUpload request: %w", err)
	}
	return req, nil
}
