// Package s3xml emits the S3 XML response documents and parses the two XML
// request bodies the proxy accepts (bulk delete and multipart completion).
//
// Responses are assembled from format strings rather than encoding/xml
// because S3 clients are byte-sensitive: element order is fixed, ETags are
// quoted, booleans are lowercase and timestamps carry exactly millisecond
// precision.
package s3xml

import (
	"fmt"
	"strings"
	"time"
)

const header = `<?xml version="1.0" encoding="UTF-8"?>`

const xmlns = "http://s3.amazonaws.com/doc/2006-03-01/"

// Timestamp renders t the way S3 does: ISO-8601, millisecond precision,
// trailing Z.
func Timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

var escaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

// Escape substitutes the five XML-reserved characters.
func Escape(s string) string {
	return escaper.Replace(s)
}

// Owner appears in bucket listings and optionally on objects.
type Owner struct {
	ID          string
	DisplayName string
}

// Bucket is one entry of a ListBuckets response.
type Bucket struct {
	Name         string
	CreationDate time.Time
}

// Object is one Contents entry of a ListObjectsV2 response.
type Object struct {
	Key          string
	LastModified time.Time
	ETag         string
	Size         int64
	Owner        *Owner
}

// ListBuckets renders ListAllMyBucketsResult.
func ListBuckets(buckets []Bucket, owner Owner) string {
	var b strings.Builder
	for _, bucket := range buckets {
		fmt.Fprintf(&b, "<Bucket><Name>%s</Name><CreationDate>%s</CreationDate></Bucket>",
			Escape(bucket.Name), Timestamp(bucket.CreationDate))
	}
	return fmt.Sprintf(`%s
<ListAllMyBucketsResult xmlns="%s">
<Owner><ID>%s</ID><DisplayName>%s</DisplayName></Owner>
<Buckets>%s</Buckets>
</ListAllMyBucketsResult>`,
		header, xmlns, Escape(owner.ID), Escape(owner.DisplayName), b.String())
}

// ListObjectsV2 carries everything a ListBucketResult needs. Optional
// string fields are omitted from the document when empty.
type ListObjectsV2 struct {
	Bucket                string
	Prefix                string
	Delimiter             string
	MaxKeys               int
	KeyCount              int
	IsTruncated           bool
	ContinuationToken     string
	NextContinuationToken string
	StartAfter            string
	Objects               []Object
	CommonPrefixes        []string
}

// Encode renders the ListBucketResult document.
func (p ListObjectsV2) Encode() string {
	var contents strings.Builder
	for _, obj := range p.Objects {
		ownerXML := ""
		if obj.Owner != nil {
			ownerXML = fmt.Sprintf("<Owner><ID>%s</ID><DisplayName>%s</DisplayName></Owner>",
				Escape(obj.Owner.ID), Escape(obj.Owner.DisplayName))
		}
		fmt.Fprintf(&contents,
			`<Contents><Key>%s</Key><LastModified>%s</LastModified><ETag>"%s"</ETag><Size>%d</Size><StorageClass>STANDARD</StorageClass>%s</Contents>`,
			Escape(obj.Key), Timestamp(obj.LastModified), Escape(obj.ETag), obj.Size, ownerXML)
	}

	var prefixes strings.Builder
	for _, prefix := range p.CommonPrefixes {
		fmt.Fprintf(&prefixes, "<CommonPrefixes><Prefix>%s</Prefix></CommonPrefixes>", Escape(prefix))
	}

	return fmt.Sprintf(`%s
<ListBucketResult xmlns="%s">
<Name>%s</Name>%s%s<MaxKeys>%d</MaxKeys><KeyCount>%d</KeyCount><IsTruncated>%t</IsTruncated>%s%s%s%s%s
</ListBucketResult>`,
		header, xmlns,
		Escape(p.Bucket),
		optional("Prefix", p.Prefix),
		optional("Delimiter", p.Delimiter),
		p.MaxKeys,
		p.KeyCount,
		p.IsTruncated,
		optional("ContinuationToken", p.ContinuationToken),
		optional("NextContinuationToken", p.NextContinuationToken),
		optional("StartAfter", p.StartAfter),
		contents.String(),
		prefixes.String())
}

// CopyObject renders CopyObjectResult.
func CopyObject(etag string, lastModified time.Time) string {
	return fmt.Sprintf(`%s
<CopyObjectResult><ETag>"%s"</ETag><LastModified>%s</LastModified></CopyObjectResult>`,
		header, Escape(etag), Timestamp(lastModified))
}

// DeleteError is one failed entry of a bulk delete.
type DeleteError struct {
	Key     string
	Code    string
	Message string
}

// DeleteResult renders the bulk-delete outcome. In quiet mode the Deleted
// entries are omitted and only errors are reported.
func DeleteResult(deleted []string, errs []DeleteError, quiet bool) string {
	var b strings.Builder
	if !quiet {
		for _, key := range deleted {
			fmt.Fprintf(&b, "<Deleted><Key>%s</Key></Deleted>", Escape(key))
		}
	}
	for _, e := range errs {
		fmt.Fprintf(&b, "<Error><Key>%s</Key><Code>%s</Code><Message>%s</Message></Error>",
			Escape(e.Key), Escape(e.Code), Escape(e.Message))
	}
	return fmt.Sprintf(`%s
<DeleteResult xmlns="%s">%s</DeleteResult>`, header, xmlns, b.String())
}

// InitiateMultipartUpload renders InitiateMultipartUploadResult.
func InitiateMultipartUpload(bucket, key, uploadID string) string {
	return fmt.Sprintf(`%s
<InitiateMultipartUploadResult xmlns="%s">
<Bucket>%s</Bucket><Key>%s</Key><UploadId>%s</UploadId>
</InitiateMultipartUploadResult>`,
		header, xmlns, Escape(bucket), Escape(key), Escape(uploadID))
}

// Part is one entry of a ListParts response.
type Part struct {
	Number       int
	ETag         string
	Size         int64
	LastModified time.Time
}

// ListParts renders ListPartsResult.
func ListParts(bucket, key, uploadID string, parts []Part, isTruncated bool, maxParts int) string {
	var b strings.Builder
	for _, part := range parts {
		fmt.Fprintf(&b,
			`<Part><PartNumber>%d</PartNumber><ETag>"%s"</ETag><Size>%d</Size><LastModified>%s</LastModified></Part>`,
			part.Number, Escape(part.ETag), part.Size, Timestamp(part.LastModified))
	}
	return fmt.Sprintf(`%s
<ListPartsResult xmlns="%s">
<Bucket>%s</Bucket><Key>%s</Key><UploadId>%s</UploadId><IsTruncated>%t</IsTruncated><MaxParts>%d</MaxParts>%s
</ListPartsResult>`,
		header, xmlns, Escape(bucket), Escape(key), Escape(uploadID), isTruncated, maxParts, b.String())
}

// Upload is one entry of a ListMultipartUploads response.
type Upload struct {
	Key       string
	UploadID  string
	Initiated time.Time
}

// ListMultipartUploads renders ListMultipartUploadsResult.
func ListMultipartUploads(bucket string, uploads []Upload, prefix, delimiter string, maxUploads int, isTruncated bool) string {
	var b strings.Builder
	for _, upload := range uploads {
		fmt.Fprintf(&b,
			"<Upload><Key>%s</Key><UploadId>%s</UploadId><Initiated>%s</Initiated><StorageClass>STANDARD</StorageClass></Upload>",
			Escape(upload.Key), Escape(upload.UploadID), Timestamp(upload.Initiated))
	}
	return fmt.Sprintf(`%s
<ListMultipartUploadsResult xmlns="%s">
<Bucket>%s</Bucket>%s%s<MaxUploads>%d</MaxUploads><IsTruncated>%t</IsTruncated>%s
</ListMultipartUploadsResult>`,
		header, xmlns, Escape(bucket),
		optional("Prefix", prefix), optional("Delimiter", delimiter),
		maxUploads, isTruncated, b.String())
}

// CompleteMultipartUpload renders CompleteMultipartUploadResult. It carries
// no XML header because it is emitted inside an already-started response
// body, after the keep-alive comment.
func CompleteMultipartUpload(location, bucket, key, etag string) string {
	return fmt.Sprintf(
		`<CompleteMultipartUploadResult xmlns="%s"><Location>%s</Location><Bucket>%s</Bucket><Key>%s</Key><ETag>"%s"</ETag></CompleteMultipartUploadResult>`,
		xmlns, Escape(location), Escape(bucket), Escape(key), Escape(etag))
}

// Error renders the generic S3 error document.
func Error(code, message, requestID string) string {
	return fmt.Sprintf(
		`%s<Error><Code>%s</Code><Message>%s</Message><RequestId>%s</RequestId></Error>`,
		header, Escape(code), Escape(message), Escape(requestID))
}

// InlineError renders an error element without the XML header, for delivery
// inside an already-committed response body.
func InlineError(code, message string) string {
	return fmt.Sprintf("<Error><Code>%s</Code><Message>%s</Message></Error>",
		Escape(code), Escape(message))
}

func optional(element, value string) string {
	if value == "" {
		return ""
	}
	return "<" + element + ">" + Escape(value) + "</" + element + ">"
}
