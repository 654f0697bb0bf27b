package backend

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

// StorageObject is one entry of a zone as the backend reports it: a file or a
// directory. Length below zero is the backend's sentinel for "does not
// exist"; an object is either a directory or has a non-negative length.
type StorageObject struct {
	Guid            string    `json:"Guid"`
	UserID          string    `json:"UserId"`
	LastChanged     Timestamp `json:"LastChanged"`
	DateCreated     Timestamp `json:"DateCreated"`
	StorageZoneName string    `json:"StorageZoneName"`
	Path            string    `json:"Path"`
	ObjectName      string    `json:"ObjectName"`
	Length          int64     `json:"Length"`
	StorageZoneID   int64     `json:"StorageZoneId"`
	IsDirectory     bool      `json:"IsDirectory"`
	ServerID        int64     `json:"ServerId"`
	Checksum        string    `json:"Checksum"`
	ReplicatedZones string    `json:"ReplicatedZones"`
	ContentType     string    `json:"ContentType"`
}

// FullPath joins the parent directory and the object name. The backend
// reports Path with the zone name as its first segment and a trailing slash,
// so the result is absolute within the account.
func (o StorageObject) FullPath() string {
	if strings.HasSuffix(o.Path, "/") {
		return o.Path + o.ObjectName
	}
	return o.Path + "/" + o.ObjectName
}

// S3Key strips the zone-name prefix from FullPath, yielding the key a client
// of the S3 surface sees.
func (o StorageObject) S3Key() string {
	key := strings.TrimPrefix(o.FullPath(), "/")
	if rest, ok := strings.CutPrefix(key, o.StorageZoneName); ok {
		return strings.TrimPrefix(rest, "/")
	}
	return key
}

// ETag returns the backend checksum when one was recorded, falling back to
// an MD5 of the object's GUID so every object has a stable tag.
func (o StorageObject) ETag() string {
	if o.Checksum != "" {
		return o.Checksum
	}
	sum := md5.Sum([]byte(o.Guid))
	return hex.EncodeToString(sum[:])
}

// Exists reports whether the backend actually has this object. Describe on a
// missing path can answer 200 with a negative-length placeholder.
func (o StorageObject) Exists() bool {
	return o.IsDirectory || o.Length >= 0
}

// Timestamp parses the timestamp flavors the backend emits: local timestamps
// with or without fractional seconds, and full RFC 3339.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	time.RFC3339,
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for _, layout := range timestampLayouts {
		parsed, err := time.Parse(layout, s)
		if err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("backend: unrecognized timestamp %q", s)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Format("2006-01-02T15:04:05.999999999"))
}

// UploadOptions carries the optional metadata of a single-shot upload.
type UploadOptions struct {
	ContentType    string
	SHA256Checksum string
}

// Download is an open handle on an object's body. ContentLength is -1 when
// the backend did not announce one.
type Download struct {
	ContentLength int64
	ContentType   string
	ETag          string
	LastModified  string
	Body          io.ReadCloser
}

// Bytes drains and closes the body.
func (d *Download) Bytes() ([]byte, error) {
	defer d.Body.Close()
	return io.ReadAll(d.Body)
}

// Close releases the handle without reading the remainder of the body.
func (d *Download) Close() error {
	return d.Body.Close()
}
