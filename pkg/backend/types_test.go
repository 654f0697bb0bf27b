package backend

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimestampForms(t *testing.T) {
	a := assert.New(t)

	cases := map[string]string{
		`"2024-03-01T10:20:30.123456"`: "2024-03-01 10:20:30.123456 +0000 UTC",
		`"2024-03-01T10:20:30"`:        "2024-03-01 10:20:30 +0000 UTC",
		`"2024-03-01T10:20:30Z"`:       "2024-03-01 10:20:30 +0000 UTC",
	}

	for in, want := range cases {
		var ts Timestamp
		err := json.Unmarshal([]byte(in), &ts)
		a.NoError(err)
		a.Equal(want, ts.UTC().String())
	}

	var ts Timestamp
	err := json.Unmarshal([]byte(`"yesterday"`), &ts)
	a.Error(err)
}

func TestStorageObjectDerived(t *testing.T) {
	a := assert.New(t)

	obj := StorageObject{
		StorageZoneName: "my-zone",
		Path:            "/my-zone/photos/",
		ObjectName:      "cat.jpg",
		Length:          42,
		Checksum:        "ABCDEF",
	}

	a.Equal("/my-zone/photos/cat.jpg", obj.FullPath())
	a.Equal("photos/cat.jpg", obj.S3Key())
	a.Equal("ABCDEF", obj.ETag())
	a.True(obj.Exists())

	obj.Checksum = ""
	obj.Guid = "guid-1"
	// md5("guid-1")
	a.Equal("a65edd3ea9607c89b21fa6200ea07f71", obj.ETag())

	missing := StorageObject{Length: -1}
	a.False(missing.Exists())

	dir := StorageObject{IsDirectory: true, Length: -1}
	a.True(dir.Exists())
}

func TestHashingReader(t *testing.T) {
	a := assert.New(t)

	hr := NewHashingReader(strings.NewReader("hello"), sha256.New())
	out, err := io.ReadAll(hr)
	require.NoError(t, err)
	a.Equal("hello", string(out))
	a.Equal("2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", hr.Sum())

	empty := NewHashingReader(bytes.NewReader(nil), sha256.New())
	out, err = io.ReadAll(empty)
	require.NoError(t, err)
	a.Empty(out)
	a.Equal("e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", empty.Sum())
}
