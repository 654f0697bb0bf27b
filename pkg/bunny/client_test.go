package bunny

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bunnylabs/bunny-s3-proxy/pkg/backend"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := New(ZoneConfig{
		Name:      "zone",
		AccessKey: "secret-key",
		Endpoint:  server.URL,
	}, nil)
	require.NoError(t, err)
	return client, server
}

func TestParseRegion(t *testing.T) {
	a := assert.New(t)

	for _, code := range []string{"de", "uk", "ny", "la", "sg", "se", "br", "jh", "syd"} {
		region, err := ParseRegion(code)
		a.NoError(err)
		a.NotEmpty(region.BaseURL())
	}

	_, err := ParseRegion("mars")
	a.Error(err)

	region, _ := ParseRegion("de")
	a.Equal("https://storage.bunnycdn.com", region.BaseURL())
	region, _ = ParseRegion("syd")
	a.Equal("https://syd.storage.bunnycdn.com", region.BaseURL())
}

func TestList(t *testing.T) {
	a := assert.New(t)

	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		a.Equal("GET", r.Method)
		a.Equal("/zone/photos/", r.URL.Path)
		a.Equal("secret-key", r.Header.Get("AccessKey"))
		a.Equal("application/json", r.Header.Get("Accept"))

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `[
			{"Guid":"g1","Path":"/zone/photos/","ObjectName":"cat.jpg","Length":42,"IsDirectory":false,"StorageZoneName":"zone","LastChanged":"2024-03-01T10:20:30.123","DateCreated":"2024-03-01T10:20:30"},
			{"Guid":"g2","Path":"/zone/photos/","ObjectName":"raw","Length":0,"IsDirectory":true,"StorageZoneName":"zone","LastChanged":"2024-03-01T10:20:30Z","DateCreated":"2024-03-01T10:20:30Z"}
		]`)
	})

	objects, err := client.List(context.Background(), "photos")
	require.NoError(t, err)
	require.Len(t, objects, 2)
	a.Equal("photos/cat.jpg", objects[0].S3Key())
	a.False(objects[0].IsDirectory)
	a.True(objects[1].IsDirectory)
}

func TestListMissingDirectoryIsEmpty(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	objects, err := client.List(context.Background(), "nope")
	require.NoError(t, err)
	assert.Empty(t, objects)
}

func TestListUnauthorized(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := client.List(context.Background(), "photos")
	assert.ErrorIs(t, err, backend.ErrAccessDenied)
}

func TestListRecursiveEarlyExit(t *testing.T) {
	a := assert.New(t)
	listings := map[string]string{
		"/zone/": `[
			{"Guid":"d","Path":"/zone/","ObjectName":"sub","IsDirectory":true,"StorageZoneName":"zone"},
			{"Guid":"a","Path":"/zone/","ObjectName":"a.txt","Length":1,"StorageZoneName":"zone"},
			{"Guid":"b","Path":"/zone/","ObjectName":"b.txt","Length":1,"StorageZoneName":"zone"}
		]`,
		"/zone/sub/": `[
			{"Guid":"c","Path":"/zone/sub/","ObjectName":"c.txt","Length":1,"StorageZoneName":"zone"}
		]`,
	}
	var requests []string

	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		requests = append(requests, r.URL.Path)
		body, ok := listings[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		io.WriteString(w, body)
	})

	files, err := client.ListRecursive(context.Background(), "", 2)
	require.NoError(t, err)
	a.Len(files, 2)
	// The cap was reached in the root listing, so the subdirectory is never
	// fetched.
	a.Equal([]string{"/zone/"}, requests)

	files, err = client.ListRecursive(context.Background(), "", 0)
	require.NoError(t, err)
	a.Len(files, 3)
}

func TestDescribe(t *testing.T) {
	a := assert.New(t)

	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		a.Equal("DESCRIBE", r.Method)
		a.Equal("/zone/photos/cat.jpg", r.URL.Path)
		io.WriteString(w, `{"Guid":"g1","Path":"/zone/photos/","ObjectName":"cat.jpg","Length":42,"StorageZoneName":"zone","Checksum":"FEED"}`)
	})

	object, err := client.Describe(context.Background(), "photos/cat.jpg")
	require.NoError(t, err)
	a.Equal(int64(42), object.Length)
	a.Equal("FEED", object.ETag())
}

func TestDescribeNotFound(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := client.Describe(context.Background(), "gone")
	var notFound backend.NotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, "gone", notFound.Path)
}

func TestDownload(t *testing.T) {
	a := assert.New(t)

	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Header().Set("ETag", "abc")
		io.WriteString(w, "hello")
	})

	download, err := client.Download(context.Background(), "hello.txt")
	require.NoError(t, err)
	body, err := download.Bytes()
	require.NoError(t, err)
	a.Equal("hello", string(body))
	a.Equal(int64(5), download.ContentLength)
	a.Equal("text/plain", download.ContentType)
	a.Equal("abc", download.ETag)
}

func TestUploadStatusMapping(t *testing.T) {
	a := assert.New(t)

	var status int
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		a.Equal("PUT", r.Method)
		w.WriteHeader(status)
	})

	status = http.StatusCreated
	a.NoError(client.Upload(context.Background(), "k", []byte("x"), backend.UploadOptions{}))

	status = http.StatusBadRequest
	var invalid backend.InvalidRequestError
	err := client.Upload(context.Background(), "k", []byte("x"), backend.UploadOptions{})
	require.True(t, errors.As(err, &invalid))

	status = http.StatusUnauthorized
	a.ErrorIs(client.Upload(context.Background(), "k", []byte("x"), backend.UploadOptions{}), backend.ErrAccessDenied)

	status = http.StatusInternalServerError
	var apiErr backend.APIError
	err = client.Upload(context.Background(), "k", []byte("x"), backend.UploadOptions{})
	require.True(t, errors.As(err, &apiErr))
	a.Equal(http.StatusInternalServerError, apiErr.StatusCode)
}

func TestUploadHeaders(t *testing.T) {
	a := assert.New(t)

	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		a.Equal("DEADBEEF", r.Header.Get("Checksum"))
		a.Equal("text/plain", r.Header.Get("Override-Content-Type"))
		a.Equal("application/octet-stream", r.Header.Get("Content-Type"))
	})

	err := client.Upload(context.Background(), "k", []byte("x"), backend.UploadOptions{
		ContentType:    "text/plain",
		SHA256Checksum: "DEADBEEF",
	})
	assert.NoError(t, err)
}

func TestUploadStreamContentLength(t *testing.T) {
	a := assert.New(t)

	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		a.Equal(int64(5), r.ContentLength)
		body, _ := io.ReadAll(r.Body)
		a.Equal("hello", string(body))
	})

	err := client.UploadStream(context.Background(), "k", strings.NewReader("hello"), 5)
	assert.NoError(t, err)
}

func TestDeleteIsIdempotent(t *testing.T) {
	a := assert.New(t)

	var status int
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		a.Equal("DELETE", r.Method)
		w.WriteHeader(status)
	})

	for _, status = range []int{http.StatusOK, http.StatusNotFound, http.StatusBadRequest} {
		a.NoError(client.Delete(context.Background(), "k"))
	}

	status = http.StatusUnauthorized
	a.ErrorIs(client.Delete(context.Background(), "k"), backend.ErrAccessDenied)
}

func TestCopyDownloadsAndReuploads(t *testing.T) {
	a := assert.New(t)

	var uploaded string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case "GET":
			a.Equal("/zone/src.txt", r.URL.Path)
			io.WriteString(w, "payload")
		case "PUT":
			a.Equal("/zone/dst.txt", r.URL.Path)
			body, _ := io.ReadAll(r.Body)
			uploaded = string(body)
		}
	})

	err := client.Copy(context.Background(), "src.txt", "dst.txt")
	require.NoError(t, err)
	a.Equal("payload", uploaded)
}
