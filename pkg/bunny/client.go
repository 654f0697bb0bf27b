// Package bunny implements backend.Client against the Bunny.net edge-storage
// REST API: one HTTP endpoint per region, an AccessKey header for
// authentication, JSON directory listings, and a non-standard DESCRIBE verb
// for metadata lookups.
package bunny

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/http2"

	"github.com/bunnylabs/bunny-s3-proxy/pkg/backend"
)

const userAgent = "bunny-s3-proxy/2.0"

// ZoneConfig identifies one storage zone and the credential for it. Endpoint
// overrides the region's base URL when set; tests and self-hosted replicas
// use this.
type ZoneConfig struct {
	Name      string
	AccessKey string
	Region    Region
	Endpoint  string
}

// Client talks to a single storage zone. It is safe for concurrent use.
type Client struct {
	http    *http.Client
	config  ZoneConfig
	baseURL string
	logger  *slog.Logger
}

var _ backend.Client = (*Client)(nil)

// New creates a client for the given zone. The underlying HTTP client keeps
// persistent HTTP/2 connections with small initial flow-control windows, so
// memory per concurrent upload stays bounded while the backend is the
// latency bottleneck.
func New(config ZoneConfig, logger *slog.Logger) (*Client, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("bunny: storage zone name must not be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	baseURL := config.Endpoint
	if baseURL == "" {
		if _, err := ParseRegion(string(config.Region)); err != nil {
			return nil, err
		}
		baseURL = config.Region.BaseURL()
	}

	return &Client{
		http:    &http.Client{Transport: newTransport()},
		config:  config,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger,
	}, nil
}

func newTransport() *http.Transport {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	// Long multipart completions have been observed to starve on connections
	// the backend has silently stopped serving. A read-based health check
	// lets the transport retire those instead of queueing streams on them.
	if h2, err := http2.ConfigureTransports(transport); err == nil {
		h2.ReadIdleTimeout = 30 * time.Second
		h2.PingTimeout = 15 * time.Second
	}

	return transport
}

// Fresh returns a client with the same configuration but a cold connection
// pool. Callers use it to sidestep a degraded long-lived connection, for
// example before streaming a very large completion.
func (c *Client) Fresh() *Client {
	clone := *c
	clone.http = &http.Client{Transport: newTransport()}
	return &clone
}

// Endpoint returns the resolved base URL, without the zone path.
func (c *Client) Endpoint() string {
	return c.baseURL
}

// Zone returns the configured storage zone name.
func (c *Client) Zone() string {
	return c.config.Name
}

func (c *Client) buildURL(path string) string {
	clean := strings.TrimPrefix(path, "/")
	return c.baseURL + "/" + c.config.Name + "/" + clean
}

func (c *Client) newRequest(ctx context.Context, method, url string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("BackendRequest", "method", method, "url", url)
	req.Header.Set("AccessKey", c.config.AccessKey)
	req.Header.Set("User-Agent", userAgent)
	return req, nil
}

func drainAndClose(body io.ReadCloser) {
	io.Copy(io.Discard, io.LimitReader(body, 4096))
	body.Close()
}

// List returns the immediate children of path. A 404 from the backend means
// the directory simply does not exist yet and yields an empty listing.
func (c *Client) List(ctx context.Context, path string) ([]backend.StorageObject, error) {
	url := c.buildURL(path)
	if !strings.HasSuffix(url, "/") {
		url += "/"
	}

	req, err := c.newRequest(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bunny: list %s: %w", path, err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		defer resp.Body.Close()
		var objects []backend.StorageObject
		if err := json.NewDecoder(resp.Body).Decode(&objects); err != nil {
			return nil, fmt.Errorf("bunny: decoding listing of %s: %w", path, err)
		}
		return objects, nil
	case http.StatusNotFound:
		drainAndClose(resp.Body)
		return nil, nil
	case http.StatusUnauthorized:
		drainAndClose(resp.Body)
		return nil, backend.ErrAccessDenied
	default:
		drainAndClose(resp.Body)
		return nil, backend.APIError{Op: "list", StatusCode: resp.StatusCode}
	}
}

// ListRecursive flattens the tree below prefix depth-first, returning files
// only. Directories discovered along the way are traversed; max caps the
// number of files collected when positive.
func (c *Client) ListRecursive(ctx context.Context, prefix string, max int) ([]backend.StorageObject, error) {
	var files []backend.StorageObject
	dirs := []string{prefix}

	for len(dirs) > 0 {
		if max > 0 && len(files) >= max {
			break
		}
		dir := dirs[len(dirs)-1]
		dirs = dirs[:len(dirs)-1]

		objects, err := c.List(ctx, dir)
		if err != nil {
			return nil, err
		}
		for _, obj := range objects {
			if obj.IsDirectory {
				// Recurse on the zone-relative key; FullPath carries the zone
				// prefix, which buildURL adds back.
				dirs = append(dirs, obj.S3Key())
				continue
			}
			files = append(files, obj)
			if max > 0 && len(files) >= max {
				break
			}
		}
	}

	return files, nil
}

// Describe fetches an object's metadata using the DESCRIBE verb.
func (c *Client) Describe(ctx context.Context, path string) (backend.StorageObject, error) {
	req, err := c.newRequest(ctx, "DESCRIBE", c.buildURL(path), nil)
	if err != nil {
		return backend.StorageObject{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return backend.StorageObject{}, fmt.Errorf("bunny: describe %s: %w", path, err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		defer resp.Body.Close()
		var object backend.StorageObject
		if err := json.NewDecoder(resp.Body).Decode(&object); err != nil {
			return backend.StorageObject{}, fmt.Errorf("bunny: decoding describe of %s: %w", path, err)
		}
		return object, nil
	case http.StatusNotFound:
		drainAndClose(resp.Body)
		return backend.StorageObject{}, backend.NotFoundError{Path: path}
	case http.StatusUnauthorized:
		drainAndClose(resp.Body)
		return backend.StorageObject{}, backend.ErrAccessDenied
	default:
		drainAndClose(resp.Body)
		return backend.StorageObject{}, backend.APIError{Op: "describe", StatusCode: resp.StatusCode}
	}
}

// Download opens the object at path for streaming. The caller owns the
// returned handle and must close it.
func (c *Client) Download(ctx context.Context, path string) (*backend.Download, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.buildURL(path), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bunny: download %s: %w", path, err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return &backend.Download{
			ContentLength: resp.ContentLength,
			ContentType:   resp.Header.Get("Content-Type"),
			ETag:          resp.Header.Get("ETag"),
			LastModified:  resp.Header.Get("Last-Modified"),
			Body:          resp.Body,
		}, nil
	case http.StatusNotFound:
		drainAndClose(resp.Body)
		return nil, backend.NotFoundError{Path: path}
	case http.StatusUnauthorized:
		drainAndClose(resp.Body)
		return nil, backend.ErrAccessDenied
	default:
		drainAndClose(resp.Body)
		return nil, backend.APIError{Op: "download", StatusCode: resp.StatusCode}
	}
}

// Upload stores body under path in one request. The backend verifies the
// Checksum header, when present, against the received bytes.
func (c *Client) Upload(ctx context.Context, path string, body []byte, opts backend.UploadOptions) error {
	req, err := c.newRequest(ctx, http.MethodPut, c.buildURL(path), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if opts.SHA256Checksum != "" {
		req.Header.Set("Checksum", opts.SHA256Checksum)
	}
	if opts.ContentType != "" {
		req.Header.Set("Override-Content-Type", opts.ContentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("bunny: upload %s: %w", path, err)
	}
	drainAndClose(resp.Body)

	return uploadStatus(resp.StatusCode)
}

// UploadStream stores the contents of body under path without buffering.
// contentLength is forwarded when non-negative so the backend can
// preallocate; -1 sends the body chunked.
func (c *Client) UploadStream(ctx context.Context, path string, body io.Reader, contentLength int64) error {
	req, err := c.newRequest(ctx, http.MethodPut, c.buildURL(path), body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if contentLength >= 0 {
		req.ContentLength = contentLength
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("bunny: upload %s: %w", path, err)
	}
	drainAndClose(resp.Body)

	return uploadStatus(resp.StatusCode)
}

func uploadStatus(code int) error {
	switch code {
	case http.StatusOK, http.StatusCreated:
		return nil
	case http.StatusBadRequest:
		return backend.InvalidRequestError{Reason: "Invalid path or checksum"}
	case http.StatusUnauthorized:
		return backend.ErrAccessDenied
	default:
		return backend.APIError{Op: "upload", StatusCode: code}
	}
}

// Delete removes the object or directory at path. The backend answers 404
// for a missing object and 400 for some malformed directory paths; both are
// treated as success so delete stays idempotent.
func (c *Client) Delete(ctx context.Context, path string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, c.buildURL(path), nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("bunny: delete %s: %w", path, err)
	}
	drainAndClose(resp.Body)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNotFound, http.StatusBadRequest:
		return nil
	case http.StatusUnauthorized:
		return backend.ErrAccessDenied
	default:
		return backend.APIError{Op: "delete", StatusCode: resp.StatusCode}
	}
}

// Copy duplicates src to dst. The storage API has no server-side copy, so
// the object is downloaded and re-uploaded.
func (c *Client) Copy(ctx context.Context, src, dst string) error {
	download, err := c.Download(ctx, src)
	if err != nil {
		return err
	}
	body, err := download.Bytes()
	if err != nil {
		return fmt.Errorf("bunny: copy %s: %w", src, err)
	}
	return c.Upload(ctx, dst, body, backend.UploadOptions{})
}
