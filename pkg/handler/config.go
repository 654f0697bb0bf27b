package handler

import (
	"errors"
	"log/slog"
	"time"

	"github.com/bunnylabs/bunny-s3-proxy/pkg/backend"
	"github.com/bunnylabs/bunny-s3-proxy/pkg/sigv4"
)

// Config provides a way to configure the Handler depending on your needs.
type Config struct {
	// StorageZone is the name of the backend zone and the only bucket this
	// proxy exposes. Requests naming any other bucket answer NoSuchBucket.
	StorageZone string
	// Backend is the storage client all operations are translated to.
	Backend backend.Client
	// Verifier authenticates incoming requests. Requests without an
	// Authorization header or presigned signature pass through unverified.
	Verifier *sigv4.Verifier
	// Locker serializes conditional writes (If-None-Match: *) per object
	// key.
	Locker ConditionalLocker
	// Location is the base URL reported in CompleteMultipartUploadResult,
	// typically the backend region's endpoint.
	Location string
	// MaxControlBodySize bounds buffered request bodies, i.e. the XML
	// control documents. Streaming upload bodies are not subject to it.
	// Defaults to 10 MiB.
	MaxControlBodySize int64
	// KeepAliveInterval is the padding cadence inside the streamed
	// CompleteMultipartUpload response. Defaults to 5s; tests shorten it.
	KeepAliveInterval time.Duration
	// Logger is the logger to use internally, mostly for printing requests.
	Logger *slog.Logger
}

func (config *Config) validate() error {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.StorageZone == "" {
		return errors.New("handler: StorageZone must not be empty")
	}
	if config.Backend == nil {
		return errors.New("handler: Backend must not be nil")
	}
	if config.Verifier == nil {
		return errors.New("handler: Verifier must not be nil")
	}
	if config.Locker == nil {
		return errors.New("handler: Locker must not be nil")
	}
	if config.MaxControlBodySize <= 0 {
		config.MaxControlBodySize = 10 * 1024 * 1024
	}
	if config.KeepAliveInterval <= 0 {
		config.KeepAliveInterval = 5 * time.Second
	}
	return nil
}
