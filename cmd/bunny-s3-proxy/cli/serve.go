package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/bunnylabs/bunny-s3-proxy/pkg/bunny"
	"github.com/bunnylabs/bunny-s3-proxy/pkg/handler"
	"github.com/bunnylabs/bunny-s3-proxy/pkg/memorylocker"
	"github.com/bunnylabs/bunny-s3-proxy/pkg/redislocker"
	"github.com/bunnylabs/bunny-s3-proxy/pkg/sigv4"
)

// Serve builds the proxy from the flags and runs it until the process is
// asked to stop.
func Serve() {
	SetupStructuredLogger()

	if Flags.BunnyStorageZone == "" || Flags.BunnyAccessKey == "" {
		logger.Error("MissingConfiguration", "detail", "-bunny-storage-zone and -bunny-access-key are required")
		os.Exit(1)
	}

	region, err := bunny.ParseRegion(Flags.BunnyRegion)
	if err != nil {
		logger.Error("InvalidRegion", "error", err)
		os.Exit(1)
	}

	backendClient, err := bunny.New(bunny.ZoneConfig{
		Name:      Flags.BunnyStorageZone,
		AccessKey: Flags.BunnyAccessKey,
		Region:    region,
	}, logger)
	if err != nil {
		logger.Error("UnableToCreateBackendClient", "error", err)
		os.Exit(1)
	}

	s3Handler, err := handler.NewHandler(handler.Config{
		StorageZone: Flags.BunnyStorageZone,
		Backend:     backendClient,
		Verifier:    sigv4.NewVerifier(Flags.S3AccessKeyID, Flags.S3SecretAccessKey),
		Locker:      createLocker(),
		Location:    region.BaseURL(),
		Logger:      logger,
	})
	if err != nil {
		logger.Error("UnableToCreateHandler", "error", err)
		os.Exit(1)
	}

	if Flags.MetricsAddr != "" {
		SetupMetrics(s3Handler)
	}

	// The AWS SDKs multiplex aggressively when they can; h2c lets them do
	// so without TLS, which is usually terminated in front of the proxy.
	// Small per-stream windows keep concurrent uploads from buffering
	// whole bodies in the server.
	h2s := &http2.Server{
		MaxUploadBufferPerStream:     16 * 1024,
		MaxUploadBufferPerConnection: 32 * 1024,
	}
	server := &http.Server{Handler: h2c.NewHandler(s3Handler, h2s)}

	// The Unix socket replaces the TCP listener when configured.
	var listener net.Listener
	if Flags.SocketPath != "" {
		listener, err = NewUnixListener(Flags.SocketPath)
		if err != nil {
			logger.Error("UnableToListen", "socket", Flags.SocketPath, "error", err)
			os.Exit(1)
		}
		logger.Info("ListenerStarted",
			"socket", Flags.SocketPath,
			"zone", Flags.BunnyStorageZone,
			"region", region.String(),
			"endpoint", backendClient.Endpoint(),
			"accessKeyId", Flags.S3AccessKeyID)
	} else {
		listener, err = NewTCPListener(Flags.ListenAddr, Flags.NetworkTimeout, Flags.NetworkTimeout)
		if err != nil {
			logger.Error("UnableToListen", "addr", Flags.ListenAddr, "error", err)
			os.Exit(1)
		}
		logger.Info("ListenerStarted",
			"addr", Flags.ListenAddr,
			"zone", Flags.BunnyStorageZone,
			"region", region.String(),
			"endpoint", backendClient.Endpoint(),
			"accessKeyId", Flags.S3AccessKeyID)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var group errgroup.Group
	group.Go(func() error {
		if err := server.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		logger.Info("ShutdownInitiated", "timeout", Flags.ShutdownTimeout.String())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), Flags.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.Error("ServerFailed", "error", err)
		os.Exit(1)
	}
	logger.Info("ShutdownComplete")
}

// createLocker picks the conditional write lock implementation. Redis makes
// the locks effective across a fleet of proxies; without it they only hold
// within this process.
func createLocker() handler.ConditionalLocker {
	if Flags.RedisURL == "" {
		return memorylocker.New()
	}

	locker, err := redislocker.New(Flags.RedisURL,
		redislocker.WithLogger(logger),
		redislocker.WithTTL(time.Duration(Flags.RedisLockTTLMs)*time.Millisecond))
	if err != nil {
		logger.Warn("RedisUnavailable", "error", err, "fallback", "in-memory locks")
		return memorylocker.New()
	}

	logger.Info("RedisLockerEnabled", "ttl_ms", Flags.RedisLockTTLMs)
	return locker
}
