package cli

import (
	"time"

	"github.com/jnovack/flag"

	"github.com/bunnylabs/bunny-s3-proxy/internal/grouped_flags"
)

// Flags collects every setting of the proxy. Each flag can also be supplied
// as an environment variable, named after the flag in upper snake case
// (e.g. -bunny-storage-zone becomes BUNNY_STORAGE_ZONE).
var Flags struct {
	ListenAddr      string
	SocketPath      string
	NetworkTimeout  time.Duration
	ShutdownTimeout time.Duration

	BunnyStorageZone string
	BunnyAccessKey   string
	BunnyRegion      string

	S3AccessKeyID     string
	S3SecretAccessKey string

	RedisURL       string
	RedisLockTTLMs int64

	MetricsAddr string

	LogLevel  string
	LogFormat string

	ShowVersion bool
}

func ParseFlags() {
	fs := grouped_flags.NewFlagGroupSet(flag.ExitOnError)

	fs.AddGroup("Listening options", func(f *flag.FlagSet) {
		f.StringVar(&Flags.ListenAddr, "listen-addr", "127.0.0.1:9000", "TCP address to bind the S3 endpoint to")
		f.StringVar(&Flags.SocketPath, "socket-path", "", "If set, listen on a UNIX socket at this location instead of TCP")
		f.DurationVar(&Flags.NetworkTimeout, "network-timeout", 60*time.Second, "Network read timeout for idle connections. A zero value disables the timeout.")
		f.DurationVar(&Flags.ShutdownTimeout, "shutdown-timeout", 10*time.Second, "Time to wait for in-flight requests when shutting down")
	})

	fs.AddGroup("Bunny storage options", func(f *flag.FlagSet) {
		f.StringVar(&Flags.BunnyStorageZone, "bunny-storage-zone", "", "Name of the storage zone to expose as a bucket (required)")
		f.StringVar(&Flags.BunnyAccessKey, "bunny-access-key", "", "Storage zone password used against the storage API (required)")
		f.StringVar(&Flags.BunnyRegion, "bunny-region", "de", "Region code of the storage zone (de, uk, ny, la, sg, se, br, jh, syd)")
	})

	fs.AddGroup("S3 authentication options", func(f *flag.FlagSet) {
		f.StringVar(&Flags.S3AccessKeyID, "s3-access-key-id", "bunny", "Access key id S3 clients must sign with")
		f.StringVar(&Flags.S3SecretAccessKey, "s3-secret-access-key", "bunny", "Secret access key S3 clients must sign with")
	})

	fs.AddGroup("Conditional write options", func(f *flag.FlagSet) {
		f.StringVar(&Flags.RedisURL, "redis-url", "", "Redis URL for conditional write locks shared between proxy instances. If empty, locks are process-local.")
		f.Int64Var(&Flags.RedisLockTTLMs, "redis-lock-ttl-ms", 30000, "Expiry of a conditional write lock in milliseconds")
	})

	fs.AddGroup("Observability options", func(f *flag.FlagSet) {
		f.StringVar(&Flags.MetricsAddr, "metrics-addr", "", "If set, expose Prometheus metrics on this address under /metrics")
		f.StringVar(&Flags.LogLevel, "log-level", "info", "Log level (trace, debug, info, warn, error)")
		f.StringVar(&Flags.LogFormat, "log-format", "text", "Log format (text or json)")
	})

	fs.AddGroup("Other options", func(f *flag.FlagSet) {
		f.BoolVar(&Flags.ShowVersion, "version", false, "Print the version information")
	})

	fs.Parse()
}
