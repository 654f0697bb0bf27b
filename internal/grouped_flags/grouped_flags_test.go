package grouped_flags

import (
	"os"
	"time"

	"github.com/jnovack/flag"
)

func ExampleNewFlagGroupSet() {
	os.Args = []string{"bunny-s3-proxy", "-h"}

	fs := NewFlagGroupSet(flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	var listenAddr string
	var socketPath string
	var lockTTL int64
	var timeout time.Duration

	fs.AddGroup("Listening options", func(f *flag.FlagSet) {
		f.StringVar(&listenAddr, "listen-addr", "127.0.0.1:9000", "TCP address to bind the S3 endpoint to")
		f.StringVar(&socketPath, "socket-path", "", "If set, listen on a UNIX socket at this location instead of TCP")
	})

	fs.AddGroup("Conditional write options", func(f *flag.FlagSet) {
		f.Int64Var(&lockTTL, "redis-lock-ttl-ms", 30000, "Expiry of a conditional write lock in milliseconds")
	})

	fs.AddGroup("Timeout options", func(f *flag.FlagSet) {
		f.DurationVar(&timeout, "network-timeout", 60*time.Second, "Network read timeout for idle connections. A zero value disables the timeout.")
	})

	fs.Parse()

	// Output:
	// Usage of bunny-s3-proxy:
	//
	// Listening options:
	//   -listen-addr string
	//     	TCP address to bind the S3 endpoint to (default "127.0.0.1:9000")
	//   -socket-path string
	//     	If set, listen on a UNIX socket at this location instead of TCP
	//
	// Conditional write options:
	//   -redis-lock-ttl-ms int
	//     	Expiry of a conditional write lock in milliseconds (default 30000)
	//
	// Timeout options:
	//   -network-timeout duration
	//     	Network read timeout for idle connections. A zero value disables the timeout. (default 1m0s)
	//
}
