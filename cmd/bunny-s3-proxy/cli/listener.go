package cli

import (
	"errors"
	"net"
	"os"
	"time"
)

// Listener wraps a net.Listener, and gives a place to store the timeout
// parameters. On Accept, it will wrap the net.Conn with our own Conn for us.
type Listener struct {
	net.Listener
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func (l *Listener) Accept() (net.Conn, error) {
	c, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}

	MetricsOpenConnections.Inc()

	// Set the timeout when the connection is accepted. They will get
	// updated after successful read and write operations.
	if l.ReadTimeout > 0 {
		err = c.SetReadDeadline(time.Now().Add(l.ReadTimeout))
	} else {
		err = c.SetReadDeadline(time.Time{})
	}
	if err != nil {
		return nil, err
	}

	if l.WriteTimeout > 0 {
		err = c.SetWriteDeadline(time.Now().Add(l.WriteTimeout))
	} else {
		err = c.SetWriteDeadline(time.Time{})
	}
	if err != nil {
		return nil, err
	}

	return &Conn{
		Conn:         c,
		ReadTimeout:  l.ReadTimeout,
		WriteTimeout: l.WriteTimeout,
	}, nil
}

// Conn wraps a net.Conn, and refreshes the deadline after every successful
// read and write operation, so only genuinely idle connections time out.
// Streaming uploads and keep-alive responses stay alive as long as bytes
// flow.
type Conn struct {
	net.Conn
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// closeRecorded will be true if the connection has been closed and the
	// corresponding prometheus gauge has been decremented. It is used to
	// avoid duplicated modifications to this metric.
	closeRecorded bool
}

func (c *Conn) Read(b []byte) (int, error) {
	n, err := c.Conn.Read(b)
	if !isTimeoutError(err) && c.ReadTimeout > 0 {
		err2 := c.Conn.SetReadDeadline(time.Now().Add(c.ReadTimeout))
		if err == nil {
			err = err2
		}
	}

	return n, err
}

func (c *Conn) Write(b []byte) (int, error) {
	n, err := c.Conn.Write(b)
	if !isTimeoutError(err) && c.WriteTimeout > 0 {
		err2 := c.Conn.SetWriteDeadline(time.Now().Add(c.WriteTimeout))
		if err == nil {
			err = err2
		}
	}

	return n, err
}

func (c *Conn) Close() error {
	if !c.closeRecorded {
		c.closeRecorded = true
		MetricsOpenConnections.Dec()
	}

	return c.Conn.Close()
}

func isTimeoutError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// NewTCPListener creates the main S3 listener with idle timeouts.
func NewTCPListener(addr string, readTimeout, writeTimeout time.Duration) (net.Listener, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	return &Listener{
		Listener:     l,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}, nil
}

// NewUnixListener creates a listener on a UNIX socket, replacing any stale
// socket file from a previous run. The socket is world-writable so that
// local clients running under other accounts can connect.
func NewUnixListener(path string) (net.Listener, error) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(path, 0o777); err != nil {
		l.Close()
		return nil, err
	}
	return l, nil
}
