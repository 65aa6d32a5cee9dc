// Package remote provides authenticated command channels to the source and
// target hosts. A Session runs commands, binds byte streams to a remote
// command's stdin or stdout, and reads remote files. The engine depends only
// on the Session interface; the SSH implementation lives in ssh.go and a
// scripted fake for tests in fake.go.
package remote

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
)

// Endpoint identifies one host to connect to.
type Endpoint struct {
	Host string
	Port int
	User string
}

// Addr returns the host:port dial address, defaulting the port to 22.
func (e Endpoint) Addr() string {
	port := e.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(e.Host, strconv.Itoa(port))
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s@%s", e.User, e.Addr())
}

// Auth carries the credential material for one endpoint. A non-empty KeyPath
// selects private-key authentication, otherwise Password is used.
type Auth struct {
	Password string
	KeyPath  string
}

// CommandResult is the synchronous outcome of one remote command. A non-zero
// exit code is not an error at this layer; callers interpret it.
type CommandResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// ConnectionError reports a failure to establish or maintain a session.
// It is fatal to the session attempting it.
type ConnectionError struct {
	Endpoint Endpoint
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s failed: %v", e.Endpoint, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// InboundStream is a lazy, finite, non-restartable byte sequence bound to a
// remote command's stdout. It ends when the remote process exits or the
// connection drops. Wait collects the command's exit code after the stream
// has been drained.
type InboundStream interface {
	io.ReadCloser
	Wait() (int, error)
	Stderr() string
}

// OutboundStream is a byte sink bound to a remote command's stdin. Closing
// the stream ends the remote command's input; Wait then collects its exit
// code.
type OutboundStream interface {
	io.WriteCloser
	Wait() (int, error)
	Stderr() string
}

// Session is one authenticated channel to one host. Implementations do not
// retry internally; retry policy belongs to callers. Close is idempotent and
// must be called on every exit path.
type Session interface {
	Run(ctx context.Context, command string) (*CommandResult, error)
	OpenInboundStream(ctx context.Context, command string) (InboundStream, error)
	OpenOutboundStream(ctx context.Context, command string) (OutboundStream, error)
	ReadFile(path string) ([]byte, error)
	Close() error
}
