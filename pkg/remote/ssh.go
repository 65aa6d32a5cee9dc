package remote

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/wpshift/wpshift/pkg/errors"
)

// stderrLimit bounds the stderr excerpt captured per command so a chatty
// remote process cannot grow log entries without bound.
const stderrLimit = 8 * 1024

// SSHSession is the SSH-backed Session implementation.
type SSHSession struct {
	endpoint Endpoint
	client   *ssh.Client

	sftpOnce sync.Once
	sftpC    *sftp.Client
	sftpErr  error

	closeOnce sync.Once
	closeErr  error
}

// Dial establishes an authenticated SSH channel to the endpoint. All dial,
// handshake, and authentication failures come back as *ConnectionError.
func Dial(ctx context.Context, endpoint Endpoint, auth Auth, timeout time.Duration) (*SSHSession, error) {
	cfg, err := clientConfig(endpoint, auth, timeout)
	if err != nil {
		return nil, &ConnectionError{Endpoint: endpoint, Err: err}
	}

	slog.Info("ssh_dial", "endpoint", endpoint.String())

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", endpoint.Addr())
	if err != nil {
		slog.Error("ssh_dial_failed", "endpoint", endpoint.String(), "error", err)
		return nil, &ConnectionError{Endpoint: endpoint, Err: err}
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, endpoint.Addr(), cfg)
	if err != nil {
		conn.Close()
		slog.Error("ssh_handshake_failed", "endpoint", endpoint.String(), "error", err)
		return nil, &ConnectionError{Endpoint: endpoint, Err: err}
	}

	slog.Info("ssh_connected", "endpoint", endpoint.String())

	return &SSHSession{
		endpoint: endpoint,
		client:   ssh.NewClient(sshConn, chans, reqs),
	}, nil
}

// clientConfig builds the ssh.ClientConfig for the given auth material.
// Host keys are not verified: the orchestrator connects to operator-supplied
// hosts over networks it already distrusts, matching the original tooling.
func clientConfig(endpoint Endpoint, auth Auth, timeout time.Duration) (*ssh.ClientConfig, error) {
	var methods []ssh.AuthMethod

	if auth.KeyPath != "" {
		keyBytes, err := os.ReadFile(auth.KeyPath)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read private key")
		}
		signer, err := ssh.ParsePrivateKey(keyBytes)
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse private key")
		}
		methods = append(methods, ssh.PublicKeys(signer))
	} else {
		methods = append(methods, ssh.Password(auth.Password))
	}

	return &ssh.ClientConfig{
		User:            endpoint.User,
		Auth:            methods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}, nil
}

// Run executes a command synchronously and captures its exit status and
// output. The command is aborted if ctx is cancelled.
func (s *SSHSession) Run(ctx context.Context, command string) (*CommandResult, error) {
	sess, err := s.client.NewSession()
	if err != nil {
		return nil, &ConnectionError{Endpoint: s.endpoint, Err: err}
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	done := make(chan error, 1)
	if err := sess.Start(command); err != nil {
		return nil, &ConnectionError{Endpoint: s.endpoint, Err: err}
	}
	go func() { done <- sess.Wait() }()

	select {
	case <-ctx.Done():
		sess.Close()
		<-done
		return nil, ctx.Err()
	case err = <-done:
	}

	result := &CommandResult{
		Stdout: stdout.String(),
		Stderr: clip(stderr.String()),
	}
	if err != nil {
		exitErr, ok := err.(*ssh.ExitError)
		if !ok {
			return nil, &ConnectionError{Endpoint: s.endpoint, Err: err}
		}
		result.ExitCode = exitErr.ExitStatus()
	}
	return result, nil
}

// OpenInboundStream starts the command and binds a reader to its stdout.
func (s *SSHSession) OpenInboundStream(ctx context.Context, command string) (InboundStream, error) {
	sess, err := s.client.NewSession()
	if err != nil {
		return nil, &ConnectionError{Endpoint: s.endpoint, Err: err}
	}

	stdout, err := sess.StdoutPipe()
	if err != nil {
		sess.Close()
		return nil, &ConnectionError{Endpoint: s.endpoint, Err: err}
	}

	st := &sshStream{endpoint: s.endpoint, sess: sess, done: make(chan struct{})}
	sess.Stderr = &st.stderr

	if err := sess.Start(command); err != nil {
		sess.Close()
		return nil, &ConnectionError{Endpoint: s.endpoint, Err: err}
	}
	st.reader = stdout

	go st.watchContext(ctx)
	return st, nil
}

// OpenOutboundStream starts the command and binds a writer to its stdin.
// Closing the returned stream ends the remote command's input.
func (s *SSHSession) OpenOutboundStream(ctx context.Context, command string) (OutboundStream, error) {
	sess, err := s.client.NewSession()
	if err != nil {
		return nil, &ConnectionError{Endpoint: s.endpoint, Err: err}
	}

	stdin, err := sess.StdinPipe()
	if err != nil {
		sess.Close()
		return nil, &ConnectionError{Endpoint: s.endpoint, Err: err}
	}

	st := &sshStream{endpoint: s.endpoint, sess: sess, writer: stdin, done: make(chan struct{})}
	sess.Stderr = &st.stderr

	if err := sess.Start(command); err != nil {
		sess.Close()
		return nil, &ConnectionError{Endpoint: s.endpoint, Err: err}
	}

	go st.watchContext(ctx)
	return st, nil
}

// ReadFile reads a remote file over SFTP.
func (s *SSHSession) ReadFile(path string) ([]byte, error) {
	s.sftpOnce.Do(func() {
		s.sftpC, s.sftpErr = sftp.NewClient(s.client)
	})
	if s.sftpErr != nil {
		return nil, &ConnectionError{Endpoint: s.endpoint, Err: s.sftpErr}
	}

	f, err := s.sftpC.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open remote file")
	}
	defer f.Close()

	return io.ReadAll(f)
}

// Close releases the channel. Safe to call multiple times.
func (s *SSHSession) Close() error {
	s.closeOnce.Do(func() {
		slog.Info("ssh_close", "endpoint", s.endpoint.String())
		if s.sftpC != nil {
			s.sftpC.Close()
		}
		s.closeErr = s.client.Close()
	})
	return s.closeErr
}

// sshStream adapts one ssh.Session running a started command to the
// InboundStream/OutboundStream contracts.
type sshStream struct {
	endpoint Endpoint
	sess     *ssh.Session
	reader   io.Reader
	writer   io.WriteCloser
	stderr   bytes.Buffer

	waitOnce sync.Once
	exitCode int
	waitErr  error
	done     chan struct{}
}

// watchContext tears the session down if the context ends before the stream
// has been fully collected, aborting the remote command.
func (st *sshStream) watchContext(ctx context.Context) {
	select {
	case <-ctx.Done():
		st.sess.Close()
	case <-st.done:
	}
}

func (st *sshStream) Read(p []byte) (int, error) {
	return st.reader.Read(p)
}

func (st *sshStream) Write(p []byte) (int, error) {
	return st.writer.Write(p)
}

// Close ends the stream. For outbound streams this closes the remote
// command's stdin, signalling end-of-input. For inbound streams it tears the
// session down: once the consumer stops reading, a command still producing
// output would fill the receive window and never exit, leaving a later Wait
// blocked forever.
func (st *sshStream) Close() error {
	if st.writer != nil {
		return st.writer.Close()
	}
	return st.sess.Close()
}

// Wait collects the remote command's exit code. A non-zero exit is reported
// in the code, not the error; the error is reserved for connection-level
// failures.
func (st *sshStream) Wait() (int, error) {
	st.waitOnce.Do(func() {
		err := st.sess.Wait()
		close(st.done)
		st.sess.Close()
		if err != nil {
			if exitErr, ok := err.(*ssh.ExitError); ok {
				st.exitCode = exitErr.ExitStatus()
			} else {
				st.waitErr = &ConnectionError{Endpoint: st.endpoint, Err: err}
			}
		}
	})
	return st.exitCode, st.waitErr
}

func (st *sshStream) Stderr() string {
	return clip(st.stderr.String())
}

func clip(s string) string {
	if len(s) > stderrLimit {
		return s[:stderrLimit]
	}
	return s
}
