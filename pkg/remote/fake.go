package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Fake is a scripted in-memory Session used by tests to simulate both hosts
// deterministically, including partial streams and command failures. Command
// results are matched by substring so tests script on the stable part of a
// command line instead of the full rendered string.
type Fake struct {
	Name string

	// Results maps a command substring to the scripted result. The longest
	// matching key wins, so a broad key and a more specific one can coexist;
	// unmatched commands succeed with empty output.
	Results map[string]CommandResult

	// Files backs ReadFile.
	Files map[string][]byte

	// Inbound scripts the next OpenInboundStream.
	Inbound FakeStream
	// Outbound scripts the next OpenOutboundStream.
	Outbound FakeStream

	mu         sync.Mutex
	commands   []string
	received   bytes.Buffer
	closeCount int
}

// FakeStream scripts one stream's behavior.
type FakeStream struct {
	// Payload is the bytes an inbound stream produces.
	Payload []byte
	// Exit is the exit code reported by Wait.
	Exit int
	// FailAfter injects Err after this many bytes have moved. Zero with a
	// non-nil Err fails on the first chunk.
	FailAfter int
	Err       error
	// StderrText is returned by the stream's Stderr.
	StderrText string
}

func (f *Fake) Run(ctx context.Context, command string) (*CommandResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.commands = append(f.commands, command)
	f.mu.Unlock()

	best, found := "", false
	for substr := range f.Results {
		if !strings.Contains(command, substr) {
			continue
		}
		if !found || len(substr) > len(best) || (len(substr) == len(best) && substr < best) {
			best, found = substr, true
		}
	}
	if found {
		r := f.Results[best]
		return &r, nil
	}
	return &CommandResult{}, nil
}

func (f *Fake) OpenInboundStream(ctx context.Context, command string) (InboundStream, error) {
	f.mu.Lock()
	f.commands = append(f.commands, command)
	f.mu.Unlock()
	return &fakeInbound{cfg: f.Inbound}, nil
}

func (f *Fake) OpenOutboundStream(ctx context.Context, command string) (OutboundStream, error) {
	f.mu.Lock()
	f.commands = append(f.commands, command)
	f.mu.Unlock()
	return &fakeOutbound{cfg: f.Outbound, sink: f}, nil
}

func (f *Fake) ReadFile(path string) ([]byte, error) {
	if data, ok := f.Files[path]; ok {
		return data, nil
	}
	return nil, fmt.Errorf("file does not exist: %s", path)
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCount++
	return nil
}

// Commands returns every command issued so far, in order.
func (f *Fake) Commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

// CommandRun reports whether any issued command contains the substring.
func (f *Fake) CommandRun(substr string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.commands {
		if strings.Contains(c, substr) {
			return true
		}
	}
	return false
}

// Received returns the bytes written to outbound streams.
func (f *Fake) Received() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.received.Bytes()...)
}

// CloseCount returns how many times Close was called.
func (f *Fake) CloseCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCount
}

type fakeInbound struct {
	cfg FakeStream
	pos int
}

func (s *fakeInbound) Read(p []byte) (int, error) {
	if s.cfg.Err != nil && s.pos >= s.cfg.FailAfter {
		return 0, s.cfg.Err
	}
	if s.pos >= len(s.cfg.Payload) {
		return 0, io.EOF
	}
	limit := len(s.cfg.Payload)
	if s.cfg.Err != nil && s.cfg.FailAfter < limit {
		limit = s.cfg.FailAfter
	}
	n := copy(p, s.cfg.Payload[s.pos:limit])
	s.pos += n
	return n, nil
}

func (s *fakeInbound) Close() error       { return nil }
func (s *fakeInbound) Wait() (int, error) { return s.cfg.Exit, nil }
func (s *fakeInbound) Stderr() string     { return s.cfg.StderrText }

type fakeOutbound struct {
	cfg     FakeStream
	sink    *Fake
	written int
	closed  bool
}

func (s *fakeOutbound) Write(p []byte) (int, error) {
	if s.cfg.Err != nil && s.written+len(p) > s.cfg.FailAfter {
		return 0, s.cfg.Err
	}
	s.sink.mu.Lock()
	s.sink.received.Write(p)
	s.sink.mu.Unlock()
	s.written += len(p)
	return len(p), nil
}

func (s *fakeOutbound) Close() error {
	s.closed = true
	return nil
}

func (s *fakeOutbound) Wait() (int, error) { return s.cfg.Exit, nil }
func (s *fakeOutbound) Stderr() string     { return s.cfg.StderrText }
