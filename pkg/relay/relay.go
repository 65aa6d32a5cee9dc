// Package relay implements the two-hop streaming mover used by both data
// migration steps. A source-side command produces the payload on its stdout,
// the orchestrator pumps it chunk by chunk into a target-side command's
// stdin, and both exit codes are collected once the stream ends. The payload
// is never buffered in full and never staged on local disk.
package relay

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"

	"github.com/wpshift/wpshift/pkg/remote"
)

// DefaultChunkSize is the pump buffer size. The loop cannot read chunk N+1
// before chunk N has been written, so this also bounds memory and provides
// implicit backpressure.
const DefaultChunkSize = 64 * 1024

// Outcome classifies one pipeline invocation.
type Outcome string

const (
	OutcomeSuccess      Outcome = "success"
	OutcomeSourceFailed Outcome = "source_failed"
	OutcomeTargetFailed Outcome = "target_failed"
	OutcomeAborted      Outcome = "aborted"
)

// Spec configures one pipeline invocation.
type Spec struct {
	// Name labels the transfer in logs (e.g. "database", "filesystem").
	Name string
	// SourceCommand's stdout is the payload.
	SourceCommand string
	// TargetCommand's stdin consumes the payload.
	TargetCommand string
	// BytesExpected, when non-zero, is verified against the relayed byte
	// count; a mismatch is Aborted even if both commands exited zero.
	BytesExpected int64
	// ChunkSize overrides DefaultChunkSize when positive.
	ChunkSize int
}

// Transfer is the accounting record of one pipeline invocation. It is scoped
// to the invocation and not reused.
type Transfer struct {
	Name             string
	SourceCommand    string
	TargetCommand    string
	BytesExpected    int64
	BytesTransferred int64
	Checksum         string
	Outcome          Outcome
	SourceExit       int
	TargetExit       int
	SourceStderr     string
	TargetStderr     string
}

// Failed reports whether the transfer ended in any non-success outcome.
func (t *Transfer) Failed() bool {
	return t.Outcome != OutcomeSuccess
}

// Run executes the pipeline: open the source reader, open the target writer,
// pump chunks while accumulating a running sha256 and byte count, close the
// writer to signal end-of-input, then collect both exit codes.
//
// Outcome rules: a non-zero source exit is SourceFailed regardless of bytes
// moved; else a non-zero target exit is TargetFailed; else a byte-count
// mismatch against a known BytesExpected is Aborted (silent truncation is
// never Success); else Success. Any stream error while relaying aborts both
// sides and yields Aborted. The pipeline does not retry and is not resumable;
// a failed relay restarts its source command from the beginning.
//
// The returned error is non-nil only when the transfer did not succeed; the
// Transfer itself always carries the full accounting.
func Run(ctx context.Context, source, target remote.Session, spec Spec) (*Transfer, error) {
	t := &Transfer{
		Name:          spec.Name,
		SourceCommand: spec.SourceCommand,
		TargetCommand: spec.TargetCommand,
		BytesExpected: spec.BytesExpected,
		Outcome:       OutcomeAborted,
	}

	chunkSize := spec.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	slog.Info("relay_start",
		"transfer", spec.Name,
		"bytes_expected", spec.BytesExpected,
		"chunk_size", chunkSize)

	reader, err := source.OpenInboundStream(ctx, spec.SourceCommand)
	if err != nil {
		slog.Error("relay_source_open_failed", "transfer", spec.Name, "error", err)
		return t, &Failure{Transfer: t, Err: err}
	}

	writer, err := target.OpenOutboundStream(ctx, spec.TargetCommand)
	if err != nil {
		reader.Close()
		reader.Wait()
		slog.Error("relay_target_open_failed", "transfer", spec.Name, "error", err)
		return t, &Failure{Transfer: t, Err: err}
	}

	hash := sha256.New()
	buf := make([]byte, chunkSize)

	for {
		n, readErr := reader.Read(buf)
		if n > 0 {
			hash.Write(buf[:n])
			if _, writeErr := writer.Write(buf[:n]); writeErr != nil {
				abortStreams(reader, writer)
				t.Checksum = hex.EncodeToString(hash.Sum(nil))
				slog.Error("relay_write_failed",
					"transfer", spec.Name,
					"bytes_transferred", t.BytesTransferred,
					"error", writeErr)
				return t, &Failure{Transfer: t, Err: writeErr}
			}
			t.BytesTransferred += int64(n)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			abortStreams(reader, writer)
			t.Checksum = hex.EncodeToString(hash.Sum(nil))
			slog.Error("relay_read_failed",
				"transfer", spec.Name,
				"bytes_transferred", t.BytesTransferred,
				"error", readErr)
			return t, &Failure{Transfer: t, Err: readErr}
		}
	}

	t.Checksum = hex.EncodeToString(hash.Sum(nil))

	// End of source payload: closing the writer ends the target command's
	// stdin, then both exit codes are collected synchronously.
	if err := writer.Close(); err != nil {
		reader.Close()
		reader.Wait()
		writer.Wait()
		slog.Error("relay_close_failed", "transfer", spec.Name, "error", err)
		return t, &Failure{Transfer: t, Err: err}
	}

	sourceExit, sourceErr := reader.Wait()
	targetExit, targetErr := writer.Wait()
	t.SourceExit = sourceExit
	t.TargetExit = targetExit
	t.SourceStderr = reader.Stderr()
	t.TargetStderr = writer.Stderr()

	switch {
	case sourceErr != nil:
		return t, &Failure{Transfer: t, Err: sourceErr}
	case targetErr != nil:
		return t, &Failure{Transfer: t, Err: targetErr}
	case sourceExit != 0:
		t.Outcome = OutcomeSourceFailed
	case targetExit != 0:
		t.Outcome = OutcomeTargetFailed
	case spec.BytesExpected > 0 && t.BytesTransferred != spec.BytesExpected:
		t.Outcome = OutcomeAborted
	default:
		t.Outcome = OutcomeSuccess
	}

	slog.Info("relay_done",
		"transfer", spec.Name,
		"outcome", string(t.Outcome),
		"bytes_transferred", t.BytesTransferred,
		"checksum", t.Checksum,
		"source_exit", sourceExit,
		"target_exit", targetExit)

	if t.Failed() {
		return t, &Failure{Transfer: t}
	}
	return t, nil
}

// abortStreams tears both streams down after a mid-relay error. Exit codes
// are still collected so the failure can be diagnosed from the log.
func abortStreams(reader remote.InboundStream, writer remote.OutboundStream) {
	reader.Close()
	writer.Close()
	reader.Wait()
	writer.Wait()
}
