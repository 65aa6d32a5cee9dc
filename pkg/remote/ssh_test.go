package remote

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"io"
	"net"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"
)

// startServer runs a minimal SSH server on a loopback port. Each exec request
// is answered by handler, which writes the command's output to the channel
// and returns its exit status.
func startServer(t *testing.T, handler func(command string, ch ssh.Channel) int) Endpoint {
	t.Helper()

	_, hostKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(hostKey)
	if err != nil {
		t.Fatalf("host key signer: %v", err)
	}

	cfg := &ssh.ServerConfig{
		PasswordCallback: func(ssh.ConnMetadata, []byte) (*ssh.Permissions, error) {
			return nil, nil
		},
	}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveConn(conn, cfg, handler)
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return Endpoint{Host: "127.0.0.1", Port: addr.Port, User: "tester"}
}

func serveConn(conn net.Conn, cfg *ssh.ServerConfig, handler func(string, ssh.Channel) int) {
	sshConn, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		return
	}
	defer sshConn.Close()
	go ssh.DiscardRequests(reqs)

	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			newCh.Reject(ssh.UnknownChannelType, "session channels only")
			continue
		}
		ch, chReqs, err := newCh.Accept()
		if err != nil {
			continue
		}
		go func(ch ssh.Channel, chReqs <-chan *ssh.Request) {
			for req := range chReqs {
				if req.Type != "exec" {
					req.Reply(false, nil)
					continue
				}
				req.Reply(true, nil)
				var payload struct{ Command string }
				ssh.Unmarshal(req.Payload, &payload)
				go func(command string) {
					status := handler(command, ch)
					ch.SendRequest("exit-status", false,
						ssh.Marshal(struct{ Status uint32 }{uint32(status)}))
					ch.Close()
				}(payload.Command)
			}
		}(ch, chReqs)
	}
}

func TestInboundStreamCollectsOutputAndExitStatus(t *testing.T) {
	endpoint := startServer(t, func(command string, ch ssh.Channel) int {
		ch.Write([]byte("payload"))
		ch.Stderr().Write([]byte("warning text"))
		return 3
	})

	sess, err := Dial(context.Background(), endpoint, Auth{Password: "pw"}, 5*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer sess.Close()

	stream, err := sess.OpenInboundStream(context.Background(), "emit")
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}

	data, err := io.ReadAll(stream)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "payload" {
		t.Fatalf("payload = %q", data)
	}

	exit, err := stream.Wait()
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if exit != 3 {
		t.Fatalf("exit = %d, want 3", exit)
	}
	if stream.Stderr() != "warning text" {
		t.Fatalf("stderr = %q", stream.Stderr())
	}
}

// A command that keeps producing after the consumer stops reading must not be
// able to block Wait once the stream has been closed: the window between the
// hosts fills, the command never exits on its own, and only tearing the
// session down unblocks it.
func TestInboundStreamCloseUnblocksWait(t *testing.T) {
	endpoint := startServer(t, func(command string, ch ssh.Channel) int {
		chunk := bytes.Repeat([]byte("d"), 1024)
		for {
			if _, err := ch.Write(chunk); err != nil {
				return 1
			}
		}
	})

	sess, err := Dial(context.Background(), endpoint, Auth{Password: "pw"}, 5*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer sess.Close()

	stream, err := sess.OpenInboundStream(context.Background(), "endless")
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}

	// Consume a little, then stop reading, as the pump does when the target
	// side of a transfer fails mid-stream.
	if _, err := io.ReadFull(stream, make([]byte, 64*1024)); err != nil {
		t.Fatalf("read: %v", err)
	}
	stream.Close()

	waited := make(chan struct{})
	go func() {
		stream.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(5 * time.Second):
		t.Fatal("Wait still blocked 5s after Close; the producing command was never torn down")
	}
}
