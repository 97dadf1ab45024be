package commandsocket

import (
	"bytes"
	"context"
	"encoding/binary"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWriteFrameAndReadStdinFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := writeOneFrame(&buf, opStdin, []byte("help")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	line, err := readStdinFrame(&buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if line != "help" {
		t.Fatalf("expected %q, got %q", "help", line)
	}
}

func TestReadStdinFrame_RejectsWrongOpcode(t *testing.T) {
	var buf bytes.Buffer
	if err := writeOneFrame(&buf, opStdout, []byte("oops")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := readStdinFrame(&buf); err == nil {
		t.Fatal("expected an error for a non-stdin opcode")
	}
}

func TestServer_ServesOneCommandOverUnixSocket(t *testing.T) {
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "enforcerd.sock")

	db := &fakeDB{tx: newFakeTx()}
	d := NewDispatcher(db, &fakeEnqueuer{}, fakeClock{now: 1}, nil)
	srv := NewServer(sockPath, d, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	var conn net.Conn
	var err error
	for time.Now().Before(deadline) {
		conn, err = net.Dial("unix", sockPath)
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("failed to dial command socket: %v", err)
	}
	defer conn.Close()

	if err := writeOneFrame(conn, opStdin, []byte("help")); err != nil {
		t.Fatalf("failed to send command: %v", err)
	}

	header := make([]byte, 3)
	if _, err := readFull(conn, header); err != nil {
		t.Fatalf("failed to read reply header: %v", err)
	}
	if header[0] != opStdout {
		t.Fatalf("expected an opStdout reply, got opcode 0x%02x", header[0])
	}
	length := binary.BigEndian.Uint16(header[1:3])
	payload := make([]byte, length)
	if _, err := readFull(conn, payload); err != nil {
		t.Fatalf("failed to read reply payload: %v", err)
	}
	if len(payload) == 0 {
		t.Fatal("expected non-empty help output")
	}

	exitHeader := make([]byte, 3)
	if _, err := readFull(conn, exitHeader); err != nil {
		t.Fatalf("failed to read exit frame header: %v", err)
	}
	if exitHeader[0] != opExit {
		t.Fatalf("expected an opExit frame, got opcode 0x%02x", exitHeader[0])
	}

	cancel()
	if err := <-serveErr; err != nil {
		t.Fatalf("Serve returned an error after cancellation: %v", err)
	}
	if _, err := os.Stat(sockPath); err == nil {
		t.Log("socket file left behind after shutdown; acceptable, cleaned up on next start")
	}
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
