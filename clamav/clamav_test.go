package clamav

import (
	"bufio"
	"context"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"filewarden/logger"
)

// fakeClamd answers the line protocol on a unix socket.
func fakeClamd(t *testing.T, respond func(cmd string) string) string {
	t.Helper()
	socket := filepath.Join(t.TempDir(), "clamd.sock")
	listener, err := net.Listen("unix", socket)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { listener.Close() })

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				line, err := bufio.NewReader(c).ReadString('\n')
				if err != nil {
					return
				}
				c.Write([]byte(respond(strings.TrimSpace(line)) + "\n"))
			}(conn)
		}
	}()
	return socket
}

func testOptions(socket string) Options {
	return Options{
		SocketPath:   socket,
		Host:         "127.0.0.1",
		Port:         1, // nothing listens here
		ProbeTimeout: time.Second,
		ScanTimeout:  2 * time.Second,
	}
}

func TestProbeCachedAtConstruction(t *testing.T) {
	logger.Init("info")
	socket := fakeClamd(t, func(cmd string) string {
		if cmd == "nPING" {
			return "PONG"
		}
		return "unexpected"
	})

	s := New(testOptions(socket))
	if !s.Probe() {
		t.Fatal("scanner should be available after successful ping")
	}
}

func TestProbeUnreachable(t *testing.T) {
	logger.Init("info")
	s := New(Options{
		SocketPath:   "/nonexistent/clamd.sock",
		Host:         "127.0.0.1",
		Port:         1,
		ProbeTimeout: 200 * time.Millisecond,
		ScanTimeout:  time.Second,
	})
	if s.Probe() {
		t.Fatal("scanner should be unavailable when nothing listens")
	}
	if _, _, err := s.ScanFile(context.Background(), "/tmp/x"); err == nil {
		t.Error("ScanFile must error when unavailable")
	}
}

func TestScanFileFound(t *testing.T) {
	logger.Init("info")
	socket := fakeClamd(t, func(cmd string) string {
		if cmd == "nPING" {
			return "PONG"
		}
		if strings.HasPrefix(cmd, "nSCAN ") {
			return strings.TrimPrefix(cmd, "nSCAN ") + ": Eicar-Test-Signature FOUND"
		}
		return "unexpected"
	})

	s := New(testOptions(socket))
	found, label, err := s.ScanFile(context.Background(), "/tmp/eicar.txt")
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if !found || label != "Eicar-Test-Signature" {
		t.Errorf("unexpected verdict: found=%t label=%q", found, label)
	}
}

func TestScanFileClean(t *testing.T) {
	logger.Init("info")
	socket := fakeClamd(t, func(cmd string) string {
		if cmd == "nPING" {
			return "PONG"
		}
		return strings.TrimPrefix(cmd, "nSCAN ") + ": OK"
	})

	s := New(testOptions(socket))
	found, label, err := s.ScanFile(context.Background(), "/tmp/clean.txt")
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if found || label != "" {
		t.Errorf("unexpected verdict: found=%t label=%q", found, label)
	}
}

func TestParseScanLine(t *testing.T) {
	cases := []struct {
		line  string
		found bool
		label string
		err   bool
	}{
		{"/a/b: OK", false, "", false},
		{"/a/b: Win.Test.EICAR FOUND", true, "Win.Test.EICAR", false},
		{"/a/b: lstat() failed ERROR", false, "", true},
		{"garbage", false, "", true},
	}
	for _, tc := range cases {
		found, label, err := parseScanLine(tc.line)
		if found != tc.found || label != tc.label || (err != nil) != tc.err {
			t.Errorf("parseScanLine(%q) = (%t, %q, %v)", tc.line, found, label, err)
		}
	}
}
