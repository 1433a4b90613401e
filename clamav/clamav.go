package clamav

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"filewarden/logger"
)

// Scanner talks to a clamd daemon over its line protocol. Transport
// negotiation happens once at construction: the unix socket is probed first,
// the TCP endpoint is the fallback. The chosen transport is cached for the
// scanner's lifetime.
type Scanner struct {
	network     string
	address     string
	available   bool
	scanTimeout time.Duration
}

type Options struct {
	SocketPath   string
	Host         string
	Port         int
	ProbeTimeout time.Duration
	ScanTimeout  time.Duration
}

// New probes both transports and returns a Scanner bound to the first one
// that answers PING. An unreachable daemon yields a Scanner whose Probe
// reports false; callers skip the local stage rather than fail.
func New(opts Options) *Scanner {
	s := &Scanner{scanTimeout: opts.ScanTimeout}

	candidates := []struct {
		network string
		address string
	}{
		{"unix", opts.SocketPath},
		{"tcp", fmt.Sprintf("%s:%d", opts.Host, opts.Port)},
	}
	for _, candidate := range candidates {
		if candidate.address == "" || candidate.address == ":0" {
			continue
		}
		if ping(candidate.network, candidate.address, opts.ProbeTimeout) {
			s.network = candidate.network
			s.address = candidate.address
			s.available = true
			logger.Debugf("clamd reachable via %s %s", s.network, s.address)
			return s
		}
	}
	logger.Debug("clamd unreachable on all transports, local signature stage disabled")
	return s
}

// Probe reports the cached liveness result from construction.
func (s *Scanner) Probe() bool {
	return s.available
}

// ScanFile submits a path to clamd and parses the verdict line. The daemon
// must be able to read the path itself; this is the SCAN command, no content
// is streamed.
func (s *Scanner) ScanFile(ctx context.Context, path string) (bool, string, error) {
	if !s.available {
		return false, "", fmt.Errorf("local scanner unavailable")
	}

	dialer := net.Dialer{Timeout: s.scanTimeout}
	conn, err := dialer.DialContext(ctx, s.network, s.address)
	if err != nil {
		return false, "", fmt.Errorf("clamd dial failed: %v", err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(s.scanTimeout))
	}

	if _, err := fmt.Fprintf(conn, "nSCAN %s\n", path); err != nil {
		return false, "", fmt.Errorf("clamd write failed: %v", err)
	}

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return false, "", fmt.Errorf("clamd read failed: %v", err)
	}
	return parseScanLine(strings.TrimSpace(line))
}

// parseScanLine handles the three clamd response shapes:
//
//	/path: OK
//	/path: Eicar-Test-Signature FOUND
//	/path: lstat() failed: ... ERROR
func parseScanLine(line string) (bool, string, error) {
	switch {
	case strings.HasSuffix(line, " OK"):
		return false, "", nil
	case strings.HasSuffix(line, " FOUND"):
		body := strings.TrimSuffix(line, " FOUND")
		if idx := strings.LastIndex(body, ": "); idx >= 0 {
			return true, body[idx+2:], nil
		}
		return true, strings.TrimSpace(body), nil
	case strings.HasSuffix(line, " ERROR"):
		return false, "", fmt.Errorf("clamd error: %s", strings.TrimSuffix(line, " ERROR"))
	default:
		return false, "", fmt.Errorf("unexpected clamd response: %q", line)
	}
}

func ping(network, address string, timeout time.Duration) bool {
	conn, err := net.DialTimeout(network, address, timeout)
	if err != nil {
		return false
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(timeout))

	if _, err := conn.Write([]byte("nPING\n")); err != nil {
		return false
	}
	reply, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return false
	}
	return strings.TrimSpace(reply) == "PONG"
}
