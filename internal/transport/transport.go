// Package transport implements C5: the per-instance socket, walking
// every address a host resolves to (rather than trusting the stdlib
// resolver's single opaque choice), optional TLS, and a restart hint
// that lets the daemon exec() itself and reattach to an already-open
// connection instead of dropping and reconnecting every instance on a
// config or binary reload.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"os"
	"strconv"
	"syscall"
	"time"

	"github.com/miekg/dns"
)

// Conn is one instance's live socket, plain or TLS.
type Conn struct {
	net.Conn
	host string
	port int
}

// Resolve walks every A and AAAA record for host using an explicit
// miekg/dns query against resolver (e.g. "127.0.0.53:53"), rather than
// asking the platform resolver for "the" address, matching spec 4.1's
// requirement to walk every DNS result when trying to connect.
func Resolve(ctx context.Context, resolver, host string) ([]string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []string{host}, nil
	}

	var addrs []string
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		m := new(dns.Msg)
		m.SetQuestion(dns.Fqdn(host), qtype)

		c := new(dns.Client)
		c.Timeout = 5 * time.Second

		in, _, err := c.ExchangeContext(ctx, m, resolver)
		if err != nil {
			continue
		}
		for _, rr := range in.Answer {
			switch rec := rr.(type) {
			case *dns.A:
				addrs = append(addrs, rec.A.String())
			case *dns.AAAA:
				addrs = append(addrs, rec.AAAA.String())
			}
		}
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("transport: no addresses for %s", host)
	}
	return addrs, nil
}

// Dial connects to host:port, trying every resolved address in order
// and returning the first successful connection. useTLS wraps the
// connection with crypto/tls, verified against the system root pool
// unless a caCertPath is given.
func Dial(ctx context.Context, resolver, host string, port int, useTLS bool, caCertPath string) (*Conn, error) {
	addrs, err := Resolve(ctx, resolver, host)
	if err != nil {
		return nil, err
	}

	var lastErr error
	dialer := net.Dialer{Timeout: 15 * time.Second}
	for _, addr := range addrs {
		target := net.JoinHostPort(addr, strconv.Itoa(port))
		raw, err := dialer.DialContext(ctx, "tcp", target)
		if err != nil {
			lastErr = err
			continue
		}

		if !useTLS {
			return &Conn{Conn: raw, host: host, port: port}, nil
		}

		cfg, err := tlsConfig(host, caCertPath)
		if err != nil {
			raw.Close()
			return nil, err
		}
		tlsConn := tls.Client(raw, cfg)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			raw.Close()
			lastErr = err
			continue
		}
		return &Conn{Conn: tlsConn, host: host, port: port}, nil
	}
	return nil, fmt.Errorf("transport: all addresses for %s failed, last error: %w", host, lastErr)
}

func tlsConfig(serverName, caCertPath string) (*tls.Config, error) {
	cfg := &tls.Config{ServerName: serverName, MinVersion: tls.VersionTLS12}
	if caCertPath == "" {
		return cfg, nil
	}
	pool, err := loadCertPool(caCertPath)
	if err != nil {
		return nil, err
	}
	cfg.RootCAs = pool
	return cfg, nil
}

// RestartHint captures what is needed to reattach to a live connection
// across an exec() restart: the fd number it will be inherited on, plus
// enough addressing information to rebuild a *Conn wrapper around it.
type RestartHint struct {
	FD   int
	Host string
	Port int
}

// CaptureForRestart duplicates c's underlying file descriptor. The
// duplicate still has close-on-exec set; clearing it so the fd survives
// exec() is left to the caller. It returns a hint
// the next process generation can pass itself (e.g. via an environment
// variable) to call Reattach.
func CaptureForRestart(c *Conn) (*RestartHint, *os.File, error) {
	sc, ok := c.Conn.(syscallConn)
	if !ok {
		return nil, nil, fmt.Errorf("transport: connection does not expose a raw fd")
	}
	f, err := sc.File()
	if err != nil {
		return nil, nil, fmt.Errorf("transport: capture fd: %w", err)
	}
	return &RestartHint{FD: int(f.Fd()), Host: c.host, Port: c.port}, f, nil
}

// Reattach rebuilds a Conn around a file descriptor inherited from a
// prior process generation, per spec 4.1's "recreate() can reattach to
// that fd" restart semantics.
func Reattach(hint *RestartHint, f *os.File) (*Conn, error) {
	nc, err := net.FileConn(f)
	if err != nil {
		return nil, fmt.Errorf("transport: reattach: %w", err)
	}
	return &Conn{Conn: nc, host: hint.Host, port: hint.Port}, nil
}

type syscallConn interface {
	File() (*os.File, error)
}

// Fd returns the connection's raw file descriptor for use with
// unix.Poll; it does not dup or take ownership, so closing it is the
// caller's responsibility only insofar as they own c itself.
func (c *Conn) Fd() (int, error) {
	sc, ok := c.Conn.(syscall.Conn)
	if !ok {
		return -1, fmt.Errorf("transport: connection does not support SyscallConn")
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return -1, err
	}
	var fd int
	err = raw.Control(func(ptr uintptr) {
		fd = int(ptr)
	})
	if err != nil {
		return -1, err
	}
	return fd, nil
}
