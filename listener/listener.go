// Package listener accepts plain HTTP and direct TLS clients on the same proxy port.
package listener

import (
	"bufio"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"
)

// DefaultSniffTimeout bounds both the first-bytes peek and the TLS handshake.
const DefaultSniffTimeout = 10 * time.Second

// peekedConn replays the bytes consumed while sniffing before reading from the socket.
type peekedConn struct {
	net.Conn
	r io.Reader
}

func (c *peekedConn) Read(b []byte) (int, error) {
	return c.r.Read(b)
}

// ProtocolMuxListener terminates TLS for connections that open with a TLS record
// and hands every other connection through untouched.
type ProtocolMuxListener struct {
	net.Listener
	TLSConfig    *tls.Config
	SniffTimeout time.Duration
}

func NewProtocolMuxListener(l net.Listener, tlsConfig *tls.Config) *ProtocolMuxListener {
	return &ProtocolMuxListener{
		Listener:     l,
		TLSConfig:    tlsConfig,
		SniffTimeout: DefaultSniffTimeout,
	}
}

// isTLSRecord reports whether header starts a TLS handshake record (0x16 0x03).
func isTLSRecord(header []byte) bool {
	return len(header) >= 2 && header[0] == 0x16 && header[1] == 0x03
}

func (l *ProtocolMuxListener) Accept() (net.Conn, error) {
	raw, err := l.Listener.Accept()
	if err != nil {
		return nil, fmt.Errorf("accepting connection : %w", err)
	}

	reader := bufio.NewReader(raw)
	header, err := l.sniff(raw, reader)
	if err != nil {
		raw.Close()
		return nil, err
	}

	conn := &peekedConn{Conn: raw, r: reader}
	if !isTLSRecord(header) || l.TLSConfig == nil {
		return conn, nil
	}

	tlsConn := tls.Server(conn, l.TLSConfig)
	if err := raw.SetReadDeadline(time.Now().Add(l.timeout())); err != nil {
		tlsConn.Close()
		return nil, fmt.Errorf("setting handshake deadline : %w", err)
	}
	if err := tlsConn.Handshake(); err != nil {
		tlsConn.Close()
		return nil, fmt.Errorf("tls handshake : %w", err)
	}
	if err := raw.SetReadDeadline(time.Time{}); err != nil {
		tlsConn.Close()
		return nil, fmt.Errorf("clearing handshake deadline : %w", err)
	}
	return tlsConn, nil
}

// sniff peeks at up to five bytes under the sniff timeout. Short reads are fine as long
// as something arrived.
func (l *ProtocolMuxListener) sniff(raw net.Conn, reader *bufio.Reader) ([]byte, error) {
	if err := raw.SetReadDeadline(time.Now().Add(l.timeout())); err != nil {
		return nil, fmt.Errorf("setting sniff deadline : %w", err)
	}
	header, peekErr := reader.Peek(5)
	if err := raw.SetReadDeadline(time.Time{}); err != nil {
		return nil, fmt.Errorf("clearing sniff deadline : %w", err)
	}
	if peekErr != nil && len(header) == 0 {
		return nil, fmt.Errorf("sniffing protocol : %w", peekErr)
	}
	return header, nil
}

func (l *ProtocolMuxListener) timeout() time.Duration {
	if l.SniffTimeout <= 0 {
		return DefaultSniffTimeout
	}
	return l.SniffTimeout
}

// ResilientListener keeps accepting after per-connection failures such as a bad
// handshake. Only a closed listener ends the accept loop.
type ResilientListener struct {
	net.Listener
	Logger *slog.Logger
}

func NewResilientListener(l net.Listener, logger *slog.Logger) *ResilientListener {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ResilientListener{Listener: l, Logger: logger}
}

func (l *ResilientListener) Accept() (net.Conn, error) {
	for {
		conn, err := l.Listener.Accept()
		if err == nil {
			return conn, nil
		}
		if errors.Is(err, net.ErrClosed) {
			return nil, err
		}
		l.Logger.Warn("connection rejected", "error", err)
	}
}
