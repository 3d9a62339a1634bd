package mimic

import (
	"bytes"
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"time"

	utls "github.com/refraction-networking/utls"
)

// certURLs serve the CA certificate instead of being proxied.
var certURLs = []string{"http://mimic.cert/", "http://mimic.cert"}

// mimicRoundTripper serves the CA certificate on mimic.cert and bounds every other
// exchange by timeout, answering 504 when the upstream does not respond in time.
type mimicRoundTripper struct {
	cert    *x509.Certificate
	base    http.RoundTripper
	timeout time.Duration
	logger  *slog.Logger
}

// newMimicTransport creates the upstream round tripper. TLS connections are dialed with
// utls using a Chrome hello restricted to http/1.1.
func newMimicTransport(cert *x509.Certificate, timeout time.Duration, logger *slog.Logger) http.RoundTripper {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	transport := &http.Transport{
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
	}
	transport.DialTLSContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		tcpConn, err := (&net.Dialer{}).DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		sniHost, _, err := net.SplitHostPort(addr)
		if err != nil {
			sniHost = addr
		}

		uTlsConfig := &utls.Config{
			ServerName: sniHost,
		}
		if transport.TLSClientConfig != nil {
			uTlsConfig.InsecureSkipVerify = transport.TLSClientConfig.InsecureSkipVerify
		}

		uConn := utls.UClient(tcpConn, uTlsConfig, utls.HelloChrome_Auto)
		if err := uConn.BuildHandshakeState(); err != nil {
			tcpConn.Close()
			return nil, fmt.Errorf("building handshake state : %w", err)
		}

		// HelloChrome_Auto ignores NextProtos and offers h2, the ALPN extension is
		// rewritten to http/1.1 before the handshake.
		foundALPN := false
		for _, ext := range uConn.Extensions {
			if alpnExt, ok := ext.(*utls.ALPNExtension); ok {
				alpnExt.AlpnProtocols = []string{"http/1.1"}
				foundALPN = true
				break
			}
		}
		if !foundALPN {
			tcpConn.Close()
			return nil, errors.New("could not find ALPNExtension")
		}

		if err := uConn.HandshakeContext(ctx); err != nil {
			tcpConn.Close()
			return nil, err
		}
		return uConn, nil
	}

	return &mimicRoundTripper{
		cert:    cert,
		base:    transport,
		timeout: timeout,
		logger:  logger,
	}
}

// RoundTrip satisfies http.RoundTripper.
func (m *mimicRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if slices.Contains(certURLs, req.URL.String()) && m.cert != nil {
		return certificateResponse(req, m.cert), nil
	}

	// An absent User-Agent must not become Go's default one upstream.
	if _, ok := req.Header["User-Agent"]; !ok {
		req.Header.Set("User-Agent", "")
	}

	if m.timeout <= 0 {
		return m.base.RoundTrip(req)
	}

	ctx, cancel := context.WithTimeout(req.Context(), m.timeout)
	res, err := m.base.RoundTrip(req.WithContext(ctx))
	if err != nil {
		timedOut := errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)
		cancel()
		if timedOut {
			m.logger.Warn("upstream timed out", "url", req.URL.String(), "timeout", m.timeout)
			return gatewayTimeoutResponse(req), nil
		}
		return nil, err
	}
	res.Body = &cancelOnClose{ReadCloser: res.Body, cancel: cancel}
	return res, nil
}

// cancelOnClose releases the timeout context once the body is consumed.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

func certificateResponse(req *http.Request, cert *x509.Certificate) *http.Response {
	body := cert.Raw
	resp := &http.Response{
		Status:        "200 OK",
		StatusCode:    http.StatusOK,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Request:       req,
		Header:        make(http.Header),
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
	}
	resp.Header.Set("Content-Type", "application/x-x509-ca-cert")
	resp.Header.Set("Content-Disposition", "attachment; filename=\"mimic-cert.der\"")
	return resp
}

func gatewayTimeoutResponse(req *http.Request) *http.Response {
	body := []byte(http.StatusText(http.StatusGatewayTimeout))
	resp := &http.Response{
		Status:        "504 Gateway Timeout",
		StatusCode:    http.StatusGatewayTimeout,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Request:       req,
		Header:        make(http.Header),
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
	}
	resp.Header.Set("Content-Type", "text/plain; charset=utf-8")
	return resp
}
