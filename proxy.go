// Package mimic is a request-mocking proxy. Traffic routed through it is matched
// against registered URL patterns: matches with content get the canned content back,
// everything else reaches its destination.
//
// TLS interception is done by martian. The mimic request and response modifiers
// run the intercept decision for every request and synthesise the response when
// content is served.
package mimic

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/martian"
	"github.com/google/martian/fifo"
	"github.com/tfkr-ae/mimic/intercept"
	"github.com/tfkr-ae/mimic/listener"
)

const (
	certFile = "mimic_cert.pem" // Certificate File Name
	keyFile  = "mimic_key.pem"  // Private Key File Name
)

// Proxy wires the martian MITM proxy to the intercept decision engine.
type Proxy struct {
	martianProxy   *martian.Proxy    // The underlying martian.Proxy
	ConfigDir      string            // The configuration directory holding config.yaml and the CA
	Config         *Config           // Loaded configuration, nil until WithConfigDir runs
	Engine         *intercept.Engine // Decision engine consulted for every request
	Modifiers      *fifo.Group       // Modifier group pipeline
	Logger         *slog.Logger
	Addr           string        // IP Address of the proxy
	Port           string        // Port of the proxy
	ForwardTimeout time.Duration // Upper bound for one upstream exchange
	SPKIHash       string        // SPKI Hash of the current certificate
	Cert           *x509.Certificate
	TLSConfig      *tls.Config
}

// New creates a new Proxy and applies the options in order.
func New(options ...func(*Proxy) error) (*Proxy, error) {
	proxy := &Proxy{
		martianProxy:   martian.NewProxy(),
		Modifiers:      fifo.NewGroup(),
		Logger:         slog.New(slog.DiscardHandler),
		ForwardTimeout: intercept.DefaultForwardTimeout,
	}
	err := proxy.WithOptions(options...)
	if err != nil {
		return nil, err
	}
	return proxy, nil
}

// AddRequestModifier accepts RequestModifierFunc and wraps it in a reqAdapter
func (proxy *Proxy) AddRequestModifier(modifier RequestModifierFunc) {
	adapter := &reqAdapter{proxy: proxy, modifier: modifier}
	proxy.Modifiers.AddRequestModifier(adapter)
}

// AddResponseModifier accepts ResponseModifierFunc and wraps it in a resAdapter
func (proxy *Proxy) AddResponseModifier(modifier ResponseModifierFunc) {
	adapter := &resAdapter{proxy: proxy, modifier: modifier}
	proxy.Modifiers.AddResponseModifier(adapter)
}

// ModifyRequest runs the request pipeline. ErrSkipPipeline ends the pipeline without being reported to martian.
func (proxy *Proxy) ModifyRequest(req *http.Request) error {
	err := proxy.Modifiers.ModifyRequest(req)
	if err == nil || errors.Is(err, ErrSkipPipeline) {
		return nil
	}
	proxy.Logger.Error("request pipeline", "url", req.URL.String(), "error", err)
	return err
}

// ModifyResponse runs the response pipeline. ErrSkipPipeline ends the pipeline without being reported to martian.
func (proxy *Proxy) ModifyResponse(res *http.Response) error {
	err := proxy.Modifiers.ModifyResponse(res)
	if err == nil || errors.Is(err, ErrSkipPipeline) {
		return nil
	}
	proxy.Logger.Error("response pipeline", "url", res.Request.URL.String(), "error", err)
	return err
}

// GetListener listens on address:port and returns a listener that accepts both plain and TLS clients.
func (proxy *Proxy) GetListener(address string, port string) (net.Listener, error) {
	rawListener, err := net.Listen("tcp", net.JoinHostPort(address, port))
	if err != nil {
		return nil, fmt.Errorf("setting up listener on address:port %s:%s : %w", address, port, err)
	}
	muxListener := listener.NewProtocolMuxListener(rawListener, proxy.TLSConfig)
	resilient := listener.NewResilientListener(muxListener, proxy.Logger)

	proxy.Addr = address
	proxy.Port = port
	if _, actualPort, err := net.SplitHostPort(rawListener.Addr().String()); err == nil {
		proxy.Port = actualPort
	}
	proxy.Logger.Info("proxy listening", "address", proxy.Addr, "port", proxy.Port)
	return resilient, nil
}

// Serve installs the upstream transport and serves proxy connections until the listener closes.
func (proxy *Proxy) Serve(listener net.Listener) error {
	proxy.martianProxy.SetRoundTripper(newMimicTransport(proxy.Cert, proxy.ForwardTimeout, proxy.Logger))
	return proxy.martianProxy.Serve(listener)
}

// Close stops the martian proxy.
func (proxy *Proxy) Close() {
	proxy.martianProxy.Close()
}
