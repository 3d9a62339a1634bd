package mimic

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/google/martian"
	"github.com/google/uuid"
	"github.com/tfkr-ae/mimic/core"
	"github.com/tfkr-ae/mimic/intercept"
)

var (
	// ErrSkipPipeline is returned to stop the modifier pipeline for a request / response.
	// The request / response will still continue but won't be processed by any future modifiers
	ErrSkipPipeline = errors.New("stop processing item")

	// ErrEngineUndefined is returned when the proxy has no decision engine
	ErrEngineUndefined = errors.New("no decision engine defined")

	// ErrServeContent is returned when the mimicked response could not be synthesised
	ErrServeContent = errors.New("cannot serve mimicked content")
)

// RequestModifierFunc is a signature for HTTP request modifiers, it takes in the request and *Proxy
type RequestModifierFunc func(proxy *Proxy, req *http.Request) error

// ResponseModifierFunc is a signature for HTTP response modifiers, it takes in the response and *Proxy
type ResponseModifierFunc func(proxy *Proxy, res *http.Response) error

// reqAdapter adapts the `RequestModifierFunc` and implements the `martian.RequestModifier` interface.
type reqAdapter struct {
	proxy    *Proxy
	modifier RequestModifierFunc
}

// ModifyRequest implements the `martian.RequestModifier` interface and allows the modifier to access the *Proxy
func (adapter *reqAdapter) ModifyRequest(req *http.Request) error {
	return adapter.modifier(adapter.proxy, req)
}

// resAdapter adapts the `ResponseModifierFunc` and implements the `martian.ResponseModifier` interface.
type resAdapter struct {
	proxy    *Proxy
	modifier ResponseModifierFunc
}

// ModifyResponse implements the `martian.ResponseModifier` interface and allows the modifier to access the *Proxy
func (adapter *resAdapter) ModifyResponse(res *http.Response) error {
	return adapter.modifier(adapter.proxy, res)
}

// skipRoundTrip tells martian not to contact the upstream for req.
func skipRoundTrip(req *http.Request) {
	if ctx := martian.NewContext(req); ctx != nil {
		ctx.SkipRoundTrip()
	}
}

// PreventLoopModifier skips processing a request if it is made to the proxy's own listener, preventing an infinite loop.
// It will normalize localhost & 127.0.0.1 when checking the host and port
func PreventLoopModifier(proxy *Proxy, req *http.Request) error {
	host, port, err := net.SplitHostPort(req.Host)
	if err != nil {
		host = req.Host
		if req.URL.Scheme == "https" || req.TLS != nil {
			port = "443"
		} else {
			port = "80"
		}
	}

	if host == "localhost" {
		host = "127.0.0.1"
	}

	listenerAddr := proxy.Addr
	if listenerAddr == "localhost" {
		listenerAddr = "127.0.0.1"
	}

	if host == listenerAddr && port == proxy.Port {
		skipRoundTrip(req)
		return ErrSkipPipeline
	}
	return nil
}

// SkipConnectRequestModifier will skip processing for CONNECT requests
func SkipConnectRequestModifier(proxy *Proxy, req *http.Request) error {
	if req.Method == http.MethodConnect {
		return ErrSkipPipeline
	}
	return nil
}

// SetupRequestModifier initializes the request context with a request ID, the request time and the martian session.
func SetupRequestModifier(proxy *Proxy, req *http.Request) error {
	*req = *core.ContextWithRequestTime(req, time.Now())
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generating uuid for request : %w", err)
	}
	*req = *core.ContextWithRequestID(req, id)

	if ctx := martian.NewContext(req); ctx != nil {
		*req = *core.ContextWithSession(req, ctx.Session())
	}
	return nil
}

// MimicRequestModifier runs the intercept decision for the request and stores it in the context.
// Serve skips the upstream round trip, Forward points the request at the decision target,
// PassThrough leaves the request as it is.
func MimicRequestModifier(proxy *Proxy, req *http.Request) error {
	if proxy.Engine == nil {
		return ErrEngineUndefined
	}

	target := intercept.TargetURL(req)
	decision := proxy.Engine.Decide(target)
	*req = *core.ContextWithDecision(req, decision)

	requestID, _ := core.RequestIDFromContext(req.Context())
	proxy.Logger.Debug("decision", "request_id", requestID, "target", target, "action", decision.Action, "reason", decision.Reason)

	switch decision.Action {
	case intercept.Serve:
		skipRoundTrip(req)
	case intercept.Forward:
		if decision.Target.String() != target {
			retarget(req, decision.Target)
		}
	}
	return nil
}

// retarget points req at target, keeping the client's method, headers and body.
func retarget(req *http.Request, target *url.URL) {
	next := *target
	req.URL = &next
	req.Host = target.Host
}

// ResponseFilterModifier skips responses to CONNECT requests and to requests whose round trip
// was skipped for any reason other than serving mimicked content.
func ResponseFilterModifier(proxy *Proxy, res *http.Response) error {
	if res.Request == nil || res.Request.Method == http.MethodConnect {
		return ErrSkipPipeline
	}
	if decision, ok := core.DecisionFromContext(res.Request.Context()); ok && decision.Action == intercept.Serve {
		return nil
	}
	if ctx := martian.NewContext(res.Request); ctx != nil && ctx.SkippingRoundTrip() {
		return ErrSkipPipeline
	}
	return nil
}

// MimicResponseModifier replaces the response with the mapping content when the request was decided as Serve.
func MimicResponseModifier(proxy *Proxy, res *http.Response) error {
	decision, ok := core.DecisionFromContext(res.Request.Context())
	if !ok || decision.Action != intercept.Serve {
		return nil
	}

	w := newResponseWriter(res)
	if err := intercept.WriteMimicked(w, decision.Mapping, nil); err != nil {
		return fmt.Errorf("%w : %w", ErrServeContent, err)
	}
	w.finish()

	requestID, _ := core.RequestIDFromContext(res.Request.Context())
	proxy.Logger.Info("returning mimicked content",
		"request_id", requestID,
		"url", res.Request.URL.String(),
		"mapping_id", decision.Mapping.ID,
		"content_type", res.Header.Get("Content-Type"),
		"content_length", res.ContentLength,
	)
	return nil
}
