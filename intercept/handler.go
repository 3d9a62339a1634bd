package intercept

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"
)

// DefaultForwardTimeout bounds a forwarded upstream exchange.
const DefaultForwardTimeout = 30 * time.Second

type forwardTargetKey struct{}

// Handler is a net/http forward proxy driven by an Engine. Serve writes the mapping
// content, Forward proxies upstream with a bounded timeout, PassThrough goes to the
// next handler or, without one, straight to the original target.
type Handler struct {
	engine  *Engine
	next    http.Handler
	timeout time.Duration
	proxy   *httputil.ReverseProxy
	Logger  *slog.Logger
}

// NewHandler creates a Handler around engine.
func NewHandler(engine *Engine, options ...func(*Handler) error) (*Handler, error) {
	if engine == nil {
		return nil, errors.New("handler requires a decision engine")
	}
	handler := &Handler{
		engine:  engine,
		timeout: DefaultForwardTimeout,
		Logger:  slog.New(slog.DiscardHandler),
	}
	handler.proxy = &httputil.ReverseProxy{
		Rewrite:      rewriteToTarget,
		ErrorHandler: handler.forwardError,
	}

	for _, option := range options {
		if err := option(handler); err != nil {
			return nil, fmt.Errorf("applying option on handler : %w", err)
		}
	}
	return handler, nil
}

// WithNext sets the handler that receives pass-through requests.
func WithNext(next http.Handler) func(*Handler) error {
	return func(handler *Handler) error {
		handler.next = next
		return nil
	}
}

// WithForwardTimeout bounds forwarded exchanges. Non-positive durations are rejected.
func WithForwardTimeout(timeout time.Duration) func(*Handler) error {
	return func(handler *Handler) error {
		if timeout <= 0 {
			return fmt.Errorf("invalid forward timeout %s", timeout)
		}
		handler.timeout = timeout
		return nil
	}
}

// WithTransport sets the round tripper used for forwarded requests.
func WithTransport(transport http.RoundTripper) func(*Handler) error {
	return func(handler *Handler) error {
		handler.proxy.Transport = transport
		return nil
	}
}

// WithHandlerLogger sets the handler logger. A nil logger keeps the discarding default.
func WithHandlerLogger(logger *slog.Logger) func(*Handler) error {
	return func(handler *Handler) error {
		if logger != nil {
			handler.Logger = logger
		}
		return nil
	}
}

func (handler *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	target := TargetURL(req)
	decision := handler.engine.Decide(target)
	handler.Logger.Debug("decision", "target", target, "action", decision.Action, "reason", decision.Reason)

	switch decision.Action {
	case Serve:
		if err := WriteMimicked(TrackHeaders(w), decision.Mapping, nil); err != nil {
			handler.Logger.Warn("writing mimicked content", "target", target, "error", err)
		}
	case Forward:
		handler.Forward(w, req, decision.Target)
	default:
		switch {
		case handler.next != nil:
			handler.next.ServeHTTP(w, req)
		case decision.Target != nil:
			handler.Forward(w, req, decision.Target)
		default:
			http.Error(w, "no target", http.StatusBadRequest)
		}
	}
}

// Forward proxies req to target. A timed out exchange answers 504, any other upstream failure 502.
func (handler *Handler) Forward(w http.ResponseWriter, req *http.Request, target *url.URL) {
	ctx, cancel := context.WithTimeout(req.Context(), handler.timeout)
	defer cancel()
	ctx = context.WithValue(ctx, forwardTargetKey{}, target)
	handler.proxy.ServeHTTP(w, req.WithContext(ctx))
}

func rewriteToTarget(pr *httputil.ProxyRequest) {
	target, ok := pr.In.Context().Value(forwardTargetKey{}).(*url.URL)
	if !ok {
		return
	}
	out := *target
	pr.Out.URL = &out
	pr.Out.Host = target.Host
	pr.Out.RequestURI = ""
}

func (handler *Handler) forwardError(w http.ResponseWriter, req *http.Request, err error) {
	status := http.StatusBadGateway
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(req.Context().Err(), context.DeadlineExceeded) {
		status = http.StatusGatewayTimeout
	}
	handler.Logger.Warn("forwarding request", "url", req.URL.String(), "status", status, "error", err)
	w.WriteHeader(status)
}
