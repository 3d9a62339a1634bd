// Package intercept decides, per intercepted request, whether to serve substituted
// content, forward the request or let it pass through untouched, and carries the
// net/http pieces shared by the transport adapters.
package intercept

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/tfkr-ae/mimic/domain"
)

// Action is the terminal outcome of a decision.
type Action int

const (
	// PassThrough leaves the request to the transport untouched.
	PassThrough Action = iota
	// Forward sends the request upstream to Decision.Target.
	Forward
	// Serve answers the request with the mapping content.
	Serve
)

func (a Action) String() string {
	switch a {
	case Serve:
		return "SERVE"
	case Forward:
		return "FORWARD"
	default:
		return "PASS_THROUGH"
	}
}

// Pass-through reasons.
const (
	ReasonNoTarget          = "no target"
	ReasonNoForwardTarget   = "no forwarding target"
	ReasonContentUnreadable = "content unreadable"
)

// Decision is the result of Engine.Decide.
type Decision struct {
	Action  Action
	Mapping *domain.Mapping // matched mapping, nil when nothing matched
	Target  *url.URL        // upstream URL for Forward, the original target for PassThrough when known
	Reason  string          // set for PassThrough
}

// Finder looks up the mapping applying to a target URL.
type Finder interface {
	FindMatch(target string, hydrate bool) (*domain.Mapping, bool)
}

// Engine runs the decision state machine against a Finder.
type Engine struct {
	finder Finder
	Logger *slog.Logger
}

// NewEngine creates an Engine over finder, usually a *service.MappingService.
func NewEngine(finder Finder, options ...func(*Engine) error) (*Engine, error) {
	if finder == nil {
		return nil, errors.New("decision engine requires a mapping finder")
	}
	engine := &Engine{
		finder: finder,
		Logger: slog.New(slog.DiscardHandler),
	}
	for _, option := range options {
		if err := option(engine); err != nil {
			return nil, fmt.Errorf("applying option on decision engine : %w", err)
		}
	}
	return engine, nil
}

// WithEngineLogger sets the engine logger. A nil logger keeps the discarding default.
func WithEngineLogger(logger *slog.Logger) func(*Engine) error {
	return func(engine *Engine) error {
		if logger != nil {
			engine.Logger = logger
		}
		return nil
	}
}

// Decide returns the action for target, the absolute URL the client asked for.
// An empty or non-absolute target passes through. Decide never fails.
func (engine *Engine) Decide(target string) Decision {
	original, ok := parseTarget(target)
	if !ok {
		return Decision{Action: PassThrough, Reason: ReasonNoTarget}
	}

	mapping, found := engine.finder.FindMatch(target, true)
	if !found {
		return Decision{Action: Forward, Target: original}
	}

	if len(mapping.Content) > 0 {
		engine.Logger.Debug("serving mapping", "target", target, "id", mapping.ID)
		return Decision{Action: Serve, Mapping: mapping}
	}
	if mapping.HasContent() {
		// Content exists but could not be hydrated, the store already logged the read error.
		return Decision{Action: PassThrough, Mapping: mapping, Target: original, Reason: ReasonContentUnreadable}
	}

	if alternate, ok := forwardTarget(mapping); ok {
		engine.Logger.Debug("forwarding mapping", "target", target, "id", mapping.ID, "to", alternate)
		return Decision{Action: Forward, Mapping: mapping, Target: alternate}
	}
	return Decision{Action: PassThrough, Mapping: mapping, Target: original, Reason: ReasonNoForwardTarget}
}

// forwardTarget returns the URL a content-less mapping forwards to. Only pattern
// mappings whose source is a concrete absolute http(s) URL describe one.
func forwardTarget(mapping *domain.Mapping) (*url.URL, bool) {
	source := mapping.PatternSource()
	if source == "" || strings.ContainsAny(source, "*[{") {
		return nil, false
	}
	return parseTarget(source)
}

func parseTarget(target string) (*url.URL, bool) {
	if target == "" {
		return nil, false
	}
	parsed, err := url.Parse(target)
	if err != nil || parsed.Host == "" {
		return nil, false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, false
	}
	return parsed, true
}
