// Package matcher compiles the pattern variants a mapping can carry.
// Exact and glob patterns come from the "pattern" field, regular expressions from
// the "regexPattern" field. All compilation errors surface at set-time as
// domain.ErrInvalidPattern, matching never fails.
package matcher

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/gobwas/glob"
	"github.com/tfkr-ae/mimic/domain"
)

// globMeta are the characters that turn a pattern into a glob.
const globMeta = "*?[{"

// separator keeps a single * inside one path segment, ** crosses segments.
const separator = '/'

// Exact matches a target equal to its source.
type Exact struct {
	source string
}

func (e *Exact) Kind() domain.PatternKind { return domain.KindExact }
func (e *Exact) Source() string           { return e.source }
func (e *Exact) Match(target string) bool { return target == e.source }

// Glob matches a target against a compiled glob expression.
type Glob struct {
	source   string
	compiled glob.Glob
}

func (g *Glob) Kind() domain.PatternKind { return domain.KindGlob }
func (g *Glob) Source() string           { return g.source }

// Match reports whether the target matches the glob. A target equal to the source
// always matches so that URLs containing '?' keep their literal meaning.
func (g *Glob) Match(target string) bool {
	if target == g.source {
		return true
	}
	return g.compiled.Match(target)
}

// Regex matches a target against a regular expression compiled once.
type Regex struct {
	source   string
	compiled *regexp.Regexp
}

func (r *Regex) Kind() domain.PatternKind { return domain.KindRegex }
func (r *Regex) Source() string           { return r.source }
func (r *Regex) Match(target string) bool { return r.compiled.MatchString(target) }

// IsGlob reports whether source contains glob metacharacters.
func IsGlob(source string) bool {
	return strings.ContainsAny(source, globMeta)
}

// Compile compiles the source of a "pattern" field.
// Sources without glob metacharacters become an Exact pattern.
func Compile(source string) (domain.Pattern, error) {
	if source == "" {
		return nil, fmt.Errorf("%w : empty pattern", domain.ErrInvalidPattern)
	}
	if !IsGlob(source) {
		return &Exact{source: source}, nil
	}
	compiled, err := glob.Compile(source, separator)
	if err != nil {
		return nil, fmt.Errorf("%w : compiling glob %q : %w", domain.ErrInvalidPattern, source, err)
	}
	return &Glob{source: source, compiled: compiled}, nil
}

// CompileRegex compiles the source of a "regexPattern" field.
func CompileRegex(source string) (domain.Pattern, error) {
	if source == "" {
		return nil, fmt.Errorf("%w : empty regex", domain.ErrInvalidPattern)
	}
	compiled, err := regexp.Compile(source)
	if err != nil {
		return nil, fmt.Errorf("%w : compiling regex %q : %w", domain.ErrInvalidPattern, source, err)
	}
	return &Regex{source: source, compiled: compiled}, nil
}

// CompileKind compiles source for the given discriminant. Exact and glob are treated alike.
func CompileKind(source string, regex bool) (domain.Pattern, error) {
	if regex {
		return CompileRegex(source)
	}
	return Compile(source)
}
