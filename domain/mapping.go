package domain

import "github.com/google/uuid"

// PatternKind is the discriminant of a Pattern.
type PatternKind int

const (
	// KindExact matches a target that is byte-for-byte equal to the source.
	KindExact PatternKind = iota + 1
	// KindGlob matches a target against a glob expression (*, **, [...], {a,b}).
	KindGlob
	// KindRegex matches a target against a compiled regular expression.
	KindRegex
)

// String returns the name of the kind as used in logs.
func (k PatternKind) String() string {
	switch k {
	case KindExact:
		return "exact"
	case KindGlob:
		return "glob"
	case KindRegex:
		return "regex"
	default:
		return "unknown"
	}
}

// IsRegex reports whether the kind belongs to the regexPattern discriminant.
// Exact and glob patterns are both persisted under "pattern".
func (k PatternKind) IsRegex() bool {
	return k == KindRegex
}

// Pattern is a compiled match predicate. Implementations live in the matcher package
// and are immutable once compiled.
type Pattern interface {
	// Kind returns the variant of the pattern.
	Kind() PatternKind
	// Source returns the raw string the pattern was compiled from.
	Source() string
	// Match reports whether target matches. It has no side effects.
	Match(target string) bool
}

// Mapping pairs a Pattern with optional substituted content.
//
// Content is nil when the mapping has no content or when it has not been hydrated
// from storage yet. Length carries the persisted content length so that metadata
// can be served without reading the content artifact.
type Mapping struct {
	ID      uuid.UUID // Assigned once at creation, the sole persistence key.
	Pattern Pattern   // Exactly one pattern variant.
	Content []byte    // Substituted content, nil if absent or not hydrated.
	Length  int       // Persisted content length, used until Content is hydrated.
}

// ContentLength returns len(Content) once content is hydrated, otherwise the persisted length.
func (m *Mapping) ContentLength() int {
	if m.Content != nil {
		return len(m.Content)
	}
	return m.Length
}

// HasContent reports whether the mapping serves substituted content.
func (m *Mapping) HasContent() bool {
	return m.ContentLength() > 0
}

// Hydrated reports whether the content (if any) is available in memory.
func (m *Mapping) Hydrated() bool {
	return m.Length == 0 || m.Content != nil
}

// PatternSource returns the source of a pattern-kind (exact or glob) mapping and an empty string otherwise.
func (m *Mapping) PatternSource() string {
	if m.Pattern == nil || m.Pattern.Kind().IsRegex() {
		return ""
	}
	return m.Pattern.Source()
}

// RegexSource returns the source of a regex mapping and an empty string otherwise.
func (m *Mapping) RegexSource() string {
	if m.Pattern == nil || !m.Pattern.Kind().IsRegex() {
		return ""
	}
	return m.Pattern.Source()
}

// Matches reports whether the mapping applies to target. A mapping without a pattern never matches.
func (m *Mapping) Matches(target string) bool {
	if m.Pattern == nil {
		return false
	}
	return m.Pattern.Match(target)
}

// Clone returns a shallow copy. Content is shared and must be treated as read-only.
func (m *Mapping) Clone() *Mapping {
	clone := *m
	return &clone
}

// Metadata returns the read-only projection of the mapping.
func (m *Mapping) Metadata() MappingMetadata {
	return MappingMetadata{
		ID:            m.ID,
		Pattern:       m.PatternSource(),
		RegexPattern:  m.RegexSource(),
		HasContent:    m.HasContent(),
		ContentLength: m.ContentLength(),
	}
}

// MappingMetadata is the listing projection of a Mapping. HasContent is always derived from ContentLength.
type MappingMetadata struct {
	ID            uuid.UUID `json:"id"`
	Pattern       string    `json:"pattern,omitempty"`
	RegexPattern  string    `json:"regexPattern,omitempty"`
	HasContent    bool      `json:"hasContent"`
	ContentLength int       `json:"contentLength"`
}
