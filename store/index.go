package store

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/tfkr-ae/mimic/domain"
	"github.com/tfkr-ae/mimic/matcher"
)

const indexBlob = "index.json"

// indexRecord is the persisted metadata of a single mapping. Content is stored out-of-line.
type indexRecord struct {
	ID            uuid.UUID `json:"id"`
	Pattern       *string   `json:"pattern"`
	RegexPattern  *string   `json:"regexPattern"`
	ContentLength int       `json:"contentLength"`

	// URL is the field name used by older index files for exact patterns. It is read, never written.
	URL *string `json:"url,omitempty"`
}

type indexDocument struct {
	Mappings []indexRecord `json:"mappings"`
}

// contentBlob returns the name of the content artifact of a mapping.
func contentBlob(id uuid.UUID) string {
	return id.String() + ".txt"
}

func toIndexRecord(m *domain.Mapping) indexRecord {
	record := indexRecord{
		ID:            m.ID,
		ContentLength: m.ContentLength(),
	}
	if m.Pattern == nil {
		return record
	}
	source := m.Pattern.Source()
	if m.Pattern.Kind().IsRegex() {
		record.RegexPattern = &source
	} else {
		record.Pattern = &source
	}
	return record
}

func fromIndexRecord(record indexRecord) (*domain.Mapping, error) {
	if record.ID == uuid.Nil {
		return nil, fmt.Errorf("mapping without id")
	}
	if record.ContentLength < 0 {
		return nil, fmt.Errorf("mapping %s has negative content length", record.ID)
	}

	mapping := &domain.Mapping{
		ID:     record.ID,
		Length: record.ContentLength,
	}

	patternSource := record.Pattern
	if patternSource == nil {
		patternSource = record.URL
	}

	var err error
	switch {
	case patternSource != nil && *patternSource != "":
		mapping.Pattern, err = matcher.Compile(*patternSource)
	case record.RegexPattern != nil && *record.RegexPattern != "":
		mapping.Pattern, err = matcher.CompileRegex(*record.RegexPattern)
	}
	if err != nil {
		return nil, fmt.Errorf("mapping %s : %w", record.ID, err)
	}
	return mapping, nil
}

func encodeIndex(order []uuid.UUID, mappings map[uuid.UUID]*domain.Mapping) ([]byte, error) {
	doc := indexDocument{Mappings: make([]indexRecord, 0, len(order))}
	for _, id := range order {
		doc.Mappings = append(doc.Mappings, toIndexRecord(mappings[id]))
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshalling index : %w", err)
	}
	return data, nil
}

func decodeIndex(data []byte) ([]*domain.Mapping, error) {
	var doc indexDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshalling index : %w", err)
	}

	mappings := make([]*domain.Mapping, 0, len(doc.Mappings))
	seen := make(map[uuid.UUID]struct{}, len(doc.Mappings))
	for _, record := range doc.Mappings {
		mapping, err := fromIndexRecord(record)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[mapping.ID]; ok {
			return nil, fmt.Errorf("duplicate mapping id %s", mapping.ID)
		}
		seen[mapping.ID] = struct{}{}
		mappings = append(mappings, mapping)
	}
	return mappings, nil
}
