// Package service is the single entry point for reading and mutating mappings.
// Transport adapters and the control plane share one MappingService constructed at startup.
package service

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/tfkr-ae/mimic/domain"
	"github.com/tfkr-ae/mimic/matcher"
	"github.com/tfkr-ae/mimic/store"
)

// CreateRequest carries the two mutually exclusive pattern discriminants.
type CreateRequest struct {
	Pattern      string `json:"pattern,omitempty"`
	RegexPattern string `json:"regexPattern,omitempty"`
}

// MappingService wraps the store with validation and the persistence failure policy:
// store write failures are logged and the in-memory state stays authoritative.
// With strict persistence the failures are returned as well.
type MappingService struct {
	store  *store.Store
	strict bool
	Logger *slog.Logger
}

// New creates a MappingService over a loaded store.
func New(mappings *store.Store, options ...func(*MappingService) error) (*MappingService, error) {
	if mappings == nil {
		return nil, errors.New("mapping service requires a store")
	}
	service := &MappingService{
		store:  mappings,
		Logger: slog.New(slog.DiscardHandler),
	}
	for _, option := range options {
		if err := option(service); err != nil {
			return nil, fmt.Errorf("applying option on mapping service : %w", err)
		}
	}
	return service, nil
}

// WithLogger sets the service logger. A nil logger keeps the discarding default.
func WithLogger(logger *slog.Logger) func(*MappingService) error {
	return func(service *MappingService) error {
		if logger != nil {
			service.Logger = logger
		}
		return nil
	}
}

// WithStrictPersistence makes mutations return store write failures, wrapping
// domain.ErrPersistence, instead of only logging them. Short-lived processes whose
// in-memory state is lost on exit use it.
func WithStrictPersistence() func(*MappingService) error {
	return func(service *MappingService) error {
		service.strict = true
		return nil
	}
}

// CreateOrOverwrite registers a pattern or regex mapping. Exactly one of the request
// fields must be set. When a mapping with the same source string already exists under
// either discriminant it is updated in place: the id and content are kept and the
// discriminant switches to the one requested.
func (service *MappingService) CreateOrOverwrite(req CreateRequest) (*domain.Mapping, error) {
	hasPattern, hasRegex := req.Pattern != "", req.RegexPattern != ""
	if hasPattern == hasRegex {
		return nil, fmt.Errorf("%w : exactly one of pattern or regexPattern is required", domain.ErrInvalidArgument)
	}

	source := req.Pattern
	if hasRegex {
		source = req.RegexPattern
	}
	pattern, err := matcher.CompileKind(source, hasRegex)
	if err != nil {
		return nil, err
	}

	mapping, created, err := service.store.Upsert(pattern, uuid.NewV7)
	if mapping == nil {
		return nil, err
	}
	if created {
		service.Logger.Info("creating mapping", "id", mapping.ID, "kind", pattern.Kind())
	} else {
		service.Logger.Info("overwriting mapping", "id", mapping.ID, "kind", pattern.Kind())
	}

	if err := service.persist(err, "saving mapping", mapping.ID); err != nil {
		return nil, err
	}
	return mapping, nil
}

// GetMapping returns the mapping with the given id, or domain.ErrNotFound.
// With hydrate set, content not yet cached is read from storage first.
func (service *MappingService) GetMapping(id uuid.UUID, hydrate bool) (*domain.Mapping, error) {
	mapping, ok := service.store.Get(id, hydrate)
	if !ok {
		return nil, fmt.Errorf("%w : mapping %s", domain.ErrNotFound, id)
	}
	return mapping, nil
}

// FindMatch returns the mapping applying to target. Without hydrate the returned
// mapping carries whatever content is already cached and may have none.
func (service *MappingService) FindMatch(target string, hydrate bool) (*domain.Mapping, bool) {
	return service.store.FindMatch(target, hydrate)
}

// SetContent replaces the content of a mapping. Empty content clears it.
func (service *MappingService) SetContent(id uuid.UUID, content []byte) (*domain.Mapping, error) {
	mapping, err := service.store.Update(id, func(mapping *domain.Mapping) error {
		if len(content) == 0 {
			mapping.Content = nil
		} else {
			mapping.Content = append([]byte(nil), content...)
		}
		mapping.Length = len(content)
		return nil
	})
	if mapping == nil {
		return nil, err
	}

	if err := service.persist(err, "saving mapping content", id); err != nil {
		return nil, err
	}
	service.Logger.Debug("content set", "id", id, "length", mapping.Length)
	return mapping, nil
}

// DeleteMapping removes the mapping and reports whether it existed. The error is only
// set with strict persistence, when the removal could not be persisted.
func (service *MappingService) DeleteMapping(id uuid.UUID) (bool, error) {
	deleted, err := service.store.Delete(id)
	if deleted {
		service.Logger.Info("deleted mapping", "id", id)
	}
	return deleted, service.persist(err, "deleting mapping", id)
}

// ListWithMetadata returns the metadata of every mapping in insertion order.
func (service *MappingService) ListWithMetadata() []domain.MappingMetadata {
	mappings := service.store.All()
	metadata := make([]domain.MappingMetadata, 0, len(mappings))
	for _, mapping := range mappings {
		metadata = append(metadata, mapping.Metadata())
	}
	return metadata
}

func (service *MappingService) persist(err error, action string, id uuid.UUID) error {
	if err == nil {
		return nil
	}
	service.Logger.Error(action, "id", id, "error", err)
	if service.strict {
		return fmt.Errorf("%s %s : %w", action, id, err)
	}
	return nil
}
