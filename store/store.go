// Package store keeps the process-wide set of mappings in memory and persists it
// through a domain.BlobRepository.
//
// The index document ("index.json") is the metadata of record and is rewritten in
// full on every mutation. Content lives in one artifact per mapping ("<id>.txt")
// and is only read when a caller asks for it, then cached.
//
// Readers work against an immutable snapshot and never lock. Mutations are
// serialised by a single mutex held across "mutate in memory, then rewrite the
// index", so two writers never interleave partial index rewrites.
package store

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/tfkr-ae/mimic/domain"
)

// snapshot is an immutable view of the mapping set. Mappings referenced by a snapshot are never mutated.
type snapshot struct {
	mappings map[uuid.UUID]*domain.Mapping
	order    []uuid.UUID // insertion order, also the persisted index order
}

func newSnapshot() *snapshot {
	return &snapshot{mappings: make(map[uuid.UUID]*domain.Mapping)}
}

func (snap *snapshot) clone() *snapshot {
	next := &snapshot{
		mappings: make(map[uuid.UUID]*domain.Mapping, len(snap.mappings)),
		order:    make([]uuid.UUID, len(snap.order)),
	}
	for id, mapping := range snap.mappings {
		next.mappings[id] = mapping
	}
	copy(next.order, snap.order)
	return next
}

// Store is the in-memory keyed collection of mappings backed by a BlobRepository.
type Store struct {
	blobs  domain.BlobRepository
	Logger *slog.Logger

	mu   sync.Mutex // serialises mutations and index rewrites
	snap atomic.Pointer[snapshot]
}

// New creates an empty store over blobs. Call Load to read the persisted index.
func New(blobs domain.BlobRepository, options ...func(*Store) error) (*Store, error) {
	if blobs == nil {
		return nil, errors.New("store requires a blob repository")
	}
	store := &Store{
		blobs:  blobs,
		Logger: slog.New(slog.DiscardHandler),
	}
	store.snap.Store(newSnapshot())

	for _, option := range options {
		if err := option(store); err != nil {
			return nil, fmt.Errorf("applying option on store : %w", err)
		}
	}
	return store, nil
}

// WithLogger sets the store logger. A nil logger keeps the discarding default.
func WithLogger(logger *slog.Logger) func(*Store) error {
	return func(store *Store) error {
		if logger != nil {
			store.Logger = logger
		}
		return nil
	}
}

// Load reads the index and replaces the in-memory mapping set with it. Content is not read.
// A missing index is an empty mapping set, every other failure is domain.ErrStorageCorrupt.
func (store *Store) Load() error {
	store.mu.Lock()
	defer store.mu.Unlock()

	data, err := store.blobs.ReadBlob(indexBlob)
	if err != nil {
		if errors.Is(err, domain.ErrBlobNotFound) {
			store.snap.Store(newSnapshot())
			return nil
		}
		return fmt.Errorf("%w : reading index : %w", domain.ErrStorageCorrupt, err)
	}

	mappings, err := decodeIndex(data)
	if err != nil {
		return fmt.Errorf("%w : %w", domain.ErrStorageCorrupt, err)
	}

	next := newSnapshot()
	for _, mapping := range mappings {
		next.mappings[mapping.ID] = mapping
		next.order = append(next.order, mapping.ID)
	}
	store.snap.Store(next)
	store.Logger.Debug("loaded mapping index", "mappings", len(next.order))
	return nil
}

// Len returns the number of mappings.
func (store *Store) Len() int {
	return len(store.snap.Load().order)
}

// Get returns a copy of the mapping with the given id. When hydrate is set and the
// content has not been read yet, the content artifact is loaded and cached first.
func (store *Store) Get(id uuid.UUID, hydrate bool) (*domain.Mapping, bool) {
	mapping, ok := store.snap.Load().mappings[id]
	if !ok {
		return nil, false
	}
	if hydrate {
		mapping = store.hydrate(mapping)
	}
	return mapping.Clone(), true
}

// All returns copies of every mapping in insertion order, without hydrating content.
func (store *Store) All() []*domain.Mapping {
	snap := store.snap.Load()
	mappings := make([]*domain.Mapping, 0, len(snap.order))
	for _, id := range snap.order {
		mappings = append(mappings, snap.mappings[id].Clone())
	}
	return mappings
}

// FindByPattern returns the exact or glob mapping whose source equals source.
func (store *Store) FindByPattern(source string) (*domain.Mapping, bool) {
	return store.findBySource(source, false)
}

// FindByRegex returns the regex mapping whose source equals source.
func (store *Store) FindByRegex(source string) (*domain.Mapping, bool) {
	return store.findBySource(source, true)
}

func (store *Store) findBySource(source string, regex bool) (*domain.Mapping, bool) {
	if mapping := store.snap.Load().bySource(source, regex); mapping != nil {
		return mapping.Clone(), true
	}
	return nil, false
}

func (snap *snapshot) bySource(source string, regex bool) *domain.Mapping {
	for _, id := range snap.order {
		mapping := snap.mappings[id]
		if mapping.Pattern == nil || mapping.Pattern.Kind().IsRegex() != regex {
			continue
		}
		if mapping.Pattern.Source() == source {
			return mapping
		}
	}
	return nil
}

// FindMatch returns the mapping that applies to target. Exact and glob mappings are
// considered before any regex mapping regardless of insertion order, within each pass
// the first mapping in insertion order wins.
func (store *Store) FindMatch(target string, hydrate bool) (*domain.Mapping, bool) {
	snap := store.snap.Load()

	var found *domain.Mapping
	for _, regexPass := range []bool{false, true} {
		for _, id := range snap.order {
			mapping := snap.mappings[id]
			if mapping.Pattern == nil || mapping.Pattern.Kind().IsRegex() != regexPass {
				continue
			}
			if mapping.Pattern.Match(target) {
				found = mapping
				break
			}
		}
		if found != nil {
			break
		}
	}

	if found == nil {
		return nil, false
	}
	if hydrate {
		found = store.hydrate(found)
	}
	return found.Clone(), true
}

// Set inserts or replaces the mapping, rewrites the index and writes or removes the
// content artifact. The in-memory state is committed before anything is persisted;
// a returned error wraps domain.ErrPersistence and the mapping stays in memory.
func (store *Store) Set(mapping *domain.Mapping) error {
	if mapping == nil || mapping.ID == uuid.Nil {
		return errors.New("mapping requires an id")
	}

	store.mu.Lock()
	defer store.mu.Unlock()

	return store.commit(mapping.Clone())
}

// Upsert registers pattern. The mapping whose source equals the pattern source, looked
// up as a pattern first and then as a regex, gets pattern in place and keeps its id
// and content. Otherwise a mapping is created with an id from newID. The lookup and
// the mutation happen under one lock, so concurrent upserts of one source converge on
// one mapping. created reports whether a mapping was created. A returned mapping with a
// non-nil error means the change is in memory but persisting it failed.
func (store *Store) Upsert(pattern domain.Pattern, newID func() (uuid.UUID, error)) (mapping *domain.Mapping, created bool, err error) {
	if pattern == nil {
		return nil, false, errors.New("upsert requires a pattern")
	}

	store.mu.Lock()
	defer store.mu.Unlock()

	current := store.snap.Load()
	existing := current.bySource(pattern.Source(), false)
	if existing == nil {
		existing = current.bySource(pattern.Source(), true)
	}

	if existing != nil {
		mapping = existing.Clone()
	} else {
		id, err := newID()
		if err != nil {
			return nil, false, fmt.Errorf("generating mapping id : %w", err)
		}
		mapping = &domain.Mapping{ID: id}
		created = true
	}
	mapping.Pattern = pattern

	err = store.commit(mapping)
	return mapping.Clone(), created, err
}

// Update applies fn to a copy of the mapping with the given id and commits the result,
// all under the mutation lock. It returns domain.ErrNotFound when id is unknown and
// the error of fn when fn fails, in both cases nothing changes. A returned mapping with
// a non-nil error means the change is in memory but persisting it failed.
func (store *Store) Update(id uuid.UUID, fn func(*domain.Mapping) error) (*domain.Mapping, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	current, ok := store.snap.Load().mappings[id]
	if !ok {
		return nil, fmt.Errorf("%w : mapping %s", domain.ErrNotFound, id)
	}

	mapping := current.Clone()
	if err := fn(mapping); err != nil {
		return nil, err
	}
	mapping.ID = id

	err := store.commit(mapping)
	return mapping.Clone(), err
}

// commit publishes stored in a new snapshot and persists it. store.mu must be held.
func (store *Store) commit(stored *domain.Mapping) error {
	if stored.Content != nil {
		stored.Length = len(stored.Content)
	}

	next := store.snap.Load().clone()
	if _, exists := next.mappings[stored.ID]; !exists {
		next.order = append(next.order, stored.ID)
	}
	next.mappings[stored.ID] = stored
	store.snap.Store(next)

	var errs []error
	if err := store.persistContent(stored); err != nil {
		errs = append(errs, err)
	}
	if err := store.persistIndex(next); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w : %w", domain.ErrPersistence, errors.Join(errs...))
	}
	return nil
}

// Delete removes the mapping, rewrites the index and removes the content artifact.
// It reports false, and persists nothing, when id is unknown.
func (store *Store) Delete(id uuid.UUID) (bool, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	current := store.snap.Load()
	if _, ok := current.mappings[id]; !ok {
		return false, nil
	}

	next := current.clone()
	delete(next.mappings, id)
	for i, existing := range next.order {
		if existing == id {
			next.order = append(next.order[:i], next.order[i+1:]...)
			break
		}
	}
	store.snap.Store(next)

	var errs []error
	if err := store.persistIndex(next); err != nil {
		errs = append(errs, err)
	}
	if err := store.removeContent(id); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return true, fmt.Errorf("%w : %w", domain.ErrPersistence, errors.Join(errs...))
	}
	return true, nil
}

// hydrate returns mapping with its content loaded. The artifact is read without holding
// the mutation lock, the lock is only taken to publish the cached content.
func (store *Store) hydrate(mapping *domain.Mapping) *domain.Mapping {
	if mapping.Hydrated() {
		return mapping
	}

	data, err := store.blobs.ReadBlob(contentBlob(mapping.ID))
	if err != nil {
		store.Logger.Warn("loading mapping content", "id", mapping.ID, "error", err)
		return mapping
	}

	hydrated := mapping.Clone()
	hydrated.Content = data
	hydrated.Length = len(data)

	store.mu.Lock()
	defer store.mu.Unlock()

	current := store.snap.Load()
	if stored, ok := current.mappings[mapping.ID]; !ok || stored != mapping {
		// Mutated while reading, the data read belongs to an older version.
		if ok && stored.Hydrated() {
			return stored
		}
		return hydrated
	}

	next := current.clone()
	next.mappings[mapping.ID] = hydrated
	store.snap.Store(next)
	return hydrated
}

func (store *Store) persistIndex(snap *snapshot) error {
	data, err := encodeIndex(snap.order, snap.mappings)
	if err != nil {
		return err
	}
	if err := store.blobs.WriteBlob(indexBlob, data); err != nil {
		return fmt.Errorf("writing index : %w", err)
	}
	return nil
}

// persistContent writes the content artifact for hydrated content and removes it when
// the mapping has no content. A mapping whose content was never hydrated keeps its artifact.
func (store *Store) persistContent(mapping *domain.Mapping) error {
	switch {
	case mapping.Content != nil && len(mapping.Content) > 0:
		if err := store.blobs.WriteBlob(contentBlob(mapping.ID), mapping.Content); err != nil {
			return fmt.Errorf("writing content for %s : %w", mapping.ID, err)
		}
		return nil
	case mapping.ContentLength() == 0:
		return store.removeContent(mapping.ID)
	default:
		return nil
	}
}

func (store *Store) removeContent(id uuid.UUID) error {
	err := store.blobs.DeleteBlob(contentBlob(id))
	if err != nil && !errors.Is(err, domain.ErrBlobNotFound) {
		return fmt.Errorf("removing content for %s : %w", id, err)
	}
	return nil
}
