package store

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/tfkr-ae/mimic/domain"
	"github.com/tfkr-ae/mimic/filestore"
	"github.com/tfkr-ae/mimic/matcher"
)

// memoryBlobs is an in-memory BlobRepository that records reads and can be told to fail writes.
type memoryBlobs struct {
	mu        sync.Mutex
	blobs     map[string][]byte
	reads     map[string]int
	failWrite bool
	delay     time.Duration // applied to every write, outside the lock
}

func newMemoryBlobs() *memoryBlobs {
	return &memoryBlobs{
		blobs: make(map[string][]byte),
		reads: make(map[string]int),
	}
}

func (m *memoryBlobs) ReadBlob(name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads[name]++
	data, ok := m.blobs[name]
	if !ok {
		return nil, fmt.Errorf("%w : %s", domain.ErrBlobNotFound, name)
	}
	return append([]byte(nil), data...), nil
}

func (m *memoryBlobs) WriteBlob(name string, data []byte) error {
	time.Sleep(m.delay)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrite {
		return errors.New("disk full")
	}
	m.blobs[name] = append([]byte(nil), data...)
	return nil
}

func (m *memoryBlobs) DeleteBlob(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blobs[name]; !ok {
		return fmt.Errorf("%w : %s", domain.ErrBlobNotFound, name)
	}
	delete(m.blobs, name)
	return nil
}

func (m *memoryBlobs) readCount(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads[name]
}

func (m *memoryBlobs) blob(name string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blobs[name]
	return data, ok
}

func setupTestStore(t *testing.T, blobs domain.BlobRepository) *Store {
	t.Helper()

	store, err := New(blobs)
	if err != nil {
		t.Fatalf("store.New() failed: %v", err)
	}
	if err := store.Load(); err != nil {
		t.Fatalf("store.Load() failed: %v", err)
	}
	return store
}

func testMapping(t *testing.T, source string, regex bool, content []byte) *domain.Mapping {
	t.Helper()

	pattern, err := matcher.CompileKind(source, regex)
	if err != nil {
		t.Fatalf("compiling %q: %v", source, err)
	}
	id, err := uuid.NewV7()
	if err != nil {
		t.Fatalf("creating uuid: %v", err)
	}
	return &domain.Mapping{ID: id, Pattern: pattern, Content: content}
}

func TestStore_Load(t *testing.T) {
	t.Run("should treat a missing index as an empty mapping set", func(t *testing.T) {
		store := setupTestStore(t, newMemoryBlobs())

		if store.Len() != 0 {
			t.Fatalf("\nwanted:\n0\ngot:\n%d", store.Len())
		}
	})

	t.Run("should return ErrStorageCorrupt for an unparsable index", func(t *testing.T) {
		blobs := newMemoryBlobs()
		blobs.blobs[indexBlob] = []byte("{not json")

		store, err := New(blobs)
		if err != nil {
			t.Fatalf("store.New() failed: %v", err)
		}

		if err := store.Load(); !errors.Is(err, domain.ErrStorageCorrupt) {
			t.Fatalf("\nwanted:\n%v\ngot:\n%v", domain.ErrStorageCorrupt, err)
		}
	})

	t.Run("should return ErrStorageCorrupt for an index holding an invalid regex", func(t *testing.T) {
		blobs := newMemoryBlobs()
		blobs.blobs[indexBlob] = []byte(`{"mappings":[{"id":"01937d13-9632-72aa-83b9-c10ea1abbdd6","pattern":null,"regexPattern":"(","contentLength":0}]}`)

		store, _ := New(blobs)
		if err := store.Load(); !errors.Is(err, domain.ErrStorageCorrupt) {
			t.Fatalf("\nwanted:\n%v\ngot:\n%v", domain.ErrStorageCorrupt, err)
		}
	})

	t.Run("should read exact patterns stored under the legacy url field", func(t *testing.T) {
		blobs := newMemoryBlobs()
		blobs.blobs[indexBlob] = []byte(`{"mappings":[{"id":"01937d13-9632-72aa-83b9-c10ea1abbdd6","url":"https://api.example.com/users","regexPattern":null,"contentLength":0}]}`)

		store := setupTestStore(t, blobs)

		mapping, ok := store.FindMatch("https://api.example.com/users", false)
		if !ok {
			t.Fatalf("\nwanted:\nmapping\ngot:\nnone")
		}
		if mapping.PatternSource() != "https://api.example.com/users" {
			t.Fatalf("\nwanted:\n%q\ngot:\n%q", "https://api.example.com/users", mapping.PatternSource())
		}
	})

	t.Run("should reproduce the metadata set after a restart without reading content", func(t *testing.T) {
		blobs := newMemoryBlobs()
		store := setupTestStore(t, blobs)

		first := testMapping(t, "https://api.example.com/users", false, []byte(`{"users":[]}`))
		second := testMapping(t, `^https://cdn\.example\.com/.*\.js$`, true, nil)
		third := testMapping(t, "https://example.com/**", false, []byte("<html></html>"))
		for _, mapping := range []*domain.Mapping{first, second, third} {
			if err := store.Set(mapping); err != nil {
				t.Fatalf("setting mapping: %v", err)
			}
		}

		restarted := setupTestStore(t, blobs)

		var want, got []domain.MappingMetadata
		for _, mapping := range store.All() {
			want = append(want, mapping.Metadata())
		}
		for _, mapping := range restarted.All() {
			got = append(got, mapping.Metadata())
		}
		if !reflect.DeepEqual(want, got) {
			t.Fatalf("\nwanted:\n%v\ngot:\n%v", want, got)
		}

		for _, mapping := range []*domain.Mapping{first, third} {
			if reads := blobs.readCount(contentBlob(mapping.ID)); reads != 0 {
				t.Fatalf("\nwanted:\n0 content reads\ngot:\n%d", reads)
			}
		}
	})
}

func TestStore_Get(t *testing.T) {
	t.Run("should return false for an unknown id", func(t *testing.T) {
		store := setupTestStore(t, newMemoryBlobs())

		if _, ok := store.Get(uuid.New(), true); ok {
			t.Fatalf("\nwanted:\nfalse\ngot:\ntrue")
		}
	})

	t.Run("should hydrate content lazily and cache it", func(t *testing.T) {
		blobs := newMemoryBlobs()
		store := setupTestStore(t, blobs)
		mapping := testMapping(t, "https://example.com/app.js", false, []byte("console.log(1)"))
		if err := store.Set(mapping); err != nil {
			t.Fatalf("setting mapping: %v", err)
		}

		restarted := setupTestStore(t, blobs)

		metadataOnly, ok := restarted.Get(mapping.ID, false)
		if !ok {
			t.Fatalf("\nwanted:\nmapping\ngot:\nnone")
		}
		if metadataOnly.Content != nil {
			t.Fatalf("\nwanted:\nnil content\ngot:\n%q", metadataOnly.Content)
		}
		if metadataOnly.ContentLength() != len("console.log(1)") {
			t.Fatalf("\nwanted:\n%d\ngot:\n%d", len("console.log(1)"), metadataOnly.ContentLength())
		}

		for range 3 {
			hydrated, _ := restarted.Get(mapping.ID, true)
			if string(hydrated.Content) != "console.log(1)" {
				t.Fatalf("\nwanted:\n%q\ngot:\n%q", "console.log(1)", hydrated.Content)
			}
		}

		if reads := blobs.readCount(contentBlob(mapping.ID)); reads != 1 {
			t.Fatalf("\nwanted:\n1 content read\ngot:\n%d", reads)
		}
	})

	t.Run("should return the mapping without content when the artifact is missing", func(t *testing.T) {
		blobs := newMemoryBlobs()
		store := setupTestStore(t, blobs)
		mapping := testMapping(t, "https://example.com/app.js", false, []byte("console.log(1)"))
		store.Set(mapping)
		delete(blobs.blobs, contentBlob(mapping.ID))

		restarted := setupTestStore(t, blobs)
		got, ok := restarted.Get(mapping.ID, true)
		if !ok {
			t.Fatalf("\nwanted:\nmapping\ngot:\nnone")
		}
		if got.Content != nil {
			t.Fatalf("\nwanted:\nnil content\ngot:\n%q", got.Content)
		}
	})

	t.Run("should not let callers mutate stored mappings", func(t *testing.T) {
		store := setupTestStore(t, newMemoryBlobs())
		mapping := testMapping(t, "https://example.com/a", false, nil)
		store.Set(mapping)

		got, _ := store.Get(mapping.ID, false)
		got.Length = 42

		again, _ := store.Get(mapping.ID, false)
		if again.Length != 0 {
			t.Fatalf("\nwanted:\n0\ngot:\n%d", again.Length)
		}
	})
}

func TestStore_Set(t *testing.T) {
	t.Run("should persist the index and the content artifact", func(t *testing.T) {
		blobs := newMemoryBlobs()
		store := setupTestStore(t, blobs)
		mapping := testMapping(t, "https://example.com/app.js", false, []byte("console.log(1)"))

		if err := store.Set(mapping); err != nil {
			t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
		}

		index, ok := blobs.blob(indexBlob)
		if !ok {
			t.Fatalf("\nwanted:\nindex.json\ngot:\nnone")
		}
		if !strings.Contains(string(index), mapping.ID.String()) {
			t.Fatalf("\nwanted:\nindex containing %s\ngot:\n%s", mapping.ID, index)
		}

		content, ok := blobs.blob(contentBlob(mapping.ID))
		if !ok || string(content) != "console.log(1)" {
			t.Fatalf("\nwanted:\n%q\ngot:\n%q", "console.log(1)", content)
		}
	})

	t.Run("should remove the content artifact when content is cleared", func(t *testing.T) {
		blobs := newMemoryBlobs()
		store := setupTestStore(t, blobs)
		mapping := testMapping(t, "https://example.com/app.js", false, []byte("console.log(1)"))
		store.Set(mapping)

		mapping.Content = nil
		mapping.Length = 0
		if err := store.Set(mapping); err != nil {
			t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
		}

		if _, ok := blobs.blob(contentBlob(mapping.ID)); ok {
			t.Fatalf("\nwanted:\nno content artifact\ngot:\nartifact")
		}
	})

	t.Run("should keep the in-memory mapping when persistence fails", func(t *testing.T) {
		blobs := newMemoryBlobs()
		blobs.failWrite = true
		store := setupTestStore(t, blobs)
		mapping := testMapping(t, "https://example.com/app.js", false, []byte("console.log(1)"))

		err := store.Set(mapping)
		if !errors.Is(err, domain.ErrPersistence) {
			t.Fatalf("\nwanted:\n%v\ngot:\n%v", domain.ErrPersistence, err)
		}

		got, ok := store.Get(mapping.ID, true)
		if !ok {
			t.Fatalf("\nwanted:\nmapping\ngot:\nnone")
		}
		if !bytes.Equal(got.Content, []byte("console.log(1)")) {
			t.Fatalf("\nwanted:\n%q\ngot:\n%q", "console.log(1)", got.Content)
		}
	})

	t.Run("should keep insertion order when replacing a mapping", func(t *testing.T) {
		store := setupTestStore(t, newMemoryBlobs())
		first := testMapping(t, "https://example.com/a", false, nil)
		second := testMapping(t, "https://example.com/b", false, nil)
		store.Set(first)
		store.Set(second)

		first.Content = []byte("x")
		store.Set(first)

		all := store.All()
		if len(all) != 2 || all[0].ID != first.ID || all[1].ID != second.ID {
			t.Fatalf("\nwanted:\n[%s %s]\ngot:\n%v", first.ID, second.ID, all)
		}
	})
}

func TestStore_Delete(t *testing.T) {
	t.Run("should delete the mapping and its content artifact", func(t *testing.T) {
		blobs := newMemoryBlobs()
		store := setupTestStore(t, blobs)
		mapping := testMapping(t, "https://example.com/app.js", false, []byte("console.log(1)"))
		store.Set(mapping)

		deleted, err := store.Delete(mapping.ID)
		if err != nil {
			t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
		}
		if !deleted {
			t.Fatalf("\nwanted:\ntrue\ngot:\nfalse")
		}
		if _, ok := store.Get(mapping.ID, false); ok {
			t.Fatalf("\nwanted:\nno mapping\ngot:\nmapping")
		}
		if _, ok := blobs.blob(contentBlob(mapping.ID)); ok {
			t.Fatalf("\nwanted:\nno content artifact\ngot:\nartifact")
		}
	})

	t.Run("should return false and leave the index untouched for an unknown id", func(t *testing.T) {
		blobs := newMemoryBlobs()
		store := setupTestStore(t, blobs)
		store.Set(testMapping(t, "https://example.com/a", false, nil))
		before, _ := blobs.blob(indexBlob)

		deleted, err := store.Delete(uuid.New())
		if err != nil {
			t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
		}
		if deleted {
			t.Fatalf("\nwanted:\nfalse\ngot:\ntrue")
		}

		after, _ := blobs.blob(indexBlob)
		if !bytes.Equal(before, after) {
			t.Fatalf("\nwanted:\n%s\ngot:\n%s", before, after)
		}
	})
}

func TestStore_FindMatch(t *testing.T) {
	t.Run("should prefer pattern mappings over regex mappings registered earlier", func(t *testing.T) {
		store := setupTestStore(t, newMemoryBlobs())
		regex := testMapping(t, `^https://api\.example\.com/.*$`, true, nil)
		exact := testMapping(t, "https://api.example.com/users", false, nil)
		store.Set(regex)
		store.Set(exact)

		got, ok := store.FindMatch("https://api.example.com/users", false)
		if !ok {
			t.Fatalf("\nwanted:\nmapping\ngot:\nnone")
		}
		if got.ID != exact.ID {
			t.Fatalf("\nwanted:\n%s\ngot:\n%s", exact.ID, got.ID)
		}

		got, ok = store.FindMatch("https://api.example.com/groups", false)
		if !ok || got.ID != regex.ID {
			t.Fatalf("\nwanted:\n%s\ngot:\n%v", regex.ID, got)
		}
	})

	t.Run("should return the same mapping for repeated queries", func(t *testing.T) {
		store := setupTestStore(t, newMemoryBlobs())
		store.Set(testMapping(t, "https://example.com/*", false, nil))
		store.Set(testMapping(t, "https://example.com/**", false, nil))

		first, _ := store.FindMatch("https://example.com/a", false)
		for range 10 {
			got, _ := store.FindMatch("https://example.com/a", false)
			if got.ID != first.ID {
				t.Fatalf("\nwanted:\n%s\ngot:\n%s", first.ID, got.ID)
			}
		}
	})

	t.Run("should return false when nothing matches", func(t *testing.T) {
		store := setupTestStore(t, newMemoryBlobs())
		store.Set(testMapping(t, "https://example.com/a", false, nil))

		if _, ok := store.FindMatch("https://example.org/a", false); ok {
			t.Fatalf("\nwanted:\nfalse\ngot:\ntrue")
		}
	})
}

func TestStore_FindBySource(t *testing.T) {
	store := setupTestStore(t, newMemoryBlobs())
	pattern := testMapping(t, "https://example.com/a", false, nil)
	regex := testMapping(t, "https://example.com/b", true, nil)
	store.Set(pattern)
	store.Set(regex)

	if got, ok := store.FindByPattern("https://example.com/a"); !ok || got.ID != pattern.ID {
		t.Fatalf("\nwanted:\n%s\ngot:\n%v", pattern.ID, got)
	}
	if _, ok := store.FindByPattern("https://example.com/b"); ok {
		t.Fatalf("\nwanted:\nno pattern mapping\ngot:\nmapping")
	}
	if got, ok := store.FindByRegex("https://example.com/b"); !ok || got.ID != regex.ID {
		t.Fatalf("\nwanted:\n%s\ngot:\n%v", regex.ID, got)
	}
}

func TestStore_ConcurrentAccess(t *testing.T) {
	blobs := newMemoryBlobs()
	store := setupTestStore(t, blobs)

	mappings := make([]*domain.Mapping, 20)
	for i := range mappings {
		mappings[i] = testMapping(t, fmt.Sprintf("https://example.com/%d", i), false, []byte("x"))
	}

	var wg sync.WaitGroup
	for i, mapping := range mappings {
		wg.Add(2)
		go func() {
			defer wg.Done()
			store.Set(mapping)
		}()
		go func() {
			defer wg.Done()
			store.FindMatch(fmt.Sprintf("https://example.com/%d", i), true)
		}()
	}
	wg.Wait()

	if store.Len() != 20 {
		t.Fatalf("\nwanted:\n20\ngot:\n%d", store.Len())
	}

	restarted := setupTestStore(t, blobs)
	if restarted.Len() != 20 {
		t.Fatalf("\nwanted:\n20\ngot:\n%d", restarted.Len())
	}
}

func TestStore_WithFilestore(t *testing.T) {
	dir, err := filestore.New(t.TempDir())
	if err != nil {
		t.Fatalf("filestore.New() failed: %v", err)
	}
	store := setupTestStore(t, dir)
	mapping := testMapping(t, "https://example.com/index.html", false, []byte("<!DOCTYPE html>"))
	if err := store.Set(mapping); err != nil {
		t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
	}

	restarted := setupTestStore(t, dir)
	got, ok := restarted.Get(mapping.ID, true)
	if !ok {
		t.Fatalf("\nwanted:\nmapping\ngot:\nnone")
	}
	if string(got.Content) != "<!DOCTYPE html>" {
		t.Fatalf("\nwanted:\n%q\ngot:\n%q", "<!DOCTYPE html>", got.Content)
	}
}

func TestStore_Upsert(t *testing.T) {
	compile := func(t *testing.T, source string, regex bool) domain.Pattern {
		t.Helper()
		pattern, err := matcher.CompileKind(source, regex)
		if err != nil {
			t.Fatalf("compiling %q: %v", source, err)
		}
		return pattern
	}

	t.Run("should create a mapping for an unknown source", func(t *testing.T) {
		blobs := newMemoryBlobs()
		store := setupTestStore(t, blobs)

		got, created, err := store.Upsert(compile(t, "https://example.com/a", false), uuid.NewV7)
		if err != nil {
			t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
		}
		if !created {
			t.Fatalf("\nwanted:\ncreated\ngot:\noverwritten")
		}
		if _, ok := store.Get(got.ID, false); !ok {
			t.Fatalf("\nwanted:\nmapping %s\ngot:\nnone", got.ID)
		}
		if _, ok := blobs.blob(indexBlob); !ok {
			t.Fatalf("\nwanted:\nindex written\ngot:\nno index")
		}
	})

	t.Run("should keep id and content when the source exists under the other kind", func(t *testing.T) {
		store := setupTestStore(t, newMemoryBlobs())
		existing := testMapping(t, "https://example.com/app.js", false, []byte("console.log(1)"))
		store.Set(existing)

		got, created, err := store.Upsert(compile(t, "https://example.com/app.js", true), func() (uuid.UUID, error) {
			t.Fatalf("id generator called for an existing source")
			return uuid.Nil, nil
		})
		if err != nil {
			t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
		}
		if created || got.ID != existing.ID {
			t.Fatalf("\nwanted:\n%s\ngot:\n%s (created %v)", existing.ID, got.ID, created)
		}
		if got.Pattern.Kind() != domain.KindRegex {
			t.Fatalf("\nwanted:\n%v\ngot:\n%v", domain.KindRegex, got.Pattern.Kind())
		}

		stored, _ := store.Get(existing.ID, true)
		if string(stored.Content) != "console.log(1)" {
			t.Fatalf("\nwanted:\n%q\ngot:\n%q", "console.log(1)", stored.Content)
		}
		if store.Len() != 1 {
			t.Fatalf("\nwanted:\n1\ngot:\n%d", store.Len())
		}
	})

	t.Run("should change nothing when the id generator fails", func(t *testing.T) {
		store := setupTestStore(t, newMemoryBlobs())

		_, _, err := store.Upsert(compile(t, "https://example.com/a", false), func() (uuid.UUID, error) {
			return uuid.Nil, errors.New("no entropy")
		})
		if err == nil {
			t.Fatalf("\nwanted:\nerror\ngot:\nnil")
		}
		if store.Len() != 0 {
			t.Fatalf("\nwanted:\n0\ngot:\n%d", store.Len())
		}
	})

	t.Run("should return the mapping and ErrPersistence when writes fail", func(t *testing.T) {
		blobs := newMemoryBlobs()
		blobs.failWrite = true
		store := setupTestStore(t, blobs)

		got, _, err := store.Upsert(compile(t, "https://example.com/a", false), uuid.NewV7)
		if !errors.Is(err, domain.ErrPersistence) {
			t.Fatalf("\nwanted:\n%v\ngot:\n%v", domain.ErrPersistence, err)
		}
		if got == nil {
			t.Fatalf("\nwanted:\nmapping\ngot:\nnil")
		}
		if _, ok := store.Get(got.ID, false); !ok {
			t.Fatalf("\nwanted:\nmapping kept in memory\ngot:\nnone")
		}
	})

	t.Run("should converge concurrent upserts of one source on one mapping", func(t *testing.T) {
		blobs := newMemoryBlobs()
		blobs.delay = time.Millisecond
		store := setupTestStore(t, blobs)
		pattern := compile(t, "https://api.example.com/users", false)

		start := make(chan struct{})
		ids := make([]uuid.UUID, 8)
		var wg sync.WaitGroup
		for i := range ids {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				got, _, err := store.Upsert(pattern, uuid.NewV7)
				if err != nil {
					t.Errorf("\nwanted:\nnil\ngot:\n%v", err)
					return
				}
				ids[i] = got.ID
			}()
		}
		close(start)
		wg.Wait()

		if store.Len() != 1 {
			t.Fatalf("\nwanted:\n1\ngot:\n%d", store.Len())
		}
		for _, id := range ids {
			if id != ids[0] {
				t.Fatalf("\nwanted:\n%s\ngot:\n%s", ids[0], id)
			}
		}
	})
}

func TestStore_Update(t *testing.T) {
	t.Run("should return ErrNotFound for an unknown id", func(t *testing.T) {
		store := setupTestStore(t, newMemoryBlobs())

		_, err := store.Update(uuid.New(), func(*domain.Mapping) error { return nil })
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("\nwanted:\n%v\ngot:\n%v", domain.ErrNotFound, err)
		}
	})

	t.Run("should change nothing when the update function fails", func(t *testing.T) {
		blobs := newMemoryBlobs()
		store := setupTestStore(t, blobs)
		mapping := testMapping(t, "https://example.com/a", false, []byte("old"))
		store.Set(mapping)
		failed := errors.New("rejected")

		_, err := store.Update(mapping.ID, func(m *domain.Mapping) error {
			m.Content = []byte("new")
			return failed
		})
		if !errors.Is(err, failed) {
			t.Fatalf("\nwanted:\n%v\ngot:\n%v", failed, err)
		}

		got, _ := store.Get(mapping.ID, true)
		if string(got.Content) != "old" {
			t.Fatalf("\nwanted:\n%q\ngot:\n%q", "old", got.Content)
		}
		if data, _ := blobs.blob(contentBlob(mapping.ID)); string(data) != "old" {
			t.Fatalf("\nwanted:\n%q\ngot:\n%q", "old", data)
		}
	})

	t.Run("should apply and persist the update", func(t *testing.T) {
		blobs := newMemoryBlobs()
		store := setupTestStore(t, blobs)
		mapping := testMapping(t, "https://example.com/a", false, nil)
		store.Set(mapping)

		got, err := store.Update(mapping.ID, func(m *domain.Mapping) error {
			m.Content = []byte("new")
			return nil
		})
		if err != nil {
			t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
		}
		if got.ContentLength() != 3 {
			t.Fatalf("\nwanted:\n3\ngot:\n%d", got.ContentLength())
		}
		if data, _ := blobs.blob(contentBlob(mapping.ID)); string(data) != "new" {
			t.Fatalf("\nwanted:\n%q\ngot:\n%q", "new", data)
		}
	})

	t.Run("should keep a concurrently upserted pattern", func(t *testing.T) {
		for range 50 {
			blobs := newMemoryBlobs()
			blobs.delay = 100 * time.Microsecond
			store := setupTestStore(t, blobs)
			mapping := testMapping(t, "https://example.com/a", false, nil)
			store.Set(mapping)
			regex, _ := matcher.CompileKind("https://example.com/a", true)

			start := make(chan struct{})
			var wg sync.WaitGroup
			wg.Add(2)
			go func() {
				defer wg.Done()
				<-start
				store.Update(mapping.ID, func(m *domain.Mapping) error {
					m.Content = []byte("x")
					return nil
				})
			}()
			go func() {
				defer wg.Done()
				<-start
				store.Upsert(regex, uuid.NewV7)
			}()
			close(start)
			wg.Wait()

			got, _ := store.Get(mapping.ID, true)
			if got.Pattern.Kind() != domain.KindRegex || string(got.Content) != "x" {
				t.Fatalf("\nwanted:\nregex mapping with content \"x\"\ngot:\n%v %q", got.Pattern.Kind(), got.Content)
			}
		}
	})

	t.Run("should not bring back a concurrently deleted mapping", func(t *testing.T) {
		for range 50 {
			blobs := newMemoryBlobs()
			blobs.delay = 100 * time.Microsecond
			store := setupTestStore(t, blobs)
			mapping := testMapping(t, "https://example.com/a", false, nil)
			store.Set(mapping)

			start := make(chan struct{})
			var wg sync.WaitGroup
			wg.Add(2)
			go func() {
				defer wg.Done()
				<-start
				store.Update(mapping.ID, func(m *domain.Mapping) error {
					m.Content = []byte("x")
					return nil
				})
			}()
			go func() {
				defer wg.Done()
				<-start
				store.Delete(mapping.ID)
			}()
			close(start)
			wg.Wait()

			if store.Len() != 0 {
				t.Fatalf("\nwanted:\n0\ngot:\n%d", store.Len())
			}
			restarted := setupTestStore(t, blobs)
			if restarted.Len() != 0 {
				t.Fatalf("\nwanted:\n0 persisted\ngot:\n%d", restarted.Len())
			}
		}
	})
}
