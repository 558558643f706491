package serving

import (
	"sort"
	"sync"
	"sync/atomic"

	"credchain-risk/internal/ml"
	"credchain-risk/internal/models"
)

// Entry is an immutable registry record. model is set only when the entry
// is ready.
type Entry struct {
	Info  models.ModelInfo
	model *servedModel
}

// Repository is the model registry. Writes must be serialized by the
// caller; Get and List may run concurrently with writes and always observe
// a complete snapshot.
type Repository interface {
	Get(name string) (*Entry, bool)
	Put(entry *Entry)
	Delete(name string) (*Entry, bool)
	List() []*Entry
}

// SnapshotRepository publishes a fresh copy of the map on every write.
type SnapshotRepository struct {
	mu   sync.Mutex
	snap atomic.Pointer[map[string]*Entry]
}

func NewSnapshotRepository() *SnapshotRepository {
	r := &SnapshotRepository{}
	empty := map[string]*Entry{}
	r.snap.Store(&empty)
	return r
}

func (r *SnapshotRepository) Get(name string) (*Entry, bool) {
	e, ok := (*r.snap.Load())[name]
	return e, ok
}

func (r *SnapshotRepository) Put(entry *Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.copyLocked()
	next[entry.Info.Name] = entry
	r.snap.Store(&next)
}

func (r *SnapshotRepository) Delete(name string) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := *r.snap.Load()
	e, ok := current[name]
	if !ok {
		return nil, false
	}
	next := r.copyLocked()
	delete(next, name)
	r.snap.Store(&next)
	return e, true
}

func (r *SnapshotRepository) List() []*Entry {
	current := *r.snap.Load()
	out := make([]*Entry, 0, len(current))
	for _, e := range current {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Info.Name < out[j].Info.Name })
	return out
}

func (r *SnapshotRepository) copyLocked() map[string]*Entry {
	current := *r.snap.Load()
	next := make(map[string]*Entry, len(current)+1)
	for k, v := range current {
		next[k] = v
	}
	return next
}

// servedModel guards an artifact so it is released only after in-flight
// predictions finish.
type servedModel struct {
	mu       sync.RWMutex
	artifact *ml.Artifact
	disposed bool
}

func newServedModel(a *ml.Artifact) *servedModel {
	return &servedModel{artifact: a}
}

// acquire pins the artifact. Callers must release when ok.
func (m *servedModel) acquire() (*ml.Artifact, bool) {
	m.mu.RLock()
	if m.disposed {
		m.mu.RUnlock()
		return nil, false
	}
	return m.artifact, true
}

func (m *servedModel) release() {
	m.mu.RUnlock()
}

// dispose waits for pinned readers and drops the artifact.
func (m *servedModel) dispose() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disposed = true
	m.artifact = nil
}
