package resource

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/driverkit/coord/halerr"
)

// Registry maps names, ids and types to resource handles. It is the sole
// owner of each resource's canonical metadata; every accessor returns an
// independent copy. All operations serialize through one mutex and are O(1)
// or O(bucket size).
type Registry struct {
	mu     sync.Mutex
	byID   map[uint64]*Handle  // Canonical handles
	byName map[string]uint64   // Name index
	byType map[Type][]uint64   // Type buckets
	nextID atomic.Uint64       // Monotonic id source, ids never reused
	logger *zap.Logger
}

// NewRegistry creates an empty registry. A nil logger is replaced with a
// no-op logger.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		byID:   make(map[uint64]*Handle),
		byName: make(map[string]uint64),
		byType: make(map[Type][]uint64),
		logger: logger,
	}
}

// Register creates a handle for a new named resource. Names are globally
// unique; registering an existing name fails with a Configuration error.
func (r *Registry) Register(name string, meta Metadata) (Handle, error) {
	if name == "" {
		return Handle{}, halerr.New(halerr.CategoryValidation, "EMPTY_NAME", "resource name must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[name]; exists {
		return Handle{}, halerr.AlreadyExists("resource", name)
	}

	h := &Handle{
		id:       r.nextID.Add(1),
		version:  1,
		name:     name,
		metadata: meta,
	}
	r.byID[h.id] = h
	r.byName[name] = h.id
	r.byType[meta.Type] = append(r.byType[meta.Type], h.id)

	r.logger.Debug("resource registered",
		zap.Uint64("id", h.id),
		zap.String("name", name),
		zap.String("type", meta.Type.String()))

	return *h, nil
}

// Unregister removes a resource. The id is never revisited.
func (r *Registry) Unregister(h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	canonical, ok := r.byID[h.id]
	if !ok {
		return halerr.NotFound("resource", h.name)
	}

	delete(r.byID, canonical.id)
	delete(r.byName, canonical.name)
	r.removeFromBucket(canonical.metadata.Type, canonical.id)

	r.logger.Debug("resource unregistered", zap.Uint64("id", canonical.id), zap.String("name", canonical.name))
	return nil
}

// Find looks up a resource by name.
func (r *Registry) Find(name string) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byName[name]
	if !ok {
		return Handle{}, halerr.NotFound("resource", name)
	}
	return *r.byID[id], nil
}

// ResourcesByType returns copies of all handles of the given type.
func (r *Registry) ResourcesByType(t Type) []Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := r.byType[t]
	out := make([]Handle, 0, len(ids))
	for _, id := range ids {
		if h, ok := r.byID[id]; ok {
			out = append(out, *h)
		}
	}
	return out
}

// Metadata returns the canonical metadata for a handle.
func (r *Registry) Metadata(h Handle) (Metadata, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	canonical, ok := r.byID[h.id]
	if !ok {
		return Metadata{}, halerr.NotFound("resource", h.name)
	}
	return canonical.metadata, nil
}

// UpdateMetadata replaces the canonical metadata, bumps the version and, if
// the type changed, moves the id between type buckets.
func (r *Registry) UpdateMetadata(h Handle, meta Metadata) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	canonical, ok := r.byID[h.id]
	if !ok {
		return halerr.NotFound("resource", h.name)
	}

	oldType := canonical.metadata.Type
	canonical.metadata = meta
	canonical.version++

	if meta.Type != oldType {
		r.removeFromBucket(oldType, canonical.id)
		r.byType[meta.Type] = append(r.byType[meta.Type], canonical.id)
	}
	return nil
}

// Count returns the number of registered resources.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// Clear removes every resource. Intended for shutdown and tests; the id
// counter is not reset, so ids stay unique across a Clear.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byID = make(map[uint64]*Handle)
	r.byName = make(map[string]uint64)
	r.byType = make(map[Type][]uint64)
}

// removeFromBucket drops id from the bucket for t. Caller holds mu.
func (r *Registry) removeFromBucket(t Type, id uint64) {
	bucket := r.byType[t]
	for i, bid := range bucket {
		if bid == id {
			r.byType[t] = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	if len(r.byType[t]) == 0 {
		delete(r.byType, t)
	}
}
