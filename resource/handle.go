package resource

// Handle identifies a registered resource. The zero Handle (ID 0) is
// invalid. Handles are value types; copies returned by the registry do not
// track later metadata updates and must be resubmitted through
// Registry.UpdateMetadata to persist changes.
type Handle struct {
	id       uint64   // Unique identifier, never reused
	version  uint32   // Bumped on every metadata update
	name     string   // Globally unique resource name
	metadata Metadata // Metadata snapshot at lookup time
}

// Valid reports whether the handle refers to a registered resource.
func (h Handle) Valid() bool { return h.id != 0 }

// ID returns the unique resource identifier.
func (h Handle) ID() uint64 { return h.id }

// Version returns the metadata version at the time of lookup.
func (h Handle) Version() uint32 { return h.version }

// Name returns the resource name.
func (h Handle) Name() string { return h.name }

// Metadata returns the metadata snapshot carried by the handle.
func (h Handle) Metadata() Metadata { return h.metadata }

// Equal reports identity, which is determined by ID alone.
func (h Handle) Equal(other Handle) bool { return h.id == other.id }

// RestoreHandle rebuilds a handle from serialized identity. The result
// carries no metadata; resolve it against a Registry before coordination
// decisions that depend on type or priority.
func RestoreHandle(id uint64, name string) Handle {
	return Handle{id: id, name: name, metadata: NewMetadata()}
}

