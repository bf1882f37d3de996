// Package resource defines resource identity for the coordination layer:
// typed, versioned handles and the registry that owns their canonical
// metadata. Drivers describe the resources they own or need with Metadata
// and coordinate ownership through handles, never raw pointers.
package resource

import "time"

// Type classifies resources managed by the coordination system.
type Type uint32

const (
	Hardware      Type = 0x01       // Physical hardware resources (timers, DMA channels)
	Memory        Type = 0x02       // Memory regions, pools, caches
	Performance   Type = 0x04       // CPU time, bandwidth limits
	Communication Type = 0x08       // Message queues, event channels
	Platform      Type = 0x10       // Platform-specific resources
	Custom        Type = 0x80000000 // Custom resource types
)

// String returns the resource type name.
func (t Type) String() string {
	switch t {
	case Hardware:
		return "hardware"
	case Memory:
		return "memory"
	case Performance:
		return "performance"
	case Communication:
		return "communication"
	case Platform:
		return "platform"
	case Custom:
		return "custom"
	default:
		return "unknown"
	}
}

// AccessPattern describes how a resource is accessed, for optimization hints.
type AccessPattern uint8

const (
	ReadOnly  AccessPattern = iota // Resource is only read from
	WriteOnly                      // Resource is only written to
	ReadWrite                      // Resource is both read and written
	Streaming                      // Resource is accessed in streaming fashion
	Random                         // Resource is accessed randomly
)

// Priority is the arbitration priority of a resource.
type Priority uint8

const (
	PriorityLow      Priority = 0 // Background operations
	PriorityNormal   Priority = 1 // Standard operations
	PriorityHigh     Priority = 2 // Time-critical operations
	PriorityCritical Priority = 3 // System-critical operations
)

// Flags control resource behavior.
type Flags uint32

const (
	FlagNone          Flags = 0x00
	FlagShareable     Flags = 0x01 // Resource can be shared between drivers
	FlagExclusive     Flags = 0x02 // Resource requires exclusive access
	FlagPersistent    Flags = 0x04 // Resource persists across driver restarts
	FlagCacheable     Flags = 0x08 // Resource data can be cached
	FlagGPUAccessible Flags = 0x10 // Resource is GPU-accessible
	FlagDMACapable    Flags = 0x20 // Resource supports DMA transfers
	FlagMemoryMapped  Flags = 0x40 // Resource is memory-mapped
	FlagSynchronized  Flags = 0x80 // Resource requires synchronization
)

// Has reports whether all bits in mask are set.
func (f Flags) Has(mask Flags) bool { return f&mask == mask }

// DefaultTimeout is the metadata timeout applied when none is given.
const DefaultTimeout = 5 * time.Second

// Metadata carries the coordination-relevant description of a resource.
// The registry owns the canonical copy; callers hold independent copies.
type Metadata struct {
	Type          Type          // Resource type
	AccessPattern AccessPattern // Access pattern hint
	Priority      Priority      // Arbitration priority
	Flags         Flags         // Behavior flags
	SizeBytes     uint64        // Resource size in bytes
	AlignBytes    uint64        // Required alignment in bytes
	Timeout       time.Duration // Coordination timeout
	Description   string        // Human-readable description
	PlatformData  []byte        // Opaque platform-specific blob
}

// NewMetadata returns metadata with the same defaults the registry applies:
// Custom type, ReadWrite access, Normal priority, 1-byte alignment and the
// default timeout.
func NewMetadata() Metadata {
	return Metadata{
		Type:          Custom,
		AccessPattern: ReadWrite,
		Priority:      PriorityNormal,
		AlignBytes:    1,
		Timeout:       DefaultTimeout,
	}
}
