package resource

// Compatible reports whether two resource types can share a coordination
// domain. Memory and Hardware resources may alias each other (DMA buffers,
// memory-mapped registers); everything else only matches its own type.
func Compatible(a, b Type) bool {
	if a == b {
		return true
	}
	if (a == Memory && b == Hardware) || (a == Hardware && b == Memory) {
		return true
	}
	return false
}

// PriorityScore computes the arbitration score for a resource. Higher means
// more important. Exclusive, synchronized and DMA-capable resources get
// flat bonuses on top of the priority base.
func PriorityScore(p Priority, f Flags) uint32 {
	score := uint32(p) * 1000
	if f.Has(FlagExclusive) {
		score += 500
	}
	if f.Has(FlagSynchronized) {
		score += 200
	}
	if f.Has(FlagDMACapable) {
		score += 100
	}
	return score
}

// RequiresSynchronization reports whether access to a resource described by
// meta must be synchronized.
func RequiresSynchronization(meta Metadata) bool {
	return meta.Flags.Has(FlagSynchronized) ||
		meta.AccessPattern == ReadWrite ||
		meta.Priority >= PriorityHigh
}
