// Package deadlock implements the deadlock prevention engine of the
// coordination layer. It tracks resource ownership per requester, maintains
// the waiter dependency graph, enforces a global resource-type acquisition
// order and detects wait-for cycles by depth-first search. Detected cycles
// are resolved by preempting the lowest-priority participant.
package deadlock

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/driverkit/coord/halerr"
	"github.com/driverkit/coord/resource"
)

// Request asks the engine to grant a resource to a requester. Requests are
// ephemeral: they live only inside the waiting queue until granted or
// expired.
type Request struct {
	RequesterID string            // Requesting driver or subsystem
	Handle      resource.Handle   // Resource being requested
	Priority    resource.Priority // Request priority
	RequestTime time.Time         // When the request was made
	Timeout     time.Duration     // Maximum time to wait in the queue
	Exclusive   bool              // Whether exclusive access is needed
}

// NewRequest builds a request with Normal priority, the default timeout and
// exclusive access.
func NewRequest(requesterID string, h resource.Handle) Request {
	return Request{
		RequesterID: requesterID,
		Handle:      h,
		Priority:    resource.PriorityNormal,
		RequestTime: time.Now(),
		Timeout:     resource.DefaultTimeout,
		Exclusive:   true,
	}
}

// Dependency is a directed edge in the dependency graph: Waiter is blocked
// behind Owner for Handle. An edge exists if and only if a matching entry
// exists in the waiting queue.
type Dependency struct {
	Owner     string          // Requester that owns the resource
	Waiter    string          // Requester waiting for the resource
	Handle    resource.Handle // Resource causing the dependency
	CreatedAt time.Time       // When the edge was created
}

// Order assigns an acquisition rank to a resource type. Lower ranks must be
// acquired first; a requester may never acquire a resource ranked below one
// it already holds.
type Order struct {
	Type        resource.Type // Resource type
	Rank        uint32        // Ordering value, lower acquires first
	Description string        // Human-readable description
}

// Stats counts engine activity since the last ClearStats.
type Stats struct {
	RequestsProcessed    uint64  // Acquisition requests handled
	RequestsDenied       uint64  // Requests rejected as unsafe
	DeadlocksDetected    uint64  // Cycles found by DetectDeadlock
	DeadlocksResolved    uint64  // Cycles broken by ResolveDeadlock
	TimeoutsOccurred     uint64  // Waiting requests expired
	PreemptionsPerformed uint64  // Victims preempted
	AverageWaitTimeMs    float64 // Mean queue wait of granted requests
}

// Info describes a detected deadlock.
type Info struct {
	Detected          bool              // Whether a cycle was found
	CycleParticipants []string          // Requesters on the cycle, in order
	InvolvedResources []resource.Handle // Resources held by cycle members
	Description       string            // Human-readable summary
}

// defaultRankUnknown is the rank applied to types with no registered order.
const defaultRankUnknown = 999

// dependencyMaxAge is the hard ceiling on dependency edge lifetime enforced
// by CleanupExpired.
const dependencyMaxAge = 30 * time.Second

// Engine is the deadlock prevention engine. All state is guarded by one
// engine-wide mutex; operations are O(graph size) and short-lived.
type Engine struct {
	mu          sync.Mutex
	initialized bool

	orders       map[resource.Type]Order      // Acquisition order table
	owned        map[string][]resource.Handle // Requester -> owned resources
	owners       map[uint64]string            // Resource id -> owner
	ownedSince   map[uint64]time.Time         // Resource id -> acquisition time
	dependencies []Dependency                 // All dependency edges
	graph        map[string][]string          // Waiter -> owners it waits on
	waiting      []Request                    // FIFO waiting queue

	statsMu      sync.Mutex
	stats        Stats
	grantedWaits uint64  // Granted-from-queue count, for the wait average
	waitSumMs    float64 // Summed queue wait of granted requests

	logger *zap.Logger
}

// NewEngine creates an engine. A nil logger is replaced with a no-op logger.
// The engine is unusable until Initialize is called.
func NewEngine(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{logger: logger}
}

// Initialize installs the default acquisition order and clears all state.
// Calling Initialize on an initialized engine is a no-op.
func (e *Engine) Initialize() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.initialized {
		return nil
	}

	e.orders = map[resource.Type]Order{
		resource.Memory:        {Type: resource.Memory, Rank: 100, Description: "Memory resources"},
		resource.Hardware:      {Type: resource.Hardware, Rank: 200, Description: "Hardware resources"},
		resource.Performance:   {Type: resource.Performance, Rank: 300, Description: "Performance resources"},
		resource.Communication: {Type: resource.Communication, Rank: 400, Description: "Communication resources"},
		resource.Platform:      {Type: resource.Platform, Rank: 500, Description: "Platform resources"},
		resource.Custom:        {Type: resource.Custom, Rank: 1000, Description: "Custom resources"},
	}
	e.owned = make(map[string][]resource.Handle)
	e.owners = make(map[uint64]string)
	e.ownedSince = make(map[uint64]time.Time)
	e.dependencies = nil
	e.graph = make(map[string][]string)
	e.waiting = nil

	e.statsMu.Lock()
	e.stats = Stats{}
	e.grantedWaits = 0
	e.waitSumMs = 0
	e.statsMu.Unlock()

	e.initialized = true
	e.logger.Info("deadlock engine initialized")
	return nil
}

// Shutdown flushes all in-flight state so a subsequent Initialize starts
// clean. Shutdown is idempotent.
func (e *Engine) Shutdown() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return nil
	}

	e.orders = nil
	e.owned = nil
	e.owners = nil
	e.ownedSince = nil
	e.dependencies = nil
	e.graph = nil
	e.waiting = nil
	e.initialized = false

	e.logger.Info("deadlock engine shut down")
	return nil
}

// RegisterOrder sets or replaces the acquisition rank for a resource type.
func (e *Engine) RegisterOrder(order Order) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return halerr.NotInitialized("deadlock engine")
	}
	e.orders[order.Type] = order
	return nil
}

// IsAcquisitionSafe reports whether granting the request could not
// contribute to a deadlock: the request must respect the global acquisition
// order and the implied wait-for edge must not close a cycle.
func (e *Engine) IsAcquisitionSafe(req Request) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return false, halerr.NotInitialized("deadlock engine")
	}
	return e.isSafeLocked(req), nil
}

// RequestAcquisition attempts to acquire a resource for a requester.
//
// Outcomes: nil when ownership transferred immediately; a Resource error
// with code WOULD_DEADLOCK when the request is unsafe (it is not queued);
// a Resource error with code QUEUED when the resource is owned and the
// request was added to the waiting queue with a dependency edge recorded.
// A request carrying the invalid zero handle fails with a Validation error.
func (e *Engine) RequestAcquisition(req Request) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return halerr.NotInitialized("deadlock engine")
	}
	if !req.Handle.Valid() {
		return halerr.Newf(halerr.CategoryValidation, "INVALID_HANDLE",
			"requester %q submitted an invalid resource handle", req.RequesterID)
	}

	e.statsMu.Lock()
	e.stats.RequestsProcessed++
	e.statsMu.Unlock()

	if req.RequestTime.IsZero() {
		req.RequestTime = time.Now()
	}

	// Re-acquiring a resource the requester already holds is a no-op.
	if owner, held := e.owners[req.Handle.ID()]; held && owner == req.RequesterID {
		return nil
	}

	if !e.isSafeLocked(req) {
		e.statsMu.Lock()
		e.stats.RequestsDenied++
		e.statsMu.Unlock()

		e.logger.Debug("acquisition denied",
			zap.String("requester", req.RequesterID),
			zap.String("resource", req.Handle.Name()))
		return halerr.Newf(halerr.CategoryResource, "WOULD_DEADLOCK",
			"acquisition of %q by %q would cause deadlock", req.Handle.Name(), req.RequesterID)
	}

	if owner, held := e.owners[req.Handle.ID()]; held && owner != req.RequesterID {
		e.waiting = append(e.waiting, req)
		e.addEdgeLocked(owner, req.RequesterID, req.Handle)

		e.logger.Debug("acquisition queued",
			zap.String("requester", req.RequesterID),
			zap.String("owner", owner),
			zap.String("resource", req.Handle.Name()))
		return halerr.Newf(halerr.CategoryResource, "QUEUED",
			"resource %q currently owned, request queued", req.Handle.Name())
	}

	e.grantLocked(req)
	return nil
}

// Release returns a resource owned by requesterID to the free state and
// re-attempts every queued request for it in FIFO order.
func (e *Engine) Release(requesterID string, h resource.Handle) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return halerr.NotInitialized("deadlock engine")
	}
	return e.releaseLocked(requesterID, h)
}

// Ownership returns a snapshot of the owned-resources table.
func (e *Engine) Ownership() map[string][]resource.Handle {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[string][]resource.Handle, len(e.owned))
	for requester, handles := range e.owned {
		out[requester] = append([]resource.Handle(nil), handles...)
	}
	return out
}

// OwnerOf returns the current owner of a resource id, if any.
func (e *Engine) OwnerOf(resourceID uint64) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	owner, ok := e.owners[resourceID]
	return owner, ok
}

// WaitingRequests returns a snapshot of the waiting queue in FIFO order.
func (e *Engine) WaitingRequests() []Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Request(nil), e.waiting...)
}

// Dependencies returns a snapshot of the current dependency edges.
func (e *Engine) Dependencies() []Dependency {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Dependency(nil), e.dependencies...)
}

// CleanupExpired purges waiting requests older than their timeout and
// dependency edges older than the 30-second ceiling. It returns the number
// of purged items; each purged request increments the timeout counter.
func (e *Engine) CleanupExpired() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return 0
	}

	now := time.Now()
	cleaned := 0

	kept := e.waiting[:0]
	for _, req := range e.waiting {
		if now.Sub(req.RequestTime) < req.Timeout {
			kept = append(kept, req)
			continue
		}
		cleaned++
		e.statsMu.Lock()
		e.stats.TimeoutsOccurred++
		e.statsMu.Unlock()
		e.removeEdgesForWaiterLocked(req.RequesterID, req.Handle.ID())
		e.logger.Debug("waiting request expired",
			zap.String("requester", req.RequesterID),
			zap.String("resource", req.Handle.Name()))
	}
	e.waiting = kept

	keptDeps := e.dependencies[:0]
	for _, dep := range e.dependencies {
		if now.Sub(dep.CreatedAt) > dependencyMaxAge {
			cleaned++
			e.removeGraphEdgeLocked(dep.Waiter, dep.Owner)
			continue
		}
		keptDeps = append(keptDeps, dep)
	}
	e.dependencies = keptDeps

	return cleaned
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	return e.stats
}

// ClearStats resets all counters.
func (e *Engine) ClearStats() {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	e.stats = Stats{}
	e.grantedWaits = 0
	e.waitSumMs = 0
}

// isSafeLocked implements the safety check. Caller holds mu.
func (e *Engine) isSafeLocked(req Request) bool {
	// Re-acquiring an owned resource is always safe.
	if owner, held := e.owners[req.Handle.ID()]; held && owner == req.RequesterID {
		return true
	}

	if !e.checkOrderingLocked(req.RequesterID, req.Handle) {
		return false
	}

	owner, held := e.owners[req.Handle.ID()]
	if !held {
		return true
	}

	// Simulate the wait-for edge requester -> owner and look for a cycle.
	sim := make(map[string][]string, len(e.graph)+1)
	for node, next := range e.graph {
		sim[node] = next
	}
	sim[req.RequesterID] = append(append([]string(nil), sim[req.RequesterID]...), owner)

	visited := make(map[string]bool)
	stack := make(map[string]bool)
	for node := range sim {
		if !visited[node] {
			if cycleDFS(sim, node, visited, stack, nil) != nil {
				return false
			}
		}
	}
	return true
}

// checkOrderingLocked verifies that acquiring h keeps the requester's held
// set consistent with the global acquisition order. Caller holds mu.
func (e *Engine) checkOrderingLocked(requesterID string, h resource.Handle) bool {
	held, ok := e.owned[requesterID]
	if !ok {
		return true
	}
	newRank := e.rankLocked(h.Metadata().Type)
	for _, owned := range held {
		if newRank < e.rankLocked(owned.Metadata().Type) {
			return false
		}
	}
	return true
}

// rankLocked returns the acquisition rank for a type. Caller holds mu.
func (e *Engine) rankLocked(t resource.Type) uint32 {
	if order, ok := e.orders[t]; ok {
		return order.Rank
	}
	return defaultRankUnknown
}

// grantLocked transfers ownership to the requester. Caller holds mu.
func (e *Engine) grantLocked(req Request) {
	e.owners[req.Handle.ID()] = req.RequesterID
	e.owned[req.RequesterID] = append(e.owned[req.RequesterID], req.Handle)
	e.ownedSince[req.Handle.ID()] = time.Now()
}

// releaseLocked removes ownership and re-drives the waiting queue. Caller
// holds mu.
func (e *Engine) releaseLocked(requesterID string, h resource.Handle) error {
	owner, held := e.owners[h.ID()]
	if !held || owner != requesterID {
		return halerr.Newf(halerr.CategoryConfiguration, "NOT_OWNER",
			"requester %q does not own resource %q", requesterID, h.Name()).
			With("requester", requesterID)
	}

	delete(e.owners, h.ID())
	delete(e.ownedSince, h.ID())

	handles := e.owned[requesterID]
	for i, owned := range handles {
		if owned.ID() == h.ID() {
			e.owned[requesterID] = append(handles[:i], handles[i+1:]...)
			break
		}
	}
	if len(e.owned[requesterID]) == 0 {
		delete(e.owned, requesterID)
	}

	// Drop edges that pointed at this requester for this resource.
	keptDeps := e.dependencies[:0]
	for _, dep := range e.dependencies {
		if dep.Owner == requesterID && dep.Handle.ID() == h.ID() {
			e.removeGraphEdgeLocked(dep.Waiter, dep.Owner)
			continue
		}
		keptDeps = append(keptDeps, dep)
	}
	e.dependencies = keptDeps

	e.logger.Debug("resource released",
		zap.String("requester", requesterID),
		zap.String("resource", h.Name()))

	e.redriveWaitersLocked(h.ID())
	return nil
}

// redriveWaitersLocked re-attempts every queued request for the given
// resource in FIFO submission order. Caller holds mu.
func (e *Engine) redriveWaitersLocked(resourceID uint64) {
	remaining := e.waiting[:0:0]
	for _, req := range e.waiting {
		if req.Handle.ID() != resourceID {
			remaining = append(remaining, req)
			continue
		}
		if !e.isSafeLocked(req) {
			remaining = append(remaining, req)
			continue
		}
		if owner, held := e.owners[resourceID]; held {
			// Granted to an earlier waiter; stay queued behind the new owner.
			remaining = append(remaining, req)
			e.addEdgeLocked(owner, req.RequesterID, req.Handle)
			continue
		}
		e.grantLocked(req)
		e.recordWaitLocked(req)
		e.logger.Debug("queued request granted",
			zap.String("requester", req.RequesterID),
			zap.String("resource", req.Handle.Name()))
	}
	e.waiting = remaining
}

// recordWaitLocked folds a granted queue wait into the wait-time average.
func (e *Engine) recordWaitLocked(req Request) {
	waited := time.Since(req.RequestTime)

	e.statsMu.Lock()
	e.grantedWaits++
	e.waitSumMs += float64(waited.Microseconds()) / 1000.0
	e.stats.AverageWaitTimeMs = e.waitSumMs / float64(e.grantedWaits)
	e.statsMu.Unlock()
}

// addEdgeLocked records a dependency edge owner -> waiter for handle,
// skipping exact duplicates. Caller holds mu.
func (e *Engine) addEdgeLocked(owner, waiter string, h resource.Handle) {
	for _, dep := range e.dependencies {
		if dep.Owner == owner && dep.Waiter == waiter && dep.Handle.ID() == h.ID() {
			return
		}
	}
	e.dependencies = append(e.dependencies, Dependency{
		Owner:     owner,
		Waiter:    waiter,
		Handle:    h,
		CreatedAt: time.Now(),
	})
	e.graph[waiter] = append(e.graph[waiter], owner)
}

// removeEdgesForWaiterLocked drops the edges created by a waiter's queued
// request for a resource. Caller holds mu.
func (e *Engine) removeEdgesForWaiterLocked(waiter string, resourceID uint64) {
	kept := e.dependencies[:0]
	for _, dep := range e.dependencies {
		if dep.Waiter == waiter && dep.Handle.ID() == resourceID {
			e.removeGraphEdgeLocked(dep.Waiter, dep.Owner)
			continue
		}
		kept = append(kept, dep)
	}
	e.dependencies = kept
}

// removeGraphEdgeLocked removes one waiter -> owner adjacency entry.
// Caller holds mu.
func (e *Engine) removeGraphEdgeLocked(waiter, owner string) {
	next := e.graph[waiter]
	for i, node := range next {
		if node == owner {
			e.graph[waiter] = append(next[:i], next[i+1:]...)
			break
		}
	}
	if len(e.graph[waiter]) == 0 {
		delete(e.graph, waiter)
	}
}

// cycleDFS walks the wait-for graph from node, flagging back edges via the
// recursion stack. It returns the cycle path when one is found, ending with
// the node that closed the cycle.
func cycleDFS(graph map[string][]string, node string, visited, stack map[string]bool, path []string) []string {
	visited[node] = true
	stack[node] = true
	path = append(path, node)

	for _, next := range graph[node] {
		if !visited[next] {
			if cycle := cycleDFS(graph, next, visited, stack, path); cycle != nil {
				return cycle
			}
		} else if stack[next] {
			return append(path, next)
		}
	}

	stack[node] = false
	return nil
}

// describeCycle formats a cycle path for logs and Info.Description.
func describeCycle(participants []string) string {
	var b strings.Builder
	b.WriteString("Deadlock detected involving requesters: ")
	for i, p := range participants {
		if i > 0 {
			b.WriteString(" -> ")
		}
		b.WriteString(p)
	}
	return b.String()
}
