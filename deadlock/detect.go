package deadlock

import (
	"time"

	"go.uber.org/zap"

	"github.com/driverkit/coord/halerr"
	"github.com/driverkit/coord/resource"
)

// preemptionDecayStep is how much hold time erodes one point of preemption
// priority. The decay floor of 1 is the only hard contract; the linear
// curve is an implementation choice.
const preemptionDecayStep = 100 * time.Millisecond

// DetectDeadlock runs cycle detection over the actual dependency graph.
// On finding a cycle it reports the ordered participants, the resources
// held by participants on the cycle and a human-readable description.
func (e *Engine) DetectDeadlock() (Info, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return Info{}, halerr.NotInitialized("deadlock engine")
	}

	info := Info{}
	visited := make(map[string]bool)
	stack := make(map[string]bool)

	for node := range e.graph {
		if visited[node] {
			continue
		}
		cycle := cycleDFS(e.graph, node, visited, stack, nil)
		if cycle == nil {
			continue
		}

		info.Detected = true
		info.CycleParticipants = cycle
		for _, dep := range e.dependencies {
			for _, participant := range cycle {
				if dep.Owner == participant {
					info.InvolvedResources = append(info.InvolvedResources, dep.Handle)
					break
				}
			}
		}
		info.Description = describeCycle(cycle)
		break
	}

	if info.Detected {
		e.statsMu.Lock()
		e.stats.DeadlocksDetected++
		e.statsMu.Unlock()
		e.logger.Warn("deadlock detected", zap.Strings("participants", info.CycleParticipants))
	}

	return info, nil
}

// ResolveDeadlock breaks a detected cycle by force-releasing every resource
// of the cycle participant with the lowest preemption score. The cascading
// releases unblock the remaining participants.
func (e *Engine) ResolveDeadlock(info Info) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return halerr.NotInitialized("deadlock engine")
	}
	if !info.Detected {
		return nil
	}

	victim := ""
	lowest := ^uint64(0)
	for _, participant := range info.CycleParticipants {
		var total uint64
		for _, h := range e.owned[participant] {
			total += uint64(e.preemptionPriorityLocked(h))
		}
		if total < lowest {
			lowest = total
			victim = participant
		}
	}
	if victim == "" {
		return halerr.New(halerr.CategoryInternal, "NO_VICTIM", "could not identify victim for preemption")
	}

	toRelease := append([]resource.Handle(nil), e.owned[victim]...)
	for _, h := range toRelease {
		if err := e.releaseLocked(victim, h); err != nil {
			return err
		}
	}

	e.statsMu.Lock()
	e.stats.DeadlocksResolved++
	e.stats.PreemptionsPerformed++
	e.statsMu.Unlock()

	e.logger.Warn("deadlock resolved by preemption",
		zap.String("victim", victim),
		zap.Int("resources_released", len(toRelease)))
	return nil
}

// preemptionPriorityLocked scores a held resource for victim selection.
// The base score comes from resource priority and flags; it decays the
// longer the resource has been held so long-held, low-priority holders are
// preempted first. The score never drops below 1. Caller holds mu.
func (e *Engine) preemptionPriorityLocked(h resource.Handle) uint32 {
	meta := h.Metadata()
	score := resource.PriorityScore(meta.Priority, meta.Flags)

	if since, ok := e.ownedSince[h.ID()]; ok {
		decay := uint32(time.Since(since) / preemptionDecayStep)
		if decay >= score {
			return 1
		}
		score -= decay
	}
	if score < 1 {
		return 1
	}
	return score
}
