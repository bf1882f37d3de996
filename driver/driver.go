// Package driver tracks the drivers participating in coordination. Each
// driver declares a stable identity, the interface version it implements
// and version constraints on the peers it depends on; the registry rejects
// registrations whose constraints cannot be satisfied.
package driver

import (
	"sync"

	semver "github.com/Masterminds/semver/v3"
	"go.uber.org/zap"

	"github.com/driverkit/coord/halerr"
)

// Info describes one participating driver.
type Info struct {
	ID       string            // Stable driver identity, used as requester and handler id
	Version  string            // Semantic version of the driver's interface
	Provides []string          // Capability tags (e.g. "audio", "dma")
	Requires map[string]string // Peer driver id -> semver constraint
}

// Registry validates and tracks registered drivers.
type Registry struct {
	mu      sync.Mutex
	drivers map[string]registered
	logger  *zap.Logger
}

type registered struct {
	info    Info
	version *semver.Version
}

// NewRegistry creates an empty driver registry. A nil logger is replaced
// with a no-op logger.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		drivers: make(map[string]registered),
		logger:  logger,
	}
}

// Register validates info and adds the driver. The version must parse as a
// semantic version; every Requires constraint naming an already-registered
// peer must be satisfied by that peer's version. Constraints on absent
// peers are checked when the peer registers.
func (r *Registry) Register(info Info) error {
	if info.ID == "" {
		return halerr.New(halerr.CategoryValidation, "EMPTY_ID", "driver id must not be empty")
	}
	version, err := semver.NewVersion(info.Version)
	if err != nil {
		return halerr.Newf(halerr.CategoryValidation, "BAD_VERSION",
			"driver %q version %q: %v", info.ID, info.Version, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.drivers[info.ID]; exists {
		return halerr.AlreadyExists("driver", info.ID)
	}

	// Check this driver's requirements against registered peers.
	for peer, expr := range info.Requires {
		reg, present := r.drivers[peer]
		if !present {
			continue
		}
		if err := checkConstraint(info.ID, peer, expr, reg.version); err != nil {
			return err
		}
	}

	// Check registered peers' requirements against this driver.
	for _, reg := range r.drivers {
		expr, constrained := reg.info.Requires[info.ID]
		if !constrained {
			continue
		}
		if err := checkConstraint(reg.info.ID, info.ID, expr, version); err != nil {
			return err
		}
	}

	r.drivers[info.ID] = registered{info: info, version: version}
	r.logger.Info("driver registered",
		zap.String("driver", info.ID),
		zap.String("version", info.Version))
	return nil
}

// Unregister removes a driver.
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.drivers[id]; !exists {
		return halerr.NotFound("driver", id)
	}
	delete(r.drivers, id)
	return nil
}

// Lookup returns the registered info for a driver id.
func (r *Registry) Lookup(id string) (Info, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.drivers[id]
	if !ok {
		return Info{}, halerr.NotFound("driver", id)
	}
	return reg.info, nil
}

// ByCapability returns drivers advertising the given capability tag.
func (r *Registry) ByCapability(tag string) []Info {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Info
	for _, reg := range r.drivers {
		for _, cap := range reg.info.Provides {
			if cap == tag {
				out = append(out, reg.info)
				break
			}
		}
	}
	return out
}

// Count returns the number of registered drivers.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.drivers)
}

// Clear removes every driver.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drivers = make(map[string]registered)
}

// checkConstraint verifies that peerVersion satisfies expr, declared by
// dependent against peer.
func checkConstraint(dependent, peer, expr string, peerVersion *semver.Version) error {
	c, err := semver.NewConstraint(expr)
	if err != nil {
		return halerr.Newf(halerr.CategoryValidation, "BAD_CONSTRAINT",
			"driver %q constraint on %q: %v", dependent, peer, err)
	}
	if !c.Check(peerVersion) {
		return halerr.Newf(halerr.CategoryConfiguration, "INCOMPATIBLE_DRIVER",
			"driver %q requires %s %s, found %s", dependent, peer, expr, peerVersion)
	}
	return nil
}
