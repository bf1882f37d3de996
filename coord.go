// Package coord wires the coordination layer together: the resource
// registry, the deadlock prevention engine, the cross-driver messenger and
// the driver registry, constructed explicitly and passed to drivers at
// startup. There is no global state; tests run isolated contexts in
// parallel.
package coord

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/driverkit/coord/config"
	"github.com/driverkit/coord/deadlock"
	"github.com/driverkit/coord/driver"
	"github.com/driverkit/coord/messenger"
	"github.com/driverkit/coord/resource"
)

// CoordinatorID is the handler id of the built-in engine-backed handler
// that services resource operations arriving over the messenger.
const CoordinatorID = "coordinator"

// Context owns one instance of every coordination component and their
// shared lifecycle.
type Context struct {
	mu          sync.Mutex
	initialized bool

	cfg       config.Config
	logger    *zap.Logger
	resources *resource.Registry
	engine    *deadlock.Engine
	bus       *messenger.Messenger
	drivers   *driver.Registry

	cleanupStop chan struct{}
	cleanupDone sync.WaitGroup
}

// Option adjusts context construction.
type Option func(*contextOptions)

type contextOptions struct {
	cfg    config.Config
	logger *zap.Logger
}

// WithConfig supplies a configuration; the default is config.Default().
func WithConfig(cfg config.Config) Option {
	return func(o *contextOptions) { o.cfg = cfg }
}

// WithLogger supplies a logger shared by all components; the default is a
// no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *contextOptions) { o.logger = logger }
}

// New constructs an unstarted coordination context.
func New(opts ...Option) *Context {
	o := contextOptions{cfg: config.Default(), logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	return &Context{
		cfg:       o.cfg,
		logger:    o.logger,
		resources: resource.NewRegistry(o.logger.Named("resource")),
		engine:    deadlock.NewEngine(o.logger.Named("deadlock")),
		bus: messenger.New(o.logger.Named("messenger"),
			messenger.WithQueueCapacity(o.cfg.QueueCapacity),
			messenger.WithPollInterval(o.cfg.PollInterval())),
		drivers: driver.NewRegistry(o.logger.Named("driver")),
	}
}

// Initialize starts the engine and messenger, applies configured order
// overrides, installs the built-in coordinator handler and starts the
// periodic expired-item sweep. Initialize is idempotent.
func (c *Context) Initialize() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.initialized {
		return nil
	}

	if err := c.engine.Initialize(); err != nil {
		return err
	}
	if err := c.bus.Initialize(); err != nil {
		c.engine.Shutdown()
		return err
	}
	if err := c.applyOrders(c.cfg); err != nil {
		c.bus.Shutdown()
		c.engine.Shutdown()
		return err
	}
	if err := c.bus.RegisterHandler(CoordinatorID, &coordinatorHandler{ctx: c}); err != nil {
		c.bus.Shutdown()
		c.engine.Shutdown()
		return err
	}

	period, err := c.cfg.CleanupPeriod()
	if err != nil {
		period = time.Second
	}
	c.cleanupStop = make(chan struct{})
	c.cleanupDone.Add(1)
	go c.cleanupLoop(period)

	if c.cfg.StatsLogInterval != "" {
		if statsPeriod, err := time.ParseDuration(c.cfg.StatsLogInterval); err == nil && statsPeriod > 0 {
			c.cleanupDone.Add(1)
			go c.statsLoop(statsPeriod)
		}
	}

	c.initialized = true
	c.logger.Info("coordination context initialized")
	return nil
}

// Shutdown stops every component and flushes all in-flight state so a
// subsequent Initialize starts clean. Shutdown is idempotent.
func (c *Context) Shutdown() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.initialized {
		return nil
	}

	close(c.cleanupStop)
	c.cleanupDone.Wait()

	if err := c.bus.Shutdown(); err != nil {
		return err
	}
	if err := c.engine.Shutdown(); err != nil {
		return err
	}
	c.resources.Clear()
	c.drivers.Clear()

	c.initialized = false
	c.logger.Info("coordination context shut down")
	return nil
}

// Resources returns the resource registry.
func (c *Context) Resources() *resource.Registry { return c.resources }

// Engine returns the deadlock prevention engine.
func (c *Context) Engine() *deadlock.Engine { return c.engine }

// Messenger returns the cross-driver message bus.
func (c *Context) Messenger() *messenger.Messenger { return c.bus }

// Drivers returns the driver registry.
func (c *Context) Drivers() *driver.Registry { return c.drivers }

// ApplyConfig applies the hot-reloadable subset of a new configuration:
// resource order overrides. Queue capacity and poll interval require a
// restart and are ignored here.
func (c *Context) ApplyConfig(cfg config.Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.initialized {
		c.cfg = cfg
		return nil
	}
	if err := c.applyOrders(cfg); err != nil {
		return err
	}
	c.cfg = cfg
	return nil
}

// applyOrders registers the configured order overrides. Caller holds mu.
func (c *Context) applyOrders(cfg config.Config) error {
	for _, o := range cfg.ResourceOrders {
		t, err := config.ParseType(o.Type)
		if err != nil {
			return err
		}
		if err := c.engine.RegisterOrder(deadlock.Order{
			Type:        t,
			Rank:        o.Rank,
			Description: o.Description,
		}); err != nil {
			return err
		}
	}
	return nil
}

// cleanupLoop periodically purges expired waiting requests and stale
// dependency edges.
func (c *Context) cleanupLoop(period time.Duration) {
	defer c.cleanupDone.Done()

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-c.cleanupStop:
			return
		case <-ticker.C:
			if n := c.engine.CleanupExpired(); n > 0 {
				c.logger.Debug("expired coordination items purged", zap.Int("count", n))
			}
		}
	}
}

// statsLoop periodically logs engine and messenger counters.
func (c *Context) statsLoop(period time.Duration) {
	defer c.cleanupDone.Done()

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-c.cleanupStop:
			return
		case <-ticker.C:
			es := c.engine.Stats()
			ms := c.bus.Stats()
			c.logger.Info("coordination stats",
				zap.Uint64("requests_processed", es.RequestsProcessed),
				zap.Uint64("requests_denied", es.RequestsDenied),
				zap.Uint64("deadlocks_detected", es.DeadlocksDetected),
				zap.Uint64("messages_sent", ms.MessagesSent),
				zap.Uint64("messages_dropped", ms.MessagesDropped),
				zap.Uint64("queue_depth", c.bus.QueueDepth()))
		}
	}
}
