// Command coord-demo exercises the coordination layer end to end: it wires
// a context from an optional config file, registers two drivers and their
// resources, demonstrates the lock guard, a messenger round trip, a forced
// deadlock with detection and resolution, and dumps statistics.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	coord "github.com/driverkit/coord"
	"github.com/driverkit/coord/config"
	"github.com/driverkit/coord/deadlock"
	"github.com/driverkit/coord/driver"
	"github.com/driverkit/coord/messenger"
	"github.com/driverkit/coord/resource"
)

func main() {
	configPath := flag.String("config", "", "path to JSON config file")
	watch := flag.Bool("watch", false, "hot-reload the config file on change")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "load config:", err)
			os.Exit(1)
		}
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx := coord.New(coord.WithConfig(cfg), coord.WithLogger(logger))
	if err := ctx.Initialize(); err != nil {
		logger.Fatal("initialize", zap.Error(err))
	}
	defer ctx.Shutdown()

	if *watch && *configPath != "" {
		w, err := config.Watch(*configPath, func(newCfg config.Config) {
			if err := ctx.ApplyConfig(newCfg); err != nil {
				logger.Warn("apply config", zap.Error(err))
			}
		}, logger)
		if err != nil {
			logger.Fatal("watch config", zap.Error(err))
		}
		defer w.Close()
	}

	if err := registerDrivers(ctx); err != nil {
		logger.Fatal("register drivers", zap.Error(err))
	}

	framebuffer, vramPool := registerResources(ctx, logger)

	demoLockGuard(ctx, logger, framebuffer)
	demoMessenger(ctx, logger)
	demoDeadlock(ctx, logger, framebuffer, vramPool)

	dumpStats(ctx)
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	if level != "" {
		parsed, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, err
		}
		cfg.Level = zap.NewAtomicLevelAt(parsed)
	}
	return cfg.Build()
}

func registerDrivers(ctx *coord.Context) error {
	gpu := driver.Info{
		ID:       "gpu",
		Version:  "2.1.0",
		Provides: []string{"graphics", "dma"},
	}
	audio := driver.Info{
		ID:       "audio",
		Version:  "1.4.2",
		Provides: []string{"audio"},
		Requires: map[string]string{"gpu": ">=2.0.0"},
	}
	if err := ctx.Drivers().Register(gpu); err != nil {
		return err
	}
	return ctx.Drivers().Register(audio)
}

func registerResources(ctx *coord.Context, logger *zap.Logger) (resource.Handle, resource.Handle) {
	fbMeta := resource.NewMetadata()
	fbMeta.Type = resource.Hardware
	fbMeta.Priority = resource.PriorityHigh
	fbMeta.Flags = resource.FlagExclusive | resource.FlagGPUAccessible
	fbMeta.SizeBytes = 640 * 480 * 4
	framebuffer, err := ctx.Resources().Register("gpu.framebuffer", fbMeta)
	if err != nil {
		logger.Fatal("register framebuffer", zap.Error(err))
	}

	vramMeta := resource.NewMetadata()
	vramMeta.Type = resource.Memory
	vramMeta.Flags = resource.FlagExclusive | resource.FlagDMACapable
	vramMeta.SizeBytes = 2 << 20
	vramPool, err := ctx.Resources().Register("gpu.vram_pool", vramMeta)
	if err != nil {
		logger.Fatal("register vram pool", zap.Error(err))
	}
	return framebuffer, vramPool
}

func demoLockGuard(ctx *coord.Context, logger *zap.Logger, framebuffer resource.Handle) {
	lock := deadlock.NewLock(ctx.Engine(), "gpu", framebuffer)
	logger.Info("framebuffer lock attempt", zap.Stringer("state", lock.State()))

	// A second requester queues behind the holder rather than blocking.
	contender := deadlock.NewLock(ctx.Engine(), "audio", framebuffer,
		deadlock.WithTimeout(200*time.Millisecond))
	logger.Info("contending lock attempt", zap.Stringer("state", contender.State()))

	if err := lock.Release(); err != nil {
		logger.Warn("release", zap.Error(err))
	}
}

func demoMessenger(ctx *coord.Context, logger *zap.Logger) {
	echo := &messenger.HandlerFunc{
		ID:    "audio",
		Types: []messenger.Type{messenger.Request, messenger.Notification},
		Fn: func(msg messenger.Message) (*messenger.Message, error) {
			if msg.Header.Type != messenger.Request {
				return nil, nil
			}
			out := messenger.NewMessage(messenger.Header{}, &messenger.ResourceResponsePayload{
				Success: true,
				Message: "pong",
			})
			return &out, nil
		},
	}
	if err := ctx.Messenger().RegisterHandler("audio", echo); err != nil {
		logger.Fatal("register handler", zap.Error(err))
	}

	request := messenger.NewMessage(
		messenger.NewHeader(messenger.Request, "gpu", "audio"),
		&messenger.ResourceResponsePayload{Success: true, Message: "ping"},
	)
	response, err := ctx.Messenger().SendRequest(request, 500*time.Millisecond)
	if err != nil {
		logger.Warn("request failed", zap.Error(err))
		return
	}
	payload := response.Payload.(*messenger.ResourceResponsePayload)
	logger.Info("round trip complete", zap.String("reply", payload.Message))
}

func demoDeadlock(ctx *coord.Context, logger *zap.Logger, framebuffer, vramPool resource.Handle) {
	engine := ctx.Engine()

	// gpu holds vram, audio holds framebuffer; each then wants the other.
	engine.RequestAcquisition(deadlock.NewRequest("gpu", vramPool))
	engine.RequestAcquisition(deadlock.NewRequest("audio", framebuffer))
	engine.RequestAcquisition(deadlock.NewRequest("gpu", framebuffer))
	engine.RequestAcquisition(deadlock.NewRequest("audio", vramPool))

	info, err := engine.DetectDeadlock()
	if err != nil {
		logger.Fatal("detect", zap.Error(err))
	}
	if info.Detected {
		logger.Info("deadlock found", zap.Strings("cycle", info.CycleParticipants))
		if err := engine.ResolveDeadlock(info); err != nil {
			logger.Warn("resolve", zap.Error(err))
		}
	} else {
		logger.Info("no deadlock: ordering constraints rejected the unsafe request")
	}
}

func dumpStats(ctx *coord.Context) {
	ds := ctx.Engine().Stats()
	ms := ctx.Messenger().Stats()
	fmt.Printf("engine: processed=%d denied=%d detected=%d resolved=%d preemptions=%d timeouts=%d\n",
		ds.RequestsProcessed, ds.RequestsDenied, ds.DeadlocksDetected,
		ds.DeadlocksResolved, ds.PreemptionsPerformed, ds.TimeoutsOccurred)
	fmt.Printf("messenger: sent=%d received=%d dropped=%d expired=%d requests=%d timeouts=%d avg_rtt=%.2fms\n",
		ms.MessagesSent, ms.MessagesReceived, ms.MessagesDropped,
		ms.MessagesExpired, ms.RequestsSent, ms.RequestsTimeout, ms.AverageResponseTimeMs)
}
