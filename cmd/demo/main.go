package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/comalice/tickx"
	"github.com/comalice/tickx/internal/config"
	"github.com/comalice/tickx/internal/diag"
	"github.com/comalice/tickx/internal/log"
	"github.com/comalice/tickx/realtime"
	"github.com/comalice/tickx/resource"
)

func main() {
	configPath := flag.String("config", "", "path to config file (YAML)")
	ticks := flag.Uint64("ticks", 200, "stop after this many ticks (0 runs until interrupted)")
	metricsAddr := flag.String("metrics-addr", "", "serve Prometheus metrics on this address")
	printDOT := flag.Bool("dot", false, "print the engine graph in DOT format on exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		boot := log.New(log.Config{Service: "tickx-demo"})
		boot.Fatal().Err(err).Str("config_path", *configPath).Msg("failed to load configuration")
	}
	log.Configure(log.Config{Level: cfg.LogLevel, Service: "tickx-demo"})
	logger := log.WithComponent("demo")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *ticks, *metricsAddr, *printDOT, logger); err != nil {
		logger.Error().Err(err).Msg("demo failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, ticks uint64, metricsAddr string, printDOT bool, logger zerolog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	resolutions := diag.NewChannelPublisher("demo", 256)
	eng := tickx.New(append(cfg.EngineOptions(), tickx.WithObserver(resolutions))...)
	logger = logger.With().Str(log.FieldSession, eng.Session().String()).Logger()

	res, err := resource.NewSet(eng, resource.Options{StarvationThreshold: cfg.StarvationThreshold})
	if err != nil {
		return err
	}
	host := newHostView()
	if _, err := resource.FollowHost(eng, res.Aim, host.rotation); err != nil {
		return err
	}

	for _, m := range []tickx.Module{
		hotbarCycler(res),
		aimAssist(res, logger.With().Str(log.FieldModule, "aim-assist").Logger()),
		inventorySorter(res, logger.With().Str(log.FieldModule, "inventory-sorter").Logger()),
	} {
		if err := eng.Install(m); err != nil {
			return err
		}
		if err := eng.Enable(m.ID()); err != nil {
			return err
		}
	}

	if ticks > 0 {
		timer := tickx.NewSequence().
			WaitTicks(int(ticks)).
			Run(func(f *tickx.Frame) {
				logger.Info().Uint64(log.FieldTick, uint64(f.Now())).Msg("tick budget reached")
				cancel()
			}).
			MustBuild()
		if _, err := eng.Spawn("demo.timer", timer); err != nil {
			return err
		}
	}

	rt := realtime.NewRuntime(eng, cfg.Runtime())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return rt.Run(gctx) })
	g.Go(func() error { return simulateNetwork(gctx, rt, host) })
	g.Go(func() error {
		consumeResolutions(gctx, resolutions, logger)
		return nil
	})
	if metricsAddr != "" {
		g.Go(func() error { return serveMetrics(gctx, metricsAddr, logger) })
	}

	err = g.Wait()
	_ = resolutions.Close()

	var snap tickx.Snapshot
	rt.Do(func(e *tickx.Engine) { snap = e.Snapshot() })
	if perr := saveSnapshot(cfg, snap, logger); perr != nil {
		err = errors.Join(err, perr)
	}
	if printDOT {
		fmt.Print(diag.ExportDOT(snap))
	}

	logger.Info().
		Uint64(log.FieldTick, uint64(snap.Tick)).
		Stringer("aim", res.Aim.Current()).
		Int("slot", res.Slot.Current()).
		Msg("demo stopped")
	return err
}

// hostView stands in for the client's real camera.
type hostView struct {
	start time.Time
}

func newHostView() *hostView { return &hostView{start: time.Now()} }

// rotation sweeps the view slowly so the aim baseline visibly moves.
func (h *hostView) rotation() resource.Rotation {
	return resource.Rotation{Yaw: float32(time.Since(h.start).Seconds() * 10)}.Normalize()
}

// simulateNetwork plays the part of the input and network threads: it
// reports targets and presses the inventory key from its own goroutine.
func simulateNetwork(ctx context.Context, rt *realtime.Runtime, host *hostView) error {
	ticker := time.NewTicker(700 * time.Millisecond)
	defer ticker.Stop()

	for n := 0; ; n++ {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		var err error
		switch n % 4 {
		case 0:
			target := host.rotation()
			target.Yaw += 60
			target.Pitch = -10
			err = rt.SendEventWithPriority(&tickx.PacketEvent{Name: packetTargetSpotted, Payload: target.Normalize()}, 1)
		case 2:
			err = rt.SendEventWithPriority(&tickx.PacketEvent{Name: packetTargetLost}, 1)
		default:
			err = rt.SendEvent(&tickx.KeyEvent{Key: keyInventory, Pressed: true})
		}
		if err != nil && !errors.Is(err, realtime.ErrQueueFull) {
			return err
		}
	}
}

func consumeResolutions(ctx context.Context, p *diag.ChannelPublisher, logger zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-p.C():
			if !ok {
				return
			}
			if r.Baseline {
				continue
			}
			logger.Debug().
				Str(log.FieldArbiter, r.Arbiter).
				Uint64(log.FieldTick, uint64(r.Tick)).
				Str(log.FieldWinner, string(r.Winner)).
				Int32(log.FieldPriority, r.Priority).
				Int("candidates", r.Candidates).
				Interface("value", r.Value).
				Msg("resolved")
		}
	}
}

func serveMetrics(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", addr).Msg("serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

func saveSnapshot(cfg config.Config, snap tickx.Snapshot, logger zerolog.Logger) error {
	dir := cfg.SnapshotDir
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "tickx")
	}
	p, err := diag.NewPersister(cfg.SnapshotFormat, dir)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Save(ctx, snap); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	logger.Info().Str("dir", dir).Str("format", cfg.SnapshotFormat).Msg("snapshot written")
	return nil
}
