package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/NERVsystems/demo9p/internal/audio"
	"github.com/NERVsystems/demo9p/internal/capture"
	"github.com/NERVsystems/demo9p/internal/capturefs"
	"github.com/NERVsystems/demo9p/internal/config"
	"github.com/NERVsystems/demo9p/internal/demo"
	"github.com/NERVsystems/demo9p/internal/loopback"
	"github.com/NERVsystems/demo9p/internal/observe"
	"github.com/NERVsystems/demo9p/internal/pool"
	"github.com/NERVsystems/demo9p/internal/protocol"
	"github.com/NERVsystems/demo9p/internal/video"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the backing directory over 9P",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	f := serveCmd.Flags()
	f.String("addr", "", "9P listen address (default :5640)")
	f.String("backing", "", "directory exported to clients")
	f.String("output", "", "directory receiving converted captures")
	f.Bool("hide-files", false, "return empty directory listings")
	f.Bool("debug", false, "trace every 9P message")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, cfgPath, err := loadConfig(cmd.Flags())
	if err != nil {
		return err
	}

	level := new(slog.LevelVar)
	level.Set(logLevel(cfg))
	slog.SetDefault(newLogger(os.Stderr, cfg.Log.Format, level))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(sctx); err != nil {
			slog.Warn("metrics shutdown failed", "err", err)
		}
	}()
	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	if fi, err := os.Stat(cfg.BackingDir); err != nil || !fi.IsDir() {
		return fmt.Errorf("backing directory %q is not a directory", cfg.BackingDir)
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	out := afero.NewBasePathFs(afero.NewOsFs(), cfg.OutputDir)

	frames := pool.New[byte]()
	samples := pool.New[int]()
	if err := errors.Join(
		metrics.ObservePool("frames", frames.Stats),
		metrics.ObservePool("samples", samples.Stats),
	); err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	router := capture.NewRouter(
		loopback.New(cfg.BackingDir),
		demo.NewFactory(frames),
		video.NewFactory(out),
		audio.NewFactory(audio.Config{
			Output:        out,
			Samples:       samples,
			BufferSamples: cfg.Audio.BufferSamples,
		}),
		capture.WithRecorder(metrics),
	)
	router.SetHideFiles(cfg.HideFiles)
	router.AddListener(observe.NewListener(metrics))

	srv := protocol.NewServer(capturefs.New(router))
	srv.SetDebug(cfg.Debug)

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.ListenAddr, err)
	}
	slog.Info("demo9p listening",
		"addr", ln.Addr().String(),
		"backing", cfg.BackingDir,
		"output", cfg.OutputDir,
		"version", version,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(gctx, ln)
	})

	if cfg.Metrics.ListenAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", observe.Handler())
		hs := &http.Server{Addr: cfg.Metrics.ListenAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			slog.Info("metrics listening", "addr", cfg.Metrics.ListenAddr)
			if err := hs.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return hs.Shutdown(sctx)
		})
	}

	if cfg.FlushInterval > 0 {
		g.Go(func() error {
			return flushLoop(gctx, router, cfg.FlushInterval)
		})
	}

	if cfgPath != "" {
		w, err := config.NewWatcher(cfgPath, cfg, func(_, next *config.Config) {
			router.SetHideFiles(next.HideFiles)
			srv.SetDebug(next.Debug)
			level.Set(logLevel(next))
		})
		if err != nil {
			ln.Close()
			return err
		}
		g.Go(func() error {
			return w.Run(gctx)
		})
	}

	err = g.Wait()

	// Whatever audio is still buffered goes to disk before exit.
	router.FlushAudioBuffer()
	slog.Info("demo9p stopped", "sessions", router.Sessions())

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// flushLoop writes out every capture's buffered audio each interval.
func flushLoop(ctx context.Context, router *capture.Router, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			router.FlushAudioBuffer()
		}
	}
}
