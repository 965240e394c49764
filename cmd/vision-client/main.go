// Command vision-client connects to the vision device, streams its frames and
// records them on request.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"visionlink/config"
	"visionlink/endpoint"
	"visionlink/link"
	"visionlink/protocol"
	"visionlink/recording"
	"visionlink/stream"
)

var (
	cfgFile     string
	endpointArg string
	sourceArg   string
	recordDir   string
	sinkArg     string
	metricsAddr string
	debug       bool
	noConsole   bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "vision-client",
	Short:         "Stream and record video from the vision device",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if path == "" {
			path = config.DefaultPath()
		}
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if endpointArg != "" {
			cfg.Endpoint = endpointArg
		}
		if sourceArg != "" {
			cfg.Source = sourceArg
		}
		if recordDir != "" {
			cfg.Recording.Dir = recordDir
		}
		if sinkArg != "" {
			cfg.Recording.Sink = sinkArg
		}
		if metricsAddr != "" {
			cfg.MetricsAddr = metricsAddr
		}
		if debug {
			cfg.LogLevel = "debug"
		}
		return cfg.Validate()
	},
	RunE: runClient,
}

var setEndpointCmd = &cobra.Command{
	Use:   "set-endpoint <host:port>",
	Short: "Store the device address used on the next start",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ep, err := endpoint.Parse(args[0])
		if err != nil {
			return err
		}
		store := endpoint.NewStore(cfg.AddressFile)
		if err := store.Save(ep); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "saved %s to %s\n", ep, store.Path())
		return nil
	},
}

var showEndpointCmd = &cobra.Command{
	Use:   "show-endpoint",
	Short: "Print the stored device address",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ep, err := endpoint.NewStore(cfg.AddressFile).Load()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), ep)
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default ~/.visionlink.yaml)")
	pf.BoolVar(&debug, "debug", false, "enable debug logging")

	f := rootCmd.Flags()
	f.StringVar(&endpointArg, "endpoint", "", "device address host:port (overrides the address file)")
	f.StringVar(&sourceArg, "source", "", "initial feed: plain or processed")
	f.StringVar(&recordDir, "record-dir", "", "directory for recordings")
	f.StringVar(&sinkArg, "sink", "", "recording sink: ffmpeg or dir")
	f.StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	f.BoolVar(&noConsole, "no-console", false, "do not read commands from stdin")

	rootCmd.AddCommand(setEndpointCmd, showEndpointCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

// client wires the subsystems together; the console drives it.
type client struct {
	log      *slog.Logger
	store    *endpoint.Store
	manager  *link.Manager
	router   *link.Router
	request  *stream.Requester
	recorder *recording.Recorder
	frames   atomic.Uint64
}

func runClient(cmd *cobra.Command, args []string) error {
	logger := newLogger(cfg.LogLevel)

	store := endpoint.NewStore(cfg.AddressFile)
	ep, err := store.Load()
	if err != nil {
		logger.Warn("ignoring unreadable address file", "path", store.Path(), "error", err)
	}
	if cfg.Endpoint != "" {
		if ep, err = endpoint.Parse(cfg.Endpoint); err != nil {
			return err
		}
	}
	if ep.Inert() {
		logger.Info("no device address yet; use 'endpoint <host:port>' or set-endpoint")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	linkOpts := cfg.LinkOptions(ep)
	linkOpts.Logger = logger
	manager := link.New(linkOpts)
	router := link.NewRouter(manager, logger)

	c := &client{
		log:     logger,
		store:   store,
		manager: manager,
		router:  router,
		request: stream.NewRequester(router, stream.RequesterOptions{
			Source:       cfg.InitialSource(),
			TickInterval: cfg.TickInterval,
			Logger:       logger,
		}),
		recorder: recording.New(recording.Options{
			Open:         opener(context.WithoutCancel(ctx), cfg.Recording),
			Logger:       logger,
			TickInterval: cfg.TickInterval,
		}),
	}
	c.request.Subscribe(func(protocol.Frame) { c.frames.Add(1) })
	c.request.Subscribe(c.recorder.HandleFrame)
	if cfg.InitialSource() != protocol.SourcePlain {
		c.request.SetSource(cfg.InitialSource())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return manager.Run(gctx) })
	g.Go(func() error { return c.request.Run(gctx) })
	g.Go(func() error { return c.recorder.Run(gctx) })
	g.Go(func() error { return c.watchRecorder(gctx) })
	if cfg.MetricsAddr != "" {
		g.Go(func() error { return serveMetrics(gctx, cfg.MetricsAddr, logger) })
	}

	if !noConsole {
		go func() {
			c.console(gctx, os.Stdin, cmd.OutOrStdout())
			stop()
		}()
	}

	logger.Info("vision-client started", "endpoint", ep, "source", c.request.Source())
	err = g.Wait()
	logger.Info("vision-client stopped")
	return err
}

func opener(ctx context.Context, rc config.Recording) recording.OpenFunc {
	if rc.Sink == config.SinkDir {
		return recording.DirOpener(rc.Dir, rc.Quality, rc.FrameRate)
	}
	return recording.FFmpegOpener(ctx, rc.Dir, recording.FFmpegOptions{
		Binary:    rc.FFmpeg,
		FrameRate: rc.FrameRate,
		Quality:   rc.Quality,
	})
}

// watchRecorder logs recorder state transitions.
func (c *client) watchRecorder(ctx context.Context) error {
	last := c.recorder.State()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.recorder.Changes():
			if s := c.recorder.State(); s != last {
				c.log.Info("recorder state", "from", last, "to", s, "behind", c.recorder.Behind())
				last = s
			}
		}
	}
}

func serveMetrics(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logger.Info("metrics listening", "addr", addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
