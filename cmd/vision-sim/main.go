// Command vision-sim pretends to be the vision device: it accepts one client
// at a time and streams synthetic frames in the device's wire format.
package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"visionlink/protocol"
)

type simOptions struct {
	listen  string
	fps     int
	width   int
	height  int
	deflate bool
	silent  bool
	debug   bool
}

var opts simOptions

var rootCmd = &cobra.Command{
	Use:           "vision-sim",
	Short:         "Simulate the vision device for local testing",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelInfo
		if opts.debug {
			level = slog.LevelDebug
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return run(ctx, opts, logger)
	},
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&opts.listen, "listen", "127.0.0.1:5800", "address to listen on")
	f.IntVar(&opts.fps, "fps", 15, "frames per second")
	f.IntVar(&opts.width, "width", 320, "frame width")
	f.IntVar(&opts.height, "height", 240, "frame height")
	f.BoolVar(&opts.deflate, "deflate", false, "deflate frames on the wire")
	f.BoolVar(&opts.silent, "silent", false, "accept connections but never send (exercises the idle timeout)")
	f.BoolVar(&opts.debug, "debug", false, "enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, o simOptions, logger *slog.Logger) error {
	if o.fps <= 0 || o.width <= 0 || o.height <= 0 {
		return errors.New("fps, width and height must be positive")
	}
	ln, err := net.Listen("tcp", o.listen)
	if err != nil {
		return err
	}
	logger.Info("vision-sim listening", "addr", ln.Addr())

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		logger.Info("client connected", "remote", conn.RemoteAddr())
		err = serve(ctx, conn, o, logger)
		conn.Close()
		logger.Info("client disconnected", "remote", conn.RemoteAddr(), "error", err)
	}
}

// device is the per-connection state shared by the reader and writer.
type device struct {
	source atomic.Int32
	tint   atomic.Uint32
}

func serve(ctx context.Context, conn net.Conn, o simOptions, logger *slog.Logger) error {
	g, ctx := errgroup.WithContext(ctx)
	var dev device
	f := protocol.NewConnFramer(conn)

	g.Go(func() error {
		defer conn.Close()
		for {
			payload, err := f.Read()
			if err != nil {
				if errors.Is(err, io.EOF) || ctx.Err() != nil {
					return nil
				}
				return err
			}
			msg, err := protocol.DecodePayload(payload)
			if err != nil {
				return err
			}
			handle(&dev, msg, logger)
		}
	})

	g.Go(func() error {
		defer conn.Close()
		if o.silent {
			<-ctx.Done()
			return nil
		}
		tick := time.NewTicker(time.Second / time.Duration(o.fps))
		defer tick.Stop()
		for n := 0; ; n++ {
			select {
			case <-ctx.Done():
				return nil
			case <-tick.C:
			}
			frame, err := renderFrame(&dev, n, o)
			if err != nil {
				return err
			}
			env, err := protocol.Encode(frame)
			if err != nil {
				return err
			}
			if err := f.WriteWithTimeout(env[protocol.HeaderSize:], time.Second); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	})

	return g.Wait()
}

func handle(dev *device, msg protocol.TypedMessage, logger *slog.Logger) {
	switch msg.TypeURL {
	case protocol.TypeSelectSource:
		var sel protocol.SelectSource
		if err := msg.Unpack(&sel); err != nil {
			logger.Warn("bad select", "error", err)
			return
		}
		dev.source.Store(int32(sel.Source))
		logger.Info("source selected", "source", sel.Source)
	case protocol.TypeSignal:
		var sig protocol.Signal
		if err := msg.Unpack(&sig); err != nil {
			logger.Warn("bad signal", "error", err)
			return
		}
		dev.tint.Add(1)
		logger.Info("signal received", "kind", sig.Kind)
	default:
		logger.Debug("ignoring message", "type", msg.TypeURL)
	}
}

// renderFrame draws a moving bar; the processed feed is inverted and a
// switch-feed signal rotates the bar colour.
func renderFrame(dev *device, n int, o simOptions) (*protocol.Frame, error) {
	img := image.NewRGBA(image.Rect(0, 0, o.width, o.height))
	palette := []color.RGBA{
		{R: 255, G: 64, B: 64, A: 255},
		{R: 64, G: 255, B: 64, A: 255},
		{R: 64, G: 64, B: 255, A: 255},
	}
	bar := palette[int(dev.tint.Load())%len(palette)]
	processed := protocol.Source(dev.source.Load()) == protocol.SourceProcessed

	pos := n * 4 % o.width
	for y := 0; y < o.height; y++ {
		for x := 0; x < o.width; x++ {
			c := color.RGBA{R: uint8(x * 255 / o.width), G: uint8(y * 255 / o.height), B: 96, A: 255}
			if x >= pos && x < pos+12 {
				c = bar
			}
			if processed {
				c = color.RGBA{R: 255 - c.R, G: 255 - c.G, B: 255 - c.B, A: 255}
			}
			img.SetRGBA(x, y, c)
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		return nil, err
	}
	if !o.deflate {
		return &protocol.Frame{Image: buf.Bytes()}, nil
	}

	var z bytes.Buffer
	w, err := flate.NewWriter(&z, flate.DefaultCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return &protocol.Frame{Image: z.Bytes(), Compression: protocol.CompressionDeflate}, nil
}
