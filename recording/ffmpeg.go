package recording

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

const (
	DefaultFrameRate   = 25
	DefaultJPEGQuality = 90

	// Go reference time rendered without characters that are awkward in file names.
	fileTimeLayout = "2006-01-02T15.04.05.000"
	stderrTail     = 4 << 10
)

// OutputName returns the video file name of a session started at t.
func OutputName(t time.Time) string {
	return t.Format(fileTimeLayout) + ".mp4"
}

type FFmpegOptions struct {
	Binary    string // defaults to "ffmpeg" on PATH
	FrameRate int
	Quality   int // JPEG quality of the piped stills
}

func (o *FFmpegOptions) applyDefaults() {
	if o.Binary == "" {
		o.Binary = "ffmpeg"
	}
	if o.FrameRate <= 0 {
		o.FrameRate = DefaultFrameRate
	}
	if o.Quality <= 0 || o.Quality > 100 {
		o.Quality = DefaultJPEGQuality
	}
}

// FFmpegSink pipes JPEG stills into an ffmpeg process that writes an MP4.
type FFmpegSink struct {
	path    string
	quality int
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	w       *bufio.Writer
	stderr  *tailBuffer

	closeOnce sync.Once
	closeErr  error
}

// NewFFmpegSink starts ffmpeg writing to path. The process is killed if ctx
// ends before Close.
func NewFFmpegSink(ctx context.Context, path string, opts FFmpegOptions) (*FFmpegSink, error) {
	opts.applyDefaults()

	cmd := exec.CommandContext(ctx, opts.Binary,
		"-hide_banner", "-loglevel", "error", "-y",
		"-f", "image2pipe", "-c:v", "mjpeg",
		"-framerate", strconv.Itoa(opts.FrameRate),
		"-i", "-",
		"-c:v", "libx264", "-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
		path,
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdin: %w", err)
	}
	stderr := &tailBuffer{max: stderrTail}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", opts.Binary, err)
	}
	return &FFmpegSink{
		path:    path,
		quality: opts.Quality,
		cmd:     cmd,
		stdin:   stdin,
		w:       bufio.NewWriterSize(stdin, 256<<10),
		stderr:  stderr,
	}, nil
}

// FFmpegOpener creates one MP4 per session under dir, named after the
// session start time.
func FFmpegOpener(ctx context.Context, dir string, opts FFmpegOptions) OpenFunc {
	return func(s Session) (Encoder, error) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
		return NewFFmpegSink(ctx, filepath.Join(dir, OutputName(s.Started)), opts)
	}
}

func (s *FFmpegSink) Path() string { return s.path }

func (s *FFmpegSink) Encode(img image.Image) error {
	if err := jpeg.Encode(s.w, img, &jpeg.Options{Quality: s.quality}); err != nil {
		return fmt.Errorf("ffmpeg: %w%s", err, s.stderr.suffix())
	}
	return nil
}

// Close flushes the pipe and waits for ffmpeg to write the container trailer.
func (s *FFmpegSink) Close() error {
	s.closeOnce.Do(func() {
		ferr := s.w.Flush()
		cerr := s.stdin.Close()
		werr := s.cmd.Wait()
		switch {
		case werr != nil:
			s.closeErr = fmt.Errorf("ffmpeg: %w%s", werr, s.stderr.suffix())
		case ferr != nil:
			s.closeErr = fmt.Errorf("ffmpeg: flush: %w", ferr)
		case cerr != nil:
			s.closeErr = fmt.Errorf("ffmpeg: %w", cerr)
		}
	})
	return s.closeErr
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) suffix() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	msg := bytes.TrimSpace(t.buf)
	if len(msg) == 0 {
		return ""
	}
	return ": " + string(msg)
}
