package recording

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio/v2"
	"gopkg.in/yaml.v3"
)

// ManifestName is written into every DirSink session directory on Close.
const ManifestName = "session.yaml"

// Manifest describes a finished still-image session.
type Manifest struct {
	ID        string    `yaml:"id"`
	Started   time.Time `yaml:"started"`
	Finished  time.Time `yaml:"finished"`
	Frames    int       `yaml:"frames"`
	FrameRate int       `yaml:"frame_rate,omitempty"`
	Pattern   string    `yaml:"pattern"`
}

// DirSink writes each frame as a numbered JPEG into a per-session directory.
// Useful where ffmpeg is unavailable; the stills can be muxed later.
type DirSink struct {
	dir       string
	session   Session
	quality   int
	frameRate int
	frames    int
	buf       bytes.Buffer
	closed    bool
}

const framePattern = "frame-%06d.jpg"

func NewDirSink(root string, s Session, quality, frameRate int) (*DirSink, error) {
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	dir := filepath.Join(root, strings.TrimSuffix(OutputName(s.Started), ".mp4"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &DirSink{dir: dir, session: s, quality: quality, frameRate: frameRate}, nil
}

// DirOpener creates one DirSink per session under root.
func DirOpener(root string, quality, frameRate int) OpenFunc {
	return func(s Session) (Encoder, error) {
		return NewDirSink(root, s, quality, frameRate)
	}
}

func (d *DirSink) Dir() string { return d.dir }

func (d *DirSink) Encode(img image.Image) error {
	if d.closed {
		return errors.New("dirsink: closed")
	}
	d.buf.Reset()
	if err := jpeg.Encode(&d.buf, img, &jpeg.Options{Quality: d.quality}); err != nil {
		return fmt.Errorf("dirsink: %w", err)
	}
	name := filepath.Join(d.dir, fmt.Sprintf(framePattern, d.frames))
	if err := renameio.WriteFile(name, d.buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("dirsink: %w", err)
	}
	d.frames++
	return nil
}

// Close writes the session manifest.
func (d *DirSink) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true

	data, err := yaml.Marshal(Manifest{
		ID:        d.session.ID.String(),
		Started:   d.session.Started,
		Finished:  time.Now(),
		Frames:    d.frames,
		FrameRate: d.frameRate,
		Pattern:   framePattern,
	})
	if err != nil {
		return fmt.Errorf("dirsink: manifest: %w", err)
	}
	if err := renameio.WriteFile(filepath.Join(d.dir, ManifestName), data, 0o644); err != nil {
		return fmt.Errorf("dirsink: manifest: %w", err)
	}
	return nil
}

// ReadManifest loads the manifest of a DirSink session directory.
func ReadManifest(dir string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if err != nil {
		return m, err
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("manifest: %w", err)
	}
	return m, nil
}
