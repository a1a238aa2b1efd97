// Package video converts captured TGA frames into PNG files on the output
// filesystem.
package video

import (
	"fmt"
	"image/png"
	"log/slog"
	"path"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"github.com/NERVsystems/demo9p/internal/capture"
)

// NewFactory returns a capture.VideoHandlerFactory writing to out.
func NewFactory(out afero.Fs) capture.VideoHandlerFactory {
	return func(host capture.Host, key string) capture.VideoHandler {
		return NewHandler(host, out)
	}
}

// Handler writes each frame it is given as <name>.png.
type Handler struct {
	host capture.Host
	out  afero.Fs
	enc  png.Encoder

	mu     sync.Mutex
	frames int
	closed bool
}

func NewHandler(host capture.Host, out afero.Fs) *Handler {
	return &Handler{
		host: host,
		out:  out,
		enc:  png.Encoder{CompressionLevel: png.BestSpeed},
	}
}

// Frame decodes one TGA frame and saves it. name is the frame's file name,
// with or without directories.
func (h *Handler) Frame(name string, data []byte) error {
	img, err := DecodeTGA(data)
	if err != nil {
		return fmt.Errorf("video: %s: %w", name, err)
	}

	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	dst := strings.TrimSuffix(base, path.Ext(base)) + ".png"

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return fmt.Errorf("video: %s: handler closed", name)
	}

	f, err := h.out.Create(dst)
	if err != nil {
		return fmt.Errorf("video: create %s: %w", dst, err)
	}
	if err := h.enc.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("video: encode %s: %w", dst, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("video: close %s: %w", dst, err)
	}
	h.frames++

	h.host.NotifyFrameSaved(dst)
	return nil
}

// Close stops accepting frames.
func (h *Handler) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.closed {
		h.closed = true
		slog.Info("capture video finished", "frames", h.frames)
	}
	return nil
}

var _ capture.VideoHandler = (*Handler)(nil)
