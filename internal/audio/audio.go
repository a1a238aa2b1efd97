// Package audio turns the raw WAV stream a game writes during a capture into
// a WAV file on the output filesystem, buffering PCM samples in memory and
// writing them out in batches.
package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/spf13/afero"

	"github.com/NERVsystems/demo9p/internal/capture"
	"github.com/NERVsystems/demo9p/internal/pool"
)

const (
	headerSize = 44

	// chunkSamples is the size of the sample buffers borrowed from the pool.
	chunkSamples = 4096

	// DefaultBufferSamples holds ten seconds of 44.1kHz mono audio.
	DefaultBufferSamples = 441000
)

var (
	ErrNotWavFile        = errors.New("audio: stream is not a RIFF/WAVE file")
	ErrUnsupportedStream = errors.New("audio: only canonical 16-bit PCM streams are supported")
	ErrClosed            = errors.New("audio: handler closed")
)

// Config describes where and how captures are written.
type Config struct {
	// Output receives <key>.wav files.
	Output afero.Fs
	// Samples supplies the int buffers PCM is decoded into.
	Samples *pool.Pool[int]
	// BufferSamples is how many samples accumulate before a write-out.
	BufferSamples int
}

// NewFactory returns a capture.AudioHandlerFactory writing to cfg.Output.
func NewFactory(cfg Config) capture.AudioHandlerFactory {
	if cfg.BufferSamples <= 0 {
		cfg.BufferSamples = DefaultBufferSamples
	}
	if cfg.Samples == nil {
		cfg.Samples = pool.New[int]()
	}
	return func(host capture.Host, key string) capture.AudioHandler {
		return NewHandler(host, key, cfg)
	}
}

// Handler receives the audio stream of one capture. The game writes a 44
// byte header first, then appends PCM data, and finally rewrites the header
// with the real sizes; that last rewrite is ignored since the encoder keeps
// its own sizes.
type Handler struct {
	host     capture.Host
	name     string
	out      afero.Fs
	samples  *pool.Pool[int]
	capacity int

	mu        sync.Mutex
	header    [headerSize]byte
	headerLen int
	format    *goaudio.Format
	headerErr error // sticky once the header is rejected
	chunkLen  int
	carry     []byte // odd trailing byte of the last write

	chunks   [][]int // full chunks waiting for write-out
	cur      []int
	curN     int
	occupied int

	file   afero.File
	enc    *wav.Encoder
	closed bool
}

// NewHandler creates the handler for the capture named key. The output file
// is created on the first write-out.
func NewHandler(host capture.Host, key string, cfg Config) *Handler {
	return &Handler{
		host:     host,
		name:     outputName(key),
		out:      cfg.Output,
		samples:  cfg.Samples,
		capacity: cfg.BufferSamples,
	}
}

// outputName flattens the capture key into a file name.
func outputName(key string) string {
	b := []byte(key)
	for i, c := range b {
		if c == '/' || c == '\\' {
			b[i] = '_'
		}
	}
	name := string(bytes.Trim(b, "_"))
	if name == "" {
		name = "capture"
	}
	return name + ".wav"
}

// Write accepts stream bytes at offset. Bytes below the header size fill in
// the header until it is complete; everything after it is PCM data and is
// taken in arrival order. Data is refused until a valid header has arrived.
func (h *Handler) Write(p []byte, offset int64) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0, ErrClosed
	}
	if offset < 0 {
		return 0, fs.ErrInvalid
	}
	if h.headerErr != nil {
		return 0, h.headerErr
	}
	if h.format == nil && offset >= headerSize {
		return 0, ErrNotWavFile
	}

	data := p
	if offset < headerSize {
		if h.format != nil {
			// Final header rewrite; anything past the header is still data.
			if skip := headerSize - offset; int64(len(p)) > skip {
				data = p[skip:]
			} else {
				return len(p), nil
			}
		} else {
			n := copy(h.header[offset:], p)
			h.headerLen = max(h.headerLen, int(offset)+n)
			if h.headerLen < headerSize {
				return len(p), nil
			}
			if err := h.parseHeader(); err != nil {
				h.headerErr = err
				return 0, err
			}
			data = p[n:]
		}
	}

	if len(data) > 0 {
		h.appendPCM(data)
		h.host.NotifyBufferLevel(h.occupied, h.capacity)
		if h.occupied >= h.capacity {
			if err := h.flushLocked(); err != nil {
				return 0, err
			}
		}
	}
	return len(p), nil
}

// parseHeader validates the canonical RIFF/WAVE layout.
func (h *Handler) parseHeader() error {
	hdr := h.header[:]
	if !bytes.Equal(hdr[0:4], []byte("RIFF")) || !bytes.Equal(hdr[8:12], []byte("WAVE")) {
		return ErrNotWavFile
	}
	if !bytes.Equal(hdr[12:16], []byte("fmt ")) || !bytes.Equal(hdr[36:40], []byte("data")) {
		return ErrUnsupportedStream
	}
	audioFormat := binary.LittleEndian.Uint16(hdr[20:22])
	channels := int(binary.LittleEndian.Uint16(hdr[22:24]))
	sampleRate := int(binary.LittleEndian.Uint32(hdr[24:28]))
	bitsPerSample := binary.LittleEndian.Uint16(hdr[34:36])
	if audioFormat != 1 || bitsPerSample != 16 || channels == 0 {
		return ErrUnsupportedStream
	}

	h.format = &goaudio.Format{NumChannels: channels, SampleRate: sampleRate}
	h.chunkLen = chunkSamples - chunkSamples%channels
	if h.chunkLen == 0 {
		h.chunkLen = channels
	}
	slog.Debug("capture audio stream", "file", h.name, "channels", channels, "rate", sampleRate)
	return nil
}

// appendPCM decodes little-endian 16-bit samples into pooled chunks.
func (h *Handler) appendPCM(data []byte) {
	if len(h.carry) > 0 {
		data = append(h.carry, data...)
		h.carry = nil
	}
	for len(data) >= 2 {
		if h.cur == nil {
			h.cur = h.samples.Acquire(h.chunkLen)
			h.curN = 0
		}
		h.cur[h.curN] = int(int16(binary.LittleEndian.Uint16(data)))
		h.curN++
		h.occupied++
		data = data[2:]
		if h.curN == len(h.cur) {
			h.chunks = append(h.chunks, h.cur)
			h.cur = nil
		}
	}
	if len(data) == 1 {
		h.carry = []byte{data[0]}
	}
}

// Flush writes out everything buffered so far.
func (h *Handler) Flush() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	return h.flushLocked()
}

func (h *Handler) flushLocked() error {
	if h.occupied == 0 {
		return nil
	}
	if h.enc == nil {
		f, err := h.out.Create(h.name)
		if err != nil {
			return fmt.Errorf("audio: create %s: %w", h.name, err)
		}
		h.file = f
		h.enc = wav.NewEncoder(f, h.format.SampleRate, 16, h.format.NumChannels, 1)
	}

	for _, chunk := range h.chunks {
		if err := h.enc.Write(&goaudio.IntBuffer{Format: h.format, Data: chunk, SourceBitDepth: 16}); err != nil {
			return fmt.Errorf("audio: encode %s: %w", h.name, err)
		}
		h.samples.Release(chunk)
	}
	h.chunks = h.chunks[:0]
	h.occupied = 0

	// Only whole frames go out; a partial frame stays at the front of cur.
	if h.cur != nil {
		whole := h.curN - h.curN%h.format.NumChannels
		if whole > 0 {
			if err := h.enc.Write(&goaudio.IntBuffer{Format: h.format, Data: h.cur[:whole], SourceBitDepth: 16}); err != nil {
				return fmt.Errorf("audio: encode %s: %w", h.name, err)
			}
			h.curN = copy(h.cur, h.cur[whole:h.curN])
		}
		h.occupied = h.curN
	}

	h.host.NotifyBufferFlushed()
	return nil
}

// Close writes out remaining samples and finalizes the WAV file.
func (h *Handler) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	var errs []error
	if h.format != nil {
		errs = append(errs, h.flushLocked())
	}
	h.closed = true
	if h.cur != nil {
		h.samples.Release(h.cur)
		h.cur = nil
	}
	if h.enc != nil {
		errs = append(errs, h.enc.Close(), h.file.Close())
		slog.Info("capture audio written", "file", h.name)
	}
	return errors.Join(errs...)
}

var _ capture.AudioHandler = (*Handler)(nil)
