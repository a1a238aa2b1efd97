package observe

import (
	"context"
	"log/slog"

	"github.com/NERVsystems/demo9p/internal/capture"
)

// Listener turns router notifications into metrics and debug logs.
type Listener struct {
	m *Metrics
}

func NewListener(m *Metrics) *Listener {
	return &Listener{m: m}
}

func (l *Listener) OnAudioBuffer(occupied, total int) {
	l.m.AudioBufferOccupied.Record(context.Background(), int64(occupied))
}

func (l *Listener) OnAudioBufferWriteout() {
	l.m.AudioFlushes.Add(context.Background(), 1)
	slog.Debug("audio buffer written out")
}

func (l *Listener) OnFrameProcessed(name string) {
	l.m.FramesProcessed.Add(context.Background(), 1)
	slog.Debug("frame processed", "name", name)
}

func (l *Listener) OnFrameSaved(path string) {
	l.m.FramesSaved.Add(context.Background(), 1)
	slog.Debug("frame saved", "path", path)
}

var _ capture.Listener = (*Listener)(nil)
