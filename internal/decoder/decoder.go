// Package decoder turns a video file into a continuous, looping stream of
// frames for a raw sink or a rendering surface.
package decoder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/smazurov/virtualcam/internal/events"
	"github.com/smazurov/virtualcam/internal/logging"
	"github.com/smazurov/virtualcam/internal/metrics"
	"github.com/smazurov/virtualcam/internal/surface"
	"github.com/smazurov/virtualcam/internal/yuv"
)

// DefaultDequeueTimeout bounds each wait for a decoded picture, and with it
// how long a stop request can go unnoticed.
const DefaultDequeueTimeout = 10 * time.Millisecond

// JPEGQuality is used when a reader sink asks for compressed frames.
const JPEGQuality = 90

var taskSeq atomic.Uint64

// Decoder starts decode tasks on a backend.
type Decoder struct {
	backend        Backend
	logger         logging.Logger
	bus            *events.Bus
	dequeueTimeout time.Duration
	label          string
	onFrame        func(index uint64)
	onFinish       func(err error)
	now            func() time.Time
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithDequeueTimeout overrides DefaultDequeueTimeout.
func WithDequeueTimeout(d time.Duration) Option {
	return func(dec *Decoder) {
		if d > 0 {
			dec.dequeueTimeout = d
		}
	}
}

// WithEventBus publishes task start and stop events on bus.
func WithEventBus(bus *events.Bus) Option {
	return func(dec *Decoder) { dec.bus = bus }
}

// WithLabel sets the metrics label; the output format name is used otherwise.
func WithLabel(label string) Option {
	return func(dec *Decoder) { dec.label = label }
}

// WithFrameHook calls fn after every frame handed to the sink, with the
// frame's index within the task.
func WithFrameHook(fn func(index uint64)) Option {
	return func(dec *Decoder) { dec.onFrame = fn }
}

// WithFinishHook calls fn once when a task exits; err is nil for a stop.
func WithFinishHook(fn func(err error)) Option {
	return func(dec *Decoder) { dec.onFinish = fn }
}

// New creates a decoder.
func New(backend Backend, logger logging.Logger, opts ...Option) *Decoder {
	d := &Decoder{
		backend:        backend,
		logger:         logger,
		dequeueTimeout: DefaultDequeueTimeout,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start begins decoding path into sink on a dedicated goroutine.
//
// Raw formats (NV21, I420) and JPEG are converted per frame and paced
// against the wall clock by presentation timestamp. FormatSurface hands the
// decoded pictures to the sink unpaced; the sink paces them. The video loops
// until the task is stopped or fails.
func (d *Decoder) Start(path string, sink surface.Sink, f yuv.Format) (*Task, error) {
	if sink == nil {
		return nil, errors.New("decoder: nil sink")
	}
	switch f {
	case yuv.FormatNV21, yuv.FormatI420, yuv.FormatJPEG, yuv.FormatSurface:
	default:
		return nil, fmt.Errorf("decoder: %w: %s", yuv.ErrUnsupportedFormat, f)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &Task{
		id:     fmt.Sprintf("decoder-%d", taskSeq.Add(1)),
		path:   path,
		format: f,
		sink:   sink,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		state:  StateIdle,
	}
	label := d.label
	if label == "" {
		label = f.String()
	}

	metrics.DecoderStarted(label)
	go d.run(t, label)
	return t, nil
}

func (d *Decoder) run(t *Task, label string) {
	logger := logging.With(d.logger, "task", t.id)
	defer close(t.done)
	defer metrics.DecoderStopped(label)

	t.begin(d.now())
	logger.Info("Decoder started", "path", t.path, "format", t.format.String())
	d.bus.Publish(events.DecoderStartedEvent{TaskID: t.id, Path: t.path, Format: t.format.String()})

	err := d.decode(t, label, logger)
	if err != nil && t.ctx.Err() != nil {
		// Failures after a stop request are the stop itself.
		err = nil
	}
	t.finish(err)

	stopped := events.DecoderStoppedEvent{TaskID: t.id, Frames: t.Frames(), Loops: t.Loops()}
	if err != nil {
		stopped.Error = err.Error()
		metrics.DecoderError(label)
		logger.Error("Decoder aborted", "error", err, "frames", t.Frames(), "loops", t.Loops())
	} else {
		logger.Info("Decoder stopped", "frames", t.Frames(), "loops", t.Loops())
	}
	d.bus.Publish(stopped)
	if d.onFinish != nil {
		d.onFinish(err)
	}
}

func (d *Decoder) decode(t *Task, label string, logger logging.Logger) error {
	src, err := d.backend.Open(t.ctx, t.path)
	if err != nil {
		return fmt.Errorf("open %s: %w", t.path, err)
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			logger.Debug("Source close failed", "error", cerr)
		}
	}()

	track, err := SelectVideoTrack(src.Tracks())
	if err != nil {
		return fmt.Errorf("%s: %w", t.path, err)
	}
	logger.Debug("Selected track", "index", track.Index, "mime", track.MIME,
		"width", track.Width, "height", track.Height, "fps", track.FrameRate)

	cfg := Config{Surface: t.format == yuv.FormatSurface}
	w := &writer{task: t, format: t.format}
	t.setState(StateRunning)

	for pass := 0; ; pass++ {
		if t.ctx.Err() != nil {
			return nil
		}
		if pass > 0 {
			t.loops.Add(1)
			metrics.DecoderLoop(label)
			logger.Debug("Looping video", "loop", pass)
		}

		stream, err := src.Decode(t.ctx, track, cfg)
		if err != nil {
			if t.ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("configure decode pass: %w", err)
		}
		err = d.pass(t, stream, w, label)
		if cerr := stream.Close(); cerr != nil {
			logger.Debug("Stream close failed", "error", cerr)
		}
		if err != nil {
			return err
		}
	}
}

// pass drains one stream. It returns nil at end of stream or on stop.
func (d *Decoder) pass(t *Task, stream Stream, w *writer, label string) error {
	var (
		reference time.Time
		started   bool
	)
	for {
		if t.ctx.Err() != nil {
			return nil
		}

		pic, err := stream.Next(d.dequeueTimeout)
		switch {
		case errors.Is(err, ErrTryAgain):
			continue
		case errors.Is(err, io.EOF):
			return nil
		case err != nil:
			if t.ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("decode: %w", err)
		}

		if !started {
			// Timestamps are relative to the first picture of the pass.
			reference = d.now().Add(-pic.PTS)
			started = true
		}

		err = w.write(pic, func() bool {
			if t.format == yuv.FormatSurface {
				return true
			}
			return d.sleepUntil(t.ctx, reference.Add(pic.PTS))
		})
		pic.Release()
		if err != nil {
			return err
		}
		if t.ctx.Err() != nil {
			return nil
		}

		n := t.frames.Add(1)
		metrics.DecoderFrame(label)
		if d.onFrame != nil {
			d.onFrame(n - 1)
		}
	}
}

// sleepUntil waits until deadline. It returns false if ctx ended first.
func (d *Decoder) sleepUntil(ctx context.Context, deadline time.Time) bool {
	wait := deadline.Sub(d.now())
	if wait <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// writer converts pictures into the task's reusable frame buffer.
type writer struct {
	task   *Task
	format yuv.Format
	buf    []byte
	frame  surface.Frame
}

// write converts pic, waits until due returns, then hands the frame to the
// sink. A false from due skips delivery.
func (w *writer) write(pic *Picture, due func() bool) error {
	r := pic.Image.Bounds()
	w.frame = surface.Frame{
		Format:    w.format,
		Width:     r.Dx(),
		Height:    r.Dy(),
		Timestamp: pic.PTS,
	}

	if w.format == yuv.FormatSurface {
		w.frame.Image = pic.Image
	} else {
		var err error
		w.buf, err = yuv.Encode(w.buf, pic.Image, w.format, JPEGQuality)
		if err != nil {
			return fmt.Errorf("convert frame: %w", err)
		}
		w.frame.Data = w.buf
	}

	if !due() {
		return nil
	}
	if err := w.task.sink.WriteFrame(&w.frame); err != nil {
		return fmt.Errorf("deliver frame: %w", err)
	}
	return nil
}
