package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/virtualcam/internal/decoder"
	"github.com/smazurov/virtualcam/internal/logging"
	"github.com/smazurov/virtualcam/internal/process"
	"github.com/smazurov/virtualcam/internal/yuv"
)

// DefaultFrameRate is assumed when ffprobe reports none.
const DefaultFrameRate = 30.0

// ErrNoDimensions is returned for a video track without a known size.
var ErrNoDimensions = errors.New("video track has no dimensions")

// Backend decodes media files with ffmpeg subprocesses. It implements
// decoder.Backend.
type Backend struct {
	builder *Builder
	options []OptionType
	logger  logging.Logger
	ffmpeg  logging.Logger
	counter atomic.Uint64
}

// BackendOption configures a Backend.
type BackendOption func(*Backend)

// WithOptions sets the decode flags passed to every ffmpeg run.
func WithOptions(options []OptionType) BackendOption {
	return func(b *Backend) { b.options = options }
}

// NewBackend creates an ffmpeg backend.
func NewBackend(builder *Builder, logger logging.Logger, opts ...BackendOption) *Backend {
	b := &Backend{
		builder: builder,
		logger:  logger,
		ffmpeg:  logging.GetLogger("ffmpeg"),
		options: GetDefaultOptions(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Probe lists the tracks of path with ffprobe.
func (b *Backend) Probe(ctx context.Context, path string) ([]decoder.Track, error) {
	args, err := b.builder.BuildProbeArgs(path)
	if err != nil {
		return nil, err
	}
	out, err := process.Capture(ctx, args)
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", path, err)
	}
	return ParseProbe(out)
}

// Open implements decoder.Backend.
func (b *Backend) Open(ctx context.Context, path string) (decoder.Source, error) {
	tracks, err := b.Probe(ctx, path)
	if err != nil {
		return nil, err
	}
	b.logger.Debug("Probed media", "path", path, "tracks", len(tracks))
	return &source{backend: b, path: path, tracks: tracks}, nil
}

type source struct {
	backend *Backend
	path    string
	tracks  []decoder.Track
}

func (s *source) Tracks() []decoder.Track { return s.tracks }

func (s *source) Close() error { return nil }

// Decode starts ffmpeg for one pass over track. Pictures are always I420;
// surface consumers convert as needed.
func (s *source) Decode(ctx context.Context, track decoder.Track, _ decoder.Config) (decoder.Stream, error) {
	if track.Width <= 0 || track.Height <= 0 {
		return nil, fmt.Errorf("%w: stream %d", ErrNoDimensions, track.Index)
	}
	b := s.backend
	args, err := b.builder.BuildDecodeArgs(&DecodeParams{
		Input:       s.path,
		StreamIndex: track.Index,
		Options:     b.options,
	})
	if err != nil {
		return nil, err
	}

	id := fmt.Sprintf("ffmpeg-%d", b.counter.Add(1))
	proc := process.New(id, args, b.logger)
	proc.SetLogParser(b.ffmpeg, ParseLogLevel)
	stdout, err := proc.Start()
	if err != nil {
		return nil, err
	}

	fps := track.FrameRate
	if fps <= 0 {
		fps = DefaultFrameRate
	}
	size := yuv.Size(yuv.FormatI420, track.Width, track.Height)
	st := &stream{
		id:       id,
		proc:     proc,
		width:    track.Width,
		height:   track.Height,
		interval: time.Duration(float64(time.Second) / fps),
		frames:   make(chan []byte, 2),
		done:     make(chan struct{}),
		free:     make(chan []byte, 4),
		size:     size,
		logger:   b.logger,
	}
	go st.read(ctx, stdout)
	return st, nil
}

// stream reads fixed-size I420 frames from ffmpeg's stdout.
type stream struct {
	id       string
	proc     *process.Process
	width    int
	height   int
	interval time.Duration
	frames   chan []byte
	done     chan struct{}
	free     chan []byte
	size     int
	index    int64
	err      error // set before frames is closed
	logger   logging.Logger

	closeOnce sync.Once
}

func (s *stream) get() []byte {
	select {
	case buf := <-s.free:
		return buf
	default:
		return make([]byte, s.size)
	}
}

func (s *stream) put(buf []byte) {
	select {
	case s.free <- buf:
	default:
	}
}

func (s *stream) read(ctx context.Context, r io.Reader) {
	defer close(s.frames)
	for {
		buf := s.get()
		if _, err := io.ReadFull(r, buf); err != nil {
			s.put(buf)
			if errors.Is(err, io.ErrUnexpectedEOF) {
				s.logger.Warn("Truncated frame at end of stream", "id", s.id)
			}
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				select {
				case <-s.done:
				default:
					s.err = err
				}
			}
			s.finish()
			return
		}
		select {
		case s.frames <- buf:
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// finish records a failing exit of ffmpeg as the stream error.
func (s *stream) finish() {
	code, err := s.proc.Wait()
	if code != 0 && s.err == nil {
		select {
		case <-s.done:
		default:
			s.err = fmt.Errorf("ffmpeg exited with code %d: %w", code, err)
		}
	}
}

// Next implements decoder.Stream.
func (s *stream) Next(timeout time.Duration) (*decoder.Picture, error) {
	var (
		buf []byte
		ok  bool
	)
	select {
	case buf, ok = <-s.frames:
	case <-time.After(timeout):
		return nil, decoder.ErrTryAgain
	}
	if !ok {
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}

	img, err := yuv.WrapI420(buf, s.width, s.height)
	if err != nil {
		s.put(buf)
		return nil, err
	}
	pts := time.Duration(s.index) * s.interval
	s.index++
	return decoder.NewPicture(img, pts, func() { s.put(buf) }), nil
}

// Close stops ffmpeg and the reader.
func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.proc.Stop()
		// Drain so the reader can observe done.
		for range s.frames {
		}
	})
	return nil
}
