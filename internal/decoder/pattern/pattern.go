// Package pattern is an in-memory decoder backend that produces a synthetic
// test pattern instead of reading a file. It needs no external tools, which
// makes it useful for dry runs and tests.
package pattern

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/virtualcam/internal/decoder"
	"github.com/smazurov/virtualcam/internal/yuv"
)

// ErrInjected is returned once FailAfter pictures have been produced.
var ErrInjected = errors.New("pattern: injected decode failure")

// Backend generates Frames pictures per pass at FrameRate. Luma of picture i
// in a pass is i%256 so consumers can tell frames apart.
type Backend struct {
	Width     int
	Height    int
	FrameRate float64
	Frames    int
	// NoVideo exposes only an audio track.
	NoVideo bool
	// FailAfter makes Next fail after this many pictures in total. Zero never fails.
	FailAfter int
	// Stall makes every Nth call to Next report ErrTryAgain. Zero never stalls.
	Stall int

	opens    atomic.Int64
	passes   atomic.Int64
	produced atomic.Int64
}

// Opens returns how many times Open was called.
func (b *Backend) Opens() int { return int(b.opens.Load()) }

// Passes returns how many decode passes were started.
func (b *Backend) Passes() int { return int(b.passes.Load()) }

// Open implements decoder.Backend.
func (b *Backend) Open(ctx context.Context, path string) (decoder.Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.opens.Add(1)
	return &source{b: b, path: path}, nil
}

func (b *Backend) frameInterval() time.Duration {
	fps := b.FrameRate
	if fps <= 0 {
		fps = 30
	}
	return time.Duration(float64(time.Second) / fps)
}

type source struct {
	b    *Backend
	path string
}

func (s *source) Tracks() []decoder.Track {
	audio := decoder.Track{Index: 0, MIME: "audio/mp4a-latm", Codec: "aac"}
	if s.b.NoVideo {
		return []decoder.Track{audio}
	}
	frames := s.b.Frames
	return []decoder.Track{
		audio,
		{
			Index:     1,
			MIME:      "video/raw",
			Codec:     "rawvideo",
			Width:     s.b.Width,
			Height:    s.b.Height,
			FrameRate: s.b.FrameRate,
			Duration:  time.Duration(frames) * s.b.frameInterval(),
		},
	}
}

func (s *source) Decode(ctx context.Context, track decoder.Track, _ decoder.Config) (decoder.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !track.IsVideo() {
		return nil, decoder.ErrNoVideoTrack
	}
	s.b.passes.Add(1)
	size := yuv.Size(yuv.FormatI420, s.b.Width, s.b.Height)
	return &stream{
		b:    s.b,
		pool: sync.Pool{New: func() any { return make([]byte, size) }},
	}, nil
}

func (s *source) Close() error { return nil }

type stream struct {
	b     *Backend
	pool  sync.Pool
	next  int
	calls int
}

func (st *stream) Next(_ time.Duration) (*decoder.Picture, error) {
	st.calls++
	if st.b.Stall > 0 && st.calls%st.b.Stall == 0 {
		return nil, decoder.ErrTryAgain
	}
	if st.next >= st.b.Frames {
		return nil, io.EOF
	}
	if st.b.FailAfter > 0 && st.b.produced.Load() >= int64(st.b.FailAfter) {
		return nil, ErrInjected
	}

	buf, _ := st.pool.Get().([]byte)
	ySize := st.b.Width * st.b.Height
	luma := byte(st.next % 256)
	for i := range buf {
		if i < ySize {
			buf[i] = luma
		} else {
			buf[i] = 128
		}
	}
	img, err := yuv.WrapI420(buf, st.b.Width, st.b.Height)
	if err != nil {
		return nil, err
	}

	pts := time.Duration(st.next) * st.b.frameInterval()
	st.next++
	st.b.produced.Add(1)
	return decoder.NewPicture(img, pts, func() { st.pool.Put(buf) }), nil
}

func (st *stream) Close() error { return nil }
