package decoder

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/smazurov/virtualcam/internal/yuv"
)

var (
	// ErrNoVideoTrack is returned when a source has no video track.
	ErrNoVideoTrack = errors.New("no video track")
	// ErrTryAgain is returned by Stream.Next when no picture became ready
	// within the dequeue timeout.
	ErrTryAgain = errors.New("no decoded picture ready")
)

// Track describes one elementary stream of a source.
type Track struct {
	Index     int
	MIME      string
	Codec     string
	Width     int
	Height    int
	FrameRate float64
	Duration  time.Duration
}

// IsVideo reports whether the track carries video.
func (t Track) IsVideo() bool {
	return strings.HasPrefix(t.MIME, "video/")
}

// Config configures one decode run.
type Config struct {
	// Surface requests pictures for a rendering surface rather than for
	// conversion into client byte layouts.
	Surface bool
}

// Picture is one decoded picture. Release returns its storage to the
// backend; the Image must not be used afterwards.
type Picture struct {
	Image   *yuv.Image
	PTS     time.Duration
	release func()
}

// NewPicture wraps a decoded image. release may be nil.
func NewPicture(img *yuv.Image, pts time.Duration, release func()) *Picture {
	return &Picture{Image: img, PTS: pts, release: release}
}

// Release returns the picture to its backend. Calling it twice is a no-op.
func (p *Picture) Release() {
	if p.release != nil {
		p.release()
		p.release = nil
	}
}

// Stream yields the pictures of one pass over a track.
type Stream interface {
	// Next returns the next picture, ErrTryAgain if none became ready within
	// timeout, or io.EOF once the pass is complete.
	Next(timeout time.Duration) (*Picture, error)
	Close() error
}

// Source is an opened media file.
type Source interface {
	Tracks() []Track
	// Decode starts a pass over track from the beginning.
	Decode(ctx context.Context, track Track, cfg Config) (Stream, error)
	Close() error
}

// Backend opens media files.
type Backend interface {
	Open(ctx context.Context, path string) (Source, error)
}

// SelectVideoTrack returns the first video track.
func SelectVideoTrack(tracks []Track) (Track, error) {
	for _, t := range tracks {
		if t.IsVideo() {
			return t, nil
		}
	}
	return Track{}, ErrNoVideoTrack
}
