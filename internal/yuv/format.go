// Package yuv converts decoded pictures and still images into the raw and
// compressed layouts camera clients expect.
package yuv

import (
	"errors"
	"fmt"
	"strings"
)

// Format is an output layout.
type Format int

const (
	FormatUnknown Format = iota
	FormatNV21           // Y plane, then interleaved V,U at half resolution
	FormatI420           // Y plane, U plane, V plane
	FormatJPEG           // baseline JPEG
	FormatSurface        // decoder output handed to a rendering surface untouched
)

var (
	// ErrUnsupportedFormat is returned for layouts a function cannot produce.
	ErrUnsupportedFormat = errors.New("unsupported pixel format")
	// ErrShortPlane is returned when plane data is smaller than its geometry implies.
	ErrShortPlane = errors.New("plane data shorter than declared geometry")
)

func (f Format) String() string {
	switch f {
	case FormatNV21:
		return "nv21"
	case FormatI420:
		return "i420"
	case FormatJPEG:
		return "jpeg"
	case FormatSurface:
		return "surface"
	default:
		return "unknown"
	}
}

// Raw reports whether the format is an uncompressed byte layout.
func (f Format) Raw() bool {
	return f == FormatNV21 || f == FormatI420
}

// ParseFormat parses a format name as printed by String.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "nv21":
		return FormatNV21, nil
	case "i420", "yuv420p":
		return FormatI420, nil
	case "jpeg", "jpg":
		return FormatJPEG, nil
	case "surface":
		return FormatSurface, nil
	}
	return FormatUnknown, fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// ChromaSize returns the dimensions of a 4:2:0 chroma plane.
func ChromaSize(width, height int) (int, int) {
	return (width + 1) / 2, (height + 1) / 2
}

// Size returns the packed byte size of a raw frame, or 0 for non-raw formats.
func Size(f Format, width, height int) int {
	if !f.Raw() || width <= 0 || height <= 0 {
		return 0
	}
	cw, ch := ChromaSize(width, height)
	return width*height + 2*cw*ch
}
