package ffmpeg

import (
	"errors"
	"fmt"
)

// DefaultPixelFormat is the layout the backend reads from ffmpeg.
const DefaultPixelFormat = "yuv420p"

// Builder renders ffmpeg and ffprobe command lines. FFmpeg and FFprobe are
// command prefixes, so wrappers such as "nice -n 10 ffmpeg" work.
type Builder struct {
	FFmpeg  []string
	FFprobe []string
}

// NewBuilder returns a builder for the given commands. Empty commands fall
// back to ffmpeg and ffprobe on PATH.
func NewBuilder(ffmpegCmd, ffprobeCmd []string) *Builder {
	if len(ffmpegCmd) == 0 {
		ffmpegCmd = []string{"ffmpeg"}
	}
	if len(ffprobeCmd) == 0 {
		ffprobeCmd = []string{"ffprobe"}
	}
	return &Builder{FFmpeg: ffmpegCmd, FFprobe: ffprobeCmd}
}

// BuildDecodeArgs returns the argument vector decoding one stream to raw
// frames on stdout.
func (b *Builder) BuildDecodeArgs(p *DecodeParams) ([]string, error) {
	if p.Input == "" {
		return nil, errors.New("input path is required")
	}
	if p.StreamIndex < 0 {
		return nil, fmt.Errorf("invalid stream index %d", p.StreamIndex)
	}
	if err := ValidateOptions(p.Options); err != nil {
		return nil, err
	}

	pixFmt := p.PixelFormat
	if pixFmt == "" {
		pixFmt = DefaultPixelFormat
	}
	level := p.LogLevel
	if level == "" {
		level = "warning"
	}

	args := append([]string(nil), b.FFmpeg...)
	args = append(args, "-hide_banner", "-nostdin", "-loglevel", "level+"+level)
	// Frames are cut from the pipe at the probed coded size, so a display
	// matrix must not swap width and height.
	args = append(args, "-noautorotate")
	args = append(args, inputArgs(p.Options)...)
	args = append(args,
		"-i", p.Input,
		"-map", fmt.Sprintf("0:%d", p.StreamIndex),
		"-an", "-sn", "-dn",
		"-fps_mode", "passthrough",
		"-f", "rawvideo",
		"-pix_fmt", pixFmt,
		"pipe:1",
	)
	return args, nil
}

// BuildProbeArgs returns the ffprobe argument vector listing the streams of
// path as JSON.
func (b *Builder) BuildProbeArgs(path string) ([]string, error) {
	if path == "" {
		return nil, errors.New("input path is required")
	}
	args := append([]string(nil), b.FFprobe...)
	return append(args, "-hide_banner", "-v", "error", "-show_streams", "-show_format", "-of", "json", path), nil
}
