package ffmpeg

// DecodeParams describes one raw-video decode pass.
type DecodeParams struct {
	Input       string       // media file
	StreamIndex int          // absolute stream index from ffprobe
	PixelFormat string       // yuv420p unless set
	LogLevel    string       // ffmpeg -loglevel, warning unless set
	Options     []OptionType // decode flags placed before -i
}
