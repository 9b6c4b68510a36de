package config

import (
	"strings"
	"time"

	"github.com/smazurov/virtualcam/internal/logging"
)

// Options is the flat CLI option set. Flags come from the field names, TOML
// keys from the toml tags and env vars from EnvPrefix plus the env tags.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"virtualcam.toml"`

	// Media settings
	MediaDir        string `help:"Directory holding virtual.mp4, 1000.bmp and marker files" short:"m" default:"./camera1" toml:"media.dir" env:"MEDIA_DIR"`
	MediaPrivateDir string `help:"Fallback media directory when the public one is unreadable" default:"" toml:"media.private_dir" env:"MEDIA_PRIVATE_DIR"`
	MediaWatch      bool   `help:"Watch the media directory and restart previews on change" default:"true" toml:"media.watch" env:"MEDIA_WATCH"`

	// FFmpeg settings
	FFmpegPath    string `help:"ffmpeg command" default:"ffmpeg" toml:"ffmpeg.path" env:"FFMPEG_PATH"`
	FFprobePath   string `help:"ffprobe command" default:"ffprobe" toml:"ffmpeg.probe_path" env:"FFPROBE_PATH"`
	FFmpegOptions string `help:"Comma separated decode options (genpts, igndts, discardcorrupt, ignore_err, hwaccel, threads_1, threads_auto, low_delay)" default:"" toml:"ffmpeg.options" env:"FFMPEG_OPTIONS"`

	// Engine settings
	DecoderDequeueTimeoutMs    int  `help:"Decoder dequeue timeout in milliseconds" default:"10" toml:"decoder.dequeue_timeout_ms" env:"DECODER_DEQUEUE_TIMEOUT_MS"`
	LegacyFirstFrameTimeoutMs  int  `help:"How long a preview callback waits for the first substitute frame" default:"2000" toml:"legacy.first_frame_timeout_ms" env:"LEGACY_FIRST_FRAME_TIMEOUT_MS"`
	SessionReleaseOnDisconnect bool `help:"Release substitute decoders when a camera disconnects or errors" default:"true" toml:"session.release_on_disconnect" env:"SESSION_RELEASE_ON_DISCONNECT"`

	// Simulated preview client
	PreviewWidth  int `help:"Simulated preview width" default:"1280" toml:"preview.width" env:"PREVIEW_WIDTH"`
	PreviewHeight int `help:"Simulated preview height" default:"720" toml:"preview.height" env:"PREVIEW_HEIGHT"`
	PreviewFPS    int `help:"Simulated preview callback rate" default:"30" toml:"preview.fps" env:"PREVIEW_FPS"`

	// Logging settings
	LoggingLevel   string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat  string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingDecoder string `help:"Decoder logging level" default:"info" toml:"logging.decoder" env:"LOGGING_DECODER"`
	LoggingFFmpeg  string `help:"FFmpeg subprocess logging level" default:"warn" toml:"logging.ffmpeg" env:"LOGGING_FFMPEG"`
	LoggingLegacy  string `help:"Legacy router logging level" default:"info" toml:"logging.legacy" env:"LOGGING_LEGACY"`
	LoggingModern  string `help:"Modern router logging level" default:"info" toml:"logging.modern" env:"LOGGING_MODERN"`
	LoggingSession string `help:"Session lifecycle logging level" default:"info" toml:"logging.session" env:"LOGGING_SESSION"`
	LoggingPlayer  string `help:"Player logging level" default:"info" toml:"logging.player" env:"LOGGING_PLAYER"`
	LoggingMedia   string `help:"Media library logging level" default:"info" toml:"logging.media" env:"LOGGING_MEDIA"`
}

// Logging builds the logging configuration from the logging.* options.
func (o *Options) Logging() logging.Config {
	return logging.Config{
		Level:  o.LoggingLevel,
		Format: o.LoggingFormat,
		Modules: map[string]string{
			"decoder": o.LoggingDecoder,
			"ffmpeg":  o.LoggingFFmpeg,
			"legacy":  o.LoggingLegacy,
			"modern":  o.LoggingModern,
			"session": o.LoggingSession,
			"player":  o.LoggingPlayer,
			"media":   o.LoggingMedia,
		},
	}
}

// DequeueTimeout returns the decoder dequeue timeout. Non-positive values
// fall back to 10ms.
func (o *Options) DequeueTimeout() time.Duration {
	return millis(o.DecoderDequeueTimeoutMs, 10*time.Millisecond)
}

// FirstFrameTimeout returns how long legacy preview callbacks wait for the
// first substitute frame.
func (o *Options) FirstFrameTimeout() time.Duration {
	return millis(o.LegacyFirstFrameTimeoutMs, 2*time.Second)
}

// DecodeOptions splits FFmpegOptions into keys.
func (o *Options) DecodeOptions() []string {
	var keys []string
	for _, k := range strings.Split(o.FFmpegOptions, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

func millis(ms int, fallback time.Duration) time.Duration {
	if ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}
