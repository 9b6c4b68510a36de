package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/cobra"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "virtualcam.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func defaults() *Options {
	return &Options{
		MediaDir:                   "./camera1",
		FFmpegPath:                 "ffmpeg",
		DecoderDequeueTimeoutMs:    10,
		LegacyFirstFrameTimeoutMs:  2000,
		SessionReleaseOnDisconnect: true,
		PreviewWidth:               1280,
		PreviewHeight:              720,
		LoggingLevel:               "info",
	}
}

func TestLoadConfigFromTOML(t *testing.T) {
	opts := defaults()
	opts.Config = writeConfig(t, `
[media]
dir = "/sdcard/DCIM/Camera1"
private_dir = "/data/camera1"

[ffmpeg]
path = "/usr/local/bin/ffmpeg -nostats"
options = ["genpts", "low_delay"]

[decoder]
dequeue_timeout_ms = 25

[legacy]
first_frame_timeout_ms = 500

[session]
release_on_disconnect = false

[preview]
width = 640
height = 480
`)

	if err := LoadConfig(opts, nil); err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"MediaDir", opts.MediaDir, "/sdcard/DCIM/Camera1"},
		{"MediaPrivateDir", opts.MediaPrivateDir, "/data/camera1"},
		{"FFmpegPath", opts.FFmpegPath, "/usr/local/bin/ffmpeg -nostats"},
		{"FFmpegOptions", opts.FFmpegOptions, "genpts,low_delay"},
		{"DequeueTimeout", opts.DequeueTimeout(), 25 * time.Millisecond},
		{"FirstFrameTimeout", opts.FirstFrameTimeout(), 500 * time.Millisecond},
		{"SessionReleaseOnDisconnect", opts.SessionReleaseOnDisconnect, false},
		{"PreviewWidth", opts.PreviewWidth, 640},
		{"PreviewHeight", opts.PreviewHeight, 480},
		{"LoggingLevel", opts.LoggingLevel, "info"},
	}
	for _, tt := range tests {
		if !reflect.DeepEqual(tt.got, tt.want) {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestLoadConfigOverlaysDefaults(t *testing.T) {
	opts := defaults()
	opts.Config = writeConfig(t, `
[preview]
fps = 24

[logging]
level = "debug"
ffmpeg = "error"
`)
	if err := LoadConfig(opts, nil); err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	want := defaults()
	want.Config = opts.Config
	want.PreviewFPS = 24
	want.LoggingLevel = "debug"
	want.LoggingFFmpeg = "error"
	if diff := cmp.Diff(want, opts); diff != "" {
		t.Errorf("options mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadConfigEnvOverridesTOML(t *testing.T) {
	opts := defaults()
	opts.Config = writeConfig(t, `
[media]
dir = "from-toml"

[preview]
fps = 15
`)
	t.Setenv("VIRTUALCAM_MEDIA_DIR", "from-env")
	t.Setenv("VIRTUALCAM_SESSION_RELEASE_ON_DISCONNECT", "false")
	t.Setenv("VIRTUALCAM_FFMPEG_OPTIONS", "igndts, threads_1")

	if err := LoadConfig(opts, nil); err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if opts.MediaDir != "from-env" {
		t.Errorf("MediaDir = %q, want env value", opts.MediaDir)
	}
	if opts.PreviewFPS != 15 {
		t.Errorf("PreviewFPS = %d, want TOML value", opts.PreviewFPS)
	}
	if opts.SessionReleaseOnDisconnect {
		t.Error("SessionReleaseOnDisconnect = true, want env false")
	}
	if got := opts.DecodeOptions(); !reflect.DeepEqual(got, []string{"igndts", "threads_1"}) {
		t.Errorf("DecodeOptions = %v", got)
	}
}

func TestLoadConfigKeepsChangedFlags(t *testing.T) {
	opts := defaults()
	opts.Config = writeConfig(t, "[media]\ndir = \"from-toml\"\n[preview]\nwidth = 320\n")
	t.Setenv("VIRTUALCAM_PREVIEW_WIDTH", "800")

	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().StringVar(&opts.MediaDir, "media-dir", opts.MediaDir, "")
	cmd.Flags().IntVar(&opts.PreviewWidth, "preview-width", opts.PreviewWidth, "")
	if err := cmd.Flags().Parse([]string{"--media-dir", "from-flag"}); err != nil {
		t.Fatal(err)
	}

	if err := LoadConfig(opts, cmd); err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if opts.MediaDir != "from-flag" {
		t.Errorf("MediaDir = %q, want flag value", opts.MediaDir)
	}
	if opts.PreviewWidth != 800 {
		t.Errorf("PreviewWidth = %d, want env value for an unchanged flag", opts.PreviewWidth)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	opts := defaults()
	opts.Config = filepath.Join(t.TempDir(), "absent.toml")
	if err := LoadConfig(opts, nil); err != nil {
		t.Fatalf("missing file should be ignored: %v", err)
	}
	if opts.MediaDir != "./camera1" {
		t.Errorf("MediaDir = %q, defaults must survive", opts.MediaDir)
	}
}

func TestLoadConfigInvalidTOML(t *testing.T) {
	opts := defaults()
	opts.Config = writeConfig(t, "[media\nnot toml")
	if err := LoadConfig(opts, nil); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadConfigRejectsNonPointer(t *testing.T) {
	if err := LoadConfig(Options{}, nil); err == nil {
		t.Fatal("expected error for a struct value")
	}
}

func TestOptionDurationsFallBack(t *testing.T) {
	opts := &Options{}
	if got := opts.DequeueTimeout(); got != 10*time.Millisecond {
		t.Errorf("DequeueTimeout = %v", got)
	}
	if got := opts.FirstFrameTimeout(); got != 2*time.Second {
		t.Errorf("FirstFrameTimeout = %v", got)
	}
	if got := opts.DecodeOptions(); got != nil {
		t.Errorf("DecodeOptions = %v, want nil", got)
	}
}

func TestOptionsLogging(t *testing.T) {
	opts := &Options{LoggingLevel: "warn", LoggingFormat: "json", LoggingDecoder: "debug", LoggingFFmpeg: "error"}
	cfg := opts.Logging()
	if cfg.Level != "warn" || cfg.Format != "json" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Modules["decoder"] != "debug" || cfg.Modules["ffmpeg"] != "error" {
		t.Errorf("modules = %v", cfg.Modules)
	}
}

func TestFieldNameToFlag(t *testing.T) {
	tests := map[string]string{
		"MediaDir":                   "media-dir",
		"Config":                     "config",
		"SessionReleaseOnDisconnect": "session-release-on-disconnect",
	}
	for in, want := range tests {
		if got := fieldNameToFlag(in); got != want {
			t.Errorf("fieldNameToFlag(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestGetNestedValue(t *testing.T) {
	data := map[string]any{
		"media": map[string]any{"dir": "x"},
		"flat":  1,
	}
	if got := getNestedValue(data, "media.dir"); got != "x" {
		t.Errorf("media.dir = %v", got)
	}
	if got := getNestedValue(data, "flat"); got != 1 {
		t.Errorf("flat = %v", got)
	}
	if got := getNestedValue(data, "flat.deeper"); got != nil {
		t.Errorf("flat.deeper = %v, want nil", got)
	}
	if got := getNestedValue(data, "media.absent"); got != nil {
		t.Errorf("media.absent = %v, want nil", got)
	}
}

func TestSetFieldValueFromString(t *testing.T) {
	var s struct {
		Rate  float64
		Count int
		Names []string
		On    bool
	}
	v := reflect.ValueOf(&s).Elem()

	setFieldValueFromString(v.FieldByName("Rate"), "29.97")
	setFieldValueFromString(v.FieldByName("Count"), "7")
	setFieldValueFromString(v.FieldByName("Names"), " a , ,b ")
	setFieldValueFromString(v.FieldByName("On"), "true")
	setFieldValueFromString(v.FieldByName("Count"), "not a number")

	if s.Rate != 29.97 || s.Count != 7 || !s.On {
		t.Errorf("s = %+v", s)
	}
	if !reflect.DeepEqual(s.Names, []string{"a", "b"}) {
		t.Errorf("Names = %v", s.Names)
	}
}

func TestLoadLoggingConfig(t *testing.T) {
	path := writeConfig(t, `
[logging]
level = "debug"
format = "json"
decoder = "warn"
legacy = "error"
`)
	cfg := LoadLoggingConfig(path)
	if cfg.Level != "debug" || cfg.Format != "json" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Modules["decoder"] != "warn" || cfg.Modules["legacy"] != "error" {
		t.Errorf("modules = %v", cfg.Modules)
	}

	if def := LoadLoggingConfig(""); def.Level != "info" || def.Format != "text" {
		t.Errorf("default = %+v", def)
	}
}
