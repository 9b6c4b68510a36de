package ffmpeg

import (
	"slices"
	"strings"
	"testing"
)

func TestBuildDecodeArgs(t *testing.T) {
	b := NewBuilder(nil, nil)

	args, err := b.BuildDecodeArgs(&DecodeParams{Input: "/media/virtual.mp4", StreamIndex: 1})
	if err != nil {
		t.Fatalf("BuildDecodeArgs() failed: %v", err)
	}
	want := "ffmpeg -hide_banner -nostdin -loglevel level+warning -noautorotate -i /media/virtual.mp4 -map 0:1 -an -sn -dn -fps_mode passthrough -f rawvideo -pix_fmt yuv420p pipe:1"
	if got := strings.Join(args, " "); got != want {
		t.Errorf("BuildDecodeArgs() =\n%s\nwant\n%s", got, want)
	}
}

func TestBuildDecodeArgsOptions(t *testing.T) {
	b := NewBuilder([]string{"nice", "-n", "10", "/usr/bin/ffmpeg"}, nil)

	args, err := b.BuildDecodeArgs(&DecodeParams{
		Input:       "in.mkv",
		StreamIndex: 0,
		PixelFormat: "nv21",
		LogLevel:    "info",
		Options:     []OptionType{OptionGeneratePTS, OptionIgnoreDTS, OptionHWAccel},
	})
	if err != nil {
		t.Fatalf("BuildDecodeArgs() failed: %v", err)
	}
	got := strings.Join(args, " ")

	for _, part := range []string{
		"nice -n 10 /usr/bin/ffmpeg -hide_banner",
		"-loglevel level+info",
		"-hwaccel auto",
		"-fflags +genpts+igndts -i in.mkv",
		"-pix_fmt nv21 pipe:1",
	} {
		if !strings.Contains(got, part) {
			t.Errorf("command %q missing %q", got, part)
		}
	}
	// Input options must come before -i
	for _, opt := range []string{"-hwaccel", "-noautorotate"} {
		if slices.Index(args, opt) > slices.Index(args, "-i") {
			t.Errorf("%s placed after input: %q", opt, got)
		}
	}
}

func TestBuildDecodeArgsErrors(t *testing.T) {
	b := NewBuilder(nil, nil)
	tests := []struct {
		name   string
		params DecodeParams
	}{
		{"empty input", DecodeParams{}},
		{"negative stream", DecodeParams{Input: "a.mp4", StreamIndex: -1}},
		{"conflicting options", DecodeParams{Input: "a.mp4", Options: []OptionType{OptionSingleThread, OptionAutoThreads}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := b.BuildDecodeArgs(&tt.params); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestBuildProbeArgs(t *testing.T) {
	b := NewBuilder(nil, []string{"/opt/ffprobe"})
	args, err := b.BuildProbeArgs("/media/virtual.mp4")
	if err != nil {
		t.Fatalf("BuildProbeArgs() failed: %v", err)
	}
	want := "/opt/ffprobe -hide_banner -v error -show_streams -show_format -of json /media/virtual.mp4"
	if got := strings.Join(args, " "); got != want {
		t.Errorf("BuildProbeArgs() = %q, want %q", got, want)
	}
	if _, err := b.BuildProbeArgs(""); err == nil {
		t.Error("expected error for empty path")
	}
}

func TestValidateOptions(t *testing.T) {
	tests := []struct {
		name    string
		options []OptionType
		errMsg  string
	}{
		{"valid single option", []OptionType{OptionGeneratePTS}, ""},
		{"valid combination", []OptionType{OptionGeneratePTS, OptionAutoThreads, OptionHWAccel}, ""},
		{"exclusive threads", []OptionType{OptionSingleThread, OptionAutoThreads}, "exclusive group"},
		{"conflicting error handling", []OptionType{OptionIgnoreErrors, OptionDiscardCorrupt}, "conflicts with"},
		{"empty options", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateOptions(tt.options)
			if tt.errMsg == "" {
				if err != nil {
					t.Errorf("ValidateOptions() unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("ValidateOptions() error = %v, want containing %q", err, tt.errMsg)
			}
		})
	}
}

func TestParseOptions(t *testing.T) {
	got, err := ParseOptions([]string{"genpts", " hwaccel "})
	if err != nil {
		t.Fatalf("ParseOptions() failed: %v", err)
	}
	if !slices.Equal(got, []OptionType{OptionGeneratePTS, OptionHWAccel}) {
		t.Errorf("ParseOptions() = %v", got)
	}
	if _, err := ParseOptions([]string{"turbo"}); err == nil {
		t.Error("expected error for unknown option")
	}
}

func TestGetDefaultOptions(t *testing.T) {
	defaults := GetDefaultOptions()
	if err := ValidateOptions(defaults); err != nil {
		t.Errorf("default options invalid: %v", err)
	}
	if !slices.Contains(defaults, OptionAutoThreads) {
		t.Errorf("GetDefaultOptions() = %v, want %s included", defaults, OptionAutoThreads)
	}
	if n := len(GetOptionsByCategory()[CategoryPerformance]); n == 0 {
		t.Error("no performance options")
	}
}
