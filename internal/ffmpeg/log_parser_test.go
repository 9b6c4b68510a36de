package ffmpeg

import "testing"

func TestParseLine(t *testing.T) {
	tests := []struct {
		name string
		line string
		want LogLine
		text string
	}{
		{
			name: "info",
			line: "[info] Stream mapping:",
			want: LogLine{Level: "info", Message: "Stream mapping:"},
			text: "Stream mapping:",
		},
		{
			name: "error",
			line: "[error] failed to open file",
			want: LogLine{Level: "error", Message: "failed to open file"},
			text: "failed to open file",
		},
		{
			name: "codec error",
			line: "[h264 @ 0x55f4a8c00000] [error] Invalid NAL unit size",
			want: LogLine{Level: "error", Component: "h264", Message: "Invalid NAL unit size"},
			text: "[h264] Invalid NAL unit size",
		},
		{
			name: "scaler warning",
			line: "[swscaler @ 0x7f673c439fc0] [warning] deprecated pixel format used",
			want: LogLine{Level: "warning", Component: "swscaler", Message: "deprecated pixel format used"},
			text: "[swscaler] deprecated pixel format used",
		},
		{
			name: "component without level",
			line: "[h264 @ 0x55f4a8c00000] frame=100 fps=30",
			want: LogLine{Level: "info", Message: "[h264 @ 0x55f4a8c00000] frame=100 fps=30"},
			text: "[h264 @ 0x55f4a8c00000] frame=100 fps=30",
		},
		{
			name: "bracket that is not a component",
			line: "[mp4] [error] x",
			want: LogLine{Level: "info", Message: "[mp4] [error] x"},
			text: "[mp4] [error] x",
		},
		{
			name: "plain",
			line: "Input #0, mov,mp4,m4a,3gp,3g2,mj2, from 'virtual.mp4':",
			want: LogLine{Level: "info", Message: "Input #0, mov,mp4,m4a,3gp,3g2,mj2, from 'virtual.mp4':"},
			text: "Input #0, mov,mp4,m4a,3gp,3g2,mj2, from 'virtual.mp4':",
		},
		{name: "empty", line: "", want: LogLine{Level: "info"}, text: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseLine(tt.line)
			if got != tt.want {
				t.Errorf("ParseLine = %+v, want %+v", got, tt.want)
			}
			if got.String() != tt.text {
				t.Errorf("String() = %q, want %q", got.String(), tt.text)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	level, msg := ParseLogLevel("[hevc @ 0x1] [warning] Could not find ref with POC 3")
	if level != "warning" || msg != "[hevc] Could not find ref with POC 3" {
		t.Errorf("ParseLogLevel = %q, %q", level, msg)
	}
	if !(LogLine{Level: "fatal"}).Severe() || (LogLine{Level: "verbose"}).Severe() {
		t.Error("Severe misclassifies levels")
	}
}
