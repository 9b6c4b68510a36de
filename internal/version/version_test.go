package version

import (
	"bytes"
	"strings"
	"testing"
)

func TestInfoString(t *testing.T) {
	tests := []struct {
		name   string
		commit string
		want   string
	}{
		{"long commit", "0123456789abcdef", "virtualcam v1.2.0 (0123456)"},
		{"short commit", "abc", "virtualcam v1.2.0 (abc)"},
		{"unknown", "unknown", "virtualcam v1.2.0 (unknown)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := Info{Version: "v1.2.0", GitCommit: tt.commit}
			if got := info.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWriteTo(t *testing.T) {
	var buf bytes.Buffer
	n, err := Get().WriteTo(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if n != int64(buf.Len()) {
		t.Errorf("n = %d, buffer holds %d", n, buf.Len())
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 5 {
		t.Fatalf("got %d lines: %q", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[0], "version:") || !strings.Contains(lines[0], Version) {
		t.Errorf("first line = %q", lines[0])
	}
}
