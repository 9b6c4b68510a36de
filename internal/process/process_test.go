package process

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/virtualcam/internal/logging"
)

func testLogger() logging.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type captureLogger struct {
	mu    sync.Mutex
	lines []string
}

func (c *captureLogger) add(level, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, level+" "+msg)
}

func (c *captureLogger) Debug(msg string, _ ...any) { c.add("DEBUG", msg) }
func (c *captureLogger) Info(msg string, _ ...any)  { c.add("INFO", msg) }
func (c *captureLogger) Warn(msg string, _ ...any)  { c.add("WARN", msg) }
func (c *captureLogger) Error(msg string, _ ...any) { c.add("ERROR", msg) }

func (c *captureLogger) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}

func TestStartReadsStdout(t *testing.T) {
	p := New("echo", []string{"sh", "-c", "printf abc"}, testLogger())
	out, err := p.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	data, err := io.ReadAll(out)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != "abc" {
		t.Errorf("stdout = %q, want %q", data, "abc")
	}
	code, err := p.Wait()
	if err != nil || code != 0 {
		t.Errorf("Wait = %d, %v; want 0, nil", code, err)
	}
}

func TestStartTwice(t *testing.T) {
	p := New("twice", []string{"sh", "-c", "exit 0"}, testLogger())
	if _, err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop()
	if _, err := p.Start(); err != ErrAlreadyStarted {
		t.Errorf("second Start error = %v, want ErrAlreadyStarted", err)
	}
}

func TestStartMissingBinary(t *testing.T) {
	p := New("missing", []string{"/nonexistent/virtualcam-test-binary"}, testLogger())
	if _, err := p.Start(); err == nil {
		t.Fatal("expected error for missing binary")
	}
	if code := p.Stop(); code != 0 {
		t.Errorf("Stop on unstarted process = %d, want 0", code)
	}
}

func TestStopGraceful(t *testing.T) {
	script := `trap 'exit 0' INT; while true; do sleep 0.05; done`
	p := New("graceful", []string{"sh", "-c", script}, testLogger())
	p.SetTimeouts(2*time.Second, time.Second)
	if _, err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	if code := p.Stop(); code != 0 {
		t.Errorf("Stop = %d, want 0", code)
	}
	if elapsed := time.Since(start); elapsed > 1500*time.Millisecond {
		t.Errorf("graceful stop took %v", elapsed)
	}
	select {
	case <-p.Exited():
	default:
		t.Error("Exited not closed after Stop")
	}
}

func TestStopForcesKill(t *testing.T) {
	script := `trap '' INT; while true; do sleep 0.05; done`
	p := New("stubborn", []string{"sh", "-c", script}, testLogger())
	p.SetTimeouts(200*time.Millisecond, time.Second)
	if _, err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	if code := p.Stop(); code != ExitKilled {
		t.Errorf("Stop = %d, want %d", code, ExitKilled)
	}
	// Idempotent
	if code := p.Stop(); code != ExitKilled {
		t.Errorf("second Stop = %d, want %d", code, ExitKilled)
	}
}

func TestStopAfterExit(t *testing.T) {
	p := New("exit3", []string{"sh", "-c", "exit 3"}, testLogger())
	if _, err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-p.Exited()
	if code := p.Stop(); code != 3 {
		t.Errorf("Stop = %d, want 3", code)
	}
}

func TestStderrParsed(t *testing.T) {
	capture := &captureLogger{}
	parser := func(line string) (string, string) {
		level, msg, ok := strings.Cut(line, ":")
		if !ok {
			return "info", line
		}
		return level, msg
	}

	script := `echo "error:boom" >&2; echo "warning:careful" >&2; echo "plain" >&2`
	p := New("stderr", []string{"sh", "-c", script}, testLogger())
	p.SetLogParser(capture, parser)
	if _, err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := p.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	got := capture.snapshot()
	want := []string{"ERROR boom", "WARN careful", "INFO plain"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("stderr lines = %v, want %v", got, want)
	}
}

func TestCapture(t *testing.T) {
	out, err := Capture(context.Background(), []string{"sh", "-c", "printf '{\"ok\":true}'"})
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if string(out) != `{"ok":true}` {
		t.Errorf("Capture = %q", out)
	}

	_, err = Capture(context.Background(), []string{"sh", "-c", "echo nope >&2; exit 1"})
	if err == nil {
		t.Fatal("expected error for failing command")
	}
	if !strings.Contains(err.Error(), "nope") {
		t.Errorf("error %q does not carry stderr", err)
	}

	if _, err := Capture(context.Background(), nil); err == nil {
		t.Error("expected error for empty command")
	}
}

func TestSplitCommand(t *testing.T) {
	tests := []struct {
		name    string
		command string
		want    []string
		wantErr bool
	}{
		{"simple", "ffmpeg -hide_banner", []string{"ffmpeg", "-hide_banner"}, false},
		{"extra spaces", "  nice   -n 10 ffmpeg ", []string{"nice", "-n", "10", "ffmpeg"}, false},
		{"double quotes", `ffmpeg -vf "scale=640:480"`, []string{"ffmpeg", "-vf", "scale=640:480"}, false},
		{"single quotes", `ffmpeg -metadata 'title=a b'`, []string{"ffmpeg", "-metadata", "title=a b"}, false},
		{"escaped space", `/opt/my\ tools/ffmpeg`, []string{"/opt/my tools/ffmpeg"}, false},
		{"nested quote", `echo "it's"`, []string{"echo", "it's"}, false},
		{"empty", "", nil, false},
		{"unclosed", `ffmpeg "oops`, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SplitCommand(tt.command)
			if (err != nil) != tt.wantErr {
				t.Fatalf("SplitCommand(%q) error = %v, wantErr %v", tt.command, err, tt.wantErr)
			}
			if fmt.Sprint(got) != fmt.Sprint(tt.want) {
				t.Errorf("SplitCommand(%q) = %q, want %q", tt.command, got, tt.want)
			}
		})
	}
}
