package ffmpeg

import (
	"strings"

	"github.com/smazurov/virtualcam/internal/metrics"
)

// LogLine is one stderr line of an ffmpeg run with -loglevel level+LEVEL.
type LogLine struct {
	Level     string // ffmpeg level name, info when the line carries none
	Component string // codec or filter name from "[h264 @ 0x...]", if any
	Message   string
}

// String returns the message with its component prefix restored.
func (l LogLine) String() string {
	if l.Component == "" {
		return l.Message
	}
	return "[" + l.Component + "] " + l.Message
}

// Severe reports whether the line is a warning or worse.
func (l LogLine) Severe() bool {
	switch l.Level {
	case "panic", "fatal", "error", "warning":
		return true
	}
	return false
}

// ParseLine splits "[level] msg" and "[component @ 0x...] [level] msg".
// Anything else is an info line kept verbatim.
func ParseLine(line string) LogLine {
	out := LogLine{Level: "info", Message: line}
	head, rest, ok := bracketed(line)
	if !ok {
		return out
	}
	if isLogLevel(head) {
		out.Level, out.Message = head, rest
		return out
	}

	name, _, isComponent := strings.Cut(head, " @ ")
	if !isComponent {
		return out
	}
	level, msg, ok := bracketed(rest)
	if !ok || !isLogLevel(level) {
		return out
	}
	out.Level, out.Component, out.Message = level, name, msg
	return out
}

// ParseLogLevel is a process.LogParser for the decode pipe. Severe lines are
// counted per codec so corrupt inputs show up in metrics.
func ParseLogLevel(line string) (level, msg string) {
	l := ParseLine(line)
	if l.Severe() {
		metrics.FFmpegStderrLine(l.Level, l.Component)
	}
	return l.Level, l.String()
}

func bracketed(s string) (inner, rest string, ok bool) {
	if len(s) < 3 || s[0] != '[' {
		return "", s, false
	}
	end := strings.Index(s, "] ")
	if end == -1 {
		return "", s, false
	}
	return s[1:end], s[end+2:], true
}

func isLogLevel(s string) bool {
	switch s {
	case "quiet", "panic", "fatal", "error", "warning", "info", "verbose", "debug", "trace":
		return true
	}
	return false
}
