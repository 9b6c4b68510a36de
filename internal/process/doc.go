// Package process runs short-lived helper subprocesses such as ffmpeg and
// ffprobe.
//
// A Process exposes the child's stdout as a data stream and forwards stderr
// line by line to a logger, optionally through a LogParser that recovers the
// tool's own log level. Stop closes the data stream, sends SIGINT and falls
// back to SIGKILL after a grace period:
//
//	p := process.New("decode-1", []string{"ffmpeg", "-i", "in.mp4", "-f", "rawvideo", "pipe:1"}, logger)
//	p.SetLogParser(logging.GetLogger("ffmpeg"), ffmpeg.ParseLogLevel)
//	stdout, err := p.Start()
//	...
//	code := p.Stop()
//
// Capture runs a command to completion and returns its stdout.
package process
