package process

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/smazurov/virtualcam/internal/logging"
)

// LogParser parses a log line and returns the log level and message.
type LogParser func(line string) (level, msg string)

// ExitKilled is reported when the child had to be killed.
const ExitKilled = 137

var (
	// ErrNotStarted is returned when stopping or waiting on a process that never started.
	ErrNotStarted = errors.New("process not started")
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("process already started")
)

// Process manages one subprocess whose stdout is consumed as data.
type Process struct {
	id              string
	args            []string
	logger          logging.Logger
	processLogger   logging.Logger // logger for process stderr (nil = use logger)
	logParser       LogParser      // recovers levels from stderr lines (nil = info)
	gracefulTimeout time.Duration  // SIGINT to SIGKILL
	killTimeout     time.Duration  // SIGKILL to giving up

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdout  *os.File
	started bool

	exited     chan struct{}
	exitErr    error
	outputDone chan struct{}
	stopOnce   sync.Once
	exitCode   int
}

// New creates a process for args. args[0] is the program.
func New(id string, args []string, logger logging.Logger) *Process {
	return &Process{
		id:              id,
		args:            args,
		logger:          logger,
		gracefulTimeout: 2 * time.Second,
		killTimeout:     2 * time.Second,
		exited:          make(chan struct{}),
		outputDone:      make(chan struct{}),
	}
}

// SetLogParser sets the logger and parser used for the child's stderr.
func (p *Process) SetLogParser(logger logging.Logger, parser LogParser) {
	p.processLogger = logger
	p.logParser = parser
}

// SetTimeouts overrides the graceful and kill timeouts. Zero keeps the default.
func (p *Process) SetTimeouts(graceful, kill time.Duration) {
	if graceful > 0 {
		p.gracefulTimeout = graceful
	}
	if kill > 0 {
		p.killTimeout = kill
	}
}

// Args returns the command line.
func (p *Process) Args() []string { return p.args }

// Start launches the child and returns its stdout. The reader belongs to the
// process and is closed by Stop.
func (p *Process) Start() (io.Reader, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return nil, ErrAlreadyStarted
	}
	if len(p.args) == 0 {
		return nil, errors.New("empty command")
	}

	// Plain OS pipes: exec.Cmd.Wait would close its own pipes while we may
	// still be reading buffered frames.
	outR, outW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		outR.Close()
		outW.Close()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	cmd := exec.Command(p.args[0], p.args[1:]...)
	cmd.Stdout = outW
	cmd.Stderr = errW
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		outR.Close()
		outW.Close()
		errR.Close()
		errW.Close()
		p.logger.Error("Failed to start process", "id", p.id, "error", err, "command", p.args[0])
		return nil, fmt.Errorf("start %s: %w", p.args[0], err)
	}
	// The child holds its own copies of the write ends.
	outW.Close()
	errW.Close()

	p.cmd = cmd
	p.stdout = outR
	p.started = true
	p.logger.Debug("Process started", "id", p.id, "pid", cmd.Process.Pid, "command", strings.Join(p.args, " "))

	go func() {
		p.streamOutput(errR)
		errR.Close()
		close(p.outputDone)
	}()
	go func() {
		p.exitErr = cmd.Wait()
		close(p.exited)
	}()

	return outR, nil
}

// Exited is closed when the child has exited.
func (p *Process) Exited() <-chan struct{} { return p.exited }

// Wait blocks until the child exits on its own and returns its exit code.
func (p *Process) Wait() (int, error) {
	if !p.isStarted() {
		return 1, ErrNotStarted
	}
	<-p.exited
	<-p.outputDone
	return exitCodeFromError(p.exitErr), p.exitErr
}

// Stop ends the child: the data stream is closed, SIGINT is sent, and after
// the graceful timeout the child is killed. It returns the exit code and is
// safe to call more than once.
func (p *Process) Stop() int {
	if !p.isStarted() {
		return 0
	}
	p.stopOnce.Do(func() {
		p.stdout.Close()
		p.exitCode = p.stop()
		select {
		case <-p.outputDone:
		case <-time.After(p.killTimeout):
			p.logger.Warn("Process stderr still open after exit", "id", p.id)
		}
	})
	return p.exitCode
}

func (p *Process) stop() int {
	select {
	case <-p.exited:
		return exitCodeFromError(p.exitErr)
	default:
	}

	if err := p.signal(syscall.SIGINT); err != nil {
		p.logger.Warn("Failed to send SIGINT", "id", p.id, "error", err)
	}

	select {
	case <-p.exited:
		return exitCodeFromError(p.exitErr)
	case <-time.After(p.gracefulTimeout):
	}

	p.logger.Warn("Graceful shutdown timeout, forcing kill", "id", p.id, "timeout", p.gracefulTimeout)
	if err := p.signal(syscall.SIGKILL); err != nil {
		p.logger.Error("Failed to kill process", "id", p.id, "error", err)
	}
	select {
	case <-p.exited:
	case <-time.After(p.killTimeout):
		p.logger.Error("Process did not exit after kill signal", "id", p.id)
	}
	return ExitKilled
}

// signal delivers sig to the child's process group.
func (p *Process) signal(sig syscall.Signal) error {
	err := syscall.Kill(-p.cmd.Process.Pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}

func (p *Process) isStarted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started
}

// streamOutput forwards stderr lines to the process logger at the level the
// parser recovers.
func (p *Process) streamOutput(reader io.Reader) {
	logger := p.processLogger
	if logger == nil {
		logger = p.logger
	}

	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		level, msg := "info", scanner.Text()
		if p.logParser != nil {
			level, msg = p.logParser(msg)
		}
		switch level {
		case "panic", "fatal", "error":
			logger.Error(msg, "id", p.id)
		case "warning":
			logger.Warn(msg, "id", p.id)
		case "verbose", "debug", "trace":
			logger.Debug(msg, "id", p.id)
		default:
			logger.Info(msg, "id", p.id)
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		p.logger.Warn("Error reading process output", "id", p.id, "error", err)
	}
}

// Capture runs args to completion and returns stdout. A non-zero exit is an
// error carrying the tail of stderr.
func Capture(ctx context.Context, args []string) ([]byte, error) {
	if len(args) == 0 {
		return nil, errors.New("empty command")
	}
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 512 {
			msg = msg[len(msg)-512:]
		}
		if msg != "" {
			return stdout.Bytes(), fmt.Errorf("%s: %w: %s", args[0], err, msg)
		}
		return stdout.Bytes(), fmt.Errorf("%s: %w", args[0], err)
	}
	return stdout.Bytes(), nil
}

// exitCodeFromError extracts exit code from process error.
// Returns 0 for nil error, the exit code for ExitError, or 1 for other errors.
func exitCodeFromError(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return 1
}

// SplitCommand splits a configured command line into arguments. Quotes
// group words and a backslash escapes the next character.
func SplitCommand(command string) ([]string, error) {
	var args []string
	var current strings.Builder
	inQuote := false
	quoteChar := rune(0)

	runes := []rune(strings.TrimSpace(command))
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '"' || r == '\'':
			switch {
			case !inQuote:
				inQuote = true
				quoteChar = r
			case r == quoteChar:
				inQuote = false
				quoteChar = 0
			default:
				current.WriteRune(r)
			}
		case r == ' ' && !inQuote:
			if current.Len() > 0 {
				args = append(args, current.String())
				current.Reset()
			}
		case r == '\\' && i+1 < len(runes):
			i++
			current.WriteRune(runes[i])
		default:
			current.WriteRune(r)
		}
	}
	if current.Len() > 0 {
		args = append(args, current.String())
	}
	if inQuote {
		return nil, errors.New("unclosed quote in command")
	}
	return args, nil
}
