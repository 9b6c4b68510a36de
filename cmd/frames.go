package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/spf13/cobra"

	"github.com/smazurov/virtualcam/internal/config"
	"github.com/smazurov/virtualcam/internal/decoder"
	"github.com/smazurov/virtualcam/internal/logging"
	"github.com/smazurov/virtualcam/internal/media"
	"github.com/smazurov/virtualcam/internal/surface"
	"github.com/smazurov/virtualcam/internal/yuv"
)

// CreateFramesCmd creates the frames command, which decodes the substitute
// video the way a reader target would receive it and writes each frame to a
// file.
func CreateFramesCmd() *cobra.Command {
	var format string
	var count int
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "frames [output-dir]",
		Short: "Dump substitute frames as a reader target receives them",
		Long: `Decodes virtual.mp4 from the media directory in the requested format ` +
			`(nv21, i420 or jpeg) and writes the first frames to numbered files.`,
		Args: cobra.ExactArgs(1),
		Run: humacli.WithOptions(func(_ *cobra.Command, args []string, opts *config.Options) {
			logger := logging.GetLogger("main")
			if err := dumpFrames(opts, args[0], format, count, timeout); err != nil {
				logger.Error("Frame dump failed", "error", err)
				os.Exit(1)
			}
		}),
	}

	cmd.Flags().StringVarP(&format, "format", "f", "nv21", "Output format (nv21, i420, jpeg)")
	cmd.Flags().IntVarP(&count, "count", "n", 10, "Number of frames to write")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Give up after this long")
	return cmd
}

// frameWriter is a sink writing every frame to dir until limit is reached.
type frameWriter struct {
	dir   string
	ext   string
	limit uint64
	n     atomic.Uint64
	full  chan struct{}
}

func (w *frameWriter) WriteFrame(f *surface.Frame) error {
	i := w.n.Add(1)
	if i > w.limit {
		return nil
	}
	name := filepath.Join(w.dir, fmt.Sprintf("frame-%04d.%s", i-1, w.ext))
	if err := writeFile(name, f.Data); err != nil {
		return err
	}
	if i == w.limit {
		close(w.full)
	}
	return nil
}

func dumpFrames(opts *config.Options, dir, formatName string, count int, timeout time.Duration) error {
	f, err := yuv.ParseFormat(formatName)
	if err != nil {
		return err
	}
	if !f.Raw() && f != yuv.FormatJPEG {
		return fmt.Errorf("%w: %s", yuv.ErrUnsupportedFormat, f)
	}
	if count <= 0 {
		return fmt.Errorf("count must be positive, got %d", count)
	}

	backend, err := NewBackend(opts)
	if err != nil {
		return err
	}
	path, err := media.New(opts.MediaDir, opts.MediaPrivateDir).RequireVideo()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	sink := &frameWriter{dir: dir, ext: formatName, limit: uint64(count), full: make(chan struct{})}
	dec := decoder.New(backend, logging.GetLogger("decoder"), decoder.WithDequeueTimeout(opts.DequeueTimeout()))
	task, err := dec.Start(path, sink, f)
	if err != nil {
		return err
	}
	defer task.Release()

	select {
	case <-sink.full:
	case <-task.Done():
		if err := task.Err(); err != nil {
			return err
		}
	case <-time.After(timeout):
		return fmt.Errorf("timed out after %d of %d frames", min(sink.n.Load(), sink.limit), count)
	}

	info := task.Info()
	logging.GetLogger("main").Info("Frames written", "dir", dir, "count", min(sink.n.Load(), sink.limit),
		"format", info.Format, "loops", info.Loops)
	return nil
}
