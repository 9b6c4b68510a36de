package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/spf13/cobra"

	"github.com/smazurov/virtualcam/internal/config"
	"github.com/smazurov/virtualcam/internal/decoder"
	"github.com/smazurov/virtualcam/internal/logging"
	"github.com/smazurov/virtualcam/internal/media"
)

// CreateProbeCmd creates the probe command, which lists the tracks of the
// substitute video and the one the decoder would pick.
func CreateProbeCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "probe [file]",
		Short: "List the tracks of the substitute video",
		Long:  `Runs ffprobe on virtual.mp4 in the media directory, or on the given file.`,
		Args:  cobra.MaximumNArgs(1),
		Run: humacli.WithOptions(func(_ *cobra.Command, args []string, opts *config.Options) {
			logger := logging.GetLogger("main")
			if err := probe(opts, args, timeout, os.Stdout); err != nil {
				logger.Error("Probe failed", "error", err)
				os.Exit(1)
			}
		}),
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "ffprobe timeout")
	return cmd
}

func probe(opts *config.Options, args []string, timeout time.Duration, w io.Writer) error {
	var path string
	if len(args) > 0 {
		path = args[0]
	} else {
		p, err := media.New(opts.MediaDir, opts.MediaPrivateDir).RequireVideo()
		if err != nil {
			return err
		}
		path = p
	}

	backend, err := NewBackend(opts)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	tracks, err := backend.Probe(ctx, path)
	if err != nil {
		return err
	}
	printTracks(w, path, tracks)
	return nil
}

func printTracks(w io.Writer, path string, tracks []decoder.Track) {
	fmt.Fprintf(w, "%s\n", path)
	for _, t := range tracks {
		fmt.Fprintf(w, "  #%d %-20s", t.Index, t.MIME)
		if t.IsVideo() {
			fmt.Fprintf(w, " %dx%d %.3gfps", t.Width, t.Height, t.FrameRate)
		}
		if t.Duration > 0 {
			fmt.Fprintf(w, " %s", t.Duration.Round(time.Millisecond))
		}
		fmt.Fprintln(w)
	}
	if video, err := decoder.SelectVideoTrack(tracks); err == nil {
		fmt.Fprintf(w, "selected: #%d\n", video.Index)
	} else {
		fmt.Fprintf(w, "selected: none (%v)\n", err)
	}
}
