package cmd

import (
	"os"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/spf13/cobra"

	"github.com/smazurov/virtualcam/internal/config"
	"github.com/smazurov/virtualcam/internal/logging"
	"github.com/smazurov/virtualcam/internal/media"
	"github.com/smazurov/virtualcam/internal/yuv"
)

// CreateStillCmd creates the still command, which renders the substitute
// photo the way a picture callback would receive it.
func CreateStillCmd() *cobra.Command {
	var format string
	var output string

	cmd := &cobra.Command{
		Use:   "still",
		Short: "Render the substitute photo",
		Long:  `Loads 1000.bmp from the media directory and encodes it as nv21, i420 or jpeg.`,
		Args:  cobra.NoArgs,
		Run: humacli.WithOptions(func(_ *cobra.Command, _ []string, opts *config.Options) {
			logger := logging.GetLogger("main")
			n, err := renderStill(opts, format, output)
			if err != nil {
				logger.Error("Still render failed", "error", err)
				os.Exit(1)
			}
			logger.Info("Still written", "output", output, "format", format, "bytes", n)
		}),
	}

	cmd.Flags().StringVarP(&format, "format", "f", "jpeg", "Output format (nv21, i420, jpeg)")
	cmd.Flags().StringVarP(&output, "output", "o", "still.jpg", "Output file")
	return cmd
}

func renderStill(opts *config.Options, formatName, output string) (int, error) {
	f, err := yuv.ParseFormat(formatName)
	if err != nil {
		return 0, err
	}
	path, err := media.New(opts.MediaDir, opts.MediaPrivateDir).RequireStill()
	if err != nil {
		return 0, err
	}
	img, err := yuv.LoadStill(path)
	if err != nil {
		return 0, err
	}
	data, err := yuv.EncodeStill(nil, img, f)
	if err != nil {
		return 0, err
	}
	if err := writeFile(output, data); err != nil {
		return 0, err
	}
	return len(data), nil
}
