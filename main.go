package main

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"

	"github.com/smazurov/virtualcam/cmd"
	"github.com/smazurov/virtualcam/internal/config"
	"github.com/smazurov/virtualcam/internal/events"
	"github.com/smazurov/virtualcam/internal/logging"
	"github.com/smazurov/virtualcam/internal/metrics"
)

const statsInterval = 10 * time.Second

func main() {
	cli := humacli.New(func(hooks humacli.Hooks, opts *config.Options) {
		if loadErr := config.LoadConfig(opts, nil); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}
		logging.Initialize(opts.Logging())
		logger := logging.GetLogger("main")

		stop := make(chan struct{})
		finished := make(chan struct{})

		hooks.OnStart(func() {
			defer close(finished)

			engine, err := cmd.NewEngine(opts)
			if err != nil {
				logger.Error("Failed to build engine", "error", err)
				os.Exit(1)
			}
			defer engine.Shutdown()

			if res, resolveErr := engine.ResolveMedia(publicReadable(opts.MediaDir)); resolveErr != nil {
				logger.Warn("Failed to prepare media directory", "error", resolveErr)
			} else {
				logger.Info("Media directory", "dir", res.Dir, "redirected", res.Redirected)
			}

			inbox := make(chan any, 64)
			defer events.SubscribeToChannel[events.NoticeEvent](engine.Bus, inbox)()
			defer events.SubscribeToChannel[events.PlaybackFailedEvent](engine.Bus, inbox)()
			defer events.SubscribeToChannel[events.FlagsChangedEvent](engine.Bus, inbox)()
			defer events.SubscribeToChannel[events.SessionClosedEvent](engine.Bus, inbox)()

			lib := engine.Library
			watcher := engine.WatchMedia()
			if opts.MediaWatch {
				if watchErr := watcher.Start(); watchErr != nil {
					logger.Warn("Failed to watch media directory, hot restart disabled", "error", watchErr)
				}
			}
			defer func() { _ = watcher.Stop() }()

			sim := cmd.NewSimulator(engine, opts.PreviewWidth, opts.PreviewHeight, opts.PreviewFPS, logger)
			sim.Start()
			defer sim.Stop()

			flags := lib.Flags()
			ticker := time.NewTicker(statsInterval)
			defer ticker.Stop()

			for {
				select {
				case <-stop:
					return
				case <-ticker.C:
					st := sim.Stats()
					logger.Info("Client stats",
						"callbacks", st.Callbacks,
						"substituted", st.Substituted,
						"legacy_state", st.LegacyState.String(),
						"legacy_preview_frames", st.LegacyPreview,
						"modern_preview_frames", st.ModernPreview,
						"modern_reader_frames", st.ModernReader,
					)
				case ev := <-inbox:
					switch e := ev.(type) {
					case events.NoticeEvent:
						logger.Info("Notice", "camera", e.Camera, "message", e.Message)
					case events.PlaybackFailedEvent:
						logger.Warn("Playback failed", "target", e.Target, "error", e.Error)
					case events.SessionClosedEvent:
						logger.Debug("Session closed", "camera", e.Camera, "reason", e.Reason, "released", e.Released)
					case events.FlagsChangedEvent:
						if e.Flags == flags {
							continue
						}
						logger.Info("Media changed, restarting client", "from", flags, "to", e.Flags)
						flags = e.Flags
						sim.Restart()
					}
				}
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down")
			close(stop)
			<-finished
			if err := metrics.WriteText(os.Stdout); err != nil {
				logger.Warn("Failed to write metrics", "error", err)
			}
		})
	})

	cli.Root().AddCommand(cmd.CreateFramesCmd())
	cli.Root().AddCommand(cmd.CreateStillCmd())
	cli.Root().AddCommand(cmd.CreateProbeCmd())
	cli.Root().AddCommand(cmd.CreateVersionCmd())

	cli.Run()
}

// publicReadable reports whether the media directory can be listed. A
// directory that does not exist yet counts as readable; it will be created.
func publicReadable(dir string) bool {
	_, err := os.ReadDir(dir)
	return err == nil || errors.Is(err, fs.ErrNotExist)
}
