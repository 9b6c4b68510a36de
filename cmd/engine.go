// Package cmd holds the subcommands and the engine wiring shared with the
// daemon in main.
package cmd

import (
	"fmt"

	"github.com/smazurov/virtualcam/internal/config"
	"github.com/smazurov/virtualcam/internal/decoder"
	"github.com/smazurov/virtualcam/internal/events"
	"github.com/smazurov/virtualcam/internal/ffmpeg"
	"github.com/smazurov/virtualcam/internal/legacy"
	"github.com/smazurov/virtualcam/internal/logging"
	"github.com/smazurov/virtualcam/internal/media"
	"github.com/smazurov/virtualcam/internal/modern"
	"github.com/smazurov/virtualcam/internal/player"
	"github.com/smazurov/virtualcam/internal/process"
	"github.com/smazurov/virtualcam/internal/session"
)

// Engine is the fully wired substitution engine: one media library, one
// decoder and both routers sharing an event bus and an audio arbiter.
type Engine struct {
	Library  *media.Library
	Backend  decoder.Backend
	Decoder  *decoder.Decoder
	Bus      *events.Bus
	Notifier *events.Notifier
	Arbiter  *player.Arbiter

	LegacySessions *session.Manager
	ModernSessions *session.Manager
	Legacy         *legacy.Router
	Modern         *modern.Router
}

// NewBackend builds the ffmpeg decode backend described by opts.
func NewBackend(opts *config.Options) (*ffmpeg.Backend, error) {
	ffmpegCmd, err := process.SplitCommand(opts.FFmpegPath)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg.path: %w", err)
	}
	ffprobeCmd, err := process.SplitCommand(opts.FFprobePath)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg.probe_path: %w", err)
	}

	var backendOpts []ffmpeg.BackendOption
	if keys := opts.DecodeOptions(); len(keys) > 0 {
		decodeOpts, err := ffmpeg.ParseOptions(keys)
		if err != nil {
			return nil, fmt.Errorf("ffmpeg.options: %w", err)
		}
		if err := ffmpeg.ValidateOptions(decodeOpts); err != nil {
			return nil, fmt.Errorf("ffmpeg.options: %w", err)
		}
		backendOpts = append(backendOpts, ffmpeg.WithOptions(decodeOpts))
	}

	builder := ffmpeg.NewBuilder(ffmpegCmd, ffprobeCmd)
	return ffmpeg.NewBackend(builder, logging.GetLogger("ffmpeg"), backendOpts...), nil
}

// NewEngine wires every component from opts on top of the ffmpeg backend.
// Nothing is started until a client hook runs.
func NewEngine(opts *config.Options) (*Engine, error) {
	backend, err := NewBackend(opts)
	if err != nil {
		return nil, err
	}
	return NewEngineWithBackend(opts, backend), nil
}

// NewEngineWithBackend wires the engine on top of any decode backend.
func NewEngineWithBackend(opts *config.Options, backend decoder.Backend) *Engine {
	e := &Engine{
		Library: media.New(opts.MediaDir, opts.MediaPrivateDir),
		Backend: backend,
		Bus:     events.New(),
		Arbiter: player.NewArbiter(),
	}
	e.Notifier = events.NewNotifier(e.Bus, e.Library.NotificationsEnabled, logging.GetLogger("media"))
	e.Decoder = decoder.New(backend, logging.GetLogger("decoder"),
		decoder.WithDequeueTimeout(opts.DequeueTimeout()),
		decoder.WithEventBus(e.Bus),
	)

	sessionLogger := logging.GetLogger("session")
	e.LegacySessions = session.NewManager("legacy", sessionLogger,
		session.WithEventBus(e.Bus),
		session.WithReleaseOnDisconnect(opts.SessionReleaseOnDisconnect),
	)
	e.ModernSessions = session.NewManager("modern", sessionLogger,
		session.WithEventBus(e.Bus),
		session.WithReleaseOnDisconnect(opts.SessionReleaseOnDisconnect),
	)

	e.Legacy = legacy.NewRouter(e.Library, e.Decoder, e.LegacySessions, logging.GetLogger("legacy"),
		legacy.WithArbiter(e.Arbiter),
		legacy.WithNotifier(e.Notifier),
		legacy.WithEventBus(e.Bus),
		legacy.WithFirstFrameTimeout(opts.FirstFrameTimeout()),
	)
	e.Modern = modern.NewRouter(e.Library, e.Decoder, e.ModernSessions, logging.GetLogger("modern"),
		modern.WithArbiter(e.Arbiter),
		modern.WithNotifier(e.Notifier),
		modern.WithEventBus(e.Bus),
	)
	return e
}

// ResolveMedia picks the asset directory and announces a redirect to the
// private directory when the library asks for it.
func (e *Engine) ResolveMedia(publicReadable bool) (media.Resolution, error) {
	res, err := e.Library.Resolve(publicReadable)
	if res.Notify {
		e.Notifier.Notify("", fmt.Sprintf("media read from %s", res.Dir))
	}
	return res, err
}

// WatchMedia returns a watcher publishing events.FlagsChangedEvent whenever a
// marker in the media directory or an asset in the active directory changes.
// Call it after ResolveMedia so a redirected asset directory is covered.
func (e *Engine) WatchMedia(opts ...config.WatcherOption[media.Flags]) *config.Watcher[media.Flags] {
	lib := e.Library
	opts = append([]config.WatcherOption[media.Flags]{config.WithPaths[media.Flags](lib.ActiveDir())}, opts...)
	w := config.NewWatcher(lib.Dir,
		func(string) (media.Flags, error) { return lib.Flags(), nil },
		logging.GetLogger("media"),
		opts...,
	)
	w.OnReload(func(f media.Flags) {
		e.Bus.Publish(events.FlagsChangedEvent{Flags: f})
	})
	return w
}

// Shutdown releases every binding of both APIs.
func (e *Engine) Shutdown() {
	e.LegacySessions.CloseAll()
	e.ModernSessions.CloseAll()
}
