// Package logging provides structured logging with per-module levels.
//
// Records go to stdout (text or JSON), to the systemd journal when journald
// is reachable, and to an in-memory ring buffer that the CLI can dump.
//
// Initialize once at startup:
//
//	logging.Initialize(logging.Config{
//		Level:  "info",
//		Format: "text",
//		Modules: map[string]string{
//			"decoder": "debug",
//			"modern":  "warn",
//		},
//	})
//
// and obtain module loggers anywhere:
//
//	logger := logging.GetLogger("legacy").With("camera", id)
//	logger.Info("Preview texture substituted")
//
// Loggers obtained before Initialize are cached and pick up the configured
// level afterwards, because each module level lives in a slog.LevelVar.
//
// Journal entries carry SYSLOG_IDENTIFIER=virtualcam and one upper-cased
// field per attribute:
//
//	journalctl -t virtualcam MODULE=decoder
//
// TOML configuration:
//
//	[logging]
//	level = "info"
//	format = "text"
//
//	[logging.modules]
//	decoder = "debug"
package logging
