// Package media locates the substitute assets and reads the marker files
// that toggle engine behavior at runtime.
package media

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Asset and marker file names inside the media directory.
const (
	VideoFile = "virtual.mp4"
	StillFile = "1000.bmp"

	MarkerDisable      = "disable.jpg"
	MarkerNoToast      = "no_toast.jpg"
	MarkerUnmute       = "no-silent.jpg"
	MarkerForcePrivate = "private_dir.jpg"
	MarkerForceShow    = "force_show.jpg"

	shownMarker = "has_shown"
)

// ErrNotFound is returned when a required asset is missing.
var ErrNotFound = errors.New("media asset not found")

// Flags is a snapshot of the marker files.
type Flags struct {
	Disabled      bool `json:"disabled"`
	Notifications bool `json:"notifications"`
	Unmuted       bool `json:"unmuted"`
	ForcePrivate  bool `json:"force_private"`
	ForceShow     bool `json:"force_show"`
	HasVideo      bool `json:"has_video"`
	HasStill      bool `json:"has_still"`
}

// Library resolves asset paths. Markers always live in Dir; assets are read
// from the active directory, which is Dir unless Resolve redirected it to
// PrivateDir. Nothing is cached: every query stats the filesystem.
type Library struct {
	Dir        string
	PrivateDir string

	active string
}

// New creates a library rooted at dir with an optional private fallback.
func New(dir, privateDir string) *Library {
	return &Library{Dir: dir, PrivateDir: privateDir, active: dir}
}

// ActiveDir returns the directory assets are read from.
func (l *Library) ActiveDir() string {
	if l.active == "" {
		return l.Dir
	}
	return l.active
}

// VideoPath returns the substitute video path.
func (l *Library) VideoPath() string { return filepath.Join(l.ActiveDir(), VideoFile) }

// StillPath returns the substitute still image path.
func (l *Library) StillPath() string { return filepath.Join(l.ActiveDir(), StillFile) }

// HasVideo reports whether the substitute video exists.
func (l *Library) HasVideo() bool { return exists(l.VideoPath()) }

// HasStill reports whether the substitute still exists.
func (l *Library) HasStill() bool { return exists(l.StillPath()) }

// Disabled reports whether substitution is switched off.
func (l *Library) Disabled() bool { return l.marker(MarkerDisable) }

// NotificationsEnabled reports whether operator notices should be shown.
func (l *Library) NotificationsEnabled() bool { return !l.marker(MarkerNoToast) }

// Unmuted reports whether substituted playback may be audible.
func (l *Library) Unmuted() bool { return l.marker(MarkerUnmute) }

// Active reports whether hooks should substitute: enabled and video present.
func (l *Library) Active() bool { return !l.Disabled() && l.HasVideo() }

// Flags returns a snapshot of every marker and asset.
func (l *Library) Flags() Flags {
	return Flags{
		Disabled:      l.Disabled(),
		Notifications: l.NotificationsEnabled(),
		Unmuted:       l.Unmuted(),
		ForcePrivate:  l.marker(MarkerForcePrivate),
		ForceShow:     l.marker(MarkerForceShow),
		HasVideo:      l.HasVideo(),
		HasStill:      l.HasStill(),
	}
}

// RequireVideo returns the video path or ErrNotFound.
func (l *Library) RequireVideo() (string, error) {
	path := l.VideoPath()
	if !exists(path) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return path, nil
}

// RequireStill returns the still path or ErrNotFound.
func (l *Library) RequireStill() (string, error) {
	path := l.StillPath()
	if !exists(path) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return path, nil
}

// Resolution describes where assets are read from after Resolve.
type Resolution struct {
	Dir        string
	Redirected bool
	// Notify is set when the redirect should be announced: the first time,
	// or every time while the force-show marker exists.
	Notify bool
}

// Resolve picks the active asset directory. When the public directory is not
// readable by the client, or the force-private marker exists, assets are read
// from PrivateDir, which is created if needed.
func (l *Library) Resolve(publicReadable bool) (Resolution, error) {
	if publicReadable && !l.marker(MarkerForcePrivate) {
		l.active = l.Dir
		if err := os.MkdirAll(l.Dir, 0o755); err != nil {
			return Resolution{Dir: l.Dir}, fmt.Errorf("create media dir: %w", err)
		}
		return Resolution{Dir: l.Dir}, nil
	}
	if l.PrivateDir == "" {
		l.active = l.Dir
		return Resolution{Dir: l.Dir}, nil
	}

	// A plain file squatting on the directory name is replaced.
	if fi, err := os.Stat(l.PrivateDir); err == nil && !fi.IsDir() {
		if err := os.Remove(l.PrivateDir); err != nil {
			return Resolution{}, fmt.Errorf("remove stale private path: %w", err)
		}
	}
	if err := os.MkdirAll(l.PrivateDir, 0o755); err != nil {
		return Resolution{}, fmt.Errorf("create private dir: %w", err)
	}
	l.active = l.PrivateDir

	res := Resolution{Dir: l.PrivateDir, Redirected: true}
	shown := filepath.Join(l.PrivateDir, shownMarker)
	if !exists(shown) || l.marker(MarkerForceShow) {
		res.Notify = true
		if err := os.WriteFile(shown, []byte("shown"), 0o644); err != nil {
			return res, fmt.Errorf("record redirect notice: %w", err)
		}
	}
	return res, nil
}

func (l *Library) marker(name string) bool {
	return exists(filepath.Join(l.Dir, name))
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
