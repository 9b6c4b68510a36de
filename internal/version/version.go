// Package version carries build metadata stamped in with -ldflags.
package version

import (
	"fmt"
	"io"
	"runtime"
)

var (
	// Version is the release tag, set via ldflags during build.
	Version = "dev"
	// GitCommit is the git commit hash, set via ldflags during build.
	GitCommit = "unknown"
	// BuildDate is the build timestamp, set via ldflags during build.
	BuildDate = "unknown"
)

// Info is the build metadata of the running binary.
type Info struct {
	Version   string
	GitCommit string
	BuildDate string
	GoVersion string
	Platform  string
}

// Get returns the build metadata.
func Get() Info {
	return Info{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// Short returns the commit hash truncated to seven characters.
func (i Info) Short() string {
	if len(i.GitCommit) > 7 {
		return i.GitCommit[:7]
	}
	return i.GitCommit
}

// String returns "virtualcam <version> (<commit>)".
func (i Info) String() string {
	return fmt.Sprintf("virtualcam %s (%s)", i.Version, i.Short())
}

// WriteTo prints one "label: value" line per field.
func (i Info) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for _, f := range [][2]string{
		{"version", i.Version},
		{"commit", i.GitCommit},
		{"build date", i.BuildDate},
		{"go", i.GoVersion},
		{"platform", i.Platform},
	} {
		n, err := fmt.Fprintf(w, "%-11s %s\n", f[0]+":", f[1])
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// String returns the version line of the running binary.
func String() string {
	return Get().String()
}
