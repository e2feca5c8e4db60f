// Package version exposes build metadata for the apfrontend binary.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"time"
)

// Set at build time with -ldflags, e.g.
// -X .../internal/version.Version=1.2.0
var (
	Version   = "dev"
	GitCommit = ""
	BuildTime = ""
)

// BuildInfo is the resolved build metadata.
type BuildInfo struct {
	Version   string    `json:"version"`
	GitCommit string    `json:"gitCommit,omitempty"`
	BuildTime time.Time `json:"buildTime,omitempty"`
	GoVersion string    `json:"goVersion"`
	Platform  string    `json:"platform"`
}

// GetBuildInfo returns the ldflags values, falling back to what the Go
// toolchain embedded for builds without them.
func GetBuildInfo() *BuildInfo {
	info := &BuildInfo{
		Version:   Version,
		GitCommit: GitCommit,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
	if t, err := time.Parse(time.RFC3339, BuildTime); err == nil {
		info.BuildTime = t
	}
	embedded, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	if info.Version == "dev" && embedded.Main.Version != "" && embedded.Main.Version != "(devel)" {
		info.Version = embedded.Main.Version
	}
	for _, setting := range embedded.Settings {
		switch setting.Key {
		case "vcs.revision":
			if info.GitCommit == "" {
				info.GitCommit = setting.Value
			}
		case "vcs.time":
			if info.BuildTime.IsZero() {
				if t, err := time.Parse(time.RFC3339, setting.Value); err == nil {
					info.BuildTime = t
				}
			}
		}
	}
	return info
}
