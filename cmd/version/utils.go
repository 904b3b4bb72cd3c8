package version

import (
	"runtime/debug"
	"time"
)

// These variables can be overridden at build time with ldflags
var (
	Version   string // -X github.com/questchain/node/cmd/version.Version=...
	Commit    string // -X github.com/questchain/node/cmd/version.Commit=...
	BuildTime string // -X github.com/questchain/node/cmd/version.BuildTime=...
)

// buildSetting reads a VCS setting embedded by the go toolchain.
func buildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == key {
			return s.Value
		}
	}
	return ""
}

// getVersion returns the ldflags version if set, otherwise the module version
func getVersion() string {
	if Version != "" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "(devel)"
}

// getCommit returns the commit in short form
func getCommit() string {
	commit := Commit
	if commit == "" {
		commit = buildSetting("vcs.revision")
	}

	// Return short form (9 chars) for readability
	const shortHashLength = 9
	if len(commit) > shortHashLength {
		return commit[:shortHashLength]
	}
	return commit
}

func isDirty() bool {
	return buildSetting("vcs.modified") == "true"
}

// getBuildTime returns the ldflags build time if set, otherwise the commit time
func getBuildTime() time.Time {
	raw := BuildTime
	if raw == "" {
		raw = buildSetting("vcs.time")
	}
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

// getBuildTimeDisplay returns a formatted build time with context about whether it's commit or build time
func getBuildTimeDisplay() string {
	buildTime := getBuildTime()
	if buildTime.IsZero() {
		return "unknown"
	}
	if BuildTime != "" || isDirty() {
		return buildTime.Format(time.RFC3339) + " (build time)"
	}
	return buildTime.Format(time.RFC3339) + " (commit time)"
}
