package version

import (
	"runtime/debug"
	"strings"
)

// Set through -ldflags at release time.
var (
	Version = "0.1.0"
	Commit  = ""
	Date    = ""
)

type Info struct {
	Version  string
	Commit   string
	Date     string
	Modified bool
}

// Resolve returns the release version, falling back to the VCS revision the
// Go toolchain stamped into the binary for local builds.
func Resolve() Info {
	bi, _ := debug.ReadBuildInfo()
	return resolve(Version, Commit, Date, bi)
}

func resolve(base, commit, date string, bi *debug.BuildInfo) Info {
	info := Info{
		Version: strings.TrimPrefix(strings.TrimSpace(base), "v"),
		Commit:  strings.TrimSpace(commit),
		Date:    strings.TrimSpace(date),
	}
	if info.Version == "" {
		info.Version = "0.0.0"
	}

	if bi == nil {
		return info
	}

	for _, setting := range bi.Settings {
		switch setting.Key {
		case "vcs.revision":
			if info.Commit == "" {
				info.Commit = setting.Value
			}
		case "vcs.time":
			if info.Date == "" {
				info.Date = setting.Value
			}
		case "vcs.modified":
			info.Modified = setting.Value == "true"
		}
	}

	return info
}

// String renders "1.2.3", "1.2.3+abcdef1" or "1.2.3+abcdef1.dirty".
func (i Info) String() string {
	if i.Commit == "" {
		return i.Version
	}

	short := i.Commit
	if len(short) > 7 {
		short = short[:7]
	}

	out := i.Version + "+" + short
	if i.Modified {
		out += ".dirty"
	}
	return out
}
