// Package version reports which build of the openchat binaries is running.
//
// Release builds inject the values with ldflags:
//
//	go build -ldflags "-X github.com/NicolasHaas/openchat/pkg/version.tag=v1.0.0
//	  -X github.com/NicolasHaas/openchat/pkg/version.commit=abc1234
//	  -X github.com/NicolasHaas/openchat/pkg/version.date=2026-01-01"
//
// Without them the VCS stamp embedded by the go tool is used.
package version

import "runtime/debug"

var (
	tag    = ""
	commit = ""
	date   = ""
)

// Info describes one build.
type Info struct {
	Tag      string
	Commit   string
	Date     string
	Modified bool
}

// Get returns the injected build info, falling back to the embedded VCS stamp
// when no commit was injected.
func Get() Info {
	info := Info{Tag: tag, Commit: commit, Date: date}
	if info.Commit != "" {
		return info
	}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			info.Commit = s.Value
			if len(info.Commit) > 7 {
				info.Commit = info.Commit[:7]
			}
		case "vcs.time":
			info.Date = s.Value
		case "vcs.modified":
			info.Modified = s.Value == "true"
		}
	}
	return info
}

// String renders "tag (commit) built date", "commit built date" or "dev".
func (i Info) String() string {
	rev := i.Commit
	if rev != "" && i.Modified {
		rev += "-dirty"
	}
	built := ""
	if i.Date != "" {
		built = " built " + i.Date
	}
	switch {
	case i.Tag != "" && rev != "":
		return i.Tag + " (" + rev + ")" + built
	case i.Tag != "":
		return i.Tag + built
	case rev != "":
		return rev + built
	default:
		return "dev"
	}
}

// Banner returns the line printed by --version, e.g. "openchat-server dev".
func Banner(binary string) string {
	return binary + " " + Get().String()
}
