// Package version хранит сведения о сборке, заполняемые через -ldflags:
//
//	go build -ldflags "-X github.com/vladislavdragonenkov/storefront/internal/version.version=v1.2.0"
//
// Если commit не задан, берётся vcs.revision из debug.ReadBuildInfo.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Info описывает текущую сборку.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
}

func (i Info) String() string {
	return fmt.Sprintf("storefront version=%s commit=%s date=%s go=%s", i.Version, i.Commit, i.Date, i.GoVersion)
}

// Short: коммит, обрезанный до 7 символов.
func (i Info) Short() string {
	if len(i.Commit) > 7 {
		return i.Commit[:7]
	}
	return i.Commit
}

var (
	once   sync.Once
	cached Info
)

// Get возвращает сведения о сборке. Результат вычисляется один раз.
func Get() Info {
	once.Do(func() {
		cached = resolve(version, commit, date, debug.ReadBuildInfo)
	})
	return cached
}

func resolve(v, c, d string, read func() (*debug.BuildInfo, bool)) Info {
	info := Info{Version: v, Commit: c, Date: d, GoVersion: runtime.Version()}

	bi, ok := read()
	if !ok || bi == nil {
		return info
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.Commit == "unknown" && s.Value != "" {
				info.Commit = s.Value
			}
		case "vcs.time":
			if info.Date == "unknown" && s.Value != "" {
				info.Date = s.Value
			}
		}
	}
	if info.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		info.Version = bi.Main.Version
	}
	return info
}
