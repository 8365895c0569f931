package version

import (
	"runtime/debug"
	"strings"
	"testing"
)

func TestGet_IsStable(t *testing.T) {
	first := Get()
	if first.Version == "" || first.Commit == "" || first.Date == "" {
		t.Fatalf("build info must not have empty fields: %+v", first)
	}
	if first != Get() {
		t.Fatal("Get must return the same value on each call")
	}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name string
		v, c string
		bi   *debug.BuildInfo
		want Info
	}{
		{
			name: "no build info",
			v:    "dev", c: "unknown",
			want: Info{Version: "dev", Commit: "unknown", Date: "unknown"},
		},
		{
			name: "vcs settings fill defaults",
			v:    "dev", c: "unknown",
			bi: &debug.BuildInfo{
				Main: debug.Module{Version: "v0.3.1"},
				Settings: []debug.BuildSetting{
					{Key: "vcs.revision", Value: "4f2a9c1d0e"},
					{Key: "vcs.time", Value: "2026-10-01T08:00:00Z"},
				},
			},
			want: Info{Version: "v0.3.1", Commit: "4f2a9c1d0e", Date: "2026-10-01T08:00:00Z"},
		},
		{
			name: "ldflags win over vcs",
			v:    "v1.0.0", c: "abc",
			bi: &debug.BuildInfo{
				Main:     debug.Module{Version: "(devel)"},
				Settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "zzz"}},
			},
			want: Info{Version: "v1.0.0", Commit: "abc", Date: "unknown"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := resolve(tc.v, tc.c, "unknown", func() (*debug.BuildInfo, bool) { return tc.bi, tc.bi != nil })
			got.GoVersion = ""
			if got != tc.want {
				t.Fatalf("got %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestInfo_Format(t *testing.T) {
	info := Info{Version: "v1", Commit: "0123456789", Date: "today", GoVersion: "go1.24"}

	if got := info.Short(); got != "0123456" {
		t.Fatalf("Short() = %q", got)
	}
	if got := (Info{Commit: "abc"}).Short(); got != "abc" {
		t.Fatalf("short commit must stay intact, got %q", got)
	}

	s := info.String()
	for _, part := range []string{"storefront ", "version=v1", "commit=0123456789", "date=today", "go=go1.24"} {
		if !strings.Contains(s, part) {
			t.Errorf("String() = %q, missing %q", s, part)
		}
	}
}
