package version

import (
	"runtime/debug"
	"strings"
	"testing"
)

func TestVersionString(t *testing.T) {
	v := Version{Major: "1", Minor: "2", Patch: "3", Metadata: "rc1", Build: "abcdef"}
	if got, want := v.String(), "Version: 1.2.3-rc1\nBuild: abcdef"; got != want {
		t.Errorf("got %q want %q", got, want)
	}
	if s := ArmbtVersion.String(); !strings.HasPrefix(s, "Version: 0.3.0\nBuild: ") {
		t.Errorf("unexpected version %q", s)
	}
}

func TestFormatModules(t *testing.T) {
	info := &debug.BuildInfo{
		Main: debug.Module{Path: "github.com/go-delve/armbt", Version: "(devel)"},
		Deps: []*debug.Module{
			{Path: "github.com/spf13/cobra", Version: "v1.1.3", Sum: "h1:abc="},
			{Path: "golang.org/x/arch", Version: "v0.1.0", Replace: &debug.Module{Path: "../arch", Version: ""}},
		},
	}
	want := " mod\tgithub.com/go-delve/armbt\t(devel)\n" +
		" dep\tgithub.com/spf13/cobra\tv1.1.3\th1:abc=\n" +
		" dep\tgolang.org/x/arch\tv0.1.0\t=> ../arch\t\n"
	if got := formatModules(info); got != want {
		t.Errorf("got %q want %q", got, want)
	}
	if s := BuildInfo(); !strings.HasPrefix(s, "go") && !strings.HasPrefix(s, "devel") {
		t.Errorf("unexpected build info %q", s)
	}
}
