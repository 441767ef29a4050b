package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

// Version represents the current version of armbt.
type Version struct {
	Major    string
	Minor    string
	Patch    string
	Metadata string
	Build    string
}

// ArmbtVersion is the current version of armbt.
var ArmbtVersion = Version{
	Major: "0", Minor: "3", Patch: "0", Metadata: "",
	Build: "$Id$",
}

func (v Version) String() string {
	fixBuild(&v)
	ver := fmt.Sprintf("Version: %s.%s.%s", v.Major, v.Minor, v.Patch)
	if v.Metadata != "" {
		ver += "-" + v.Metadata
	}
	return fmt.Sprintf("%s\nBuild: %s", ver, v.Build)
}

// BuildInfo returns the Go version and the module dependencies armbt was
// built with.
func BuildInfo() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return runtime.Version() + "\nnot built in module mode\n"
	}
	return runtime.Version() + "\n" + formatModules(info)
}

// formatModules lists the main module and its dependencies, one per line.
// Replaced dependencies are followed by their replacement.
func formatModules(info *debug.BuildInfo) string {
	var b strings.Builder
	module := func(kind string, m *debug.Module) {
		fmt.Fprintf(&b, " %s\t%s\t%s", kind, m.Path, m.Version)
		if m.Sum != "" {
			fmt.Fprintf(&b, "\t%s", m.Sum)
		}
		if m.Replace != nil {
			fmt.Fprintf(&b, "\t=> %s\t%s", m.Replace.Path, m.Replace.Version)
		}
		b.WriteByte('\n')
	}
	module("mod", &info.Main)
	for _, dep := range info.Deps {
		module("dep", dep)
	}
	return b.String()
}

func fixBuild(v *Version) {
	// Return if v.Build already set, but not if it is Git ident expand file blob hash
	if !strings.HasPrefix(v.Build, "$Id$") {
		return
	}

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}

	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" {
			v.Build = setting.Value
			return
		}
	}
}
