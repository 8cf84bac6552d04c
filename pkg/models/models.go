package models

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownTarget = errors.New("models: unknown target")

type HostOS string

const (
	OSNative  HostOS = "native"
	OSLinux   HostOS = "linux"
	OSWindows HostOS = "windows"
	OSMacOS   HostOS = "macos"
)

// TargetSpec identifies one host platform the toolchain is packaged for.
// Bits is zero for the native target, which always matches the build machine.
type TargetSpec struct {
	OS   HostOS
	Bits int
}

// ParseTarget parses a CLI-style target id such as "native", "linux64",
// "win32" or "macos64".
func ParseTarget(s string) (TargetSpec, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "native":
		return TargetSpec{OS: OSNative}, nil
	case "linux32":
		return TargetSpec{OS: OSLinux, Bits: 32}, nil
	case "linux64":
		return TargetSpec{OS: OSLinux, Bits: 64}, nil
	case "win32":
		return TargetSpec{OS: OSWindows, Bits: 32}, nil
	case "win64":
		return TargetSpec{OS: OSWindows, Bits: 64}, nil
	case "macos64":
		return TargetSpec{OS: OSMacOS, Bits: 64}, nil
	}
	return TargetSpec{}, fmt.Errorf("%w: %q", ErrUnknownTarget, s)
}

// ID returns the canonical target id used in paths, archive names and logs.
func (t TargetSpec) ID() string {
	switch t.OS {
	case OSNative:
		return "native"
	case OSWindows:
		return fmt.Sprintf("win%d", t.Bits)
	default:
		return fmt.Sprintf("%s%d", t.OS, t.Bits)
	}
}

// DependsOn returns the target whose completed artifacts must exist before
// this one may build. Windows targets are canadian crosses: their binaries
// are produced with the already-built GNU/Linux toolchain of matching
// bit-width.
func (t TargetSpec) DependsOn() (TargetSpec, bool) {
	if t.OS == OSWindows {
		return TargetSpec{OS: OSLinux, Bits: t.Bits}, true
	}
	return TargetSpec{}, false
}

// Containerized reports whether this target builds inside a container
// rather than directly on the build machine.
func (t TargetSpec) Containerized() bool {
	return t.OS == OSLinux || t.OS == OSWindows
}

// Component describes one fixed-version upstream source archive.
type Component struct {
	Name     string   `yaml:"name" validate:"required"`
	Version  string   `yaml:"version" validate:"required"`
	URL      string   `yaml:"url" validate:"required,url"`
	SHA256   string   `yaml:"sha256" validate:"required,len=64,hexadecimal"`
	Licenses []string `yaml:"licenses"`
}

// Dir returns the directory name the component's archive unpacks to.
func (c Component) Dir() string {
	return c.Name + "-" + c.Version
}

// Archive returns the file name of the component's source archive.
func (c Component) Archive() string {
	return c.Dir() + ".tar.gz"
}

// Manifest is the component manifest, read from crossforge.yml.
type Manifest struct {
	App        string            `yaml:"app" validate:"required"`
	Triple     string            `yaml:"triple" validate:"required"`
	Components []Component       `yaml:"components" validate:"required,dive"`
	Images     map[string]string `yaml:"images"`
}

// Component looks up a manifest component by name.
func (m *Manifest) Component(name string) (Component, bool) {
	for _, c := range m.Components {
		if c.Name == name {
			return c, true
		}
	}
	return Component{}, false
}

// Image returns the container image configured for the given target.
func (m *Manifest) Image(t TargetSpec) (string, bool) {
	img, ok := m.Images[t.ID()]
	return img, ok
}
