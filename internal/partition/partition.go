// Package partition names the versioned cache partitions.
//
// Partition names follow <app>-<kind>-<version>. Bumping the version creates a
// new set of names; the old partitions are orphaned until activation deletes them.
package partition

import (
	"fmt"
	"strings"
)

// Kind is a logical partition.
type Kind string

const (
	Static  Kind = "static"
	Dynamic Kind = "dynamic"
	Images  Kind = "images"
)

// Kinds lists every logical partition.
var Kinds = []Kind{Static, Dynamic, Images}

// Set is the partition names of one app version.
type Set struct {
	App     string
	Version string
}

func (s Set) Name(k Kind) string {
	return fmt.Sprintf("%s-%s-%s", s.App, k, s.Version)
}

func (s Set) Static() string  { return s.Name(Static) }
func (s Set) Dynamic() string { return s.Name(Dynamic) }
func (s Set) Images() string  { return s.Name(Images) }

// Names returns the three current partition names.
func (s Set) Names() []string {
	names := make([]string, len(Kinds))
	for i, k := range Kinds {
		names[i] = s.Name(k)
	}
	return names
}

// Owns reports whether name belongs to this app, whatever its version.
func (s Set) Owns(name string) bool {
	return strings.HasPrefix(name, s.App+"-")
}

// IsStale reports whether name belongs to this app but is not a current partition.
func (s Set) IsStale(name string) bool {
	if !s.Owns(name) {
		return false
	}
	for _, current := range s.Names() {
		if name == current {
			return false
		}
	}
	return true
}

// Parse splits a partition name of app into kind and version.
func Parse(app, name string) (Kind, string, bool) {
	rest, ok := strings.CutPrefix(name, app+"-")
	if !ok {
		return "", "", false
	}
	for _, k := range Kinds {
		if version, ok := strings.CutPrefix(rest, string(k)+"-"); ok && version != "" {
			return k, version, true
		}
	}
	return "", "", false
}

// Detect finds versions of app whose static partition is resident, newest
// creation last. The static partition only exists after a successful install.
func Detect(app string, names []string) []string {
	var versions []string
	seen := make(map[string]bool)
	for _, name := range names {
		kind, version, ok := Parse(app, name)
		if !ok || kind != Static || seen[version] {
			continue
		}
		seen[version] = true
		versions = append(versions, version)
	}
	return versions
}

// Latest returns the last detected version other than exclude.
func Latest(app string, names []string, exclude string) (string, bool) {
	versions := Detect(app, names)
	for i := len(versions) - 1; i >= 0; i-- {
		if versions[i] != exclude {
			return versions[i], true
		}
	}
	return "", false
}
