// Package feature holds the registry of named build variants (spec.md §3
// Feature), grounded in the original checker's feature.py. A Feature toggles
// configure-time options and compile-time flags, and may require a minimum
// interpreter version.
package feature

import (
	"context"

	abichecker "github.com/encukou/abi-checker"
)

// Feature is a named build variant, e.g. the free-threading build (tag "t").
type Feature struct {
	// Tag is the single character this feature contributes to a Build's tag.
	Tag string

	// ConfigOptions are passed to the interpreter's `configure` script.
	ConfigOptions []string

	// CFlags are appended when compiling an extension against a build that
	// carries this feature.
	CFlags []string

	// MinVersion, if non-zero, is the minimum commit version this feature
	// is compatible with.
	MinVersion abichecker.Version
}

// VerifyCompatibility reports a *abichecker.SkipBuild error if f is not
// compatible with commitVersion (i.e. commitVersion is older than
// f.MinVersion).
func (f Feature) VerifyCompatibility(ctx context.Context, commitVersion abichecker.Version) error {
	var zero abichecker.Version
	if f.MinVersion != zero && commitVersion.Less(f.MinVersion) {
		return &abichecker.SkipBuild{
			Reason: f.Tag + " not compatible with " + commitVersion.String(),
		}
	}
	return nil
}

// FreeThreading is the free-threading ("nogil") build variant: configure
// with --disable-gil, compile extensions with -DPy_GIL_DISABLED=1. It
// requires at least CPython 3.13.
var FreeThreading = Feature{
	Tag:           "t",
	ConfigOptions: []string{"--disable-gil"},
	CFlags:        []string{"-DPy_GIL_DISABLED=1"},
	MinVersion:    abichecker.Version{Major: 3, Minor: 13, Level: abichecker.LevelFinal},
}

// All is the registry of every known feature, in a stable order so
// Build-tag generation is deterministic.
var All = []Feature{FreeThreading}

// ByTag looks up a feature by its single-character tag.
func ByTag(tag string) (Feature, bool) {
	for _, f := range All {
		if f.Tag == tag {
			return f, true
		}
	}
	return Feature{}, false
}
