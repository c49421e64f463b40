// Package compileopt implements CompileOption (spec.md §3): an
// extension-compilation variant, either unrestricted or limited to a
// declared CPython Limited API level. Grounded in the original checker's
// compileoptions.py.
package compileopt

import (
	"fmt"
	"strconv"

	"golang.org/x/xerrors"

	abichecker "github.com/encukou/abi-checker"
)

// CompileOption is an extension-compilation variant: either unrestricted or
// limited to symbols stable since a declared CPython version. LimitedAPI
// uses a pointer rather than a sentinel int so "unrestricted" never
// collides with a real (if unlikely) hex value of 0.
type CompileOption struct {
	// LimitedAPI is nil for the unrestricted option. Otherwise it is either
	// the sentinel value 3 (meaning "Limited API 3.2", CPython's own
	// special-case encoding) or a packed version hex such as 0x030a0000.
	LimitedAPI *int64
}

// Unrestricted is the "no Limited API restriction" compile option.
var Unrestricted = CompileOption{}

// NewLimitedAPI constructs a Limited-API compile option for hexValue, which
// is either the sentinel 3 or a packed version hex.
func NewLimitedAPI(hexValue int64) CompileOption {
	v := hexValue
	return CompileOption{LimitedAPI: &v}
}

// IsLimitedAPI reports whether c restricts compilation to the Limited API.
func (c CompileOption) IsLimitedAPI() bool {
	return c.LimitedAPI != nil
}

// Tag is c's contribution to a TestModule's on-disk path: "~" for
// unrestricted, otherwise the zero-padded 8-hex-digit Limited API level.
func (c CompileOption) Tag() string {
	if c.LimitedAPI == nil {
		return "~"
	}
	return fmt.Sprintf("%08x", *c.LimitedAPI)
}

// String renders c the way the original checker's human-facing output
// does: "~" for unrestricted, "3" for the sentinel, "3.N" for a limited API
// pinned to 3.N.0, otherwise the raw 8-hex-digit form.
func (c CompileOption) String() string {
	if c.LimitedAPI == nil {
		return "~"
	}
	v := *c.LimitedAPI
	if v == 3 {
		return "3"
	}
	if v&0xff00ffff == 0x03000000 {
		return fmt.Sprintf("3.%d", (v>>16)&0xff)
	}
	return fmt.Sprintf("%08x", v)
}

// Parse parses c.Tag()'s textual form: "~" or a hex string.
func Parse(s string) (CompileOption, error) {
	if s == "~" {
		return Unrestricted, nil
	}
	v, err := strconv.ParseInt(s, 16, 64)
	if err != nil {
		return CompileOption{}, xerrors.Errorf("parsing compile option %q: %w", s, err)
	}
	return NewLimitedAPI(v), nil
}

// LimitedAPIVersion returns the CPython version c's Limited API level
// corresponds to. It is only meaningful when IsLimitedAPI is true.
func (c CompileOption) LimitedAPIVersion() (abichecker.Version, bool) {
	if c.LimitedAPI == nil {
		return abichecker.Version{}, false
	}
	if *c.LimitedAPI == 3 {
		return abichecker.Version{Major: 3, Minor: 2, Level: abichecker.LevelFinal}, true
	}
	v, err := abichecker.VersionFromHex(uint32(*c.LimitedAPI))
	if err != nil {
		return abichecker.Version{}, false
	}
	return v, true
}

// CFlags returns the compiler flags that select this compile option.
func (c CompileOption) CFlags() []string {
	if c.LimitedAPI == nil {
		return nil
	}
	if *c.LimitedAPI == 3 {
		return []string{"-DPy_LIMITED_API=3"}
	}
	return []string{fmt.Sprintf("-DPy_LIMITED_API=0x%08x", *c.LimitedAPI)}
}

// Less totally orders CompileOptions: unrestricted first, then ascending by
// Limited API hex level.
func (c CompileOption) Less(other CompileOption) bool {
	cLimited, otherLimited := c.LimitedAPI != nil, other.LimitedAPI != nil
	if cLimited != otherLimited {
		return !cLimited // unrestricted sorts first
	}
	if !cLimited {
		return false // both unrestricted
	}
	return *c.LimitedAPI < *other.LimitedAPI
}
