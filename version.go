// Package abichecker provides the root types shared by the whole
// compatibility matrix engine: the CPython version model and the small
// ambient utilities (interrupt handling, at-exit hooks) every other package
// builds on.
package abichecker

import (
	"fmt"
	"regexp"
	"strconv"

	"golang.org/x/xerrors"
)

// Level is a CPython release level, ordered alpha < beta < candidate < final.
type Level int

const (
	LevelAlpha Level = iota
	LevelBeta
	LevelCandidate
	LevelFinal
)

// levelLetters maps a Level to the single letter CPython uses in version
// strings (e.g. "3.13.0a1", "3.13.0rc2"). Final has no letter.
var levelLetters = map[Level]string{
	LevelAlpha:     "a",
	LevelBeta:      "b",
	LevelCandidate: "rc",
	LevelFinal:     "",
}

var letterLevels = map[string]Level{
	"a":  LevelAlpha,
	"b":  LevelBeta,
	"rc": LevelCandidate,
	"f":  LevelFinal,
}

// levelFromNibble canonicalizes the hex-encoded release-level nibble to a
// Level. This uses nibble values (0xa, 0xb, 0xc, 0xf, and 0 as an alias for
// final), not character keys.
func levelFromNibble(nibble byte) (Level, error) {
	switch nibble {
	case 0xa:
		return LevelAlpha, nil
	case 0xb:
		return LevelBeta, nil
	case 0xc:
		return LevelCandidate, nil
	case 0xf, 0x0:
		return LevelFinal, nil
	default:
		return 0, xerrors.Errorf("unrecognized release level nibble 0x%x", nibble)
	}
}

// levelNibble is the inverse of levelFromNibble.
func levelNibble(l Level) byte {
	switch l {
	case LevelAlpha:
		return 0xa
	case LevelBeta:
		return 0xb
	case LevelCandidate:
		return 0xc
	default:
		return 0xf
	}
}

func (l Level) String() string {
	return levelLetters[l]
}

// Version is a CPython version: the same five fields CPython's own
// sys.version_info exposes. It is totally ordered: (major, minor, micro,
// releaselevel, serial) compared lexicographically, with Level already
// ordered alpha < beta < candidate < final.
type Version struct {
	Major, Minor, Micro int
	Level               Level
	Serial              int
}

// Pack builds a Version from its numeric components. releaselevel is the
// hex nibble encoding CPython's sys.hexversion uses (0xa/0xb/0xc/0xf).
func Pack(major, minor, micro, releaselevel, serial int) (Version, error) {
	level, err := levelFromNibble(byte(releaselevel))
	if err != nil {
		return Version{}, err
	}
	return Version{
		Major:  major,
		Minor:  minor,
		Micro:  micro,
		Level:  level,
		Serial: serial,
	}, nil
}

var versionRe = regexp.MustCompile(
	`^(?P<major>\d+)\.(?P<minor>\d+)(\.(?P<micro>\d+))?((?P<level>a|b|rc)(?P<serial>\d+))?$`,
)

// ParseVersion parses a CPython version string such as "3.13.0a1" or
// "3.9.0". It is the inverse of Version.String for well-formed input.
func ParseVersion(s string) (Version, error) {
	m := versionRe.FindStringSubmatch(s)
	if m == nil {
		return Version{}, xerrors.Errorf("not a valid CPython version string: %q", s)
	}
	names := versionRe.SubexpNames()
	groups := make(map[string]string, len(names))
	for i, name := range names {
		if name != "" {
			groups[name] = m[i]
		}
	}
	atoi := func(s string) int {
		if s == "" {
			return 0
		}
		n, _ := strconv.Atoi(s)
		return n
	}
	v := Version{
		Major: atoi(groups["major"]),
		Minor: atoi(groups["minor"]),
		Micro: atoi(groups["micro"]),
		Level: LevelFinal,
	}
	if letter := groups["level"]; letter != "" {
		level, ok := letterLevels[letter]
		if !ok {
			return Version{}, xerrors.Errorf("unrecognized release level %q in %q", letter, s)
		}
		v.Level = level
		v.Serial = atoi(groups["serial"])
	}
	return v, nil
}

// String formats v the way CPython itself does, e.g. "3.13.0" or "3.13.0a1".
// It round-trips with ParseVersion for well-formed values.
func (v Version) String() string {
	s := fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Micro)
	if v.Level != LevelFinal || v.Serial != 0 {
		s += fmt.Sprintf("%s%d", levelLetters[v.Level], v.Serial)
	}
	return s
}

// IsPrerelease reports whether v is not a final release.
func (v Version) IsPrerelease() bool {
	return v.Level != LevelFinal
}

// Less reports whether v sorts before other: totally ordered by
// (major, minor, micro, level, serial).
func (v Version) Less(other Version) bool {
	if v.Major != other.Major {
		return v.Major < other.Major
	}
	if v.Minor != other.Minor {
		return v.Minor < other.Minor
	}
	if v.Micro != other.Micro {
		return v.Micro < other.Micro
	}
	if v.Level != other.Level {
		return v.Level < other.Level
	}
	return v.Serial < other.Serial
}

// Hex encodes v the way CPython's sys.hexversion does: byte layout
// MM mm uu Ls (major, minor, micro, then a nibble for release level and a
// nibble for serial).
func (v Version) Hex() uint32 {
	return uint32(v.Major)<<24 |
		uint32(v.Minor)<<16 |
		uint32(v.Micro)<<8 |
		uint32(levelNibble(v.Level))<<4 |
		uint32(v.Serial&0xf)
}

// VersionFromHex is the inverse of Version.Hex.
func VersionFromHex(hex uint32) (Version, error) {
	level, err := levelFromNibble(byte((hex >> 4) & 0xf))
	if err != nil {
		return Version{}, err
	}
	return Version{
		Major:  int((hex >> 24) & 0xff),
		Minor:  int((hex >> 16) & 0xff),
		Micro:  int((hex >> 8) & 0xff),
		Level:  level,
		Serial: int(hex & 0xf),
	}, nil
}
