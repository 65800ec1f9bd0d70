// Package version parses kernel release strings.
package version

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

var ErrInvalidValue = errors.New("invalid value")

// SpeculationControl is the first kernel release with PR_SPEC_STORE_BYPASS.
var SpeculationControl = Version{Major: 4, Minor: 17}

type Version struct {
	Major int `json:"major" yaml:"major"`
	Minor int `json:"minor" yaml:"minor"`
	Micro int `json:"micro" yaml:"micro"`
}

// Parse parses a dotted version with up to three components.
func Parse(s string) (*Version, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")

	if len(parts) > 3 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidValue, s)
	}

	vv := make([]int, 3)

	for idx, part := range parts {
		if v, err := strconv.Atoi(part); err == nil {
			vv[idx] = v
		} else {
			return nil, err
		}
	}

	return &Version{
		Major: vv[0],
		Minor: vv[1],
		Micro: vv[2],
	}, nil
}

// ParseRelease parses a kernel release as uname(2) reports it,
// e.g. "5.15.0-45-generic". The distribution suffix is dropped.
func ParseRelease(s string) (*Version, error) {
	s = strings.TrimSpace(s)

	if idx := strings.IndexFunc(s, func(r rune) bool { return r != '.' && (r < '0' || r > '9') }); idx >= 0 {
		s = s[:idx]
	}

	s = strings.TrimRight(s, ".")

	if s == "" {
		return nil, fmt.Errorf("%w: empty kernel release", ErrInvalidValue)
	}

	return Parse(s)
}

// Kernel returns the version and the full release string of the running kernel.
func Kernel() (*Version, string, error) {
	var uts unix.Utsname

	if err := unix.Uname(&uts); err != nil {
		return nil, "", err
	}

	release := unix.ByteSliceToString(uts.Release[:])

	v, err := ParseRelease(release)
	if err != nil {
		return nil, release, err
	}

	return v, release, nil
}

func (v Version) Int() int {
	return v.Major*10000 + v.Minor*100 + v.Micro
}

func (v Version) Less(o Version) bool {
	return v.Int() < o.Int()
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Micro)
}
