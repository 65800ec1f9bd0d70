// Package osprober tells which distribution the host runs, for reports.
package osprober

import (
	"os"
	"path/filepath"
)

// Files probed in order, relative to the root directory. See os-release(5).
var OSRELEASE = []string{
	"etc/os-release",
	"usr/lib/os-release",
}

type OSReleaseInfo struct {
	Distrib    string `json:"distrib" yaml:"distrib"`
	Version    string `json:"version,omitempty" yaml:"version,omitempty"`
	CodeName   string `json:"codename,omitempty" yaml:"codename,omitempty"`
	Name       string `json:"name" yaml:"name"`
	PrettyName string `json:"pretty_name" yaml:"pretty_name"`
}

// Probe returns nil without an error when no os-release file exists.
func Probe(rootdir string) (*OSReleaseInfo, error) {
	for _, fname := range OSRELEASE {
		info, err := parseFile(filepath.Join(rootdir, fname))

		switch {
		case err == nil:
			return info, nil
		case os.IsNotExist(err):
			continue
		default:
			return nil, err
		}
	}

	return nil, nil
}
