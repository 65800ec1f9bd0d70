package version

import (
	"errors"
	"strconv"
	"testing"
)

func TestParse(t *testing.T) {
	goodValues := map[string]string{
		" 1.2.3": "1.2.3",
		"2.11.1": "2.11.1",
		"0.0.6 ": "0.0.6",
		"  0.9 ": "0.9.0",
		"  35  ": "35.0.0",
		"     0": "0.0.0",
	}

	for orig, want := range goodValues {
		got, err := Parse(orig)
		if err != nil {
			t.Fatalf("got unexpected error (orig value = '%q'):\nerror:\t%v", orig, err)
		}
		if got.String() != want {
			t.Fatalf("got invalid result (orig value = '%q'):\nwant:\t%q\ngot:\t%q", orig, want, got)
		}
	}

	// bad values tests

	badValue1 := "3.4.5.6"

	if _, err := Parse(badValue1); !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("got unexpected error (orig value = '%q'):\nwant error:\tErrInvalidValue\ngot error:\t%v", badValue1, err)
	}

	badValue2 := "3.a.5"

	if _, err := Parse(badValue2); true {
		if _, ok := err.(*strconv.NumError); !ok {
			t.Fatalf("got unexpected error (orig value = '%q'):\nwant error:\tstrconv.NumError\ngot error:\t%v", badValue2, err)
		}
	}
}

func TestParseRelease(t *testing.T) {
	goodValues := map[string]string{
		"5.15.0-45-generic":      "5.15.0",
		"4.17.0":                 "4.17.0",
		"4.15.0-1009-aws":        "4.15.0",
		"6.8.9-300.fc40.x86_64":  "6.8.9",
		"6.1.0+":                 "6.1.0",
		"4.4.0-128-generic\n":    "4.4.0",
		"3.10.0-862.el7.x86_64 ": "3.10.0",
	}

	for orig, want := range goodValues {
		got, err := ParseRelease(orig)
		if err != nil {
			t.Fatalf("got unexpected error (orig value = '%q'):\nerror:\t%v", orig, err)
		}
		if got.String() != want {
			t.Fatalf("got invalid result (orig value = '%q'):\nwant:\t%q\ngot:\t%q", orig, want, got)
		}
	}

	for _, s := range []string{"", "generic", "-rc1"} {
		if _, err := ParseRelease(s); !errors.Is(err, ErrInvalidValue) {
			t.Fatalf("got unexpected error (orig value = '%q'):\nwant error:\tErrInvalidValue\ngot error:\t%v", s, err)
		}
	}
}

func TestLess(t *testing.T) {
	old, _ := ParseRelease("4.15.0-20-generic")
	cur, _ := ParseRelease("5.4.0")

	if !old.Less(SpeculationControl) {
		t.Fatalf("%s must be older than %s", old, SpeculationControl)
	}
	if cur.Less(SpeculationControl) {
		t.Fatalf("%s must not be older than %s", cur, SpeculationControl)
	}
}

func TestKernel(t *testing.T) {
	v, release, err := Kernel()
	if err != nil {
		t.Fatalf("got unexpected error (release = %q): %v", release, err)
	}
	if release == "" || v.Major == 0 {
		t.Fatalf("got invalid kernel version: %q (%s)", release, v)
	}
}
