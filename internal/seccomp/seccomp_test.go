package seccomp

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sys/unix"
)

func TestProgram(t *testing.T) {
	got, err := Program()
	if err != nil {
		t.Fatalf("got unexpected error: %v", err)
	}

	want := []unix.SockFilter{
		{Code: unix.BPF_LD | unix.BPF_W | unix.BPF_ABS, K: 0},
		{Code: unix.BPF_RET | unix.BPF_K, K: unix.SECCOMP_RET_ALLOW},
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("got unexpected program (-want +got):\n%s", diff)
	}
}

func TestParseFlags(t *testing.T) {
	goodValues := map[string]Flags{
		"empty":      FlagsEmpty,
		"spec-allow": FlagSpecAllow,
	}

	for s, want := range goodValues {
		got, err := ParseFlags(s)
		if err != nil {
			t.Fatalf("got unexpected error (orig value = %q): %v", s, err)
		}
		if got != want {
			t.Fatalf("got invalid result (orig value = %q):\nwant:\t%s\ngot:\t%s", s, want, got)
		}
	}

	if FlagSpecAllow != 1<<2 {
		t.Fatalf("SECCOMP_FILTER_FLAG_SPEC_ALLOW has unexpected value %#x", uint(FlagSpecAllow))
	}

	for _, s := range []string{"", "none", "spec_allow"} {
		if _, err := ParseFlags(s); !errors.Is(err, ErrInvalidFlags) {
			t.Fatalf("got unexpected error (orig value = %q): %v", s, err)
		}
	}
}
