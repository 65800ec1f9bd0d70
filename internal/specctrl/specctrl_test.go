package specctrl

import (
	"errors"
	"strings"
	"testing"

	"github.com/tyhicks/ssbd-tools/internal/version"

	"golang.org/x/sys/unix"
)

type call struct {
	option int
	arg3   uintptr
}

type fakeKernel struct {
	value Value
	err   error
	calls []call
}

func (k *fakeKernel) prctl(option int, arg2, arg3 uintptr) (int, error) {
	k.calls = append(k.calls, call{option, arg3})

	if k.err != nil {
		return -1, k.err
	}

	switch option {
	case unix.PR_GET_SPECULATION_CTRL:
		return int(k.value), nil
	case unix.PR_SET_SPECULATION_CTRL:
		k.value = PRCTL | Value(arg3)
		return 0, nil
	}

	return -1, unix.EINVAL
}

func TestGet(t *testing.T) {
	k := &fakeKernel{value: PRCTL | Enable}
	p := &Prctl{call: k.prctl}

	v, err := p.Get()
	if err != nil {
		t.Fatalf("got unexpected error: %v", err)
	}
	if v != PRCTL|Enable {
		t.Fatalf("got invalid value:\nwant:\t%s\ngot:\t%s", PRCTL|Enable, v)
	}
}

func TestGetErrors(t *testing.T) {
	if _, err := (&Prctl{call: (&fakeKernel{err: unix.EINVAL}).prctl}).Get(); !errors.Is(err, ErrNotSupported) {
		t.Fatalf("got unexpected error:\nwant:\tErrNotSupported\ngot:\t%v", err)
	}

	err := func() error {
		_, err := (&Prctl{call: (&fakeKernel{err: unix.EPERM}).prctl}).Get()
		return err
	}()
	if err == nil || errors.Is(err, ErrNotSupported) || !errors.Is(err, unix.EPERM) {
		t.Fatalf("got unexpected error for EPERM: %v", err)
	}

	for _, v := range []Value{NotAffected, Disable, Enable} {
		if _, err := (&Prctl{call: (&fakeKernel{value: v}).prctl}).Get(); !errors.Is(err, ErrNotControllable) {
			t.Fatalf("value %s: got unexpected error:\nwant:\tErrNotControllable\ngot:\t%v", v, err)
		}
	}
}

func TestSet(t *testing.T) {
	k := &fakeKernel{value: PRCTL | Enable}
	p := &Prctl{call: k.prctl}

	if err := p.Set(Disable); err != nil {
		t.Fatalf("got unexpected error: %v", err)
	}

	if v, _ := p.Get(); v != PRCTL|Disable {
		t.Fatalf("got invalid value after Set: %s", v)
	}

	if len(k.calls) != 3 || k.calls[0].option != unix.PR_GET_SPECULATION_CTRL || k.calls[1].option != unix.PR_SET_SPECULATION_CTRL {
		t.Fatalf("got unexpected call sequence: %+v", k.calls)
	}
}

func TestSetNeverWritesAfterFailedGet(t *testing.T) {
	k := &fakeKernel{value: NotAffected}
	p := &Prctl{call: k.prctl}

	if err := p.Set(ForceDisable); !errors.Is(err, ErrNotControllable) {
		t.Fatalf("got unexpected error:\nwant:\tErrNotControllable\ngot:\t%v", err)
	}

	for _, c := range k.calls {
		if c.option == unix.PR_SET_SPECULATION_CTRL {
			t.Fatalf("PR_SET_SPECULATION_CTRL was issued after a failed get")
		}
	}
}

func TestParseValue(t *testing.T) {
	goodValues := map[string]Value{
		"enable":        Enable,
		"disable":       Disable,
		"force-disable": ForceDisable,
	}

	for s, want := range goodValues {
		got, err := ParseValue(s)
		if err != nil {
			t.Fatalf("got unexpected error (orig value = %q): %v", s, err)
		}
		if got != want {
			t.Fatalf("got invalid result (orig value = %q):\nwant:\t%s\ngot:\t%s", s, want, got)
		}
	}

	for _, s := range []string{"", "Enable", "force_disable", "1"} {
		if _, err := ParseValue(s); !errors.Is(err, ErrInvalidValue) {
			t.Fatalf("got unexpected error (orig value = %q): %v", s, err)
		}
	}
}

func TestState(t *testing.T) {
	states := map[Value]string{
		NotAffected:          "not vulnerable",
		PRCTL | Disable:      "thread mitigated",
		PRCTL | ForceDisable: "thread force mitigated",
		PRCTL | Enable:       "thread vulnerable",
		Disable:              "globally mitigated",
		PRCTL:                "vulnerable",
		Enable:               "vulnerable",
	}

	for v, want := range states {
		if got := v.State(); got != want {
			t.Fatalf("value %s: got %q, want %q", v, got, want)
		}
	}
}

func TestString(t *testing.T) {
	strs := map[Value]string{
		NotAffected:          "not-affected",
		PRCTL | ForceDisable: "prctl|force-disable",
		Disable | 0x40:       "disable|0x40",
	}

	for v, want := range strs {
		if got := v.String(); got != want {
			t.Fatalf("got %q, want %q", got, want)
		}
	}
}

func TestExplain(t *testing.T) {
	kernel := func(release string) func() (*version.Version, string, error) {
		return func() (*version.Version, string, error) {
			v, err := version.ParseRelease(release)
			return v, release, err
		}
	}

	err := explain(ErrNotSupported, kernel("4.15.0-20-generic"))
	if !errors.Is(err, ErrNotSupported) || !strings.Contains(err.Error(), "4.15.0-20-generic") {
		t.Fatalf("got invalid error: %v", err)
	}

	if err := explain(ErrNotSupported, kernel("5.4.0")); err != ErrNotSupported {
		t.Fatalf("got invalid error:\nwant:\t%v\ngot:\t%v", ErrNotSupported, err)
	}

	if err := explain(ErrNotControllable, kernel("4.4.0")); err != ErrNotControllable {
		t.Fatalf("got invalid error:\nwant:\t%v\ngot:\t%v", ErrNotControllable, err)
	}
}
