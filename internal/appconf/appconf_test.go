package appconf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNewConfig(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "ssbd.ini")

	content := `
[common]
cpu = 3
msr-dir = /tmp/cpu

[verify]
skip-on-eperm = true

[log]
debug = yes
journal = false
`

	if err := os.WriteFile(fname, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	got, err := NewConfig(fname)
	if err != nil {
		t.Fatalf("got unexpected error: %v", err)
	}

	want := &Config{
		Common: CommonParams{CPU: 3, MSRDir: "/tmp/cpu"},
		Verify: VerifyParams{SkipOnEPERM: true},
		Log:    LogParams{Debug: true},
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("got invalid config (-want +got):\n%s", diff)
	}
}

func TestNewConfigMissingFile(t *testing.T) {
	got, err := NewConfig(filepath.Join(t.TempDir(), "missing.ini"))
	if err != nil {
		t.Fatalf("got unexpected error: %v", err)
	}

	want := defaults()

	if diff := cmp.Diff(&want, got); diff != "" {
		t.Fatalf("got invalid config (-want +got):\n%s", diff)
	}
}

func TestNewConfigErrors(t *testing.T) {
	badValues := []string{
		"[common]\ncpu = -1\n",
		"[common]\ncpu = one\n",
		"[unknown]\nkey = value\n",
	}

	for _, s := range badValues {
		fname := filepath.Join(t.TempDir(), "ssbd.ini")

		if err := os.WriteFile(fname, []byte(s), 0644); err != nil {
			t.Fatal(err)
		}

		if _, err := NewConfig(fname); err == nil {
			t.Fatalf("expected an error for %q", s)
		}
	}
}

func TestNewConfigFromString(t *testing.T) {
	got, err := NewConfigFromString("[log]\njournal = true\n")
	if err != nil {
		t.Fatalf("got unexpected error: %v", err)
	}

	if !got.Log.Journal || got.Common.MSRDir != "/dev/cpu" {
		t.Fatalf("got invalid config: %+v", got)
	}
}
