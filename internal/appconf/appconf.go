package appconf

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/tyhicks/ssbd-tools/internal/msr"

	"gopkg.in/gcfg.v1"
)

const DefaultPath = "/etc/ssbd-tools/ssbd.ini"

type CommonParams struct {
	// CPU is used when the command line does not choose one
	CPU    int    `gcfg:"cpu"`
	MSRDir string `gcfg:"msr-dir"`
}

type VerifyParams struct {
	SkipOnEPERM bool `gcfg:"skip-on-eperm"`
}

type LogParams struct {
	Debug   bool `gcfg:"debug"`
	Journal bool `gcfg:"journal"`
}

// Config represents the configuration shared by all ssbd tools
type Config struct {
	Common CommonParams
	Verify VerifyParams
	Log    LogParams
}

func defaults() Config {
	return Config{
		Common: CommonParams{
			CPU:    0,
			MSRDir: msr.DEVDIR,
		},
	}
}

// NewConfig reads and parses the configuration file and returns
// a new instance of Config on success. A missing file is not an error:
// the defaults are returned.
func NewConfig(p string) (*Config, error) {
	cfg := defaults()

	if err := gcfg.ReadFileInto(&cfg, p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if cfg.Common.CPU < 0 {
		return nil, fmt.Errorf("failed to parse config file: invalid cpu number: %d", cfg.Common.CPU)
	}

	return &cfg, nil
}

// NewConfigFromString is like NewConfig but parses an in-memory config.
func NewConfigFromString(s string) (*Config, error) {
	cfg := defaults()

	if err := gcfg.ReadStringInto(&cfg, s); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &cfg, nil
}
