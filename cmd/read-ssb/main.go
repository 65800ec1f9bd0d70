package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"runtime"

	"github.com/tyhicks/ssbd-tools/internal/appconf"
	"github.com/tyhicks/ssbd-tools/internal/applog"
	"github.com/tyhicks/ssbd-tools/internal/cpu"
	"github.com/tyhicks/ssbd-tools/internal/cpuid"
	"github.com/tyhicks/ssbd-tools/internal/msr"
	"github.com/tyhicks/ssbd-tools/internal/osprober"
	"github.com/tyhicks/ssbd-tools/internal/report"
	"github.com/tyhicks/ssbd-tools/internal/seccomp"
	"github.com/tyhicks/ssbd-tools/internal/specctrl"
	"github.com/tyhicks/ssbd-tools/internal/ssbd"
	"github.com/tyhicks/ssbd-tools/internal/version"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

var (
	Error = log.New(os.Stderr, "ERROR: ", 0)
)

func init() {
	runtime.LockOSThread()
}

func main() {
	app := cli.NewApp()

	app.Name = "read-ssb"
	app.Usage = "read the Speculative Store Bypass status after using prctl/seccomp"
	app.HideHelpCommand = true

	app.Action = run

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Usage:   "path to the configuration file",
			EnvVars: []string{"SSBD_CONFIG"},
			Value:   appconf.DefaultPath,
		},
		&cli.BoolFlag{
			Name:    "debug",
			Usage:   "print debug information",
			EnvVars: []string{"SSBD_DEBUG"},
		},
		&cli.BoolFlag{
			Name:  "skip-eperm",
			Usage: "leave out the per-CPU report when the msr device cannot be opened",
		},
		&cli.BoolFlag{
			Name:    "prctl",
			Aliases: []string{"p"},
			Usage:   "use PR_SET_SPECULATION_CTRL to disable speculative store bypass first",
		},
		&cli.BoolFlag{
			Name:    "seccomp",
			Aliases: []string{"s"},
			Usage:   "load a permissive seccomp filter first",
		},
		&cli.BoolFlag{
			Name:  "all-cpus",
			Usage: "report the SSBD bit of every online CPU",
		},
		&cli.StringFlag{
			Name:  "format",
			Usage: "output `FORMAT` (text, json, yaml)",
			Value: "text",
		},
	}

	if err := app.Run(os.Args); err != nil {
		Error.Fatalln(err)
	}
}

func run(c *cli.Context) error {
	if c.Args().Len() > 0 {
		return fmt.Errorf("unexpected arguments: %v", c.Args().Slice())
	}

	if c.Bool("prctl") && c.Bool("seccomp") {
		return fmt.Errorf("--prctl and --seccomp are mutually exclusive")
	}

	format, err := report.ParseFormat(c.String("format"))
	if err != nil {
		return err
	}

	appConf, err := appconf.NewConfig(c.String("config"))
	if err != nil {
		return err
	}

	msr.DEVDIR = appConf.Common.MSRDir

	logger := applog.Setup(applog.Options{
		Tool:    c.App.Name,
		Debug:   c.Bool("debug") || appConf.Log.Debug,
		Journal: appConf.Log.Journal,
	})

	ctl := &specctrl.Prctl{}

	switch {
	case c.Bool("prctl"):
		if err := ctl.Set(specctrl.Disable); err != nil {
			return specctrl.Explain(err)
		}
	case c.Bool("seccomp"):
		if err := seccomp.Install(seccomp.FlagsEmpty); err != nil {
			return err
		}
	}

	// A value without the PRCTL flag still has a state to show
	value, err := ctl.Get()
	if err != nil && !errors.Is(err, specctrl.ErrNotControllable) {
		return specctrl.Explain(err)
	}

	r := report.Report{
		RunID: applog.RunID(),
		State: value.State(),
		Value: value.String(),
	}

	if _, release, err := version.Kernel(); err == nil || release != "" {
		r.Kernel = release
	}

	if info, err := osprober.Probe("/"); err == nil {
		r.OS = info
	} else {
		logger.Debugf("Unable to detect the distribution: %s", err)
	}

	if c.Bool("all-cpus") {
		skip := c.Bool("skip-eperm") || appConf.Verify.SkipOnEPERM

		if err := collect(c.Context, &r, skip, logger); err != nil {
			return err
		}
	}

	return report.Write(os.Stdout, &r, format)
}

// collect adds the SSBD bit of every CPU the process may run on.
func collect(ctx context.Context, r *report.Report, skipEPERM bool, logger *logrus.Entry) error {
	cpus, err := cpu.Online()
	if err != nil {
		return err
	}

	// The identification may need IA32_ARCH_CAPABILITIES
	dev, err := msr.Open(cpus[0], false)
	if err != nil {
		if errors.Is(err, msr.ErrPermissionDenied) && skipEPERM {
			logger.Warnf("Skipping the per-CPU report: %s", err)
			return nil
		}
		return err
	}

	id, err := cpu.Identify(cpuid.Native{}, dev)

	dev.Close()

	if err != nil {
		return err
	}

	r.Identity = id.String()

	loc, err := ssbd.Resolve(id)
	if err != nil {
		// Unaffected or unsupported, no bit to show
		logger.Debugf("No per-CPU report: %s", err)
		return nil
	}

	r.Location = &loc

	col := report.Collector{
		Open: func(n int) (report.Device, error) {
			return msr.Open(n, false)
		},
		Location: loc,
		Limit:    runtime.NumCPU(),
	}

	r.CPUs, err = col.Collect(ctx, cpus)

	return err
}
