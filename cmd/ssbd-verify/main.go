package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/tyhicks/ssbd-tools/internal/appconf"
	"github.com/tyhicks/ssbd-tools/internal/applog"
	"github.com/tyhicks/ssbd-tools/internal/harness"
	"github.com/tyhicks/ssbd-tools/internal/msr"
	"github.com/tyhicks/ssbd-tools/internal/options"
	"github.com/tyhicks/ssbd-tools/internal/specctrl"
	"github.com/tyhicks/ssbd-tools/internal/ssbd"

	"github.com/urfave/cli/v3"
)

var (
	Fail  = log.New(os.Stderr, "FAIL: ", 0)
	Error = log.New(os.Stderr, "ERROR: ", 0)
)

func init() {
	runtime.LockOSThread()
}

func main() {
	app := new(cli.Command)

	app.Name = "ssbd-verify"
	app.Usage = "verify that the SSBD bit of the current processor matches VALUE"
	app.ArgsUsage = "VALUE"
	app.HideHelpCommand = true

	app.Description = "The register holding the SSBD bit is detected according to the current\n" +
		"processor. By default, a single read of the register is performed. If the\n" +
		"--time option is specified, the register is reread and verified in a loop."

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Usage:   "path to the configuration file",
			Sources: cli.EnvVars("SSBD_CONFIG"),
			Value:   appconf.DefaultPath,
		},
		&cli.BoolFlag{
			Name:    "debug",
			Usage:   "print debug information",
			Sources: cli.EnvVars("SSBD_DEBUG"),
		},
		&cli.BoolFlag{
			Name:  "skip-eperm",
			Usage: "skip the SSBD bit checks when the msr device cannot be opened",
		},
		&cli.IntFlag{
			Name:        "cpu",
			Aliases:     []string{"c"},
			Usage:       "pin the process to the `CPUNUM` cpu",
			DefaultText: "from config, 0",
		},
		&cli.StringFlag{
			Name:    "prctl",
			Aliases: []string{"p"},
			Usage:   "verify that PR_GET_SPECULATION_CTRL reports `VALUE` (enable, disable, force-disable)",
		},
		&cli.StringFlag{
			Name:    "time",
			Aliases: []string{"t"},
			Usage:   "verify the SSBD bit repeatedly for `SECONDS` of wall time; 0 loops until interrupted",
		},
	}

	app.Action = run

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	err := app.Run(ctx, os.Args)

	stop()

	if err != nil {
		exitWithError(err)
	}
}

func run(ctx context.Context, c *cli.Command) error {
	switch c.Args().Len() {
	case 0:
		return options.ErrMissingBitValue
	case 1:
	default:
		return fmt.Errorf("%w: %v", options.ErrUnexpectedArgs, c.Args().Tail())
	}

	appConf, err := appconf.NewConfig(c.String("config"))
	if err != nil {
		return err
	}

	msr.DEVDIR = appConf.Common.MSRDir

	logger := applog.Setup(applog.Options{
		Tool:    c.Root().Name,
		Debug:   c.Bool("debug") || appConf.Log.Debug,
		Journal: appConf.Log.Journal,
	})

	bit, err := options.ParseBit(c.Args().First())
	if err != nil {
		return err
	}

	opts := options.Options{
		CPU:       appConf.Common.CPU,
		Pin:       true,
		Verify:    true,
		Expected:  bit,
		Policy:    ssbd.SingleShot(),
		SkipEPERM: c.Bool("skip-eperm") || appConf.Verify.SkipOnEPERM,
	}

	if c.IsSet("cpu") {
		opts.CPU = int(c.Int("cpu"))
	}

	if c.IsSet("prctl") {
		v, err := specctrl.ParseValue(c.String("prctl"))
		if err != nil {
			return err
		}
		opts.CheckControl = true
		opts.ExpectedControl = v
	}

	if c.IsSet("time") {
		p, err := ssbd.ParsePolicy(c.String("time"))
		if err != nil {
			return err
		}
		opts.Policy = p
	}

	logger.WithField("cpu", opts.CPU).Debugf("Verifying the SSBD bit (expected: %t, policy: %s)", bit, opts.Policy)

	_, err = harness.New(opts, logger).Run(ctx)

	return err
}

func exitWithError(err error) {
	if ssbd.IsMismatch(err) {
		Fail.Println(err)
	} else {
		Error.Println(err)
	}

	os.Exit(1)
}
