package main

import (
	"context"
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
	"github.com/tyhicks/ssbd-tools/internal/seccomp"
	"github.com/tyhicks/ssbd-tools/internal/specctrl"
	"github.com/tyhicks/ssbd-tools/internal/ssbd"

	"github.com/urfave/cli/v3"
)

var (
	Fail  = log.New(os.Stderr, "FAIL: ", 0)
	Error = log.New(os.Stderr, "ERROR: ", 0)
)

// prctl, seccomp and the affinity mask apply to the calling thread,
// so main stays on the thread it started on.
func init() {
	runtime.LockOSThread()
}

func main() {
	own, argv := options.SplitArgs(os.Args)

	var exitcode int

	app := new(cli.Command)

	app.Name = "check-ssbd"
	app.Usage = "read the Speculative Store Bypass Disable status after using prctl/seccomp"
	app.ArgsUsage = "[-- prog args ...]"
	app.HideHelpCommand = true

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
			Usage:   "use PR_SET_SPECULATION_CTRL with the specified `VALUE` (enable, disable, force-disable)",
		},
		&cli.StringFlag{
			Name:    "seccomp",
			Aliases: []string{"s"},
			Usage:   "use a permissive seccomp filter with the specified `FLAGS` (empty, spec-allow)",
		},
		&cli.StringFlag{
			Name:    "expect",
			Aliases: []string{"e"},
			Usage:   "verify that the SSBD bit is equal to `VAL[:SECS]`; SECS of 0 loops until interrupted",
		},
		&cli.BoolFlag{
			Name:    "fork",
			Aliases: []string{"f"},
			Usage:   `fork before executing another program; only valid with "-- ..."`,
		},
	}

	app.Action = func(ctx context.Context, c *cli.Command) error {
		if c.Args().Len() > 0 {
			return options.ErrUnexpectedArgs
		}

		code, err := run(ctx, c, argv)

		exitcode = code

		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	err := app.Run(ctx, own)

	stop()

	if err != nil {
		exitWithError(err)
	}

	os.Exit(exitcode)
}

func run(ctx context.Context, c *cli.Command, argv []string) (int, error) {
	appConf, err := appconf.NewConfig(c.String("config"))
	if err != nil {
		return 1, err
	}

	msr.DEVDIR = appConf.Common.MSRDir

	logger := applog.Setup(applog.Options{
		Tool:    c.Root().Name,
		Debug:   c.Bool("debug") || appConf.Log.Debug,
		Journal: appConf.Log.Journal,
	})

	opts := options.Options{
		CPU:        appConf.Common.CPU,
		Pin:        true,
		CrossCheck: true,
		Fork:       c.Bool("fork"),
		Argv:       argv,
		SkipEPERM:  c.Bool("skip-eperm") || appConf.Verify.SkipOnEPERM,
	}

	if c.IsSet("cpu") {
		opts.CPU = int(c.Int("cpu"))
	}

	if c.IsSet("prctl") {
		v, err := specctrl.ParseValue(c.String("prctl"))
		if err != nil {
			return 1, err
		}
		opts.SetControl = true
		opts.Control = v
	}

	if c.IsSet("seccomp") {
		flags, err := seccomp.ParseFlags(c.String("seccomp"))
		if err != nil {
			return 1, err
		}
		opts.InstallFilter = true
		opts.SeccompFlags = flags
	}

	if c.IsSet("expect") {
		bit, p, err := options.ParseExpect(c.String("expect"))
		if err != nil {
			return 1, err
		}
		opts.Verify = true
		opts.Expected = bit
		opts.Policy = p
	}

	logger.WithField("cpu", opts.CPU).Debugf("Starting (expect: %t, policy: %s)", opts.Verify, opts.Policy)

	return harness.New(opts, logger).Run(ctx)
}

func exitWithError(err error) {
	if ssbd.IsMismatch(err) {
		Fail.Println(err)
	} else {
		Error.Println(err)
	}

	os.Exit(1)
}
