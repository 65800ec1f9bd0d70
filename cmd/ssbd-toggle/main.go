package main

import (
	"fmt"
	"log"
	"os"
	"runtime"

	"github.com/tyhicks/ssbd-tools/internal/appconf"
	"github.com/tyhicks/ssbd-tools/internal/applog"
	"github.com/tyhicks/ssbd-tools/internal/cpu"
	"github.com/tyhicks/ssbd-tools/internal/cpuid"
	"github.com/tyhicks/ssbd-tools/internal/msr"
	"github.com/tyhicks/ssbd-tools/internal/ssbd"

	"github.com/urfave/cli/v2"
)

var (
	Fail  = log.New(os.Stderr, "FAIL: ", 0)
	Error = log.New(os.Stderr, "ERROR: ", 0)
)

func init() {
	runtime.LockOSThread()
}

func main() {
	app := cli.NewApp()

	app.Name = "ssbd-toggle"
	app.Usage = "flip the SSBD bit through the msr device and restore it"
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
		&cli.IntFlag{
			Name:        "cpu",
			Aliases:     []string{"c"},
			Usage:       "pin the process to the `CPUNUM` cpu",
			DefaultText: "from config, 0",
		},
	}

	if err := app.Run(os.Args); err != nil {
		exitWithError(err)
	}
}

func run(c *cli.Context) error {
	if c.Args().Len() > 0 {
		return fmt.Errorf("unexpected arguments: %v", c.Args().Slice())
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

	cpuNum := appConf.Common.CPU

	if c.IsSet("cpu") {
		cpuNum = c.Int("cpu")
	}

	if err := cpu.RestrictTo(cpuNum); err != nil {
		return err
	}

	dev, err := msr.Open(cpuNum, true)
	if err != nil {
		return err
	}
	defer dev.Close()

	id, err := cpu.Identify(cpuid.Native{}, dev)
	if err != nil {
		return err
	}

	logger.WithField("cpu", cpuNum).Debugf("Identified the CPU as %s", id)

	switch ok, err := ssbd.Applicable(id); {
	case err != nil:
		return err
	case !ok:
		fmt.Println("This CPU is not affected by Speculative Store Bypass")
		return nil
	}

	if err := ssbd.Toggle(dev, id); err != nil {
		return err
	}

	logger.WithField("cpu", cpuNum).Info("The SSBD bit was toggled and restored")

	return nil
}

func exitWithError(err error) {
	if ssbd.IsMismatch(err) {
		Fail.Println(err)
	} else {
		Error.Println(err)
	}

	os.Exit(1)
}
