// Package harness runs one test sequence: apply the speculation control
// and the seccomp filter, check the SSBD bit, then execute a program in
// place or in a forked child that checks the bit again before execve.
package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/tyhicks/ssbd-tools/internal/cpu"
	"github.com/tyhicks/ssbd-tools/internal/cpuid"
	"github.com/tyhicks/ssbd-tools/internal/forkexec"
	"github.com/tyhicks/ssbd-tools/internal/helpers"
	"github.com/tyhicks/ssbd-tools/internal/msr"
	"github.com/tyhicks/ssbd-tools/internal/options"
	"github.com/tyhicks/ssbd-tools/internal/seccomp"
	"github.com/tyhicks/ssbd-tools/internal/specctrl"
	"github.com/tyhicks/ssbd-tools/internal/ssbd"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
	"k8s.io/utils/clock"
)

// Device is an open msr device.
type Device interface {
	msr.Reader
	Fd() int
	Close() error
}

// Process starts and waits for the program under test.
type Process interface {
	ForkVerifyExec(forkexec.Request) (int, error)
	Wait(pid int) (unix.WaitStatus, error)
	Exec(path string, argv, env []string) error
}

type osProcess struct{}

func (osProcess) ForkVerifyExec(req forkexec.Request) (int, error) {
	return forkexec.ForkVerifyExec(req)
}

func (osProcess) Wait(pid int) (unix.WaitStatus, error) {
	return forkexec.Wait(pid)
}

func (osProcess) Exec(path string, argv, env []string) error {
	return forkexec.Exec(path, argv, env)
}

// Harness holds the options of a run and the system interfaces it uses.
// New fills every interface with the real one; tests replace them.
type Harness struct {
	Options options.Options

	Logger log.FieldLogger
	Output io.Writer
	Clock  clock.PassiveClock

	CPUID      cpuid.Querier
	Controller specctrl.Controller
	Process    Process

	OpenMSR       func(cpu int) (Device, error)
	RestrictTo    func(cpu int) error
	InstallFilter func(seccomp.Flags) error
	Resolve       func(name string) (string, error)
	Environ       func() []string
}

func New(opts options.Options, logger log.FieldLogger) *Harness {
	return &Harness{
		Options:    opts,
		Logger:     logger,
		Output:     os.Stdout,
		Clock:      clock.RealClock{},
		CPUID:      cpuid.Native{},
		Controller: &specctrl.Prctl{},
		Process:    osProcess{},
		OpenMSR: func(n int) (Device, error) {
			return msr.Open(n, false)
		},
		RestrictTo:    cpu.RestrictTo,
		InstallFilter: seccomp.Install,
		Resolve:       helpers.ResolveExecutable,
		Environ:       os.Environ,
	}
}

// state is what the initialization found out. verifier is nil when the
// SSBD bit is not to be checked.
type state struct {
	dev      Device
	loc      ssbd.Location
	verifier *ssbd.Verifier
}

func (s *state) close() {
	if s.dev != nil {
		s.dev.Close()
	}
}

// Run performs the sequence and returns the exit code of the run: the
// exit code of the forked child, or 0. Any failure returns 1 with an error;
// a failed bit check is a *ssbd.MismatchError.
//
// Without fork, a successful Run never returns: the process image is
// replaced by the program.
func (h *Harness) Run(ctx context.Context) (int, error) {
	// prctl, seccomp and the affinity mask are per thread
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	opts := &h.Options

	if err := opts.Validate(); err != nil {
		return 1, err
	}

	var path string

	if opts.Exec() {
		p, err := h.Resolve(opts.Argv[0])
		if err != nil {
			return 1, fmt.Errorf("%w: %w", forkexec.ErrExec, err)
		}
		path = p
	}

	if opts.PinsCPU() {
		if err := h.RestrictTo(opts.CPU); err != nil {
			return 1, err
		}
		h.Logger.Debugf("Restricted to CPU %d", opts.CPU)
	}

	st, err := h.init()
	if err != nil {
		return 1, err
	}
	defer st.close()

	if err := h.apply(); err != nil {
		return 1, err
	}

	if opts.CrossCheck || opts.CheckControl {
		if err := h.checkControl(st); err != nil {
			return 1, err
		}
	}

	verify := opts.Verify && st.verifier != nil

	if !opts.Exec() {
		if verify {
			if err := st.verifier.Verify(ctx, opts.Expected, opts.Policy); err != nil {
				return 1, err
			}
		}
		return 0, nil
	}

	env := h.Environ()

	if !opts.Fork {
		if verify {
			if err := st.verifier.Verify(ctx, opts.Expected, opts.Policy); err != nil {
				return 1, err
			}
		}

		h.Logger.Debugf("Executing %s", path)

		if err := h.Process.Exec(path, opts.Argv, env); err != nil {
			return 1, err
		}

		return 0, nil
	}

	return h.forkAndWait(ctx, st, path, env)
}

// init opens the msr device and identifies the processor, when the run
// reads the SSBD bit at all.
func (h *Harness) init() (*state, error) {
	opts := &h.Options

	st := &state{}

	if !opts.NeedsMSR() {
		return st, nil
	}

	dev, err := h.OpenMSR(opts.CPU)
	if err != nil {
		if errors.Is(err, msr.ErrPermissionDenied) && opts.SkipEPERM {
			h.Logger.Warnf("Skipping the SSBD bit checks: %s", err)
			return st, nil
		}
		return nil, err
	}

	st.dev = dev

	id, err := cpu.Identify(h.CPUID, dev)
	if err != nil {
		st.close()
		return nil, err
	}

	h.Logger.WithField("identity", id).Debug("Identified the CPU")

	switch ok, err := ssbd.Applicable(id); {
	case err != nil:
		st.close()
		return nil, err
	case !ok:
		h.Logger.Info("This CPU is not affected by Speculative Store Bypass, skipping the SSBD bit checks")
		return st, nil
	}

	loc, err := ssbd.Resolve(id)
	if err != nil {
		st.close()
		return nil, err
	}

	st.loc = loc
	st.verifier = &ssbd.Verifier{
		Reader:   dev,
		Identity: id,
		Clock:    h.Clock,
		Logger:   h.Logger,
	}

	return st, nil
}

// apply sets the speculation control and loads the filter, in this order.
func (h *Harness) apply() error {
	opts := &h.Options

	if opts.SetControl {
		if err := h.Controller.Set(opts.Control); err != nil {
			return specctrl.Explain(err)
		}
		h.Logger.Debugf("Set the speculation control to %s", opts.Control)
	}

	if opts.InstallFilter {
		if err := h.InstallFilter(opts.SeccompFlags); err != nil {
			return err
		}
		h.Logger.Debugf("Loaded the seccomp filter (flags: %s)", opts.SeccompFlags)
	}

	return nil
}

func (h *Harness) checkControl(st *state) error {
	opts := &h.Options

	value, err := h.Controller.Get()
	if err != nil {
		return specctrl.Explain(err)
	}

	if opts.CrossCheck {
		fmt.Fprintln(h.Output, value.State())
	}

	if opts.CheckControl {
		if err := ssbd.CompareControlValue(opts.ExpectedControl, value); err != nil {
			return err
		}
	}

	if st.verifier != nil {
		return st.verifier.VerifyControlValue(value)
	}

	return nil
}

// forkAndWait checks the bit once, forks a child that checks it once more
// before execve and keeps checking it in the parent as the policy says.
func (h *Harness) forkAndWait(ctx context.Context, st *state, path string, env []string) (int, error) {
	opts := &h.Options

	req := forkexec.Request{
		Fd:   -1,
		Path: path,
		Argv: opts.Argv,
		Env:  env,
	}

	if opts.Verify && st.verifier != nil {
		if err := st.verifier.Verify(ctx, opts.Expected, ssbd.SingleShot()); err != nil {
			return 1, err
		}

		req.Verify = true
		req.Fd = st.dev.Fd()
		req.Location = st.loc
		req.Expected = opts.Expected
	}

	pid, err := h.Process.ForkVerifyExec(req)
	if err != nil {
		return 1, err
	}

	h.Logger.WithField("pid", pid).Debugf("Started %s", path)

	var verifyErr error

	if req.Verify {
		verifyErr = st.verifier.Verify(ctx, opts.Expected, opts.Policy)
	}

	ws, err := h.Process.Wait(pid)
	if err != nil {
		return 1, err
	}

	if verifyErr != nil {
		return 1, verifyErr
	}

	code := helpers.ExitCode(ws)

	h.Logger.WithField("pid", pid).Debugf("Child exited with code %d", code)

	return code, nil
}
