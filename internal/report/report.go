// Package report collects the SSBD state of the host: the speculation
// control value of the calling thread and the SSBD bit of every CPU.
package report

import (
	"context"
	"errors"
	"fmt"

	"github.com/tyhicks/ssbd-tools/internal/msr"
	"github.com/tyhicks/ssbd-tools/internal/osprober"
	"github.com/tyhicks/ssbd-tools/internal/ssbd"

	"golang.org/x/sync/errgroup"
)

type Device interface {
	msr.Reader
	Close() error
}

// CPU is the SSBD bit of one CPU. Error is set instead of SSBD when the
// register could not be read.
type CPU struct {
	CPU   int    `json:"cpu" yaml:"cpu"`
	SSBD  *bool  `json:"ssbd,omitempty" yaml:"ssbd,omitempty"`
	Raw   string `json:"raw,omitempty" yaml:"raw,omitempty"`
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}

type Report struct {
	RunID  string                  `json:"run_id" yaml:"run_id"`
	Kernel string                  `json:"kernel" yaml:"kernel"`
	OS     *osprober.OSReleaseInfo `json:"os,omitempty" yaml:"os,omitempty"`

	State string `json:"state" yaml:"state"`
	Value string `json:"value" yaml:"value"`

	Identity string         `json:"identity,omitempty" yaml:"identity,omitempty"`
	Location *ssbd.Location `json:"location,omitempty" yaml:"location,omitempty"`
	CPUs     []CPU          `json:"cpus,omitempty" yaml:"cpus,omitempty"`
}

// Collector reads the SSBD bit of many CPUs concurrently. The msr driver
// reads the register on the right CPU whatever CPU the caller runs on.
type Collector struct {
	Open     func(cpu int) (Device, error)
	Location ssbd.Location

	// Limit is the number of devices read at once, unlimited if zero.
	Limit int
}

// Collect returns one entry per CPU, in the order of cpus. Errors of a
// single CPU are kept in its entry; a missing msr driver fails the whole
// collection.
func (c *Collector) Collect(ctx context.Context, cpus []int) ([]CPU, error) {
	results := make([]CPU, len(cpus))

	g, ctx := errgroup.WithContext(ctx)

	if c.Limit > 0 {
		g.SetLimit(c.Limit)
	}

	for idx, n := range cpus {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			res, err := c.collect(n)
			if err != nil {
				if errors.Is(err, msr.ErrModuleNotLoaded) {
					return err
				}
				res.Error = err.Error()
			}

			results[idx] = res

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

func (c *Collector) collect(n int) (CPU, error) {
	res := CPU{CPU: n}

	dev, err := c.Open(n)
	if err != nil {
		return res, err
	}
	defer dev.Close()

	value, err := dev.Read(c.Location.Register)
	if err != nil {
		return res, err
	}

	bit := value&c.Location.Mask() != 0

	res.SSBD = &bit
	res.Raw = fmt.Sprintf("%#x", value)

	return res, nil
}
