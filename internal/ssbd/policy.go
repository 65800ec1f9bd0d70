package ssbd

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

var ErrInvalidPolicy = errors.New("invalid verification duration")

type policyKind int

const (
	singleShot policyKind = iota
	indefinite
	bounded
)

// Policy tells Verify how long to keep re-reading the bit.
type Policy struct {
	kind     policyKind
	duration time.Duration
}

// SingleShot reads the bit once.
func SingleShot() Policy {
	return Policy{kind: singleShot}
}

// Indefinite re-reads the bit until the context is cancelled.
func Indefinite() Policy {
	return Policy{kind: indefinite}
}

// Bounded re-reads the bit until d of wall time has passed.
// A non-positive d is the same as SingleShot.
func Bounded(d time.Duration) Policy {
	if d <= 0 {
		return SingleShot()
	}

	return Policy{kind: bounded, duration: d}
}

// ParsePolicy parses a number of seconds: 0 means Indefinite,
// any positive number means Bounded.
func ParsePolicy(s string) (Policy, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return Policy{}, fmt.Errorf("%w: %q", ErrInvalidPolicy, s)
	}

	if n == 0 {
		return Indefinite(), nil
	}

	return Bounded(time.Duration(n) * time.Second), nil
}

func (p Policy) IsSingleShot() bool {
	return p.kind == singleShot
}

func (p Policy) IsIndefinite() bool {
	return p.kind == indefinite
}

func (p Policy) Duration() time.Duration {
	return p.duration
}

func (p Policy) String() string {
	switch p.kind {
	case indefinite:
		return "indefinite"
	case bounded:
		return p.duration.String()
	}

	return "single-shot"
}
