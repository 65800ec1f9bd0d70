package msr

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"
)

// DEVDIR is the directory holding one msr device node per logical CPU.
var DEVDIR = "/dev/cpu"

var (
	ErrModuleNotLoaded  = errors.New("the msr kernel module is not loaded")
	ErrPermissionDenied = errors.New("permission denied")
	ErrShortRead        = errors.New("short read of the MSR file")
	ErrShortWrite       = errors.New("short write to the MSR file")
)

// Register is the address of a model-specific register.
// It is used as the file offset of the msr device.
type Register uint64

const (
	IA32_SPEC_CTRL         Register = 0x48
	IA32_ARCH_CAPABILITIES Register = 0x10a
	AMD64_VIRT_SPEC_CTRL   Register = 0xc001011f
	AMD64_LS_CFG           Register = 0xc0011020
)

func (r Register) String() string {
	switch r {
	case IA32_SPEC_CTRL:
		return "IA32_SPEC_CTRL"
	case IA32_ARCH_CAPABILITIES:
		return "IA32_ARCH_CAPABILITIES"
	case AMD64_VIRT_SPEC_CTRL:
		return "VIRT_SPEC_CTRL"
	case AMD64_LS_CFG:
		return "LS_CFG"
	}

	return fmt.Sprintf("MSR(%#x)", uint64(r))
}

func (r Register) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

type Reader interface {
	Read(Register) (uint64, error)
}

type ReadWriter interface {
	Reader
	Write(Register, uint64) error
}

// Device is an open msr device of a single CPU.
type Device struct {
	fd   int
	path string
	cpu  int
}

// DevicePath returns the msr device path of the given CPU.
func DevicePath(cpu int) string {
	return filepath.Join(DEVDIR, strconv.Itoa(cpu), "msr")
}

// Open opens the msr device of the given CPU, read-only or read-write.
func Open(cpu int, writable bool) (*Device, error) {
	if cpu < 0 {
		return nil, fmt.Errorf("invalid CPU number: %d", cpu)
	}

	return OpenPath(DevicePath(cpu), cpu, writable)
}

// OpenPath is like Open but takes an explicit device path.
func OpenPath(path string, cpu int, writable bool) (*Device, error) {
	flags := unix.O_RDONLY | unix.O_CLOEXEC
	if writable {
		flags = unix.O_RDWR | unix.O_CLOEXEC
	}

	fd, err := unix.Open(path, flags, 0)
	if err != nil {
		switch {
		case errors.Is(err, unix.ENOENT):
			return nil, fmt.Errorf("%w (%s)", ErrModuleNotLoaded, path)
		case errors.Is(err, unix.EACCES), errors.Is(err, unix.EPERM):
			return nil, fmt.Errorf("%w: %s", ErrPermissionDenied, path)
		}
		return nil, &os.PathError{Op: "open", Path: path, Err: err}
	}

	return &Device{fd: fd, path: path, cpu: cpu}, nil
}

// Read returns the 64-bit value of the register.
func (d *Device) Read(reg Register) (uint64, error) {
	var b [8]byte

	n, err := unix.Pread(d.fd, b[:], int64(reg))
	if err != nil {
		return 0, fmt.Errorf("couldn't read %s from %s: %w", reg, d.path, err)
	}
	if n != len(b) {
		return 0, fmt.Errorf("%w (%s, %d bytes)", ErrShortRead, reg, n)
	}

	return binary.LittleEndian.Uint64(b[:]), nil
}

// Write stores a 64-bit value into the register.
// The device must be opened as writable.
func (d *Device) Write(reg Register, value uint64) error {
	var b [8]byte

	binary.LittleEndian.PutUint64(b[:], value)

	n, err := unix.Pwrite(d.fd, b[:], int64(reg))
	if err != nil {
		return fmt.Errorf("couldn't write %s to %s: %w", reg, d.path, err)
	}
	if n != len(b) {
		return fmt.Errorf("%w (%s, %d bytes)", ErrShortWrite, reg, n)
	}

	return nil
}

func (d *Device) Fd() int {
	return d.fd
}

func (d *Device) CPU() int {
	return d.cpu
}

func (d *Device) Path() string {
	return d.path
}

func (d *Device) Close() error {
	return unix.Close(d.fd)
}
