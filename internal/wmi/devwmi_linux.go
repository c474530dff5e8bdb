//go:build linux

package wmi

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"unsafe"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"

	"github.com/dokzlo13/caselightd/internal/firmware"
)

// Defaults for the dell-smbios-wmi character device.
const (
	DefaultDevicePath = "/dev/wmi/dell-smbios"
	DefaultSysfsDir   = "/sys/bus/wmi/devices"
)

// The ioctl payload starts with a u64 length, followed by the 36-byte calling
// buffer (class, select, input[4], output[4]) and the extension area.
const (
	lengthHeaderSize  = 8
	callingBufferSize = 36
	extensionSize     = 8
)

// DELL_WMI_SMBIOS_CMD = _IOWR('D', 0, struct dell_wmi_smbios_buffer)
var smbiosCmd = iowr('D', 0, lengthHeaderSize+callingBufferSize+extensionSize)

func iowr(typ, nr, size uintptr) uintptr {
	const (
		dirRead  = 2
		dirWrite = 1
	)
	return (dirRead|dirWrite)<<30 | size<<16 | typ<<8 | nr
}

// DevWMI talks to the kernel's dell-smbios-wmi driver through its character
// device. Only one ioctl is in flight at a time.
type DevWMI struct {
	devicePath string
	sysfsDir   string

	mu sync.Mutex
}

// NewDevWMI creates an invoker for the given device node and sysfs directory.
// Empty arguments select the defaults.
func NewDevWMI(devicePath, sysfsDir string) *DevWMI {
	if devicePath == "" {
		devicePath = DefaultDevicePath
	}
	if sysfsDir == "" {
		sysfsDir = DefaultSysfsDir
	}
	return &DevWMI{
		devicePath: devicePath,
		sysfsDir:   sysfsDir,
	}
}

func (d *DevWMI) Name() string {
	return "devwmi"
}

// Probe checks that the GUID is bound and the device node exists.
func (d *DevWMI) Probe(ctx context.Context) error {
	if _, err := os.Stat(filepath.Join(d.sysfsDir, MethodGUID)); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if _, err := os.Stat(d.devicePath); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (d *DevWMI) bufferSize() (int, error) {
	raw, err := os.ReadFile(filepath.Join(d.sysfsDir, MethodGUID, "required_buffer_size"))
	if err != nil {
		return 0, err
	}
	size, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, fmt.Errorf("parse required_buffer_size: %w", err)
	}
	if size < lengthHeaderSize+firmware.CommandSize {
		size = lengthHeaderSize + firmware.CommandSize
	}
	return size, nil
}

// Evaluate runs one SMBIOS call. The method id and instance are fixed by the
// driver, so only the input buffer is used.
func (d *DevWMI) Evaluate(ctx context.Context, call Call) (*firmware.Object, error) {
	if len(call.Input) != firmware.CommandSize {
		return nil, fmt.Errorf("input is %d bytes, want %d", len(call.Input), firmware.CommandSize)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	size, err := d.bufferSize()
	if err != nil {
		return nil, err
	}

	fd, err := unix.Open(d.devicePath, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.devicePath, err)
	}
	defer unix.Close(fd)

	buf := make([]byte, size)
	binary.LittleEndian.PutUint64(buf, uint64(size))
	copy(buf[lengthHeaderSize:], call.Input)

	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), smbiosCmd, uintptr(unsafe.Pointer(&buf[0])))
	if errno != 0 {
		return nil, fmt.Errorf("ioctl: %w", errno)
	}

	log.Debug().Int("buffer_size", size).Msg("SMBIOS ioctl completed")

	out := make([]byte, firmware.CommandSize)
	copy(out, buf[lengthHeaderSize:lengthHeaderSize+firmware.CommandSize])
	return &firmware.Object{Type: firmware.ObjectBuffer, Buffer: out}, nil
}

func (d *DevWMI) Close() error {
	return nil
}
