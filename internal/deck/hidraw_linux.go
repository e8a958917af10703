//go:build linux

package deck

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// sysfsHidraw is where hidraw nodes describe their parent HID device.
var sysfsHidraw = "/sys/class/hidraw"

// Device is an open Stream Deck+.
//
// Run owns reads; writes are serialized by mu and may come from any goroutine.
type Device struct {
	f      *os.File
	path   string
	logger *slog.Logger

	mu sync.Mutex
}

// Find returns the first /dev/hidrawN whose parent is a Stream Deck+.
func Find() (string, error) {
	entries, err := os.ReadDir(sysfsHidraw)
	if err != nil {
		return "", fmt.Errorf("list hidraw devices: %w", err)
	}
	for _, e := range entries {
		b, err := os.ReadFile(filepath.Join(sysfsHidraw, e.Name(), "device", "uevent"))
		if err != nil {
			continue
		}
		if matchUevent(string(b)) {
			return "/dev/" + e.Name(), nil
		}
	}
	return "", fmt.Errorf("no Stream Deck+ (%04x:%04x) found: %w", VendorID, ProductID, ErrDisconnected)
}

// Open opens a hidraw node. An empty path autodetects.
func Open(path string, logger *slog.Logger) (*Device, error) {
	if path == "" {
		p, err := Find()
		if err != nil {
			return nil, err
		}
		path = p
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	logger.Info("control surface opened", "device", path)
	return &Device{f: f, path: path, logger: logger}, nil
}

// Path returns the hidraw node in use.
func (d *Device) Path() string { return d.path }

// Close releases the device.
func (d *Device) Close() error {
	return d.f.Close()
}

// Run reads input reports until ctx is canceled or the device goes away, sending
// decoded inputs to out. It returns nil on cancellation and an error wrapping
// ErrDisconnected on unplug.
func (d *Device) Run(ctx context.Context, out chan<- Input) error {
	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		return fmt.Errorf("epoll_create1: %w", err)
	}
	defer unix.Close(epfd)

	fd := int(d.f.Fd())
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll_ctl_add %s: %w", d.path, err)
	}

	const waitMillis = 200
	events := make([]unix.EpollEvent, 1)
	buf := make([]byte, 512)
	var dec decoder

	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := unix.EpollWait(epfd, events, waitMillis)
		if err != nil {
			if errors.Is(err, syscall.EINTR) {
				continue
			}
			return fmt.Errorf("epoll_wait: %w", err)
		}
		if n == 0 {
			continue
		}

		if events[0].Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			return fmt.Errorf("%s: hangup: %w", d.path, ErrDisconnected)
		}

		m, err := d.f.Read(buf)
		if err != nil {
			return d.ioError("read", err)
		}
		for _, in := range dec.decode(buf[:m]) {
			select {
			case out <- in:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (d *Device) ioError(op string, err error) error {
	if errors.Is(err, syscall.ENODEV) || errors.Is(err, syscall.EIO) ||
		errors.Is(err, syscall.EPIPE) || errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("%s %s: %w: %w", op, d.path, ErrDisconnected, err)
	}
	return fmt.Errorf("%s %s: %w", op, d.path, err)
}

func (d *Device) write(pkts ...[]byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range pkts {
		if _, err := d.f.Write(p); err != nil {
			return d.ioError("write", err)
		}
	}
	return nil
}

// hidiocsfeature is HIDIOCSFEATURE(n): _IOC(_IOC_WRITE|_IOC_READ, 'H', 0x06, n).
func hidiocsfeature(n int) uintptr {
	return uintptr(3<<30 | n<<16 | 'H'<<8 | 0x06)
}

func (d *Device) sendFeature(report []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, d.f.Fd(), hidiocsfeature(len(report)), uintptr(unsafe.Pointer(&report[0])))
	if errno != 0 {
		return d.ioError("set feature", errno)
	}
	return nil
}

// SetBrightness sets the backlight in percent.
func (d *Device) SetBrightness(percent int) error {
	return d.sendFeature(brightnessReport(percent))
}

// Reset blanks the device and restores its default state.
func (d *Device) Reset() error {
	return d.sendFeature(resetReport())
}

// SetKeyImage uploads a KeySize x KeySize image to one key.
func (d *Device) SetKeyImage(key int, img image.Image) error {
	if key < 0 || key >= NumKeys {
		return fmt.Errorf("key %d out of range", key)
	}
	jpg, err := EncodeJPEG(img)
	if err != nil {
		return err
	}
	return d.write(keyImagePackets(key, jpg)...)
}

// SetTouchImage uploads img to rectangle r of the touchscreen strip. img must be
// r's size; its bounds origin is ignored.
func (d *Device) SetTouchImage(r image.Rectangle, img image.Image) error {
	if !r.In(image.Rect(0, 0, TouchWidth, TouchHeight)) {
		return fmt.Errorf("touch region %v out of range", r)
	}
	jpg, err := EncodeJPEG(img)
	if err != nil {
		return err
	}
	return d.write(touchImagePackets(r, jpg)...)
}

// Clear blanks the strip and every key.
func (d *Device) Clear() error {
	if err := d.write(keyResetPacket()); err != nil {
		return err
	}
	black := image.NewRGBA(image.Rect(0, 0, TouchWidth, TouchHeight))
	return d.SetTouchImage(black.Bounds(), black)
}

// matchUevent reports whether a hidraw parent uevent names a Stream Deck+.
func matchUevent(uevent string) bool {
	want := fmt.Sprintf("HID_ID=0003:%08X:%08X", VendorID, ProductID)
	for _, line := range strings.Split(uevent, "\n") {
		if strings.EqualFold(strings.TrimSpace(line), want) {
			return true
		}
	}
	return false
}
