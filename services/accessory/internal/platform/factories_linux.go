// services/accessory/internal/platform/factories_linux.go
//go:build linux

package platform

import (
	"errors"
	"io"
	"os"
	"sync"

	"accessorycard-go/errcode"
	"accessorycard-go/services/accessory/internal/core"

	"github.com/warthog618/go-gpiocdev"
	"golang.org/x/sys/unix"
	"tinygo.org/x/drivers"
)

// ----------------------------- GPIO (cdev) -----------------------------------

// CdevLines requests lines from the GPIO character device.
type CdevLines struct{}

func (CdevLines) Open(d core.PinDescriptor) (core.Line, error) {
	l, err := gpiocdev.RequestLine(d.Chip, d.Offset,
		gpiocdev.AsOutput(int(d.Default)),
		gpiocdev.WithConsumer(d.Label))
	if err != nil {
		if errors.Is(err, unix.EBUSY) {
			return nil, errcode.Wrap(errcode.PinInUse, "request "+d.Label, err)
		}
		return nil, errcode.Wrap(errcode.UnknownPin, "request "+d.Label, err)
	}
	return &cdevLine{l: l}, nil
}

type cdevLine struct {
	l *gpiocdev.Line
}

func (c *cdevLine) SetLevel(l core.Level) error { return c.l.SetValue(int(l)) }

func (c *cdevLine) Level() (core.Level, error) {
	v, err := c.l.Value()
	if err != nil {
		return core.Low, err
	}
	if v != 0 {
		return core.High, nil
	}
	return core.Low, nil
}

func (c *cdevLine) Close() error { return c.l.Close() }

func newLinuxLines() (core.LineFactory, error) { return CdevLines{}, nil }

// ----------------------------- I²C (i2c-dev) ---------------------------------

const i2cSlave = 0x0703 // I2C_SLAVE ioctl

// I2CDev is a /dev/i2c-N adapter implementing drivers.I2C.
type I2CDev struct {
	mu   sync.Mutex
	f    *os.File
	addr int
}

var _ drivers.I2C = (*I2CDev)(nil)

func OpenI2C(path string) (*I2CDev, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	return &I2CDev{f: f, addr: -1}, nil
}

func (b *I2CDev) Tx(addr uint16, w, r []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if int(addr) != b.addr {
		if err := unix.IoctlSetInt(int(b.f.Fd()), i2cSlave, int(addr)); err != nil {
			return err
		}
		b.addr = int(addr)
	}
	if len(w) > 0 {
		if _, err := b.f.Write(w); err != nil {
			return err
		}
	}
	if len(r) > 0 {
		if _, err := io.ReadFull(b.f, r); err != nil {
			return err
		}
	}
	return nil
}

func (b *I2CDev) Close() error { return b.f.Close() }

func openI2C(path string) (drivers.I2C, io.Closer, error) {
	b, err := OpenI2C(path)
	if err != nil {
		return nil, nil, err
	}
	return b, b, nil
}
