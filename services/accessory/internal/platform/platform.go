// services/accessory/internal/platform/platform.go
package platform

import (
	"io"

	"accessorycard-go/errcode"
	"accessorycard-go/services/accessory/internal/core"

	"tinygo.org/x/drivers"
)

const (
	Host  = "host"
	Linux = "linux"
)

// Lines returns the GPIO line factory for the named platform.
func Lines(name string) (core.LineFactory, error) {
	switch name {
	case "", Host:
		return NewHostLines(), nil
	case Linux:
		return newLinuxLines()
	default:
		return nil, &errcode.E{C: errcode.Unsupported, Op: "platform", Msg: name}
	}
}

// I2C opens an I²C adapter by device path (e.g. /dev/i2c-0).
func I2C(path string) (drivers.I2C, io.Closer, error) {
	return openI2C(path)
}
