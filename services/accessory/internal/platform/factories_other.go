// services/accessory/internal/platform/factories_other.go
//go:build !linux

package platform

import (
	"io"

	"accessorycard-go/errcode"
	"accessorycard-go/services/accessory/internal/core"

	"tinygo.org/x/drivers"
)

// On non-Linux builds only the host platform is available.
func newLinuxLines() (core.LineFactory, error) { return nil, errcode.Unsupported }

func openI2C(string) (drivers.I2C, io.Closer, error) { return nil, nil, errcode.Unsupported }
