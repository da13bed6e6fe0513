// services/accessory/internal/eeprom/eeprom.go

// Package eeprom reads accessory-card identity EEPROMs and publishes their
// product-info fields as read-only attributes.
package eeprom

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"

	"accessorycard-go/errcode"
	"accessorycard-go/services/accessory/internal/core"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"
	"tinygo.org/x/drivers"
)

const fieldLen = 32

// LayoutSize is the number of bytes decoded from the start of the EEPROM.
const LayoutSize = 4*fieldLen + 6

// Attribute names, in publication order.
const (
	AttrVendorID  = "vendor-id"
	AttrProductID = "product-id"
	AttrDeviceID  = "device-id"
	AttrHWVersion = "hw-version"
)

// NumAttributes is how many attributes AppendProductInfoAttributes adds.
const NumAttributes = 4

type layout struct {
	VendorID  [fieldLen]byte
	ProductID [fieldLen]byte
	DeviceID  [fieldLen]byte
	HWVersion [fieldLen]byte
	MAC       [6]byte
}

type ProductInfo struct {
	VendorID  string
	ProductID string
	DeviceID  string
	HWVersion string
	MAC       net.HardwareAddr
}

func (p ProductInfo) fields() [NumAttributes][2]string {
	return [NumAttributes][2]string{
		{AttrVendorID, p.VendorID},
		{AttrProductID, p.ProductID},
		{AttrDeviceID, p.DeviceID},
		{AttrHWVersion, p.HWVersion},
	}
}

// cstr returns b up to the first NUL; erased cells (0xff) read as empty.
func cstr(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	end := len(b)
	for end > 0 && b[end-1] == 0xff {
		end--
	}
	return string(b[:end])
}

func Decode(b []byte) (ProductInfo, error) {
	if len(b) < LayoutSize {
		return ProductInfo{}, &errcode.E{C: errcode.EEPROMShort, Op: "decode", Msg: fmt.Sprintf("%d < %d bytes", len(b), LayoutSize)}
	}
	var l layout
	if err := binary.Read(bytes.NewReader(b[:LayoutSize]), binary.BigEndian, &l); err != nil {
		return ProductInfo{}, errcode.Wrap(errcode.EEPROMShort, "decode", err)
	}
	return ProductInfo{
		VendorID:  cstr(l.VendorID[:]),
		ProductID: cstr(l.ProductID[:]),
		DeviceID:  cstr(l.DeviceID[:]),
		HWVersion: cstr(l.HWVersion[:]),
		MAC:       net.HardwareAddr(append([]byte(nil), l.MAC[:]...)),
	}, nil
}

// Encode renders p in the EEPROM layout; fields longer than 32 bytes are cut.
func Encode(p ProductInfo) []byte {
	var l layout
	copy(l.VendorID[:], p.VendorID)
	copy(l.ProductID[:], p.ProductID)
	copy(l.DeviceID[:], p.DeviceID)
	copy(l.HWVersion[:], p.HWVersion)
	copy(l.MAC[:], p.MAC)
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, &l)
	return buf.Bytes()
}

// ---- Sources ----

// Source yields the raw EEPROM contents of one slot.
type Source interface {
	ReadEEPROM() ([]byte, error)
}

// FileSource reads an EEPROM exposed as a file (e.g. an at24 sysfs node).
type FileSource struct {
	Fs   afero.Fs
	Path string
}

func (s FileSource) ReadEEPROM() ([]byte, error) {
	f, err := s.Fs.Open(s.Path)
	if err != nil {
		return nil, errcode.Wrap(errcode.NoDevice, "open "+s.Path, err)
	}
	defer f.Close()
	buf := make([]byte, LayoutSize)
	n, err := io.ReadFull(f, buf)
	if err != nil {
		return buf[:n], errcode.Wrap(errcode.EEPROMShort, "read "+s.Path, err)
	}
	return buf, nil
}

// I2CSource reads a 24C-series EEPROM with 16-bit word addressing.
type I2CSource struct {
	Bus  drivers.I2C
	Addr uint16
}

func (s I2CSource) ReadEEPROM() ([]byte, error) {
	buf := make([]byte, LayoutSize)
	if err := s.Bus.Tx(s.Addr, []byte{0, 0}, buf); err != nil {
		return nil, errcode.Wrap(errcode.NoDevice, fmt.Sprintf("i2c 0x%02x", s.Addr), err)
	}
	return buf, nil
}

// ---- Reader ----

// Ensure the reader satisfies the product-info contract at compile time.
var _ core.ProductInfo = (*Reader)(nil)

// Reader caches decoded product info per 1-based port.
type Reader struct {
	mu      sync.Mutex
	sources map[int]Source
	cache   map[int]ProductInfo
	factory core.AttributeFactory
	log     *log.Logger
}

func NewReader(factory core.AttributeFactory, logger *log.Logger) *Reader {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Reader{
		sources: map[int]Source{},
		cache:   map[int]ProductInfo{},
		factory: factory,
		log:     logger.WithPrefix("eeprom"),
	}
}

func (r *Reader) SetSource(port int, s Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[port] = s
	delete(r.cache, port)
}

// Refresh re-reads the EEPROM of port, replacing any cached copy.
func (r *Reader) Refresh(port int) (ProductInfo, error) {
	r.mu.Lock()
	src, ok := r.sources[port]
	delete(r.cache, port)
	r.mu.Unlock()
	if !ok {
		return ProductInfo{}, errcode.Wrap(errcode.NoDevice, fmt.Sprintf("port %d", port), nil)
	}
	raw, err := src.ReadEEPROM()
	if err != nil {
		return ProductInfo{}, err
	}
	info, err := Decode(raw)
	if err != nil {
		return ProductInfo{}, err
	}
	r.mu.Lock()
	r.cache[port] = info
	r.mu.Unlock()
	r.log.Debug("read", "port", port, "vendor", info.VendorID, "product", info.ProductID, "hw", info.HWVersion)
	return info, nil
}

// Info returns cached product info for port, reading it on first use.
func (r *Reader) Info(port int) (ProductInfo, error) {
	r.mu.Lock()
	info, ok := r.cache[port]
	r.mu.Unlock()
	if ok {
		return info, nil
	}
	return r.Refresh(port)
}

// ProductID probes the card in port. An empty slot reads as no_device.
func (r *Reader) ProductID(port int) (string, error) {
	info, err := r.Refresh(port)
	if err != nil {
		return "", err
	}
	if info.ProductID == "" {
		return "", errcode.NoDevice
	}
	return info.ProductID, nil
}

// AppendProductInfoAttributes adds vendor-id, product-id, device-id and
// hw-version to set. On error the caller owns releasing set; an attribute
// that could not be added is released here.
func (r *Reader) AppendProductInfoAttributes(port int, set *core.AttrSet) error {
	info, err := r.Info(port)
	if err != nil {
		return err
	}
	for _, f := range info.fields() {
		a, err := r.factory.NewAttribute(f[0], core.ModeRO)
		if err != nil {
			return err
		}
		value := f[1]
		a.Show = func(*core.Attribute) (string, error) { return value, nil }
		if err := set.Add(a); err != nil {
			a.Release()
			return err
		}
	}
	return nil
}
