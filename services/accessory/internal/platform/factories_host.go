// services/accessory/internal/platform/factories_host.go
package platform

import (
	"fmt"
	"sync"

	"accessorycard-go/errcode"
	"accessorycard-go/services/accessory/internal/core"

	"tinygo.org/x/drivers"
)

// ----------------------------- GPIO (host) -----------------------------------

// FakeLine is a simulated GPIO line for host runs and tests.
type FakeLine struct {
	mu        sync.RWMutex
	chip      string
	offset    int
	level     core.Level
	requested bool
	consumer  string
	history   []core.Level
}

func (p *FakeLine) drive(l core.Level) {
	p.level = l
	p.history = append(p.history, l)
}

func (p *FakeLine) Level() core.Level {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.level
}

func (p *FakeLine) Requested() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.requested
}

func (p *FakeLine) Consumer() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.consumer
}

// History returns every level driven since creation.
func (p *FakeLine) History() []core.Level {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]core.Level(nil), p.history...)
}

// hostHandle is one request on a FakeLine; it is dead after Close.
type hostHandle struct {
	line   *FakeLine
	closed bool
}

func (h *hostHandle) SetLevel(l core.Level) error {
	h.line.mu.Lock()
	defer h.line.mu.Unlock()
	if h.closed {
		return errcode.NotReady
	}
	h.line.drive(l)
	return nil
}

func (h *hostHandle) Level() (core.Level, error) {
	h.line.mu.RLock()
	defer h.line.mu.RUnlock()
	if h.closed {
		return core.Low, errcode.NotReady
	}
	return h.line.level, nil
}

func (h *hostHandle) Close() error {
	h.line.mu.Lock()
	defer h.line.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	h.line.requested = false
	h.line.consumer = ""
	return nil
}

// HostLines returns stable *FakeLine instances per chip/offset.
type HostLines struct {
	mu    sync.Mutex
	lines map[string]*FakeLine
	fail  map[string]error
}

func NewHostLines() *HostLines {
	return &HostLines{lines: map[string]*FakeLine{}, fail: map[string]error{}}
}

func lineKey(chip string, offset int) string { return fmt.Sprintf("%s:%d", chip, offset) }

func (f *HostLines) Open(d core.PinDescriptor) (core.Line, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.fail[d.Label]; ok {
		return nil, err
	}
	k := lineKey(d.Chip, d.Offset)
	p, ok := f.lines[k]
	if !ok {
		p = &FakeLine{chip: d.Chip, offset: d.Offset}
		f.lines[k] = p
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.requested {
		return nil, errcode.PinInUse
	}
	p.requested = true
	p.consumer = d.Label
	p.drive(d.Default)
	return &hostHandle{line: p}, nil
}

// Get exposes the underlying *FakeLine for tests.
func (f *HostLines) Get(chip string, offset int) (*FakeLine, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.lines[lineKey(chip, offset)]
	return p, ok
}

// FailOpen makes every request for label fail with err; nil clears it.
func (f *HostLines) FailOpen(label string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.fail, label)
		return
	}
	f.fail[label] = err
}

// ----------------------------- I²C (host) ------------------------------------

// HostEEPROM implements drivers.I2C as a 24C-series EEPROM with 16-bit
// addressing: a write sets the address pointer, a read streams from it.
type HostEEPROM struct {
	mu   sync.Mutex
	Addr uint16
	Data []byte
	ptr  int
}

var _ drivers.I2C = (*HostEEPROM)(nil)

func (h *HostEEPROM) Tx(addr uint16, w, r []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if addr != h.Addr {
		return errcode.Wrap(errcode.NoDevice, fmt.Sprintf("i2c 0x%02x", addr), nil)
	}
	if len(w) >= 2 {
		h.ptr = int(w[0])<<8 | int(w[1])
	}
	for i := range r {
		if h.ptr < len(h.Data) {
			r[i] = h.Data[h.ptr]
		} else {
			r[i] = 0xff
		}
		h.ptr++
	}
	return nil
}
