// services/accessory/internal/core/types.go
package core

import (
	"io/fs"

	"accessorycard-go/types"
)

// ---- GPIO ----

type Level uint8

const (
	Low Level = iota
	High
)

func (l Level) String() string {
	if l == High {
		return "1"
	}
	return "0"
}

// PinDescriptor is one GPIO line a card type uses in a given slot.
type PinDescriptor struct {
	Name    string // logical name, e.g. "AP1_RESET"
	Chip    string // gpiochip name or path
	Offset  int    // line offset on Chip
	Label   string // consumer label, also the attribute-level pin name
	Default Level  // power-on output level
}

// Line is one requested GPIO output line.
type Line interface {
	SetLevel(l Level) error
	Level() (Level, error)
	Close() error
}

// LineFactory requests lines as outputs driven to the descriptor's default.
type LineFactory interface {
	Open(d PinDescriptor) (Line, error)
}

// ---- Attributes ----

type AttrMode uint8

const (
	ModeRO AttrMode = iota
	ModeRW
)

func (m AttrMode) Perm() fs.FileMode {
	if m == ModeRW {
		return 0o644
	}
	return 0o444
}

func (m AttrMode) String() string {
	if m == ModeRW {
		return "rw"
	}
	return "ro"
}

type ShowFunc func(a *Attribute) (string, error)
type StoreFunc func(a *Attribute, value string) error

// Attribute is one named control or identity field published under a node.
type Attribute struct {
	name  string
	mode  AttrMode
	Show  ShowFunc
	Store StoreFunc

	release  func()
	released bool
}

// NewAttribute is used by AttributeFactory implementations. release runs once,
// on the first Release call.
func NewAttribute(name string, mode AttrMode, release func()) *Attribute {
	return &Attribute{name: name, mode: mode, release: release}
}

func (a *Attribute) Name() string   { return a.name }
func (a *Attribute) Mode() AttrMode { return a.mode }
func (a *Attribute) Released() bool { return a.released }
func (a *Attribute) Writable() bool { return a.mode == ModeRW && a.Store != nil }
func (a *Attribute) Readable() bool { return a.Show != nil }
func (a *Attribute) String() string { return a.name + "(" + a.mode.String() + ")" }
func (a *Attribute) Release() {
	if a == nil || a.released {
		return
	}
	a.released = true
	a.Show, a.Store = nil, nil
	if a.release != nil {
		a.release()
	}
}

type AttributeFactory interface {
	NewAttribute(name string, mode AttrMode) (*Attribute, error)
}

// ---- Collaborators ----

// Node is a directory-like object attributes are published under.
type Node interface {
	Name() string
	Path() string
}

// Publisher is the attribute publishing subsystem.
type Publisher interface {
	AttributeFactory
	CreateNode(name string, parent Node) (Node, error)
	RemoveNode(n Node) error
	PublishGroup(n Node, set *AttrSet) error
	Unpublish(n Node) error
	Link(parent, target Node, alias string) error
	Unlink(parent Node, alias string) error
}

// PinOwner claims and drives GPIO lines on behalf of slots. slot is 0-based.
type PinOwner interface {
	ClaimPins(slot int, pins []PinDescriptor, node Node) error
	ReleasePins(slot int) error
	Level(label string) (Level, error)
	SetLevel(label string, l Level) error
}

// ProductInfo appends the read-only identity attributes for a 1-based port.
type ProductInfo interface {
	AppendProductInfoAttributes(port int, set *AttrSet) error
}

// PinResolver maps a control attribute name and 1-based port to a pin label.
type PinResolver func(name string, port int) (string, error)

// Driver is what a card type registers with the slot registry.
type Driver struct {
	ProductID string
	Setup     func(port int) error
	Teardown  func(port int) error
	PinName   PinResolver
}

// EventSink receives slot lifecycle transitions.
type EventSink interface {
	SlotEvent(ev types.SlotEvent)
}

// ---- Slots ----

// Port is the per-slot record owned by the registry.
type Port struct {
	Index     int // 0-based
	ProductID string
	Driver    *Driver
	State     types.SlotState
	Node      Node
	Attrs     *AttrSet
	Alias     string
	AttachID  string
}

func (p *Port) Number() int { return p.Index + 1 }

// Ports is the slot registry view the lifecycle controller works against.
type Ports interface {
	NumPorts() int
	Port(index int) *Port // nil when out of range
	Root() Node
}
