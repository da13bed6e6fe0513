// services/accessory/internal/enf/enf.go

// Package enf drives the ENF accessory card through its slot lifecycle:
// node creation, pin ownership, alias naming and attribute publishing on
// attach, and the reverse on detach.
package enf

import (
	"errors"
	"fmt"
	"io"

	"accessorycard-go/errcode"
	"accessorycard-go/services/accessory/internal/core"
	"accessorycard-go/types"
	"accessorycard-go/x/strx"
	"accessorycard-go/x/timex"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

const (
	// ProductID is the product id ENF cards carry in their identity EEPROM.
	ProductID = "XAP-EA-004"
	// BaseAlias names the first ENF card's link under the platform root.
	BaseAlias = "enf"
	// AttrReset is the read-write control driving the card's reset line.
	AttrReset = "reset"
)

// Deps are the collaborators a Controller works against.
type Deps struct {
	Ports     core.Ports
	Publisher core.Publisher
	Pins      core.PinOwner
	Info      core.ProductInfo
	Events    core.EventSink // optional
	Logger    *log.Logger    // optional
	ProductID string         // defaults to ProductID
	BaseAlias string         // defaults to BaseAlias
}

// Controller implements Setup and Teardown for ENF cards. Calls for one port
// must be serialised by the caller; the registry does this.
type Controller struct {
	ports core.Ports
	pub   core.Publisher
	pins  core.PinOwner
	info  core.ProductInfo
	sink  core.EventSink
	id    string
	alias string
	log   *log.Logger
}

func New(d Deps) *Controller {
	logger := d.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Controller{
		ports: d.Ports,
		pub:   d.Publisher,
		pins:  d.Pins,
		info:  d.Info,
		sink:  d.Events,
		id:    strx.Coalesce(d.ProductID, ProductID),
		alias: strx.Coalesce(d.BaseAlias, BaseAlias),
		log:   logger.WithPrefix("enf"),
	}
}

// Descriptor is what gets registered with the slot registry.
func (c *Controller) Descriptor() core.Driver {
	return core.Driver{
		ProductID: c.id,
		Setup:     c.Setup,
		Teardown:  c.Teardown,
		PinName:   c.ResolvePin,
	}
}

func (c *Controller) port(port int) (*core.Port, error) {
	p := c.ports.Port(port - 1)
	if p == nil {
		return nil, &errcode.E{C: errcode.InvalidSlot, Msg: fmt.Sprintf("port %d", port)}
	}
	return p, nil
}

func (c *Controller) emit(p *core.Port, err error) {
	if c.sink == nil {
		return
	}
	ev := types.SlotEvent{
		Port:      p.Number(),
		State:     p.State,
		ProductID: p.ProductID,
		Alias:     p.Alias,
		AttachID:  p.AttachID,
		TSms:      timex.NowMs(),
	}
	if err != nil {
		ev.Error = string(errcode.Of(err))
	}
	c.sink.SlotEvent(ev)
}

func (c *Controller) setState(p *core.Port, s types.SlotState, err error) {
	p.State = s
	c.emit(p, err)
}

// Setup attaches the card in the 1-based port. On success the port is
// Attached with its node, pins, alias link and attribute group in place. On
// failure everything acquired so far is released and the port is Unattached.
func (c *Controller) Setup(port int) error {
	p, err := c.port(port)
	if err != nil {
		c.log.Error("setup on unknown port", "port", port)
		return err
	}
	if p.State != types.SlotUnattached && p.State != "" {
		return &errcode.E{C: errcode.SlotBusy, Op: "setup", Msg: string(p.State)}
	}

	c.log.Info("loading ENF accessory card", "port", port)
	p.Alias = ""
	c.setState(p, types.SlotAttaching, nil)

	pinDescs, err := PinsFor(p.Index)
	if err != nil {
		return c.unwind(p, "look up pins", err)
	}

	node, err := c.pub.CreateNode(fmt.Sprintf("ap%d", port), c.ports.Root())
	if err != nil {
		return c.unwind(p, "create node", err)
	}
	p.Node = node

	if err := c.pins.ClaimPins(p.Index, pinDescs, node); err != nil {
		return c.unwind(p, "claim pins", err)
	}

	alias := SlotAlias(c.alias, c.id, port, c.ports)
	if err := c.pub.Link(c.ports.Root(), node, alias); err != nil {
		c.log.Error("failed to link alias", "port", port, "alias", alias, "err", err)
	} else {
		p.Alias = alias
	}

	set, err := c.buildAttributes(port)
	if err != nil {
		return c.unwind(p, "build attributes", err)
	}
	if err := c.pub.PublishGroup(node, set); err != nil {
		set.Release()
		return c.unwind(p, "publish attributes", err)
	}
	p.Attrs = set
	p.AttachID = uuid.NewString()

	c.log.Info("attached", "port", port, "node", node.Path(), "alias", p.Alias, "attach_id", p.AttachID)
	c.setState(p, types.SlotAttached, nil)
	return nil
}

// unwind reverses a partial Setup in the opposite order of acquisition.
func (c *Controller) unwind(p *core.Port, step string, cause error) error {
	c.log.Error("failed to "+step, "port", p.Number(), "err", cause)

	if p.Alias != "" {
		if err := c.pub.Unlink(c.ports.Root(), p.Alias); err != nil {
			c.log.Warn("unlink alias", "port", p.Number(), "alias", p.Alias, "err", err)
		}
		p.Alias = ""
	}
	if err := c.pins.ReleasePins(p.Index); err != nil {
		c.log.Warn("release pins", "port", p.Number(), "err", err)
	}
	if p.Node != nil {
		if err := c.pub.RemoveNode(p.Node); err != nil {
			c.log.Warn("remove node", "port", p.Number(), "err", err)
		}
		p.Node = nil
	}

	err := errcode.Wrap(errcode.Of(cause), step, cause)
	c.setState(p, types.SlotUnattached, err)
	return err
}

// Teardown detaches the card in the 1-based port. It tolerates any partial
// state, including a port that was never attached or is already torn down.
// Individual failures are logged and teardown carries on; they are returned
// joined.
func (c *Controller) Teardown(port int) error {
	p, err := c.port(port)
	if err != nil {
		c.log.Error("teardown on unknown port", "port", port)
		return err
	}
	if p.Node == nil && p.Attrs == nil && (p.State == types.SlotUnattached || p.State == "") {
		return c.pins.ReleasePins(p.Index)
	}

	c.log.Info("unloading ENF accessory card", "port", port)
	c.setState(p, types.SlotDetaching, nil)

	var errs []error
	if p.Attrs != nil {
		if p.Node != nil {
			if err := c.pub.Unpublish(p.Node); err != nil {
				c.log.Error("failed to unpublish attributes", "port", port, "err", err)
				errs = append(errs, err)
			}
		}
		p.Attrs.Release()
		p.Attrs = nil
	}
	if p.Alias != "" {
		if err := c.pub.Unlink(c.ports.Root(), p.Alias); err != nil && !errors.Is(err, errcode.NoNode) {
			c.log.Error("failed to unlink alias", "port", port, "alias", p.Alias, "err", err)
			errs = append(errs, err)
		}
		p.Alias = ""
	}
	if p.Node != nil {
		if err := c.pub.RemoveNode(p.Node); err != nil {
			c.log.Error("failed to remove node", "port", port, "err", err)
			errs = append(errs, err)
		}
		p.Node = nil
	}
	if err := c.pins.ReleasePins(p.Index); err != nil {
		c.log.Error("failed to release pins", "port", port, "err", err)
		errs = append(errs, err)
	}
	p.AttachID = ""

	err = errors.Join(errs...)
	c.setState(p, types.SlotUnattached, err)
	return err
}
