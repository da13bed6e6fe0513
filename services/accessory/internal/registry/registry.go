// services/accessory/internal/registry/registry.go

// Package registry tracks accessory slots, what card each holds and which
// driver runs it. It is the only caller of driver Setup and Teardown and
// serialises them.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"accessorycard-go/errcode"
	"accessorycard-go/services/accessory/internal/core"
	"accessorycard-go/types"

	"github.com/charmbracelet/log"
)

// Prober reads the product id of the card in a 1-based port. An empty slot
// reports errcode.NoDevice.
type Prober interface {
	ProductID(port int) (string, error)
}

// Unlinker removes alias links under the platform root.
type Unlinker interface {
	Unlink(parent core.Node, alias string) error
}

// Ensure the registry satisfies the slot view drivers work against.
var _ core.Ports = (*Registry)(nil)

type Registry struct {
	// mu serialises every lifecycle operation. Drivers read neighbouring
	// ports while attaching, so a per-port lock is not enough.
	mu      sync.Mutex
	drivers map[string]*core.Driver
	ports   []*core.Port
	root    core.Node
	probe   Prober
	links   Unlinker
	log     *log.Logger
}

func New(n int, root core.Node, probe Prober, links Unlinker, logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	r := &Registry{
		drivers: map[string]*core.Driver{},
		root:    root,
		probe:   probe,
		links:   links,
		log:     logger.WithPrefix("registry"),
	}
	for i := 0; i < n; i++ {
		r.ports = append(r.ports, &core.Port{Index: i, State: types.SlotUnattached})
	}
	return r
}

// Register adds a driver. Registering the same product id twice, or a driver
// without Setup and Teardown, is a programming error and panics.
func (r *Registry) Register(d core.Driver) {
	if d.ProductID == "" || d.Setup == nil || d.Teardown == nil {
		panic("registry: incomplete driver")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.drivers[d.ProductID]; dup {
		panic(fmt.Sprintf("registry: duplicate driver %q", d.ProductID))
	}
	r.drivers[d.ProductID] = &d
}

func (r *Registry) NumPorts() int   { return len(r.ports) }
func (r *Registry) Root() core.Node { return r.root }

// Port returns the 0-based port record. Callers other than drivers running
// under Setup or Teardown should use Snapshot.
func (r *Registry) Port(index int) *core.Port {
	if index < 0 || index >= len(r.ports) {
		return nil
	}
	return r.ports[index]
}

// driverFor returns the driver whose product id the card id contains.
func (r *Registry) driverFor(cardID string) *core.Driver {
	for id, d := range r.drivers {
		if strings.Contains(cardID, id) {
			return d
		}
	}
	return nil
}

// Find probes every port in ascending order, recording what each holds, and
// runs Setup for cards matching productID. It returns how many attached.
func (r *Registry) Find(ctx context.Context, productID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.drivers[productID]
	if !ok {
		return 0, &errcode.E{C: errcode.Unsupported, Op: "find", Msg: "no driver for " + productID}
	}
	count := 0
	for _, p := range r.ports {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		if p.Driver != nil {
			if p.Driver == d {
				count++
			}
			continue
		}
		if !r.probeLocked(p) || !strings.Contains(p.ProductID, productID) {
			continue
		}
		if err := r.setupLocked(p, d); err != nil {
			continue
		}
		count++
	}
	r.log.Info("scan complete", "product", productID, "attached", count)
	return count, nil
}

// probeLocked records the card id of p and reports whether a card is present.
func (r *Registry) probeLocked(p *core.Port) bool {
	id, err := r.probe.ProductID(p.Number())
	if err != nil {
		p.ProductID = ""
		if !errors.Is(err, errcode.NoDevice) {
			r.log.Warn("probe failed", "port", p.Number(), "err", err)
		} else {
			r.log.Debug("empty", "port", p.Number())
		}
		return false
	}
	p.ProductID = id
	r.log.Debug("found", "port", p.Number(), "product", id)
	return true
}

func (r *Registry) setupLocked(p *core.Port, d *core.Driver) error {
	p.Driver = d
	if err := d.Setup(p.Number()); err != nil {
		p.Driver = nil
		r.log.Error("setup failed", "port", p.Number(), "product", d.ProductID, "err", err)
		return err
	}
	return nil
}

// Attach probes a single port and, if it holds a card with a registered
// driver, runs its Setup.
func (r *Registry) Attach(ctx context.Context, port int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.Port(port - 1)
	if p == nil {
		return &errcode.E{C: errcode.InvalidSlot, Op: "attach", Msg: fmt.Sprintf("port %d", port)}
	}
	if p.Driver != nil {
		return &errcode.E{C: errcode.SlotBusy, Op: "attach", Msg: fmt.Sprintf("port %d runs %s", port, p.Driver.ProductID)}
	}
	if !r.probeLocked(p) {
		return &errcode.E{C: errcode.NoDevice, Op: "attach", Msg: fmt.Sprintf("port %d", port)}
	}
	d := r.driverFor(p.ProductID)
	if d == nil {
		return &errcode.E{C: errcode.Unsupported, Op: "attach", Msg: "no driver for " + p.ProductID}
	}
	return r.setupLocked(p, d)
}

// Detach tears down whatever runs in port and marks it empty. Detaching an
// idle port is not an error.
func (r *Registry) Detach(port int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.Port(port - 1)
	if p == nil {
		return &errcode.E{C: errcode.InvalidSlot, Op: "detach", Msg: fmt.Sprintf("port %d", port)}
	}
	err := r.teardownLocked(p)
	p.ProductID = ""
	return err
}

func (r *Registry) teardownLocked(p *core.Port) error {
	if p.Driver == nil {
		return nil
	}
	err := p.Driver.Teardown(p.Number())
	if err != nil {
		r.log.Error("teardown incomplete", "port", p.Number(), "err", err)
	}
	if p.Alias != "" {
		if uerr := r.links.Unlink(r.root, p.Alias); uerr != nil && !errors.Is(uerr, errcode.NoNode) {
			r.log.Warn("unlink alias", "port", p.Number(), "alias", p.Alias, "err", uerr)
		}
		p.Alias = ""
	}
	p.Driver = nil
	return err
}

// Free tears down every port run by the driver for productID and removes
// their alias links. It returns how many ports were freed.
func (r *Registry) Free(productID, alias string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, p := range r.ports {
		if p.Driver == nil || p.Driver.ProductID != productID {
			continue
		}
		if p.Alias != "" && !strings.HasPrefix(p.Alias, alias) {
			r.log.Warn("unexpected alias", "port", p.Number(), "alias", p.Alias, "base", alias)
		}
		_ = r.teardownLocked(p)
		n++
	}
	r.log.Info("freed", "product", productID, "ports", n)
	return n
}

// Snapshot returns the current state of every port, lowest first.
func (r *Registry) Snapshot() []types.SlotEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.SlotEvent, 0, len(r.ports))
	for _, p := range r.ports {
		out = append(out, types.SlotEvent{
			Port:      p.Number(),
			State:     p.State,
			ProductID: p.ProductID,
			Alias:     p.Alias,
			AttachID:  p.AttachID,
		})
	}
	return out
}

// Attached counts ports currently in the attached state.
func (r *Registry) Attached() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, p := range r.ports {
		if p.State == types.SlotAttached {
			n++
		}
	}
	return n
}
