// services/accessory/internal/pins/registry.go
package pins

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"accessorycard-go/errcode"
	"accessorycard-go/services/accessory/internal/core"

	"github.com/charmbracelet/log"
)

// Ensure the registry satisfies the pin ownership contract at compile time.
var _ core.PinOwner = (*Registry)(nil)

type claim struct {
	desc  core.PinDescriptor
	line  core.Line
	owner string
}

// Registry owns GPIO lines on behalf of slots. A label is owned by at most one
// slot at a time.
type Registry struct {
	mu      sync.Mutex
	factory core.LineFactory
	byLabel map[string]*claim
	bySlot  map[int][]*claim
	log     *log.Logger
}

func New(f core.LineFactory, logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Registry{
		factory: f,
		byLabel: map[string]*claim{},
		bySlot:  map[int][]*claim{},
		log:     logger.WithPrefix("pins"),
	}
}

// ClaimPins requests every pin for slot and drives it to its default level.
// Either all pins are claimed or none are. Claiming again for a slot that
// already holds its pins only re-applies the default levels.
func (r *Registry) ClaimPins(slot int, pins []core.PinDescriptor, node core.Node) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if held := r.bySlot[slot]; len(held) > 0 {
		for _, c := range held {
			if err := c.line.SetLevel(c.desc.Default); err != nil {
				return errcode.Wrap(errcode.Error, "drive "+c.desc.Label, err)
			}
		}
		return nil
	}

	owner := fmt.Sprintf("slot%d", slot+1)
	if node != nil {
		owner = node.Path()
	}

	var got []*claim
	rollback := func() {
		for _, c := range got {
			_ = c.line.Close()
			delete(r.byLabel, c.desc.Label)
		}
	}
	for _, d := range pins {
		if prev, ok := r.byLabel[d.Label]; ok {
			rollback()
			return &errcode.E{C: errcode.PinInUse, Op: "claim " + d.Label, Msg: "owned by " + prev.owner}
		}
		line, err := r.factory.Open(d)
		if err != nil {
			rollback()
			return errcode.Wrap(errcode.Of(err), "claim "+d.Label, err)
		}
		c := &claim{desc: d, line: line, owner: owner}
		r.byLabel[d.Label] = c
		got = append(got, c)
		r.log.Debug("claimed", "label", d.Label, "chip", d.Chip, "offset", d.Offset, "level", d.Default, "owner", owner)
	}
	r.bySlot[slot] = got
	return nil
}

// ReleasePins restores every pin of slot to its default level and releases
// it. Releasing a slot that owns nothing is a no-op.
func (r *Registry) ReleasePins(slot int) error {
	r.mu.Lock()
	held := r.bySlot[slot]
	delete(r.bySlot, slot)
	for _, c := range held {
		delete(r.byLabel, c.desc.Label)
	}
	r.mu.Unlock()

	var errs []error
	for _, c := range held {
		if err := c.line.SetLevel(c.desc.Default); err != nil {
			errs = append(errs, fmt.Errorf("restore %s: %w", c.desc.Label, err))
		}
		if err := c.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", c.desc.Label, err))
		}
		r.log.Debug("released", "label", c.desc.Label)
	}
	return errors.Join(errs...)
}

func (r *Registry) lookup(label string) (*claim, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byLabel[label]
	if !ok {
		return nil, errcode.UnknownPin
	}
	return c, nil
}

func (r *Registry) Level(label string) (core.Level, error) {
	c, err := r.lookup(label)
	if err != nil {
		return core.Low, err
	}
	return c.line.Level()
}

func (r *Registry) SetLevel(label string, l core.Level) error {
	c, err := r.lookup(label)
	if err != nil {
		return err
	}
	return c.line.SetLevel(l)
}

// Owner reports which node currently owns label.
func (r *Registry) Owner(label string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byLabel[label]
	if !ok {
		return "", false
	}
	return c.owner, true
}

// Claimed returns the labels slot currently owns.
func (r *Registry) Claimed(slot int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.bySlot[slot]))
	for _, c := range r.bySlot[slot] {
		out = append(out, c.desc.Label)
	}
	return out
}
