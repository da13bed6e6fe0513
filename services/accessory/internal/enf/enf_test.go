// services/accessory/internal/enf/enf_test.go
package enf

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"testing"

	"accessorycard-go/errcode"
	"accessorycard-go/services/accessory/internal/attrfs"
	"accessorycard-go/services/accessory/internal/core"
	"accessorycard-go/services/accessory/internal/eeprom"
	"accessorycard-go/services/accessory/internal/pins"
	"accessorycard-go/services/accessory/internal/platform"
	"accessorycard-go/types"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---- fakes ----

type slots struct {
	ports []*core.Port
	root  core.Node
}

func (s *slots) NumPorts() int  { return len(s.ports) }
func (s *slots) Root() core.Node { return s.root }
func (s *slots) Port(i int) *core.Port {
	if i < 0 || i >= len(s.ports) {
		return nil
	}
	return s.ports[i]
}

// faultyTree injects failures into attribute creation and group publishing.
type faultyTree struct {
	*attrfs.Tree
	failAttr    int // 1-based NewAttribute call that fails; 0 never
	calls       int
	failPublish error
}

func (f *faultyTree) NewAttribute(name string, mode core.AttrMode) (*core.Attribute, error) {
	f.calls++
	if f.calls == f.failAttr {
		return nil, errors.New("out of memory")
	}
	return f.Tree.NewAttribute(name, mode)
}

func (f *faultyTree) PublishGroup(n core.Node, set *core.AttrSet) error {
	if f.failPublish != nil {
		return f.failPublish
	}
	return f.Tree.PublishGroup(n, set)
}

type memSource []byte

func (m memSource) ReadEEPROM() ([]byte, error) { return m, nil }

type recorder struct{ events []types.SlotEvent }

func (r *recorder) SlotEvent(ev types.SlotEvent) { r.events = append(r.events, ev) }

func (r *recorder) states(port int) []types.SlotState {
	var out []types.SlotState
	for _, ev := range r.events {
		if ev.Port == port {
			out = append(out, ev.State)
		}
	}
	return out
}

type rig struct {
	tree   *attrfs.Tree
	pub    *faultyTree
	lines  *platform.HostLines
	pins   *pins.Registry
	info   *eeprom.Reader
	slots  *slots
	events *recorder
	logs   *bytes.Buffer
	ctrl   *Controller
}

func cardInfo(port int) eeprom.ProductInfo {
	return eeprom.ProductInfo{
		VendorID:  "Xaptum",
		ProductID: ProductID,
		DeviceID:  fmt.Sprintf("1000%d", port),
		HWVersion: "XAP-EA-004-0.1",
		MAC:       net.HardwareAddr{0, 8, 0, 0x4a, 0, byte(port)},
	}
}

func newRig(t *testing.T, n int) *rig {
	t.Helper()
	r := &rig{
		tree:   attrfs.New(),
		lines:  platform.NewHostLines(),
		events: &recorder{},
		logs:   &bytes.Buffer{},
	}
	r.pub = &faultyTree{Tree: r.tree}
	logger := log.New(r.logs)
	root, err := r.tree.CreateNode("mts-io", nil)
	require.NoError(t, err)

	r.slots = &slots{root: root}
	r.info = eeprom.NewReader(r.pub, logger)
	for i := 0; i < n; i++ {
		r.slots.ports = append(r.slots.ports, &core.Port{Index: i, State: types.SlotUnattached, ProductID: ProductID})
		r.info.SetSource(i+1, memSource(eeprom.Encode(cardInfo(i+1))))
	}
	r.pins = pins.New(r.lines, logger)
	r.ctrl = New(Deps{
		Ports:     r.slots,
		Publisher: r.pub,
		Pins:      r.pins,
		Info:      r.info,
		Events:    r.events,
		Logger:    logger,
	})
	return r
}

func (r *rig) line(t *testing.T, port int) *platform.FakeLine {
	t.Helper()
	d, err := PinsFor(port - 1)
	require.NoError(t, err)
	l, ok := r.lines.Get(d[0].Chip, d[0].Offset)
	require.True(t, ok)
	return l
}

// assertClean checks a port holds nothing after a failed or undone setup.
func (r *rig) assertClean(t *testing.T, port int) {
	t.Helper()
	p := r.slots.Port(port - 1)
	assert.Equal(t, types.SlotUnattached, p.State)
	assert.Nil(t, p.Node)
	assert.Nil(t, p.Attrs)
	assert.Empty(t, p.Alias)
	assert.Empty(t, r.pins.Claimed(port-1))
	assert.Zero(t, r.tree.Live(), "live attributes")
	_, err := r.tree.List(fmt.Sprintf("mts-io/ap%d", port))
	assert.ErrorIs(t, err, errcode.NoNode)
}

// ---- pin table and resolver ----

func TestControlPinsCoverPinTable(t *testing.T) {
	require.Len(t, controlPins, NumSlots())
	for slot := 0; slot < NumSlots(); slot++ {
		ctl, ok := controlPins[slot+1]
		require.True(t, ok, "port %d has no control pins", slot+1)

		labels := map[string]bool{}
		descs, err := PinsFor(slot)
		require.NoError(t, err)
		for _, d := range descs {
			labels[d.Label] = true
		}
		for name, label := range ctl {
			assert.True(t, labels[label], "port %d: %s -> %s not in pin table", slot+1, name, label)
		}
	}
	_, err := PinsFor(NumSlots())
	assert.ErrorIs(t, err, errcode.InvalidSlot)
}

func TestPinsForReturnsCopy(t *testing.T) {
	d, err := PinsFor(0)
	require.NoError(t, err)
	d[0].Label = "changed"
	d2, _ := PinsFor(0)
	assert.Equal(t, "ap1-reset", d2[0].Label)
}

func TestResolvePin(t *testing.T) {
	r := newRig(t, 2)
	cases := []struct {
		name string
		port int
		want string
		err  error
	}{
		{"reset", 1, "ap1-reset", nil},
		{"reset", 2, "ap2-reset", nil},
		{"bogus", 1, "", errcode.InvalidAttribute},
		{"reset", 3, "", errcode.InvalidSlot},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%s/%d", tc.name, tc.port), func(t *testing.T) {
			got, err := r.ctrl.ResolvePin(tc.name, tc.port)
			assert.Equal(t, tc.want, got)
			if tc.err == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tc.err)
			}
		})
	}
	assert.Contains(t, r.logs.String(), "attribute name is invalid for ENF")
}

// ---- naming ----

func TestSlotAlias(t *testing.T) {
	cases := []struct {
		name string
		ids  []string
		port int
		want string
	}{
		{"first", []string{ProductID, ProductID}, 1, "enf"},
		{"second", []string{ProductID, ProductID}, 2, "enf-2"},
		{"lower slot empty", []string{"", ProductID}, 2, "enf"},
		{"other product below", []string{"MTAC-GPIOB", ProductID, ProductID}, 3, "enf-2"},
		{"substring match", []string{ProductID + "-R2", ProductID}, 2, "enf-2"},
		{"third", []string{ProductID, ProductID, ProductID}, 3, "enf-3"},
		{"higher slots ignored", []string{ProductID, ProductID, ProductID}, 1, "enf"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := &slots{}
			for i, id := range tc.ids {
				s.ports = append(s.ports, &core.Port{Index: i, ProductID: id})
			}
			assert.Equal(t, tc.want, SlotAlias(BaseAlias, ProductID, tc.port, s))
		})
	}
}

// ---- setup ----

func TestSetupPublishesCompleteSet(t *testing.T) {
	r := newRig(t, 2)
	for port := 1; port <= 2; port++ {
		require.NoError(t, r.ctrl.Setup(port))
		p := r.slots.Port(port - 1)

		entries := p.Attrs.Entries()
		require.Len(t, entries, 6)
		assert.Nil(t, entries[5])

		names := make([]string, 0, 5)
		for _, a := range entries[:5] {
			require.NotNil(t, a)
			names = append(names, a.Name())
		}
		assert.Equal(t, []string{AttrReset, eeprom.AttrVendorID, eeprom.AttrProductID, eeprom.AttrDeviceID, eeprom.AttrHWVersion}, names)
		assert.Equal(t, core.ModeRW, entries[0].Mode())
		for _, a := range entries[1:5] {
			assert.Equal(t, core.ModeRO, a.Mode())
		}
		assert.NotEmpty(t, p.AttachID)
	}
	assert.Equal(t, 10, r.tree.Live())

	v, err := r.tree.Show("mts-io/enf-2/device-id")
	require.NoError(t, err)
	assert.Equal(t, "10002", v)
}

func TestSetupUnwindsAtEveryAttributeStep(t *testing.T) {
	for step := 1; step <= 5; step++ {
		t.Run(fmt.Sprintf("step%d", step), func(t *testing.T) {
			r := newRig(t, 2)
			r.pub.failAttr = step

			err := r.ctrl.Setup(1)
			require.Error(t, err)
			r.assertClean(t, 1)
			_, linked := r.tree.LinkTarget(r.slots.Root(), "enf")
			assert.False(t, linked)
			assert.False(t, r.line(t, 1).Requested())
			assert.Contains(t, r.logs.String(), "failed to build attributes")
		})
	}
}

func TestSetupUnwindsOnEarlierAndLaterFailures(t *testing.T) {
	cases := []struct {
		name   string
		inject func(t *testing.T, r *rig)
		code   errcode.Code
	}{
		{"node exists", func(t *testing.T, r *rig) {
			_, err := r.tree.CreateNode("ap1", r.slots.Root())
			require.NoError(t, err)
		}, errcode.NodeExists},
		{"pin busy", func(t *testing.T, r *rig) {
			r.lines.FailOpen("ap1-reset", errcode.PinInUse)
		}, errcode.PinInUse},
		{"no eeprom", func(t *testing.T, r *rig) {
			r.info.SetSource(1, memSource(nil))
		}, errcode.EEPROMShort},
		{"publish", func(t *testing.T, r *rig) {
			r.pub.failPublish = errcode.NodeExists
		}, errcode.NodeExists},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newRig(t, 1)
			tc.inject(t, r)

			err := r.ctrl.Setup(1)
			require.Error(t, err)
			assert.Equal(t, tc.code, errcode.Of(err))
			assert.Equal(t, types.SlotUnattached, r.slots.Port(0).State)
			assert.Empty(t, r.pins.Claimed(0))
			assert.Zero(t, r.tree.Live())

			last := r.events.events[len(r.events.events)-1]
			assert.Equal(t, types.SlotUnattached, last.State)
			assert.Equal(t, string(tc.code), last.Error)
		})
	}
}

func TestAliasLinkFailureIsNotFatal(t *testing.T) {
	r := newRig(t, 1)
	other, err := r.tree.CreateNode("other", r.slots.Root())
	require.NoError(t, err)
	require.NoError(t, r.tree.Link(r.slots.Root(), other, "enf"))

	require.NoError(t, r.ctrl.Setup(1))
	p := r.slots.Port(0)
	assert.Equal(t, types.SlotAttached, p.State)
	assert.Empty(t, p.Alias)
	assert.Contains(t, r.logs.String(), "failed to link alias")

	v, err := r.tree.Show("mts-io/ap1/product-id")
	require.NoError(t, err)
	assert.Equal(t, ProductID, v)
}

func TestSetupRejectsAttachedPort(t *testing.T) {
	r := newRig(t, 1)
	require.NoError(t, r.ctrl.Setup(1))
	err := r.ctrl.Setup(1)
	assert.ErrorIs(t, err, errcode.SlotBusy)
	assert.Equal(t, types.SlotAttached, r.slots.Port(0).State)

	assert.ErrorIs(t, r.ctrl.Setup(5), errcode.InvalidSlot)
}

// ---- attributes ----

func TestResetAttributeDrivesLine(t *testing.T) {
	r := newRig(t, 1)
	require.NoError(t, r.ctrl.Setup(1))
	line := r.line(t, 1)
	assert.Equal(t, core.High, line.Level())

	require.NoError(t, r.tree.Store("mts-io/enf/reset", "0"))
	assert.Equal(t, core.Low, line.Level())
	v, err := r.tree.Show("mts-io/ap1/reset")
	require.NoError(t, err)
	assert.Equal(t, "0", v)

	require.NoError(t, r.tree.Store("mts-io/enf/reset", "1\n"))
	assert.Equal(t, core.High, line.Level())

	assert.ErrorIs(t, r.tree.Store("mts-io/enf/reset", "high"), errcode.InvalidPayload)
	assert.ErrorIs(t, r.tree.Store("mts-io/enf/vendor-id", "x"), errcode.PermissionDenied)
}

// ---- teardown ----

func TestTeardownIsIdempotent(t *testing.T) {
	r := newRig(t, 1)
	require.NoError(t, r.ctrl.Setup(1))
	require.Equal(t, []string{"ap1-reset"}, r.pins.Claimed(0))

	require.NoError(t, r.ctrl.Teardown(1))
	p := r.slots.Port(0)
	assert.Equal(t, types.SlotUnattached, p.State)
	assert.Nil(t, p.Attrs)
	assert.Nil(t, p.Node)
	assert.Empty(t, p.AttachID)
	assert.Empty(t, p.Alias)
	assert.Empty(t, r.pins.Claimed(0))
	assert.Zero(t, r.tree.Live())
	_, linked := r.tree.LinkTarget(r.slots.Root(), "enf")
	assert.False(t, linked)

	require.NoError(t, r.ctrl.Teardown(1))
	assert.Empty(t, r.pins.Claimed(0))
}

func TestSetupAfterTeardownRelinksAlias(t *testing.T) {
	r := newRig(t, 1)
	require.NoError(t, r.ctrl.Setup(1))
	first := r.slots.Port(0).AttachID
	require.NoError(t, r.ctrl.Teardown(1))
	require.NoError(t, r.ctrl.Setup(1))

	p := r.slots.Port(0)
	assert.Equal(t, types.SlotAttached, p.State)
	assert.Equal(t, "enf", p.Alias)
	assert.NotEqual(t, first, p.AttachID)
	assert.NotContains(t, r.logs.String(), "failed to link alias")

	v, err := r.tree.Show("mts-io/enf/reset")
	require.NoError(t, err)
	assert.Equal(t, "1", v)
	target, ok := r.tree.LinkTarget(r.slots.Root(), "enf")
	require.True(t, ok)
	assert.Equal(t, "mts-io/ap1", target)
	assert.Equal(t, 5, r.tree.Live())

	attached := r.events.events[len(r.events.events)-1]
	assert.Equal(t, types.SlotAttached, attached.State)
	assert.Equal(t, "enf", attached.Alias)
}

func TestTeardownNeverAttached(t *testing.T) {
	r := newRig(t, 2)
	assert.NoError(t, r.ctrl.Teardown(2))
	assert.Empty(t, r.events.events)
}

func TestLifecycleEvents(t *testing.T) {
	r := newRig(t, 1)
	require.NoError(t, r.ctrl.Setup(1))
	require.NoError(t, r.ctrl.Teardown(1))
	assert.Equal(t, []types.SlotState{
		types.SlotAttaching, types.SlotAttached, types.SlotDetaching, types.SlotUnattached,
	}, r.events.states(1))

	attached := r.events.events[1]
	assert.Equal(t, "enf", attached.Alias)
	assert.Equal(t, ProductID, attached.ProductID)
	assert.NotEmpty(t, attached.AttachID)
	assert.Empty(t, attached.Error)
}

// ---- end to end ----

func TestTwoSlotsEndToEnd(t *testing.T) {
	for _, order := range [][]int{{2, 1}, {1, 2}} {
		t.Run(fmt.Sprintf("detach %v", order), func(t *testing.T) {
			r := newRig(t, 2)
			require.NoError(t, r.ctrl.Setup(1))
			require.NoError(t, r.ctrl.Setup(2))

			assert.Equal(t, "enf", r.slots.Port(0).Alias)
			assert.Equal(t, "enf-2", r.slots.Port(1).Alias)
			for port := 1; port <= 2; port++ {
				assert.Len(t, r.slots.Port(port-1).Attrs.Entries(), 6)
				assert.True(t, r.line(t, port).Requested())
				assert.Equal(t, core.High, r.line(t, port).Level())
			}
			target, ok := r.tree.LinkTarget(r.slots.Root(), "enf-2")
			require.True(t, ok)
			assert.Equal(t, "mts-io/ap2", target)

			for _, port := range order {
				require.NoError(t, r.ctrl.Teardown(port))
				l := r.line(t, port)
				assert.False(t, l.Requested())
				assert.Equal(t, core.High, l.Level())
			}
			assert.Zero(t, r.tree.Live())
		})
	}
}
