// services/accessory/internal/attrfs/tree_test.go
package attrfs

import (
	"testing"

	"accessorycard-go/errcode"
	"accessorycard-go/services/accessory/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGroup(t *testing.T, tr *Tree, level *string) *core.AttrSet {
	t.Helper()
	set := core.NewAttrSet(3)
	rw, err := tr.NewAttribute("reset", core.ModeRW)
	require.NoError(t, err)
	rw.Show = func(*core.Attribute) (string, error) { return *level, nil }
	rw.Store = func(_ *core.Attribute, v string) error { *level = v; return nil }
	ro, err := tr.NewAttribute("vendor-id", core.ModeRO)
	require.NoError(t, err)
	ro.Show = func(*core.Attribute) (string, error) { return "Xaptum", nil }
	require.NoError(t, set.Add(rw))
	require.NoError(t, set.Add(ro))
	return set
}

func TestPublishShowStoreThroughLink(t *testing.T) {
	tr := New()
	plat, err := tr.CreateNode("mts-io", nil)
	require.NoError(t, err)
	ap1, err := tr.CreateNode("ap1", plat)
	require.NoError(t, err)
	assert.Equal(t, "mts-io/ap1", ap1.Path())

	level := "1"
	set := newGroup(t, tr, &level)
	require.NoError(t, tr.PublishGroup(ap1, set))
	require.NoError(t, tr.Link(plat, ap1, "enf"))

	got, err := tr.Show("mts-io/enf/reset")
	require.NoError(t, err)
	assert.Equal(t, "1", got)

	require.NoError(t, tr.Store("mts-io/enf/reset", "0"))
	assert.Equal(t, "0", level)

	err = tr.Store("mts-io/ap1/vendor-id", "x")
	assert.ErrorIs(t, err, errcode.PermissionDenied)

	entries, err := tr.List("mts-io")
	require.NoError(t, err)
	assert.Equal(t, []string{"ap1/", "enf@"}, entries)

	entries, err = tr.List("mts-io/enf")
	require.NoError(t, err)
	assert.Equal(t, []string{"reset", "vendor-id"}, entries)

	target, ok := tr.LinkTarget(plat, "enf")
	require.True(t, ok)
	assert.Equal(t, "mts-io/ap1", target)
}

func TestNameCollisions(t *testing.T) {
	tr := New()
	plat, _ := tr.CreateNode("mts-io", nil)
	ap1, _ := tr.CreateNode("ap1", plat)

	_, err := tr.CreateNode("ap1", plat)
	assert.ErrorIs(t, err, errcode.NodeExists)

	require.NoError(t, tr.Link(plat, ap1, "enf"))
	assert.ErrorIs(t, tr.Link(plat, ap1, "enf"), errcode.NodeExists)
	assert.ErrorIs(t, tr.Link(plat, ap1, "ap1"), errcode.NodeExists)

	level := "1"
	set := newGroup(t, tr, &level)
	require.NoError(t, tr.PublishGroup(ap1, set))
	assert.ErrorIs(t, tr.PublishGroup(ap1, set), errcode.NodeExists)
	set.Release()
}

func TestRemoveNodeLeavesDanglingLink(t *testing.T) {
	tr := New()
	plat, _ := tr.CreateNode("mts-io", nil)
	ap2, _ := tr.CreateNode("ap2", plat)
	require.NoError(t, tr.Link(plat, ap2, "enf-2"))

	level := "1"
	set := newGroup(t, tr, &level)
	require.NoError(t, tr.PublishGroup(ap2, set))
	require.Equal(t, 2, tr.Live())

	require.NoError(t, tr.RemoveNode(ap2))
	_, err := tr.Show("mts-io/enf-2/reset")
	assert.ErrorIs(t, err, errcode.NoNode)
	_, err = tr.Show("mts-io/ap2/reset")
	assert.ErrorIs(t, err, errcode.NoNode)

	// Removing twice, or publishing on a removed node, reports no_node.
	assert.ErrorIs(t, tr.RemoveNode(ap2), errcode.NoNode)
	assert.ErrorIs(t, tr.PublishGroup(ap2, set), errcode.NoNode)

	// The owner still has to release the group.
	assert.Equal(t, 2, tr.Live())
	set.Release()
	assert.Equal(t, 0, tr.Live())

	require.NoError(t, tr.Unlink(plat, "enf-2"))
	assert.ErrorIs(t, tr.Unlink(plat, "enf-2"), errcode.NoNode)
}

func TestUnpublishHidesAttributes(t *testing.T) {
	tr := New()
	ap1, _ := tr.CreateNode("ap1", nil)
	level := "1"
	set := newGroup(t, tr, &level)
	require.NoError(t, tr.PublishGroup(ap1, set))
	require.NoError(t, tr.Unpublish(ap1))

	_, err := tr.Show("ap1/reset")
	assert.ErrorIs(t, err, errcode.NoNode)
	require.NoError(t, tr.Unpublish(ap1))
	set.Release()
}

func TestInvalidNames(t *testing.T) {
	tr := New()
	_, err := tr.NewAttribute("a/b", core.ModeRO)
	assert.ErrorIs(t, err, errcode.InvalidAttribute)
	_, err = tr.CreateNode("", nil)
	assert.ErrorIs(t, err, errcode.InvalidParams)
	assert.Equal(t, 0, tr.Live())
}
