// services/accessory/internal/attrfs/tree.go

// Package attrfs is an in-process, sysfs-like attribute tree: directories
// (nodes), attribute groups published on them and alias links between them.
package attrfs

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"accessorycard-go/errcode"
	"accessorycard-go/services/accessory/internal/core"
	"accessorycard-go/x/strx"
)

// Ensure the tree satisfies the publishing contract at compile time.
var _ core.Publisher = (*Tree)(nil)

type dir struct {
	name     string
	parent   *dir
	children map[string]*dir
	links    map[string]*dir
	group    *core.AttrSet
	removed  bool
}

func (d *dir) Name() string { return d.name }

func (d *dir) Path() string {
	if d.parent == nil {
		return d.name
	}
	if p := d.parent.Path(); p != "" {
		return p + "/" + d.name
	}
	return d.name
}

// taken reports whether name is already used by a child, link or attribute.
func (d *dir) taken(name string) bool {
	if _, ok := d.children[name]; ok {
		return true
	}
	if _, ok := d.links[name]; ok {
		return true
	}
	return d.group != nil && d.group.Lookup(name) != nil
}

type Tree struct {
	mu   sync.RWMutex
	root *dir
	live atomic.Int64
}

func New() *Tree {
	return &Tree{root: &dir{}}
}

// Root returns the unnamed top-level node.
func (t *Tree) Root() core.Node { return t.root }

// Live reports attribute objects created and not yet released.
func (t *Tree) Live() int { return int(t.live.Load()) }

func (t *Tree) asDir(n core.Node) (*dir, error) {
	if n == nil {
		return t.root, nil
	}
	d, ok := n.(*dir)
	if !ok || d.removed {
		return nil, errcode.NoNode
	}
	return d, nil
}

func (t *Tree) NewAttribute(name string, mode core.AttrMode) (*core.Attribute, error) {
	if !strx.IsPathElem(name) {
		return nil, errcode.InvalidAttribute
	}
	t.live.Add(1)
	return core.NewAttribute(name, mode, func() { t.live.Add(-1) }), nil
}

func (t *Tree) CreateNode(name string, parent core.Node) (core.Node, error) {
	if !strx.IsPathElem(name) {
		return nil, errcode.Wrap(errcode.InvalidParams, "create node", nil)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	p, err := t.asDir(parent)
	if err != nil {
		return nil, err
	}
	if p.taken(name) {
		return nil, errcode.NodeExists
	}
	d := &dir{name: name, parent: p}
	if p.children == nil {
		p.children = map[string]*dir{}
	}
	p.children[name] = d
	return d, nil
}

// RemoveNode detaches n and its subtree. Published groups are dropped but not
// released; their owner releases them.
func (t *Tree) RemoveNode(n core.Node) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	d, err := t.asDir(n)
	if err != nil {
		return err
	}
	if d == t.root {
		return errcode.InvalidParams
	}
	delete(d.parent.children, d.name)
	markRemoved(d)
	return nil
}

func markRemoved(d *dir) {
	d.removed = true
	d.group = nil
	for _, c := range d.children {
		markRemoved(c)
	}
}

func (t *Tree) PublishGroup(n core.Node, set *core.AttrSet) error {
	if set == nil {
		return errcode.InvalidParams
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	d, err := t.asDir(n)
	if err != nil {
		return err
	}
	if d.group != nil {
		return errcode.NodeExists
	}
	seen := map[string]bool{}
	for _, a := range set.Attrs() {
		if a.Released() {
			return errcode.Wrap(errcode.InvalidAttribute, "publish group", nil)
		}
		if seen[a.Name()] || d.taken(a.Name()) {
			return errcode.NodeExists
		}
		seen[a.Name()] = true
	}
	d.group = set
	return nil
}

func (t *Tree) Unpublish(n core.Node) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	d, err := t.asDir(n)
	if err != nil {
		return err
	}
	d.group = nil
	return nil
}

func (t *Tree) Link(parent, target core.Node, alias string) error {
	if !strx.IsPathElem(alias) {
		return errcode.Wrap(errcode.InvalidParams, "link", nil)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	p, err := t.asDir(parent)
	if err != nil {
		return err
	}
	tg, err := t.asDir(target)
	if err != nil {
		return err
	}
	if p.taken(alias) {
		return errcode.NodeExists
	}
	if p.links == nil {
		p.links = map[string]*dir{}
	}
	p.links[alias] = tg
	return nil
}

func (t *Tree) Unlink(parent core.Node, alias string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, err := t.asDir(parent)
	if err != nil {
		return err
	}
	if _, ok := p.links[alias]; !ok {
		return errcode.NoNode
	}
	delete(p.links, alias)
	return nil
}

// LinkTarget returns the path an alias under parent points at.
func (t *Tree) LinkTarget(parent core.Node, alias string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, err := t.asDir(parent)
	if err != nil {
		return "", false
	}
	tg, ok := p.links[alias]
	if !ok || tg.removed {
		return "", false
	}
	return tg.Path(), true
}

// ---- Operator access ----

// lookup resolves a slash-separated path from the root, following links.
// Exactly one of the returned dir or attribute is non-nil on success.
func (t *Tree) lookup(path string) (*dir, *core.Attribute, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	d := t.root
	segs := strings.FieldsFunc(path, func(r rune) bool { return r == '/' })
	for i, s := range segs {
		if c, ok := d.children[s]; ok {
			d = c
			continue
		}
		if tg, ok := d.links[s]; ok {
			if tg.removed {
				return nil, nil, errcode.NoNode
			}
			d = tg
			continue
		}
		if i == len(segs)-1 && d.group != nil {
			if a := d.group.Lookup(s); a != nil {
				return nil, a, nil
			}
		}
		return nil, nil, errcode.NoNode
	}
	return d, nil, nil
}

func (t *Tree) Show(path string) (string, error) {
	_, a, err := t.lookup(path)
	if err != nil {
		return "", err
	}
	if a == nil || !a.Readable() {
		return "", errcode.PermissionDenied
	}
	return a.Show(a)
}

func (t *Tree) Store(path, value string) error {
	_, a, err := t.lookup(path)
	if err != nil {
		return err
	}
	if a == nil || !a.Writable() {
		return errcode.PermissionDenied
	}
	return a.Store(a, value)
}

// List returns the sorted entries of a directory: sub-directories end in "/",
// links in "@", attributes are bare names.
func (t *Tree) List(path string) ([]string, error) {
	d, a, err := t.lookup(path)
	if err != nil {
		return nil, err
	}
	if a != nil {
		return []string{a.Name()}, nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []string
	for name := range d.children {
		out = append(out, name+"/")
	}
	for name := range d.links {
		out = append(out, name+"@")
	}
	if d.group != nil {
		for _, a := range d.group.Attrs() {
			out = append(out, a.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}
