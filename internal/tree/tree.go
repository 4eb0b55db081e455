// Package tree is an arena-backed ordered tree of named nodes.
//
// Nodes are addressed by Handle. A handle stays valid until its node is
// removed; removed slots are never reused, so a stale handle always
// reports ErrRemoved instead of aliasing a newer node.
package tree

import (
	"fmt"
	"strings"
)

// Handle addresses a node in a Tree.
type Handle int

// NoHandle is the zero-value sentinel for "no node".
const NoHandle Handle = -1

type node[T any] struct {
	name     string
	value    T
	parent   Handle
	children []Handle
	index    map[string]Handle
	removed  bool
}

// Tree owns every node reachable from its root plus any detached nodes
// created with NewNode or Detach.
type Tree[T any] struct {
	nodes []node[T]
	root  Handle
	live  int
}

// New creates a tree with a single root node. The root may be unnamed.
func New[T any](name string, value T) *Tree[T] {
	t := &Tree[T]{}
	t.root = t.alloc(name, value)
	return t
}

func (t *Tree[T]) alloc(name string, value T) Handle {
	t.nodes = append(t.nodes, node[T]{name: name, value: value, parent: NoHandle})
	t.live++
	return Handle(len(t.nodes) - 1)
}

func (t *Tree[T]) node(h Handle) (*node[T], error) {
	if h < 0 || int(h) >= len(t.nodes) {
		return nil, fmt.Errorf("%w: handle %d", ErrNotFound, h)
	}
	n := &t.nodes[h]
	if n.removed {
		return nil, fmt.Errorf("%w: handle %d", ErrRemoved, h)
	}
	return n, nil
}

// Root returns the root handle.
func (t *Tree[T]) Root() Handle {
	return t.root
}

// Len returns the number of live nodes, attached or not.
func (t *Tree[T]) Len() int {
	return t.live
}

func (t *Tree[T]) Get(h Handle) (T, error) {
	n, err := t.node(h)
	if err != nil {
		var zero T
		return zero, err
	}
	return n.value, nil
}

func (t *Tree[T]) Set(h Handle, value T) error {
	n, err := t.node(h)
	if err != nil {
		return err
	}
	n.value = value
	return nil
}

func (t *Tree[T]) Name(h Handle) (string, error) {
	n, err := t.node(h)
	if err != nil {
		return "", err
	}
	return n.name, nil
}

// Parent returns ErrNotFound for the root and for detached nodes.
func (t *Tree[T]) Parent(h Handle) (Handle, error) {
	n, err := t.node(h)
	if err != nil {
		return NoHandle, err
	}
	if n.parent == NoHandle {
		return NoHandle, fmt.Errorf("%w: %q has no parent", ErrNotFound, n.name)
	}
	return n.parent, nil
}

func (t *Tree[T]) FirstChild(h Handle) (Handle, error) {
	n, err := t.node(h)
	if err != nil {
		return NoHandle, err
	}
	if len(n.children) == 0 {
		return NoHandle, fmt.Errorf("%w: %q has no children", ErrNotFound, n.name)
	}
	return n.children[0], nil
}

func (t *Tree[T]) NextSibling(h Handle) (Handle, error) {
	n, err := t.node(h)
	if err != nil {
		return NoHandle, err
	}
	if n.parent == NoHandle {
		return NoHandle, fmt.Errorf("%w: %q has no siblings", ErrNotFound, n.name)
	}
	siblings := t.nodes[n.parent].children
	for i, s := range siblings {
		if s == h && i+1 < len(siblings) {
			return siblings[i+1], nil
		}
	}
	return NoHandle, fmt.Errorf("%w: %q is the last child", ErrNotFound, n.name)
}

// Child returns the child of h called name.
func (t *Tree[T]) Child(h Handle, name string) (Handle, error) {
	n, err := t.node(h)
	if err != nil {
		return NoHandle, err
	}
	if c, ok := n.index[name]; ok {
		return c, nil
	}
	return NoHandle, fmt.Errorf("%w: %q in %q", ErrNotFound, name, n.name)
}

// HasChild reports whether h has a child called name.
func (t *Tree[T]) HasChild(h Handle, name string) bool {
	_, err := t.Child(h, name)
	return err == nil
}

// Children returns a copy of the ordered child handles of h.
func (t *Tree[T]) Children(h Handle) ([]Handle, error) {
	n, err := t.node(h)
	if err != nil {
		return nil, err
	}
	return append([]Handle(nil), n.children...), nil
}

// NewNode creates a detached node that can later be attached with Insert.
func (t *Tree[T]) NewNode(name string, value T) (Handle, error) {
	if name == "" {
		return NoHandle, ErrNotNamed
	}
	return t.alloc(name, value), nil
}

// Insert attaches the detached node child as the last child of parent.
func (t *Tree[T]) Insert(parent, child Handle) error {
	p, err := t.node(parent)
	if err != nil {
		return err
	}
	c, err := t.node(child)
	if err != nil {
		return err
	}
	if child == t.root || c.parent != NoHandle {
		return fmt.Errorf("%w: %q", ErrInUse, c.name)
	}
	if c.name == "" {
		return ErrNotNamed
	}
	if _, ok := p.index[c.name]; ok {
		return fmt.Errorf("%w: %q in %q", ErrDuplicate, c.name, p.name)
	}
	for a := parent; a != NoHandle; a = t.nodes[a].parent {
		if a == child {
			return fmt.Errorf("%w: %q", ErrCycle, c.name)
		}
	}

	t.link(parent, child)
	return nil
}

func (t *Tree[T]) link(parent, child Handle) {
	p := &t.nodes[parent]
	if p.index == nil {
		p.index = make(map[string]Handle)
	}
	p.children = append(p.children, child)
	p.index[t.nodes[child].name] = child
	t.nodes[child].parent = parent
}

func (t *Tree[T]) unlink(child Handle) {
	c := &t.nodes[child]
	if c.parent == NoHandle {
		return
	}
	p := &t.nodes[c.parent]
	for i, s := range p.children {
		if s == child {
			p.children = append(p.children[:i], p.children[i+1:]...)
			break
		}
	}
	delete(p.index, c.name)
	c.parent = NoHandle
}

// InsertChild creates a node and attaches it as the last child of parent.
func (t *Tree[T]) InsertChild(parent Handle, name string, value T) (Handle, error) {
	p, err := t.node(parent)
	if err != nil {
		return NoHandle, err
	}
	if name == "" {
		return NoHandle, ErrNotNamed
	}
	if _, ok := p.index[name]; ok {
		return NoHandle, fmt.Errorf("%w: %q in %q", ErrDuplicate, name, p.name)
	}
	h := t.alloc(name, value)
	t.link(parent, h)
	return h, nil
}

// Remove frees h and its whole subtree. Their handles report ErrRemoved
// from then on.
func (t *Tree[T]) Remove(h Handle) error {
	if _, err := t.node(h); err != nil {
		return err
	}
	if h == t.root {
		return ErrRoot
	}

	t.unlink(h)
	stack := []Handle{h}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := &t.nodes[cur]
		stack = append(stack, n.children...)

		var zero T
		*n = node[T]{name: n.name, value: zero, parent: NoHandle, removed: true}
		t.live--
	}
	return nil
}

// Detach unlinks h from its parent without freeing it.
func (t *Tree[T]) Detach(h Handle) error {
	if _, err := t.node(h); err != nil {
		return err
	}
	if h == t.root {
		return ErrRoot
	}
	t.unlink(h)
	return nil
}

// Move re-parents h under parent. On failure the tree is unchanged.
func (t *Tree[T]) Move(h, parent Handle) error {
	n, err := t.node(h)
	if err != nil {
		return err
	}
	p, err := t.node(parent)
	if err != nil {
		return err
	}
	if h == t.root {
		return ErrRoot
	}
	if n.parent == parent {
		return nil
	}
	if _, ok := p.index[n.name]; ok {
		return fmt.Errorf("%w: %q in %q", ErrDuplicate, n.name, p.name)
	}
	for a := parent; a != NoHandle; a = t.nodes[a].parent {
		if a == h {
			return fmt.Errorf("%w: %q", ErrCycle, n.name)
		}
	}

	t.unlink(h)
	t.link(parent, h)
	return nil
}

// Rename changes the name of h, keeping sibling names unique.
func (t *Tree[T]) Rename(h Handle, name string) error {
	n, err := t.node(h)
	if err != nil {
		return err
	}
	if name == "" {
		return ErrNotNamed
	}
	if name == n.name {
		return nil
	}
	if n.parent != NoHandle {
		p := &t.nodes[n.parent]
		if _, ok := p.index[name]; ok {
			return fmt.Errorf("%w: %q in %q", ErrDuplicate, name, p.name)
		}
		delete(p.index, n.name)
		p.index[name] = h
	}
	n.name = name
	return nil
}

// Pwd returns the slash-separated names from the root down to h.
func (t *Tree[T]) Pwd(h Handle) (string, error) {
	if _, err := t.node(h); err != nil {
		return "", err
	}
	var names []string
	for cur := h; cur != NoHandle; cur = t.nodes[cur].parent {
		names = append(names, t.nodes[cur].name)
	}
	for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
	}
	return strings.Join(names, "/"), nil
}

// Walk visits h and its descendants depth-first in pre-order and stops
// at the first error returned by visit.
func (t *Tree[T]) Walk(h Handle, visit func(c Cursor[T]) error) error {
	if _, err := t.node(h); err != nil {
		return err
	}
	if err := visit(Cursor[T]{t: t, h: h}); err != nil {
		return err
	}
	n, err := t.node(h)
	if err != nil {
		// visit removed the node it was given
		return nil
	}
	for _, c := range append([]Handle(nil), n.children...) {
		if t.nodes[c].removed {
			continue
		}
		if err := t.Walk(c, visit); err != nil {
			return err
		}
	}
	return nil
}

// Resolve follows a slash-separated path from the parent of h, the way
// UOL links are written: ".." moves up one level and empty or "."
// segments are ignored.
func (t *Tree[T]) Resolve(h Handle, path string) (Handle, error) {
	n, err := t.node(h)
	if err != nil {
		return NoHandle, err
	}
	cur := n.parent
	if cur == NoHandle {
		cur = h
	}
	return t.follow(cur, path)
}

// Lookup follows a slash-separated path from the root. The root's own
// name is not part of the path.
func (t *Tree[T]) Lookup(path string) (Handle, error) {
	return t.follow(t.root, path)
}

func (t *Tree[T]) follow(cur Handle, path string) (Handle, error) {
	for _, seg := range strings.Split(path, "/") {
		switch seg {
		case "", ".":
			continue
		case "..":
			n := &t.nodes[cur]
			if n.parent == NoHandle {
				return NoHandle, fmt.Errorf("%w: %q escapes the root", ErrNotFound, path)
			}
			cur = n.parent
		default:
			next, err := t.Child(cur, seg)
			if err != nil {
				return NoHandle, err
			}
			cur = next
		}
	}
	return cur, nil
}
