package tree

// Cursor is a position in a Tree. It does not own anything; copying a
// cursor is cheap and structural edits through one cursor are visible
// through every other cursor on the same tree.
type Cursor[T any] struct {
	t *Tree[T]
	h Handle
}

// Cursor returns a cursor positioned at h.
func (t *Tree[T]) Cursor(h Handle) Cursor[T] {
	return Cursor[T]{t: t, h: h}
}

func (c Cursor[T]) Tree() *Tree[T] { return c.t }
func (c Cursor[T]) Handle() Handle { return c.h }

func (c Cursor[T]) Name() string {
	name, _ := c.t.Name(c.h)
	return name
}

func (c Cursor[T]) Value() (T, error) {
	return c.t.Get(c.h)
}

func (c Cursor[T]) Set(value T) error {
	return c.t.Set(c.h, value)
}

func (c Cursor[T]) Pwd() string {
	p, _ := c.t.Pwd(c.h)
	return p
}

func (c Cursor[T]) Parent() (Cursor[T], error) {
	return c.step(c.t.Parent(c.h))
}

func (c Cursor[T]) FirstChild() (Cursor[T], error) {
	return c.step(c.t.FirstChild(c.h))
}

func (c Cursor[T]) NextSibling() (Cursor[T], error) {
	return c.step(c.t.NextSibling(c.h))
}

func (c Cursor[T]) Child(name string) (Cursor[T], error) {
	return c.step(c.t.Child(c.h, name))
}

func (c Cursor[T]) Children() ([]Cursor[T], error) {
	hs, err := c.t.Children(c.h)
	if err != nil {
		return nil, err
	}
	out := make([]Cursor[T], len(hs))
	for i, h := range hs {
		out[i] = Cursor[T]{t: c.t, h: h}
	}
	return out, nil
}

func (c Cursor[T]) InsertChild(name string, value T) (Cursor[T], error) {
	return c.step(c.t.InsertChild(c.h, name, value))
}

func (c Cursor[T]) Remove() error {
	return c.t.Remove(c.h)
}

func (c Cursor[T]) Rename(name string) error {
	return c.t.Rename(c.h, name)
}

func (c Cursor[T]) Resolve(path string) (Cursor[T], error) {
	return c.step(c.t.Resolve(c.h, path))
}

func (c Cursor[T]) Walk(visit func(Cursor[T]) error) error {
	return c.t.Walk(c.h, visit)
}

func (c Cursor[T]) step(h Handle, err error) (Cursor[T], error) {
	if err != nil {
		return c, err
	}
	return Cursor[T]{t: c.t, h: h}, nil
}
