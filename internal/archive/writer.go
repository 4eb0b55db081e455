package archive

import (
	"bufio"
	"fmt"
	"io"

	"github.com/ossyrian/mintywz/internal/crypto"
	"github.com/ossyrian/mintywz/internal/tree"
	"github.com/ossyrian/mintywz/internal/wz"
)

// layout is the computed placement of one node.
type layout struct {
	size     int32
	checksum int32
	offset   uint32
	body     int64 // package body size: count, entries and children
}

type writer struct {
	a      *Archive
	e      *wz.Encoder
	cs     uint32
	hash   uint32
	layout map[tree.Handle]*layout
}

// Write serializes a. The description and version default to the
// standard ones when unset. a.Header, a.Hash and the content sizes,
// checksums and offsets are updated to what was written.
func Write(w io.Writer, a *Archive, c crypto.Cipher) error {
	if a.Header.Description == "" {
		a.Header.Description = wz.DefaultDescription
	}
	if a.Version == 0 {
		a.Version = wz.DefaultVersion
	}
	if a.Version < 0 || a.Version > wz.MaxVersion {
		return fmt.Errorf("%w: version %d", wz.ErrInvalidHeader, a.Version)
	}
	encrypted, hash := wz.Checksum(a.Version)

	wr := &writer{
		a:      a,
		cs:     wz.HeaderSize(a.Header.Description),
		hash:   hash,
		layout: make(map[tree.Handle]*layout),
	}

	root := a.Tree.Root()
	if err := wr.measure(root); err != nil {
		return err
	}
	wr.place(root, int64(wr.cs)+2)

	a.Header = wz.Header{
		Magic:            wz.Magic,
		Size:             2 + uint64(wr.layout[root].body),
		ContentStart:     wr.cs,
		Description:      a.Header.Description,
		EncryptedVersion: encrypted,
	}
	a.Hash = hash

	bw := bufio.NewWriter(w)
	wr.e = wz.NewEncoder(bw, 0, c)
	if err := wr.header(); err != nil {
		return err
	}
	if err := wr.pkg(root); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to flush archive: %w", err)
	}

	return a.Tree.Walk(root, func(cur tree.Cursor[Content]) error {
		l := wr.layout[cur.Handle()]
		v, err := cur.Value()
		if err != nil {
			return err
		}
		v.Size, v.Checksum, v.Offset = l.size, l.checksum, l.offset
		return cur.Set(v)
	})
}

func entrySize(name string, l *layout) int64 {
	return int64(1 + wz.StringSize(name) + wz.CompressedIntSize(l.size) + wz.CompressedIntSize(l.checksum) + 4)
}

// measure computes sizes and checksums bottom-up.
func (wr *writer) measure(h tree.Handle) error {
	c, err := wr.a.Tree.Get(h)
	if err != nil {
		return err
	}
	l := &layout{}
	wr.layout[h] = l

	if c.Kind == KindImage {
		if c.Source == nil {
			name, _ := wr.a.Tree.Name(h)
			return fmt.Errorf("%w: image %s has no source", wz.ErrInvalidImage, name)
		}
		if size := c.Source.Size(); size <= 0 || size > int64(^uint32(0)>>1) {
			name, _ := wr.a.Tree.Name(h)
			return fmt.Errorf("%w: image %s is %d bytes", wz.ErrInvalidLength, name, size)
		}
		sum, err := checksum(c.Source)
		if err != nil {
			return err
		}
		l.size = int32(c.Source.Size())
		l.checksum = sum
		return nil
	}

	children, err := wr.a.Tree.Children(h)
	if err != nil {
		return err
	}
	body := int64(wz.CompressedIntSize(int32(len(children))))
	for _, child := range children {
		if err := wr.measure(child); err != nil {
			return err
		}
		name, err := wr.a.Tree.Name(child)
		if err != nil {
			return err
		}
		cl := wr.layout[child]
		body += entrySize(name, cl) + int64(cl.size)
	}
	if body > int64(^uint32(0)>>1) {
		name, _ := wr.a.Tree.Name(h)
		return fmt.Errorf("%w: package %s is %d bytes", wz.ErrInvalidLength, name, body)
	}
	l.body = body
	l.size = int32(body)
	return nil
}

// place assigns offsets top-down. A package body is its entry table
// followed by the bodies of its children in entry order.
func (wr *writer) place(h tree.Handle, offset int64) {
	l := wr.layout[h]
	l.offset = uint32(offset)

	children, _ := wr.a.Tree.Children(h)
	next := offset + int64(wz.CompressedIntSize(int32(len(children))))
	for _, child := range children {
		name, _ := wr.a.Tree.Name(child)
		next += entrySize(name, wr.layout[child])
	}
	for _, child := range children {
		wr.place(child, next)
		next += int64(wr.layout[child].size)
	}
}

func (wr *writer) header() error {
	h := &wr.a.Header
	if _, err := wr.e.Write(h.Magic[:]); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	if err := wr.e.U64(h.Size); err != nil {
		return err
	}
	if err := wr.e.U32(h.ContentStart); err != nil {
		return err
	}
	if _, err := wr.e.Write(append([]byte(h.Description), 0)); err != nil {
		return err
	}
	return wr.e.U16(h.EncryptedVersion)
}

func (wr *writer) pkg(h tree.Handle) error {
	if got, want := wr.e.Pos(), int64(wr.layout[h].offset); got != want {
		return fmt.Errorf("package body at %d, planned %d", got, want)
	}

	children, err := wr.a.Tree.Children(h)
	if err != nil {
		return err
	}
	if err := wr.e.CompressedInt(int32(len(children))); err != nil {
		return err
	}

	for _, child := range children {
		name, err := wr.a.Tree.Name(child)
		if err != nil {
			return err
		}
		c, err := wr.a.Tree.Get(child)
		if err != nil {
			return err
		}
		l := wr.layout[child]

		tag := wz.ContentPackage
		if c.Kind == KindImage {
			tag = wz.ContentImage
		}
		if err := wr.e.U8(byte(tag)); err != nil {
			return err
		}
		if err := wr.e.EncryptedString(name); err != nil {
			return fmt.Errorf("failed to write entry name %s: %w", name, err)
		}
		if err := wr.e.CompressedInt(l.size); err != nil {
			return err
		}
		if err := wr.e.CompressedInt(l.checksum); err != nil {
			return err
		}
		if err := wr.e.Offset(wr.cs, wr.hash, l.offset); err != nil {
			return err
		}
	}

	for _, child := range children {
		c, err := wr.a.Tree.Get(child)
		if err != nil {
			return err
		}
		if c.Kind == KindPackage {
			if err := wr.pkg(child); err != nil {
				return err
			}
			continue
		}
		if err := wr.image(child, c.Source); err != nil {
			return err
		}
	}
	return nil
}

func (wr *writer) image(h tree.Handle, src ImageSource) error {
	rc, err := src.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	n, err := io.Copy(wr.e, rc)
	if err != nil {
		return fmt.Errorf("failed to copy image: %w", err)
	}
	if n != int64(wr.layout[h].size) {
		name, _ := wr.a.Tree.Name(h)
		return fmt.Errorf("%w: image %s changed size from %d to %d", wz.ErrImageSizeMismatch, name, wr.layout[h].size, n)
	}
	return nil
}

// checksum is the wrapping sum of the image bytes.
func checksum(src ImageSource) (int32, error) {
	rc, err := src.Open()
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	var sum int32
	buf := make([]byte, 32*1024)
	for {
		n, err := rc.Read(buf)
		for _, b := range buf[:n] {
			sum += int32(b)
		}
		if err == io.EOF {
			return sum, nil
		}
		if err != nil {
			return 0, fmt.Errorf("failed to checksum image: %w", err)
		}
	}
}
