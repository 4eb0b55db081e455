package image

import (
	"fmt"
	"strconv"

	"github.com/ossyrian/mintywz/internal/tree"
	"github.com/ossyrian/mintywz/internal/wz"
)

// reader holds the state of one image parse. String offsets in an
// image are relative to the image start, and the pool is dropped with
// the reader.
type reader struct {
	d       *wz.Decoder
	base    int64
	img     *Image
	strings map[int64]string
	uols    []tree.Handle
}

// Decode reads the image starting at absolute position base. The image
// is fully copied out of the source: the returned tree keeps no
// reference to d.
func Decode(d *wz.Decoder, base int64, name string) (*Image, error) {
	if err := d.Seek(base); err != nil {
		return nil, err
	}

	r := &reader{
		d:       d,
		base:    base,
		img:     tree.New[Value](name, Property{}),
		strings: make(map[int64]string),
	}

	typeName, err := r.stringBlock()
	if err != nil {
		return nil, fmt.Errorf("failed to read image type: %w", err)
	}
	if typeName != typeProperty {
		return nil, fmt.Errorf("%w: %s starts with %q, not a property", wz.ErrInvalidImage, name, typeName)
	}
	if err := r.propertyList(r.img.Root()); err != nil {
		return nil, fmt.Errorf("failed to read image %s: %w", name, err)
	}

	r.resolveLinks()
	return r.img, nil
}

// stringBlock reads a tagged string that is either inline or a
// reference to a string stored earlier in the image.
//
// Indicator byte:
//   - 0x00 or 0x73: String data follows inline
//   - 0x01 or 0x1B: Read uint32 image-relative offset, then read string there
func (r *reader) stringBlock() (string, error) {
	tag, err := r.d.U8()
	if err != nil {
		return "", fmt.Errorf("failed to read string block indicator: %w", err)
	}

	switch tag {
	case wz.StringInline, wz.ObjectInline:
		rel := r.d.Pos() - r.base
		s, err := r.d.EncryptedString()
		if err != nil {
			return "", err
		}
		r.strings[rel] = s
		return s, nil

	case wz.StringReference, wz.ObjectReference:
		at := r.d.Pos() - r.base
		offset, err := r.d.U32()
		if err != nil {
			return "", fmt.Errorf("failed to read string offset: %w", err)
		}
		if int64(offset) >= at {
			return "", fmt.Errorf("%w: offset %d referenced from %d", wz.ErrInvalidReference, offset, at)
		}
		if s, ok := r.strings[int64(offset)]; ok {
			return s, nil
		}

		resume := r.d.Pos()
		if err := r.d.Seek(r.base + int64(offset)); err != nil {
			return "", err
		}
		s, err := r.d.EncryptedString()
		if err != nil {
			return "", fmt.Errorf("failed to read string at offset %d: %w", offset, err)
		}
		if err := r.d.Seek(resume); err != nil {
			return "", err
		}
		r.strings[int64(offset)] = s
		return s, nil

	default:
		return "", &wz.InvalidTagError{Tag: tag, Context: "string block"}
	}
}

func (r *reader) propertyList(parent tree.Handle) error {
	if _, err := r.d.U16(); err != nil {
		return fmt.Errorf("failed to read property list header: %w", err)
	}
	count, err := r.d.CompressedInt()
	if err != nil {
		return fmt.Errorf("failed to read property count: %w", err)
	}
	if count < 0 {
		return fmt.Errorf("%w: property count %d", wz.ErrInvalidLength, count)
	}

	for i := 0; i < int(count); i++ {
		name, err := r.stringBlock()
		if err != nil {
			return fmt.Errorf("failed to read property name %d: %w", i, err)
		}
		if err := r.property(parent, name); err != nil {
			return fmt.Errorf("failed to read property %q: %w", name, err)
		}
	}
	return nil
}

func (r *reader) property(parent tree.Handle, name string) error {
	tag, err := r.d.U8()
	if err != nil {
		return err
	}

	var v Value
	switch tag {
	case tagNull:
		v = Null{}
	case tagShort, tagShortV2:
		n, err := r.d.I16()
		if err != nil {
			return err
		}
		v = Short(n)
	case tagInt, tagIntV2:
		n, err := r.d.CompressedInt()
		if err != nil {
			return err
		}
		v = Int(n)
	case tagLong:
		n, err := r.d.CompressedLong()
		if err != nil {
			return err
		}
		v = Long(n)
	case tagFloat:
		f, err := r.d.Float()
		if err != nil {
			return err
		}
		v = Float(f)
	case tagDouble:
		f, err := r.d.F64()
		if err != nil {
			return err
		}
		v = Double(f)
	case tagString:
		s, err := r.stringBlock()
		if err != nil {
			return err
		}
		v = String(s)
	case tagObject:
		return r.framedObject(parent, name)
	default:
		return &wz.InvalidTagError{Tag: tag, Context: "property"}
	}

	_, err = r.img.InsertChild(parent, name, v)
	return err
}

// framedObject reads an object prefixed with its byte size and checks
// that exactly that many bytes were consumed. Sounds are allowed to
// come up short; the client skips to the declared end for them too.
func (r *reader) framedObject(parent tree.Handle, name string) error {
	size, err := r.d.U32()
	if err != nil {
		return fmt.Errorf("failed to read object size: %w", err)
	}
	start := r.d.Pos()
	end := start + int64(size)

	h, err := r.object(parent, name, end)
	if err != nil {
		return err
	}

	pos := r.d.Pos()
	if pos == end {
		return nil
	}
	if v, _ := r.img.Get(h); v != nil && v.Kind() == KindSound && pos < end {
		return r.d.Seek(end)
	}
	return fmt.Errorf("%w: %q declared %d bytes, read %d", wz.ErrImageSizeMismatch, name, size, pos-start)
}

// object reads an object body that must end by the absolute position end.
func (r *reader) object(parent tree.Handle, name string, end int64) (tree.Handle, error) {
	typeName, err := r.stringBlock()
	if err != nil {
		return tree.NoHandle, fmt.Errorf("failed to read object type: %w", err)
	}

	switch typeName {
	case typeProperty:
		h, err := r.img.InsertChild(parent, name, Property{})
		if err != nil {
			return tree.NoHandle, err
		}
		return h, r.propertyList(h)

	case typeCanvas:
		return r.canvas(parent, name, end)

	case typeConvex:
		h, err := r.img.InsertChild(parent, name, Convex{})
		if err != nil {
			return tree.NoHandle, err
		}
		count, err := r.d.CompressedInt()
		if err != nil {
			return tree.NoHandle, fmt.Errorf("failed to read convex count: %w", err)
		}
		if count < 0 {
			return tree.NoHandle, fmt.Errorf("%w: convex count %d", wz.ErrInvalidLength, count)
		}
		for i := 0; i < int(count); i++ {
			if _, err := r.object(h, strconv.Itoa(i), end); err != nil {
				return tree.NoHandle, err
			}
		}
		return h, nil

	case typeVector:
		x, err := r.d.CompressedInt()
		if err != nil {
			return tree.NoHandle, err
		}
		y, err := r.d.CompressedInt()
		if err != nil {
			return tree.NoHandle, err
		}
		return r.img.InsertChild(parent, name, Vector{X: x, Y: y})

	case typeUOL:
		if _, err := r.d.U8(); err != nil {
			return tree.NoHandle, err
		}
		path, err := r.stringBlock()
		if err != nil {
			return tree.NoHandle, fmt.Errorf("failed to read link path: %w", err)
		}
		h, err := r.img.InsertChild(parent, name, UOL{Path: path, Target: tree.NoHandle})
		if err != nil {
			return tree.NoHandle, err
		}
		r.uols = append(r.uols, h)
		return h, nil

	case typeSound:
		return r.sound(parent, name, end)

	default:
		return tree.NoHandle, &wz.UnknownObjectTypeError{Name: typeName}
	}
}

func (r *reader) canvas(parent tree.Handle, name string, end int64) (tree.Handle, error) {
	if _, err := r.d.U8(); err != nil {
		return tree.NoHandle, err
	}
	flag, err := r.d.U8()
	if err != nil {
		return tree.NoHandle, err
	}

	h, err := r.img.InsertChild(parent, name, Canvas{})
	if err != nil {
		return tree.NoHandle, err
	}
	c := Canvas{HasProperty: flag == 1}
	if c.HasProperty {
		if err := r.propertyList(h); err != nil {
			return tree.NoHandle, err
		}
	}

	if c.Width, err = r.d.CompressedInt(); err != nil {
		return tree.NoHandle, err
	}
	if c.Height, err = r.d.CompressedInt(); err != nil {
		return tree.NoHandle, err
	}
	if c.Width < 0 || c.Height < 0 || c.Width > maxCanvasDimension || c.Height > maxCanvasDimension {
		return tree.NoHandle, fmt.Errorf("%w: canvas %dx%d", wz.ErrInvalidLength, c.Width, c.Height)
	}
	if c.Format, err = r.d.CompressedInt(); err != nil {
		return tree.NoHandle, err
	}
	if c.Scale, err = r.d.U8(); err != nil {
		return tree.NoHandle, err
	}
	if c.Reserved, err = r.d.I32(); err != nil {
		return tree.NoHandle, err
	}
	length, err := r.d.I32()
	if err != nil {
		return tree.NoHandle, err
	}
	if err := r.fits(int64(length), end, "canvas data"); err != nil {
		return tree.NoHandle, err
	}
	if c.Data, err = r.d.Bytes(int(length)); err != nil {
		return tree.NoHandle, fmt.Errorf("failed to read canvas data: %w", err)
	}

	return h, r.img.Set(h, c)
}

func (r *reader) sound(parent tree.Handle, name string, end int64) (tree.Handle, error) {
	if _, err := r.d.U8(); err != nil {
		return tree.NoHandle, err
	}
	length, err := r.d.CompressedInt()
	if err != nil {
		return tree.NoHandle, err
	}
	if length < 0 {
		return tree.NoHandle, fmt.Errorf("%w: sound data length %d", wz.ErrInvalidLength, length)
	}
	duration, err := r.d.CompressedInt()
	if err != nil {
		return tree.NoHandle, err
	}

	header, err := r.d.Bytes(len(SoundMediaType) + 1)
	if err != nil {
		return tree.NoHandle, fmt.Errorf("failed to read sound header: %w", err)
	}
	format, err := r.d.Bytes(int(header[len(header)-1]))
	if err != nil {
		return tree.NoHandle, fmt.Errorf("failed to read sound format: %w", err)
	}
	if err := r.fits(int64(length), end, "sound data"); err != nil {
		return tree.NoHandle, err
	}
	data, err := r.d.Bytes(int(length))
	if err != nil {
		return tree.NoHandle, fmt.Errorf("failed to read sound data: %w", err)
	}

	return r.img.InsertChild(parent, name, Sound{
		Duration: duration,
		Header:   append(header, format...),
		Data:     data,
	})
}

// fits checks that n more bytes end no later than end.
func (r *reader) fits(n, end int64, what string) error {
	if left := end - r.d.Pos(); n < 0 || n > left {
		return fmt.Errorf("%w: %s of %d bytes with %d left in its object", wz.ErrInvalidLength, what, n, left)
	}
	return nil
}

// resolveLinks points every UOL at its target. Links are not followed
// transitively, so cycles through UOLs are harmless.
func (r *reader) resolveLinks() {
	for _, h := range r.uols {
		v, err := r.img.Get(h)
		if err != nil {
			continue
		}
		link := v.(UOL)
		target, err := r.img.Resolve(h, link.Path)
		if err != nil {
			link.Dangling = true
			link.Target = tree.NoHandle
		} else {
			link.Target = target
		}
		_ = r.img.Set(h, link)
	}
}
