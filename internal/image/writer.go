package image

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/ossyrian/mintywz/internal/crypto"
	"github.com/ossyrian/mintywz/internal/tree"
	"github.com/ossyrian/mintywz/internal/wz"
)

// referenceSize is the size of a back-reference: tag plus uint32 offset.
const referenceSize = 5

type writer struct {
	buf     bytes.Buffer
	e       *wz.Encoder
	img     *Image
	strings map[string]uint32
}

// Encode serializes img. String offsets are image-relative, so the
// result can be placed at any position in an archive.
func Encode(img *Image, c crypto.Cipher) ([]byte, error) {
	w := &writer{
		img:     img,
		strings: make(map[string]uint32),
	}
	w.e = wz.NewEncoder(&w.buf, 0, c)

	if err := w.stringBlock(typeProperty, wz.ObjectInline, wz.ObjectReference); err != nil {
		return nil, err
	}
	if err := w.propertyList(img.Root()); err != nil {
		return nil, err
	}
	return w.buf.Bytes(), nil
}

// WriteTo encodes img and writes it to out.
func WriteTo(out io.Writer, img *Image, c crypto.Cipher) (int64, error) {
	b, err := Encode(img, c)
	if err != nil {
		return 0, err
	}
	n, err := out.Write(b)
	return int64(n), err
}

// stringBlock writes s inline the first time and as a back-reference
// afterwards, whenever the reference is shorter than the inline form.
func (w *writer) stringBlock(s string, inline, ref byte) error {
	if offset, ok := w.strings[s]; ok && wz.StringSize(s) >= referenceSize {
		if err := w.e.U8(ref); err != nil {
			return err
		}
		return w.e.U32(offset)
	}

	if err := w.e.U8(inline); err != nil {
		return err
	}
	if _, ok := w.strings[s]; !ok {
		w.strings[s] = uint32(w.e.Pos())
	}
	return w.e.EncryptedString(s)
}

func (w *writer) propertyList(h tree.Handle) error {
	children, err := w.img.Children(h)
	if err != nil {
		return err
	}
	if err := w.e.U16(0); err != nil {
		return err
	}
	if err := w.e.CompressedInt(int32(len(children))); err != nil {
		return err
	}

	for _, c := range children {
		name, err := w.img.Name(c)
		if err != nil {
			return err
		}
		if err := w.stringBlock(name, wz.StringInline, wz.StringReference); err != nil {
			return err
		}
		if err := w.property(c); err != nil {
			return fmt.Errorf("failed to write property %q: %w", name, err)
		}
	}
	return nil
}

func (w *writer) property(h tree.Handle) error {
	v, err := w.img.Get(h)
	if err != nil {
		return err
	}

	switch v := v.(type) {
	case Null:
		return w.e.U8(tagNull)
	case Short:
		if err := w.e.U8(tagShort); err != nil {
			return err
		}
		return w.e.I16(int16(v))
	case Int:
		if err := w.e.U8(tagInt); err != nil {
			return err
		}
		return w.e.CompressedInt(int32(v))
	case Long:
		if err := w.e.U8(tagLong); err != nil {
			return err
		}
		return w.e.CompressedLong(int64(v))
	case Float:
		if err := w.e.U8(tagFloat); err != nil {
			return err
		}
		return w.e.Float(float32(v))
	case Double:
		if err := w.e.U8(tagDouble); err != nil {
			return err
		}
		return w.e.F64(float64(v))
	case String:
		if err := w.e.U8(tagString); err != nil {
			return err
		}
		return w.stringBlock(string(v), wz.StringInline, wz.StringReference)
	default:
		return w.framedObject(h)
	}
}

// framedObject writes a placeholder size, the object, then patches the
// size in place.
func (w *writer) framedObject(h tree.Handle) error {
	if err := w.e.U8(tagObject); err != nil {
		return err
	}
	if err := w.e.U32(0); err != nil {
		return err
	}
	start := w.e.Pos()

	if err := w.object(h); err != nil {
		return err
	}

	size := w.e.Pos() - start
	binary.LittleEndian.PutUint32(w.buf.Bytes()[start-4:start], uint32(size))
	return nil
}

func (w *writer) typeName(name string) error {
	return w.stringBlock(name, wz.ObjectInline, wz.ObjectReference)
}

func (w *writer) object(h tree.Handle) error {
	v, err := w.img.Get(h)
	if err != nil {
		return err
	}

	switch v := v.(type) {
	case Property:
		if err := w.typeName(typeProperty); err != nil {
			return err
		}
		return w.propertyList(h)

	case Canvas:
		return w.canvas(h, v)

	case Convex:
		if err := w.typeName(typeConvex); err != nil {
			return err
		}
		children, err := w.img.Children(h)
		if err != nil {
			return err
		}
		if err := w.e.CompressedInt(int32(len(children))); err != nil {
			return err
		}
		for _, c := range children {
			if err := w.object(c); err != nil {
				return err
			}
		}
		return nil

	case Vector:
		if err := w.typeName(typeVector); err != nil {
			return err
		}
		if err := w.e.CompressedInt(v.X); err != nil {
			return err
		}
		return w.e.CompressedInt(v.Y)

	case UOL:
		if err := w.typeName(typeUOL); err != nil {
			return err
		}
		if err := w.e.U8(0); err != nil {
			return err
		}
		return w.stringBlock(v.Path, wz.StringInline, wz.StringReference)

	case Sound:
		if err := w.typeName(typeSound); err != nil {
			return err
		}
		if err := w.e.U8(0); err != nil {
			return err
		}
		if err := w.e.CompressedInt(int32(len(v.Data))); err != nil {
			return err
		}
		if err := w.e.CompressedInt(v.Duration); err != nil {
			return err
		}
		if _, err := w.e.Write(v.Header); err != nil {
			return err
		}
		_, err := w.e.Write(v.Data)
		return err

	default:
		return fmt.Errorf("%w: %s cannot be stored as an object", wz.ErrInvalidImage, v.Kind())
	}
}

func (w *writer) canvas(h tree.Handle, c Canvas) error {
	if err := w.typeName(typeCanvas); err != nil {
		return err
	}
	if err := w.e.U8(0); err != nil {
		return err
	}

	children, err := w.img.Children(h)
	if err != nil {
		return err
	}
	if c.HasProperty || len(children) > 0 {
		if err := w.e.U8(1); err != nil {
			return err
		}
		if err := w.propertyList(h); err != nil {
			return err
		}
	} else if err := w.e.U8(0); err != nil {
		return err
	}

	if err := w.e.CompressedInt(c.Width); err != nil {
		return err
	}
	if err := w.e.CompressedInt(c.Height); err != nil {
		return err
	}
	if err := w.e.CompressedInt(c.Format); err != nil {
		return err
	}
	if err := w.e.U8(c.Scale); err != nil {
		return err
	}
	if err := w.e.I32(c.Reserved); err != nil {
		return err
	}
	if err := w.e.I32(int32(len(c.Data))); err != nil {
		return err
	}
	_, err = w.e.Write(c.Data)
	return err
}
