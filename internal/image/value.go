// Package image decodes and encodes WZ images: self-contained trees of
// typed properties stored as leaves of an archive.
package image

import "github.com/ossyrian/mintywz/internal/tree"

// Image is a decoded property tree. The root is a Property named after
// the image.
type Image = tree.Tree[Value]

// Kind represents the type of a property value.
type Kind int

const (
	KindNull Kind = iota
	KindShort
	KindInt
	KindLong
	KindFloat
	KindDouble
	KindString
	KindProperty
	KindCanvas
	KindConvex
	KindVector
	KindUOL
	KindSound
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "Null"
	case KindShort:
		return "Short"
	case KindInt:
		return "Int"
	case KindLong:
		return "Long"
	case KindFloat:
		return "Float"
	case KindDouble:
		return "Double"
	case KindString:
		return "String"
	case KindProperty:
		return "Property"
	case KindCanvas:
		return "Canvas"
	case KindConvex:
		return "Convex"
	case KindVector:
		return "Vector"
	case KindUOL:
		return "UOL"
	case KindSound:
		return "Sound"
	default:
		return "Unknown"
	}
}

// Value is the payload of an image node.
type Value interface {
	Kind() Kind
}

type (
	Null   struct{}
	Short  int16
	Int    int32
	Long   int64
	Float  float32
	Double float64
	String string

	// Property is a named list of child properties. The children are
	// the node's children in the tree.
	Property struct{}

	// Convex is an ordered list of vectors stored as children named
	// "0", "1", ...
	Convex struct{}
)

func (Null) Kind() Kind     { return KindNull }
func (Short) Kind() Kind    { return KindShort }
func (Int) Kind() Kind      { return KindInt }
func (Long) Kind() Kind     { return KindLong }
func (Float) Kind() Kind    { return KindFloat }
func (Double) Kind() Kind   { return KindDouble }
func (String) Kind() Kind   { return KindString }
func (Property) Kind() Kind { return KindProperty }
func (Convex) Kind() Kind   { return KindConvex }

// Vector is a 2D point.
type Vector struct {
	X int32
	Y int32
}

func (Vector) Kind() Kind { return KindVector }

// UOL links to another node by a path relative to the UOL's parent.
// Target is set after decoding; Dangling marks a path that did not
// resolve.
type UOL struct {
	Path     string
	Target   tree.Handle
	Dangling bool
}

func (UOL) Kind() Kind { return KindUOL }

// Sound is a framed DirectSound buffer. Header holds the media type
// GUIDs and the wave format block exactly as stored.
type Sound struct {
	Duration int32
	Header   []byte
	Data     []byte
}

func (Sound) Kind() Kind { return KindSound }

// SoundMediaType is the fixed GUID prefix of every Sound_DX8 header.
var SoundMediaType = [51]byte{
	0x02, 0x83, 0xEB, 0x36, 0xE4, 0x4F, 0x52, 0xCE, 0x11, 0x9F, 0x53, 0x00, 0x20, 0xAF, 0x0B, 0xA7,
	0x70, 0x8B, 0xEB, 0x36, 0xE4, 0x4F, 0x52, 0xCE, 0x11, 0x9F, 0x53, 0x00, 0x20, 0xAF, 0x0B, 0xA7,
	0x70, 0x00, 0x01, 0x81, 0x9F, 0x58, 0x05, 0x56, 0xC3, 0xCE, 0x11, 0xBF, 0x01, 0x00, 0xAA, 0x00,
	0x55, 0x59, 0x5A,
}

// NewSoundHeader builds a Sound header around a wave format block.
func NewSoundHeader(waveFormat []byte) []byte {
	h := make([]byte, 0, len(SoundMediaType)+1+len(waveFormat))
	h = append(h, SoundMediaType[:]...)
	h = append(h, byte(len(waveFormat)))
	return append(h, waveFormat...)
}

// Object type names as stored in images.
const (
	typeProperty = "Property"
	typeCanvas   = "Canvas"
	typeConvex   = "Shape2D#Convex2D"
	typeVector   = "Shape2D#Vector2D"
	typeUOL      = "UOL"
	typeSound    = "Sound_DX8"
)

// Property value tags.
const (
	tagNull    byte = 0
	tagShort   byte = 2
	tagInt     byte = 3
	tagFloat   byte = 4
	tagDouble  byte = 5
	tagString  byte = 8
	tagObject  byte = 9
	tagShortV2 byte = 11
	tagIntV2   byte = 19
	tagLong    byte = 20
)
