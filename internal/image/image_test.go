package image_test

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ossyrian/mintywz/internal/crypto"
	"github.com/ossyrian/mintywz/internal/image"
	"github.com/ossyrian/mintywz/internal/tree"
	"github.com/ossyrian/mintywz/internal/wz"
)

func regionCipher(t *testing.T, r crypto.Region) crypto.Cipher {
	t.Helper()
	c, err := r.Cipher()
	require.NoError(t, err)
	return c
}

func decode(t *testing.T, b []byte, r crypto.Region) (*image.Image, error) {
	t.Helper()
	d := wz.NewDecoder(bytes.NewReader(b), regionCipher(t, r))
	return image.Decode(d, 0, "Test.img")
}

func child(t *testing.T, img *image.Image, path string) image.Value {
	t.Helper()
	h, err := img.Lookup(path)
	require.NoError(t, err, path)
	v, err := img.Get(h)
	require.NoError(t, err)
	return v
}

// craft builds raw image bytes without a cipher.
func craft(t *testing.T, write func(e *wz.Encoder) error) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, write(wz.NewEncoder(&buf, 0, nil)))
	return buf.Bytes()
}

func propertyHeader(e *wz.Encoder, count int32) error {
	if err := e.U8(wz.ObjectInline); err != nil {
		return err
	}
	if err := e.EncryptedString("Property"); err != nil {
		return err
	}
	if err := e.U16(0); err != nil {
		return err
	}
	return e.CompressedInt(count)
}

func TestEncode_SingleInt(t *testing.T) {
	for _, r := range []crypto.Region{crypto.RegionNone, crypto.RegionGMS, crypto.RegionKMS} {
		t.Run(r.String(), func(t *testing.T) {
			img := tree.New[image.Value]("Ui.img", image.Property{})
			_, err := img.InsertChild(img.Root(), "value", image.Int(42))
			require.NoError(t, err)

			b, err := image.Encode(img, regionCipher(t, r))
			require.NoError(t, err)

			got, err := decode(t, b, r)
			require.NoError(t, err)
			assert.Equal(t, image.Int(42), child(t, got, "/value"))
			assert.Equal(t, 2, got.Len())
		})
	}
}

func TestEncode_StringPool(t *testing.T) {
	img := tree.New[image.Value]("Pool.img", image.Property{})
	_, err := img.InsertChild(img.Root(), "a", image.String("Same"))
	require.NoError(t, err)
	_, err = img.InsertChild(img.Root(), "b", image.String("Same"))
	require.NoError(t, err)

	b, err := image.Encode(img, nil)
	require.NoError(t, err)

	// 0x73 "Property" | u16 | count | 0x00 "a" | 0x08 | 0x00 "Same" | 0x00 "b" | 0x08 | 0x01 u32
	require.Len(t, b, 32)
	assert.Equal(t, byte(wz.StringReference), b[27])
	assert.Equal(t, uint32(18), binary.LittleEndian.Uint32(b[28:]))

	got, err := decode(t, b, crypto.RegionNone)
	require.NoError(t, err)
	assert.Equal(t, image.String("Same"), child(t, got, "/a"))
	assert.Equal(t, image.String("Same"), child(t, got, "/b"))
}

func TestDecode_NonZeroBase(t *testing.T) {
	img := tree.New[image.Value]("Base.img", image.Property{})
	_, err := img.InsertChild(img.Root(), "first", image.String("repeated value"))
	require.NoError(t, err)
	_, err = img.InsertChild(img.Root(), "second", image.String("repeated value"))
	require.NoError(t, err)

	b, err := image.Encode(img, regionCipher(t, crypto.RegionGMS))
	require.NoError(t, err)

	padded := append(bytes.Repeat([]byte{0xEE}, 37), b...)
	d := wz.NewDecoder(bytes.NewReader(padded), regionCipher(t, crypto.RegionGMS))
	got, err := image.Decode(d, 37, "Base.img")
	require.NoError(t, err)
	assert.Equal(t, image.String("repeated value"), child(t, got, "/second"))
	assert.Equal(t, int64(len(padded)), d.Pos())
}

func TestEncode_CanvasRoundTrip(t *testing.T) {
	pixels := make([]byte, 16*16*2)
	for i := range pixels {
		pixels[i] = byte(i*31 + i/7)
	}
	c, err := image.NewCanvas(16, 16, image.FormatBGRA4444, pixels)
	require.NoError(t, err)
	assert.Equal(t, byte(0), c.Data[0])

	img := tree.New[image.Value]("Canvas.img", image.Property{})
	_, err = img.InsertChild(img.Root(), "icon", c)
	require.NoError(t, err)

	cipher := regionCipher(t, crypto.RegionGMS)
	b, err := image.Encode(img, cipher)
	require.NoError(t, err)

	got, err := decode(t, b, crypto.RegionGMS)
	require.NoError(t, err)
	v := child(t, got, "/icon")
	require.IsType(t, image.Canvas{}, v)
	assert.Equal(t, c, v.(image.Canvas))

	raw, err := v.(image.Canvas).Decompress(cipher)
	require.NoError(t, err)
	assert.Equal(t, pixels, raw)

	again, err := image.Encode(got, regionCipher(t, crypto.RegionGMS))
	require.NoError(t, err)
	assert.Equal(t, b, again)
}

func buildAllKinds(t *testing.T) *image.Image {
	t.Helper()

	img := tree.New[image.Value]("All.img", image.Property{})
	root := img.Cursor(img.Root())
	insert := func(c tree.Cursor[image.Value], name string, v image.Value) tree.Cursor[image.Value] {
		n, err := c.InsertChild(name, v)
		require.NoError(t, err)
		return n
	}

	insert(root, "null", image.Null{})
	insert(root, "short", image.Short(-300))
	insert(root, "int", image.Int(math.MinInt32))
	insert(root, "long", image.Long(1<<40))
	insert(root, "float", image.Float(1.5))
	insert(root, "zero", image.Float(0))
	insert(root, "double", image.Double(-2.25))
	insert(root, "ascii", image.String("hello"))
	insert(root, "unicode", image.String("메이플스토리"))
	insert(root, "empty", image.String(""))

	info := insert(root, "info", image.Property{})
	insert(info, "speed", image.Int(7))
	insert(info, "origin", image.Vector{X: -4, Y: 12})

	canvas, err := image.NewCanvas(2, 2, image.FormatBGRA8888, make([]byte, 16))
	require.NoError(t, err)
	icon := insert(root, "icon", canvas)
	insert(icon, "origin", image.Vector{X: 1, Y: 2})
	insert(icon, "z", image.String("hello"))

	shape := insert(root, "shape", image.Convex{})
	insert(shape, "0", image.Vector{X: 0, Y: 0})
	insert(shape, "1", image.Vector{X: 10, Y: -10})

	insert(root, "link", image.UOL{Path: "info/speed"})
	insert(root, "sound", image.Sound{
		Duration: 1200,
		Header:   image.NewSoundHeader([]byte{1, 0, 2, 0, 0x44, 0xAC, 0, 0}),
		Data:     []byte{9, 8, 7, 6, 5},
	})
	return img
}

func TestEncode_AllKinds(t *testing.T) {
	img := buildAllKinds(t)

	b, err := image.Encode(img, regionCipher(t, crypto.RegionKMS))
	require.NoError(t, err)

	got, err := decode(t, b, crypto.RegionKMS)
	require.NoError(t, err)
	assert.Equal(t, img.Len(), got.Len())

	tests := []struct {
		path string
		want image.Value
	}{
		{path: "/null", want: image.Null{}},
		{path: "/short", want: image.Short(-300)},
		{path: "/int", want: image.Int(math.MinInt32)},
		{path: "/long", want: image.Long(1 << 40)},
		{path: "/float", want: image.Float(1.5)},
		{path: "/zero", want: image.Float(0)},
		{path: "/double", want: image.Double(-2.25)},
		{path: "/ascii", want: image.String("hello")},
		{path: "/unicode", want: image.String("메이플스토리")},
		{path: "/empty", want: image.String("")},
		{path: "/info", want: image.Property{}},
		{path: "/info/speed", want: image.Int(7)},
		{path: "/info/origin", want: image.Vector{X: -4, Y: 12}},
		{path: "/icon/origin", want: image.Vector{X: 1, Y: 2}},
		{path: "/icon/z", want: image.String("hello")},
		{path: "/shape", want: image.Convex{}},
		{path: "/shape/1", want: image.Vector{X: 10, Y: -10}},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, child(t, got, tt.path))
		})
	}

	icon := child(t, got, "/icon").(image.Canvas)
	assert.True(t, icon.HasProperty)
	assert.Equal(t, int32(2), icon.Width)

	sound := child(t, got, "/sound").(image.Sound)
	assert.Equal(t, int32(1200), sound.Duration)
	assert.Equal(t, []byte{9, 8, 7, 6, 5}, sound.Data)
	assert.Len(t, sound.Header, len(image.SoundMediaType)+1+8)

	again, err := image.Encode(got, regionCipher(t, crypto.RegionKMS))
	require.NoError(t, err)
	assert.Equal(t, b, again)
}

func TestDecode_FloatNegativeZero(t *testing.T) {
	img := tree.New[image.Value]("Float.img", image.Property{})
	_, err := img.InsertChild(img.Root(), "f", image.Float(float32(math.Copysign(0, -1))))
	require.NoError(t, err)

	b, err := image.Encode(img, nil)
	require.NoError(t, err)
	got, err := decode(t, b, crypto.RegionNone)
	require.NoError(t, err)

	f := child(t, got, "/f").(image.Float)
	assert.True(t, math.Signbit(float64(f)))
}

func TestDecode_LinkResolution(t *testing.T) {
	img := tree.New[image.Value]("Link.img", image.Property{})
	root := img.Cursor(img.Root())
	a, err := root.InsertChild("a", image.Property{})
	require.NoError(t, err)
	_, err = a.InsertChild("x", image.Int(1))
	require.NoError(t, err)
	_, err = a.InsertChild("up", image.UOL{Path: "../b"})
	require.NoError(t, err)
	_, err = root.InsertChild("b", image.Int(2))
	require.NoError(t, err)
	_, err = root.InsertChild("link", image.UOL{Path: "a/x"})
	require.NoError(t, err)
	_, err = root.InsertChild("bad", image.UOL{Path: "a/nope"})
	require.NoError(t, err)
	_, err = root.InsertChild("escape", image.UOL{Path: "../../b"})
	require.NoError(t, err)

	b, err := image.Encode(img, nil)
	require.NoError(t, err)
	got, err := decode(t, b, crypto.RegionNone)
	require.NoError(t, err)

	want := func(path string) tree.Handle {
		h, err := got.Lookup(path)
		require.NoError(t, err)
		return h
	}

	link := child(t, got, "/link").(image.UOL)
	assert.False(t, link.Dangling)
	assert.Equal(t, want("/a/x"), link.Target)

	up := child(t, got, "/a/up").(image.UOL)
	assert.False(t, up.Dangling)
	assert.Equal(t, want("/b"), up.Target)

	for _, path := range []string{"/bad", "/escape"} {
		v := child(t, got, path).(image.UOL)
		assert.True(t, v.Dangling, path)
		assert.Equal(t, tree.NoHandle, v.Target, path)
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name   string
		write  func(e *wz.Encoder) error
		target error
		check  func(t *testing.T, err error)
	}{
		{
			name: "object size mismatch",
			write: func(e *wz.Encoder) error {
				if err := propertyHeader(e, 1); err != nil {
					return err
				}
				_ = e.U8(wz.StringInline)
				_ = e.EncryptedString("v")
				_ = e.U8(9)
				_ = e.U32(99)
				_ = e.U8(wz.ObjectInline)
				_ = e.EncryptedString("Shape2D#Vector2D")
				_ = e.CompressedInt(1)
				return e.CompressedInt(2)
			},
			target: wz.ErrImageSizeMismatch,
		},
		{
			name: "forward string reference",
			write: func(e *wz.Encoder) error {
				if err := propertyHeader(e, 1); err != nil {
					return err
				}
				_ = e.U8(wz.StringReference)
				return e.U32(100)
			},
			target: wz.ErrInvalidReference,
		},
		{
			name: "canvas data longer than its object",
			write: func(e *wz.Encoder) error {
				if err := propertyHeader(e, 1); err != nil {
					return err
				}
				_ = e.U8(wz.StringInline)
				_ = e.EncryptedString("c")
				_ = e.U8(9)
				_ = e.U32(30)
				_ = e.U8(wz.ObjectInline)
				_ = e.EncryptedString("Canvas")
				_ = e.U8(0)
				_ = e.U8(0)
				_ = e.CompressedInt(1)
				_ = e.CompressedInt(1)
				_ = e.CompressedInt(1)
				_ = e.U8(0)
				_ = e.I32(0)
				return e.I32(0x40000000)
			},
			target: wz.ErrInvalidLength,
		},
		{
			name: "sound data longer than its object",
			write: func(e *wz.Encoder) error {
				if err := propertyHeader(e, 1); err != nil {
					return err
				}
				_ = e.U8(wz.StringInline)
				_ = e.EncryptedString("s")
				_ = e.U8(9)
				_ = e.U32(80)
				_ = e.U8(wz.ObjectInline)
				_ = e.EncryptedString("Sound_DX8")
				_ = e.U8(0)
				_ = e.CompressedInt(0x40000000)
				_ = e.CompressedInt(1)
				_, err := e.Write(image.NewSoundHeader(nil))
				return err
			},
			target: wz.ErrInvalidLength,
		},
		{
			name: "root is not a property",
			write: func(e *wz.Encoder) error {
				_ = e.U8(wz.ObjectInline)
				return e.EncryptedString("UOL")
			},
			target: wz.ErrInvalidImage,
		},
		{
			name: "truncated",
			write: func(e *wz.Encoder) error {
				return propertyHeader(e, 3)
			},
			check: func(t *testing.T, err error) {
				assert.False(t, wz.IsFormatError(err))
			},
		},
		{
			name: "unknown object type",
			write: func(e *wz.Encoder) error {
				if err := propertyHeader(e, 1); err != nil {
					return err
				}
				_ = e.U8(wz.StringInline)
				_ = e.EncryptedString("v")
				_ = e.U8(9)
				_ = e.U32(4)
				_ = e.U8(wz.ObjectInline)
				return e.EncryptedString("Foo")
			},
			check: func(t *testing.T, err error) {
				var target *wz.UnknownObjectTypeError
				require.ErrorAs(t, err, &target)
				assert.Equal(t, "Foo", target.Name)
			},
		},
		{
			name: "unknown property tag",
			write: func(e *wz.Encoder) error {
				if err := propertyHeader(e, 1); err != nil {
					return err
				}
				_ = e.U8(wz.StringInline)
				_ = e.EncryptedString("v")
				return e.U8(7)
			},
			check: func(t *testing.T, err error) {
				var target *wz.InvalidTagError
				require.ErrorAs(t, err, &target)
				assert.Equal(t, byte(7), target.Tag)
			},
		},
		{
			name: "unknown string tag",
			write: func(e *wz.Encoder) error {
				return e.U8(0x42)
			},
			check: func(t *testing.T, err error) {
				var target *wz.InvalidTagError
				require.ErrorAs(t, err, &target)
				assert.True(t, wz.IsFormatError(err))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decode(t, craft(t, tt.write), crypto.RegionNone)
			require.Error(t, err)
			if tt.target != nil {
				require.ErrorIs(t, err, tt.target)
				assert.True(t, wz.IsFormatError(err))
			}
			if tt.check != nil {
				tt.check(t, err)
			}
		})
	}
}

func TestDecode_SoundPadding(t *testing.T) {
	header := image.NewSoundHeader([]byte{1, 2})
	b := craft(t, func(e *wz.Encoder) error {
		if err := propertyHeader(e, 2); err != nil {
			return err
		}
		_ = e.U8(wz.StringInline)
		_ = e.EncryptedString("bgm")
		_ = e.U8(9)
		// type name (1+10) + u8 + len + duration + header + data + 3 padding
		_ = e.U32(uint32(11 + 1 + 1 + 1 + len(header) + 2 + 3))
		_ = e.U8(wz.ObjectInline)
		_ = e.EncryptedString("Sound_DX8")
		_ = e.U8(0)
		_ = e.CompressedInt(2)
		_ = e.CompressedInt(50)
		_, _ = e.Write(header)
		_, _ = e.Write([]byte{0xAB, 0xCD})
		_, _ = e.Write([]byte{0, 0, 0})
		_ = e.U8(wz.StringInline)
		_ = e.EncryptedString("after")
		_ = e.U8(3)
		return e.CompressedInt(5)
	})

	got, err := decode(t, b, crypto.RegionNone)
	require.NoError(t, err)
	sound := child(t, got, "/bgm").(image.Sound)
	assert.Equal(t, []byte{0xAB, 0xCD}, sound.Data)
	assert.Equal(t, header, sound.Header)
	assert.Equal(t, image.Int(5), child(t, got, "/after"))
}

func TestCanvas_PixelFormat(t *testing.T) {
	tests := []struct {
		format int32
		scale  uint8
		want   image.CanvasFormat
		ok     bool
	}{
		{format: 1, want: image.FormatBGRA4444, ok: true},
		{format: 2, want: image.FormatBGRA8888, ok: true},
		{format: 0x201, scale: 4, want: image.FormatRGB565Tile, ok: true},
		{format: 0x802, want: image.FormatDXT5, ok: true},
		{format: 3, scale: 4},
		{format: 0},
	}

	for _, tt := range tests {
		c := image.Canvas{Format: tt.format, Scale: tt.scale}
		got, err := c.PixelFormat()
		if !tt.ok {
			var target *wz.CanvasUnsupportedFormatError
			require.ErrorAs(t, err, &target)
			assert.Equal(t, tt.format+int32(tt.scale), target.Format)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestCanvas_DecompressChunked(t *testing.T) {
	pixels := bytes.Repeat([]byte{0x12, 0x34, 0x56, 0x78}, 64)

	var z bytes.Buffer
	zw := zlib.NewWriter(&z)
	_, err := zw.Write(pixels)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	stream := z.Bytes()

	cipher := regionCipher(t, crypto.RegionGMS)
	data := []byte{0}
	for _, part := range [][]byte{stream[:5], stream[5:]} {
		chunk := append([]byte(nil), part...)
		cipher.Seek(0)
		cipher.Encrypt(chunk)
		data = binary.LittleEndian.AppendUint32(data, uint32(len(chunk)))
		data = append(data, chunk...)
	}

	c := image.Canvas{Width: 8, Height: 8, Format: int32(image.FormatBGRA8888), Data: data}
	got, err := c.Decompress(regionCipher(t, crypto.RegionGMS))
	require.NoError(t, err)
	assert.Equal(t, pixels, got)

	c.Data = append(append([]byte(nil), data...), 0x01, 0x02)
	_, err = c.Decompress(regionCipher(t, crypto.RegionGMS))
	assert.ErrorIs(t, err, wz.ErrInvalidLength)
}
