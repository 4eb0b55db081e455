package archive_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ossyrian/mintywz/internal/archive"
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

func imageBytes(t *testing.T, r crypto.Region, name string, v image.Value) []byte {
	t.Helper()
	img := tree.New[image.Value]("x.img", image.Property{})
	_, err := img.InsertChild(img.Root(), name, v)
	require.NoError(t, err)
	b, err := image.Encode(img, regionCipher(t, r))
	require.NoError(t, err)
	return b
}

func write(t *testing.T, a *archive.Archive, r crypto.Region) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, archive.Write(&buf, a, regionCipher(t, r)))
	return buf.Bytes()
}

func read(t *testing.T, b []byte, opts archive.Options) (*archive.Reader, *archive.Archive, error) {
	t.Helper()
	r, err := archive.NewReader(archive.NewBytesSource(b), opts)
	require.NoError(t, err)
	a, err := r.Read()
	return r, a, err
}

// sampleArchive builds:
//
//	/Ui.img            value = 42
//	/Character/
//	    <long name>.img  name = "Same"
//	    Weapon/
//	        01302000.img info = 7
func sampleArchive(t *testing.T, r crypto.Region, version int) *archive.Archive {
	t.Helper()
	a := archive.New("", version)
	root := a.Tree.Root()

	_, err := a.AddImage(root, "Ui.img", archive.BytesImage(imageBytes(t, r, "value", image.Int(42))))
	require.NoError(t, err)

	char, err := a.AddPackage(root, "Character")
	require.NoError(t, err)
	_, err = a.AddImage(char, strings.Repeat("LongCharacterName", 3)+".img",
		archive.BytesImage(imageBytes(t, r, "name", image.String("Same"))))
	require.NoError(t, err)

	weapon, err := a.AddPackage(char, "Weapon")
	require.NoError(t, err)
	_, err = a.AddImage(weapon, "01302000.img", archive.BytesImage(imageBytes(t, r, "info", image.Int(7))))
	require.NoError(t, err)
	return a
}

func TestWrite_EmptyArchive(t *testing.T) {
	a := archive.New("", 1)
	b := write(t, a, crypto.RegionGMS)

	// header, version, zero entry count
	assert.Len(t, b, 60+2+1)
	assert.Equal(t, uint32(60), a.Header.ContentStart)
	assert.Equal(t, uint64(3), a.Header.Size)
	assert.Equal(t, []byte("PKG1"), b[:4])
	assert.Equal(t, byte(0), b[59])

	_, got, err := read(t, b, archive.Options{Region: crypto.RegionGMS})
	require.NoError(t, err)
	assert.Equal(t, 1, got.Version)
	assert.Equal(t, wz.DefaultDescription, got.Header.Description)
	assert.Equal(t, 1, got.Tree.Len())
}

func TestRoundTrip(t *testing.T) {
	for _, region := range []crypto.Region{crypto.RegionNone, crypto.RegionGMS, crypto.RegionKMS} {
		t.Run(region.String(), func(t *testing.T) {
			b := write(t, sampleArchive(t, region, 83), region)

			r, got, err := read(t, b, archive.Options{Region: region, CacheSize: 4})
			require.NoError(t, err)
			assert.Equal(t, 83, got.Version)
			assert.Equal(t, uint64(len(b))-uint64(got.Header.ContentStart), got.Header.Size)

			var paths []string
			require.NoError(t, got.Tree.Walk(got.Tree.Root(), func(c tree.Cursor[archive.Content]) error {
				paths = append(paths, c.Pwd())
				return nil
			}))
			long := strings.Repeat("LongCharacterName", 3) + ".img"
			assert.Equal(t, []string{
				"",
				"/Ui.img",
				"/Character",
				"/Character/" + long,
				"/Character/Weapon",
				"/Character/Weapon/01302000.img",
			}, paths)

			h, err := got.Tree.Lookup("/Character/Weapon/01302000.img")
			require.NoError(t, err)
			c, err := got.Tree.Get(h)
			require.NoError(t, err)
			img, err := r.Image("01302000.img", c)
			require.NoError(t, err)
			info, err := img.Lookup("/info")
			require.NoError(t, err)
			v, err := img.Get(info)
			require.NoError(t, err)
			assert.Equal(t, image.Int(7), v)

			again, err := r.Image("01302000.img", c)
			require.NoError(t, err)
			assert.Same(t, img, again)

			assert.Equal(t, b, write(t, got, region))
		})
	}
}

func TestWrite_Checksums(t *testing.T) {
	data := imageBytes(t, crypto.RegionGMS, "value", image.Int(42))
	var want int32
	for _, x := range data {
		want += int32(x)
	}

	a := archive.New("", 83)
	_, err := a.AddPackage(a.Tree.Root(), "Empty")
	require.NoError(t, err)
	h, err := a.AddImage(a.Tree.Root(), "Ui.img", archive.BytesImage(data))
	require.NoError(t, err)
	b := write(t, a, crypto.RegionGMS)

	c, err := a.Tree.Get(h)
	require.NoError(t, err)
	assert.Equal(t, want, c.Checksum)
	assert.Equal(t, int32(len(data)), c.Size)
	assert.Equal(t, data, b[c.Offset:int(c.Offset)+len(data)])

	_, got, err := read(t, b, archive.Options{Region: crypto.RegionGMS, Version: 83})
	require.NoError(t, err)
	h, err = got.Tree.Lookup("/Empty")
	require.NoError(t, err)
	pkg, err := got.Tree.Get(h)
	require.NoError(t, err)
	assert.Equal(t, archive.KindPackage, pkg.Kind)
	assert.Equal(t, int32(0), pkg.Checksum)
	assert.Equal(t, int32(1), pkg.Size)
}

func TestWrite_RejectsEmptyImage(t *testing.T) {
	a := archive.New("", 83)
	_, err := a.AddImage(a.Tree.Root(), "a.img", archive.BytesImage(nil))
	require.ErrorIs(t, err, wz.ErrInvalidLength)

	// an empty source that bypasses AddImage is caught by Write
	_, err = a.Tree.InsertChild(a.Tree.Root(), "a.img", archive.Content{
		Kind:   archive.KindImage,
		Source: archive.BytesImage(nil),
	})
	require.NoError(t, err)
	var buf bytes.Buffer
	err = archive.Write(&buf, a, regionCipher(t, crypto.RegionGMS))
	require.ErrorIs(t, err, wz.ErrInvalidLength)
	assert.Zero(t, buf.Len())
}

func TestRead_Version(t *testing.T) {
	tests := []struct {
		name        string
		written     int
		configured  int
		wantVersion int
		wantErr     error
	}{
		{name: "brute force", written: 83, wantVersion: 83},
		{name: "explicit", written: 176, configured: 176, wantVersion: 176},
		{name: "explicit mismatch", written: 83, configured: 84, wantErr: wz.ErrVersionMismatch},
		// 1 and 74 share a checksum; only 74 decodes the offsets
		{name: "brute force skips colliding version", written: 74, wantVersion: 74},
		{name: "explicit colliding version", written: 74, configured: 1, wantErr: wz.ErrInvalidOffset},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := write(t, sampleArchive(t, crypto.RegionGMS, tt.written), crypto.RegionGMS)

			_, got, err := read(t, b, archive.Options{Region: crypto.RegionGMS, Version: tt.configured})
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.True(t, wz.IsFormatError(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantVersion, got.Version)
		})
	}
}

func TestRead_WrongKey(t *testing.T) {
	b := write(t, sampleArchive(t, crypto.RegionGMS, 83), crypto.RegionGMS)

	_, _, err := read(t, b, archive.Options{Region: crypto.RegionKMS})
	require.Error(t, err)

	var contentErr *wz.InvalidContentTypeError
	assert.True(t, errors.Is(err, wz.ErrUtf8) || errors.As(err, &contentErr), "error = %v", err)
}

// craftedArchive lays out by hand a root package with a deleted entry,
// an entry whose tag and name are stored after the image data, and a
// plain image entry.
func craftedArchive(t *testing.T) ([]byte, []byte, []byte) {
	t.Helper()
	const (
		desc    = "t"
		version = 83
	)
	imgB := imageBytes(t, crypto.RegionNone, "b", image.Int(1))
	imgC := imageBytes(t, crypto.RegionNone, "c", image.Int(2))
	_, hash := wz.Checksum(version)
	cs := wz.HeaderSize(desc)

	root := int64(cs) + 2
	deleted := root + 1
	ref := deleted + 11
	plain := ref + 1 + 4 + 1 + 1 + 4
	bodyB := plain + 1 + int64(wz.StringSize("c.img")) + 1 + 1 + 4
	bodyC := bodyB + int64(len(imgB))
	nameB := bodyC + int64(len(imgC))
	end := nameB + 1 + int64(wz.StringSize("b.img"))

	var buf bytes.Buffer
	e := wz.NewEncoder(&buf, 0, nil)
	encrypted, _ := wz.Checksum(version)
	_, _ = e.Write(wz.Magic[:])
	_ = e.U64(uint64(end) - uint64(cs))
	_ = e.U32(cs)
	_, _ = e.Write([]byte(desc + "\x00"))
	_ = e.U16(encrypted)

	_ = e.CompressedInt(3)
	_ = e.U8(byte(wz.ContentDeleted))
	_, _ = e.Write(make([]byte, 10))

	_ = e.U8(byte(wz.ContentReference))
	_ = e.I32(int32(nameB - int64(cs)))
	_ = e.CompressedInt(int32(len(imgB)))
	_ = e.CompressedInt(0)
	_ = e.Offset(cs, hash, uint32(bodyB))

	_ = e.U8(byte(wz.ContentImage))
	_ = e.EncryptedString("c.img")
	_ = e.CompressedInt(int32(len(imgC)))
	_ = e.CompressedInt(0)
	_ = e.Offset(cs, hash, uint32(bodyC))

	_, _ = e.Write(imgB)
	_, _ = e.Write(imgC)
	_ = e.U8(byte(wz.ContentImage))
	_ = e.EncryptedString("b.img")
	require.Equal(t, end, e.Pos())

	return buf.Bytes(), imgB, imgC
}

func TestRead_EntryTags(t *testing.T) {
	b, imgB, imgC := craftedArchive(t)

	r, a, err := read(t, b, archive.Options{Version: 83})
	require.NoError(t, err)
	assert.Equal(t, "t", a.Header.Description)

	children, err := a.Tree.Children(a.Tree.Root())
	require.NoError(t, err)
	require.Len(t, children, 2)

	for i, tt := range []struct {
		name string
		data []byte
	}{
		{name: "b.img", data: imgB},
		{name: "c.img", data: imgC},
	} {
		name, err := a.Tree.Name(children[i])
		require.NoError(t, err)
		assert.Equal(t, tt.name, name)

		c, err := a.Tree.Get(children[i])
		require.NoError(t, err)
		assert.Equal(t, archive.KindImage, c.Kind)
		got, err := r.ImageBytes(c)
		require.NoError(t, err)
		assert.Equal(t, tt.data, got)
	}
}

func TestRead_Errors(t *testing.T) {
	valid := write(t, archive.New("", 83), crypto.RegionNone)
	patch := func(at int, b ...byte) []byte {
		out := append([]byte(nil), valid...)
		copy(out[at:], b)
		return out
	}

	tests := []struct {
		name    string
		input   []byte
		wantErr error
		check   func(t *testing.T, err error)
	}{
		{name: "invalid magic", input: patch(0, 'P', 'K', 'G', '2'), wantErr: wz.ErrInvalidMagic},
		{name: "data section past end of file", input: patch(4, 0xFF), wantErr: wz.ErrInvalidHeader},
		{name: "content start too small", input: patch(12, 8, 0, 0, 0), wantErr: wz.ErrInvalidHeader},
		{name: "content start past end of file", input: patch(12, 0x10, 0, 0, 0x40), wantErr: wz.ErrInvalidHeader},
		{name: "negative entry count", input: patch(62, 0x81), wantErr: wz.ErrInvalidLength},
		{
			name: "unknown entry tag",
			input: func() []byte {
				out := patch(4, 6)
				out[62] = 1
				return append(out, 0x07, 0, 0)
			}(),
			check: func(t *testing.T, err error) {
				var target *wz.InvalidContentTypeError
				require.ErrorAs(t, err, &target)
				assert.Equal(t, byte(0x07), target.Tag)
			},
		},
		{
			name:  "truncated",
			input: valid[:20],
			check: func(t *testing.T, err error) {
				assert.False(t, wz.IsFormatError(err))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := read(t, tt.input, archive.Options{Version: 83})
			require.Error(t, err)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			}
			if tt.check != nil {
				tt.check(t, err)
			}
		})
	}
}

func TestOpen_Afero(t *testing.T) {
	fs := afero.NewMemMapFs()
	b := write(t, sampleArchive(t, crypto.RegionGMS, 83), crypto.RegionGMS)
	require.NoError(t, afero.WriteFile(fs, "/data/Base.wz", b, 0o644))

	r, err := archive.Open(fs, "/data/Base.wz", archive.Options{Region: crypto.RegionGMS, RootName: "Base"})
	require.NoError(t, err)
	defer r.Close()

	a, err := r.Read()
	require.NoError(t, err)

	h, err := a.Tree.Lookup("/Ui.img")
	require.NoError(t, err)
	pwd, err := a.Tree.Pwd(h)
	require.NoError(t, err)
	assert.Equal(t, "Base/Ui.img", pwd)

	c, err := a.Tree.Get(h)
	require.NoError(t, err)
	got, err := archive.ReadImage(c.Source)
	require.NoError(t, err)
	assert.Equal(t, imageBytes(t, crypto.RegionGMS, "value", image.Int(42)), got)

	_, err = archive.Open(fs, "/data/Missing.wz", archive.Options{})
	require.Error(t, err)
}

func TestNewReader_ImagesOutliveClose(t *testing.T) {
	fs := afero.NewMemMapFs()
	b := write(t, sampleArchive(t, crypto.RegionGMS, 83), crypto.RegionGMS)
	require.NoError(t, afero.WriteFile(fs, "/Base.wz", b, 0o644))

	src, err := archive.OpenFile(fs, "/Base.wz")
	require.NoError(t, err)
	r, err := archive.NewReader(src, archive.Options{Region: crypto.RegionGMS})
	require.NoError(t, err)
	a, err := r.Read()
	require.NoError(t, err)
	require.NoError(t, r.Close())

	h, err := a.Tree.Lookup("/Character/Weapon/01302000.img")
	require.NoError(t, err)
	c, err := a.Tree.Get(h)
	require.NoError(t, err)
	got, err := archive.ReadImage(c.Source)
	require.NoError(t, err)
	assert.Equal(t, imageBytes(t, crypto.RegionGMS, "info", image.Int(7)), got)

	assert.Equal(t, b, write(t, a, crypto.RegionGMS))
}
