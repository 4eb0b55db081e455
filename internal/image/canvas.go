package image

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"

	"github.com/ossyrian/mintywz/internal/crypto"
	"github.com/ossyrian/mintywz/internal/wz"
)

// maxCanvasDimension is the largest width or height the client accepts.
const maxCanvasDimension = 0x10000

// Canvas is a compressed bitmap. Data is kept exactly as stored,
// including its leading zero byte, so re-encoding is byte-for-byte.
// Pixel decoding is left to callers; Decompress yields the raw pixel
// buffer in the layout named by PixelFormat.
type Canvas struct {
	Width    int32
	Height   int32
	Format   int32
	Scale    uint8
	Reserved int32
	// HasProperty records the stored property flag. A canvas with
	// children is always written with the flag set.
	HasProperty bool
	Data        []byte
}

func (Canvas) Kind() Kind { return KindCanvas }

// CanvasFormat is the pixel layout of a decompressed canvas.
type CanvasFormat int32

const (
	FormatBGRA4444   CanvasFormat = 0x1
	FormatBGRA8888   CanvasFormat = 0x2
	FormatDXT3Gray   CanvasFormat = 0x3
	FormatARGB1555   CanvasFormat = 0x101
	FormatRGB565     CanvasFormat = 0x201
	FormatRGB565Tile CanvasFormat = 0x205
	FormatDXT3       CanvasFormat = 0x402
	FormatDXT5       CanvasFormat = 0x802
)

func (f CanvasFormat) String() string {
	switch f {
	case FormatBGRA4444:
		return "BGRA4444"
	case FormatBGRA8888:
		return "BGRA8888"
	case FormatDXT3Gray:
		return "DXT3_Gray"
	case FormatARGB1555:
		return "ARGB1555"
	case FormatRGB565:
		return "RGB565"
	case FormatRGB565Tile:
		return "RGB565_Tile"
	case FormatDXT3:
		return "DXT3"
	case FormatDXT5:
		return "DXT5"
	default:
		return "Unknown"
	}
}

// PixelFormat combines Format and Scale the way the client does.
func (c Canvas) PixelFormat() (CanvasFormat, error) {
	f := CanvasFormat(c.Format + int32(c.Scale))
	if f.String() == "Unknown" {
		return 0, &wz.CanvasUnsupportedFormatError{Format: int32(f)}
	}
	return f, nil
}

func isZlibHeader(b []byte) bool {
	if len(b) < 2 || b[0] != 0x78 {
		return false
	}
	switch b[1] {
	case 0x01, 0x5E, 0x9C, 0xDA:
		return true
	}
	return false
}

// Decompress inflates the pixel data. Payloads without a zlib header are
// a sequence of length-prefixed chunks, each XORed with the key stream
// from its start, that concatenate to the zlib stream.
func (c Canvas) Decompress(cipher crypto.Cipher) ([]byte, error) {
	if _, err := c.PixelFormat(); err != nil {
		return nil, err
	}
	if len(c.Data) < 3 {
		return nil, fmt.Errorf("%w: canvas data of %d bytes", wz.ErrInvalidLength, len(c.Data))
	}

	payload := c.Data[1:]
	if !isZlibHeader(payload) {
		var err error
		if payload, err = unchunk(payload, cipher); err != nil {
			return nil, err
		}
	}

	zr, err := zlib.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to open canvas stream: %w", err)
	}
	defer zr.Close()

	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("failed to inflate canvas: %w", err)
	}
	return out, nil
}

func unchunk(payload []byte, cipher crypto.Cipher) ([]byte, error) {
	if cipher == nil {
		cipher = &crypto.Dummy{}
	}

	var out []byte
	for len(payload) > 0 {
		if len(payload) < 4 {
			return nil, fmt.Errorf("%w: truncated canvas chunk header", wz.ErrInvalidLength)
		}
		n := binary.LittleEndian.Uint32(payload)
		payload = payload[4:]
		if uint64(n) > uint64(len(payload)) {
			return nil, fmt.Errorf("%w: canvas chunk of %d bytes, %d left", wz.ErrInvalidLength, n, len(payload))
		}

		chunk := append([]byte(nil), payload[:n]...)
		cipher.Seek(0)
		cipher.Decrypt(chunk)
		out = append(out, chunk...)
		payload = payload[n:]
	}
	return out, nil
}

// NewCanvas compresses pixels into a cleartext canvas payload.
func NewCanvas(width, height int32, format CanvasFormat, pixels []byte) (Canvas, error) {
	var buf bytes.Buffer
	buf.WriteByte(0)

	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(pixels); err != nil {
		return Canvas{}, fmt.Errorf("failed to compress canvas: %w", err)
	}
	if err := zw.Close(); err != nil {
		return Canvas{}, fmt.Errorf("failed to compress canvas: %w", err)
	}

	return Canvas{
		Width:  width,
		Height: height,
		Format: int32(format),
		Data:   buf.Bytes(),
	}, nil
}
