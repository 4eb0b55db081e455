package wz

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/ossyrian/mintywz/internal/crypto"
)

// Encoder writes WZ primitives and tracks the absolute position of the
// next byte, which offset encryption depends on.
type Encoder struct {
	w       io.Writer
	pos     int64
	cipher  crypto.Cipher
	scratch [8]byte
}

// NewEncoder writes to w, treating the first byte written as absolute
// position pos.
func NewEncoder(w io.Writer, pos int64, c crypto.Cipher) *Encoder {
	if c == nil {
		c = &crypto.Dummy{}
	}
	return &Encoder{w: w, pos: pos, cipher: c}
}

// Pos returns the absolute position of the next byte to be written.
func (e *Encoder) Pos() int64 {
	return e.pos
}

// Write implements io.Writer.
func (e *Encoder) Write(p []byte) (int, error) {
	n, err := e.w.Write(p)
	e.pos += int64(n)
	if err != nil {
		return n, fmt.Errorf("failed to write %d bytes at offset %d: %w", len(p), e.pos-int64(n), err)
	}
	return n, nil
}

func (e *Encoder) write(buf []byte) error {
	_, err := e.Write(buf)
	return err
}

func (e *Encoder) U8(v uint8) error {
	e.scratch[0] = v
	return e.write(e.scratch[:1])
}

func (e *Encoder) U16(v uint16) error {
	binary.LittleEndian.PutUint16(e.scratch[:2], v)
	return e.write(e.scratch[:2])
}

func (e *Encoder) U32(v uint32) error {
	binary.LittleEndian.PutUint32(e.scratch[:4], v)
	return e.write(e.scratch[:4])
}

func (e *Encoder) U64(v uint64) error {
	binary.LittleEndian.PutUint64(e.scratch[:8], v)
	return e.write(e.scratch[:8])
}

func (e *Encoder) I8(v int8) error   { return e.U8(uint8(v)) }
func (e *Encoder) I16(v int16) error { return e.U16(uint16(v)) }
func (e *Encoder) I32(v int32) error { return e.U32(uint32(v)) }
func (e *Encoder) I64(v int64) error { return e.U64(uint64(v)) }

func (e *Encoder) F32(v float32) error { return e.U32(math.Float32bits(v)) }
func (e *Encoder) F64(v float64) error { return e.U64(math.Float64bits(v)) }

// CompressedInt writes v in one byte when it fits in [-127, 127] and
// as -128 followed by an int32 otherwise.
func (e *Encoder) CompressedInt(v int32) error {
	if v > math.MinInt8 && v <= math.MaxInt8 {
		return e.I8(int8(v))
	}
	if err := e.I8(math.MinInt8); err != nil {
		return err
	}
	return e.I32(v)
}

// CompressedLong is CompressedInt with an int64 extension.
func (e *Encoder) CompressedLong(v int64) error {
	if v > math.MinInt8 && v <= math.MaxInt8 {
		return e.I8(int8(v))
	}
	if err := e.I8(math.MinInt8); err != nil {
		return err
	}
	return e.I64(v)
}

// Float writes the marker form read by Decoder.Float. Positive zero is
// a single zero byte; every other value carries a body.
func (e *Encoder) Float(v float32) error {
	if math.Float32bits(v) == 0 {
		return e.U8(0)
	}
	if err := e.U8(FloatBody); err != nil {
		return err
	}
	return e.F32(v)
}

// EncryptBlock XORs buf with the key stream from its start.
func (e *Encoder) EncryptBlock(buf []byte) {
	e.cipher.Seek(0)
	e.cipher.Encrypt(buf)
}

// EncryptedString writes s in the form read by Decoder.EncryptedString.
// ASCII strings use the single-byte form, everything else is UTF-16.
func (e *Encoder) EncryptedString(s string) error {
	if s == "" {
		return e.U8(0)
	}

	if isASCII(s) {
		n := len(s)
		if n < math.MaxInt8+1 {
			if err := e.I8(int8(-n)); err != nil {
				return err
			}
		} else {
			if err := e.I8(math.MinInt8); err != nil {
				return err
			}
			if err := e.I32(int32(n)); err != nil {
				return err
			}
		}

		buf := []byte(s)
		mask := byte(0xAA)
		for i := range buf {
			buf[i] ^= mask
			mask++
		}
		e.EncryptBlock(buf)
		return e.write(buf)
	}

	buf, err := utf16le.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUtf8, err)
	}
	n := len(buf) / 2
	if n < math.MaxInt8 {
		if err := e.I8(int8(n)); err != nil {
			return err
		}
	} else {
		if err := e.I8(math.MaxInt8); err != nil {
			return err
		}
		if err := e.I32(int32(n)); err != nil {
			return err
		}
	}

	mask := uint16(0xAAAA)
	for i := 0; i+1 < len(buf); i += 2 {
		binary.LittleEndian.PutUint16(buf[i:], binary.LittleEndian.Uint16(buf[i:])^mask)
		mask++
	}
	e.EncryptBlock(buf)
	return e.write(buf)
}

// Offset encrypts and writes an absolute offset at the current position.
func (e *Encoder) Offset(contentStart, versionHash, offset uint32) error {
	return e.U32(EncryptOffset(uint32(e.pos), contentStart, versionHash, offset))
}

// CompressedIntSize is the encoded size of a compressed int.
func CompressedIntSize(v int32) int {
	if v > math.MinInt8 && v <= math.MaxInt8 {
		return 1
	}
	return 5
}

// CompressedLongSize is the encoded size of a compressed long.
func CompressedLongSize(v int64) int {
	if v > math.MinInt8 && v <= math.MaxInt8 {
		return 1
	}
	return 9
}

// StringSize is the encoded size of an encrypted string without a tag.
func StringSize(s string) int {
	if s == "" {
		return 1
	}
	if isASCII(s) {
		if len(s) < math.MaxInt8+1 {
			return 1 + len(s)
		}
		return 5 + len(s)
	}
	n := utf16Len(s)
	if n < math.MaxInt8 {
		return 1 + 2*n
	}
	return 5 + 2*n
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		if r >= 0x10000 {
			n += 2
		} else {
			n++
		}
	}
	return n
}
