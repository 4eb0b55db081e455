package wz

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"

	"github.com/ossyrian/mintywz/internal/crypto"
)

// maxStringLength bounds string allocations on corrupt input.
const maxStringLength = 1 << 24

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// Decoder reads WZ primitives from a seekable source. It keeps its own
// buffered view of the source and tracks the absolute position, which
// offset decryption depends on.
type Decoder struct {
	rs      io.ReadSeeker
	br      *bufio.Reader
	pos     int64
	cipher  crypto.Cipher
	scratch [8]byte
}

// NewDecoder wraps rs starting at its current position.
func NewDecoder(rs io.ReadSeeker, c crypto.Cipher) *Decoder {
	if c == nil {
		c = &crypto.Dummy{}
	}
	pos, _ := rs.Seek(0, io.SeekCurrent)
	return &Decoder{
		rs:     rs,
		br:     bufio.NewReader(rs),
		pos:    pos,
		cipher: c,
	}
}

// Pos returns the absolute position of the next byte to be read.
func (d *Decoder) Pos() int64 {
	return d.pos
}

// Cipher returns the cipher used for strings and encrypted blocks.
func (d *Decoder) Cipher() crypto.Cipher {
	return d.cipher
}

// Seek moves to an absolute position.
func (d *Decoder) Seek(pos int64) error {
	if pos == d.pos {
		return nil
	}
	if pos > d.pos && pos-d.pos <= int64(d.br.Buffered()) {
		n, err := d.br.Discard(int(pos - d.pos))
		d.pos += int64(n)
		return err
	}
	if _, err := d.rs.Seek(pos, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek to offset %d: %w", pos, err)
	}
	d.br.Reset(d.rs)
	d.pos = pos
	return nil
}

// Read implements io.Reader.
func (d *Decoder) Read(p []byte) (int, error) {
	n, err := d.br.Read(p)
	d.pos += int64(n)
	return n, err
}

func (d *Decoder) readFull(buf []byte) error {
	start := d.pos
	if _, err := io.ReadFull(d, buf); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return fmt.Errorf("failed to read %d bytes at offset %d: %w", len(buf), start, err)
	}
	return nil
}

// Bytes reads n raw bytes into a new slice.
func (d *Decoder) Bytes(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: %d at offset %d", ErrInvalidLength, n, d.pos)
	}
	buf := make([]byte, n)
	if err := d.readFull(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Peek returns the next n bytes without advancing.
func (d *Decoder) Peek(n int) ([]byte, error) {
	buf, err := d.br.Peek(n)
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("failed to peek %d bytes at offset %d: %w", n, d.pos, err)
	}
	return append([]byte(nil), buf...), nil
}

// Skip advances n bytes.
func (d *Decoder) Skip(n int64) error {
	return d.Seek(d.pos + n)
}

func (d *Decoder) U8() (uint8, error) {
	if err := d.readFull(d.scratch[:1]); err != nil {
		return 0, err
	}
	return d.scratch[0], nil
}

func (d *Decoder) U16() (uint16, error) {
	if err := d.readFull(d.scratch[:2]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(d.scratch[:2]), nil
}

func (d *Decoder) U32() (uint32, error) {
	if err := d.readFull(d.scratch[:4]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(d.scratch[:4]), nil
}

func (d *Decoder) U64() (uint64, error) {
	if err := d.readFull(d.scratch[:8]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(d.scratch[:8]), nil
}

func (d *Decoder) I8() (int8, error) {
	v, err := d.U8()
	return int8(v), err
}

func (d *Decoder) I16() (int16, error) {
	v, err := d.U16()
	return int16(v), err
}

func (d *Decoder) I32() (int32, error) {
	v, err := d.U32()
	return int32(v), err
}

func (d *Decoder) I64() (int64, error) {
	v, err := d.U64()
	return int64(v), err
}

func (d *Decoder) F32() (float32, error) {
	v, err := d.U32()
	return math.Float32frombits(v), err
}

func (d *Decoder) F64() (float64, error) {
	v, err := d.U64()
	return math.Float64frombits(v), err
}

// CompressedInt reads a WZ compressed integer.
// The WZ "compressed 32-bit integer" format is a one- or
// five-byte data type which can be read as follows:
//   - The first byte is always an int8. If its value fits
//     in the range [-127, 127], then it is the value of the
//     compressed integer.
//   - If the first byte is exactly -128, then the next
//     4 bytes are a little-endian int32.
func (d *Decoder) CompressedInt() (int32, error) {
	sb, err := d.I8()
	if err != nil {
		return 0, fmt.Errorf("failed to read compressed int marker: %w", err)
	}
	if sb != math.MinInt8 {
		return int32(sb), nil
	}
	v, err := d.I32()
	if err != nil {
		return 0, fmt.Errorf("failed to read compressed int value: %w", err)
	}
	return v, nil
}

// CompressedLong is CompressedInt with an int64 extension.
func (d *Decoder) CompressedLong() (int64, error) {
	sb, err := d.I8()
	if err != nil {
		return 0, fmt.Errorf("failed to read compressed long marker: %w", err)
	}
	if sb != math.MinInt8 {
		return int64(sb), nil
	}
	v, err := d.I64()
	if err != nil {
		return 0, fmt.Errorf("failed to read compressed long value: %w", err)
	}
	return v, nil
}

// Float reads a float stored behind a one-byte marker: FloatBody means
// a float32 follows, any other byte is 0.0.
func (d *Decoder) Float() (float32, error) {
	marker, err := d.U8()
	if err != nil {
		return 0, fmt.Errorf("failed to read float marker: %w", err)
	}
	if marker != FloatBody {
		return 0, nil
	}
	return d.F32()
}

// DecryptBlock XORs buf with the key stream from its start. Strings,
// canvas chunks and sound headers are each encrypted this way.
func (d *Decoder) DecryptBlock(buf []byte) {
	d.cipher.Seek(0)
	d.cipher.Decrypt(buf)
}

// EncryptedString reads a WZ encrypted string.
//
// Length indicator (1 byte, sbyte):
//   - 0: Empty string
//   - Positive (1 to 126): Unicode string, this many characters
//   - 127: Unicode string, read next 4 bytes (int32) for actual length
//   - Negative (-1 to -127): single-byte string, absolute value is length
//   - -128: single-byte string, read next 4 bytes (int32) for actual length
//
// The body is XORed with the key stream, then with an incrementing
// mask: 0xAAAA per character for Unicode, 0xAA per byte otherwise.
//
// Reference: MapleLib WzBinaryReader.ReadString
func (d *Decoder) EncryptedString() (string, error) {
	start := d.pos
	indicator, err := d.I8()
	if err != nil {
		return "", fmt.Errorf("failed to read string length indicator: %w", err)
	}
	if indicator == 0 {
		return "", nil
	}

	length := int32(indicator)
	unicodeString := indicator > 0
	if indicator == math.MaxInt8 || indicator == math.MinInt8 {
		if length, err = d.I32(); err != nil {
			return "", fmt.Errorf("failed to read string length: %w", err)
		}
	} else if !unicodeString {
		length = -length
	}
	if length < 0 || length > maxStringLength {
		return "", fmt.Errorf("%w: string length %d at offset %d", ErrInvalidLength, length, start)
	}

	if unicodeString {
		buf, err := d.Bytes(int(length) * 2)
		if err != nil {
			return "", fmt.Errorf("failed to read unicode string data: %w", err)
		}
		return d.decodeUnicode(buf, start)
	}

	buf, err := d.Bytes(int(length))
	if err != nil {
		return "", fmt.Errorf("failed to read string data: %w", err)
	}
	return d.decodeSingleByte(buf, start)
}

func (d *Decoder) decodeUnicode(buf []byte, start int64) (string, error) {
	d.DecryptBlock(buf)

	mask := uint16(0xAAAA)
	for i := 0; i+1 < len(buf); i += 2 {
		binary.LittleEndian.PutUint16(buf[i:], binary.LittleEndian.Uint16(buf[i:])^mask)
		mask++
	}
	if !validUTF16(buf) {
		return "", fmt.Errorf("%w: unpaired surrogate in string at offset %d", ErrUtf8, start)
	}

	out, err := utf16le.NewDecoder().Bytes(buf)
	if err != nil {
		return "", fmt.Errorf("%w: string at offset %d: %v", ErrUtf8, start, err)
	}
	return string(out), nil
}

func (d *Decoder) decodeSingleByte(buf []byte, start int64) (string, error) {
	d.DecryptBlock(buf)

	mask := byte(0xAA)
	for i := range buf {
		buf[i] ^= mask
		mask++
	}
	if !utf8.Valid(buf) {
		return "", fmt.Errorf("%w: string at offset %d", ErrUtf8, start)
	}
	return string(buf), nil
}

func validUTF16(buf []byte) bool {
	for i := 0; i+1 < len(buf); i += 2 {
		u := binary.LittleEndian.Uint16(buf[i:])
		switch {
		case u >= 0xD800 && u < 0xDC00:
			if i+3 >= len(buf) {
				return false
			}
			next := binary.LittleEndian.Uint16(buf[i+2:])
			if next < 0xDC00 || next >= 0xE000 {
				return false
			}
			i += 2
		case u >= 0xDC00 && u < 0xE000:
			return false
		}
	}
	return true
}

// Offset reads and decrypts an obfuscated offset (see DecryptOffset).
func (d *Decoder) Offset(contentStart, versionHash uint32) (uint32, error) {
	pos := uint32(d.pos)
	encrypted, err := d.U32()
	if err != nil {
		return 0, fmt.Errorf("failed to read encrypted offset: %w", err)
	}
	return DecryptOffset(pos, contentStart, versionHash, encrypted), nil
}
