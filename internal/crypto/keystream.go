package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
)

// KeyBatchSize is the size in bytes of each key expansion batch.
// Keys are generated lazily in 4096-byte chunks to avoid allocating
// the entire key stream upfront.
const KeyBatchSize = 4096

// ErrKeyStream is returned when a key stream cannot be built or advanced.
var ErrKeyStream = errors.New("invalid key stream")

// UserKey is the 128-byte AES constant used by the game client.
//
// Reference: MapleLib MapleCryptoConstants.MAPLESTORY_USERKEY_DEFAULT
var UserKey = [128]byte{
	0x13, 0x00, 0x00, 0x00, 0x52, 0x00, 0x00, 0x00, 0x2A, 0x00, 0x00, 0x00, 0x5B, 0x00, 0x00, 0x00,
	0x08, 0x00, 0x00, 0x00, 0x02, 0x00, 0x00, 0x00, 0x10, 0x00, 0x00, 0x00, 0x60, 0x00, 0x00, 0x00,
	0x06, 0x00, 0x00, 0x00, 0x02, 0x00, 0x00, 0x00, 0x43, 0x00, 0x00, 0x00, 0x0F, 0x00, 0x00, 0x00,
	0xB4, 0x00, 0x00, 0x00, 0x4B, 0x00, 0x00, 0x00, 0x35, 0x00, 0x00, 0x00, 0x05, 0x00, 0x00, 0x00,
	0x1B, 0x00, 0x00, 0x00, 0x0A, 0x00, 0x00, 0x00, 0x5F, 0x00, 0x00, 0x00, 0x09, 0x00, 0x00, 0x00,
	0x0F, 0x00, 0x00, 0x00, 0x50, 0x00, 0x00, 0x00, 0x0C, 0x00, 0x00, 0x00, 0x1B, 0x00, 0x00, 0x00,
	0x33, 0x00, 0x00, 0x00, 0x55, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x09, 0x00, 0x00, 0x00,
	0x52, 0x00, 0x00, 0x00, 0xDE, 0x00, 0x00, 0x00, 0xC7, 0x00, 0x00, 0x00, 0x1E, 0x00, 0x00, 0x00,
}

// TrimmedKey derives the 32-byte AES key from UserKey.
// Every 16th byte of UserKey lands at every 4th position of the
// result; the remaining 24 bytes are zero.
//
// Reference: MapleLib MapleCryptoConstants.GetTrimmedUserKey
func TrimmedKey() []byte {
	key := make([]byte, 32)
	for i := 0; i < len(UserKey); i += 16 {
		key[i/4] = UserKey[i]
	}
	return key
}

// Cipher transforms buffers in place against a key stream and keeps a
// cursor into that stream. Decrypt and Encrypt are the same XOR; both
// advance the cursor by len(buf).
type Cipher interface {
	Decrypt(buf []byte)
	Encrypt(buf []byte)
	// Seek moves the cursor to an absolute key stream position.
	Seek(pos int)
	Position() int
}

// KeyStream is the AES-derived key stream used by WZ archives.
//
// Key stream generation:
//  1. Create a 16-byte initial block by repeating the 4-byte IV (IV, IV, IV, IV)
//  2. Encrypt the initial block with AES-256 ECB to get the first 16 bytes
//  3. Encrypt the previous 16 bytes to get the next 16 bytes
//  4. Repeat until the desired length is reached
//
// Special case: an all-zero IV yields an all-zero key stream.
//
// The byte at position p is a pure function of p, so seeking backwards
// only moves the cursor.
//
// Reference: MapleLib WzMutableKey
type KeyStream struct {
	iv      [4]byte
	block   cipher.Block
	keyData []byte // generated key stream (expanded on demand)
	pos     int
}

// New builds a key stream from a 32-byte AES key and a 4-byte IV.
//
// Known IVs:
//   - GMS: {0x4D, 0x23, 0xC7, 0x2B}
//   - KMS: {0xB9, 0x7D, 0x63, 0xE9}
func New(key []byte, iv [4]byte) (*KeyStream, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("%w: key length %d, want 32", ErrKeyStream, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyStream, err)
	}

	return &KeyStream{iv: iv, block: block}, nil
}

// ByteAt returns the key byte at the given index.
// If the key stream has not been generated up to this index,
// it will be expanded automatically.
func (k *KeyStream) ByteAt(index int) byte {
	k.expandTo(index + 1)
	return k.keyData[index]
}

// XORAt applies the key stream starting at pos to buf without moving
// the cursor.
func (k *KeyStream) XORAt(buf []byte, pos int) {
	if len(buf) == 0 {
		return
	}
	k.expandTo(pos + len(buf))
	for i := range buf {
		buf[i] ^= k.keyData[pos+i]
	}
}

func (k *KeyStream) Decrypt(buf []byte) {
	k.XORAt(buf, k.pos)
	k.pos += len(buf)
}

func (k *KeyStream) Encrypt(buf []byte) {
	k.Decrypt(buf)
}

func (k *KeyStream) Seek(pos int) {
	k.pos = pos
}

func (k *KeyStream) Position() int {
	return k.pos
}

// expandTo expands the key stream to at least size bytes.
// Keys are generated in KeyBatchSize (4096) byte batches.
func (k *KeyStream) expandTo(size int) {
	if len(k.keyData) >= size {
		return
	}

	// Round up to next batch boundary
	newSize := ((size + KeyBatchSize - 1) / KeyBatchSize) * KeyBatchSize
	newData := make([]byte, newSize)
	startIndex := copy(newData, k.keyData)

	if k.iv == [4]byte{} {
		k.keyData = newData
		return
	}

	input := make([]byte, 16)
	for i := startIndex; i < newSize; i += 16 {
		if i == 0 {
			for j := range input {
				input[j] = k.iv[j%4]
			}
		} else {
			copy(input, newData[i-16:i])
		}
		k.block.Encrypt(newData[i:i+16], input)
	}

	k.keyData = newData
}

// Dummy is a Cipher that leaves buffers untouched. It is used for
// unencrypted archives.
type Dummy struct {
	pos int
}

func (d *Dummy) Decrypt(buf []byte) { d.pos += len(buf) }
func (d *Dummy) Encrypt(buf []byte) { d.pos += len(buf) }
func (d *Dummy) Seek(pos int)       { d.pos = pos }
func (d *Dummy) Position() int      { return d.pos }
