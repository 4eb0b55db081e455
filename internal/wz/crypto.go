package wz

import (
	"fmt"
	"math/bits"
	"strconv"
)

// OffsetConstant is used in WZ offset decryption.
// Reference: MapleLib WzAESConstant.WZ_OffsetConstant
const OffsetConstant = 0x581C3F6D

// offsetKey derives the XOR key for an offset stored at currentPos.
func offsetKey(currentPos, contentStart, versionHash uint32) uint32 {
	key := (currentPos - contentStart) ^ 0xFFFFFFFF
	key *= versionHash
	key -= OffsetConstant
	return bits.RotateLeft32(key, int(key&0x1F))
}

// DecryptOffset decrypts a WZ file offset using the version hash.
//
// The decryption algorithm:
//  1. Calculate: (currentPos - contentStart) XOR 0xFFFFFFFF
//  2. Multiply by version hash
//  3. Subtract constant: 0x581C3F6D
//  4. Rotate left by (result & 0x1F) bits
//  5. XOR with the encrypted offset read from file
//  6. Add contentStart × 2
//
// currentPos is the file position of the 4 offset bytes (before reading them).
//
// Reference: MapleLib WzBinaryReader.ReadOffset
func DecryptOffset(currentPos, contentStart, versionHash, encryptedOffset uint32) uint32 {
	return (encryptedOffset ^ offsetKey(currentPos, contentStart, versionHash)) + contentStart*2
}

// EncryptOffset is the inverse of DecryptOffset.
func EncryptOffset(currentPos, contentStart, versionHash, offset uint32) uint32 {
	return (offset - contentStart*2) ^ offsetKey(currentPos, contentStart, versionHash)
}

// VersionHash calculates the version hash from a game version number.
//
// Algorithm, over the decimal digits of version:
//
//	hash = 0
//	for each character:
//	  hash = (hash * 32) + ASCII_value + 1
//
// This hash is used for offset decryption (see DecryptOffset).
func VersionHash(version int) uint32 {
	hash := uint32(0)
	for _, ch := range strconv.Itoa(version) {
		hash = (hash << 5) + uint32(ch) + 1
	}
	return hash
}

// EncryptVersion folds a version hash into the 16-bit value stored in
// the archive header.
//
// Algorithm:
//  1. XOR all 4 bytes of the hash together
//  2. Bitwise NOT the result
//  3. Return low byte as uint16
func EncryptVersion(hash uint32) uint16 {
	b1 := byte(hash & 0xFF)
	b2 := byte((hash >> 8) & 0xFF)
	b3 := byte((hash >> 16) & 0xFF)
	b4 := byte((hash >> 24) & 0xFF)

	return uint16(^(b1 ^ b2 ^ b3 ^ b4))
}

// Checksum returns the stored checksum and version hash for a version.
func Checksum(version int) (encrypted uint16, hash uint32) {
	hash = VersionHash(version)
	return EncryptVersion(hash), hash
}

// BruteForceVersion searches versions 1..MaxVersion for one whose
// checksum matches encrypted. Each match is offered to accept, which
// may reject it (for example because the decoded offsets are out of
// range). An error from accept stops the search.
func BruteForceVersion(encrypted uint16, accept func(version int, hash uint32) (bool, error)) (int, uint32, error) {
	for v := 1; v <= MaxVersion; v++ {
		x, hash := Checksum(v)
		if x != encrypted {
			continue
		}

		ok, err := accept(v, hash)
		if err != nil {
			return 0, 0, err
		}
		if ok {
			return v, hash, nil
		}
	}
	return 0, 0, fmt.Errorf("%w: stored checksum %d", ErrBruteForceChecksum, encrypted)
}
