package wz

// Magic is the magic number identifying valid WZ files ("PKG1")
var Magic = [4]byte{'P', 'K', 'G', '1'}

const (
	// DefaultDescription is the header description written by the game's
	// own packer.
	DefaultDescription = "Package file v1.0 Copyright 2002 Wizet, ZMS"

	// MaxVersion bounds the version brute force.
	MaxVersion = 32767

	// DefaultVersion is used when writing archives without an explicit version.
	DefaultVersion = 83
)

// String block tags. Property names, string values and UOL paths use
// the 0x00/0x01 pair; object type names use 0x73/0x1B. Readers accept
// either pair in both places.
const (
	StringInline    byte = 0x00
	StringReference byte = 0x01
	ObjectInline    byte = 0x73
	ObjectReference byte = 0x1B
)

// Float sentinel: a value byte of FloatBody means four bytes of float32
// follow, anything else stands for 0.0.
const FloatBody byte = 0x80
