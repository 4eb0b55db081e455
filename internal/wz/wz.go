package wz

// Header is the header of a WZ file.
type Header struct {
	Magic        [4]byte // "PKG1" for valid WZ files
	Size         uint64  // size of data section (from ContentStart to EOF)
	ContentStart uint32  // where the data section starts
	Description  string
	// EncryptedVersion is the obfuscated version checksum stored at
	// ContentStart. The root package follows it.
	EncryptedVersion uint16
}

// HeaderSize returns the content start for a given description:
// magic, size, content start, description and its NUL.
func HeaderSize(description string) uint32 {
	return uint32(4 + 8 + 4 + len(description) + 1)
}

// RootOffset is the absolute position of the root package.
func (h *Header) RootOffset() int64 {
	return int64(h.ContentStart) + 2
}

// Contains reports whether an absolute offset lies inside the data section.
func (h *Header) Contains(offset uint32) bool {
	return uint64(offset) >= uint64(h.ContentStart) &&
		uint64(offset) < uint64(h.ContentStart)+h.Size
}

// ContentTag identifies a package entry.
type ContentTag byte

const (
	// ContentDeleted (0x01) indicates that the data for this entry
	// should be ignored. The next 10 bytes after discovering this byte
	// should be skipped.
	ContentDeleted ContentTag = iota + 1
	// ContentReference (0x02) indicates that the tag and name of this
	// entry are stored at another location in the file. The next read
	// is an int32 offset relative to Header.ContentStart pointing at a
	// ContentPackage or ContentImage tag followed by the name. Size,
	// checksum and offset follow inline.
	//
	// [0x02][name_offset(int32)][size(compressed int32)][checksum(compressed int32)][offset(uint32)]
	ContentReference
	// ContentPackage (0x03) indicates that this entry is a subpackage.
	// [0x03][name(string)][size(compressed int32)][checksum(compressed int32)][offset(uint32)]
	ContentPackage
	// ContentImage (0x04) indicates that this entry is an image.
	// [0x04][name(string)][size(compressed int32)][checksum(compressed int32)][offset(uint32)]
	ContentImage
)

func (t ContentTag) String() string {
	switch t {
	case ContentDeleted:
		return "deleted"
	case ContentReference:
		return "reference"
	case ContentPackage:
		return "package"
	case ContentImage:
		return "image"
	default:
		return "unknown"
	}
}
