package crypto

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownRegion is returned for a region name that has no known IV.
var ErrUnknownRegion = errors.New("unknown game region")

// Region selects the cipher an archive was written with.
type Region int

const (
	RegionNone Region = iota
	RegionGMS
	RegionKMS
)

var (
	GMSIV = [4]byte{0x4D, 0x23, 0xC7, 0x2B}
	KMSIV = [4]byte{0xB9, 0x7D, 0x63, 0xE9}
)

// ParseRegion maps a region name (gms, kms, none) to a Region.
func ParseRegion(name string) (Region, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "gms":
		return RegionGMS, nil
	case "kms":
		return RegionKMS, nil
	case "none", "":
		return RegionNone, nil
	default:
		return RegionNone, fmt.Errorf("%w: %s", ErrUnknownRegion, name)
	}
}

func (r Region) String() string {
	switch r {
	case RegionGMS:
		return "gms"
	case RegionKMS:
		return "kms"
	case RegionNone:
		return "none"
	default:
		return "unknown"
	}
}

// Cipher returns a fresh cipher for the region. Each reader or writer
// should own its own cipher because the cursor is stateful.
func (r Region) Cipher() (Cipher, error) {
	switch r {
	case RegionGMS:
		return New(TrimmedKey(), GMSIV)
	case RegionKMS:
		return New(TrimmedKey(), KMSIV)
	case RegionNone:
		return &Dummy{}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownRegion, int(r))
	}
}
