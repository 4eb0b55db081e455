package wz

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidMagic       = errors.New("invalid WZ magic")
	ErrBruteForceChecksum = errors.New("failed to brute force version checksum")
	ErrVersionMismatch    = errors.New("version does not match archive checksum")
	ErrInvalidReference   = errors.New("invalid string reference")
	ErrImageSizeMismatch  = errors.New("object size mismatch")
	ErrUtf8               = errors.New("invalid string encoding")
	ErrInvalidOffset      = errors.New("offset outside data section")
	ErrInvalidLength      = errors.New("invalid length")
	ErrInvalidHeader      = errors.New("invalid header")
	ErrInvalidImage       = errors.New("invalid image")
)

// InvalidContentTypeError is returned for an unknown package entry tag.
type InvalidContentTypeError struct {
	Tag byte
}

func (e *InvalidContentTypeError) Error() string {
	return fmt.Sprintf("invalid content type: 0x%02X", e.Tag)
}

// InvalidTagError is returned for an unknown property value or string tag.
type InvalidTagError struct {
	Tag     byte
	Context string
}

func (e *InvalidTagError) Error() string {
	return fmt.Sprintf("invalid %s tag: 0x%02X", e.Context, e.Tag)
}

// UnknownObjectTypeError is returned for an object type name the image
// decoder does not know.
type UnknownObjectTypeError struct {
	Name string
}

func (e *UnknownObjectTypeError) Error() string {
	return fmt.Sprintf("unknown object type: %q", e.Name)
}

// CanvasUnsupportedFormatError is returned for canvas pixel formats that
// cannot be decompressed.
type CanvasUnsupportedFormatError struct {
	Format int32
}

func (e *CanvasUnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported canvas format: %d", e.Format)
}

// IsFormatError reports whether err means the archive bytes are
// malformed, as opposed to an I/O failure.
func IsFormatError(err error) bool {
	if err == nil {
		return false
	}

	var (
		contentErr *InvalidContentTypeError
		tagErr     *InvalidTagError
		objectErr  *UnknownObjectTypeError
		canvasErr  *CanvasUnsupportedFormatError
	)
	switch {
	case errors.As(err, &contentErr),
		errors.As(err, &tagErr),
		errors.As(err, &objectErr),
		errors.As(err, &canvasErr):
		return true
	}

	for _, target := range []error{
		ErrInvalidMagic,
		ErrVersionMismatch,
		ErrInvalidReference,
		ErrImageSizeMismatch,
		ErrUtf8,
		ErrInvalidOffset,
		ErrInvalidLength,
		ErrInvalidHeader,
		ErrInvalidImage,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
