// Package archive reads and writes WZ archives: the header, the version
// checksum and the package tree whose leaves are images.
package archive

import (
	"bytes"
	"fmt"
	"io"

	"github.com/ossyrian/mintywz/internal/tree"
	"github.com/ossyrian/mintywz/internal/wz"
)

// Kind tells packages and images apart.
type Kind int

const (
	KindPackage Kind = iota
	KindImage
)

func (k Kind) String() string {
	switch k {
	case KindPackage:
		return "package"
	case KindImage:
		return "image"
	default:
		return "unknown"
	}
}

// ImageSource provides the raw bytes of an image.
type ImageSource interface {
	Size() int64
	Open() (io.ReadCloser, error)
}

// Content is the value of an archive tree node. Size, Checksum and
// Offset are what the archive declared; the writer recomputes them.
type Content struct {
	Kind     Kind
	Size     int32
	Checksum int32
	Offset   uint32
	Source   ImageSource
}

// Archive is a decoded package tree. It does not reference the file it
// was read from except through image sources, which either hold a copy
// of the image or reopen the file by path, so they outlive the Reader.
type Archive struct {
	Header  wz.Header
	Version int
	Hash    uint32
	Tree    *tree.Tree[Content]
}

// New returns an empty archive whose root package is named name.
func New(name string, version int) *Archive {
	if version == 0 {
		version = wz.DefaultVersion
	}
	encrypted, hash := wz.Checksum(version)
	return &Archive{
		Header: wz.Header{
			Magic:            wz.Magic,
			ContentStart:     wz.HeaderSize(wz.DefaultDescription),
			Description:      wz.DefaultDescription,
			EncryptedVersion: encrypted,
		},
		Version: version,
		Hash:    hash,
		Tree:    tree.New(name, Content{Kind: KindPackage}),
	}
}

// AddPackage inserts a package under parent.
func (a *Archive) AddPackage(parent tree.Handle, name string) (tree.Handle, error) {
	return a.Tree.InsertChild(parent, name, Content{Kind: KindPackage})
}

// AddImage inserts an image under parent. Images must not be empty: an
// empty image placed last would point at the end of the data section.
func (a *Archive) AddImage(parent tree.Handle, name string, src ImageSource) (tree.Handle, error) {
	if src.Size() <= 0 || src.Size() > int64(^uint32(0)>>1) {
		return tree.NoHandle, fmt.Errorf("%w: image %s is %d bytes", wz.ErrInvalidLength, name, src.Size())
	}
	return a.Tree.InsertChild(parent, name, Content{
		Kind:   KindImage,
		Size:   int32(src.Size()),
		Source: src,
	})
}

// BytesImage is an in-memory image source.
type BytesImage []byte

func (b BytesImage) Size() int64 { return int64(len(b)) }

func (b BytesImage) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b)), nil
}

// ReadImage copies the whole source into memory.
func ReadImage(src ImageSource) ([]byte, error) {
	rc, err := src.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	buf := make([]byte, src.Size())
	if _, err := io.ReadFull(rc, buf); err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	return buf, nil
}
