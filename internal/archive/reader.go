package archive

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/spf13/afero"

	"github.com/ossyrian/mintywz/internal/crypto"
	"github.com/ossyrian/mintywz/internal/image"
	"github.com/ossyrian/mintywz/internal/tree"
	"github.com/ossyrian/mintywz/internal/wz"
)

// deletedEntrySize is the number of bytes following a deleted entry tag.
const deletedEntrySize = 10

// Options configures a Reader.
type Options struct {
	Region crypto.Region
	// Version is the game version. Zero means brute force.
	Version int
	// CacheSize is the number of decoded images kept. Zero disables
	// the cache.
	CacheSize int
	// Mmap maps the file instead of reading it through the filesystem.
	Mmap     bool
	RootName string
	Logger   *slog.Logger
}

// Reader reads information from WZ files.
type Reader struct {
	src    Source
	length int64
	open   func() (Source, error)
	d      *wz.Decoder
	logger *slog.Logger
	header *wz.Header // WZ file header

	rootName string
	version  int
	hash     uint32
	cache    *lru.Cache[uint32, *image.Image]
}

// NewReader reads from src. Since src cannot be reopened, Read copies
// every image out of it, and the returned Archive stays usable after
// Close.
func NewReader(src Source, opts Options) (*Reader, error) {
	c, err := opts.Region.Cipher()
	if err != nil {
		return nil, err
	}
	length, err := src.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to measure archive: %w", err)
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to rewind archive: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Reader{
		src:      src,
		length:   length,
		d:        wz.NewDecoder(src, c),
		logger:   logger,
		version:  opts.Version,
		rootName: opts.RootName,
	}
	if opts.CacheSize > 0 {
		if r.cache, err = lru.New[uint32, *image.Image](opts.CacheSize); err != nil {
			return nil, fmt.Errorf("failed to create image cache: %w", err)
		}
	}
	return r, nil
}

// Open opens the archive at path. Every image source it hands out opens
// the file again, so images can be copied in parallel.
func Open(fs afero.Fs, path string, opts Options) (*Reader, error) {
	open := func() (Source, error) {
		if opts.Mmap {
			return OpenMmap(path)
		}
		return OpenFile(fs, path)
	}

	src, err := open()
	if err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = slog.With("file", path)
	}

	r, err := NewReader(src, opts)
	if err != nil {
		src.Close()
		return nil, err
	}
	r.open = open
	return r, nil
}

// Close closes the underlying source.
func (r *Reader) Close() error {
	return r.src.Close()
}

// Header returns the header read by ReadHeader, or nil.
func (r *Reader) Header() *wz.Header {
	return r.header
}

// Version returns the detected or configured version.
func (r *Reader) Version() (int, uint32) {
	return r.version, r.hash
}

// ReadHeader reads header information from a WZ file.
// It fails if the first 4 bytes are not wz.Magic or if the declared
// data section does not fit in the file.
func (r *Reader) ReadHeader() (*wz.Header, error) {
	h := &wz.Header{}

	if err := r.d.Seek(0); err != nil {
		return nil, err
	}
	magic, err := r.d.Bytes(len(h.Magic))
	if err != nil {
		return nil, fmt.Errorf("failed to read magic: %w", err)
	}
	copy(h.Magic[:], magic)
	if h.Magic != wz.Magic {
		return nil, fmt.Errorf("%w: expected %q, got %q", wz.ErrInvalidMagic, wz.Magic, h.Magic)
	}

	if h.Size, err = r.d.U64(); err != nil {
		return nil, fmt.Errorf("failed to read data size: %w", err)
	}
	if h.ContentStart, err = r.d.U32(); err != nil {
		return nil, fmt.Errorf("failed to read content start: %w", err)
	}
	if h.ContentStart < 16 || int64(h.ContentStart) > r.length {
		return nil, fmt.Errorf("%w: content start %d in a file of %d bytes", wz.ErrInvalidHeader, h.ContentStart, r.length)
	}

	// the description runs up to its NUL or to the data section
	desc, err := r.d.Bytes(int(h.ContentStart) - 16)
	if err != nil {
		return nil, fmt.Errorf("failed to read description: %w", err)
	}
	if i := bytes.IndexByte(desc, 0); i >= 0 {
		desc = desc[:i]
	}
	h.Description = string(desc)

	if uint64(h.ContentStart)+h.Size > uint64(r.length) {
		return nil, fmt.Errorf("%w: data section of %d bytes at %d exceeds file size %d",
			wz.ErrInvalidHeader, h.Size, h.ContentStart, r.length)
	}

	if err := r.d.Seek(int64(h.ContentStart)); err != nil {
		return nil, err
	}
	if h.EncryptedVersion, err = r.d.U16(); err != nil {
		return nil, fmt.Errorf("failed to read version header: %w", err)
	}

	r.logger.Info("header is valid",
		"magic", string(h.Magic[:]),
		"size", h.Size,
		"content_start", h.ContentStart,
		"description", h.Description,
		"encrypted_version", h.EncryptedVersion,
	)

	r.header = h
	return h, nil
}

// DetectVersion checks the configured version against the header, or
// brute forces one whose root package offsets are all in range.
func (r *Reader) DetectVersion() (int, uint32, error) {
	if r.header == nil {
		if _, err := r.ReadHeader(); err != nil {
			return 0, 0, err
		}
	}

	if r.version != 0 {
		encrypted, hash := wz.Checksum(r.version)
		if encrypted != r.header.EncryptedVersion {
			return 0, 0, fmt.Errorf("%w: version %d has checksum %d, archive has %d",
				wz.ErrVersionMismatch, r.version, encrypted, r.header.EncryptedVersion)
		}
		r.hash = hash
		return r.version, hash, nil
	}

	v, hash, err := wz.BruteForceVersion(r.header.EncryptedVersion, func(v int, hash uint32) (bool, error) {
		if err := r.d.Seek(r.header.RootOffset()); err != nil {
			return false, err
		}
		if _, err := r.readEntries(hash); err != nil {
			if errors.Is(err, wz.ErrInvalidOffset) {
				r.logger.Debug("rejected version candidate", "version", v, "error", err)
				return false, nil
			}
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return 0, 0, err
	}

	r.logger.Info("detected version", "version", v, "hash", hash)
	r.version, r.hash = v, hash
	return v, hash, nil
}

type entry struct {
	tag      wz.ContentTag
	name     string
	size     int32
	checksum int32
	offset   uint32
}

// readEntry reads a single package entry.
// Returns nil if the entry is deleted (tag 1).
func (r *Reader) readEntry(hash uint32) (*entry, error) {
	tag, err := r.d.U8()
	if err != nil {
		return nil, fmt.Errorf("failed to read entry type: %w", err)
	}

	e := &entry{tag: wz.ContentTag(tag)}
	switch e.tag {
	case wz.ContentDeleted:
		if err := r.d.Skip(deletedEntrySize); err != nil {
			return nil, fmt.Errorf("failed to skip deleted entry: %w", err)
		}
		return nil, nil

	case wz.ContentReference:
		// tag and name live elsewhere, the rest follows inline
		rel, err := r.d.I32()
		if err != nil {
			return nil, fmt.Errorf("failed to read reference offset: %w", err)
		}
		resume := r.d.Pos()

		at := int64(r.header.ContentStart) + int64(rel)
		if err := r.d.Seek(at); err != nil {
			return nil, fmt.Errorf("failed to seek to entry name at offset %d: %w", at, err)
		}
		actual, err := r.d.U8()
		if err != nil {
			return nil, fmt.Errorf("failed to read referenced entry type: %w", err)
		}
		e.tag = wz.ContentTag(actual)
		if e.tag != wz.ContentPackage && e.tag != wz.ContentImage {
			return nil, &wz.InvalidContentTypeError{Tag: actual}
		}
		if e.name, err = r.d.EncryptedString(); err != nil {
			return nil, fmt.Errorf("failed to read referenced entry name: %w", err)
		}
		if err := r.d.Seek(resume); err != nil {
			return nil, err
		}

	case wz.ContentPackage, wz.ContentImage:
		if e.name, err = r.d.EncryptedString(); err != nil {
			return nil, fmt.Errorf("failed to read entry name: %w", err)
		}

	default:
		return nil, &wz.InvalidContentTypeError{Tag: tag}
	}

	if e.size, err = r.d.CompressedInt(); err != nil {
		return nil, fmt.Errorf("failed to read size for %s: %w", e.name, err)
	}
	if e.checksum, err = r.d.CompressedInt(); err != nil {
		return nil, fmt.Errorf("failed to read checksum for %s: %w", e.name, err)
	}

	pos := r.d.Pos()
	if e.offset, err = r.d.Offset(r.header.ContentStart, hash); err != nil {
		return nil, fmt.Errorf("failed to read offset for %s: %w", e.name, err)
	}
	if !r.header.Contains(e.offset) {
		return nil, fmt.Errorf("%w: %s points to %d (entry at %d)", wz.ErrInvalidOffset, e.name, e.offset, pos)
	}
	if e.tag == wz.ContentImage && (e.size < 0 || uint64(e.offset)+uint64(e.size) > uint64(r.header.ContentStart)+r.header.Size) {
		return nil, fmt.Errorf("%w: image %s of %d bytes at %d", wz.ErrInvalidLength, e.name, e.size, e.offset)
	}
	return e, nil
}

// readEntries reads the package at the current position.
func (r *Reader) readEntries(hash uint32) ([]entry, error) {
	count, err := r.d.CompressedInt()
	if err != nil {
		return nil, fmt.Errorf("failed to read entry count: %w", err)
	}
	if count < 0 {
		return nil, fmt.Errorf("%w: entry count %d", wz.ErrInvalidLength, count)
	}

	r.logger.Debug("reading package entries", "entry_count", count)

	entries := make([]entry, 0, min(int(count), 1024))
	for i := 0; i < int(count); i++ {
		e, err := r.readEntry(hash)
		if err != nil {
			return nil, fmt.Errorf("failed to read entry %d: %w", i, err)
		}
		// ignore deleted entries
		if e == nil {
			continue
		}
		entries = append(entries, *e)

		r.logger.Debug("read package entry",
			"index", i,
			"type", e.tag,
			"name", e.name,
			"size", e.size,
			"checksum", e.checksum,
			"offset", e.offset,
		)
	}
	return entries, nil
}

func (r *Reader) readPackage(a *Archive, parent tree.Handle, offset int64, seen map[int64]bool) error {
	if seen[offset] {
		return fmt.Errorf("%w: package at %d is reachable twice", wz.ErrInvalidOffset, offset)
	}
	seen[offset] = true

	if err := r.d.Seek(offset); err != nil {
		return err
	}
	entries, err := r.readEntries(r.hash)
	if err != nil {
		return err
	}

	for _, e := range entries {
		c := Content{
			Size:     e.size,
			Checksum: e.checksum,
			Offset:   e.offset,
		}
		if e.tag == wz.ContentImage {
			c.Kind = KindImage
			if c.Source, err = r.imageSource(e); err != nil {
				return err
			}
		}

		h, err := a.Tree.InsertChild(parent, e.name, c)
		if err != nil {
			return fmt.Errorf("failed to add %s: %w", e.name, err)
		}
		if e.tag == wz.ContentPackage {
			if err := r.readPackage(a, h, int64(e.offset), seen); err != nil {
				return fmt.Errorf("failed to read package %s: %w", e.name, err)
			}
		}
	}
	return nil
}

// imageSource reopens the archive for each read when it was opened by
// path, and copies the image out of the source otherwise.
func (r *Reader) imageSource(e entry) (ImageSource, error) {
	if r.open != nil {
		return &sectionImage{open: r.open, offset: int64(e.offset), size: int64(e.size)}, nil
	}
	b := make([]byte, e.size)
	if _, err := r.src.ReadAt(b, int64(e.offset)); err != nil {
		return nil, fmt.Errorf("failed to copy image %s: %w", e.name, err)
	}
	return BytesImage(b), nil
}

// Read reads the header, settles the version and reads the whole
// package tree. Images are not decoded.
func (r *Reader) Read() (*Archive, error) {
	if _, err := r.ReadHeader(); err != nil {
		return nil, err
	}
	if _, _, err := r.DetectVersion(); err != nil {
		return nil, err
	}

	a := &Archive{
		Header:  *r.header,
		Version: r.version,
		Hash:    r.hash,
		Tree:    tree.New(r.rootName, Content{Kind: KindPackage, Offset: uint32(r.header.RootOffset())}),
	}
	if err := r.readPackage(a, a.Tree.Root(), r.header.RootOffset(), make(map[int64]bool)); err != nil {
		return nil, err
	}

	r.logger.Info("read archive", "nodes", a.Tree.Len(), "version", r.version)
	return a, nil
}

// Image decodes the image stored at c. Decoded images are cached by
// offset; a cached image is shared and must not be modified.
func (r *Reader) Image(name string, c Content) (*image.Image, error) {
	if c.Kind != KindImage {
		return nil, fmt.Errorf("%w: %s is a %s", wz.ErrInvalidImage, name, c.Kind)
	}
	if r.cache != nil {
		if img, ok := r.cache.Get(c.Offset); ok {
			return img, nil
		}
	}

	img, err := image.Decode(r.d, int64(c.Offset), name)
	if err != nil {
		return nil, err
	}
	if end := int64(c.Offset) + int64(c.Size); r.d.Pos() > end {
		return nil, fmt.Errorf("%w: image %s read past its %d bytes", wz.ErrImageSizeMismatch, name, c.Size)
	}

	if r.cache != nil {
		r.cache.Add(c.Offset, img)
	}
	return img, nil
}

// ImageBytes copies the raw bytes of the image stored at c.
func (r *Reader) ImageBytes(c Content) ([]byte, error) {
	if c.Source == nil {
		return nil, fmt.Errorf("%w: entry has no image data", wz.ErrInvalidImage)
	}
	return ReadImage(c.Source)
}
