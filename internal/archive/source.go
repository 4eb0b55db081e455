package archive

import (
	"bytes"
	"fmt"
	"io"

	"github.com/spf13/afero"
	"golang.org/x/exp/mmap"
)

// Source is a seekable archive file.
type Source interface {
	io.ReadSeeker
	io.ReaderAt
	io.Closer
}

// OpenFile opens path through fs.
func OpenFile(fs afero.Fs, path string) (Source, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	return f, nil
}

type mmapSource struct {
	*io.SectionReader
	m *mmap.ReaderAt
}

func (s *mmapSource) Close() error {
	return s.m.Close()
}

// OpenMmap maps path into memory. It always uses the OS filesystem.
func OpenMmap(path string) (Source, error) {
	m, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("mmap archive: %w", err)
	}
	return &mmapSource{
		SectionReader: io.NewSectionReader(m, 0, int64(m.Len())),
		m:             m,
	}, nil
}

type bytesSource struct {
	*bytes.Reader
}

func (bytesSource) Close() error { return nil }

// NewBytesSource wraps an in-memory archive.
func NewBytesSource(b []byte) Source {
	return bytesSource{bytes.NewReader(b)}
}

// sectionImage is an image stored inside an archive file.
type sectionImage struct {
	open   func() (Source, error)
	offset int64
	size   int64
}

func (s *sectionImage) Size() int64 { return s.size }

// Open returns a reader over the image bytes. Every call gets its own
// handle, so images can be read from several goroutines.
func (s *sectionImage) Open() (io.ReadCloser, error) {
	src, err := s.open()
	if err != nil {
		return nil, err
	}
	return &sectionReadCloser{
		SectionReader: io.NewSectionReader(src, s.offset, s.size),
		src:           src,
	}, nil
}

type sectionReadCloser struct {
	*io.SectionReader
	src Source
}

func (s *sectionReadCloser) Close() error {
	return s.src.Close()
}
