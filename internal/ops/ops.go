// Package ops implements the archive operations behind the command line:
// listing, extraction, creation and debug dumps.
package ops

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/ossyrian/mintywz/internal/archive"
	"github.com/ossyrian/mintywz/internal/crypto"
	"github.com/ossyrian/mintywz/internal/image"
	"github.com/ossyrian/mintywz/internal/tree"
	"github.com/ossyrian/mintywz/internal/wz"
)

// ErrUnsafeName is returned when an entry name cannot be used as a
// file name.
var ErrUnsafeName = errors.New("unsafe entry name")

// Options configures every operation.
type Options struct {
	Region crypto.Region
	// Version is the game version. Zero brute forces when reading and
	// uses wz.DefaultVersion when writing.
	Version   int
	Workers   int
	Mmap      bool
	CacheSize int
	Logger    *slog.Logger

	// Deep makes List descend into images.
	Deep bool
	// RootName names the root package. It defaults to the archive file
	// name without its extension.
	RootName string
	// Subpath restricts Debug to one node.
	Subpath string
	// Images makes Debug include decoded images.
	Images bool
}

func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

func (o Options) rootName(path string) string {
	if o.RootName != "" {
		return o.RootName
	}
	return baseName(path)
}

func baseName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// open reads the package tree of the archive at path.
func open(fs afero.Fs, path string, opts Options) (*archive.Reader, *archive.Archive, error) {
	r, err := archive.Open(fs, path, archive.Options{
		Region:    opts.Region,
		Version:   opts.Version,
		CacheSize: opts.CacheSize,
		Mmap:      opts.Mmap,
		RootName:  opts.rootName(path),
		Logger:    opts.logger().With("file", path),
	})
	if err != nil {
		return nil, nil, err
	}

	a, err := r.Read()
	if err != nil {
		r.Close()
		return nil, nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return r, a, nil
}

// openImage decodes a standalone image file.
func openImage(fs afero.Fs, path string, opts Options) (*image.Image, error) {
	var (
		src archive.Source
		err error
	)
	if opts.Mmap {
		src, err = archive.OpenMmap(path)
	} else {
		src, err = archive.OpenFile(fs, path)
	}
	if err != nil {
		return nil, err
	}
	defer src.Close()

	c, err := opts.Region.Cipher()
	if err != nil {
		return nil, err
	}

	name := opts.RootName
	if name == "" {
		name = filepath.Base(path)
	}
	img, err := image.Decode(wz.NewDecoder(src, c), 0, name)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return img, nil
}

// relPath is the slash path of h below the root, with a leading slash.
func relPath(t *tree.Tree[archive.Content], h tree.Handle) (string, error) {
	var names []string
	for cur := h; cur != t.Root(); {
		name, err := t.Name(cur)
		if err != nil {
			return "", err
		}
		if name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
			return "", fmt.Errorf("%w: %q", ErrUnsafeName, name)
		}
		names = append(names, name)
		if cur, err = t.Parent(cur); err != nil {
			return "", err
		}
	}

	var b strings.Builder
	for i := len(names) - 1; i >= 0; i-- {
		b.WriteByte('/')
		b.WriteString(names[i])
	}
	return b.String(), nil
}
