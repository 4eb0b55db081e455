package ops

import (
	"fmt"
	"io"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/ossyrian/mintywz/internal/archive"
	"github.com/ossyrian/mintywz/internal/image"
	"github.com/ossyrian/mintywz/internal/tree"
)

type debugHeader struct {
	Magic            string `yaml:"magic"`
	Size             uint64 `yaml:"size"`
	ContentStart     uint32 `yaml:"content_start"`
	Description      string `yaml:"description"`
	EncryptedVersion uint16 `yaml:"encrypted_version"`
}

type debugArchive struct {
	Path    string      `yaml:"path"`
	Header  debugHeader `yaml:"header"`
	Version int         `yaml:"version"`
	Hash    uint32      `yaml:"hash"`
	Tree    *debugNode  `yaml:"tree"`
}

type debugNode struct {
	Name     string       `yaml:"name"`
	Kind     string       `yaml:"kind"`
	Size     int32        `yaml:"size,omitempty"`
	Checksum int32        `yaml:"checksum,omitempty"`
	Offset   uint32       `yaml:"offset,omitempty"`
	Value    any          `yaml:"value,omitempty"`
	Children []*debugNode `yaml:"children,omitempty"`
}

type debugVector struct {
	X int32 `yaml:"x"`
	Y int32 `yaml:"y"`
}

type debugLink struct {
	Path     string `yaml:"path"`
	Dangling bool   `yaml:"dangling,omitempty"`
}

type debugCanvas struct {
	Width    int32  `yaml:"width"`
	Height   int32  `yaml:"height"`
	Format   string `yaml:"format"`
	DataSize int    `yaml:"data_size"`
}

type debugSound struct {
	Duration int32 `yaml:"duration_ms"`
	DataSize int   `yaml:"data_size"`
}

// Debug writes a YAML dump of the header, the version and the package
// tree to w.
func Debug(fs afero.Fs, path string, w io.Writer, opts Options) error {
	r, a, err := open(fs, path, opts)
	if err != nil {
		return err
	}
	defer r.Close()

	start := a.Tree.Root()
	if opts.Subpath != "" {
		if start, err = a.Tree.Lookup(opts.Subpath); err != nil {
			return fmt.Errorf("failed to find %s: %w", opts.Subpath, err)
		}
	}

	root, err := debugContent(r, a.Tree, start, opts.Images)
	if err != nil {
		return err
	}

	return encodeYAML(w, debugArchive{
		Path: path,
		Header: debugHeader{
			Magic:            string(a.Header.Magic[:]),
			Size:             a.Header.Size,
			ContentStart:     a.Header.ContentStart,
			Description:      a.Header.Description,
			EncryptedVersion: a.Header.EncryptedVersion,
		},
		Version: a.Version,
		Hash:    a.Hash,
		Tree:    root,
	})
}

// DebugImage writes a YAML dump of a standalone image to w.
func DebugImage(fs afero.Fs, path string, w io.Writer, opts Options) error {
	img, err := openImage(fs, path, opts)
	if err != nil {
		return err
	}

	start := img.Root()
	if opts.Subpath != "" {
		if start, err = img.Lookup(opts.Subpath); err != nil {
			return fmt.Errorf("failed to find %s: %w", opts.Subpath, err)
		}
	}

	node, err := debugValue(img, start)
	if err != nil {
		return err
	}
	return encodeYAML(w, node)
}

func encodeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode debug dump: %w", err)
	}
	return enc.Close()
}

func debugContent(r *archive.Reader, t *tree.Tree[archive.Content], h tree.Handle, images bool) (*debugNode, error) {
	c, err := t.Get(h)
	if err != nil {
		return nil, err
	}
	name, err := t.Name(h)
	if err != nil {
		return nil, err
	}

	n := &debugNode{
		Name:     name,
		Kind:     c.Kind.String(),
		Size:     c.Size,
		Checksum: c.Checksum,
		Offset:   c.Offset,
	}

	if c.Kind == archive.KindImage {
		if !images {
			return n, nil
		}
		img, err := r.Image(name, c)
		if err != nil {
			return nil, err
		}
		decoded, err := debugValue(img, img.Root())
		if err != nil {
			return nil, err
		}
		n.Children = decoded.Children
		return n, nil
	}

	children, err := t.Children(h)
	if err != nil {
		return nil, err
	}
	for _, child := range children {
		cn, err := debugContent(r, t, child, images)
		if err != nil {
			return nil, err
		}
		n.Children = append(n.Children, cn)
	}
	return n, nil
}

func debugValue(img *image.Image, h tree.Handle) (*debugNode, error) {
	v, err := img.Get(h)
	if err != nil {
		return nil, err
	}
	name, err := img.Name(h)
	if err != nil {
		return nil, err
	}

	n := &debugNode{Name: name, Kind: v.Kind().String()}
	switch v := v.(type) {
	case image.Short, image.Int, image.Long, image.Float, image.Double, image.String:
		n.Value = v
	case image.Vector:
		n.Value = debugVector{X: v.X, Y: v.Y}
	case image.UOL:
		n.Value = debugLink{Path: v.Path, Dangling: v.Dangling}
	case image.Canvas:
		format := "unsupported"
		if f, err := v.PixelFormat(); err == nil {
			format = f.String()
		}
		n.Value = debugCanvas{Width: v.Width, Height: v.Height, Format: format, DataSize: len(v.Data)}
	case image.Sound:
		n.Value = debugSound{Duration: v.Duration, DataSize: len(v.Data)}
	}

	children, err := img.Children(h)
	if err != nil {
		return nil, err
	}
	for _, child := range children {
		cn, err := debugValue(img, child)
		if err != nil {
			return nil, err
		}
		n.Children = append(n.Children, cn)
	}
	return n, nil
}
