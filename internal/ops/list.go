package ops

import (
	"github.com/spf13/afero"

	"github.com/ossyrian/mintywz/internal/archive"
	"github.com/ossyrian/mintywz/internal/image"
	"github.com/ossyrian/mintywz/internal/tree"
)

// List yields the path of every node in the archive, in file order.
// With Deep set, the properties of every image follow the image.
func List(fs afero.Fs, path string, opts Options, yield func(string) error) error {
	r, a, err := open(fs, path, opts)
	if err != nil {
		return err
	}
	defer r.Close()

	return a.Tree.Walk(a.Tree.Root(), func(c tree.Cursor[archive.Content]) error {
		pwd := c.Pwd()
		if err := yield(pwd); err != nil {
			return err
		}

		v, err := c.Value()
		if err != nil {
			return err
		}
		if !opts.Deep || v.Kind != archive.KindImage {
			return nil
		}

		img, err := r.Image(c.Name(), v)
		if err != nil {
			return err
		}
		return walkImage(img, pwd, yield)
	})
}

// ListImage yields the path of every property in a standalone image.
func ListImage(fs afero.Fs, path string, opts Options, yield func(string) error) error {
	img, err := openImage(fs, path, opts)
	if err != nil {
		return err
	}
	return img.Walk(img.Root(), func(c tree.Cursor[image.Value]) error {
		return yield(c.Pwd())
	})
}

// walkImage yields the descendants of the image root under prefix.
func walkImage(img *image.Image, prefix string, yield func(string) error) error {
	children, err := img.Children(img.Root())
	if err != nil {
		return err
	}
	rootLen := len(img.Cursor(img.Root()).Pwd())

	for _, child := range children {
		err := img.Walk(child, func(c tree.Cursor[image.Value]) error {
			return yield(prefix + c.Pwd()[rootLen:])
		})
		if err != nil {
			return err
		}
	}
	return nil
}
