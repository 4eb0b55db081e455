package ops

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"

	"github.com/spf13/afero"

	"github.com/ossyrian/mintywz/internal/archive"
	"github.com/ossyrian/mintywz/internal/tree"
)

// fileImage is an image read from a file on demand.
type fileImage struct {
	fs   afero.Fs
	path string
	size int64
}

func (f *fileImage) Size() int64 { return f.size }

func (f *fileImage) Open() (io.ReadCloser, error) {
	return f.fs.Open(f.path)
}

// Create packs a directory into an archive at outPath. Files become
// images and directories become packages; within a package images come
// first, each group sorted by name. The archive is written to a
// temporary file and renamed into place.
func Create(fs afero.Fs, manifestDir, outPath string, opts Options) error {
	logger := opts.logger()

	c, err := opts.Region.Cipher()
	if err != nil {
		return err
	}

	a := archive.New(opts.rootName(outPath), opts.Version)
	if err := addDir(fs, a, a.Tree.Root(), manifestDir); err != nil {
		return err
	}

	tmp := outPath + ".tmp"
	f, err := fs.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", tmp, err)
	}
	if err := archive.Write(f, a, c); err != nil {
		f.Close()
		fs.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", outPath, err)
	}
	if err := f.Close(); err != nil {
		fs.Remove(tmp)
		return fmt.Errorf("failed to close %s: %w", tmp, err)
	}
	if err := fs.Rename(tmp, outPath); err != nil {
		return fmt.Errorf("failed to move archive into place: %w", err)
	}

	logger.Info("created archive",
		"output", outPath,
		"nodes", a.Tree.Len(),
		"version", a.Version,
		"size", a.Header.Size,
	)
	return nil
}

func addDir(fs afero.Fs, a *archive.Archive, parent tree.Handle, dir string) error {
	infos, err := afero.ReadDir(fs, dir)
	if err != nil {
		return fmt.Errorf("failed to read directory %s: %w", dir, err)
	}
	sort.SliceStable(infos, func(i, j int) bool {
		if infos[i].IsDir() != infos[j].IsDir() {
			return !infos[i].IsDir()
		}
		return infos[i].Name() < infos[j].Name()
	})

	for _, info := range infos {
		path := filepath.Join(dir, info.Name())
		if info.IsDir() {
			h, err := a.AddPackage(parent, info.Name())
			if err != nil {
				return fmt.Errorf("failed to add package %s: %w", path, err)
			}
			if err := addDir(fs, a, h, path); err != nil {
				return err
			}
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}

		src := &fileImage{fs: fs, path: path, size: info.Size()}
		if _, err := a.AddImage(parent, info.Name(), src); err != nil {
			return fmt.Errorf("failed to add image %s: %w", path, err)
		}
	}
	return nil
}
