package ops

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"runtime"

	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/afero"

	"github.com/ossyrian/mintywz/internal/archive"
	"github.com/ossyrian/mintywz/internal/tree"
)

type extractJob struct {
	target string
	src    archive.ImageSource
}

// Extract writes every package of the archive as a directory and every
// image as a raw file under targetDir. An empty targetDir extracts next
// to the archive into a directory named after it.
func Extract(ctx context.Context, fs afero.Fs, path, targetDir string, opts Options) error {
	logger := opts.logger()

	r, a, err := open(fs, path, opts)
	if err != nil {
		return err
	}
	defer r.Close()

	if targetDir == "" {
		targetDir = filepath.Join(filepath.Dir(path), baseName(path))
	}

	// directories first, so workers only create files
	var jobs []extractJob
	err = a.Tree.Walk(a.Tree.Root(), func(c tree.Cursor[archive.Content]) error {
		rel, err := relPath(a.Tree, c.Handle())
		if err != nil {
			return err
		}
		target := filepath.Join(targetDir, filepath.FromSlash(rel))

		v, err := c.Value()
		if err != nil {
			return err
		}
		if v.Kind == archive.KindPackage {
			if err := fs.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", target, err)
			}
			return nil
		}
		jobs = append(jobs, extractJob{target: target, src: v.Source})
		return nil
	})
	if err != nil {
		return err
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	logger.Info("extracting images", "count", len(jobs), "target", targetDir, "workers", workers)

	p := pool.New().
		WithMaxGoroutines(workers).
		WithContext(ctx).
		WithCancelOnError()
	for _, job := range jobs {
		p.Go(func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := extractImage(fs, job); err != nil {
				return err
			}
			logger.Debug("extracted image", "target", job.target, "size", job.src.Size())
			return nil
		})
	}
	return p.Wait()
}

func extractImage(fs afero.Fs, job extractJob) error {
	rc, err := job.src.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	f, err := fs.Create(job.target)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", job.target, err)
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", job.target, err)
	}
	return f.Close()
}
