// Package localdriver implements storagepool.Driver over the local
// filesystem, grounded on the teacher's pkg/volume LocalDriver (base
// directory + os.MkdirAll + filepath.Join, one file per addressed name).
package localdriver

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const scheme = "file"

// Driver stores one file per blob URI under basePath.
type Driver struct {
	basePath string
}

// New creates a local driver rooted at basePath, creating it if absent.
func New(basePath string) (*Driver, error) {
	if basePath == "" {
		return nil, fmt.Errorf("localdriver: basePath is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("localdriver: creating base directory: %w", err)
	}
	return &Driver{basePath: basePath}, nil
}

func (d *Driver) Scheme() string { return scheme }

func (d *Driver) pathFor(uri string) (string, error) {
	name, err := stripScheme(uri)
	if err != nil {
		return "", err
	}
	return filepath.Join(d.basePath, name), nil
}

func stripScheme(uri string) (string, error) {
	prefix := scheme + "://pool/"
	if !strings.HasPrefix(uri, prefix) {
		return "", fmt.Errorf("localdriver: uri %q missing %q prefix", uri, prefix)
	}
	return strings.TrimPrefix(uri, prefix), nil
}

func (d *Driver) Save(ctx context.Context, uri string, r io.Reader) error {
	path, err := d.pathFor(uri)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("localdriver: creating parent directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("localdriver: creating %s: %w", path, err)
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("localdriver: writing %s: %w", path, err)
	}
	return nil
}

func (d *Driver) Load(ctx context.Context, uri string) (io.ReadCloser, error) {
	path, err := d.pathFor(uri)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("localdriver: opening %s: %w", path, err)
	}
	return f, nil
}

func (d *Driver) Delete(ctx context.Context, uri string) error {
	path, err := d.pathFor(uri)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("localdriver: deleting %s: %w", path, err)
	}
	return nil
}

func (d *Driver) Exists(ctx context.Context, uri string) (bool, error) {
	path, err := d.pathFor(uri)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("localdriver: stat %s: %w", path, err)
	}
	return true, nil
}

// Rename implements storagepool.Renamer so the pool can promote a
// staging write to its final URI without a copy+delete round trip.
func (d *Driver) Rename(ctx context.Context, src, dst string) error {
	srcPath, err := d.pathFor(src)
	if err != nil {
		return err
	}
	dstPath, err := d.pathFor(dst)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return fmt.Errorf("localdriver: creating parent directory: %w", err)
	}
	if err := os.Rename(srcPath, dstPath); err != nil {
		return fmt.Errorf("localdriver: renaming %s to %s: %w", srcPath, dstPath, err)
	}
	return nil
}
