package normalize

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Relocate moves everything below outDir/staging up into outDir, trimming
// surrounding whitespace from every path segment, then removes the staging
// directory. A missing staging directory is an error: discovery produced
// nothing. Two staged files that clean to the same path are an error too;
// files already in outDir are replaced.
func Relocate(outDir, staging string) (int, error) {
	src := filepath.Join(outDir, staging)
	info, err := os.Stat(src)
	if err != nil {
		return 0, fmt.Errorf("staging directory %s: %w", src, err)
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("staging path %s is not a directory", src)
	}

	moved := 0
	sources := make(map[string]string)
	err = filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		cleaned := CleanPath(rel)
		if cleaned == "" {
			return nil
		}

		if prev, ok := sources[cleaned]; ok {
			return fmt.Errorf("%q and %q both relocate to %s", prev, rel, cleaned)
		}
		sources[cleaned] = rel

		dest := filepath.Join(outDir, cleaned)
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", filepath.Dir(dest), err)
		}
		if err := os.Rename(path, dest); err != nil {
			return fmt.Errorf("failed to move %s: %w", rel, err)
		}
		moved++
		return nil
	})
	if err != nil {
		return moved, err
	}

	if err := os.RemoveAll(src); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return moved, fmt.Errorf("failed to remove staging directory: %w", err)
	}
	return moved, nil
}

// CleanPath trims whitespace from each segment of a relative path and
// drops segments that become empty.
func CleanPath(rel string) string {
	parts := strings.Split(filepath.ToSlash(rel), "/")
	kept := parts[:0]
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			kept = append(kept, p)
		}
	}
	return filepath.FromSlash(strings.Join(kept, "/"))
}
