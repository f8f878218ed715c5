package build

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// fileWriter writes artifact files, creating parent directories as needed.
// Each file is written to a temporary sibling and renamed into place so that
// a concurrent reader never observes a partial file.
type fileWriter struct {
	perm   os.FileMode
	logger *slog.Logger
}

func newFileWriter(logger *slog.Logger) *fileWriter {
	return &fileWriter{perm: 0o644, logger: logger}
}

func (fw *fileWriter) writeAll(files []File) error {
	for _, f := range files {
		if err := fw.write(f.Path, f.Contents); err != nil {
			return err
		}
	}

	return nil
}

func (fw *fileWriter) write(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", path, err)
	}

	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)

		return fmt.Errorf("writing file %s: %w", path, err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("closing file %s: %w", path, err)
	}

	if err := os.Chmod(tmpName, fw.perm); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("chmod %s: %w", path, err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("renaming into %s: %w", path, err)
	}

	fw.logger.Debug("wrote output file", slog.String("path", path), slog.Int("bytes", len(data)))

	return nil
}
