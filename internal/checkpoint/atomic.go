package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
)

// WriteDocumentAtomic writes data to path so that a crash at any point leaves
// either the previous document or the new one, never a partial file. The data
// lands in a temp file in the target directory, is flushed and re-read for
// verification, and only then renamed over the destination.
func WriteDocumentAtomic(path string, data []byte, verify func([]byte) error) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp document: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp document: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp document: %w", err)
	}

	if verify != nil {
		written, err := os.ReadFile(tmpName)
		if err != nil {
			return fmt.Errorf("read back temp document: %w", err)
		}
		if err := verify(written); err != nil {
			return fmt.Errorf("verify document: %w", err)
		}
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("publish document: %w", err)
	}
	return syncDir(dir)
}

func syncDir(dir string) error {
	handle, err := os.Open(dir)
	if err != nil {
		return nil
	}
	defer handle.Close()
	// Directory fsync is best effort; some filesystems reject it.
	_ = handle.Sync()
	return nil
}
