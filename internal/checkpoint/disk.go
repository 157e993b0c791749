package checkpoint

import (
	"fmt"

	"golang.org/x/sys/unix"

	"conductor/internal/services"
)

// preflightDisk refuses to write when the checkpoint filesystem is below the
// configured free-space floor. A snapshot that fills the disk would take the
// state store down with it.
func (m *Manager) preflightDisk() error {
	if m.minBytes == 0 {
		return nil
	}
	var stat unix.Statfs_t
	if err := unix.Statfs(m.dir, &stat); err != nil {
		return fmt.Errorf("statfs %s: %w", m.dir, err)
	}
	free := stat.Bavail * uint64(stat.Bsize)
	if free < m.minBytes {
		return services.Wrap(services.ErrDiskFull, "", "checkpoint",
			fmt.Sprintf("%d MiB free, need %d MiB", free/(1024*1024), m.minBytes/(1024*1024)), nil)
	}
	return nil
}
