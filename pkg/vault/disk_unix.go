//go:build !windows

package vault

import (
	"fmt"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// CheckDiskSpace returns disk space information for the vault directory.
func (s *Store) CheckDiskSpace() (*DiskSpaceInfo, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(s.dir, &stat); err != nil {
		if err := unix.Statfs(filepath.Dir(s.dir), &stat); err != nil {
			return nil, fmt.Errorf("vault: failed to get disk stats: %w", err)
		}
	}

	bsize := uint64(stat.Bsize)
	total := stat.Blocks * bsize
	free := stat.Bfree * bsize
	available := stat.Bavail * bsize

	usedPct := 0
	if total > 0 {
		usedPct = int(100 * (total - free) / total)
	}

	return &DiskSpaceInfo{
		Total:     total,
		Free:      free,
		Available: available,
		UsedPct:   usedPct,
	}, nil
}
