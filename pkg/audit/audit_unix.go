//go:build !windows

package audit

import (
	"fmt"
	"path/filepath"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// checkDiskSpace refuses to append when the log volume is nearly full.
func (l *Logger) checkDiskSpace() error {
	var stat unix.Statfs_t
	if err := unix.Statfs(l.path, &stat); err != nil {
		if err := unix.Statfs(filepath.Dir(l.path), &stat); err != nil {
			l.log.Warn("failed to check disk space for audit log", zap.Error(err))
			return nil
		}
	}

	available := stat.Bavail * uint64(stat.Bsize)
	if available < MinAuditDiskSpace {
		return fmt.Errorf("audit: insufficient disk space: only %d bytes available, need at least %d",
			available, MinAuditDiskSpace)
	}
	return nil
}
