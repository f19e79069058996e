//go:build windows

package audit

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"golang.org/x/sys/windows"
)

// checkDiskSpace refuses to append when the log volume is nearly full.
func (l *Logger) checkDiskSpace() error {
	path := l.path
	if _, err := os.Stat(path); os.IsNotExist(err) {
		path = filepath.Dir(path)
	}
	ptr, err := windows.UTF16PtrFromString(path)
	if err != nil {
		l.log.Warn("failed to check disk space for audit log", zap.Error(err))
		return nil
	}

	var available, total, free uint64
	if err := windows.GetDiskFreeSpaceEx(ptr, &available, &total, &free); err != nil {
		l.log.Warn("failed to check disk space for audit log", zap.Error(err))
		return nil
	}
	if available < MinAuditDiskSpace {
		return fmt.Errorf("audit: insufficient disk space: only %d bytes available, need at least %d",
			available, MinAuditDiskSpace)
	}
	return nil
}
