package vault

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

// Disk capacity thresholds
const (
	MinDiskSpaceBytes  = 10 * 1024 * 1024 // 10 MB minimum free space
	DiskWarningPercent = 90               // Warn when disk is 90% full
)

// DiskSpaceInfo contains disk usage information.
type DiskSpaceInfo struct {
	Total     uint64 `json:"total"`
	Free      uint64 `json:"free"`
	Available uint64 `json:"available"` // available to non-root users
	UsedPct   int    `json:"used_pct"`
}

// checkDiskSpaceForWrite refuses a write of roughly dataSize bytes when the
// volume is nearly full. Failure to read disk stats is not fatal.
func (s *Store) checkDiskSpaceForWrite(dataSize int) error {
	info, err := s.CheckDiskSpace()
	if err != nil {
		s.log.Warn("failed to check disk space", zap.Error(err))
		return nil
	}

	required := uint64(MinDiskSpaceBytes)
	if uint64(dataSize*2) > required {
		required = uint64(dataSize * 2)
	}
	if info.Available < required {
		return fmt.Errorf("%w: %w: only %s available, need at least %s",
			ErrStorage, ErrInsufficientDisk,
			humanize.IBytes(info.Available), humanize.IBytes(required))
	}

	if info.UsedPct >= DiskWarningPercent {
		s.log.Warn("disk is almost full", zap.Int("used_pct", info.UsedPct))
	}
	return nil
}
