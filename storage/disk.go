package storage

import (
	"golang.org/x/sys/unix"
)

// DiskUsage reports free bytes for the volume holding path. Retention takes
// it as an interface so tests can simulate disk pressure.
type DiskUsage interface {
	FreeBytes(path string) (int64, error)
}

type StatfsUsage struct{}

func (StatfsUsage) FreeBytes(path string) (int64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, err
	}
	return int64(st.Bavail) * int64(st.Bsize), nil
}
