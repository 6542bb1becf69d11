//go:build !windows

// Host-simulator-only device-node detection, ported from the pack's
// stub.Stat/unix.Stat pair (CircleCashTeam-magiskboot_go/stub): tell a
// regular file backing an hal.MmapDevice apart from a raw block device
// node so the simulator's format subcommand can warn rather than
// silently mmap-truncating /dev/sdX-style paths.
package hal

import "golang.org/x/sys/unix"

// IsBlockDevice reports whether path names a block special device.
func IsBlockDevice(path string) (bool, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return false, ErrIO("stat %s: %v", path, err)
	}
	return st.Mode&unix.S_IFMT == unix.S_IFBLK, nil
}
