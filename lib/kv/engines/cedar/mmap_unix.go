//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly || solaris || aix

package cedar

import (
	"os"

	"golang.org/x/sys/unix"
)

// mmapFile maps size bytes of f read-write and shared. The file must be
// at least size bytes long.
func mmapFile(f *os.File, size int) ([]byte, error) {
	return unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
}

func munmap(b []byte) error {
	return unix.Munmap(b)
}

// msync flushes a mapped region to the storage device.
func msync(b []byte) error {
	return unix.Msync(b, unix.MS_SYNC)
}
