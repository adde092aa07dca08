//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly || solaris || aix)

package cedar

import (
	"os"

	"github.com/pkg/errors"
)

// Platforms without a usable mmap degrade to the async blocking mode at
// open.
func mmapFile(_ *os.File, _ int) ([]byte, error) {
	return nil, errors.New("mmap is not supported on this platform")
}

func munmap(_ []byte) error { return nil }

func msync(_ []byte) error { return nil }
