//go:build !windows

package lock

import (
	"os"
	"syscall"
)

// tryAcquire attempts a single non-blocking exclusive flock on path. A
// false, nil-error return means the lock is currently held elsewhere and
// the caller should retry later.
func tryAcquire(path string) (*Lock, bool, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, false, err
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		if err == syscall.EWOULDBLOCK {
			return nil, false, nil
		}
		return nil, false, err
	}

	return &Lock{
		path: path,
		release: func() error {
			syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
			return f.Close()
		},
	}, true, nil
}
