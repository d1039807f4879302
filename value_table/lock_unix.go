//go:build unix

package value_table

import (
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// lockFile takes an advisory flock on a sidecar "<path>.lock" file. The image itself
// is replaced by rename on every save, so locking its handle would not exclude a
// writer that opened the new inode; the sidecar is never replaced.
func lockFile(path string, exclusive bool) (unlock func(), err error) {
	if err = os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path+".lock", os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}

	how := unix.LOCK_SH
	if exclusive {
		how = unix.LOCK_EX
	}
	for {
		err = unix.Flock(int(f.Fd()), how)
		if err != unix.EINTR {
			break
		}
	}
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	return func() {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		_ = f.Close()
	}, nil
}
