package logind

import (
	"errors"
	"fmt"
	"log"

	"github.com/function61/gokit/log/logex"
	"golang.org/x/sys/unix"

	"kmsbackend/kms"
)

// Direct opens device nodes itself, for running as root or from a VT without
// a logind session.
type Direct struct {
	log *logex.Leveled
}

func NewDirect(logger *log.Logger) *Direct {
	return &Direct{log: logex.Levels(logex.Prefix("direct", logger))}
}

func (d *Direct) Acquire(path string) (int, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC|unix.O_NONBLOCK, 0)
	if err != nil {
		return -1, fmt.Errorf("open %s: %w", path, err)
	}

	// the first opener is master already, SetMaster then fails with EINVAL on
	// older kernels
	if err := kms.SetMaster(fd); err != nil && !errors.Is(err, unix.EINVAL) {
		d.log.Info.Printf("%s: %v", path, err)
	}
	return fd, nil
}

func (d *Direct) Release(fd int) error {
	if err := kms.DropMaster(fd); err != nil {
		d.log.Debug.Printf("%v", err)
	}
	return unix.Close(fd)
}
