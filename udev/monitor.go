package udev

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/function61/gokit/log/logex"
	"golang.org/x/sys/unix"
)

// the kernel's multicast group, udevd rebroadcasts on group 2
const kernelGroup = 1

// Monitor receives kernel uevents of one subsystem.
type Monitor struct {
	file      *os.File
	subsystem string
	log       *logex.Leveled
}

func NewMonitor(subsystem string, logger *log.Logger) (*Monitor, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_RAW|unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK, unix.NETLINK_KOBJECT_UEVENT)
	if err != nil {
		return nil, fmt.Errorf("uevent socket: %w", err)
	}

	if err := unix.Bind(fd, &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Groups: kernelGroup}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("uevent bind: %w", err)
	}

	return &Monitor{
		file:      os.NewFile(uintptr(fd), "uevent"),
		subsystem: subsystem,
		log:       logex.Levels(logex.Prefix("udev", logger)),
	}, nil
}

// Run sends the monitor's events to out until ctx is canceled.
func (m *Monitor) Run(ctx context.Context, out chan<- Event) error {
	go func() {
		<-ctx.Done()
		m.file.Close()
	}()

	buf := make([]byte, 16*1024)
	for {
		n, err := m.file.Read(buf)
		if err != nil {
			if errors.Is(err, os.ErrClosed) {
				return nil
			}
			if errors.Is(err, unix.ENOBUFS) {
				// receive queue overflowed, events were lost
				m.log.Info.Println("uevent queue overrun")
				continue
			}
			return fmt.Errorf("uevent read: %w", err)
		}

		ev, err := ParseUevent(buf[:n])
		if err != nil {
			m.log.Debug.Printf("ignoring message: %v", err)
			continue
		}
		if m.subsystem != "" && ev.Subsystem != m.subsystem {
			continue
		}

		select {
		case out <- ev:
		case <-ctx.Done():
			return nil
		}
	}
}
