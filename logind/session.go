// Package logind takes devices from systemd-logind so the backend runs
// without root, and follows the session's Active property.
package logind

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/function61/gokit/log/logex"
	"github.com/godbus/dbus/v5"
	"golang.org/x/sys/unix"
)

const (
	service          = "org.freedesktop.login1"
	managerPath      = dbus.ObjectPath("/org/freedesktop/login1")
	managerInterface = "org.freedesktop.login1.Manager"
	sessionInterface = "org.freedesktop.login1.Session"
	propertiesSignal = "org.freedesktop.DBus.Properties.PropertiesChanged"
)

// Session is a logind session this process controls.
type Session struct {
	bus     *dbus.Conn
	path    dbus.ObjectPath
	session dbus.BusObject
	log     *logex.Leveled

	// DeviceGone is called from Run when logind revoked a device.
	DeviceGone func(major, minor uint32)
}

// Open looks up the caller's session, XDG_SESSION_ID first and the session of
// this process otherwise.
func Open(logger *log.Logger) (*Session, error) {
	bus, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("system bus: %w", err)
	}

	manager := bus.Object(service, managerPath)

	var path dbus.ObjectPath
	if id := os.Getenv("XDG_SESSION_ID"); id != "" {
		err = manager.Call(managerInterface+".GetSession", 0, id).Store(&path)
	} else {
		err = manager.Call(managerInterface+".GetSessionByPID", 0, uint32(os.Getpid())).Store(&path)
	}
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("get session: %w", err)
	}

	return &Session{
		bus:     bus,
		path:    path,
		session: bus.Object(service, path),
		log:     logex.Levels(logex.Prefix("logind", logger)),
	}, nil
}

func (s *Session) Path() dbus.ObjectPath { return s.path }

// TakeControl makes this process the session controller, which is needed for
// TakeDevice.
func (s *Session) TakeControl() error {
	if err := s.session.Call(sessionInterface+".TakeControl", 0, false).Err; err != nil {
		return fmt.Errorf("TakeControl: %w", err)
	}
	s.log.Debug.Println("gained session control")
	return nil
}

func (s *Session) ReleaseControl() error {
	return s.session.Call(sessionInterface+".ReleaseControl", 0).Err
}

// Active reads the session's Active property.
func (s *Session) Active() (bool, error) {
	v, err := s.session.GetProperty(sessionInterface + ".Active")
	if err != nil {
		return false, err
	}
	active, ok := v.Value().(bool)
	if !ok {
		return false, fmt.Errorf("Active has type %s", v.Signature())
	}
	return active, nil
}

// Acquire takes the device node from logind and returns a descriptor this
// process owns.
func (s *Session) Acquire(path string) (int, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return -1, fmt.Errorf("stat %s: %w", path, err)
	}

	var (
		fd       dbus.UnixFD
		inactive bool
	)
	err := s.session.Call(sessionInterface+".TakeDevice", 0, unix.Major(st.Rdev), unix.Minor(st.Rdev)).Store(&fd, &inactive)
	if err != nil {
		return -1, fmt.Errorf("TakeDevice %s: %w", path, err)
	}
	if inactive {
		s.log.Debug.Printf("%s taken while the session is inactive", path)
	}

	// the descriptor received over the bus lacks CLOEXEC
	dup, err := unix.FcntlInt(uintptr(fd), unix.F_DUPFD_CLOEXEC, 0)
	unix.Close(int(fd))
	if err != nil {
		return -1, fmt.Errorf("dup %s: %w", path, err)
	}
	return dup, nil
}

// Release gives the device behind fd back to logind and closes fd.
func (s *Session) Release(fd int) error {
	defer unix.Close(fd)

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return fmt.Errorf("fstat: %w", err)
	}
	if err := s.session.Call(sessionInterface+".ReleaseDevice", 0, unix.Major(st.Rdev), unix.Minor(st.Rdev)).Err; err != nil {
		return fmt.Errorf("ReleaseDevice: %w", err)
	}
	return nil
}

// Run sends changes of the session's Active property to active until ctx is
// canceled. Paused devices are acknowledged, revoked ones reported through
// DeviceGone.
func (s *Session) Run(ctx context.Context, active chan<- bool) error {
	matches := []dbus.MatchOption{
		dbus.WithMatchObjectPath(s.path),
	}
	if err := s.bus.AddMatchSignal(matches...); err != nil {
		return err
	}
	defer s.bus.RemoveMatchSignal(matches...)

	sigChan := make(chan *dbus.Signal, 10)
	s.bus.Signal(sigChan)
	defer s.bus.RemoveSignal(sigChan)

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-sigChan:
			if !ok {
				return fmt.Errorf("system bus connection lost")
			}
			if sig.Path != s.path {
				continue
			}

			if v, ok := activeChanged(sig); ok {
				select {
				case active <- v:
				case <-ctx.Done():
					return nil
				}
				continue
			}

			if dev, ok := parseDeviceSignal(sig); ok {
				s.handleDevice(dev)
			}
		}
	}
}

func (s *Session) handleDevice(dev deviceSignal) {
	switch {
	case dev.resumed:
		s.log.Debug.Printf("device %d:%d resumed", dev.major, dev.minor)
	case dev.kind == "pause":
		if err := s.session.Call(sessionInterface+".PauseDeviceComplete", 0, dev.major, dev.minor).Err; err != nil {
			s.log.Error.Printf("PauseDeviceComplete failed: %v", err)
		}
	case dev.kind == "gone":
		s.log.Info.Printf("device %d:%d gone", dev.major, dev.minor)
		if s.DeviceGone != nil {
			s.DeviceGone(dev.major, dev.minor)
		}
	default:
		// "force": logind already paused the device
		s.log.Debug.Printf("device %d:%d paused (%s)", dev.major, dev.minor, dev.kind)
	}
}

func (s *Session) Close() error {
	return s.bus.Close()
}

type deviceSignal struct {
	major, minor uint32
	kind         string
	resumed      bool
}

func parseDeviceSignal(sig *dbus.Signal) (deviceSignal, bool) {
	if !strings.HasPrefix(sig.Name, sessionInterface+".") || len(sig.Body) < 2 {
		return deviceSignal{}, false
	}
	major, ok1 := sig.Body[0].(uint32)
	minor, ok2 := sig.Body[1].(uint32)
	if !ok1 || !ok2 {
		return deviceSignal{}, false
	}

	switch sig.Name {
	case sessionInterface + ".PauseDevice":
		if len(sig.Body) < 3 {
			return deviceSignal{}, false
		}
		kind, ok := sig.Body[2].(string)
		if !ok {
			return deviceSignal{}, false
		}
		return deviceSignal{major: major, minor: minor, kind: strings.ToLower(kind)}, true
	case sessionInterface + ".ResumeDevice":
		return deviceSignal{major: major, minor: minor, resumed: true}, true
	}
	return deviceSignal{}, false
}

// activeChanged extracts Active from a PropertiesChanged signal of the
// session interface.
func activeChanged(sig *dbus.Signal) (bool, bool) {
	return changedBool(sig, sessionInterface, "Active")
}

func changedBool(sig *dbus.Signal, iface, name string) (bool, bool) {
	if sig.Name != propertiesSignal || len(sig.Body) < 2 {
		return false, false
	}
	if i, ok := sig.Body[0].(string); !ok || i != iface {
		return false, false
	}
	properties, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return false, false
	}
	v, ok := properties[name]
	if !ok {
		return false, false
	}
	b, ok := v.Value().(bool)
	return b, ok
}
