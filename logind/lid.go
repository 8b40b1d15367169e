package logind

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
)

const (
	upowerService   = "org.freedesktop.UPower"
	upowerPath      = dbus.ObjectPath("/org/freedesktop/UPower")
	upowerInterface = "org.freedesktop.UPower"
)

// LidIsClosed asks UPower for the laptop lid state.
func (s *Session) LidIsClosed() (bool, error) {
	upower := s.bus.Object(upowerService, upowerPath)
	v, err := upower.GetProperty(upowerInterface + ".LidIsClosed")
	if err != nil {
		return false, err
	}
	closed, ok := v.Value().(bool)
	if !ok {
		return false, fmt.Errorf("LidIsClosed has type %s", v.Signature())
	}
	return closed, nil
}

// WatchLid sends the new lid state to events whenever it changes, until ctx
// is canceled.
func (s *Session) WatchLid(ctx context.Context, events chan<- bool) error {
	match := dbus.WithMatchObjectPath(upowerPath)
	if err := s.bus.AddMatchSignal(match); err != nil {
		return err
	}
	defer s.bus.RemoveMatchSignal(match)

	sigChan := make(chan *dbus.Signal, 10)
	s.bus.Signal(sigChan)
	defer s.bus.RemoveSignal(sigChan)

	for {
		select {
		case <-ctx.Done():
			return nil
		case v, ok := <-sigChan:
			if !ok {
				return fmt.Errorf("system bus connection lost")
			}
			if v.Path != upowerPath {
				continue
			}
			if closed, ok := changedBool(v, upowerInterface, "LidIsClosed"); ok {
				s.log.Info.Printf("new lid state: closed=%v", closed)
				select {
				case events <- closed:
				case <-ctx.Done():
					return nil
				}
			}
		}
	}
}
