package udev

import (
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// Device is a DRM card as seen in sysfs.
type Device struct {
	SysName string
	SysNum  int
	SysPath string
	DevNode string
	// BootVGA is set for the GPU the firmware used to boot.
	BootVGA bool
}

// Sysfs locates DRM devices. The zero value is not usable, see DefaultSysfs.
type Sysfs struct {
	ClassDir string
	DevDir   string
}

var DefaultSysfs = Sysfs{
	ClassDir: "/sys/class/drm",
	DevDir:   "/dev/dri",
}

var ErrNoGPU = errors.New("udev: no GPU found")

// connectors show up as card0-HDMI-A-1, those are skipped
var cardName = regexp.MustCompile(`^card[0-9]+$`)

// Cards lists the DRM cards ordered by number.
func (s Sysfs) Cards() ([]Device, error) {
	entries, err := os.ReadDir(s.ClassDir)
	if err != nil {
		return nil, err
	}

	var cards []Device
	for _, entry := range entries {
		if !cardName.MatchString(entry.Name()) {
			continue
		}

		sysPath := filepath.Join(s.ClassDir, entry.Name())
		bootVGA, _ := os.ReadFile(filepath.Join(sysPath, "device", "boot_vga"))

		cards = append(cards, Device{
			SysName: entry.Name(),
			SysNum:  SysNum(entry.Name()),
			SysPath: sysPath,
			DevNode: filepath.Join(s.DevDir, entry.Name()),
			BootVGA: strings.TrimSpace(string(bootVGA)) == "1",
		})
	}

	sort.Slice(cards, func(i, j int) bool { return cards[i].SysNum < cards[j].SysNum })

	return cards, nil
}

// PrimaryGPU prefers the boot VGA device and falls back to the first card.
func (s Sysfs) PrimaryGPU() (Device, error) {
	cards, err := s.Cards()
	if err != nil {
		return Device{}, err
	}
	if len(cards) == 0 {
		return Device{}, ErrNoGPU
	}

	for _, card := range cards {
		if card.BootVGA {
			return card, nil
		}
	}
	return cards[0], nil
}

// DeviceForNode finds the card behind a device node such as /dev/dri/card1.
func (s Sysfs) DeviceForNode(node string) (Device, error) {
	cards, err := s.Cards()
	if err != nil {
		return Device{}, err
	}
	for _, card := range cards {
		if card.SysName == filepath.Base(node) {
			card.DevNode = node
			return card, nil
		}
	}
	return Device{}, ErrNoGPU
}
