package drm

import "github.com/kelseyhightower/envconfig"

// Options are read from KMS_* environment variables, see LoadOptions.
type Options struct {
	// DeviceNode overrides the GPU picked by udev, e.g. /dev/dri/card1.
	DeviceNode string `envconfig:"DEVICE_NODE"`
	// NoAtomic forces the legacy mode setting interface.
	NoAtomic bool `envconfig:"NO_AMS"`
	// OutputsConfig is where output geometry is persisted.
	OutputsConfig string `envconfig:"OUTPUTS_CONFIG"`
	// CursorSize is used when the driver does not report a cursor size.
	CursorSize int `envconfig:"CURSOR_SIZE" default:"64"`

	// SysNum is the device's kernel number (the 0 of card0); hotplug events
	// of other devices are ignored.
	SysNum int `ignored:"true"`
	// OwnsBuffers makes the backend release presented buffers once they
	// left the screen.
	OwnsBuffers bool `ignored:"true"`
}

func LoadOptions() (Options, error) {
	var opts Options
	if err := envconfig.Process("kms", &opts); err != nil {
		return Options{}, err
	}
	return opts, nil
}
