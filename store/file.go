// Package store keeps output geometry in a YAML file, one setup per set of
// connected monitors.
package store

import (
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/function61/gokit/os/osutil"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// OnChange is a shell command to run after the outputs changed.
	OnChange string `yaml:"on_change,omitempty"`
	// Wait is how long to sleep before taking over the outputs, e.g. "2s".
	Wait   string                  `yaml:"wait,omitempty"`
	Setups map[string]*SetupConfig `yaml:"setups"`
}

type SetupConfig struct {
	Outputs []OutputConfig `yaml:"outputs"`
}

type OutputConfig struct {
	Output   string `yaml:"output"`
	Position struct {
		X int `yaml:"x"`
		Y int `yaml:"y"`
	} `yaml:"position"`
	Size struct {
		Width  int `yaml:"width"`
		Height int `yaml:"height"`
	} `yaml:"size"`
	DisableOnLidClose bool `yaml:"disable_on_lid_close,omitempty"`
}

func (oc *OutputConfig) rect() image.Rectangle {
	return image.Rect(oc.Position.X, oc.Position.Y, oc.Position.X+oc.Size.Width, oc.Position.Y+oc.Size.Height)
}

func (oc *OutputConfig) setRect(r image.Rectangle) {
	oc.Position.X = r.Min.X
	oc.Position.Y = r.Min.Y
	oc.Size.Width = r.Dx()
	oc.Size.Height = r.Dy()
}

func (c *Config) getOutputConfig(setup string, output string) *OutputConfig {
	s, ok := c.Setups[setup]
	if !ok {
		return nil
	}
	for i := range s.Outputs {
		if s.Outputs[i].Output == output {
			return &s.Outputs[i]
		}
	}
	return nil
}

func parseConfigStream(r io.Reader) (*Config, error) {
	var conf Config

	if err := yaml.NewDecoder(r).Decode(&conf); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if conf.Setups == nil {
		conf.Setups = map[string]*SetupConfig{}
	}

	return &conf, nil
}

// File is a geometry store backed by a YAML file.
type File struct {
	path  string
	conf  *Config
	dirty bool
}

// Open reads the file at path. A missing file is an empty store.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &File{path: path, conf: &Config{Setups: map[string]*SetupConfig{}}}, nil
		}
		return nil, err
	}
	defer f.Close()

	conf, err := parseConfigStream(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &File{path: path, conf: conf}, nil
}

func (f *File) Config() *Config { return f.conf }

// Geometry returns the rectangle stored for output under the setup key.
// Entries without a size count as absent.
func (f *File) Geometry(key, output string) (image.Rectangle, bool) {
	oc := f.conf.getOutputConfig(key, output)
	if oc == nil || oc.Size.Width <= 0 || oc.Size.Height <= 0 {
		return image.Rectangle{}, false
	}
	return oc.rect(), true
}

func (f *File) SetGeometry(key, output string, r image.Rectangle) {
	if oc := f.conf.getOutputConfig(key, output); oc != nil {
		if oc.rect() != r {
			oc.setRect(r)
			f.dirty = true
		}
		return
	}

	setup, ok := f.conf.Setups[key]
	if !ok {
		setup = &SetupConfig{}
		f.conf.Setups[key] = setup
	}

	oc := OutputConfig{Output: output}
	oc.setRect(r)
	setup.Outputs = append(setup.Outputs, oc)
	sort.Slice(setup.Outputs, func(i, j int) bool { return setup.Outputs[i].Output < setup.Outputs[j].Output })
	f.dirty = true
}

// DisableOnLidClose reports whether output should be turned off while the
// lid is closed in the given setup.
func (f *File) DisableOnLidClose(key, output string) bool {
	oc := f.conf.getOutputConfig(key, output)
	return oc != nil && oc.DisableOnLidClose
}

// Flush writes the file if anything changed. The new content replaces the
// old file in one rename.
func (f *File) Flush() error {
	if !f.dirty {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), "."+filepath.Base(f.path)+"-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	encoder := yaml.NewEncoder(tmp)
	encoder.SetIndent(2)
	if err := encoder.Encode(f.conf); err != nil {
		tmp.Close()
		return err
	}
	if err := encoder.Close(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(osutil.FileMode(osutil.OwnerRW, osutil.GroupNone, osutil.OtherNone)); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := osutil.MoveFile(tmp.Name(), f.path); err != nil {
		return err
	}

	f.dirty = false
	return nil
}
