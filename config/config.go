// Package config loads heap configuration from YAML files.
//
// A configuration file looks like this:
//
//	heap_size: 64KB
//	base: 0x1000
//	backing: mmap
//	debug: false
//	snapshots: heap.snapshots
//	snapshot_every_cycle: true
package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/inhies/go-bytesize"
	"gopkg.in/yaml.v2"

	"github.com/tinygo-org/semispace/gc"
	"github.com/tinygo-org/semispace/layout"
	"github.com/tinygo-org/semispace/memory"
)

// Backing selects where the heap memory comes from.
type Backing string

const (
	BackingSlice Backing = "slice" // a Go byte slice
	BackingMmap  Backing = "mmap"  // an anonymous mapping from the OS
)

// Size is a byte count that is written in YAML as a human readable size,
// such as "64KB" or "1.5MB".
type Size uint64

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *Size) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var n uint64
	if err := unmarshal(&n); err == nil {
		*s = Size(n)
		return nil
	}
	var str string
	if err := unmarshal(&str); err != nil {
		return err
	}
	b, err := bytesize.Parse(str)
	if err != nil {
		return fmt.Errorf("config: invalid size %q: %w", str, err)
	}
	*s = Size(b)
	return nil
}

// MarshalYAML implements yaml.Marshaler. The size is written in human form
// only if that reads back as the same number of bytes.
func (s Size) MarshalYAML() (interface{}, error) {
	str := s.String()
	if b, err := bytesize.Parse(str); err == nil && uint64(b) == uint64(s) {
		return str, nil
	}
	return uint64(s), nil
}

func (s Size) String() string {
	return bytesize.New(float64(s)).String()
}

// Config holds the settings for a heap.
type Config struct {
	HeapSize           Size           `yaml:"heap_size"`
	Base               memory.Address `yaml:"base"`
	Backing            Backing        `yaml:"backing"`
	Debug              bool           `yaml:"debug"`
	Snapshots          string         `yaml:"snapshots,omitempty"`
	SnapshotEveryCycle bool           `yaml:"snapshot_every_cycle,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		HeapSize: 64 * 1024,
		Base:     memory.DefaultBase,
		Backing:  BackingSlice,
	}
}

// Load reads a configuration file. Settings missing from the file keep their
// default value.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer f.Close()
	cfg, err := Parse(f)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse reads a configuration from r.
func Parse(r io.Reader) (Config, error) {
	cfg := Default()
	data, err := io.ReadAll(r)
	if err != nil {
		return Config{}, err
	}
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the configuration describes a usable heap.
func (c Config) Validate() error {
	switch {
	case c.HeapSize < 2*memory.Align:
		return fmt.Errorf("config: heap_size %v too small, need at least %d bytes", c.HeapSize, 2*memory.Align)
	case c.HeapSize%memory.Align != 0:
		return fmt.Errorf("config: heap_size %d is not a multiple of %d", uint64(c.HeapSize), memory.Align)
	case c.Base == memory.Nil || !c.Base.Aligned():
		return fmt.Errorf("config: base %v must be non-zero and %d-byte aligned", c.Base, memory.Align)
	case c.Backing != BackingSlice && c.Backing != BackingMmap:
		return fmt.Errorf("config: unknown backing %q", c.Backing)
	case c.SnapshotEveryCycle && c.Snapshots == "":
		return errors.New("config: snapshot_every_cycle requires snapshots")
	}
	return nil
}

// Marshal returns the configuration as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// NewHeap reserves memory as configured and creates a heap on it that uses
// the layout.Model object layout. Extra options are applied after the ones
// derived from the configuration.
func (c Config) NewHeap(debug io.Writer, opts ...gc.Option) (*gc.Heap, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	var (
		region *memory.Region
		err    error
	)
	switch c.Backing {
	case BackingMmap:
		region, err = memory.Map(c.Base, uintptr(c.HeapSize))
	default:
		region, err = memory.Reserve(c.Base, uintptr(c.HeapSize))
	}
	if err != nil {
		return nil, err
	}
	if c.Debug && debug != nil {
		opts = append([]gc.Option{gc.WithDebug(debug)}, opts...)
	}
	h, err := gc.New(region, layout.Model{}, opts...)
	if err != nil {
		region.Close()
		return nil, err
	}
	return h, nil
}
