// Package project reads brio.toml, the manifest describing a compiled module
// artifact and how the tooling should watch it.
package project

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/briolang/brio/errors"
)

// ManifestName is the file the tooling looks for.
const ManifestName = "brio.toml"

// DefaultWatchInterval is used when the manifest does not set one.
const DefaultWatchInterval = 500 * time.Millisecond

// Package identifies the artifact the manifest describes.
type Package struct {
	Name  string `toml:"name"`
	Entry string `toml:"entry"`
}

// Watch configures reload polling for the watch command.
type Watch struct {
	Interval duration `toml:"interval"`
}

// Project is a parsed manifest plus the directory it was found in.
type Project struct {
	Package Package `toml:"package"`
	Watch   Watch   `toml:"watch"`

	dir string
}

// duration lets the manifest write intervals as "500ms" or "2s".
type duration time.Duration

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = duration(v)
	return nil
}

// Load parses the manifest at path.
func Load(path string) (*Project, error) {
	var p Project
	if _, err := toml.DecodeFile(path, &p); err != nil {
		return nil, errors.Load("parse manifest "+path, err)
	}
	if p.Package.Name == "" {
		return nil, errors.InvalidData(errors.PhaseLoad, "manifest is missing package.name")
	}
	if p.Package.Entry == "" {
		return nil, errors.InvalidData(errors.PhaseLoad, "manifest is missing package.entry")
	}
	p.dir = filepath.Dir(path)
	return &p, nil
}

// Find walks from dir upward to the filesystem root looking for a manifest
// and loads the first one it finds.
func Find(dir string) (*Project, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, errors.Load("resolve project directory", err)
	}
	for {
		path := filepath.Join(dir, ManifestName)
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, errors.NotFound(errors.PhaseLoad, "manifest", ManifestName)
		}
		dir = parent
	}
}

// EntryPath returns the artifact path, resolved against the manifest's
// directory when relative.
func (p *Project) EntryPath() string {
	if filepath.IsAbs(p.Package.Entry) {
		return p.Package.Entry
	}
	return filepath.Join(p.dir, p.Package.Entry)
}

// WatchInterval returns the configured polling interval or the default.
func (p *Project) WatchInterval() time.Duration {
	if p.Watch.Interval <= 0 {
		return DefaultWatchInterval
	}
	return time.Duration(p.Watch.Interval)
}
