package loader

import (
	"bytes"
	"compress/gzip"
	"io"
	"sync"

	"github.com/briolang/brio/abi"
	"github.com/briolang/brio/errors"
)

// Driver decodes one on-disk image format. Driver implementations are not
// reentrant; callers hold the driver's own lock for the whole decode so
// independent formats can still decode concurrently.
type Driver interface {
	// Name identifies the format family, e.g. "raw" or "gzip".
	Name() string
	// Detect reports whether data looks like this driver's format.
	Detect(data []byte) bool
	// Decode parses the full artifact into a module image.
	Decode(data []byte) (*abi.ModuleImage, error)
}

// DefaultDrivers returns the built-in format drivers: raw images and
// gzip-compressed images.
func DefaultDrivers() []Driver {
	return []Driver{newRawDriver(), newGzipDriver()}
}

// DecodeImage detects the artifact format with the default driver set and
// decodes it. It is the one-shot entry point tooling uses outside a loader.
func DecodeImage(data []byte) (*abi.ModuleImage, error) {
	d, err := detectDriver(DefaultDrivers(), data)
	if err != nil {
		return nil, err
	}
	return d.Decode(data)
}

// detectDriver picks the first driver claiming the data.
func detectDriver(drivers []Driver, data []byte) (Driver, error) {
	for _, d := range drivers {
		if d.Detect(data) {
			return d, nil
		}
	}
	return nil, errors.InvalidData(errors.PhaseLoad, "unrecognized image format")
}

type rawDriver struct {
	mu sync.Mutex
}

func newRawDriver() *rawDriver { return &rawDriver{} }

func (d *rawDriver) Name() string { return "raw" }

func (d *rawDriver) Detect(data []byte) bool { return abi.IsImage(data) }

func (d *rawDriver) Decode(data []byte) (*abi.ModuleImage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return abi.Decode(data)
}

var gzipMagic = []byte{0x1f, 0x8b}

type gzipDriver struct {
	mu sync.Mutex
}

func newGzipDriver() *gzipDriver { return &gzipDriver{} }

func (d *gzipDriver) Name() string { return "gzip" }

func (d *gzipDriver) Detect(data []byte) bool {
	return len(data) >= 2 && bytes.Equal(data[:2], gzipMagic)
}

func (d *gzipDriver) Decode(data []byte) (*abi.ModuleImage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Load("open gzip image", err)
	}
	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, errors.Load("decompress image", err)
	}
	if err := zr.Close(); err != nil {
		return nil, errors.Load("verify gzip checksum", err)
	}
	return abi.Decode(raw)
}
