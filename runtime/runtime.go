package runtime

import (
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/briolang/brio/errors"
	"github.com/briolang/brio/ffi"
	"github.com/briolang/brio/gc"
	"github.com/briolang/brio/loader"
	"github.com/briolang/brio/marshal"
	"github.com/briolang/brio/memory"
)

// Options configure a runtime instance at construction.
type Options struct {
	// Logger defaults to a nop logger.
	Logger *zap.Logger
	// Types is the registry the instance links against. Created when nil.
	// Host extern functions must be built against this same table.
	Types *memory.Table
	// Functions are host externs resolvable by modules during linking.
	Functions []*ffi.FunctionDefinition
	// PollInterval is the cadence Update callers should use. The runtime
	// never schedules polling itself; this is advisory, surfaced through
	// PollInterval().
	PollInterval time.Duration
	// Cache receives image summaries for tooling. Nil disables it.
	Cache *loader.Cache
}

// Runtime owns one root module (plus its dependency closure), the type
// registry and heap they share, and the hot-reload state of the backing
// file.
type Runtime struct {
	log      *zap.Logger
	loader   *loader.Loader
	path     string
	module   string
	interval time.Duration

	mu    sync.Mutex
	print fingerprint
}

// fingerprint is what Update compares to decide whether the backing file
// changed since the last check.
type fingerprint struct {
	size    int64
	modTime time.Time
	digest  loader.Digest
}

// New loads the module at path, transitively its dependencies, and returns
// a runtime bound to it. Host functions in opts resolve module externs.
func New(path string, opts Options) (*Runtime, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	l, err := loader.New(loader.Config{
		Logger:  opts.Logger,
		Types:   opts.Types,
		Externs: opts.Functions,
		Cache:   opts.Cache,
	})
	if err != nil {
		return nil, err
	}

	m, err := l.Load(path)
	if err != nil {
		return nil, err
	}

	rt := &Runtime{
		log:      opts.Logger,
		loader:   l,
		path:     m.Path,
		module:   m.Name,
		interval: opts.PollInterval,
	}
	if err := rt.fingerprintLocked(m.Digest); err != nil {
		return nil, err
	}
	return rt, nil
}

func (r *Runtime) fingerprintLocked(digest loader.Digest) error {
	info, err := os.Stat(r.path)
	if err != nil {
		return errors.Load("stat module "+r.path, err)
	}
	r.print = fingerprint{size: info.Size(), modTime: info.ModTime(), digest: digest}
	return nil
}

// PollInterval returns the advisory Update cadence from Options; zero means
// the caller picks its own.
func (r *Runtime) PollInterval() time.Duration { return r.interval }

// Module returns the current root module.
func (r *Runtime) Module() *loader.Module {
	m, _ := r.loader.Module(r.module)
	return m
}

// FindFunction looks up an exported function of the root module by exact
// name. The returned handle stays valid across reloads; it re-resolves on
// every call and reports not-found if a reload dropped the function.
func (r *Runtime) FindFunction(name string) (*Function, error) {
	if _, ok := r.Module().Function(name); !ok {
		return nil, errors.NotFound(errors.PhaseExec, "function", name)
	}
	return &Function{rt: r, name: name}, nil
}

// Update polls the backing file and reloads the module if its content
// changed since the last check. It returns whether a reload happened. On
// reload failure the previous module stays installed and the error is
// returned; a later Update retries.
func (r *Runtime) Update() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, err := os.Stat(r.path)
	if err != nil {
		return false, errors.Load("stat module "+r.path, err)
	}
	if info.Size() == r.print.size && info.ModTime().Equal(r.print.modTime) {
		return false, nil
	}

	data, err := os.ReadFile(r.path)
	if err != nil {
		return false, errors.Load("read module "+r.path, err)
	}
	digest := loader.ComputeDigest(data)
	if digest == r.print.digest {
		// Touched but unchanged; remember the new stamp.
		r.print.size = info.Size()
		r.print.modTime = info.ModTime()
		return false, nil
	}

	m, err := r.loader.Reload(r.path)
	if err != nil {
		return false, err
	}
	r.module = m.Name
	r.print = fingerprint{size: info.Size(), modTime: info.ModTime(), digest: m.Digest}
	r.log.Info("module updated",
		zap.String("module", m.Name),
		zap.String("digest", m.Digest.String()))
	return true, nil
}

// Marshaler returns the boundary codec scoped to this instance's registry
// and heap.
func (r *Runtime) Marshaler() *marshal.Marshaler {
	return r.loader.Marshaler()
}

// TypeInfoByName resolves a registered type by its fully qualified name.
func (r *Runtime) TypeInfoByName(name string) (*memory.Type, bool) {
	return r.loader.Types().FindByName(name)
}

// NewStruct allocates an instance of the named struct type and returns a
// rooted handle to it.
func (r *Runtime) NewStruct(name string) (*marshal.StructRef, error) {
	return r.Marshaler().NewStruct(name)
}

// NewArray allocates an array of length elements of the given element type.
func (r *Runtime) NewArray(elem *memory.Type, length int) (*marshal.ArrayRef, error) {
	return r.Marshaler().NewArray(elem, length)
}

// ConstructArray allocates an array and fills it from host values, one
// element per value. The rooted handle is released if any element refuses
// to marshal.
func (r *Runtime) ConstructArray(elem *memory.Type, values ...any) (*marshal.ArrayRef, error) {
	arr, err := r.NewArray(elem, len(values))
	if err != nil {
		return nil, err
	}
	for i, v := range values {
		if err := arr.SetAt(i, v); err != nil {
			arr.Release()
			return nil, err
		}
	}
	return arr, nil
}

// GCAlloc allocates zeroed heap storage for t on this instance's heap.
func (r *Runtime) GCAlloc(t *memory.Type) (gc.Ptr, error) {
	return r.loader.Heap().Alloc(t)
}

// GCRoot pins p against collection until a matching GCUnroot.
func (r *Runtime) GCRoot(p gc.Ptr) { r.loader.Heap().Root(p) }

// GCUnroot releases one root held on p.
func (r *Runtime) GCUnroot(p gc.Ptr) { r.loader.Heap().Unroot(p) }

// GCPtrType recovers the type of a live object.
func (r *Runtime) GCPtrType(p gc.Ptr) *memory.Type { return r.loader.Heap().TypeOf(p) }

// GCCollect runs a full collection pass and reports whether anything was
// reclaimed.
func (r *Runtime) GCCollect() bool { return r.loader.Heap().Collect() }

// GCStats returns heap counters.
func (r *Runtime) GCStats() gc.Stats { return r.loader.Heap().Stats() }
