package loader

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/briolang/brio/abi"
	"github.com/briolang/brio/bytecode"
	"github.com/briolang/brio/errors"
	"github.com/briolang/brio/ffi"
	"github.com/briolang/brio/gc"
	"github.com/briolang/brio/marshal"
	"github.com/briolang/brio/memory"
)

// Config wires a loader to its runtime instance.
type Config struct {
	// Logger defaults to a nop logger.
	Logger *zap.Logger
	// Types is the shared type registry. Created when nil.
	Types *memory.Table
	// Heap is the instance's collector. Created when nil.
	Heap *gc.Collector
	// Externs are host-injected functions; they take precedence over any
	// module declaration of the same name.
	Externs []*ffi.FunctionDefinition
	// Drivers defaults to DefaultDrivers.
	Drivers []Driver
	// Cache receives decoded image summaries. Nil disables caching.
	Cache *Cache
}

// Loader links module images against a shared type registry and heap.
type Loader struct {
	log     *zap.Logger
	types   *memory.Table
	heap    *gc.Collector
	interp  *bytecode.Interp
	codec   *marshal.Marshaler
	externs map[string]*ffi.FunctionDefinition
	drivers []Driver
	cache   *Cache

	mu      sync.RWMutex
	modules map[string]*Module
}

// New creates a loader. Duplicate extern names are rejected.
func New(cfg Config) (*Loader, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Types == nil {
		cfg.Types = memory.NewTable()
	}
	if cfg.Heap == nil {
		cfg.Heap = gc.NewCollector()
	}
	if cfg.Drivers == nil {
		cfg.Drivers = DefaultDrivers()
	}

	externs := make(map[string]*ffi.FunctionDefinition, len(cfg.Externs))
	for _, def := range cfg.Externs {
		if _, dup := externs[def.Prototype.Name]; dup {
			return nil, errors.Duplicate(errors.PhaseLink, "extern function", def.Prototype.Name)
		}
		externs[def.Prototype.Name] = def
	}

	return &Loader{
		log:     cfg.Logger,
		types:   cfg.Types,
		heap:    cfg.Heap,
		interp:  bytecode.NewInterp(cfg.Types),
		codec:   marshal.New(cfg.Types, cfg.Heap),
		externs: externs,
		drivers: cfg.Drivers,
		cache:   cfg.Cache,
		modules: make(map[string]*Module),
	}, nil
}

// Types returns the shared type registry.
func (l *Loader) Types() *memory.Table { return l.types }

// Heap returns the instance's collector.
func (l *Loader) Heap() *gc.Collector { return l.heap }

// Marshaler returns the boundary codec bound to this loader's registry and
// heap.
func (l *Loader) Marshaler() *marshal.Marshaler { return l.codec }

// Module returns a linked module by name.
func (l *Loader) Module(name string) (*Module, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	m, ok := l.modules[name]
	return m, ok
}

type decodedImage struct {
	path   string
	img    *abi.ModuleImage
	digest Digest
}

// Load links the image at path and, first, all of its transitive
// dependencies (sibling artifacts named by the image). It returns the root
// module. On any failure every registration this call made is unwound.
func (l *Loader) Load(path string) (*Module, error) {
	order, err := l.collect(path)
	if err != nil {
		return nil, err
	}
	root := order[len(order)-1]

	l.mu.Lock()
	defer l.mu.Unlock()

	var linked []*Module
	rollback := func() {
		for i := len(linked) - 1; i >= 0; i-- {
			delete(l.modules, linked[i].Name)
			l.releaseModule(linked[i])
		}
	}

	for _, d := range order {
		if _, ok := l.modules[d.img.Name]; ok {
			continue
		}
		m, err := l.linkLocked(d, "")
		if err != nil {
			rollback()
			return nil, err
		}
		l.modules[m.Name] = m
		linked = append(linked, m)
	}

	l.cacheSummary(root)
	return l.modules[root.img.Name], nil
}

// Reload re-links the image at path in place. The previous version of the
// module stays fully intact (and installed) if the attempt fails in any way.
func (l *Loader) Reload(path string) (*Module, error) {
	order, err := l.collect(path)
	if err != nil {
		return nil, err
	}
	root := order[len(order)-1]

	l.mu.Lock()
	defer l.mu.Unlock()

	// Link any dependencies that appeared since the previous load.
	var linked []*Module
	rollback := func() {
		for i := len(linked) - 1; i >= 0; i-- {
			delete(l.modules, linked[i].Name)
			l.releaseModule(linked[i])
		}
	}
	for _, d := range order[:len(order)-1] {
		if _, ok := l.modules[d.img.Name]; ok {
			continue
		}
		m, err := l.linkLocked(d, "")
		if err != nil {
			rollback()
			return nil, err
		}
		l.modules[m.Name] = m
		linked = append(linked, m)
	}

	// The previous version is found by path, not name: a rebuilt image may
	// carry a new module name, and the old entry has to go either way.
	var prev *Module
	for _, m := range l.modules {
		if m.Path == root.path {
			prev = m
			break
		}
	}

	// Relink the root against everything but its own previous version.
	skip := root.img.Name
	if prev != nil {
		skip = prev.Name
	}
	next, err := l.linkLocked(root, skip)
	if err != nil {
		rollback()
		return nil, err
	}

	if prev != nil {
		delete(l.modules, prev.Name)
		l.releaseModule(prev)
	}
	l.modules[next.Name] = next

	l.log.Info("relinked module",
		zap.String("module", next.Name),
		zap.String("digest", next.Digest.String()))
	l.cacheSummary(root)
	return next, nil
}

// collect decodes the image at rootPath and its transitive dependencies,
// decoding each frontier in parallel, and returns them in post-order
// (dependencies before dependents, root last).
func (l *Loader) collect(rootPath string) ([]*decodedImage, error) {
	rootPath, err := filepath.Abs(rootPath)
	if err != nil {
		return nil, errors.Load("resolve image path", err)
	}

	images := make(map[string]*decodedImage)
	seen := map[string]bool{rootPath: true}
	frontier := []string{rootPath}

	var mu sync.Mutex
	for len(frontier) > 0 {
		var g errgroup.Group
		var next []string

		for _, path := range frontier {
			g.Go(func() error {
				d, err := l.decodeFile(path)
				if err != nil {
					return err
				}
				mu.Lock()
				defer mu.Unlock()
				images[path] = d
				for _, dep := range d.img.Dependencies {
					depPath := filepath.Join(filepath.Dir(path), dep)
					if !seen[depPath] {
						seen[depPath] = true
						next = append(next, depPath)
					}
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		frontier = next
	}

	return orderImages(images, rootPath)
}

func (l *Loader) decodeFile(path string) (*decodedImage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Load("read image "+path, err)
	}
	driver, err := detectDriver(l.drivers, data)
	if err != nil {
		return nil, err
	}
	img, err := driver.Decode(data)
	if err != nil {
		return nil, err
	}
	l.log.Debug("decoded image",
		zap.String("path", path),
		zap.String("module", img.Name),
		zap.String("format", driver.Name()))
	return &decodedImage{path: path, img: img, digest: ComputeDigest(data)}, nil
}

// orderImages produces a post-order over the dependency graph, rejecting
// cycles.
func orderImages(images map[string]*decodedImage, rootPath string) ([]*decodedImage, error) {
	const (
		visiting = 1
		done     = 2
	)
	state := make(map[string]int, len(images))
	var order []*decodedImage

	var visit func(path string) error
	visit = func(path string) error {
		switch state[path] {
		case done:
			return nil
		case visiting:
			return errors.InvalidData(errors.PhaseLoad,
				"dependency cycle through "+images[path].img.Name)
		}
		state[path] = visiting
		d := images[path]
		for _, dep := range d.img.Dependencies {
			if err := visit(filepath.Join(filepath.Dir(path), dep)); err != nil {
				return err
			}
		}
		state[path] = done
		order = append(order, d)
		return nil
	}
	if err := visit(rootPath); err != nil {
		return nil, err
	}
	return order, nil
}

// linkLocked links one decoded image: registers its types, resolves the
// TypeRefs slot table and every prototype, and binds the dispatch table.
// skipName excludes a module (the one being reloaded) from extern
// resolution. Caller holds l.mu.
func (l *Loader) linkLocked(d *decodedImage, skipName string) (*Module, error) {
	ownTypes, err := l.types.RegisterModuleTypes(d.img.Types)
	if err != nil {
		return nil, err
	}

	m := &Module{
		Name:     d.img.Name,
		Path:     d.path,
		Digest:   d.digest,
		image:    d.img,
		ownTypes: ownTypes,
		exports:  make(map[string]*ffi.FunctionDefinition),
	}
	fail := func(err error) (*Module, error) {
		l.releaseModule(m)
		return nil, err
	}

	for _, id := range d.img.TypeRefs {
		t, err := l.types.Resolve(id)
		if err != nil {
			return fail(err)
		}
		l.types.RetainType(t)
		m.slots = append(m.slots, t)
	}

	protos := make([]ffi.FunctionPrototype, d.img.Dispatch.Len())
	for i := range d.img.Dispatch.Prototypes {
		if protos[i], err = l.resolvePrototype(m, &d.img.Dispatch.Prototypes[i]); err != nil {
			return fail(err)
		}
	}

	env := &moduleEnv{l: l, m: m}
	m.functions = make([]*ffi.FunctionDefinition, d.img.Dispatch.Len())
	var missing []errors.MissingExtern
	for i := range protos {
		if d.img.Dispatch.Flags[i]&abi.FlagExtern != 0 {
			def, rerr := l.resolveExternLocked(&protos[i], d.img.Name, skipName)
			if rerr != nil {
				var miss *errors.MissingExternsError
				if stderrors.As(rerr, &miss) {
					missing = append(missing, miss.Externs...)
					continue
				}
				return fail(rerr)
			}
			m.functions[i] = def
			continue
		}
		m.functions[i] = l.bindBody(env, d.img, i, protos[i])
		m.exports[protos[i].Name] = m.functions[i]
	}
	if len(missing) > 0 {
		return fail(&errors.MissingExternsError{Externs: missing})
	}

	l.log.Info("linked module",
		zap.String("module", m.Name),
		zap.Int("types", len(m.ownTypes)),
		zap.Int("functions", len(m.exports)))
	return m, nil
}

// resolvePrototype resolves a raw prototype's TypeIds against the registry,
// retaining each resolved type on the module.
func (l *Loader) resolvePrototype(m *Module, raw *abi.FunctionPrototype) (ffi.FunctionPrototype, error) {
	proto := ffi.FunctionPrototype{Name: raw.Name}
	retain := func(id abi.TypeId) (*memory.Type, error) {
		t, err := l.types.Resolve(id)
		if err != nil {
			return nil, err
		}
		l.types.RetainType(t)
		m.protoRefs = append(m.protoRefs, t)
		return t, nil
	}
	for _, id := range raw.ArgumentTypes {
		t, err := retain(id)
		if err != nil {
			return proto, err
		}
		proto.ArgumentTypes = append(proto.ArgumentTypes, t)
	}
	if raw.ReturnType != nil {
		t, err := retain(*raw.ReturnType)
		if err != nil {
			return proto, err
		}
		proto.ReturnType = t
	}
	return proto, nil
}

// resolveExternLocked finds the provider for an extern prototype: host
// externs first, then the exports of already-linked modules. The match must
// agree on the full signature.
func (l *Loader) resolveExternLocked(want *ffi.FunctionPrototype, forModule, skipName string) (*ffi.FunctionDefinition, error) {
	if def, ok := l.externs[want.Name]; ok {
		if !def.Prototype.Equal(want) {
			return nil, errors.Signature("extern %q signature mismatch: expected %s, found %s",
				want.Name, want.Signature(), def.Prototype.Signature())
		}
		return def, nil
	}

	names := make([]string, 0, len(l.modules))
	for name := range l.modules {
		if name != skipName {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		if def, ok := l.modules[name].exports[want.Name]; ok {
			if !def.Prototype.Equal(want) {
				return nil, errors.Signature("extern %q signature mismatch: expected %s, found %s",
					want.Name, want.Signature(), def.Prototype.Signature())
			}
			return def, nil
		}
	}
	return nil, &errors.MissingExternsError{Externs: []errors.MissingExtern{
		{Module: forModule, Function: want.Name},
	}}
}

// bindBody creates the interpreter-backed definition for a dispatch entry.
func (l *Loader) bindBody(env *moduleEnv, img *abi.ModuleImage, i int, proto ffi.FunctionPrototype) *ffi.FunctionDefinition {
	span := img.Dispatch.Spans[i]
	code := img.Code[span.Offset : span.Offset+span.Length]

	def := &ffi.FunctionDefinition{Prototype: proto}
	def.Call = func(args []ffi.Value) (ffi.Value, error) {
		if err := l.codec.CheckArgs(&def.Prototype, args); err != nil {
			return ffi.Value{}, err
		}
		out, err := l.interp.Exec(env, code, args)
		if err != nil {
			return ffi.Value{}, err
		}
		ret := def.Prototype.ReturnType
		if ret == nil {
			return ffi.Unit(), nil
		}
		if out.Type() != ret {
			// The interpreter's unit has no registry type; accept it for a
			// declared core::empty return.
			if p, ok := ret.AsPrimitive(); ok && p == abi.PrimEmpty && out.IsUnit() {
				return out, nil
			}
			return ffi.Value{}, errors.TypeMismatch(errors.PhaseExec,
				[]string{def.Prototype.Name, "return"},
				ret.Name(), out.TypeName())
		}
		return out, nil
	}
	return def
}

// releaseModule returns every type reference the module holds to the
// registry, in reverse acquisition order.
func (l *Loader) releaseModule(m *Module) {
	for i := len(m.protoRefs) - 1; i >= 0; i-- {
		l.types.ReleaseType(m.protoRefs[i])
	}
	for i := len(m.slots) - 1; i >= 0; i-- {
		l.types.ReleaseType(m.slots[i])
	}
	for i := len(m.ownTypes) - 1; i >= 0; i-- {
		l.types.ReleaseType(m.ownTypes[i])
	}
}

func (l *Loader) cacheSummary(d *decodedImage) {
	if l.cache == nil {
		return
	}
	if err := l.cache.Put(d.digest, Summarize(d.img)); err != nil {
		l.log.Debug("image summary not cached",
			zap.String("module", d.img.Name),
			zap.Error(err))
	}
}
