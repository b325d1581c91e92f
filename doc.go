// Package brio is a hot-reloadable runtime for compiled brio module images.
//
// The runtime loads versioned binary module artifacts, links their dispatch
// tables against a shared type registry and host-injected functions, runs
// their bytecode over a root-counted garbage-collected heap, and swaps in
// recompiled artifacts while the host keeps running.
//
// # Architecture Overview
//
// The library is organized into packages with distinct responsibilities:
//
//	brio/
//	├── runtime/   High-level API: load a module, find and invoke functions,
//	│              apply hot-reloads, reach the GC
//	├── loader/    Image format drivers, dependency resolution, linking with
//	│              full rollback, the on-disk summary cache
//	├── marshal/   Host <-> module value conversion and rooted struct/array
//	│              handles
//	├── bytecode/  Instruction set, assembler and stack interpreter
//	├── gc/        Mark-sweep collector with stable double-indirect handles
//	├── memory/    The type registry: resolved types, layouts, refcounts
//	├── ffi/       Boundary values, prototypes, host function wrapping
//	├── abi/       The versioned binary image format itself
//	├── errors/    Structured error types shared by every phase
//	└── project/   brio.toml manifests for the CLI
//
// # Quick Start
//
// Load a module and call into it:
//
//	rt, err := runtime.New("demo.brio", runtime.Options{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	result, err := runtime.Invoke(rt, "fibonacci", int64(10))
//	fmt.Println(result) // 55
//
// Recompile the module and pick up the change without restarting:
//
//	changed, err := rt.Update()
//
// # Host Functions
//
// Modules may declare extern functions the host supplies at construction:
//
//	types := memory.NewTable()
//	logFn, _ := ffi.NewFunction("host_log", func(v int64) {
//	    fmt.Println("module says:", v)
//	}, types)
//
//	rt, err := runtime.New("demo.brio", runtime.Options{
//	    Types:     types,
//	    Functions: []*ffi.FunctionDefinition{logFn},
//	})
package brio
