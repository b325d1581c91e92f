// Package loader turns on-disk module images into live, callable modules.
//
// Loading runs in phases: a format driver decodes the raw bytes (drivers are
// non-reentrant and serialized per format family), dependency images are
// decoded in parallel and linked in post-order, the module's types are
// registered into the shared registry, every dispatch prototype is resolved
// against it, and function bodies are bound to the bytecode interpreter.
// Extern prototypes resolve against host-injected functions first, then
// against the exports of already-linked modules. Any failure unwinds every
// registration the attempt made; the registry and the loaded module set are
// never left partially updated.
package loader
