package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseLoad    Phase = "load"    // module image reading and validation
	PhaseLink    Phase = "link"    // type registration and dispatch binding
	PhaseMarshal Phase = "marshal" // value conversion across the ABI boundary
	PhaseGC      Phase = "gc"      // heap allocation and collection
	PhaseRuntime Phase = "runtime" // lookup, invocation, hot-reload
	PhaseExec    Phase = "exec"    // bytecode execution inside a module
)

// Kind categorizes the error
type Kind string

const (
	KindVersionMismatch Kind = "version_mismatch"
	KindTypeMismatch    Kind = "type_mismatch"
	KindNotFound        Kind = "not_found"
	KindOutOfBounds     Kind = "out_of_bounds"
	KindInvalidData     Kind = "invalid_data"
	KindAllocation      Kind = "allocation"
	KindSignature       Kind = "signature"
	KindUnresolvedType  Kind = "unresolved_type"
	KindDuplicate       Kind = "duplicate"
	KindUnsupported     Kind = "unsupported"
	KindMissingExtern   Kind = "missing_extern"
	KindInvalidInput    Kind = "invalid_input"
)

// Error is the structured error type used throughout the runtime
type Error struct {
	Cause    error
	Phase    Phase
	Kind     Kind
	Expected string // expected type name, when meaningful
	Found    string // found type name, when meaningful
	Detail   string
	Path     []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.Expected != "" || e.Found != "" {
		b.WriteString(": ")
		if e.Expected != "" && e.Found != "" {
			b.WriteString("expected ")
			b.WriteString(e.Expected)
			b.WriteString(", found ")
			b.WriteString(e.Found)
		} else if e.Expected != "" {
			b.WriteString("expected ")
			b.WriteString(e.Expected)
		} else {
			b.WriteString("found ")
			b.WriteString(e.Found)
		}
	}

	if e.Detail != "" {
		if e.Expected != "" || e.Found != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the field path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Expected sets the expected type name
func (b *Builder) Expected(name string) *Builder {
	b.err.Expected = name
	return b
}

// Found sets the found type name
func (b *Builder) Found(name string) *Builder {
	b.err.Found = name
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// VersionMismatch creates an ABI version mismatch error
func VersionMismatch(supported, embedded uint32) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindVersionMismatch,
		Detail: fmt.Sprintf("module ABI version %d, supported version %d", embedded, supported),
	}
}

// TypeMismatch creates a type mismatch error citing both type names
func TypeMismatch(phase Phase, path []string, expected, found string) *Error {
	return &Error{
		Phase:    phase,
		Kind:     KindTypeMismatch,
		Path:     path,
		Expected: expected,
		Found:    found,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// OutOfBounds creates an out of bounds error
func OutOfBounds(phase Phase, index, length int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Detail: fmt.Sprintf("index %d out of bounds (length %d)", index, length),
	}
}

// InvalidData creates a malformed data error
func InvalidData(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Detail: detail,
	}
}

// AllocationFailed creates an allocation failure error
func AllocationFailed(size, align uint32) *Error {
	return &Error{
		Phase:  PhaseGC,
		Kind:   KindAllocation,
		Detail: fmt.Sprintf("failed to allocate %d bytes (align %d)", size, align),
	}
}

// Signature creates an argument/return signature error
func Signature(detail string, args ...any) *Error {
	return &Error{
		Phase:  PhaseMarshal,
		Kind:   KindSignature,
		Detail: fmt.Sprintf(detail, args...),
	}
}

// UnresolvedType creates an error for a TypeId absent from the registry
func UnresolvedType(phase Phase, display string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnresolvedType,
		Detail: fmt.Sprintf("type %s is not resolvable; a dependency module may be missing", display),
	}
}

// Duplicate creates a duplicate registration error
func Duplicate(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindDuplicate,
		Detail: fmt.Sprintf("%s %q already registered", what, name),
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// Load creates a module loading error
func Load(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInvalidData,
		Detail: detail,
		Cause:  cause,
	}
}

// MissingExtern represents a single unresolved extern declaration
type MissingExtern struct {
	Module   string // path of the module declaring the extern
	Function string
}

// MissingExternsError is returned when linking fails because the host did
// not supply (or supplied with a different signature) declared externs.
type MissingExternsError struct {
	Externs []MissingExtern
}

func (e *MissingExternsError) Error() string {
	if len(e.Externs) == 0 {
		return "[link] missing_extern: no externs specified"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "missing %d extern function(s):\n", len(e.Externs))

	byModule := make(map[string][]string)
	var order []string
	for _, ext := range e.Externs {
		if _, seen := byModule[ext.Module]; !seen {
			order = append(order, ext.Module)
		}
		byModule[ext.Module] = append(byModule[ext.Module], ext.Function)
	}

	for _, mod := range order {
		b.WriteString("\n  ")
		b.WriteString(mod)
		b.WriteString(":\n")
		for _, fn := range byModule[mod] {
			b.WriteString("    - ")
			b.WriteString(fn)
			b.WriteByte('\n')
		}
	}

	return strings.TrimSuffix(b.String(), "\n")
}

// Is reports whether target matches this error type
func (e *MissingExternsError) Is(target error) bool {
	_, ok := target.(*MissingExternsError)
	return ok
}
