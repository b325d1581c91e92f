package main

import (
	"fmt"
	"strconv"

	"github.com/briolang/brio/memory"
)

// parseArg converts one command-line token into the host value the named
// primitive type expects. Struct and array parameters cannot be expressed
// on the command line.
func parseArg(value string, t *memory.Type) (any, error) {
	switch t.Name() {
	case "core::bool":
		v, err := strconv.ParseBool(value)
		return v, err
	case "core::i8":
		v, err := strconv.ParseInt(value, 10, 8)
		return int8(v), err
	case "core::i16":
		v, err := strconv.ParseInt(value, 10, 16)
		return int16(v), err
	case "core::i32":
		v, err := strconv.ParseInt(value, 10, 32)
		return int32(v), err
	case "core::i64":
		v, err := strconv.ParseInt(value, 10, 64)
		return v, err
	case "core::u8":
		v, err := strconv.ParseUint(value, 10, 8)
		return uint8(v), err
	case "core::u16":
		v, err := strconv.ParseUint(value, 10, 16)
		return uint16(v), err
	case "core::u32":
		v, err := strconv.ParseUint(value, 10, 32)
		return uint32(v), err
	case "core::u64":
		v, err := strconv.ParseUint(value, 10, 64)
		return v, err
	case "core::f32":
		v, err := strconv.ParseFloat(value, 32)
		return float32(v), err
	case "core::f64":
		v, err := strconv.ParseFloat(value, 64)
		return v, err
	default:
		return nil, fmt.Errorf("cannot build a %s from the command line", t.Name())
	}
}

// parseArgs pairs tokens with parameter types.
func parseArgs(tokens []string, types []*memory.Type) ([]any, error) {
	if len(tokens) != len(types) {
		return nil, fmt.Errorf("expected %d argument(s), got %d", len(types), len(tokens))
	}
	args := make([]any, len(tokens))
	for i, tok := range tokens {
		v, err := parseArg(tok, types[i])
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		args[i] = v
	}
	return args, nil
}
