package bytecode

// Op is a single opcode.
type Op byte

const (
	// Stack and constants.
	OpPushInt   Op = iota + 1 // i64 operand
	OpPushFloat               // f64 bits operand
	OpPushBool                // 1-byte operand
	OpPushUnit
	OpPop

	// Arguments and locals.
	OpLoadArg    // u16 argument index
	OpLoadLocal  // u16 local slot
	OpStoreLocal // u16 local slot

	// Signed integer arithmetic and comparison.
	OpAddInt
	OpSubInt
	OpMulInt
	OpDivInt
	OpNegInt
	OpEqInt
	OpNeInt
	OpLtInt
	OpLeInt
	OpGtInt
	OpGeInt

	// Float arithmetic and comparison.
	OpAddFloat
	OpSubFloat
	OpMulFloat
	OpDivFloat
	OpEqFloat
	OpLtFloat
	OpLeFloat

	OpNot

	// Control flow. Targets are absolute offsets into the instruction
	// stream.
	OpJump        // u32 target
	OpBranchFalse // u32 target

	// Call through the dispatch table. The callee's result (unit included)
	// is pushed; callers that discard it emit OpPop.
	OpCall // u32 dispatch slot, u16 argument count

	// Heap allocation through the module's type slot table.
	OpNewStruct // u32 type slot
	OpNewArray  // u32 type slot; length popped

	// Field access on the struct at the top of the stack.
	OpGetField // u16 field index
	OpSetField // u16 field index; value then object popped

	// Array element access; index popped (and value, for store).
	OpLoadElem
	OpStoreElem

	OpReturn // value popped
	OpReturnVoid
)

var opNames = map[Op]string{
	OpPushInt:     "push.int",
	OpPushFloat:   "push.float",
	OpPushBool:    "push.bool",
	OpPushUnit:    "push.unit",
	OpPop:         "pop",
	OpLoadArg:     "load.arg",
	OpLoadLocal:   "load.local",
	OpStoreLocal:  "store.local",
	OpAddInt:      "add.int",
	OpSubInt:      "sub.int",
	OpMulInt:      "mul.int",
	OpDivInt:      "div.int",
	OpNegInt:      "neg.int",
	OpEqInt:       "eq.int",
	OpNeInt:       "ne.int",
	OpLtInt:       "lt.int",
	OpLeInt:       "le.int",
	OpGtInt:       "gt.int",
	OpGeInt:       "ge.int",
	OpAddFloat:    "add.float",
	OpSubFloat:    "sub.float",
	OpMulFloat:    "mul.float",
	OpDivFloat:    "div.float",
	OpEqFloat:     "eq.float",
	OpLtFloat:     "lt.float",
	OpLeFloat:     "le.float",
	OpNot:         "not",
	OpJump:        "jump",
	OpBranchFalse: "branch.false",
	OpCall:        "call",
	OpNewStruct:   "new.struct",
	OpNewArray:    "new.array",
	OpGetField:    "get.field",
	OpSetField:    "set.field",
	OpLoadElem:    "load.elem",
	OpStoreElem:   "store.elem",
	OpReturn:      "return",
	OpReturnVoid:  "return.void",
}

// String returns the mnemonic, or a hex form for unknown opcodes.
func (o Op) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return "op(0x" + hexByte(byte(o)) + ")"
}

func hexByte(b byte) string {
	const digits = "0123456789abcdef"
	return string([]byte{digits[b>>4], digits[b&0xf]})
}
