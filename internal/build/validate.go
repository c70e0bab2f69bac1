package build

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidOpcode        = errors.New("invalid opcode")
	ErrTruncatedInstruction = errors.New("truncated instruction")
)

const maxOpcode = 11

// operandOpcodes are the opcodes followed by a 4-byte immediate operand.
// Everything else in 0..11 is a bare 1-byte instruction.
var operandOpcodes = map[byte]bool{
	1: true, // MOV
	2: true, // ADD
	3: true, // LOAD
	4: true, // STORE
	5: true, // JMP
	6: true, // JZ
	8: true, // MOVP
	9: true, // ADDP
}

// Validate scans a compiled blob from offset 0 and checks that it decodes as
// a whole number of instructions. The compiler's exit status is not trusted;
// this is the authoritative check before a blob enters the cache.
func Validate(blob []byte) error {
	off := 0
	for off < len(blob) {
		op := blob[off]
		if op > maxOpcode {
			return fmt.Errorf("%w: opcode %d at offset %d", ErrInvalidOpcode, op, off)
		}
		width := 1
		if operandOpcodes[op] {
			width = 5
		}
		if off+width > len(blob) {
			return fmt.Errorf("%w: opcode %d at offset %d needs %d bytes, %d left",
				ErrTruncatedInstruction, op, off, width, len(blob)-off)
		}
		off += width
	}
	return nil
}
