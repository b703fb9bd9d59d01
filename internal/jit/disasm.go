//go:build amd64

package jit

import (
	"fmt"
	"strings"

	"golang.org/x/arch/x86/x86asm"
)

// Disassemble renders machine code as text: one line per decoded
// instruction, byte offset then the Intel-syntax mnemonic x86asm recovers
// from our own encoding. No driver flag calls it.
func Disassemble(code []byte) string {
	var sb strings.Builder
	for off := 0; off < len(code); {
		inst, err := x86asm.Decode(code[off:], 64)
		if err != nil || inst.Len == 0 {
			fmt.Fprintf(&sb, "%04x\t.byte 0x%02x\n", off, code[off])
			off++
			continue
		}
		fmt.Fprintf(&sb, "%04x\t%s\n", off, x86asm.IntelSyntax(inst, uint64(off), nil))
		off += inst.Len
	}
	return sb.String()
}
