//go:build amd64

package jit

import (
	"syscall"
	"unsafe"

	"github.com/pkg/errors"
)

// execPage is one mmap'd RX region holding a single compiled function's
// machine code. The mmap/mprotect/munmap sequence (allocate RW, copy code
// in, flip to RX, and an explicit Free for teardown) is grounded on the
// standard-library syscall pattern used by the pack's own Scheme JIT.
type execPage struct {
	ptr unsafe.Pointer
	n   int
}

func pageRound(n int) int {
	pagesize := syscall.Getpagesize()
	return (n + pagesize - 1) / pagesize * pagesize
}

// allocExec copies code into a fresh anonymous mapping and switches it
// from RW to RX; the returned execPage's Entry is the program counter a
// trampoline can jump to.
func allocExec(code []byte) (*execPage, error) {
	n := pageRound(len(code))
	data, err := syscall.Mmap(-1, 0, n,
		syscall.PROT_READ|syscall.PROT_WRITE,
		syscall.MAP_PRIVATE|syscall.MAP_ANON)
	if err != nil {
		return nil, errors.Wrap(err, "jit: mmap executable page")
	}
	copy(data, code)
	if err := syscall.Mprotect(data, syscall.PROT_READ|syscall.PROT_EXEC); err != nil {
		syscall.Munmap(data)
		return nil, errors.Wrap(err, "jit: mprotect RX")
	}
	return &execPage{ptr: unsafe.Pointer(&data[0]), n: n}, nil
}

func (p *execPage) Entry() uintptr { return uintptr(p.ptr) }

func (p *execPage) Free() error {
	data := unsafe.Slice((*byte)(p.ptr), p.n)
	return syscall.Munmap(data)
}

// entryFunc is the Go signature a mapped top-level function (zero MathVM
// parameters, at most one scalar result) is invoked through. Go's
// assembly trampoline in invoke_amd64.s bridges the Go ABI call below
// into the System V entry the compiler emitted: it loads the mmap'd
// address into a register and CALLs it, so no unsafe func-value cast
// (the pack's own JIT resorts to one, see DESIGN.md) is needed.
//
//go:noescape
func entryFunc(addr uintptr) (intResult int64, dblResult float64)

// Run invokes a compiled top-level function and returns its result
// reinterpreted per retIsDouble.
func Run(p *execPage, retIsDouble bool) (int64, float64) {
	i, d := entryFunc(p.Entry())
	if retIsDouble {
		return 0, d
	}
	return i, 0
}
