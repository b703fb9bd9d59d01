//go:build amd64

package jit

import "testing"

func TestMovRegImm64Encoding(t *testing.T) {
	e := NewEncoder()
	e.MovRegImm64(RAX, 42)
	got := e.Bytes()
	// REX.W (0x48) + B8+reg (mov rax, imm64) + 8-byte little-endian immediate.
	want := []byte{0x48, 0xB8, 42, 0, 0, 0, 0, 0, 0, 0}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d want %d (%x)", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d: got %#x want %#x", i, got[i], want[i])
		}
	}
}

func TestPatchRel32RoundTrip(t *testing.T) {
	e := NewEncoder()
	site := e.JmpRel32()
	e.emit(0x90, 0x90, 0x90) // padding so target != site
	target := e.Len()
	e.PatchRel32(site, target)

	data := e.Bytes()
	rel := int32(data[site]) | int32(data[site+1])<<8 | int32(data[site+2])<<16 | int32(data[site+3])<<24
	if int(rel) != target-(site+4) {
		t.Fatalf("patched displacement %d, want %d", rel, target-(site+4))
	}
}

func TestRetByte(t *testing.T) {
	e := NewEncoder()
	e.Ret()
	got := e.Bytes()
	if len(got) != 1 || got[0] != 0xC3 {
		t.Fatalf("Ret() = %x, want [0xc3]", got)
	}
}
