package bytecode

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/dzharkov/mathvm-impl/internal/mverr"
)

// unresolvedOffset is the sentinel written into a branch's 2-byte slot
// before its label is bound (§3: "sentinel 0x1ead").
const unresolvedOffset int16 = 0x1ead

// Buffer is the append-only per-function byte stream of §4.1. All
// multi-byte values are little-endian and unaligned, written with a
// bitwise copy the way the teacher's uint32ToBytes/uint32FromBytes pair
// does it in vm/vm.go, generalized here to 16/32/64-bit ints and float64.
type Buffer struct {
	data []byte
}

func NewBuffer() *Buffer {
	return &Buffer{data: make([]byte, 0, 64)}
}

func (b *Buffer) Len() int { return len(b.data) }

func (b *Buffer) Bytes() []byte { return b.data }

func (b *Buffer) AddByte(v byte) {
	b.data = append(b.data, v)
}

func (b *Buffer) AddOpcode(op Opcode) {
	b.AddByte(byte(op))
}

func (b *Buffer) AddInt16(v int16) {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], uint16(v))
	b.data = append(b.data, buf[:]...)
}

func (b *Buffer) AddUint16(v uint16) {
	b.AddInt16(int16(v))
}

func (b *Buffer) AddInt32(v int32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(v))
	b.data = append(b.data, buf[:]...)
}

func (b *Buffer) AddInt64(v int64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(v))
	b.data = append(b.data, buf[:]...)
}

func (b *Buffer) AddDouble(v float64) {
	b.AddInt64(int64(math.Float64bits(v)))
}

func GetInt16(data []byte, index int) int16 {
	return int16(binary.LittleEndian.Uint16(data[index:]))
}

func GetUint16(data []byte, index int) uint16 {
	return binary.LittleEndian.Uint16(data[index:])
}

func GetInt64(data []byte, index int) int64 {
	return int64(binary.LittleEndian.Uint64(data[index:]))
}

func GetDouble(data []byte, index int) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(data[index:]))
}

func (b *Buffer) GetOpcode(index int) Opcode {
	return Opcode(b.data[index])
}

// AddBranch appends opcode followed by either label's resolved signed
// 16-bit offset (relative to the byte after this 2-byte slot) or the
// unresolved sentinel with a relocation queued on the label (§4.1).
func (b *Buffer) AddBranch(op Opcode, label *Label) {
	b.AddOpcode(op)
	site := b.Len()
	if label.isBound {
		b.AddInt16(relativeOffset(site+2, label.offset))
	} else {
		b.AddInt16(unresolvedOffset)
		label.relocations = append(label.relocations, site)
	}
}

// Label binds to a byte offset; unresolved forward branches queue their
// relocation site here until Bind rewrites them (§3, §9 "Branch relocation").
type Label struct {
	isBound     bool
	offset      int
	relocations []int
}

func NewLabel() *Label { return &Label{} }

// Bind fixes label at the buffer's current end, then patches every queued
// relocation site with target-(site+2), the signed distance from the byte
// following the 2-byte offset slot.
func (b *Buffer) Bind(label *Label) error {
	label.offset = b.Len()
	label.isBound = true
	for _, site := range label.relocations {
		off := relativeOffset(site+2, label.offset)
		if err := checkOverflow(site, label.offset); err != nil {
			return err
		}
		binary.LittleEndian.PutUint16(b.data[site:], uint16(off))
	}
	label.relocations = nil
	return nil
}

func relativeOffset(siteEnd, target int) int16 {
	return int16(target - siteEnd)
}

// checkOverflow is a fatal build error per §4.1: overflow of the signed
// 16-bit branch range must never be silently truncated.
func checkOverflow(site, target int) error {
	delta := target - (site + 2)
	if delta < math.MinInt16 || delta > math.MaxInt16 {
		return mverr.Fatal(mverr.Translation,
			"branch offset %d at byte %d exceeds signed 16-bit range", delta, site)
	}
	return nil
}

func (b *Buffer) String() string {
	return fmt.Sprintf("<bytecode: %d bytes>", len(b.data))
}
