// Package runtime implements the "Runtime support" component of §2: the
// small set of helpers the interpreter calls into (JIT-emitted code calls
// none of them) — value formatting for IPRINT/DPRINT/SPRINT, the native-function
// table, and the magic/empty-string constants referenced from §3 and §9.
package runtime

import (
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/dzharkov/mathvm-impl/internal/types"
)

// EmptyStringID is the constant-pool id every Registry reserves for "".
const EmptyStringID = 0

// PrintInt/PrintDouble/PrintString back IPRINT/DPRINT/SPRINT: unlike a
// fixed-arity print, these are called once per argument, so they write
// directly and never add a separator — spacing is the program's job via
// printed string-literal arguments (SUPPLEMENTED FEATURES #1).
func PrintInt(w io.Writer, v int64) { fmt.Fprint(w, strconv.FormatInt(v, 10)) }

func PrintDouble(w io.Writer, v float64) { fmt.Fprint(w, strconv.FormatFloat(v, 'g', -1, 64)) }

func PrintString(w io.Writer, s string) { fmt.Fprint(w, s) }

// CompareInt/CompareDouble implement the DCMP/ICMP sign convention (§3):
// cmp(upper, lower) pushes -1/0/1.
func CompareInt(upper, lower int64) int64 {
	switch {
	case upper < lower:
		return -1
	case upper > lower:
		return 1
	default:
		return 0
	}
}

func CompareDouble(upper, lower float64) int64 {
	switch {
	case upper < lower:
		return -1
	case upper > lower:
		return 1
	default:
		return 0
	}
}

// NativeFunc is the Go-idiomatic substitute for §6's "address obtained from
// the host's dynamic-symbol lookup by unqualified name": real dynamic
// symbol resolution has no portable non-cgo Go equivalent, so natives are
// host Go closures registered into a name-keyed table instead (documented
// as a DESIGN.md Open-Question resolution). args/ret use Go's own
// int64/float64/string, one per declared parameter, in declaration order.
type NativeFunc func(args []interface{}) interface{}

// NativeTable is the closed set of native functions a Registry's natives
// resolve against at execute time.
type NativeTable struct {
	funcs map[string]NativeFunc
}

func NewNativeTable() *NativeTable {
	return &NativeTable{funcs: make(map[string]NativeFunc)}
}

func (t *NativeTable) Register(name string, fn NativeFunc) {
	t.funcs[name] = fn
}

func (t *NativeTable) Lookup(name string) (NativeFunc, bool) {
	fn, ok := t.funcs[name]
	return fn, ok
}

// Default returns the small builtin set exercised by the test programs and
// cmd/mathvm's -j/-i drivers: sqrt/abs/strlen, grounded on the kind of
// libm-backed natives the original source's test corpus declares.
func Default() *NativeTable {
	t := NewNativeTable()
	t.Register("sqrt", func(args []interface{}) interface{} {
		return math.Sqrt(args[0].(float64))
	})
	t.Register("abs", func(args []interface{}) interface{} {
		v := args[0].(int64)
		if v < 0 {
			return -v
		}
		return v
	})
	t.Register("strlen", func(args []interface{}) interface{} {
		return int64(len(args[0].(string)))
	})
	return t
}

// TypeOfDefault reports whether a result of type t belongs in the Double
// lane rather than the Int lane (§4.6: "treat the return as Int unless the
// declared return type is Double"). The interpreter's CALLNATIVE path
// switches on the native's return type itself and does not call it.
func TypeOfDefault(t types.Type) bool { return t == types.Double }
