package wp

import (
	"fmt"
)

// Array represents a named symbolic memory with 64-bit addresses and
// 8-bit cells. Writes are recorded as a chain of updates on top of the
// initial contents identified by Name.
type Array struct {
	Name    string       // symbolic name of the initial contents
	Updates *ArrayUpdate // linked list of symbolic updates, newest first
}

// NewArray returns a new Array with unconstrained initial contents.
func NewArray(name string) *Array {
	return &Array{Name: name}
}

// String returns a string representation of the array.
func (a *Array) String() string {
	var n int
	for upd := a.Updates; upd != nil; upd = upd.Next {
		n++
	}
	if n == 0 {
		return fmt.Sprintf("(array %s)", a.Name)
	}
	return fmt.Sprintf("(array %s +%d)", a.Name, n)
}

// Clone returns a copy of the array.
func (a *Array) Clone() *Array {
	return &Array{
		Name:    a.Name,
		Updates: a.Updates,
	}
}

// Select reads a value of width bits from the array starting at addr.
func (a *Array) Select(addr Expr, width uint, isLittleEndian bool) Expr {
	assert(width > 0, "select: invalid width")

	addr = newZExtExpr(addr, Width64)

	if width == WidthBool {
		return NewExtractExpr(a.selectByte(addr), 0, WidthBool)
	}
	assert(width%8 == 0, "select: width not byte aligned: %d", width)

	// Handle read byte-by-byte.
	var result Expr
	for i, n := uint64(0), uint64(width)/8; i != n; i++ {
		byteOffset := i
		if !isLittleEndian {
			byteOffset = (n - i - 1)
		}

		value := a.selectByte(NewBinaryExpr(ADD, addr, NewConstantExpr64(byteOffset)))
		if i == 0 {
			result = value
		} else {
			result = NewConcatExpr(value, result)
		}
	}
	return result
}

// selectByte reads a single byte from the array.
//
// Attempts to find a concrete value by traversing the array update history.
// Falls back to a select expression if either the selected index or an update's
// index is symbolic.
func (a *Array) selectByte(index Expr) Expr {
	assert(ExprWidth(index) == Width64, "selectByte: invalid array index width: %d", ExprWidth(index))
	for upd := a.Updates; upd != nil; upd = upd.Next {
		cond, ok := NewBinaryExpr(EQ, index, upd.Index).(*ConstantExpr)
		if !ok {
			break // found symbolic index, exit
		} else if cond.IsTrue() {
			return upd.Value
		}
	}
	return NewSelectExpr(a, index)
}

// Store writes value at addr. Returns a new copy of the array.
func (a *Array) Store(addr, value Expr, isLittleEndian bool) *Array {
	other := a.Clone()

	addr = newZExtExpr(addr, Width64)

	// Treat bool specially, it is the only non-byte sized write we allow.
	width := ExprWidth(value)
	assert(width > 0, "store: invalid width")
	if width == WidthBool {
		other.storeByte(addr, value)
		return other
	}
	assert(width%8 == 0, "store: width not byte aligned: %d", width)

	for i, n := uint64(0), uint64(width)/8; i != n; i++ {
		byteOffset := i
		if !isLittleEndian {
			byteOffset = (n - i - 1)
		}

		other.storeByte(NewBinaryExpr(ADD, addr, NewConstantExpr64(byteOffset)), NewExtractExpr(value, uint(i*8), Width8))
	}
	return other
}

// storeByte writes a single byte to the array.
//
// Update chains may be shared between arrays so earlier updates to the same
// concrete index are dropped by copying the concrete prefix of the chain
// rather than unlinking nodes in place.
func (a *Array) storeByte(index, value Expr) {
	assert(ExprWidth(index) == Width64, "storeByte: invalid array index width: %d", ExprWidth(index))

	cindex, ok := index.(*ConstantExpr)
	if !ok {
		a.Updates = NewArrayUpdate(index, value, a.Updates)
		return
	}

	// Collect the concrete prefix, skipping shadowed writes.
	var prefix []*ArrayUpdate
	var pruned bool
	upd := a.Updates
	for ; upd != nil; upd = upd.Next {
		updIndex, ok := upd.Index.(*ConstantExpr)
		if !ok {
			break // symbolic index
		} else if updIndex.Value == cindex.Value {
			pruned = true
			continue
		}
		prefix = append(prefix, upd)
	}

	tail := a.Updates
	if pruned {
		tail = upd
		for i := len(prefix) - 1; i >= 0; i-- {
			tail = &ArrayUpdate{Index: prefix[i].Index, Value: prefix[i].Value, Next: tail}
		}
	}
	a.Updates = NewArrayUpdate(index, value, tail)
}

// CompareArray returns an integer comparing two arrays.
// The result will be 0 if a==b, -1 if a < b, and +1 if a > b.
func CompareArray(a, b *Array) int {
	if a == nil && b != nil {
		return -1
	} else if a != nil && b == nil {
		return 1
	} else if a == nil && b == nil {
		return 0
	}

	if a.Name < b.Name {
		return -1
	} else if a.Name > b.Name {
		return 1
	}
	return CompareArrayUpdate(a.Updates, b.Updates)
}

// ArrayUpdate represents a symbolic update to an array.
type ArrayUpdate struct {
	Index Expr // byte index of update
	Value Expr // byte value to update

	Next *ArrayUpdate // linked list of next update
}

// NewArrayUpdate returns a new instance of ArrayUpdate.
func NewArrayUpdate(index, value Expr, next *ArrayUpdate) *ArrayUpdate {
	return &ArrayUpdate{
		Index: newZExtExpr(index, Width64),
		Value: newZExtExpr(value, Width8),
		Next:  next,
	}
}

// CompareArrayUpdate returns an integer comparing two array updates.
// The result will be 0 if a==b, -1 if a < b, and +1 if a > b.
func CompareArrayUpdate(a, b *ArrayUpdate) int {
	if a == b {
		return 0
	} else if a == nil && b != nil {
		return -1
	} else if a != nil && b == nil {
		return 1
	}

	if cmp := CompareExpr(a.Index, b.Index); cmp != 0 {
		return cmp
	} else if cmp := CompareExpr(a.Value, b.Value); cmp != 0 {
		return cmp
	}
	return CompareArrayUpdate(a.Next, b.Next)
}
