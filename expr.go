package wp

import (
	"fmt"
	"sort"
	"strings"
)

// Binding represents an object that can be substituted for a symbol.
// This can be either an Expr or an *Array.
type Binding interface {
	binding()
	String() string
}

func (*ApplyExpr) binding()    {}
func (*ArrayEqExpr) binding()  {}
func (*BinaryExpr) binding()   {}
func (*CastExpr) binding()     {}
func (*ConcatExpr) binding()   {}
func (*ConstantExpr) binding() {}
func (*ExtractExpr) binding()  {}
func (*IteExpr) binding()      {}
func (*NotExpr) binding()      {}
func (*SelectExpr) binding()   {}
func (*VarExpr) binding()      {}
func (*Array) binding()        {}

// Expr represents a symbolic expression.
type Expr interface {
	Binding
	expr()
}

func (*ApplyExpr) expr()    {}
func (*ArrayEqExpr) expr()  {}
func (*BinaryExpr) expr()   {}
func (*CastExpr) expr()     {}
func (*ConcatExpr) expr()   {}
func (*ConstantExpr) expr() {}
func (*ExtractExpr) expr()  {}
func (*IteExpr) expr()      {}
func (*NotExpr) expr()      {}
func (*SelectExpr) expr()   {}
func (*VarExpr) expr()      {}

// ExprWidth returns the bit width of the expression.
func ExprWidth(expr Expr) uint {
	switch expr := expr.(type) {
	case *ConstantExpr:
		return expr.Width
	case *VarExpr:
		return expr.Width
	case *SelectExpr:
		return Width8
	case *ConcatExpr:
		return ExprWidth(expr.MSB) + ExprWidth(expr.LSB)
	case *ExtractExpr:
		return expr.Width
	case *NotExpr:
		return ExprWidth(expr.Expr)
	case *CastExpr:
		return expr.Width
	case *IteExpr:
		return ExprWidth(expr.Then)
	case *ApplyExpr:
		return expr.Width
	case *ArrayEqExpr:
		return WidthBool
	case *BinaryExpr:
		if expr.Op.IsCompare() {
			return WidthBool
		}
		return ExprWidth(expr.LHS)
	default:
		panic(fmt.Sprintf("unreachable: %T", expr))
	}
}

// BinaryOp represents a binary expression operations.
type BinaryOp int

// BinaryExpr operations.
const (
	arithmetic_op_begin = BinaryOp(iota)
	ADD
	SUB
	MUL
	UDIV
	SDIV
	UREM
	SREM
	AND
	OR
	XOR
	SHL
	LSHR
	ASHR
	arithmetic_op_end

	compare_op_begin
	EQ
	NE
	ULT
	ULE
	UGT
	UGE
	SLT
	SLE
	SGT
	SGE
	compare_op_end
)

var binaryOps = [...]string{
	ADD:  "add",
	SUB:  "sub",
	MUL:  "mul",
	UDIV: "udiv",
	SDIV: "sdiv",
	UREM: "urem",
	SREM: "srem",
	AND:  "and",
	OR:   "or",
	XOR:  "xor",
	SHL:  "shl",
	LSHR: "lshr",
	ASHR: "ashr",
	EQ:   "eq",
	NE:   "ne",
	ULT:  "ult",
	ULE:  "ule",
	UGT:  "ugt",
	UGE:  "uge",
	SLT:  "slt",
	SLE:  "sle",
	SGT:  "sgt",
	SGE:  "sge",
}

// String returns the string representation of the operation.
func (op BinaryOp) String() string {
	if op >= 0 && op < BinaryOp(len(binaryOps)) && binaryOps[op] != "" {
		return binaryOps[op]
	}
	return fmt.Sprintf("BinaryOp<%d>", op)
}

// IsCompare returns true if op is a comparison operator.
func (op BinaryOp) IsCompare() bool {
	return op > compare_op_begin && op < compare_op_end
}

// BinaryExpr represents an operation on two expressions.
type BinaryExpr struct {
	Op  BinaryOp
	LHS Expr
	RHS Expr
}

// NewBinaryExpr returns a simplified expression applying op to lhs & rhs.
func NewBinaryExpr(op BinaryOp, lhs, rhs Expr) Expr {
	assert(ExprWidth(lhs) == ExprWidth(rhs), "binary expr width mismatch: op=%s %d != %d", op, ExprWidth(lhs), ExprWidth(rhs))

	switch op {
	case ADD:
		return newAddExpr(lhs, rhs)
	case SUB:
		return newSubExpr(lhs, rhs)
	case MUL:
		return newMulExpr(lhs, rhs)
	case UDIV, SDIV, UREM, SREM:
		return newDivRemExpr(op, lhs, rhs)
	case AND:
		return newAndExpr(lhs, rhs)
	case OR:
		return newOrExpr(lhs, rhs)
	case XOR:
		return newXorExpr(lhs, rhs)
	case SHL, LSHR, ASHR:
		return newShiftExpr(op, lhs, rhs)

	case EQ:
		return newEqExpr(lhs, rhs)
	case NE:
		return NewBoolNotExpr(newEqExpr(lhs, rhs))
	case ULT, SLT:
		return newLtExpr(op, lhs, rhs)
	case ULE, SLE:
		return newLeExpr(op, lhs, rhs)
	case UGT:
		return newLtExpr(ULT, rhs, lhs) // reverse
	case SGT:
		return newLtExpr(SLT, rhs, lhs) // reverse
	case UGE:
		return newLeExpr(ULE, rhs, lhs) // reverse
	case SGE:
		return newLeExpr(SLE, rhs, lhs) // reverse

	default:
		panic("unreachable")
	}
}

// String returns the string representation of the expression.
func (e *BinaryExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", e.Op, e.LHS, e.RHS)
}

// newAddExpr returns the expression representing the sum of lhs & rhs.
func newAddExpr(lhs, rhs Expr) Expr {
	// Move constant expression to left hand side.
	if !IsConstantExpr(lhs) && IsConstantExpr(rhs) {
		lhs, rhs = rhs, lhs
	}

	if ExprWidth(lhs) == WidthBool {
		return NewBinaryExpr(XOR, lhs, rhs)
	}

	if lhs, ok := lhs.(*ConstantExpr); ok {
		if lhs.Value == 0 {
			return rhs
		} else if rhs, ok := rhs.(*ConstantExpr); ok {
			return lhs.Add(rhs)
		}

		// Fold into a constant already on the left of the right side.
		if rhs, ok := rhs.(*BinaryExpr); ok && IsConstantExpr(rhs.LHS) {
			switch rhs.Op {
			case ADD: // X + (Y+z) == (X+Y) + z
				return NewBinaryExpr(ADD, lhs.Add(rhs.LHS.(*ConstantExpr)), rhs.RHS)
			case SUB: // X + (Y-z) == (X+Y) - z
				return NewBinaryExpr(SUB, lhs.Add(rhs.LHS.(*ConstantExpr)), rhs.RHS)
			}
		}
	}

	// Hoist a constant nested on the right side: a + (K+b) = K + (a+b).
	if rhs, ok := rhs.(*BinaryExpr); ok && rhs.Op == ADD && IsConstantExpr(rhs.LHS) {
		return NewBinaryExpr(ADD, rhs.LHS, NewBinaryExpr(ADD, lhs, rhs.RHS))
	}
	return &BinaryExpr{Op: ADD, LHS: lhs, RHS: rhs}
}

// newSubExpr returns an expression representing the difference of lhs & rhs.
func newSubExpr(lhs, rhs Expr) Expr {
	if CompareExpr(lhs, rhs) == 0 {
		return NewConstantExpr(0, ExprWidth(lhs))
	}

	if ExprWidth(lhs) == WidthBool {
		return NewBinaryExpr(XOR, lhs, rhs)
	}

	if lhs, ok := lhs.(*ConstantExpr); ok {
		if rhs, ok := rhs.(*ConstantExpr); ok {
			return lhs.Sub(rhs)
		}
	}

	// x - K == -K + x
	if rhs, ok := rhs.(*ConstantExpr); ok {
		return NewBinaryExpr(ADD, NewConstantExpr(0, rhs.Width).Sub(rhs), lhs)
	}

	// (K+x) - y == K + (x-y)
	if lhs, ok := lhs.(*BinaryExpr); ok && lhs.Op == ADD && IsConstantExpr(lhs.LHS) {
		return NewBinaryExpr(ADD, lhs.LHS, NewBinaryExpr(SUB, lhs.RHS, rhs))
	}
	return &BinaryExpr{Op: SUB, LHS: lhs, RHS: rhs}
}

// newMulExpr returns an expression that represents the product of lhs & rhs.
func newMulExpr(lhs, rhs Expr) Expr {
	if IsConstantExpr(rhs) && !IsConstantExpr(lhs) {
		lhs, rhs = rhs, lhs
	}

	if ExprWidth(lhs) == WidthBool {
		return NewBinaryExpr(AND, lhs, rhs)
	}

	if lhs, ok := lhs.(*ConstantExpr); ok {
		if rhs, ok := rhs.(*ConstantExpr); ok {
			return lhs.Mul(rhs)
		} else if lhs.Value == 1 {
			return rhs
		} else if lhs.Value == 0 {
			return lhs
		}
	}
	return &BinaryExpr{Op: MUL, LHS: lhs, RHS: rhs}
}

// newDivRemExpr returns a division or remainder of lhs by rhs.
func newDivRemExpr(op BinaryOp, lhs, rhs Expr) Expr {
	if lhs, ok := lhs.(*ConstantExpr); ok {
		if rhs, ok := rhs.(*ConstantExpr); ok {
			switch op {
			case UDIV:
				return lhs.UDiv(rhs)
			case SDIV:
				return lhs.SDiv(rhs)
			case UREM:
				return lhs.URem(rhs)
			default:
				return lhs.SRem(rhs)
			}
		}
	}
	if rhs, ok := rhs.(*ConstantExpr); ok && rhs.Value == 1 {
		if op == UDIV || op == SDIV {
			return lhs
		}
		return NewConstantExpr(0, rhs.Width)
	}
	return &BinaryExpr{Op: op, LHS: lhs, RHS: rhs}
}

// newAndExpr returns an expression that represents the bitwise AND of lhs & rhs.
func newAndExpr(lhs, rhs Expr) Expr {
	if lhs, ok := lhs.(*ConstantExpr); ok {
		if rhs, ok := rhs.(*ConstantExpr); ok {
			return lhs.And(rhs)
		}
	}

	// If constant is on left side, swap to right side.
	if IsConstantExpr(lhs) && !IsConstantExpr(rhs) {
		lhs, rhs = rhs, lhs
	}

	if rhs, ok := rhs.(*ConstantExpr); ok {
		if rhs.IsAllOnes() {
			return lhs
		} else if rhs.Value == 0 {
			return rhs
		}
	}
	if CompareExpr(lhs, rhs) == 0 {
		return lhs
	}
	return &BinaryExpr{Op: AND, LHS: lhs, RHS: rhs}
}

// newOrExpr returns an expression that represents the bitwise OR of lhs & rhs.
func newOrExpr(lhs, rhs Expr) Expr {
	if lhs, ok := lhs.(*ConstantExpr); ok {
		if rhs, ok := rhs.(*ConstantExpr); ok {
			return lhs.Or(rhs)
		}
	}

	if IsConstantExpr(lhs) && !IsConstantExpr(rhs) {
		lhs, rhs = rhs, lhs
	}

	if rhs, ok := rhs.(*ConstantExpr); ok {
		if rhs.IsAllOnes() {
			return rhs
		} else if rhs.Value == 0 {
			return lhs
		}
	}
	if CompareExpr(lhs, rhs) == 0 {
		return lhs
	}
	return &BinaryExpr{Op: OR, LHS: lhs, RHS: rhs}
}

// newXorExpr returns an expression that represents the bitwise XOR of lhs & rhs.
func newXorExpr(lhs, rhs Expr) Expr {
	if !IsConstantExpr(lhs) && IsConstantExpr(rhs) {
		lhs, rhs = rhs, lhs
	}

	if lhs, ok := lhs.(*ConstantExpr); ok {
		if lhs.Value == 0 {
			return rhs
		} else if rhs, ok := rhs.(*ConstantExpr); ok {
			return lhs.Xor(rhs)
		}
	}
	if CompareExpr(lhs, rhs) == 0 {
		return NewConstantExpr(0, ExprWidth(lhs))
	}
	return &BinaryExpr{Op: XOR, LHS: lhs, RHS: rhs}
}

// newShiftExpr returns an expression that shifts lhs by rhs bits.
func newShiftExpr(op BinaryOp, lhs, rhs Expr) Expr {
	if lhs, ok := lhs.(*ConstantExpr); ok {
		if rhs, ok := rhs.(*ConstantExpr); ok {
			switch op {
			case SHL:
				return lhs.Shl(rhs)
			case LSHR:
				return lhs.LShr(rhs)
			default:
				return lhs.AShr(rhs)
			}
		}
	}
	if rhs, ok := rhs.(*ConstantExpr); ok && rhs.Value == 0 {
		return lhs
	}
	return &BinaryExpr{Op: op, LHS: lhs, RHS: rhs}
}

// newEqExpr returns an expression that represents the equality of lhs and rhs.
func newEqExpr(lhs, rhs Expr) Expr {
	if !IsConstantExpr(lhs) && IsConstantExpr(rhs) {
		lhs, rhs = rhs, lhs
	}

	if lhs, ok := lhs.(*ConstantExpr); ok {
		if rhs, ok := rhs.(*ConstantExpr); ok {
			return lhs.Eq(rhs)
		}

		if lhs.Width == WidthBool {
			if lhs.IsTrue() {
				return rhs // T == X => X
			}
			if rhs, ok := rhs.(*NotExpr); ok {
				return rhs.Expr // F == !X => X
			}
			return &NotExpr{Expr: rhs}
		}

		switch rhs := rhs.(type) {
		case *BinaryExpr:
			if rhs.Op == ADD && IsConstantExpr(rhs.LHS) { // X = Y + z => X - Y = z
				return NewBinaryExpr(EQ, lhs.Sub(rhs.LHS.(*ConstantExpr)), rhs.RHS)
			}
		case *CastExpr:
			trunc := lhs.ZExt(ExprWidth(rhs.Src))
			ext := trunc.ZExt(lhs.Width)
			if rhs.Signed {
				ext = trunc.SExt(lhs.Width)
			}
			if CompareExpr(lhs, ext) != 0 {
				return NewBoolConstantExpr(false) // constant is out of range of the cast
			}
			return NewBinaryExpr(EQ, trunc, rhs.Src)
		}
	}

	// X + y == Z + y => X == Z
	lbase, loff := splitOffset(lhs)
	if rbase, roff := splitOffset(rhs); CompareExpr(lbase, rbase) == 0 {
		return loff.Eq(roff)
	}
	return &BinaryExpr{Op: EQ, LHS: lhs, RHS: rhs}
}

// splitOffset returns expr as the sum of a base and a constant offset.
func splitOffset(expr Expr) (Expr, *ConstantExpr) {
	if expr, ok := expr.(*BinaryExpr); ok && expr.Op == ADD {
		if off, ok := expr.LHS.(*ConstantExpr); ok {
			return expr.RHS, off
		}
	}
	return expr, NewConstantExpr(0, ExprWidth(expr))
}

// newLtExpr returns a strict less-than comparison (ULT or SLT).
func newLtExpr(op BinaryOp, lhs, rhs Expr) Expr {
	if lhs, ok := lhs.(*ConstantExpr); ok {
		if rhs, ok := rhs.(*ConstantExpr); ok {
			if op == ULT {
				return lhs.Ult(rhs)
			}
			return lhs.Slt(rhs)
		}
	}
	if CompareExpr(lhs, rhs) == 0 {
		return NewBoolConstantExpr(false)
	}
	if ExprWidth(lhs) == WidthBool {
		if op == ULT { // !lhs && rhs
			return NewBinaryExpr(AND, NewBoolNotExpr(lhs), rhs)
		}
		return NewBinaryExpr(AND, lhs, NewBoolNotExpr(rhs)) // true is -1 when signed
	}
	return &BinaryExpr{Op: op, LHS: lhs, RHS: rhs}
}

// newLeExpr returns a less-than-or-equal comparison (ULE or SLE).
func newLeExpr(op BinaryOp, lhs, rhs Expr) Expr {
	if lhs, ok := lhs.(*ConstantExpr); ok {
		if rhs, ok := rhs.(*ConstantExpr); ok {
			if op == ULE {
				return lhs.Ule(rhs)
			}
			return lhs.Sle(rhs)
		}
	}
	if CompareExpr(lhs, rhs) == 0 {
		return NewBoolConstantExpr(true)
	}
	if ExprWidth(lhs) == WidthBool {
		if op == ULE { // !lhs || rhs
			return NewBinaryExpr(OR, NewBoolNotExpr(lhs), rhs)
		}
		return NewBinaryExpr(OR, lhs, NewBoolNotExpr(rhs))
	}
	return &BinaryExpr{Op: op, LHS: lhs, RHS: rhs}
}

// NewAndExpr returns the boolean conjunction of exprs. Returns true if empty.
func NewAndExpr(exprs ...Expr) Expr {
	var result Expr = NewBoolConstantExpr(true)
	for _, expr := range exprs {
		result = NewBinaryExpr(AND, result, expr)
	}
	return result
}

// NewOrExpr returns the boolean disjunction of exprs. Returns false if empty.
func NewOrExpr(exprs ...Expr) Expr {
	var result Expr = NewBoolConstantExpr(false)
	for _, expr := range exprs {
		result = NewBinaryExpr(OR, result, expr)
	}
	return result
}

// NewImpliesExpr returns the boolean implication lhs => rhs.
func NewImpliesExpr(lhs, rhs Expr) Expr {
	return NewBinaryExpr(OR, NewBoolNotExpr(lhs), rhs)
}

// NewBoolNotExpr returns the logical negation of a boolean expression.
func NewBoolNotExpr(expr Expr) Expr {
	assert(ExprWidth(expr) == WidthBool, "bool not: non-boolean width: %d", ExprWidth(expr))
	return NewNotExpr(expr)
}

// VarExpr represents a named symbolic bit-vector or boolean.
type VarExpr struct {
	Name  string
	Width uint
}

// NewVarExpr returns a new instance of VarExpr.
func NewVarExpr(name string, width uint) *VarExpr {
	assert(width > 0 && width <= Width64, "var: invalid width: %d", width)
	return &VarExpr{Name: name, Width: width}
}

// String returns the string representation of the expression.
func (e *VarExpr) String() string {
	return fmt.Sprintf("(var %s %d)", e.Name, e.Width)
}

// IteExpr represents an if-then-else expression.
type IteExpr struct {
	Cond Expr
	Then Expr
	Else Expr
}

// NewIteExpr returns a simplified if-then-else expression.
func NewIteExpr(cond, then, els Expr) Expr {
	assert(ExprWidth(cond) == WidthBool, "ite: non-boolean condition")
	assert(ExprWidth(then) == ExprWidth(els), "ite: width mismatch: %d != %d", ExprWidth(then), ExprWidth(els))

	if cond, ok := cond.(*ConstantExpr); ok {
		if cond.IsTrue() {
			return then
		}
		return els
	}
	if CompareExpr(then, els) == 0 {
		return then
	}

	// Boolean branches collapse into connectives.
	if ExprWidth(then) == WidthBool {
		switch {
		case IsConstantTrue(then):
			return NewBinaryExpr(OR, cond, els)
		case IsConstantFalse(then):
			return NewBinaryExpr(AND, NewBoolNotExpr(cond), els)
		case IsConstantTrue(els):
			return NewImpliesExpr(cond, then)
		case IsConstantFalse(els):
			return NewBinaryExpr(AND, cond, then)
		}
	}
	return &IteExpr{Cond: cond, Then: then, Else: els}
}

// String returns the string representation of the expression.
func (e *IteExpr) String() string {
	return fmt.Sprintf("(ite %s %s %s)", e.Cond, e.Then, e.Else)
}

// ApplyExpr represents the application of an uninterpreted function. Two
// applications of the same function to equal arguments are equal.
type ApplyExpr struct {
	Func  string
	Args  []Expr
	Width uint
}

// NewApplyExpr returns a new instance of ApplyExpr.
func NewApplyExpr(fn string, args []Expr, width uint) *ApplyExpr {
	assert(width > 0 && width <= Width64, "apply: invalid width: %d", width)
	return &ApplyExpr{Func: fn, Args: args, Width: width}
}

// String returns the string representation of the expression.
func (e *ApplyExpr) String() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "(apply %s %d", e.Func, e.Width)
	for _, arg := range e.Args {
		fmt.Fprintf(&buf, " %s", arg)
	}
	buf.WriteString(")")
	return buf.String()
}

// ArrayEqExpr represents the equality of two arrays at every address.
type ArrayEqExpr struct {
	LHS *Array
	RHS *Array
}

// NewArrayEqExpr returns a new instance of ArrayEqExpr. Returns true if the
// arrays have the same root and updates.
func NewArrayEqExpr(lhs, rhs *Array) Expr {
	if CompareArray(lhs, rhs) == 0 {
		return NewBoolConstantExpr(true)
	}
	return &ArrayEqExpr{LHS: lhs, RHS: rhs}
}

// String returns the string representation of the expression.
func (e *ArrayEqExpr) String() string {
	return fmt.Sprintf("(array-eq %s %s)", e.LHS, e.RHS)
}

// SelectExpr represents a one byte read from an array.
type SelectExpr struct {
	Array *Array
	Index Expr
}

// NewSelectExpr returns a new instance of SelectExpr based on a given array.
func NewSelectExpr(a *Array, index Expr) Expr {
	return &SelectExpr{
		Array: a,
		Index: index,
	}
}

// String returns the string representation of the expression.
func (e *SelectExpr) String() string {
	return fmt.Sprintf("(select %s %s)", e.Array, e.Index)
}

// ConcatExpr represents a concatenation of two expressions.
type ConcatExpr struct {
	MSB Expr
	LSB Expr
}

// NewConcatExpr returns a new instance of ConcatExpr.
func NewConcatExpr(msb, lsb Expr) Expr {
	if msb, ok := msb.(*ConstantExpr); ok {
		if lsb, ok := lsb.(*ConstantExpr); ok {
			return msb.Concat(lsb)
		}
	}

	// Combine extract expressions if they are contiguous.
	if msb, ok := msb.(*ExtractExpr); ok {
		if lsb, ok := lsb.(*ExtractExpr); ok {
			if CompareExpr(msb.Expr, lsb.Expr) == 0 && lsb.Offset+lsb.Width == msb.Offset {
				return NewExtractExpr(msb.Expr, lsb.Offset, msb.Width+lsb.Width)
			}
		}
	}

	return &ConcatExpr{
		MSB: msb,
		LSB: lsb,
	}
}

// String returns the string representation of the expression.
func (e *ConcatExpr) String() string {
	return fmt.Sprintf("(concat %s %s)", e.MSB, e.LSB)
}

// ExtractExpr represents the extraction of a set of bits at a given offset/width.
type ExtractExpr struct {
	Expr   Expr
	Offset uint
	Width  uint
}

// NewExtractExpr returns a new instance of ExtractExpr.
func NewExtractExpr(expr Expr, offset uint, width uint) Expr {
	kw := ExprWidth(expr)
	assert(width > 0, "extract width cannot be zero")
	assert(offset+width <= kw, "extract out of bounds: %d+%d > %d", width, offset, kw)

	if width == kw {
		return expr
	} else if expr, ok := expr.(*ConstantExpr); ok {
		return expr.Extract(offset, width)
	}

	switch expr := expr.(type) {
	case *ConcatExpr:
		lw := ExprWidth(expr.LSB)
		if offset >= lw {
			return NewExtractExpr(expr.MSB, offset-lw, width)
		} else if offset+width <= lw {
			return NewExtractExpr(expr.LSB, offset, width)
		}
		return NewConcatExpr(
			NewExtractExpr(expr.MSB, 0, offset+width-lw),
			NewExtractExpr(expr.LSB, offset, lw-offset),
		)
	case *CastExpr:
		// Extracting only bits of the source skips the extension.
		if offset+width <= ExprWidth(expr.Src) {
			return NewExtractExpr(expr.Src, offset, width)
		}
	case *ExtractExpr:
		return NewExtractExpr(expr.Expr, expr.Offset+offset, width)
	}

	return &ExtractExpr{
		Expr:   expr,
		Offset: offset,
		Width:  width,
	}
}

// String returns the string representation of the expression.
func (e *ExtractExpr) String() string {
	return fmt.Sprintf("(extract %s %d %d)", e.Expr, e.Offset, e.Width)
}

// NotExpr represents a bitwise not of an expression.
type NotExpr struct {
	Expr Expr
}

// NewNotExpr returns a new instance of NotExpr.
func NewNotExpr(expr Expr) Expr {
	switch expr := expr.(type) {
	case *ConstantExpr:
		return expr.Not()
	case *NotExpr:
		return expr.Expr
	}
	return &NotExpr{Expr: expr}
}

// String returns the string representation of the expression.
func (e *NotExpr) String() string {
	return fmt.Sprintf("(not %s)", e.Expr)
}

// CastExpr represents an expression that casts an expression to a new width.
type CastExpr struct {
	Src    Expr
	Width  uint
	Signed bool
}

// NewCastExpr returns an extension or truncation of src to width bits.
func NewCastExpr(src Expr, width uint, signed bool) Expr {
	sw := ExprWidth(src)
	if width == sw {
		return src
	} else if width < sw {
		return NewExtractExpr(src, 0, width)
	} else if src, ok := src.(*ConstantExpr); ok {
		if signed {
			return src.SExt(width)
		}
		return src.ZExt(width)
	}
	return &CastExpr{Src: src, Width: width, Signed: signed}
}

// newZExtExpr returns a zero-extension or truncation of src.
func newZExtExpr(src Expr, w uint) Expr {
	return NewCastExpr(src, w, false)
}

// String returns the string representation of the expression.
func (e *CastExpr) String() string {
	if e.Signed {
		return fmt.Sprintf("(sext %s %d)", e.Src, e.Width)
	}
	return fmt.Sprintf("(zext %s %d)", e.Src, e.Width)
}

// ConstantExpr represents a fixed-width integer of at most 64 bits.
type ConstantExpr struct {
	Value uint64
	Width uint
}

// NewConstantExpr returns a new instance of ConstantExpr.
func NewConstantExpr(value uint64, width uint) *ConstantExpr {
	assert(width > 0 && width <= Width64, "constant: invalid width: %d", width)
	return &ConstantExpr{
		Value: value & bitmask(width),
		Width: width,
	}
}

// NewConstantExpr8 returns a 8-bit constant expression.
func NewConstantExpr8(value uint64) *ConstantExpr {
	return NewConstantExpr(value, 8)
}

// NewConstantExpr32 returns a 32-bit constant expression.
func NewConstantExpr32(value uint64) *ConstantExpr {
	return NewConstantExpr(value, 32)
}

// NewConstantExpr64 returns a 64-bit constant expression.
func NewConstantExpr64(value uint64) *ConstantExpr {
	return NewConstantExpr(value, 64)
}

// NewBoolConstantExpr is an ease of use function for creating constant boolean expressions.
func NewBoolConstantExpr(value bool) *ConstantExpr {
	if value {
		return &ConstantExpr{Value: 1, Width: WidthBool}
	}
	return &ConstantExpr{Value: 0, Width: WidthBool}
}

// String returns the string representation of the expression.
func (e *ConstantExpr) String() string {
	return fmt.Sprintf("(const %d %d)", e.Value, e.Width)
}

// IsTrue returns true if this is a boolean true expression.
func (e *ConstantExpr) IsTrue() bool {
	return e.Width == WidthBool && e.Value != 0
}

// IsFalse returns true if this is a boolean false expression.
func (e *ConstantExpr) IsFalse() bool {
	return e.Width == WidthBool && e.Value == 0
}

// IsAllOnes returns true if all bits in the value are one.
func (e *ConstantExpr) IsAllOnes() bool {
	return e.Value == bitmask(e.Width)
}

// Int64 returns the value interpreted as a two's complement signed integer.
func (e *ConstantExpr) Int64() int64 {
	shift := Width64 - e.Width
	return int64(e.Value<<shift) >> shift
}

// Add returns the sum of e and other.
func (e *ConstantExpr) Add(other *ConstantExpr) *ConstantExpr {
	assert(e.Width == other.Width, "add: width mismatch: %d != %d", e.Width, other.Width)
	return NewConstantExpr(e.Value+other.Value, e.Width)
}

// Sub returns the difference of e and other.
func (e *ConstantExpr) Sub(other *ConstantExpr) *ConstantExpr {
	assert(e.Width == other.Width, "sub: width mismatch: %d != %d", e.Width, other.Width)
	return NewConstantExpr(e.Value-other.Value, e.Width)
}

// Mul returns the product of e and other.
func (e *ConstantExpr) Mul(other *ConstantExpr) *ConstantExpr {
	assert(e.Width == other.Width, "mul: width mismatch: %d != %d", e.Width, other.Width)
	return NewConstantExpr(e.Value*other.Value, e.Width)
}

// UDiv returns the quotient of unsigned division. Division by zero yields
// all ones, matching SMT-LIB bvudiv.
func (e *ConstantExpr) UDiv(other *ConstantExpr) *ConstantExpr {
	assert(e.Width == other.Width, "udiv: width mismatch: %d != %d", e.Width, other.Width)
	if other.Value == 0 {
		return NewConstantExpr(bitmask(e.Width), e.Width)
	}
	return NewConstantExpr(e.Value/other.Value, e.Width)
}

// SDiv returns the quotient of signed division, matching SMT-LIB bvsdiv.
func (e *ConstantExpr) SDiv(other *ConstantExpr) *ConstantExpr {
	assert(e.Width == other.Width, "sdiv: width mismatch: %d != %d", e.Width, other.Width)
	if other.Value == 0 {
		if e.Int64() < 0 {
			return NewConstantExpr(1, e.Width)
		}
		return NewConstantExpr(bitmask(e.Width), e.Width)
	}
	return NewConstantExpr(uint64(e.Int64()/other.Int64()), e.Width)
}

// URem returns the remainder of unsigned division. A zero divisor yields e.
func (e *ConstantExpr) URem(other *ConstantExpr) *ConstantExpr {
	assert(e.Width == other.Width, "urem: width mismatch: %d != %d", e.Width, other.Width)
	if other.Value == 0 {
		return e
	}
	return NewConstantExpr(e.Value%other.Value, e.Width)
}

// SRem returns the remainder of signed division. A zero divisor yields e.
func (e *ConstantExpr) SRem(other *ConstantExpr) *ConstantExpr {
	assert(e.Width == other.Width, "srem: width mismatch: %d != %d", e.Width, other.Width)
	if other.Value == 0 {
		return e
	}
	return NewConstantExpr(uint64(e.Int64()%other.Int64()), e.Width)
}

// And returns the bitwise AND of e and other.
func (e *ConstantExpr) And(other *ConstantExpr) *ConstantExpr {
	assert(e.Width == other.Width, "and: width mismatch: %d != %d", e.Width, other.Width)
	return NewConstantExpr(e.Value&other.Value, e.Width)
}

// Or returns the bitwise OR of e and other.
func (e *ConstantExpr) Or(other *ConstantExpr) *ConstantExpr {
	assert(e.Width == other.Width, "or: width mismatch: %d != %d", e.Width, other.Width)
	return NewConstantExpr(e.Value|other.Value, e.Width)
}

// Xor returns the bitwise XOR of e and other.
func (e *ConstantExpr) Xor(other *ConstantExpr) *ConstantExpr {
	assert(e.Width == other.Width, "xor: width mismatch: %d != %d", e.Width, other.Width)
	return NewConstantExpr(e.Value^other.Value, e.Width)
}

// Shl returns the value of e shifted left by other number of bits.
func (e *ConstantExpr) Shl(other *ConstantExpr) *ConstantExpr {
	if other.Value >= uint64(e.Width) {
		return NewConstantExpr(0, e.Width)
	}
	return NewConstantExpr(e.Value<<other.Value, e.Width)
}

// LShr returns the value of e logically shifted right by other number of bits.
func (e *ConstantExpr) LShr(other *ConstantExpr) *ConstantExpr {
	if other.Value >= uint64(e.Width) {
		return NewConstantExpr(0, e.Width)
	}
	return NewConstantExpr(e.Value>>other.Value, e.Width)
}

// AShr returns the value of e arithmetically shifted right by other number of bits.
func (e *ConstantExpr) AShr(other *ConstantExpr) *ConstantExpr {
	shift := other.Value
	if shift >= uint64(e.Width) {
		shift = uint64(e.Width) - 1
	}
	return NewConstantExpr(uint64(e.Int64()>>shift), e.Width)
}

// Eq returns the equality of e and other.
func (e *ConstantExpr) Eq(other *ConstantExpr) *ConstantExpr {
	assert(e.Width == other.Width, "eq: width mismatch: %d != %d", e.Width, other.Width)
	return NewBoolConstantExpr(e.Value == other.Value)
}

// Ult returns the unsigned less than comparison of e to other.
func (e *ConstantExpr) Ult(other *ConstantExpr) *ConstantExpr {
	return NewBoolConstantExpr(e.Value < other.Value)
}

// Ule returns the unsigned less than or equal to comparison of e to other.
func (e *ConstantExpr) Ule(other *ConstantExpr) *ConstantExpr {
	return NewBoolConstantExpr(e.Value <= other.Value)
}

// Slt returns the signed less than comparison of e to other.
func (e *ConstantExpr) Slt(other *ConstantExpr) *ConstantExpr {
	return NewBoolConstantExpr(e.Int64() < other.Int64())
}

// Sle returns the signed less than or equal to comparison of e to other.
func (e *ConstantExpr) Sle(other *ConstantExpr) *ConstantExpr {
	return NewBoolConstantExpr(e.Int64() <= other.Int64())
}

// ZExt returns the zero-extension (or truncation) of e to a new width.
func (e *ConstantExpr) ZExt(width uint) *ConstantExpr {
	if e.Width == width {
		return e
	}
	return NewConstantExpr(e.Value, width)
}

// SExt returns the sign-extension (or truncation) of e to a new width.
func (e *ConstantExpr) SExt(width uint) *ConstantExpr {
	if e.Width == width {
		return e
	}
	return NewConstantExpr(uint64(e.Int64()), width)
}

// Not returns the bitwise NOT of the expression.
func (e *ConstantExpr) Not() *ConstantExpr {
	return NewConstantExpr(^e.Value, e.Width)
}

// Extract returns width number of bits starting at offset.
func (e *ConstantExpr) Extract(offset, width uint) *ConstantExpr {
	return NewConstantExpr(e.Value>>offset, width)
}

// Concat returns the concatenation of e and lsb.
func (e *ConstantExpr) Concat(lsb *ConstantExpr) *ConstantExpr {
	assert(e.Width+lsb.Width <= Width64, "concat: width overflow: %d+%d", e.Width, lsb.Width)
	return NewConstantExpr((e.Value<<lsb.Width)|lsb.Value, e.Width+lsb.Width)
}

func bitmask(width uint) uint64 {
	if width >= Width64 {
		return ^uint64(0)
	}
	return (1 << width) - 1
}

// IsConstantExpr returns true if expr is an instance of ConstantExpr.
func IsConstantExpr(expr Expr) bool {
	_, ok := expr.(*ConstantExpr)
	return ok
}

// IsConstantTrue returns true if expr is an instance of ConstantExpr and is true.
func IsConstantTrue(expr Expr) bool {
	tmp, ok := expr.(*ConstantExpr)
	return ok && tmp.IsTrue()
}

// IsConstantFalse returns true if expr is an instance of ConstantExpr and is false.
func IsConstantFalse(expr Expr) bool {
	tmp, ok := expr.(*ConstantExpr)
	return ok && tmp.IsFalse()
}

// CompareExpr returns an integer comparing two expressions.
// The result will be 0 if a==b, -1 if a < b, and +1 if a > b.
func CompareExpr(a, b Expr) int {
	if a == nil && b != nil {
		return -1
	} else if a != nil && b == nil {
		return 1
	} else if a == nil && b == nil {
		return 0
	} else if a == b {
		return 0
	}

	if ak, bk := exprKind(a), exprKind(b); ak < bk {
		return -1
	} else if ak > bk {
		return 1
	}

	switch a := a.(type) {
	case *ConstantExpr:
		b := b.(*ConstantExpr)
		if cmp := compareUint(uint64(a.Width), uint64(b.Width)); cmp != 0 {
			return cmp
		}
		return compareUint(a.Value, b.Value)
	case *VarExpr:
		b := b.(*VarExpr)
		if a.Name < b.Name {
			return -1
		} else if a.Name > b.Name {
			return 1
		}
		return compareUint(uint64(a.Width), uint64(b.Width))
	case *SelectExpr:
		b := b.(*SelectExpr)
		if cmp := CompareExpr(a.Index, b.Index); cmp != 0 {
			return cmp
		}
		return CompareArray(a.Array, b.Array)
	case *ConcatExpr:
		b := b.(*ConcatExpr)
		if cmp := CompareExpr(a.MSB, b.MSB); cmp != 0 {
			return cmp
		}
		return CompareExpr(a.LSB, b.LSB)
	case *ExtractExpr:
		b := b.(*ExtractExpr)
		if cmp := compareUint(uint64(a.Offset), uint64(b.Offset)); cmp != 0 {
			return cmp
		} else if cmp := compareUint(uint64(a.Width), uint64(b.Width)); cmp != 0 {
			return cmp
		}
		return CompareExpr(a.Expr, b.Expr)
	case *NotExpr:
		return CompareExpr(a.Expr, b.(*NotExpr).Expr)
	case *CastExpr:
		b := b.(*CastExpr)
		if a.Signed && !b.Signed {
			return -1
		} else if !a.Signed && b.Signed {
			return 1
		} else if cmp := compareUint(uint64(a.Width), uint64(b.Width)); cmp != 0 {
			return cmp
		}
		return CompareExpr(a.Src, b.Src)
	case *IteExpr:
		b := b.(*IteExpr)
		if cmp := CompareExpr(a.Cond, b.Cond); cmp != 0 {
			return cmp
		} else if cmp := CompareExpr(a.Then, b.Then); cmp != 0 {
			return cmp
		}
		return CompareExpr(a.Else, b.Else)
	case *ApplyExpr:
		b := b.(*ApplyExpr)
		if a.Func < b.Func {
			return -1
		} else if a.Func > b.Func {
			return 1
		} else if cmp := compareUint(uint64(a.Width), uint64(b.Width)); cmp != 0 {
			return cmp
		} else if cmp := compareUint(uint64(len(a.Args)), uint64(len(b.Args))); cmp != 0 {
			return cmp
		}
		for i := range a.Args {
			if cmp := CompareExpr(a.Args[i], b.Args[i]); cmp != 0 {
				return cmp
			}
		}
		return 0
	case *ArrayEqExpr:
		b := b.(*ArrayEqExpr)
		if cmp := CompareArray(a.LHS, b.LHS); cmp != 0 {
			return cmp
		}
		return CompareArray(a.RHS, b.RHS)
	case *BinaryExpr:
		b := b.(*BinaryExpr)
		if a.Op < b.Op {
			return -1
		} else if a.Op > b.Op {
			return 1
		} else if cmp := CompareExpr(a.LHS, b.LHS); cmp != 0 {
			return cmp
		}
		return CompareExpr(a.RHS, b.RHS)
	default:
		panic("unreachable")
	}
}

func compareUint(a, b uint64) int {
	if a < b {
		return -1
	} else if a > b {
		return 1
	}
	return 0
}

// exprKind returns a numeric value for the type of expression.
// Only used internally for equality checks and sorting.
func exprKind(expr Expr) int {
	switch expr.(type) {
	case *ConstantExpr:
		return 1
	case *VarExpr:
		return 2
	case *SelectExpr:
		return 3
	case *ConcatExpr:
		return 4
	case *ExtractExpr:
		return 5
	case *NotExpr:
		return 6
	case *CastExpr:
		return 7
	case *IteExpr:
		return 8
	case *ApplyExpr:
		return 9
	case *BinaryExpr:
		return 10
	case *ArrayEqExpr:
		return 11
	default:
		panic("unreachable")
	}
}

// ExprVisitor represents a visitor that can be passed to WalkExpr().
type ExprVisitor interface {
	// Executed for every visited node. Return nil to skip the children.
	Visit(expr Expr) ExprVisitor
}

// WalkExpr traverses expr depth-first, including the index and value
// expressions of array updates reachable from select expressions.
func WalkExpr(v ExprVisitor, expr Expr) {
	if v = v.Visit(expr); v == nil {
		return
	}

	switch expr := expr.(type) {
	case *BinaryExpr:
		WalkExpr(v, expr.LHS)
		WalkExpr(v, expr.RHS)
	case *CastExpr:
		WalkExpr(v, expr.Src)
	case *ConcatExpr:
		WalkExpr(v, expr.MSB)
		WalkExpr(v, expr.LSB)
	case *ConstantExpr, *VarExpr:
		// nop
	case *ExtractExpr:
		WalkExpr(v, expr.Expr)
	case *NotExpr:
		WalkExpr(v, expr.Expr)
	case *IteExpr:
		WalkExpr(v, expr.Cond)
		WalkExpr(v, expr.Then)
		WalkExpr(v, expr.Else)
	case *ApplyExpr:
		for _, arg := range expr.Args {
			WalkExpr(v, arg)
		}
	case *SelectExpr:
		WalkExpr(v, expr.Index)
		walkUpdates(v, expr.Array)
	case *ArrayEqExpr:
		walkUpdates(v, expr.LHS)
		walkUpdates(v, expr.RHS)
	default:
		panic("unreachable")
	}
}

func walkUpdates(v ExprVisitor, a *Array) {
	for upd := a.Updates; upd != nil; upd = upd.Next {
		WalkExpr(v, upd.Index)
		WalkExpr(v, upd.Value)
	}
}

type exprVisitorFunc func(Expr) bool

func (fn exprVisitorFunc) Visit(expr Expr) ExprVisitor {
	if fn(expr) {
		return fn
	}
	return nil
}

// walkOnce calls fn for every distinct node of the expression trees.
// Shared subexpressions are visited once.
func walkOnce(fn func(Expr), exprs ...Expr) {
	seen := make(map[Expr]struct{})
	v := exprVisitorFunc(func(expr Expr) bool {
		if _, ok := seen[expr]; ok {
			return false
		}
		seen[expr] = struct{}{}
		fn(expr)
		return true
	})
	for _, expr := range exprs {
		WalkExpr(v, expr)
	}
}

// FindVars returns all variables in the expression trees, sorted by name.
func FindVars(exprs ...Expr) []*VarExpr {
	m := make(map[string]*VarExpr)
	walkOnce(func(expr Expr) {
		if expr, ok := expr.(*VarExpr); ok {
			if _, ok := m[expr.Name]; !ok {
				m[expr.Name] = expr
			}
		}
	}, exprs...)

	a := make([]*VarExpr, 0, len(m))
	for _, expr := range m {
		a = append(a, expr)
	}
	sort.Slice(a, func(i, j int) bool { return a[i].Name < a[j].Name })
	return a
}

// FindArrays returns the names of all root arrays read or compared in the
// expression trees, sorted.
func FindArrays(exprs ...Expr) []string {
	m := make(map[string]struct{})
	walkOnce(func(expr Expr) {
		switch expr := expr.(type) {
		case *SelectExpr:
			m[expr.Array.Name] = struct{}{}
		case *ArrayEqExpr:
			m[expr.LHS.Name] = struct{}{}
			m[expr.RHS.Name] = struct{}{}
		}
	}, exprs...)

	a := make([]string, 0, len(m))
	for name := range m {
		a = append(a, name)
	}
	sort.Strings(a)
	return a
}

// FindAddrs returns the index expressions of every select and every array
// update in the expression trees.
func FindAddrs(exprs ...Expr) []Expr {
	var a []Expr
	seen := make(map[*ArrayUpdate]struct{})
	updates := func(arr *Array) {
		for upd := arr.Updates; upd != nil; upd = upd.Next {
			if _, ok := seen[upd]; ok {
				return // rest of the chain already visited
			}
			seen[upd] = struct{}{}
			a = append(a, upd.Index)
		}
	}
	walkOnce(func(expr Expr) {
		switch expr := expr.(type) {
		case *SelectExpr:
			a = append(a, expr.Index)
			updates(expr.Array)
		case *ArrayEqExpr:
			updates(expr.LHS)
			updates(expr.RHS)
		}
	}, exprs...)
	return a
}

// Substitution maps symbol names to replacement bindings. Variables are
// replaced by an Expr and memory arrays by an *Array.
type Substitution map[string]Binding

// SubstituteExpr returns expr with every symbol in s replaced. Replacement
// expressions are rebuilt through the simplifying constructors.
func SubstituteExpr(expr Expr, s Substitution) Expr {
	if len(s) == 0 {
		return expr
	}
	return (&substituter{s: s, memo: make(map[Expr]Expr)}).expr(expr)
}

type substituter struct {
	s    Substitution
	memo map[Expr]Expr
}

func (sub *substituter) expr(expr Expr) Expr {
	if other, ok := sub.memo[expr]; ok {
		return other
	}
	other := sub.rebuild(expr)
	sub.memo[expr] = other
	return other
}

func (sub *substituter) rebuild(expr Expr) Expr {
	switch expr := expr.(type) {
	case *ConstantExpr:
		return expr
	case *VarExpr:
		if b, ok := sub.s[expr.Name]; ok {
			other, ok := b.(Expr)
			assert(ok, "substitute: variable %s bound to %T", expr.Name, b)
			assert(ExprWidth(other) == expr.Width, "substitute: width mismatch for %s: %d != %d", expr.Name, ExprWidth(other), expr.Width)
			return other
		}
		return expr
	case *BinaryExpr:
		return NewBinaryExpr(expr.Op, sub.expr(expr.LHS), sub.expr(expr.RHS))
	case *CastExpr:
		return NewCastExpr(sub.expr(expr.Src), expr.Width, expr.Signed)
	case *ConcatExpr:
		return NewConcatExpr(sub.expr(expr.MSB), sub.expr(expr.LSB))
	case *ExtractExpr:
		return NewExtractExpr(sub.expr(expr.Expr), expr.Offset, expr.Width)
	case *NotExpr:
		return NewNotExpr(sub.expr(expr.Expr))
	case *IteExpr:
		return NewIteExpr(sub.expr(expr.Cond), sub.expr(expr.Then), sub.expr(expr.Else))
	case *ApplyExpr:
		args := make([]Expr, len(expr.Args))
		for i := range expr.Args {
			args[i] = sub.expr(expr.Args[i])
		}
		return NewApplyExpr(expr.Func, args, expr.Width)
	case *SelectExpr:
		return sub.array(expr.Array).selectByte(sub.expr(expr.Index))
	case *ArrayEqExpr:
		return NewArrayEqExpr(sub.array(expr.LHS), sub.array(expr.RHS))
	default:
		panic("unreachable")
	}
}

// SubstituteArray returns a with its root and update chain substituted.
func SubstituteArray(a *Array, s Substitution) *Array {
	if len(s) == 0 {
		return a
	}
	return (&substituter{s: s, memo: make(map[Expr]Expr)}).array(a)
}

// array rebuilds a with its root replaced and its updates substituted.
func (sub *substituter) array(a *Array) *Array {
	base := &Array{Name: a.Name}
	if b, ok := sub.s[a.Name]; ok {
		other, ok := b.(*Array)
		assert(ok, "substitute: array %s bound to %T", a.Name, b)
		base = other.Clone()
	} else if a.Updates == nil {
		return a
	}

	// Replay updates from oldest to newest on top of the new base.
	var updates []*ArrayUpdate
	for upd := a.Updates; upd != nil; upd = upd.Next {
		updates = append(updates, upd)
	}
	for i := len(updates) - 1; i >= 0; i-- {
		base.storeByte(sub.expr(updates[i].Index), sub.expr(updates[i].Value))
	}
	return base
}

// ExprEvaluator evaluates expressions using the values of a model.
type ExprEvaluator struct {
	model *Model

	// If true, symbols missing from the model evaluate to zero instead of
	// returning an error.
	Complete bool
}

// NewExprEvaluator returns a new instance of ExprEvaluator for the model.
func NewExprEvaluator(model *Model) *ExprEvaluator {
	return &ExprEvaluator{model: model}
}

// Evaluate evaluates expr to a constant expression.
// Returns an error if an unbound variable is encountered.
func (ee *ExprEvaluator) Evaluate(expr Expr) (*ConstantExpr, error) {
	switch expr := expr.(type) {
	case *ConstantExpr:
		return expr, nil
	case *VarExpr:
		value, ok := ee.model.Vars[expr.Name]
		if !ok {
			if ee.Complete {
				return NewConstantExpr(0, expr.Width), nil
			}
			return nil, fmt.Errorf("variable not bound: %s", expr.Name)
		}
		return value.ZExt(expr.Width), nil
	case *ApplyExpr:
		if ee.Complete {
			return NewConstantExpr(0, expr.Width), nil
		}
		return nil, fmt.Errorf("uninterpreted function has no value: %s", expr.Func)
	case *BinaryExpr:
		lhs, err := ee.Evaluate(expr.LHS)
		if err != nil {
			return nil, err
		}
		rhs, err := ee.Evaluate(expr.RHS)
		if err != nil {
			return nil, err
		}
		return NewBinaryExpr(expr.Op, lhs, rhs).(*ConstantExpr), nil
	case *CastExpr:
		src, err := ee.Evaluate(expr.Src)
		if err != nil {
			return nil, err
		}
		return NewCastExpr(src, expr.Width, expr.Signed).(*ConstantExpr), nil
	case *ConcatExpr:
		msb, err := ee.Evaluate(expr.MSB)
		if err != nil {
			return nil, err
		}
		lsb, err := ee.Evaluate(expr.LSB)
		if err != nil {
			return nil, err
		}
		return NewConcatExpr(msb, lsb).(*ConstantExpr), nil
	case *ExtractExpr:
		src, err := ee.Evaluate(expr.Expr)
		if err != nil {
			return nil, err
		}
		return NewExtractExpr(src, expr.Offset, expr.Width).(*ConstantExpr), nil
	case *NotExpr:
		src, err := ee.Evaluate(expr.Expr)
		if err != nil {
			return nil, err
		}
		return src.Not(), nil
	case *IteExpr:
		cond, err := ee.Evaluate(expr.Cond)
		if err != nil {
			return nil, err
		} else if cond.IsTrue() {
			return ee.Evaluate(expr.Then)
		}
		return ee.Evaluate(expr.Else)
	case *SelectExpr:
		i, err := ee.Evaluate(expr.Index)
		if err != nil {
			return nil, err
		}

		// Return most recent update to given index, if available.
		for upd := expr.Array.Updates; upd != nil; upd = upd.Next {
			index, err := ee.Evaluate(upd.Index)
			if err != nil {
				return nil, err
			} else if index.Value != i.Value {
				continue
			}
			return ee.Evaluate(upd.Value)
		}

		// Otherwise return the initial contents from the model.
		mem := ee.model.Memory[expr.Array.Name]
		if mem == nil {
			if ee.Complete {
				return NewConstantExpr8(0), nil
			}
			return nil, fmt.Errorf("array not bound: %s", expr.Array.Name)
		}
		return NewConstantExpr8(uint64(mem.Byte(i.Value))), nil
	case *ArrayEqExpr:
		return ee.evaluateArrayEq(expr)
	default:
		return nil, fmt.Errorf("invalid expression type: %T", expr)
	}
}

// evaluateArrayEq compares both arrays at every address written by either
// update chain or assigned by the model. Arrays with different roots must
// also agree on the contents of every other address.
func (ee *ExprEvaluator) evaluateArrayEq(expr *ArrayEqExpr) (*ConstantExpr, error) {
	addrs := make(map[uint64]struct{})
	for _, a := range []*Array{expr.LHS, expr.RHS} {
		for upd := a.Updates; upd != nil; upd = upd.Next {
			index, err := ee.Evaluate(upd.Index)
			if err != nil {
				return nil, err
			}
			addrs[index.Value] = struct{}{}
		}
		if mem := ee.model.Memory[a.Name]; mem != nil {
			for addr := range mem.Bytes {
				addrs[addr] = struct{}{}
			}
		}
	}

	for addr := range addrs {
		index := NewConstantExpr64(addr)
		lhs, err := ee.Evaluate(expr.LHS.selectByte(index))
		if err != nil {
			return nil, err
		}
		rhs, err := ee.Evaluate(expr.RHS.selectByte(index))
		if err != nil {
			return nil, err
		} else if lhs.Value != rhs.Value {
			return NewBoolConstantExpr(false), nil
		}
	}

	if expr.LHS.Name != expr.RHS.Name {
		lhs, err := ee.defaultByte(expr.LHS.Name)
		if err != nil {
			return nil, err
		}
		rhs, err := ee.defaultByte(expr.RHS.Name)
		if err != nil {
			return nil, err
		}
		return NewBoolConstantExpr(lhs == rhs), nil
	}
	return NewBoolConstantExpr(true), nil
}

func (ee *ExprEvaluator) defaultByte(name string) (byte, error) {
	if mem := ee.model.Memory[name]; mem != nil {
		return mem.Default, nil
	} else if ee.Complete {
		return 0, nil
	}
	return 0, fmt.Errorf("array not bound: %s", name)
}
