package z3

import (
	"fmt"
	"strings"
	"time"
	"unsafe"

	"github.com/benbjohnson/wp"
	"github.com/pkg/errors"
)

/*
#cgo LDFLAGS: -lz3
#include <z3.h>
#include <stdlib.h>
#include <stdio.h>
*/
import "C"

// Ensure solver implements interface.
var _ wp.Solver = (*Solver)(nil)

// Solver represents a solver that uses an embedded Z3 solver.
// It is not safe for concurrent use.
type Solver struct {
	ctx   *Context
	stats Stats

	// Maximum time spent on a single query. Zero means no limit.
	Timeout time.Duration
}

// NewSolver returns a new instance of Solver.
func NewSolver() *Solver {
	return &Solver{
		ctx: NewContext(),
	}
}

// Close deletes the underlying Z3 context.
func (s *Solver) Close() error {
	return s.ctx.Close()
}

// Stats returns statistics for the solver.
func (s *Solver) Stats() Stats {
	return s.stats
}

// Solve implements wp.Solver. If satisfiable, the returned model assigns
// every variable and every memory byte addressed by the constraints.
func (s *Solver) Solve(constraints []wp.Expr) (satisfiable bool, model *wp.Model, err error) {
	t := time.Now()
	defer func() {
		s.stats.SolveN++
		s.stats.SolveTime += time.Since(t)
	}()

	solver := C.Z3_mk_solver(s.ctx.raw)
	if err := s.ctx.err("Z3_mk_solver"); err != nil {
		return false, nil, err
	}
	C.Z3_solver_inc_ref(s.ctx.raw, solver)
	defer C.Z3_solver_dec_ref(s.ctx.raw, solver)

	s.ctx.memo = make(map[wp.Expr]C.Z3_ast)

	if s.Timeout > 0 {
		if err := s.ctx.setTimeout(solver, s.Timeout); err != nil {
			return false, nil, err
		}
	}

	for _, constraint := range constraints {
		ast, err := s.ctx.toAST(constraint)
		if err != nil {
			return false, nil, err
		}
		C.Z3_solver_assert(s.ctx.raw, solver, ast)
		if err := s.ctx.err("Z3_solver_assert"); err != nil {
			return false, nil, err
		}
	}

	// Exit immediately if unsatisfiable or the solver gave up.
	ret := C.Z3_solver_check(s.ctx.raw, solver)
	if err := s.ctx.err("Z3_solver_check"); err != nil {
		return false, nil, err
	} else if ret == C.Z3_L_FALSE {
		return false, nil, nil
	} else if ret == C.Z3_L_UNDEF {
		reason := C.GoString(C.Z3_solver_get_reason_unknown(s.ctx.raw, solver))
		switch {
		case strings.Contains(reason, "timeout"):
			return false, nil, wp.ErrSolverTimeout
		case strings.Contains(reason, "canceled"):
			return false, nil, wp.ErrSolverCanceled
		case strings.Contains(reason, "(resource limits reached)"):
			return false, nil, wp.ErrSolverResourceLimit
		case strings.Contains(reason, "unknown"):
			return false, nil, wp.ErrSolverUnknown
		default:
			return false, nil, errors.Errorf("z3: %s", reason)
		}
	}

	z3Model := C.Z3_solver_get_model(s.ctx.raw, solver)
	if err := s.ctx.err("Z3_solver_get_model"); err != nil {
		return true, nil, err
	}
	C.Z3_model_inc_ref(s.ctx.raw, z3Model)
	defer C.Z3_model_dec_ref(s.ctx.raw, z3Model)

	if model, err = s.ctx.model(z3Model, constraints); err != nil {
		return true, nil, err
	}
	return true, model, nil
}

// Context represents a Z3 context object that is used for constructing expressions.
type Context struct {
	raw C.Z3_context

	// translated expressions, reset for every query
	memo map[wp.Expr]C.Z3_ast
}

// NewContext returns a new instance of Context.
func NewContext() *Context {
	config := C.Z3_mk_config()
	defer C.Z3_del_config(config)

	raw := C.Z3_mk_context(config)
	C.Z3_set_error_handler(raw, nil)
	C.Z3_set_ast_print_mode(raw, C.Z3_PRINT_SMTLIB2_COMPLIANT)
	return &Context{raw: raw, memo: make(map[wp.Expr]C.Z3_ast)}
}

// Close deletes the underlying Z3 context.
func (ctx *Context) Close() error {
	C.Z3_del_context(ctx.raw)
	return nil
}

// err returns the error for the last API call. Returns nil if last call was successful.
func (ctx *Context) err(op string) error {
	if code := C.Z3_get_error_code(ctx.raw); code != C.Z3_OK {
		return &Error{Code: int(code), Op: op, Message: C.GoString(C.Z3_get_error_msg(ctx.raw, code))}
	}
	return nil
}

func (ctx *Context) setTimeout(solver C.Z3_solver, d time.Duration) error {
	params := C.Z3_mk_params(ctx.raw)
	if err := ctx.err("Z3_mk_params"); err != nil {
		return err
	}
	C.Z3_params_inc_ref(ctx.raw, params)
	defer C.Z3_params_dec_ref(ctx.raw, params)

	C.Z3_params_set_uint(ctx.raw, params, ctx.symbol("timeout"), C.uint(d/time.Millisecond))
	if err := ctx.err("Z3_params_set_uint"); err != nil {
		return err
	}
	C.Z3_solver_set_params(ctx.raw, solver, params)
	return ctx.err("Z3_solver_set_params")
}

// toAST returns a new Z3 AST from an expression. Width 1 expressions are
// translated to the boolean sort, everything else to bit-vectors. Shared
// subexpressions are translated once.
func (ctx *Context) toAST(expr wp.Expr) (C.Z3_ast, error) {
	if ast, ok := ctx.memo[expr]; ok {
		return ast, nil
	}
	ast, err := ctx.newAST(expr)
	if err != nil {
		return nil, err
	}
	ctx.memo[expr] = ast
	return ast, nil
}

func (ctx *Context) newAST(expr wp.Expr) (C.Z3_ast, error) {
	switch expr := expr.(type) {
	case *wp.ConstantExpr:
		return ctx.toConstantAST(expr)
	case *wp.VarExpr:
		return ctx.toVarAST(expr)
	case *wp.ApplyExpr:
		return ctx.toApplyAST(expr)
	case *wp.SelectExpr:
		return ctx.toSelectAST(expr)
	case *wp.ConcatExpr:
		return ctx.toConcatAST(expr)
	case *wp.ExtractExpr:
		return ctx.toExtractAST(expr)
	case *wp.CastExpr:
		return ctx.toCastAST(expr)
	case *wp.NotExpr:
		return ctx.toNotAST(expr)
	case *wp.IteExpr:
		return ctx.toIteAST(expr)
	case *wp.BinaryExpr:
		return ctx.toBinaryAST(expr)
	case *wp.ArrayEqExpr:
		return ctx.toArrayEqAST(expr)
	default:
		return nil, errors.Errorf("z3: invalid expression type: %T", expr)
	}
}

func (ctx *Context) toConstantAST(expr *wp.ConstantExpr) (C.Z3_ast, error) {
	if expr.Width == wp.WidthBool {
		if expr.IsTrue() {
			return C.Z3_mk_true(ctx.raw), ctx.err("Z3_mk_true")
		}
		return C.Z3_mk_false(ctx.raw), ctx.err("Z3_mk_false")
	}
	return ctx.makeUint64(expr.Width, expr.Value)
}

func (ctx *Context) toVarAST(expr *wp.VarExpr) (C.Z3_ast, error) {
	sort, err := ctx.makeSort(expr.Width)
	if err != nil {
		return nil, err
	}
	return C.Z3_mk_const(ctx.raw, ctx.symbol(expr.Name), sort), ctx.err("Z3_mk_const")
}

// toApplyAST translates an application of an uninterpreted function.
func (ctx *Context) toApplyAST(expr *wp.ApplyExpr) (C.Z3_ast, error) {
	rangeSort, err := ctx.makeSort(expr.Width)
	if err != nil {
		return nil, err
	}
	if len(expr.Args) == 0 {
		return C.Z3_mk_const(ctx.raw, ctx.symbol(expr.Func), rangeSort), ctx.err("Z3_mk_const")
	}

	domain := make([]C.Z3_sort, len(expr.Args))
	args := make([]C.Z3_ast, len(expr.Args))
	for i, arg := range expr.Args {
		if domain[i], err = ctx.makeSort(wp.ExprWidth(arg)); err != nil {
			return nil, err
		} else if args[i], err = ctx.toAST(arg); err != nil {
			return nil, err
		}
	}

	decl := C.Z3_mk_func_decl(ctx.raw, ctx.symbol(expr.Func), C.uint(len(domain)), &domain[0], rangeSort)
	if err := ctx.err("Z3_mk_func_decl"); err != nil {
		return nil, err
	}
	return C.Z3_mk_app(ctx.raw, decl, C.uint(len(args)), &args[0]), ctx.err("Z3_mk_app")
}

func (ctx *Context) toSelectAST(expr *wp.SelectExpr) (C.Z3_ast, error) {
	array, err := ctx.makeArrayWithUpdate(expr.Array, expr.Array.Updates)
	if err != nil {
		return nil, err
	}
	index, err := ctx.toAST(expr.Index)
	if err != nil {
		return nil, err
	}
	return C.Z3_mk_select(ctx.raw, array, index), ctx.err("Z3_mk_select")
}

func (ctx *Context) toArrayEqAST(expr *wp.ArrayEqExpr) (C.Z3_ast, error) {
	lhs, err := ctx.makeArrayWithUpdate(expr.LHS, expr.LHS.Updates)
	if err != nil {
		return nil, err
	}
	rhs, err := ctx.makeArrayWithUpdate(expr.RHS, expr.RHS.Updates)
	if err != nil {
		return nil, err
	}
	return C.Z3_mk_eq(ctx.raw, lhs, rhs), ctx.err("Z3_mk_eq")
}

func (ctx *Context) toConcatAST(expr *wp.ConcatExpr) (C.Z3_ast, error) {
	msb, err := ctx.toBitVectorAST(expr.MSB)
	if err != nil {
		return nil, err
	}
	lsb, err := ctx.toBitVectorAST(expr.LSB)
	if err != nil {
		return nil, err
	}
	return C.Z3_mk_concat(ctx.raw, msb, lsb), ctx.err("Z3_mk_concat")
}

func (ctx *Context) toExtractAST(expr *wp.ExtractExpr) (C.Z3_ast, error) {
	src, err := ctx.toBitVectorAST(expr.Expr)
	if err != nil {
		return nil, err
	}

	ast := C.Z3_mk_extract(ctx.raw, C.uint(expr.Offset+expr.Width-1), C.uint(expr.Offset), src)
	if err := ctx.err("Z3_mk_extract"); err != nil {
		return nil, err
	} else if expr.Width == wp.WidthBool {
		return ctx.bvToBool(ast)
	}
	return ast, nil
}

func (ctx *Context) toCastAST(expr *wp.CastExpr) (C.Z3_ast, error) {
	src, err := ctx.toAST(expr.Src)
	if err != nil {
		return nil, err
	}
	srcWidth := wp.ExprWidth(expr.Src)

	// Booleans extend to 0 or 1 when unsigned and 0 or -1 when signed.
	if srcWidth == wp.WidthBool {
		value := uint64(1)
		if expr.Signed {
			value = ^uint64(0)
		}
		whenTrue, err := ctx.makeUint64(expr.Width, value)
		if err != nil {
			return nil, err
		}
		whenFalse, err := ctx.makeUint64(expr.Width, 0)
		if err != nil {
			return nil, err
		}
		return C.Z3_mk_ite(ctx.raw, src, whenTrue, whenFalse), ctx.err("Z3_mk_ite")
	}

	switch {
	case expr.Width < srcWidth:
		ast := C.Z3_mk_extract(ctx.raw, C.uint(expr.Width-1), 0, src)
		if err := ctx.err("Z3_mk_extract"); err != nil {
			return nil, err
		} else if expr.Width == wp.WidthBool {
			return ctx.bvToBool(ast)
		}
		return ast, nil
	case expr.Width == srcWidth:
		return src, nil
	case expr.Signed:
		return C.Z3_mk_sign_ext(ctx.raw, C.uint(expr.Width-srcWidth), src), ctx.err("Z3_mk_sign_ext")
	default:
		return C.Z3_mk_zero_ext(ctx.raw, C.uint(expr.Width-srcWidth), src), ctx.err("Z3_mk_zero_ext")
	}
}

func (ctx *Context) toNotAST(expr *wp.NotExpr) (C.Z3_ast, error) {
	src, err := ctx.toAST(expr.Expr)
	if err != nil {
		return nil, err
	}

	// If boolean, use boolean NOT operation.
	if wp.ExprWidth(expr.Expr) == wp.WidthBool {
		return C.Z3_mk_not(ctx.raw, src), ctx.err("Z3_mk_not")
	}
	return C.Z3_mk_bvnot(ctx.raw, src), ctx.err("Z3_mk_bvnot")
}

func (ctx *Context) toIteAST(expr *wp.IteExpr) (C.Z3_ast, error) {
	cond, err := ctx.toAST(expr.Cond)
	if err != nil {
		return nil, err
	}
	then, err := ctx.toAST(expr.Then)
	if err != nil {
		return nil, err
	}
	els, err := ctx.toAST(expr.Else)
	if err != nil {
		return nil, err
	}
	return C.Z3_mk_ite(ctx.raw, cond, then, els), ctx.err("Z3_mk_ite")
}

func (ctx *Context) toBinaryAST(expr *wp.BinaryExpr) (C.Z3_ast, error) {
	lhs, err := ctx.toAST(expr.LHS)
	if err != nil {
		return nil, err
	}
	rhs, err := ctx.toAST(expr.RHS)
	if err != nil {
		return nil, err
	}

	boolean := wp.ExprWidth(expr.LHS) == wp.WidthBool
	if boolean {
		args := [2]C.Z3_ast{lhs, rhs}
		switch expr.Op {
		case wp.AND:
			return C.Z3_mk_and(ctx.raw, 2, &args[0]), ctx.err("Z3_mk_and")
		case wp.OR:
			return C.Z3_mk_or(ctx.raw, 2, &args[0]), ctx.err("Z3_mk_or")
		case wp.XOR:
			return C.Z3_mk_xor(ctx.raw, lhs, rhs), ctx.err("Z3_mk_xor")
		case wp.EQ:
			return C.Z3_mk_iff(ctx.raw, lhs, rhs), ctx.err("Z3_mk_iff")
		}

		// Remaining operations act on single-bit vectors.
		if lhs, err = ctx.boolToBV(lhs); err != nil {
			return nil, err
		} else if rhs, err = ctx.boolToBV(rhs); err != nil {
			return nil, err
		}
	}

	ast, err := ctx.bvBinary(expr.Op, lhs, rhs)
	if err != nil {
		return nil, err
	} else if boolean && !expr.Op.IsCompare() {
		return ctx.bvToBool(ast)
	}
	return ast, nil
}

func (ctx *Context) bvBinary(op wp.BinaryOp, lhs, rhs C.Z3_ast) (C.Z3_ast, error) {
	switch op {
	case wp.ADD:
		return C.Z3_mk_bvadd(ctx.raw, lhs, rhs), ctx.err("Z3_mk_bvadd")
	case wp.SUB:
		return C.Z3_mk_bvsub(ctx.raw, lhs, rhs), ctx.err("Z3_mk_bvsub")
	case wp.MUL:
		return C.Z3_mk_bvmul(ctx.raw, lhs, rhs), ctx.err("Z3_mk_bvmul")
	case wp.UDIV:
		return C.Z3_mk_bvudiv(ctx.raw, lhs, rhs), ctx.err("Z3_mk_bvudiv")
	case wp.SDIV:
		return C.Z3_mk_bvsdiv(ctx.raw, lhs, rhs), ctx.err("Z3_mk_bvsdiv")
	case wp.UREM:
		return C.Z3_mk_bvurem(ctx.raw, lhs, rhs), ctx.err("Z3_mk_bvurem")
	case wp.SREM:
		return C.Z3_mk_bvsrem(ctx.raw, lhs, rhs), ctx.err("Z3_mk_bvsrem")
	case wp.AND:
		return C.Z3_mk_bvand(ctx.raw, lhs, rhs), ctx.err("Z3_mk_bvand")
	case wp.OR:
		return C.Z3_mk_bvor(ctx.raw, lhs, rhs), ctx.err("Z3_mk_bvor")
	case wp.XOR:
		return C.Z3_mk_bvxor(ctx.raw, lhs, rhs), ctx.err("Z3_mk_bvxor")
	case wp.SHL:
		return C.Z3_mk_bvshl(ctx.raw, lhs, rhs), ctx.err("Z3_mk_bvshl")
	case wp.LSHR:
		return C.Z3_mk_bvlshr(ctx.raw, lhs, rhs), ctx.err("Z3_mk_bvlshr")
	case wp.ASHR:
		return C.Z3_mk_bvashr(ctx.raw, lhs, rhs), ctx.err("Z3_mk_bvashr")
	case wp.EQ:
		return C.Z3_mk_eq(ctx.raw, lhs, rhs), ctx.err("Z3_mk_eq")
	case wp.NE:
		eq := C.Z3_mk_eq(ctx.raw, lhs, rhs)
		if err := ctx.err("Z3_mk_eq"); err != nil {
			return nil, err
		}
		return C.Z3_mk_not(ctx.raw, eq), ctx.err("Z3_mk_not")
	case wp.ULT:
		return C.Z3_mk_bvult(ctx.raw, lhs, rhs), ctx.err("Z3_mk_bvult")
	case wp.ULE:
		return C.Z3_mk_bvule(ctx.raw, lhs, rhs), ctx.err("Z3_mk_bvule")
	case wp.UGT:
		return C.Z3_mk_bvugt(ctx.raw, lhs, rhs), ctx.err("Z3_mk_bvugt")
	case wp.UGE:
		return C.Z3_mk_bvuge(ctx.raw, lhs, rhs), ctx.err("Z3_mk_bvuge")
	case wp.SLT:
		return C.Z3_mk_bvslt(ctx.raw, lhs, rhs), ctx.err("Z3_mk_bvslt")
	case wp.SLE:
		return C.Z3_mk_bvsle(ctx.raw, lhs, rhs), ctx.err("Z3_mk_bvsle")
	case wp.SGT:
		return C.Z3_mk_bvsgt(ctx.raw, lhs, rhs), ctx.err("Z3_mk_bvsgt")
	case wp.SGE:
		return C.Z3_mk_bvsge(ctx.raw, lhs, rhs), ctx.err("Z3_mk_bvsge")
	default:
		return nil, errors.Errorf("z3: unexpected operation: %s", op)
	}
}

// toBitVectorAST translates expr and converts booleans to 1-bit vectors.
func (ctx *Context) toBitVectorAST(expr wp.Expr) (C.Z3_ast, error) {
	ast, err := ctx.toAST(expr)
	if err != nil {
		return nil, err
	} else if wp.ExprWidth(expr) == wp.WidthBool {
		return ctx.boolToBV(ast)
	}
	return ast, nil
}

func (ctx *Context) boolToBV(ast C.Z3_ast) (C.Z3_ast, error) {
	one, err := ctx.makeUint64(1, 1)
	if err != nil {
		return nil, err
	}
	zero, err := ctx.makeUint64(1, 0)
	if err != nil {
		return nil, err
	}
	return C.Z3_mk_ite(ctx.raw, ast, one, zero), ctx.err("Z3_mk_ite")
}

func (ctx *Context) bvToBool(ast C.Z3_ast) (C.Z3_ast, error) {
	one, err := ctx.makeUint64(1, 1)
	if err != nil {
		return nil, err
	}
	return C.Z3_mk_eq(ctx.raw, ast, one), ctx.err("Z3_mk_eq")
}

func (ctx *Context) symbol(name string) C.Z3_symbol {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	return C.Z3_mk_string_symbol(ctx.raw, cname)
}

// makeSort returns the boolean sort for width 1 and a bit-vector sort otherwise.
func (ctx *Context) makeSort(width uint) (C.Z3_sort, error) {
	if width == wp.WidthBool {
		return C.Z3_mk_bool_sort(ctx.raw), ctx.err("Z3_mk_bool_sort")
	}
	return ctx.makeBVSort(width)
}

func (ctx *Context) makeBVSort(width uint) (C.Z3_sort, error) {
	if width == 0 || width > wp.Width64 {
		return nil, errors.Errorf("z3: invalid bit-vector width: %d", width)
	}
	return C.Z3_mk_bv_sort(ctx.raw, C.uint(width)), ctx.err("Z3_mk_bv_sort")
}

func (ctx *Context) makeUint64(width uint, value uint64) (C.Z3_ast, error) {
	t, err := ctx.makeBVSort(width)
	if err != nil {
		return nil, err
	}
	return C.Z3_mk_unsigned_int64(ctx.raw, C.uint64_t(value), t), ctx.err("Z3_mk_unsigned_int64")
}

// makeArrayConst returns the root constant array with no updates.
func (ctx *Context) makeArrayConst(array *wp.Array) (C.Z3_ast, error) {
	domainSort, err := ctx.makeBVSort(wp.Width64)
	if err != nil {
		return nil, err
	}
	rangeSort, err := ctx.makeBVSort(wp.Width8)
	if err != nil {
		return nil, err
	}
	arraySort := C.Z3_mk_array_sort(ctx.raw, domainSort, rangeSort)
	if err := ctx.err("Z3_mk_array_sort"); err != nil {
		return nil, err
	}
	return C.Z3_mk_const(ctx.raw, ctx.symbol(array.Name), arraySort), ctx.err("Z3_mk_const")
}

// makeArrayWithUpdate returns an array with updates recursively applied.
func (ctx *Context) makeArrayWithUpdate(root *wp.Array, upd *wp.ArrayUpdate) (C.Z3_ast, error) {
	if upd == nil {
		return ctx.makeArrayConst(root)
	}

	array, err := ctx.makeArrayWithUpdate(root, upd.Next)
	if err != nil {
		return nil, err
	}
	index, err := ctx.toAST(upd.Index)
	if err != nil {
		return nil, err
	}
	value, err := ctx.toAST(upd.Value)
	if err != nil {
		return nil, err
	}
	return C.Z3_mk_store(ctx.raw, array, index, value), ctx.err("Z3_mk_store")
}

// model reads the values of the free variables of constraints and the
// initial bytes of each memory array at every address the constraints
// select from or store to in any array.
func (ctx *Context) model(z3Model C.Z3_model, constraints []wp.Expr) (*wp.Model, error) {
	model := wp.NewModel()

	for _, v := range wp.FindVars(constraints...) {
		ast, err := ctx.toVarAST(v)
		if err != nil {
			return nil, err
		}
		value, err := ctx.eval(z3Model, ast, v.Width)
		if err != nil {
			return nil, errors.Wrapf(err, "eval %s", v.Name)
		}
		model.Vars[v.Name] = value
	}

	// Every array is read at every address so arrays related by equality
	// agree in the model.
	var addrs []*wp.ConstantExpr
	seen := make(map[uint64]struct{})
	for _, index := range wp.FindAddrs(constraints...) {
		addr, err := ctx.evalExpr(z3Model, index)
		if err != nil {
			return nil, errors.Wrap(err, "eval index")
		} else if _, ok := seen[addr.Value]; ok {
			continue
		}
		seen[addr.Value] = struct{}{}
		addrs = append(addrs, addr)
	}

	for _, name := range wp.FindArrays(constraints...) {
		mem := &wp.MemoryModel{Bytes: make(map[uint64]byte, len(addrs))}
		for _, addr := range addrs {
			value, err := ctx.evalExpr(z3Model, wp.NewArray(name).Select(addr, wp.Width8, true))
			if err != nil {
				return nil, errors.Wrapf(err, "eval %s[%#x]", name, addr.Value)
			}
			mem.Bytes[addr.Value] = byte(value.Value)
		}
		model.Memory[name] = mem
	}
	return model, nil
}

func (ctx *Context) evalExpr(z3Model C.Z3_model, expr wp.Expr) (*wp.ConstantExpr, error) {
	ast, err := ctx.toAST(expr)
	if err != nil {
		return nil, err
	}
	return ctx.eval(z3Model, ast, wp.ExprWidth(expr))
}

// eval evaluates ast against the model with completion so unconstrained
// values are assigned.
func (ctx *Context) eval(z3Model C.Z3_model, ast C.Z3_ast, width uint) (*wp.ConstantExpr, error) {
	var result C.Z3_ast
	if !C.Z3_model_eval(ctx.raw, z3Model, ast, C.bool(true), &result) {
		return nil, errors.New("z3: model evaluation failed")
	} else if err := ctx.err("Z3_model_eval"); err != nil {
		return nil, err
	}

	if width == wp.WidthBool {
		switch C.Z3_get_bool_value(ctx.raw, result) {
		case C.Z3_L_TRUE:
			return wp.NewBoolConstantExpr(true), nil
		case C.Z3_L_FALSE:
			return wp.NewBoolConstantExpr(false), nil
		default:
			return nil, errors.Errorf("z3: non-constant boolean: %s", ctx.astToString(result))
		}
	}

	var value C.uint64_t
	if !C.Z3_get_numeral_uint64(ctx.raw, result, &value) {
		return nil, errors.Errorf("z3: non-constant value: %s", ctx.astToString(result))
	} else if err := ctx.err("Z3_get_numeral_uint64"); err != nil {
		return nil, err
	}
	return wp.NewConstantExpr(uint64(value), width), nil
}

func (ctx *Context) astToString(ast C.Z3_ast) string {
	return C.GoString(C.Z3_ast_to_string(ctx.raw, ast))
}

// Error represents an error from the Z3 API.
type Error struct {
	Code    int
	Op      string
	Message string
}

// Error returns the error as a string.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (%d)", e.Op, e.Message, e.Code)
}

// Possible error codes.
const (
	ErrorCodeOK = iota
	ErrorCodeSortError
	ErrorCodeIOB
	ErrorCodeInvalidArg
	ErrorCodeParserError
	ErrorCodeNoParser
	ErrorCodeInvalidPattern
	ErrorCodeMemoutFail
	ErrorCodeFileAccessError
	ErrorCodeInternalFatal
	ErrorCodeInvalidUsage
	ErrorCodeDecRefError
	ErrorCodeException
)

// Stats holds counters for a solver's queries.
type Stats struct {
	SolveN    int
	SolveTime time.Duration
}
