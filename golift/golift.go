// Package golift lifts Go functions into the wp IR.
//
// Packages are loaded with golang.org/x/tools/go/packages and built to SSA.
// Every function whose values are integers, booleans or pointers is
// translated to a subroutine of the go-ssa architecture: parameters are read
// from the arg registers at entry, results are written to the ret registers
// and package-level variables live at fixed addresses of the memory array.
//
// Explicit panics, integer division by zero and out of range array indexes
// are lowered to calls to abort. Nil pointer dereferences are not; they are
// reported by the null dereference hook when it is enabled.
package golift

import (
	"fmt"
	"go/constant"
	"go/token"
	"go/types"
	"path/filepath"
	"sort"
	"strings"

	"github.com/benbjohnson/wp"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/tools/go/packages"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"
)

// Name identifies the loader in cache digests. It changes whenever the
// lifted output for the same input changes.
const Name = "golift/2"

// GlobalBase is the address of the first package-level variable.
const GlobalBase = 0x10000

// ErrUnsupported is returned when a function uses a construct that cannot
// be lifted.
var ErrUnsupported = errors.New("golift: unsupported")

// Loader loads Go packages and lifts their functions.
type Loader struct {
	// Directory patterns are resolved from. Defaults to the current directory.
	Dir string

	// Include test files of the packages.
	Tests bool

	Logger *zap.Logger
}

// NewLoader returns a new instance of Loader.
func NewLoader() *Loader {
	return &Loader{Logger: zap.NewNop()}
}

// Load lifts the packages matched by patterns into a single program.
func (l *Loader) Load(patterns ...string) (*wp.Program, error) {
	initial, err := packages.Load(&packages.Config{
		Mode:  packages.LoadAllSyntax,
		Dir:   l.Dir,
		Tests: l.Tests,
	}, patterns...)
	if err != nil {
		return nil, errors.Wrap(err, "golift: load")
	}

	var msgs []string
	packages.Visit(initial, nil, func(pkg *packages.Package) {
		for _, err := range pkg.Errors {
			msgs = append(msgs, err.Error())
		}
	})
	if len(msgs) > 0 {
		return nil, errors.Errorf("golift: %s", strings.Join(msgs, "; "))
	} else if len(initial) == 0 {
		return nil, errors.Errorf("golift: no packages match %s", strings.Join(patterns, " "))
	}

	prog, pkgs := ssautil.AllPackages(initial, ssa.BuilderMode(0))
	for i, pkg := range pkgs {
		if pkg == nil {
			return nil, errors.Errorf("golift: cannot build SSA for package %s", initial[i])
		}
	}
	prog.Build()

	l.Logger.Debug("[golift] built ssa", zap.Int("packages", len(pkgs)))
	return Lift(pkgs, l.Logger)
}

// SourceFiles returns the compiled Go files of the packages matched by
// patterns and of their dependencies in the main module, sorted.
func (l *Loader) SourceFiles(patterns ...string) ([]string, error) {
	initial, err := packages.Load(&packages.Config{
		Mode: packages.NeedName | packages.NeedFiles | packages.NeedCompiledGoFiles |
			packages.NeedImports | packages.NeedDeps | packages.NeedModule,
		Dir:   l.Dir,
		Tests: l.Tests,
	}, patterns...)
	if err != nil {
		return nil, errors.Wrap(err, "golift: load")
	} else if len(initial) == 0 {
		return nil, errors.Errorf("golift: no packages match %s", strings.Join(patterns, " "))
	}

	roots := make(map[*packages.Package]bool, len(initial))
	for _, pkg := range initial {
		if len(pkg.Errors) > 0 {
			return nil, errors.Errorf("golift: %s", pkg.Errors[0])
		}
		roots[pkg] = true
	}

	seen := make(map[string]struct{})
	var files []string
	packages.Visit(initial, nil, func(pkg *packages.Package) {
		if !roots[pkg] && (pkg.Module == nil || !pkg.Module.Main) {
			return
		}
		for _, file := range pkg.CompiledGoFiles {
			if _, ok := seen[file]; !ok {
				seen[file] = struct{}{}
				files = append(files, file)
			}
		}
	})
	sort.Strings(files)
	return files, nil
}

// Lift translates the functions of pkgs. Functions that cannot be lifted
// are skipped with a warning.
func Lift(pkgs []*ssa.Package, logger *zap.Logger) (*wp.Program, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var names []string
	for _, pkg := range pkgs {
		names = append(names, pkg.Pkg.Path())
	}
	prog := &wp.Program{Name: strings.Join(names, " "), Arch: wp.ArchGoSSA.Name}

	sizes := types.SizesFor("gc", "amd64")
	globals := make(map[*ssa.Global]uint64)
	addr := uint64(GlobalBase)
	for _, pkg := range pkgs {
		for _, g := range members[*ssa.Global](pkg) {
			if g.Object() == nil {
				continue // init$guard
			}
			size := uint64(sizes.Sizeof(g.Type().(*types.Pointer).Elem()))
			globals[g] = addr
			prog.Symbols = append(prog.Symbols, wp.Symbol{Name: g.Name(), Addr: addr, Size: size})
			addr += align(size, 8)
		}
	}

	for _, pkg := range pkgs {
		for _, fn := range members[*ssa.Function](pkg) {
			if fn.Synthetic != "" {
				continue
			}
			if prog.Sub(fn.Name()) != nil {
				logger.Warn("[golift] duplicate function", zap.String("func", fn.String()))
				continue
			}

			sub, err := LiftFunction(fn, globals)
			if errors.Cause(err) == ErrUnsupported {
				logger.Warn("[golift] skipping function", zap.String("func", fn.String()), zap.Error(err))
				continue
			} else if err != nil {
				return nil, errors.Wrapf(err, "golift: %s", fn)
			}
			logger.Debug("[golift] lifted", zap.String("func", sub.Name), zap.Int("blocks", len(sub.Blocks)))
			prog.Subs = append(prog.Subs, sub)
		}
	}
	return prog, nil
}

// members returns the package members of type T sorted by name.
func members[T ssa.Member](pkg *ssa.Package) []T {
	names := make([]string, 0, len(pkg.Members))
	for name := range pkg.Members {
		names = append(names, name)
	}
	sort.Strings(names)

	var a []T
	for _, name := range names {
		if m, ok := pkg.Members[name].(T); ok {
			a = append(a, m)
		}
	}
	return a
}

// LiftFunction translates a single function. globals maps package-level
// variables to their addresses.
func LiftFunction(fn *ssa.Function, globals map[*ssa.Global]uint64) (*wp.Subroutine, error) {
	l := &lifter{
		fn:      fn,
		sizes:   types.SizesFor("gc", "amd64"),
		globals: globals,
	}
	return l.lift()
}

type lifter struct {
	fn      *ssa.Function
	sizes   types.Sizes
	globals map[*ssa.Global]uint64
	edges   []*wp.Block // phi assignments of an edge and runtime check targets
}

func (l *lifter) lift() (*wp.Subroutine, error) {
	fn, arch := l.fn, wp.ArchGoSSA
	switch {
	case len(fn.Blocks) == 0:
		return nil, errors.Wrap(ErrUnsupported, "function has no body")
	case len(fn.FreeVars) > 0:
		return nil, errors.Wrap(ErrUnsupported, "closure")
	case len(fn.Params) > len(arch.ArgRegs):
		return nil, errors.Wrapf(ErrUnsupported, "%d parameters", len(fn.Params))
	case fn.Signature.Results().Len() > len(arch.ReturnRegs):
		return nil, errors.Wrapf(ErrUnsupported, "%d results", fn.Signature.Results().Len())
	}

	sub := &wp.Subroutine{Name: fn.Name(), Entry: blockID(fn.Blocks[0]), Attrs: l.attrs(fn.Pos())}
	for _, b := range fn.Blocks {
		blk, err := l.block(b)
		if err != nil {
			return nil, err
		}
		sub.Blocks = append(sub.Blocks, blk)
	}
	sub.Blocks = append(sub.Blocks, l.edges...)

	if err := sub.Validate(); err != nil {
		return nil, err
	}
	return sub, nil
}

func (l *lifter) block(b *ssa.BasicBlock) (*wp.Block, error) {
	blk := &wp.Block{ID: blockID(b)}
	first, checks := blk, 0

	// Parameters are copied out of the argument registers at entry.
	if b.Index == 0 {
		for i, p := range l.fn.Params {
			expr, err := fromReg(wp.ArchGoSSA.ArgRegs[i], p.Type())
			if err != nil {
				return nil, err
			}
			stmt, err := l.assign(p, expr, p.Pos())
			if err != nil {
				return nil, err
			}
			blk.Stmts = append(blk.Stmts, stmt)
		}
	}

	for _, instr := range b.Instrs {
		switch instr := instr.(type) {
		case *ssa.Phi, *ssa.DebugRef:
			// Phis are assigned on incoming edges.

		case *ssa.If:
			cond, err := l.value(instr.Cond)
			if err != nil {
				return nil, err
			}
			then, err := l.edge(b, b.Succs[0])
			if err != nil {
				return nil, err
			}
			els, err := l.edge(b, b.Succs[1])
			if err != nil {
				return nil, err
			}
			blk.Term = &wp.BranchTerm{Cond: cond, Then: then, Else: els}

		case *ssa.Jump:
			target, err := l.edge(b, b.Succs[0])
			if err != nil {
				return nil, err
			}
			blk.Term = &wp.JumpTerm{Target: target}

		case *ssa.MakeInterface:
			// Panic values are not modeled.
			if !onlyPanics(instr) {
				return nil, errors.Wrapf(ErrUnsupported, "%s: interface conversion", l.pos(instr))
			}

		case *ssa.Return:
			for i, result := range instr.Results {
				value, err := l.value(result)
				if err != nil {
					return nil, err
				}
				blk.Stmts = append(blk.Stmts, &wp.AssignStmt{
					Var:  wp.NewVarExpr(wp.ArchGoSSA.ReturnRegs[i], wp.Width64),
					Expr: toReg(value, isSigned(result.Type())),
				})
			}
			blk.Term = &wp.ReturnTerm{Attrs: l.attrs(instr.Pos())}

		case *ssa.Panic:
			// A panic is a violation, reported through the error intrinsic.
			blk.Stmts = append(blk.Stmts, &wp.CallStmt{Callee: "abort", Attrs: l.attrs(instr.Pos())})
			blk.Term = &wp.ReturnTerm{}

		default:
			// Instructions that can panic at run time end the block with a
			// branch to an abort.
			if cond, err := l.runtimeCheck(instr); err != nil {
				return nil, err
			} else if cond != nil {
				checks++
				ok := &wp.Block{ID: fmt.Sprintf("%s.ok%d", blockID(b), checks)}
				fail := &wp.Block{
					ID:    fmt.Sprintf("%s.panic%d", blockID(b), checks),
					Stmts: []wp.Stmt{&wp.CallStmt{Callee: "abort", Attrs: l.attrs(instr.Pos())}},
					Term:  &wp.ReturnTerm{},
				}
				blk.Term = &wp.BranchTerm{Cond: cond, Then: ok.ID, Else: fail.ID}
				l.edges = append(l.edges, ok, fail)
				blk = ok
			}

			stmts, err := l.instr(instr)
			if err != nil {
				return nil, err
			}
			blk.Stmts = append(blk.Stmts, stmts...)
		}
	}
	return first, nil
}

// runtimeCheck returns the condition under which instr does not panic.
// Returns nil if instr cannot panic.
func (l *lifter) runtimeCheck(instr ssa.Instruction) (wp.Expr, error) {
	switch instr := instr.(type) {
	case *ssa.BinOp:
		if instr.Op != token.QUO && instr.Op != token.REM {
			return nil, nil
		} else if _, ok := instr.Y.(*ssa.Const); ok {
			return nil, nil
		}
		y, err := l.value(instr.Y)
		if err != nil {
			return nil, err
		}
		return wp.NewBinaryExpr(wp.NE, y, wp.NewConstantExpr(0, wp.ExprWidth(y))), nil

	case *ssa.IndexAddr:
		if _, ok := instr.Index.(*ssa.Const); ok {
			return nil, nil
		}
		ptr, ok := instr.X.Type().Underlying().(*types.Pointer)
		if !ok {
			return nil, nil
		}
		arr, ok := ptr.Elem().Underlying().(*types.Array)
		if !ok {
			return nil, nil
		}
		index, err := l.value(instr.Index)
		if err != nil {
			return nil, err
		}
		return wp.NewBinaryExpr(wp.ULT, toReg(index, isSigned(instr.Index.Type())), wp.NewConstantExpr64(uint64(arr.Len()))), nil
	}
	return nil, nil
}

// edge returns the block to jump to when following from -> to. If to has
// phis, a block assigning them for this edge is inserted.
func (l *lifter) edge(from, to *ssa.BasicBlock) (string, error) {
	var phis []*ssa.Phi
	for _, instr := range to.Instrs {
		if phi, ok := instr.(*ssa.Phi); ok {
			phis = append(phis, phi)
		}
	}
	if len(phis) == 0 {
		return blockID(to), nil
	}

	index := -1
	for i, pred := range to.Preds {
		if pred == from {
			index = i
			break
		}
	}

	// Phis are assigned in parallel so values are copied through
	// temporaries first.
	blk := &wp.Block{ID: blockID(from) + "." + blockID(to), Term: &wp.JumpTerm{Target: blockID(to)}}
	var copies []wp.Stmt
	for _, phi := range phis {
		w, _, err := typeWidth(phi.Type())
		if err != nil {
			return "", err
		}
		value, err := l.value(phi.Edges[index])
		if err != nil {
			return "", err
		}
		tmp := wp.NewVarExpr(local(phi)+".in", w)
		blk.Stmts = append(blk.Stmts, &wp.AssignStmt{Var: tmp, Expr: value})
		copies = append(copies, &wp.AssignStmt{Var: wp.NewVarExpr(local(phi), w), Expr: tmp})
	}
	blk.Stmts = append(blk.Stmts, copies...)

	l.edges = append(l.edges, blk)
	return blk.ID, nil
}

func (l *lifter) instr(instr ssa.Instruction) ([]wp.Stmt, error) {
	switch instr := instr.(type) {
	case *ssa.BinOp:
		expr, err := l.binOp(instr)
		if err != nil {
			return nil, err
		}
		return l.assigns(instr, expr, instr.Pos())

	case *ssa.UnOp:
		return l.unOp(instr)

	case *ssa.Convert:
		return l.convert(instr, instr.X)
	case *ssa.ChangeType:
		return l.convert(instr, instr.X)

	case *ssa.FieldAddr:
		st, ok := instr.X.Type().Underlying().(*types.Pointer).Elem().Underlying().(*types.Struct)
		if !ok {
			return nil, errors.Wrapf(ErrUnsupported, "%s: field of %s", l.pos(instr), instr.X.Type())
		}
		fields := make([]*types.Var, st.NumFields())
		for i := range fields {
			fields[i] = st.Field(i)
		}
		x, err := l.value(instr.X)
		if err != nil {
			return nil, err
		}
		offset := l.sizes.Offsetsof(fields)[instr.Field]
		return l.assigns(instr, wp.NewBinaryExpr(wp.ADD, x, wp.NewConstantExpr64(uint64(offset))), instr.Pos())

	case *ssa.IndexAddr:
		arr, ok := instr.X.Type().Underlying().(*types.Pointer)
		if !ok {
			return nil, errors.Wrapf(ErrUnsupported, "%s: index of %s", l.pos(instr), instr.X.Type())
		}
		elem, ok := arr.Elem().Underlying().(*types.Array)
		if !ok {
			return nil, errors.Wrapf(ErrUnsupported, "%s: index of %s", l.pos(instr), instr.X.Type())
		}
		x, err := l.value(instr.X)
		if err != nil {
			return nil, err
		}
		index, err := l.value(instr.Index)
		if err != nil {
			return nil, err
		}
		size := wp.NewConstantExpr64(uint64(l.sizes.Sizeof(elem.Elem())))
		offset := wp.NewBinaryExpr(wp.MUL, toReg(index, isSigned(instr.Index.Type())), size)
		return l.assigns(instr, wp.NewBinaryExpr(wp.ADD, x, offset), instr.Pos())

	case *ssa.Store:
		addr, err := l.value(instr.Addr)
		if err != nil {
			return nil, err
		}
		value, err := l.value(instr.Val)
		if err != nil {
			return nil, err
		}
		if wp.ExprWidth(value) == wp.WidthBool {
			value = wp.NewCastExpr(value, wp.Width8, false)
		}
		return []wp.Stmt{&wp.StoreStmt{Addr: addr, Value: value, Attrs: l.attrs(instr.Pos())}}, nil

	case *ssa.Call:
		return l.call(instr)

	case *ssa.Extract:
		w, _, err := typeWidth(instr.Type())
		if err != nil {
			return nil, errors.Wrapf(err, "%s", l.pos(instr))
		}
		src := wp.NewVarExpr(fmt.Sprintf("%s.%d", local(instr.Tuple), instr.Index), w)
		return l.assigns(instr, src, instr.Pos())

	default:
		return nil, errors.Wrapf(ErrUnsupported, "%s: instruction %T", l.pos(instr), instr)
	}
}

func (l *lifter) binOp(instr *ssa.BinOp) (wp.Expr, error) {
	x, err := l.value(instr.X)
	if err != nil {
		return nil, err
	}
	y, err := l.value(instr.Y)
	if err != nil {
		return nil, err
	}
	signed := isSigned(instr.X.Type())

	pick := func(s, u wp.BinaryOp) wp.BinaryOp {
		if signed {
			return s
		}
		return u
	}

	switch instr.Op {
	case token.ADD:
		return wp.NewBinaryExpr(wp.ADD, x, y), nil
	case token.SUB:
		return wp.NewBinaryExpr(wp.SUB, x, y), nil
	case token.MUL:
		return wp.NewBinaryExpr(wp.MUL, x, y), nil
	case token.QUO:
		return wp.NewBinaryExpr(pick(wp.SDIV, wp.UDIV), x, y), nil
	case token.REM:
		return wp.NewBinaryExpr(pick(wp.SREM, wp.UREM), x, y), nil
	case token.AND:
		return wp.NewBinaryExpr(wp.AND, x, y), nil
	case token.OR:
		return wp.NewBinaryExpr(wp.OR, x, y), nil
	case token.XOR:
		return wp.NewBinaryExpr(wp.XOR, x, y), nil
	case token.AND_NOT:
		return wp.NewBinaryExpr(wp.AND, x, wp.NewNotExpr(y)), nil
	case token.SHL:
		return wp.NewBinaryExpr(wp.SHL, x, shiftAmount(y, wp.ExprWidth(x))), nil
	case token.SHR:
		return wp.NewBinaryExpr(pick(wp.ASHR, wp.LSHR), x, shiftAmount(y, wp.ExprWidth(x))), nil
	case token.EQL:
		return wp.NewBinaryExpr(wp.EQ, x, y), nil
	case token.NEQ:
		return wp.NewBinaryExpr(wp.NE, x, y), nil
	case token.LSS:
		return wp.NewBinaryExpr(pick(wp.SLT, wp.ULT), x, y), nil
	case token.LEQ:
		return wp.NewBinaryExpr(pick(wp.SLE, wp.ULE), x, y), nil
	case token.GTR:
		return wp.NewBinaryExpr(pick(wp.SGT, wp.UGT), x, y), nil
	case token.GEQ:
		return wp.NewBinaryExpr(pick(wp.SGE, wp.UGE), x, y), nil
	default:
		return nil, errors.Wrapf(ErrUnsupported, "%s: operator %s", l.pos(instr), instr.Op)
	}
}

func (l *lifter) unOp(instr *ssa.UnOp) ([]wp.Stmt, error) {
	x, err := l.value(instr.X)
	if err != nil {
		return nil, err
	}

	switch instr.Op {
	case token.NOT:
		return l.assigns(instr, wp.NewBoolNotExpr(x), instr.Pos())
	case token.SUB:
		return l.assigns(instr, wp.NewBinaryExpr(wp.SUB, wp.NewConstantExpr(0, wp.ExprWidth(x)), x), instr.Pos())
	case token.XOR:
		return l.assigns(instr, wp.NewNotExpr(x), instr.Pos())

	case token.MUL:
		w, _, err := typeWidth(instr.Type())
		if err != nil {
			return nil, errors.Wrapf(err, "%s", l.pos(instr))
		}

		// Booleans are stored as a single byte.
		if w != wp.WidthBool {
			return []wp.Stmt{&wp.LoadStmt{Dst: wp.NewVarExpr(local(instr), w), Addr: x, Attrs: l.attrs(instr.Pos())}}, nil
		}
		tmp := wp.NewVarExpr(local(instr)+".byte", wp.Width8)
		return []wp.Stmt{
			&wp.LoadStmt{Dst: tmp, Addr: x, Attrs: l.attrs(instr.Pos())},
			&wp.AssignStmt{Var: wp.NewVarExpr(local(instr), w), Expr: wp.NewBinaryExpr(wp.NE, tmp, wp.NewConstantExpr8(0))},
		}, nil

	default:
		return nil, errors.Wrapf(ErrUnsupported, "%s: operator %s", l.pos(instr), instr.Op)
	}
}

func (l *lifter) convert(v ssa.Value, x ssa.Value) ([]wp.Stmt, error) {
	src, err := l.value(x)
	if err != nil {
		return nil, err
	}
	w, _, err := typeWidth(v.Type())
	if err != nil {
		return nil, errors.Wrapf(err, "%s", l.pos(v.(ssa.Instruction)))
	}
	return l.assigns(v, wp.NewCastExpr(src, w, isSigned(x.Type())), v.Pos())
}

// call copies arguments into the argument registers and results out of the
// return registers around a call statement.
func (l *lifter) call(instr *ssa.Call) ([]wp.Stmt, error) {
	common := instr.Common()
	callee := common.StaticCallee()
	if callee == nil || common.IsInvoke() {
		return nil, errors.Wrapf(ErrUnsupported, "%s: dynamic call", l.pos(instr))
	}
	arch := wp.ArchGoSSA
	if len(common.Args) > len(arch.ArgRegs) {
		return nil, errors.Wrapf(ErrUnsupported, "%s: %d arguments", l.pos(instr), len(common.Args))
	}

	var stmts []wp.Stmt
	for i, arg := range common.Args {
		value, err := l.value(arg)
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, &wp.AssignStmt{
			Var:  wp.NewVarExpr(arch.ArgRegs[i], wp.Width64),
			Expr: toReg(value, isSigned(arg.Type())),
		})
	}
	stmts = append(stmts, &wp.CallStmt{Callee: callee.Name(), Attrs: l.attrs(instr.Pos())})

	results := common.Signature().Results()
	switch {
	case results.Len() > len(arch.ReturnRegs):
		return nil, errors.Wrapf(ErrUnsupported, "%s: %d results", l.pos(instr), results.Len())
	case results.Len() == 1:
		expr, err := fromReg(arch.ReturnRegs[0], results.At(0).Type())
		if err != nil {
			return nil, errors.Wrapf(err, "%s", l.pos(instr))
		}
		stmt, err := l.assign(instr, expr, instr.Pos())
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, stmt)
	case results.Len() > 1:
		for i := 0; i < results.Len(); i++ {
			t := results.At(i).Type()
			expr, err := fromReg(arch.ReturnRegs[i], t)
			if err != nil {
				return nil, errors.Wrapf(err, "%s", l.pos(instr))
			}
			w, _, _ := typeWidth(t)
			stmts = append(stmts, &wp.AssignStmt{Var: wp.NewVarExpr(fmt.Sprintf("%s.%d", local(instr), i), w), Expr: expr})
		}
	}
	return stmts, nil
}

func (l *lifter) assign(v ssa.Value, expr wp.Expr, pos token.Pos) (wp.Stmt, error) {
	w, _, err := typeWidth(v.Type())
	if err != nil {
		return nil, err
	}
	return &wp.AssignStmt{Var: wp.NewVarExpr(local(v), w), Expr: expr, Attrs: l.attrs(pos)}, nil
}

func (l *lifter) assigns(v ssa.Value, expr wp.Expr, pos token.Pos) ([]wp.Stmt, error) {
	stmt, err := l.assign(v, expr, pos)
	if err != nil {
		return nil, err
	}
	return []wp.Stmt{stmt}, nil
}

// value returns the expression of an SSA value.
func (l *lifter) value(v ssa.Value) (wp.Expr, error) {
	switch v := v.(type) {
	case *ssa.Const:
		return l.constant(v)
	case *ssa.Global:
		addr, ok := l.globals[v]
		if !ok {
			return nil, errors.Wrapf(ErrUnsupported, "global %s outside lifted packages", v.Name())
		}
		return wp.NewConstantExpr64(addr), nil
	case *ssa.Function, *ssa.Builtin:
		return nil, errors.Wrapf(ErrUnsupported, "function value %s", v.Name())
	}

	w, _, err := typeWidth(v.Type())
	if err != nil {
		return nil, err
	}
	return wp.NewVarExpr(local(v), w), nil
}

func (l *lifter) constant(c *ssa.Const) (wp.Expr, error) {
	w, signed, err := typeWidth(c.Type())
	if err != nil {
		return nil, err
	}

	switch {
	case c.IsNil():
		return wp.NewConstantExpr(0, w), nil
	case w == wp.WidthBool:
		return wp.NewBoolConstantExpr(constant.BoolVal(c.Value)), nil
	case signed:
		return wp.NewConstantExpr(uint64(c.Int64()), w), nil
	default:
		return wp.NewConstantExpr(c.Uint64(), w), nil
	}
}

func (l *lifter) attrs(pos token.Pos) wp.Attrs {
	if !pos.IsValid() {
		return nil
	}
	return wp.Attrs{wp.AttrAddress: l.position(pos)}
}

func (l *lifter) pos(instr ssa.Instruction) string {
	if pos := instr.Pos(); pos.IsValid() {
		return l.position(pos)
	}
	return l.fn.Name()
}

func (l *lifter) position(pos token.Pos) string {
	p := l.fn.Prog.Fset.Position(pos)
	return fmt.Sprintf("%s:%d", filepath.Base(p.Filename), p.Line)
}

// typeWidth returns the width and signedness of values of type t.
func typeWidth(t types.Type) (uint, bool, error) {
	switch t := t.Underlying().(type) {
	case *types.Basic:
		switch t.Kind() {
		case types.Bool, types.UntypedBool:
			return wp.WidthBool, false, nil
		case types.Int8:
			return wp.Width8, true, nil
		case types.Uint8:
			return wp.Width8, false, nil
		case types.Int16:
			return wp.Width16, true, nil
		case types.Uint16:
			return wp.Width16, false, nil
		case types.Int32:
			return wp.Width32, true, nil
		case types.Uint32:
			return wp.Width32, false, nil
		case types.Int, types.Int64:
			return wp.Width64, true, nil
		case types.Uint, types.Uint64, types.Uintptr, types.UnsafePointer:
			return wp.Width64, false, nil
		}
	case *types.Pointer:
		return wp.Width64, false, nil
	}
	return 0, false, errors.Wrapf(ErrUnsupported, "type %s", t)
}

func isSigned(t types.Type) bool {
	_, signed, _ := typeWidth(t)
	return signed
}

// fromReg returns the value of type t held in a 64-bit register.
func fromReg(reg string, t types.Type) (wp.Expr, error) {
	w, _, err := typeWidth(t)
	if err != nil {
		return nil, err
	}
	r := wp.NewVarExpr(reg, wp.Width64)
	if w == wp.Width64 {
		return r, nil
	}
	return wp.NewExtractExpr(r, 0, w), nil
}

// toReg extends v to the width of a register.
func toReg(v wp.Expr, signed bool) wp.Expr {
	w := wp.ExprWidth(v)
	if w == wp.Width64 {
		return v
	}
	return wp.NewCastExpr(v, wp.Width64, signed && w != wp.WidthBool)
}

// shiftAmount converts a shift count to width w. Counts that do not fit
// saturate to w so the shift still yields zero or the sign.
func shiftAmount(y wp.Expr, w uint) wp.Expr {
	switch yw := wp.ExprWidth(y); {
	case yw == w:
		return y
	case yw < w:
		return wp.NewCastExpr(y, w, false)
	default:
		fits := wp.NewBinaryExpr(wp.ULT, y, wp.NewConstantExpr(uint64(w), yw))
		return wp.NewIteExpr(fits, wp.NewCastExpr(y, w, false), wp.NewConstantExpr(uint64(w), w))
	}
}

// onlyPanics returns true if v is only used as a panic value.
func onlyPanics(v ssa.Value) bool {
	refs := v.Referrers()
	if refs == nil || len(*refs) == 0 {
		return false
	}
	for _, ref := range *refs {
		if _, ok := ref.(*ssa.Panic); !ok {
			return false
		}
	}
	return true
}

func blockID(b *ssa.BasicBlock) string { return fmt.Sprintf("b%d", b.Index) }

// local returns the variable name of an SSA value. Locals are qualified by
// their function so inlined callees do not clobber the caller's values.
func local(v ssa.Value) string { return "%" + v.Parent().Name() + "." + v.Name() }

func align(n, to uint64) uint64 {
	return (n + to - 1) / to * to
}
