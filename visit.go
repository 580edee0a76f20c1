package wp

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ConditionKind specifies whether a hook condition is proved or assumed.
type ConditionKind int

const (
	// ConditionGoal must be proved.
	ConditionGoal ConditionKind = iota

	// ConditionHyp is assumed.
	ConditionHyp
)

// Condition is a formula produced by a hook at a memory access.
type Condition struct {
	Kind ConditionKind
	Name string
	Expr Expr
}

// MemAccess describes a load or store in symbolic terms.
type MemAccess struct {
	Addr     Expr
	Width    uint
	Write    bool
	Location string
}

// Hook produces expected conditions at memory accesses.
type Hook interface {
	Conditions(env *Env, access MemAccess) []Condition
}

// NullCheckHook requires every accessed address to be non-zero.
type NullCheckHook struct {
	Kind ConditionKind
}

// Conditions implements Hook.
func (h *NullCheckHook) Conditions(env *Env, access MemAccess) []Condition {
	w := ExprWidth(access.Addr)
	return []Condition{{
		Kind: h.Kind,
		Name: "non-null address at " + access.Location,
		Expr: NewBinaryExpr(NE, access.Addr, NewConstantExpr(0, w)),
	}}
}

// MemOffsetHook relates the original binary's data symbols to the same
// symbols in the modified binary when they were relocated. It is installed
// on the original side and assumes that a read inside a shared symbol sees
// the same bytes as the corresponding read in the modified binary.
type MemOffsetHook struct {
	Mod *Env
}

// Conditions implements Hook.
func (h *MemOffsetHook) Conditions(env *Env, access MemAccess) []Condition {
	if access.Write {
		return nil
	}

	var conds []Condition
	for _, sym := range env.prog.Symbols {
		other, ok := h.Mod.prog.Symbol(sym.Name)
		if !ok || other.Addr == sym.Addr || sym.Size == 0 {
			continue
		}

		addr := newZExtExpr(access.Addr, Width64)
		start := NewConstantExpr64(sym.Addr)
		end := NewConstantExpr64(sym.Addr + sym.Size)
		inRange := NewBinaryExpr(AND,
			NewBinaryExpr(ULE, start, addr),
			NewBinaryExpr(ULT, addr, end),
		)

		offset := NewConstantExpr64(other.Addr - sym.Addr)
		orig := env.Memory().Select(addr, access.Width, env.arch.LittleEndian)
		mod := h.Mod.Memory().Select(NewBinaryExpr(ADD, addr, offset), access.Width, h.Mod.arch.LittleEndian)

		conds = append(conds, Condition{
			Kind: ConditionHyp,
			Name: fmt.Sprintf("%s relocated by %#x at %s", sym.Name, other.Addr-sym.Addr, access.Location),
			Expr: NewImpliesExpr(inRange, NewBinaryExpr(EQ, orig, mod)),
		})
	}
	return conds
}

// VisitSub returns the weakest precondition of sub with respect to post.
// The result assumes each register equals its entry value, the stack
// pointer lies within the stack range and no function has been called.
func VisitSub(env *Env, post Constraint, sub *Subroutine) (Constraint, *Env, error) {
	env.logger.Debug("[wp] visit sub", zap.String("sub", sub.Name), zap.Stringer("env", env))

	v := &visitor{env: env}
	body, err := v.visitBody(sub, post)
	if err != nil {
		return nil, env, err
	}

	// Calls have not happened yet at entry.
	flags := make(Substitution)
	for _, flag := range env.CallFlags() {
		flags[flag.Name] = NewBoolConstantExpr(false)
	}
	body = NewSubst(flags, body)

	var hyps []Constraint
	for _, reg := range env.arch.RegisterNames() {
		rv, _ := env.Register(reg)
		init, _ := env.InitVar(reg)
		hyps = append(hyps, NewGoal("init "+reg, NewBinaryExpr(EQ, rv, init)))
	}
	if env.arch.HasStackPointer() {
		sp, _ := env.Register(env.arch.StackPointer)
		hyps = append(hyps, NewGoal("stack range", stackRange(env, sp)))
	}

	return NewClause(hyps, []Constraint{body}), env, nil
}

// stackRange returns base-size <= sp <= base.
func stackRange(env *Env, sp *VarExpr) Expr {
	base := NewConstantExpr(env.stackBase, sp.Width)
	lo := NewConstantExpr(env.stackBase-env.stackSize, sp.Width)
	return NewBinaryExpr(AND,
		NewBinaryExpr(ULE, lo, sp),
		NewBinaryExpr(ULE, sp, base),
	)
}

// visitor builds constraints for subroutine bodies. Inlined callees are
// visited with an increased depth.
type visitor struct {
	env   *Env
	depth int
}

// visitBody returns the weakest precondition of sub's body without the
// entry hypotheses.
func (v *visitor) visitBody(sub *Subroutine, post Constraint) (Constraint, error) {
	if err := sub.Validate(); err != nil {
		return nil, err
	}

	w := &walker{
		visitor: v,
		sub:     sub,
		post:    post,
		memo:    make(map[string]Constraint),
		blocks:  make(map[string]*Block, len(sub.Blocks)),
	}
	for _, b := range sub.Blocks {
		w.blocks[b.ID] = b
	}
	w.loops = analyzeLoops(sub.Entry, w.blocks)

	counts := loopCounts{}
	if w.loops.headers[sub.Entry] {
		counts = counts.enter(sub.Entry, 1, nil)
	}
	return w.block(sub.Entry, counts)
}

// walker computes the weakest precondition of one subroutine body.
type walker struct {
	*visitor
	sub    *Subroutine
	post   Constraint
	blocks map[string]*Block
	loops  *loops
	memo   map[string]Constraint
}

// loops describes the cycles of a control flow graph.
type loops struct {
	// Targets of the edges closing a cycle in a depth first search.
	headers map[string]bool

	// Blocks reachable from each header.
	reach map[string]map[string]bool

	// Headers dominated by each header.
	inner map[string][]string
}

func analyzeLoops(entry string, blocks map[string]*Block) *loops {
	const (
		unvisited = iota
		active
		done
	)

	l := &loops{
		headers: make(map[string]bool),
		reach:   make(map[string]map[string]bool),
		inner:   make(map[string][]string),
	}

	// Find headers and the reverse postorder of reachable blocks.
	var order []string
	state := make(map[string]int, len(blocks))
	var dfs func(id string)
	dfs = func(id string) {
		state[id] = active
		for _, succ := range Successors(blocks[id].Term) {
			switch state[succ] {
			case unvisited:
				dfs(succ)
			case active:
				l.headers[succ] = true
			}
		}
		state[id] = done
		order = append(order, id)
	}
	dfs(entry)
	if len(l.headers) == 0 {
		return l
	}
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}

	for header := range l.headers {
		seen := make(map[string]bool)
		stack := []string{header}
		for len(stack) > 0 {
			id := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			for _, succ := range Successors(blocks[id].Term) {
				if !seen[succ] {
					seen[succ] = true
					stack = append(stack, succ)
				}
			}
		}
		l.reach[header] = seen
	}

	// Iterative dominator sets over the reachable blocks.
	preds := make(map[string][]string)
	for _, id := range order {
		for _, succ := range Successors(blocks[id].Term) {
			preds[succ] = append(preds[succ], id)
		}
	}
	dom := map[string]map[string]bool{entry: {entry: true}}
	for changed := true; changed; {
		changed = false
		for _, id := range order[1:] {
			var set map[string]bool
			for _, pred := range preds[id] {
				pd, ok := dom[pred]
				if !ok {
					continue
				} else if set == nil {
					set = make(map[string]bool, len(pd)+1)
					for k := range pd {
						set[k] = true
					}
					continue
				}
				for k := range set {
					if !pd[k] {
						delete(set, k)
					}
				}
			}
			if set == nil {
				continue
			}
			set[id] = true
			if prev, ok := dom[id]; !ok || len(prev) != len(set) {
				dom[id] = set
				changed = true
			}
		}
	}

	for h := range l.headers {
		for other := range l.headers {
			if other != h && dom[other][h] {
				l.inner[h] = append(l.inner[h], other)
			}
		}
	}
	return l
}

// loopCounts tracks how many times each loop header was entered during the
// current execution of its loop.
type loopCounts map[string]int

// enter returns a copy of c with header set to n and the counts of the
// loops nested in header cleared.
func (c loopCounts) enter(header string, n int, inner []string) loopCounts {
	other := make(loopCounts, len(c)+1)
	for k, v := range c {
		other[k] = v
	}
	for _, k := range inner {
		delete(other, k)
	}
	other[header] = n
	return other
}

// key returns a deterministic representation of c.
func (c loopCounts) key() string {
	if len(c) == 0 {
		return ""
	}
	headers := make([]string, 0, len(c))
	for k := range c {
		headers = append(headers, k)
	}
	sort.Strings(headers)

	var buf strings.Builder
	for _, k := range headers {
		buf.WriteString("|")
		buf.WriteString(k)
		buf.WriteString("=")
		buf.WriteString(strconv.Itoa(c[k]))
	}
	return buf.String()
}

func (w *walker) block(id string, counts loopCounts) (Constraint, error) {
	key := id + counts.key()
	if c, ok := w.memo[key]; ok {
		return c, nil
	}

	b := w.blocks[id]

	var c Constraint
	switch term := b.Term.(type) {
	case *ReturnTerm:
		c = w.post
	case *JumpTerm:
		var err error
		if c, err = w.follow(id, term.Target, counts); err != nil {
			return nil, err
		}
	case *BranchTerm:
		then, err := w.follow(id, term.Then, counts)
		if err != nil {
			return nil, err
		}
		els, err := w.follow(id, term.Else, counts)
		if err != nil {
			return nil, err
		}
		c = NewITE("branch at "+location(term.Attrs, id), w.env.Translate(term.Cond), then, els)
	default:
		return nil, errors.Wrapf(ErrMalformedCFG, "block %q: invalid terminator %T", id, term)
	}

	for i := len(b.Stmts) - 1; i >= 0; i-- {
		var err error
		if c, err = w.stmt(b.Stmts[i], c); err != nil {
			return nil, err
		}
	}

	w.memo[key] = c
	return c, nil
}

// follow returns the constraint at the target of an edge. Loop headers may
// be entered at most unroll+1 times per entry into the loop; paths beyond
// that are not modeled.
func (w *walker) follow(from, to string, counts loopCounts) (Constraint, error) {
	if !w.loops.headers[to] {
		return w.block(to, counts)
	}

	// An edge from a block reachable from the header stays in the loop.
	n := 1
	if w.loops.reach[to][from] {
		n = counts[to] + 1
	}
	if n > w.env.unroll+1 {
		w.env.markLoopBound()
		w.env.logger.Debug("[wp] loop bound reached", zap.String("sub", w.sub.Name), zap.String("header", to))
		return NewTruncatedGoal("loop bound reached at " + to), nil
	}
	return w.block(to, counts.enter(to, n, w.loops.inner[to]))
}

func (w *walker) stmt(stmt Stmt, post Constraint) (Constraint, error) {
	env := w.env

	switch stmt := stmt.(type) {
	case *AssignStmt:
		v := env.Var(stmt.Var.Name, stmt.Var.Width)
		return NewSubst(Substitution{v.Name: env.Translate(stmt.Expr)}, post), nil

	case *LoadStmt:
		addr := env.Translate(stmt.Addr)
		dst := env.Var(stmt.Dst.Name, stmt.Dst.Width)
		value := env.Memory().Select(addr, dst.Width, env.arch.LittleEndian)
		c := NewSubst(Substitution{dst.Name: value}, post)
		return w.hooks(MemAccess{Addr: addr, Width: dst.Width, Location: location(stmt.Attrs, stmt.String())}, c), nil

	case *StoreStmt:
		addr := env.Translate(stmt.Addr)
		value := env.Translate(stmt.Value)
		mem := env.Memory()
		c := NewSubst(Substitution{mem.Name: mem.Store(addr, value, env.arch.LittleEndian)}, post)
		return w.hooks(MemAccess{Addr: addr, Width: ExprWidth(value), Write: true, Location: location(stmt.Attrs, stmt.String())}, c), nil

	case *CallStmt:
		flag := env.CallFlag(stmt.Callee)
		return w.resolve(stmt, NewSubst(Substitution{flag.Name: NewBoolConstantExpr(true)}, post))

	default:
		return nil, errors.Errorf("wp: invalid statement type: %T", stmt)
	}
}

// hooks wraps c with the conditions produced by the environment's hooks.
func (w *walker) hooks(access MemAccess, c Constraint) Constraint {
	var hyps, goals []Constraint
	for _, h := range w.env.hooks {
		for _, cond := range h.Conditions(w.env, access) {
			switch cond.Kind {
			case ConditionHyp:
				hyps = append(hyps, NewGoal(cond.Name, cond.Expr))
			default:
				goals = append(goals, NewGoal(cond.Name, cond.Expr))
			}
		}
	}
	if len(hyps) == 0 && len(goals) == 0 {
		return c
	}
	return NewClause(hyps, append(goals, c))
}
