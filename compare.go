package wp

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Name suffixes users write to refer to either side of a comparison.
const (
	OrigSuffix = "_orig"
	ModSuffix  = "_mod"
)

// Side is one subroutine together with the environment it is analyzed in.
type Side struct {
	Env *Env
	Sub *Subroutine
}

// Half generates one half of a comparator from both sides.
type Half struct {
	Name string
	Gen  func(orig, mod Side) (Constraint, error)
}

// Comparator pairs a hypothesis about both sides' inputs with a
// postcondition relating their outputs. Either half may be nil.
type Comparator struct {
	Name string
	Hyp  func(orig, mod Side) (Constraint, error)
	Post func(orig, mod Side) (Constraint, error)

	// Supported reports why the comparator cannot run on the given sides.
	// Returns an empty string if supported.
	Supported func(orig, mod Side) string
}

// Properties selects the comparators of a comparative run.
type Properties struct {
	CompareStackPointer bool
	CompareFuncCalls    bool
	ComparePostRegs     []string
	Precond             string
	Postcond            string

	// MemOffset is set when data symbols were relocated and related by a
	// MemOffsetHook. Memory is then not assumed equal at entry.
	MemOffset bool
}

// StackPointerComparator assumes both stack pointers are equal at entry
// and requires them to be equal at exit.
func StackPointerComparator() Comparator {
	eq := func(orig, mod Side) (Constraint, error) {
		sp1, _ := orig.Env.Register(orig.Env.arch.StackPointer)
		sp2, _ := mod.Env.Register(mod.Env.arch.StackPointer)
		return NewGoal("stack pointers equal", NewBinaryExpr(EQ, sp1, sp2)), nil
	}
	return Comparator{
		Name: "stack-pointer",
		Hyp:  eq,
		Post: eq,
		Supported: func(orig, mod Side) string {
			for _, side := range []Side{orig, mod} {
				if !side.Env.arch.HasStackPointer() {
					return fmt.Sprintf("architecture %s has no stack pointer", side.Env.arch.Name)
				}
			}
			if orig.Env.arch.Registers[orig.Env.arch.StackPointer] != mod.Env.arch.Registers[mod.Env.arch.StackPointer] {
				return "stack pointer widths differ"
			}
			return ""
		},
	}
}

// FuncCallsComparator requires the modified subroutine to only call
// functions the original subroutine calls.
func FuncCallsComparator() Comparator {
	return Comparator{
		Name: "func-calls",
		Post: func(orig, mod Side) (Constraint, error) {
			var goals []Constraint
			for _, callee := range mergeStrings(orig.Sub.Callees(), mod.Sub.Callees()) {
				expr := NewImpliesExpr(mod.Env.CallFlag(callee), orig.Env.CallFlag(callee))
				goals = append(goals, NewGoal("call to "+callee+" preserved", expr))
			}
			if len(goals) == 0 {
				return nil, nil
			}
			return NewConjunction(goals...), nil
		},
	}
}

// RegsComparator assumes every register is equal at entry and requires
// regs to be equal at exit. If sameMemory is set both memories are also
// assumed equal at entry.
func RegsComparator(regs []string, sameMemory bool) Comparator {
	return Comparator{
		Name: "post-regs",
		Hyp: func(orig, mod Side) (Constraint, error) {
			var goals []Constraint
			for _, name := range orig.Env.arch.RegisterNames() {
				r1, _ := orig.Env.Register(name)
				if r2, ok := mod.Env.Register(name); ok && r1.Width == r2.Width {
					goals = append(goals, NewGoal(name+" equal at entry", NewBinaryExpr(EQ, r1, r2)))
				}
			}
			if sameMemory {
				goals = append(goals, NewGoal("memory equal at entry", NewArrayEqExpr(orig.Env.Memory(), mod.Env.Memory())))
			}
			return NewConjunction(goals...), nil
		},
		Post: func(orig, mod Side) (Constraint, error) {
			var goals []Constraint
			for _, name := range regs {
				r1, ok1 := orig.Env.Register(name)
				r2, ok2 := mod.Env.Register(name)
				if !ok1 || !ok2 {
					return nil, errors.Errorf("unknown register: %s", name)
				}
				goals = append(goals, NewGoal(name+" equal at exit", NewBinaryExpr(EQ, r1, r2)))
			}
			return NewConjunction(goals...), nil
		},
		Supported: func(orig, mod Side) string {
			for _, name := range regs {
				if _, ok := orig.Env.arch.Registers[name]; !ok {
					return fmt.Sprintf("register %s not defined by %s", name, orig.Env.arch.Name)
				} else if _, ok := mod.Env.arch.Registers[name]; !ok {
					return fmt.Sprintf("register %s not defined by %s", name, mod.Env.arch.Name)
				}
			}
			return ""
		},
	}
}

// SMTComparator uses user supplied SMT-LIB text as hypothesis and
// postcondition. Symbols ending in _orig and _mod refer to each side.
func SMTComparator(precond, postcond string) Comparator {
	parse := func(name, text string) func(orig, mod Side) (Constraint, error) {
		if strings.TrimSpace(text) == "" {
			return nil
		}
		return func(orig, mod Side) (Constraint, error) {
			expr, err := ParseSMTLIB(text, CompareResolver(orig.Env, mod.Env))
			if err != nil {
				return nil, errors.Wrapf(err, "%s", name)
			}
			return NewGoal(name, expr), nil
		}
	}
	return Comparator{
		Name: "smtlib",
		Hyp:  parse("user precondition", precond),
		Post: parse("user postcondition", postcond),
	}
}

// NewComparators returns the hypothesis and postcondition halves of the
// comparators selected by props. A comparator that cannot run on the given
// sides is dropped and reported as a warning. If no postcondition is
// selected a trivial one is returned.
func NewComparators(props Properties, orig, mod Side) (hyps, posts []Half, warnings []string, err error) {
	var comparators []Comparator
	if props.CompareStackPointer {
		comparators = append(comparators, StackPointerComparator())
	}
	if props.CompareFuncCalls {
		comparators = append(comparators, FuncCallsComparator())
	}
	if len(props.ComparePostRegs) > 0 {
		comparators = append(comparators, RegsComparator(props.ComparePostRegs, !props.MemOffset))
	}
	if props.Precond != "" || props.Postcond != "" {
		// Parse eagerly so malformed text is reported before analysis.
		r := CompareResolver(orig.Env, mod.Env)
		for _, text := range []string{props.Precond, props.Postcond} {
			if text == "" {
				continue
			} else if _, err := ParseSMTLIB(text, r); err != nil {
				return nil, nil, nil, err
			}
		}
		comparators = append(comparators, SMTComparator(props.Precond, props.Postcond))
	}

	logger := orig.Env.logger
	for _, c := range comparators {
		if c.Supported != nil {
			if reason := c.Supported(orig, mod); reason != "" {
				msg := fmt.Sprintf("comparator %s skipped: %s", c.Name, reason)
				logger.Warn("[wp] "+msg, zap.String("comparator", c.Name))
				warnings = append(warnings, msg)
				continue
			}
		}
		if c.Hyp != nil {
			hyps = append(hyps, Half{Name: c.Name, Gen: c.Hyp})
		}
		if c.Post != nil {
			posts = append(posts, Half{Name: c.Name, Gen: c.Post})
		}
	}

	if len(posts) == 0 {
		posts = append(posts, TrivialPost())
	}
	return hyps, posts, warnings, nil
}

// TrivialPost returns a postcondition that makes no claim beyond both
// sides producing a well-formed precondition.
func TrivialPost() Half {
	return Half{
		Name: "trivial",
		Gen: func(orig, mod Side) (Constraint, error) {
			return NewTrivialGoal("trivial postcondition"), nil
		},
	}
}

// CompareSubs returns the combined precondition of both sides. The
// postconditions are pushed backward through the modified subroutine and
// then through the original subroutine, and the result is guarded by the
// hypotheses. The environments must share a Namer and one of them must be
// freshened.
func CompareSubs(posts, hyps []Half, orig, mod Side) (Constraint, *Env, *Env, error) {
	post, err := generate(posts, orig, mod)
	if err != nil {
		return nil, orig.Env, mod.Env, err
	}

	preMod, env2, err := VisitSub(mod.Env, post, mod.Sub)
	if err != nil {
		return nil, orig.Env, mod.Env, errors.Wrapf(err, "modified %s", mod.Sub.Name)
	}

	preCombined, env1, err := VisitSub(orig.Env, preMod, orig.Sub)
	if err != nil {
		return nil, orig.Env, mod.Env, errors.Wrapf(err, "original %s", orig.Sub.Name)
	}

	var hypList []Constraint
	for _, h := range hyps {
		c, err := h.Gen(Side{env1, orig.Sub}, Side{env2, mod.Sub})
		if err != nil {
			return nil, env1, env2, errors.Wrapf(err, "hypothesis %s", h.Name)
		} else if c != nil {
			hypList = append(hypList, c)
		}
	}

	c := NewClause(hypList, []Constraint{preCombined})
	LogStats(env1.logger, c)
	return c, env1, env2, nil
}

func generate(halves []Half, orig, mod Side) (Constraint, error) {
	var a []Constraint
	for _, h := range halves {
		c, err := h.Gen(orig, mod)
		if err != nil {
			return nil, errors.Wrapf(err, "postcondition %s", h.Name)
		} else if c != nil {
			a = append(a, c)
		}
	}
	if len(a) == 0 {
		return NewTrivialGoal("trivial postcondition"), nil
	}
	return NewConjunction(a...), nil
}

// SingleSub returns the precondition of sub for user supplied SMT-LIB
// precondition and postcondition text. Empty text is treated as true.
func SingleSub(env *Env, sub *Subroutine, precond, postcond string) (Constraint, *Env, error) {
	r := SingleResolver(env)

	var post Constraint = NewTrivialGoal("trivial postcondition")
	if strings.TrimSpace(postcond) != "" {
		expr, err := ParseSMTLIB(postcond, r)
		if err != nil {
			return nil, env, errors.Wrap(err, "user postcondition")
		}
		post = NewGoal("user postcondition", expr)
	}

	var hyps []Constraint
	if strings.TrimSpace(precond) != "" {
		expr, err := ParseSMTLIB(precond, r)
		if err != nil {
			return nil, env, errors.Wrap(err, "user precondition")
		}
		hyps = append(hyps, NewGoal("user precondition", expr))
	}

	pre, env, err := VisitSub(env, post, sub)
	if err != nil {
		return nil, env, err
	}

	c := NewClause(hyps, []Constraint{pre})
	LogStats(env.logger, c)
	return c, env, nil
}

// NullDerefHooks returns the hooks checking memory accesses for null
// addresses. In comparative mode the original's accesses are assumed
// non-null and the modified's are proved, so only new null dereferences
// are reported.
func NullDerefHooks() (orig, mod Hook) {
	return &NullCheckHook{Kind: ConditionHyp}, &NullCheckHook{Kind: ConditionGoal}
}

// SingleResolver resolves symbols to the variables of one environment.
func SingleResolver(env *Env) Resolver {
	return func(name string) (Binding, bool) {
		return resolveSymbol(env, name)
	}
}

// CompareResolver resolves symbols ending in _orig or _mod to the
// variables of the corresponding environment.
func CompareResolver(orig, mod *Env) Resolver {
	return func(name string) (Binding, bool) {
		switch {
		case strings.HasSuffix(name, OrigSuffix):
			return resolveSymbol(orig, strings.TrimSuffix(name, OrigSuffix))
		case strings.HasSuffix(name, ModSuffix):
			return resolveSymbol(mod, strings.TrimSuffix(name, ModSuffix))
		default:
			return nil, false
		}
	}
}

// resolveSymbol resolves a register, an init_ register or the memory.
func resolveSymbol(env *Env, name string) (Binding, bool) {
	if name == MemoryName {
		return env.Memory(), true
	} else if v, ok := env.Register(name); ok {
		return v, true
	} else if strings.HasPrefix(name, "init_") {
		if v, ok := env.InitVar(strings.TrimPrefix(name, "init_")); ok {
			return v, true
		}
	}
	return nil, false
}

func mergeStrings(a, b []string) []string {
	m := make(map[string]struct{}, len(a)+len(b))
	for _, s := range a {
		m[s] = struct{}{}
	}
	for _, s := range b {
		m[s] = struct{}{}
	}
	other := make([]string, 0, len(m))
	for s := range m {
		other = append(other, s)
	}
	sort.Strings(other)
	return other
}
