package wp

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// SpecKind identifies the effect of a function spec.
type SpecKind int

const (
	// SpecAssume assumes the first argument is non-zero.
	SpecAssume SpecKind = iota + 1

	// SpecNondet returns an unconstrained value in the return registers.
	SpecNondet

	// SpecError makes reaching the call a violation.
	SpecError

	// SpecInline replaces the call with the callee's body.
	SpecInline

	// SpecChaosCallerSaved clobbers every caller-saved register.
	SpecChaosCallerSaved

	// SpecChaosReturn clobbers the return registers.
	SpecChaosReturn

	// SpecEmpty treats the call as a no-op.
	SpecEmpty
)

var specKinds = [...]string{
	SpecAssume:           "assume",
	SpecNondet:           "nondet",
	SpecError:            "error",
	SpecInline:           "inline",
	SpecChaosCallerSaved: "chaos-caller-saved",
	SpecChaosReturn:      "chaos-return",
	SpecEmpty:            "empty",
}

// String returns the string representation of the kind.
func (k SpecKind) String() string {
	if k > 0 && int(k) < len(specKinds) {
		return specKinds[k]
	}
	return fmt.Sprintf("SpecKind<%d>", k)
}

// Verifier intrinsic names.
var (
	AssumeFuncs = []string{"__VERIFIER_assume"}
	ErrorFuncs  = []string{"__VERIFIER_error", "__assert_fail", "abort"}
)

// NondetPrefix is the name prefix of intrinsics returning arbitrary values.
const NondetPrefix = "__VERIFIER_nondet_"

// FunctionSpec describes how a call site is summarized. Specs are tried in
// order and only the first matching spec is applied.
type FunctionSpec struct {
	Name string
	Kind SpecKind

	// Match overrides the default predicate of the kind when set.
	Match func(callee string, arch *Arch) bool
}

// DefaultSpecs returns the built-in spec chain.
func DefaultSpecs() []FunctionSpec {
	return []FunctionSpec{
		{Name: "verifier-assume", Kind: SpecAssume},
		{Name: "verifier-nondet", Kind: SpecNondet},
		{Name: "verifier-error", Kind: SpecError},
		{Name: "inline", Kind: SpecInline},
		{Name: "chaos-caller-saved", Kind: SpecChaosCallerSaved},
		{Name: "chaos-return", Kind: SpecChaosReturn},
		{Name: "default", Kind: SpecEmpty},
	}
}

// NewSpecChain returns specs terminated by the catch-all empty spec.
func NewSpecChain(specs ...FunctionSpec) []FunctionSpec {
	if n := len(specs); n > 0 && specs[n-1].Kind == SpecEmpty && specs[n-1].Match == nil {
		return specs
	}
	return append(specs[:len(specs):len(specs)], FunctionSpec{Name: "default", Kind: SpecEmpty})
}

// matches returns true if the spec applies to a call of callee.
func (spec *FunctionSpec) matches(env *Env, callee string, depth int) bool {
	if spec.Match != nil {
		return spec.Match(callee, env.arch)
	}

	arch := env.arch
	switch spec.Kind {
	case SpecAssume:
		return contains(AssumeFuncs, callee) && len(arch.ArgRegs) > 0
	case SpecNondet:
		return strings.HasPrefix(callee, NondetPrefix) && len(arch.ReturnRegs) > 0
	case SpecError:
		return contains(ErrorFuncs, callee)
	case SpecInline:
		return env.ShouldInline(callee) && env.prog.Sub(callee) != nil && depth < env.unroll
	case SpecChaosCallerSaved:
		return len(arch.CallerSaved) > 0
	case SpecChaosReturn:
		return len(arch.ReturnRegs) > 0
	case SpecEmpty:
		return true
	default:
		return false
	}
}

// Resolve applies the first matching spec of env's chain to a call site
// with post as the obligation after the call.
func Resolve(env *Env, call *CallStmt, post Constraint) (Constraint, error) {
	return (&visitor{env: env}).resolve(call, post)
}

func (v *visitor) resolve(call *CallStmt, post Constraint) (Constraint, error) {
	env := v.env
	for i := range env.specs {
		spec := &env.specs[i]
		if !spec.matches(env, call.Callee, v.depth) {
			continue
		}

		env.logger.Debug("[wp] resolve call",
			zap.String("callee", call.Callee),
			zap.String("spec", spec.Name),
			zap.Stringer("kind", spec.Kind),
		)
		return v.applySpec(spec, call, post)
	}
	return nil, errors.Wrapf(ErrNoFunctionSpec, "call to %s", call.Callee)
}

func (v *visitor) applySpec(spec *FunctionSpec, call *CallStmt, post Constraint) (Constraint, error) {
	env := v.env
	arch := env.arch

	switch spec.Kind {
	case SpecAssume:
		arg, _ := env.Register(arch.ArgRegs[0])
		hyp := NewGoal("assume at "+location(call.Attrs, call.Callee), NewBinaryExpr(NE, arg, NewConstantExpr(0, arg.Width)))
		return NewClause([]Constraint{hyp}, []Constraint{post}), nil

	case SpecNondet:
		s := make(Substitution)
		for _, name := range arch.ReturnRegs {
			reg, _ := env.Register(name)
			s[reg.Name] = env.FreshVar(call.Callee+"_"+name, reg.Width)
		}
		return NewSubst(s, post), nil

	case SpecError:
		return NewGoal("call to "+call.Callee+" at "+location(call.Attrs, call.Callee), NewBoolConstantExpr(false)), nil

	case SpecInline:
		callee := env.prog.Sub(call.Callee)
		inner := &visitor{env: env, depth: v.depth + 1}
		return inner.visitBody(callee, post)

	case SpecChaosCallerSaved:
		return NewSubst(v.chaos(call.Callee, arch.CallerSaved), post), nil

	case SpecChaosReturn:
		return NewSubst(v.chaos(call.Callee, arch.ReturnRegs), post), nil

	case SpecEmpty:
		return post, nil

	default:
		return nil, errors.Errorf("wp: invalid spec kind: %s", spec.Kind)
	}
}

// chaos returns a substitution assigning each register an unknown result
// of calling callee. If the environment uses input registers, the result is
// a function of the argument registers so equal inputs give equal outputs.
func (v *visitor) chaos(callee string, regs []string) Substitution {
	env := v.env

	var args []Expr
	if env.useInputRegs {
		for _, name := range env.arch.ArgRegs {
			reg, _ := env.Register(name)
			args = append(args, reg)
		}
	}

	s := make(Substitution, len(regs))
	for _, name := range regs {
		reg, ok := env.Register(name)
		if !ok {
			continue
		}
		if env.useInputRegs {
			s[reg.Name] = NewApplyExpr(callee+"_"+name, args, reg.Width)
		} else {
			s[reg.Name] = env.FreshVar(callee+"_"+name, reg.Width)
		}
	}
	return s
}

// location returns the address attribute, if available, or def.
func location(attrs Attrs, def string) string {
	if addr, ok := attrs[AttrAddress]; ok {
		return addr
	}
	return def
}

func contains(a []string, v string) bool {
	for _, s := range a {
		if s == v {
			return true
		}
	}
	return false
}
