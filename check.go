package wp

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Solver represents a decision procedure for bit-vector and array formulas.
type Solver interface {
	// Solve returns true if the conjunction of constraints is satisfiable
	// and, if so, a model assigning every variable and every memory byte
	// read by the constraints.
	Solve(constraints []Expr) (satisfiable bool, model *Model, err error)
}

// Model represents a concrete assignment produced by a solver.
type Model struct {
	Vars   map[string]*ConstantExpr
	Memory map[string]*MemoryModel
}

// NewModel returns a new, empty model.
func NewModel() *Model {
	return &Model{
		Vars:   make(map[string]*ConstantExpr),
		Memory: make(map[string]*MemoryModel),
	}
}

// MemoryModel holds the initial contents of a memory array.
type MemoryModel struct {
	Bytes   map[uint64]byte
	Default byte
}

// Byte returns the value of the byte at addr.
func (m *MemoryModel) Byte(addr uint64) byte {
	if v, ok := m.Bytes[addr]; ok {
		return v
	}
	return m.Default
}

// Verdict represents the outcome of checking a precondition.
type Verdict int

const (
	// Proved means the negation of the precondition is unsatisfiable.
	Proved Verdict = iota + 1

	// Refuted means a counterexample was found.
	Refuted

	// Unknown means the solver could not decide the query.
	Unknown
)

// String returns the string representation of the verdict.
func (v Verdict) String() string {
	switch v {
	case Proved:
		return "UNSAT"
	case Refuted:
		return "SAT"
	case Unknown:
		return "UNKNOWN"
	default:
		return fmt.Sprintf("Verdict<%d>", v)
	}
}

// Result is the outcome of Check.
type Result struct {
	Verdict Verdict

	// Model is set if the verdict is Refuted.
	Model *Model

	// RefutedGoals lists the goals violated by the model.
	RefutedGoals []string

	// Exact is false if a path cut at the loop unrolling bound is reachable
	// under a condition that does not fold to false. A proof then only holds
	// up to the bound. Truncated paths behind symbolic conditions count as
	// reachable even when no input takes them.
	Exact bool

	// Reason describes an unknown verdict.
	Reason string
}

// Check decides whether c holds for all inputs. envs are the environments
// the constraint was built in; truncation warnings go to their loggers.
func Check(solver Solver, c Constraint, envs ...*Env) (*Result, error) {
	expr, truncated := flatten(c)
	result := &Result{Exact: !truncated}
	if truncated {
		for _, env := range envs {
			if env != nil && env.LoopBoundHit() {
				env.logger.Warn("[wp] loop unrolling bound reached, result is sound only up to the bound",
					zap.Int("unroll", env.unroll))
			}
		}
	}

	goal := NewBoolNotExpr(expr)
	sat, model, err := solver.Solve([]Expr{goal})
	if IsSolverUnknown(err) {
		result.Verdict, result.Reason = Unknown, err.Error()
		return result, nil
	} else if err != nil {
		return nil, errors.Wrap(err, "solve")
	} else if !sat {
		result.Verdict = Proved
		return result, nil
	}

	if model == nil {
		model = NewModel()
	}
	result.Verdict = Refuted
	result.Model = model
	result.RefutedGoals = RefutedGoals(c, model)
	return result, nil
}

// RegisterValue is the value of a register at entry in a counterexample.
type RegisterValue struct {
	Name  string
	Value uint64
	Width uint
}

// ExtractRegisters returns the entry values of env's registers assigned by
// model, sorted by register name.
func ExtractRegisters(model *Model, env *Env) []RegisterValue {
	var a []RegisterValue
	for _, name := range env.arch.RegisterNames() {
		reg, _ := env.Register(name)
		value, ok := model.Vars[reg.Name]
		if !ok {
			init, _ := env.InitVar(name)
			if value, ok = model.Vars[init.Name]; !ok {
				continue
			}
		}
		a = append(a, RegisterValue{Name: name, Value: value.Value, Width: reg.Width})
	}
	return a
}

// MemoryValue is the value of one byte of memory at entry in a counterexample.
type MemoryValue struct {
	Addr  uint64
	Value byte
}

// ExtractMemory returns the entry memory bytes of env assigned by model,
// sorted by address.
func ExtractMemory(model *Model, env *Env) []MemoryValue {
	mem := model.Memory[env.Memory().Name]
	if mem == nil {
		return nil
	}

	a := make([]MemoryValue, 0, len(mem.Bytes))
	for addr, value := range mem.Bytes {
		a = append(a, MemoryValue{Addr: addr, Value: value})
	}
	sort.Slice(a, func(i, j int) bool { return a[i].Addr < a[j].Addr })
	return a
}
