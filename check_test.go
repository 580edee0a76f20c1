package wp_test

import (
	"testing"

	"github.com/benbjohnson/wp"
	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
)

// ConstSolver decides formulas that simplify to a constant and reports
// everything else as unknown.
type ConstSolver struct{}

func (ConstSolver) Solve(constraints []wp.Expr) (bool, *wp.Model, error) {
	expr := wp.NewAndExpr(constraints...)
	switch {
	case wp.IsConstantTrue(expr):
		return true, wp.NewModel(), nil
	case wp.IsConstantFalse(expr):
		return false, nil, nil
	default:
		return false, nil, errors.Wrap(wp.ErrSolverUnknown, "not constant")
	}
}

// ModelSolver reports every formula satisfiable by a fixed model.
type ModelSolver struct {
	Model *wp.Model
	Err   error
}

func (s *ModelSolver) Solve(constraints []wp.Expr) (bool, *wp.Model, error) {
	if s.Err != nil {
		return false, nil, s.Err
	}
	return true, s.Model, nil
}

func TestCheck(t *testing.T) {
	x := wp.NewVarExpr("x", 32)

	t.Run("Proved", func(t *testing.T) {
		c := wp.NewSubst(wp.Substitution{"x": wp.NewConstantExpr32(1)},
			wp.NewGoal("x is one", wp.NewBinaryExpr(wp.EQ, x, wp.NewConstantExpr32(1))))
		result, err := wp.Check(ConstSolver{}, c)
		if err != nil {
			t.Fatal(err)
		} else if diff := cmp.Diff(&wp.Result{Verdict: wp.Proved, Exact: true}, result); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("Refuted", func(t *testing.T) {
		model := wp.NewModel()
		model.Vars["x"] = wp.NewConstantExpr32(2)

		c := wp.NewGoal("x is one", wp.NewBinaryExpr(wp.EQ, x, wp.NewConstantExpr32(1)))
		result, err := wp.Check(&ModelSolver{Model: model}, c)
		if err != nil {
			t.Fatal(err)
		} else if diff := cmp.Diff(&wp.Result{
			Verdict:      wp.Refuted,
			Model:        model,
			RefutedGoals: []string{"x is one"},
			Exact:        true,
		}, result); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("Unknown", func(t *testing.T) {
		c := wp.NewGoal("x is one", wp.NewBinaryExpr(wp.EQ, x, wp.NewConstantExpr32(1)))
		result, err := wp.Check(&ModelSolver{Err: wp.ErrSolverTimeout}, c)
		if err != nil {
			t.Fatal(err)
		} else if result.Verdict != wp.Unknown {
			t.Fatalf("unexpected verdict: %s", result.Verdict)
		} else if result.Reason != "Solver timeout" {
			t.Fatalf("unexpected reason: %s", result.Reason)
		}
	})

	t.Run("ErrSolver", func(t *testing.T) {
		c := wp.NewTrivialGoal("post")
		if _, err := wp.Check(&ModelSolver{Err: errors.New("marker")}, c); err == nil || err.Error() != "solve: marker" {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("Inexact", func(t *testing.T) {
		sub := MustNewSub(t, "f", &wp.Block{ID: "b0", Term: &wp.JumpTerm{Target: "b0"}})
		env := MustNewEnv(t, NewProgram(sub))
		c, env, err := wp.VisitSub(env, wp.NewTrivialGoal("post"), sub)
		if err != nil {
			t.Fatal(err)
		}
		if result, err := wp.Check(ConstSolver{}, c, env); err != nil {
			t.Fatal(err)
		} else if result.Verdict != wp.Proved || result.Exact {
			t.Fatalf("unexpected result: %s exact=%v", result.Verdict, result.Exact)
		}
	})
}

func TestVerdict_String(t *testing.T) {
	for v, s := range map[wp.Verdict]string{
		wp.Proved:       "UNSAT",
		wp.Refuted:      "SAT",
		wp.Unknown:      "UNKNOWN",
		wp.Verdict(100): "Verdict<100>",
	} {
		if got := v.String(); got != s {
			t.Fatalf("unexpected string: %s", got)
		}
	}
}

func TestIsSolverUnknown(t *testing.T) {
	if !wp.IsSolverUnknown(errors.Wrap(wp.ErrSolverResourceLimit, "z3")) {
		t.Fatal("expected unknown")
	} else if wp.IsSolverUnknown(errors.New("marker")) {
		t.Fatal("unexpected unknown")
	} else if wp.IsSolverUnknown(nil) {
		t.Fatal("unexpected unknown")
	}
}

func TestExtractRegisters(t *testing.T) {
	env := MustNewEnv(t, NewProgram())
	model := wp.NewModel()
	model.Vars["arg0"] = wp.NewConstantExpr64(10)
	model.Vars["init_ret0"] = wp.NewConstantExpr64(20)

	if diff := cmp.Diff([]wp.RegisterValue{
		{Name: "arg0", Value: 10, Width: 64},
		{Name: "ret0", Value: 20, Width: 64},
	}, wp.ExtractRegisters(model, env)); diff != "" {
		t.Fatal(diff)
	}
}

func TestExtractMemory(t *testing.T) {
	env := MustNewEnv(t, NewProgram())
	model := wp.NewModel()
	if got := wp.ExtractMemory(model, env); got != nil {
		t.Fatalf("unexpected memory: %v", got)
	}

	model.Memory["mem"] = &wp.MemoryModel{Bytes: map[uint64]byte{0x20: 2, 0x10: 1}}
	if diff := cmp.Diff([]wp.MemoryValue{
		{Addr: 0x10, Value: 1},
		{Addr: 0x20, Value: 2},
	}, wp.ExtractMemory(model, env)); diff != "" {
		t.Fatal(diff)
	}
}
