package wp_test

import (
	"testing"

	"github.com/benbjohnson/wp"
	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// MustNewSides returns the original and modified sides of a comparison.
// Both environments share a namer and the original is freshened.
func MustNewSides(tb testing.TB, orig, mod *wp.Subroutine, opts ...wp.EnvOption) (wp.Side, wp.Side) {
	tb.Helper()
	namer := wp.NewNamer()
	env2 := MustNewEnv(tb, NewProgram(mod), append(opts, wp.WithNamer(namer))...)
	env1 := MustNewEnv(tb, NewProgram(orig), append(opts, wp.WithNamer(namer), wp.WithFreshSuffix(wp.OrigSuffix))...)
	env1, _ = wp.Freshen(env1)
	return wp.Side{Env: env1, Sub: orig}, wp.Side{Env: env2, Sub: mod}
}

// MustCompare returns the result of comparing orig and mod under props.
func MustCompare(tb testing.TB, solver wp.Solver, orig, mod *wp.Subroutine, props wp.Properties) *wp.Result {
	tb.Helper()
	side1, side2 := MustNewSides(tb, orig, mod)
	hyps, posts, _, err := wp.NewComparators(props, side1, side2)
	if err != nil {
		tb.Fatal(err)
	}
	c, env1, env2, err := wp.CompareSubs(posts, hyps, side1, side2)
	if err != nil {
		tb.Fatal(err)
	}
	result, err := wp.Check(solver, c, env1, env2)
	if err != nil {
		tb.Fatal(err)
	}
	return result
}

func returning(v uint64) *wp.Subroutine {
	return &wp.Subroutine{Name: "f", Entry: "b0", Blocks: []*wp.Block{{
		ID:    "b0",
		Stmts: []wp.Stmt{assign("ret0", wp.NewConstantExpr64(v))},
		Term:  &wp.ReturnTerm{},
	}}}
}

func calling(callees ...string) *wp.Subroutine {
	var stmts []wp.Stmt
	for _, callee := range callees {
		stmts = append(stmts, &wp.CallStmt{Callee: callee})
	}
	return &wp.Subroutine{Name: "f", Entry: "b0", Blocks: []*wp.Block{{ID: "b0", Stmts: stmts, Term: &wp.ReturnTerm{}}}}
}

func TestCompareSubs(t *testing.T) {
	t.Run("PostRegs", func(t *testing.T) {
		result := MustCompare(t, ConstSolver{}, returning(7), returning(7), wp.Properties{ComparePostRegs: []string{"ret0"}})
		if result.Verdict != wp.Proved || !result.Exact {
			t.Fatalf("unexpected result: %s exact=%v", result.Verdict, result.Exact)
		}
	})

	t.Run("PostRegsDiffer", func(t *testing.T) {
		result := MustCompare(t, &ModelSolver{Model: wp.NewModel()}, returning(7), returning(8), wp.Properties{ComparePostRegs: []string{"ret0"}})
		if result.Verdict != wp.Refuted {
			t.Fatalf("unexpected verdict: %s", result.Verdict)
		} else if diff := cmp.Diff([]string{"ret0 equal at exit"}, result.RefutedGoals); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("FuncCalls", func(t *testing.T) {
		result := MustCompare(t, ConstSolver{}, calling("g"), calling("g"), wp.Properties{CompareFuncCalls: true})
		if result.Verdict != wp.Proved {
			t.Fatalf("unexpected verdict: %s", result.Verdict)
		}
	})

	t.Run("FuncCallsNew", func(t *testing.T) {
		result := MustCompare(t, &ModelSolver{Model: wp.NewModel()}, calling("g"), calling("g", "h"), wp.Properties{CompareFuncCalls: true})
		if result.Verdict != wp.Refuted {
			t.Fatalf("unexpected verdict: %s", result.Verdict)
		} else if diff := cmp.Diff([]string{"call to h preserved"}, result.RefutedGoals); diff != "" {
			t.Fatal(diff)
		}
	})

	// Dropping a call in the modified subroutine is allowed.
	t.Run("FuncCallsRemoved", func(t *testing.T) {
		result := MustCompare(t, ConstSolver{}, calling("g", "h"), calling("g"), wp.Properties{CompareFuncCalls: true})
		if result.Verdict != wp.Proved {
			t.Fatalf("unexpected verdict: %s", result.Verdict)
		}
	})

	t.Run("Trivial", func(t *testing.T) {
		result := MustCompare(t, ConstSolver{}, returning(7), returning(8), wp.Properties{})
		if result.Verdict != wp.Proved {
			t.Fatalf("unexpected verdict: %s", result.Verdict)
		}
	})

	t.Run("UserPostcondition", func(t *testing.T) {
		props := wp.Properties{Postcond: "(assert (= ret0_orig (bvsub ret0_mod #x0000000000000001)))"}
		if result := MustCompare(t, ConstSolver{}, returning(7), returning(8), props); result.Verdict != wp.Proved {
			t.Fatalf("unexpected verdict: %s", result.Verdict)
		}
	})

	t.Run("Inexact", func(t *testing.T) {
		loop := &wp.Subroutine{Name: "f", Entry: "b0", Blocks: []*wp.Block{{ID: "b0", Term: &wp.JumpTerm{Target: "b0"}}}}
		result := MustCompare(t, ConstSolver{}, loop, returning(8), wp.Properties{})
		if result.Verdict != wp.Proved || result.Exact {
			t.Fatalf("unexpected result: %s exact=%v", result.Verdict, result.Exact)
		}
	})
}

func TestNewComparators(t *testing.T) {
	t.Run("Trivial", func(t *testing.T) {
		orig, mod := MustNewSides(t, returning(1), returning(1))
		hyps, posts, warnings, err := wp.NewComparators(wp.Properties{}, orig, mod)
		if err != nil {
			t.Fatal(err)
		} else if len(hyps) != 0 || len(warnings) != 0 {
			t.Fatalf("unexpected comparators: hyps=%d warnings=%v", len(hyps), warnings)
		} else if len(posts) != 1 || posts[0].Name != "trivial" {
			t.Fatalf("unexpected posts: %#v", posts)
		}
	})

	t.Run("StackPointerUnsupported", func(t *testing.T) {
		core, logs := observer.New(zap.WarnLevel)
		orig, mod := MustNewSides(t, returning(1), returning(1), wp.WithLogger(zap.New(core)))
		hyps, posts, warnings, err := wp.NewComparators(wp.Properties{CompareStackPointer: true}, orig, mod)
		if err != nil {
			t.Fatal(err)
		} else if len(hyps) != 0 {
			t.Fatalf("unexpected hyps: %d", len(hyps))
		} else if len(posts) != 1 || posts[0].Name != "trivial" {
			t.Fatalf("unexpected posts: %#v", posts)
		} else if diff := cmp.Diff([]string{"comparator stack-pointer skipped: architecture go-ssa has no stack pointer"}, warnings); diff != "" {
			t.Fatal(diff)
		} else if n := logs.FilterField(zap.String("comparator", "stack-pointer")).Len(); n != 1 {
			t.Fatalf("unexpected log count: %d", n)
		}
	})

	t.Run("StackPointer", func(t *testing.T) {
		orig, mod := MustNewSides(t, returning(1), returning(1), wp.WithArch(wp.ArchX86_64))
		hyps, posts, warnings, err := wp.NewComparators(wp.Properties{CompareStackPointer: true}, orig, mod)
		if err != nil {
			t.Fatal(err)
		} else if len(warnings) != 0 {
			t.Fatalf("unexpected warnings: %v", warnings)
		} else if len(hyps) != 1 || hyps[0].Name != "stack-pointer" {
			t.Fatalf("unexpected hyps: %#v", hyps)
		} else if len(posts) != 1 || posts[0].Name != "stack-pointer" {
			t.Fatalf("unexpected posts: %#v", posts)
		}
	})

	t.Run("UnknownRegister", func(t *testing.T) {
		orig, mod := MustNewSides(t, returning(1), returning(1))
		_, posts, warnings, err := wp.NewComparators(wp.Properties{ComparePostRegs: []string{"RAX"}}, orig, mod)
		if err != nil {
			t.Fatal(err)
		} else if diff := cmp.Diff([]string{"comparator post-regs skipped: register RAX not defined by go-ssa"}, warnings); diff != "" {
			t.Fatal(diff)
		} else if len(posts) != 1 || posts[0].Name != "trivial" {
			t.Fatalf("unexpected posts: %#v", posts)
		}
	})

	t.Run("ErrSMTLIB", func(t *testing.T) {
		orig, mod := MustNewSides(t, returning(1), returning(1))
		if _, _, _, err := wp.NewComparators(wp.Properties{Precond: "(= ret0 #x01)"}, orig, mod); err == nil || err.Error() != "smtlib: unknown symbol: ret0" {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestRegsComparator_ErrUnknownRegister(t *testing.T) {
	orig, mod := MustNewSides(t, returning(1), returning(1))
	if _, err := wp.RegsComparator([]string{"RAX"}, true).Post(orig, mod); err == nil || err.Error() != "unknown register: RAX" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCompareResolver(t *testing.T) {
	orig, mod := MustNewSides(t, returning(1), returning(1))
	r := wp.CompareResolver(orig.Env, mod.Env)

	for name, expected := range map[string]string{
		"arg0_orig": "arg0_orig",
		"arg0_mod":  "arg0",
		"mem_orig":  "mem_orig",
		"mem_mod":   "mem",
	} {
		b, ok := r(name)
		if !ok {
			t.Fatalf("unresolved: %s", name)
		}
		var got string
		switch b := b.(type) {
		case *wp.VarExpr:
			got = b.Name
		case *wp.Array:
			got = b.Name
		}
		if got != expected {
			t.Fatalf("%s: unexpected binding: %s", name, got)
		}
	}

	for _, name := range []string{"arg0", "xyz_orig", "init_xyz_mod"} {
		if _, ok := r(name); ok {
			t.Fatalf("unexpected resolution: %s", name)
		}
	}
}

func TestSingleSub(t *testing.T) {
	sub := MustNewSub(t, "f", &wp.Block{
		ID:    "b0",
		Stmts: []wp.Stmt{assign("ret0", wp.NewBinaryExpr(wp.ADD, reg("arg0"), wp.NewConstantExpr64(1)))},
		Term:  &wp.ReturnTerm{},
	})

	t.Run("Precondition", func(t *testing.T) {
		env := MustNewEnv(t, NewProgram(sub))
		c, _, err := wp.SingleSub(env, sub, "(= arg0 #x0000000000000002)", "(= ret0 #x0000000000000003)")
		if err != nil {
			t.Fatal(err)
		}

		clause, ok := c.(*wp.Clause)
		if !ok {
			t.Fatalf("unexpected constraint: %T", c)
		} else if diff := cmp.Diff([]wp.Constraint{
			wp.NewGoal("user precondition", wp.NewBinaryExpr(wp.EQ, reg("arg0"), wp.NewConstantExpr64(2))),
		}, clause.Hyps); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("Trivial", func(t *testing.T) {
		env := MustNewEnv(t, NewProgram(sub))
		c, env, err := wp.SingleSub(env, sub, "", " ")
		if err != nil {
			t.Fatal(err)
		}
		if result, err := wp.Check(ConstSolver{}, c, env); err != nil {
			t.Fatal(err)
		} else if result.Verdict != wp.Proved {
			t.Fatalf("unexpected verdict: %s", result.Verdict)
		}
	})

	t.Run("Refuted", func(t *testing.T) {
		env := MustNewEnv(t, NewProgram(sub))
		c, env, err := wp.SingleSub(env, sub, "", "(= ret0 arg0)")
		if err != nil {
			t.Fatal(err)
		}
		result, err := wp.Check(&ModelSolver{Model: wp.NewModel()}, c, env)
		if err != nil {
			t.Fatal(err)
		} else if diff := cmp.Diff([]string{"user postcondition"}, result.RefutedGoals); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("ErrPostcondition", func(t *testing.T) {
		env := MustNewEnv(t, NewProgram(sub))
		if _, _, err := wp.SingleSub(env, sub, "", "(= ret0"); err == nil || err.Error() != "user postcondition: smtlib: unbalanced '(' at offset 0" {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestNullDerefHooks(t *testing.T) {
	load := func(addr uint64) *wp.Subroutine {
		return &wp.Subroutine{Name: "f", Entry: "b0", Blocks: []*wp.Block{{
			ID: "b0",
			Stmts: []wp.Stmt{&wp.LoadStmt{
				Dst:   reg("ret0"),
				Addr:  wp.NewConstantExpr64(addr),
				Attrs: wp.Attrs{wp.AttrAddress: "0x10"},
			}},
			Term: &wp.ReturnTerm{},
		}}}
	}

	compare := func(tb testing.TB, solver wp.Solver, orig, mod *wp.Subroutine) *wp.Result {
		tb.Helper()
		namer := wp.NewNamer()
		h1, h2 := wp.NullDerefHooks()
		env2 := MustNewEnv(tb, NewProgram(mod), wp.WithNamer(namer), wp.WithHooks(h2))
		env1, _ := wp.Freshen(MustNewEnv(tb, NewProgram(orig), wp.WithNamer(namer), wp.WithHooks(h1), wp.WithFreshSuffix(wp.OrigSuffix)))

		c, env1, env2, err := wp.CompareSubs([]wp.Half{wp.TrivialPost()}, nil, wp.Side{Env: env1, Sub: orig}, wp.Side{Env: env2, Sub: mod})
		if err != nil {
			tb.Fatal(err)
		}
		result, err := wp.Check(solver, c, env1, env2)
		if err != nil {
			tb.Fatal(err)
		}
		return result
	}

	// A dereference present in both subroutines is assumed safe.
	t.Run("Preserved", func(t *testing.T) {
		if result := compare(t, ConstSolver{}, load(0), load(0)); result.Verdict != wp.Proved {
			t.Fatalf("unexpected verdict: %s", result.Verdict)
		}
	})

	t.Run("NonNull", func(t *testing.T) {
		if result := compare(t, ConstSolver{}, returning(0), load(8)); result.Verdict != wp.Proved {
			t.Fatalf("unexpected verdict: %s", result.Verdict)
		}
	})

	t.Run("Introduced", func(t *testing.T) {
		result := compare(t, &ModelSolver{Model: wp.NewModel()}, returning(0), load(0))
		if result.Verdict != wp.Refuted {
			t.Fatalf("unexpected verdict: %s", result.Verdict)
		} else if diff := cmp.Diff([]string{"non-null address at 0x10"}, result.RefutedGoals); diff != "" {
			t.Fatal(diff)
		}
	})
}
