package golift_test

import (
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/benbjohnson/wp"
	"github.com/benbjohnson/wp/golift"
	"github.com/benbjohnson/wp/z3"
	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoader_Load(t *testing.T) {
	t.Run("Basic", func(t *testing.T) {
		core, logs := observer.New(zapcore.WarnLevel)
		prog := MustLoad(t, zap.New(core), "./testdata/basic")

		if prog.Arch != wp.ArchGoSSA.Name {
			t.Fatalf("unexpected arch: %s", prog.Arch)
		} else if prog.Name != "github.com/benbjohnson/wp/golift/testdata/basic" {
			t.Fatalf("unexpected name: %s", prog.Name)
		} else if diff := cmp.Diff([]string{"div", "divmod", "inc", "max", "quo", "sign", "sum"}, subNames(prog)); diff != "" {
			t.Fatal(diff)
		}

		// Strings cannot be lifted.
		entries := logs.FilterMessage("[golift] skipping function").All()
		if len(entries) != 1 {
			t.Fatalf("unexpected warnings: %d", len(entries))
		} else if fn := entries[0].ContextMap()["func"]; !strings.HasSuffix(fn.(string), ".name") {
			t.Fatalf("unexpected function: %v", fn)
		}
	})

	t.Run("Inc", func(t *testing.T) {
		prog := MustLoad(t, nil, "./testdata/basic")

		x, t0 := wp.NewVarExpr("%inc.x", 64), wp.NewVarExpr("%inc.t0", 64)
		if diff := cmp.Diff(&wp.Subroutine{
			Name:  "inc",
			Entry: "b0",
			Attrs: wp.Attrs{wp.AttrAddress: "basic.go:3"},
			Blocks: []*wp.Block{{
				ID: "b0",
				Stmts: []wp.Stmt{
					&wp.AssignStmt{Var: x, Expr: wp.NewVarExpr("arg0", 64), Attrs: wp.Attrs{wp.AttrAddress: "basic.go:3"}},
					&wp.AssignStmt{Var: t0, Expr: wp.NewBinaryExpr(wp.ADD, x, wp.NewConstantExpr64(1)), Attrs: wp.Attrs{wp.AttrAddress: "basic.go:4"}},
					&wp.AssignStmt{Var: wp.NewVarExpr("ret0", 64), Expr: t0},
				},
				Term: &wp.ReturnTerm{Attrs: wp.Attrs{wp.AttrAddress: "basic.go:4"}},
			}},
		}, prog.Sub("inc")); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("Symbols", func(t *testing.T) {
		if diff := cmp.Diff([]wp.Symbol{
			{Name: "t", Addr: golift.GlobalBase, Size: 32},
		}, MustLoad(t, nil, "./testdata/record").Symbols); diff != "" {
			t.Fatal(diff)
		}

		if diff := cmp.Diff([]wp.Symbol{
			{Name: "buf", Addr: golift.GlobalBase, Size: 4},
			{Name: "ready", Addr: golift.GlobalBase + 8, Size: 1},
		}, MustLoad(t, nil, "./testdata/array").Symbols); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("ErrNoPackage", func(t *testing.T) {
		if _, err := golift.NewLoader().Load("./testdata/missing"); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestLoader_SourceFiles(t *testing.T) {
	files, err := golift.NewLoader().SourceFiles("./testdata/basic")
	if err != nil {
		t.Fatal(err)
	}
	want, err := filepath.Abs("testdata/basic/basic.go")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{want}, files); diff != "" {
		t.Fatal(diff)
	}

	t.Run("ErrNoPackage", func(t *testing.T) {
		if _, err := golift.NewLoader().SourceFiles("./testdata/missing"); err == nil {
			t.Fatal("expected error")
		}
	})
}

// Ensure lifted functions keep their Go semantics under the WP builder.
func TestLift_Verify(t *testing.T) {
	t.Run("Inc", func(t *testing.T) {
		prog := MustLoad(t, nil, "./testdata/basic")
		result := MustVerify(t, prog, "inc", func(env *wp.Env) wp.Expr {
			return wp.NewBinaryExpr(wp.EQ, reg(env, "ret0"), wp.NewBinaryExpr(wp.ADD, initReg(env, "arg0"), wp.NewConstantExpr64(1)))
		})
		if result.Verdict != wp.Proved || !result.Exact {
			t.Fatalf("unexpected result: %s exact=%v", result.Verdict, result.Exact)
		}
	})

	t.Run("Max", func(t *testing.T) {
		prog := MustLoad(t, nil, "./testdata/basic")
		result := MustVerify(t, prog, "max", func(env *wp.Env) wp.Expr {
			return wp.NewAndExpr(
				wp.NewBinaryExpr(wp.SLE, initReg(env, "arg0"), reg(env, "ret0")),
				wp.NewBinaryExpr(wp.SLE, initReg(env, "arg1"), reg(env, "ret0")),
			)
		})
		if result.Verdict != wp.Proved {
			t.Fatalf("unexpected verdict: %s", result.Verdict)
		}
	})

	// Loops are sound up to the unrolling bound.
	t.Run("Sum", func(t *testing.T) {
		prog := MustLoad(t, nil, "./testdata/basic")
		result := MustVerify(t, prog, "sum", func(env *wp.Env) wp.Expr {
			return wp.NewImpliesExpr(
				wp.NewBinaryExpr(wp.EQ, initReg(env, "arg0"), wp.NewConstantExpr64(3)),
				wp.NewBinaryExpr(wp.EQ, reg(env, "ret0"), wp.NewConstantExpr64(3)),
			)
		})
		if result.Verdict != wp.Proved || result.Exact {
			t.Fatalf("unexpected result: %s exact=%v", result.Verdict, result.Exact)
		}
	})

	t.Run("Panic", func(t *testing.T) {
		prog := MustLoad(t, nil, "./testdata/basic")
		result := MustVerify(t, prog, "div", func(env *wp.Env) wp.Expr { return wp.NewBoolConstantExpr(true) })
		if result.Verdict != wp.Refuted {
			t.Fatalf("unexpected verdict: %s", result.Verdict)
		} else if diff := cmp.Diff([]string{"call to abort at basic.go:24"}, result.RefutedGoals); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("DivideByZero", func(t *testing.T) {
		prog := MustLoad(t, nil, "./testdata/basic")
		result := MustVerify(t, prog, "quo", func(env *wp.Env) wp.Expr { return wp.NewBoolConstantExpr(true) })
		if result.Verdict != wp.Refuted {
			t.Fatalf("unexpected verdict: %s", result.Verdict)
		} else if diff := cmp.Diff([]string{"call to abort at basic.go:45"}, result.RefutedGoals); diff != "" {
			t.Fatal(diff)
		} else if v := result.Model.Vars["init_arg1"]; v != nil && v.Value != 0 {
			t.Fatalf("unexpected divisor: %d", v.Value)
		}
	})

	t.Run("IndexOutOfRange", func(t *testing.T) {
		prog := MustLoad(t, nil, "./testdata/array")
		result := MustVerify(t, prog, "get", func(env *wp.Env) wp.Expr { return wp.NewBoolConstantExpr(true) })
		if result.Verdict != wp.Refuted {
			t.Fatalf("unexpected verdict: %s", result.Verdict)
		} else if diff := cmp.Diff([]string{"call to abort at array.go:18"}, result.RefutedGoals); diff != "" {
			t.Fatal(diff)
		}

		// Masked indexes are always in range.
		result = MustVerify(t, prog, "set", func(env *wp.Env) wp.Expr { return wp.NewBoolConstantExpr(true) })
		if result.Verdict != wp.Proved {
			t.Fatalf("unexpected verdict: %s", result.Verdict)
		}
	})

	t.Run("Tuple", func(t *testing.T) {
		prog := MustLoad(t, nil, "./testdata/basic")
		result := MustVerify(t, prog, "divmod", func(env *wp.Env) wp.Expr {
			return wp.NewImpliesExpr(
				wp.NewAndExpr(
					wp.NewBinaryExpr(wp.EQ, initReg(env, "arg0"), wp.NewConstantExpr64(7)),
					wp.NewBinaryExpr(wp.EQ, initReg(env, "arg1"), wp.NewConstantExpr64(2)),
				),
				wp.NewAndExpr(
					wp.NewBinaryExpr(wp.EQ, reg(env, "ret0"), wp.NewConstantExpr64(3)),
					wp.NewBinaryExpr(wp.EQ, reg(env, "ret1"), wp.NewConstantExpr64(1)),
				),
			)
		})
		if result.Verdict != wp.Proved {
			t.Fatalf("unexpected verdict: %s", result.Verdict)
		}
	})

	t.Run("SignedShift", func(t *testing.T) {
		prog := MustLoad(t, nil, "./testdata/basic")
		result := MustVerify(t, prog, "sign", func(env *wp.Env) wp.Expr {
			return wp.NewImpliesExpr(
				wp.NewBinaryExpr(wp.EQ, initReg(env, "arg0"), wp.NewConstantExpr64(0xFFFF)),
				wp.NewAndExpr(
					wp.NewBinaryExpr(wp.EQ, reg(env, "ret0"), wp.NewConstantExpr64(0xFFFFFFFFFFFFFFFF)),
					wp.NewBinaryExpr(wp.EQ, reg(env, "ret1"), wp.NewConstantExpr64(1)),
				),
			)
		})
		if result.Verdict != wp.Proved {
			t.Fatalf("unexpected verdict: %s", result.Verdict)
		}
	})

	t.Run("Struct", func(t *testing.T) {
		prog := MustLoad(t, nil, "./testdata/record")
		result := MustVerify(t, prog, "simple", func(env *wp.Env) wp.Expr {
			return wp.NewImpliesExpr(
				wp.NewBinaryExpr(wp.EQ, initReg(env, "arg0"), wp.NewConstantExpr64(2)),
				wp.NewBinaryExpr(wp.EQ, reg(env, "ret0"), wp.NewConstantExpr64(1)),
			)
		})
		if result.Verdict != wp.Proved {
			t.Fatalf("unexpected verdict: %s", result.Verdict)
		}
	})

	t.Run("Array", func(t *testing.T) {
		prog := MustLoad(t, nil, "./testdata/array")
		result := MustVerify(t, prog, "set", func(env *wp.Env) wp.Expr {
			v := wp.NewCastExpr(wp.NewExtractExpr(initReg(env, "arg1"), 0, 8), 64, false)
			return wp.NewBinaryExpr(wp.EQ, reg(env, "ret0"), v)
		})
		if result.Verdict != wp.Proved {
			t.Fatalf("unexpected verdict: %s", result.Verdict)
		}
	})

	t.Run("Assume", func(t *testing.T) {
		prog := MustLoad(t, nil, "./testdata/call")
		result := MustVerify(t, prog, "checked", func(env *wp.Env) wp.Expr { return wp.NewBoolConstantExpr(true) })
		if result.Verdict != wp.Proved {
			t.Fatalf("unexpected verdict: %s", result.Verdict)
		}
	})

	t.Run("Inline", func(t *testing.T) {
		prog := MustLoad(t, nil, "./testdata/call")
		post := func(env *wp.Env) wp.Expr {
			return wp.NewBinaryExpr(wp.EQ, reg(env, "ret0"), wp.NewBinaryExpr(wp.ADD, initReg(env, "arg0"), wp.NewConstantExpr64(2)))
		}

		if result := MustVerify(t, prog, "twice", post, wp.WithInline(regexp.MustCompile(`^inc$`))); result.Verdict != wp.Proved {
			t.Fatalf("unexpected verdict: %s", result.Verdict)
		}

		// Summarized calls return arbitrary values.
		if result := MustVerify(t, prog, "twice", post); result.Verdict != wp.Refuted {
			t.Fatalf("unexpected verdict: %s", result.Verdict)
		}
	})
}

// MustLoad lifts the packages matching pattern. Fail on error.
func MustLoad(tb testing.TB, logger *zap.Logger, pattern string) *wp.Program {
	tb.Helper()
	l := golift.NewLoader()
	if logger != nil {
		l.Logger = logger
	}
	prog, err := l.Load(pattern)
	if err != nil {
		tb.Fatal(err)
	}
	return prog
}

// MustVerify checks the named subroutine of prog against a postcondition
// with the z3 solver. Fail on error.
func MustVerify(tb testing.TB, prog *wp.Program, name string, post func(env *wp.Env) wp.Expr, opts ...wp.EnvOption) *wp.Result {
	tb.Helper()
	sub := prog.Sub(name)
	if sub == nil {
		tb.Fatalf("function not lifted: %s", name)
	}

	env, err := wp.NewEnv(prog, opts...)
	if err != nil {
		tb.Fatal(err)
	}
	c, env, err := wp.VisitSub(env, wp.NewGoal("postcondition", post(env)), sub)
	if err != nil {
		tb.Fatal(err)
	}

	s := z3.NewSolver()
	defer s.Close()

	result, err := wp.Check(s, c, env)
	if err != nil {
		tb.Fatal(err)
	}
	return result
}

func subNames(prog *wp.Program) []string {
	var a []string
	for _, sub := range prog.Subs {
		a = append(a, sub.Name)
	}
	return a
}

func reg(env *wp.Env, name string) *wp.VarExpr {
	v, _ := env.Register(name)
	return v
}

func initReg(env *wp.Env, name string) *wp.VarExpr {
	v, _ := env.InitVar(name)
	return v
}
