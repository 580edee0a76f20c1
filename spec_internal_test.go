package wp

import (
	"testing"

	"github.com/pkg/errors"
)

func TestResolve_ErrNoFunctionSpec(t *testing.T) {
	env, err := NewEnv(&Program{Arch: ArchGoSSA.Name})
	if err != nil {
		t.Fatal(err)
	}

	// Bypass NewSpecChain so the chain has no catch-all.
	env.specs = []FunctionSpec{{Name: "error", Kind: SpecError}}

	_, err = Resolve(env, &CallStmt{Callee: "g"}, NewTrivialGoal("post"))
	if errors.Cause(err) != ErrNoFunctionSpec {
		t.Fatalf("unexpected error: %v", err)
	} else if err.Error() != "call to g: wp: no function spec matches call" {
		t.Fatalf("unexpected error message: %s", err)
	}
}

func TestLoopCounts_Key(t *testing.T) {
	c := loopCounts{}.enter("b", 2, nil).enter("a", 1, nil)
	if s := c.key(); s != "|a=1|b=2" {
		t.Fatalf("unexpected key: %s", s)
	}

	// Entering an outer loop clears the counts of its inner loops.
	c = c.enter("a", 2, []string{"b"})
	if s := c.key(); s != "|a=2" {
		t.Fatalf("unexpected key: %s", s)
	}
}

func TestAnalyzeLoops(t *testing.T) {
	// b0 -> b1 -> b2 -> b3 (self loop) -> b5 -> b1 ; b1 -> b4
	blocks := map[string]*Block{
		"b0": {ID: "b0", Term: &JumpTerm{Target: "b1"}},
		"b1": {ID: "b1", Term: &BranchTerm{Cond: NewVarExpr("c", 1), Then: "b2", Else: "b4"}},
		"b2": {ID: "b2", Term: &JumpTerm{Target: "b3"}},
		"b3": {ID: "b3", Term: &BranchTerm{Cond: NewVarExpr("e", 1), Then: "b3", Else: "b5"}},
		"b4": {ID: "b4", Term: &ReturnTerm{}},
		"b5": {ID: "b5", Term: &JumpTerm{Target: "b1"}},
	}
	l := analyzeLoops("b0", blocks)

	if !l.headers["b1"] || !l.headers["b3"] || len(l.headers) != 2 {
		t.Fatalf("unexpected headers: %v", l.headers)
	} else if !l.reach["b1"]["b3"] || l.reach["b3"]["b0"] {
		t.Fatalf("unexpected reach: %v", l.reach)
	} else if len(l.inner["b1"]) != 1 || l.inner["b1"][0] != "b3" {
		t.Fatalf("unexpected inner: %v", l.inner)
	} else if len(l.inner["b3"]) != 0 {
		t.Fatalf("unexpected inner: %v", l.inner)
	}
}
