package wp_test

import (
	"bytes"
	"encoding/gob"
	"testing"

	"github.com/benbjohnson/wp"
	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
)

// MustNewSub returns a subroutine from blocks with the first block as entry.
func MustNewSub(tb testing.TB, name string, blocks ...*wp.Block) *wp.Subroutine {
	tb.Helper()
	sub := &wp.Subroutine{Name: name, Entry: blocks[0].ID, Blocks: blocks}
	if err := sub.Validate(); err != nil {
		tb.Fatal(err)
	}
	return sub
}

// NewProgram returns a go-ssa program containing subs.
func NewProgram(subs ...*wp.Subroutine) *wp.Program {
	return &wp.Program{Name: "test", Arch: wp.ArchGoSSA.Name, Subs: subs}
}

func reg(name string) *wp.VarExpr { return wp.NewVarExpr(name, 64) }

func assign(name string, expr wp.Expr) *wp.AssignStmt {
	return &wp.AssignStmt{Var: reg(name), Expr: expr}
}

func TestSubroutine_Validate(t *testing.T) {
	t.Run("OK", func(t *testing.T) {
		sub := &wp.Subroutine{
			Name:  "f",
			Entry: "b0",
			Blocks: []*wp.Block{
				{ID: "b0", Term: &wp.BranchTerm{Cond: wp.NewVarExpr("c", 1), Then: "b1", Else: "b1"}},
				{ID: "b1", Term: &wp.ReturnTerm{}},
			},
		}
		if err := sub.Validate(); err != nil {
			t.Fatal(err)
		}
	})

	for _, tt := range []struct {
		name string
		sub  *wp.Subroutine
	}{
		{"NoBlocks", &wp.Subroutine{Name: "f", Entry: "b0"}},
		{"MissingEntry", &wp.Subroutine{Name: "f", Entry: "x", Blocks: []*wp.Block{{ID: "b0", Term: &wp.ReturnTerm{}}}}},
		{"DuplicateBlock", &wp.Subroutine{Name: "f", Entry: "b0", Blocks: []*wp.Block{
			{ID: "b0", Term: &wp.ReturnTerm{}},
			{ID: "b0", Term: &wp.ReturnTerm{}},
		}}},
		{"NoTerminator", &wp.Subroutine{Name: "f", Entry: "b0", Blocks: []*wp.Block{{ID: "b0"}}}},
		{"UnknownTarget", &wp.Subroutine{Name: "f", Entry: "b0", Blocks: []*wp.Block{{ID: "b0", Term: &wp.JumpTerm{Target: "b9"}}}}},
		{"NonBoolCond", &wp.Subroutine{Name: "f", Entry: "b0", Blocks: []*wp.Block{
			{ID: "b0", Term: &wp.BranchTerm{Cond: reg("arg0"), Then: "b0", Else: "b0"}},
		}}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.sub.Validate(); errors.Cause(err) != wp.ErrMalformedCFG {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestSubroutine_Callees(t *testing.T) {
	sub := MustNewSub(t, "f",
		&wp.Block{ID: "b0", Stmts: []wp.Stmt{
			&wp.CallStmt{Callee: "g"},
			&wp.CallStmt{Callee: "abort"},
			&wp.CallStmt{Callee: "g"},
		}, Term: &wp.ReturnTerm{}},
	)
	if diff := cmp.Diff([]string{"abort", "g"}, sub.Callees()); diff != "" {
		t.Fatal(diff)
	}
}

func TestStripAttrs(t *testing.T) {
	sub := MustNewSub(t, "f",
		&wp.Block{
			ID:    "b0",
			Attrs: wp.Attrs{wp.AttrAddress: "0x10", "comment": "entry"},
			Stmts: []wp.Stmt{
				&wp.AssignStmt{Var: reg("ret0"), Expr: reg("arg0"), Attrs: wp.Attrs{wp.AttrAddress: "0x14", "insn": "mov"}},
				&wp.CallStmt{Callee: "g", Attrs: wp.Attrs{"insn": "call"}},
			},
			Term: &wp.ReturnTerm{Attrs: wp.Attrs{wp.AttrAddress: "0x18", "insn": "ret"}},
		},
	)

	other := wp.StripAttrs(sub)
	if diff := cmp.Diff(&wp.Subroutine{
		Name:  "f",
		Entry: "b0",
		Blocks: []*wp.Block{{
			ID:    "b0",
			Attrs: wp.Attrs{wp.AttrAddress: "0x10"},
			Stmts: []wp.Stmt{
				&wp.AssignStmt{Var: reg("ret0"), Expr: reg("arg0"), Attrs: wp.Attrs{wp.AttrAddress: "0x14"}},
				&wp.CallStmt{Callee: "g"},
			},
			Term: &wp.ReturnTerm{Attrs: wp.Attrs{wp.AttrAddress: "0x18"}},
		}},
	}, other); diff != "" {
		t.Fatal(diff)
	}

	// Original is untouched.
	if sub.Blocks[0].Attrs["comment"] != "entry" {
		t.Fatal("expected original attrs")
	}
}

func TestProgram_Gob(t *testing.T) {
	prog := NewProgram(MustNewSub(t, "f",
		&wp.Block{
			ID: "b0",
			Stmts: []wp.Stmt{
				&wp.LoadStmt{Dst: reg("ret0"), Addr: reg("arg0")},
				&wp.StoreStmt{Addr: reg("arg1"), Value: wp.NewBinaryExpr(wp.ADD, reg("ret0"), wp.NewConstantExpr64(1))},
			},
			Term: &wp.BranchTerm{Cond: wp.NewBinaryExpr(wp.EQ, reg("ret0"), wp.NewConstantExpr64(0)), Then: "b1", Else: "b1"},
		},
		&wp.Block{ID: "b1", Term: &wp.ReturnTerm{}},
	))
	prog.Symbols = []wp.Symbol{{Name: "counter", Addr: 0x1000, Size: 8}}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(prog); err != nil {
		t.Fatal(err)
	}
	var other wp.Program
	if err := gob.NewDecoder(&buf).Decode(&other); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(prog, &other); diff != "" {
		t.Fatal(diff)
	}

	if sym, ok := other.Symbol("counter"); !ok || sym.Addr != 0x1000 {
		t.Fatalf("unexpected symbol: %#v", sym)
	} else if other.Sub("f") == nil {
		t.Fatal("expected subroutine")
	} else if other.Sub("g") != nil {
		t.Fatal("unexpected subroutine")
	}
}

func TestSuccessors(t *testing.T) {
	if diff := cmp.Diff([]string{"a"}, wp.Successors(&wp.JumpTerm{Target: "a"})); diff != "" {
		t.Fatal(diff)
	} else if diff := cmp.Diff([]string{"a", "b"}, wp.Successors(&wp.BranchTerm{Cond: wp.NewVarExpr("c", 1), Then: "a", Else: "b"})); diff != "" {
		t.Fatal(diff)
	} else if got := wp.Successors(&wp.ReturnTerm{}); len(got) != 0 {
		t.Fatalf("unexpected successors: %v", got)
	}
}
