package wp

import (
	"encoding/gob"
	"fmt"
	"sort"

	"github.com/pkg/errors"
)

// AttrAddress is the only attribute kept by StripAttrs.
const AttrAddress = "address"

// MemoryName is the name of the memory array referenced by program IR.
const MemoryName = "mem"

func init() {
	// Concrete types carried through interface fields must be registered so
	// lifted programs can be stored in the cache.
	gob.Register(&ApplyExpr{})
	gob.Register(&BinaryExpr{})
	gob.Register(&CastExpr{})
	gob.Register(&ConcatExpr{})
	gob.Register(&ConstantExpr{})
	gob.Register(&ExtractExpr{})
	gob.Register(&IteExpr{})
	gob.Register(&NotExpr{})
	gob.Register(&SelectExpr{})
	gob.Register(&VarExpr{})

	gob.Register(&AssignStmt{})
	gob.Register(&LoadStmt{})
	gob.Register(&StoreStmt{})
	gob.Register(&CallStmt{})

	gob.Register(&JumpTerm{})
	gob.Register(&BranchTerm{})
	gob.Register(&ReturnTerm{})
}

// Attrs holds metadata attached to IR nodes by the lifter.
type Attrs map[string]string

// strip returns a copy of attrs that only contains the address attribute.
func (a Attrs) strip() Attrs {
	if v, ok := a[AttrAddress]; ok {
		return Attrs{AttrAddress: v}
	}
	return nil
}

// Program represents a lifted binary.
type Program struct {
	Name    string
	Arch    string
	Subs    []*Subroutine
	Symbols []Symbol
}

// Sub returns a subroutine by name. Returns nil if not found.
func (p *Program) Sub(name string) *Subroutine {
	for _, sub := range p.Subs {
		if sub.Name == name {
			return sub
		}
	}
	return nil
}

// Symbol returns a data symbol by name.
func (p *Program) Symbol(name string) (Symbol, bool) {
	for _, sym := range p.Symbols {
		if sym.Name == name {
			return sym, true
		}
	}
	return Symbol{}, false
}

// Symbol represents a named data region of a program.
type Symbol struct {
	Name string
	Addr uint64
	Size uint64
}

// Subroutine represents a function's control flow graph.
type Subroutine struct {
	Name   string
	Entry  string
	Blocks []*Block
	Attrs  Attrs
}

// Block returns a block by id. Returns nil if not found.
func (sub *Subroutine) Block(id string) *Block {
	for _, b := range sub.Blocks {
		if b.ID == id {
			return b
		}
	}
	return nil
}

// Callees returns the sorted names of all functions called by sub.
func (sub *Subroutine) Callees() []string {
	m := make(map[string]struct{})
	for _, b := range sub.Blocks {
		for _, stmt := range b.Stmts {
			if stmt, ok := stmt.(*CallStmt); ok {
				m[stmt.Callee] = struct{}{}
			}
		}
	}

	a := make([]string, 0, len(m))
	for name := range m {
		a = append(a, name)
	}
	sort.Strings(a)
	return a
}

// Validate returns an error if the control flow graph is malformed.
func (sub *Subroutine) Validate() error {
	if len(sub.Blocks) == 0 {
		return errors.Wrapf(ErrMalformedCFG, "%s: no blocks", sub.Name)
	}

	ids := make(map[string]struct{}, len(sub.Blocks))
	for _, b := range sub.Blocks {
		if _, ok := ids[b.ID]; ok {
			return errors.Wrapf(ErrMalformedCFG, "%s: duplicate block %q", sub.Name, b.ID)
		}
		ids[b.ID] = struct{}{}
	}

	if _, ok := ids[sub.Entry]; !ok {
		return errors.Wrapf(ErrMalformedCFG, "%s: missing entry block %q", sub.Name, sub.Entry)
	}

	for _, b := range sub.Blocks {
		if b.Term == nil {
			return errors.Wrapf(ErrMalformedCFG, "%s: block %q has no terminator", sub.Name, b.ID)
		}
		for _, id := range Successors(b.Term) {
			if _, ok := ids[id]; !ok {
				return errors.Wrapf(ErrMalformedCFG, "%s: block %q jumps to unknown block %q", sub.Name, b.ID, id)
			}
		}
		if term, ok := b.Term.(*BranchTerm); ok && ExprWidth(term.Cond) != WidthBool {
			return errors.Wrapf(ErrMalformedCFG, "%s: block %q branches on non-boolean condition", sub.Name, b.ID)
		}
	}
	return nil
}

// Block represents a straight-line sequence of statements.
type Block struct {
	ID    string
	Stmts []Stmt
	Term  Term
	Attrs Attrs
}

// Stmt represents a non-terminating instruction.
type Stmt interface {
	stmt()
	fmt.Stringer
}

func (*AssignStmt) stmt() {}
func (*LoadStmt) stmt()   {}
func (*StoreStmt) stmt()  {}
func (*CallStmt) stmt()   {}

// AssignStmt sets a program variable to the value of an expression.
type AssignStmt struct {
	Var   *VarExpr
	Expr  Expr
	Attrs Attrs
}

func (s *AssignStmt) String() string { return fmt.Sprintf("%s := %s", s.Var.Name, s.Expr) }

// LoadStmt reads Dst.Width bits of memory at Addr into Dst.
type LoadStmt struct {
	Dst   *VarExpr
	Addr  Expr
	Attrs Attrs
}

func (s *LoadStmt) String() string { return fmt.Sprintf("%s := load %s", s.Dst.Name, s.Addr) }

// StoreStmt writes Value to memory at Addr.
type StoreStmt struct {
	Addr  Expr
	Value Expr
	Attrs Attrs
}

func (s *StoreStmt) String() string { return fmt.Sprintf("store %s %s", s.Addr, s.Value) }

// CallStmt calls a function by name and continues with the next statement.
type CallStmt struct {
	Callee string
	Attrs  Attrs
}

func (s *CallStmt) String() string { return fmt.Sprintf("call %s", s.Callee) }

// Term represents the last instruction of a block.
type Term interface {
	term()
	fmt.Stringer
}

func (*JumpTerm) term()   {}
func (*BranchTerm) term() {}
func (*ReturnTerm) term() {}

// JumpTerm unconditionally transfers control to Target.
type JumpTerm struct {
	Target string
	Attrs  Attrs
}

func (t *JumpTerm) String() string { return fmt.Sprintf("jmp %s", t.Target) }

// BranchTerm transfers control to Then if Cond is true, otherwise Else.
type BranchTerm struct {
	Cond  Expr
	Then  string
	Else  string
	Attrs Attrs
}

func (t *BranchTerm) String() string {
	return fmt.Sprintf("br %s %s %s", t.Cond, t.Then, t.Else)
}

// ReturnTerm exits the subroutine.
type ReturnTerm struct {
	Attrs Attrs
}

func (t *ReturnTerm) String() string { return "ret" }

// Successors returns the ids of the blocks that term transfers control to.
func Successors(term Term) []string {
	switch term := term.(type) {
	case *JumpTerm:
		return []string{term.Target}
	case *BranchTerm:
		if term.Then == term.Else {
			return []string{term.Then}
		}
		return []string{term.Then, term.Else}
	case *ReturnTerm:
		return nil
	default:
		panic(fmt.Sprintf("unreachable: %T", term))
	}
}

// StripAttrs returns a copy of sub where every node only retains its
// address attribute.
func StripAttrs(sub *Subroutine) *Subroutine {
	other := &Subroutine{
		Name:   sub.Name,
		Entry:  sub.Entry,
		Attrs:  sub.Attrs.strip(),
		Blocks: make([]*Block, len(sub.Blocks)),
	}
	for i, b := range sub.Blocks {
		other.Blocks[i] = stripBlock(b)
	}
	return other
}

func stripBlock(b *Block) *Block {
	other := &Block{
		ID:    b.ID,
		Attrs: b.Attrs.strip(),
		Stmts: make([]Stmt, len(b.Stmts)),
		Term:  stripTerm(b.Term),
	}
	for i, stmt := range b.Stmts {
		other.Stmts[i] = stripStmt(stmt)
	}
	return other
}

func stripStmt(stmt Stmt) Stmt {
	switch stmt := stmt.(type) {
	case *AssignStmt:
		return &AssignStmt{Var: stmt.Var, Expr: stmt.Expr, Attrs: stmt.Attrs.strip()}
	case *LoadStmt:
		return &LoadStmt{Dst: stmt.Dst, Addr: stmt.Addr, Attrs: stmt.Attrs.strip()}
	case *StoreStmt:
		return &StoreStmt{Addr: stmt.Addr, Value: stmt.Value, Attrs: stmt.Attrs.strip()}
	case *CallStmt:
		return &CallStmt{Callee: stmt.Callee, Attrs: stmt.Attrs.strip()}
	default:
		panic(fmt.Sprintf("unreachable: %T", stmt))
	}
}

func stripTerm(term Term) Term {
	switch term := term.(type) {
	case nil:
		return nil
	case *JumpTerm:
		return &JumpTerm{Target: term.Target, Attrs: term.Attrs.strip()}
	case *BranchTerm:
		return &BranchTerm{Cond: term.Cond, Then: term.Then, Else: term.Else, Attrs: term.Attrs.strip()}
	case *ReturnTerm:
		return &ReturnTerm{Attrs: term.Attrs.strip()}
	default:
		panic(fmt.Sprintf("unreachable: %T", term))
	}
}
