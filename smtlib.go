package wp

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Resolver returns the binding of a symbol used in SMT-LIB text.
type Resolver func(name string) (Binding, bool)

// ParseSMTLIB parses SMT-LIB 2 text into a boolean expression. Every
// (assert ...) command contributes a conjunct; other commands such as
// declarations are ignored. Text without commands is parsed as a single
// term. Returns true if the text is empty.
func ParseSMTLIB(text string, r Resolver) (Expr, error) {
	nodes, err := parseSexps(text)
	if err != nil {
		return nil, err
	}

	p := &smtParser{resolve: r}
	var conjuncts []Expr
	for _, n := range nodes {
		if n.isList() && len(n.list) > 0 && !n.list[0].isList() {
			switch head := n.list[0].atom; {
			case head == "assert":
				if len(n.list) != 2 {
					return nil, errors.Errorf("smtlib: assert expects 1 argument, got %d", len(n.list)-1)
				}
				expr, err := p.boolTerm(n.list[1])
				if err != nil {
					return nil, err
				}
				conjuncts = append(conjuncts, expr)
				continue
			case isCommand(head):
				continue
			}
		}

		expr, err := p.boolTerm(n)
		if err != nil {
			return nil, err
		}
		conjuncts = append(conjuncts, expr)
	}
	return NewAndExpr(conjuncts...), nil
}

func isCommand(head string) bool {
	switch head {
	case "declare-fun", "declare-const", "define-fun", "set-logic", "set-option", "set-info", "check-sat", "get-model", "exit", "push", "pop":
		return true
	}
	return false
}

// sexp is a parsed s-expression: either an atom or a list.
type sexp struct {
	atom string
	list []*sexp
	pos  int
}

func (n *sexp) isList() bool { return n.list != nil }

func (n *sexp) String() string {
	if !n.isList() {
		return n.atom
	}
	a := make([]string, len(n.list))
	for i, child := range n.list {
		a[i] = child.String()
	}
	return "(" + strings.Join(a, " ") + ")"
}

// parseSexps returns the top-level s-expressions of text.
func parseSexps(text string) ([]*sexp, error) {
	var stack [][]*sexp
	var top []*sexp
	var starts []int

	push := func(n *sexp) {
		if len(stack) == 0 {
			top = append(top, n)
		} else {
			stack[len(stack)-1] = append(stack[len(stack)-1], n)
		}
	}

	for i := 0; i < len(text); {
		ch := text[i]
		switch {
		case ch == ';':
			for i < len(text) && text[i] != '\n' {
				i++
			}
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			i++
		case ch == '(':
			stack = append(stack, []*sexp{})
			starts = append(starts, i)
			i++
		case ch == ')':
			if len(stack) == 0 {
				return nil, errors.Errorf("smtlib: unexpected ')' at offset %d", i)
			}
			list := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			start := starts[len(starts)-1]
			starts = starts[:len(starts)-1]
			push(&sexp{list: list, pos: start})
			i++
		case ch == '|':
			j := strings.IndexByte(text[i+1:], '|')
			if j < 0 {
				return nil, errors.Errorf("smtlib: unterminated quoted symbol at offset %d", i)
			}
			push(&sexp{atom: text[i+1 : i+1+j], pos: i})
			i += j + 2
		default:
			start := i
			for i < len(text) && !strings.ContainsRune(" \t\r\n();|", rune(text[i])) {
				i++
			}
			push(&sexp{atom: text[start:i], pos: start})
		}
	}
	if len(stack) != 0 {
		return nil, errors.Errorf("smtlib: unbalanced '(' at offset %d", starts[len(starts)-1])
	}
	return top, nil
}

type smtParser struct {
	resolve Resolver
	scopes  []map[string]Binding
}

func (p *smtParser) boolTerm(n *sexp) (Expr, error) {
	expr, err := p.term(n)
	if err != nil {
		return nil, err
	} else if ExprWidth(expr) != WidthBool {
		return nil, errors.Errorf("smtlib: expected boolean term: %s", n)
	}
	return expr, nil
}

func (p *smtParser) term(n *sexp) (Expr, error) {
	b, err := p.binding(n)
	if err != nil {
		return nil, err
	}
	expr, ok := b.(Expr)
	if !ok {
		return nil, errors.Errorf("smtlib: expected term, got array: %s", n)
	}
	return expr, nil
}

func (p *smtParser) binding(n *sexp) (Binding, error) {
	if !n.isList() {
		return p.atom(n)
	} else if len(n.list) == 0 {
		return nil, errors.Errorf("smtlib: empty list at offset %d", n.pos)
	}

	head := n.list[0]
	args := n.list[1:]

	// Indexed operators: ((_ extract i j) x), ((_ zero_extend k) x), ...
	if head.isList() {
		return p.indexed(head, args)
	}

	switch head.atom {
	case "_":
		return p.bvLiteral(n)
	case "let":
		return p.let(n)
	case "select":
		if len(args) != 2 {
			return nil, errors.Errorf("smtlib: select expects 2 arguments: %s", n)
		}
		b, err := p.binding(args[0])
		if err != nil {
			return nil, err
		}
		a, ok := b.(*Array)
		if !ok {
			return nil, errors.Errorf("smtlib: select on non-array: %s", n)
		}
		index, err := p.term(args[1])
		if err != nil {
			return nil, err
		} else if ExprWidth(index) != Width64 {
			return nil, errors.Errorf("smtlib: select index must be 64 bits: %s", n)
		}
		return a.Select(index, Width8, true), nil
	case "=":
		if len(args) == 2 {
			lhs, err := p.binding(args[0])
			if err != nil {
				return nil, err
			}
			if lhs, ok := lhs.(*Array); ok {
				rhs, err := p.binding(args[1])
				if err != nil {
					return nil, err
				}
				other, ok := rhs.(*Array)
				if !ok {
					return nil, errors.Errorf("smtlib: = compares array with term: %s", n)
				}
				return NewArrayEqExpr(lhs, other), nil
			}
		}
	}

	terms := make([]Expr, len(args))
	for i, arg := range args {
		expr, err := p.term(arg)
		if err != nil {
			return nil, err
		}
		terms[i] = expr
	}
	return p.apply(n, head.atom, terms)
}

func (p *smtParser) atom(n *sexp) (Binding, error) {
	s := n.atom
	switch {
	case s == "true":
		return NewBoolConstantExpr(true), nil
	case s == "false":
		return NewBoolConstantExpr(false), nil
	case strings.HasPrefix(s, "#x"):
		return parseBitLiteral(s[2:], 16, 4)
	case strings.HasPrefix(s, "#b"):
		return parseBitLiteral(s[2:], 2, 1)
	}

	for i := len(p.scopes) - 1; i >= 0; i-- {
		if b, ok := p.scopes[i][s]; ok {
			return b, nil
		}
	}
	if p.resolve != nil {
		if b, ok := p.resolve(s); ok {
			return b, nil
		}
	}
	return nil, errors.Errorf("smtlib: unknown symbol: %s", s)
}

func parseBitLiteral(digits string, base int, bitsPerDigit uint) (Expr, error) {
	width := uint(len(digits)) * bitsPerDigit
	if width == 0 || width > Width64 {
		return nil, errors.Errorf("smtlib: invalid literal width: %d", width)
	}
	value, err := strconv.ParseUint(digits, base, 64)
	if err != nil {
		return nil, errors.Wrap(err, "smtlib")
	}
	return NewConstantExpr(value, width), nil
}

// bvLiteral parses (_ bvN W).
func (p *smtParser) bvLiteral(n *sexp) (Binding, error) {
	if len(n.list) != 3 || n.list[1].isList() || !strings.HasPrefix(n.list[1].atom, "bv") {
		return nil, errors.Errorf("smtlib: invalid indexed literal: %s", n)
	}
	value, err := strconv.ParseUint(strings.TrimPrefix(n.list[1].atom, "bv"), 10, 64)
	if err != nil {
		return nil, errors.Wrap(err, "smtlib")
	}
	width, err := p.index(n.list[2])
	if err != nil {
		return nil, err
	} else if width == 0 || width > Width64 {
		return nil, errors.Errorf("smtlib: invalid literal width: %s", n)
	}
	return NewConstantExpr(value, width), nil
}

func (p *smtParser) index(n *sexp) (uint, error) {
	if n.isList() {
		return 0, errors.Errorf("smtlib: expected numeral: %s", n)
	}
	v, err := strconv.ParseUint(n.atom, 10, 32)
	if err != nil {
		return 0, errors.Wrap(err, "smtlib")
	}
	return uint(v), nil
}

func (p *smtParser) indexed(head *sexp, args []*sexp) (Binding, error) {
	if len(head.list) < 2 || head.list[0].isList() || head.list[0].atom != "_" || head.list[1].isList() {
		return nil, errors.Errorf("smtlib: invalid operator: %s", head)
	} else if len(args) != 1 {
		return nil, errors.Errorf("smtlib: %s expects 1 argument", head)
	}

	x, err := p.term(args[0])
	if err != nil {
		return nil, err
	}
	w := ExprWidth(x)

	switch op := head.list[1].atom; op {
	case "extract":
		if len(head.list) != 4 {
			return nil, errors.Errorf("smtlib: extract expects 2 indices: %s", head)
		}
		hi, err := p.index(head.list[2])
		if err != nil {
			return nil, err
		}
		lo, err := p.index(head.list[3])
		if err != nil {
			return nil, err
		} else if lo > hi || hi >= w {
			return nil, errors.Errorf("smtlib: extract out of range: %s", head)
		}
		return NewExtractExpr(x, lo, hi-lo+1), nil

	case "zero_extend", "sign_extend":
		if len(head.list) != 3 {
			return nil, errors.Errorf("smtlib: %s expects 1 index: %s", op, head)
		}
		k, err := p.index(head.list[2])
		if err != nil {
			return nil, err
		} else if w+k > Width64 {
			return nil, errors.Errorf("smtlib: %s exceeds 64 bits: %s", op, head)
		}
		return NewCastExpr(x, w+k, op == "sign_extend"), nil

	default:
		return nil, errors.Errorf("smtlib: unsupported indexed operator: %s", op)
	}
}

// let parses (let ((x t) ...) body). Bindings are parallel.
func (p *smtParser) let(n *sexp) (Binding, error) {
	if len(n.list) != 3 || !n.list[1].isList() {
		return nil, errors.Errorf("smtlib: invalid let: %s", n)
	}

	scope := make(map[string]Binding)
	for _, pair := range n.list[1].list {
		if !pair.isList() || len(pair.list) != 2 || pair.list[0].isList() {
			return nil, errors.Errorf("smtlib: invalid let binding: %s", pair)
		}
		b, err := p.binding(pair.list[1])
		if err != nil {
			return nil, err
		}
		scope[pair.list[0].atom] = b
	}

	p.scopes = append(p.scopes, scope)
	defer func() { p.scopes = p.scopes[:len(p.scopes)-1] }()
	return p.binding(n.list[2])
}

var smtBinaryOps = map[string]BinaryOp{
	"bvadd":  ADD,
	"bvsub":  SUB,
	"bvmul":  MUL,
	"bvudiv": UDIV,
	"bvsdiv": SDIV,
	"bvurem": UREM,
	"bvsrem": SREM,
	"bvand":  AND,
	"bvor":   OR,
	"bvxor":  XOR,
	"bvshl":  SHL,
	"bvlshr": LSHR,
	"bvashr": ASHR,
	"bvult":  ULT,
	"bvule":  ULE,
	"bvugt":  UGT,
	"bvuge":  UGE,
	"bvslt":  SLT,
	"bvsle":  SLE,
	"bvsgt":  SGT,
	"bvsge":  SGE,
}

func (p *smtParser) apply(n *sexp, op string, args []Expr) (Expr, error) {
	if binop, ok := smtBinaryOps[op]; ok {
		if len(args) != 2 {
			return nil, errors.Errorf("smtlib: %s expects 2 arguments: %s", op, n)
		} else if err := sameWidth(n, args...); err != nil {
			return nil, err
		}
		return NewBinaryExpr(binop, args[0], args[1]), nil
	}

	switch op {
	case "not":
		if err := boolArgs(n, 1, args); err != nil {
			return nil, err
		}
		return NewBoolNotExpr(args[0]), nil

	case "and", "or", "xor":
		if err := boolArgs(n, -1, args); err != nil {
			return nil, err
		}
		result := args[0]
		for _, arg := range args[1:] {
			result = NewBinaryExpr(map[string]BinaryOp{"and": AND, "or": OR, "xor": XOR}[op], result, arg)
		}
		return result, nil

	case "=>":
		if err := boolArgs(n, -1, args); err != nil {
			return nil, err
		}
		// Right associative.
		result := args[len(args)-1]
		for i := len(args) - 2; i >= 0; i-- {
			result = NewImpliesExpr(args[i], result)
		}
		return result, nil

	case "=":
		if len(args) < 2 {
			return nil, errors.Errorf("smtlib: = expects at least 2 arguments: %s", n)
		} else if err := sameWidth(n, args...); err != nil {
			return nil, err
		}
		var conjuncts []Expr
		for i := 1; i < len(args); i++ {
			conjuncts = append(conjuncts, NewBinaryExpr(EQ, args[i-1], args[i]))
		}
		return NewAndExpr(conjuncts...), nil

	case "distinct":
		if len(args) < 2 {
			return nil, errors.Errorf("smtlib: distinct expects at least 2 arguments: %s", n)
		} else if err := sameWidth(n, args...); err != nil {
			return nil, err
		}
		var conjuncts []Expr
		for i := range args {
			for j := i + 1; j < len(args); j++ {
				conjuncts = append(conjuncts, NewBinaryExpr(NE, args[i], args[j]))
			}
		}
		return NewAndExpr(conjuncts...), nil

	case "ite":
		if len(args) != 3 {
			return nil, errors.Errorf("smtlib: ite expects 3 arguments: %s", n)
		} else if ExprWidth(args[0]) != WidthBool {
			return nil, errors.Errorf("smtlib: ite condition must be boolean: %s", n)
		} else if err := sameWidth(n, args[1], args[2]); err != nil {
			return nil, err
		}
		return NewIteExpr(args[0], args[1], args[2]), nil

	case "bvnot":
		if len(args) != 1 {
			return nil, errors.Errorf("smtlib: bvnot expects 1 argument: %s", n)
		}
		return NewNotExpr(args[0]), nil

	case "bvneg":
		if len(args) != 1 {
			return nil, errors.Errorf("smtlib: bvneg expects 1 argument: %s", n)
		}
		return NewBinaryExpr(SUB, NewConstantExpr(0, ExprWidth(args[0])), args[0]), nil

	case "concat":
		if len(args) < 2 {
			return nil, errors.Errorf("smtlib: concat expects at least 2 arguments: %s", n)
		}
		var total uint
		for _, arg := range args {
			total += ExprWidth(arg)
		}
		if total > Width64 {
			return nil, errors.Errorf("smtlib: concat exceeds 64 bits: %s", n)
		}
		result := args[len(args)-1]
		for i := len(args) - 2; i >= 0; i-- {
			result = NewConcatExpr(args[i], result)
		}
		return result, nil

	default:
		return nil, errors.Errorf("smtlib: unsupported operator: %s", op)
	}
}

func sameWidth(n *sexp, args ...Expr) error {
	for _, arg := range args[1:] {
		if ExprWidth(arg) != ExprWidth(args[0]) {
			return errors.Errorf("smtlib: width mismatch: %s", n)
		}
	}
	return nil
}

// boolArgs verifies that args are boolean. A negative count requires at
// least one argument.
func boolArgs(n *sexp, count int, args []Expr) error {
	if count >= 0 && len(args) != count {
		return errors.Errorf("smtlib: expected %d arguments: %s", count, n)
	} else if len(args) == 0 {
		return errors.Errorf("smtlib: expected arguments: %s", n)
	}
	for _, arg := range args {
		if ExprWidth(arg) != WidthBool {
			return errors.Errorf("smtlib: expected boolean argument: %s", n)
		}
	}
	return nil
}
