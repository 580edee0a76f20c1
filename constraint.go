package wp

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Constraint represents a node of a verification condition tree.
type Constraint interface {
	constraint()
	String() string
}

func (*Goal) constraint()   {}
func (*ITE) constraint()    {}
func (*Clause) constraint() {}
func (*Subst) constraint()  {}

// Goal is an atomic boolean obligation tagged with a name used when
// reporting counterexamples.
type Goal struct {
	Name string
	Expr Expr

	// Truncated marks a goal that stands in for paths cut at the loop
	// unrolling bound.
	Truncated bool
}

// NewGoal returns a new instance of Goal.
func NewGoal(name string, expr Expr) *Goal {
	assert(ExprWidth(expr) == WidthBool, "goal %q: non-boolean expression", name)
	return &Goal{Name: name, Expr: expr}
}

// NewTrivialGoal returns a goal that always holds.
func NewTrivialGoal(name string) *Goal {
	return NewGoal(name, NewBoolConstantExpr(true))
}

// NewTruncatedGoal returns a trivial goal marking paths cut at the loop
// unrolling bound.
func NewTruncatedGoal(name string) *Goal {
	g := NewTrivialGoal(name)
	g.Truncated = true
	return g
}

func (g *Goal) String() string { return fmt.Sprintf("(goal %q %s)", g.Name, g.Expr) }

// ITE represents a conditional branch: Then must hold if Cond holds and Else
// must hold otherwise.
type ITE struct {
	Name string
	Cond Expr
	Then Constraint
	Else Constraint
}

// NewITE returns a new instance of ITE.
func NewITE(name string, cond Expr, then, els Constraint) *ITE {
	assert(ExprWidth(cond) == WidthBool, "ite %q: non-boolean condition", name)
	return &ITE{Name: name, Cond: cond, Then: then, Else: els}
}

func (c *ITE) String() string {
	return fmt.Sprintf("(ite %s %s %s)", c.Cond, c.Then, c.Else)
}

// Clause represents the conjunction of Concs under the conjunction of Hyps.
type Clause struct {
	Hyps  []Constraint
	Concs []Constraint
}

// NewClause returns a new instance of Clause.
func NewClause(hyps, concs []Constraint) *Clause {
	return &Clause{Hyps: hyps, Concs: concs}
}

// NewConjunction returns a clause without hypotheses.
func NewConjunction(concs ...Constraint) Constraint {
	if len(concs) == 1 {
		return concs[0]
	}
	return &Clause{Concs: concs}
}

func (c *Clause) String() string {
	var buf strings.Builder
	buf.WriteString("(clause (")
	for i, h := range c.Hyps {
		if i > 0 {
			buf.WriteString(" ")
		}
		buf.WriteString(h.String())
	}
	buf.WriteString(") (")
	for i, h := range c.Concs {
		if i > 0 {
			buf.WriteString(" ")
		}
		buf.WriteString(h.String())
	}
	buf.WriteString("))")
	return buf.String()
}

// Subst represents a pending simultaneous substitution over Body. Bindings
// are applied lazily when the tree is flattened.
type Subst struct {
	Subs Substitution
	Body Constraint
}

// NewSubst returns a new instance of Subst. Returns body if s is empty.
func NewSubst(s Substitution, body Constraint) Constraint {
	if len(s) == 0 {
		return body
	}
	return &Subst{Subs: s, Body: body}
}

func (c *Subst) String() string {
	var buf strings.Builder
	buf.WriteString("(subst (")
	for i, name := range sortedBindingNames(c.Subs) {
		if i > 0 {
			buf.WriteString(" ")
		}
		fmt.Fprintf(&buf, "%s := %s", name, c.Subs[name])
	}
	fmt.Fprintf(&buf, ") %s)", c.Body)
	return buf.String()
}

// Eval flattens c into a single boolean expression. Pending substitutions
// are pushed into the goals beneath them.
//
// Nodes reached along several edges are flattened once. Where the incoming
// substitutions disagree on a name, the name is bound to a fresh variable
// and each edge constrains it to its own value, so the result grows linearly
// with the number of nodes instead of the number of paths. Edges under a
// constant false condition are dropped.
func Eval(c Constraint) Expr {
	expr, _ := flatten(c)
	return expr
}

// flatten returns the flattened expression of c and whether a truncated goal
// is reachable along an edge that is not constant false.
func flatten(c Constraint) (Expr, bool) {
	f := &flattener{
		in:    make(map[Constraint][]incoming),
		nodes: make(map[Constraint]*flatNode),
		x:     &expander{memo: make(map[expandKey]Expr)},
	}
	expr := f.flatten(c)
	return expr, f.truncated
}

// pending holds the substitution accumulated from enclosing Subst nodes.
type pending struct {
	s Substitution
}

// compose returns the substitution that applies s and then p.
func (p *pending) compose(s Substitution) *pending {
	other := make(Substitution, len(p.s)+len(s))
	for name, b := range p.s {
		other[name] = b
	}
	for name, b := range s {
		switch b := b.(type) {
		case Expr:
			other[name] = SubstituteExpr(b, p.s)
		case *Array:
			other[name] = SubstituteArray(b, p.s)
		}
	}
	return &pending{s: other}
}

// edge identifies the i-th child of parent.
type edge struct {
	parent Constraint
	i      int
}

type incoming struct {
	edge edge
	p    *pending
}

type flatNode struct {
	p      *pending
	guards map[edge][]Expr // merge equalities per incoming edge
	cond   Expr            // substituted ITE condition
	hyp    Expr            // substituted clause hypotheses
	expr   Expr
}

type flattener struct {
	in        map[Constraint][]incoming
	nodes     map[Constraint]*flatNode
	x         *expander
	n         int
	truncated bool
}

func (f *flattener) flatten(root Constraint) Expr {
	order := topoSort(root)
	f.in[root] = []incoming{{p: &pending{}}}

	// Push substitutions from the root down, merging at shared nodes.
	for _, c := range order {
		in := f.in[c]
		if len(in) == 0 {
			continue
		}
		n := &flatNode{}
		n.p, n.guards = f.merge(in)
		f.nodes[c] = n

		switch c := c.(type) {
		case *Goal:
			if c.Truncated {
				f.truncated = true
			}
		case *ITE:
			n.cond = SubstituteExpr(c.Cond, n.p.s)
			if !IsConstantFalse(n.cond) {
				f.link(c, 0, c.Then, n.p)
			}
			if !IsConstantTrue(n.cond) {
				f.link(c, 1, c.Else, n.p)
			}
		case *Clause:
			hyps := make([]Expr, len(c.Hyps))
			for i, h := range c.Hyps {
				hyps[i] = f.x.expand(h, n.p)
			}
			n.hyp = NewAndExpr(hyps...)
			if !IsConstantFalse(n.hyp) {
				for i, conc := range c.Concs {
					f.link(c, i, conc, n.p)
				}
			}
		case *Subst:
			f.link(c, 0, c.Body, n.p.compose(c.Subs))
		default:
			panic(fmt.Sprintf("unreachable: %T", c))
		}
	}

	// Build expressions from the leaves up.
	for i := len(order) - 1; i >= 0; i-- {
		c := order[i]
		n := f.nodes[c]
		if n == nil {
			continue
		}

		switch c := c.(type) {
		case *Goal:
			n.expr = SubstituteExpr(c.Expr, n.p.s)
		case *ITE:
			switch {
			case IsConstantTrue(n.cond):
				n.expr = f.edge(c, 0, c.Then)
			case IsConstantFalse(n.cond):
				n.expr = f.edge(c, 1, c.Else)
			default:
				n.expr = NewBinaryExpr(AND,
					NewImpliesExpr(n.cond, f.edge(c, 0, c.Then)),
					NewImpliesExpr(NewBoolNotExpr(n.cond), f.edge(c, 1, c.Else)),
				)
			}
		case *Clause:
			if IsConstantFalse(n.hyp) {
				n.expr = NewBoolConstantExpr(true)
				break
			}
			concs := make([]Expr, len(c.Concs))
			for i, conc := range c.Concs {
				concs[i] = f.edge(c, i, conc)
			}
			n.expr = NewImpliesExpr(n.hyp, NewAndExpr(concs...))
		case *Subst:
			n.expr = f.edge(c, 0, c.Body)
		}
	}
	return f.nodes[root].expr
}

func (f *flattener) link(parent Constraint, i int, child Constraint, p *pending) {
	f.in[child] = append(f.in[child], incoming{edge: edge{parent: parent, i: i}, p: p})
}

// edge returns the expression of child as seen from the i-th edge of parent.
func (f *flattener) edge(parent Constraint, i int, child Constraint) Expr {
	n := f.nodes[child]
	guards := n.guards[edge{parent: parent, i: i}]
	if len(guards) == 0 {
		return n.expr
	}
	return NewImpliesExpr(NewAndExpr(guards...), n.expr)
}

// merge returns a single substitution for a node with the given incoming
// substitutions and the equalities each edge must satisfy.
func (f *flattener) merge(in []incoming) (*pending, map[edge][]Expr) {
	same := true
	for _, x := range in[1:] {
		same = same && x.p == in[0].p
	}
	if same {
		return in[0].p, nil
	}

	kinds := make(map[string]Binding)
	for _, x := range in {
		for name, b := range x.p.s {
			kinds[name] = b
		}
	}

	s := make(Substitution, len(kinds))
	guards := make(map[edge][]Expr, len(in))
	for _, name := range sortedBindingNames(kinds) {
		values := make([]Binding, len(in))
		for i, x := range in {
			b, ok := x.p.s[name]
			if !ok {
				b = identityBinding(name, kinds[name])
			}
			values[i] = b
		}

		if allBindingsEqual(values) {
			s[name] = values[0]
			continue
		}

		f.n++
		fresh := fmt.Sprintf("%s!%d", name, f.n)
		switch v := values[0].(type) {
		case Expr:
			tmp := NewVarExpr(fresh, ExprWidth(v))
			s[name] = tmp
			for i, x := range in {
				guards[x.edge] = append(guards[x.edge], NewBinaryExpr(EQ, tmp, values[i].(Expr)))
			}
		case *Array:
			tmp := NewArray(fresh)
			s[name] = tmp
			for i, x := range in {
				guards[x.edge] = append(guards[x.edge], NewArrayEqExpr(tmp, values[i].(*Array)))
			}
		}
	}
	return &pending{s: s}, guards
}

// identityBinding returns the binding that leaves name unchanged. kind is
// another binding of name used for its type and width.
func identityBinding(name string, kind Binding) Binding {
	switch kind := kind.(type) {
	case *Array:
		return NewArray(name)
	case Expr:
		return NewVarExpr(name, ExprWidth(kind))
	default:
		panic(fmt.Sprintf("unreachable: %T", kind))
	}
}

func allBindingsEqual(values []Binding) bool {
	for _, v := range values[1:] {
		if v == values[0] {
			continue
		}
		switch v := v.(type) {
		case Expr:
			other, ok := values[0].(Expr)
			if !ok || CompareExpr(v, other) != 0 {
				return false
			}
		case *Array:
			other, ok := values[0].(*Array)
			if !ok || CompareArray(v, other) != 0 {
				return false
			}
		}
	}
	return true
}

// topoSort returns the nodes reachable from root through branches,
// conclusions and substitution bodies, parents before children.
func topoSort(root Constraint) []Constraint {
	var post []Constraint
	seen := make(map[Constraint]struct{})

	var visit func(c Constraint)
	visit = func(c Constraint) {
		if _, ok := seen[c]; ok {
			return
		}
		seen[c] = struct{}{}

		switch c := c.(type) {
		case *ITE:
			visit(c.Then)
			visit(c.Else)
		case *Clause:
			for _, conc := range c.Concs {
				visit(conc)
			}
		case *Subst:
			visit(c.Body)
		}
		post = append(post, c)
	}
	visit(root)

	for i, j := 0, len(post)-1; i < j; i, j = i+1, j-1 {
		post[i], post[j] = post[j], post[i]
	}
	return post
}

type expandKey struct {
	c Constraint
	p *pending
}

// expander flattens small constraints such as hypotheses directly under a
// substitution without merging.
type expander struct {
	memo map[expandKey]Expr
}

func (e *expander) expand(c Constraint, p *pending) Expr {
	key := expandKey{c: c, p: p}
	if expr, ok := e.memo[key]; ok {
		return expr
	}

	var expr Expr
	switch c := c.(type) {
	case *Goal:
		expr = SubstituteExpr(c.Expr, p.s)
	case *ITE:
		cond := SubstituteExpr(c.Cond, p.s)
		expr = NewBinaryExpr(AND,
			NewImpliesExpr(cond, e.expand(c.Then, p)),
			NewImpliesExpr(NewBoolNotExpr(cond), e.expand(c.Else, p)),
		)
	case *Clause:
		hyps := make([]Expr, len(c.Hyps))
		for i, h := range c.Hyps {
			hyps[i] = e.expand(h, p)
		}
		concs := make([]Expr, len(c.Concs))
		for i, conc := range c.Concs {
			concs[i] = e.expand(conc, p)
		}
		expr = NewImpliesExpr(NewAndExpr(hyps...), NewAndExpr(concs...))
	case *Subst:
		expr = e.expand(c.Body, p.compose(c.Subs))
	default:
		panic(fmt.Sprintf("unreachable: %T", c))
	}

	e.memo[key] = expr
	return expr
}

// Stats holds node counts of a constraint tree.
type Stats struct {
	Goals   int
	ITEs    int
	Clauses int
	Substs  int
}

// CountStats returns the number of distinct nodes of each kind in c.
func CountStats(c Constraint) Stats {
	var stats Stats
	seen := make(map[Constraint]struct{})

	var walk func(c Constraint)
	walk = func(c Constraint) {
		if _, ok := seen[c]; ok {
			return
		}
		seen[c] = struct{}{}

		switch c := c.(type) {
		case *Goal:
			stats.Goals++
		case *ITE:
			stats.ITEs++
			walk(c.Then)
			walk(c.Else)
		case *Clause:
			stats.Clauses++
			for _, h := range c.Hyps {
				walk(h)
			}
			for _, conc := range c.Concs {
				walk(conc)
			}
		case *Subst:
			stats.Substs++
			walk(c.Body)
		}
	}
	walk(c)
	return stats
}

// LogStats writes the node counts of c to the logger at debug level.
func LogStats(logger *zap.Logger, c Constraint) {
	stats := CountStats(c)
	logger.Debug("[wp] constraint stats",
		zap.Int("goals", stats.Goals),
		zap.Int("ites", stats.ITEs),
		zap.Int("clauses", stats.Clauses),
		zap.Int("substs", stats.Substs),
	)
}

// RefutedGoals returns the names of the goals that are violated under model
// on the execution path the model selects. Symbols missing from the model
// are treated as zero.
func RefutedGoals(c Constraint, model *Model) []string {
	ee := NewExprEvaluator(model)
	ee.Complete = true
	ex := &expander{memo: make(map[expandKey]Expr)}

	var names []string
	seen := make(map[string]struct{})

	holds := func(expr Expr, p *pending) (bool, bool) {
		value, err := ee.Evaluate(SubstituteExpr(expr, p.s))
		if err != nil {
			return false, false
		}
		return value.IsTrue(), true
	}

	var walk func(c Constraint, p *pending)
	walk = func(c Constraint, p *pending) {
		switch c := c.(type) {
		case *Goal:
			if ok, known := holds(c.Expr, p); known && !ok {
				if _, dup := seen[c.Name]; !dup {
					seen[c.Name] = struct{}{}
					names = append(names, c.Name)
				}
			}
		case *ITE:
			cond, known := holds(c.Cond, p)
			if !known {
				return
			} else if cond {
				walk(c.Then, p)
			} else {
				walk(c.Else, p)
			}
		case *Clause:
			for _, h := range c.Hyps {
				if ok, known := holds(ex.expand(h, p), &pending{}); !known || !ok {
					return // hypothesis does not hold, conclusions are vacuous
				}
			}
			for _, conc := range c.Concs {
				walk(conc, p)
			}
		case *Subst:
			walk(c.Body, p.compose(c.Subs))
		}
	}
	walk(c, &pending{})
	return names
}

func sortedBindingNames(s Substitution) []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
