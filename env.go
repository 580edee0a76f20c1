package wp

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/benbjohnson/immutable"
	"github.com/davecgh/go-spew/spew"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Default stack range used for the stack pointer hypothesis.
const (
	DefaultStackBase = 0x40000000
	DefaultStackSize = 0x800000
)

// DefaultFreshSuffix is appended to names introduced by a freshened environment.
const DefaultFreshSuffix = "_fresh"

// Binding kinds used as key prefixes in the environment.
const (
	kindVar   = "var"
	kindInit  = "init"
	kindFlag  = "flag"
	kindMem   = "mem"
	kindFresh = "fresh"
)

// Namer tracks which environment owns each symbolic name within one run.
// Environments that are compared against each other must share a Namer.
type Namer struct {
	nextID int
	owners map[string]int
}

// NewNamer returns a new instance of Namer.
func NewNamer() *Namer {
	return &Namer{owners: make(map[string]int)}
}

func (n *Namer) newID() int {
	n.nextID++
	return n.nextID
}

// Owned returns true if name has been introduced by any environment.
func (n *Namer) Owned(name string) bool {
	_, ok := n.owners[name]
	return ok
}

// Env represents the symbolic state of one subroutine in one binary.
type Env struct {
	id    int
	prog  *Program
	arch  *Arch
	namer *Namer

	specs        []FunctionSpec
	hooks        []Hook
	stackBase    uint64
	stackSize    uint64
	useInputRegs bool
	unroll       int
	inline       *regexp.Regexp
	logger       *zap.Logger

	freshened   bool
	freshSuffix string
	nextFresh   int

	// Introduced bindings keyed by kind and program name.
	bindings *immutable.SortedMap

	loopBoundHit bool
}

// EnvOption configures an environment.
type EnvOption func(*Env)

// WithArch overrides the architecture named by the program.
func WithArch(arch *Arch) EnvOption {
	return func(env *Env) { env.arch = arch }
}

// WithSpecs sets the function spec chain. The catch-all spec is appended if missing.
func WithSpecs(specs ...FunctionSpec) EnvOption {
	return func(env *Env) { env.specs = NewSpecChain(specs...) }
}

// WithHooks sets the expected-condition hooks invoked at memory accesses.
func WithHooks(hooks ...Hook) EnvOption {
	return func(env *Env) { env.hooks = append(env.hooks, hooks...) }
}

// WithStackRange sets the stack base address and size.
func WithStackRange(base, size uint64) EnvOption {
	return func(env *Env) { env.stackBase, env.stackSize = base, size }
}

// WithUseInputRegs sets whether summarized calls derive their outputs from
// the argument registers.
func WithUseInputRegs(v bool) EnvOption {
	return func(env *Env) { env.useInputRegs = v }
}

// WithUnroll sets the loop unrolling bound.
func WithUnroll(n int) EnvOption {
	return func(env *Env) { env.unroll = n }
}

// WithInline sets the pattern of callees whose bodies are inlined.
func WithInline(re *regexp.Regexp) EnvOption {
	return func(env *Env) { env.inline = re }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) EnvOption {
	return func(env *Env) { env.logger = logger }
}

// WithNamer sets the run context shared by compared environments.
func WithNamer(namer *Namer) EnvOption {
	return func(env *Env) { env.namer = namer }
}

// WithFreshSuffix sets the suffix used once the environment is freshened.
func WithFreshSuffix(suffix string) EnvOption {
	return func(env *Env) { env.freshSuffix = suffix }
}

// NewEnv returns a new environment for analyzing subroutines of prog.
// Every register of the architecture is introduced in sorted order.
func NewEnv(prog *Program, opts ...EnvOption) (*Env, error) {
	env := &Env{
		prog:         prog,
		specs:        DefaultSpecs(),
		stackBase:    DefaultStackBase,
		stackSize:    DefaultStackSize,
		useInputRegs: true,
		unroll:       DefaultLoopUnroll,
		logger:       zap.NewNop(),
		freshSuffix:  DefaultFreshSuffix,
		bindings:     immutable.NewSortedMap(&stringComparer{}),
	}
	for _, opt := range opts {
		opt(env)
	}

	if env.arch == nil {
		if env.arch = LookupArch(prog.Arch); env.arch == nil {
			return nil, errors.Errorf("wp: unknown architecture: %q", prog.Arch)
		}
	}
	if env.unroll < 0 {
		return nil, errors.Errorf("wp: invalid unroll bound: %d", env.unroll)
	}
	if env.namer == nil {
		env.namer = NewNamer()
	}
	env.id = env.namer.newID()

	env.InitialVars()
	return env, nil
}

// Freshen returns a copy of env whose names are disjoint from every name
// introduced by other environments sharing its Namer. Names already
// introduced by env are renamed and the renaming is returned.
//
// Freshening must happen before any constraint is built from env.
func Freshen(env *Env) (*Env, Substitution) {
	other := *env
	other.id = env.namer.newID()
	other.freshened = true
	other.bindings = immutable.NewSortedMap(&stringComparer{})

	renaming := make(Substitution)
	itr := env.bindings.Iterator()
	for !itr.Done() {
		k, v := itr.Next()
		kind, base := splitKey(k.(string))
		name := other.claim(base)

		var b Binding
		switch v := v.(type) {
		case *VarExpr:
			b = NewVarExpr(name, v.Width)
			renaming[v.Name] = b
		case *Array:
			b = NewArray(name)
			renaming[v.Name] = b
		}
		other.bindings = other.bindings.Set(bindingKey(kind, base), b)
	}

	env.logger.Debug("[wp] freshen", zap.Int("renamed", len(renaming)))
	return &other, renaming
}

// claim returns a symbolic name for base owned by env.
func (env *Env) claim(base string) string {
	if !env.freshened {
		if _, ok := env.namer.owners[base]; !ok {
			env.namer.owners[base] = env.id
		}
		return base
	}

	name := base + env.freshSuffix
	for i := 1; ; i++ {
		if owner, ok := env.namer.owners[name]; !ok || owner == env.id {
			break
		}
		name = base + env.freshSuffix + "_" + strconv.Itoa(i)
	}
	env.namer.owners[name] = env.id
	return name
}

// lookup returns an existing binding or introduces one using fn.
func (env *Env) lookup(kind, base string, fn func(name string) Binding) Binding {
	key := bindingKey(kind, base)
	if v, ok := env.bindings.Get(key); ok {
		return v.(Binding)
	}
	b := fn(env.claim(base))
	env.bindings = env.bindings.Set(key, b)
	return b
}

// Program returns the program under analysis.
func (env *Env) Program() *Program { return env.prog }

// Arch returns the architecture of the program.
func (env *Env) Arch() *Arch { return env.arch }

// Specs returns the function spec chain.
func (env *Env) Specs() []FunctionSpec { return env.specs }

// Hooks returns the expected-condition hooks.
func (env *Env) Hooks() []Hook { return env.hooks }

// StackRange returns the stack base address and size.
func (env *Env) StackRange() (base, size uint64) { return env.stackBase, env.stackSize }

// UseInputRegs returns true if call summaries depend on argument registers.
func (env *Env) UseInputRegs() bool { return env.useInputRegs }

// Unroll returns the loop unrolling bound.
func (env *Env) Unroll() int { return env.unroll }

// Logger returns the environment's logger.
func (env *Env) Logger() *zap.Logger { return env.logger }

// Freshened returns true if env was produced by Freshen.
func (env *Env) Freshened() bool { return env.freshened }

// ShouldInline returns true if calls to callee should be inlined.
func (env *Env) ShouldInline(callee string) bool {
	return env.inline != nil && env.inline.MatchString(callee)
}

// LoopBoundHit returns true if any loop was truncated at the unroll bound.
func (env *Env) LoopBoundHit() bool { return env.loopBoundHit }

// InitialVars returns the symbolic variables of every register, sorted by
// register name.
func (env *Env) InitialVars() []*VarExpr {
	names := env.arch.RegisterNames()
	a := make([]*VarExpr, len(names))
	for i, name := range names {
		a[i] = env.Var(name, env.arch.Registers[name])
	}
	return a
}

// Register returns the symbolic variable of a register.
func (env *Env) Register(name string) (*VarExpr, bool) {
	width, ok := env.arch.Registers[name]
	if !ok {
		return nil, false
	}
	return env.Var(name, width), true
}

// Var returns the symbolic variable of a program variable.
func (env *Env) Var(name string, width uint) *VarExpr {
	v := env.lookup(kindVar, name, func(sym string) Binding {
		return NewVarExpr(sym, width)
	}).(*VarExpr)
	assert(v.Width == width, "var %s: width mismatch: %d != %d", name, v.Width, width)
	return v
}

// InitVar returns the variable holding the value of a register at entry.
func (env *Env) InitVar(name string) (*VarExpr, bool) {
	width, ok := env.arch.Registers[name]
	if !ok {
		return nil, false
	}
	return env.lookup(kindInit, "init_"+name, func(sym string) Binding {
		return NewVarExpr(sym, width)
	}).(*VarExpr), true
}

// CallFlag returns the boolean variable that is true once callee has been called.
func (env *Env) CallFlag(callee string) *VarExpr {
	return env.lookup(kindFlag, "called_"+callee, func(sym string) Binding {
		return NewVarExpr(sym, WidthBool)
	}).(*VarExpr)
}

// CallFlags returns all call flags introduced so far, sorted by name.
func (env *Env) CallFlags() []*VarExpr {
	var a []*VarExpr
	itr := env.bindings.Iterator()
	for !itr.Done() {
		k, v := itr.Next()
		if kind, _ := splitKey(k.(string)); kind == kindFlag {
			a = append(a, v.(*VarExpr))
		}
	}
	return a
}

// Memory returns the memory array at the current program point.
func (env *Env) Memory() *Array {
	return env.lookup(kindMem, MemoryName, func(sym string) Binding {
		return NewArray(sym)
	}).(*Array)
}

// FreshVar introduces a new unconstrained variable derived from base.
func (env *Env) FreshVar(base string, width uint) *VarExpr {
	for {
		env.nextFresh++
		name := base + "_" + strconv.Itoa(env.nextFresh)
		if env.freshened || !env.namer.Owned(name) {
			return env.lookup(kindFresh, name, func(sym string) Binding {
				return NewVarExpr(sym, width)
			}).(*VarExpr)
		}
	}
}

// Introduced returns the sorted symbolic names introduced by env.
func (env *Env) Introduced() []string {
	var a []string
	itr := env.bindings.Iterator()
	for !itr.Done() {
		_, v := itr.Next()
		switch v := v.(type) {
		case *VarExpr:
			a = append(a, v.Name)
		case *Array:
			a = append(a, v.Name)
		}
	}
	sort.Strings(a)
	return a
}

// Translate rewrites an IR expression over program variables into the
// environment's symbolic variables.
func (env *Env) Translate(expr Expr) Expr {
	s := make(Substitution)
	for _, v := range FindVars(expr) {
		s[v.Name] = env.Var(v.Name, v.Width)
	}
	for _, name := range FindArrays(expr) {
		if name == MemoryName {
			s[name] = env.Memory()
		}
	}
	return SubstituteExpr(expr, s)
}

// Dump returns a human readable representation of the introduced bindings.
func (env *Env) Dump() string {
	m := make(map[string]string)
	itr := env.bindings.Iterator()
	for !itr.Done() {
		k, v := itr.Next()
		m[k.(string)] = v.(Binding).String()
	}
	return spew.Sdump(struct {
		Arch      string
		Freshened bool
		Bindings  map[string]string
	}{env.arch.Name, env.freshened, m})
}

// String returns a short description of the environment.
func (env *Env) String() string {
	return fmt.Sprintf("Env<%s freshened=%v vars=%d>", env.arch.Name, env.freshened, env.bindings.Len())
}

func (env *Env) markLoopBound() {
	env.loopBoundHit = true
}

func bindingKey(kind, base string) string { return kind + ":" + base }

func splitKey(key string) (kind, base string) {
	i := strings.IndexByte(key, ':')
	return key[:i], key[i+1:]
}

// stringComparer compares two strings. Implements immutable.Comparer.
type stringComparer struct{}

// Compare returns -1 if a is less than b, returns 1 if a is greater than b, and
// returns 0 if a is equal to b. Panic if a or b is not a string.
func (c *stringComparer) Compare(a, b interface{}) int {
	return strings.Compare(a.(string), b.(string))
}
