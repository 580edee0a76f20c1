package wp

import (
	"sort"
)

// Arch describes the register file and calling convention of a target.
type Arch struct {
	Name         string
	AddrWidth    uint
	LittleEndian bool

	// Registers maps each register name to its width in bits.
	Registers map[string]uint

	// StackPointer is empty if the target has no designated stack pointer.
	StackPointer string

	CallerSaved []string
	ArgRegs     []string
	ReturnRegs  []string
}

// RegisterNames returns the sorted register names of the architecture.
func (a *Arch) RegisterNames() []string {
	names := make([]string, 0, len(a.Registers))
	for name := range a.Registers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasStackPointer returns true if the architecture designates a stack pointer.
func (a *Arch) HasStackPointer() bool {
	return a.StackPointer != ""
}

// Built-in architectures.
var (
	ArchX86_64 = &Arch{
		Name:         "x86_64",
		AddrWidth:    Width64,
		LittleEndian: true,
		Registers: regs(Width64,
			"RAX", "RBX", "RCX", "RDX", "RSI", "RDI", "RSP", "RBP",
			"R8", "R9", "R10", "R11", "R12", "R13", "R14", "R15",
		),
		StackPointer: "RSP",
		CallerSaved:  []string{"RAX", "RCX", "RDX", "RSI", "RDI", "R8", "R9", "R10", "R11"},
		ArgRegs:      []string{"RDI", "RSI", "RDX", "RCX", "R8", "R9"},
		ReturnRegs:   []string{"RAX"},
	}

	ArchARM64 = &Arch{
		Name:         "arm64",
		AddrWidth:    Width64,
		LittleEndian: true,
		Registers: regs(Width64,
			"X0", "X1", "X2", "X3", "X4", "X5", "X6", "X7",
			"X8", "X9", "X10", "X11", "X12", "X13", "X14", "X15",
			"X16", "X17", "X18", "X19", "X20", "X21", "X22", "X23",
			"X24", "X25", "X26", "X27", "X28", "X29", "X30", "SP",
		),
		StackPointer: "SP",
		CallerSaved: []string{
			"X0", "X1", "X2", "X3", "X4", "X5", "X6", "X7",
			"X8", "X9", "X10", "X11", "X12", "X13", "X14", "X15",
			"X16", "X17", "X18",
		},
		ArgRegs:    []string{"X0", "X1", "X2", "X3", "X4", "X5", "X6", "X7"},
		ReturnRegs: []string{"X0"},
	}

	// ArchGoSSA is the pseudo architecture of functions lifted from Go SSA.
	// Parameters and results live in fixed pseudo registers and there is no
	// stack pointer.
	ArchGoSSA = &Arch{
		Name:         "go-ssa",
		AddrWidth:    Width64,
		LittleEndian: true,
		Registers: regs(Width64,
			"arg0", "arg1", "arg2", "arg3", "arg4", "arg5",
			"ret0", "ret1",
		),
		ArgRegs:    []string{"arg0", "arg1", "arg2", "arg3", "arg4", "arg5"},
		ReturnRegs: []string{"ret0", "ret1"},
	}
)

var archs = map[string]*Arch{
	ArchX86_64.Name: ArchX86_64,
	ArchARM64.Name:  ArchARM64,
	ArchGoSSA.Name:  ArchGoSSA,
}

// LookupArch returns a built-in architecture by name. Returns nil if not found.
func LookupArch(name string) *Arch {
	return archs[name]
}

func regs(width uint, names ...string) map[string]uint {
	m := make(map[string]uint, len(names))
	for _, name := range names {
		m[name] = width
	}
	return m
}
