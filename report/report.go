// Package report renders verification results as YAML and as gdb scripts
// that replay a counterexample.
package report

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/benbjohnson/wp"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Side names used in comparative mode.
const (
	SideOriginal = "original"
	SideModified = "modified"
)

// Report represents the outcome of checking one function.
type Report struct {
	Function     string   `yaml:"function"`
	Verdict      string   `yaml:"verdict"`
	Exact        bool     `yaml:"exact"`
	Reason       string   `yaml:"reason,omitempty"`
	RefutedGoals []string `yaml:"refuted_goals,omitempty"`
	Sides        []Side   `yaml:"sides,omitempty"`
}

// Side holds the entry state of one program in a counterexample.
type Side struct {
	Name      string     `yaml:"name,omitempty"`
	Registers []Register `yaml:"registers,omitempty"`
	Memory    []Byte     `yaml:"memory,omitempty"`
}

type Register struct {
	Name  string `yaml:"name"`
	Value Hex    `yaml:"value"`
}

type Byte struct {
	Addr  Hex `yaml:"addr"`
	Value Hex `yaml:"value"`
}

// Hex is an integer written in hexadecimal.
type Hex uint64

func (v Hex) String() string { return "0x" + strconv.FormatUint(uint64(v), 16) }

// MarshalYAML writes the value as a string so it is not read back as decimal.
func (v Hex) MarshalYAML() (any, error) {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v.String()}, nil
}

// UnmarshalYAML parses a hexadecimal string.
func (v *Hex) UnmarshalYAML(node *yaml.Node) error {
	u, err := strconv.ParseUint(strings.TrimPrefix(node.Value, "0x"), 16, 64)
	if err != nil {
		return errors.Wrapf(err, "report: invalid hex value %q", node.Value)
	}
	*v = Hex(u)
	return nil
}

// Env names the environment of one side of a check.
type Env struct {
	Name string
	Env  *wp.Env
}

// New returns a report of result. The entry state of each environment is
// included when the result holds a counterexample.
func New(function string, result *wp.Result, envs ...Env) *Report {
	r := &Report{
		Function:     function,
		Verdict:      result.Verdict.String(),
		Exact:        result.Exact,
		Reason:       result.Reason,
		RefutedGoals: result.RefutedGoals,
	}
	if result.Model == nil {
		return r
	}

	for _, env := range envs {
		side := Side{Name: env.Name}
		for _, reg := range wp.ExtractRegisters(result.Model, env.Env) {
			side.Registers = append(side.Registers, Register{Name: reg.Name, Value: Hex(reg.Value)})
		}
		for _, b := range wp.ExtractMemory(result.Model, env.Env) {
			side.Memory = append(side.Memory, Byte{Addr: Hex(b.Addr), Value: Hex(b.Value)})
		}
		r.Sides = append(r.Sides, side)
	}
	return r
}

// Side returns the side with the given name. Returns nil if not found.
func (r *Report) Side(name string) *Side {
	for i := range r.Sides {
		if r.Sides[i].Name == name {
			return &r.Sides[i]
		}
	}
	return nil
}

// WriteYAML writes r to w.
func WriteYAML(w io.Writer, r *Report) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return err
	}
	return enc.Close()
}

// WriteGDB writes a gdb script that stops at function and sets the entry
// state of side before continuing.
func WriteGDB(w io.Writer, function string, side *Side) error {
	bw := bufio.NewWriter(w)
	if side.Name != "" {
		fmt.Fprintf(bw, "# counterexample for %s (%s)\n", function, side.Name)
	} else {
		fmt.Fprintf(bw, "# counterexample for %s\n", function)
	}
	fmt.Fprintf(bw, "break %s\n", function)
	fmt.Fprintln(bw, "run")
	for _, reg := range side.Registers {
		fmt.Fprintf(bw, "set $%s = %s\n", strings.ToLower(reg.Name), reg.Value)
	}
	for _, b := range side.Memory {
		fmt.Fprintf(bw, "set {unsigned char}%s = %s\n", b.Addr, b.Value)
	}
	return bw.Flush()
}

// WriteFile writes a report artifact to path using fn.
func WriteFile(path string, fn func(w io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := fn(f); err != nil {
		return err
	}
	return f.Close()
}
