package main

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/benbjohnson/wp"
	"github.com/spf13/pflag"
)

// Config represents the settings of a verify run. Every field can be set
// in a TOML file and overridden by the flag of the same name.
type Config struct {
	Function string `toml:"func"`
	Precond  string `toml:"precond"`
	Postcond string `toml:"postcond"`

	CompareStackPointer bool     `toml:"compare-sp"`
	CompareFuncCalls    bool     `toml:"compare-func-calls"`
	ComparePostRegs     []string `toml:"compare-post-reg-values"`

	Inline       string `toml:"inline"`
	Unroll       int    `toml:"unroll"`
	StackBase    uint64 `toml:"stack-base"`
	StackSize    uint64 `toml:"stack-size"`
	UseInputRegs bool   `toml:"use-input-regs"`
	NullDeref    bool   `toml:"check-null-deref"`
	MemOffset    bool   `toml:"mem-offset"`

	GDBOutput  string        `toml:"gdb-output"`
	YAMLOutput string        `toml:"yaml-output"`
	CacheDir   string        `toml:"cache-dir"`
	Timeout    time.Duration `toml:"timeout"`
}

// DefaultConfig returns the settings used when neither a file nor a flag
// sets a value.
func DefaultConfig() Config {
	return Config{
		Unroll:       wp.DefaultLoopUnroll,
		StackBase:    wp.DefaultStackBase,
		StackSize:    wp.DefaultStackSize,
		UseInputRegs: true,
	}
}

// LoadConfig decodes the TOML file at path over cfg.
func LoadConfig(path string, cfg *Config) error {
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return &ValidationError{Msg: fmt.Sprintf("invalid config %s: %s", path, err)}
	}
	if keys := meta.Undecoded(); len(keys) > 0 {
		a := make([]string, len(keys))
		for i, key := range keys {
			a[i] = key.String()
		}
		return &ValidationError{Msg: fmt.Sprintf("unknown config keys in %s: %s", path, strings.Join(a, ", "))}
	}
	return nil
}

// bindFlags registers a flag for each field of cfg.
func (cfg *Config) bindFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&cfg.Function, "func", "f", cfg.Function, "name of the function to verify")
	fs.StringVar(&cfg.Precond, "precond", cfg.Precond, "SMT-LIB precondition")
	fs.StringVar(&cfg.Postcond, "postcond", cfg.Postcond, "SMT-LIB postcondition")
	fs.BoolVar(&cfg.CompareStackPointer, "compare-sp", cfg.CompareStackPointer, "require equal stack pointers")
	fs.BoolVar(&cfg.CompareFuncCalls, "compare-func-calls", cfg.CompareFuncCalls, "forbid calls the original does not make")
	fs.StringSliceVar(&cfg.ComparePostRegs, "compare-post-reg-values", cfg.ComparePostRegs, "registers required to be equal at exit")
	fs.StringVar(&cfg.Inline, "inline", cfg.Inline, "regular expression of callees to inline")
	fs.IntVar(&cfg.Unroll, "unroll", cfg.Unroll, "loop unrolling bound")
	fs.Uint64Var(&cfg.StackBase, "stack-base", cfg.StackBase, "highest stack address")
	fs.Uint64Var(&cfg.StackSize, "stack-size", cfg.StackSize, "stack size in bytes")
	fs.BoolVar(&cfg.UseInputRegs, "use-input-regs", cfg.UseInputRegs, "derive results of summarized calls from their arguments")
	fs.BoolVar(&cfg.NullDeref, "check-null-deref", cfg.NullDeref, "check memory accesses for null addresses")
	fs.BoolVar(&cfg.MemOffset, "mem-offset", cfg.MemOffset, "relate relocated data symbols")
	fs.StringVar(&cfg.GDBOutput, "gdb-output", cfg.GDBOutput, "write a gdb script replaying the counterexample")
	fs.StringVar(&cfg.YAMLOutput, "yaml-output", cfg.YAMLOutput, "write the result as YAML")
	fs.StringVar(&cfg.CacheDir, "cache-dir", cfg.CacheDir, "directory of the lifted program cache")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "solver timeout")
}

// merge copies the flags set on the command line from flags into cfg.
func (cfg *Config) merge(fs *pflag.FlagSet, flags *Config) {
	fs.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "func":
			cfg.Function = flags.Function
		case "precond":
			cfg.Precond = flags.Precond
		case "postcond":
			cfg.Postcond = flags.Postcond
		case "compare-sp":
			cfg.CompareStackPointer = flags.CompareStackPointer
		case "compare-func-calls":
			cfg.CompareFuncCalls = flags.CompareFuncCalls
		case "compare-post-reg-values":
			cfg.ComparePostRegs = flags.ComparePostRegs
		case "inline":
			cfg.Inline = flags.Inline
		case "unroll":
			cfg.Unroll = flags.Unroll
		case "stack-base":
			cfg.StackBase = flags.StackBase
		case "stack-size":
			cfg.StackSize = flags.StackSize
		case "use-input-regs":
			cfg.UseInputRegs = flags.UseInputRegs
		case "check-null-deref":
			cfg.NullDeref = flags.NullDeref
		case "mem-offset":
			cfg.MemOffset = flags.MemOffset
		case "gdb-output":
			cfg.GDBOutput = flags.GDBOutput
		case "yaml-output":
			cfg.YAMLOutput = flags.YAMLOutput
		case "cache-dir":
			cfg.CacheDir = flags.CacheDir
		case "timeout":
			cfg.Timeout = flags.Timeout
		}
	})
}

// Validate returns an error if cfg cannot be run against n inputs.
func (cfg *Config) Validate(n int) error {
	switch {
	case n < 1 || n > 2:
		return &ValidationError{Msg: fmt.Sprintf("expected 1 or 2 inputs, got %d", n)}
	case cfg.Function == "":
		return &ValidationError{Msg: "function required"}
	case cfg.Unroll < 0:
		return &ValidationError{Msg: fmt.Sprintf("invalid unroll bound: %d", cfg.Unroll)}
	case cfg.StackSize > cfg.StackBase:
		return &ValidationError{Msg: fmt.Sprintf("stack size %#x exceeds stack base %#x", cfg.StackSize, cfg.StackBase)}
	case cfg.Timeout < 0:
		return &ValidationError{Msg: fmt.Sprintf("invalid timeout: %s", cfg.Timeout)}
	}

	if cfg.Inline != "" {
		if _, err := regexp.Compile(cfg.Inline); err != nil {
			return &ValidationError{Msg: fmt.Sprintf("invalid inline pattern: %s", err)}
		}
	}

	// Relational properties need both programs.
	if n == 1 {
		for _, flag := range []struct {
			name string
			set  bool
		}{
			{"compare-sp", cfg.CompareStackPointer},
			{"compare-func-calls", cfg.CompareFuncCalls},
			{"compare-post-reg-values", len(cfg.ComparePostRegs) > 0},
			{"mem-offset", cfg.MemOffset},
		} {
			if flag.set {
				return &ValidationError{Msg: fmt.Sprintf("--%s requires two inputs", flag.name)}
			}
		}
	}
	return nil
}

// Properties returns the comparators selected by cfg.
func (cfg *Config) Properties() wp.Properties {
	return wp.Properties{
		CompareStackPointer: cfg.CompareStackPointer,
		CompareFuncCalls:    cfg.CompareFuncCalls,
		ComparePostRegs:     cfg.ComparePostRegs,
		Precond:             cfg.Precond,
		Postcond:            cfg.Postcond,
		MemOffset:           cfg.MemOffset,
	}
}

// digest returns the encoding of cfg used as part of cache keys.
func (cfg *Config) digest() []byte {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// ValidationError represents an invalid configuration or command line.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }
