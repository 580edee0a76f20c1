package main

import (
	"context"
	"fmt"
	"io"
	"regexp"

	"github.com/benbjohnson/wp"
	"github.com/benbjohnson/wp/cache"
	"github.com/benbjohnson/wp/golift"
	"github.com/benbjohnson/wp/report"
	"github.com/benbjohnson/wp/z3"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func (m *Main) newVerifyCommand() *cobra.Command {
	var configPath string
	var verbose bool
	flags := DefaultConfig()

	cmd := &cobra.Command{
		Use:   "verify [flags] PKG [PKG]",
		Short: "Verify a function or compare it between two versions",
		Long: `Verify checks a function of one package against a postcondition. Given
two packages, the first is the original and the second the modified
version, and the selected properties relate the function in both.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := DefaultConfig()
			if configPath != "" {
				if err := LoadConfig(configPath, &cfg); err != nil {
					return err
				}
			}
			cfg.merge(cmd.Flags(), &flags)

			logger, err := m.logger(verbose)
			if err != nil {
				return err
			}
			defer logger.Sync()

			r, err := m.verify(cmd.Context(), logger, cfg, args)
			if err != nil {
				return err
			}
			return m.printReport(cmd.OutOrStdout(), r)
		},
	}

	flags.bindFlags(cmd.Flags())
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "TOML config file")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	return cmd
}

// verify runs the analysis described by cfg over the packages in paths.
func (m *Main) verify(ctx context.Context, logger *zap.Logger, cfg Config, paths []string) (*report.Report, error) {
	if err := cfg.Validate(len(paths)); err != nil {
		return nil, err
	}

	progs, err := m.load(logger, cfg, paths)
	if err != nil {
		return nil, err
	}

	subs := make([]*wp.Subroutine, len(progs))
	for i, prog := range progs {
		if subs[i] = prog.Sub(cfg.Function); subs[i] == nil {
			return nil, &ValidationError{Msg: fmt.Sprintf("unknown function %s in %s", cfg.Function, paths[i])}
		}
	}

	opts := []wp.EnvOption{
		wp.WithLogger(logger),
		wp.WithUnroll(cfg.Unroll),
		wp.WithStackRange(cfg.StackBase, cfg.StackSize),
		wp.WithUseInputRegs(cfg.UseInputRegs),
	}
	if cfg.Inline != "" {
		opts = append(opts, wp.WithInline(regexp.MustCompile(cfg.Inline)))
	}

	var c wp.Constraint
	var envs []report.Env
	if len(progs) == 1 {
		var hooks []wp.Hook
		if cfg.NullDeref {
			hooks = append(hooks, &wp.NullCheckHook{Kind: wp.ConditionGoal})
		}

		env, err := wp.NewEnv(progs[0], append(opts, wp.WithHooks(hooks...))...)
		if err != nil {
			return nil, err
		}
		if c, env, err = wp.SingleSub(env, subs[0], cfg.Precond, cfg.Postcond); err != nil {
			return nil, err
		}
		envs = append(envs, report.Env{Env: env})
	} else {
		orig, mod, err := m.compare(logger, cfg, opts, progs, subs)
		if err != nil {
			return nil, err
		}
		if c, orig.Env, mod.Env, err = m.compareSubs(cfg, orig, mod); err != nil {
			return nil, err
		}
		envs = append(envs, report.Env{Name: report.SideOriginal, Env: orig.Env}, report.Env{Name: report.SideModified, Env: mod.Env})
	}

	solver := z3.NewSolver()
	solver.Timeout = cfg.Timeout
	defer solver.Close()

	a := make([]*wp.Env, len(envs))
	for i := range envs {
		a[i] = envs[i].Env
	}
	result, err := wp.Check(solver, c, a...)
	if err != nil {
		return nil, err
	}
	logger.Debug("[verify] checked", zap.Stringer("verdict", result.Verdict), zap.Duration("solve", solver.Stats().SolveTime))

	r := report.New(cfg.Function, result, envs...)
	if err := m.writeArtifacts(cfg, r); err != nil {
		return nil, err
	}
	return r, nil
}

// load lifts the packages in paths, through the cache if configured.
func (m *Main) load(logger *zap.Logger, cfg Config, paths []string) ([]*wp.Program, error) {
	loader := golift.NewLoader()
	loader.Logger = logger

	var c *cache.Cache
	if cfg.CacheDir != "" {
		var err error
		if c, err = cache.Open(cfg.CacheDir, cache.DefaultSize); err != nil {
			return nil, err
		}
		defer c.Close()
		c.Logger = logger
	}

	progs := make([]*wp.Program, len(paths))
	for i, path := range paths {
		build := func() (*wp.Program, error) { return loader.Load(path) }
		if c == nil {
			prog, err := build()
			if err != nil {
				return nil, err
			}
			progs[i] = prog
			continue
		}

		files, err := loader.SourceFiles(path)
		if err != nil {
			return nil, err
		}
		d, err := cache.NewDigest(cfg.digest(), golift.Name, files...)
		if err != nil {
			return nil, err
		}
		if progs[i], err = c.GetOrBuild(d, build); err != nil {
			return nil, err
		}
	}
	return progs, nil
}

// compare builds the environments of both sides. The modified side is
// built first so the original's relocation hook can refer to it, then the
// original is freshened so both sides have disjoint names.
func (m *Main) compare(logger *zap.Logger, cfg Config, opts []wp.EnvOption, progs []*wp.Program, subs []*wp.Subroutine) (orig, mod wp.Side, err error) {
	var origHooks, modHooks []wp.Hook
	if cfg.NullDeref {
		h1, h2 := wp.NullDerefHooks()
		origHooks, modHooks = append(origHooks, h1), append(modHooks, h2)
	}

	namer := wp.NewNamer()
	modEnv, err := wp.NewEnv(progs[1], append(opts, wp.WithNamer(namer), wp.WithHooks(modHooks...))...)
	if err != nil {
		return orig, mod, errors.Wrap(err, "modified")
	}

	if cfg.MemOffset {
		origHooks = append(origHooks, &wp.MemOffsetHook{Mod: modEnv})
	}
	origEnv, err := wp.NewEnv(progs[0], append(opts, wp.WithNamer(namer), wp.WithFreshSuffix(wp.OrigSuffix), wp.WithHooks(origHooks...))...)
	if err != nil {
		return orig, mod, errors.Wrap(err, "original")
	}
	origEnv, _ = wp.Freshen(origEnv)

	return wp.Side{Env: origEnv, Sub: subs[0]}, wp.Side{Env: modEnv, Sub: subs[1]}, nil
}

func (m *Main) compareSubs(cfg Config, orig, mod wp.Side) (wp.Constraint, *wp.Env, *wp.Env, error) {
	hyps, posts, warnings, err := wp.NewComparators(cfg.Properties(), orig, mod)
	if err != nil {
		return nil, orig.Env, mod.Env, err
	}
	for _, msg := range warnings {
		fmt.Fprintln(m.Stderr, "warning:", msg)
	}
	return wp.CompareSubs(posts, hyps, orig, mod)
}

func (m *Main) writeArtifacts(cfg Config, r *report.Report) error {
	if cfg.YAMLOutput != "" {
		if err := report.WriteFile(cfg.YAMLOutput, func(w io.Writer) error { return report.WriteYAML(w, r) }); err != nil {
			return err
		}
	}

	// Only a counterexample can be replayed. In comparative mode the
	// modified side is the one expected to misbehave.
	if cfg.GDBOutput != "" && len(r.Sides) > 0 {
		side := r.Side(report.SideModified)
		if side == nil {
			side = &r.Sides[0]
		}
		if err := report.WriteFile(cfg.GDBOutput, func(w io.Writer) error { return report.WriteGDB(w, r.Function, side) }); err != nil {
			return err
		}
	}
	return nil
}

func (m *Main) printReport(w io.Writer, r *report.Report) error {
	fmt.Fprintf(w, "%s: %s\n", r.Function, r.Verdict)
	if r.Reason != "" {
		fmt.Fprintf(w, "reason: %s\n", r.Reason)
	}
	for _, name := range r.RefutedGoals {
		fmt.Fprintf(w, "refuted: %s\n", name)
	}
	if !r.Exact {
		fmt.Fprintln(w, "note: loops were unrolled to the bound, the result only holds up to it")
	}
	return nil
}
