package main

import (
	"bufio"
	"fmt"
	"io"

	"github.com/benbjohnson/wp"
	"github.com/benbjohnson/wp/golift"
	"github.com/spf13/cobra"
)

func (m *Main) newLiftCommand() *cobra.Command {
	var function string
	var verbose bool

	cmd := &cobra.Command{
		Use:   "lift [flags] PKG",
		Short: "Print the lifted form of a package's functions",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return &ValidationError{Msg: fmt.Sprintf("expected 1 input, got %d", len(args))}
			}

			logger, err := m.logger(verbose)
			if err != nil {
				return err
			}
			defer logger.Sync()

			loader := golift.NewLoader()
			loader.Logger = logger
			prog, err := loader.Load(args[0])
			if err != nil {
				return err
			}

			subs := prog.Subs
			if function != "" {
				sub := prog.Sub(function)
				if sub == nil {
					return &ValidationError{Msg: fmt.Sprintf("unknown function %s in %s", function, args[0])}
				}
				subs = []*wp.Subroutine{sub}
			}
			return printProgram(cmd.OutOrStdout(), prog, subs)
		},
	}
	cmd.Flags().StringVarP(&function, "func", "f", "", "only print this function")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	return cmd
}

func printProgram(w io.Writer, prog *wp.Program, subs []*wp.Subroutine) error {
	bw := bufio.NewWriter(w)
	for _, sym := range prog.Symbols {
		fmt.Fprintf(bw, "var %s %#x %d\n", sym.Name, sym.Addr, sym.Size)
	}
	for _, sub := range subs {
		fmt.Fprintf(bw, "\nfunc %s entry %s\n", sub.Name, sub.Entry)
		for _, b := range sub.Blocks {
			fmt.Fprintf(bw, "%s:\n", b.ID)
			for _, stmt := range b.Stmts {
				fmt.Fprintf(bw, "\t%s\n", stmt)
			}
			fmt.Fprintf(bw, "\t%s\n", b.Term)
		}
	}
	return bw.Flush()
}
