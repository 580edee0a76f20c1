package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	m := NewMain()
	if err := m.Run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Main represents the program execution.
type Main struct {
	Stdout io.Writer
	Stderr io.Writer

	// Logger overrides the logger selected by the -v flag.
	Logger *zap.Logger
}

// NewMain returns a new instance of Main.
func NewMain() *Main {
	return &Main{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

// Run executes the command line. Errors are returned instead of printed.
func (m *Main) Run(ctx context.Context, args []string) error {
	cmd := m.newRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(m.Stdout)
	cmd.SetErr(m.Stderr)
	return cmd.ExecuteContext(ctx)
}

func (m *Main) newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "wp",
		Short:         "wp verifies functions by computing weakest preconditions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(m.newVerifyCommand())
	cmd.AddCommand(m.newLiftCommand())
	return cmd
}

// logger returns the logger of the run.
func (m *Main) logger(verbose bool) (*zap.Logger, error) {
	if m.Logger != nil {
		return m.Logger, nil
	} else if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
