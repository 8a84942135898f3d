// Package cli assembles the avocado command line application.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/avocado-safe/avocado-core/pkg/commands"
	"github.com/avocado-safe/avocado-core/pkg/logger"
)

// App is the avocado command line application.
type App struct {
	lggr logger.Logger
	root *cobra.Command
}

// NewApp builds the root command with every command group attached.
func NewApp() (*App, error) {
	lggr, err := logger.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		return nil, err
	}

	return newApp(lggr)
}

func newApp(lggr logger.Logger) (*App, error) {
	root := &cobra.Command{
		Use:           "avocado",
		Short:         "Manage Avocado smart accounts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	groups, err := commands.New(lggr).All()
	if err != nil {
		return nil, err
	}
	root.AddCommand(groups...)

	return &App{lggr: lggr, root: root}, nil
}

// Run executes the command named by the process arguments until it returns or the process is
// interrupted.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer func() { _ = a.lggr.Sync() }()

	if err := a.root.ExecuteContext(ctx); err != nil {
		a.lggr.Error(err)
		return err
	}

	return nil
}
