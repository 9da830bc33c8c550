// Command mn manages minions: isolated workspaces for driving coding-agent
// CLIs against a project, backed by local dirs, git worktrees, SSH hosts,
// Docker containers, devcontainers, or cloud sandboxes.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/minionworks/minion/internal/factory"
	"github.com/minionworks/minion/internal/minion"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func stateDir() string {
	if dir := os.Getenv("MINION_STATE_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".minion"
	}
	return filepath.Join(home, ".minion")
}

// app bundles the store and manager the commands share.
type app struct {
	store   *fileStore
	manager *minion.Manager
}

func newApp() (*app, error) {
	dir := stateDir()
	store, err := newFileStore(dir)
	if err != nil {
		return nil, err
	}
	return &app{
		store:   store,
		manager: minion.NewManager(store, dir, factory.New),
	}, nil
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "mn",
		Short:         "Manage minion workspaces",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		addCmd(),
		lsCmd(),
		forkCmd(),
		mvCmd(),
		rmCmd(),
		readyCmd(),
		runCmd(),
	)
	return root
}

func projectPathFlag(cmd *cobra.Command) string {
	p, _ := cmd.Flags().GetString("project")
	if p == "" {
		p, _ = os.Getwd()
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return p
	}
	return abs
}
