package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/minionworks/minion/internal/config"
	"github.com/minionworks/minion/internal/factory"
	"github.com/minionworks/minion/internal/minion"
	"github.com/minionworks/minion/internal/runtime"
)

var (
	nameStyle  = lipgloss.NewStyle().Bold(true)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	fieldStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
)

func statusSink() runtime.StatusSink {
	return func(msg string) {
		fmt.Println(dimStyle.Render("  " + msg))
	}
}

func runtimeFlag(cmd *cobra.Command) (*config.RuntimeConfig, error) {
	typ, _ := cmd.Flags().GetString("runtime")
	if typ == "" {
		return nil, nil
	}
	cfg := config.RuntimeConfig{Type: config.Type(typ)}
	switch cfg.Type {
	case config.TypeSSH:
		host, _ := cmd.Flags().GetString("ssh-host")
		user, _ := cmd.Flags().GetString("ssh-user")
		cfg.SSH = &config.SSHConfig{Host: host, User: user}
	case config.TypeDocker:
		image, _ := cmd.Flags().GetString("image")
		cfg.Docker = &config.DockerConfig{Image: image}
	}
	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func addRuntimeFlags(cmd *cobra.Command) {
	cmd.Flags().String("project", "", "project path (default: current directory)")
	cmd.Flags().String("runtime", "", "runtime type: local, worktree, ssh, docker, devcontainer, cloud")
	cmd.Flags().String("ssh-host", "", "ssh host for --runtime ssh")
	cmd.Flags().String("ssh-user", "", "ssh user for --runtime ssh")
	cmd.Flags().String("image", "", "container image for --runtime docker")
}

func addCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Create a new minion workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			cfg, err := runtimeFlag(cmd)
			if err != nil {
				return err
			}
			trunk, _ := cmd.Flags().GetString("branch")
			agent, _ := cmd.Flags().GetString("agent")

			m, err := a.manager.Create(cmd.Context(), minion.CreateOptions{
				ProjectPath: projectPathFlag(cmd),
				Name:        args[0],
				Runtime:     cfg,
				TrunkBranch: trunk,
				AgentID:     agent,
				Log:         statusSink(),
			})
			if err != nil {
				return err
			}
			if err := a.manager.Init(cmd.Context(), m, statusSink()); err != nil {
				return fmt.Errorf("workspace created but init failed: %w", err)
			}
			fmt.Printf("Created %s (%s, %s)\n",
				nameStyle.Render(m.Name), m.ID, m.Runtime.Type)
			return nil
		},
	}
	addRuntimeFlags(cmd)
	cmd.Flags().String("branch", "", "trunk branch to start from")
	cmd.Flags().String("agent", "", "agent to run in this minion")
	return cmd
}

func lsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List minions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			minions, err := a.store.List()
			if err != nil {
				return err
			}
			if len(minions) == 0 {
				fmt.Println(dimStyle.Render("no minions"))
				return nil
			}
			for _, m := range minions {
				line := fmt.Sprintf("%s  %s  %s",
					nameStyle.Render(m.Name),
					fieldStyle.Render(string(m.Runtime.Type)),
					dimStyle.Render(m.ProjectPath))
				if m.ParentID != nil {
					line += dimStyle.Render("  (fork)")
				}
				if m.ArchivedAt != nil {
					line += dimStyle.Render("  [archived]")
				}
				fmt.Println(line)
			}
			return nil
		},
	}
}

func forkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fork <source> <new-name>",
		Short: "Clone a minion's current state into a new minion",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			src, err := a.store.byName(args[0])
			if err != nil {
				return err
			}
			strict, _ := cmd.Flags().GetBool("strict")
			trunk, _ := cmd.Flags().GetString("branch")

			child, err := a.manager.Fork(cmd.Context(), src.ID, args[1], minion.ForkOptions{
				AllowFallback:  !strict,
				PreferredTrunk: trunk,
				Log:            statusSink(),
			})
			if err != nil {
				return err
			}
			fmt.Printf("Forked %s -> %s\n", nameStyle.Render(src.Name), nameStyle.Render(child.Name))
			return nil
		},
	}
	cmd.Flags().Bool("strict", false, "fail instead of falling back to plain creation")
	cmd.Flags().String("branch", "", "preferred trunk branch for fallback creation")
	return cmd
}

func mvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mv <name> <new-name>",
		Short: "Rename a minion and its workspace",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			m, err := a.store.byName(args[0])
			if err != nil {
				return err
			}
			renamed, err := a.manager.Rename(cmd.Context(), m.ID, args[1])
			if err != nil {
				return err
			}
			fmt.Printf("Renamed %s -> %s\n", args[0], nameStyle.Render(renamed.Name))
			return nil
		},
	}
}

func rmCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rm <name>",
		Short: "Delete a minion and its workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			m, err := a.store.byName(args[0])
			if err != nil {
				return err
			}
			force, _ := cmd.Flags().GetBool("force")
			if err := a.manager.Delete(cmd.Context(), m.ID, force); err != nil {
				var uncommitted *runtime.UncommittedWorkError
				if errors.As(err, &uncommitted) {
					return fmt.Errorf("%w (use --force to discard uncommitted changes)", err)
				}
				return err
			}
			fmt.Printf("Deleted %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().BoolP("force", "f", false, "force deletion past blocking conditions")
	return cmd
}

func readyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ready",
		Short: "Probe readiness of every minion",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			reports, err := a.manager.EnsureReadyAll(cmd.Context(), statusSink())
			if err != nil {
				return err
			}
			failures := 0
			for _, r := range reports {
				if r.Result.Ready {
					fmt.Printf("%s %s\n", okStyle.Render("ready"), r.Minion.Name)
					continue
				}
				failures++
				fmt.Printf("%s %s: %v\n",
					errStyle.Render(string(r.Result.Kind)), r.Minion.Name, r.Result.Err)
			}
			if failures > 0 {
				return fmt.Errorf("%d minion(s) not ready", failures)
			}
			return nil
		},
	}
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <name> -- <command...>",
		Short: "Run a command inside a minion's workspace",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			m, err := a.store.byName(args[0])
			if err != nil {
				return err
			}
			rt, err := factory.New(m.Runtime, m.ProjectPath, m.Name)
			if err != nil {
				return err
			}
			if res := a.manager.EnsureReady(cmd.Context(), m, statusSink()); !res.Ready {
				return fmt.Errorf("minion not ready (%s): %w", res.Kind, res.Err)
			}

			pty, _ := cmd.Flags().GetBool("pty")
			h, err := rt.Exec(cmd.Context(), args[1:], runtime.ExecOptions{
				Cwd:      rt.WorkspacePath(m.ProjectPath, m.Name),
				ForcePty: pty,
			})
			if err != nil {
				return err
			}
			go func() { _, _ = io.Copy(h.Stdin, os.Stdin); _ = h.Stdin.Close() }()
			go func() { _, _ = io.Copy(os.Stderr, h.Stderr) }()
			_, _ = io.Copy(os.Stdout, h.Stdout)

			status, err := h.Wait(cmd.Context())
			if err != nil {
				return err
			}
			if status.Code != 0 {
				os.Exit(status.Code)
			}
			return nil
		},
	}
	cmd.Flags().Bool("pty", false, "allocate a pseudo-terminal")
	return cmd
}
