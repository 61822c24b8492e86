package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/pipeforge/conduit/core"
	"github.com/pipeforge/conduit/core/config"
	"github.com/pipeforge/conduit/pipes/echopipe"
	"github.com/pipeforge/conduit/pipes/openaipipe"
)

var configPath string

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	bannerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 2)
)

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "conduit",
		Short: "Conduit pipe host",
		Long: `Conduit hosts pipes: pluggable units of logic exposed as selectable
models. It discovers pipes, resolves their valves, and routes chat
requests to whichever model a request names.`,
		Version:       core.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.toml", "Path to configuration file")

	rootCmd.AddCommand(newModelsCommand())
	rootCmd.AddCommand(newInvokeCommand())
	rootCmd.AddCommand(newPipesCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newChatCommand())

	return rootCmd
}

// Execute runs the CLI
func Execute() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: ")+err.Error())
		os.Exit(1)
	}
}

// loadConfig reads the configured file. The default path is allowed to
// be absent; an explicitly given one is not.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if cmd.Root().PersistentFlags().Changed("config") {
			return nil, fmt.Errorf("config file does not exist: %s", configPath)
		}
		return config.DefaultConfig(), nil
	}
	return config.LoadConfig(configPath)
}

// buildHost loads config, builds the host, registers the built-in
// pipes, loads external ones and binds everything.
func buildHost(cmd *cobra.Command) (*core.Host, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	host, err := core.New(cfg)
	if err != nil {
		return nil, err
	}

	if err := host.RegisterPipe(echopipe.New()); err != nil {
		return nil, err
	}
	if err := host.RegisterPipe(openaipipe.New()); err != nil {
		return nil, err
	}
	if err := host.LoadExternal(); err != nil {
		return nil, err
	}
	if err := host.BindAll(); err != nil {
		return nil, err
	}
	return host, nil
}

// shutdownHost drains the host with a bounded grace period
func shutdownHost(host *core.Host) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := host.Shutdown(ctx); err != nil {
		fmt.Fprintln(os.Stderr, dimStyle.Render(fmt.Sprintf("shutdown: %v", err)))
	}
}

// newTable builds a styled table with the shared look
func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...)
}

// banner renders the start-of-session banner
func banner() string {
	return bannerStyle.Render(titleStyle.Render("conduit") + dimStyle.Render(" v"+core.Version))
}
