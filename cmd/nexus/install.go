package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nupi-ai/nexus/internal/downloader"
)

func newInstallCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "install <component-id>",
		Short: "Download and install a component into the vault",
		Args:  cobra.ExactArgs(1),
		RunE:  runInstall,
	}
	cmd.Flags().String("token", "", "Bearer token to use instead of the stored one")
	cmd.Flags().String("code", "", "One-time code to exchange before installing")
	cmd.Flags().BoolP("yes", "y", false, "Install without asking for confirmation")
	return cmd
}

func runInstall(cmd *cobra.Command, args []string) error {
	token, _ := cmd.Flags().GetString("token")
	code, _ := cmd.Flags().GetString("code")
	yes, _ := cmd.Flags().GetBool("yes")

	return withApp(cmd, func(ctx context.Context, a *app) error {
		res, err := a.deployHandler(cmd, yes).HandleDeploy(ctx, args[0], token, code)
		return reportInstall(cmd, res, err)
	})
}

func newOpenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "open <link>",
		Short: "Handle a deploy or auth link (obsidian://deploy-datacore?id=...)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			yes, _ := cmd.Flags().GetBool("yes")
			return withApp(cmd, func(ctx context.Context, a *app) error {
				res, err := a.deployHandler(cmd, yes).Open(ctx, args[0])
				return reportInstall(cmd, res, err)
			})
		},
	}
	cmd.Flags().BoolP("yes", "y", false, "Install without asking for confirmation")
	return cmd
}

// reportInstall emits the JSON result. Human output has already been
// written through the notifier.
func reportInstall(cmd *cobra.Command, res *downloader.Result, err error) error {
	out := newOutputFormatter(cmd)
	if err != nil {
		if out.jsonMode {
			return out.Error("Install failed", err)
		}
		return fmt.Errorf("install failed: %w", err)
	}
	if res == nil || !out.jsonMode {
		return nil
	}
	return out.Print(res)
}
