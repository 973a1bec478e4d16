package main

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nupi-ai/nexus/internal/config"
	"github.com/nupi-ai/nexus/internal/storage"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change local settings",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				folder, err := a.store.DownloadFolder(ctx)
				if err != nil {
					return newOutputFormatter(cmd).Error("Failed to read settings", err)
				}
				out := newOutputFormatter(cmd)
				data := map[string]any{
					"home":           config.GetNexusHome(),
					"profile":        a.store.ProfileName(),
					"apiUrl":         a.registry.BaseURL(),
					"vault":          a.storage.Root(),
					"downloadFolder": folder,
					"deviceId":       a.broker.DeviceID(),
					"authenticated":  a.broker.Authenticated(),
				}
				return out.Print(data)
			})
		},
	}

	setFolderCmd := &cobra.Command{
		Use:   "set-folder <path>",
		Short: "Set the vault-relative folder components are installed into",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				out := newOutputFormatter(cmd)
				folder := storage.Normalize(args[0])
				if folder == "" || folder == ".." || strings.HasPrefix(folder, "../") {
					return out.Error("Folder must be a path inside the vault", nil)
				}
				if err := a.store.SetDownloadFolder(ctx, folder); err != nil {
					return out.Error("Failed to save folder", err)
				}
				return out.Success("Download folder set to "+folder, map[string]any{"downloadFolder": folder})
			})
		},
	}

	cmd.AddCommand(showCmd, setFolderCmd)
	return cmd
}
