package main

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nupi-ai/nexus/internal/inventory"
)

func newComponentsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "components",
		Aliases: []string{"ls-components"},
		Short:   "Manage installed components",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List installed components",
		Args:  cobra.NoArgs,
		RunE:  runComponentsList,
	}
	removeCmd := &cobra.Command{
		Use:   "remove <component-id>",
		Short: "Move an installed component to the vault trash",
		Args:  cobra.ExactArgs(1),
		RunE:  runComponentsRemove,
	}
	cmd.AddCommand(listCmd, removeCmd)
	return cmd
}

func runComponentsList(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		out := newOutputFormatter(cmd)
		components, err := a.inventory.List(ctx)
		if err != nil {
			return out.Error("Failed to list components", err)
		}
		if out.jsonMode {
			return out.Print(map[string]any{"folder": a.inventory.Folder(), "components": components})
		}
		if len(components) == 0 {
			return out.Print(fmt.Sprintf("No components installed in %s", a.inventory.Folder()))
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tINSTALLED")
		for _, c := range components {
			installed := "-"
			if !c.InstalledAt.IsZero() {
				installed = c.InstalledAt.Local().Format("2006-01-02 15:04")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", c.ID, c.DisplayName, installed)
		}
		return w.Flush()
	})
}

func runComponentsRemove(cmd *cobra.Command, args []string) error {
	id := args[0]
	return withApp(cmd, func(ctx context.Context, a *app) error {
		out := newOutputFormatter(cmd)
		removed, err := a.inventory.Remove(ctx, id)
		if errors.Is(err, inventory.ErrNotFound) {
			return out.Error("Component not found: "+id, nil)
		}
		if err != nil {
			return out.Error("Failed to delete component "+id, err)
		}
		return out.Success("Deleted component: "+id, map[string]any{"path": removed})
	})
}
