package main

import (
	"fmt"

	"github.com/spf13/cobra"

	nexusversion "github.com/nupi-ai/nexus/internal/version"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the client version",
		Args:  cobra.NoArgs,
		RunE:  runVersion,
	}
}

func runVersion(cmd *cobra.Command, _ []string) error {
	out := newOutputFormatter(cmd)
	clientVersion := nexusversion.String()

	if out.jsonMode {
		return out.Print(map[string]any{
			"client":    clientVersion,
			"userAgent": nexusversion.UserAgent(),
		})
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Client: %s\n", nexusversion.FormatVersion(clientVersion))
	fmt.Fprintf(cmd.OutOrStdout(), "User-Agent: %s\n", nexusversion.UserAgent())
	return nil
}
