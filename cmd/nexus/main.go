package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/nupi-ai/nexus/internal/config"
	"github.com/nupi-ai/nexus/internal/constants"
	nexusversion "github.com/nupi-ai/nexus/internal/version"
)

// Environment overrides for persistent flags.
const (
	envAPIURL = "NEXUS_API_URL"
	envVault  = "NEXUS_VAULT"
)

// OutputFormatter handles output in JSON or human-readable format
type OutputFormatter struct {
	jsonMode bool
	out      io.Writer
	errOut   io.Writer
}

// newOutputFormatter creates a new formatter based on the command's --json flag
func newOutputFormatter(cmd *cobra.Command) *OutputFormatter {
	jsonMode, _ := cmd.Flags().GetBool("json")
	return &OutputFormatter{jsonMode: jsonMode, out: cmd.OutOrStdout(), errOut: cmd.ErrOrStderr()}
}

// Print outputs data in the appropriate format
func (f *OutputFormatter) Print(data any) error {
	if s, ok := data.(string); ok && !f.jsonMode {
		fmt.Fprintln(f.out, s)
		return nil
	}
	jsonBytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Fprintln(f.out, string(jsonBytes))
	return nil
}

// Success outputs a success message
func (f *OutputFormatter) Success(message string, data map[string]any) error {
	if f.jsonMode {
		output := map[string]any{
			"success": true,
			"message": message,
		}
		for k, v := range data {
			output[k] = v
		}
		return f.Print(output)
	}
	fmt.Fprintln(f.out, message)
	return nil
}

// Error outputs an error message
func (f *OutputFormatter) Error(message string, err error) error {
	if f.jsonMode {
		output := map[string]any{
			"success": false,
			"error":   message,
		}
		if err != nil {
			output["details"] = err.Error()
		}
		jsonBytes, _ := json.MarshalIndent(output, "", "  ")
		fmt.Fprintln(f.errOut, string(jsonBytes))
	} else {
		if err != nil {
			fmt.Fprintf(f.errOut, "%s: %v\n", message, err)
		} else {
			fmt.Fprintln(f.errOut, message)
		}
	}
	if err == nil {
		return fmt.Errorf("%s", message)
	}
	return fmt.Errorf("%s: %w", message, err)
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "nexus",
		Short: "Nexus - install Beto Marketplace components into a vault",
		Long: `Nexus fetches components from the Beto Marketplace registry over an
encrypted channel and installs them into a local vault folder.

Deploy links (obsidian://deploy-datacore?id=...) can be handed to "nexus open".`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.Version = nexusversion.String()
	rootCmd.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")

	defaultVault := os.Getenv(envVault)
	if defaultVault == "" {
		defaultVault = "."
	}
	defaultAPI := os.Getenv(envAPIURL)
	if defaultAPI == "" {
		defaultAPI = constants.DefaultAPIURL
	}

	flags := rootCmd.PersistentFlags()
	flags.Bool("json", false, "Output in JSON format")
	flags.String("api-url", defaultAPI, "Registry base URL (env "+envAPIURL+")")
	flags.String("vault", defaultVault, "Vault root that components are installed into (env "+envVault+")")
	flags.String("profile", config.DefaultProfile, "Settings profile")
	flags.String("metrics-textfile", "", "Write Prometheus metrics to this file on exit")
	flags.Bool("verbose", false, "Write diagnostic logs to stderr instead of the log file")
	flags.Bool("allow-private-hosts", false, "Allow signed URLs on loopback or private addresses")
	_ = flags.MarkHidden("allow-private-hosts")

	rootCmd.AddCommand(
		newInstallCommand(),
		newOpenCommand(),
		newLoginCommand(),
		newLogoutCommand(),
		newWhoamiCommand(),
		newComponentsCommand(),
		newConfigCommand(),
		newVersionCommand(),
	)
	return rootCmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		// Error is already printed by command handlers
		os.Exit(1)
	}
}
