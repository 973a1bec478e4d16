package main

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/ssh/terminal"

	"github.com/nupi-ai/nexus/internal/constants"
)

const connectPath = "/obsidian-connect"

func newLoginCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in with a one-time code from the marketplace",
		Long: `Exchanges a one-time code for a registry token and stores it.

Open ` + constants.DefaultFrontendURL + connectPath + ` in a browser to obtain a code.`,
		Args: cobra.NoArgs,
		RunE: runLogin,
	}
	cmd.Flags().String("code", "", "One-time code (prompted for when omitted)")
	return cmd
}

func runLogin(cmd *cobra.Command, args []string) error {
	code, _ := cmd.Flags().GetString("code")
	if code == "" {
		var err error
		code, err = promptCode(cmd)
		if err != nil {
			return newOutputFormatter(cmd).Error("Failed to read code", err)
		}
	}

	return withApp(cmd, func(ctx context.Context, a *app) error {
		out := newOutputFormatter(cmd)
		// The broker prints its own outcome notice.
		if _, err := a.broker.ExchangeCode(ctx, code, false); err != nil {
			if out.jsonMode {
				return out.Error("Login failed", err)
			}
			return fmt.Errorf("login failed: %w", err)
		}
		if out.jsonMode {
			return out.Print(map[string]any{"success": true, "deviceId": a.broker.DeviceID()})
		}
		return nil
	})
}

// promptCode reads a code from stdin, hiding input on a terminal.
func promptCode(cmd *cobra.Command) (string, error) {
	fmt.Fprintf(cmd.OutOrStdout(), "Open %s%s and paste the code shown.\nCode: ", constants.DefaultFrontendURL, connectPath)

	if terminal.IsTerminal(0) {
		raw, err := terminal.ReadPassword(0)
		fmt.Fprintln(cmd.OutOrStdout())
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(raw)), nil
	}

	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func newLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if err := a.broker.Logout(ctx); err != nil {
					return newOutputFormatter(cmd).Error("Logout failed to persist", err)
				}
				return nil
			})
		},
	}
}

func newWhoamiCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged-in marketplace account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				out := newOutputFormatter(cmd)
				profile, err := a.broker.Profile(ctx)
				if err != nil {
					return out.Error("Failed to load profile", err)
				}
				if out.jsonMode {
					return out.Print(profile)
				}
				line := profile.Email
				if line == "" {
					line = profile.ID
				}
				if profile.Tier != "" {
					line += " (" + profile.Tier + ")"
				}
				return out.Print(line)
			})
		},
	}
}
