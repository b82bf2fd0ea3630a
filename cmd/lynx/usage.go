package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fpang/lynx-studio/internal/cli"
	"github.com/fpang/lynx-studio/internal/usage"
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show today's successful generation count",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := app.Usage.Read(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d generations\n", usage.Today(nil), n)
		return nil
	},
}

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Credential commands",
}

var authCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the Gemini API key with a minimal request",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cli.CheckGemini(cmd.Context(), app); err != nil {
			return err
		}
		fmt.Println("Gemini API key is valid")
		return nil
	},
}

func init() {
	authCmd.AddCommand(authCheckCmd)
}
