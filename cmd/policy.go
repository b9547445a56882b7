// Package cmd provides the warden command-line tools.
package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"warden/core"
	"warden/policy"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
	headerColor  = color.New(color.FgBlue, color.Bold)
)

var (
	outputJSON bool
	noColor    bool
)

// NewPolicyCmd builds the `policy` command tree.
func NewPolicyCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "policy",
		Short: "Inspect and validate security policies",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				color.NoColor = true
			}
		},
	}
	root.PersistentFlags().BoolVar(&outputJSON, "json", false, "emit JSON instead of formatted text")
	root.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	root.AddCommand(newPoliciesLintCmd())
	root.AddCommand(newPoliciesShowCmd())
	return root
}

func newPoliciesLintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lint <file-or-dir>",
		Short: "Validate policy YAML before deploying it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			info, err := os.Stat(path)
			if err != nil {
				return err
			}

			var policies []*core.SecurityPolicy
			if info.IsDir() {
				policies, err = policy.LoadDir(path)
			} else {
				policies, err = policy.LoadFile(path)
			}
			if err != nil {
				errorColor.Fprintf(cmd.ErrOrStderr(), "✗ %v\n", err)
				return err
			}

			successColor.Fprintf(cmd.OutOrStdout(), "✓ %d policies valid\n", len(policies))
			for _, p := range policies {
				status := "enabled"
				if !p.Enabled {
					status = "disabled"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "  %s (%s, %d rules, %s)\n",
					p.ID, p.Tier, len(p.Rules), status)
			}
			return nil
		},
	}
}

func newPoliciesShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the built-in default policies",
		RunE: func(cmd *cobra.Command, args []string) error {
			defaults := policy.Defaults()

			if outputJSON {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(defaults)
			}

			for _, p := range defaults {
				headerColor.Fprintf(cmd.OutOrStdout(), "%s: %s\n", p.ID, p.Name)
				out, err := yaml.Marshal(p)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
			}
			return nil
		},
	}
}
