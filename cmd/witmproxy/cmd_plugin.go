package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// pluginCmd and its subcommands are thin boundary stubs: these commands
// exist with the right argument shapes and exit codes, but their actual
// install/fetch/codegen behavior belongs to the CLI's package-manager and
// templating layers, not the proxy core.
var pluginCmd = &cobra.Command{
	Use:   "plugin",
	Short: "Manage installed plugins",
}

var pluginAddCmd = &cobra.Command{
	Use:   "add <path|url|name>",
	Short: "Install a plugin from a local path, a URL, or a registry name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return &exitCodeError{code: 1, msg: "plugin add: fetch/install is not implemented by this build; use the registry API (pkg/plugin) directly"}
	},
}

var pluginRemoveCmd = &cobra.Command{
	Use:   "remove <name | namespace/name>",
	Short: "Remove an installed plugin",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return &exitCodeError{code: 1, msg: "plugin remove: open the plugin database at --app-dir and use pkg/plugin.Registry.Remove directly"}
	},
}

var pluginNewLanguage string

var pluginNewCmd = &cobra.Command{
	Use:   "new <name>",
	Short: "Scaffold a new plugin",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if pluginNewLanguage == "" {
			return &exitCodeError{code: 1, msg: "plugin new: --language is required"}
		}
		fmt.Printf("would scaffold plugin %q (%s) into ./%s\n", args[0], pluginNewLanguage, args[0])
		return nil
	},
}

func init() {
	pluginNewCmd.Flags().StringVar(&pluginNewLanguage, "language", "", "guest language for the scaffolded plugin (e.g. rust, tinygo)")
	pluginCmd.AddCommand(pluginAddCmd, pluginRemoveCmd, pluginNewCmd)
	rootCmd.AddCommand(pluginCmd)
}
