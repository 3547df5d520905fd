package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// proxyCmd configures the host OS to route traffic through a running
// witmproxy daemon. OS proxy auto-configuration is out of scope for this
// build: these are argument-validating stubs.
var proxyCmd = &cobra.Command{
	Use:   "proxy",
	Short: "Enable or disable this host's OS proxy settings",
}

var proxyDryRun bool

var proxyEnableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Point the OS HTTP/HTTPS proxy settings at the running daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		if proxyDryRun {
			fmt.Println("would configure OS proxy settings (dry run)")
			return nil
		}
		return &exitCodeError{code: 1, msg: "proxy enable: OS proxy auto-configuration is not implemented by this build"}
	},
}

var proxyDisableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Restore the OS HTTP/HTTPS proxy settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		if proxyDryRun {
			fmt.Println("would restore OS proxy settings (dry run)")
			return nil
		}
		return &exitCodeError{code: 1, msg: "proxy disable: OS proxy auto-configuration is not implemented by this build"}
	},
}

var proxyStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether the OS proxy settings point at witmproxy",
	RunE: func(cmd *cobra.Command, args []string) error {
		return &exitCodeError{code: 1, msg: "proxy status: OS proxy inspection is not implemented by this build"}
	},
}

func init() {
	for _, c := range []*cobra.Command{proxyEnableCmd, proxyDisableCmd} {
		c.Flags().BoolVar(&proxyDryRun, "dry-run", false, "print what would change without changing it")
	}
	proxyCmd.AddCommand(proxyEnableCmd, proxyDisableCmd, proxyStatusCmd)
	rootCmd.AddCommand(proxyCmd)
}
