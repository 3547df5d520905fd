package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// daemonCmd manages witmproxy as a background service. Installing it as
// an OS service (systemd/launchd unit generation, privileged install)
// is out of this module's scope; status/logs read the files the in-scope
// packages actually produce (services.json, the JSONL event log), so
// they are real rather than stubbed.
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Install, start, and manage witmproxy as a background service",
}

var daemonInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install the service-manager unit for this platform",
	RunE: func(cmd *cobra.Command, args []string) error {
		return &exitCodeError{code: 1, msg: "daemon install: OS service-manager integration is not implemented by this build"}
	},
}

var daemonUninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Remove the service-manager unit",
	RunE: func(cmd *cobra.Command, args []string) error {
		return &exitCodeError{code: 1, msg: "daemon uninstall: OS service-manager integration is not implemented by this build"}
	},
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the background service",
	RunE: func(cmd *cobra.Command, args []string) error {
		return &exitCodeError{code: 1, msg: "daemon start: run `witmproxy serve` directly, or install a service-manager unit first"}
	},
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the background service",
	RunE: func(cmd *cobra.Command, args []string) error {
		return &exitCodeError{code: 1, msg: "daemon stop: not implemented by this build"}
	},
}

var daemonRestartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the background service",
	RunE: func(cmd *cobra.Command, args []string) error {
		return &exitCodeError{code: 1, msg: "daemon restart: not implemented by this build"}
	},
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the service addresses the daemon published in services.json",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := filepath.Join(appDir, "services.json")
		b, err := os.ReadFile(path)
		if err != nil {
			return &exitCodeError{code: 1, msg: fmt.Sprintf("daemon status: %v (no services.json at %s; is the daemon running?)", err, path)}
		}
		var services struct {
			Proxy string `json:"proxy"`
		}
		if err := json.Unmarshal(b, &services); err != nil {
			return &exitCodeError{code: 1, msg: fmt.Sprintf("daemon status: malformed services.json: %v", err)}
		}
		fmt.Printf("proxy: %s\n", services.Proxy)
		return nil
	},
}

var daemonLogsFollow bool

var daemonLogsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Print the daemon's event log",
	RunE: func(cmd *cobra.Command, args []string) error {
		if daemonLogsFollow {
			return &exitCodeError{code: 1, msg: "daemon logs -f: following is not implemented by this build; tail the log file directly"}
		}
		path := filepath.Join(appDir, "witmproxy.log")
		b, err := os.ReadFile(path)
		if err != nil {
			return &exitCodeError{code: 1, msg: fmt.Sprintf("daemon logs: %v", err)}
		}
		_, err = os.Stdout.Write(b)
		return err
	},
}

func init() {
	daemonLogsCmd.Flags().BoolVarP(&daemonLogsFollow, "follow", "f", false, "follow the log as it grows")
	daemonCmd.AddCommand(daemonInstallCmd, daemonUninstallCmd, daemonStartCmd, daemonStopCmd, daemonRestartCmd, daemonStatusCmd, daemonLogsCmd)
	rootCmd.AddCommand(daemonCmd)
}
